package server

import (
	"context"
	"os"
	"time"

	"github.com/gudastudio/groksearch/internal/observe"
)

// WatchParent cancels the returned context when the parent process goes away.
// MCP hosts spawn the server as a child over stdio; if the host dies without
// closing the pipe the server would otherwise linger. Reparenting to PID 1
// counts as the parent dying.
func WatchParent(ctx context.Context, obs *observe.Observer, interval time.Duration) context.Context {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	parent := os.Getppid()
	if parent == 1 {
		// Already running under init; nothing meaningful to watch.
		return ctx
	}
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if current := os.Getppid(); current != parent {
					obs.Log().Info().Int("was", parent).Int("now", current).Msg("parent process gone, shutting down")
					cancel()
					return
				}
			}
		}
	}()
	return ctx
}
