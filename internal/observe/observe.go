// Package observe bundles the logger and tracer every component receives at
// construction. One Observer per process; operations open a span around each
// tool call and log through the shared bolt logger.
package observe

import (
	"context"
	"io"

	"github.com/felixgeelhaar/bolt/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("groksearch")

type Observer struct {
	log *bolt.Logger
}

// New returns an Observer writing human-readable logs to out. Without
// verbose, only warnings and errors pass.
func New(out io.Writer, verbose bool) *Observer {
	return level(bolt.New(bolt.NewConsoleHandler(out)), verbose)
}

// NewJSON returns an Observer writing JSON log lines. Server mode uses this
// form: stdout carries the wire protocol, so logs go to stderr.
func NewJSON(out io.Writer, verbose bool) *Observer {
	return level(bolt.New(bolt.NewJSONHandler(out)), verbose)
}

func level(l *bolt.Logger, verbose bool) *Observer {
	if !verbose {
		l.SetLevel(bolt.WARN)
	}
	return &Observer{log: l}
}

// Log returns the shared logger for chained field calls.
func (o *Observer) Log() *bolt.Logger {
	return o.log
}

// StartSpan opens a span; callers defer span.End().
func (o *Observer) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

// Close flushes buffered output. Nothing buffers today; the method keeps the
// shutdown path stable if an exporter lands later.
func (o *Observer) Close() error {
	return nil
}
