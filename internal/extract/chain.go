// Package extract turns a URL into markdown through a chain of extraction
// services: a primary service retried on transient failures, then a
// secondary that gets extra attempts with a growing render wait when pages
// come back blank.
package extract

import (
	"context"
	"errors"
	"strings"

	"github.com/gudastudio/groksearch/internal/backoff"
	"github.com/gudastudio/groksearch/internal/provider"
)

var (
	// ErrNotConfigured means no extraction service has an API key.
	ErrNotConfigured = errors.New("no extraction service configured")
	// ErrEmpty means every configured service failed or produced nothing.
	ErrEmpty = errors.New("no extraction service produced content")
)

// Extractor is one service in the chain. attempt is zero-based and lets a
// service stretch its render wait on retries.
type Extractor interface {
	Name() string
	Configured() bool
	Extract(ctx context.Context, url string, attempt int) (string, error)
}

type Chain struct {
	primary   Extractor
	secondary Extractor
	policy    backoff.Policy

	minChars         int
	secondaryRetries int
}

func NewChain(primary, secondary Extractor, policy backoff.Policy, minChars, secondaryRetries int) *Chain {
	if minChars < 1 {
		minChars = 1
	}
	if secondaryRetries < 0 {
		secondaryRetries = 0
	}
	return &Chain{
		primary:          primary,
		secondary:        secondary,
		policy:           policy,
		minChars:         minChars,
		secondaryRetries: secondaryRetries,
	}
}

// Fetch runs the chain for one URL and reports the content and the name of
// the service that produced it. An unconfigured service is skipped; a
// primary failure or under-length result falls through to the secondary.
func (c *Chain) Fetch(ctx context.Context, url string) (string, string, error) {
	primaryOK := c.primary != nil && c.primary.Configured()
	secondaryOK := c.secondary != nil && c.secondary.Configured()
	if !primaryOK && !secondaryOK {
		return "", "", ErrNotConfigured
	}

	if primaryOK {
		var content string
		err := c.policy.Do(ctx, func(ctx context.Context) error {
			var err error
			content, err = c.primary.Extract(ctx, url, 0)
			return err
		})
		if err == nil && c.usable(content) {
			return content, c.primary.Name(), nil
		}
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
	}

	if secondaryOK {
		// Transient failures retry inside the policy; the outer loop only
		// spends extra attempts on blank results, feeding the attempt number
		// into the service's render wait.
		for attempt := 0; attempt <= c.secondaryRetries; attempt++ {
			var content string
			err := c.policy.Do(ctx, func(ctx context.Context) error {
				var err error
				content, err = c.secondary.Extract(ctx, url, attempt)
				return err
			})
			if err != nil {
				break
			}
			if c.usable(content) {
				return content, c.secondary.Name(), nil
			}
		}
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
	}

	return "", "", ErrEmpty
}

func (c *Chain) usable(content string) bool {
	return len(strings.TrimSpace(content)) >= c.minChars
}

// Tavily adapts the Tavily client into the chain.
type Tavily struct {
	Client *provider.Tavily
}

func (t Tavily) Name() string     { return "tavily" }
func (t Tavily) Configured() bool { return t.Client != nil && t.Client.Configured() }

func (t Tavily) Extract(ctx context.Context, url string, _ int) (string, error) {
	return t.Client.Extract(ctx, url)
}

// Firecrawl adapts the Firecrawl client into the chain; the attempt number
// feeds its render wait.
type Firecrawl struct {
	Client *provider.Firecrawl
}

func (f Firecrawl) Name() string     { return "firecrawl" }
func (f Firecrawl) Configured() bool { return f.Client != nil && f.Client.Configured() }

func (f Firecrawl) Extract(ctx context.Context, url string, attempt int) (string, error) {
	return f.Client.Scrape(ctx, url, attempt)
}
