// Package ratelimit caps how often a single client address may open new connections.
package ratelimit

import (
	"context"
	"time"
)

// Config describes a rolling window: at most Limit hits per Window.
type Config struct {
	Limit  int
	Window time.Duration
}

// DefaultConfig allows ten connections per address per minute.
func DefaultConfig() Config {
	return Config{Limit: 10, Window: time.Minute}
}

// Limiter decides whether one more hit for key fits in the window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Unlimited allows everything.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }
