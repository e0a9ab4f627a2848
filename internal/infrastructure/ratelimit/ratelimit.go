// Package ratelimit enforces per-provider request budgets.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"marketdata-etl/internal/domain"
)

type Kind string

const (
	KindFixed   Kind = "fixed"
	KindSliding Kind = "sliding"
)

// Policy decides what Take does once a budget is spent.
type Policy string

const (
	PolicyBlock Policy = "block"
	PolicyFail  Policy = "fail"
)

type Budget struct {
	Limit  int
	Window time.Duration
	Kind   Kind
	Policy Policy
}

func (b Budget) Validate() error {
	if b.Limit <= 0 {
		return fmt.Errorf("%w: budget limit must be positive", domain.ErrInvalidConfig)
	}
	if b.Window <= 0 {
		return fmt.Errorf("%w: budget window must be positive", domain.ErrInvalidConfig)
	}
	switch b.Kind {
	case KindFixed, KindSliding:
	default:
		return fmt.Errorf("%w: budget kind %q", domain.ErrInvalidConfig, b.Kind)
	}
	switch b.Policy {
	case PolicyBlock, PolicyFail:
	default:
		return fmt.Errorf("%w: budget policy %q", domain.ErrInvalidConfig, b.Policy)
	}
	return nil
}

// Window admits units against one budget. When it refuses, retryAfter is
// the time until a unit frees up.
type Window interface {
	Allow(ctx context.Context) (ok bool, retryAfter time.Duration, err error)
}

type entry struct {
	window Window
	policy Policy
}

// Limiter maps provider names to their windows. Providers without a
// registered window are not limited.
type Limiter struct {
	mu      sync.RWMutex
	entries map[string]entry
	sleep   func(context.Context, time.Duration) error
}

func NewLimiter() *Limiter {
	return &Limiter{entries: map[string]entry{}, sleep: sleepCtx}
}

func (l *Limiter) Register(provider string, w Window, policy Policy) {
	l.mu.Lock()
	l.entries[provider] = entry{window: w, policy: policy}
	l.mu.Unlock()
}

// Take consumes one unit of the provider's budget.
func (l *Limiter) Take(ctx context.Context, provider string) error {
	l.mu.RLock()
	e, ok := l.entries[provider]
	l.mu.RUnlock()
	if !ok {
		return nil
	}
	for {
		allowed, wait, err := e.window.Allow(ctx)
		if err != nil {
			return fmt.Errorf("ratelimit %s: %w", provider, err)
		}
		if allowed {
			return nil
		}
		if e.policy != PolicyBlock {
			return fmt.Errorf("%w: %s budget spent, resets in %s", domain.ErrRateLimitExceeded, provider, wait.Round(time.Millisecond))
		}
		if err := l.sleep(ctx, wait); err != nil {
			return errors.Join(fmt.Errorf("%w: %s", domain.ErrRateLimitExceeded, provider), err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		d = time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
