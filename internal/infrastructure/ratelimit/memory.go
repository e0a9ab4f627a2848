package ratelimit

import (
	"context"
	"sync"
	"time"
)

type Option func(*clocked)

func WithClock(now func() time.Time) Option { return func(c *clocked) { c.now = now } }

type clocked struct{ now func() time.Time }

func newClocked(opts []Option) clocked {
	c := clocked{now: time.Now}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// FixedWindow counts units in windows aligned to multiples of the window length.
type FixedWindow struct {
	clocked
	mu     sync.Mutex
	limit  int
	window time.Duration
	start  time.Time
	used   int
}

func NewFixedWindow(limit int, window time.Duration, opts ...Option) *FixedWindow {
	return &FixedWindow{clocked: newClocked(opts), limit: limit, window: window}
}

func (f *FixedWindow) Allow(context.Context) (bool, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	start := now.Truncate(f.window)
	if !start.Equal(f.start) {
		f.start, f.used = start, 0
	}
	if f.used < f.limit {
		f.used++
		return true, 0, nil
	}
	return false, start.Add(f.window).Sub(now), nil
}

func (f *FixedWindow) Used() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.now().Truncate(f.window).Equal(f.start) {
		return 0
	}
	return f.used
}

// SlidingWindow admits at most limit units in any span of one window.
type SlidingWindow struct {
	clocked
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time
}

func NewSlidingWindow(limit int, window time.Duration, opts ...Option) *SlidingWindow {
	return &SlidingWindow{clocked: newClocked(opts), limit: limit, window: window}
}

func (s *SlidingWindow) Allow(context.Context) (bool, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.evict(now)
	if len(s.stamps) < s.limit {
		s.stamps = append(s.stamps, now)
		return true, 0, nil
	}
	return false, s.stamps[0].Add(s.window).Sub(now), nil
}

func (s *SlidingWindow) Used() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evict(s.now())
	return len(s.stamps)
}

func (s *SlidingWindow) evict(now time.Time) {
	cut := now.Add(-s.window)
	i := 0
	for i < len(s.stamps) && !s.stamps[i].After(cut) {
		i++
	}
	s.stamps = s.stamps[i:]
}

// NewWindow builds the in-memory window for b.
func NewWindow(b Budget, opts ...Option) Window {
	if b.Kind == KindSliding {
		return NewSlidingWindow(b.Limit, b.Window, opts...)
	}
	return NewFixedWindow(b.Limit, b.Window, opts...)
}
