// Package ratelimit provides an in-memory fixed-window rate limiter with a
// bounded wait queue. It backs the HTTP middleware in front of /chat/ask,
// either as one global partition or one partition per client address.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLimitExceeded is returned when the window is exhausted and the wait
// queue is full.
var ErrLimitExceeded = errors.New("rate limit exceeded")

// Settings configures a Limiter.
type Settings struct {
	PermitLimit int
	Window      time.Duration
	QueueLimit  int
}

// Limiter admits at most PermitLimit requests per fixed window. When the
// window is exhausted up to QueueLimit callers may wait for the next window;
// waiters are not served in arrival order.
type Limiter struct {
	mu          sync.Mutex
	permit      int
	window      time.Duration
	queue       int
	windowStart time.Time
	count       int
	waiting     int

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// New creates a Limiter. Non-positive values fall back to one permit per
// second with no queue.
func New(s Settings) *Limiter {
	if s.PermitLimit <= 0 {
		s.PermitLimit = 1
	}
	if s.Window <= 0 {
		s.Window = time.Second
	}
	if s.QueueLimit < 0 {
		s.QueueLimit = 0
	}
	return &Limiter{
		permit: s.PermitLimit,
		window: s.Window,
		queue:  s.QueueLimit,
		now:    time.Now,
		after:  time.After,
	}
}

// roll starts a new window when the current one has elapsed. Callers hold mu.
func (l *Limiter) roll(now time.Time) {
	if l.windowStart.IsZero() || !now.Before(l.windowStart.Add(l.window)) {
		l.windowStart = now
		l.count = 0
	}
}

// Allow takes a permit from the current window without waiting.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.roll(l.now())
	if l.count < l.permit {
		l.count++
		return true
	}
	return false
}

// RetryAfter reports how long until the current window resets.
func (l *Limiter) RetryAfter() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.roll(now)
	if l.count < l.permit {
		return 0
	}
	return l.windowStart.Add(l.window).Sub(now)
}

// Wait takes a permit, queueing for a later window when the current one is
// exhausted. It returns ErrLimitExceeded when the queue is full and ctx.Err()
// when ctx ends first.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		l.roll(now)
		if l.count < l.permit {
			l.count++
			l.mu.Unlock()
			return nil
		}
		if l.waiting >= l.queue {
			l.mu.Unlock()
			return ErrLimitExceeded
		}
		l.waiting++
		delay := l.windowStart.Add(l.window).Sub(now)
		l.mu.Unlock()

		select {
		case <-l.after(delay):
			l.mu.Lock()
			l.waiting--
			l.mu.Unlock()
		case <-ctx.Done():
			l.mu.Lock()
			l.waiting--
			l.mu.Unlock()
			return ctx.Err()
		}
	}
}

// Store maintains per-key Limiter instances that share one Settings.
type Store struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	settings Settings
}

// NewStore creates a Store.
func NewStore(s Settings) *Store {
	return &Store{
		limiters: make(map[string]*Limiter),
		settings: s,
	}
}

// Get returns the limiter for key, creating it on first use.
func (s *Store) Get(key string) *Limiter {
	s.mu.RLock()
	l, ok := s.limiters[key]
	s.mu.RUnlock()
	if ok {
		return l
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok = s.limiters[key]; ok {
		return l
	}
	l = New(s.settings)
	s.limiters[key] = l
	return l
}

// Len returns the number of partitions created so far.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.limiters)
}
