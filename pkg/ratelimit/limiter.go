// Package ratelimit keeps one token bucket per outbound service.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter names used by the providers
const (
	LimiterAnthropic = "anthropic"
	LimiterUnsplash  = "unsplash"
	LimiterRSS       = "rss"
	LimiterWeb       = "web"
)

// ErrUnknownLimiter is returned by Wait for names that were never added
var ErrUnknownLimiter = errors.New("unknown limiter")

// MultiLimiter holds named rate limiters
type MultiLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// NewMultiLimiter creates an empty MultiLimiter
func NewMultiLimiter() *MultiLimiter {
	return &MultiLimiter{limiters: make(map[string]*rate.Limiter)}
}

// AddLimiter registers or replaces a limiter allowing requestsPerSecond with
// the given burst
func (m *MultiLimiter) AddLimiter(name string, requestsPerSecond float64, burst int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[name] = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

func (m *MultiLimiter) get(name string) (*rate.Limiter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.limiters[name]
	return l, ok
}

// Wait blocks until the named limiter admits one request or ctx ends
func (m *MultiLimiter) Wait(ctx context.Context, name string) error {
	l, ok := m.get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLimiter, name)
	}
	return l.Wait(ctx)
}

// Allow reports whether a request may happen now. Unknown names are denied.
func (m *MultiLimiter) Allow(name string) bool {
	l, ok := m.get(name)
	return ok && l.Allow()
}

// Limits holds per-service request budgets; zero means the default
type Limits struct {
	AnthropicPerMinute int
	UnsplashPerHour    int
	SourcePerHour      int
	WebPerMinute       int
}

// NewLimiter creates the provider limiters from configured budgets
func NewLimiter(l Limits) *MultiLimiter {
	m := NewMultiLimiter()

	m.AddLimiter(LimiterAnthropic, perSecond(l.AnthropicPerMinute, 10, time.Minute), 2)

	// Unsplash demo apps get 50 requests per hour
	m.AddLimiter(LimiterUnsplash, perSecond(l.UnsplashPerHour, 50, time.Hour), 5)

	m.AddLimiter(LimiterRSS, perSecond(l.SourcePerHour, 3600, time.Hour), 10)
	m.AddLimiter(LimiterWeb, perSecond(l.WebPerMinute, 20, time.Minute), 3)

	return m
}

func perSecond(n, fallback int, per time.Duration) float64 {
	if n <= 0 {
		n = fallback
	}
	return float64(n) / per.Seconds()
}
