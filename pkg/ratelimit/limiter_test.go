package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUnknownLimiter(t *testing.T) {
	m := NewMultiLimiter()
	if err := m.Wait(context.Background(), "missing"); !errors.Is(err, ErrUnknownLimiter) {
		t.Errorf("Wait() on unknown limiter = %v, want ErrUnknownLimiter", err)
	}
	if m.Allow("missing") {
		t.Error("Allow() on unknown limiter should be false")
	}
}

func TestBurstThenThrottle(t *testing.T) {
	m := NewMultiLimiter()
	m.AddLimiter("svc", 1.0/3600, 2)

	if !m.Allow("svc") || !m.Allow("svc") {
		t.Fatal("burst of 2 should be allowed")
	}
	if m.Allow("svc") {
		t.Error("third request inside the burst window should be throttled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := m.Wait(ctx, "svc"); err == nil {
		t.Error("Wait() should give up when the context expires first")
	}
}

func TestNewLimiterRegistersServices(t *testing.T) {
	m := NewLimiter(Limits{AnthropicPerMinute: 60})
	for _, name := range []string{LimiterAnthropic, LimiterUnsplash, LimiterRSS, LimiterWeb} {
		if !m.Allow(name) {
			t.Errorf("limiter %s missing or empty", name)
		}
	}
	if got := perSecond(60, 10, time.Minute); got != 1 {
		t.Errorf("perSecond(60/min) = %v, want 1", got)
	}
	if got := perSecond(0, 10, time.Minute); got != 10.0/60 {
		t.Errorf("perSecond fallback = %v", got)
	}
}
