package redisstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/blog-autopilot/internal/models"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewWithClient(client, Config{KeyPrefix: "test", LockRetry: 5 * time.Millisecond}), mr
}

func TestFingerprintRegistry(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	if ok, err := s.HasFingerprint(ctx, "abc"); err != nil || ok {
		t.Fatalf("HasFingerprint() before add = %v, %v", ok, err)
	}

	rec := &models.TopicRecord{Fingerprint: "abc", Topic: "Intro to Go", Tokens: models.StringSlice{"intro", "go"}}
	if err := s.AddFingerprint(ctx, rec); err != nil {
		t.Fatalf("AddFingerprint() error: %v", err)
	}
	if err := s.AddFingerprint(ctx, &models.TopicRecord{Fingerprint: "abc", Topic: "other"}); err != nil {
		t.Fatalf("second AddFingerprint() error: %v", err)
	}

	if ok, _ := s.HasFingerprint(ctx, "abc"); !ok {
		t.Error("HasFingerprint() = false after add")
	}

	list, err := s.ListFingerprints(ctx)
	if err != nil {
		t.Fatalf("ListFingerprints() error: %v", err)
	}
	if len(list) != 1 || list[0].Topic != "Intro to Go" {
		t.Errorf("ListFingerprints() = %+v, want the first record only", list)
	}
}

func TestNextIndexStartsAtZero(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	for want := int64(0); want < 3; want++ {
		got, err := s.NextIndex(ctx, "main")
		if err != nil {
			t.Fatalf("NextIndex() error: %v", err)
		}
		if got != want {
			t.Errorf("NextIndex() = %d, want %d", got, want)
		}
	}
}

func TestLockExcludesSecondHolder(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	unlock, err := s.Lock(ctx, "post:1")
	if err != nil {
		t.Fatalf("Lock() error: %v", err)
	}
	if !mr.Exists("test:lock:post:1") {
		t.Fatal("lock key not set")
	}

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	if _, err := s.Lock(waitCtx, "post:1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second Lock() error = %v, want deadline exceeded", err)
	}

	unlock()
	if mr.Exists("test:lock:post:1") {
		t.Error("lock key still present after unlock")
	}

	again, err := s.Lock(ctx, "post:1")
	if err != nil {
		t.Fatalf("relock error: %v", err)
	}
	again()
}

func TestUnlockDoesNotReleaseForeignLock(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	unlock, _ := s.Lock(ctx, "post:1")
	// Simulate expiry and takeover by another worker
	mr.Set("test:lock:post:1", "someone-else")

	unlock()
	if got, _ := mr.Get("test:lock:post:1"); got != "someone-else" {
		t.Errorf("foreign lock was released, value = %q", got)
	}
}

func TestLockRenewedWhileHeld(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	s := NewWithClient(client, Config{
		KeyPrefix:   "test",
		LockTTL:     time.Second,
		LockRetry:   5 * time.Millisecond,
		LockRefresh: 10 * time.Millisecond,
	})

	unlock, err := s.Lock(ctx, "post:1")
	if err != nil {
		t.Fatalf("Lock() error: %v", err)
	}

	// Outlive the TTL several times over, letting the holder renew in between
	for i := 0; i < 5; i++ {
		mr.FastForward(800 * time.Millisecond)
		if !mr.Exists("test:lock:post:1") {
			t.Fatalf("lock expired while held after %d ttl windows", i+1)
		}
		deadline := time.Now().Add(time.Second)
		for mr.TTL("test:lock:post:1") <= 500*time.Millisecond {
			if time.Now().After(deadline) {
				t.Fatal("lock expiry was not renewed")
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	if _, err := s.Lock(waitCtx, "post:1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second Lock() error = %v, want deadline exceeded", err)
	}

	unlock()
	if mr.Exists("test:lock:post:1") {
		t.Error("lock key still present after unlock")
	}
}

func TestLockRenewalStopsAfterTakeover(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	s := NewWithClient(client, Config{
		KeyPrefix:   "test",
		LockTTL:     time.Second,
		LockRefresh: 10 * time.Millisecond,
	})

	unlock, _ := s.Lock(ctx, "post:1")
	defer unlock()

	mr.Set("test:lock:post:1", "someone-else")
	mr.SetTTL("test:lock:post:1", 200*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	if ttl := mr.TTL("test:lock:post:1"); ttl != 200*time.Millisecond {
		t.Errorf("foreign lock ttl = %v, want it untouched", ttl)
	}
}
