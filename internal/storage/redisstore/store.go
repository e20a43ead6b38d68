// Package redisstore backs the topic fingerprint registry, calendar counters
// and per-post locks with Redis so several workers can share them.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/blog-autopilot/internal/lock"
	"github.com/blog-autopilot/internal/models"
	"github.com/blog-autopilot/internal/storage"
)

// Config configures the Redis connection and key layout
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	LockTTL   time.Duration // lock expiry, protects against crashed holders
	LockRetry time.Duration // poll interval while waiting for a lock

	// LockRefresh is how often a held lock's expiry is pushed back to
	// LockTTL. Defaults to a third of LockTTL.
	LockRefresh time.Duration
}

// Store implements storage.FingerprintStore, storage.CalendarStore and lock.Locker
type Store struct {
	client    *redis.Client
	prefix    string
	lockTTL     time.Duration
	lockRetry   time.Duration
	lockRefresh time.Duration
	now         func() time.Time
}

// unlockScript deletes the lock only when it is still held by the caller's token
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the lock only when it is still held by the caller's token
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// New connects to Redis and verifies the connection
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client
func NewWithClient(client *redis.Client, cfg Config) *Store {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "blog"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if cfg.LockRetry <= 0 {
		cfg.LockRetry = 50 * time.Millisecond
	}
	if cfg.LockRefresh <= 0 || cfg.LockRefresh >= cfg.LockTTL {
		cfg.LockRefresh = cfg.LockTTL / 3
	}
	return &Store{
		client:      client,
		prefix:      cfg.KeyPrefix,
		lockTTL:     cfg.LockTTL,
		lockRetry:   cfg.LockRetry,
		lockRefresh: cfg.LockRefresh,
		now:         time.Now,
	}
}

// Close closes the client
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// Fingerprint registry

func (s *Store) HasFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	return s.client.HExists(ctx, s.key("topics"), fingerprint).Result()
}

func (s *Store) AddFingerprint(ctx context.Context, record *models.TopicRecord) error {
	rec := *record
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode topic record: %w", err)
	}
	return s.client.HSetNX(ctx, s.key("topics"), rec.Fingerprint, data).Err()
}

func (s *Store) ListFingerprints(ctx context.Context) ([]*models.TopicRecord, error) {
	raw, err := s.client.HGetAll(ctx, s.key("topics")).Result()
	if err != nil {
		return nil, err
	}

	records := make([]*models.TopicRecord, 0, len(raw))
	for fp, data := range raw {
		var rec models.TopicRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("decode topic record %s: %w", fp, err)
		}
		records = append(records, &rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

// Calendar counters

func (s *Store) NextIndex(ctx context.Context, calendar string) (int64, error) {
	n, err := s.client.Incr(ctx, s.key("calendar", calendar)).Result()
	if err != nil {
		return 0, fmt.Errorf("advance calendar counter: %w", err)
	}
	return n - 1, nil
}

// Locks

// Lock acquires key with SET NX PX, polling until ctx is done. While held,
// the expiry is renewed in the background so long holders keep the lock.
func (s *Store) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := s.key("lock", key)
	token := uuid.NewString()

	for {
		ok, err := s.client.SetNX(ctx, lockKey, token, s.lockTTL).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return s.hold(lockKey, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.lockRetry):
		}
	}
}

// hold starts the renewal loop for an acquired lock and returns its unlock func
func (s *Store) hold(lockKey, token string) func() {
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.lockRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), s.lockRefresh)
				n, err := refreshScript.Run(ctx, s.client, []string{lockKey}, token, s.lockTTL.Milliseconds()).Int64()
				cancel()
				if err == nil && n == 0 {
					// lost to expiry or another holder
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			unlockScript.Run(ctx, s.client, []string{lockKey}, token)
		})
	}
}

var (
	_ storage.FingerprintStore = (*Store)(nil)
	_ storage.CalendarStore    = (*Store)(nil)
	_ lock.Locker              = (*Store)(nil)
)
