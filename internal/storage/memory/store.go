package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/blog-autopilot/internal/models"
	"github.com/blog-autopilot/internal/storage"
)

// Store implements storage.Store in process memory.
// Posts are copied on the way in and out.
type Store struct {
	mu           sync.RWMutex
	posts        map[string]*models.Post
	fingerprints map[string]*models.TopicRecord
	fpOrder      []string
	counters     map[string]int64
	now          func() time.Time
}

// New creates an empty store
func New() *Store {
	return &Store{
		posts:        make(map[string]*models.Post),
		fingerprints: make(map[string]*models.TopicRecord),
		counters:     make(map[string]int64),
		now:          time.Now,
	}
}

func (s *Store) Migrate() error { return nil }
func (s *Store) Close() error   { return nil }

// Post operations

func (s *Store) Create(ctx context.Context, post *models.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.posts[post.ID]; ok {
		return storage.ErrAlreadyExists
	}
	now := s.now()
	if post.CreatedAt.IsZero() {
		post.CreatedAt = now
	}
	post.UpdatedAt = now
	post.Version = 1
	s.posts[post.ID] = post.Clone()
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.posts[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *Store) Save(ctx context.Context, post *models.Post, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.posts[post.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if current.Version != expectedVersion {
		return storage.ErrVersionConflict
	}
	post.Version = expectedVersion + 1
	post.CreatedAt = current.CreatedAt
	post.UpdatedAt = s.now()
	s.posts[post.ID] = post.Clone()
	return nil
}

func (s *Store) Query(ctx context.Context, filter storage.PostFilter) ([]*models.Post, error) {
	s.mu.RLock()
	matched := make([]*models.Post, 0)
	for _, p := range s.posts {
		if filter.Matches(p) {
			matched = append(matched, p.Clone())
		}
	}
	s.mu.RUnlock()

	col := filter.OrderColumn()
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := orderKey(matched[i], col), orderKey(matched[j], col)
		if a.Equal(b) {
			return matched[i].ID < matched[j].ID
		}
		if filter.OrderDesc {
			return a.After(b)
		}
		return a.Before(b)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*models.Post{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func orderKey(p *models.Post, col string) time.Time {
	switch col {
	case "updated_at":
		return p.UpdatedAt
	case "scheduled_at":
		if p.ScheduledAt != nil {
			return *p.ScheduledAt
		}
		return time.Time{}
	}
	return p.CreatedAt
}

// Calendar operations

func (s *Store) NextIndex(ctx context.Context, calendar string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.counters[calendar]
	s.counters[calendar] = idx + 1
	return idx, nil
}

// Fingerprint operations

func (s *Store) HasFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.fingerprints[fingerprint]
	return ok, nil
}

func (s *Store) AddFingerprint(ctx context.Context, record *models.TopicRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.fingerprints[record.Fingerprint]; ok {
		return nil
	}
	rec := *record
	rec.Tokens = append(models.StringSlice(nil), record.Tokens...)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	s.fingerprints[rec.Fingerprint] = &rec
	s.fpOrder = append(s.fpOrder, rec.Fingerprint)
	return nil
}

func (s *Store) ListFingerprints(ctx context.Context) ([]*models.TopicRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.TopicRecord, 0, len(s.fpOrder))
	for _, fp := range s.fpOrder {
		rec := *s.fingerprints[fp]
		out = append(out, &rec)
	}
	return out, nil
}

var _ storage.Store = (*Store)(nil)
