package storage

import (
	"context"
	"errors"
	"time"

	"github.com/blog-autopilot/internal/models"
)

var (
	// ErrNotFound is returned when a post does not exist
	ErrNotFound = errors.New("post not found")

	// ErrVersionConflict is returned by Save when the stored version differs from the expected one
	ErrVersionConflict = errors.New("version conflict")

	// ErrAlreadyExists is returned by Create for a duplicate post id
	ErrAlreadyExists = errors.New("post already exists")
)

// Repository defines the interface for post persistence
type Repository interface {
	// Create stores a new post. The stored version starts at 1.
	Create(ctx context.Context, post *models.Post) error

	// Get returns a copy of the post or ErrNotFound
	Get(ctx context.Context, id string) (*models.Post, error)

	// Save replaces the post if its stored version equals expectedVersion.
	// On success post.Version becomes expectedVersion+1.
	Save(ctx context.Context, post *models.Post, expectedVersion int64) error

	// Query lists posts matching filter
	Query(ctx context.Context, filter PostFilter) ([]*models.Post, error)

	// Maintenance
	Close() error
	Migrate() error
}

// CalendarStore hands out monotonically increasing slot indexes per calendar
type CalendarStore interface {
	NextIndex(ctx context.Context, calendar string) (int64, error)
}

// FingerprintStore is the topic fingerprint registry
type FingerprintStore interface {
	HasFingerprint(ctx context.Context, fingerprint string) (bool, error)

	// AddFingerprint is idempotent
	AddFingerprint(ctx context.Context, record *models.TopicRecord) error

	ListFingerprints(ctx context.Context) ([]*models.TopicRecord, error)
}

// Store bundles everything the pipeline persists
type Store interface {
	Repository
	CalendarStore
	FingerprintStore
}

// PostFilter defines filtering options for posts
type PostFilter struct {
	Stages          []models.Stage
	ScheduledBefore *time.Time // scheduled_at <= value
	ScheduledFrom   *time.Time // scheduled_at >= value
	ScheduledUntil  *time.Time // scheduled_at < value
	HasSchedule     *bool
	ExcludeID       string
	Limit           int
	Offset          int
	OrderBy         string // "created_at", "updated_at", "scheduled_at"
	OrderDesc       bool
}

// DefaultPostFilter returns a filter with sensible defaults
func DefaultPostFilter() PostFilter {
	return PostFilter{
		Limit:     50,
		OrderBy:   "created_at",
		OrderDesc: true,
	}
}

// OrderColumn returns a safe column name for ordering
func (f PostFilter) OrderColumn() string {
	switch f.OrderBy {
	case "updated_at", "scheduled_at", "created_at":
		return f.OrderBy
	}
	return "created_at"
}

// Matches reports whether post satisfies the filter's predicates.
// Used by backends that filter in memory.
func (f PostFilter) Matches(post *models.Post) bool {
	if len(f.Stages) > 0 {
		found := false
		for _, s := range f.Stages {
			if post.Stage == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ExcludeID != "" && post.ID == f.ExcludeID {
		return false
	}
	if f.HasSchedule != nil && (post.ScheduledAt != nil) != *f.HasSchedule {
		return false
	}
	if f.ScheduledBefore != nil || f.ScheduledFrom != nil || f.ScheduledUntil != nil {
		if post.ScheduledAt == nil {
			return false
		}
		at := *post.ScheduledAt
		if f.ScheduledBefore != nil && at.After(*f.ScheduledBefore) {
			return false
		}
		if f.ScheduledFrom != nil && at.Before(*f.ScheduledFrom) {
			return false
		}
		if f.ScheduledUntil != nil && !at.Before(*f.ScheduledUntil) {
			return false
		}
	}
	return true
}

// Bool returns a pointer to b, handy for PostFilter.HasSchedule
func Bool(b bool) *bool {
	return &b
}
