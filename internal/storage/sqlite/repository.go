package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/blog-autopilot/internal/models"
	"github.com/blog-autopilot/internal/storage"
)

const maxCounterAttempts = 10

// Repository implements storage.Store using SQLite
type Repository struct {
	db *gorm.DB
}

// New creates a new SQLite repository
func New(dsn string) (*Repository, error) {
	// Ensure directory exists
	if !strings.HasPrefix(dsn, "file:") && !strings.Contains(dsn, ":memory:") {
		dir := filepath.Dir(dsn)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writers; a single connection avoids SQLITE_BUSY under concurrent saves
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return &Repository{db: db}, nil
}

// Migrate runs database migrations
func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(
		&models.Post{},
		&models.TopicRecord{},
		&models.CalendarCounter{},
	)
}

// Close closes the database connection
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Post operations

func (r *Repository) Create(ctx context.Context, post *models.Post) error {
	post.Version = 1
	if post.Retries == nil {
		post.Retries = models.StageCounters{}
	}
	normalizeTimes(post)
	err := r.db.WithContext(ctx).Create(post).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return storage.ErrAlreadyExists
	}
	return err
}

func (r *Repository) Get(ctx context.Context, id string) (*models.Post, error) {
	var post models.Post
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&post).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &post, nil
}

func (r *Repository) Save(ctx context.Context, post *models.Post, expectedVersion int64) error {
	next := post.Clone()
	next.Version = expectedVersion + 1
	normalizeTimes(next)

	res := r.db.WithContext(ctx).
		Model(&models.Post{}).
		Where("id = ? AND version = ?", post.ID, expectedVersion).
		Select("*").
		Omit("created_at").
		Updates(next)
	if res.Error != nil {
		return fmt.Errorf("failed to save post: %w", res.Error)
	}

	if res.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&models.Post{}).Where("id = ?", post.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return storage.ErrNotFound
		}
		return storage.ErrVersionConflict
	}

	post.Version = next.Version
	post.UpdatedAt = next.UpdatedAt
	return nil
}

func (r *Repository) Query(ctx context.Context, filter storage.PostFilter) ([]*models.Post, error) {
	var posts []*models.Post
	query := r.db.WithContext(ctx).Model(&models.Post{})

	if len(filter.Stages) > 0 {
		query = query.Where("stage IN ?", filter.Stages)
	}
	if filter.ExcludeID != "" {
		query = query.Where("id <> ?", filter.ExcludeID)
	}
	if filter.HasSchedule != nil {
		if *filter.HasSchedule {
			query = query.Where("scheduled_at IS NOT NULL")
		} else {
			query = query.Where("scheduled_at IS NULL")
		}
	}
	if filter.ScheduledBefore != nil {
		query = query.Where("scheduled_at <= ?", filter.ScheduledBefore.UTC())
	}
	if filter.ScheduledFrom != nil {
		query = query.Where("scheduled_at >= ?", filter.ScheduledFrom.UTC())
	}
	if filter.ScheduledUntil != nil {
		query = query.Where("scheduled_at < ?", filter.ScheduledUntil.UTC())
	}

	// Ordering
	orderCol := filter.OrderColumn()
	if filter.OrderDesc {
		query = query.Order(orderCol + " DESC").Order("id DESC")
	} else {
		query = query.Order(orderCol + " ASC").Order("id ASC")
	}

	// Pagination
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	if err := query.Find(&posts).Error; err != nil {
		return nil, err
	}
	return posts, nil
}

// Calendar operations

func (r *Repository) NextIndex(ctx context.Context, calendar string) (int64, error) {
	db := r.db.WithContext(ctx)

	if err := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.CalendarCounter{Calendar: calendar}).Error; err != nil {
		return 0, fmt.Errorf("failed to init calendar counter: %w", err)
	}

	for i := 0; i < maxCounterAttempts; i++ {
		var counter models.CalendarCounter
		if err := db.Where("calendar = ?", calendar).First(&counter).Error; err != nil {
			return 0, fmt.Errorf("failed to read calendar counter: %w", err)
		}

		res := db.Model(&models.CalendarCounter{}).
			Where("calendar = ? AND next_index = ?", calendar, counter.NextIndex).
			Update("next_index", counter.NextIndex+1)
		if res.Error != nil {
			return 0, fmt.Errorf("failed to advance calendar counter: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			return counter.NextIndex, nil
		}
	}
	return 0, fmt.Errorf("calendar %s: %w", calendar, storage.ErrVersionConflict)
}

// Fingerprint operations

func (r *Repository) HasFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.TopicRecord{}).
		Where("fingerprint = ?", fingerprint).
		Count(&count).Error
	return count > 0, err
}

func (r *Repository) AddFingerprint(ctx context.Context, record *models.TopicRecord) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(record).Error
}

func (r *Repository) ListFingerprints(ctx context.Context) ([]*models.TopicRecord, error) {
	var records []*models.TopicRecord
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// normalizeTimes stores timestamps in UTC; SQLite compares them as text
func normalizeTimes(post *models.Post) {
	if post.ScheduledAt != nil {
		t := post.ScheduledAt.UTC()
		post.ScheduledAt = &t
	}
	if post.PublishedAt != nil {
		t := post.PublishedAt.UTC()
		post.PublishedAt = &t
	}
}

var _ storage.Store = (*Repository)(nil)
