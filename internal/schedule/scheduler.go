// Package schedule assigns publish slots on the content calendar and
// publishes posts when their slot comes due.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blog-autopilot/internal/lock"
	"github.com/blog-autopilot/internal/models"
	"github.com/blog-autopilot/internal/storage"
	"github.com/blog-autopilot/pkg/logger"
)

var (
	ErrNotScheduled     = errors.New("post is not in scheduled stage")
	ErrAlreadyPublished = errors.New("post is already published")
	ErrSlotTaken        = errors.New("another post is scheduled on that day")
	ErrBlackoutDate     = errors.New("date is a blackout day")
)

// maxSlotSkips bounds how many booked slots Assign steps over before giving up
const maxSlotSkips = 64

// Config configures the content calendar
type Config struct {
	Calendar           string // counter key, one per content calendar
	Base               time.Time
	IntervalDays       int
	Blackouts          Blackouts
	Location           *time.Location
	MaxConflictRetries int
}

// Notifier is told about every committed publish
type Notifier interface {
	Published(ctx context.Context, post *models.Post) error
}

// Scheduler owns the scheduled and published stages
type Scheduler struct {
	repo     storage.Repository
	calendar storage.CalendarStore
	locker   lock.Locker
	notifier Notifier
	cfg      Config
	log      *logger.Logger
	now      func() time.Time
}

// Option customizes a Scheduler
type Option func(*Scheduler)

// WithNotifier sets the publish notifier
func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a scheduler
func New(repo storage.Repository, calendar storage.CalendarStore, locker lock.Locker, cfg Config, log *logger.Logger, opts ...Option) (*Scheduler, error) {
	if cfg.Base.IsZero() {
		return nil, errors.New("schedule: calendar base date is required")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.IntervalDays <= 0 {
		cfg.IntervalDays = DefaultIntervalDays
	}
	if cfg.Calendar == "" {
		cfg.Calendar = "default"
	}
	if cfg.MaxConflictRetries <= 0 {
		cfg.MaxConflictRetries = 5
	}
	cfg.Base = cfg.Base.In(cfg.Location)

	s := &Scheduler{
		repo:     repo,
		calendar: calendar,
		locker:   locker,
		cfg:      cfg,
		log:      log.WithComponent("scheduler"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Assign gives a scheduled post the next free slot. Posts that already
// have a slot are returned unchanged.
func (s *Scheduler) Assign(ctx context.Context, id string) (*models.Post, error) {
	unlock, err := s.locker.Lock(ctx, lock.PostKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to lock post %s: %w", id, err)
	}
	defer unlock()

	unlockCalendar, err := s.lockCalendar(ctx)
	if err != nil {
		return nil, err
	}
	defer unlockCalendar()

	var slot *time.Time
	for attempt := 0; attempt <= s.cfg.MaxConflictRetries; attempt++ {
		post, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := requireScheduled(post); err != nil {
			return post, err
		}
		if post.ScheduledAt != nil {
			return post, nil
		}

		if slot == nil {
			at, err := s.nextFreeSlot(ctx, id)
			if err != nil {
				return nil, err
			}
			slot = &at
		}

		next := post.Clone()
		at := *slot
		next.ScheduledAt = &at
		if err := s.repo.Save(ctx, next, post.Version); err != nil {
			if errors.Is(err, storage.ErrVersionConflict) {
				continue
			}
			return nil, err
		}

		s.log.Info().
			Str("post_id", id).
			Time("scheduled_at", at).
			Msg("Post slotted")
		return next, nil
	}
	return nil, storage.ErrVersionConflict
}

// AssignPending slots every scheduled post that has no slot yet.
// A configuration error stops the run; other failures are logged.
func (s *Scheduler) AssignPending(ctx context.Context) (int, error) {
	posts, err := s.repo.Query(ctx, storage.PostFilter{
		Stages:      []models.Stage{models.StageScheduled},
		HasSchedule: storage.Bool(false),
		OrderBy:     "created_at",
	})
	if err != nil {
		return 0, fmt.Errorf("failed to query unslotted posts: %w", err)
	}

	assigned := 0
	for _, p := range posts {
		if _, err := s.Assign(ctx, p.ID); err != nil {
			if errors.Is(err, ErrNoValidSlot) {
				return assigned, err
			}
			s.log.Warn().Err(err).Str("post_id", p.ID).Msg("Failed to assign slot")
			continue
		}
		assigned++
	}
	return assigned, nil
}

// TickResult summarizes a Tick
type TickResult struct {
	Due       int
	Published int
	Errors    []error
}

// Tick publishes every scheduled post whose slot is at or before now.
// A post is published once no matter how often Tick runs.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (*TickResult, error) {
	due, err := s.repo.Query(ctx, storage.PostFilter{
		Stages:          []models.Stage{models.StageScheduled},
		ScheduledBefore: &now,
		OrderBy:         "scheduled_at",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query due posts: %w", err)
	}

	result := &TickResult{Due: len(due)}
	for _, p := range due {
		published, err := s.publish(ctx, p.ID, now)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("post %s: %w", p.ID, err))
			continue
		}
		if published {
			result.Published++
		}
	}

	if result.Due > 0 {
		s.log.Info().
			Int("due", result.Due).
			Int("published", result.Published).
			Int("errors", len(result.Errors)).
			Msg("Tick completed")
	}
	return result, nil
}

func (s *Scheduler) publish(ctx context.Context, id string, now time.Time) (bool, error) {
	unlock, err := s.locker.Lock(ctx, lock.PostKey(id))
	if err != nil {
		return false, fmt.Errorf("failed to lock post: %w", err)
	}
	defer unlock()

	for attempt := 0; attempt <= s.cfg.MaxConflictRetries; attempt++ {
		post, err := s.repo.Get(ctx, id)
		if err != nil {
			return false, err
		}
		if post.Stage != models.StageScheduled || post.ScheduledAt == nil || post.ScheduledAt.After(now) {
			return false, nil
		}

		next := post.Clone()
		at := now
		next.Stage = models.StagePublished
		next.PublishedAt = &at
		if err := s.repo.Save(ctx, next, post.Version); err != nil {
			if errors.Is(err, storage.ErrVersionConflict) {
				continue
			}
			return false, err
		}

		s.log.Info().
			Str("post_id", id).
			Str("title", next.Title).
			Time("published_at", at).
			Msg("Post published")

		if s.notifier != nil {
			if err := s.notifier.Published(ctx, next); err != nil {
				s.log.Warn().Err(err).Str("post_id", id).Msg("Failed to send publish notification")
			}
		}
		return true, nil
	}
	return false, storage.ErrVersionConflict
}

// Reschedule moves a scheduled post to at. Blackout days and days booked by
// another post are rejected unless force is set.
func (s *Scheduler) Reschedule(ctx context.Context, id string, at time.Time, force bool) (*models.Post, error) {
	unlock, err := s.locker.Lock(ctx, lock.PostKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to lock post %s: %w", id, err)
	}
	defer unlock()

	unlockCalendar, err := s.lockCalendar(ctx)
	if err != nil {
		return nil, err
	}
	defer unlockCalendar()

	at = at.In(s.cfg.Location)
	if !force && s.cfg.Blackouts.Contains(at) {
		return nil, ErrBlackoutDate
	}

	for attempt := 0; attempt <= s.cfg.MaxConflictRetries; attempt++ {
		post, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := requireScheduled(post); err != nil {
			return post, err
		}
		if !force {
			taken, err := s.dayTaken(ctx, at, id)
			if err != nil {
				return nil, err
			}
			if taken {
				return post, ErrSlotTaken
			}
		}

		next := post.Clone()
		slot := at
		next.ScheduledAt = &slot
		if err := s.repo.Save(ctx, next, post.Version); err != nil {
			if errors.Is(err, storage.ErrVersionConflict) {
				continue
			}
			return nil, err
		}

		s.log.Info().
			Str("post_id", id).
			Time("scheduled_at", slot).
			Bool("forced", force).
			Msg("Post rescheduled")
		return next, nil
	}
	return nil, storage.ErrVersionConflict
}

// Preview lists the next count slots of this calendar starting at index from
func (s *Scheduler) Preview(from int64, count int) ([]time.Time, error) {
	return Preview(s.cfg.Base, from, count, s.cfg.IntervalDays, s.cfg.Blackouts)
}

// lockCalendar serializes the check and the save of a slot booking
func (s *Scheduler) lockCalendar(ctx context.Context) (func(), error) {
	unlock, err := s.locker.Lock(ctx, lock.CalendarKey(s.cfg.Calendar))
	if err != nil {
		return nil, fmt.Errorf("failed to lock calendar %s: %w", s.cfg.Calendar, err)
	}
	return unlock, nil
}

func (s *Scheduler) nextFreeSlot(ctx context.Context, id string) (time.Time, error) {
	for i := 0; i < maxSlotSkips; i++ {
		index, err := s.calendar.NextIndex(ctx, s.cfg.Calendar)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to take calendar index: %w", err)
		}
		slot, err := NextSlotEvery(s.cfg.Base, index, s.cfg.IntervalDays, s.cfg.Blackouts)
		if err != nil {
			return time.Time{}, err
		}
		taken, err := s.dayTaken(ctx, slot, id)
		if err != nil {
			return time.Time{}, err
		}
		if !taken {
			return slot, nil
		}
		s.log.Debug().Int64("index", index).Time("slot", slot).Msg("Slot already booked, skipping")
	}
	return time.Time{}, ErrNoValidSlot
}

// dayTaken reports whether another post holds a slot on the calendar day of at
func (s *Scheduler) dayTaken(ctx context.Context, at time.Time, excludeID string) (bool, error) {
	local := at.In(s.cfg.Location)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.cfg.Location)
	end := start.AddDate(0, 0, 1)

	posts, err := s.repo.Query(ctx, storage.PostFilter{
		Stages:         []models.Stage{models.StageScheduled, models.StagePublished},
		ScheduledFrom:  &start,
		ScheduledUntil: &end,
		ExcludeID:      excludeID,
		Limit:          1,
	})
	if err != nil {
		return false, fmt.Errorf("failed to check slot: %w", err)
	}
	return len(posts) > 0, nil
}

func requireScheduled(post *models.Post) error {
	switch post.Stage {
	case models.StageScheduled:
		return nil
	case models.StagePublished:
		return ErrAlreadyPublished
	}
	return ErrNotScheduled
}
