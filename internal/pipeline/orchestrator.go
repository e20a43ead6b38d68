package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/blog-autopilot/internal/dedup"
	"github.com/blog-autopilot/internal/lock"
	"github.com/blog-autopilot/internal/models"
	"github.com/blog-autopilot/internal/provider"
	"github.com/blog-autopilot/internal/storage"
	"github.com/blog-autopilot/pkg/logger"
)

// Config holds orchestrator tuning
type Config struct {
	MaxStageRetries      int           // failed attempts allowed per stage before the post fails
	LifetimeRetryCeiling int           // manual retries allowed per post, 0 means unlimited
	ProviderTimeout      time.Duration // per provider call
	RetryBackoff         time.Duration // base delay between attempts
	MinWords             int
	MaxWords             int
	Concurrency          int // posts advanced in parallel by AdvanceDue
	BatchSize            int // posts picked up per AdvanceDue run
	MaxConflictRetries   int
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		MaxStageRetries:      3,
		LifetimeRetryCeiling: 5,
		ProviderTimeout:      2 * time.Minute,
		RetryBackoff:         2 * time.Second,
		MinWords:             300,
		MaxWords:             600,
		Concurrency:          4,
		BatchSize:            50,
		MaxConflictRetries:   5,
	}
}

// Providers groups the external services used by the provider stages
type Providers struct {
	Researcher  provider.Researcher
	Writer      provider.Writer
	Illustrator provider.Illustrator
	SEO         provider.SEOScorer
}

// SlotAssigner gives a newly scheduled post its publish slot
type SlotAssigner interface {
	Assign(ctx context.Context, id string) (*models.Post, error)
}

// Orchestrator drives posts through the provider stages
type Orchestrator struct {
	repo      storage.Repository
	locker    lock.Locker
	dedup     *dedup.Deduplicator
	providers Providers
	assigner  SlotAssigner
	cfg       Config
	log       *logger.Logger
	now       func() time.Time
	newID     func() string

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator overrides post id generation
func WithIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) { o.newID = gen }
}

// WithSlotAssigner sets the scheduler called after a post reaches scheduled
func WithSlotAssigner(a SlotAssigner) Option {
	return func(o *Orchestrator) { o.assigner = a }
}

// New creates an orchestrator. All four providers are required.
func New(
	repo storage.Repository,
	locker lock.Locker,
	dd *dedup.Deduplicator,
	providers Providers,
	cfg Config,
	log *logger.Logger,
	opts ...Option,
) (*Orchestrator, error) {
	if providers.Researcher == nil || providers.Writer == nil || providers.Illustrator == nil || providers.SEO == nil {
		return nil, errors.New("pipeline: researcher, writer, illustrator and seo providers are required")
	}
	if cfg.MaxStageRetries < 0 {
		return nil, fmt.Errorf("pipeline: max stage retries must not be negative, got %d", cfg.MaxStageRetries)
	}
	if cfg.MinWords > cfg.MaxWords {
		return nil, fmt.Errorf("pipeline: min words %d exceeds max words %d", cfg.MinWords, cfg.MaxWords)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	o := &Orchestrator{
		repo:      repo,
		locker:    locker,
		dedup:     dd,
		providers: providers,
		cfg:       cfg,
		log:       log.WithComponent("pipeline"),
		now:       time.Now,
		newID:     uuid.NewString,
		inflight:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// MaxInstructionRunes caps the editor instructions stored with a post
const MaxInstructionRunes = 2000

// Submission is a topic request. Instructions optionally steer the draft.
type Submission struct {
	Topic        string
	Instructions string
}

// SubmitTopic creates a post in researching unless the topic was seen before
func (o *Orchestrator) SubmitTopic(ctx context.Context, topic string) (*models.Post, error) {
	return o.Submit(ctx, Submission{Topic: topic})
}

// Submit is SubmitTopic with optional drafting instructions. Instructions do
// not take part in duplicate detection.
func (o *Orchestrator) Submit(ctx context.Context, sub Submission) (*models.Post, error) {
	topic := strings.TrimSpace(sub.Topic)
	if dedup.Normalize(topic, false) == "" {
		return nil, ErrEmptyTopic
	}
	instructions := strings.TrimSpace(sub.Instructions)
	if utf8.RuneCountInString(instructions) > MaxInstructionRunes {
		return nil, fmt.Errorf("%w: at most %d characters", ErrInstructionsTooLong, MaxInstructionRunes)
	}

	fp := o.dedup.Fingerprint(topic)
	unlock, err := o.locker.Lock(ctx, "topic:"+fp)
	if err != nil {
		return nil, fmt.Errorf("failed to lock topic: %w", err)
	}
	defer unlock()

	if o.dedup.IsDuplicate(ctx, topic) {
		return nil, ErrDuplicateTopic
	}

	post := &models.Post{
		ID:               o.newID(),
		Topic:            topic,
		Instructions:     instructions,
		TopicFingerprint: fp,
		Stage:            models.StageResearching,
		Retries:          models.StageCounters{},
		CreatedAt:        o.now(),
	}
	if err := o.repo.Create(ctx, post); err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}
	o.dedup.Register(ctx, topic)

	o.log.Info().
		Str("post_id", post.ID).
		Str("topic", topic).
		Bool("instructions", instructions != "").
		Msg("Topic submitted")

	return post, nil
}

// Get returns a post by id
func (o *Orchestrator) Get(ctx context.Context, id string) (*models.Post, error) {
	return o.repo.Get(ctx, id)
}

// List returns posts matching filter
func (o *Orchestrator) List(ctx context.Context, filter storage.PostFilter) ([]*models.Post, error) {
	return o.repo.Query(ctx, filter)
}

// Retry sends a failed post back to the stage it failed in with a fresh stage budget
func (o *Orchestrator) Retry(ctx context.Context, id string) (*models.Post, error) {
	unlock, err := o.locker.Lock(ctx, lock.PostKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to lock post %s: %w", id, err)
	}
	defer unlock()

	for attempt := 0; attempt <= o.cfg.MaxConflictRetries; attempt++ {
		post, err := o.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if post.Stage != models.StageFailed {
			return post, ErrNotFailed
		}
		if o.cfg.LifetimeRetryCeiling > 0 && post.ManualRetries >= o.cfg.LifetimeRetryCeiling {
			return post, ErrRetryCeiling
		}
		if !post.FailedStage.Valid() || post.FailedStage.IsTerminal() {
			return post, fmt.Errorf("post %s has no stage to re-enter (failed_stage=%q)", id, post.FailedStage)
		}

		next := post.Clone()
		next.Stage = post.FailedStage
		next.Retries[post.FailedStage] = 0
		next.ManualRetries++
		next.FailedStage = ""
		next.FailureKind = ""
		next.FailureReason = ""

		if err := o.repo.Save(ctx, next, post.Version); err != nil {
			if errors.Is(err, storage.ErrVersionConflict) {
				continue
			}
			return nil, err
		}

		o.log.Info().
			Str("post_id", id).
			Str("stage", string(next.Stage)).
			Int("manual_retries", next.ManualRetries).
			Msg("Post re-entered pipeline")
		return next, nil
	}
	return nil, storage.ErrVersionConflict
}

// MarkFailed moves a non-terminal post to failed and cancels any in-flight
// provider call for it. It does not wait for the post lock.
func (o *Orchestrator) MarkFailed(ctx context.Context, id, reason string) (*models.Post, error) {
	for attempt := 0; attempt <= o.cfg.MaxConflictRetries; attempt++ {
		post, err := o.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		switch post.Stage {
		case models.StagePublished:
			return post, ErrPublished
		case models.StageFailed:
			return post, nil
		}

		next := post.Clone()
		next.MarkFailed(models.FailureCancelled, fmt.Sprintf("%s: cancelled: %s", post.Stage, reason))
		if err := o.repo.Save(ctx, next, post.Version); err != nil {
			if errors.Is(err, storage.ErrVersionConflict) {
				continue
			}
			return nil, err
		}

		o.cancelInflight(id)
		o.log.Warn().
			Str("post_id", id).
			Str("failed_stage", string(next.FailedStage)).
			Str("reason", reason).
			Msg("Post marked failed")
		return next, nil
	}
	return nil, storage.ErrVersionConflict
}

func (o *Orchestrator) track(ctx context.Context, id string) (context.Context, func()) {
	callCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.inflight[id] = cancel
	o.mu.Unlock()

	return callCtx, func() {
		o.mu.Lock()
		delete(o.inflight, id)
		o.mu.Unlock()
		cancel()
	}
}

func (o *Orchestrator) cancelInflight(id string) {
	o.mu.Lock()
	cancel, ok := o.inflight[id]
	o.mu.Unlock()
	if ok {
		cancel()
	}
}
