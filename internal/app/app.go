// Package app builds the pipeline components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/blog-autopilot/internal/agent/discovery"
	"github.com/blog-autopilot/internal/ai"
	"github.com/blog-autopilot/internal/config"
	"github.com/blog-autopilot/internal/dedup"
	"github.com/blog-autopilot/internal/lock"
	"github.com/blog-autopilot/internal/media/s3store"
	"github.com/blog-autopilot/internal/media/unsplash"
	"github.com/blog-autopilot/internal/models"
	"github.com/blog-autopilot/internal/notify"
	"github.com/blog-autopilot/internal/pipeline"
	"github.com/blog-autopilot/internal/provider"
	"github.com/blog-autopilot/internal/provider/illustrate"
	"github.com/blog-autopilot/internal/provider/research"
	"github.com/blog-autopilot/internal/provider/seo"
	"github.com/blog-autopilot/internal/provider/writer"
	"github.com/blog-autopilot/internal/schedule"
	"github.com/blog-autopilot/internal/source"
	"github.com/blog-autopilot/internal/source/custom"
	"github.com/blog-autopilot/internal/source/rss"
	"github.com/blog-autopilot/internal/storage"
	"github.com/blog-autopilot/internal/storage/memory"
	"github.com/blog-autopilot/internal/storage/postgres"
	"github.com/blog-autopilot/internal/storage/redisstore"
	"github.com/blog-autopilot/internal/storage/sqlite"
	"github.com/blog-autopilot/pkg/logger"
	"github.com/blog-autopilot/pkg/ratelimit"
)

// App holds the wired components
type App struct {
	Config       *config.Config
	Store        storage.Store
	Locker       lock.Locker
	Sources      *source.Manager
	Orchestrator *pipeline.Orchestrator
	Scheduler    *schedule.Scheduler
	Discovery    *discovery.Agent

	log     *logger.Logger
	closers []func() error
}

// Build opens storage and constructs every component. Close releases them.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, log: log}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	store, err := OpenStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)

	if err := store.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	var (
		fingerprints storage.FingerprintStore = store
		calendar     storage.CalendarStore    = store
	)
	a.Locker = lock.NewKeyed()

	if cfg.Redis.Enabled {
		rs, err := redisstore.New(ctx, redisstore.Config{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			KeyPrefix:   cfg.Redis.KeyPrefix,
			LockTTL:     cfg.Redis.LockTTL,
			LockRefresh: cfg.Redis.LockRefresh,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, rs.Close)
		fingerprints, calendar, a.Locker = rs, rs, rs
	}

	limiter := ratelimit.NewLimiter(ratelimit.Limits{
		AnthropicPerMinute: cfg.RateLimit.AnthropicRequestsPerMinute,
		UnsplashPerHour:    cfg.RateLimit.UnsplashRequestsPerHour,
		SourcePerHour:      cfg.RateLimit.SourceRequestsPerHour,
		WebPerMinute:       cfg.RateLimit.WebRequestsPerMinute,
	})

	a.Sources = source.NewManager()
	if cfg.Sources.RSS.Enabled {
		for _, s := range rss.NewMultiple(cfg.Sources.RSS, limiter, a.log) {
			a.Sources.Register(s)
		}
	}
	if cfg.Sources.Custom.Enabled && len(cfg.Sources.Custom.Keywords) > 0 {
		a.Sources.Register(custom.New(cfg.Sources.Custom, a.log))
	}

	aiClient := ai.NewClient(cfg.Anthropic, limiter, a.log)

	researcher, err := a.researcher(limiter)
	if err != nil {
		return err
	}
	illustrator, err := a.illustrator(ctx, limiter)
	if err != nil {
		return err
	}
	providers := pipeline.Providers{
		Researcher:  researcher,
		Writer:      writer.New(aiClient, cfg.Pipeline.BlogVoice, a.log),
		Illustrator: illustrator,
		SEO:         seo.New(cfg.Pipeline.TargetKeywords, a.log),
	}

	notifier, err := a.notifier()
	if err != nil {
		return err
	}

	base, loc, err := cfg.Calendar.Base()
	if err != nil {
		return err
	}
	blackouts, err := schedule.ParseBlackouts(cfg.Calendar.Blackouts)
	if err != nil {
		return err
	}
	a.Scheduler, err = schedule.New(store, calendar, a.Locker, schedule.Config{
		Calendar:     cfg.Calendar.Name,
		Base:         base,
		IntervalDays: cfg.Calendar.IntervalDays,
		Blackouts:    blackouts,
		Location:     loc,
	}, a.log, schedule.WithNotifier(notifier))
	if err != nil {
		return err
	}

	dd := dedup.New(fingerprints, dedup.Options{
		StripStopWords:         cfg.Pipeline.StripStopWords,
		NearDuplicateThreshold: cfg.Pipeline.NearDuplicateThreshold,
	}, a.log)

	a.Orchestrator, err = pipeline.New(store, a.Locker, dd, providers, PipelineConfig(cfg.Pipeline), a.log,
		pipeline.WithSlotAssigner(a.Scheduler))
	if err != nil {
		return err
	}

	a.Discovery = discovery.NewAgent(a.Sources, aiClient, a.Orchestrator, dd, discovery.Config{
		MaxTopicsPerRun: cfg.Discovery.MaxTopicsPerRun,
		MinScore:        cfg.Discovery.MinScore,
	}, a.log)

	a.log.Info().
		Str("database", cfg.Database.Driver).
		Bool("redis", cfg.Redis.Enabled).
		Str("media", cfg.Media.Provider).
		Bool("kafka", cfg.Kafka.Enabled).
		Int("sources", len(a.Sources.GetSources())).
		Msg("Pipeline components ready")
	return nil
}

// Close releases storage, Redis and Kafka connections in reverse order
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// OpenStore opens the configured post store
func OpenStore(ctx context.Context, cfg config.DatabaseConfig) (storage.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		repo, err := sqlite.New(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case "postgres":
		repo, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case "memory":
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

// PipelineConfig maps configuration onto orchestrator settings
func PipelineConfig(p config.PipelineConfig) pipeline.Config {
	pc := pipeline.DefaultConfig()
	pc.MaxStageRetries = p.MaxStageRetries
	pc.LifetimeRetryCeiling = p.LifetimeRetryCeiling
	if p.ProviderTimeout > 0 {
		pc.ProviderTimeout = p.ProviderTimeout
	}
	pc.RetryBackoff = p.RetryBackoff
	pc.MinWords = p.MinWords
	pc.MaxWords = p.MaxWords
	if p.Concurrency > 0 {
		pc.Concurrency = p.Concurrency
	}
	if p.BatchSize > 0 {
		pc.BatchSize = p.BatchSize
	}
	return pc
}

// feedFetcher limits research to RSS sources
type feedFetcher struct {
	sources *source.Manager
}

func (f feedFetcher) FetchAll(ctx context.Context) ([]*models.RawTopic, []error) {
	return f.sources.FetchByType(ctx, "rss")
}

func (a *App) researcher(limiter *ratelimit.MultiLimiter) (provider.Researcher, error) {
	rc := a.Config.Research

	var members []provider.Researcher
	if rc.UseFeeds {
		members = append(members, research.NewFeedResearcher(feedFetcher{a.Sources}, rc.MaxSources, a.log))
	}
	if rc.Web.Enabled {
		members = append(members, research.NewPageResearcher(rc.Web, rc.MaxSources, limiter, a.log))
	}
	if len(members) == 0 {
		return nil, errors.New("no researcher configured: enable research.use_feeds or research.web")
	}
	return research.NewChain(rc.MaxSources, a.log, members...), nil
}

func (a *App) illustrator(ctx context.Context, limiter *ratelimit.MultiLimiter) (provider.Illustrator, error) {
	mc := a.Config.Media
	if mc.Provider == "static" {
		return illustrate.NewStatic(mc.DefaultThumbnail, ""), nil
	}

	client := unsplash.NewClient(mc.UnsplashAPIKey, limiter, a.log, unsplash.WithBaseURL(mc.UnsplashBaseURL))

	var store illustrate.ImageStore
	if mc.S3.Enabled {
		s3, err := s3store.New(ctx, mc.S3, a.log)
		if err != nil {
			return nil, err
		}
		store = s3
	}
	return illustrate.NewUnsplash(client, store, a.log), nil
}

func (a *App) notifier() (schedule.Notifier, error) {
	if !a.Config.Kafka.Enabled {
		return notify.NewLog(a.log), nil
	}
	k, err := notify.NewKafka(a.Config.Kafka, a.log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, k.Close)
	return k, nil
}
