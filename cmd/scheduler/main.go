package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/blog-autopilot/internal/api"
	"github.com/blog-autopilot/internal/app"
	"github.com/blog-autopilot/internal/config"
	"github.com/blog-autopilot/pkg/logger"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *logger.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "blog-autopilot-scheduler",
		Short: "Background scheduler for the blog pipeline",
		Long: `Advances posts through the pipeline, assigns calendar slots and
publishes due posts on cron schedules. Optionally serves the dashboard API.`,
		RunE: runScheduler,
	}

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file path")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runScheduler(cmd *cobra.Command, args []string) error {
	var err error

	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log = logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	log.Info().Msg("Starting blog pipeline scheduler")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	c := cron.New(
		cron.WithLogger(cronLogger{log}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{log})),
	)

	jobs := []job{
		{"advance", cfg.Scheduler.AdvanceCron, func() {
			result, err := a.Orchestrator.AdvanceDue(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Scheduled advance failed")
				return
			}
			for _, e := range result.Errors {
				log.Error().Err(e).Msg("Advance error")
			}
			log.Info().
				Int("processed", result.Processed).
				Int("scheduled", result.Scheduled).
				Int("failed", result.Failed).
				Dur("duration", result.Duration).
				Msg("Scheduled advance completed")
		}},
		{"assign", cfg.Scheduler.AssignCron, func() {
			n, err := a.Scheduler.AssignPending(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Slot assignment failed")
				return
			}
			log.Info().Int("assigned", n).Msg("Slot assignment completed")
		}},
		{"publish", cfg.Scheduler.PublishCron, func() {
			result, err := a.Scheduler.Tick(ctx, time.Now())
			if err != nil {
				log.Error().Err(err).Msg("Scheduled publish failed")
				return
			}
			for _, e := range result.Errors {
				log.Error().Err(e).Msg("Publish error")
			}
			log.Info().
				Int("due", result.Due).
				Int("published", result.Published).
				Msg("Scheduled publish completed")
		}},
	}

	if cfg.Discovery.Enabled {
		jobs = append(jobs, job{"discovery", cfg.Scheduler.DiscoveryCron, func() {
			result, err := a.Discovery.Run(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Scheduled discovery failed")
				return
			}
			log.Info().
				Int("topics_found", result.TopicsFound).
				Int("topics_submitted", result.TopicsSubmitted).
				Int("errors", len(result.Errors)).
				Msg("Scheduled discovery completed")
		}})
	}

	for _, j := range jobs {
		if j.spec == "" {
			log.Warn().Str("job", j.name).Msg("No cron expression, job disabled")
			continue
		}
		if _, err := c.AddFunc(j.spec, j.run); err != nil {
			return fmt.Errorf("failed to schedule %s job: %w", j.name, err)
		}
		log.Info().Str("job", j.name).Str("cron", j.spec).Msg("Job scheduled")
	}

	var srv *http.Server
	if cfg.API.Enabled {
		srv = &http.Server{
			Addr:              cfg.API.Addr,
			Handler:           api.NewRouter(a.Orchestrator, a.Scheduler, log),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.API.Addr).Msg("API server starting")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("API server failed")
			}
		}()
	}

	c.Start()
	log.Info().Msg("Scheduler started")

	<-ctx.Done()

	log.Info().Msg("Shutting down scheduler")
	<-c.Stop().Done()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown failed")
		}
	}

	return nil
}

type job struct {
	name string
	spec string
	run  func()
}

// cronLogger adapts our logger for cron
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
