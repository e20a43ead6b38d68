package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/blog-autopilot/internal/agent/discovery"
	"github.com/blog-autopilot/internal/app"
	"github.com/blog-autopilot/internal/config"
	"github.com/blog-autopilot/internal/models"
	"github.com/blog-autopilot/internal/pipeline"
	"github.com/blog-autopilot/internal/storage"
	"github.com/blog-autopilot/pkg/logger"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *logger.Logger
	a       *app.App
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "blog-autopilot",
		Short: "Content pipeline for an autonomous blog",
		Long: `Turns topics into researched, illustrated and SEO-tagged blog posts
and publishes them on a bi-weekly content calendar.`,
		PersistentPreRunE:  initializeApp,
		PersistentPostRunE: closeApp,
		SilenceUsage:       true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/config.yaml)")

	rootCmd.AddCommand(topicsCmd())
	rootCmd.AddCommand(postsCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(discoverCmd())
	rootCmd.AddCommand(sourcesCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initializeApp(cmd *cobra.Command, args []string) error {
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

	a, err = app.Build(cmd.Context(), cfg, log)
	return err
}

func closeApp(cmd *cobra.Command, args []string) error {
	if a == nil {
		return nil
	}
	return a.Close()
}

// ============ TOPIC COMMANDS ============

func topicsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Feed topics into the pipeline",
	}

	cmd.AddCommand(topicsSubmitCmd())
	return cmd
}

func topicsSubmitCmd() *cobra.Command {
	var instructions string

	cmd := &cobra.Command{
		Use:   "submit [topic]",
		Short: "Submit a topic; duplicates are rejected",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			post, err := a.Orchestrator.Submit(cmd.Context(), pipeline.Submission{
				Topic:        strings.Join(args, " "),
				Instructions: instructions,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Submitted post %s (%s)\n", post.ID, post.Stage)
			return nil
		},
	}

	cmd.Flags().StringVar(&instructions, "instructions", "", "Extra guidance for the writer, e.g. audience or angle")
	return cmd
}

// ============ POST COMMANDS ============

func postsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "posts",
		Short: "List and manage posts",
	}

	cmd.AddCommand(postsListCmd())
	cmd.AddCommand(postsQueueCmd())
	cmd.AddCommand(postsShowCmd())
	cmd.AddCommand(postsAdvanceCmd())
	cmd.AddCommand(postsRunCmd())
	cmd.AddCommand(postsAdvanceDueCmd())
	cmd.AddCommand(postsRetryCmd())
	cmd.AddCommand(postsFailCmd())
	cmd.AddCommand(postsRescheduleCmd())
	return cmd
}

func postsListCmd() *cobra.Command {
	var stages []string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List posts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := storage.DefaultPostFilter()
			filter.Limit = limit
			for _, s := range stages {
				stage := models.Stage(s)
				if !stage.Valid() {
					return fmt.Errorf("unknown stage %q", s)
				}
				filter.Stages = append(filter.Stages, stage)
			}

			posts, err := a.Orchestrator.List(cmd.Context(), filter)
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Posts (%d) ===\n\n", len(posts))
			for _, p := range posts {
				printPostLine(p)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&stages, "stage", nil, "Filter by stage (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum posts to show")
	return cmd
}

func postsQueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show the publishing queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			posts, err := a.Orchestrator.List(cmd.Context(), storage.PostFilter{
				Stages:  []models.Stage{models.StageScheduled},
				OrderBy: "scheduled_at",
			})
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Publishing Queue (%d) ===\n\n", len(posts))
			for _, p := range posts {
				when := "unassigned"
				if p.ScheduledAt != nil {
					when = p.ScheduledAt.Format(time.RFC1123)
				}
				fmt.Printf("%s  %s  %s\n", when, p.ID, p.Title)
			}
			return nil
		},
	}
}

func postsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [post-id]",
		Short: "Show a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.Orchestrator.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printPost(p)
			return nil
		},
	}
}

func postsAdvanceCmd() *cobra.Command {
	var from string

	cmd := &cobra.Command{
		Use:   "advance [post-id]",
		Short: "Run the post's current stage once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				p   *models.Post
				err error
			)
			if from != "" {
				p, err = a.Orchestrator.AdvanceFrom(cmd.Context(), args[0], models.Stage(from))
			} else {
				p, err = a.Orchestrator.Advance(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			printPostLine(p)
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Only advance if the post is still in this stage")
	return cmd
}

func postsRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [post-id]",
		Short: "Advance a post until it is scheduled or failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.Orchestrator.Run(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printPost(p)
			return nil
		},
	}
}

func postsAdvanceDueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "advance-due",
		Short: "Advance every post waiting in a provider stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := a.Orchestrator.AdvanceDue(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Advance Results ===\n")
			fmt.Printf("Processed: %d\n", result.Processed)
			fmt.Printf("Scheduled: %d\n", result.Scheduled)
			fmt.Printf("Failed:    %d\n", result.Failed)
			fmt.Printf("Duration:  %s\n", result.Duration)
			printErrors(result.Errors)
			return nil
		},
	}
}

func postsRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry [post-id]",
		Short: "Send a failed post back to the stage it failed in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.Orchestrator.Retry(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Post %s re-entered %s (manual retry %d)\n", p.ID, p.Stage, p.ManualRetries)
			return nil
		},
	}
}

func postsFailCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "fail [post-id]",
		Short: "Stop a post and mark it failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.Orchestrator.MarkFailed(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			fmt.Printf("Post %s failed in %s: %s\n", p.ID, p.FailedStage, p.FailureReason)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Why the post is stopped (required)")
	cmd.MarkFlagRequired("reason")
	return cmd
}

func postsRescheduleCmd() *cobra.Command {
	var at string
	var force bool

	cmd := &cobra.Command{
		Use:   "reschedule [post-id]",
		Short: "Move a scheduled post to another time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, loc, err := cfg.Calendar.Base()
			if err != nil {
				return err
			}
			when, err := time.ParseInLocation("2006-01-02 15:04", at, loc)
			if err != nil {
				return fmt.Errorf("invalid time format, use: YYYY-MM-DD HH:MM")
			}

			p, err := a.Scheduler.Reschedule(cmd.Context(), args[0], when, force)
			if err != nil {
				return err
			}
			fmt.Printf("Post %s now publishes %s\n", p.ID, p.ScheduledAt.Format(time.RFC1123))
			return nil
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "New publish time, YYYY-MM-DD HH:MM in the calendar timezone (required)")
	cmd.Flags().BoolVar(&force, "force", false, "Allow sharing a day with another post")
	cmd.MarkFlagRequired("at")
	return cmd
}

// ============ SCHEDULE COMMANDS ============

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Content calendar commands",
	}

	cmd.AddCommand(scheduleSlotsCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "assign",
		Short: "Give scheduled posts without a slot their slot",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.Scheduler.AssignPending(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Assigned %d slot(s)\n", n)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "tick",
		Short: "Publish every post whose slot has arrived",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := a.Scheduler.Tick(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			fmt.Printf("Due: %d, published: %d\n", result.Due, result.Published)
			printErrors(result.Errors)
			return nil
		},
	})
	return cmd
}

func scheduleSlotsCmd() *cobra.Command {
	var from int64
	var count int

	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Preview upcoming publish slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			slots, err := a.Scheduler.Preview(from, count)
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Slots %d-%d ===\n\n", from, from+int64(len(slots))-1)
			for i, s := range slots {
				fmt.Printf("[%d] %s\n", from+int64(i), s.Format("Mon 2006-01-02 15:04 MST"))
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&from, "from", 0, "First slot index")
	cmd.Flags().IntVar(&count, "count", 10, "Number of slots")
	return cmd
}

// ============ DISCOVER COMMANDS ============

func discoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Topic discovery commands",
	}

	cmd.AddCommand(discoverRunCmd())
	return cmd
}

func discoverRunCmd() *cobra.Command {
	var sourceName string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Find trending topics and submit the best ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result *discovery.DiscoveryResult
			var err error

			if sourceName != "" {
				result, err = a.Discovery.RunForSource(cmd.Context(), sourceName)
			} else {
				result, err = a.Discovery.Run(cmd.Context())
			}
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Discovery Results ===\n")
			fmt.Printf("Topics Found:     %d\n", result.TopicsFound)
			fmt.Printf("Topics Ranked:    %d\n", result.TopicsRanked)
			fmt.Printf("Topics Submitted: %d\n", result.TopicsSubmitted)
			fmt.Printf("Topics Skipped:   %d\n", result.TopicsSkipped)
			fmt.Printf("Duration:         %s\n", result.Duration)
			for _, p := range result.Submitted {
				fmt.Printf("  + %s %s\n", p.ID, p.Topic)
			}
			printErrors(result.Errors)
			return nil
		},
	}

	cmd.Flags().StringVar(&sourceName, "source", "", "Run discovery for specific source only")
	return cmd
}

// ============ SOURCE COMMANDS ============

func sourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Topic source commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Check that every source is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			failures := a.Sources.HealthCheck(ctx)
			for _, s := range a.Sources.GetSources() {
				status := "ok"
				if err, failed := failures[s.Name()]; failed {
					status = "FAIL: " + err.Error()
				}
				fmt.Printf("%-8s %-30s %s\n", s.Type(), s.Name(), status)
			}
			if len(failures) > 0 {
				return fmt.Errorf("%d source(s) unreachable", len(failures))
			}
			return nil
		},
	})
	return cmd
}

// ============ OUTPUT ============

func printPostLine(p *models.Post) {
	fmt.Printf("[%s] %-12s | %s\n", p.ID, p.Stage, p.Topic)
	if p.Stage == models.StageFailed {
		fmt.Printf("    Failed in %s (%s): %s\n", p.FailedStage, p.FailureKind, p.FailureReason)
	}
	if p.ScheduledAt != nil {
		fmt.Printf("    Scheduled: %s\n", p.ScheduledAt.Format(time.RFC1123))
	}
}

func printPost(p *models.Post) {
	fmt.Printf("\n=== Post %s ===\n", p.ID)
	fmt.Printf("Topic:     %s\n", p.Topic)
	if p.Instructions != "" {
		fmt.Printf("Guidance:  %s\n", p.Instructions)
	}
	fmt.Printf("Stage:     %s (version %d)\n", p.Stage, p.Version)
	if p.Title != "" {
		fmt.Printf("Title:     %s\n", p.Title)
		fmt.Printf("Words:     %d (%d min read)\n", p.WordCount, p.ReadingMinutes)
	}
	if p.ThumbnailRef != "" {
		fmt.Printf("Thumbnail: %s\n", p.ThumbnailRef)
	}
	if p.SEOMeta.Title != "" {
		fmt.Printf("SEO:       %s | /%s\n", p.SEOMeta.Title, p.SEOMeta.Slug)
		fmt.Printf("           %s\n", p.SEOMeta.Description)
		fmt.Printf("           %s\n", strings.Join(p.SEOMeta.Keywords, ", "))
	}
	if p.ScheduledAt != nil {
		fmt.Printf("Scheduled: %s\n", p.ScheduledAt.Format(time.RFC1123))
	}
	if p.PublishedAt != nil {
		fmt.Printf("Published: %s\n", p.PublishedAt.Format(time.RFC1123))
	}
	if p.Stage == models.StageFailed {
		fmt.Printf("Failed:    %s in %s: %s\n", p.FailureKind, p.FailedStage, p.FailureReason)
	}
	if len(p.Citations) > 0 {
		fmt.Printf("\nCitations:\n")
		for i, c := range p.Citations {
			fmt.Printf("  [%d] %s - %s\n", i+1, c.Title, c.SourceURL)
		}
	}
	fmt.Println()
}

func printErrors(errs []error) {
	if len(errs) == 0 {
		return
	}
	fmt.Printf("\nErrors:\n")
	for _, e := range errs {
		fmt.Printf("  - %s\n", e)
	}
}
