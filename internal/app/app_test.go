package app

import (
	"context"
	"testing"
	"time"

	"github.com/blog-autopilot/internal/config"
	"github.com/blog-autopilot/internal/models"
	"github.com/blog-autopilot/pkg/logger"
)

func testConfig() *config.Config {
	return &config.Config{
		Database:  config.DatabaseConfig{Driver: "memory"},
		Anthropic: config.AnthropicConfig{APIKey: "test", Model: "claude-test", MaxTokens: 1024},
		Sources: config.SourcesConfig{
			Custom: config.CustomConfig{Enabled: true, Keywords: []string{"golang"}},
		},
		Research: config.ResearchConfig{MaxSources: 3, UseFeeds: true},
		Media:    config.MediaConfig{Provider: "static", DefaultThumbnail: "https://cdn.example/default.png"},
		Pipeline: config.PipelineConfig{
			MaxStageRetries:      3,
			LifetimeRetryCeiling: 5,
			MinWords:             300,
			MaxWords:             600,
		},
		Calendar: config.CalendarConfig{
			Name:         "blog",
			BaseDate:     "2026-01-05",
			PublishTime:  "09:00",
			Timezone:     "UTC",
			IntervalDays: 14,
			Blackouts:    []string{"2026-01-19"},
		},
		Discovery: config.DiscoveryConfig{MaxTopicsPerRun: 2, MinScore: 60},
	}
}

func TestBuildMemory(t *testing.T) {
	a, err := Build(context.Background(), testConfig(), logger.Nop())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer a.Close()

	if a.Orchestrator == nil || a.Scheduler == nil || a.Discovery == nil {
		t.Fatal("components not built")
	}
	if len(a.Sources.GetSources()) != 1 {
		t.Errorf("sources = %d, want the custom keyword source", len(a.Sources.GetSources()))
	}

	post, err := a.Orchestrator.SubmitTopic(context.Background(), "Go generics in practice")
	if err != nil {
		t.Fatalf("SubmitTopic() error = %v", err)
	}
	if post.Stage != models.StageResearching {
		t.Errorf("Stage = %s", post.Stage)
	}

	slots, err := a.Scheduler.Preview(0, 2)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if want := time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC); !slots[1].Equal(want) {
		t.Errorf("second slot = %v, want %v (blackout skipped)", slots[1], want)
	}
}

func TestBuildRequiresResearcher(t *testing.T) {
	cfg := testConfig()
	cfg.Research.UseFeeds = false

	if _, err := Build(context.Background(), cfg, logger.Nop()); err == nil {
		t.Error("Build() without any researcher should fail")
	}
}

func TestOpenStoreUnknownDriver(t *testing.T) {
	if _, err := OpenStore(context.Background(), config.DatabaseConfig{Driver: "oracle"}); err == nil {
		t.Error("OpenStore() should reject unknown drivers")
	}
}

func TestPipelineConfigKeepsDefaults(t *testing.T) {
	pc := PipelineConfig(config.PipelineConfig{MaxStageRetries: 2, MinWords: 100, MaxWords: 200})
	if pc.MaxStageRetries != 2 || pc.MinWords != 100 || pc.Concurrency != 4 || pc.ProviderTimeout != 2*time.Minute {
		t.Errorf("config = %+v", pc)
	}
}
