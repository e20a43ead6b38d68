package discovery

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/blog-autopilot/internal/ai"
	"github.com/blog-autopilot/internal/models"
	"github.com/blog-autopilot/internal/pipeline"
	"github.com/blog-autopilot/internal/source"
	"github.com/blog-autopilot/pkg/logger"
)

type fakeSource struct {
	name, typ string
	topics    []*models.RawTopic
	err       error
}

func (f *fakeSource) Name() string { return f.name }
func (f *fakeSource) Type() string { return f.typ }
func (f *fakeSource) Fetch(ctx context.Context) ([]*models.RawTopic, error) {
	return f.topics, f.err
}
func (f *fakeSource) HealthCheck(ctx context.Context) error { return f.err }

// fakeRanker scores topics from a fixed table; unlisted topics get no ranking
type fakeRanker struct {
	scores   map[string]float64
	ideas    map[string][]*ai.ExpandedTopic
	rankErr  error
	batches  int
	expanded []string
}

func (f *fakeRanker) RankTopics(ctx context.Context, topics []*models.RawTopic) ([]*ai.TopicRanking, error) {
	f.batches++
	if f.rankErr != nil {
		return nil, f.rankErr
	}
	out := make([]*ai.TopicRanking, len(topics))
	for i, t := range topics {
		if s, ok := f.scores[t.Title]; ok {
			out[i] = &ai.TopicRanking{Score: s}
		}
	}
	return out, nil
}

func (f *fakeRanker) ExpandKeyword(ctx context.Context, keyword string) ([]*ai.ExpandedTopic, error) {
	f.expanded = append(f.expanded, keyword)
	return f.ideas[keyword], nil
}

type fakeSubmitter struct {
	submitted []string
	dupes     map[string]bool
}

func (f *fakeSubmitter) SubmitTopic(ctx context.Context, topic string) (*models.Post, error) {
	if f.dupes[topic] {
		return nil, pipeline.ErrDuplicateTopic
	}
	f.submitted = append(f.submitted, topic)
	return &models.Post{ID: "id-" + topic, Topic: topic}, nil
}

type fakeDedup map[string]bool

func (f fakeDedup) IsDuplicate(ctx context.Context, topic string) bool { return f[topic] }

func rss(titles ...string) *fakeSource {
	src := &fakeSource{name: "feed", typ: "rss"}
	for _, t := range titles {
		src.topics = append(src.topics, &models.RawTopic{
			Title:       t,
			URL:         "https://news.example/" + strings.ReplaceAll(t, " ", "-"),
			SourceType:  "rss",
			SourceName:  "feed",
			PublishedAt: time.Now(),
		})
	}
	return src
}

func newAgent(ranker *fakeRanker, sub *fakeSubmitter, dd DuplicateChecker, cfg Config, sources ...source.TopicSource) *Agent {
	m := source.NewManager()
	for _, s := range sources {
		m.Register(s)
	}
	return NewAgent(m, ranker, sub, dd, cfg, logger.Nop())
}

func TestRunSubmitsBestTopics(t *testing.T) {
	ranker := &fakeRanker{scores: map[string]float64{
		"Go 1.24 released": 90,
		"Rust in Linux":    75,
		"Cat pictures":     20,
		"Zig comptime":     80,
	}}
	sub := &fakeSubmitter{}
	agent := newAgent(ranker, sub, nil, Config{MaxTopicsPerRun: 2, MinScore: 60},
		rss("Go 1.24 released", "Rust in Linux", "Cat pictures", "Zig comptime"))

	result, err := agent.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.TopicsFound != 4 || result.TopicsRanked != 3 || result.TopicsSubmitted != 2 {
		t.Errorf("result = %+v", result)
	}
	if len(sub.submitted) != 2 || sub.submitted[0] != "Go 1.24 released" || sub.submitted[1] != "Zig comptime" {
		t.Errorf("submitted = %v", sub.submitted)
	}
}

func TestRunSkipsDuplicates(t *testing.T) {
	ranker := &fakeRanker{scores: map[string]float64{"A": 90, "B": 80, "C": 70}}
	sub := &fakeSubmitter{dupes: map[string]bool{"A": true}}
	dd := fakeDedup{"B": true}
	agent := newAgent(ranker, sub, dd, Config{MaxTopicsPerRun: 5}, rss("A", "B", "C", "C"))

	result, err := agent.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(sub.submitted) != 1 || sub.submitted[0] != "C" {
		t.Errorf("submitted = %v", sub.submitted)
	}
	if result.TopicsSkipped != 1 || len(result.Errors) != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestRunExpandsKeywords(t *testing.T) {
	custom := &fakeSource{name: "custom-keywords", typ: "custom", topics: []*models.RawTopic{
		{Title: "generics", SourceType: "custom", SourceName: "keywords"},
	}}
	ranker := &fakeRanker{
		ideas: map[string][]*ai.ExpandedTopic{
			"generics": {{Title: "Generic constraints in practice"}, {Title: "When not to use generics"}},
		},
		scores: map[string]float64{"Generic constraints in practice": 70, "When not to use generics": 65},
	}
	sub := &fakeSubmitter{}
	agent := newAgent(ranker, sub, nil, Config{MaxTopicsPerRun: 5, MinScore: 60}, custom)

	if _, err := agent.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(ranker.expanded) != 1 || len(sub.submitted) != 2 {
		t.Errorf("expanded = %v, submitted = %v", ranker.expanded, sub.submitted)
	}
}

func TestRunCollectsErrors(t *testing.T) {
	broken := &fakeSource{name: "down", typ: "rss", err: errors.New("timeout")}
	ranker := &fakeRanker{rankErr: errors.New("model overloaded")}
	sub := &fakeSubmitter{}
	agent := newAgent(ranker, sub, nil, Config{MaxTopicsPerRun: 5}, broken, rss("A"))

	result, err := agent.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Errors) != 2 || len(sub.submitted) != 0 {
		t.Errorf("errors = %v, submitted = %v", result.Errors, sub.submitted)
	}
}

func TestRankingBatches(t *testing.T) {
	titles := make([]string, 23)
	for i := range titles {
		titles[i] = "topic " + string(rune('a'+i))
	}
	ranker := &fakeRanker{}
	agent := newAgent(ranker, &fakeSubmitter{}, nil, Config{MaxTopicsPerRun: 1}, rss(titles...))

	if _, err := agent.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if ranker.batches != 3 {
		t.Errorf("batches = %d, want 3", ranker.batches)
	}
}

func TestRunForSource(t *testing.T) {
	ranker := &fakeRanker{scores: map[string]float64{"A": 90}}
	sub := &fakeSubmitter{}
	agent := newAgent(ranker, sub, nil, Config{MaxTopicsPerRun: 1}, rss("A"))

	if _, err := agent.RunForSource(context.Background(), "missing"); err == nil {
		t.Error("RunForSource(missing) should fail")
	}
	result, err := agent.RunForSource(context.Background(), "feed")
	if err != nil || result.TopicsSubmitted != 1 {
		t.Errorf("RunForSource() = %+v, %v", result, err)
	}
}
