package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/blog-autopilot/internal/dedup"
	"github.com/blog-autopilot/internal/lock"
	"github.com/blog-autopilot/internal/models"
	"github.com/blog-autopilot/internal/provider"
	"github.com/blog-autopilot/internal/storage"
	"github.com/blog-autopilot/internal/storage/memory"
	"github.com/blog-autopilot/pkg/logger"
)

type fakeResearcher struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, call int) ([]provider.Source, error)
}

func (f *fakeResearcher) FindSources(ctx context.Context, topic string) ([]provider.Source, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, call)
	}
	return []provider.Source{
		{URL: "https://go.dev/blog/pipelines", Title: "Pipelines"},
		{URL: "https://go.dev/doc/effective_go", Title: "Effective Go"},
	}, nil
}

func (f *fakeResearcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeWriter struct {
	mu       sync.Mutex
	calls    int
	requests []provider.DraftRequest
	fn       func(call int) (*provider.Draft, error)
}

func (f *fakeWriter) Generate(ctx context.Context, req provider.DraftRequest) (*provider.Draft, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(call)
	}
	return goodDraft(), nil
}

func (f *fakeWriter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeIllustrator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeIllustrator) Create(ctx context.Context, topic, content string) (*provider.Thumbnail, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &provider.Thumbnail{Ref: "https://images.example.com/thumb.jpg"}, nil
}

func (f *fakeIllustrator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSEO struct {
	result *provider.SEOResult
}

func (f *fakeSEO) Optimize(ctx context.Context, title, content string) (*provider.SEOResult, error) {
	if f.result != nil {
		return f.result, nil
	}
	return &provider.SEOResult{
		Title:       title,
		Description: "A practical look at Go pipelines.",
		Keywords:    []string{"go", "pipelines"},
		Slug:        "go-pipelines",
	}, nil
}

type fakeAssigner struct {
	mu   sync.Mutex
	repo storage.Repository
	ids  []string
	at   time.Time
}

func (f *fakeAssigner) Assign(ctx context.Context, id string) (*models.Post, error) {
	f.mu.Lock()
	f.ids = append(f.ids, id)
	f.mu.Unlock()

	post, err := f.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next := post.Clone()
	at := f.at
	next.ScheduledAt = &at
	if err := f.repo.Save(ctx, next, post.Version); err != nil {
		return nil, err
	}
	return next, nil
}

// conflictOnce injects a version conflict on the first Save
type conflictOnce struct {
	storage.Repository
	mu    sync.Mutex
	fired bool
}

func (c *conflictOnce) Save(ctx context.Context, post *models.Post, expected int64) error {
	c.mu.Lock()
	fire := !c.fired
	c.fired = true
	c.mu.Unlock()
	if fire {
		return storage.ErrVersionConflict
	}
	return c.Repository.Save(ctx, post, expected)
}

type harness struct {
	orch        *Orchestrator
	store       *memory.Store
	researcher  *fakeResearcher
	writer      *fakeWriter
	illustrator *fakeIllustrator
	seo         *fakeSEO
	assigner    *fakeAssigner
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryBackoff = 0
	cfg.ProviderTimeout = time.Second
	return cfg
}

func newHarness(t *testing.T, cfg Config, wrap func(storage.Repository) storage.Repository) *harness {
	t.Helper()

	store := memory.New()
	var repo storage.Repository = store
	if wrap != nil {
		repo = wrap(store)
	}

	h := &harness{
		store:       store,
		researcher:  &fakeResearcher{},
		writer:      &fakeWriter{},
		illustrator: &fakeIllustrator{},
		seo:         &fakeSEO{},
		assigner:    &fakeAssigner{repo: store, at: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
	}

	orch, err := New(
		repo,
		lock.NewKeyed(),
		dedup.New(store, dedup.Options{}, logger.Nop()),
		Providers{Researcher: h.researcher, Writer: h.writer, Illustrator: h.illustrator, SEO: h.seo},
		cfg,
		logger.Nop(),
		WithSlotAssigner(h.assigner),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.orch = orch
	return h
}

// seed stores a post directly in the given stage
func (h *harness) seed(t *testing.T, stage models.Stage) *models.Post {
	t.Helper()
	post := &models.Post{
		ID:        "post-" + string(stage),
		Topic:     "Go pipelines in practice",
		Stage:     stage,
		Title:     "Go pipelines in practice",
		Content:   words(400),
		Retries:   models.StageCounters{},
		CreatedAt: time.Now(),
	}
	if stage != models.StageResearching {
		post.Citations = models.Citations{{SourceURL: "https://go.dev/blog/pipelines", Title: "Pipelines"}}
	}
	if err := h.store.Create(context.Background(), post); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return post
}

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("word ", n))
}

func goodDraft() *provider.Draft {
	return &provider.Draft{
		Title:   "Go Pipelines in Practice",
		Content: words(420),
		Sources: []provider.Source{
			{URL: "https://go.dev/blog/pipelines", Title: "Pipelines"},
			{URL: "https://research.swtch.com/gorace", Title: "Races"},
		},
	}
}
