package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/blog-autopilot/internal/models"
	"github.com/blog-autopilot/internal/storage"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := New(filepath.Join(t.TempDir(), "blog.db"))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := repo.Migrate(); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestCreateGetSaveRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	post := &models.Post{
		ID:               "p1",
		Topic:            "Intro to Go",
		Instructions:     "Assume no prior programming",
		TopicFingerprint: "fp",
		Stage:            models.StageResearching,
	}
	if err := repo.Create(ctx, post); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got, err := repo.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Version != 1 {
		t.Errorf("version = %d, want 1", got.Version)
	}
	if got.Instructions != "Assume no prior programming" {
		t.Errorf("instructions = %q", got.Instructions)
	}

	got.Stage = models.StageDrafting
	got.Citations = models.Citations{{SourceURL: "https://go.dev", Title: "Go"}}
	got.SEOMeta = models.SEOMeta{Title: "Intro", Description: "desc", Keywords: []string{"go"}}
	got.IncrementRetry(models.StageResearching)
	if err := repo.Save(ctx, got, 1); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if got.Version != 2 {
		t.Errorf("version after save = %d, want 2", got.Version)
	}

	reloaded, _ := repo.Get(ctx, "p1")
	if reloaded.Stage != models.StageDrafting {
		t.Errorf("stage = %s, want drafting", reloaded.Stage)
	}
	if len(reloaded.Citations) != 1 || reloaded.Citations[0].SourceURL != "https://go.dev" {
		t.Errorf("citations = %+v", reloaded.Citations)
	}
	if reloaded.SEOMeta.Title != "Intro" {
		t.Errorf("seo title = %q", reloaded.SEOMeta.Title)
	}
	if reloaded.RetryCount(models.StageResearching) != 1 {
		t.Errorf("research retries = %d, want 1", reloaded.RetryCount(models.StageResearching))
	}
}

func TestSaveVersionConflict(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	_ = repo.Create(ctx, &models.Post{ID: "p1", Topic: "t", TopicFingerprint: "fp", Stage: models.StageScheduled})

	first, _ := repo.Get(ctx, "p1")
	stale, _ := repo.Get(ctx, "p1")

	first.Stage = models.StagePublished
	if err := repo.Save(ctx, first, first.Version); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	stale.Stage = models.StageFailed
	if err := repo.Save(ctx, stale, stale.Version); !errors.Is(err, storage.ErrVersionConflict) {
		t.Errorf("stale Save() error = %v, want ErrVersionConflict", err)
	}

	missing := &models.Post{ID: "nope"}
	if err := repo.Save(ctx, missing, 1); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Save(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := repo.Get(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestQueryScheduledWindow(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	base := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	later := base.AddDate(0, 0, 14)
	for _, p := range []*models.Post{
		{ID: "a", Topic: "a", TopicFingerprint: "a", Stage: models.StageScheduled, ScheduledAt: &base},
		{ID: "b", Topic: "b", TopicFingerprint: "b", Stage: models.StageScheduled, ScheduledAt: &later},
		{ID: "c", Topic: "c", TopicFingerprint: "c", Stage: models.StageScheduled},
		{ID: "d", Topic: "d", TopicFingerprint: "d", Stage: models.StageDrafting},
	} {
		if err := repo.Create(ctx, p); err != nil {
			t.Fatalf("Create(%s) error: %v", p.ID, err)
		}
	}

	now := base.Add(time.Hour)
	due, err := repo.Query(ctx, storage.PostFilter{
		Stages:          []models.Stage{models.StageScheduled},
		ScheduledBefore: &now,
	})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(due) != 1 || due[0].ID != "a" {
		t.Errorf("due = %d posts, want only a", len(due))
	}

	unassigned, _ := repo.Query(ctx, storage.PostFilter{
		Stages:      []models.Stage{models.StageScheduled},
		HasSchedule: storage.Bool(false),
	})
	if len(unassigned) != 1 || unassigned[0].ID != "c" {
		t.Errorf("unassigned = %d posts, want only c", len(unassigned))
	}
}

func TestNextIndexIsMonotonic(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	for want := int64(0); want < 3; want++ {
		got, err := repo.NextIndex(ctx, "main")
		if err != nil {
			t.Fatalf("NextIndex() error: %v", err)
		}
		if got != want {
			t.Errorf("NextIndex() = %d, want %d", got, want)
		}
	}
}

func TestFingerprintRegistryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	rec := &models.TopicRecord{Fingerprint: "abc", Topic: "Intro to Go", Tokens: models.StringSlice{"intro", "go"}}
	if err := repo.AddFingerprint(ctx, rec); err != nil {
		t.Fatalf("AddFingerprint() error: %v", err)
	}
	if err := repo.AddFingerprint(ctx, &models.TopicRecord{Fingerprint: "abc", Topic: "Intro to Go"}); err != nil {
		t.Fatalf("second AddFingerprint() error: %v", err)
	}

	ok, err := repo.HasFingerprint(ctx, "abc")
	if err != nil || !ok {
		t.Errorf("HasFingerprint() = %v, %v", ok, err)
	}

	list, _ := repo.ListFingerprints(ctx)
	if len(list) != 1 || len(list[0].Tokens) != 2 {
		t.Errorf("ListFingerprints() = %+v", list)
	}
}
