package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blog-autopilot/internal/models"
	"github.com/blog-autopilot/internal/storage"
)

func TestSaveCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := New()

	post := &models.Post{ID: "p1", Topic: "go", Stage: models.StageResearching}
	if err := s.Create(ctx, post); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if post.Version != 1 {
		t.Fatalf("version after create = %d, want 1", post.Version)
	}

	a, _ := s.Get(ctx, "p1")
	b, _ := s.Get(ctx, "p1")

	a.Stage = models.StageDrafting
	if err := s.Save(ctx, a, a.Version); err != nil {
		t.Fatalf("first Save() error: %v", err)
	}
	if a.Version != 2 {
		t.Errorf("version after save = %d, want 2", a.Version)
	}

	b.Stage = models.StageFailed
	if err := s.Save(ctx, b, b.Version); !errors.Is(err, storage.ErrVersionConflict) {
		t.Fatalf("stale Save() error = %v, want ErrVersionConflict", err)
	}

	got, _ := s.Get(ctx, "p1")
	if got.Stage != models.StageDrafting {
		t.Errorf("stage = %s, want drafting", got.Stage)
	}
}

func TestConcurrentSavesOnlyOneWins(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Create(ctx, &models.Post{ID: "p1", Stage: models.StageScheduled})

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, _ := s.Get(ctx, "p1")
			if p.Version != 1 {
				return
			}
			p.Stage = models.StagePublished
			if err := s.Save(ctx, p, 1); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("%d saves succeeded with the same expected version, want 1", wins)
	}
}

func TestGetMissing(t *testing.T) {
	if _, err := New().Get(context.Background(), "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestQueryFilters(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mk := func(id string, stage models.Stage, at *time.Time) {
		if err := s.Create(ctx, &models.Post{ID: id, Stage: stage, ScheduledAt: at, CreatedAt: base}); err != nil {
			t.Fatalf("Create(%s) error: %v", id, err)
		}
	}
	early, late := base, base.AddDate(0, 0, 14)
	mk("a", models.StageScheduled, &early)
	mk("b", models.StageScheduled, &late)
	mk("c", models.StageDrafting, nil)
	mk("d", models.StageScheduled, nil)

	due, _ := s.Query(ctx, storage.PostFilter{
		Stages:          []models.Stage{models.StageScheduled},
		ScheduledBefore: &early,
	})
	if len(due) != 1 || due[0].ID != "a" {
		t.Errorf("due posts = %v, want [a]", ids(due))
	}

	unassigned, _ := s.Query(ctx, storage.PostFilter{
		Stages:      []models.Stage{models.StageScheduled},
		HasSchedule: storage.Bool(false),
	})
	if len(unassigned) != 1 || unassigned[0].ID != "d" {
		t.Errorf("unassigned posts = %v, want [d]", ids(unassigned))
	}

	from, until := late, late.AddDate(0, 0, 1)
	sameDay, _ := s.Query(ctx, storage.PostFilter{ScheduledFrom: &from, ScheduledUntil: &until, ExcludeID: "x"})
	if len(sameDay) != 1 || sameDay[0].ID != "b" {
		t.Errorf("same day posts = %v, want [b]", ids(sameDay))
	}

	page, _ := s.Query(ctx, storage.PostFilter{Limit: 2, Offset: 1})
	if len(page) != 2 {
		t.Errorf("page size = %d, want 2", len(page))
	}
}

func TestCountersAndFingerprints(t *testing.T) {
	ctx := context.Background()
	s := New()

	for want := int64(0); want < 3; want++ {
		got, _ := s.NextIndex(ctx, "main")
		if got != want {
			t.Fatalf("NextIndex() = %d, want %d", got, want)
		}
	}
	if got, _ := s.NextIndex(ctx, "other"); got != 0 {
		t.Errorf("independent calendar index = %d, want 0", got)
	}

	rec := &models.TopicRecord{Fingerprint: "abc", Topic: "go"}
	_ = s.AddFingerprint(ctx, rec)
	_ = s.AddFingerprint(ctx, rec)

	list, _ := s.ListFingerprints(ctx)
	if len(list) != 1 {
		t.Errorf("fingerprints = %d, want 1", len(list))
	}
	if ok, _ := s.HasFingerprint(ctx, "abc"); !ok {
		t.Error("HasFingerprint(abc) = false")
	}
}

func ids(posts []*models.Post) []string {
	out := make([]string, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.ID)
	}
	return out
}
