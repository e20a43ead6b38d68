package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/blog-autopilot/internal/citation"
	"github.com/blog-autopilot/internal/lock"
	"github.com/blog-autopilot/internal/models"
	"github.com/blog-autopilot/internal/provider"
	"github.com/blog-autopilot/internal/storage"
	"github.com/blog-autopilot/internal/textutil"
)

// maxRunSteps bounds Run so a misbehaving store cannot loop it forever
const maxRunSteps = 16

// Advance moves a post forward by one provider stage. Posts outside the
// provider stages are returned unchanged.
func (o *Orchestrator) Advance(ctx context.Context, id string) (*models.Post, error) {
	return o.advance(ctx, id, "")
}

// AdvanceFrom is Advance guarded by the stage the caller observed. If the
// post has moved on by the time the lock is held, nothing happens.
func (o *Orchestrator) AdvanceFrom(ctx context.Context, id string, expected models.Stage) (*models.Post, error) {
	return o.advance(ctx, id, expected)
}

// Run advances a post until it leaves the provider stages
func (o *Orchestrator) Run(ctx context.Context, id string) (*models.Post, error) {
	var post *models.Post
	for step := 0; step < maxRunSteps; step++ {
		var err error
		post, err = o.Advance(ctx, id)
		if err != nil {
			return post, err
		}
		if !post.Stage.IsProviderStage() {
			return post, nil
		}
	}
	return post, fmt.Errorf("post %s still in %s after %d steps", id, post.Stage, maxRunSteps)
}

// BatchResult summarizes an AdvanceDue run
type BatchResult struct {
	Processed int
	Scheduled int
	Failed    int
	Errors    []error
	Duration  time.Duration
}

// AdvanceDue runs every post sitting in a provider stage through the
// pipeline, Concurrency posts at a time.
func (o *Orchestrator) AdvanceDue(ctx context.Context) (*BatchResult, error) {
	start := o.now()
	posts, err := o.repo.Query(ctx, storage.PostFilter{
		Stages:  models.ProviderStages,
		Limit:   o.cfg.BatchSize,
		OrderBy: "created_at",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query pending posts: %w", err)
	}

	result := &BatchResult{}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(o.cfg.Concurrency)
	for _, p := range posts {
		id, stage := p.ID, p.Stage
		g.Go(func() error {
			final, err := o.AdvanceFrom(ctx, id, stage)
			if err == nil && final.Stage.IsProviderStage() && final.Stage == stage.Next() {
				final, err = o.Run(ctx, id)
			}

			mu.Lock()
			defer mu.Unlock()
			result.Processed++
			if err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("post %s: %w", id, err))
				return nil
			}
			switch final.Stage {
			case models.StageScheduled:
				result.Scheduled++
			case models.StageFailed:
				result.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Duration = o.now().Sub(start)
	o.log.Info().
		Int("processed", result.Processed).
		Int("scheduled", result.Scheduled).
		Int("failed", result.Failed).
		Int("errors", len(result.Errors)).
		Dur("duration", result.Duration).
		Msg("Advance run completed")

	return result, nil
}

func (o *Orchestrator) advance(ctx context.Context, id string, expected models.Stage) (*models.Post, error) {
	var (
		post *models.Post
		err  error
	)
	for attempt := 0; attempt <= o.cfg.MaxConflictRetries; attempt++ {
		post, err = o.advanceOnce(ctx, id, expected)
		if !errors.Is(err, storage.ErrVersionConflict) {
			break
		}
		o.log.Warn().
			Str("post_id", id).
			Int("attempt", attempt+1).
			Msg("Version conflict, restarting advance")
	}
	if err != nil {
		return post, err
	}

	if post.Stage == models.StageScheduled && post.ScheduledAt == nil && o.assigner != nil {
		assigned, aerr := o.assigner.Assign(ctx, id)
		if aerr != nil {
			o.log.Warn().Err(aerr).Str("post_id", id).Msg("Slot assignment failed, post stays unslotted")
			return post, nil
		}
		return assigned, nil
	}
	return post, nil
}

// advanceOnce runs the current stage under the post lock, retrying inline
// until the stage succeeds or its budget is spent.
func (o *Orchestrator) advanceOnce(ctx context.Context, id string, expected models.Stage) (*models.Post, error) {
	unlock, err := o.locker.Lock(ctx, lock.PostKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to lock post %s: %w", id, err)
	}
	defer unlock()

	post, err := o.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if expected != "" && post.Stage != expected {
		return post, nil
	}
	if !post.Stage.IsProviderStage() {
		return post, nil
	}

	callCtx, release := o.track(ctx, id)
	defer release()

	for {
		stage := post.Stage
		log := o.log.WithPostID(id).WithStage(string(stage))
		log.Debug().Int("attempt", post.RetryCount(stage)+1).Msg("Running stage")

		next, stageErr := o.execute(callCtx, post)
		if stageErr == nil {
			next.Stage = stage.Next()
			if err := o.repo.Save(ctx, next, post.Version); err != nil {
				return nil, err
			}
			log.Info().Str("next_stage", string(next.Stage)).Msg("Stage completed")
			return next, nil
		}

		if interrupted, err := o.interrupted(ctx, callCtx, id); interrupted {
			return post, err
		}

		failed := post.Clone()
		count := failed.IncrementRetry(stage)
		class := Classify(stageErr)
		switch {
		case class == ClassPermanent:
			failed.MarkFailed(models.FailurePermanent,
				fmt.Sprintf("%s: permanent failure: %v", stage, stageErr))
		case count > o.cfg.MaxStageRetries && class == ClassGate:
			failed.MarkFailed(models.FailureGateExhausted,
				fmt.Sprintf("%s: validation failed after %d attempts: %v", stage, count, stageErr))
		case count > o.cfg.MaxStageRetries:
			failed.MarkFailed(models.FailureTransientExhausted,
				fmt.Sprintf("%s: transient failure exhausted after %d attempts: %v", stage, count, stageErr))
		}

		if err := o.repo.Save(ctx, failed, post.Version); err != nil {
			return nil, err
		}
		if failed.Stage == models.StageFailed {
			log.Error().
				Err(stageErr).
				Str("class", string(class)).
				Str("failure_kind", string(failed.FailureKind)).
				Msg("Post failed")
			return failed, nil
		}

		log.Warn().
			Err(stageErr).
			Str("class", string(class)).
			Int("retries", count).
			Msg("Stage attempt failed, retrying")

		if err := sleepCtx(callCtx, o.backoff(count)); err != nil {
			if interrupted, ierr := o.interrupted(ctx, callCtx, id); interrupted {
				return failed, ierr
			}
		}
		post = failed
	}
}

// interrupted reports whether the stage call ended because the caller went
// away or because MarkFailed cancelled it. Neither counts against the stage.
func (o *Orchestrator) interrupted(ctx, callCtx context.Context, id string) (bool, error) {
	if ctx.Err() != nil {
		return true, ctx.Err()
	}
	if callCtx.Err() == nil {
		return false, nil
	}
	o.log.Warn().Str("post_id", id).Msg("Stage call cancelled")
	return true, ErrCancelled
}

func (o *Orchestrator) backoff(attempt int) time.Duration {
	return o.cfg.RetryBackoff * time.Duration(attempt)
}

// execute runs the provider call for the post's stage and returns the
// updated copy. The stage itself is advanced by the caller.
func (o *Orchestrator) execute(ctx context.Context, post *models.Post) (*models.Post, error) {
	if o.cfg.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.ProviderTimeout)
		defer cancel()
	}

	switch post.Stage {
	case models.StageResearching:
		return o.research(ctx, post)
	case models.StageDrafting:
		return o.draft(ctx, post)
	case models.StageIllustrating:
		return o.illustrate(ctx, post)
	case models.StageOptimizing:
		return o.optimize(ctx, post)
	}
	return nil, fmt.Errorf("stage %q has no provider", post.Stage)
}

func (o *Orchestrator) research(ctx context.Context, post *models.Post) (*models.Post, error) {
	sources, err := o.providers.Researcher.FindSources(ctx, post.Topic)
	if err != nil {
		return nil, err
	}

	next := post.Clone()
	citation.AddAll(next, o.toCitations(sources))
	if len(next.Citations) == 0 {
		return nil, provider.Errorf(provider.KindNoSourcesFound, "researcher", "no usable sources for %q", post.Topic)
	}
	return next, nil
}

func (o *Orchestrator) draft(ctx context.Context, post *models.Post) (*models.Post, error) {
	req := provider.DraftRequest{
		Topic:        post.Topic,
		Instructions: post.Instructions,
		Sources:      fromCitations(post.Citations),
		MinWords:     o.cfg.MinWords,
		MaxWords:     o.cfg.MaxWords,
		Attempt:      post.RetryCount(models.StageDrafting) + 1,
	}
	d, err := o.providers.Writer.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if d == nil || strings.TrimSpace(d.Content) == "" {
		return nil, provider.Errorf(provider.KindMalformedOutput, "writer", "empty draft")
	}

	words := textutil.CountWords(d.Content)
	if words < o.cfg.MinWords || words > o.cfg.MaxWords {
		return nil, &GateError{
			Gate:   "word_count",
			Reason: fmt.Sprintf("draft has %d words, want %d-%d", words, o.cfg.MinWords, o.cfg.MaxWords),
		}
	}

	next := post.Clone()
	next.Title = strings.TrimSpace(d.Title)
	if next.Title == "" {
		next.Title = post.Topic
	}
	next.Content = d.Content
	next.WordCount = words
	next.ReadingMinutes = textutil.ReadingTime(d.Content)
	citation.AddAll(next, o.toCitations(d.Sources))
	return next, nil
}

func (o *Orchestrator) illustrate(ctx context.Context, post *models.Post) (*models.Post, error) {
	thumb, err := o.providers.Illustrator.Create(ctx, post.Topic, post.Content)
	if err != nil {
		return nil, err
	}
	if thumb == nil || strings.TrimSpace(thumb.Ref) == "" {
		return nil, provider.Errorf(provider.KindMalformedOutput, "illustrator", "no thumbnail reference")
	}

	next := post.Clone()
	next.ThumbnailRef = thumb.Ref
	return next, nil
}

func (o *Orchestrator) optimize(ctx context.Context, post *models.Post) (*models.Post, error) {
	res, err := o.providers.SEO.Optimize(ctx, post.Title, post.Content)
	if err != nil {
		return nil, err
	}
	if res == nil || strings.TrimSpace(res.Title) == "" || strings.TrimSpace(res.Description) == "" {
		return nil, provider.Errorf(provider.KindMalformedOutput, "seo", "metadata missing title or description")
	}

	next := post.Clone()
	next.SEOMeta = models.SEOMeta{
		Title:       res.Title,
		Description: res.Description,
		Keywords:    res.Keywords,
		Slug:        res.Slug,
	}
	return next, nil
}

func (o *Orchestrator) toCitations(sources []provider.Source) []models.Citation {
	now := o.now()
	out := make([]models.Citation, 0, len(sources))
	for _, s := range sources {
		out = append(out, models.Citation{SourceURL: s.URL, Title: s.Title, RetrievedAt: now})
	}
	return out
}

func fromCitations(cs models.Citations) []provider.Source {
	out := make([]provider.Source, 0, len(cs))
	for _, c := range cs {
		out = append(out, provider.Source{URL: c.SourceURL, Title: c.Title})
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
