// Package discovery finds trending topics in the configured sources, ranks
// them with the language model and feeds the best ones into the pipeline.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/blog-autopilot/internal/ai"
	"github.com/blog-autopilot/internal/models"
	"github.com/blog-autopilot/internal/pipeline"
	"github.com/blog-autopilot/internal/source"
	"github.com/blog-autopilot/internal/textutil"
	"github.com/blog-autopilot/pkg/logger"
)

const rankBatchSize = 10

// Ranker scores topic candidates and expands bare keywords into topics
type Ranker interface {
	RankTopics(ctx context.Context, topics []*models.RawTopic) ([]*ai.TopicRanking, error)
	ExpandKeyword(ctx context.Context, keyword string) ([]*ai.ExpandedTopic, error)
}

// Submitter accepts topics into the pipeline
type Submitter interface {
	SubmitTopic(ctx context.Context, topic string) (*models.Post, error)
}

// DuplicateChecker reports topics that were already submitted
type DuplicateChecker interface {
	IsDuplicate(ctx context.Context, topic string) bool
}

// Config limits a discovery run
type Config struct {
	MaxTopicsPerRun int
	MinScore        float64
}

// Agent runs topic discovery
type Agent struct {
	sourceManager *source.Manager
	ranker        Ranker
	submitter     Submitter
	dedup         DuplicateChecker
	cfg           Config
	log           *logger.Logger
}

// NewAgent creates a new discovery agent
func NewAgent(
	sourceManager *source.Manager,
	ranker Ranker,
	submitter Submitter,
	dedup DuplicateChecker,
	cfg Config,
	log *logger.Logger,
) *Agent {
	return &Agent{
		sourceManager: sourceManager,
		ranker:        ranker,
		submitter:     submitter,
		dedup:         dedup,
		cfg:           cfg,
		log:           log.WithComponent("discovery"),
	}
}

// DiscoveryResult contains the results of a discovery run
type DiscoveryResult struct {
	TopicsFound     int
	TopicsRanked    int
	TopicsSubmitted int
	TopicsSkipped   int
	Submitted       []*models.Post
	Errors          []error
	Duration        time.Duration
}

type candidate struct {
	raw     *models.RawTopic
	ranking *ai.TopicRanking
}

// Run fetches from every source and submits the best topics
func (a *Agent) Run(ctx context.Context) (*DiscoveryResult, error) {
	a.log.Info().Msg("Starting topic discovery")

	rawTopics, fetchErrors := a.sourceManager.FetchAll(ctx)
	a.log.Info().
		Int("topics_found", len(rawTopics)).
		Int("fetch_errors", len(fetchErrors)).
		Msg("Fetched topics from sources")

	result := a.process(ctx, rawTopics)
	result.Errors = append(fetchErrors, result.Errors...)
	return result, ctx.Err()
}

// RunForSource runs discovery for a specific source
func (a *Agent) RunForSource(ctx context.Context, sourceName string) (*DiscoveryResult, error) {
	src := a.sourceManager.GetSourceByName(sourceName)
	if src == nil {
		return nil, fmt.Errorf("source not found: %s", sourceName)
	}

	a.log.Info().Str("source", sourceName).Msg("Running discovery for source")

	rawTopics, err := src.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch from %s: %w", sourceName, err)
	}
	return a.process(ctx, rawTopics), ctx.Err()
}

func (a *Agent) process(ctx context.Context, rawTopics []*models.RawTopic) *DiscoveryResult {
	start := time.Now()
	result := &DiscoveryResult{TopicsFound: len(rawTopics)}

	if len(rawTopics) == 0 {
		a.log.Warn().Msg("No topics found from any source")
		result.Duration = time.Since(start)
		return result
	}

	expanded, errs := a.expandKeywords(ctx, rawTopics)
	result.Errors = append(result.Errors, errs...)

	unique := a.deduplicateTopics(ctx, expanded)
	a.log.Info().
		Int("unique_topics", len(unique)).
		Int("duplicates_removed", len(expanded)-len(unique)).
		Msg("Deduplicated topics")

	ranked, errs := a.rankTopics(ctx, unique)
	result.Errors = append(result.Errors, errs...)
	result.TopicsRanked = len(ranked)

	for _, c := range ranked {
		if result.TopicsSubmitted == a.cfg.MaxTopicsPerRun || ctx.Err() != nil {
			break
		}
		post, err := a.submitter.SubmitTopic(ctx, c.raw.Title)
		switch {
		case errors.Is(err, pipeline.ErrDuplicateTopic):
			result.TopicsSkipped++
		case err != nil:
			a.log.Warn().Err(err).Str("title", c.raw.Title).Msg("Failed to submit topic")
			result.Errors = append(result.Errors, fmt.Errorf("submit %q: %w", c.raw.Title, err))
			result.TopicsSkipped++
		default:
			a.log.Info().
				Str("post_id", post.ID).
				Str("title", c.raw.Title).
				Float64("score", c.ranking.Score).
				Msg("Submitted discovered topic")
			result.Submitted = append(result.Submitted, post)
			result.TopicsSubmitted++
		}
	}

	result.Duration = time.Since(start)
	a.log.Info().
		Int("topics_submitted", result.TopicsSubmitted).
		Int("topics_skipped", result.TopicsSkipped).
		Dur("duration", result.Duration).
		Msg("Discovery completed")
	return result
}

// expandKeywords replaces custom keyword topics with concrete topic ideas
func (a *Agent) expandKeywords(ctx context.Context, topics []*models.RawTopic) ([]*models.RawTopic, []error) {
	var errs []error
	out := make([]*models.RawTopic, 0, len(topics))

	for _, t := range topics {
		if t.SourceType != "custom" {
			out = append(out, t)
			continue
		}
		ideas, err := a.ranker.ExpandKeyword(ctx, t.Title)
		if err != nil {
			a.log.Warn().Err(err).Str("keyword", t.Title).Msg("Keyword expansion failed")
			errs = append(errs, fmt.Errorf("expand %q: %w", t.Title, err))
			continue
		}
		for _, idea := range ideas {
			out = append(out, &models.RawTopic{
				Title:       idea.Title,
				Description: idea.Description,
				SourceType:  t.SourceType,
				SourceName:  t.SourceName,
				Keywords:    t.Keywords,
				PublishedAt: t.PublishedAt,
				RawData: map[string]interface{}{
					"keyword":    t.Title,
					"angle":      idea.Angle,
					"timeliness": idea.Timeliness,
				},
			})
		}
	}
	return out, errs
}

// deduplicateTopics drops repeats within the batch and topics already submitted
func (a *Agent) deduplicateTopics(ctx context.Context, topics []*models.RawTopic) []*models.RawTopic {
	seen := make(map[string]bool)
	unique := make([]*models.RawTopic, 0, len(topics))

	for _, topic := range topics {
		key := textutil.Normalize(topic.Title)
		if topic.URL != "" {
			key = source.GenerateExternalID(topic.SourceType, topic.URL)
		}
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		if a.dedup != nil && a.dedup.IsDuplicate(ctx, topic.Title) {
			continue
		}
		unique = append(unique, topic)
	}

	return unique
}

// rankTopics scores topics in batches and returns those at or above the
// minimum score, best first
func (a *Agent) rankTopics(ctx context.Context, rawTopics []*models.RawTopic) ([]candidate, []error) {
	var errs []error
	var ranked []candidate

	for i := 0; i < len(rawTopics); i += rankBatchSize {
		end := min(i+rankBatchSize, len(rawTopics))
		batch := rawTopics[i:end]

		a.log.Debug().
			Int("batch_start", i).
			Int("batch_size", len(batch)).
			Msg("Ranking topic batch")

		rankings, err := a.ranker.RankTopics(ctx, batch)
		if err != nil {
			a.log.Error().Err(err).Msg("Failed to rank topic batch")
			errs = append(errs, fmt.Errorf("batch ranking failed: %w", err))
			continue
		}

		for j, raw := range batch {
			if j >= len(rankings) || rankings[j] == nil || rankings[j].Score < a.cfg.MinScore {
				continue
			}
			ranked = append(ranked, candidate{raw: raw, ranking: rankings[j]})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].ranking.Score > ranked[j].ranking.Score
	})
	return ranked, errs
}
