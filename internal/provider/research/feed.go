// Package research implements Researchers that gather citable sources for a
// topic from the configured feeds and from a web search page.
package research

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/blog-autopilot/internal/models"
	"github.com/blog-autopilot/internal/provider"
	"github.com/blog-autopilot/internal/textutil"
	"github.com/blog-autopilot/pkg/logger"
)

// DefaultMaxSources caps the sources returned when no limit is configured
const DefaultMaxSources = 5

// TopicFetcher fetches raw topics from every registered source
type TopicFetcher interface {
	FetchAll(ctx context.Context) ([]*models.RawTopic, []error)
}

// FeedResearcher picks feed items that share words with the topic
type FeedResearcher struct {
	fetcher    TopicFetcher
	maxSources int
	log        *logger.Logger
}

// NewFeedResearcher creates a FeedResearcher over the given sources
func NewFeedResearcher(fetcher TopicFetcher, maxSources int, log *logger.Logger) *FeedResearcher {
	if maxSources <= 0 {
		maxSources = DefaultMaxSources
	}
	return &FeedResearcher{
		fetcher:    fetcher,
		maxSources: maxSources,
		log:        log.WithComponent("feed-research"),
	}
}

type scoredItem struct {
	item  *models.RawTopic
	score int
}

// FindSources returns the feed items most relevant to topic, newest first on ties
func (r *FeedResearcher) FindSources(ctx context.Context, topic string) ([]provider.Source, error) {
	items, errs := r.fetcher.FetchAll(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(items) == 0 && len(errs) > 0 {
		return nil, provider.NewError(provider.KindUnavailable, "feeds", errors.Join(errs...))
	}
	for _, err := range errs {
		r.log.Warn().Err(err).Msg("Feed fetch failed during research")
	}

	want := make(map[string]bool)
	for _, t := range textutil.Tokens(topic, true) {
		want[t] = true
	}

	var scored []scoredItem
	for _, item := range items {
		if strings.TrimSpace(item.URL) == "" {
			continue
		}
		score := 0
		seen := make(map[string]bool)
		for _, t := range textutil.Tokens(item.Title+" "+item.Description, true) {
			if want[t] && !seen[t] {
				seen[t] = true
				score++
			}
		}
		if score > 0 {
			scored = append(scored, scoredItem{item: item, score: score})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].item.PublishedAt.After(scored[j].item.PublishedAt)
	})

	sources := make([]provider.Source, 0, r.maxSources)
	seenURL := make(map[string]bool)
	for _, s := range scored {
		if len(sources) == r.maxSources {
			break
		}
		if seenURL[s.item.URL] {
			continue
		}
		seenURL[s.item.URL] = true
		published := s.item.PublishedAt
		sources = append(sources, provider.Source{
			URL:         s.item.URL,
			Title:       s.item.Title,
			Summary:     textutil.Truncate(s.item.Description, 300, "..."),
			PublishedAt: &published,
		})
	}

	if len(sources) == 0 {
		return nil, provider.Errorf(provider.KindNoSourcesFound, "feeds", "no feed items match %q", topic)
	}

	r.log.Debug().Int("count", len(sources)).Str("topic", topic).Msg("Found feed sources")
	return sources, nil
}

var _ provider.Researcher = (*FeedResearcher)(nil)
