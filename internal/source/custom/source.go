// Package custom turns configured blog keywords into topic seeds that the
// discovery agent expands into concrete post ideas.
package custom

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/blog-autopilot/internal/config"
	"github.com/blog-autopilot/internal/models"
	"github.com/blog-autopilot/internal/source"
	"github.com/blog-autopilot/internal/textutil"
	"github.com/blog-autopilot/pkg/logger"
)

const (
	sourceName = "custom-keywords"
	sourceType = "custom"
)

// ErrNoKeywords is reported by HealthCheck when nothing is configured
var ErrNoKeywords = errors.New("no custom keywords configured")

// Source serves configured keywords as topic seeds
type Source struct {
	keywords []string
	now      func() time.Time
	log      *logger.Logger
}

// New creates a custom source. Blank keywords and keywords that normalize to
// the same text are dropped; the first spelling wins.
func New(cfg config.CustomConfig, log *logger.Logger) *Source {
	seen := make(map[string]bool, len(cfg.Keywords))
	var keywords []string
	for _, kw := range cfg.Keywords {
		kw = strings.TrimSpace(kw)
		key := textutil.Normalize(kw)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		keywords = append(keywords, kw)
	}

	return &Source{
		keywords: keywords,
		now:      time.Now,
		log:      log.WithSource(sourceType, sourceName),
	}
}

func (s *Source) Name() string { return sourceName }

func (s *Source) Type() string { return sourceType }

// Keywords returns the cleaned keyword list
func (s *Source) Keywords() []string {
	return append([]string(nil), s.keywords...)
}

// Fetch returns one seed topic per keyword. Seeds carry no URL.
func (s *Source) Fetch(ctx context.Context) ([]*models.RawTopic, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.now()
	topics := make([]*models.RawTopic, 0, len(s.keywords))
	for _, kw := range s.keywords {
		topics = append(topics, &models.RawTopic{
			Title:       kw,
			Description: "Blog keyword to expand into post topics",
			SourceType:  sourceType,
			SourceName:  "keywords",
			Keywords:    textutil.Tokens(kw, true),
			PublishedAt: now,
			RawData: map[string]interface{}{
				"keyword": kw,
			},
		})
	}

	s.log.Debug().Int("count", len(topics)).Msg("Returned keyword seeds")
	return topics, nil
}

// HealthCheck fails when the keyword list is empty
func (s *Source) HealthCheck(ctx context.Context) error {
	if len(s.keywords) == 0 {
		return ErrNoKeywords
	}
	return nil
}

var _ source.TopicSource = (*Source)(nil)
