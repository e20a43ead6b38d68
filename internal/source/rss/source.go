package rss

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/blog-autopilot/internal/config"
	"github.com/blog-autopilot/internal/models"
	"github.com/blog-autopilot/internal/source"
	"github.com/blog-autopilot/pkg/logger"
	"github.com/blog-autopilot/pkg/ratelimit"
)

// DefaultMaxAge drops feed items older than a week
const DefaultMaxAge = 7 * 24 * time.Hour

// Source implements TopicSource for RSS feeds
type Source struct {
	name    string
	url     string
	maxAge  time.Duration
	parser  *gofeed.Parser
	limiter *ratelimit.MultiLimiter
	log     *logger.Logger
}

// New creates a new RSS source for a single feed. limiter may be nil.
func New(feed config.RSSFeed, limiter *ratelimit.MultiLimiter, log *logger.Logger) *Source {
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: 30 * time.Second}

	return &Source{
		name:    feed.Name,
		url:     feed.URL,
		maxAge:  DefaultMaxAge,
		parser:  parser,
		limiter: limiter,
		log:     log.WithSource("rss", feed.Name),
	}
}

// NewMultiple creates multiple RSS sources from config
func NewMultiple(cfg config.RSSConfig, limiter *ratelimit.MultiLimiter, log *logger.Logger) []*Source {
	sources := make([]*Source, 0, len(cfg.Feeds))
	for _, feed := range cfg.Feeds {
		sources = append(sources, New(feed, limiter, log))
	}
	return sources
}

// SetMaxAge changes the item age cutoff; zero keeps every item
func (s *Source) SetMaxAge(d time.Duration) {
	s.maxAge = d
}

// Name returns the source name
func (s *Source) Name() string {
	return s.name
}

// Type returns "rss"
func (s *Source) Type() string {
	return "rss"
}

// Fetch retrieves topics from the RSS feed
func (s *Source) Fetch(ctx context.Context) ([]*models.RawTopic, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, ratelimit.LimiterRSS); err != nil {
			return nil, fmt.Errorf("rate limit error: %w", err)
		}
	}

	s.log.Debug().Str("url", s.url).Msg("Fetching RSS feed")

	feed, err := s.parser.ParseURLWithContext(s.url, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RSS feed %s: %w", s.name, err)
	}

	topics := make([]*models.RawTopic, 0, len(feed.Items))

	for _, item := range feed.Items {
		publishedAt := time.Now()
		if item.PublishedParsed != nil {
			publishedAt = *item.PublishedParsed
			if s.maxAge > 0 && time.Since(publishedAt) > s.maxAge {
				continue
			}
		}

		topic := &models.RawTopic{
			Title:       cleanText(item.Title),
			Description: cleanText(item.Description),
			URL:         item.Link,
			SourceType:  "rss",
			SourceName:  s.name,
			Keywords:    extractKeywords(item),
			PublishedAt: publishedAt,
			RawData: map[string]interface{}{
				"guid":       item.GUID,
				"categories": item.Categories,
				"published":  item.Published,
			},
		}

		topics = append(topics, topic)
	}

	s.log.Info().
		Int("count", len(topics)).
		Str("feed", s.name).
		Msg("Fetched RSS topics")

	return topics, nil
}

// HealthCheck verifies the RSS feed is accessible
func (s *Source) HealthCheck(ctx context.Context) error {
	_, err := s.parser.ParseURLWithContext(s.url, ctx)
	return err
}

// cleanText strips HTML markup and collapses whitespace
func cleanText(text string) string {
	if strings.ContainsRune(text, '<') {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
		if err == nil {
			doc.Find("br, p").Each(func(_ int, sel *goquery.Selection) {
				sel.AppendHtml(" ")
			})
			text = doc.Text()
		}
	}
	return strings.Join(strings.Fields(text), " ")
}

// extractKeywords extracts keywords from feed item
func extractKeywords(item *gofeed.Item) []string {
	keywords := make([]string, 0, len(item.Categories)+1)
	keywords = append(keywords, item.Categories...)

	if item.Author != nil && item.Author.Name != "" {
		keywords = append(keywords, item.Author.Name)
	}

	return keywords
}

// Ensure Source implements source.TopicSource
var _ source.TopicSource = (*Source)(nil)
