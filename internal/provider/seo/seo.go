// Package seo computes search metadata for a finished draft.
package seo

import (
	"context"
	"strings"

	"github.com/blog-autopilot/internal/provider"
	"github.com/blog-autopilot/internal/textutil"
	"github.com/blog-autopilot/pkg/logger"
)

const (
	MaxTitleLen       = 60
	MaxDescriptionLen = 160
	MaxKeywords       = 10
)

// Scorer derives title, description, keywords and slug from the draft text
type Scorer struct {
	targets []string
	log     *logger.Logger
}

// New creates a Scorer. Target keywords found in a draft are listed first.
func New(targets []string, log *logger.Logger) *Scorer {
	return &Scorer{
		targets: targets,
		log:     log.WithComponent("seo"),
	}
}

// Optimize builds the metadata. An empty description is left for the caller
// to reject.
func (s *Scorer) Optimize(ctx context.Context, title, content string) (*provider.SEOResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sentences := textutil.Sentences(content)
	title = strings.TrimSpace(title)
	if title == "" && len(sentences) > 0 {
		title = sentences[0]
	}

	res := &provider.SEOResult{
		Title:       textutil.Truncate(title, MaxTitleLen, ""),
		Description: describe(sentences),
		Keywords:    s.keywords(title, content),
		Slug:        textutil.Slugify(title),
	}

	s.log.Debug().
		Str("slug", res.Slug).
		Int("keywords", len(res.Keywords)).
		Msg("Computed SEO metadata")
	return res, nil
}

// describe joins leading sentences while they fit
func describe(sentences []string) string {
	if len(sentences) == 0 {
		return ""
	}
	if len(sentences[0]) > MaxDescriptionLen {
		return textutil.Truncate(sentences[0], MaxDescriptionLen, "...")
	}

	desc := sentences[0]
	for _, next := range sentences[1:] {
		if len(desc)+1+len(next) > MaxDescriptionLen {
			break
		}
		desc += " " + next
	}
	return desc
}

func (s *Scorer) keywords(title, content string) []string {
	text := " " + textutil.Normalize(title+" "+content) + " "

	var out []string
	seen := make(map[string]bool)
	add := func(k string) {
		if k == "" || seen[k] || len(out) == MaxKeywords {
			return
		}
		seen[k] = true
		out = append(out, k)
	}

	for _, target := range s.targets {
		norm := textutil.Normalize(target)
		if norm != "" && strings.Contains(text, " "+norm+" ") {
			add(norm)
		}
	}
	for _, k := range textutil.ExtractKeywords(title+" "+content, MaxKeywords) {
		add(k)
	}
	return out
}

var _ provider.SEOScorer = (*Scorer)(nil)
