// Package writer implements the Writer provider on top of the Claude client.
package writer

import (
	"context"
	"errors"
	"strings"

	"github.com/blog-autopilot/internal/ai"
	"github.com/blog-autopilot/internal/provider"
	"github.com/blog-autopilot/pkg/logger"
)

const providerName = "writer"

// ArticleGenerator produces article drafts
type ArticleGenerator interface {
	GenerateArticle(ctx context.Context, req ai.ArticleRequest) (*ai.GeneratedArticle, error)
}

// Writer drafts posts with a language model
type Writer struct {
	gen   ArticleGenerator
	voice string
	log   *logger.Logger
}

// New creates a Writer. voice describes the blog's writing style.
func New(gen ArticleGenerator, voice string, log *logger.Logger) *Writer {
	return &Writer{
		gen:   gen,
		voice: voice,
		log:   log.WithComponent("writer"),
	}
}

// Generate writes a draft. Only sources offered in the request are kept as
// citations, in the order the model cited them.
func (w *Writer) Generate(ctx context.Context, req provider.DraftRequest) (*provider.Draft, error) {
	sources := make([]ai.ArticleSource, 0, len(req.Sources))
	byURL := make(map[string]provider.Source, len(req.Sources))
	for _, s := range req.Sources {
		sources = append(sources, ai.ArticleSource{URL: s.URL, Title: s.Title})
		byURL[s.URL] = s
	}

	article, err := w.gen.GenerateArticle(ctx, ai.ArticleRequest{
		Topic:        req.Topic,
		Instructions: req.Instructions,
		Voice:        w.voice,
		Sources:      sources,
		MinWords:     req.MinWords,
		MaxWords:     req.MaxWords,
		Attempt:      req.Attempt,
	})
	if err != nil {
		return nil, Classify(err)
	}
	if strings.TrimSpace(article.Content) == "" {
		return nil, provider.Errorf(provider.KindMalformedOutput, providerName, "model returned an empty article")
	}

	draft := &provider.Draft{
		Title:   article.Title,
		Content: article.Content,
	}
	for _, u := range article.CitedURLs {
		s, ok := byURL[strings.TrimSpace(u)]
		if !ok {
			w.log.Debug().Str("url", u).Msg("Dropping citation outside the source list")
			continue
		}
		draft.Sources = append(draft.Sources, s)
	}
	return draft, nil
}

// Classify converts a Claude client error into a provider error
func Classify(err error) error {
	var pe *provider.Error
	if errors.As(err, &pe) {
		return err
	}

	var se *ai.StatusError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return provider.NewError(provider.KindTimeout, providerName, err)
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, ai.ErrRefused):
		return provider.NewError(provider.KindPolicyRejected, providerName, err)
	case errors.Is(err, ai.ErrMalformedResponse):
		return provider.NewError(provider.KindMalformedOutput, providerName, err)
	case errors.As(err, &se):
		return provider.NewError(provider.KindForStatus(se.StatusCode), providerName, err)
	}
	return provider.NewError(provider.KindUnavailable, providerName, err)
}

var _ provider.Writer = (*Writer)(nil)
