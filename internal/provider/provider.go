// Package provider defines the external content providers the pipeline calls
// and the error kinds they report.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Source is a reference found by a Researcher or cited by a Writer
type Source struct {
	URL         string
	Title       string
	Summary     string
	PublishedAt *time.Time
}

// DraftRequest carries everything a Writer needs to produce a draft
type DraftRequest struct {
	Topic        string
	Instructions string // optional editor guidance for this post
	Sources      []Source
	MinWords     int
	MaxWords     int
	Attempt      int // 1 for the first draft, higher for regenerations
}

// Draft is the Writer's output
type Draft struct {
	Title   string
	Content string
	Sources []Source
}

// Thumbnail is the Illustrator's output
type Thumbnail struct {
	Ref         string
	Attribution string
}

// SEOResult is the SEOScorer's output
type SEOResult struct {
	Title       string
	Description string
	Keywords    []string
	Slug        string
}

// Researcher finds sources for a topic
type Researcher interface {
	FindSources(ctx context.Context, topic string) ([]Source, error)
}

// Writer produces a draft for a topic
type Writer interface {
	Generate(ctx context.Context, req DraftRequest) (*Draft, error)
}

// Illustrator produces a thumbnail
type Illustrator interface {
	Create(ctx context.Context, topic, content string) (*Thumbnail, error)
}

// SEOScorer computes search metadata for a draft
type SEOScorer interface {
	Optimize(ctx context.Context, title, content string) (*SEOResult, error)
}

// Kind is the category of a provider failure
type Kind string

const (
	KindUnavailable      Kind = "provider_unavailable"
	KindRateLimited      Kind = "rate_limited"
	KindTimeout          Kind = "timeout"
	KindNoSourcesFound   Kind = "no_sources_found"
	KindPolicyRejected   Kind = "content_policy_rejected"
	KindUnsupportedInput Kind = "unsupported_prompt"
	KindMalformedOutput  Kind = "malformed_output"
)

// Permanent reports whether retrying the same call cannot help
func (k Kind) Permanent() bool {
	switch k {
	case KindNoSourcesFound, KindPolicyRejected, KindUnsupportedInput, KindMalformedOutput:
		return true
	}
	return false
}

// Error is a classified provider failure
type Error struct {
	Kind     Kind
	Provider string
	Err      error
}

// NewError wraps err with a kind and provider name
func NewError(kind Kind, providerName string, err error) *Error {
	return &Error{Kind: kind, Provider: providerName, Err: err}
}

// Errorf builds a classified error from a format string
func Errorf(kind Kind, providerName, format string, args ...interface{}) *Error {
	return NewError(kind, providerName, fmt.Errorf(format, args...))
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a provider error, or "" for unclassified errors
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// KindForStatus maps an HTTP status code from a provider API to a kind.
// Unlisted statuses, auth failures included, map to unavailable.
func KindForStatus(status int) Kind {
	switch {
	case status == 429:
		return KindRateLimited
	case status == 408 || status == 504:
		return KindTimeout
	case status >= 500:
		return KindUnavailable
	case status == 400 || status == 404 || status == 422:
		return KindUnsupportedInput
	}
	return KindUnavailable
}
