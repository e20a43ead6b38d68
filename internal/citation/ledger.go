package citation

import (
	"errors"
	"strings"

	"github.com/blog-autopilot/internal/models"
)

// AddResult reports what happened to a citation offered to the ledger
type AddResult string

const (
	Added        AddResult = "added"
	Deduplicated AddResult = "deduplicated"
)

var (
	// ErrMissingURL is returned for citations without a source URL
	ErrMissingURL = errors.New("citation has no source url")
	// ErrSealed is returned once the post is published
	ErrSealed = errors.New("citations are sealed after publish")
)

// Add appends c to the post's citations unless a citation with the same
// source URL is already present. Insertion order is preserved.
// Published posts accept no new citations.
func Add(post *models.Post, c models.Citation) (AddResult, error) {
	if post.Stage == models.StagePublished {
		return "", ErrSealed
	}
	c.SourceURL = strings.TrimSpace(c.SourceURL)
	if c.SourceURL == "" {
		return "", ErrMissingURL
	}
	if post.HasCitation(c.SourceURL) {
		return Deduplicated, nil
	}
	post.Citations = append(post.Citations, c)
	return Added, nil
}

// AddAll offers citations in order. Rejected citations are skipped and
// reported with an empty result.
func AddAll(post *models.Post, citations []models.Citation) []AddResult {
	results := make([]AddResult, len(citations))
	for i, c := range citations {
		res, err := Add(post, c)
		if err != nil {
			continue
		}
		results[i] = res
	}
	return results
}

// Count returns how many results equal want
func Count(results []AddResult, want AddResult) int {
	n := 0
	for _, r := range results {
		if r == want {
			n++
		}
	}
	return n
}
