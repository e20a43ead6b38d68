package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/blog-autopilot/internal/models"
	"github.com/blog-autopilot/internal/storage"
	"github.com/blog-autopilot/internal/textutil"
	"github.com/blog-autopilot/pkg/logger"
)

// DefaultNearDuplicateThreshold is the token overlap treated as the same topic
const DefaultNearDuplicateThreshold = 0.8

// Options tunes fingerprinting and near-duplicate detection
type Options struct {
	StripStopWords bool
	// NearDuplicateThreshold is the Jaccard overlap at or above which two topics
	// match. Zero disables near-duplicate detection.
	NearDuplicateThreshold float64
}

// Match describes the outcome of a duplicate check
type Match struct {
	Duplicate   bool
	Exact       bool
	Similarity  float64
	MatchedWith string
	Fingerprint string
}

// Deduplicator rejects topics that were already submitted
type Deduplicator struct {
	store storage.FingerprintStore
	opts  Options
	log   *logger.Logger
}

// New creates a deduplicator over the given registry
func New(store storage.FingerprintStore, opts Options, log *logger.Logger) *Deduplicator {
	return &Deduplicator{
		store: store,
		opts:  opts,
		log:   log.WithComponent("dedup"),
	}
}

// Normalize returns the canonical form of a topic used for fingerprinting.
// A topic made only of stop words keeps them.
func Normalize(topic string, stripStopWords bool) string {
	tokens := textutil.Tokens(topic, stripStopWords)
	if len(tokens) == 0 && stripStopWords {
		tokens = textutil.Tokens(topic, false)
	}
	return strings.Join(tokens, " ")
}

// Fingerprint returns the SHA-256 hex digest of the normalized topic
func Fingerprint(topic string, stripStopWords bool) string {
	sum := sha256.Sum256([]byte(Normalize(topic, stripStopWords)))
	return hex.EncodeToString(sum[:])
}

// Fingerprint returns the fingerprint of topic under this deduplicator's options
func (d *Deduplicator) Fingerprint(topic string) string {
	return Fingerprint(topic, d.opts.StripStopWords)
}

// Check looks topic up in the registry. Store errors are logged and reported
// as no match, so a broken registry can only let duplicates through.
func (d *Deduplicator) Check(ctx context.Context, topic string) Match {
	fp := d.Fingerprint(topic)
	m := Match{Fingerprint: fp}

	exists, err := d.store.HasFingerprint(ctx, fp)
	if err != nil {
		d.log.Warn().Err(err).Str("fingerprint", fp).Msg("Fingerprint lookup failed, treating as new topic")
		return m
	}
	if exists {
		m.Duplicate = true
		m.Exact = true
		m.Similarity = 1
		return m
	}

	if d.opts.NearDuplicateThreshold <= 0 {
		return m
	}

	records, err := d.store.ListFingerprints(ctx)
	if err != nil {
		d.log.Warn().Err(err).Msg("Fingerprint listing failed, skipping near-duplicate check")
		return m
	}

	tokens := textutil.Tokens(topic, true)
	for _, rec := range records {
		sim := Jaccard(tokens, rec.Tokens)
		if sim > m.Similarity {
			m.Similarity = sim
			m.MatchedWith = rec.Topic
		}
	}
	if m.Similarity >= d.opts.NearDuplicateThreshold {
		m.Duplicate = true
	}
	return m
}

// IsDuplicate reports whether topic matches a registered topic
func (d *Deduplicator) IsDuplicate(ctx context.Context, topic string) bool {
	m := d.Check(ctx, topic)
	if m.Duplicate {
		d.log.Info().
			Str("topic", topic).
			Bool("exact", m.Exact).
			Float64("similarity", m.Similarity).
			Str("matched_with", m.MatchedWith).
			Msg("Duplicate topic detected")
	}
	return m.Duplicate
}

// Register records topic in the registry. Registering twice is a no-op.
// Failures are logged, never returned.
func (d *Deduplicator) Register(ctx context.Context, topic string) {
	rec := &models.TopicRecord{
		Fingerprint: d.Fingerprint(topic),
		Topic:       topic,
		Tokens:      textutil.Tokens(topic, true),
	}
	if err := d.store.AddFingerprint(ctx, rec); err != nil {
		d.log.Error().Err(err).Str("topic", topic).Msg("Failed to register topic fingerprint")
	}
}

// Jaccard returns |a ∩ b| / |a ∪ b| over the distinct tokens of a and b
func Jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[t] = true
	}
	setB := make(map[string]bool, len(b))
	for _, t := range b {
		setB[t] = true
	}

	inter := 0
	for t := range setA {
		if setB[t] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
