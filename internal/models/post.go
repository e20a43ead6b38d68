package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// FailureKind classifies why a post entered the failed stage
type FailureKind string

const (
	FailureTransientExhausted FailureKind = "transient_exhausted"
	FailurePermanent          FailureKind = "permanent"
	FailureGateExhausted      FailureKind = "gate_exhausted"
	FailureCancelled          FailureKind = "cancelled"
)

// Citation is a reference to a source used while writing a post
type Citation struct {
	SourceURL   string    `json:"source_url"`
	Title       string    `json:"title"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// Citations is the ordered citation list stored as JSON
type Citations []Citation

func (c Citations) Value() (driver.Value, error) {
	return json.Marshal(c)
}

func (c *Citations) Scan(value interface{}) error {
	return scanJSON(value, c)
}

// SEOMeta holds search metadata computed by the optimizing stage
type SEOMeta struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
	Slug        string   `json:"slug,omitempty"`
}

func (m SEOMeta) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *SEOMeta) Scan(value interface{}) error {
	return scanJSON(value, m)
}

// StageCounters counts failed attempts per stage
type StageCounters map[Stage]int

func (s StageCounters) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *StageCounters) Scan(value interface{}) error {
	return scanJSON(value, s)
}

// Post is a blog post moving through the content pipeline
type Post struct {
	ID               string        `gorm:"primaryKey;size:36" json:"id"`
	Topic            string        `gorm:"type:text;not null" json:"topic"`
	Instructions     string        `gorm:"type:text" json:"instructions,omitempty"`
	TopicFingerprint string        `gorm:"index;size:64;not null" json:"topic_fingerprint"`
	Stage            Stage         `gorm:"index;size:20;not null" json:"stage"`
	Title            string        `json:"title"`
	Content          string        `gorm:"type:text" json:"content"`
	WordCount        int           `json:"word_count"`
	ReadingMinutes   int           `json:"reading_minutes"`
	Citations        Citations     `gorm:"type:json" json:"citations"`
	SEOMeta          SEOMeta       `gorm:"column:seo_meta;type:json" json:"seo_meta"`
	ThumbnailRef     string        `json:"thumbnail_ref"`
	ScheduledAt      *time.Time    `gorm:"index" json:"scheduled_at"`
	PublishedAt      *time.Time    `json:"published_at"`
	Retries          StageCounters `gorm:"type:json" json:"retries"`
	ManualRetries    int           `gorm:"default:0" json:"manual_retries"`
	FailedStage      Stage         `gorm:"size:20" json:"failed_stage,omitempty"`
	FailureKind      FailureKind   `gorm:"size:32" json:"failure_kind,omitempty"`
	FailureReason    string        `gorm:"type:text" json:"failure_reason,omitempty"`
	Version          int64         `gorm:"not null;default:0" json:"version"`
	CreatedAt        time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate without touching the original
func (p *Post) Clone() *Post {
	c := *p
	if p.Citations != nil {
		c.Citations = append(Citations(nil), p.Citations...)
	}
	if p.SEOMeta.Keywords != nil {
		c.SEOMeta.Keywords = append([]string(nil), p.SEOMeta.Keywords...)
	}
	c.Retries = make(StageCounters, len(p.Retries))
	for k, v := range p.Retries {
		c.Retries[k] = v
	}
	if p.ScheduledAt != nil {
		t := *p.ScheduledAt
		c.ScheduledAt = &t
	}
	if p.PublishedAt != nil {
		t := *p.PublishedAt
		c.PublishedAt = &t
	}
	return &c
}

// RetryCount returns the failed attempt count for a stage
func (p *Post) RetryCount(stage Stage) int {
	if p.Retries == nil {
		return 0
	}
	return p.Retries[stage]
}

// IncrementRetry bumps the counter for stage and returns the new value
func (p *Post) IncrementRetry(stage Stage) int {
	if p.Retries == nil {
		p.Retries = make(StageCounters)
	}
	p.Retries[stage]++
	return p.Retries[stage]
}

// MarkFailed moves the post into the failed stage, remembering where it failed
func (p *Post) MarkFailed(kind FailureKind, reason string) {
	if p.Stage != StageFailed {
		p.FailedStage = p.Stage
	}
	p.Stage = StageFailed
	p.FailureKind = kind
	p.FailureReason = reason
}

// HasCitation reports whether a citation with the given URL is already recorded
func (p *Post) HasCitation(url string) bool {
	for _, c := range p.Citations {
		if c.SourceURL == url {
			return true
		}
	}
	return false
}

func scanJSON(value interface{}, dest interface{}) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dest)
}
