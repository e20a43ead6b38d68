package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// StringSlice is a custom type for storing string arrays in JSON
type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *StringSlice) Scan(value interface{}) error {
	return scanJSON(value, s)
}

// TopicRecord is an entry in the topic fingerprint registry
type TopicRecord struct {
	Fingerprint string      `gorm:"primaryKey;size:64" json:"fingerprint"`
	Topic       string      `gorm:"type:text;not null" json:"topic"`
	Tokens      StringSlice `gorm:"type:json" json:"tokens"` // Normalized tokens for near-duplicate checks
	CreatedAt   time.Time   `gorm:"autoCreateTime" json:"created_at"`
}

// RawTopic represents a topic candidate before it enters the pipeline (from sources)
type RawTopic struct {
	Title       string
	Description string
	URL         string
	SourceType  string
	SourceName  string
	Keywords    []string
	RawData     map[string]interface{}
	PublishedAt time.Time
}
