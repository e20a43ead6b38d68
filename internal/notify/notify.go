// Package notify announces published posts to downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/blog-autopilot/internal/config"
	"github.com/blog-autopilot/internal/models"
	"github.com/blog-autopilot/pkg/logger"
)

// EventPublished is the type of the event sent after a post goes live
const EventPublished = "post.published"

// Event is the JSON payload written to the topic
type Event struct {
	Type         string    `json:"type"`
	PostID       string    `json:"post_id"`
	Title        string    `json:"title"`
	Slug         string    `json:"slug,omitempty"`
	Description  string    `json:"description,omitempty"`
	Keywords     []string  `json:"keywords,omitempty"`
	ThumbnailRef string    `json:"thumbnail_ref,omitempty"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	PublishedAt  time.Time `json:"published_at"`
}

// NewEvent builds the publication event for post
func NewEvent(post *models.Post) Event {
	ev := Event{
		Type:         EventPublished,
		PostID:       post.ID,
		Title:        post.Title,
		Slug:         post.SEOMeta.Slug,
		Description:  post.SEOMeta.Description,
		Keywords:     post.SEOMeta.Keywords,
		ThumbnailRef: post.ThumbnailRef,
	}
	if post.ScheduledAt != nil {
		ev.ScheduledAt = *post.ScheduledAt
	}
	if post.PublishedAt != nil {
		ev.PublishedAt = *post.PublishedAt
	}
	return ev
}

// Kafka sends publication events with a synchronous producer
type Kafka struct {
	producer sarama.SyncProducer
	topic    string
	log      *logger.Logger
}

// NewKafka connects a producer to the configured brokers
func NewKafka(cfg config.KafkaConfig, log *logger.Logger) (*Kafka, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_6_0_0
	saramaConfig.ClientID = cfg.ClientID
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 3
	saramaConfig.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewKafkaWithProducer(producer, cfg.Topic, log), nil
}

// NewKafkaWithProducer wraps an existing producer
func NewKafkaWithProducer(producer sarama.SyncProducer, topic string, log *logger.Logger) *Kafka {
	return &Kafka{
		producer: producer,
		topic:    topic,
		log:      log.WithComponent("kafka-notifier"),
	}
}

// Published sends the event keyed by post id
func (k *Kafka) Published(ctx context.Context, post *models.Post) error {
	payload, err := json.Marshal(NewEvent(post))
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	partition, offset, err := k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(post.ID),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("failed to send %s event: %w", EventPublished, err)
	}

	k.log.Debug().
		Str("post_id", post.ID).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("Sent publication event")
	return nil
}

// Close shuts the producer down
func (k *Kafka) Close() error {
	return k.producer.Close()
}

// Log writes publication events to the log only
type Log struct {
	log *logger.Logger
}

// NewLog creates a log-only notifier
func NewLog(log *logger.Logger) *Log {
	return &Log{log: log.WithComponent("notifier")}
}

// Published logs the event
func (l *Log) Published(ctx context.Context, post *models.Post) error {
	l.log.Info().
		Str("post_id", post.ID).
		Str("title", post.Title).
		Str("slug", post.SEOMeta.Slug).
		Msg("Post published")
	return nil
}
