package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/blog-autopilot/internal/models"
	"github.com/blog-autopilot/internal/textutil"
)

// MaxExpandedTopics caps the ideas kept from one keyword expansion
const MaxExpandedTopics = 5

// ErrMalformedResponse is returned when a response cannot be parsed as the expected JSON
var ErrMalformedResponse = errors.New("malformed model response")

// extractJSONObject cuts the outermost JSON object out of a reply that may be
// wrapped in a code fence or prose
func extractJSONObject(response string) string {
	response = strings.TrimSpace(response)

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end < start {
		return response
	}
	return response[start : end+1]
}

// decodeJSON parses a model response into v
func (c *Client) decodeJSON(response, what string, v interface{}) error {
	if err := json.Unmarshal([]byte(extractJSONObject(response)), v); err != nil {
		c.log.Error().
			Err(err).
			Str("response", textutil.Truncate(response, 500, "...")).
			Msgf("Failed to parse %s response", what)
		return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, what, err)
	}
	return nil
}

// TopicRanking is the model's verdict on one topic candidate
type TopicRanking struct {
	Score          float64  `json:"score"`
	Analysis       string   `json:"analysis"`
	SuggestedAngle string   `json:"suggested_angle"`
	Keywords       []string `json:"keywords"`
}

type batchRanking struct {
	Index int `json:"index"`
	TopicRanking
}

func clampScore(s float64) float64 {
	return max(0, min(100, s))
}

// RankTopic scores a single topic
func (c *Client) RankTopic(ctx context.Context, topic *models.RawTopic) (*TopicRanking, error) {
	userPrompt := fmt.Sprintf(TopicRankingUserPrompt,
		topic.Title,
		topic.Description,
		topic.SourceName,
		topic.URL,
	)

	response, err := c.CompleteWithJSON(ctx, TopicRankingSystemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	var ranking TopicRanking
	if err := c.decodeJSON(response, "ranking", &ranking); err != nil {
		return nil, err
	}
	ranking.Score = clampScore(ranking.Score)
	return &ranking, nil
}

// RankTopics scores topics in one request. The result is index-aligned with
// topics and entries the model skipped are nil. A malformed or empty batch
// reply falls back to ranking each topic on its own.
func (c *Client) RankTopics(ctx context.Context, topics []*models.RawTopic) ([]*TopicRanking, error) {
	if len(topics) == 0 {
		return nil, nil
	}

	rankings, err := c.rankBatch(ctx, topics)
	if err == nil {
		return rankings, nil
	}
	if !errors.Is(err, ErrMalformedResponse) {
		return nil, err
	}

	c.log.Warn().Int("topics", len(topics)).Msg("Batch ranking unusable, ranking individually")

	rankings = make([]*TopicRanking, len(topics))
	for i, topic := range topics {
		if ctx.Err() != nil {
			return rankings, ctx.Err()
		}
		r, err := c.RankTopic(ctx, topic)
		if err != nil {
			c.log.Warn().Err(err).Str("title", topic.Title).Msg("Failed to rank topic, skipping")
			continue
		}
		rankings[i] = r
	}
	return rankings, nil
}

func (c *Client) rankBatch(ctx context.Context, topics []*models.RawTopic) ([]*TopicRanking, error) {
	var list strings.Builder
	for i, topic := range topics {
		fmt.Fprintf(&list, "\n[%d] Title: %s\nDescription: %s\nSource: %s\n",
			i, topic.Title, textutil.Truncate(topic.Description, 300, "..."), topic.SourceName)
	}

	response, err := c.CompleteWithJSON(ctx, TopicRankingSystemPrompt,
		fmt.Sprintf(BatchTopicRankingUserPrompt, list.String()))
	if err != nil {
		return nil, err
	}

	var reply struct {
		Rankings []batchRanking `json:"rankings"`
	}
	if err := c.decodeJSON(response, "batch ranking", &reply); err != nil {
		return nil, err
	}
	if len(reply.Rankings) == 0 {
		return nil, fmt.Errorf("%w: batch ranking has no entries", ErrMalformedResponse)
	}

	rankings := make([]*TopicRanking, len(topics))
	for _, r := range reply.Rankings {
		if r.Index < 0 || r.Index >= len(rankings) || rankings[r.Index] != nil {
			continue
		}
		ranking := r.TopicRanking
		ranking.Score = clampScore(ranking.Score)
		rankings[r.Index] = &ranking
	}
	return rankings, nil
}

// ExpandedTopic is a concrete post idea derived from a keyword
type ExpandedTopic struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Angle       string `json:"angle"`
	Timeliness  string `json:"timeliness"`
}

// ExpandKeyword turns a keyword into up to MaxExpandedTopics post ideas.
// Ideas without a title are dropped.
func (c *Client) ExpandKeyword(ctx context.Context, keyword string) ([]*ExpandedTopic, error) {
	response, err := c.CompleteWithJSON(ctx, TopicExpansionSystemPrompt,
		fmt.Sprintf(TopicExpansionUserPrompt, keyword))
	if err != nil {
		return nil, err
	}

	var reply struct {
		Topics []*ExpandedTopic `json:"topics"`
	}
	if err := c.decodeJSON(response, "expansion", &reply); err != nil {
		return nil, err
	}

	ideas := make([]*ExpandedTopic, 0, len(reply.Topics))
	for _, t := range reply.Topics {
		if t == nil {
			continue
		}
		t.Title = strings.TrimSpace(t.Title)
		if t.Title == "" {
			continue
		}
		ideas = append(ideas, t)
		if len(ideas) == MaxExpandedTopics {
			break
		}
	}
	return ideas, nil
}
