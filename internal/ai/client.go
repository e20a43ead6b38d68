// Package ai wraps the Anthropic Messages API for drafting posts and ranking
// topic candidates.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/blog-autopilot/internal/config"
	"github.com/blog-autopilot/pkg/logger"
	"github.com/blog-autopilot/pkg/ratelimit"
)

const jsonOnlyInstruction = "\n\nIMPORTANT: Respond ONLY with valid JSON. No markdown, no explanation, just the JSON object."

// ErrRefused is returned when the model declines to answer
var ErrRefused = errors.New("model refused the request")

// StatusError is a non-2xx response from the Messages API
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("claude API error (status %d): %v", e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Client sends prompts to Claude
type Client struct {
	client      anthropic.Client
	model       string
	maxTokens   int
	temperature float64
	limiter     *ratelimit.MultiLimiter
	log         *logger.Logger
}

// NewClient creates a Client. limiter may be nil.
func NewClient(cfg config.AnthropicConfig, limiter *ratelimit.MultiLimiter, log *logger.Logger) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		client:      anthropic.NewClient(opts...),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		limiter:     limiter,
		log:         log.WithComponent("ai"),
	}
}

func (c *Client) params(systemPrompt, userMessage string) anthropic.MessageNewParams {
	p := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userMessage)),
		},
	}
	if c.temperature > 0 {
		p.Temperature = anthropic.Float(c.temperature)
	}
	return p
}

// Complete sends one user message and returns the concatenated text reply.
// A reply cut off at the token limit is reported as malformed.
func (c *Client) Complete(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, ratelimit.LimiterAnthropic); err != nil {
			return "", fmt.Errorf("rate limit: %w", err)
		}
	}

	c.log.Debug().
		Str("model", c.model).
		Int("max_tokens", c.maxTokens).
		Msg("Sending request to Claude")

	message, err := c.client.Messages.New(ctx, c.params(systemPrompt, userMessage))
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			c.log.Error().Err(err).Int("status", apiErr.StatusCode).Msg("Claude API error")
			return "", &StatusError{StatusCode: apiErr.StatusCode, Err: err}
		}
		return "", fmt.Errorf("claude API error: %w", err)
	}

	c.log.Debug().
		Int64("input_tokens", message.Usage.InputTokens).
		Int64("output_tokens", message.Usage.OutputTokens).
		Str("stop_reason", string(message.StopReason)).
		Msg("Received Claude response")

	switch message.StopReason {
	case anthropic.StopReasonRefusal:
		c.log.Warn().Msg("Claude refused the request")
		return "", ErrRefused
	case anthropic.StopReasonMaxTokens:
		return "", fmt.Errorf("%w: reply truncated at %d tokens", ErrMalformedResponse, c.maxTokens)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}

// CompleteWithJSON is Complete with an instruction to answer in bare JSON
func (c *Client) CompleteWithJSON(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	return c.Complete(ctx, systemPrompt+jsonOnlyInstruction, userMessage)
}
