package ai

import (
	"context"
	"fmt"
	"strings"
)

// ArticleSource is a reference offered to the model for citation
type ArticleSource struct {
	URL   string
	Title string
}

// ArticleRequest describes the article to write
type ArticleRequest struct {
	Topic        string
	Instructions string
	Voice        string
	Sources      []ArticleSource
	MinWords     int
	MaxWords     int
	Attempt      int
}

// GeneratedArticle is the model's draft
type GeneratedArticle struct {
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	CitedURLs []string `json:"cited_urls"`
}

// GenerateArticle writes a Markdown blog post for a topic
func (c *Client) GenerateArticle(ctx context.Context, req ArticleRequest) (*GeneratedArticle, error) {
	systemPrompt := fmt.Sprintf(ArticleSystemPrompt, req.Voice, req.MinWords, req.MaxWords)

	var sources strings.Builder
	for i, s := range req.Sources {
		fmt.Fprintf(&sources, "[%d] %s - %s\n", i+1, s.Title, s.URL)
	}
	if sources.Len() == 0 {
		sources.WriteString("(none)\n")
	}

	instructions := ""
	if s := strings.TrimSpace(req.Instructions); s != "" {
		instructions = fmt.Sprintf(ArticleInstructionsBlock, s)
	}

	reminder := ""
	if req.Attempt > 1 {
		reminder = fmt.Sprintf(ArticleLengthReminder, req.Attempt, req.MinWords, req.MaxWords)
	}

	userPrompt := fmt.Sprintf(ArticleUserPrompt, req.Topic, instructions, sources.String(), reminder)

	response, err := c.CompleteWithJSON(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	var article GeneratedArticle
	if err := c.decodeJSON(response, "article", &article); err != nil {
		return nil, err
	}
	article.Title = strings.TrimSpace(article.Title)
	article.Content = strings.TrimSpace(article.Content)

	c.log.Debug().
		Str("topic", req.Topic).
		Str("title", article.Title).
		Int("cited", len(article.CitedURLs)).
		Int("attempt", req.Attempt).
		Msg("Article generated")

	return &article, nil
}
