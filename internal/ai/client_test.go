package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/blog-autopilot/internal/config"
	"github.com/blog-autopilot/internal/models"
	"github.com/blog-autopilot/pkg/logger"
	"github.com/blog-autopilot/pkg/ratelimit"
)

// fakeMessagesAPI serves canned Messages API responses and records request bodies
type fakeMessagesAPI struct {
	mu         sync.Mutex
	bodies     []string
	status     int
	text       string
	stopReason string
}

func (f *fakeMessagesAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.bodies = append(f.bodies, string(body))
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if f.status != 0 && f.status != http.StatusOK {
		w.WriteHeader(f.status)
		w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"upstream trouble"}}`))
		return
	}

	stop := f.stopReason
	if stop == "" {
		stop = "end_turn"
	}
	resp := map[string]interface{}{
		"id":            "msg_test",
		"type":          "message",
		"role":          "assistant",
		"model":         "claude-test",
		"content":       []map[string]string{{"type": "text", "text": f.text}},
		"stop_reason":   stop,
		"stop_sequence": nil,
		"usage":         map[string]int{"input_tokens": 12, "output_tokens": 34},
	}
	json.NewEncoder(w).Encode(resp)
}

func newTestClient(t *testing.T, api *fakeMessagesAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	limiter := ratelimit.NewMultiLimiter()
	limiter.AddLimiter(ratelimit.LimiterAnthropic, 1000, 1000)

	return NewClient(config.AnthropicConfig{
		APIKey:    "test-key",
		Model:     "claude-test",
		MaxTokens: 1024,
		BaseURL:   srv.URL + "/",
	}, limiter, logger.Nop())
}

func TestCompleteReturnsText(t *testing.T) {
	api := &fakeMessagesAPI{text: "hello there"}
	c := newTestClient(t, api)

	got, err := c.Complete(context.Background(), "system", "user message")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "hello there" {
		t.Errorf("Complete() = %q", got)
	}
	if !strings.Contains(api.bodies[0], "user message") || !strings.Contains(api.bodies[0], "claude-test") {
		t.Errorf("request body = %s", api.bodies[0])
	}
}

func TestCompleteStatusError(t *testing.T) {
	api := &fakeMessagesAPI{status: http.StatusTooManyRequests}
	c := newTestClient(t, api)

	_, err := c.Complete(context.Background(), "system", "user")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Complete() error = %v, want StatusError", err)
	}
	if se.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d, want 429", se.StatusCode)
	}
}

func TestCompleteRefusal(t *testing.T) {
	api := &fakeMessagesAPI{text: "", stopReason: "refusal"}
	c := newTestClient(t, api)

	if _, err := c.Complete(context.Background(), "system", "user"); !errors.Is(err, ErrRefused) {
		t.Errorf("Complete() error = %v, want ErrRefused", err)
	}
}

func TestGenerateArticle(t *testing.T) {
	api := &fakeMessagesAPI{text: "```json\n{\"title\":\" Go Channels \",\"content\":\"## Intro\\nChannels connect goroutines.\",\"cited_urls\":[\"https://go.dev/blog\"]}\n```"}
	c := newTestClient(t, api)

	article, err := c.GenerateArticle(context.Background(), ArticleRequest{
		Topic:    "Go channels",
		Voice:    "friendly",
		Sources:  []ArticleSource{{URL: "https://go.dev/blog", Title: "Go Blog"}},
		MinWords: 300,
		MaxWords: 600,
		Attempt:  2,
	})
	if err != nil {
		t.Fatalf("GenerateArticle() error = %v", err)
	}
	if article.Title != "Go Channels" || len(article.CitedURLs) != 1 {
		t.Errorf("article = %+v", article)
	}

	body := api.bodies[0]
	for _, want := range []string{"Go channels", "https://go.dev/blog", "Attempt 2", "300", "600"} {
		if !strings.Contains(body, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestGenerateArticleInstructions(t *testing.T) {
	api := &fakeMessagesAPI{text: `{"title":"Resume Tips","content":"Keep it short.","cited_urls":[]}`}
	c := newTestClient(t, api)

	_, err := c.GenerateArticle(context.Background(), ArticleRequest{
		Topic:        "Resume tips",
		Instructions: "  Write for career changers coming from teaching ",
		MinWords:     300,
		MaxWords:     600,
		Attempt:      1,
	})
	if err != nil {
		t.Fatalf("GenerateArticle() error = %v", err)
	}
	body := api.bodies[0]
	if !strings.Contains(body, "Additional instructions from the editor") ||
		!strings.Contains(body, "Write for career changers coming from teaching") {
		t.Errorf("prompt missing instructions: %s", body)
	}

	_, err = c.GenerateArticle(context.Background(), ArticleRequest{Topic: "Resume tips", MinWords: 300, MaxWords: 600, Attempt: 1})
	if err != nil {
		t.Fatalf("GenerateArticle() error = %v", err)
	}
	if strings.Contains(api.bodies[1], "Additional instructions") {
		t.Error("prompt carries an instructions block without instructions")
	}
}

func TestGenerateArticleMalformed(t *testing.T) {
	api := &fakeMessagesAPI{text: "Sorry, here is some prose instead of JSON."}
	c := newTestClient(t, api)

	_, err := c.GenerateArticle(context.Background(), ArticleRequest{Topic: "x", MinWords: 1, MaxWords: 2})
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("GenerateArticle() error = %v, want ErrMalformedResponse", err)
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{`noise {"a":{"b":2}} tail`, `{"a":{"b":2}}`},
		{"no json here", "no json here"},
	}
	for _, tt := range tests {
		if got := extractJSONObject(tt.in); got != tt.want {
			t.Errorf("extractJSONObject(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRankTopicsAlignsWithInput(t *testing.T) {
	api := &fakeMessagesAPI{text: `{"score": 72, "analysis": "solid", "suggested_angle": "beginner guide", "keywords": ["go"]}`}
	c := newTestClient(t, api)

	rankings, err := c.RankTopics(context.Background(), nil)
	if err != nil || rankings != nil {
		t.Errorf("RankTopics(nil) = %v, %v", rankings, err)
	}

	topics := rawTopics("Go 1.24 released", "Rust in the kernel")
	rankings, err = c.RankTopics(context.Background(), topics)
	if err != nil {
		t.Fatalf("RankTopics() error = %v", err)
	}
	if len(rankings) != 2 || rankings[1] == nil || rankings[1].Score != 72 {
		t.Errorf("rankings = %+v", rankings)
	}
	// one batch attempt plus one request per topic
	if len(api.bodies) != 3 {
		t.Errorf("requests = %d, want 3", len(api.bodies))
	}
}

func TestRankTopicsBatch(t *testing.T) {
	api := &fakeMessagesAPI{text: `{"rankings": [
		{"index": 2, "score": 140, "analysis": "hot"},
		{"index": 0, "score": 55},
		{"index": 0, "score": 99},
		{"index": 7, "score": 80}
	]}`}
	c := newTestClient(t, api)

	rankings, err := c.RankTopics(context.Background(), rawTopics("a", "b", "c"))
	if err != nil {
		t.Fatalf("RankTopics() error = %v", err)
	}
	if len(api.bodies) != 1 {
		t.Errorf("requests = %d, want 1", len(api.bodies))
	}
	if rankings[0] == nil || rankings[0].Score != 55 {
		t.Errorf("rankings[0] = %+v, want first entry for the index", rankings[0])
	}
	if rankings[1] != nil {
		t.Errorf("rankings[1] = %+v, want nil", rankings[1])
	}
	if rankings[2] == nil || rankings[2].Score != 100 || rankings[2].Analysis != "hot" {
		t.Errorf("rankings[2] = %+v, want clamped score", rankings[2])
	}
}

func TestRankTopicsUpstreamError(t *testing.T) {
	api := &fakeMessagesAPI{status: http.StatusServiceUnavailable}
	c := newTestClient(t, api)

	if _, err := c.RankTopics(context.Background(), rawTopics("a")); err == nil {
		t.Error("RankTopics() should surface API errors")
	}
	if len(api.bodies) != 1 {
		t.Errorf("requests = %d, want no per-topic fallback", len(api.bodies))
	}
}

func TestExpandKeyword(t *testing.T) {
	api := &fakeMessagesAPI{text: `{"topics": [
		{"title": " Generics by example ", "angle": "hands-on"},
		{"title": ""},
		{"title": "b"}, {"title": "c"}, {"title": "d"}, {"title": "e"}, {"title": "f"}
	]}`}
	c := newTestClient(t, api)

	ideas, err := c.ExpandKeyword(context.Background(), "generics")
	if err != nil {
		t.Fatalf("ExpandKeyword() error = %v", err)
	}
	if len(ideas) != MaxExpandedTopics {
		t.Fatalf("got %d ideas, want %d", len(ideas), MaxExpandedTopics)
	}
	if ideas[0].Title != "Generics by example" || ideas[1].Title != "b" {
		t.Errorf("ideas = %+v %+v", ideas[0], ideas[1])
	}
	if !strings.Contains(api.bodies[0], "generics") {
		t.Error("prompt should carry the keyword")
	}
}

func rawTopics(titles ...string) []*models.RawTopic {
	out := make([]*models.RawTopic, 0, len(titles))
	for _, title := range titles {
		out = append(out, &models.RawTopic{Title: title, SourceName: "test"})
	}
	return out
}

func TestCompleteTruncatedIsMalformed(t *testing.T) {
	api := &fakeMessagesAPI{text: `{"title": "half`, stopReason: "max_tokens"}
	c := newTestClient(t, api)

	if _, err := c.Complete(context.Background(), "system", "user"); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("Complete() error = %v, want ErrMalformedResponse", err)
	}
}
