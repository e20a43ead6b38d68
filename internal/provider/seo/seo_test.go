package seo

import (
	"context"
	"strings"
	"testing"

	"github.com/blog-autopilot/pkg/logger"
)

const article = `# Understanding Go Channels

Channels let goroutines talk to each other. They are typed pipes.
Buffered channels decouple senders from receivers. Unbuffered channels synchronize them.
Use select to wait on several channels at once.`

func TestOptimize(t *testing.T) {
	s := New([]string{"Goroutines", "Rust"}, logger.Nop())

	res, err := s.Optimize(context.Background(), "Understanding Go Channels", article)
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}

	if res.Title != "Understanding Go Channels" {
		t.Errorf("Title = %q", res.Title)
	}
	if res.Slug != "understanding-go-channels" {
		t.Errorf("Slug = %q", res.Slug)
	}
	if !strings.HasPrefix(res.Description, "Channels let goroutines talk to each other. They are typed pipes. Buffered") ||
		strings.Contains(res.Description, "Use select") || len(res.Description) > MaxDescriptionLen {
		t.Errorf("Description = %q", res.Description)
	}
	if len(res.Keywords) == 0 || res.Keywords[0] != "goroutines" {
		t.Errorf("Keywords = %v, want the target keyword first", res.Keywords)
	}
	for _, k := range res.Keywords {
		if k == "rust" {
			t.Error("absent target keyword was included")
		}
	}
}

func TestOptimizeLimits(t *testing.T) {
	long := strings.Repeat("word ", 50)
	content := long + "." + " alpha beta gamma delta epsilon zeta theta iota kappa lambda omicron sigma."

	res, err := New(nil, logger.Nop()).Optimize(context.Background(), long, content)
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if len(res.Title) > MaxTitleLen {
		t.Errorf("Title length = %d", len(res.Title))
	}
	if len(res.Description) > MaxDescriptionLen || !strings.HasSuffix(res.Description, "...") {
		t.Errorf("Description = %q", res.Description)
	}
	if len(res.Keywords) > MaxKeywords {
		t.Errorf("Keywords = %d", len(res.Keywords))
	}
}

func TestOptimizeFallsBackToFirstSentence(t *testing.T) {
	res, _ := New(nil, logger.Nop()).Optimize(context.Background(), "  ", "Short intro. More text follows here.")
	if res.Title != "Short intro." {
		t.Errorf("Title = %q", res.Title)
	}
}

func TestOptimizeEmptyContent(t *testing.T) {
	res, err := New(nil, logger.Nop()).Optimize(context.Background(), "Title", "")
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if res.Description != "" {
		t.Errorf("Description = %q, want empty", res.Description)
	}
}
