package research

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/blog-autopilot/internal/config"
	"github.com/blog-autopilot/internal/provider"
	"github.com/blog-autopilot/pkg/logger"
	"github.com/blog-autopilot/pkg/ratelimit"
)

const pageProvider = "web-search"

// PageResearcher scrapes result links from an HTML search page
type PageResearcher struct {
	client     *http.Client
	searchURL  string
	selector   string
	userAgent  string
	maxSources int
	limiter    *ratelimit.MultiLimiter
	log        *logger.Logger
}

// NewPageResearcher creates a PageResearcher. limiter may be nil.
func NewPageResearcher(cfg config.WebSearchConfig, maxSources int, limiter *ratelimit.MultiLimiter, log *logger.Logger) *PageResearcher {
	if maxSources <= 0 {
		maxSources = DefaultMaxSources
	}
	return &PageResearcher{
		client:     &http.Client{Timeout: 30 * time.Second},
		searchURL:  cfg.SearchURL,
		selector:   cfg.ResultSelector,
		userAgent:  cfg.UserAgent,
		maxSources: maxSources,
		limiter:    limiter,
		log:        log.WithComponent("web-research"),
	}
}

// FindSources runs a search for topic and returns the linked results
func (r *PageResearcher) FindSources(ctx context.Context, topic string) ([]provider.Source, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx, ratelimit.LimiterWeb); err != nil {
			return nil, classifyTransport(err)
		}
	}

	endpoint := fmt.Sprintf(r.searchURL, url.QueryEscape(topic))
	base, err := url.Parse(endpoint)
	if err != nil {
		return nil, provider.Errorf(provider.KindUnsupportedInput, pageProvider, "invalid search url: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, provider.NewError(provider.KindUnsupportedInput, pageProvider, err)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.Errorf(provider.KindForStatus(resp.StatusCode), pageProvider, "search returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, provider.NewError(provider.KindMalformedOutput, pageProvider, err)
	}

	var sources []provider.Source
	seen := make(map[string]bool)
	doc.Find(r.selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, ok := sel.Attr("href")
		if !ok {
			return true
		}
		link := resolveLink(base, href)
		if link == "" || seen[link] {
			return true
		}
		seen[link] = true

		title := strings.Join(strings.Fields(sel.Text()), " ")
		if title == "" {
			title = link
		}
		sources = append(sources, provider.Source{URL: link, Title: title})
		return len(sources) < r.maxSources
	})

	if len(sources) == 0 {
		return nil, provider.Errorf(provider.KindNoSourcesFound, pageProvider, "no results for %q", topic)
	}

	r.log.Debug().Int("count", len(sources)).Str("topic", topic).Msg("Found web sources")
	return sources, nil
}

// resolveLink makes href absolute and unwraps redirect links that carry the
// target in a "uddg" or "url" query parameter. Non-http links resolve to "".
func resolveLink(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)

	for _, key := range []string{"uddg", "url"} {
		if target := abs.Query().Get(key); target != "" {
			if u, err := url.Parse(target); err == nil && u.IsAbs() {
				abs = u
				break
			}
		}
	}

	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	abs.Fragment = ""
	return abs.String()
}

func classifyTransport(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return provider.NewError(provider.KindTimeout, pageProvider, err)
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return provider.NewError(provider.KindTimeout, pageProvider, err)
	}
	return provider.NewError(provider.KindUnavailable, pageProvider, err)
}

var _ provider.Researcher = (*PageResearcher)(nil)
