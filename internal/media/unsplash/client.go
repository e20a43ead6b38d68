// Package unsplash is a small client for the Unsplash search API, used to
// pick post thumbnails.
package unsplash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/blog-autopilot/pkg/logger"
	"github.com/blog-autopilot/pkg/ratelimit"
)

const (
	defaultBaseURL = "https://api.unsplash.com"

	// MaxImageBytes caps a downloaded thumbnail
	MaxImageBytes = 10 << 20
)

// ErrNoPhotos is returned when a search has no results
var ErrNoPhotos = errors.New("no photos found")

// APIError is a non-200 response from Unsplash
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("unsplash API error (status %d): %s", e.StatusCode, e.Body)
}

// Photo is one search result
type Photo struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	AltDesc     string `json:"alt_description"`
	URLs        URLs   `json:"urls"`
	User        User   `json:"user"`
	Links       Links  `json:"links"`
}

// URLs holds the rendition links of a photo
type URLs struct {
	Raw     string `json:"raw"`
	Full    string `json:"full"`
	Regular string `json:"regular"` // 1080px wide
	Small   string `json:"small"`
	Thumb   string `json:"thumb"`
}

// User is the photographer
type User struct {
	Name     string `json:"name"`
	Username string `json:"username"`
}

// Links holds the photo page and the download tracking endpoint
type Links struct {
	HTML             string `json:"html"`
	Download         string `json:"download"`
	DownloadLocation string `json:"download_location"`
}

type searchResponse struct {
	Total   int     `json:"total"`
	Results []Photo `json:"results"`
}

// Client talks to the Unsplash API
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimit.MultiLimiter
	pick       func(n int) int
	log        *logger.Logger
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL points the client at another API host
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithPicker replaces the random choice among search results
func WithPicker(pick func(n int) int) Option {
	return func(c *Client) { c.pick = pick }
}

// NewClient creates an Unsplash client. limiter may be nil.
func NewClient(apiKey string, limiter *ratelimit.MultiLimiter, log *logger.Logger, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    limiter,
		pick:       rand.Intn,
		log:        log.WithComponent("unsplash"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// get issues a GET. API calls carry the access key; image fetches do not.
func (c *Client) get(ctx context.Context, rawURL string, api bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if api {
		req.Header.Set("Authorization", "Client-ID "+c.apiKey)
		req.Header.Set("Accept-Version", "v1")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return resp, nil
}

// SearchPhotos returns up to perPage landscape photos for query
func (c *Client) SearchPhotos(ctx context.Context, query string, perPage int) ([]Photo, error) {
	perPage = max(1, min(perPage, 30))

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, ratelimit.LimiterUnsplash); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	params := url.Values{
		"query":          {query},
		"per_page":       {strconv.Itoa(perPage)},
		"orientation":    {"landscape"},
		"content_filter": {"high"},
	}
	resp, err := c.get(ctx, c.baseURL+"/search/photos?"+params.Encode(), true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.log.Debug().
		Str("query", query).
		Int("total", result.Total).
		Int("returned", len(result.Results)).
		Msg("Photo search completed")
	return result.Results, nil
}

// GetBestPhoto picks one of the top results for query
func (c *Client) GetBestPhoto(ctx context.Context, query string) (*Photo, error) {
	photos, err := c.SearchPhotos(ctx, query, 10)
	if err != nil {
		return nil, err
	}
	if len(photos) == 0 {
		return nil, fmt.Errorf("%w for query: %s", ErrNoPhotos, query)
	}
	return &photos[c.pick(len(photos))], nil
}

// DownloadPhoto fetches the regular rendition and records the download as
// the Unsplash guidelines require
func (c *Client) DownloadPhoto(ctx context.Context, photo *Photo) ([]byte, error) {
	c.TrackDownload(ctx, photo)

	imageURL := photo.URLs.Regular
	if imageURL == "" {
		imageURL = photo.URLs.Full
	}
	if imageURL == "" {
		return nil, fmt.Errorf("photo %s has no image url", photo.ID)
	}

	resp, err := c.get(ctx, imageURL, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	if len(data) > MaxImageBytes {
		return nil, fmt.Errorf("photo %s exceeds %d bytes", photo.ID, MaxImageBytes)
	}

	c.log.Info().
		Str("photo_id", photo.ID).
		Int("size_bytes", len(data)).
		Str("photographer", photo.User.Name).
		Msg("Photo downloaded")
	return data, nil
}

// TrackDownload hits the photo's download location. Failures are only logged.
func (c *Client) TrackDownload(ctx context.Context, photo *Photo) {
	if photo.Links.DownloadLocation == "" {
		return
	}
	resp, err := c.get(ctx, photo.Links.DownloadLocation, true)
	if err != nil {
		c.log.Debug().Err(err).Str("photo_id", photo.ID).Msg("Download tracking failed")
		return
	}
	resp.Body.Close()
}

// GetAttribution returns the credit line for a photo
func (c *Client) GetAttribution(photo *Photo) string {
	return fmt.Sprintf("Photo by %s on Unsplash", photo.User.Name)
}
