// Package source defines topic sources and the manager that fans fetches
// out across them.
package source

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"

	"github.com/blog-autopilot/internal/models"
)

// TopicSource defines the interface for topic discovery sources
type TopicSource interface {
	// Name returns the unique name of this source
	Name() string

	// Type returns the source type (rss, custom)
	Type() string

	// Fetch retrieves topics from the source
	Fetch(ctx context.Context) ([]*models.RawTopic, error)

	// HealthCheck verifies the source is accessible
	HealthCheck(ctx context.Context) error
}

// GenerateExternalID creates a stable ID for a topic from its source type and
// URL. Surrounding space and a trailing slash do not change the ID.
func GenerateExternalID(sourceType, url string) string {
	url = strings.TrimSuffix(strings.TrimSpace(url), "/")
	hash := sha256.Sum256([]byte(sourceType + ":" + url))
	return fmt.Sprintf("%x", hash[:16])
}

// Manager manages multiple topic sources
type Manager struct {
	mu      sync.RWMutex
	sources []TopicSource
}

// NewManager creates a new source manager
func NewManager() *Manager {
	return &Manager{}
}

// Register adds a source. A source with the same name is replaced in place.
func (m *Manager) Register(src TopicSource) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, s := range m.sources {
		if s.Name() == src.Name() {
			m.sources[i] = src
			return
		}
	}
	m.sources = append(m.sources, src)
}

// GetSources returns all registered sources in registration order
func (m *Manager) GetSources() []TopicSource {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]TopicSource(nil), m.sources...)
}

// GetSourceByName returns a source by name, or nil
func (m *Manager) GetSourceByName(name string) TopicSource {
	for _, s := range m.GetSources() {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// GetSourcesByType returns all sources of a given type
func (m *Manager) GetSourcesByType(sourceType string) []TopicSource {
	var result []TopicSource
	for _, s := range m.GetSources() {
		if s.Type() == sourceType {
			result = append(result, s)
		}
	}
	return result
}

// FetchAll fetches from every source concurrently. Topics come back grouped
// in registration order; each failure is wrapped with its source name.
func (m *Manager) FetchAll(ctx context.Context) ([]*models.RawTopic, []error) {
	return fetch(ctx, m.GetSources())
}

// FetchByType fetches from the sources of one type only
func (m *Manager) FetchByType(ctx context.Context, sourceType string) ([]*models.RawTopic, []error) {
	return fetch(ctx, m.GetSourcesByType(sourceType))
}

// HealthCheck checks every source and returns the failures keyed by source name
func (m *Manager) HealthCheck(ctx context.Context) map[string]error {
	failures := make(map[string]error)
	for _, s := range m.GetSources() {
		if err := s.HealthCheck(ctx); err != nil {
			failures[s.Name()] = err
		}
	}
	return failures
}

func fetch(ctx context.Context, sources []TopicSource) ([]*models.RawTopic, []error) {
	topics := make([][]*models.RawTopic, len(sources))
	errs := make([]error, len(sources))

	var wg sync.WaitGroup
	for i, s := range sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t, err := s.Fetch(ctx)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", s.Name(), err)
				return
			}
			topics[i] = t
		}()
	}
	wg.Wait()

	var all []*models.RawTopic
	var failed []error
	for i := range sources {
		if errs[i] != nil {
			failed = append(failed, errs[i])
			continue
		}
		all = append(all, topics[i]...)
	}
	return all, failed
}
