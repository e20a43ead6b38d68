package research

import (
	"context"
	"errors"
	"strings"

	"github.com/blog-autopilot/internal/provider"
	"github.com/blog-autopilot/pkg/logger"
)

// Chain asks every researcher and merges their sources in order
type Chain struct {
	researchers []provider.Researcher
	maxSources  int
	log         *logger.Logger
}

// NewChain creates a Chain. maxSources caps the merged result.
func NewChain(maxSources int, log *logger.Logger, researchers ...provider.Researcher) *Chain {
	if maxSources <= 0 {
		maxSources = DefaultMaxSources
	}
	return &Chain{
		researchers: researchers,
		maxSources:  maxSources,
		log:         log.WithComponent("research"),
	}
}

// FindSources merges results, dropping repeated URLs. When nothing is found a
// transient member failure is returned so the stage is retried; otherwise the
// topic has no sources.
func (c *Chain) FindSources(ctx context.Context, topic string) ([]provider.Source, error) {
	var (
		sources   []provider.Source
		seen      = make(map[string]bool)
		transient error
	)

	for _, r := range c.researchers {
		found, err := r.FindSources(ctx, topic)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			if !provider.KindOf(err).Permanent() && transient == nil {
				transient = err
			}
			if provider.KindOf(err) != provider.KindNoSourcesFound {
				c.log.Warn().Err(err).Str("topic", topic).Msg("Researcher failed")
			}
			continue
		}

		for _, s := range found {
			key := strings.TrimSuffix(strings.TrimSpace(s.URL), "/")
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			sources = append(sources, s)
		}
		if len(sources) >= c.maxSources {
			return sources[:c.maxSources], nil
		}
	}

	if len(sources) > 0 {
		return sources, nil
	}
	if transient != nil {
		return nil, transient
	}
	return nil, provider.Errorf(provider.KindNoSourcesFound, "research", "no sources found for %q", topic)
}

var _ provider.Researcher = (*Chain)(nil)
