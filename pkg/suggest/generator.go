package suggest

import (
	"context"
	"fmt"
	"time"

	"github.com/kkhouse/wecopilot/pkg/convstore"
	"github.com/kkhouse/wecopilot/pkg/knowledge"
	"github.com/kkhouse/wecopilot/pkg/logger"
)

// maxSuggestions caps what a single generation returns.
const maxSuggestions = 3

// Generator runs one completion against the primary provider, falling back to
// the secondary on error, and parses the output into suggestions.
type Generator struct {
	primary  Provider
	fallback Provider
	timeout  time.Duration
	markers  []string
}

func NewGenerator(primary, fallback Provider, timeout time.Duration) *Generator {
	return &Generator{
		primary:  primary,
		fallback: fallback,
		timeout:  timeout,
		markers:  DefaultMarkers(),
	}
}

// SetMarkers overrides the output markers the parser looks for.
func (g *Generator) SetMarkers(markers []string) {
	if len(markers) > 0 {
		g.markers = markers
	}
}

// Generate builds the prompt and completes it, trying the fallback provider
// when the primary errors. Both failing is an error; unparseable output is
// not, it is just zero suggestions.
func (g *Generator) Generate(ctx context.Context, query string, history []convstore.Turn, passages []knowledge.Passage) ([]string, error) {
	if g.primary == nil {
		return nil, fmt.Errorf("suggest: no provider configured")
	}

	prompt := BuildPrompt(query, history, passages)
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	content, err := g.primary.Complete(ctx, prompt)
	if err != nil {
		if g.fallback == nil {
			return nil, fmt.Errorf("suggest: %s: %w", g.primary.Name(), err)
		}
		logger.WarnCF("suggest", "Primary provider failed, trying fallback",
			map[string]interface{}{
				"primary":  g.primary.Name(),
				"fallback": g.fallback.Name(),
				"error":    err.Error(),
			})
		content, err = g.fallback.Complete(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("suggest: %s: %w", g.fallback.Name(), err)
		}
	}

	suggestions := ParseSuggestions(content, g.markers)
	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}
	logger.DebugCF("suggest", "Suggestions generated",
		map[string]interface{}{"count": len(suggestions)})
	return suggestions, nil
}
