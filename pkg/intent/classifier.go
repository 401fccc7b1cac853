package intent

import (
	"context"
	"fmt"

	"github.com/vocalis/vocalis/internal/config"
)

// Turn is the completed-turn evidence a classifier judges transition
// conditions against.
type Turn struct {
	UserText      string
	AssistantText string
}

// Classifier decides which transition condition (if any) a completed turn
// satisfies. Returns the matched condition name from candidates, or "" when
// no condition matches. Implementations must be deterministic for identical
// input: the orchestrator relies on repeated evaluation yielding the same
// target.
type Classifier interface {
	Classify(ctx context.Context, turn Turn, candidates []string) (string, error)
}

// New selects the configured classifier backend.
func New(cfg config.IntentConfig) (Classifier, error) {
	switch cfg.Classifier {
	case "", "keyword":
		return NewKeywordClassifier(), nil
	case "openai":
		return newOpenAIClassifier(cfg), nil
	case "anthropic":
		return newAnthropicClassifier(cfg), nil
	default:
		return nil, fmt.Errorf("unknown intent classifier: %s", cfg.Classifier)
	}
}
