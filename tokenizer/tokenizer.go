// Package tokenizer provides token counting for context-window budgeting.
// It supports exact counting via tiktoken encodings with a character-based
// estimator fallback so that counting never fails a request.
package tokenizer

import (
	"fmt"
	"sync"
)

// Tokenizer is the unified token counting interface.
type Tokenizer interface {
	// CountTokens returns the token count for the given text.
	CountTokens(text string) (int, error)

	// Encode converts text into a list of token IDs.
	Encode(text string) ([]int, error)

	// MaxTokens returns the model's maximum context length.
	MaxTokens() int

	// Name returns the tokenizer name.
	Name() string
}

// Global tokenizer registry keyed by model name.
var (
	modelTokenizers   = make(map[string]Tokenizer)
	modelTokenizersMu sync.RWMutex
)

// RegisterTokenizer registers a tokenizer for the given model name.
func RegisterTokenizer(model string, t Tokenizer) {
	modelTokenizersMu.Lock()
	defer modelTokenizersMu.Unlock()
	modelTokenizers[model] = t
}

// GetTokenizer returns the tokenizer registered for the given model.
// Prefix matches are attempted (e.g. "gpt-4o" matches "gpt-4o-mini").
func GetTokenizer(model string) (Tokenizer, error) {
	modelTokenizersMu.RLock()
	defer modelTokenizersMu.RUnlock()

	if t, ok := modelTokenizers[model]; ok {
		return t, nil
	}

	for prefix, t := range modelTokenizers {
		if len(model) >= len(prefix) && model[:len(prefix)] == prefix {
			return t, nil
		}
	}

	return nil, fmt.Errorf("no tokenizer registered for model: %s", model)
}

// GetTokenizerOrEstimator returns the registered tokenizer for the model.
// Models with a known tiktoken encoding get a tiktoken tokenizer built
// and registered on first use; everything else falls back to a generic
// estimator. Encoding failures at count time degrade per tokenizer.
func GetTokenizerOrEstimator(model string) Tokenizer {
	if t, err := GetTokenizer(model); err == nil {
		return t
	}
	if _, ok := encodingForModel(model); ok {
		t := NewTiktokenTokenizer(model)
		RegisterTokenizer(model, t)
		return t
	}
	return NewEstimatorTokenizer(model, 0)
}
