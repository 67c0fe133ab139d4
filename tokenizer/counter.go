package tokenizer

import (
	"go.uber.org/zap"

	"github.com/deskhive/deskhive/types"
)

// Counter estimates the token cost of conversation messages for
// context-window budgeting. Counting is best-effort: on encoder failure
// it falls back to a 4-chars-per-token heuristic and never returns an
// error to the caller.
type Counter struct {
	tok    Tokenizer
	logger *zap.Logger
}

// NewCounter creates a Counter backed by the given tokenizer.
// tok may be nil, in which case the heuristic fallback is always used.
func NewCounter(tok Tokenizer, logger *zap.Logger) *Counter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Counter{
		tok:    tok,
		logger: logger.With(zap.String("component", "token_counter")),
	}
}

// CountMessageTokens returns the token cost of a single message,
// counted over its "{role}: {content}" rendering.
func (c *Counter) CountMessageTokens(msg types.Message) int {
	text := string(msg.Role) + ": " + msg.Content

	if c.tok != nil {
		n, err := c.tok.CountTokens(text)
		if err == nil {
			return n
		}
		c.logger.Warn("token encoding failed, using length heuristic",
			zap.String("tokenizer", c.tok.Name()),
			zap.Error(err),
		)
	}

	return heuristicTokens(msg.Content)
}

// CountTotalTokens returns the sum of per-message counts. No fixed
// per-message or per-conversation overhead is added; this is a
// documented simplification, not a hidden cost model.
func (c *Counter) CountTotalTokens(msgs []types.Message) int {
	total := 0
	for _, m := range msgs {
		total += c.CountMessageTokens(m)
	}
	return total
}

// heuristicTokens is the crude 4-chars-per-token estimate, floored at 1.
func heuristicTokens(content string) int {
	n := len(content) / 4
	if n < 1 {
		n = 1
	}
	return n
}
