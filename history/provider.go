// Package history provides token-budgeted retrieval of thread messages
// and conversion into the shapes LLM consumers need.
package history

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/deskhive/deskhive/internal/metrics"
	"github.com/deskhive/deskhive/store"
	"github.com/deskhive/deskhive/tokenizer"
	"github.com/deskhive/deskhive/types"
)

// ProviderConfig holds the history retrieval policy knobs.
type ProviderConfig struct {
	// MaxLoadMessages is the safety cap on messages loaded per thread.
	MaxLoadMessages int

	// SmallThreadLimit is the message count at or below which budget
	// filtering is skipped entirely.
	SmallThreadLimit int
}

// DefaultProviderConfig returns the default retrieval policy.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		MaxLoadMessages:  1000,
		SmallThreadLimit: 10,
	}
}

// Provider loads a thread's persisted messages and applies token-budget
// truncation. Memory context is best effort: losing it never fails the
// parent request.
type Provider struct {
	store   store.MessageStore
	counter *tokenizer.Counter
	config  ProviderConfig
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewProvider creates a history provider. metrics may be nil.
func NewProvider(st store.MessageStore, counter *tokenizer.Counter, config ProviderConfig, collector *metrics.Collector, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxLoadMessages <= 0 {
		config.MaxLoadMessages = 1000
	}
	if config.SmallThreadLimit < 0 {
		config.SmallThreadLimit = 0
	}
	return &Provider{
		store:   st,
		counter: counter,
		config:  config,
		metrics: collector,
		logger:  logger.With(zap.String("component", "history_provider")),
	}
}

// GetThreadMessages returns the thread's messages in chronological
// order, truncated so that the total token count stays within
// maxContextSize. The most recent messages are always kept; older ones
// are dropped first.
//
// When useMemoryContext is false or maxContextSize is not positive the
// result is empty without touching storage: a policy toggle, not an
// error. Retrieval or counting failures are logged and yield an empty
// result.
func (p *Provider) GetThreadMessages(ctx context.Context, threadID string, maxContextSize int, useMemoryContext bool) []types.Message {
	if !useMemoryContext || maxContextSize <= 0 {
		return []types.Message{}
	}
	msgs, err := p.LoadThreadMessages(ctx, threadID, maxContextSize)
	if err != nil {
		return []types.Message{}
	}
	return msgs
}

// LoadThreadMessages is GetThreadMessages without the policy toggle:
// it always hits storage and surfaces load failures to the caller.
func (p *Provider) LoadThreadMessages(ctx context.Context, threadID string, maxContextSize int) ([]types.Message, error) {
	start := time.Now()

	// Newest-first so truncation drops the oldest messages.
	newestFirst, err := p.store.LoadMessages(ctx, threadID, p.config.MaxLoadMessages)
	if err != nil {
		p.logger.Warn("history load failed, continuing without memory context",
			zap.String("thread_id", threadID),
			zap.Error(err),
		)
		p.metrics.RecordHistoryLoad("failed", 0, false, time.Since(start))
		return nil, types.NewError(types.ErrStoreError, "load thread messages").WithCause(err)
	}

	// Small threads skip budget filtering entirely.
	if len(newestFirst) <= p.config.SmallThreadLimit {
		out := reverseMessages(newestFirst)
		p.metrics.RecordHistoryLoad("ok", len(out), false, time.Since(start))
		return out, nil
	}

	kept := make([]types.Message, 0, len(newestFirst))
	total := 0
	for _, msg := range newestFirst {
		cost := p.counter.CountMessageTokens(msg)
		if total+cost > maxContextSize {
			break
		}
		total += cost
		kept = append(kept, msg)
	}

	out := reverseMessages(kept)
	truncated := len(out) < len(newestFirst)
	if truncated {
		p.logger.Debug("history truncated to fit context budget",
			zap.String("thread_id", threadID),
			zap.Int("loaded", len(newestFirst)),
			zap.Int("kept", len(out)),
			zap.Int("tokens", total),
			zap.Int("budget", maxContextSize),
		)
	}
	p.metrics.RecordHistoryLoad("ok", len(out), truncated, time.Since(start))
	return out, nil
}

// reverseMessages returns a new slice in the opposite order.
func reverseMessages(msgs []types.Message) []types.Message {
	out := make([]types.Message, len(msgs))
	for i, m := range msgs {
		out[len(msgs)-1-i] = m
	}
	return out
}
