// Package service wires the history, auth and tool-client layers into
// the operations the API surface exposes.
package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/deskhive/deskhive/history"
	"github.com/deskhive/deskhive/types"
)

// HistorySource tells the caller where a history result came from.
type HistorySource string

const (
	// HistoryDisabled means memory context was switched off or the
	// budget was non-positive; storage was never touched.
	HistoryDisabled HistorySource = "disabled"
	// HistoryFailed means the load failed and the conversation
	// continues without memory context.
	HistoryFailed HistorySource = "failed"
	// HistoryOK means messages were loaded and truncated to budget.
	HistoryOK HistorySource = "ok"
)

// HistoryResult is a bounded history slice plus its provenance, so an
// empty result is not ambiguous.
type HistoryResult struct {
	Source    HistorySource   `json:"source"`
	Messages  []types.Message `json:"messages"`
	Formatted any             `json:"formatted,omitempty"`
}

// Memory is the facade over history retrieval and format conversion.
type Memory struct {
	provider  *history.Provider
	converter *history.Converter
	logger    *zap.Logger
}

// NewMemory creates the memory facade.
func NewMemory(provider *history.Provider, converter *history.Converter, logger *zap.Logger) *Memory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if converter == nil {
		converter = history.NewConverter()
	}
	return &Memory{
		provider:  provider,
		converter: converter,
		logger:    logger.With(zap.String("component", "memory_service")),
	}
}

// GetBoundedHistory loads a thread's messages within the token budget
// and reshapes them into the requested format. Load failures degrade to
// an empty result marked HistoryFailed; only an unknown format is an
// error.
func (m *Memory) GetBoundedHistory(ctx context.Context, threadID string, maxContextSize int, useMemoryContext bool, format history.Format) (*HistoryResult, error) {
	if !useMemoryContext || maxContextSize <= 0 {
		return &HistoryResult{Source: HistoryDisabled, Messages: []types.Message{}}, nil
	}

	msgs, err := m.provider.LoadThreadMessages(ctx, threadID, maxContextSize)
	if err != nil {
		return &HistoryResult{Source: HistoryFailed, Messages: []types.Message{}}, nil
	}

	formatted, err := m.converter.Convert(msgs, format)
	if err != nil {
		return nil, err
	}

	return &HistoryResult{
		Source:    HistoryOK,
		Messages:  msgs,
		Formatted: formatted,
	}, nil
}
