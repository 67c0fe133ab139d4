// Package store provides the thread/message read model backing
// conversational memory. The memory core treats storage as read-only:
// implementations return ordered Message records and never expose
// mutation of history to the pipeline.
package store

import (
	"context"

	"github.com/deskhive/deskhive/types"
)

// MessageStore is the storage boundary consumed by the history provider.
type MessageStore interface {
	// LoadMessages returns up to limit messages for the thread, ordered
	// newest-first by created_at.
	LoadMessages(ctx context.Context, threadID string, limit int) ([]types.Message, error)

	// LoadThread returns the thread record, or nil when it does not exist.
	LoadThread(ctx context.Context, threadID string) (*types.Thread, error)

	// SaveMessage appends a message to a thread. Used by the inbound
	// message path, not by the memory core.
	SaveMessage(ctx context.Context, msg *types.Message) error

	// Ping checks store health.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}
