package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deskhive/deskhive/types"
)

// MemoryMessageStore is an in-memory MessageStore for tests and
// single-process development.
type MemoryMessageStore struct {
	mu       sync.RWMutex
	threads  map[string]types.Thread
	messages map[string][]types.Message // threadID -> chronological
	closed   bool
}

// NewMemoryMessageStore creates an empty in-memory store.
func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{
		threads:  make(map[string]types.Thread),
		messages: make(map[string][]types.Message),
	}
}

// LoadMessages returns up to limit messages newest-first.
func (s *MemoryMessageStore) LoadMessages(_ context.Context, threadID string, limit int) ([]types.Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[threadID]
	n := len(all)
	if limit > n {
		limit = n
	}

	out := make([]types.Message, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// LoadThread returns the thread record, nil when absent.
func (s *MemoryMessageStore) LoadThread(_ context.Context, threadID string) (*types.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	th, ok := s.threads[threadID]
	if !ok {
		return nil, nil
	}
	cp := th
	return &cp, nil
}

// SaveMessage appends a message, keeping the slice chronological.
func (s *MemoryMessageStore) SaveMessage(_ context.Context, msg *types.Message) error {
	m := *msg
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := append(s.messages[m.ThreadID], m)
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	s.messages[m.ThreadID] = msgs
	return nil
}

// SaveThread stores the thread record.
func (s *MemoryMessageStore) SaveThread(_ context.Context, th *types.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[th.ID] = *th
	return nil
}

// Ping reports store health.
func (s *MemoryMessageStore) Ping(_ context.Context) error {
	return nil
}

// Close marks the store closed.
func (s *MemoryMessageStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
