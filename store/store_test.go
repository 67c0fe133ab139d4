package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/deskhive/deskhive/types"
)

// storeUnderTest lets the same suite run against every implementation.
type storeUnderTest interface {
	MessageStore
	SaveThread(ctx context.Context, th *types.Thread) error
}

func newGormStore(t *testing.T) storeUnderTest {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	s, err := NewGormMessageStore(db, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newRedisStore(t *testing.T) storeUnderTest {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisMessageStoreFromClient(client, "test:")
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedThread(t *testing.T, s storeUnderTest, threadID string, count int) []types.Message {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.SaveThread(ctx, &types.Thread{
		ID:             threadID,
		OrganizationID: "org-1",
		AgentID:        "agent-1",
		UserID:         "u-1",
		Title:          "support thread",
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}))

	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	msgs := make([]types.Message, 0, count)
	for i := 0; i < count; i++ {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		msg := types.Message{
			ThreadID:  threadID,
			Role:      role,
			Content:   fmt.Sprintf("message %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.SaveMessage(ctx, &msg))
		msgs = append(msgs, msg)
	}
	return msgs
}

func runMessageStoreSuite(t *testing.T, name string, factory func(t *testing.T) storeUnderTest) {
	t.Run(name+"/LoadMessagesNewestFirst", func(t *testing.T) {
		s := factory(t)
		seedThread(t, s, "th-1", 5)

		got, err := s.LoadMessages(context.Background(), "th-1", 3)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "message 4", got[0].Content)
		assert.Equal(t, "message 3", got[1].Content)
		assert.Equal(t, "message 2", got[2].Content)
	})

	t.Run(name+"/LoadMessagesLimitExceedsCount", func(t *testing.T) {
		s := factory(t)
		seedThread(t, s, "th-2", 2)

		got, err := s.LoadMessages(context.Background(), "th-2", 100)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run(name+"/LoadMessagesZeroLimit", func(t *testing.T) {
		s := factory(t)
		seedThread(t, s, "th-3", 2)

		got, err := s.LoadMessages(context.Background(), "th-3", 0)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run(name+"/LoadMessagesUnknownThread", func(t *testing.T) {
		s := factory(t)
		got, err := s.LoadMessages(context.Background(), "nope", 10)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run(name+"/LoadThread", func(t *testing.T) {
		s := factory(t)
		seedThread(t, s, "th-4", 1)

		th, err := s.LoadThread(context.Background(), "th-4")
		require.NoError(t, err)
		require.NotNil(t, th)
		assert.Equal(t, "org-1", th.OrganizationID)

		missing, err := s.LoadThread(context.Background(), "absent")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run(name+"/ToolCallsRoundTrip", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		msg := types.Message{
			ThreadID:  "th-5",
			Role:      types.RoleAssistant,
			Content:   "creating ticket",
			CreatedAt: time.Now().UTC().Truncate(time.Second),
		}
		msg = msg.WithToolCalls([]types.ToolCall{
			{ID: "tc-1", Name: "create_ticket", Arguments: []byte(`{"title":"bug"}`)},
		})
		require.NoError(t, s.SaveMessage(ctx, &msg))

		got, err := s.LoadMessages(ctx, "th-5", 1)
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Len(t, got[0].ToolCalls, 1)
		assert.Equal(t, "create_ticket", got[0].ToolCalls[0].Name)
		assert.JSONEq(t, `{"title":"bug"}`, string(got[0].ToolCalls[0].Arguments))
	})

	t.Run(name+"/Ping", func(t *testing.T) {
		s := factory(t)
		assert.NoError(t, s.Ping(context.Background()))
	})
}

func TestGormMessageStore(t *testing.T) {
	runMessageStoreSuite(t, "gorm", newGormStore)
}

func TestRedisMessageStore(t *testing.T) {
	runMessageStoreSuite(t, "redis", newRedisStore)
}

func TestMemoryMessageStore(t *testing.T) {
	runMessageStoreSuite(t, "memory", func(t *testing.T) storeUnderTest {
		return NewMemoryMessageStore()
	})
}
