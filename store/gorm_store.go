package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/deskhive/deskhive/config"
	"github.com/deskhive/deskhive/types"
)

// threadRecord is the gorm model for threads.
type threadRecord struct {
	ID             string `gorm:"primaryKey;size:36"`
	OrganizationID string `gorm:"size:36;index"`
	AgentID        string `gorm:"size:36;index"`
	UserID         string `gorm:"size:36;index"`
	Title          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (threadRecord) TableName() string { return "threads" }

// messageRecord is the gorm model for messages.
type messageRecord struct {
	ID          string `gorm:"primaryKey;size:36"`
	ThreadID    string `gorm:"size:36;index:idx_thread_created,priority:1"`
	Role        string `gorm:"size:16"`
	Content     string `gorm:"type:text"`
	ToolCalls   []byte `gorm:"type:text"` // JSON-serialized []types.ToolCall
	Attachments []byte `gorm:"type:text"` // JSON-serialized []types.Attachment
	CreatedAt   time.Time `gorm:"index:idx_thread_created,priority:2"`
}

func (messageRecord) TableName() string { return "messages" }

// GormMessageStore is the relational MessageStore implementation.
type GormMessageStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to the configured database and returns a ready store.
// Supported drivers: postgres, mysql, sqlite.
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*GormMessageStore, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "mysql":
		dialector = mysql.Open(cfg.DSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	return NewGormMessageStore(db, logger)
}

// NewGormMessageStore wraps an existing gorm connection. The schema is
// auto-migrated; production deployments own migrations elsewhere, this
// keeps embedded/test databases usable out of the box.
func NewGormMessageStore(db *gorm.DB, logger *zap.Logger) (*GormMessageStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&threadRecord{}, &messageRecord{}); err != nil {
		return nil, fmt.Errorf("migrate message store: %w", err)
	}
	return &GormMessageStore{
		db:     db,
		logger: logger.With(zap.String("component", "gorm_message_store")),
	}, nil
}

// LoadMessages returns up to limit messages newest-first.
func (s *GormMessageStore) LoadMessages(ctx context.Context, threadID string, limit int) ([]types.Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	var records []messageRecord
	err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, types.NewError(types.ErrStoreError, "load messages").WithCause(err)
	}

	msgs := make([]types.Message, 0, len(records))
	for _, r := range records {
		msg, err := r.toMessage()
		if err != nil {
			s.logger.Warn("skipping undecodable message",
				zap.String("message_id", r.ID),
				zap.Error(err),
			)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// LoadThread returns the thread record, nil when absent.
func (s *GormMessageStore) LoadThread(ctx context.Context, threadID string) (*types.Thread, error) {
	var r threadRecord
	err := s.db.WithContext(ctx).First(&r, "id = ?", threadID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewError(types.ErrStoreError, "load thread").WithCause(err)
	}
	return &types.Thread{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		AgentID:        r.AgentID,
		UserID:         r.UserID,
		Title:          r.Title,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}, nil
}

// SaveMessage appends a message.
func (s *GormMessageStore) SaveMessage(ctx context.Context, msg *types.Message) error {
	r, err := toMessageRecord(msg)
	if err != nil {
		return types.NewError(types.ErrStoreError, "encode message").WithCause(err)
	}
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return types.NewError(types.ErrStoreError, "save message").WithCause(err)
	}
	return nil
}

// SaveThread upserts a thread record.
func (s *GormMessageStore) SaveThread(ctx context.Context, th *types.Thread) error {
	r := threadRecord{
		ID:             th.ID,
		OrganizationID: th.OrganizationID,
		AgentID:        th.AgentID,
		UserID:         th.UserID,
		Title:          th.Title,
		CreatedAt:      th.CreatedAt,
		UpdatedAt:      th.UpdatedAt,
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Save(&r).Error; err != nil {
		return types.NewError(types.ErrStoreError, "save thread").WithCause(err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *GormMessageStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *GormMessageStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r messageRecord) toMessage() (types.Message, error) {
	msg := types.Message{
		ID:        r.ID,
		ThreadID:  r.ThreadID,
		Role:      types.Role(r.Role),
		Content:   r.Content,
		CreatedAt: r.CreatedAt,
	}
	if len(r.ToolCalls) > 0 {
		if err := json.Unmarshal(r.ToolCalls, &msg.ToolCalls); err != nil {
			return types.Message{}, fmt.Errorf("decode tool calls: %w", err)
		}
	}
	if len(r.Attachments) > 0 {
		if err := json.Unmarshal(r.Attachments, &msg.Attachments); err != nil {
			return types.Message{}, fmt.Errorf("decode attachments: %w", err)
		}
	}
	return msg, nil
}

func toMessageRecord(msg *types.Message) (*messageRecord, error) {
	r := &messageRecord{
		ID:        msg.ID,
		ThreadID:  msg.ThreadID,
		Role:      string(msg.Role),
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if len(msg.ToolCalls) > 0 {
		b, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return nil, fmt.Errorf("encode tool calls: %w", err)
		}
		r.ToolCalls = b
	}
	if len(msg.Attachments) > 0 {
		b, err := json.Marshal(msg.Attachments)
		if err != nil {
			return nil, fmt.Errorf("encode attachments: %w", err)
		}
		r.Attachments = b
	}
	return r, nil
}
