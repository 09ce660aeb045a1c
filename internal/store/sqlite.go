package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// SessionModel is the session header row.
type SessionModel struct {
	SessionID string    `gorm:"primaryKey;size:64"`
	Input     string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;index"`
}

func (SessionModel) TableName() string { return "webpilot_sessions" }

// StepModel is one recorded step, stored as its JSON encoding.
type StepModel struct {
	SessionID  string    `gorm:"primaryKey;size:64"`
	StepIndex  int       `gorm:"primaryKey;autoIncrement:false"`
	Payload    string    `gorm:"not null"`
	RecordedAt time.Time `gorm:"not null"`
}

func (StepModel) TableName() string { return "webpilot_steps" }

// SQLiteStore persists sessions through gorm on a pure-Go SQLite driver.
type SQLiteStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ schemas.MemoryStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and migrates it.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if !strings.Contains(path, ":memory:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sqlite handle: %w", err)
	}
	// SQLite serializes writers; one connection also keeps :memory: databases coherent.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&SessionModel{}, &StepModel{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger.Named("store.sqlite")}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, sessionID, input string, step schemas.Step) error {
	payload, err := json.MarshalToString(step)
	if err != nil {
		return fmt.Errorf("failed to encode step: %w", err)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session := SessionModel{SessionID: sessionID, Input: input, CreatedAt: now()}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&session).Error; err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		row := StepModel{SessionID: sessionID, StepIndex: step.Index, Payload: payload, RecordedAt: step.Timestamp.UTC()}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to insert step %d: %w", step.Index, err)
		}
		return nil
	})
}

func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (*schemas.SessionRecord, error) {
	db := s.db.WithContext(ctx)

	var session SessionModel
	if err := db.First(&session, "session_id = ?", sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, schemas.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	var rows []StepModel
	if err := db.Where("session_id = ?", sessionID).Order("step_index asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}

	rec := &schemas.SessionRecord{
		Session:   session.SessionID,
		Input:     session.Input,
		CreatedAt: session.CreatedAt.UTC(),
		Steps:     make([]schemas.Step, 0, len(rows)),
	}
	for _, row := range rows {
		var step schemas.Step
		if err := json.UnmarshalFromString(row.Payload, &step); err != nil {
			return nil, fmt.Errorf("failed to decode step: %w", err)
		}
		rec.Steps = append(rec.Steps, step)
	}
	return rec, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]schemas.SessionSummary, error) {
	var sessions []SessionModel
	if err := s.db.WithContext(ctx).Order("created_at asc").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	summaries := make([]schemas.SessionSummary, 0, len(sessions))
	for _, m := range sessions {
		summaries = append(summaries, schemas.SessionSummary{Session: m.SessionID, Input: m.Input, CreatedAt: m.CreatedAt.UTC()})
	}
	return summaries, nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
