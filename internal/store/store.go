package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// now is the clock used for created_at stamps.
var now = func() time.Time { return time.Now().UTC() }

// New opens the backend selected by cfg.Backend.
func New(ctx context.Context, cfg config.MemoryConfig, logger *zap.Logger) (schemas.MemoryStore, error) {
	logger.Debug("Opening memory store", zap.String("backend", string(cfg.Backend)))

	switch cfg.Backend {
	case config.BackendFile:
		return NewFileStore(config.ExpandPath(cfg.FilePath), logger), nil
	case config.BackendMemory:
		return NewMemoryStore(), nil
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		s, err := NewPostgresStore(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil
	case config.BackendRedis:
		return NewRedisStore(ctx, cfg.Redis, logger)
	case config.BackendSQLite:
		return NewSQLiteStore(config.ExpandPath(cfg.SQLitePath), logger)
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Backend)
	}
}

// FormatCatalog renders the session listing shown by `sessions list`.
func FormatCatalog(summaries []schemas.SessionSummary) string {
	if len(summaries) == 0 {
		return "No memory found"
	}
	var b strings.Builder
	for _, s := range summaries {
		fmt.Fprintf(&b, "Session: %s\n", s.Session)
		fmt.Fprintf(&b, "Input: %s\n", s.Input)
		fmt.Fprintf(&b, "Created At: %s\n", s.CreatedAt.Format(time.RFC3339))
		b.WriteString("-----------------------------------------\n")
	}
	return b.String()
}

func sortSummaries(summaries []schemas.SessionSummary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.Before(summaries[j].CreatedAt)
	})
}

// cloneRecord deep copies a record so callers cannot mutate stored steps.
func cloneRecord(r *schemas.SessionRecord) (*schemas.SessionRecord, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to copy session record: %w", err)
	}
	var out schemas.SessionRecord
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to copy session record: %w", err)
	}
	return &out, nil
}
