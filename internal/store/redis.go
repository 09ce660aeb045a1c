package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// listConcurrency bounds the parallel header fetches of List.
const listConcurrency = 8

// RedisStore keeps each session as a hash of headers plus a list of encoded
// steps, indexed by a sorted set scored by creation time.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	logger    *zap.Logger
}

var _ schemas.MemoryStore = (*RedisStore)(nil)

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisStoreFromClient(client, cfg.KeyPrefix, logger), nil
}

// NewRedisStoreFromClient wraps an existing client. The store takes ownership of it.
func NewRedisStoreFromClient(client redis.UniversalClient, keyPrefix string, logger *zap.Logger) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "webpilot:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix, logger: logger.Named("store.redis")}
}

func (s *RedisStore) sessionKey(id string) string { return s.keyPrefix + "session:" + id }
func (s *RedisStore) stepsKey(id string) string   { return s.keyPrefix + "steps:" + id }
func (s *RedisStore) indexKey() string            { return s.keyPrefix + "sessions" }

// Append records the session headers on first use and pushes the step.
func (s *RedisStore) Append(ctx context.Context, sessionID, input string, step schemas.Step) error {
	payload, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("failed to encode step: %w", err)
	}
	created := now()

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, s.sessionKey(sessionID), "input", input)
		pipe.HSetNX(ctx, s.sessionKey(sessionID), "created_at", created.Format(time.RFC3339Nano))
		pipe.ZAddNX(ctx, s.indexKey(), redis.Z{Score: float64(created.UnixMicro()), Member: sessionID})
		pipe.RPush(ctx, s.stepsKey(sessionID), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append step: %w", err)
	}
	return nil
}

func (s *RedisStore) summary(ctx context.Context, sessionID string) (*schemas.SessionSummary, error) {
	fields, err := s.client.HGetAll(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", sessionID, err)
	}
	if len(fields) == 0 {
		return nil, schemas.ErrSessionNotFound
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("session %s has a malformed created_at: %w", sessionID, err)
	}
	return &schemas.SessionSummary{Session: sessionID, Input: fields["input"], CreatedAt: createdAt.UTC()}, nil
}

// Load returns schemas.ErrSessionNotFound for unknown ids.
func (s *RedisStore) Load(ctx context.Context, sessionID string) (*schemas.SessionRecord, error) {
	sum, err := s.summary(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	raw, err := s.client.LRange(ctx, s.stepsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read steps: %w", err)
	}

	rec := &schemas.SessionRecord{Session: sum.Session, Input: sum.Input, CreatedAt: sum.CreatedAt, Steps: make([]schemas.Step, 0, len(raw))}
	for _, item := range raw {
		var step schemas.Step
		if err := json.UnmarshalFromString(item, &step); err != nil {
			return nil, fmt.Errorf("failed to decode step: %w", err)
		}
		rec.Steps = append(rec.Steps, step)
	}
	return rec, nil
}

// List reads the index in creation order and fetches the headers in parallel.
func (s *RedisStore) List(ctx context.Context) ([]schemas.SessionSummary, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session index: %w", err)
	}

	summaries := make([]*schemas.SessionSummary, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			sum, err := s.summary(gctx, id)
			if err != nil {
				return err
			}
			summaries[i] = sum
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]schemas.SessionSummary, 0, len(summaries))
	for _, sum := range summaries {
		out = append(out, *sum)
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
