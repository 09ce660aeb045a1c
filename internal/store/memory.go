package store

import (
	"context"
	"sync"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// MemoryStore keeps sessions in process memory. It backs tests and runs that
// should leave no trace.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*schemas.SessionRecord
	order    []string
}

var _ schemas.MemoryStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*schemas.SessionRecord)}
}

func (s *MemoryStore) Append(ctx context.Context, sessionID, input string, step schemas.Step) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		rec = &schemas.SessionRecord{Session: sessionID, Input: input, CreatedAt: now(), Steps: []schemas.Step{}}
		s.sessions[sessionID] = rec
		s.order = append(s.order, sessionID)
	}
	rec.Steps = append(rec.Steps, step)
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, sessionID string) (*schemas.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil, schemas.ErrSessionNotFound
	}
	return cloneRecord(rec)
}

func (s *MemoryStore) List(ctx context.Context) ([]schemas.SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]schemas.SessionSummary, 0, len(s.order))
	for _, id := range s.order {
		summaries = append(summaries, s.sessions[id].Summary())
	}
	sortSummaries(summaries)
	return summaries, nil
}

func (s *MemoryStore) Close() error { return nil }
