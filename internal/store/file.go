package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// FileStore keeps the whole catalog in one JSON document.
type FileStore struct {
	path   string
	mu     sync.Mutex
	logger *zap.Logger
}

var _ schemas.MemoryStore = (*FileStore)(nil)

// NewFileStore does not touch the disk; the file is created on first append.
func NewFileStore(path string, logger *zap.Logger) *FileStore {
	return &FileStore{path: path, logger: logger.Named("store.file")}
}

func (s *FileStore) read() ([]schemas.SessionRecord, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read memory file: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var records []schemas.SessionRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("failed to decode memory file %s: %w", s.path, err)
	}
	return records, nil
}

// write replaces the file atomically.
func (s *FileStore) write(records []schemas.SessionRecord) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create memory directory: %w", err)
	}
	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode memory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write memory: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write memory: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace memory file: %w", err)
	}
	return nil
}

// Append adds step to the session, creating the session on first use.
func (s *FileStore) Append(ctx context.Context, sessionID, input string, step schemas.Step) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return err
	}
	idx := -1
	for i := range records {
		if records[i].Session == sessionID {
			idx = i
			break
		}
	}
	if idx == -1 {
		records = append(records, schemas.SessionRecord{Session: sessionID, Input: input, CreatedAt: now(), Steps: []schemas.Step{}})
		idx = len(records) - 1
		s.logger.Debug("Created session", zap.String("session_id", sessionID))
	}
	records[idx].Steps = append(records[idx].Steps, step)
	return s.write(records)
}

// Load returns schemas.ErrSessionNotFound for unknown ids.
func (s *FileStore) Load(ctx context.Context, sessionID string) (*schemas.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].Session == sessionID {
			return &records[i], nil
		}
	}
	return nil, schemas.ErrSessionNotFound
}

// List returns the catalog ordered by creation time.
func (s *FileStore) List(ctx context.Context) ([]schemas.SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return nil, err
	}
	summaries := make([]schemas.SessionSummary, 0, len(records))
	for _, r := range records {
		summaries = append(summaries, r.Summary())
	}
	sortSummaries(summaries)
	return summaries, nil
}

func (s *FileStore) Close() error { return nil }
