package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/teleconsulta/coordinator/internal/domain"
)

// FileStore persists room states to a JSON snapshot so a restarted
// process can pick up rooms that were still open. It rewrites the whole
// snapshot on every change; the room table is small.
type FileStore struct {
	path string

	mu    sync.Mutex
	rooms map[domain.RoomCode]domain.RoomState
}

func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:  path,
		rooms: make(map[domain.RoomCode]domain.RoomState),
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read room snapshot: %w", err)
	}
	var states []domain.RoomState
	if err := json.Unmarshal(raw, &states); err != nil {
		return nil, fmt.Errorf("decode room snapshot %s: %w", path, err)
	}
	for _, st := range states {
		s.rooms[st.Code] = st
	}
	return s, nil
}

func (s *FileStore) LoadActiveRooms(ctx context.Context) ([]domain.RoomState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RoomState, 0, len(s.rooms))
	for _, st := range s.rooms {
		if st.Status != domain.StatusFinalized {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *FileStore) RecordStatusChange(ctx context.Context, room domain.RoomState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if room.Status == domain.StatusFinalized {
		// Finalized rooms never come back; keep the snapshot lean.
		delete(s.rooms, room.Code)
	} else {
		s.rooms[room.Code] = room
	}
	return s.saveLocked()
}

func (s *FileStore) saveLocked() error {
	states := make([]domain.RoomState, 0, len(s.rooms))
	for _, st := range s.rooms {
		states = append(states, st)
	}
	raw, err := json.MarshalIndent(states, "", "  ")
	if err != nil {
		return fmt.Errorf("encode room snapshot: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("snapshot dir: %w", err)
	}
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write room snapshot: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// MemoryPersistence is RoomPersistence for tests and ephemeral runs.
type MemoryPersistence struct {
	mu    sync.Mutex
	rooms map[domain.RoomCode]domain.RoomState
}

func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{rooms: make(map[domain.RoomCode]domain.RoomState)}
}

func (m *MemoryPersistence) LoadActiveRooms(ctx context.Context) ([]domain.RoomState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.RoomState, 0, len(m.rooms))
	for _, st := range m.rooms {
		if st.Status != domain.StatusFinalized {
			out = append(out, st)
		}
	}
	return out, nil
}

func (m *MemoryPersistence) RecordStatusChange(ctx context.Context, room domain.RoomState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[room.Code] = room
	return nil
}
