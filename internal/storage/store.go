// Package storage persists finished session results. A Postgres
// implementation backs production; an in-memory implementation serves tests
// and runs without a database.
package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"letterfall/engine/internal/session"
)

// ErrClosed indicates the store has been shut down.
var ErrClosed = errors.New("storage: store is closed")

// Record is one persisted session result.
type Record struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Result    *session.Result `json:"result"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store saves session results and serves recent history per player.
type Store interface {
	SaveResult(ctx context.Context, userID string, result *session.Result) error
	ResultsByUser(ctx context.Context, userID string, limit int) ([]Record, error)
	SavedCount(ctx context.Context) (int64, error)
	Close()
}

// MemoryStore is a Store kept entirely in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
	closed  bool
	now     func() time.Time
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// SaveResult appends the result to the in-memory log.
func (s *MemoryStore) SaveResult(ctx context.Context, userID string, result *session.Result) error {
	if result == nil {
		return errors.New("storage: result must be provided")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.records = append(s.records, Record{
		ID:        uuid.NewString(),
		UserID:    userID,
		Result:    result,
		CreatedAt: s.now(),
	})
	return nil
}

// ResultsByUser returns the newest results for one player, newest first.
func (s *MemoryStore) ResultsByUser(ctx context.Context, userID string, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	matched := make([]Record, 0)
	for _, record := range s.records {
		if record.UserID == userID {
			matched = append(matched, record)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// SavedCount reports the total number of persisted results.
func (s *MemoryStore) SavedCount(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	return int64(len(s.records)), nil
}

// Close marks the store closed; further calls fail with ErrClosed.
func (s *MemoryStore) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
