package task

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryTaskStore keeps task records in process memory. It backs the runner
// when no database is configured, so tasks do not survive a restart.
type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*Record
	now   func() time.Time
}

var _ TaskStore = (*MemoryTaskStore)(nil)

// NewMemoryTaskStore creates an empty store.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{
		tasks: make(map[uuid.UUID]*Record),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SaveTask inserts or replaces the record for task.
func (s *MemoryTaskStore) SaveTask(_ context.Context, task Task) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := &Record{
		ID:        task.ID(),
		Type:      task.Type(),
		Payload:   append([]byte(nil), task.Payload()...),
		Status:    task.Status(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing, ok := s.tasks[rec.ID]; ok {
		rec.CreatedAt = existing.CreatedAt
	}
	s.tasks[rec.ID] = rec
	return nil
}

// UpdateTaskStatus sets the status and error message of a task.
func (s *MemoryTaskStore) UpdateTaskStatus(_ context.Context, taskID uuid.UUID, status TaskStatus, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	rec.Status = status
	rec.ErrorMessage = errorMsg
	rec.UpdatedAt = s.now()
	return nil
}

// SaveTaskResult stores the encoded result of a task.
func (s *MemoryTaskStore) SaveTaskResult(_ context.Context, taskID uuid.UUID, result []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	rec.Result = append([]byte(nil), result...)
	rec.UpdatedAt = s.now()
	return nil
}

// GetTask returns a copy of the stored record.
func (s *MemoryTaskStore) GetTask(_ context.Context, taskID uuid.UUID) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	cp := *rec
	return &cp, nil
}

// GetPendingTasks returns pending records, oldest first.
func (s *MemoryTaskStore) GetPendingTasks(_ context.Context) ([]Record, error) {
	return s.filter(func(r *Record) bool { return r.Status == TaskStatusPending }), nil
}

// GetProcessingTasks returns processing records. A non-zero olderThan keeps
// only those not updated within that window.
func (s *MemoryTaskStore) GetProcessingTasks(_ context.Context, olderThan time.Duration) ([]Record, error) {
	cutoff := s.now().Add(-olderThan)
	return s.filter(func(r *Record) bool {
		if r.Status != TaskStatusProcessing {
			return false
		}
		return olderThan == 0 || r.UpdatedAt.Before(cutoff)
	}), nil
}

func (s *MemoryTaskStore) filter(keep func(*Record) bool) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, rec := range s.tasks {
		if keep(rec) {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
