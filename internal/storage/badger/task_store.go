package badger

import (
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/taskbroker/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// TaskStore is the durable task store. All mutations go through Update,
// which takes a per-task mutex before invoking the caller's closure — the
// in-memory-store equivalent of the row-level lock named in §5's
// shared-resource policy.
type TaskStore struct {
	db     *DB
	logger arbor.ILogger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewTaskStore constructs a TaskStore over an open DB.
func NewTaskStore(db *DB, logger arbor.ILogger) *TaskStore {
	return &TaskStore{
		db:     db,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *TaskStore) lockFor(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Create inserts a new task. Fails if the id already exists.
func (s *TaskStore) Create(task *models.Task) error {
	if err := s.db.Store().Insert(task.ID, task); err != nil {
		return fmt.Errorf("failed to insert task %s: %w", task.ID, err)
	}
	return nil
}

// Get fetches a task by id.
func (s *TaskStore) Get(id string) (*models.Task, error) {
	var task models.Task
	if err := s.db.Store().Get(id, &task); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return &task, nil
}

// FindByIdempotencyKey returns the task previously created with the given
// idempotency key, if any, supporting §8 property 5.
func (s *TaskStore) FindByIdempotencyKey(key string) (*models.Task, error) {
	if key == "" {
		return nil, models.ErrTaskNotFound
	}
	var tasks []models.Task
	if err := s.db.Store().Find(&tasks, badgerhold.Where("IdempotencyKey").Eq(key)); err != nil {
		return nil, fmt.Errorf("failed to query by idempotency key: %w", err)
	}
	if len(tasks) == 0 {
		return nil, models.ErrTaskNotFound
	}
	return &tasks[0], nil
}

// Update loads the task under its per-id lock, lets mutate inspect/modify
// it, and persists the result — the sole path by which tasks change state,
// so every caller's transition check runs serialized per task.
func (s *TaskStore) Update(id string, mutate func(*models.Task) error) (*models.Task, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	var task models.Task
	if err := s.db.Store().Get(id, &task); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}

	if err := mutate(&task); err != nil {
		return nil, err
	}

	if err := s.db.Store().Update(id, &task); err != nil {
		return nil, fmt.Errorf("failed to update task %s: %w", id, err)
	}
	return &task, nil
}

// ListWaitingReady returns tasks with status_code=0 whose scheduled_start_at
// is null or past, the candidate set the delivery loop joins against the
// consumer registry.
func (s *TaskStore) ListWaitingReady(now time.Time) ([]*models.Task, error) {
	var tasks []models.Task
	if err := s.db.Store().Find(&tasks, badgerhold.Where("StatusCode").Eq(models.StatusWaiting)); err != nil {
		return nil, fmt.Errorf("failed to list waiting tasks: %w", err)
	}

	out := make([]*models.Task, 0, len(tasks))
	for i := range tasks {
		t := &tasks[i]
		if t.ScheduledStartAt == nil || !t.ScheduledStartAt.After(now) {
			out = append(out, t)
		}
	}
	return out, nil
}

// ListStuckProcessing returns tasks still StatusProcessing whose
// processing_deadline has passed, the reaper's candidate set.
func (s *TaskStore) ListStuckProcessing(now time.Time) ([]*models.Task, error) {
	var tasks []models.Task
	if err := s.db.Store().Find(&tasks, badgerhold.Where("StatusCode").Eq(models.StatusProcessing)); err != nil {
		return nil, fmt.Errorf("failed to list processing tasks: %w", err)
	}

	out := make([]*models.Task, 0)
	for i := range tasks {
		t := &tasks[i]
		if t.ProcessingDeadline != nil && now.After(*t.ProcessingDeadline) {
			out = append(out, t)
		}
	}
	return out, nil
}

// ListChildren returns every task whose parent_id matches parentID,
// including duplicates left behind by retries, per §8 property 2's "may
// also exist as terminal-failed" allowance.
func (s *TaskStore) ListChildren(parentID string) ([]*models.Task, error) {
	var tasks []models.Task
	if err := s.db.Store().Find(&tasks, badgerhold.Where("ParentID").Eq(parentID)); err != nil {
		return nil, fmt.Errorf("failed to list children of %s: %w", parentID, err)
	}
	out := make([]*models.Task, len(tasks))
	for i := range tasks {
		out[i] = &tasks[i]
	}
	return out, nil
}
