package broker

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/taskbroker/internal/models"
	"github.com/ternarybob/taskbroker/internal/storage/badger"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	logger := arbor.NewLogger()
	db, err := badger.Open(logger, badger.Options{Path: filepath.Join(t.TempDir(), "db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tasks := badger.NewTaskStore(db, logger)
	consumers := badger.NewConsumerStore(db, logger)
	return NewService(tasks, consumers, logger, time.Hour)
}

func TestCreateTaskRejectsEmptyName(t *testing.T) {
	s := newTestService(t)
	_, err := s.CreateTask(models.CreateTaskRequest{Input: json.RawMessage(`{}`)}, "")
	require.ErrorIs(t, err, models.ErrValidation)
}

func TestCreateTaskRejectsNonObjectInput(t *testing.T) {
	s := newTestService(t)
	_, err := s.CreateTask(models.CreateTaskRequest{Name: "chunk", Input: json.RawMessage(`[1,2,3]`)}, "")
	require.ErrorIs(t, err, models.ErrValidation)
}

func TestCreateTaskIsIdempotentByKey(t *testing.T) {
	s := newTestService(t)
	req := models.CreateTaskRequest{Name: "chunk", Input: json.RawMessage(`{"a":1}`)}

	first, err := s.CreateTask(req, "idem-1")
	require.NoError(t, err)

	second, err := s.CreateTask(req, "idem-1")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}

func TestUpdateTaskMonotoneTransition(t *testing.T) {
	s := newTestService(t)
	task, err := s.CreateTask(models.CreateTaskRequest{Name: "chunk", Input: json.RawMessage(`{}`)}, "")
	require.NoError(t, err)

	processing := models.StatusProcessing
	updated, err := s.UpdateTask(task.ID, models.UpdateTaskRequest{StatusCode: &processing})
	require.NoError(t, err)
	require.Equal(t, models.StatusProcessing, updated.StatusCode)
	require.NotNil(t, updated.StartedAt)

	waiting := models.StatusWaiting
	_, err = s.UpdateTask(task.ID, models.UpdateTaskRequest{StatusCode: &waiting})
	require.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestUpdateTaskDuplicateTerminalIsNoOp(t *testing.T) {
	s := newTestService(t)
	task, err := s.CreateTask(models.CreateTaskRequest{Name: "chunk", Input: json.RawMessage(`{}`)}, "")
	require.NoError(t, err)

	processing := models.StatusProcessing
	_, err = s.UpdateTask(task.ID, models.UpdateTaskRequest{StatusCode: &processing})
	require.NoError(t, err)

	completed := models.StatusCompleted
	output := json.RawMessage(`{"ok":true}`)
	first, err := s.UpdateTask(task.ID, models.UpdateTaskRequest{StatusCode: &completed, Output: output})
	require.NoError(t, err)

	second, err := s.UpdateTask(task.ID, models.UpdateTaskRequest{StatusCode: &completed, Output: output})
	require.NoError(t, err)
	require.True(t, first.EndedAt.Equal(*second.EndedAt), "duplicate terminal update must not re-stamp ended_at")
}

func TestUpdateTaskTerminalMismatchIsRejected(t *testing.T) {
	s := newTestService(t)
	task, err := s.CreateTask(models.CreateTaskRequest{Name: "chunk", Input: json.RawMessage(`{}`)}, "")
	require.NoError(t, err)

	processing := models.StatusProcessing
	_, err = s.UpdateTask(task.ID, models.UpdateTaskRequest{StatusCode: &processing})
	require.NoError(t, err)

	completed := models.StatusCompleted
	_, err = s.UpdateTask(task.ID, models.UpdateTaskRequest{StatusCode: &completed, Output: json.RawMessage(`{"ok":true}`)})
	require.NoError(t, err)

	_, err = s.UpdateTask(task.ID, models.UpdateTaskRequest{StatusCode: &completed, Output: json.RawMessage(`{"ok":false}`)})
	require.ErrorIs(t, err, models.ErrTerminalMismatch)
}

func TestUpdateTaskAcceptsOpaqueStateOfAnyJSONShape(t *testing.T) {
	s := newTestService(t)
	task, err := s.CreateTask(models.CreateTaskRequest{Name: "chunk", Input: json.RawMessage(`{}`)}, "")
	require.NoError(t, err)

	updated, err := s.UpdateTask(task.ID, models.UpdateTaskRequest{State: json.RawMessage(`{"cursor": 42, "phase": "scanning"}`)})
	require.NoError(t, err)
	require.JSONEq(t, `{"cursor": 42, "phase": "scanning"}`, string(updated.State))

	updated, err = s.UpdateTask(task.ID, models.UpdateTaskRequest{State: json.RawMessage(`17`)})
	require.NoError(t, err)
	require.JSONEq(t, `17`, string(updated.State))
}

func TestUpdateTaskAppendsLogTrailOnTransition(t *testing.T) {
	s := newTestService(t)
	task, err := s.CreateTask(models.CreateTaskRequest{Name: "chunk", Input: json.RawMessage(`{}`)}, "")
	require.NoError(t, err)
	require.Len(t, task.LogTrail, 1)

	processing := models.StatusProcessing
	updated, err := s.UpdateTask(task.ID, models.UpdateTaskRequest{StatusCode: &processing})
	require.NoError(t, err)
	require.Len(t, updated.LogTrail, 2)
	require.Contains(t, updated.LogTrail[1].Message, "processing")
}

func TestUpdateTaskOutputOnlyAllowedWhenCompleted(t *testing.T) {
	s := newTestService(t)
	task, err := s.CreateTask(models.CreateTaskRequest{Name: "chunk", Input: json.RawMessage(`{}`)}, "")
	require.NoError(t, err)

	_, err = s.UpdateTask(task.ID, models.UpdateTaskRequest{Output: json.RawMessage(`{"ok":true}`)})
	require.ErrorIs(t, err, models.ErrValidation)
}
