package badger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/taskbroker/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(arbor.NewLogger(), Options{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestTaskStoreCreateAndGet(t *testing.T) {
	db := newTestDB(t)
	store := NewTaskStore(db, arbor.NewLogger())

	task := &models.Task{ID: "t1", Name: "parse-document", CreatedAt: time.Now()}
	require.NoError(t, store.Create(task))

	got, err := store.Get("t1")
	require.NoError(t, err)
	require.Equal(t, "parse-document", got.Name)
}

func TestTaskStoreGetUnknownReturnsNotFound(t *testing.T) {
	db := newTestDB(t)
	store := NewTaskStore(db, arbor.NewLogger())

	_, err := store.Get("missing")
	require.ErrorIs(t, err, models.ErrTaskNotFound)
}

func TestTaskStoreUpdateSerializesPerTask(t *testing.T) {
	db := newTestDB(t)
	store := NewTaskStore(db, arbor.NewLogger())
	require.NoError(t, store.Create(&models.Task{ID: "t1", Name: "chunk", CreatedAt: time.Now()}))

	updated, err := store.Update("t1", func(task *models.Task) error {
		task.Progress = 50
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 50, updated.Progress)

	got, err := store.Get("t1")
	require.NoError(t, err)
	require.Equal(t, 50, got.Progress)
}

func TestTaskStoreListWaitingReadyFiltersFutureSchedule(t *testing.T) {
	db := newTestDB(t)
	store := NewTaskStore(db, arbor.NewLogger())

	now := time.Now()
	future := now.Add(time.Hour)
	require.NoError(t, store.Create(&models.Task{ID: "ready", Name: "embed", StatusCode: models.StatusWaiting, CreatedAt: now}))
	require.NoError(t, store.Create(&models.Task{ID: "future", Name: "embed", StatusCode: models.StatusWaiting, CreatedAt: now, ScheduledStartAt: &future}))
	require.NoError(t, store.Create(&models.Task{ID: "done", Name: "embed", StatusCode: models.StatusCompleted, CreatedAt: now}))

	waiting, err := store.ListWaitingReady(now)
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	require.Equal(t, "ready", waiting[0].ID)
}

func TestTaskStoreListStuckProcessing(t *testing.T) {
	db := newTestDB(t)
	store := NewTaskStore(db, arbor.NewLogger())

	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)
	require.NoError(t, store.Create(&models.Task{ID: "stuck", Name: "embed", StatusCode: models.StatusProcessing, CreatedAt: now, ProcessingDeadline: &past}))
	require.NoError(t, store.Create(&models.Task{ID: "fresh", Name: "embed", StatusCode: models.StatusProcessing, CreatedAt: now, ProcessingDeadline: &future}))

	stuck, err := store.ListStuckProcessing(now)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	require.Equal(t, "stuck", stuck[0].ID)
}

func TestTaskStoreFindByIdempotencyKey(t *testing.T) {
	db := newTestDB(t)
	store := NewTaskStore(db, arbor.NewLogger())

	require.NoError(t, store.Create(&models.Task{ID: "t1", Name: "index-document", IdempotencyKey: "key-1", CreatedAt: time.Now()}))

	got, err := store.FindByIdempotencyKey("key-1")
	require.NoError(t, err)
	require.Equal(t, "t1", got.ID)

	_, err = store.FindByIdempotencyKey("missing")
	require.ErrorIs(t, err, models.ErrTaskNotFound)
}
