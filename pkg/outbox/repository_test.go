package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lumehealth/lume-sync/pkg/db/models"
	"github.com/lumehealth/lume-sync/pkg/enums"
)

func setupOutboxTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	events := `
CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  entity_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  attempt_count INTEGER NOT NULL DEFAULT 0,
  metadata TEXT,
  failure_reason TEXT,
  last_error TEXT,
  created_at DATETIME,
  last_attempt_at DATETIME,
  next_attempt_at DATETIME,
  claimed_at DATETIME
);`
	liveIndex := `
CREATE UNIQUE INDEX IF NOT EXISTS ux_outbox_events_entity_live
  ON outbox_events(entity_id) WHERE status IN ('pending','processing');`

	require.NoError(t, db.Exec(events).Error)
	require.NoError(t, db.Exec(liveIndex).Error)
	require.NoError(t, db.Exec("DELETE FROM outbox_events").Error)
	return db
}

func insertEvent(t *testing.T, db *gorm.DB, userID string, status enums.OutboxEventStatus, created time.Time) models.OutboxEvent {
	t.Helper()

	event := models.OutboxEvent{
		ID:        uuid.New(),
		EntityID:  uuid.New(),
		UserID:    userID,
		Kind:      enums.KindProgressEntry,
		Status:    status,
		CreatedAt: created,
	}
	require.NoError(t, db.Create(&event).Error)
	return event
}

func TestRepositoryFetchDue_OrderAndBackoffFilter(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewRepository(db)
	now := time.Now().UTC()

	older := insertEvent(t, db, "user-1", enums.OutboxStatusPending, now.Add(-2*time.Hour))
	newer := insertEvent(t, db, "user-1", enums.OutboxStatusPending, now.Add(-time.Hour))

	deferred := insertEvent(t, db, "user-1", enums.OutboxStatusPending, now.Add(-3*time.Hour))
	future := now.Add(10 * time.Minute)
	require.NoError(t, db.Model(&models.OutboxEvent{}).
		Where("id = ?", deferred.ID).
		Update("next_attempt_at", future).Error)

	insertEvent(t, db, "user-2", enums.OutboxStatusPending, now.Add(-4*time.Hour))
	insertEvent(t, db, "user-1", enums.OutboxStatusProcessing, now.Add(-5*time.Hour))

	due, err := repo.FetchDue(context.Background(), "user-1", 10, now)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, older.ID, due[0].ID)
	assert.Equal(t, newer.ID, due[1].ID)

	limited, err := repo.FetchDue(context.Background(), "user-1", 1, now)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, older.ID, limited[0].ID)
}

func TestRepositoryClaim_SecondClaimLoses(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewRepository(db)
	now := time.Now().UTC()

	event := insertEvent(t, db, "user-1", enums.OutboxStatusPending, now.Add(-time.Minute))

	claimed, err := repo.Claim(context.Background(), event.ID, now)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimedAgain, err := repo.Claim(context.Background(), event.ID, now)
	require.NoError(t, err)
	assert.False(t, claimedAgain)

	var got models.OutboxEvent
	require.NoError(t, db.First(&got, "id = ?", event.ID).Error)
	assert.Equal(t, enums.OutboxStatusProcessing, got.Status)
	require.NotNil(t, got.ClaimedAt)
}

func TestRepositoryMarkRetry_IncrementsAndSchedules(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewRepository(db)
	now := time.Now().UTC()

	event := insertEvent(t, db, "user-1", enums.OutboxStatusPending, now.Add(-time.Minute))
	_, err := repo.Claim(context.Background(), event.ID, now)
	require.NoError(t, err)

	nextAt := now.Add(2 * time.Second)
	require.NoError(t, repo.MarkRetry(db, event.ID, "connection refused", nextAt, now))

	var got models.OutboxEvent
	require.NoError(t, db.First(&got, "id = ?", event.ID).Error)
	assert.Equal(t, enums.OutboxStatusPending, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "connection refused", *got.LastError)
	require.NotNil(t, got.NextAttemptAt)
	assert.Nil(t, got.ClaimedAt)

	due, err := repo.FetchDue(context.Background(), "user-1", 10, now)
	require.NoError(t, err)
	assert.Empty(t, due, "event should stay off the due list until the backoff elapses")

	due, err = repo.FetchDue(context.Background(), "user-1", 10, nextAt.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, due, 1)
}

func TestRepositoryMarkTerminal_AttemptCounting(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewRepository(db)
	now := time.Now().UTC()

	attempted := insertEvent(t, db, "user-1", enums.OutboxStatusProcessing, now.Add(-time.Minute))
	require.NoError(t, repo.MarkTerminal(db, attempted.ID, enums.FailureReasonRejected, "422", true, now))

	var got models.OutboxEvent
	require.NoError(t, db.First(&got, "id = ?", attempted.ID).Error)
	assert.Equal(t, enums.OutboxStatusFailed, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, enums.FailureReasonRejected, *got.FailureReason)

	orphaned := insertEvent(t, db, "user-1", enums.OutboxStatusPending, now.Add(-time.Minute))
	require.NoError(t, repo.MarkTerminal(db, orphaned.ID, enums.FailureReasonOrphanedRecord, "record missing", false, now))

	require.NoError(t, db.First(&got, "id = ?", orphaned.ID).Error)
	assert.Equal(t, 0, got.AttemptCount)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, enums.FailureReasonOrphanedRecord, *got.FailureReason)
}

func TestRepositoryRelease_KeepsAttemptCount(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewRepository(db)
	now := time.Now().UTC()

	event := insertEvent(t, db, "user-1", enums.OutboxStatusPending, now.Add(-time.Minute))
	_, err := repo.Claim(context.Background(), event.ID, now)
	require.NoError(t, err)

	require.NoError(t, repo.Release(db, event.ID))

	var got models.OutboxEvent
	require.NoError(t, db.First(&got, "id = ?", event.ID).Error)
	assert.Equal(t, enums.OutboxStatusPending, got.Status)
	assert.Equal(t, 0, got.AttemptCount)
	assert.Nil(t, got.ClaimedAt)
}

func TestRepositoryResetStale(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewRepository(db)
	now := time.Now().UTC()

	stale := insertEvent(t, db, "user-1", enums.OutboxStatusPending, now.Add(-time.Hour))
	_, err := repo.Claim(context.Background(), stale.ID, now.Add(-30*time.Minute))
	require.NoError(t, err)

	fresh := insertEvent(t, db, "user-1", enums.OutboxStatusPending, now.Add(-time.Hour))
	_, err = repo.Claim(context.Background(), fresh.ID, now.Add(-time.Minute))
	require.NoError(t, err)

	healed, err := repo.ResetStale(context.Background(), now.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), healed)

	var got models.OutboxEvent
	require.NoError(t, db.First(&got, "id = ?", stale.ID).Error)
	assert.Equal(t, enums.OutboxStatusPending, got.Status)

	require.NoError(t, db.First(&got, "id = ?", fresh.ID).Error)
	assert.Equal(t, enums.OutboxStatusProcessing, got.Status)
}

func TestRepositoryRequeueFailed(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewRepository(db)
	now := time.Now().UTC()

	failed := insertEvent(t, db, "user-1", enums.OutboxStatusProcessing, now.Add(-time.Hour))
	require.NoError(t, repo.MarkTerminal(db, failed.ID, enums.FailureReasonMaxAttempts, "503", true, now))
	insertEvent(t, db, "user-2", enums.OutboxStatusFailed, now.Add(-time.Hour))
	untouched := insertEvent(t, db, "user-1", enums.OutboxStatusPending, now.Add(-time.Hour))

	requeued, err := repo.RequeueFailed(db, "user-1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), requeued)

	var got models.OutboxEvent
	require.NoError(t, db.First(&got, "id = ?", failed.ID).Error)
	assert.Equal(t, enums.OutboxStatusPending, got.Status)
	assert.Equal(t, 0, got.AttemptCount)
	assert.Nil(t, got.FailureReason)
	assert.Nil(t, got.LastError)
	assert.Nil(t, got.NextAttemptAt)

	require.NoError(t, db.First(&got, "id = ?", untouched.ID).Error)
	assert.Equal(t, 0, got.AttemptCount)
}

func TestRepositoryDeleteCompletedBefore(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewRepository(db)
	now := time.Now().UTC()

	old := insertEvent(t, db, "user-1", enums.OutboxStatusProcessing, now.Add(-48*time.Hour))
	require.NoError(t, repo.MarkCompleted(db, old.ID, now.Add(-36*time.Hour)))

	recent := insertEvent(t, db, "user-1", enums.OutboxStatusProcessing, now.Add(-2*time.Hour))
	require.NoError(t, repo.MarkCompleted(db, recent.ID, now.Add(-time.Hour)))

	pruned, err := repo.DeleteCompletedBefore(db, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	var remaining int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&remaining).Error)
	assert.Equal(t, int64(1), remaining)
}

func TestRepositoryCounts(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewRepository(db)
	now := time.Now().UTC()

	insertEvent(t, db, "user-1", enums.OutboxStatusPending, now.Add(-time.Minute))
	insertEvent(t, db, "user-1", enums.OutboxStatusPending, now.Add(-time.Minute))
	insertEvent(t, db, "user-1", enums.OutboxStatusFailed, now.Add(-time.Minute))
	insertEvent(t, db, "user-2", enums.OutboxStatusPending, now.Add(-time.Minute))

	counts, err := repo.CountByStatus(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[enums.OutboxStatusPending])
	assert.Equal(t, int64(1), counts[enums.OutboxStatusFailed])

	stuckEvent := insertEvent(t, db, "user-1", enums.OutboxStatusPending, now.Add(-time.Hour))
	_, err = repo.Claim(context.Background(), stuckEvent.ID, now.Add(-20*time.Minute))
	require.NoError(t, err)

	stuck, err := repo.CountStuck(context.Background(), "user-1", now.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), stuck)
}

func TestLiveEntityIndexRejectsSecondLiveEvent(t *testing.T) {
	db := setupOutboxTestDB(t)
	now := time.Now().UTC()

	first := insertEvent(t, db, "user-1", enums.OutboxStatusPending, now)

	duplicate := models.OutboxEvent{
		ID:        uuid.New(),
		EntityID:  first.EntityID,
		UserID:    "user-1",
		Kind:      enums.KindProgressEntry,
		Status:    enums.OutboxStatusPending,
		CreatedAt: now,
	}
	err := db.Create(&duplicate).Error
	require.Error(t, err)

	completed := models.OutboxEvent{
		ID:        uuid.New(),
		EntityID:  first.EntityID,
		UserID:    "user-1",
		Kind:      enums.KindProgressEntry,
		Status:    enums.OutboxStatusCompleted,
		CreatedAt: now,
	}
	require.NoError(t, db.Create(&completed).Error,
		"terminal rows must not occupy the live slot")
}
