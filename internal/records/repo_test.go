package records

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lumehealth/lume-sync/pkg/db/models"
	"github.com/lumehealth/lume-sync/pkg/enums"
	"github.com/lumehealth/lume-sync/pkg/pagination"
)

func setupRecordsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	ddl := `
CREATE TABLE IF NOT EXISTS mutation_records (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  payload TEXT NOT NULL,
  remote_id TEXT,
  sync_status TEXT NOT NULL DEFAULT 'pending',
  synced_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`

	require.NoError(t, db.Exec(ddl).Error)
	require.NoError(t, db.Exec("DELETE FROM mutation_records").Error)
	return db
}

func insertRecord(t *testing.T, db *gorm.DB, userID string, status enums.SyncStatus, created time.Time) models.MutationRecord {
	t.Helper()

	record := models.MutationRecord{
		ID:         uuid.New(),
		UserID:     userID,
		Kind:       enums.KindProgressEntry,
		Payload:    json.RawMessage(`{"weight_kg":82.5}`),
		SyncStatus: status,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
	require.NoError(t, db.Create(&record).Error)
	return record
}

func TestRepositoryInsertAndFind(t *testing.T) {
	db := setupRecordsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	record := &models.MutationRecord{
		ID:         uuid.New(),
		UserID:     "user-1",
		Kind:       enums.KindMealLog,
		Payload:    json.RawMessage(`{"name":"oatmeal","calories":320}`),
		SyncStatus: enums.SyncStatusPending,
	}
	require.NoError(t, repo.Insert(ctx, record))

	found, err := repo.FindByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, found.ID)
	assert.Equal(t, enums.KindMealLog, found.Kind)
	assert.JSONEq(t, `{"name":"oatmeal","calories":320}`, string(found.Payload))
	assert.Nil(t, found.RemoteID)
	assert.False(t, found.IsSynced())

	_, err = repo.FindByID(ctx, uuid.New())
	require.Error(t, err)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestRepositoryUpdatePayload(t *testing.T) {
	db := setupRecordsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	record := insertRecord(t, db, "user-1", enums.SyncStatusPending, now.Add(-time.Hour))

	updated, err := repo.UpdatePayload(ctx, record.ID, json.RawMessage(`{"weight_kg":81.9}`), now)
	require.NoError(t, err)
	assert.True(t, updated)

	found, err := repo.FindByID(ctx, record.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"weight_kg":81.9}`, string(found.Payload))

	missing, err := repo.UpdatePayload(ctx, uuid.New(), json.RawMessage(`{}`), now)
	require.NoError(t, err)
	assert.False(t, missing)
}

func TestRepositoryMarkSynced(t *testing.T) {
	db := setupRecordsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	record := insertRecord(t, db, "user-1", enums.SyncStatusPending, now.Add(-time.Hour))

	require.NoError(t, repo.MarkSynced(ctx, record.ID, "srv-1", now))

	found, err := repo.FindByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SyncStatusSynced, found.SyncStatus)
	require.NotNil(t, found.RemoteID)
	assert.Equal(t, "srv-1", *found.RemoteID)
	require.NotNil(t, found.SyncedAt)
	assert.True(t, found.IsSynced())
}

func TestRepositoryMarkFailedAndPending(t *testing.T) {
	db := setupRecordsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	record := insertRecord(t, db, "user-1", enums.SyncStatusPending, now.Add(-time.Hour))

	require.NoError(t, repo.MarkFailed(ctx, record.ID, now))
	found, err := repo.FindByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SyncStatusFailed, found.SyncStatus)

	require.NoError(t, repo.MarkPending(ctx, record.ID, now))
	found, err = repo.FindByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SyncStatusPending, found.SyncStatus)
}

func TestRepositoryRequeueFailed(t *testing.T) {
	db := setupRecordsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	first := insertRecord(t, db, "user-1", enums.SyncStatusFailed, now.Add(-2*time.Hour))
	second := insertRecord(t, db, "user-1", enums.SyncStatusFailed, now.Add(-time.Hour))
	otherUser := insertRecord(t, db, "user-2", enums.SyncStatusFailed, now.Add(-time.Hour))
	synced := insertRecord(t, db, "user-1", enums.SyncStatusSynced, now.Add(-time.Hour))

	count, err := repo.RequeueFailed(ctx, "user-1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	for _, id := range []uuid.UUID{first.ID, second.ID} {
		found, err := repo.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, enums.SyncStatusPending, found.SyncStatus)
	}

	other, err := repo.FindByID(ctx, otherUser.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SyncStatusFailed, other.SyncStatus)

	keep, err := repo.FindByID(ctx, synced.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SyncStatusSynced, keep.SyncStatus)
}

func TestRepositoryCountByStatus(t *testing.T) {
	db := setupRecordsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	insertRecord(t, db, "user-1", enums.SyncStatusPending, now.Add(-3*time.Hour))
	insertRecord(t, db, "user-1", enums.SyncStatusPending, now.Add(-2*time.Hour))
	insertRecord(t, db, "user-1", enums.SyncStatusSynced, now.Add(-time.Hour))
	insertRecord(t, db, "user-2", enums.SyncStatusFailed, now.Add(-time.Hour))

	counts, err := repo.CountByStatus(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[enums.SyncStatusPending])
	assert.Equal(t, int64(1), counts[enums.SyncStatusSynced])
	assert.Zero(t, counts[enums.SyncStatusFailed])
}

func TestRepositoryPendingIDsNotIn(t *testing.T) {
	db := setupRecordsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	tracked := insertRecord(t, db, "user-1", enums.SyncStatusPending, now.Add(-3*time.Hour))
	untracked := insertRecord(t, db, "user-1", enums.SyncStatusPending, now.Add(-2*time.Hour))
	insertRecord(t, db, "user-1", enums.SyncStatusSynced, now.Add(-time.Hour))
	insertRecord(t, db, "user-2", enums.SyncStatusPending, now.Add(-time.Hour))

	ids, err := repo.PendingIDsNotIn(ctx, "user-1", []uuid.UUID{tracked.ID})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, untracked.ID, ids[0])

	all, err := repo.PendingIDsNotIn(ctx, "user-1", nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRepositoryFindExistingIDs(t *testing.T) {
	db := setupRecordsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	record := insertRecord(t, db, "user-1", enums.SyncStatusPending, now)
	ghost := uuid.New()

	found, err := repo.FindExistingIDs(ctx, []uuid.UUID{record.ID, ghost})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, record.ID, found[0])

	none, err := repo.FindExistingIDs(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestRepositoryList_pagination(t *testing.T) {
	db := setupRecordsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	oldest := insertRecord(t, db, "user-1", enums.SyncStatusPending, now.Add(-3*time.Hour))
	middle := insertRecord(t, db, "user-1", enums.SyncStatusPending, now.Add(-2*time.Hour))
	newest := insertRecord(t, db, "user-1", enums.SyncStatusPending, now.Add(-time.Hour))
	insertRecord(t, db, "user-2", enums.SyncStatusPending, now)

	page, cursor, err := repo.List(ctx, ListParams{UserID: "user-1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, newest.ID, page[0].ID)
	assert.Equal(t, middle.ID, page[1].ID)
	require.NotNil(t, cursor)

	rest, cursor, err := repo.List(ctx, ListParams{
		UserID: "user-1",
		Limit:  2,
		Cursor: &pagination.Cursor{CreatedAt: cursor.CreatedAt, ID: cursor.ID},
	})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, oldest.ID, rest[0].ID)
	assert.Nil(t, cursor)
}

func TestRepositoryList_statusFilter(t *testing.T) {
	db := setupRecordsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	insertRecord(t, db, "user-1", enums.SyncStatusPending, now.Add(-2*time.Hour))
	failed := insertRecord(t, db, "user-1", enums.SyncStatusFailed, now.Add(-time.Hour))

	status := enums.SyncStatusFailed
	page, _, err := repo.List(ctx, ListParams{UserID: "user-1", Status: &status, Limit: 10})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, failed.ID, page[0].ID)
}
