package jobs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "runs.db") + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, NewRunStore(db).AutoMigrate())
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func newTestRun(projectID string) *MigrationRun {
	return &MigrationRun{
		ProjectID:   projectID,
		WorkspaceID: "ws-1",
		RequestedBy: "test-user",
	}
}

func TestStartCreatesRun(t *testing.T) {
	db := setupTestDB(t)
	store := NewRunStore(db)
	ctx := context.Background()

	run, err := store.Start(ctx, newTestRun("p1"))
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, RunStateRunning, run.State)
	require.NotNil(t, run.ActiveKey)
	assert.Equal(t, "p1", *run.ActiveKey)

	got, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ws-1", got.WorkspaceID)
}

func TestStartRefusesSecondActiveRun(t *testing.T) {
	db := setupTestDB(t)
	store := NewRunStore(db)
	ctx := context.Background()

	_, err := store.Start(ctx, newTestRun("p1"))
	require.NoError(t, err)

	_, err = store.Start(ctx, newTestRun("p1"))
	assert.ErrorIs(t, err, ErrRunInProgress)

	_, err = store.Start(ctx, newTestRun("p2"))
	assert.NoError(t, err, "other projects are unaffected")
}

func TestStartAllowedAfterTerminal(t *testing.T) {
	db := setupTestDB(t)
	store := NewRunStore(db)
	ctx := context.Background()

	first, err := store.Start(ctx, newTestRun("p1"))
	require.NoError(t, err)
	require.NoError(t, store.Fail(ctx, first.ID, "boom", true, time.Second))

	second, err := store.Start(ctx, newTestRun("p1"))
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, second.ID, RunCounts{Objects: 1}, time.Second))

	_, err = store.Start(ctx, newTestRun("p1"))
	require.NoError(t, err)
}

func TestCompleteUpdatesRun(t *testing.T) {
	db := setupTestDB(t)
	store := NewRunStore(db)
	ctx := context.Background()

	run, err := store.Start(ctx, newTestRun("p1"))
	require.NoError(t, err)

	counts := RunCounts{Objects: 1200, Branches: 2, Commits: 10, Comments: 3, Blobs: 4, SavedViews: 5, Roles: 6}
	require.NoError(t, store.Complete(ctx, run.ID, counts, 5*time.Second))

	result, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStateSucceeded, result.State)
	assert.Nil(t, result.ActiveKey)
	assert.Equal(t, 1200, result.Objects)
	assert.Equal(t, 6, result.Roles)
	assert.Equal(t, int64(5000), result.DurationMs)
	assert.NotNil(t, result.FinishedAt)

	assert.Error(t, store.Complete(ctx, run.ID, counts, time.Second), "finished runs cannot complete twice")
}

func TestFailWithoutCompensationLeavesRunAbandoned(t *testing.T) {
	db := setupTestDB(t)
	store := NewRunStore(db)
	ctx := context.Background()

	run, err := store.Start(ctx, newTestRun("p1"))
	require.NoError(t, err)
	require.NoError(t, store.Fail(ctx, run.ID, "region db unreachable", false, time.Second))

	result, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStateAbandoned, result.State)
	assert.False(t, result.Compensated)
	assert.Equal(t, "region db unreachable", result.LastError)

	_, err = store.Start(ctx, newTestRun("p1"))
	assert.ErrorIs(t, err, ErrRunInProgress, "abandoned runs block new runs until recovered")

	require.NoError(t, store.ClaimRecovery(ctx, run.ID))
	require.NoError(t, store.MarkRecovered(ctx, run.ID))
	result, err = store.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStateRecovered, result.State)
	assert.True(t, result.IsTerminal())

	_, err = store.Start(ctx, newTestRun("p1"))
	assert.NoError(t, err)
}

func TestMarkRecoveredRequiresClaim(t *testing.T) {
	db := setupTestDB(t)
	store := NewRunStore(db)
	ctx := context.Background()

	run, err := store.Start(ctx, newTestRun("p1"))
	require.NoError(t, err)
	assert.ErrorIs(t, store.MarkRecovered(ctx, run.ID), ErrRunNotAbandoned)

	require.NoError(t, store.Fail(ctx, run.ID, "crashed", false, 0))
	assert.ErrorIs(t, store.MarkRecovered(ctx, run.ID), ErrRunNotAbandoned, "abandoned runs must be claimed first")
}

func TestClaimRecoveryRefusesRunThatCompleted(t *testing.T) {
	db := setupTestDB(t)
	store := NewRunStore(db)
	ctx := context.Background()

	run, err := store.Start(ctx, newTestRun("p1"))
	require.NoError(t, err)
	db.Model(&MigrationRun{}).Where("id = ?", run.ID).Update("started_at", time.Now().Add(-20*time.Hour))
	_, err = store.MarkAbandoned(ctx, 6*time.Hour)
	require.NoError(t, err)
	listed, err := store.ListAbandoned(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	// the slow run was alive and finishes before recovery gets to it
	require.NoError(t, store.Complete(ctx, run.ID, RunCounts{Objects: 10}, time.Hour))

	assert.ErrorIs(t, store.ClaimRecovery(ctx, listed[0].ID), ErrRunNotAbandoned)
	result, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStateSucceeded, result.State)
}

func TestClaimedRunCannotBeCompleted(t *testing.T) {
	db := setupTestDB(t)
	store := NewRunStore(db)
	ctx := context.Background()

	run, err := store.Start(ctx, newTestRun("p1"))
	require.NoError(t, err)
	require.NoError(t, store.Fail(ctx, run.ID, "crashed", false, 0))
	require.NoError(t, store.ClaimRecovery(ctx, run.ID))

	assert.Error(t, store.Complete(ctx, run.ID, RunCounts{}, time.Second))
	assert.Error(t, store.Fail(ctx, run.ID, "late", true, time.Second))
}

func TestReleaseRecoveryReturnsRunToAbandoned(t *testing.T) {
	db := setupTestDB(t)
	store := NewRunStore(db)
	ctx := context.Background()

	run, err := store.Start(ctx, newTestRun("p1"))
	require.NoError(t, err)
	require.NoError(t, store.Fail(ctx, run.ID, "crashed", false, 0))
	require.NoError(t, store.ClaimRecovery(ctx, run.ID))

	listed, err := store.ListAbandoned(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1, "interrupted recoveries are listed again")
	assert.Equal(t, RunStateRecovering, listed[0].State)

	require.NoError(t, store.ReleaseRecovery(ctx, run.ID))
	result, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStateAbandoned, result.State)
	require.NoError(t, store.ClaimRecovery(ctx, run.ID), "a released run can be claimed again")
}

func TestGetReturnsNilForMissing(t *testing.T) {
	db := setupTestDB(t)
	store := NewRunStore(db)

	result, err := store.Get(context.Background(), uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestListWithFilters(t *testing.T) {
	db := setupTestDB(t)
	store := NewRunStore(db)
	ctx := context.Background()

	a, err := store.Start(ctx, newTestRun("p1"))
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, a.ID, RunCounts{}, 0))
	_, err = store.Start(ctx, newTestRun("p1"))
	require.NoError(t, err)
	other := newTestRun("p2")
	other.WorkspaceID = "ws-2"
	_, err = store.Start(ctx, other)
	require.NoError(t, err)

	results, _, total, err := store.List(ctx, RunListFilter{ProjectID: "p1"}, 10, "")
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, 2, total)

	results, _, _, err = store.List(ctx, RunListFilter{WorkspaceID: "ws-2"}, 10, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "p2", results[0].ProjectID)

	results, _, _, err = store.List(ctx, RunListFilter{State: string(RunStateSucceeded)}, 10, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, a.ID, results[0].ID)
}

func TestListPagination(t *testing.T) {
	db := setupTestDB(t)
	store := NewRunStore(db)
	ctx := context.Background()

	// Create 5 runs with staggered start times.
	for i := 0; i < 5; i++ {
		r := &MigrationRun{
			ID:          uuid.NewString(),
			ProjectID:   uuid.NewString(),
			WorkspaceID: "ws-1",
			State:       RunStateSucceeded,
			StartedAt:   time.Now().Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, db.Create(r).Error)
	}

	// First page of 2.
	results, nextToken, total, err := store.List(ctx, RunListFilter{}, 2, "")
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, 5, total)
	assert.NotEmpty(t, nextToken)

	// Second page.
	results2, nextToken2, _, err := store.List(ctx, RunListFilter{}, 2, nextToken)
	require.NoError(t, err)
	assert.Len(t, results2, 2)
	assert.NotEmpty(t, nextToken2)

	// Last page.
	results3, nextToken3, _, err := store.List(ctx, RunListFilter{}, 2, nextToken2)
	require.NoError(t, err)
	assert.Len(t, results3, 1)
	assert.Empty(t, nextToken3)

	_, _, _, err = store.List(ctx, RunListFilter{}, 2, "not-a-time")
	assert.Error(t, err)
}

func TestMarkAbandoned(t *testing.T) {
	db := setupTestDB(t)
	store := NewRunStore(db)
	ctx := context.Background()

	stuck, err := store.Start(ctx, newTestRun("p1"))
	require.NoError(t, err)
	_, err = store.Start(ctx, newTestRun("p2"))
	require.NoError(t, err)

	// Manually set started_at far in the past.
	oldTime := time.Now().Add(-20 * time.Hour)
	db.Model(&MigrationRun{}).Where("id = ?", stuck.ID).Update("started_at", oldTime)

	marked, err := store.MarkAbandoned(ctx, 6*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), marked)

	abandoned, err := store.ListAbandoned(ctx)
	require.NoError(t, err)
	require.Len(t, abandoned, 1)
	assert.Equal(t, stuck.ID, abandoned[0].ID)
}

func TestDeleteOlderThan(t *testing.T) {
	db := setupTestDB(t)
	store := NewRunStore(db)
	ctx := context.Background()

	run, err := store.Start(ctx, newTestRun("p1"))
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, run.ID, RunCounts{}, 100*time.Millisecond))
	active, err := store.Start(ctx, newTestRun("p2"))
	require.NoError(t, err)

	// Set finished_at far in the past.
	oldTime := time.Now().Add(-40 * 24 * time.Hour)
	db.Model(&MigrationRun{}).Where("id = ?", run.ID).Update("finished_at", oldTime)

	deleted, err := store.DeleteOlderThan(ctx, time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	result, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Nil(t, result)

	still, err := store.Get(ctx, active.ID)
	require.NoError(t, err)
	assert.NotNil(t, still)
}
