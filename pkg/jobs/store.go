package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrRunInProgress is returned by Start when the project already has a run
// that is running or awaiting recovery.
var ErrRunInProgress = errors.New("a relocation run for this project is already in progress")

// ErrRunNotAbandoned is returned by ClaimRecovery when the run finished or
// was never abandoned, so its destination must be left alone.
var ErrRunNotAbandoned = errors.New("run is not abandoned")

// RunStore provides database operations for relocation runs.
type RunStore struct {
	db *gorm.DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *gorm.DB) *RunStore {
	return &RunStore{db: db}
}

// AutoMigrate creates or updates the project_migration_runs table.
func (s *RunStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&MigrationRun{}); err != nil {
		return fmt.Errorf("auto-migrate project_migration_runs: %w", err)
	}
	return nil
}

// RunListFilter defines filters for listing runs.
type RunListFilter struct {
	ProjectID   string
	WorkspaceID string
	State       string
}

// Start records a new running run. It fails with ErrRunInProgress when a
// non-terminal run exists for the same project. Safe for concurrent use.
func (s *RunStore) Start(ctx context.Context, run *MigrationRun) (*MigrationRun, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	run.State = RunStateRunning
	run.StartedAt = time.Now()
	key := run.ProjectID
	run.ActiveKey = &key

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing MigrationRun
		err := tx.Where("active_key = ?", run.ProjectID).First(&existing).Error
		if err == nil {
			return fmt.Errorf("%w: run %s is %s", ErrRunInProgress, existing.ID, existing.State)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check active run: %w", err)
		}

		if err := tx.Create(run).Error; err != nil {
			// Another process may have started a run between our check and
			// create; the unique index on active_key rejects ours.
			var raced MigrationRun
			if lookupErr := s.db.WithContext(ctx).Where("active_key = ?", run.ProjectID).First(&raced).Error; lookupErr == nil {
				return fmt.Errorf("%w: run %s is %s", ErrRunInProgress, raced.ID, raced.State)
			}
			return fmt.Errorf("start run: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// Complete marks a run as succeeded and releases the project.
func (s *RunStore) Complete(ctx context.Context, runID string, counts RunCounts, duration time.Duration) error {
	now := time.Now()
	result := s.db.WithContext(ctx).Model(&MigrationRun{}).
		Where("id = ? AND state IN ?", runID, []RunState{RunStateRunning, RunStateAbandoned}).
		Updates(map[string]any{
			"state":       RunStateSucceeded,
			"active_key":  nil,
			"finished_at": now,
			"objects":     counts.Objects,
			"branches":    counts.Branches,
			"commits":     counts.Commits,
			"comments":    counts.Comments,
			"blobs":       counts.Blobs,
			"saved_views": counts.SavedViews,
			"roles":       counts.Roles,
			"duration_ms": duration.Milliseconds(),
			"message":     fmt.Sprintf("Copied %d objects, %d commits, %d blobs", counts.Objects, counts.Commits, counts.Blobs),
		})
	if result.Error != nil {
		return fmt.Errorf("complete run: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("run %s not found or already finished", runID)
	}
	return nil
}

// Fail records a failed run. When compensation completed the project is
// released; otherwise the run is left abandoned until recovered.
func (s *RunStore) Fail(ctx context.Context, runID string, errMsg string, compensated bool, duration time.Duration) error {
	now := time.Now()
	updates := map[string]any{
		"last_error":  errMsg,
		"finished_at": now,
		"compensated": compensated,
		"duration_ms": duration.Milliseconds(),
	}
	if compensated {
		updates["state"] = RunStateFailed
		updates["active_key"] = nil
		updates["message"] = "Rolled back"
	} else {
		updates["state"] = RunStateAbandoned
		updates["message"] = "Compensation incomplete, run recovery"
	}

	result := s.db.WithContext(ctx).Model(&MigrationRun{}).
		Where("id = ? AND state IN ?", runID, []RunState{RunStateRunning, RunStateAbandoned}).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("fail run: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("run %s not found or already finished", runID)
	}
	return nil
}

// Get retrieves a run by ID. Returns nil, nil if it does not exist.
func (s *RunStore) Get(ctx context.Context, runID string) (*MigrationRun, error) {
	var run MigrationRun
	if err := s.db.WithContext(ctx).First(&run, "id = ?", runID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &run, nil
}

// List returns paginated runs matching the given filter, newest first.
func (s *RunStore) List(ctx context.Context, filter RunListFilter, pageSize int, pageToken string) ([]MigrationRun, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	buildQuery := func(base *gorm.DB) *gorm.DB {
		q := base.WithContext(ctx).Model(&MigrationRun{})
		if filter.ProjectID != "" {
			q = q.Where("project_id = ?", filter.ProjectID)
		}
		if filter.WorkspaceID != "" {
			q = q.Where("workspace_id = ?", filter.WorkspaceID)
		}
		if filter.State != "" {
			q = q.Where("state = ?", filter.State)
		}
		return q
	}

	var totalSize int64
	if err := buildQuery(s.db).Count(&totalSize).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count runs: %w", err)
	}

	query := buildQuery(s.db).Order("started_at DESC").Limit(pageSize + 1)
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", 0, fmt.Errorf("invalid page token: %w", err)
		}
		query = query.Where("started_at < ?", t)
	}

	var records []MigrationRun
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list runs: %w", err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = records[pageSize-1].StartedAt.Format(time.RFC3339Nano)
		records = records[:pageSize]
	}

	return records, nextToken, int(totalSize), nil
}

// MarkAbandoned transitions runs stuck in running (started before
// staleAfter ago) to abandoned.
func (s *RunStore) MarkAbandoned(ctx context.Context, staleAfter time.Duration) (int64, error) {
	cutoff := time.Now().Add(-staleAfter)
	result := s.db.WithContext(ctx).Model(&MigrationRun{}).
		Where("state = ? AND started_at < ?", RunStateRunning, cutoff).
		Updates(map[string]any{
			"state":      RunStateAbandoned,
			"last_error": "Timed out (stuck run detection)",
		})
	if result.Error != nil {
		return 0, fmt.Errorf("mark abandoned runs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ListAbandoned returns every run awaiting recovery, oldest first. Runs
// whose recovery was interrupted are included.
func (s *RunStore) ListAbandoned(ctx context.Context) ([]MigrationRun, error) {
	var runs []MigrationRun
	if err := s.db.WithContext(ctx).
		Where("state IN ?", []RunState{RunStateAbandoned, RunStateRecovering}).
		Order("started_at ASC").Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("list abandoned runs: %w", err)
	}
	return runs, nil
}

// ClaimRecovery moves an abandoned run to recovering. It re-checks the
// state in the same statement, so a run that completed after it was listed
// is refused with ErrRunNotAbandoned.
func (s *RunStore) ClaimRecovery(ctx context.Context, runID string) error {
	result := s.db.WithContext(ctx).Model(&MigrationRun{}).
		Where("id = ? AND state IN ?", runID, []RunState{RunStateAbandoned, RunStateRecovering}).
		Update("state", RunStateRecovering)
	if result.Error != nil {
		return fmt.Errorf("claim run for recovery: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: run %s", ErrRunNotAbandoned, runID)
	}
	return nil
}

// ReleaseRecovery returns a claimed run to abandoned after a failed
// recovery attempt.
func (s *RunStore) ReleaseRecovery(ctx context.Context, runID string) error {
	result := s.db.WithContext(ctx).Model(&MigrationRun{}).
		Where("id = ? AND state = ?", runID, RunStateRecovering).
		Update("state", RunStateAbandoned)
	if result.Error != nil {
		return fmt.Errorf("release run recovery: %w", result.Error)
	}
	return nil
}

// MarkRecovered closes a claimed run after its leftovers were removed.
func (s *RunStore) MarkRecovered(ctx context.Context, runID string) error {
	now := time.Now()
	result := s.db.WithContext(ctx).Model(&MigrationRun{}).
		Where("id = ? AND state = ?", runID, RunStateRecovering).
		Updates(map[string]any{
			"state":       RunStateRecovered,
			"active_key":  nil,
			"finished_at": now,
			"compensated": true,
			"message":     "Leftovers removed by recovery",
		})
	if result.Error != nil {
		return fmt.Errorf("mark run recovered: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: run %s was not claimed for recovery", ErrRunNotAbandoned, runID)
	}
	return nil
}

// DeleteOlderThan removes terminal runs finished before the given cutoff.
func (s *RunStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("state IN ? AND finished_at < ?",
		[]RunState{RunStateSucceeded, RunStateFailed, RunStateRecovered}, cutoff).
		Delete(&MigrationRun{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old runs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
