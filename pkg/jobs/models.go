// Package jobs keeps a durable ledger of relocation runs in the main
// database, so that a run interrupted between its first destination write
// and its commit or compensation can be found and cleaned up later.
package jobs

import (
	"time"
)

// RunState represents the lifecycle state of a relocation run.
type RunState string

const (
	RunStateRunning   RunState = "running"
	RunStateSucceeded RunState = "succeeded"
	RunStateFailed    RunState = "failed"
	// RunStateAbandoned marks a run that stopped without finishing its
	// compensation. Its destination may hold a partial project.
	RunStateAbandoned RunState = "abandoned"
	// RunStateRecovering marks an abandoned run claimed by recovery. It can
	// no longer be completed or failed by the process that started it.
	RunStateRecovering RunState = "recovering"
	RunStateRecovered  RunState = "recovered"
)

// MigrationRun is the GORM model for one relocation attempt of one project.
// ActiveKey holds the project id while the run is not terminal; its unique
// index lets at most one such run exist per project.
type MigrationRun struct {
	ID          string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	ProjectID   string     `gorm:"column:project_id;size:64;index:idx_run_project_state,priority:1;not null"`
	WorkspaceID string     `gorm:"column:workspace_id;size:64;not null"`
	RegionKey   *string    `gorm:"column:region_key;size:64"`
	RequestedBy string     `gorm:"column:requested_by"`
	State       RunState   `gorm:"column:state;size:16;index:idx_run_project_state,priority:2;index:idx_run_state;not null;default:running"`
	ActiveKey   *string    `gorm:"column:active_key;size:64;uniqueIndex:idx_run_active_key"`
	StartedAt   time.Time  `gorm:"column:started_at;not null"`
	FinishedAt  *time.Time `gorm:"column:finished_at"`
	Compensated bool       `gorm:"column:compensated"`
	LastError   string     `gorm:"column:last_error"`
	Message     string     `gorm:"column:message"`
	Objects     int        `gorm:"column:objects"`
	Branches    int        `gorm:"column:branches"`
	Commits     int        `gorm:"column:commits"`
	Comments    int        `gorm:"column:comments"`
	Blobs       int        `gorm:"column:blobs"`
	SavedViews  int        `gorm:"column:saved_views"`
	Roles       int        `gorm:"column:roles"`
	DurationMs  int64      `gorm:"column:duration_ms"`
}

// TableName returns the GORM table name.
func (MigrationRun) TableName() string { return "project_migration_runs" }

// IsTerminal returns true if the run needs no further attention.
func (r *MigrationRun) IsTerminal() bool {
	switch r.State {
	case RunStateSucceeded, RunStateFailed, RunStateRecovered:
		return true
	}
	return false
}

// RunCounts are the per-aggregate totals recorded on success.
type RunCounts struct {
	Objects    int
	Branches   int
	Commits    int
	Comments   int
	Blobs      int
	SavedViews int
	Roles      int
}
