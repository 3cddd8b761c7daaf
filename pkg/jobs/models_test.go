package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMigrationRunTableName(t *testing.T) {
	r := MigrationRun{}
	assert.Equal(t, "project_migration_runs", r.TableName())
}

func TestMigrationRunIsTerminal(t *testing.T) {
	tests := []struct {
		state    RunState
		terminal bool
	}{
		{RunStateRunning, false},
		{RunStateAbandoned, false},
		{RunStateRecovering, false},
		{RunStateSucceeded, true},
		{RunStateFailed, true},
		{RunStateRecovered, true},
	}

	for _, tc := range tests {
		t.Run(string(tc.state), func(t *testing.T) {
			r := &MigrationRun{State: tc.state}
			assert.Equal(t, tc.terminal, r.IsTerminal())
		})
	}
}

func TestDefaultLedgerConfig(t *testing.T) {
	cfg := DefaultLedgerConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 30, cfg.RetentionDays)
	assert.Positive(t, cfg.StaleAfter)
}
