package migration

import (
	"log/slog"
	"time"

	"github.com/tenantfed/relocator/pkg/store"
)

// Request names one project and where it should go. UserIDMapping maps
// source user ids to destination user ids and must cover every user the
// project's branches and commits reference.
type Request struct {
	SourceProjectID        string
	DestinationWorkspaceID string
	UserIDMapping          map[string]string
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithBatchSize sets the page size for streaming reads and batched inserts.
// Non-positive values keep the default of 500.
func WithBatchSize(n int) Option {
	return func(m *Migrator) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

// WithBlobHashVerification makes a blob copy fail when the hash of the
// copied bytes differs from the hash the source recorded.
func WithBlobHashVerification() Option {
	return func(m *Migrator) { m.verifyHashes = true }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Migrator) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithRunLedger records every run in the destination main database's
// project_migration_runs table.
func WithRunLedger(requestedBy string) Option {
	return func(m *Migrator) {
		m.ledger = true
		m.requestedBy = requestedBy
	}
}

// WithCompensationTimeout bounds the cleanup after a failed run.
func WithCompensationTimeout(d time.Duration) Option {
	return func(m *Migrator) {
		if d > 0 {
			m.compensationTimeout = d
		}
	}
}

const (
	defaultBatchSize           = store.DefaultBatchSize
	defaultCompensationTimeout = 2 * time.Minute
)
