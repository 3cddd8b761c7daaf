package ha

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrLockTimeout is returned when a lock could not be acquired in time.
var ErrLockTimeout = errors.New("timed out waiting for run lock")

// RunLocker serialises relocation runs that share a key, typically the
// destination workspace id.
type RunLocker interface {
	// WithLock executes fn while holding the lock for key.
	// It blocks until the lock is acquired, then releases it after fn returns.
	WithLock(ctx context.Context, key string, fn func() error) error
}

// NewRunLocker creates a RunLocker appropriate for the database dialect.
// PostgreSQL uses session advisory locks; other databases use a table-based
// fallback whose table is created immediately.
func NewRunLocker(db *gorm.DB, cfg *LockConfig) (RunLocker, error) {
	if cfg == nil {
		cfg = DefaultLockConfig()
	}
	if db == nil || !cfg.Enabled {
		return &noopRunLock{}, nil
	}
	if db.Dialector.Name() == "postgres" {
		return &pgAdvisoryLock{db: db, cfg: cfg}, nil
	}
	if err := db.AutoMigrate(&runLockRecord{}); err != nil {
		return nil, fmt.Errorf("auto-migrate project_migration_locks: %w", err)
	}
	return &tableRunLock{db: db, cfg: cfg}, nil
}

// noopRunLock is used when locking is disabled or no database is configured.
type noopRunLock struct{}

func (n *noopRunLock) WithLock(_ context.Context, _ string, fn func() error) error {
	return fn()
}

// lockClass namespaces our advisory locks from any other user of
// pg_advisory_lock on the same server.
var lockClass = int32(crc32.ChecksumIEEE([]byte("project-relocation")))

func advisoryKey(key string) int32 {
	return int32(crc32.ChecksumIEEE([]byte(key)))
}

// pgAdvisoryLock uses PostgreSQL session advisory locks. Lock and unlock
// must run on the same session, so one pooled connection is held for the
// whole critical section.
type pgAdvisoryLock struct {
	db  *gorm.DB
	cfg *LockConfig
}

func (l *pgAdvisoryLock) WithLock(ctx context.Context, key string, fn func() error) error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB for advisory lock: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("reserve connection for advisory lock: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1, $2)", lockClass, advisoryKey(key)); err != nil {
		if errors.Is(lockCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: %s", ErrLockTimeout, key)
		}
		return fmt.Errorf("failed to acquire run advisory lock for %s: %w", key, err)
	}

	// Always release the lock, even when ctx is already cancelled.
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1, $2)", lockClass, advisoryKey(key))
	}()

	return fn()
}

// runLockRecord is the table-based lock row for non-PostgreSQL databases.
type runLockRecord struct {
	ID       string    `gorm:"primaryKey;column:id;size:191"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by"`
	Token    string    `gorm:"column:token;size:36"`
}

func (runLockRecord) TableName() string { return "project_migration_locks" }

// tableRunLock uses INSERT-or-fail semantics on one row per key. The holder
// refreshes locked_at while it runs, and rows that stop being refreshed are
// taken over after StaleAfter for crash recovery.
type tableRunLock struct {
	db  *gorm.DB
	cfg *LockConfig
}

func (l *tableRunLock) WithLock(ctx context.Context, key string, fn func() error) error {
	lockRow := runLockRecord{
		ID:       key,
		LockedBy: l.cfg.Identity,
		Token:    uuid.NewString(),
	}

	deadline := time.Now().Add(l.cfg.Timeout)
	for {
		// Delete stale locks to handle crash recovery.
		l.db.WithContext(ctx).Where("id = ? AND locked_at < ?", key, time.Now().Add(-l.cfg.StaleAfter)).Delete(&runLockRecord{})

		lockRow.LockedAt = time.Now()
		result := l.db.WithContext(ctx).Create(&lockRow)
		if result.Error == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, result.Error)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.cfg.RetryInterval):
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.refresh(key, lockRow.Token, stop, done)

	// Always release the lock.
	defer func() {
		close(stop)
		<-done
		l.db.Where("id = ? AND token = ?", key, lockRow.Token).Delete(&runLockRecord{})
	}()

	return fn()
}

func (l *tableRunLock) refresh(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := l.cfg.StaleAfter / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			l.db.Model(&runLockRecord{}).
				Where("id = ? AND token = ?", key, token).
				Update("locked_at", time.Now())
		}
	}
}
