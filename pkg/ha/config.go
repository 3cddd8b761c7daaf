// Package ha provides the coordination primitive that keeps two relocator
// processes from migrating into the same destination workspace at once.
package ha

import (
	"os"
	"time"
)

// LockConfig holds configuration for run locking.
type LockConfig struct {
	// Enabled controls whether runs take the lock at all. When false every
	// locker is a no-op, suitable for a single operator on a quiet system.
	Enabled bool

	// Timeout bounds how long WithLock waits for a busy lock.
	Timeout time.Duration

	// RetryInterval is the pause between attempts of the table-based lock.
	RetryInterval time.Duration

	// StaleAfter is the age after which a table lock row whose holder
	// stopped refreshing it is taken over.
	StaleAfter time.Duration

	// Identity is recorded as the lock holder. Defaults to the pod name
	// (POD_NAME) or the hostname.
	Identity string
}

// DefaultLockConfig returns a LockConfig with sensible defaults.
func DefaultLockConfig() *LockConfig {
	return &LockConfig{
		Enabled:       true,
		Timeout:       30 * time.Second,
		RetryInterval: 1 * time.Second,
		StaleAfter:    5 * time.Minute,
		Identity:      defaultIdentity(),
	}
}

func defaultIdentity() string {
	if v := os.Getenv("POD_NAME"); v != "" {
		return v
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
