package jobs

import "time"

// LedgerConfig controls run bookkeeping.
type LedgerConfig struct {
	Enabled       bool          // Whether runs are recorded at all. Default true.
	StaleAfter    time.Duration // Age after which a running run is considered abandoned. Default 6h.
	RetentionDays int           // How long to keep terminal runs. Default 30.
}

// DefaultLedgerConfig returns the default ledger configuration.
func DefaultLedgerConfig() *LedgerConfig {
	return &LedgerConfig{
		Enabled:       true,
		StaleAfter:    6 * time.Hour,
		RetentionDays: 30,
	}
}
