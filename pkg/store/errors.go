// Package store reads a project out of a source database in bounded batches
// and writes it into destination transactions.
package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrRelationalWrite is matched by every RelationalWriteError.
var ErrRelationalWrite = errors.New("relational write failed")

// RelationalWriteError names the destination table of a failed write.
// Conflict is set for unique-key violations, which on a fresh destination
// mean the data is already there.
type RelationalWriteError struct {
	Table    string
	Conflict bool
	Err      error
}

func (e *RelationalWriteError) Error() string {
	if e.Conflict {
		return fmt.Sprintf("write %s: conflicting row already exists: %v", e.Table, e.Err)
	}
	return fmt.Sprintf("write %s: %v", e.Table, e.Err)
}

func (e *RelationalWriteError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRelationalWrite}
	}
	return []error{ErrRelationalWrite, e.Err}
}

func writeError(table string, err error) error {
	if err == nil {
		return nil
	}
	return &RelationalWriteError{
		Table:    table,
		Conflict: errors.Is(err, gorm.ErrDuplicatedKey),
		Err:      err,
	}
}
