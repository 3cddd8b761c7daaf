package migration

import (
	"errors"
	"fmt"

	"github.com/tenantfed/relocator/pkg/identity"
	"github.com/tenantfed/relocator/pkg/objectstore"
	"github.com/tenantfed/relocator/pkg/regions"
	"github.com/tenantfed/relocator/pkg/roles"
	"github.com/tenantfed/relocator/pkg/store"
)

// Sentinels for the rejections and failures of MigrateProject, for
// errors.Is. Ledger refusals (jobs.ErrRunInProgress), an unconfigured region
// (regions.ErrRegionNotConfigured), source read errors and context errors
// are returned as they are.
var (
	ErrWorkspaceNotFound  = regions.ErrWorkspaceNotFound
	ErrUnmappedUser       = identity.ErrUnmappedUser
	ErrSourceNotFound     = errors.New("source project not found")
	ErrStorageCopy        = objectstore.ErrStorageCopy
	ErrRelationalWrite    = store.ErrRelationalWrite
	ErrUserNotInWorkspace = roles.ErrUserNotInWorkspace
)

// Typed errors carrying the offending id or key, for errors.As.
type (
	WorkspaceNotFoundError  = regions.WorkspaceNotFoundError
	UnmappedUserError       = identity.UnmappedUserError
	StorageCopyError        = objectstore.StorageCopyError
	RelationalWriteError    = store.RelationalWriteError
	UserNotInWorkspaceError = roles.UserNotInWorkspaceError
)

type SourceNotFoundError struct {
	ProjectID string
}

func (e *SourceNotFoundError) Error() string {
	return fmt.Sprintf("source project %q not found", e.ProjectID)
}

func (e *SourceNotFoundError) Unwrap() error { return ErrSourceNotFound }
