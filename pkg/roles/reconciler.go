// Package roles derives the project role a relocated user gets on the
// destination from their destination workspace role and the role they held
// on the source project.
package roles

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tenantfed/relocator/pkg/identity"
	"github.com/tenantfed/relocator/pkg/model"
)

// ErrUserNotInWorkspace is matched by every UserNotInWorkspaceError.
var ErrUserNotInWorkspace = errors.New("user is not a member of the destination workspace")

// UserNotInWorkspaceError names the destination user that lacks a workspace
// role. Workspace membership has to be provisioned before relocation.
type UserNotInWorkspaceError struct {
	UserID      string
	WorkspaceID string
}

func (e *UserNotInWorkspaceError) Error() string {
	return fmt.Sprintf("user %q has no role in destination workspace %q", e.UserID, e.WorkspaceID)
}

func (e *UserNotInWorkspaceError) Unwrap() error { return ErrUserNotInWorkspace }

// Reconcile applies, highest precedence first:
//
//	a. workspace admin        -> owner
//	b. prior project role     -> kept as is
//	c. workspace member       -> contributor
//	d. workspace guest        -> nothing granted
//
// granted is false when the user ends up without a project role.
func Reconcile(prior *string, workspaceRole string) (role string, granted bool, err error) {
	if workspaceRole == "" {
		return "", false, ErrUserNotInWorkspace
	}
	if workspaceRole == model.WorkspaceRoleAdmin {
		return model.ProjectRoleOwner, true, nil
	}
	if prior != nil && *prior != "" {
		return *prior, true, nil
	}
	if workspaceRole == model.WorkspaceRoleMember {
		return model.ProjectRoleContributor, true, nil
	}
	return "", false, nil
}

// Input describes one project's collaborators on both sides.
type Input struct {
	ProjectID   string
	WorkspaceID string
	Remapper    *identity.Remapper
	// SourceUserIDs are the migrated users, as source ids.
	SourceUserIDs []string
	// SourceRoles maps source user id to the role held on the source project.
	SourceRoles map[string]string
	// WorkspaceRoles maps destination user id to destination workspace role.
	WorkspaceRoles map[string]string
}

// ReconcileAll computes the destination ProjectRole rows, one per destination
// user. Several source users may map onto one destination user; the
// strongest resulting role wins.
func ReconcileAll(in Input) ([]model.ProjectRole, error) {
	byUser := make(map[string]string)

	for _, srcID := range in.SourceUserIDs {
		dstID, err := in.Remapper.Remap(srcID)
		if err != nil {
			return nil, err
		}

		var prior *string
		if r, ok := in.SourceRoles[srcID]; ok {
			prior = &r
		}

		role, granted, err := Reconcile(prior, in.WorkspaceRoles[dstID])
		if err != nil {
			if errors.Is(err, ErrUserNotInWorkspace) {
				return nil, &UserNotInWorkspaceError{UserID: dstID, WorkspaceID: in.WorkspaceID}
			}
			return nil, err
		}
		if !granted {
			continue
		}
		if cur, ok := byUser[dstID]; ok && model.ProjectRoleWeight(cur) >= model.ProjectRoleWeight(role) {
			continue
		}
		byUser[dstID] = role
	}

	userIDs := make([]string, 0, len(byUser))
	for id := range byUser {
		userIDs = append(userIDs, id)
	}
	sort.Strings(userIDs)

	out := make([]model.ProjectRole, 0, len(userIDs))
	for _, id := range userIDs {
		out = append(out, model.ProjectRole{
			ProjectID: in.ProjectID,
			UserID:    id,
			Role:      byUser[id],
		})
	}
	return out, nil
}
