package model

// Workspace roles.
const (
	WorkspaceRoleAdmin  = "workspace:admin"
	WorkspaceRoleMember = "workspace:member"
	WorkspaceRoleGuest  = "workspace:guest"
)

// Project roles, strongest first.
const (
	ProjectRoleOwner       = "stream:owner"
	ProjectRoleContributor = "stream:contributor"
	ProjectRoleReviewer    = "stream:reviewer"
)

// ProjectRoleWeight orders project roles so that callers can keep the
// strongest of two grants. Unknown roles weigh zero.
func ProjectRoleWeight(role string) int {
	switch role {
	case ProjectRoleOwner:
		return 3
	case ProjectRoleContributor:
		return 2
	case ProjectRoleReviewer:
		return 1
	}
	return 0
}
