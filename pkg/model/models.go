// Package model holds the GORM models shared by the source reader, the
// destination writer and the region registry.
package model

import (
	"time"
)

// Project is the unit of relocation. Its id is preserved across regions.
type Project struct {
	ID          string    `gorm:"primaryKey;column:id;size:64"`
	Name        string    `gorm:"column:name;not null"`
	Description string    `gorm:"column:description"`
	Visibility  string    `gorm:"column:visibility;size:32;default:private;not null"`
	RegionKey   *string   `gorm:"column:region_key;size:64"`
	WorkspaceID *string   `gorm:"column:workspace_id;size:64;index"`
	OwnerID     *string   `gorm:"column:owner_id;size:64"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (Project) TableName() string { return "projects" }

// ObjectRecord is an immutable, content-addressed node of a project's data
// graph. Payload is copied byte for byte.
type ObjectRecord struct {
	ProjectID string    `gorm:"primaryKey;column:project_id;size:64"`
	ID        string    `gorm:"primaryKey;column:id;size:64"`
	Payload   []byte    `gorm:"column:payload"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (ObjectRecord) TableName() string { return "objects" }

// Branch is a named line of commits within a project.
type Branch struct {
	ID          string    `gorm:"primaryKey;column:id;size:64"`
	ProjectID   string    `gorm:"column:project_id;size:64;index;not null"`
	Name        string    `gorm:"column:name;not null"`
	Description string    `gorm:"column:description"`
	AuthorID    *string   `gorm:"column:author_id;size:64"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (Branch) TableName() string { return "branches" }

// Commit points at the root object of a snapshot.
type Commit struct {
	ID                string    `gorm:"primaryKey;column:id;size:64"`
	ObjectID          string    `gorm:"column:object_id;size:64;not null"`
	Author            *string   `gorm:"column:author;size:64"`
	Message           string    `gorm:"column:message"`
	SourceApplication string    `gorm:"column:source_application"`
	CreatedAt         time.Time `gorm:"column:created_at"`
}

func (Commit) TableName() string { return "commits" }

// BranchCommit links a commit to the branch it was made on.
type BranchCommit struct {
	BranchID string `gorm:"primaryKey;column:branch_id;size:64"`
	CommitID string `gorm:"primaryKey;column:commit_id;size:64"`
}

func (BranchCommit) TableName() string { return "branch_commits" }

// ProjectCommit links a commit to its project.
type ProjectCommit struct {
	ProjectID string `gorm:"primaryKey;column:project_id;size:64"`
	CommitID  string `gorm:"primaryKey;column:commit_id;size:64"`
}

func (ProjectCommit) TableName() string { return "project_commits" }

// Comment is a discussion thread entry attached to project resources.
type Comment struct {
	ID              string    `gorm:"primaryKey;column:id;size:64"`
	ProjectID       string    `gorm:"column:project_id;size:64;index;not null"`
	AuthorID        string    `gorm:"column:author_id;size:64"`
	Text            *string   `gorm:"column:text"`
	ParentCommentID *string   `gorm:"column:parent_comment_id;size:64"`
	Archived        bool      `gorm:"column:archived;not null"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

func (Comment) TableName() string { return "comments" }

// CommentLink attaches a comment to a resource (commit, object, comment).
type CommentLink struct {
	CommentID    string `gorm:"primaryKey;column:comment_id;size:64"`
	ResourceID   string `gorm:"primaryKey;column:resource_id;size:64"`
	ResourceType string `gorm:"column:resource_type;size:32;not null"`
}

func (CommentLink) TableName() string { return "comment_links" }

// Upload states of a blob. Only completed uploads are relocated.
const (
	BlobUploadPending   = 0
	BlobUploadCompleted = 1
	BlobUploadFailed    = 2
)

// Blob is an uploaded binary file. FileHash is the hex MD5 of the stored bytes.
type Blob struct {
	ID           string    `gorm:"primaryKey;column:id;size:64"`
	ProjectID    string    `gorm:"column:project_id;size:64;index;not null"`
	UserID       *string   `gorm:"column:user_id;size:64"`
	ObjectKey    string    `gorm:"column:object_key"`
	FileName     string    `gorm:"column:file_name;not null"`
	FileType     string    `gorm:"column:file_type"`
	FileSize     int64     `gorm:"column:file_size"`
	FileHash     string    `gorm:"column:file_hash;size:64"`
	UploadStatus int       `gorm:"column:upload_status;not null"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (Blob) TableName() string { return "blobs" }

// SavedViewGroup groups saved viewer states.
type SavedViewGroup struct {
	ID        string    `gorm:"primaryKey;column:id;size:64"`
	ProjectID string    `gorm:"column:project_id;size:64;index;not null"`
	AuthorID  *string   `gorm:"column:author_id;size:64"`
	Name      string    `gorm:"column:name"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (SavedViewGroup) TableName() string { return "saved_view_groups" }

// SavedView is a persisted viewer state.
type SavedView struct {
	ID          string    `gorm:"primaryKey;column:id;size:64"`
	ProjectID   string    `gorm:"column:project_id;size:64;index;not null"`
	GroupID     *string   `gorm:"column:group_id;size:64"`
	AuthorID    *string   `gorm:"column:author_id;size:64"`
	Name        string    `gorm:"column:name"`
	ResourceIDs string    `gorm:"column:resource_ids"`
	ViewerState []byte    `gorm:"column:viewer_state"`
	Visibility  string    `gorm:"column:visibility;size:32"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (SavedView) TableName() string { return "saved_views" }

// ProjectRole grants a user a role on a project. It is derived on the
// destination, never copied verbatim.
type ProjectRole struct {
	ProjectID string    `gorm:"primaryKey;column:project_id;size:64"`
	UserID    string    `gorm:"primaryKey;column:user_id;size:64"`
	Role      string    `gorm:"column:role;size:32;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (ProjectRole) TableName() string { return "project_roles" }

type Workspace struct {
	ID        string    `gorm:"primaryKey;column:id;size:64"`
	Name      string    `gorm:"column:name;not null"`
	Slug      string    `gorm:"column:slug;size:128"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (Workspace) TableName() string { return "workspaces" }

type WorkspaceRole struct {
	WorkspaceID string    `gorm:"primaryKey;column:workspace_id;size:64"`
	UserID      string    `gorm:"primaryKey;column:user_id;size:64"`
	Role        string    `gorm:"column:role;size:32;not null"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (WorkspaceRole) TableName() string { return "workspace_roles" }

// WorkspaceRegion assigns a workspace to a region. A workspace without a
// row lives in the main region.
type WorkspaceRegion struct {
	WorkspaceID string `gorm:"primaryKey;column:workspace_id;size:64"`
	RegionKey   string `gorm:"primaryKey;column:region_key;size:64"`
}

func (WorkspaceRegion) TableName() string { return "workspace_regions" }

type Region struct {
	Key         string `gorm:"primaryKey;column:region_key;size:64"`
	Name        string `gorm:"column:name"`
	Description string `gorm:"column:description"`
}

func (Region) TableName() string { return "regions" }

type User struct {
	ID        string    `gorm:"primaryKey;column:id;size:64"`
	Name      string    `gorm:"column:name"`
	Email     string    `gorm:"column:email"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (User) TableName() string { return "users" }
