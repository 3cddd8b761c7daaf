package migration

import (
	"time"

	"github.com/tenantfed/relocator/pkg/jobs"
)

// Report summarises a successful run.
type Report struct {
	RunID       string  `json:"runId,omitempty" yaml:"runId,omitempty"`
	ProjectID   string  `json:"projectId" yaml:"projectId"`
	WorkspaceID string  `json:"workspaceId" yaml:"workspaceId"`
	RegionKey   *string `json:"regionKey,omitempty" yaml:"regionKey,omitempty"`

	Objects       int `json:"objects" yaml:"objects"`
	ObjectBatches int `json:"objectBatches" yaml:"objectBatches"`
	Branches      int `json:"branches" yaml:"branches"`
	Commits       int `json:"commits" yaml:"commits"`

	Comments        int `json:"comments" yaml:"comments"`
	CommentsDropped int `json:"commentsDropped" yaml:"commentsDropped"`
	CommentLinks    int `json:"commentLinks" yaml:"commentLinks"`

	Blobs        int   `json:"blobs" yaml:"blobs"`
	BlobsSkipped int   `json:"blobsSkipped" yaml:"blobsSkipped"`
	BlobBytes    int64 `json:"blobBytes" yaml:"blobBytes"`

	SavedViewGroups        int `json:"savedViewGroups" yaml:"savedViewGroups"`
	SavedViewGroupsDropped int `json:"savedViewGroupsDropped" yaml:"savedViewGroupsDropped"`
	SavedViews             int `json:"savedViews" yaml:"savedViews"`
	SavedViewsDropped      int `json:"savedViewsDropped" yaml:"savedViewsDropped"`
	SavedViewsUngrouped    int `json:"savedViewsUngrouped" yaml:"savedViewsUngrouped"`

	Roles int `json:"roles" yaml:"roles"`

	Duration time.Duration `json:"duration" yaml:"duration"`
}

func (r *Report) counts() jobs.RunCounts {
	return jobs.RunCounts{
		Objects:    r.Objects,
		Branches:   r.Branches,
		Commits:    r.Commits,
		Comments:   r.Comments,
		Blobs:      r.Blobs,
		SavedViews: r.SavedViews,
		Roles:      r.Roles,
	}
}
