package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/tenantfed/relocator/pkg/model"
)

// DefaultBatchSize bounds the rows held in memory per streamed page.
const DefaultBatchSize = 500

// SourceReader streams one project's rows out of the source database using
// keyset pagination on the primary key, so memory stays bounded by the
// batch size no matter how large the project is.
type SourceReader struct {
	db        *gorm.DB
	batchSize int
}

// NewSourceReader returns a reader over db. A non-positive batchSize falls
// back to DefaultBatchSize.
func NewSourceReader(db *gorm.DB, batchSize int) *SourceReader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &SourceReader{db: db, batchSize: batchSize}
}

func (r *SourceReader) BatchSize() int { return r.batchSize }

// GetProject returns nil, nil if the project does not exist.
func (r *SourceReader) GetProject(ctx context.Context, projectID string) (*model.Project, error) {
	return GetProject(ctx, r.db, projectID)
}

// GetProject looks a project up by id on any database. Returns nil, nil if
// no row exists.
func GetProject(ctx context.Context, db *gorm.DB, projectID string) (*model.Project, error) {
	var p model.Project
	err := db.WithContext(ctx).Where("id = ?", projectID).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get project %s: %w", projectID, err)
	}
	return &p, nil
}

func (r *SourceReader) StreamObjects(ctx context.Context, projectID string, fn func([]model.ObjectRecord) error) error {
	return streamPages(ctx, r, "objects.id",
		func(q *gorm.DB) *gorm.DB { return q.Where("objects.project_id = ?", projectID) },
		func(o model.ObjectRecord) string { return o.ID },
		fn)
}

func (r *SourceReader) StreamBranches(ctx context.Context, projectID string, fn func([]model.Branch) error) error {
	return streamPages(ctx, r, "branches.id",
		func(q *gorm.DB) *gorm.DB { return q.Where("branches.project_id = ?", projectID) },
		func(b model.Branch) string { return b.ID },
		fn)
}

// StreamCommitsByBranch pages through the commits linked to one branch.
func (r *SourceReader) StreamCommitsByBranch(ctx context.Context, branchID string, fn func([]model.Commit) error) error {
	return streamPages(ctx, r, "commits.id",
		func(q *gorm.DB) *gorm.DB {
			return q.Joins("JOIN branch_commits ON branch_commits.commit_id = commits.id").
				Where("branch_commits.branch_id = ?", branchID)
		},
		func(c model.Commit) string { return c.ID },
		fn)
}

// StreamComments yields all top-level comments before any reply, so a
// consumer deciding which threads survive sees every parent first.
func (r *SourceReader) StreamComments(ctx context.Context, projectID string, fn func([]model.Comment) error) error {
	err := streamPages(ctx, r, "comments.id",
		func(q *gorm.DB) *gorm.DB {
			return q.Where("comments.project_id = ? AND comments.parent_comment_id IS NULL", projectID)
		},
		func(c model.Comment) string { return c.ID },
		fn)
	if err != nil {
		return err
	}
	return streamPages(ctx, r, "comments.id",
		func(q *gorm.DB) *gorm.DB {
			return q.Where("comments.project_id = ? AND comments.parent_comment_id IS NOT NULL", projectID)
		},
		func(c model.Comment) string { return c.ID },
		fn)
}

// CommentLinks returns the link rows of the given comments.
func (r *SourceReader) CommentLinks(ctx context.Context, commentIDs []string) ([]model.CommentLink, error) {
	var out []model.CommentLink
	for _, chunk := range chunkStrings(commentIDs, r.batchSize) {
		var links []model.CommentLink
		err := r.db.WithContext(ctx).
			Where("comment_id IN ?", chunk).
			Order("comment_id, resource_id").
			Find(&links).Error
		if err != nil {
			return nil, fmt.Errorf("read comment_links: %w", err)
		}
		out = append(out, links...)
	}
	return out, nil
}

func (r *SourceReader) StreamBlobs(ctx context.Context, projectID string, fn func([]model.Blob) error) error {
	return streamPages(ctx, r, "blobs.id",
		func(q *gorm.DB) *gorm.DB { return q.Where("blobs.project_id = ?", projectID) },
		func(b model.Blob) string { return b.ID },
		fn)
}

func (r *SourceReader) StreamSavedViewGroups(ctx context.Context, projectID string, fn func([]model.SavedViewGroup) error) error {
	return streamPages(ctx, r, "saved_view_groups.id",
		func(q *gorm.DB) *gorm.DB { return q.Where("saved_view_groups.project_id = ?", projectID) },
		func(g model.SavedViewGroup) string { return g.ID },
		fn)
}

func (r *SourceReader) StreamSavedViews(ctx context.Context, projectID string, fn func([]model.SavedView) error) error {
	return streamPages(ctx, r, "saved_views.id",
		func(q *gorm.DB) *gorm.DB { return q.Where("saved_views.project_id = ?", projectID) },
		func(v model.SavedView) string { return v.ID },
		fn)
}

// ProjectCollaborators maps source user id to the role held on the project.
func (r *SourceReader) ProjectCollaborators(ctx context.Context, projectID string) (map[string]string, error) {
	var rows []model.ProjectRole
	if err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("read project_roles: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.UserID] = row.Role
	}
	return out, nil
}

// ExistingUserIDs returns the subset of ids that exist as users, sorted.
func (r *SourceReader) ExistingUserIDs(ctx context.Context, ids []string) ([]string, error) {
	var out []string
	for _, chunk := range chunkStrings(ids, r.batchSize) {
		var found []string
		err := r.db.WithContext(ctx).Model(&model.User{}).
			Where("id IN ?", chunk).
			Order("id").
			Pluck("id", &found).Error
		if err != nil {
			return nil, fmt.Errorf("read users: %w", err)
		}
		out = append(out, found...)
	}
	return out, nil
}

// streamPages runs keyset pagination over idColumn and hands each non-empty
// page to fn. A short page ends the stream.
func streamPages[T any](
	ctx context.Context,
	r *SourceReader,
	idColumn string,
	scope func(*gorm.DB) *gorm.DB,
	idOf func(T) string,
	fn func([]T) error,
) error {
	var lastID string
	first := true
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var page []T
		q := scope(r.db.WithContext(ctx).Model(new(T)))
		if !first {
			q = q.Where(idColumn+" > ?", lastID)
		}
		if err := q.Order(idColumn).Limit(r.batchSize).Find(&page).Error; err != nil {
			return fmt.Errorf("read page after %q: %w", lastID, err)
		}
		if len(page) == 0 {
			return nil
		}
		if err := fn(page); err != nil {
			return err
		}
		if len(page) < r.batchSize {
			return nil
		}
		lastID = idOf(page[len(page)-1])
		first = false
	}
}

func chunkStrings(ids []string, size int) [][]string {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var chunks [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
