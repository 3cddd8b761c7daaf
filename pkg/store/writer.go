package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tenantfed/relocator/pkg/model"
)

// Writer inserts relocated rows through one open destination transaction.
// Nothing it writes is visible to other connections until the caller
// commits that transaction.
type Writer struct {
	tx        *gorm.DB
	batchSize int
}

func NewWriter(tx *gorm.DB, batchSize int) *Writer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Writer{tx: tx, batchSize: batchSize}
}

func (w *Writer) InsertObjects(rows []model.ObjectRecord) error {
	return insertRows(w, "objects", rows)
}

func (w *Writer) InsertBranches(rows []model.Branch) error {
	return insertRows(w, "branches", rows)
}

func (w *Writer) InsertCommits(rows []model.Commit) error {
	return insertRows(w, "commits", rows)
}

func (w *Writer) InsertBranchCommits(rows []model.BranchCommit) error {
	return insertRows(w, "branch_commits", rows)
}

func (w *Writer) InsertProjectCommits(rows []model.ProjectCommit) error {
	return insertRows(w, "project_commits", rows)
}

func (w *Writer) InsertComments(rows []model.Comment) error {
	return insertRows(w, "comments", rows)
}

func (w *Writer) InsertCommentLinks(rows []model.CommentLink) error {
	return insertRows(w, "comment_links", rows)
}

func (w *Writer) InsertSavedViewGroups(rows []model.SavedViewGroup) error {
	return insertRows(w, "saved_view_groups", rows)
}

func (w *Writer) InsertSavedViews(rows []model.SavedView) error {
	return insertRows(w, "saved_views", rows)
}

// UpsertBlob writes the blob row, replacing a previous copy of it.
func (w *Writer) UpsertBlob(b *model.Blob) error {
	err := w.tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(b).Error
	return writeError("blobs", err)
}

// UpsertProjectRoles writes role grants, overwriting the role of an
// existing (project, user) pair.
func (w *Writer) UpsertProjectRoles(rows []model.ProjectRole) error {
	if len(rows) == 0 {
		return nil
	}
	err := w.tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role"}),
	}).CreateInBatches(rows, w.batchSize).Error
	return writeError("project_roles", err)
}

func insertRows[T any](w *Writer, table string, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	return writeError(table, w.tx.CreateInBatches(rows, w.batchSize).Error)
}

// CreateProject inserts the project row outside any migration transaction.
func CreateProject(ctx context.Context, db *gorm.DB, p *model.Project) error {
	return writeError("projects", db.WithContext(ctx).Create(p).Error)
}

// DeleteProject removes a project and every row that belongs to it. It is
// safe to call on a database that holds none of them.
func DeleteProject(ctx context.Context, db *gorm.DB, projectID string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		commentIDs := tx.Model(&model.Comment{}).Select("id").Where("project_id = ?", projectID)
		if err := tx.Where("comment_id IN (?)", commentIDs).Delete(&model.CommentLink{}).Error; err != nil {
			return fmt.Errorf("delete comment_links: %w", err)
		}

		branchIDs := tx.Model(&model.Branch{}).Select("id").Where("project_id = ?", projectID)
		if err := tx.Where("branch_id IN (?)", branchIDs).Delete(&model.BranchCommit{}).Error; err != nil {
			return fmt.Errorf("delete branch_commits: %w", err)
		}

		commitIDs := tx.Model(&model.ProjectCommit{}).Select("commit_id").Where("project_id = ?", projectID)
		if err := tx.Where("id IN (?)", commitIDs).Delete(&model.Commit{}).Error; err != nil {
			return fmt.Errorf("delete commits: %w", err)
		}

		byProject := []struct {
			table string
			model any
		}{
			{"project_commits", &model.ProjectCommit{}},
			{"comments", &model.Comment{}},
			{"branches", &model.Branch{}},
			{"objects", &model.ObjectRecord{}},
			{"blobs", &model.Blob{}},
			{"saved_views", &model.SavedView{}},
			{"saved_view_groups", &model.SavedViewGroup{}},
			{"project_roles", &model.ProjectRole{}},
		}
		for _, t := range byProject {
			if err := tx.Where("project_id = ?", projectID).Delete(t.model).Error; err != nil {
				return fmt.Errorf("delete %s: %w", t.table, err)
			}
		}

		if err := tx.Where("id = ?", projectID).Delete(&model.Project{}).Error; err != nil {
			return fmt.Errorf("delete project: %w", err)
		}
		return nil
	})
}
