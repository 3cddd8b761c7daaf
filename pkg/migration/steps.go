package migration

import (
	"context"
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/tenantfed/relocator/pkg/model"
	"github.com/tenantfed/relocator/pkg/objectstore"
	"github.com/tenantfed/relocator/pkg/roles"
)

func (r *run) projectID() string { return r.req.SourceProjectID }

func (r *run) copyObjects(ctx context.Context) error {
	err := r.m.source.StreamObjects(ctx, r.projectID(), func(page []model.ObjectRecord) error {
		if err := r.regionW.InsertObjects(page); err != nil {
			return err
		}
		r.report.Objects += len(page)
		r.report.ObjectBatches++
		return nil
	})
	if err != nil {
		return err
	}
	r.log.Info("copied objects", "count", r.report.Objects, "batches", r.report.ObjectBatches)
	return nil
}

// copyBranchesAndCommits fails on the first branch or commit whose author
// has no destination user. Join rows are written once every commit exists.
func (r *run) copyBranchesAndCommits(ctx context.Context) error {
	var branchIDs []string
	err := r.m.source.StreamBranches(ctx, r.projectID(), func(page []model.Branch) error {
		for i := range page {
			author, err := r.remapRequired(page[i].AuthorID, "branch "+page[i].ID)
			if err != nil {
				return err
			}
			page[i].AuthorID = author
			branchIDs = append(branchIDs, page[i].ID)
		}
		if err := r.regionW.InsertBranches(page); err != nil {
			return err
		}
		r.report.Branches += len(page)
		return nil
	})
	if err != nil {
		return err
	}

	commitIDs := make(map[string][]string, len(branchIDs))
	for _, branchID := range branchIDs {
		err := r.m.source.StreamCommitsByBranch(ctx, branchID, func(page []model.Commit) error {
			for i := range page {
				author, err := r.remapRequired(page[i].Author, "commit "+page[i].ID)
				if err != nil {
					return err
				}
				page[i].Author = author
				commitIDs[branchID] = append(commitIDs[branchID], page[i].ID)
			}
			if err := r.regionW.InsertCommits(page); err != nil {
				return err
			}
			r.report.Commits += len(page)
			return nil
		})
		if err != nil {
			return err
		}
	}

	for _, branchID := range branchIDs {
		ids := commitIDs[branchID]
		if len(ids) == 0 {
			continue
		}
		branchCommits := make([]model.BranchCommit, 0, len(ids))
		projectCommits := make([]model.ProjectCommit, 0, len(ids))
		for _, id := range ids {
			branchCommits = append(branchCommits, model.BranchCommit{BranchID: branchID, CommitID: id})
			projectCommits = append(projectCommits, model.ProjectCommit{ProjectID: r.projectID(), CommitID: id})
		}
		if err := r.regionW.InsertBranchCommits(branchCommits); err != nil {
			return err
		}
		if err := r.regionW.InsertProjectCommits(projectCommits); err != nil {
			return err
		}
	}
	r.log.Info("copied branches and commits", "branches", r.report.Branches, "commits", r.report.Commits)
	return nil
}

// copyComments keeps comments whose author is mapped and whose text is
// present. Replies follow the fate of their parent.
func (r *run) copyComments(ctx context.Context) error {
	kept := mapset.NewThreadUnsafeSet[string]()
	err := r.m.source.StreamComments(ctx, r.projectID(), func(page []model.Comment) error {
		out := make([]model.Comment, 0, len(page))
		ids := make([]string, 0, len(page))
		for _, c := range page {
			if !r.keepComment(c, kept) {
				r.report.CommentsDropped++
				continue
			}
			author, _ := r.remap.Remap(c.AuthorID)
			c.AuthorID = author
			kept.Add(c.ID)
			out = append(out, c)
			ids = append(ids, c.ID)
		}
		if err := r.regionW.InsertComments(out); err != nil {
			return err
		}
		r.report.Comments += len(out)

		links, err := r.m.source.CommentLinks(ctx, ids)
		if err != nil {
			return err
		}
		if err := r.regionW.InsertCommentLinks(links); err != nil {
			return err
		}
		r.report.CommentLinks += len(links)
		return nil
	})
	if err != nil {
		return err
	}
	r.log.Info("copied comments", "kept", r.report.Comments, "dropped", r.report.CommentsDropped, "links", r.report.CommentLinks)
	return nil
}

func (r *run) keepComment(c model.Comment, kept mapset.Set[string]) bool {
	if c.ParentCommentID != nil && !kept.Contains(*c.ParentCommentID) {
		return false
	}
	if c.Text == nil || *c.Text == "" {
		return false
	}
	if c.AuthorID == "" || !r.remap.Resolvable(&c.AuthorID) {
		r.log.Debug("dropping comment with unmapped author", "comment", c.ID, "author", c.AuthorID)
		return false
	}
	return true
}

// copyBlobs streams every completed blob with a mapped (or no) owner into
// the destination bucket and records the hash of the bytes actually
// written.
func (r *run) copyBlobs(ctx context.Context) error {
	err := r.m.source.StreamBlobs(ctx, r.projectID(), func(page []model.Blob) error {
		for i := range page {
			if err := r.copyBlob(ctx, page[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.log.Info("copied blobs", "count", r.report.Blobs, "skipped", r.report.BlobsSkipped, "bytes", r.report.BlobBytes)
	return nil
}

func (r *run) copyBlob(ctx context.Context, b model.Blob) error {
	switch {
	case b.UploadStatus != model.BlobUploadCompleted:
		r.report.BlobsSkipped++
		return nil
	case !r.remap.Resolvable(b.UserID):
		r.report.BlobsSkipped++
		r.log.Debug("skipping blob with unmapped owner", "blob", b.ID)
		return nil
	case b.ObjectKey == "":
		r.report.BlobsSkipped++
		r.log.Warn("skipping blob without object key", "blob", b.ID)
		return nil
	}

	res, err := r.transferBlob(ctx, b.ObjectKey)
	if err != nil {
		return err
	}
	if r.m.verifyHashes && b.FileHash != "" && !strings.EqualFold(b.FileHash, res.Hash) {
		return &objectstore.StorageCopyError{
			Key: b.ObjectKey,
			Op:  "verify",
			Err: fmt.Errorf("recorded hash %s, copied bytes hash to %s", b.FileHash, res.Hash),
		}
	}

	b.UserID, _ = r.remap.RemapOptional(b.UserID)
	b.FileHash = res.Hash
	b.FileSize = res.Size
	if err := r.regionW.UpsertBlob(&b); err != nil {
		return err
	}
	r.report.Blobs++
	r.report.BlobBytes += res.Size
	return nil
}

// transferBlob copies key into the destination bucket. When the destination
// is the source bucket itself the object is already in place and is only
// hashed. Only keys this run actually wrote are remembered for cleanup.
func (r *run) transferBlob(ctx context.Context, key string) (objectstore.CopyResult, error) {
	if objectstore.SameLocation(r.m.sourceStorage, r.h.RegionStorage) {
		return objectstore.Hash(ctx, r.m.sourceStorage, key)
	}
	res, err := objectstore.Copy(ctx, r.m.sourceStorage, r.h.RegionStorage, key, key)
	if err != nil {
		return res, err
	}
	r.writtenKeys = append(r.writtenKeys, key)
	return res, nil
}

// copySavedViews copies groups then views, keeping rows with a mapped (or
// no) author. A view whose group was dropped is kept ungrouped.
func (r *run) copySavedViews(ctx context.Context) error {
	keptGroups := mapset.NewThreadUnsafeSet[string]()
	err := r.m.source.StreamSavedViewGroups(ctx, r.projectID(), func(page []model.SavedViewGroup) error {
		out := make([]model.SavedViewGroup, 0, len(page))
		for _, g := range page {
			if !r.remap.Resolvable(g.AuthorID) {
				r.report.SavedViewGroupsDropped++
				continue
			}
			g.AuthorID, _ = r.remap.RemapOptional(g.AuthorID)
			keptGroups.Add(g.ID)
			out = append(out, g)
		}
		if err := r.regionW.InsertSavedViewGroups(out); err != nil {
			return err
		}
		r.report.SavedViewGroups += len(out)
		return nil
	})
	if err != nil {
		return err
	}

	err = r.m.source.StreamSavedViews(ctx, r.projectID(), func(page []model.SavedView) error {
		out := make([]model.SavedView, 0, len(page))
		for _, v := range page {
			if !r.remap.Resolvable(v.AuthorID) {
				r.report.SavedViewsDropped++
				continue
			}
			v.AuthorID, _ = r.remap.RemapOptional(v.AuthorID)
			if v.GroupID != nil && !keptGroups.Contains(*v.GroupID) {
				v.GroupID = nil
				r.report.SavedViewsUngrouped++
			}
			out = append(out, v)
		}
		if err := r.regionW.InsertSavedViews(out); err != nil {
			return err
		}
		r.report.SavedViews += len(out)
		return nil
	})
	if err != nil {
		return err
	}
	r.log.Info("copied saved views", "groups", r.report.SavedViewGroups, "views", r.report.SavedViews,
		"dropped", r.report.SavedViewsDropped, "ungrouped", r.report.SavedViewsUngrouped)
	return nil
}

// reconcileRoles grants project roles to every mapped user that exists on
// the source, in the main database transaction.
func (r *run) reconcileRoles(ctx context.Context, workspaceRoles map[string]string) error {
	sourceUsers, err := r.m.source.ExistingUserIDs(ctx, r.remap.SourceUserIDs())
	if err != nil {
		return err
	}
	collaborators, err := r.m.source.ProjectCollaborators(ctx, r.projectID())
	if err != nil {
		return err
	}

	rows, err := roles.ReconcileAll(roles.Input{
		ProjectID:      r.projectID(),
		WorkspaceID:    r.req.DestinationWorkspaceID,
		Remapper:       r.remap,
		SourceUserIDs:  sourceUsers,
		SourceRoles:    collaborators,
		WorkspaceRoles: workspaceRoles,
	})
	if err != nil {
		return err
	}
	if err := r.mainW.UpsertProjectRoles(rows); err != nil {
		return err
	}
	r.report.Roles = len(rows)
	r.log.Info("reconciled project roles", "granted", len(rows), "users", len(sourceUsers))
	return nil
}
