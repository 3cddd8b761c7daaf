// Package migration relocates a project from a source deployment into a
// destination workspace, which may live in the main deployment or in a data
// region with its own database and bucket.
//
// A run writes the destination inside one transaction per distinct
// destination database. Any failure after the project row was created rolls
// those transactions back and deletes the project from every destination
// database, so a failed run leaves nothing behind except, at worst, orphaned
// bytes in the destination bucket.
package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/tenantfed/relocator/pkg/identity"
	"github.com/tenantfed/relocator/pkg/jobs"
	"github.com/tenantfed/relocator/pkg/model"
	"github.com/tenantfed/relocator/pkg/objectstore"
	"github.com/tenantfed/relocator/pkg/regions"
	"github.com/tenantfed/relocator/pkg/store"
)

// Migrator runs relocations. Runs against the same destination workspace
// must be serialised by the caller.
type Migrator struct {
	source        *store.SourceReader
	sourceStorage objectstore.Client
	resolver      regions.Resolver

	batchSize           int
	verifyHashes        bool
	ledger              bool
	requestedBy         string
	compensationTimeout time.Duration
	logger              *slog.Logger
}

// New returns a Migrator reading from sourceDB and sourceStorage and
// resolving destinations through resolver.
func New(sourceDB *gorm.DB, sourceStorage objectstore.Client, resolver regions.Resolver, opts ...Option) *Migrator {
	m := &Migrator{
		sourceStorage:       sourceStorage,
		resolver:            resolver,
		batchSize:           defaultBatchSize,
		compensationTimeout: defaultCompensationTimeout,
		logger:              slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.source = store.NewSourceReader(sourceDB, m.batchSize)
	return m
}

// MigrateProjects relocates several projects into one workspace, one after
// the other, and stops at the first failure. Reports of the projects that
// completed are returned either way.
func (m *Migrator) MigrateProjects(ctx context.Context, workspaceID string, projectIDs []string, mapping map[string]string) ([]*Report, error) {
	reports := make([]*Report, 0, len(projectIDs))
	for _, id := range projectIDs {
		report, err := m.MigrateProject(ctx, Request{
			SourceProjectID:        id,
			DestinationWorkspaceID: workspaceID,
			UserIDMapping:          mapping,
		})
		if err != nil {
			return reports, fmt.Errorf("project %s: %w", id, err)
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// MigrateProject relocates one project. The source is only read.
func (m *Migrator) MigrateProject(ctx context.Context, req Request) (*Report, error) {
	started := time.Now()
	r := &run{
		m:      m,
		req:    req,
		remap:  identity.NewRemapper(req.UserIDMapping),
		log:    m.logger.With("project", req.SourceProjectID, "workspace", req.DestinationWorkspaceID),
		report: &Report{ProjectID: req.SourceProjectID, WorkspaceID: req.DestinationWorkspaceID},
	}

	h, err := m.resolver.Resolve(ctx, req.DestinationWorkspaceID)
	if err != nil {
		r.log.Error("resolve destination failed", "error", err)
		return nil, err
	}
	r.h = h
	r.report.RegionKey = h.RegionKey
	if h.Regionalized() {
		r.log = r.log.With("region", *h.RegionKey)
	}

	project, workspaceRoles, err := r.prepare(ctx)
	if err != nil {
		r.log.Error("relocation rejected", "error", err)
		return nil, err
	}

	var runs *jobs.RunStore
	if m.ledger {
		runs = jobs.NewRunStore(h.MainDB)
		rec, err := runs.Start(ctx, &jobs.MigrationRun{
			ProjectID:   req.SourceProjectID,
			WorkspaceID: req.DestinationWorkspaceID,
			RegionKey:   h.RegionKey,
			RequestedBy: m.requestedBy,
		})
		if err != nil {
			r.log.Error("run ledger refused run", "error", err)
			return nil, err
		}
		r.report.RunID = rec.ID
		r.log = r.log.With("run", rec.ID)
	}

	err = r.createProject(ctx, project)
	if err == nil {
		err = r.copyAll(ctx, workspaceRoles)
		if err != nil {
			err = r.compensate(ctx, err)
		}
	}
	r.report.Duration = time.Since(started)

	if err != nil {
		r.log.Error("relocation failed", "error", err, "compensated", r.compensated)
		if runs != nil {
			lctx := context.WithoutCancel(ctx)
			if lerr := runs.Fail(lctx, r.report.RunID, err.Error(), r.compensated, r.report.Duration); lerr != nil {
				r.log.Error("record failed run", "error", lerr)
			}
		}
		return nil, err
	}

	if runs != nil {
		if lerr := runs.Complete(ctx, r.report.RunID, r.report.counts(), r.report.Duration); lerr != nil {
			r.log.Error("record completed run", "error", lerr)
		}
	}
	r.log.Info("relocation complete",
		"objects", r.report.Objects,
		"commits", r.report.Commits,
		"comments", r.report.Comments,
		"blobs", r.report.Blobs,
		"savedViews", r.report.SavedViews,
		"roles", r.report.Roles,
		"duration", r.report.Duration.String())
	return r.report, nil
}

// RecoverRun removes whatever an abandoned run left in its destination and
// closes the run in the ledger. The run is claimed before anything is
// deleted; a run that completed in the meantime is refused with
// jobs.ErrRunNotAbandoned and its project is left alone. The source is not
// touched, so the project can simply be relocated again afterwards.
func (m *Migrator) RecoverRun(ctx context.Context, runs *jobs.RunStore, rec jobs.MigrationRun) error {
	log := m.logger.With("run", rec.ID, "project", rec.ProjectID, "workspace", rec.WorkspaceID)

	if err := runs.ClaimRecovery(ctx, rec.ID); err != nil {
		return err
	}
	if err := m.deleteLeftovers(ctx, rec); err != nil {
		if rerr := runs.ReleaseRecovery(context.WithoutCancel(ctx), rec.ID); rerr != nil {
			log.Error("release recovery claim", "error", rerr)
		}
		return err
	}
	if err := runs.MarkRecovered(ctx, rec.ID); err != nil {
		return err
	}
	log.Info("abandoned run recovered")
	return nil
}

func (m *Migrator) deleteLeftovers(ctx context.Context, rec jobs.MigrationRun) error {
	h, err := m.resolver.Resolve(ctx, rec.WorkspaceID)
	if err != nil {
		return fmt.Errorf("resolve destination of run %s: %w", rec.ID, err)
	}
	if err := store.DeleteProject(ctx, h.RegionDB, rec.ProjectID); err != nil {
		return fmt.Errorf("delete leftovers from region db: %w", err)
	}
	if h.Regionalized() {
		if err := store.DeleteProject(ctx, h.MainDB, rec.ProjectID); err != nil {
			return fmt.Errorf("delete leftovers from main db: %w", err)
		}
	}
	return nil
}

// run carries the state of one MigrateProject call.
type run struct {
	m      *Migrator
	req    Request
	remap  *identity.Remapper
	log    *slog.Logger
	h      *regions.Handles
	report *Report

	regionTx *gorm.DB
	mainTx   *gorm.DB
	regionW  *store.Writer
	mainW    *store.Writer

	mainCommitted   bool
	regionCommitted bool
	compensated     bool

	// blob keys written to the destination bucket, for cleanup on failure
	writtenKeys []string
}

// prepare reads everything needed before the first destination write and
// rejects runs that cannot succeed.
func (r *run) prepare(ctx context.Context) (*model.Project, map[string]string, error) {
	src, err := r.m.source.GetProject(ctx, r.req.SourceProjectID)
	if err != nil {
		return nil, nil, err
	}
	if src == nil {
		return nil, nil, &SourceNotFoundError{ProjectID: r.req.SourceProjectID}
	}

	workspaceRoles, err := store.NewWorkspaceStore(r.h.MainDB).ListWorkspaceRoles(ctx, r.req.DestinationWorkspaceID)
	if err != nil {
		return nil, nil, err
	}

	for _, db := range r.destinationDBs() {
		existing, err := store.GetProject(ctx, db, src.ID)
		if err != nil {
			return nil, nil, err
		}
		if existing != nil {
			return nil, nil, &store.RelationalWriteError{
				Table:    "projects",
				Conflict: true,
				Err:      fmt.Errorf("project %s already exists in the destination", src.ID),
			}
		}
	}

	owner, err := r.remapRequired(src.OwnerID, "project "+src.ID)
	if err != nil {
		return nil, nil, err
	}

	dest := *src
	dest.OwnerID = owner
	dest.WorkspaceID = &r.req.DestinationWorkspaceID
	dest.RegionKey = r.h.RegionKey
	return &dest, workspaceRoles, nil
}

func (r *run) destinationDBs() []*gorm.DB {
	if r.h.Regionalized() {
		return []*gorm.DB{r.h.RegionDB, r.h.MainDB}
	}
	return []*gorm.DB{r.h.RegionDB}
}

// createProject writes the project row to the region database and, for a
// regionalized workspace, to the main database too. If only the first write
// succeeds it is undone before returning.
func (r *run) createProject(ctx context.Context, p *model.Project) error {
	if err := store.CreateProject(ctx, r.h.RegionDB, p); err != nil {
		r.compensated = true
		return err
	}
	if !r.h.Regionalized() {
		return nil
	}

	mainRow := *p
	if err := store.CreateProject(ctx, r.h.MainDB, &mainRow); err != nil {
		cctx, cancel := r.compensationContext(ctx)
		defer cancel()
		if derr := store.DeleteProject(cctx, r.h.RegionDB, p.ID); derr != nil {
			return errors.Join(err, fmt.Errorf("undo region project row: %w", derr))
		}
		r.compensated = true
		return err
	}
	return nil
}

// copyAll runs everything between opening and committing the destination
// transactions.
func (r *run) copyAll(ctx context.Context, workspaceRoles map[string]string) error {
	if err := r.begin(ctx); err != nil {
		return err
	}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"objects", r.copyObjects},
		{"branches and commits", r.copyBranchesAndCommits},
		{"comments", r.copyComments},
		{"blobs", r.copyBlobs},
		{"saved views", r.copySavedViews},
		{"roles", func(ctx context.Context) error { return r.reconcileRoles(ctx, workspaceRoles) }},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			return err
		}
		r.log.Debug("step done", "step", step.name)
	}

	return r.commit()
}

func (r *run) begin(ctx context.Context) error {
	r.regionTx = r.h.RegionDB.WithContext(ctx).Begin()
	if err := r.regionTx.Error; err != nil {
		r.regionTx = nil
		return &store.RelationalWriteError{Table: "begin region transaction", Err: err}
	}
	r.mainTx = r.regionTx
	if r.h.Regionalized() {
		r.mainTx = r.h.MainDB.WithContext(ctx).Begin()
		if err := r.mainTx.Error; err != nil {
			r.mainTx = nil
			return &store.RelationalWriteError{Table: "begin main transaction", Err: err}
		}
	}
	r.regionW = store.NewWriter(r.regionTx, r.m.batchSize)
	r.mainW = store.NewWriter(r.mainTx, r.m.batchSize)
	return nil
}

// commit commits main before region.
func (r *run) commit() error {
	if err := r.mainTx.Commit().Error; err != nil {
		return &store.RelationalWriteError{Table: "commit main transaction", Err: err}
	}
	r.mainCommitted = true
	if !r.h.Regionalized() {
		r.regionCommitted = true
		return nil
	}
	if err := r.regionTx.Commit().Error; err != nil {
		return &store.RelationalWriteError{Table: "commit region transaction", Err: err}
	}
	r.regionCommitted = true
	return nil
}

func (r *run) rollback() {
	if r.regionTx != nil && !r.regionCommitted {
		if err := r.regionTx.Rollback().Error; err != nil {
			r.log.Warn("rollback region transaction", "error", err)
		}
	}
	if r.h.Regionalized() && r.mainTx != nil && !r.mainCommitted {
		if err := r.mainTx.Rollback().Error; err != nil {
			r.log.Warn("rollback main transaction", "error", err)
		}
	}
}

func (r *run) compensationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.m.compensationTimeout)
}

// compensate undoes a failed run and returns cause, joined with any
// failure of the undo itself.
func (r *run) compensate(ctx context.Context, cause error) error {
	r.log.Warn("relocation failed, compensating", "error", cause)
	r.rollback()

	cctx, cancel := r.compensationContext(ctx)
	defer cancel()

	var errs []error
	if err := store.DeleteProject(cctx, r.h.RegionDB, r.req.SourceProjectID); err != nil {
		errs = append(errs, fmt.Errorf("compensate region db: %w", err))
	}
	if r.h.Regionalized() {
		if err := store.DeleteProject(cctx, r.h.MainDB, r.req.SourceProjectID); err != nil {
			errs = append(errs, fmt.Errorf("compensate main db: %w", err))
		}
	}

	// Never delete from the bucket we read from.
	if !objectstore.SameLocation(r.h.RegionStorage, r.m.sourceStorage) {
		for _, key := range r.writtenKeys {
			if err := r.h.RegionStorage.Delete(cctx, key); err != nil {
				r.log.Warn("delete copied blob", "key", key, "error", err)
			}
		}
	}

	if len(errs) > 0 {
		return errors.Join(append([]error{cause}, errs...)...)
	}
	r.compensated = true
	return cause
}

// remapRequired maps a nullable user reference whose row cannot be kept
// without a destination user.
func (r *run) remapRequired(id *string, referencedBy string) (*string, error) {
	if id == nil {
		return nil, nil
	}
	dst, err := r.remap.Remap(*id)
	if err != nil {
		return nil, &identity.UnmappedUserError{UserID: *id, Context: referencedBy}
	}
	return &dst, nil
}
