package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tenantfed/relocator/pkg/ha"
	"github.com/tenantfed/relocator/pkg/jobs"
	"github.com/tenantfed/relocator/pkg/migration"
	"github.com/tenantfed/relocator/pkg/regions"
)

var (
	migrateWorkspace  string
	migrateProjects   []string
	migrateMap        []string
	migrateMapFile    string
	migrateBatchSize  int
	migrateVerifyHash bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Relocate projects into a destination workspace",
	Long: `Relocate one or more source projects into a destination workspace.

Every user referenced by the projects' branches and commits must be mapped to a
destination user, either with --map source=destination or a yaml --map-file.
Projects are relocated one after the other; the command stops at the first
failure, which is rolled back.`,
	Example: `  relocator migrate --workspace ws-42 --project 3f9a1c --map-file users.yaml
  relocator migrate --workspace ws-42 --project a1 --project b2 --map u1=d1 --map u2=d2`,
	RunE: runMigrate,
}

func init() {
	f := migrateCmd.Flags()
	f.StringVarP(&migrateWorkspace, "workspace", "w", "", "Destination workspace id")
	f.StringArrayVarP(&migrateProjects, "project", "p", nil, "Source project id (repeatable)")
	f.StringArrayVar(&migrateMap, "map", nil, "User mapping source=destination (repeatable)")
	f.StringVar(&migrateMapFile, "map-file", "", "Yaml file mapping source user ids to destination user ids")
	f.IntVar(&migrateBatchSize, "batch-size", 0, "Rows per batch (default from migration.batchSize)")
	f.BoolVar(&migrateVerifyHash, "verify-blob-hashes", false, "Fail when a copied blob does not match its recorded hash")
	_ = migrateCmd.MarkFlagRequired("workspace")
	_ = migrateCmd.MarkFlagRequired("project")
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mapping, err := loadMapping(migrateMap, migrateMapFile)
	if err != nil {
		return err
	}

	reg, err := openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	sourceDB, sourceStorage, err := openSource(ctx)
	if err != nil {
		return err
	}
	defer closeDB(sourceDB)

	mainDB, _, err := reg.Main(ctx)
	if err != nil {
		return err
	}

	batchSize := cfg.Migration.BatchSize
	if migrateBatchSize > 0 {
		batchSize = migrateBatchSize
	}
	opts := []migration.Option{
		migration.WithLogger(log),
		migration.WithBatchSize(batchSize),
	}
	if migrateVerifyHash || cfg.Migration.VerifyBlobHashes {
		opts = append(opts, migration.WithBlobHashVerification())
	}
	if cfg.LedgerConfig().Enabled {
		if err := jobs.NewRunStore(mainDB).AutoMigrate(); err != nil {
			return err
		}
		opts = append(opts, migration.WithRunLedger(requestedBy()))
	}

	locker, err := ha.NewRunLocker(mainDB, cfg.LockConfig())
	if err != nil {
		return err
	}

	m := migration.New(sourceDB, sourceStorage, regions.NewResolver(reg, log), opts...)
	log.Info("starting relocation",
		"workspace", migrateWorkspace,
		"projects", len(migrateProjects),
		"mappedUsers", len(mapping),
		"batchSize", batchSize)

	var reports []*migration.Report
	err = locker.WithLock(ctx, workspaceLockKey(migrateWorkspace), func() error {
		var err error
		reports, err = m.MigrateProjects(ctx, migrateWorkspace, migrateProjects, mapping)
		return err
	})
	if len(reports) > 0 {
		if perr := printReports(cmd, reports); perr != nil {
			return errors.Join(err, perr)
		}
	}
	if err != nil {
		return explain(err)
	}
	return nil
}

func workspaceLockKey(workspaceID string) string {
	return "workspace:" + workspaceID
}

// explain prefixes err with the offending id for the error kinds an
// operator can act on.
func explain(err error) error {
	var (
		unmapped *migration.UnmappedUserError
		outside  *migration.UserNotInWorkspaceError
		copyErr  *migration.StorageCopyError
		writeErr *migration.RelationalWriteError
	)
	switch {
	case errors.As(err, &unmapped):
		return fmt.Errorf("add source user %s to the user mapping: %w", unmapped.UserID, err)
	case errors.As(err, &outside):
		return fmt.Errorf("add user %s to workspace %s first: %w", outside.UserID, outside.WorkspaceID, err)
	case errors.As(err, &copyErr):
		return fmt.Errorf("blob %s could not be copied: %w", copyErr.Key, err)
	case errors.As(err, &writeErr) && writeErr.Conflict:
		return fmt.Errorf("destination already has rows in %s: %w", writeErr.Table, err)
	case errors.Is(err, ha.ErrLockTimeout):
		return fmt.Errorf("another relocation into workspace %s is running: %w", migrateWorkspace, err)
	case errors.Is(err, jobs.ErrRunInProgress):
		return fmt.Errorf("run `relocator runs recover` first: %w", err)
	}
	return err
}

func printReports(cmd *cobra.Command, reports []*migration.Report) error {
	w := cmd.OutOrStdout()
	if structured() {
		return printOutput(w, reports)
	}
	headers := []string{"Project", "Region", "Objects", "Commits", "Comments", "Blobs", "Views", "Roles", "Duration"}
	rows := make([][]string, 0, len(reports))
	for _, r := range reports {
		region := regions.MainRegionKey
		if r.RegionKey != nil {
			region = *r.RegionKey
		}
		rows = append(rows, []string{
			r.ProjectID,
			region,
			strconv.Itoa(r.Objects),
			strconv.Itoa(r.Commits),
			fmt.Sprintf("%d (-%d)", r.Comments, r.CommentsDropped),
			fmt.Sprintf("%d (-%d)", r.Blobs, r.BlobsSkipped),
			fmt.Sprintf("%d (-%d)", r.SavedViews, r.SavedViewsDropped),
			strconv.Itoa(r.Roles),
			r.Duration.Round(time.Millisecond).String(),
		})
	}
	printTable(w, headers, rows)
	return nil
}
