package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tenantfed/relocator/pkg/ha"
	"github.com/tenantfed/relocator/pkg/jobs"
	"github.com/tenantfed/relocator/pkg/migration"
	"github.com/tenantfed/relocator/pkg/regions"
)

var (
	runsProject   string
	runsWorkspace string
	runsState     string
	runsLimit     int
	runsPageToken string
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect and repair the relocation run ledger",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List relocation runs, newest first",
	RunE:  runRunsList,
}

var runsRecoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Clean up runs that stopped without finishing",
	Long: `Marks runs that have been running for longer than migration.staleRunAfter
as abandoned, then removes whatever every abandoned run left in its
destination and closes it. The affected projects can be relocated again
afterwards.`,
	RunE: runRunsRecover,
}

var runsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete finished runs older than migration.retentionDays",
	RunE:  runRunsPrune,
}

func init() {
	f := runsListCmd.Flags()
	f.StringVar(&runsProject, "project", "", "Filter by project id")
	f.StringVar(&runsWorkspace, "workspace", "", "Filter by destination workspace id")
	f.StringVar(&runsState, "state", "", "Filter by state (running, succeeded, failed, abandoned, recovering, recovered)")
	f.IntVar(&runsLimit, "limit", 20, "Page size (max 100)")
	f.StringVar(&runsPageToken, "page-token", "", "Token of the next page from a previous call")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsRecoverCmd)
	runsCmd.AddCommand(runsPruneCmd)
}

func openRuns(cmd *cobra.Command) (*regions.Registry, *jobs.RunStore, error) {
	reg, err := openRegistry()
	if err != nil {
		return nil, nil, err
	}
	mainDB, _, err := reg.Main(cmd.Context())
	if err != nil {
		reg.Close()
		return nil, nil, err
	}
	runs := jobs.NewRunStore(mainDB)
	if err := runs.AutoMigrate(); err != nil {
		reg.Close()
		return nil, nil, err
	}
	return reg, runs, nil
}

type runList struct {
	Runs          []jobs.MigrationRun `json:"runs"`
	NextPageToken string              `json:"nextPageToken,omitempty"`
	Total         int                 `json:"total"`
}

func runRunsList(cmd *cobra.Command, _ []string) error {
	reg, runs, err := openRuns(cmd)
	if err != nil {
		return err
	}
	defer reg.Close()

	filter := jobs.RunListFilter{ProjectID: runsProject, WorkspaceID: runsWorkspace, State: runsState}
	records, next, total, err := runs.List(cmd.Context(), filter, runsLimit, runsPageToken)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if structured() {
		return printOutput(w, runList{Runs: records, NextPageToken: next, Total: total})
	}

	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			r.ID,
			r.ProjectID,
			r.WorkspaceID,
			orDash(r.RegionKey),
			string(r.State),
			r.StartedAt.Format(time.RFC3339),
			strconv.Itoa(r.Objects),
			truncate(r.LastError, 60),
		})
	}
	printTable(w, []string{"ID", "Project", "Workspace", "Region", "State", "Started", "Objects", "Error"}, rows)
	if next != "" {
		fmt.Fprintf(w, "\nNext page: --page-token %s\n", next)
	}
	return nil
}

func runRunsRecover(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	reg, runs, err := openRuns(cmd)
	if err != nil {
		return err
	}
	defer reg.Close()

	stale, err := runs.MarkAbandoned(ctx, cfg.LedgerConfig().StaleAfter)
	if err != nil {
		return err
	}
	if stale > 0 {
		log.Warn("marked stuck runs as abandoned", "count", stale)
	}

	abandoned, err := runs.ListAbandoned(ctx)
	if err != nil {
		return err
	}
	if len(abandoned) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No abandoned runs.")
		return nil
	}

	mainDB, _, err := reg.Main(ctx)
	if err != nil {
		return err
	}
	locker, err := ha.NewRunLocker(mainDB, cfg.LockConfig())
	if err != nil {
		return err
	}

	// Recovery only touches the destination.
	m := migration.New(nil, nil, regions.NewResolver(reg, log), migration.WithLogger(log))
	var errs []error
	recovered, skipped := 0, 0
	for _, rec := range abandoned {
		err := locker.WithLock(ctx, workspaceLockKey(rec.WorkspaceID), func() error {
			return m.RecoverRun(ctx, runs, rec)
		})
		if errors.Is(err, jobs.ErrRunNotAbandoned) {
			log.Info("run finished before recovery, leaving it alone", "run", rec.ID, "project", rec.ProjectID)
			skipped++
			continue
		}
		if err != nil {
			log.Error("recover run failed", "run", rec.ID, "project", rec.ProjectID, "error", err)
			errs = append(errs, fmt.Errorf("run %s: %w", rec.ID, err))
			continue
		}
		recovered++
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Recovered %d of %d abandoned runs", recovered, len(abandoned))
	if skipped > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), ", %d finished in the meantime", skipped)
	}
	fmt.Fprintln(cmd.OutOrStdout(), ".")
	return errors.Join(errs...)
}

func runRunsPrune(cmd *cobra.Command, _ []string) error {
	reg, runs, err := openRuns(cmd)
	if err != nil {
		return err
	}
	defer reg.Close()

	cutoff := time.Now().AddDate(0, 0, -cfg.LedgerConfig().RetentionDays)
	n, err := runs.DeleteOlderThan(cmd.Context(), cutoff)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d runs finished before %s.\n", n, cutoff.Format(time.RFC3339))
	return nil
}

// truncate shortens a string to max length, appending "..." if truncated.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
