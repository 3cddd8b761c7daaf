package main

import (
	"github.com/spf13/cobra"

	"github.com/tenantfed/relocator/pkg/regions"
	"github.com/tenantfed/relocator/pkg/store"
)

var regionsCheck bool

var regionsCmd = &cobra.Command{
	Use:   "regions",
	Short: "List configured regions",
	Long: `List the main deployment and every configured data region, with database
passwords masked. With --check, the regions known to the main database are
listed too, so that region keys without connection material stand out.`,
	RunE: runRegions,
}

func init() {
	regionsCmd.Flags().BoolVar(&regionsCheck, "check", false, "Compare with the regions table of the main database")
}

type regionRow struct {
	regions.RegionInfo
	Configured bool  `json:"configured"`
	Registered *bool `json:"registered,omitempty"`
}

func runRegions(cmd *cobra.Command, _ []string) error {
	reg, err := openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	var rows []regionRow
	for _, info := range reg.Describe() {
		rows = append(rows, regionRow{RegionInfo: info, Configured: true})
	}

	if regionsCheck {
		mainDB, _, err := reg.Main(cmd.Context())
		if err != nil {
			return err
		}
		known, err := store.NewWorkspaceStore(mainDB).ListRegions(cmd.Context())
		if err != nil {
			return err
		}
		registered := make(map[string]bool, len(known))
		for _, r := range known {
			registered[r.Key] = true
		}
		for i := range rows {
			ok := rows[i].Key == regions.MainRegionKey || registered[rows[i].Key]
			rows[i].Registered = &ok
		}
		for _, r := range known {
			if !reg.Has(r.Key) {
				yes := true
				rows = append(rows, regionRow{RegionInfo: regions.RegionInfo{Key: r.Key}, Registered: &yes})
			}
		}
	}

	w := cmd.OutOrStdout()
	if structured() {
		return printOutput(w, rows)
	}
	headers := []string{"Key", "DB", "DSN", "Storage", "Bucket", "Configured"}
	if regionsCheck {
		headers = append(headers, "Registered")
	}
	table := make([][]string, 0, len(rows))
	for _, r := range rows {
		line := []string{r.Key, dash(r.DBType), dash(r.DSN), dash(r.StorageType), dash(r.Bucket), yesNo(r.Configured)}
		if regionsCheck {
			line = append(line, yesNo(r.Registered != nil && *r.Registered))
		}
		table = append(table, line)
	}
	printTable(w, headers, table)
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
