package main

import (
	"github.com/spf13/cobra"

	"github.com/tenantfed/relocator/pkg/regions"
)

var resolveWorkspace string

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Show where a workspace's project data would be written",
	RunE:  runResolve,
}

func init() {
	resolveCmd.Flags().StringVarP(&resolveWorkspace, "workspace", "w", "", "Destination workspace id")
	_ = resolveCmd.MarkFlagRequired("workspace")
}

type resolution struct {
	WorkspaceID  string `json:"workspaceId"`
	Region       string `json:"region"`
	Regionalized bool   `json:"regionalized"`
	DataBucket   string `json:"dataBucket"`
	MainBucket   string `json:"mainBucket"`
}

func runResolve(cmd *cobra.Command, _ []string) error {
	reg, err := openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	h, err := regions.NewResolver(reg, log).Resolve(cmd.Context(), resolveWorkspace)
	if err != nil {
		return err
	}

	res := resolution{
		WorkspaceID:  resolveWorkspace,
		Region:       regions.MainRegionKey,
		Regionalized: h.Regionalized(),
		DataBucket:   h.RegionStorage.Bucket(),
		MainBucket:   h.MainStorage.Bucket(),
	}
	if h.RegionKey != nil {
		res.Region = *h.RegionKey
	}

	w := cmd.OutOrStdout()
	if structured() {
		return printOutput(w, res)
	}
	printTable(w, []string{"Workspace", "Region", "Data bucket", "Main bucket"}, [][]string{
		{res.WorkspaceID, res.Region, res.DataBucket, res.MainBucket},
	})
	return nil
}
