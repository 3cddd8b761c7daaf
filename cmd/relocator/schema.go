package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tenantfed/relocator/pkg/jobs"
	"github.com/tenantfed/relocator/pkg/model"
	"github.com/tenantfed/relocator/pkg/regions"
)

var schemaRegion string

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Create the project tables in a region database",
	Long: `Create or update the project tables in the database of one region. Meant for
development and test deployments; production schemas are owned by the
server's own migrations.`,
	RunE: runSchema,
}

func init() {
	schemaCmd.Flags().StringVar(&schemaRegion, "region", regions.MainRegionKey, "Region key, or main")
}

func runSchema(cmd *cobra.Command, _ []string) error {
	reg, err := openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	db, _, err := reg.Region(cmd.Context(), schemaRegion)
	if err != nil {
		return err
	}
	if err := model.AutoMigrate(db); err != nil {
		return err
	}
	if schemaRegion == regions.MainRegionKey {
		if err := jobs.NewRunStore(db).AutoMigrate(); err != nil {
			return err
		}
	}
	log.Info("schema up to date", "region", schemaRegion)
	fmt.Fprintf(cmd.OutOrStdout(), "Schema of region %s is up to date.\n", schemaRegion)
	return nil
}
