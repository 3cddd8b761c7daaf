package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/user"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tenantfed/relocator/pkg/config"
	"github.com/tenantfed/relocator/pkg/objectstore"
	"github.com/tenantfed/relocator/pkg/regions"
)

var (
	cfgFile   string
	envFiles  []string
	outputFmt string

	cfg       *config.Config
	log       *slog.Logger
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "relocator",
	Short: "Relocate projects between deployments and data regions",
	Long: `relocator copies projects from a source deployment into a workspace of the
destination deployment. Workspaces assigned to a data region receive their
project data in that region's database and bucket; project roles are always
written to the main database.

A failed relocation is rolled back and leaves no project rows behind, so it
can simply be run again.`,
	SilenceUsage:       true,
	SilenceErrors:      true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to the relocator config file (yaml)")
	rootCmd.PersistentFlags().StringArrayVar(&envFiles, "env-file", []string{".env"}, "Env files to load before reading RELOCATOR_* variables")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(regionsCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(schemaCmd)
}

func setup(cmd *cobra.Command, _ []string) error {
	switch outputFmt {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("unsupported output format %q (use table, json or yaml)", outputFmt)
	}

	loaded, err := config.Load(cfgFile, envFiles...)
	if err != nil {
		return err
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	cfg = loaded

	log, logCloser, err = newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	slog.SetDefault(log)
	return nil
}

func teardown(*cobra.Command, []string) error {
	if logCloser != nil {
		return logCloser.Close()
	}
	return nil
}

func gormLogLevel() logger.LogLevel {
	if cfg.Log.Level == "debug" {
		return logger.Info
	}
	return logger.Warn
}

func openRegistry() (*regions.Registry, error) {
	reg, err := cfg.NewRegistry(regions.WithConnector(regions.DefaultConnector{LogLevel: gormLogLevel()}))
	if err != nil {
		return nil, fmt.Errorf("invalid region config: %w", err)
	}
	return reg, nil
}

func openSource(ctx context.Context) (*gorm.DB, objectstore.Client, error) {
	if err := cfg.ValidateSource(); err != nil {
		return nil, nil, err
	}
	conn := regions.DefaultConnector{LogLevel: gormLogLevel()}
	db, err := conn.OpenDB(cfg.Source.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("source: %w", err)
	}
	st, err := conn.OpenStorage(ctx, cfg.Source.Storage)
	if err != nil {
		closeDB(db)
		return nil, nil, fmt.Errorf("source: %w", err)
	}
	return db, st, nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}

// requestedBy names the operator in the run ledger.
func requestedBy() string {
	if cfg.Migration.RequestedBy != "" {
		return cfg.Migration.RequestedBy
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}
