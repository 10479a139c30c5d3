package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/housecup/points-engine/config"
	"github.com/housecup/points-engine/internal/infrastructure/persistence/postgres"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the PostgreSQL schema",
	Long: `Manage the PostgreSQL schema. The sqlite driver creates its tables on open
and the memory driver has no schema, so these commands require
store.driver = "postgres".`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, closeFn, err := openMigrator(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		applied, err := m.Migrate(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the latest migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, closeFn, err := openMigrator(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := m.Rollback(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "rolled back the latest migration")
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List migrations and whether they are applied",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, closeFn, err := openMigrator(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		migrations, err := m.Status(cmd.Context())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED AT")
		for _, mg := range migrations {
			applied := "pending"
			if mg.IsApplied {
				applied = mg.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\n", mg.Version, mg.Name, applied)
		}
		return tw.Flush()
	},
}

func openMigrator(cmd *cobra.Command) (*postgres.Migrator, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Store.Driver != config.DriverPostgres {
		return nil, nil, fmt.Errorf("migrations apply to the postgres driver, not %q", cfg.Store.Driver)
	}

	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = cfg.Store.URL
	pgCfg.MaxConns = 2
	pgCfg.MinConns = 0
	pgCfg.ConnectTimeout = cfg.Store.ConnectTimeout

	conn, err := postgres.NewConnection(cmd.Context(), pgCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return postgres.NewMigrator(conn), conn.Close, nil
}
