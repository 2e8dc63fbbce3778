package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Timotej979/Model-executor-runtime/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending SQLite catalog migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cfg.Store.Driver != "sqlite" {
			return fmt.Errorf("migrate: store driver is %q, not sqlite", cfg.Store.Driver)
		}
		// Opening the store applies pending migrations.
		st, err := store.OpenSQLite(cmd.Context(), cfg.Store.Path, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		v, err := st.SchemaVersion(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: schema version %d of %d\n", cfg.Store.Path, v, store.CurrentSchemaVersion)
		return nil
	},
}
