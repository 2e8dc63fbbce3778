package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Timotej979/Model-executor-runtime/internal/repl"
	"github.com/Timotej979/Model-executor-runtime/internal/service"
)

var allowChanges bool

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Start the interactive operator shell",
	Long: `Starts an interactive shell over the catalog. Catalog changes (create,
modify, delete) are only available with --allow-runtime-changes or
ALLOW_MODEL_SERVER_RUNTIME_CHANGES=true.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, exec, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		allow := cfg.Server.AllowRuntimeChanges
		if cmd.Flags().Changed("allow-runtime-changes") {
			allow = allowChanges
		}
		r := repl.New(exec, st, os.Stdin, cmd.OutOrStdout(), repl.Options{
			AllowRuntimeChanges: allow,
			Version:             service.Version,
			Logger:              logger,
		})
		return r.Run(cmd.Context())
	},
}

func init() {
	replCmd.Flags().BoolVar(&allowChanges, "allow-runtime-changes", false, "enable model-create, model-modify and model-delete")
}
