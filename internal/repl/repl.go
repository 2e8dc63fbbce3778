// Package repl is the interactive operator shell. Each input line is parsed
// as a fresh cobra command tree.
package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Timotej979/Model-executor-runtime/internal/executor"
	"github.com/Timotej979/Model-executor-runtime/internal/store"
)

const prompt = "Model-Executor-Runtime-CLI $ "

// Options configures a REPL.
type Options struct {
	// AllowRuntimeChanges enables create, modify and delete.
	AllowRuntimeChanges bool
	Version             string
	Logger              *zap.Logger
}

// REPL reads commands from in and writes results to out.
type REPL struct {
	exec  *executor.Executor
	store store.Store
	opts  Options
	log   *zap.Logger
	in    io.Reader
	out   io.Writer
}

func New(exec *executor.Executor, st store.Store, in io.Reader, out io.Writer, opts Options) *REPL {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Version == "" {
		opts.Version = "0.1.0"
	}
	return &REPL{exec: exec, store: st, opts: opts, log: opts.Logger.Named("repl"), in: in, out: out}
}

// Run serves lines until exit, EOF or ctx cancellation.
func (r *REPL) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(r.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
		close(lines)
	}()

	for {
		fmt.Fprint(r.out, prompt)
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out)
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(r.out)
				return <-readErr
			}
			quit, err := r.Exec(ctx, line)
			if err != nil {
				fmt.Fprintf(r.out, "Error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// Exec runs one command line and reports whether the shell should exit.
func (r *REPL) Exec(ctx context.Context, line string) (bool, error) {
	args, err := splitArgs(line)
	if err != nil {
		return false, err
	}
	if len(args) == 0 {
		return false, nil
	}
	var quit bool
	root := r.commands(&quit)
	root.SetArgs(args)
	root.SetIn(r.in)
	root.SetOut(r.out)
	root.SetErr(r.out)
	if err := root.ExecuteContext(ctx); err != nil {
		return false, err
	}
	return quit, nil
}

func (r *REPL) commands(quit *bool) *cobra.Command {
	root := &cobra.Command{
		Use:           "mer",
		Short:         "Model Executor Runtime operator shell",
		SilenceUsage:  true,
		SilenceErrors: true,
		// A bare root invocation only happens for `help`.
		Run: func(cmd *cobra.Command, _ []string) { _ = cmd.Help() },
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print the driver version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "MER-Driver version: %s\n", r.opts.Version)
			},
		},
		&cobra.Command{
			Use:     "model-list",
			Aliases: []string{"list", "ls", "list-models", "model-ls", "ls-models"},
			Short:   "List all available models",
			Args:    cobra.NoArgs,
			RunE:    r.list,
		},
		&cobra.Command{
			Use:     "model-info <name>",
			Aliases: []string{"info"},
			Short:   "Show a model's descriptor",
			Args:    cobra.ExactArgs(1),
			RunE:    r.info,
		},
		&cobra.Command{
			Use:     "model-ping <name>",
			Aliases: []string{"ping", "ping-model"},
			Short:   "Start the model and wait until it is ready",
			Args:    cobra.ExactArgs(1),
			RunE:    r.ping,
		},
		&cobra.Command{
			Use:     "model-execute <name> <input>",
			Aliases: []string{"execute", "execute-model"},
			Short:   "Run one input through the model",
			Args:    cobra.ExactArgs(2),
			RunE:    r.execute,
		},
		&cobra.Command{
			Use:     "exit",
			Aliases: []string{"quit"},
			Short:   "Quit the shell",
			Args:    cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), "Exiting Model-Executor Runtime-CLI ...")
				*quit = true
			},
		},
	)

	if r.opts.AllowRuntimeChanges {
		root.AddCommand(
			&cobra.Command{
				Use:     "model-create <file.yaml>",
				Aliases: []string{"create"},
				Short:   "Create model entries from a YAML file",
				Args:    cobra.ExactArgs(1),
				RunE:    func(cmd *cobra.Command, args []string) error { return r.upsert(cmd, args[0], false) },
			},
			&cobra.Command{
				Use:     "model-modify <file.yaml>",
				Aliases: []string{"modify"},
				Short:   "Replace existing model entries from a YAML file",
				Args:    cobra.ExactArgs(1),
				RunE:    func(cmd *cobra.Command, args []string) error { return r.upsert(cmd, args[0], true) },
			},
			&cobra.Command{
				Use:     "model-delete <name>",
				Aliases: []string{"delete"},
				Short:   "Delete a model entry",
				Args:    cobra.ExactArgs(1),
				RunE:    r.delete,
			},
		)
	}
	return root
}

func (r *REPL) list(cmd *cobra.Command, _ []string) error {
	models, err := r.exec.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(models) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No models available")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCONNECTION\tUID\tUPDATED")
	for _, m := range models {
		updated := "-"
		if !m.UpdatedAt.IsZero() {
			updated = m.UpdatedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Name, m.ConnType, m.UID, updated)
	}
	return w.Flush()
}

func (r *REPL) info(cmd *cobra.Command, args []string) error {
	d, err := r.exec.Info(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	b, err := yaml.Marshal(store.ModelFrom(d))
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(b)
	return err
}

func (r *REPL) ping(cmd *cobra.Command, args []string) error {
	fmt.Fprintf(cmd.OutOrStdout(), "Checking if model %s is available...\n", args[0])
	res, err := r.exec.Ping(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Model %s is ready (%s driver, %s)\n", res.Name, res.Driver, res.Duration.Round(time.Millisecond))
	return nil
}

func (r *REPL) execute(cmd *cobra.Command, args []string) error {
	res, err := r.exec.Execute(cmd.Context(), executor.Request{Name: args[0], Input: args[1]})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Output)
	return nil
}

func (r *REPL) upsert(cmd *cobra.Command, path string, replace bool) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	ds, err := store.DecodeModels(b)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	// Validate everything before writing anything.
	for _, d := range ds {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("model %q: %w", d.Identity.Name, err)
		}
		_, err := r.store.Get(ctx, d.Identity.Name)
		switch {
		case err == nil && !replace:
			return fmt.Errorf("model %q already exists; use modify", d.Identity.Name)
		case errors.Is(err, store.ErrNotFound) && replace:
			return fmt.Errorf("model %q does not exist; use create", d.Identity.Name)
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return err
		}
	}
	verb := "Created"
	if replace {
		verb = "Modified"
	}
	for _, d := range ds {
		if err := r.store.Put(ctx, d); err != nil {
			return err
		}
		r.log.Info("catalog changed", zap.String("op", strings.ToLower(verb)), zap.String("model", d.Identity.Name))
		fmt.Fprintf(cmd.OutOrStdout(), "%s model %s\n", verb, d.Identity.Name)
	}
	return nil
}

func (r *REPL) delete(cmd *cobra.Command, args []string) error {
	if err := r.store.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	r.log.Info("catalog changed", zap.String("op", "delete"), zap.String("model", args[0]))
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted model %s\n", args[0])
	return nil
}
