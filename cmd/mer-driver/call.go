package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"gopkg.in/yaml.v3"

	"github.com/Timotej979/Model-executor-runtime/internal/service"
)

var (
	callTimeout time.Duration
	outFormat   string
	requestID   string
)

// callCmd is a thin client for a running "serve".
var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Call a running mer-driver over its unix socket",
}

func init() {
	callCmd.PersistentFlags().DurationVar(&callTimeout, "timeout", 2*time.Minute, "RPC deadline")
	callCmd.PersistentFlags().StringVarP(&outFormat, "output", "o", "json", "output format: json or yaml")

	executeCall := &cobra.Command{
		Use:   "execute <name> <input>",
		Short: "Run one input through a model",
		Args:  cobra.ExactArgs(2),
		RunE: withClient(func(ctx context.Context, c *service.Client, args []string) (*structpb.Struct, error) {
			return c.Execute(ctx, args[0], args[1], requestID)
		}),
	}
	executeCall.Flags().StringVar(&requestID, "request-id", "", "idempotency key; repeated IDs replay the stored result")

	callCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List models",
			Args:  cobra.NoArgs,
			RunE: withClient(func(ctx context.Context, c *service.Client, _ []string) (*structpb.Struct, error) {
				return c.ListModels(ctx)
			}),
		},
		&cobra.Command{
			Use:   "info <name>",
			Short: "Show a model descriptor",
			Args:  cobra.ExactArgs(1),
			RunE: withClient(func(ctx context.Context, c *service.Client, args []string) (*structpb.Struct, error) {
				return c.ModelInfo(ctx, args[0])
			}),
		},
		&cobra.Command{
			Use:   "ping <name>",
			Short: "Check that a model starts and becomes ready",
			Args:  cobra.ExactArgs(1),
			RunE: withClient(func(ctx context.Context, c *service.Client, args []string) (*structpb.Struct, error) {
				return c.Ping(ctx, args[0])
			}),
		},
		executeCall,
		&cobra.Command{
			Use:   "discover",
			Short: "Show server version, features and metrics",
			Args:  cobra.NoArgs,
			RunE: withClient(func(ctx context.Context, c *service.Client, _ []string) (*structpb.Struct, error) {
				return c.Discover(ctx)
			}),
		},
	)
}

type rpc func(ctx context.Context, c *service.Client, args []string) (*structpb.Struct, error)

func withClient(fn rpc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cc, err := service.DialUnix(cfg.Server.Socket)
		if err != nil {
			return err
		}
		defer cc.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout)
		defer cancel()
		out, err := fn(ctx, service.NewClient(cc), args)
		if err != nil {
			return err
		}
		return printStruct(cmd, out)
	}
}

func printStruct(cmd *cobra.Command, s *structpb.Struct) error {
	switch outFormat {
	case "json":
		b, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(s)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(b))
	case "yaml":
		b, err := yaml.Marshal(s.AsMap())
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), string(b))
	default:
		return fmt.Errorf("unknown output format %q", outFormat)
	}
	return nil
}
