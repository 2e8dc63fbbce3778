package main

import (
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/Timotej979/Model-executor-runtime/internal/service"
	"github.com/Timotej979/Model-executor-runtime/internal/store"
)

var features string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the ModelExecutor gRPC API on a unix socket",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&features, "features", "", "comma-separated feature list reported by Discover")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, exec, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if ys, ok := st.(*store.YAMLStore); ok && cfg.Store.Watch {
		go func() {
			if err := ys.Watch(ctx, nil); err != nil {
				logger.Warn("catalog watch stopped", zap.Error(err))
			}
		}()
	}

	sock := cfg.Server.Socket
	if err := os.MkdirAll(filepath.Dir(sock), 0o755); err != nil {
		return err
	}
	// Remove a stale socket from a previous run.
	if _, err := os.Stat(sock); err == nil {
		_ = os.Remove(sock)
	}
	l, err := net.Listen("unix", sock)
	if err != nil {
		return err
	}
	defer l.Close()
	_ = os.Chmod(sock, 0o766)

	gs := grpc.NewServer()
	var feats []string
	for _, f := range strings.Split(features, ",") {
		if f = strings.TrimSpace(f); f != "" {
			feats = append(feats, f)
		}
	}
	meta := map[string]string{
		"store":           cfg.Store.Driver,
		"runtime_changes": strconv.FormatBool(cfg.Server.AllowRuntimeChanges),
		"max_concurrency": strconv.Itoa(cfg.Runtime.MaxConcurrency),
	}
	service.RegisterModelExecutorServer(gs, service.NewServer(exec, logger, feats, meta))
	if cfg.Server.Reflection {
		reflection.Register(gs)
	}

	logger.Info("gRPC model executor listening", zap.String("socket", sock), zap.String("store", cfg.Store.Driver))

	errc := make(chan error, 1)
	go func() { errc <- gs.Serve(l) }()
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errc:
		return err
	}

	done := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(cfg.GetRequestTimeout()):
		logger.Warn("graceful stop timed out; forcing")
		gs.Stop()
	}
	return nil
}
