package service_test

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/Timotej979/Model-executor-runtime/internal/executor"
	"github.com/Timotej979/Model-executor-runtime/internal/service"
	"github.com/Timotej979/Model-executor-runtime/internal/store"
	"github.com/Timotej979/Model-executor-runtime/pkg/descriptor"
	"github.com/Timotej979/Model-executor-runtime/pkg/driver"
)

const echoBackend = `printf 'R\n'
while IFS= read -r line; do
  case "$line" in
    X) exit 0 ;;
    S) IFS= read -r input; IFS= read -r _; printf 'S\n%s\nE\n' "$input" ;;
  esac
done
`

func startServer(t *testing.T) *service.Client {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "backend.sh"), []byte(echoBackend), 0o755))

	st, err := store.OpenSQLite(ctx, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	exec := descriptor.Params{
		"path": dir, "command": "sh backend.sh",
		"readyToken": "R", "startToken": "S", "stopToken": "E", "exitToken": "X",
	}
	require.NoError(t, st.Put(ctx, &descriptor.Descriptor{
		Identity:   descriptor.Identity{Name: "echo", ConnType: descriptor.ConnLocal},
		Connection: descriptor.Params{},
		Execution:  exec,
	}))
	require.NoError(t, st.Put(ctx, &descriptor.Descriptor{
		Identity:   descriptor.Identity{Name: "gpu-box", ConnType: descriptor.ConnRemote},
		Connection: descriptor.Params{"host": "gpu-1", "port": "22", "user": "mer", "pass": "hunter2"},
		Execution:  exec,
	}))

	log := zaptest.NewLogger(t)
	ex := executor.New(st, executor.Config{
		Driver:         driver.Config{TerminationGrace: 200 * time.Millisecond},
		RequestTimeout: 10 * time.Second,
	}, log)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	service.RegisterModelExecutorServer(srv, service.NewServer(ex, log, []string{"local", "remote"}, map[string]string{"store": "sqlite"}))
	reflection.Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { cc.Close() })
	return service.NewClient(cc)
}

func ctxT(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestListModels(t *testing.T) {
	c := startServer(t)
	reply, err := c.ListModels(ctxT(t))
	require.NoError(t, err)
	models := reply.GetFields()["models"].GetListValue().GetValues()
	require.Len(t, models, 2)
	assert.Equal(t, "echo", models[0].GetStructValue().GetFields()["name"].GetStringValue())
	assert.Equal(t, "remote", models[1].GetStructValue().GetFields()["connType"].GetStringValue())
}

func TestModelInfoRedactsPassword(t *testing.T) {
	c := startServer(t)
	reply, err := c.ModelInfo(ctxT(t), "gpu-box")
	require.NoError(t, err)
	conn := reply.GetFields()["connection"].GetStructValue().GetFields()
	assert.Equal(t, "gpu-1", conn["host"].GetStringValue())
	assert.Equal(t, "********", conn["pass"].GetStringValue())
}

func TestModelInfoNotFound(t *testing.T) {
	c := startServer(t)
	_, err := c.ModelInfo(ctxT(t), "missing")
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = c.ModelInfo(ctxT(t), "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestExecuteEcho(t *testing.T) {
	c := startServer(t)
	reply, err := c.Execute(ctxT(t), "echo", "hello", "")
	require.NoError(t, err)
	f := reply.GetFields()
	assert.Equal(t, "hello", f["output"].GetStringValue())
	assert.Equal(t, "local", f["driver"].GetStringValue())
	assert.NotEmpty(t, f["requestId"].GetStringValue())
}

func TestPing(t *testing.T) {
	c := startServer(t)
	reply, err := c.Ping(ctxT(t), "echo")
	require.NoError(t, err)
	assert.True(t, reply.GetFields()["ready"].GetBoolValue())
}

func TestDiscover(t *testing.T) {
	c := startServer(t)
	reply, err := c.Discover(ctxT(t))
	require.NoError(t, err)
	f := reply.GetFields()
	assert.Equal(t, service.ServiceName, f["service"].GetStringValue())
	assert.Len(t, f["drivers"].GetListValue().GetValues(), 2)
	assert.Equal(t, "sqlite", f["metadata"].GetStructValue().GetFields()["store"].GetStringValue())
}

func TestFileDescriptorRegistered(t *testing.T) {
	sd := service.File_model_executor.Services().ByName("ModelExecutor")
	require.NotNil(t, sd)
	assert.Equal(t, 5, sd.Methods().Len())
	assert.Equal(t, "google.protobuf.Struct", string(sd.Methods().ByName("Execute").Output().FullName()))
}
