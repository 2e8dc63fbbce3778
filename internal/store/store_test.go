package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Timotej979/Model-executor-runtime/internal/store"
	"github.com/Timotej979/Model-executor-runtime/pkg/descriptor"
)

func sample(name, connType string) *descriptor.Descriptor {
	d := &descriptor.Descriptor{
		Identity:   descriptor.Identity{Name: name, ConnType: connType},
		Connection: descriptor.Params{},
		Execution: descriptor.Params{
			"path":       "/srv/models/" + name,
			"command":    "python3 inference.py",
			"readyToken": "@!#READY#!@",
			"startToken": "@!#START#!@",
			"stopToken":  "@!#STOP#!@",
			"exitToken":  "@!#EXIT#!@",
		},
	}
	if connType == descriptor.ConnRemote {
		d.Connection = descriptor.Params{"host": "10.0.0.5", "port": "22", "user": "mer", "pass": "secret"}
	}
	return d
}

// exercise runs the same contract against every backend.
func exercise(t *testing.T, s store.Store) {
	ctx := context.Background()

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, s.Put(ctx, sample("dialogpt", descriptor.ConnLocal)))
	require.NoError(t, s.Put(ctx, sample("bert", descriptor.ConnRemote)))

	got, err := s.Get(ctx, "bert")
	require.NoError(t, err)
	assert.NotEmpty(t, got.Identity.UID)
	assert.False(t, got.Identity.CreatedAt.IsZero())
	assert.Equal(t, "10.0.0.5", got.Connection["host"])
	if diff := cmp.Diff(sample("bert", descriptor.ConnRemote).Execution, got.Execution); diff != "" {
		t.Fatalf("execution params mismatch (-want +got):\n%s", diff)
	}

	list, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "bert", list[0].Identity.Name)
	assert.Equal(t, "dialogpt", list[1].Identity.Name)

	// Replacing keeps the UID and drops params that are gone.
	updated := sample("bert", descriptor.ConnRemote)
	delete(updated.Connection, "pass")
	require.NoError(t, s.Put(ctx, updated))
	again, err := s.Get(ctx, "bert")
	require.NoError(t, err)
	assert.Equal(t, got.Identity.UID, again.Identity.UID)
	_, hasPass := again.Connection["pass"]
	assert.False(t, hasPass)

	require.NoError(t, s.Delete(ctx, "bert"))
	_, err = s.Get(ctx, "bert")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "bert"), store.ErrNotFound)

	assert.ErrorIs(t, s.Put(ctx, &descriptor.Descriptor{}), descriptor.ErrMissingField)

	// A known UID under a new name renames the entry.
	require.NoError(t, s.Put(ctx, sample("gpt2", descriptor.ConnLocal)))
	orig, err := s.Get(ctx, "gpt2")
	require.NoError(t, err)
	renamed := sample("gpt2-large", descriptor.ConnLocal)
	renamed.Identity.UID = orig.Identity.UID
	renamed.Execution["command"] = "python3 large.py"
	require.NoError(t, s.Put(ctx, renamed))

	_, err = s.Get(ctx, "gpt2")
	assert.ErrorIs(t, err, store.ErrNotFound)
	moved, err := s.Get(ctx, "gpt2-large")
	require.NoError(t, err)
	assert.Equal(t, orig.Identity.UID, moved.Identity.UID)
	assert.True(t, orig.Identity.CreatedAt.Equal(moved.Identity.CreatedAt))
	assert.Equal(t, "python3 large.py", moved.Execution["command"])

	list, err = s.List(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(list))
	for _, d := range list {
		names = append(names, d.Identity.Name)
	}
	assert.Equal(t, []string{"dialogpt", "gpt2-large"}, names)
}

func TestSQLiteStore(t *testing.T) {
	s, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "mer.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()
	exercise(t, s)
}

func TestSQLiteMigrationsRunOnce(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mer.db")

	s, err := store.OpenSQLite(ctx, path, nil)
	require.NoError(t, err)
	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.CurrentSchemaVersion, v)
	require.NoError(t, s.Close())

	s, err = store.OpenSQLite(ctx, path, nil)
	require.NoError(t, err)
	defer s.Close()
	res, err := s.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.MigrationsRun)
	assert.Equal(t, store.CurrentSchemaVersion, res.ToVersion)
}

func TestYAMLStore(t *testing.T) {
	s, err := store.OpenYAML(filepath.Join(t.TempDir(), "models.yaml"), zaptest.NewLogger(t))
	require.NoError(t, err)
	exercise(t, s)
}

func TestYAMLStorePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "models.yaml")
	s, err := store.OpenYAML(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, sample("dialogpt", descriptor.ConnLocal)))

	reopened, err := store.OpenYAML(path, nil)
	require.NoError(t, err)
	d, err := reopened.Get(ctx, "dialogpt")
	require.NoError(t, err)
	assert.Equal(t, "python3 inference.py", d.Execution["command"])
}

func TestYAMLStoreFailedWriteKeepsMemory(t *testing.T) {
	ctx := context.Background()
	sub := filepath.Join(t.TempDir(), "catalog")
	s, err := store.OpenYAML(filepath.Join(sub, "models.yaml"), zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, sample("dialogpt", descriptor.ConnLocal)))

	// A plain file where the catalog directory should be makes every write fail.
	require.NoError(t, os.RemoveAll(sub))
	require.NoError(t, os.WriteFile(sub, []byte("x"), 0o644))

	require.Error(t, s.Put(ctx, sample("bert", descriptor.ConnLocal)))
	_, err = s.Get(ctx, "bert")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.Error(t, s.Delete(ctx, "dialogpt"))
	_, err = s.Get(ctx, "dialogpt")
	assert.NoError(t, err)

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestYAMLStoreWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	s, err := store.OpenYAML(path, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	reloaded := make(chan error, 8)
	watchDone := make(chan error, 1)
	go func() { watchDone <- s.Watch(ctx, func(err error) { reloaded <- err }) }()
	defer func() {
		cancel()
		require.NoError(t, <-watchDone)
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	doc := `models:
  - name: tinyllama
    connType: local
    execution:
      path: /srv/models/tinyllama
      command: ./serve
      readyToken: R
      startToken: S
      stopToken: E
      exitToken: X
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	select {
	case err := <-reloaded:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("catalog was not reloaded")
	}
	d, err := s.Get(context.Background(), "tinyllama")
	require.NoError(t, err)
	assert.Equal(t, "./serve", d.Execution["command"])
}

func TestDecodeModelsSingleDocument(t *testing.T) {
	ds, err := store.DecodeModels([]byte(`
name: solo
connType: remote
connection: {host: gpu-1, port: "22", user: mer, pass: pw}
execution: {path: /m, command: ./run, readyToken: R, startToken: S, stopToken: E, exitToken: X}
`))
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, "solo", ds[0].Identity.Name)
	assert.Equal(t, "gpu-1", ds[0].Connection["host"])
	assert.NoError(t, ds[0].Validate())
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := store.Open(context.Background(), "surreal", "x", nil)
	assert.ErrorContains(t, err, `unknown backend "surreal"`)
}
