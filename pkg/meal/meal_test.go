package meal_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Timotej979/Model-executor-runtime/pkg/descriptor"
	"github.com/Timotej979/Model-executor-runtime/pkg/driver"
	"github.com/Timotej979/Model-executor-runtime/pkg/meal"
)

const backend = `READY='<<R>>'; START='<<S>>'; STOP='<<E>>'; EXIT='<<X>>'
printf '%s\n' "$READY"
while IFS= read -r line; do
  case "$line" in
    "$EXIT") exit 0 ;;
    "$START") IFS= read -r input; IFS= read -r _; printf '%s\n%s\n%s\n' "$START" "$input" "$STOP" ;;
  esac
done
`

func descriptorFor(dir string) *descriptor.Descriptor {
	return &descriptor.Descriptor{
		Identity:   descriptor.Identity{UID: "7", Name: "echo", ConnType: "local"},
		Connection: descriptor.Params{},
		Execution: descriptor.Params{
			"path":       dir,
			"command":    "sh backend.sh",
			"readyToken": "<<R>>",
			"startToken": "<<S>>",
			"stopToken":  "<<E>>",
			"exitToken":  "<<X>>",
		},
	}
}

func TestCreateSpawnEcho(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "backend.sh"), []byte(backend), 0o755))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m, err := meal.Create(descriptorFor(dir), driver.Config{})
	require.NoError(t, err)
	assert.Equal(t, "local", m.DriverKind())
	assert.Equal(t, driver.StateCreated, m.State())

	sess, err := m.Spawn(ctx)
	require.NoError(t, err)
	go func() {
		for range sess.Diagnostics {
		}
	}()
	require.NoError(t, sess.WaitReady(ctx))

	resp, err := sess.Call(ctx, "ping")
	require.NoError(t, err)
	assert.Equal(t, "ping", resp)

	require.NoError(t, sess.Shutdown(ctx))
	assert.Equal(t, driver.StateTerminated, m.State())
}

func TestCreateRejectsUnknownConnType(t *testing.T) {
	d := descriptorFor(t.TempDir())
	d.Identity.ConnType = "carrier-pigeon"
	_, err := meal.Create(d, driver.Config{})
	assert.ErrorIs(t, err, descriptor.ErrInvalidField)
}
