package driver_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Timotej979/Model-executor-runtime/pkg/descriptor"
	"github.com/Timotej979/Model-executor-runtime/pkg/driver"
)

const (
	readyTok = "@!#READY#!@"
	startTok = "@!#START#!@"
	stopTok  = "@!#STOP#!@"
	exitTok  = "@!#EXIT#!@"
)

// echoBackend answers every framed request with the same payload and logs a
// line outside the brackets first.
const echoBackend = `printf 'booting\n'
printf '%s\n' "$READY"
while IFS= read -r line; do
  case "$line" in
    "$EXIT") exit 0 ;;
    "$START")
      IFS= read -r input
      IFS= read -r _stop
      printf 'log: handling %s\n' "$input"
      printf '%s\n%s\n%s\n' "$START" "$input" "$STOP"
      if [ "$input" = "crash" ]; then exit 4; fi ;;
    *) printf 'unframed: %s\n' "$line" >&2 ;;
  esac
done
`

func lookupOrSkip(t *testing.T, name string) string {
	t.Helper()
	p, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not found in PATH; skipping", name)
	}
	if !filepath.IsAbs(p) {
		t.Skipf("%s resolved to non-absolute path %q; skipping", name, p)
	}
	return p
}

// writeBackend drops a shell script with the test tokens bound into dir.
func writeBackend(t *testing.T, dir, body string) {
	t.Helper()
	header := strings.Join([]string{
		"READY='" + readyTok + "'",
		"START='" + startTok + "'",
		"STOP='" + stopTok + "'",
		"EXIT='" + exitTok + "'",
	}, "\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "backend.sh"), []byte(header+"\n"+body), 0o755))
}

func localDescriptor(path, command string) *descriptor.Descriptor {
	return &descriptor.Descriptor{
		Identity:   descriptor.Identity{UID: "m-1", Name: "echo", ConnType: descriptor.ConnLocal},
		Connection: descriptor.Params{},
		Execution: descriptor.Params{
			"path":       path,
			"command":    command,
			"readyToken": readyTok,
			"startToken": startTok,
			"stopToken":  stopTok,
			"exitToken":  exitTok,
		},
	}
}

func testConfig(t *testing.T) driver.Config {
	return driver.Config{
		Logger:           zaptest.NewLogger(t),
		TerminationGrace: 200 * time.Millisecond,
	}
}

// diagnostics drains a session's diagnostic channel in the background.
type diagnostics struct {
	mu    sync.Mutex
	lines []string
	done  chan struct{}
}

func drainDiagnostics(s *driver.Session) *diagnostics {
	d := &diagnostics{done: make(chan struct{})}
	go func() {
		defer close(d.done)
		for msg := range s.Diagnostics {
			d.mu.Lock()
			d.lines = append(d.lines, msg)
			d.mu.Unlock()
		}
	}()
	return d
}

func (d *diagnostics) text() string {
	<-d.done
	d.mu.Lock()
	defer d.mu.Unlock()
	return strings.Join(d.lines, "")
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}
