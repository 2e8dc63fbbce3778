package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Timotej979/Model-executor-runtime/pkg/descriptor"
)

// Local runs the backend as a child process on this host.
type Local struct {
	desc    *descriptor.Descriptor
	cfg     Config
	log     *zap.Logger
	state   stateBox
	spawned atomic.Bool
}

// NewLocal creates a local driver. Driver-specific keys are checked on Spawn.
func NewLocal(desc *descriptor.Descriptor, cfg Config) (*Local, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	l := &Local{
		desc: desc.Clone(),
		cfg:  cfg,
		log:  cfg.Logger.Named("local").With(zap.String("model", desc.Identity.Name)),
	}
	l.state.log = l.log
	return l, nil
}

func (l *Local) Kind() string { return descriptor.ConnLocal }

func (l *Local) State() State { return l.state.Load() }

// Spawn starts `<shell> -c <command>` inside the model directory. The path is
// checked before any process is created.
func (l *Local) Spawn(ctx context.Context) (*Session, error) {
	if !l.spawned.CompareAndSwap(false, true) {
		return nil, &SpawnError{Driver: l.Kind(), Kind: SpawnAlreadySpawned}
	}
	sess, err := l.spawn(ctx)
	if err != nil {
		l.state.set(StateFailed)
		l.log.Warn("spawn failed", zap.Error(err))
		return nil, err
	}
	return sess, nil
}

func (l *Local) spawn(ctx context.Context) (*Session, error) {
	tokens, err := l.desc.Tokens()
	if err != nil {
		return nil, err
	}
	path, err := l.desc.FieldFor(l.Kind(), descriptor.CategoryExecution, descriptor.KeyPath)
	if err != nil {
		return nil, err
	}
	command, err := l.desc.FieldFor(l.Kind(), descriptor.CategoryExecution, descriptor.KeyCommand)
	if err != nil {
		return nil, err
	}
	timeout, err := readyTimeout(l.desc, l.cfg.ReadyTimeout)
	if err != nil {
		return nil, err
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, &SpawnError{Driver: l.Kind(), Kind: SpawnPathNotFound, Target: path, Err: err}
	}
	if !fi.IsDir() {
		return nil, &SpawnError{Driver: l.Kind(), Kind: SpawnPathNotFound, Target: path,
			Err: fmt.Errorf("not a directory")}
	}

	rendered := ExpandCommand(command, l.desc)
	cmd := exec.Command(l.cfg.Shell, "-c", rendered)
	cmd.Dir = path
	// Own process group so TERM/KILL reach the backend's children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = append(os.Environ(),
		"MER_MODEL_UID="+l.desc.Identity.UID,
		"MER_MODEL_NAME="+l.desc.Identity.Name,
	)

	launchErr := func(err error) error {
		return &SpawnError{Driver: l.Kind(), Kind: SpawnLaunchFailed, Target: rendered, Err: err}
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, launchErr(fmt.Errorf("stdin pipe: %w", err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, launchErr(fmt.Errorf("stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, launchErr(fmt.Errorf("stderr pipe: %w", err))
	}
	if err := cmd.Start(); err != nil {
		return nil, launchErr(err)
	}
	l.state.set(StateSpawned)
	pid := cmd.Process.Pid
	l.log.Info("backend started", zap.Int("pid", pid), zap.String("dir", path))

	k := &groupKiller{pid: pid, grace: l.cfg.TerminationGrace}
	p := pipes{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		wait: func() (int, error) {
			err := cmd.Wait()
			k.disarm()
			var ee *exec.ExitError
			if errors.As(err, &ee) {
				return ee.ExitCode(), nil
			}
			if err != nil {
				return -1, err
			}
			return 0, nil
		},
		kill: k.kill,
	}
	return startRelay(ctx, l.Kind(), tokens, l.cfg, &l.state, p, timeout), nil
}

// groupKiller sends SIGTERM to a process group and SIGKILL after a grace
// period unless the group leader has been reaped by then.
type groupKiller struct {
	pid   int
	grace time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	reaped bool
}

func (k *groupKiller) kill() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.reaped || k.timer != nil {
		return
	}
	// Negative PID targets the process group.
	_ = syscall.Kill(-k.pid, syscall.SIGTERM)
	k.timer = time.AfterFunc(k.grace, func() {
		k.mu.Lock()
		defer k.mu.Unlock()
		if !k.reaped {
			_ = syscall.Kill(-k.pid, syscall.SIGKILL)
		}
	})
}

func (k *groupKiller) disarm() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.reaped = true
	if k.timer != nil {
		k.timer.Stop()
	}
}
