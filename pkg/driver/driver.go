package driver

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Driver is the capability set every backend kind implements: spawn the
// backend once and hand back the session endpoints.
type Driver interface {
	// Kind returns the connection-type tag the driver was registered under.
	Kind() string
	// Spawn starts the backend and its relay goroutines. A driver spawns at
	// most once.
	Spawn(ctx context.Context) (*Session, error)
	// State reports the lifecycle state of the driver's backend.
	State() State
}

// State is the lifecycle state of one driver instance.
type State int32

const (
	StateCreated State = iota
	StateSpawned
	StateAwaitingReady
	StateReady
	StateActive
	StateClosing
	StateTerminated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSpawned:
		return "spawned"
	case StateAwaitingReady:
		return "awaiting_ready"
	case StateReady:
		return "ready"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateTerminated:
		return "terminated"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool { return s == StateTerminated || s == StateFailed }

// stateBox holds a State that only the owning driver and its relay mutate.
type stateBox struct {
	v   atomic.Int32
	log *zap.Logger
}

func (b *stateBox) Load() State { return State(b.v.Load()) }

// set moves to next unless the current state is already terminal.
func (b *stateBox) set(next State) bool {
	for {
		cur := State(b.v.Load())
		if cur.Terminal() || cur == next {
			return false
		}
		if b.v.CompareAndSwap(int32(cur), int32(next)) {
			if b.log != nil {
				b.log.Debug("state transition", zap.Stringer("from", cur), zap.Stringer("to", next))
			}
			return true
		}
	}
}

// Config controls driver behaviour. Zero values are replaced with defaults by
// withDefaults.
type Config struct {
	Logger *zap.Logger

	// ReadyTimeout bounds the wait for the ready token. Zero waits forever.
	// A descriptor's readyTimeout execution param overrides it.
	ReadyTimeout time.Duration

	// Grace period between SIGTERM and SIGKILL when a local backend is killed.
	TerminationGrace time.Duration // default 5s

	// MaxPayloadBytes caps an unterminated response bracket. Default 1 MiB.
	MaxPayloadBytes int

	// DiagnosticsTailBytes is how much diagnostic output is kept for errors.
	DiagnosticsTailBytes int // default 8 KiB

	// DiagnosticsBuffer is the capacity of the diagnostic channel. Default 1.
	DiagnosticsBuffer int

	// Shell runs the local launch command. Default /bin/sh.
	Shell string

	// Remote transport.
	DialTimeout    time.Duration // default 10s
	KnownHostsFile string        // empty accepts any host key
	// SkipRemotePathCheck disables the `test -d` probe before the remote command runs.
	SkipRemotePathCheck bool
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.TerminationGrace <= 0 {
		c.TerminationGrace = 5 * time.Second
	}
	if c.MaxPayloadBytes <= 0 {
		c.MaxPayloadBytes = 1 << 20
	}
	if c.DiagnosticsTailBytes <= 0 {
		c.DiagnosticsTailBytes = 8 << 10
	}
	if c.DiagnosticsBuffer <= 0 {
		c.DiagnosticsBuffer = 1
	}
	if c.Shell == "" {
		c.Shell = "/bin/sh"
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	return c
}
