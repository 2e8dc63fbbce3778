package driver

import (
	"errors"
	"fmt"

	"github.com/Timotej979/Model-executor-runtime/pkg/descriptor"
)

// SpawnErrorKind classifies why a backend could not be started.
type SpawnErrorKind string

const (
	SpawnPathNotFound         SpawnErrorKind = "path_not_found"
	SpawnLaunchFailed         SpawnErrorKind = "launch_failed"
	SpawnConnectFailed        SpawnErrorKind = "connect_failed"
	SpawnAuthenticationFailed SpawnErrorKind = "authentication_failed"
	SpawnAlreadySpawned       SpawnErrorKind = "already_spawned"
)

// Sentinels for errors.Is on a *SpawnError.
var (
	ErrPathNotFound         = errors.New("path not found")
	ErrLaunchFailed         = errors.New("launch failed")
	ErrConnectFailed        = errors.New("connect failed")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrAlreadySpawned       = errors.New("driver already spawned")
)

var spawnSentinels = map[SpawnErrorKind]error{
	SpawnPathNotFound:         ErrPathNotFound,
	SpawnLaunchFailed:         ErrLaunchFailed,
	SpawnConnectFailed:        ErrConnectFailed,
	SpawnAuthenticationFailed: ErrAuthenticationFailed,
	SpawnAlreadySpawned:       ErrAlreadySpawned,
}

// Relay outcomes.
var (
	ErrExitedBeforeReady = errors.New("backend exited before ready")
	ErrReadyTimeout      = errors.New("timed out waiting for ready token")
	ErrPayloadTooLarge   = errors.New("response payload exceeds limit")
	ErrSessionClosed     = errors.New("session closed")
)

// SpawnError is returned by Spawn when the backend never started.
type SpawnError struct {
	Driver string
	Kind   SpawnErrorKind
	Target string // path, address or command the failure refers to
	Err    error
}

func (e *SpawnError) Error() string {
	msg := fmt.Sprintf("spawn %s: %s", e.Driver, spawnSentinels[e.Kind])
	if e.Target != "" {
		msg += fmt.Sprintf(" (%s)", e.Target)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Is matches the kind sentinel, e.g. errors.Is(err, ErrAuthenticationFailed).
func (e *SpawnError) Is(target error) bool {
	return spawnSentinels[e.Kind] == target
}

// StreamError reports an I/O failure on the backend's streams after spawn.
type StreamError struct {
	Op  string // write-stdin, read-stdout, read-stderr, wait
	Err error
}

func (e *StreamError) Error() string { return fmt.Sprintf("stream %s: %v", e.Op, e.Err) }

func (e *StreamError) Unwrap() error { return e.Err }

// ExitError reports an unexpected non-zero backend exit.
type ExitError struct {
	Code        int
	Diagnostics string // tail of the diagnostic stream
	Err         error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backend exited with code %d: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("backend exited with code %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// UnknownKindError is returned by the registry for an unregistered tag.
type UnknownKindError struct {
	Kind string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown driver kind %q (known: local, remote)", e.Kind)
}

// Is classes an unknown kind as an invalid descriptor field.
func (e *UnknownKindError) Is(target error) bool { return target == descriptor.ErrInvalidField }
