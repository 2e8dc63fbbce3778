package driver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/Timotej979/Model-executor-runtime/pkg/descriptor"
)

// Remote runs the backend over an SSH session.
type Remote struct {
	desc    *descriptor.Descriptor
	cfg     Config
	log     *zap.Logger
	state   stateBox
	spawned atomic.Bool
}

// NewRemote creates a remote driver. Connection keys are checked on Spawn.
func NewRemote(desc *descriptor.Descriptor, cfg Config) (*Remote, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	r := &Remote{
		desc: desc.Clone(),
		cfg:  cfg,
		log:  cfg.Logger.Named("remote").With(zap.String("model", desc.Identity.Name)),
	}
	r.state.log = r.log
	return r, nil
}

func (r *Remote) Kind() string { return descriptor.ConnRemote }

func (r *Remote) State() State { return r.state.Load() }

type remoteTarget struct {
	host, port, user, pass string
	path, command          string
}

func (r *Remote) target() (remoteTarget, error) {
	var t remoteTarget
	for _, f := range []struct {
		cat descriptor.Category
		key string
		dst *string
	}{
		{descriptor.CategoryConnection, descriptor.KeyHost, &t.host},
		{descriptor.CategoryConnection, descriptor.KeyPort, &t.port},
		{descriptor.CategoryConnection, descriptor.KeyUser, &t.user},
		{descriptor.CategoryConnection, descriptor.KeyPass, &t.pass},
		{descriptor.CategoryExecution, descriptor.KeyPath, &t.path},
		{descriptor.CategoryExecution, descriptor.KeyCommand, &t.command},
	} {
		v, err := r.desc.FieldFor(r.Kind(), f.cat, f.key)
		if err != nil {
			return remoteTarget{}, err
		}
		*f.dst = v
	}
	return t, nil
}

// Spawn connects, optionally checks the model directory, and starts
// `cd <path> && <command>` in a fresh session.
func (r *Remote) Spawn(ctx context.Context) (*Session, error) {
	if !r.spawned.CompareAndSwap(false, true) {
		return nil, &SpawnError{Driver: r.Kind(), Kind: SpawnAlreadySpawned}
	}
	sess, err := r.spawn(ctx)
	if err != nil {
		r.state.set(StateFailed)
		r.log.Warn("spawn failed", zap.Error(err))
		return nil, err
	}
	return sess, nil
}

func (r *Remote) spawn(ctx context.Context) (*Session, error) {
	tokens, err := r.desc.Tokens()
	if err != nil {
		return nil, err
	}
	t, err := r.target()
	if err != nil {
		return nil, err
	}
	timeout, err := readyTimeout(r.desc, r.cfg.ReadyTimeout)
	if err != nil {
		return nil, err
	}
	hostKeys, err := r.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(t.host, t.port)
	client, err := r.dial(ctx, addr, &ssh.ClientConfig{
		User: t.user,
		Auth: []ssh.AuthMethod{
			ssh.Password(t.pass),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = t.pass
				}
				return answers, nil
			}),
		},
		HostKeyCallback: hostKeys,
		Timeout:         r.cfg.DialTimeout,
	})
	if err != nil {
		return nil, err
	}
	r.log.Info("connected", zap.String("addr", addr), zap.String("user", t.user))

	if !r.cfg.SkipRemotePathCheck {
		if err := r.checkPath(client, t.path); err != nil {
			_ = client.Close()
			return nil, err
		}
	}

	rendered := ExpandCommand(t.command, r.desc)
	remoteCmd := "cd " + shellQuote(t.path) + " && " + rendered
	launchErr := func(err error) error {
		_ = client.Close()
		return &SpawnError{Driver: r.Kind(), Kind: SpawnLaunchFailed, Target: rendered, Err: err}
	}
	sess, err := client.NewSession()
	if err != nil {
		return nil, launchErr(fmt.Errorf("open session: %w", err))
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		return nil, launchErr(fmt.Errorf("stdin pipe: %w", err))
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		return nil, launchErr(fmt.Errorf("stdout pipe: %w", err))
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		return nil, launchErr(fmt.Errorf("stderr pipe: %w", err))
	}
	if err := sess.Start(remoteCmd); err != nil {
		return nil, launchErr(err)
	}
	r.state.set(StateSpawned)
	r.log.Info("backend started", zap.String("dir", t.path))

	p := pipes{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		wait: func() (int, error) {
			err := sess.Wait()
			var ee *ssh.ExitError
			var missing *ssh.ExitMissingError
			switch {
			case err == nil:
				return 0, nil
			case errors.As(err, &ee):
				return ee.ExitStatus(), nil
			case errors.As(err, &missing):
				// Channel closed without a status: treat as a clean close.
				return 0, nil
			}
			return -1, err
		},
		kill: func() {
			_ = sess.Signal(ssh.SIGTERM)
			_ = sess.Close()
			_ = client.Close()
		},
		release: func() {
			_ = sess.Close()
			_ = client.Close()
		},
	}
	return startRelay(ctx, r.Kind(), tokens, r.cfg, &r.state, p, timeout), nil
}

func (r *Remote) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if r.cfg.KnownHostsFile == "" {
		r.log.Warn("no known_hosts configured; accepting any host key")
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(r.cfg.KnownHostsFile)
	if err != nil {
		return nil, &SpawnError{Driver: r.Kind(), Kind: SpawnConnectFailed, Target: r.cfg.KnownHostsFile,
			Err: fmt.Errorf("load known_hosts: %w", err)}
	}
	return cb, nil
}

// dial is ssh.Dial with context support. The handshake is bounded by the
// dial timeout as well.
func (r *Remote) dial(ctx context.Context, addr string, cc *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: r.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &SpawnError{Driver: r.Kind(), Kind: SpawnConnectFailed, Target: addr, Err: err}
	}
	_ = conn.SetDeadline(time.Now().Add(r.cfg.DialTimeout))
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cc)
	if err != nil {
		_ = conn.Close()
		kind := SpawnConnectFailed
		if isAuthFailure(err) {
			kind = SpawnAuthenticationFailed
		}
		return nil, &SpawnError{Driver: r.Kind(), Kind: kind, Target: addr, Err: err}
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

// isAuthFailure recognises the client's "unable to authenticate" handshake
// error; x/crypto/ssh does not export a type for it.
func isAuthFailure(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "no supported methods remain")
}

func (r *Remote) checkPath(client *ssh.Client, path string) error {
	sess, err := client.NewSession()
	if err != nil {
		return &SpawnError{Driver: r.Kind(), Kind: SpawnConnectFailed, Target: path, Err: fmt.Errorf("open session: %w", err)}
	}
	defer sess.Close()
	err = sess.Run("test -d " + shellQuote(path))
	var ee *ssh.ExitError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ee):
		return &SpawnError{Driver: r.Kind(), Kind: SpawnPathNotFound, Target: path,
			Err: fmt.Errorf("remote test exited %d", ee.ExitStatus())}
	}
	return &SpawnError{Driver: r.Kind(), Kind: SpawnConnectFailed, Target: path, Err: err}
}
