package driver

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Timotej979/Model-executor-runtime/pkg/descriptor"
)

// pipes is what a driver hands to the relay once its backend is running.
type pipes struct {
	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader // nil when the transport merges streams

	// wait blocks until the backend is gone and returns its exit code. It is
	// called once, after both readers hit EOF. A non-nil error means the exit
	// status could not be observed at all.
	wait func() (int, error)
	// kill forces the backend down. Safe to call more than once.
	kill func()
	// release frees transport resources after wait. Optional.
	release func()
}

type relay struct {
	kind         string
	tokens       descriptor.Tokens
	cfg          Config
	log          *zap.Logger
	state        *stateBox
	p            pipes
	readyTimeout time.Duration

	requests    chan string
	responses   chan string
	diagnostics chan string
	ready       chan struct{}
	readyOnce   sync.Once
	done        chan struct{}
	closing     atomic.Bool
	closed      chan struct{} // closed when the relay stops taking requests
	closeOnce   sync.Once
	shutdown    chan struct{}
	stopOnce    sync.Once
	tail        *TailBuffer
	cancel      context.CancelFunc

	err error // set before done is closed
}

func startRelay(ctx context.Context, kind string, tokens descriptor.Tokens, cfg Config, state *stateBox, p pipes, readyTimeout time.Duration) *Session {
	ctx, cancel := context.WithCancel(ctx)
	r := &relay{
		kind:         kind,
		tokens:       tokens,
		cfg:          cfg,
		log:          cfg.Logger.Named("relay").With(zap.String("driver", kind)),
		state:        state,
		p:            p,
		readyTimeout: readyTimeout,
		requests:     make(chan string, 1),
		responses:    make(chan string, 1),
		diagnostics:  make(chan string, cfg.DiagnosticsBuffer),
		ready:        make(chan struct{}),
		done:         make(chan struct{}),
		closed:       make(chan struct{}),
		shutdown:     make(chan struct{}),
		tail:         NewTailBuffer(cfg.DiagnosticsTailBytes),
		cancel:       cancel,
	}
	state.set(StateAwaitingReady)
	go r.run(ctx)
	return &Session{
		Requests:    r.requests,
		Responses:   r.responses,
		Diagnostics: r.diagnostics,
		r:           r,
	}
}

func (r *relay) run(ctx context.Context) {
	defer r.cancel()

	g, gctx := errgroup.WithContext(ctx)
	readersDone := make(chan struct{})
	var readers sync.WaitGroup
	readers.Add(2)
	g.Go(func() error {
		defer readers.Done()
		return r.pumpStdout(gctx)
	})
	g.Go(func() error {
		defer readers.Done()
		return r.pumpStderr(gctx)
	})
	go func() {
		readers.Wait()
		close(readersDone)
	}()
	g.Go(func() error { return r.pumpRequests(gctx, readersDone) })
	g.Go(func() error { return r.watchReady(gctx, readersDone) })
	g.Go(func() error {
		select {
		case <-gctx.Done():
			r.p.kill()
		case <-readersDone:
		}
		return nil
	})

	groupErr := g.Wait()
	if groupErr == nil && ctx.Err() != nil {
		groupErr = ctx.Err()
	}
	code, waitErr := r.p.wait()
	if r.p.release != nil {
		r.p.release()
	}

	err := r.outcome(groupErr, code, waitErr)
	if err != nil {
		r.state.set(StateFailed)
		r.log.Warn("backend failed", zap.Int("exit_code", code), zap.Error(err))
	} else {
		r.state.set(StateTerminated)
		r.log.Info("backend terminated", zap.Int("exit_code", code))
	}
	close(r.responses)
	close(r.diagnostics)
	r.err = err
	close(r.done)
}

func (r *relay) outcome(groupErr error, code int, waitErr error) error {
	switch {
	case groupErr != nil:
		return groupErr
	case !r.isReady():
		return &ExitError{Code: code, Diagnostics: r.tail.String(), Err: ErrExitedBeforeReady}
	case waitErr != nil:
		return &StreamError{Op: "wait", Err: waitErr}
	case r.closing.Load():
		if code != 0 {
			r.log.Warn("backend exited non-zero after shutdown request", zap.Int("exit_code", code))
		}
		return nil
	case code != 0:
		return &ExitError{Code: code, Diagnostics: r.tail.String()}
	}
	return nil
}

func (r *relay) isReady() bool {
	select {
	case <-r.ready:
		return true
	default:
		return false
	}
}

func (r *relay) markReady() {
	r.readyOnce.Do(func() {
		r.state.set(StateReady)
		close(r.ready)
		r.log.Info("backend ready")
	})
}

func (r *relay) pumpStdout(ctx context.Context) error {
	sc := newFrameScanner(r.tokens, r.cfg.MaxPayloadBytes)
	buf := make([]byte, 32<<10)
	for {
		n, err := r.p.stdout.Read(buf)
		if n > 0 {
			frames, ferr := sc.feed(buf[:n])
			if derr := r.dispatch(ctx, frames); derr != nil {
				return derr
			}
			if ferr != nil {
				return ferr
			}
		}
		if err != nil {
			if isEOF(err) {
				return r.dispatch(ctx, sc.flush())
			}
			return &StreamError{Op: "read-stdout", Err: err}
		}
	}
}

func (r *relay) dispatch(ctx context.Context, frames []frame) error {
	for _, f := range frames {
		switch f.kind {
		case frameReady:
			r.markReady()
		case frameResponse:
			if err := send(ctx, r.responses, f.data); err != nil {
				return err
			}
		case frameNoise:
			_, _ = r.tail.Write([]byte(f.data))
			if err := send(ctx, r.diagnostics, f.data); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *relay) pumpStderr(ctx context.Context) error {
	if r.p.stderr == nil {
		return nil
	}
	buf := make([]byte, 32<<10)
	for {
		n, err := r.p.stderr.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			_, _ = r.tail.Write(buf[:n])
			if serr := send(ctx, r.diagnostics, chunk); serr != nil {
				return serr
			}
		}
		if err != nil {
			if isEOF(err) {
				return nil
			}
			return &StreamError{Op: "read-stderr", Err: err}
		}
	}
}

// pumpRequests forwards requests once the backend is ready. Closing the
// request channel is the same as sending the exit token.
func (r *relay) pumpRequests(ctx context.Context, readersDone <-chan struct{}) error {
	defer r.p.stdin.Close()

	select {
	case <-r.ready:
	case <-readersDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	for {
		select {
		case <-readersDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-r.shutdown:
			// A request queued before the shutdown still goes out first.
			select {
			case req, ok := <-r.requests:
				if ok {
					if done, err := r.forward(req); done || err != nil {
						return err
					}
				}
			default:
			}
			r.beginClosing()
			return r.write(r.tokens.Exit + "\n")
		case req, ok := <-r.requests:
			if !ok {
				r.beginClosing()
				return r.write(r.tokens.Exit + "\n")
			}
			if done, err := r.forward(req); done || err != nil {
				return err
			}
		}
	}
}

// forward writes one request and reports whether it ended the session.
func (r *relay) forward(req string) (bool, error) {
	if strings.Contains(req, r.tokens.Exit) {
		r.beginClosing()
		return true, r.write(terminateLine(req))
	}
	r.state.set(StateActive)
	return false, r.write(frameRequest(r.tokens, req))
}

func (r *relay) beginClosing() {
	r.closing.Store(true)
	r.closeOnce.Do(func() { close(r.closed) })
	r.state.set(StateClosing)
	r.log.Debug("shutdown requested")
}

// requestShutdown asks the writer to send the exit token without touching
// the request channel, which the caller may already have closed.
func (r *relay) requestShutdown() {
	r.stopOnce.Do(func() { close(r.shutdown) })
}

// accepting reports whether Send may still queue a request.
func (r *relay) accepting() bool {
	select {
	case <-r.closed:
		return false
	case <-r.shutdown:
		return false
	case <-r.done:
		return false
	default:
		return true
	}
}

func (r *relay) write(s string) error {
	if _, err := io.WriteString(r.p.stdin, s); err != nil {
		return &StreamError{Op: "write-stdin", Err: err}
	}
	return nil
}

func (r *relay) watchReady(ctx context.Context, readersDone <-chan struct{}) error {
	if r.readyTimeout <= 0 {
		return nil
	}
	t := time.NewTimer(r.readyTimeout)
	defer t.Stop()
	select {
	case <-r.ready:
		return nil
	case <-readersDone:
		return nil
	case <-ctx.Done():
		return nil
	case <-t.C:
		r.log.Warn("ready token not seen in time", zap.Duration("timeout", r.readyTimeout))
		return ErrReadyTimeout
	}
}

func send(ctx context.Context, ch chan<- string, v string) error {
	select {
	case ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed)
}
