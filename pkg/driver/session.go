package driver

import (
	"context"
	"fmt"

	"github.com/Timotej979/Model-executor-runtime/pkg/descriptor"
)

// Session is the handle returned by Spawn.
//
// Requests accepts request payloads; the relay frames them with the start and
// stop tokens. A payload containing the exit token is forwarded raw and ends
// the session. Closing Requests has the same effect; no other goroutine may
// send on it afterwards.
//
// Responses yields de-framed payloads in arrival order. Diagnostics yields
// output that was not part of any response. Both are closed when the backend
// terminates and must be drained by the caller, or the relay stalls.
type Session struct {
	Requests    chan<- string
	Responses   <-chan string
	Diagnostics <-chan string

	r *relay
}

// Ready is closed once the ready token has been seen.
func (s *Session) Ready() <-chan struct{} { return s.r.ready }

// Done is closed once the backend is gone and both output channels are closed.
func (s *Session) Done() <-chan struct{} { return s.r.done }

// Err returns the terminal error, or nil while running or after a clean exit.
func (s *Session) Err() error {
	select {
	case <-s.r.done:
		return s.r.err
	default:
		return nil
	}
}

// State reports the current lifecycle state.
func (s *Session) State() State { return s.r.state.Load() }

// Tokens returns the protocol tokens in use.
func (s *Session) Tokens() descriptor.Tokens { return s.r.tokens }

// WaitReady blocks until the backend is ready, has failed, or ctx ends.
func (s *Session) WaitReady(ctx context.Context) error {
	if s.r.isReady() {
		return nil
	}
	select {
	case <-s.r.ready:
		return nil
	case <-s.r.done:
		if s.r.isReady() {
			return nil
		}
		return s.r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send queues one request payload. It fails with ErrSessionClosed once the
// session is closing or gone.
func (s *Session) Send(ctx context.Context, payload string) error {
	if !s.r.accepting() {
		return s.closedErr()
	}
	select {
	case s.r.requests <- payload:
		return nil
	case <-s.r.closed:
		return s.closedErr()
	case <-s.r.shutdown:
		return s.closedErr()
	case <-s.r.done:
		return s.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv waits for the next response.
func (s *Session) Recv(ctx context.Context) (string, error) {
	select {
	case resp, ok := <-s.r.responses:
		if !ok {
			<-s.r.done
			return "", s.closedErr()
		}
		return resp, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Call sends one request and waits for the next response. Callers that
// share a session must serialize calls themselves.
func (s *Session) Call(ctx context.Context, payload string) (string, error) {
	if err := s.Send(ctx, payload); err != nil {
		return "", err
	}
	return s.Recv(ctx)
}

// Shutdown sends the exit token and waits for the backend to go away. A
// backend that is not ready yet, or that outlives ctx, is killed. It is safe
// to call after Requests was closed or the exit token was already sent.
func (s *Session) Shutdown(ctx context.Context) error {
	if !s.r.isReady() {
		s.Kill()
		<-s.r.done
		return s.r.err
	}
	s.r.requestShutdown()
	select {
	case <-s.r.done:
	case <-ctx.Done():
		s.Kill()
		<-s.r.done
	}
	return s.r.err
}

// Kill stops the backend immediately. The session ends in StateFailed unless
// it had already terminated.
func (s *Session) Kill() { s.r.cancel() }

// closedErr reports ErrSessionClosed, joined with the terminal error when the
// relay has already finished.
func (s *Session) closedErr() error {
	select {
	case <-s.r.done:
	default:
		return ErrSessionClosed
	}
	if s.r.err != nil {
		return fmt.Errorf("%w: %w", ErrSessionClosed, s.r.err)
	}
	return ErrSessionClosed
}
