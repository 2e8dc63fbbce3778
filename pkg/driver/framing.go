package driver

import (
	"bytes"
	"strings"

	"github.com/Timotej979/Model-executor-runtime/pkg/descriptor"
)

type frameKind int

const (
	frameReady frameKind = iota
	frameResponse
	frameNoise
)

type frame struct {
	kind frameKind
	data string
}

type scanPhase int

const (
	phaseAwaitingReady scanPhase = iota
	phaseIdle
	phaseInBracket
)

// frameScanner splits a backend's output stream into the ready signal,
// bracketed response payloads and everything else (noise). Tokens may be
// split across reads; a tail that could still become a token is held back
// until more bytes arrive or the stream ends.
type frameScanner struct {
	ready, start, stop []byte
	max                int

	phase scanPhase
	buf   []byte
}

func newFrameScanner(t descriptor.Tokens, maxPayload int) *frameScanner {
	return &frameScanner{
		ready: []byte(t.Ready),
		start: []byte(t.Start),
		stop:  []byte(t.Stop),
		max:   maxPayload,
	}
}

// feed consumes one chunk of output. Frames decoded before an error are
// still returned.
func (s *frameScanner) feed(p []byte) ([]frame, error) {
	s.buf = append(s.buf, p...)
	var out []frame
	for {
		switch s.phase {
		case phaseAwaitingReady:
			if i := bytes.Index(s.buf, s.ready); i >= 0 {
				// Everything up to and including the token is dropped.
				s.consume(i + len(s.ready))
				s.phase = phaseIdle
				out = append(out, frame{kind: frameReady})
				continue
			}
			return s.flushNoise(out, s.ready), nil

		case phaseIdle:
			if i := bytes.Index(s.buf, s.start); i >= 0 {
				out = appendNoise(out, s.buf[:i])
				s.consume(i + len(s.start))
				s.phase = phaseInBracket
				continue
			}
			return s.flushNoise(out, s.start), nil

		case phaseInBracket:
			if i := bytes.Index(s.buf, s.stop); i >= 0 {
				out = append(out, frame{kind: frameResponse, data: trimPayload(s.buf[:i])})
				s.consume(i + len(s.stop))
				s.phase = phaseIdle
				continue
			}
			if s.max > 0 && len(s.buf) > s.max {
				return out, ErrPayloadTooLarge
			}
			return out, nil
		}
	}
}

// flush drains whatever is pending at end of stream. An unterminated
// bracket degrades to noise.
func (s *frameScanner) flush() []frame {
	var out []frame
	if s.phase == phaseInBracket {
		out = appendNoise(out, append(append([]byte{}, s.start...), s.buf...))
	} else {
		out = appendNoise(out, s.buf)
	}
	s.buf = nil
	return out
}

// flushNoise emits the pending buffer as noise except for a suffix that is a
// prefix of tok.
func (s *frameScanner) flushNoise(out []frame, tok []byte) []frame {
	keep := partialSuffix(s.buf, tok)
	n := len(s.buf) - keep
	out = appendNoise(out, s.buf[:n])
	s.consume(n)
	return out
}

func (s *frameScanner) consume(n int) {
	s.buf = append(s.buf[:0:0], s.buf[n:]...)
}

// partialSuffix returns the length of the longest suffix of b that is a
// proper prefix of tok.
func partialSuffix(b, tok []byte) int {
	k := len(tok) - 1
	if k > len(b) {
		k = len(b)
	}
	for ; k > 0; k-- {
		if bytes.HasSuffix(b, tok[:k]) {
			return k
		}
	}
	return 0
}

func appendNoise(out []frame, b []byte) []frame {
	if len(bytes.TrimSpace(b)) == 0 {
		return out
	}
	return append(out, frame{kind: frameNoise, data: string(b)})
}

func trimPayload(b []byte) string {
	return strings.Trim(string(b), "\r\n")
}

// frameRequest wraps a payload for the backend: one token per line, the
// layout line-reading backends expect.
func frameRequest(t descriptor.Tokens, payload string) string {
	return t.Start + "\n" + strings.TrimRight(payload, "\r\n") + "\n" + t.Stop + "\n"
}

// terminateLine makes sure a raw directive ends with a newline.
func terminateLine(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
