package driver

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Timotej979/Model-executor-runtime/pkg/descriptor"
)

var testTokens = descriptor.Tokens{
	Ready: "@!#READY#!@",
	Start: "@!#START#!@",
	Stop:  "@!#STOP#!@",
	Exit:  "@!#EXIT#!@",
}

func feedAll(t *testing.T, s *frameScanner, chunks ...string) []frame {
	t.Helper()
	var out []frame
	for _, c := range chunks {
		f, err := s.feed([]byte(c))
		require.NoError(t, err)
		out = append(out, f...)
	}
	return append(out, s.flush()...)
}

func kinds(frames []frame) []frameKind {
	ks := make([]frameKind, len(frames))
	for i, f := range frames {
		ks[i] = f.kind
	}
	return ks
}

func TestScannerReadyDiscardsPrefix(t *testing.T) {
	s := newFrameScanner(testTokens, 0)
	frames := feedAll(t, s, "loading weights\n@!#READY#!@\n")
	require.Len(t, frames, 1)
	assert.Equal(t, frameReady, frames[0].kind)
}

func TestScannerNoiseBeforeReady(t *testing.T) {
	s := newFrameScanner(testTokens, 0)
	frames := feedAll(t, s, "warming up\n", "@!#READY#!@\n")
	assert.Equal(t, []frameKind{frameNoise, frameReady}, kinds(frames))
	assert.Equal(t, "warming up\n", frames[0].data)
}

func TestScannerResponseAndNoise(t *testing.T) {
	s := newFrameScanner(testTokens, 0)
	frames := feedAll(t, s,
		"@!#READY#!@\n",
		"log: handling\n@!#START#!@\nhello\n@!#STOP#!@\n",
		"\n",
	)
	require.Equal(t, []frameKind{frameReady, frameNoise, frameResponse}, kinds(frames))
	assert.Equal(t, "log: handling\n", frames[1].data)
	assert.Equal(t, "hello", frames[2].data)
}

func TestScannerSplitTokens(t *testing.T) {
	s := newFrameScanner(testTokens, 0)
	stream := "@!#READY#!@\n@!#START#!@\nsplit payload\n@!#STOP#!@\n"
	var chunks []string
	for i := 0; i < len(stream); i += 3 {
		end := min(i+3, len(stream))
		chunks = append(chunks, stream[i:end])
	}
	frames := feedAll(t, s, chunks...)
	require.Equal(t, []frameKind{frameReady, frameResponse}, kinds(frames))
	assert.Equal(t, "split payload", frames[1].data)
}

func TestScannerMultiLinePayload(t *testing.T) {
	s := newFrameScanner(testTokens, 0)
	frames := feedAll(t, s, "@!#READY#!@@!#START#!@\r\nline one\nline two\r\n@!#STOP#!@")
	require.Equal(t, []frameKind{frameReady, frameResponse}, kinds(frames))
	assert.Equal(t, "line one\nline two", frames[1].data)
}

func TestScannerPayloadTooLarge(t *testing.T) {
	s := newFrameScanner(testTokens, 64)
	_, err := s.feed([]byte("@!#READY#!@@!#START#!@"))
	require.NoError(t, err)
	_, err = s.feed([]byte(strings.Repeat("x", 100)))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestScannerUnterminatedBracketFlushesAsNoise(t *testing.T) {
	s := newFrameScanner(testTokens, 0)
	frames := feedAll(t, s, "@!#READY#!@", "@!#START#!@partial")
	require.Equal(t, []frameKind{frameReady, frameNoise}, kinds(frames))
	assert.Equal(t, "@!#START#!@partial", frames[1].data)
}

func TestPartialSuffix(t *testing.T) {
	tok := []byte("@!#STOP#!@")
	assert.Equal(t, 0, partialSuffix([]byte("abc"), tok))
	assert.Equal(t, 3, partialSuffix([]byte("abc@!#"), tok))
	assert.Equal(t, 0, partialSuffix([]byte("abc@!#X"), tok))
}

func TestFrameRequest(t *testing.T) {
	assert.Equal(t, "@!#START#!@\nping\n@!#STOP#!@\n", frameRequest(testTokens, "ping\n"))
	assert.Equal(t, "@!#EXIT#!@\n", terminateLine("@!#EXIT#!@"))
}

func TestTailBufferKeepsLastBytes(t *testing.T) {
	tb := NewTailBuffer(4)
	_, _ = tb.Write([]byte("ab"))
	_, _ = tb.Write([]byte("cdef"))
	assert.Equal(t, "cdef", tb.String())
	_, _ = tb.Write([]byte("g"))
	assert.Equal(t, "defg", tb.String())
}
