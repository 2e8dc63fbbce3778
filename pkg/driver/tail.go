package driver

import "sync"

// TailBuffer keeps the last size bytes written to it. It is safe for
// concurrent use.
type TailBuffer struct {
	mu   sync.Mutex
	b    []byte
	size int
}

// NewTailBuffer returns a buffer holding at most n bytes; n <= 0 means 8 KiB.
func NewTailBuffer(n int) *TailBuffer {
	if n <= 0 {
		n = 8 << 10
	}
	return &TailBuffer{b: make([]byte, 0, n), size: n}
}

func (t *TailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(p) >= t.size {
		t.b = append(t.b[:0], p[len(p)-t.size:]...)
		return len(p), nil
	}
	if len(t.b)+len(p) > t.size {
		drop := len(t.b) + len(p) - t.size
		t.b = append(t.b[:0], t.b[drop:]...)
	}
	t.b = append(t.b, p...)
	return len(p), nil
}

// WriteString is Write for strings.
func (t *TailBuffer) WriteString(s string) (int, error) { return t.Write([]byte(s)) }

func (t *TailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.b)
}
