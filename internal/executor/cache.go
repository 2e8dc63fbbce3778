package executor

import (
	"slices"
	"sync"
	"time"

	"github.com/Timotej979/Model-executor-runtime/pkg/driver"
)

// respCache: simple TTL cache with size limit. order holds exactly the keys
// of m, oldest first.
type respCache struct {
	mu    sync.Mutex
	m     map[string]respEntry
	order []string
	cap   int
	ttl   time.Duration
	now   func() time.Time
}

type respEntry struct {
	at  time.Time
	res Result
}

func newRespCache(capacity int, ttl time.Duration) *respCache {
	return &respCache{m: make(map[string]respEntry, capacity), cap: capacity, ttl: ttl, now: time.Now}
}

func (c *respCache) Get(k string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[k]
	if !ok {
		return Result{}, false
	}
	if c.now().Sub(e.at) > c.ttl {
		c.removeLocked(k)
		return Result{}, false
	}
	return e.res, true
}

func (c *respCache) Put(k string, v Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.m[k]; ok {
		c.removeLocked(k)
	}
	c.m[k] = respEntry{at: c.now(), res: v}
	c.order = append(c.order, k)
	// Evict oldest first
	for len(c.order) > c.cap {
		delete(c.m, c.order[0])
		c.order = c.order[1:]
	}
}

func (c *respCache) removeLocked(k string) {
	delete(c.m, k)
	if i := slices.Index(c.order, k); i >= 0 {
		c.order = slices.Delete(c.order, i, i+1)
	}
}

// diagTail drains a session's diagnostics into a tail buffer.
type diagTail struct {
	buf  *driver.TailBuffer
	done chan struct{}
}

func collectDiagnostics(s *driver.Session, size int) *diagTail {
	t := &diagTail{buf: driver.NewTailBuffer(size), done: make(chan struct{})}
	go func() {
		defer close(t.done)
		for msg := range s.Diagnostics {
			_, _ = t.buf.WriteString(msg)
		}
	}()
	return t
}

// wait blocks until the session closed its diagnostics and returns the tail.
func (t *diagTail) wait() string {
	<-t.done
	return t.buf.String()
}
