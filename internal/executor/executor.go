// Package executor runs one request against a catalogued model: it spawns
// the backend, waits for it to become ready, exchanges one request and
// shuts the backend down again.
package executor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Timotej979/Model-executor-runtime/internal/store"
	"github.com/Timotej979/Model-executor-runtime/pkg/descriptor"
	"github.com/Timotej979/Model-executor-runtime/pkg/driver"
	"github.com/Timotej979/Model-executor-runtime/pkg/meal"
)

// Config controls the Executor.
type Config struct {
	Driver driver.Config

	// Concurrency control; number of backends running at once.
	MaxConcurrency int // default 4

	// RequestTimeout bounds one Execute or Ping end to end. Default 120s.
	RequestTimeout time.Duration

	// Idempotency cache size and TTL, keyed by request ID.
	CacheSize int           // default 64
	CacheTTL  time.Duration // default 5m
}

// Request is one execution.
type Request struct {
	Name  string
	Input string
	// RequestID makes retries idempotent: a repeated ID within the cache TTL
	// replays the stored result. Generated when empty.
	RequestID string
}

// Result is the outcome of Execute or Ping.
type Result struct {
	Name      string
	RequestID string
	Driver    string
	Output    string
	// Diagnostics is the tail of non-response output seen during the run.
	Diagnostics string
	Duration    time.Duration
	Cached      bool
}

// Summary is the catalog view used by List.
type Summary struct {
	Name      string
	UID       string
	ConnType  string
	UpdatedAt time.Time
}

// Executor serves requests against models from a Store.
type Executor struct {
	store store.Store
	cfg   Config
	log   *zap.Logger
	sema  chan struct{}
	cache *respCache

	// metrics
	mActive   int64    // gauge
	mSuccess  uint64   // counter
	mFailure  uint64   // counter
	mDuration struct { // sum and count
		sumMicros uint64
		count     uint64
	}
}

// New creates an Executor over st.
func New(st store.Store, cfg Config, log *zap.Logger) *Executor {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 64
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Driver.Logger == nil {
		cfg.Driver.Logger = log
	}
	return &Executor{
		store: st,
		cfg:   cfg,
		log:   log.Named("executor"),
		sema:  make(chan struct{}, cfg.MaxConcurrency),
		cache: newRespCache(cfg.CacheSize, cfg.CacheTTL),
	}
}

// List returns the catalog, sorted by name.
func (e *Executor) List(ctx context.Context) ([]Summary, error) {
	ds, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(ds))
	for _, d := range ds {
		out = append(out, Summary{
			Name:      d.Identity.Name,
			UID:       d.Identity.UID,
			ConnType:  d.Identity.ConnType,
			UpdatedAt: d.Identity.UpdatedAt,
		})
	}
	return out, nil
}

// Info returns the descriptor with secrets masked.
func (e *Executor) Info(ctx context.Context, name string) (*descriptor.Descriptor, error) {
	d, err := e.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return d.Redacted(), nil
}

// Ping starts the backend, waits for its ready token and shuts it down.
func (e *Executor) Ping(ctx context.Context, name string) (Result, error) {
	return e.run(ctx, Request{Name: name, RequestID: uuid.NewString()}, false)
}

// Execute runs one request through the model.
func (e *Executor) Execute(ctx context.Context, req Request) (Result, error) {
	if req.Name == "" {
		return Result{}, &descriptor.ConfigError{Category: descriptor.CategoryIdentity, Key: descriptor.KeyName, Reason: descriptor.ReasonMissing}
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	} else if res, ok := e.cache.Get(req.RequestID); ok {
		res.Cached = true
		return res, nil
	}
	res, err := e.run(ctx, req, true)
	if err == nil {
		e.cache.Put(req.RequestID, res)
	}
	return res, err
}

func (e *Executor) run(ctx context.Context, req Request, exchange bool) (Result, error) {
	desc, err := e.store.Get(ctx, req.Name)
	if err != nil {
		return Result{}, err
	}
	m, err := meal.Create(desc, e.cfg.Driver)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	// Concurrency gate
	select {
	case e.sema <- struct{}{}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	defer func() { <-e.sema }()

	start := time.Now()
	atomic.AddInt64(&e.mActive, 1)
	defer atomic.AddInt64(&e.mActive, -1)

	log := e.log.With(zap.String("model", req.Name), zap.String("request_id", req.RequestID),
		zap.String("driver", m.DriverKind()))
	log.Info("exec.start", zap.Bool("exchange", exchange))

	res := Result{Name: req.Name, RequestID: req.RequestID, Driver: m.DriverKind()}
	out, diag, err := e.exchange(ctx, m, req.Input, exchange)
	res.Output = out
	res.Diagnostics = diag
	res.Duration = time.Since(start)

	atomic.AddUint64(&e.mDuration.count, 1)
	atomic.AddUint64(&e.mDuration.sumMicros, uint64(res.Duration/time.Microsecond))
	if err != nil {
		atomic.AddUint64(&e.mFailure, 1)
		log.Warn("exec.finish", zap.Duration("duration", res.Duration), zap.Error(err))
		return res, err
	}
	atomic.AddUint64(&e.mSuccess, 1)
	log.Info("exec.finish", zap.Duration("duration", res.Duration))
	return res, nil
}

func (e *Executor) exchange(ctx context.Context, m *meal.MEAL, input string, exchange bool) (string, string, error) {
	sess, err := m.Spawn(ctx)
	if err != nil {
		return "", "", err
	}
	diag := collectDiagnostics(sess, e.cfg.Driver.DiagnosticsTailBytes)

	if err := sess.WaitReady(ctx); err != nil {
		sess.Kill()
		return "", diag.wait(), fmt.Errorf("wait ready: %w", err)
	}
	var out string
	if exchange {
		out, err = sess.Call(ctx, input)
		if err != nil {
			sess.Kill()
			return "", diag.wait(), fmt.Errorf("exchange: %w", err)
		}
	}
	if err := sess.Shutdown(ctx); err != nil {
		// The answer is already in hand; a messy exit is only worth a log line.
		e.log.Warn("backend did not shut down cleanly", zap.String("model", m.Descriptor().Identity.Name), zap.Error(err))
	}
	return out, diag.wait(), nil
}

// Metrics exposes a snapshot of internal counters.
type Metrics struct {
	Active            int64
	Success           uint64
	Failure           uint64
	DurationCount     uint64
	DurationSumMicros uint64
}

func (e *Executor) Metrics() Metrics {
	return Metrics{
		Active:            atomic.LoadInt64(&e.mActive),
		Success:           atomic.LoadUint64(&e.mSuccess),
		Failure:           atomic.LoadUint64(&e.mFailure),
		DurationCount:     atomic.LoadUint64(&e.mDuration.count),
		DurationSumMicros: atomic.LoadUint64(&e.mDuration.sumMicros),
	}
}
