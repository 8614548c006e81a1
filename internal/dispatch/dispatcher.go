// Package dispatch runs inbound units in the background, off the webhook's
// request path, on a fixed pool of workers fed by a bounded queue.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"mezada/internal/metrics"
)

var (
	// ErrQueueFull is returned by Submit when no queue slot is free.
	ErrQueueFull = errors.New("dispatch queue full")

	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("dispatcher closed")

	// ErrDrainTimeout is returned by Run when queued units outlive the drain window.
	ErrDrainTimeout = errors.New("dispatch drain timed out")
)

// Status is the lifecycle state of a unit.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Unit is one inbound message handed off for background processing.
type Unit struct {
	Sender     string
	Body       string
	ReceivedAt time.Time
}

// ProcessFunc handles one unit. It runs on a worker goroutine with a context
// that is independent of the originating request.
type ProcessFunc func(ctx context.Context, id string, u Unit) error

// Record tracks a submitted unit.
type Record struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	QueuedAt  time.Time `json:"queued_at"`
	StartedAt time.Time `json:"started_at,omitempty"`
	DoneAt    time.Time `json:"done_at,omitempty"`
}

// Stats is a point-in-time view of the dispatcher.
type Stats struct {
	Queued  int `json:"queued"`
	Active  int `json:"active"`
	Workers int `json:"workers"`
}

type job struct {
	id   string
	unit Unit
}

type Config struct {
	Workers      int
	QueueSize    int
	DrainTimeout time.Duration
	Process      ProcessFunc
	Logger       *slog.Logger
}

// Dispatcher owns the queue, the worker pool and the unit records.
type Dispatcher struct {
	mu      sync.RWMutex
	queue   chan job
	records map[string]*Record
	closed  bool

	process      ProcessFunc
	workers      int
	drainTimeout time.Duration
	logger       *slog.Logger
}

func New(cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		queue:        make(chan job, cfg.QueueSize),
		records:      make(map[string]*Record),
		process:      cfg.Process,
		workers:      cfg.Workers,
		drainTimeout: cfg.DrainTimeout,
		logger:       cfg.Logger,
	}
}

// Submit enqueues a unit and returns its ID without waiting for any work.
func (d *Dispatcher) Submit(u Unit) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return "", ErrClosed
	}

	id := uuid.NewString()
	metrics.QueueDepth.Inc()
	select {
	case d.queue <- job{id: id, unit: u}:
	default:
		metrics.QueueDepth.Dec()
		metrics.UnitsRejected.Inc()
		return "", ErrQueueFull
	}

	d.records[id] = &Record{
		ID:       id,
		Sender:   u.Sender,
		Status:   StatusPending,
		QueuedAt: time.Now(),
	}
	metrics.UnitsDispatched.Inc()
	d.logger.Debug("unit submitted", "id", id, "sender", u.Sender)
	return id, nil
}

// Close stops intake. Units already queued are still processed by Run.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
}

// Run starts the workers and blocks until the queue is closed and drained.
// When ctx is cancelled Run closes intake and waits up to the drain timeout;
// after that, in-flight units see a cancelled context and queued ones are
// marked failed without running.
func (d *Dispatcher) Run(ctx context.Context) error {
	unitCtx, cancelUnits := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelUnits()

	var g errgroup.Group
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			d.work(unitCtx)
			return nil
		})
	}
	d.logger.Info("dispatcher started", "workers", d.workers, "queue", cap(d.queue))

	drained := make(chan struct{})
	go func() {
		g.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
	}

	d.Close()
	d.logger.Info("dispatcher draining", "queued", len(d.queue), "timeout", d.drainTimeout)

	timer := time.NewTimer(d.drainTimeout)
	defer timer.Stop()
	select {
	case <-drained:
		d.logger.Info("dispatcher drained")
		return nil
	case <-timer.C:
		cancelUnits()
		<-drained
		d.logger.Warn("dispatcher drain timed out; remaining units abandoned")
		return ErrDrainTimeout
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	for j := range d.queue {
		metrics.QueueDepth.Dec()
		if ctx.Err() != nil {
			d.finish(j.id, fmt.Errorf("abandoned at shutdown: %w", ctx.Err()))
			continue
		}
		d.runUnit(ctx, j)
	}
}

func (d *Dispatcher) runUnit(ctx context.Context, j job) {
	d.mu.Lock()
	if rec, ok := d.records[j.id]; ok {
		rec.Status = StatusRunning
		rec.StartedAt = time.Now()
	}
	d.mu.Unlock()

	metrics.UnitsActive.Inc()
	defer metrics.UnitsActive.Dec()

	d.finish(j.id, d.safeProcess(ctx, j))
}

// safeProcess keeps a panicking unit from taking the worker down with it.
func (d *Dispatcher) safeProcess(ctx context.Context, j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unit panicked: %v", r)
		}
	}()
	return d.process(ctx, j.id, j.unit)
}

func (d *Dispatcher) finish(id string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[id]
	if !ok {
		return
	}
	rec.DoneAt = time.Now()
	if err != nil {
		rec.Status = StatusFailed
		rec.Error = err.Error()
		d.logger.Error("unit failed", "id", id, "sender", rec.Sender, "err", err)
		return
	}
	rec.Status = StatusComplete
	d.logger.Info("unit complete", "id", id, "sender", rec.Sender,
		"duration_ms", rec.DoneAt.Sub(rec.QueuedAt).Milliseconds())
}

// Get returns a copy of the unit's record.
func (d *Dispatcher) Get(id string) (*Record, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.records[id]
	if !ok {
		return nil, false
	}
	cp := *rec
	return &cp, true
}

// List returns all tracked records.
func (d *Dispatcher) List() []Record {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Record, 0, len(d.records))
	for _, r := range d.records {
		out = append(out, *r)
	}
	return out
}

// ListActive returns records that are still pending or running.
func (d *Dispatcher) ListActive() []Record {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Record
	for _, r := range d.records {
		if r.Status == StatusPending || r.Status == StatusRunning {
			out = append(out, *r)
		}
	}
	return out
}

// Clean drops finished records older than maxAge and returns how many were removed.
func (d *Dispatcher) Clean(maxAge time.Duration) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, r := range d.records {
		if (r.Status == StatusComplete || r.Status == StatusFailed) && !r.DoneAt.After(cutoff) {
			delete(d.records, id)
			removed++
		}
	}
	return removed
}

// Stats reports queue depth and running units.
func (d *Dispatcher) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	active := 0
	for _, r := range d.records {
		if r.Status == StatusRunning {
			active++
		}
	}
	return Stats{Queued: len(d.queue), Active: active, Workers: d.workers}
}
