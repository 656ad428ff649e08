package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNoAvailableWorker is returned by Acquire when every worker is
// either dead or saturated at MaxConcurrentPerWorker and none frees up
// before the deadline (spec §4.5 step 1).
var ErrNoAvailableWorker = errors.New("pool: no available worker")

// ErrWorkerCrashed is returned by Acquire when the only workers left in
// rotation have exited; the pool needs a recycle before it can serve
// another task.
var ErrWorkerCrashed = errors.New("pool: worker crashed")

// WorkerFactory starts a new worker process, returning its handle.
// Implemented by the runner integration; declared here as an interface
// so pool never imports os/exec invocation details directly.
type WorkerFactory interface {
	Spawn(ctx context.Context) (*Worker, error)
	Terminate(ctx context.Context, w *Worker) error
}

// Options configures a WorkerPool (spec §4.5).
type Options struct {
	Size                   int
	MaxTasksPerWorker      int           // 0 disables recycling
	MaxConcurrentPerWorker int           // 0 means unbounded
	AcquireTimeout         time.Duration // 0 means no timeout beyond ctx
}

// WorkerPool holds a fixed set of long-lived workers and dispatches
// tasks to the least-active one, breaking ties round-robin (spec
// §4.5).
type WorkerPool struct {
	factory WorkerFactory
	opts    Options

	mu      sync.Mutex
	workers []*Worker
	next    int // round-robin cursor among tied-least-active workers
}

// New constructs a WorkerPool and spawns opts.Size workers up front.
func New(ctx context.Context, factory WorkerFactory, opts Options) (*WorkerPool, error) {
	if opts.Size <= 0 {
		opts.Size = 1
	}
	p := &WorkerPool{factory: factory, opts: opts}
	for i := 0; i < opts.Size; i++ {
		w, err := factory.Spawn(ctx)
		if err != nil {
			_ = p.Close(ctx)
			return nil, fmt.Errorf("pool: spawn worker %d: %w", i, err)
		}
		w.ID = i
		p.workers = append(p.workers, w)
	}
	return p, nil
}

// Acquire selects the least-active worker (round-robin among ties) and
// marks one task as begun on it. It blocks until a live, non-recycling
// worker under MaxConcurrentPerWorker is available, ctx is canceled, or
// opts.AcquireTimeout elapses. If every worker in rotation has exited,
// it fails fast with ErrWorkerCrashed instead of waiting out the full
// timeout, since no amount of waiting frees a dead worker.
func (p *WorkerPool) Acquire(ctx context.Context) (*Worker, error) {
	deadline := time.Time{}
	if p.opts.AcquireTimeout > 0 {
		deadline = time.Now().Add(p.opts.AcquireTimeout)
	}
	for {
		w, allDead := p.selectLeastActive()
		if w != nil {
			w.begin()
			return w, nil
		}
		if allDead {
			return nil, ErrWorkerCrashed
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: timed out after %s", ErrNoAvailableWorker, p.opts.AcquireTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// selectLeastActive returns the least-active eligible worker (round-
// robin among ties), skipping dead, recycling, or at-capacity workers.
// allDead reports whether every worker currently in rotation is dead,
// letting Acquire distinguish "crashed" from "merely saturated".
func (p *WorkerPool) selectLeastActive() (w *Worker, allDead bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.workers)
	if n == 0 {
		return nil, false
	}

	best := -1
	bestActive := -1
	dead := 0
	for i := 0; i < n; i++ {
		idx := (p.next + i) % n
		candidate := p.workers[idx]
		if candidate.Dead() {
			dead++
			continue
		}
		if candidate.Recycling() {
			continue
		}
		active := candidate.ActiveTasks()
		if p.opts.MaxConcurrentPerWorker > 0 && active >= p.opts.MaxConcurrentPerWorker {
			continue
		}
		if best == -1 || active < bestActive {
			best = idx
			bestActive = active
		}
	}
	if best == -1 {
		return nil, dead == n
	}
	p.next = (best + 1) % n
	return p.workers[best], false
}

// Release marks one task as finished on w, recycling w in the
// background if it has now hit MaxTasksPerWorker and has drained to
// zero active tasks.
func (p *WorkerPool) Release(ctx context.Context, w *Worker) {
	active, shouldRecycle := w.end(p.opts.MaxTasksPerWorker)
	if shouldRecycle && active == 0 {
		go p.recycle(ctx, w)
	}
}

func (p *WorkerPool) recycle(ctx context.Context, w *Worker) {
	replacement, err := p.factory.Spawn(ctx)
	if err != nil {
		// Keep the old worker in rotation rather than shrinking the
		// pool; it stays marked recycling, so selectLeastActive never
		// selects it again.
		return
	}
	replacement.ID = w.ID

	p.mu.Lock()
	for i, existing := range p.workers {
		if existing == w {
			p.workers[i] = replacement
			break
		}
	}
	p.mu.Unlock()

	_ = p.factory.Terminate(ctx, w)
}

// Size returns the number of workers currently in rotation.
func (p *WorkerPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Close terminates every worker in the pool.
func (p *WorkerPool) Close(ctx context.Context) error {
	p.mu.Lock()
	workers := append([]*Worker(nil), p.workers...)
	p.mu.Unlock()

	var firstErr error
	for _, w := range workers {
		if err := p.factory.Terminate(ctx, w); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
