// Package gate serializes every use of the external contact store.
//
// Operations submitted to a Gate run one at a time, in submission order,
// on a single worker goroutine. The store handle they receive is opened
// lazily and guarded by a single-permit semaphore that is held for the
// duration of each operation, so opening or closing the handle (for
// example after the store reports an external change) never overlaps
// with its use.
//
// Submitted operations cannot be cancelled. A caller blocked in Run may
// stop waiting when its context ends, but the operation still runs.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/kabili207/contactindex/core"
	"github.com/kabili207/contactindex/core/contact"
)

// Op is an operation run on the gate with exclusive use of the handle.
type Op func(ctx context.Context, h contact.Handle) error

// Opener opens a new store handle.
type Opener func(ctx context.Context) (contact.Handle, error)

// Config configures a Gate.
type Config struct {
	// Logger for gate events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Stats is a point-in-time copy of the gate counters.
type Stats struct {
	Executed uint64 // operations that ran
	Failed   uint64 // operations that returned an error or never ran
	Opens    uint64 // successful handle opens
	Pending  int    // operations waiting in the queue
}

// Gate is the single serialized execution context for store access.
type Gate struct {
	log    *slog.Logger
	opener Opener
	queue  *opQueue

	// sem guards handle. It is held while an operation runs and while
	// the handle is opened or closed.
	sem    *semaphore.Weighted
	handle contact.Handle

	mu        sync.Mutex
	started   bool
	closed    bool
	stopped   bool
	cancel    context.CancelFunc
	done      chan struct{}
	onOffline func(err error)

	executed atomic.Uint64
	failed   atomic.Uint64
	opens    atomic.Uint64
}

// New creates a gate that opens handles with opener.
func New(opener Opener, cfg Config) *Gate {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		log:    logger.WithGroup("gate"),
		opener: opener,
		queue:  newOpQueue(),
		sem:    semaphore.NewWeighted(1),
	}
}

// SetOnOffline sets the callback invoked on the worker goroutine when a
// handle could not be opened. err is core.ErrAccessDenied or
// core.ErrStoreUnavailable, possibly wrapped.
func (g *Gate) SetOnOffline(fn func(err error)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onOffline = fn
}

// Start launches the worker goroutine. Calling Start twice is a no-op.
func (g *Gate) Start(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started || g.closed {
		return
	}
	ctx, g.cancel = context.WithCancel(ctx)
	g.done = make(chan struct{})
	g.started = true
	go g.loop(ctx)
}

// Stop stops the worker after the running operation returns, fails every
// queued operation with core.ErrGateClosed and closes the handle.
func (g *Gate) Stop() {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	g.stopped = true
	g.closed = true
	cancel, done := g.cancel, g.done
	g.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	g.failQueued()
	g.closeHandle()
}

func (g *Gate) failQueued() {
	for _, item := range g.queue.drain() {
		g.failed.Add(1)
		item.done(core.ErrGateClosed)
	}
}

// Run submits op and waits for it to finish. If ctx ends first, Run
// returns ctx.Err() and op still runs.
func (g *Gate) Run(ctx context.Context, op Op) error {
	result := make(chan error, 1)
	if err := g.submit(ctx, op, func(err error) { result <- err }); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Go submits op without waiting. done, if non-nil, is called on the
// worker goroutine with the operation's result.
func (g *Gate) Go(ctx context.Context, op Op, done func(err error)) {
	if done == nil {
		done = func(error) {}
	}
	if err := g.submit(ctx, op, done); err != nil {
		done(err)
	}
}

func (g *Gate) submit(ctx context.Context, op Op, done func(error)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return core.ErrGateClosed
	}
	if !g.started {
		return fmt.Errorf("gate not started: %w", core.ErrGateClosed)
	}
	g.queue.push(queueItem{ctx: context.WithoutCancel(ctx), op: op, done: done})
	return nil
}

// Pending returns the number of queued operations.
func (g *Gate) Pending() int {
	return g.queue.len()
}

// Stats returns the gate counters.
func (g *Gate) Stats() Stats {
	return Stats{
		Executed: g.executed.Load(),
		Failed:   g.failed.Load(),
		Opens:    g.opens.Load(),
		Pending:  g.queue.len(),
	}
}

// Invalidate closes the current handle so the next operation opens a
// fresh one. It waits for a running operation to finish. Safe to call from
// any goroutine except from inside an Op.
func (g *Gate) Invalidate() {
	g.closeHandle()
	g.log.Debug("handle invalidated")
}

func (g *Gate) loop(ctx context.Context) {
	defer func() {
		g.mu.Lock()
		g.closed = true
		g.mu.Unlock()
		g.failQueued()
		close(g.done)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.queue.ready:
			for {
				if ctx.Err() != nil {
					return
				}
				item, ok := g.queue.pop()
				if !ok {
					break
				}
				g.execute(item)
			}
		}
	}
}

func (g *Gate) execute(item queueItem) {
	h, err := g.acquire(item.ctx)
	if err != nil {
		g.failAll(item, err)
		return
	}
	err = g.call(item.ctx, item.op, h)
	g.sem.Release(1)

	g.executed.Add(1)
	if err != nil {
		g.failed.Add(1)
	}
	item.done(err)
}

// acquire takes the semaphore and makes sure a handle is open. On success
// the caller owns the semaphore and must release it.
func (g *Gate) acquire(ctx context.Context) (contact.Handle, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if g.handle != nil {
		return g.handle, nil
	}
	h, err := g.opener(ctx)
	if err != nil {
		g.sem.Release(1)
		return nil, translateOpenError(err)
	}
	g.handle = h
	g.opens.Add(1)
	g.log.Debug("handle opened")
	return h, nil
}

// failAll fails item and everything queued behind it without running them.
func (g *Gate) failAll(item queueItem, err error) {
	items := append([]queueItem{item}, g.queue.drain()...)
	g.log.Warn("store handle unavailable, failing queued operations", "error", err, "count", len(items))

	g.mu.Lock()
	onOffline := g.onOffline
	g.mu.Unlock()
	if onOffline != nil {
		onOffline(err)
	}

	for _, it := range items {
		g.failed.Add(1)
		it.done(err)
	}
}

func (g *Gate) call(ctx context.Context, op Op, h contact.Handle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("operation panicked", "panic", r)
			err = fmt.Errorf("gate operation panicked: %v", r)
		}
	}()
	return op(ctx, h)
}

func (g *Gate) closeHandle() {
	_ = g.sem.Acquire(context.Background(), 1)
	defer g.sem.Release(1)
	if g.handle == nil {
		return
	}
	if err := g.handle.Close(); err != nil {
		g.log.Warn("closing handle", "error", err)
	}
	g.handle = nil
}

func translateOpenError(err error) error {
	if errors.Is(err, core.ErrAccessDenied) || errors.Is(err, core.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", core.ErrStoreUnavailable, err)
}
