package syncqueue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultMaxAttempts    = 5
	DefaultRetryInterval  = 60 * time.Second
	DefaultRequestTimeout = 5 * time.Second
	DefaultCapacity       = 1024
)

// Options configures an Engine. Remote is required; everything else has a
// working default.
type Options struct {
	Store          QueueStore
	Remote         Executor
	Reporter       Reporter
	Validator      *PayloadValidator
	MaxAttempts    int
	RetryInterval  time.Duration
	RequestTimeout time.Duration
	Capacity       int
	Logger         *slog.Logger

	// DisableDrain keeps the drain worker from starting. Useful in tests
	// that inspect queue state without executing anything.
	DisableDrain bool
}

// Engine owns the in-memory operation queue and drains it sequentially
// against the remote store. Exactly one operation is in flight at a time and
// operations complete strictly in FIFO order: a head operation is retried in
// place until it succeeds or exhausts its attempts, and only then does the
// next operation begin.
type Engine struct {
	mu       sync.Mutex
	queue    []QueuedOperation
	draining bool
	closed   bool

	store          QueueStore
	remote         Executor
	reporter       Reporter
	validator      *PayloadValidator
	maxAttempts    int
	retryInterval  time.Duration
	requestTimeout time.Duration
	capacity       int
	logger         *slog.Logger

	wake      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewEngine builds an Engine, restores any persisted queue from the store,
// and begins draining it. Restored head operations are re-attempted: delivery
// is at-least-once, never exactly-once.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Remote == nil {
		return nil, ErrInvalidInput
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	retryInterval := opts.RetryInterval
	if retryInterval <= 0 {
		retryInterval = DefaultRetryInterval
	}
	requestTimeout := opts.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	validator := opts.Validator
	if validator == nil {
		validator = DefaultPayloadValidator()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		queue:          []QueuedOperation{},
		store:          opts.Store,
		remote:         opts.Remote,
		reporter:       opts.Reporter,
		validator:      validator,
		maxAttempts:    maxAttempts,
		retryInterval:  retryInterval,
		requestTimeout: requestTimeout,
		capacity:       capacity,
		logger:         logger,
		wake:           make(chan struct{}, 1),
		ctx:            ctx,
		cancel:         cancel,
	}

	if e.store != nil {
		restored, err := e.store.LoadAll()
		if err != nil {
			logger.Warn("queue restore failed, starting empty", "error", err)
		} else if len(restored) > 0 {
			e.queue = cloneOperations(restored)
			logger.Info("queue restored", "pending", len(restored))
		}
	}

	if !opts.DisableDrain {
		e.wg.Add(1)
		go e.run()
		if len(e.queue) > 0 {
			e.kick()
		}
	}
	return e, nil
}

// Enqueue validates and appends an operation, persists the queue, and starts
// the drain loop if it was idle. The returned operation carries the id
// assigned at enqueue time.
func (e *Engine) Enqueue(kind OperationKind, payload OperationPayload) (QueuedOperation, error) {
	if !ValidKind(kind) {
		return QueuedOperation{}, ErrUnknownKind
	}
	if err := e.validator.Validate(kind, payload); err != nil {
		return QueuedOperation{}, err
	}

	op := QueuedOperation{
		ID:          NewOperationID(),
		Kind:        kind,
		Payload:     payload,
		EnqueuedAt:  time.Now().UTC(),
		Attempts:    0,
		MaxAttempts: e.maxAttempts,
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return QueuedOperation{}, ErrClosed
	}
	if len(e.queue) >= e.capacity {
		e.mu.Unlock()
		return QueuedOperation{}, ErrQueueFull
	}
	e.queue = append(e.queue, op)
	e.persistLocked()
	e.mu.Unlock()

	e.logger.Debug("operation enqueued", "id", op.ID, "kind", op.Kind)
	e.kick()
	return op, nil
}

// ForceDrain starts a drain pass immediately if the engine is idle. It is an
// idempotent no-op while draining is already in progress.
func (e *Engine) ForceDrain() {
	e.mu.Lock()
	if e.closed || e.draining {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	e.kick()
}

// Peek returns a copy of the queued operations and whether a drain pass is
// running. It never mutates engine state.
func (e *Engine) Peek() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Operations: cloneOperations(e.queue),
		Draining:   e.draining,
	}
}

// Depth returns the number of queued operations.
func (e *Engine) Depth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Close stops the drain worker and releases the store. An operation that was
// in flight stays persisted and is re-attempted on the next start.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		e.cancel()
		e.wg.Wait()
		if e.store != nil {
			if err := e.store.Close(); err != nil {
				e.logger.Warn("queue store close failed", "error", err)
			}
		}
	})
}

func (e *Engine) kick() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) run() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.wake:
			e.drain()
		}
	}
}

// drain processes the queue head-first until the queue is empty or the engine
// shuts down. Failures never escape this loop.
func (e *Engine) drain() {
	e.mu.Lock()
	if e.draining || len(e.queue) == 0 {
		e.mu.Unlock()
		return
	}
	e.draining = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.draining = false
		e.mu.Unlock()
	}()

	for {
		if e.ctx.Err() != nil {
			return
		}

		e.mu.Lock()
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		e.queue[0].Attempts++
		head := e.queue[0]
		e.persistLocked()
		e.mu.Unlock()

		attemptCtx, cancel := context.WithTimeout(e.ctx, e.requestTimeout)
		result, err := e.remote.Execute(attemptCtx, head)
		cancel()

		if err == nil {
			e.removeHead()
			e.logger.Info("operation synced", "id", head.ID, "kind", head.Kind, "attempts", head.Attempts)
			if e.reporter != nil {
				e.reporter.OperationSucceeded(head, result)
			}
			continue
		}

		if e.ctx.Err() != nil {
			// Shutdown interrupted the attempt. Leave the head queued so the
			// next start re-attempts it.
			return
		}

		if head.Attempts >= head.MaxAttempts {
			e.removeHead()
			e.logger.Warn("operation abandoned", "id", head.ID, "kind", head.Kind, "attempts", head.Attempts, "error", err)
			if e.reporter != nil {
				e.reporter.OperationExhausted(head, err)
			}
			continue
		}

		e.logger.Info("operation attempt failed, will retry",
			"id", head.ID, "kind", head.Kind,
			"attempt", head.Attempts, "maxAttempts", head.MaxAttempts,
			"retryIn", e.retryInterval, "error", err)
		if !e.sleep(e.retryInterval) {
			return
		}
	}
}

func (e *Engine) removeHead() {
	e.mu.Lock()
	e.queue = e.queue[1:]
	e.persistLocked()
	e.mu.Unlock()
}

// persistLocked snapshots the queue to the store. Storage failures are logged
// and swallowed: the in-memory queue stays authoritative and only crash
// recovery is degraded.
func (e *Engine) persistLocked() {
	if e.store == nil {
		return
	}
	if err := e.store.SaveAll(cloneOperations(e.queue)); err != nil {
		e.logger.Warn("queue persist failed", "error", err)
	}
}

func (e *Engine) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-e.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
