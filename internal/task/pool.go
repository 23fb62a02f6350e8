package task

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jbweber/hearth/internal/errdefs"
)

const (
	DefaultWorkers   = 4
	DefaultTimeout   = 30 * time.Minute
	DefaultQueueSize = 1024
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("task pool is closed")

// Options configures a Pool.
type Options struct {
	Workers   int
	Timeout   time.Duration
	QueueSize int
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	return o
}

type job struct {
	id      string
	req     Request
	created time.Time
}

// Pool is an in-process Executor. Workers pull jobs from a bounded queue.
// Jobs with the same key run one at a time in submission order, and a job
// waiting on a busy key never occupies a worker.
type Pool struct {
	opts     Options
	handlers map[Op]Handler
	backend  Backend
	metrics  *Metrics
	log      *zap.Logger
	keys     *keyedQueue
	newID    func() string

	queue   chan job
	g       errgroup.Group
	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.RWMutex
	started bool
	closed  bool
}

// NewPool returns a pool dispatching to handlers. Call Start before Submit.
func NewPool(handlers map[Op]Handler, backend Backend, opts Options, metrics *Metrics, log *zap.Logger) *Pool {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	if log == nil {
		log = zap.NewNop()
	}
	opts = opts.withDefaults()
	return &Pool{
		opts:     opts,
		handlers: handlers,
		backend:  backend,
		metrics:  metrics,
		log:      log,
		keys:     newKeyedQueue(),
		newID:    uuid.NewString,
		queue:    make(chan job, opts.QueueSize),
	}
}

// Start launches the workers. Task contexts derive from ctx; cancelling it
// aborts running tasks.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.baseCtx, p.cancel = context.WithCancel(ctx)

	for i := 0; i < p.opts.Workers; i++ {
		p.g.Go(func() error {
			for j := range p.queue {
				p.drain(j)
			}
			return nil
		})
	}
	p.log.Info("task pool started", zap.Int("workers", p.opts.Workers), zap.Duration("timeout", p.opts.Timeout))
}

// Submit records the task as pending and queues it. It blocks while the
// queue is full.
func (p *Pool) Submit(ctx context.Context, req Request) (string, error) {
	if _, ok := p.handlers[req.Op]; !ok {
		return "", errdefs.InvalidArgument("unknown task op %q", req.Op)
	}
	if req.Key == "" {
		return "", errdefs.InvalidArgument("task %s has no key", req.Op)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return "", ErrClosed
	}
	if !p.started {
		return "", errors.New("task pool is not started")
	}

	id := req.ID
	if id == "" {
		id = p.newID()
	}
	now := time.Now().UTC()
	if err := p.backend.Put(ctx, Result{ID: id, Op: req.Op, Key: req.Key, State: StatePending, Created: now, Updated: now}); err != nil {
		return "", err
	}

	select {
	case p.queue <- job{id: id, req: req, created: now}:
	case <-ctx.Done():
		return "", fmt.Errorf("failed to queue %s: %w", req.Op, ctx.Err())
	}
	p.metrics.onSubmit(req.Op)
	p.log.Info("task submitted", zap.String("task_id", id), zap.String("op", string(req.Op)), zap.String("key", req.Key))
	return id, nil
}

// Poll returns the latest result of id.
func (p *Pool) Poll(ctx context.Context, id string) (Result, error) {
	r, ok, err := p.backend.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{ID: id, State: StatePending}, nil
	}
	return r, nil
}

// Close stops accepting work and waits for queued and running tasks. If ctx
// ends first, running tasks are cancelled and Close returns ctx's error once
// the workers exit.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	close(p.queue)
	p.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- p.g.Wait() }()

	select {
	case err := <-done:
		p.cancel()
		p.log.Info("task pool drained")
		return err
	case <-ctx.Done():
		p.cancel()
		<-done
		return fmt.Errorf("task pool shutdown interrupted: %w", ctx.Err())
	}
}

// drain runs j when its key is idle, then every job parked behind it.
func (p *Pool) drain(j job) {
	if !p.keys.acquire(j) {
		return
	}
	for {
		p.run(j)
		next, ok := p.keys.next(j.req.Key)
		if !ok {
			return
		}
		j = next
	}
}

func (p *Pool) run(j job) {
	log := p.log.With(zap.String("task_id", j.id), zap.String("op", string(j.req.Op)), zap.String("key", j.req.Key))

	p.metrics.onStart()
	start := time.Now()
	created := j.created
	p.record(log, Result{ID: j.id, Op: j.req.Op, Key: j.req.Key, State: StateStarted, Created: created})

	ctx, cancel := context.WithTimeout(p.baseCtx, p.opts.Timeout)
	err := p.invoke(ctx, j.req)
	cancel()

	res := Result{ID: j.id, Op: j.req.Op, Key: j.req.Key, State: StateSuccess, Created: created}
	if err != nil {
		res.State = StateFailure
		res.Error = err.Error()
		res.Kind = errdefs.KindOf(err)
		log.Warn("task failed", zap.Duration("took", time.Since(start)), zap.Error(err))
	} else {
		log.Info("task succeeded", zap.Duration("took", time.Since(start)))
	}
	p.record(log, res)
	p.metrics.onFinish(j.req.Op, res.State, time.Since(start))
}

func (p *Pool) invoke(ctx context.Context, req Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("task panicked", zap.String("op", string(req.Op)), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return p.handlers[req.Op](ctx, req.Args)
}

func (p *Pool) record(log *zap.Logger, r Result) {
	r.Updated = time.Now().UTC()
	// the base context may already be cancelled during shutdown
	ctx, cancel := context.WithTimeout(context.WithoutCancel(p.baseCtx), 5*time.Second)
	defer cancel()
	if err := p.backend.Put(ctx, r); err != nil {
		log.Error("failed to record task state", zap.String("state", string(r.State)), zap.Error(err))
	}
}
