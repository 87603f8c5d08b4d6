package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var (
	ErrQueueFull = errors.New("delivery queue is full")
	ErrStopped   = errors.New("dispatcher stopped")
)

type Deliverer interface {
	Deliver(ctx context.Context, job Job) (Outcome, error)
}

// Dispatcher runs deliveries on a fixed pool of workers, decoupled from the
// request that produced them.
type Dispatcher struct {
	d       Deliverer
	workers int
	log     *slog.Logger

	jobs chan Job
	wg   sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
}

func NewDispatcher(d Deliverer, workers, queueSize int, log *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		d:       d,
		workers: workers,
		log:     log,
		jobs:    make(chan Job, queueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (p *Dispatcher) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
	p.log.Info("delivery dispatcher started", "workers", p.workers, "queue", cap(p.jobs))
}

// Enqueue hands job to the pool without blocking.
func (p *Dispatcher) Enqueue(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}

	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop refuses new jobs and waits for queued ones to finish. If ctx ends
// first, in-flight deliveries are cancelled.
func (p *Dispatcher) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.jobs)
	started := p.started
	p.mu.Unlock()

	if !started {
		p.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.log.Info("delivery dispatcher stopped")
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

func (p *Dispatcher) QueueLen() int {
	return len(p.jobs)
}

func (p *Dispatcher) work(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(id, job)
	}
}

func (p *Dispatcher) run(worker int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("delivery panic recovered", "worker", worker, "message_id", job.MessageID, "panic", r)
		}
	}()

	out, err := p.d.Deliver(p.ctx, job)
	if err != nil {
		p.log.Error("delivery error", "worker", worker, "message_id", job.MessageID, "error", err)
		return
	}
	p.log.Debug("delivery finished", "worker", worker, "message_id", job.MessageID, "status", out.Status)
}
