package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Job represents a queued task. Run is executed by the queue's single worker.
type Job struct {
	ID       string
	Type     string
	Run      func(context.Context) error
	Attempt  int
	Enqueued time.Time

	ticket *Ticket
}

// Ticket lets the submitter wait for a job's outcome.
type Ticket struct {
	JobID string
	done  chan struct{}
	err   error
}

// Wait blocks until the job finished or ctx is done.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return t.err
	}
}

// Done is closed once the job has finished.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

func (t *Ticket) finish(err error) {
	t.err = err
	close(t.done)
}

// QueueConfig configures queue behaviour.
type QueueConfig struct {
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	// RetryIf decides whether a failed attempt is retried. Nil retries
	// every error.
	RetryIf func(error) bool
	Logger  *zap.Logger
}

// Queue runs jobs one at a time, in submission order. Jobs never interleave,
// so persistence and import work against a store cannot produce partial writes.
type Queue struct {
	name string

	bufferSize int
	maxRetries int
	retryDelay time.Duration
	retryIf    func(error) bool
	logger     *zap.Logger

	jobs    chan *Job
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewQueue builds a new queue.
func NewQueue(name string, cfg QueueConfig) *Queue {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 8
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.RetryIf == nil {
		cfg.RetryIf = func(error) bool { return true }
	}

	return &Queue{
		name:       name,
		bufferSize: cfg.BufferSize,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		retryIf:    cfg.RetryIf,
		logger:     cfg.Logger,
		jobs:       make(chan *Job, cfg.BufferSize),
	}
}

// Start begins worker consumption. Safe to call more than once.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.wg.Add(1)
	go q.worker()
	q.started = true
	q.logger.Sugar().Debugw("queue started", "queue", q.name)
}

// Stop cancels the worker and waits for it to exit. Jobs still queued are
// finished with the cancellation error.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.cancel()
	q.mu.Unlock()
	q.wg.Wait()
	q.logger.Sugar().Debugw("queue stopped", "queue", q.name)
}

// Submit queues fn and returns a ticket for its outcome. It blocks while the
// buffer is full.
func (q *Queue) Submit(ctx context.Context, jobType string, fn func(context.Context) error) (*Ticket, error) {
	q.mu.Lock()
	qctx := q.ctx
	started := q.started
	q.mu.Unlock()

	if !started {
		return nil, fmt.Errorf("queue %s not started", q.name)
	}

	job := &Job{
		ID:       uuid.NewString(),
		Type:     jobType,
		Run:      fn,
		Enqueued: time.Now().UTC(),
	}
	job.ticket = &Ticket{JobID: job.ID, done: make(chan struct{})}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-qctx.Done():
		return nil, fmt.Errorf("queue %s stopped: %w", q.name, qctx.Err())
	case q.jobs <- job:
		return job.ticket, nil
	}
}

// Do submits fn and waits for it to finish.
func (q *Queue) Do(ctx context.Context, jobType string, fn func(context.Context) error) error {
	ticket, err := q.Submit(ctx, jobType, fn)
	if err != nil {
		return err
	}
	return ticket.Wait(ctx)
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			q.drain()
			return
		case job := <-q.jobs:
			job.ticket.finish(q.run(job))
		}
	}
}

func (q *Queue) run(job *Job) error {
	for {
		err := job.Run(q.ctx)
		if err == nil {
			return nil
		}
		job.Attempt++
		if job.Attempt > q.maxRetries || !q.retryIf(err) {
			q.logger.Sugar().Warnw("job failed", "queue", q.name, "job_id", job.ID, "type", job.Type, "attempts", job.Attempt, "error", err)
			return err
		}
		q.logger.Sugar().Warnw("job failed, retrying", "queue", q.name, "job_id", job.ID, "type", job.Type, "attempt", job.Attempt, "error", err)

		timer := time.NewTimer(q.retryDelay)
		select {
		case <-q.ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

func (q *Queue) drain() {
	for {
		select {
		case job := <-q.jobs:
			job.ticket.finish(fmt.Errorf("queue %s stopped: %w", q.name, q.ctx.Err()))
		default:
			return
		}
	}
}
