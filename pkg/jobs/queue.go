package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is a unit of background work. Jobs sharing a non-empty Key coalesce:
// only the most recently enqueued one is handled, older ones are skipped.
type Job struct {
	ID       string
	Key      string
	Type     string
	Payload  interface{}
	Attempt  int
	Enqueued time.Time

	seq uint64
}

// Handler processes a job.
type Handler func(context.Context, Job) error

// QueueConfig configures the worker pool.
type QueueConfig struct {
	Workers       int
	BufferSize    int
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	DrainTimeout  time.Duration
	Logger        *zap.Logger
}

var (
	// ErrQueueFull is returned by TryEnqueue when the buffer has no free slot.
	ErrQueueFull = errors.New("queue full")
	// ErrQueueClosed is returned once the queue is not accepting jobs.
	ErrQueueClosed = errors.New("queue closed")
)

// Queue dispatches jobs to a fixed pool of goroutines with retry and drain-on-stop.
type Queue struct {
	name    string
	handler Handler
	cfg     QueueConfig
	logger  *zap.Logger

	jobs chan Job
	quit chan struct{}
	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu      sync.Mutex
	state   queueState
	seq     uint64
	latest  map[string]uint64
	skipped uint64
}

type queueState int

const (
	stateIdle queueState = iota
	stateRunning
	stateStopped
)

// NewQueue builds a queue that feeds handler.
func NewQueue(name string, handler Handler, cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 4
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxRetryDelay < cfg.RetryDelay {
		cfg.MaxRetryDelay = 30 * cfg.RetryDelay
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Queue{
		name:    name,
		handler: handler,
		cfg:     cfg,
		logger:  cfg.Logger.With(zap.String("queue", name)),
		jobs:    make(chan Job, cfg.BufferSize),
		quit:    make(chan struct{}),
		latest:  make(map[string]uint64),
	}
}

// Name returns the queue name used in logs.
func (q *Queue) Name() string {
	return q.name
}

// Start launches the workers. Later calls are no-ops.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != stateIdle {
		return
	}
	q.ctx, q.stop = context.WithCancel(ctx)
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.state = stateRunning
	q.logger.Info("queue started", zap.Int("workers", q.cfg.Workers))
}

// Stop refuses new jobs, lets workers finish what is buffered for up to
// DrainTimeout, then cancels in-flight handlers and waits for the workers.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.state != stateRunning {
		q.state = stateStopped
		q.mu.Unlock()
		return
	}
	q.state = stateStopped
	close(q.quit)
	q.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(drained)
	}()
	timer := time.NewTimer(q.cfg.DrainTimeout)
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		q.logger.Warn("drain timed out", zap.Int("abandoned", len(q.jobs)))
	}
	q.stop()
	<-drained
	q.logger.Info("queue stopped", zap.Uint64("coalesced", q.Coalesced()))
}

// Enqueue blocks until the job is buffered or the queue stops.
func (q *Queue) Enqueue(job Job) error {
	job, err := q.admit(job)
	if err != nil {
		return err
	}
	select {
	case q.jobs <- job:
		return nil
	case <-q.quit:
		return fmt.Errorf("queue %s: %w", q.name, ErrQueueClosed)
	}
}

// TryEnqueue buffers the job without waiting for space.
func (q *Queue) TryEnqueue(job Job) error {
	job, err := q.admit(job)
	if err != nil {
		return err
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return fmt.Errorf("queue %s: %w", q.name, ErrQueueFull)
	}
}

// Coalesced reports how many superseded keyed jobs were skipped.
func (q *Queue) Coalesced() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.skipped
}

func (q *Queue) admit(job Job) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != stateRunning {
		return job, fmt.Errorf("queue %s: %w", q.name, ErrQueueClosed)
	}
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}
	if job.Key != "" && job.seq == 0 {
		q.seq++
		job.seq = q.seq
		q.latest[job.Key] = job.seq
	}
	return job, nil
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case job := <-q.jobs:
			q.process(job)
		case <-q.quit:
			for {
				select {
				case job := <-q.jobs:
					q.process(job)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) process(job Job) {
	if q.superseded(job) {
		return
	}
	err := q.handler(q.ctx, job)
	if err == nil {
		q.settle(job)
		return
	}
	job.Attempt++
	if job.Attempt > q.cfg.MaxRetries || q.ctx.Err() != nil {
		q.logger.Error("job dropped", zap.String("job_id", job.ID), zap.String("type", job.Type), zap.Int("attempts", job.Attempt), zap.Error(err))
		q.settle(job)
		return
	}
	delay := q.backoff(job.Attempt)
	q.logger.Warn("job failed, retrying", zap.String("job_id", job.ID), zap.String("type", job.Type), zap.Int("attempt", job.Attempt), zap.Duration("delay", delay), zap.Error(err))
	q.retry(job, delay)
}

// retry waits out the backoff on the worker itself so jobs for one key never overlap.
func (q *Queue) retry(job Job, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-q.ctx.Done():
		q.logger.Error("job abandoned on shutdown", zap.String("job_id", job.ID), zap.String("type", job.Type))
		q.settle(job)
	case <-timer.C:
		q.process(job)
	}
}

func (q *Queue) backoff(attempt int) time.Duration {
	delay := q.cfg.RetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= q.cfg.MaxRetryDelay {
			return q.cfg.MaxRetryDelay
		}
	}
	return delay
}

func (q *Queue) superseded(job Job) bool {
	if job.Key == "" {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.latest[job.Key] != job.seq {
		q.skipped++
		return true
	}
	return false
}

func (q *Queue) settle(job Job) {
	if job.Key == "" {
		return
	}
	q.mu.Lock()
	if q.latest[job.Key] == job.seq {
		delete(q.latest, job.Key)
	}
	q.mu.Unlock()
}
