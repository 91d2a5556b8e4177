package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"mailhub-backend/internal/mailsync/domain"
)

// Priority tiers the action queue. User-visible read/unread work outranks
// provider mutations and recomputes, which outrank cleanup.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityMedium
	PriorityLow
)

// JobStatus is the observable lifecycle of one queued task
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// ErrQueueFull is returned when a tier's buffer is saturated
var ErrQueueFull = errors.New("action queue full")

// Job is one tracked background task with bounded retries. Rate-limited
// attempts are deferred to the next window without consuming the retry
// budget; transient failures back off exponentially; auth failures are
// terminal.
type Job struct {
	ID          string
	Description string
	Priority    Priority
	MaxAttempts int
	Run         func(ctx context.Context) error
	// OnSettled fires exactly once, after success or terminal failure
	OnSettled func(err error)

	mu       sync.Mutex
	status   JobStatus
	attempts int
}

// Status returns the job's current observable state
func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == "" {
		return JobPending
	}
	return j.status
}

func (j *Job) setStatus(s JobStatus) {
	j.mu.Lock()
	j.status = s
	j.mu.Unlock()
}

func (j *Job) chargeAttempt() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.attempts++
	return j.attempts
}

func (j *Job) settle(err error) {
	if j.OnSettled != nil {
		j.OnSettled(err)
	}
}

// ActionQueue drains jobs with a bounded worker pool, always preferring
// higher tiers so background housekeeping never starves user actions
type ActionQueue struct {
	high   chan *Job
	medium chan *Job
	low    chan *Job

	workers        int
	baseDelay      time.Duration
	rateLimitDelay time.Duration

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewActionQueue creates a queue with the given worker count and tier depth
func NewActionQueue(workers, depth int, baseDelay, rateLimitDelay time.Duration) *ActionQueue {
	if workers <= 0 {
		workers = 4
	}
	if depth <= 0 {
		depth = 256
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	if rateLimitDelay <= 0 {
		rateLimitDelay = time.Minute
	}
	return &ActionQueue{
		high:           make(chan *Job, depth),
		medium:         make(chan *Job, depth),
		low:            make(chan *Job, depth),
		workers:        workers,
		baseDelay:      baseDelay,
		rateLimitDelay: rateLimitDelay,
		stopCh:         make(chan struct{}),
	}
}

// Start launches the worker pool
func (q *ActionQueue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	log.Printf("[ActionQueue] started %d workers", q.workers)
}

// Stop shuts the pool down; in-flight jobs finish, queued jobs are dropped
func (q *ActionQueue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
	q.wg.Wait()
}

// Submit enqueues a job on its priority tier
func (q *ActionQueue) Submit(j *Job) error {
	select {
	case <-q.stopCh:
		return fmt.Errorf("submit %s: queue stopped", j.Description)
	default:
	}
	j.setStatus(JobPending)
	var tier chan *Job
	switch j.Priority {
	case PriorityHigh:
		tier = q.high
	case PriorityMedium:
		tier = q.medium
	default:
		tier = q.low
	}
	select {
	case tier <- j:
		return nil
	default:
		return fmt.Errorf("submit %s: %w", j.Description, ErrQueueFull)
	}
}

func (q *ActionQueue) worker(id int) {
	defer q.wg.Done()
	for {
		// Drain tiers strictly in priority order: fall through to a lower
		// tier only when every higher one is empty right now.
		select {
		case <-q.stopCh:
			return
		case j := <-q.high:
			q.execute(j)
			continue
		default:
		}
		select {
		case <-q.stopCh:
			return
		case j := <-q.high:
			q.execute(j)
			continue
		case j := <-q.medium:
			q.execute(j)
			continue
		default:
		}
		select {
		case <-q.stopCh:
			return
		case j := <-q.high:
			q.execute(j)
		case j := <-q.medium:
			q.execute(j)
		case j := <-q.low:
			q.execute(j)
		}
	}
}

func (q *ActionQueue) execute(j *Job) {
	j.setStatus(JobRunning)
	err := j.Run(context.Background())
	if err == nil {
		j.setStatus(JobSucceeded)
		j.settle(nil)
		return
	}

	switch {
	case errors.Is(err, domain.ErrRateLimited):
		// Deferred to the next window; does not count against the budget.
		log.Printf("[ActionQueue] %s rate limited, deferring %s", j.Description, q.rateLimitDelay)
		q.requeue(j, q.rateLimitDelay, err)
	case domain.IsTransient(err):
		attempts := j.chargeAttempt()
		if attempts >= j.MaxAttempts {
			log.Printf("[ActionQueue] %s failed after %d attempts: %v", j.Description, attempts, err)
			j.setStatus(JobFailed)
			j.settle(err)
			return
		}
		delay := q.baseDelay << (attempts - 1)
		log.Printf("[ActionQueue] %s attempt %d failed, retrying in %s: %v", j.Description, attempts, delay, err)
		q.requeue(j, delay, err)
	default:
		// Auth expiry, validation: terminal.
		log.Printf("[ActionQueue] %s failed terminally: %v", j.Description, err)
		j.setStatus(JobFailed)
		j.settle(err)
	}
}

func (q *ActionQueue) requeue(j *Job, delay time.Duration, cause error) {
	j.setStatus(JobPending)
	time.AfterFunc(delay, func() {
		if err := q.Submit(j); err != nil {
			log.Printf("[ActionQueue] requeue of %s failed: %v", j.Description, err)
			j.setStatus(JobFailed)
			j.settle(cause)
		}
	})
}
