// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

// Package worker provides a bounded pool for running migration jobs concurrently.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrPoolStopped is returned by Submit after Stop
var ErrPoolStopped = errors.New("worker pool is shutting down")

// JobStatus represents the current status of a job
type JobStatus int

// Job status constants
const (
	// JobPending indicates a job is waiting to be processed
	JobPending JobStatus = iota
	JobRunning
	JobCompleted
	JobFailed
	JobRetrying
)

func (s JobStatus) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobRunning:
		return "running"
	case JobCompleted:
		return "completed"
	case JobFailed:
		return "failed"
	case JobRetrying:
		return "retrying"
	default:
		return "unknown"
	}
}

// Job represents a unit of work to be executed
type Job struct {
	ID          string
	Description string
	Execute     func(ctx context.Context) error
	// Retryable decides whether a failed attempt is tried again. When nil the
	// job is attempted once.
	Retryable func(err error) (time.Duration, bool)
	// OnRetry runs each time a failed attempt is scheduled for another try
	OnRetry func(attempt int, err error, delay time.Duration)
	// OnDone runs once when the job settles, with nil on success or the last error
	OnDone     func(err error)
	Status     JobStatus
	Attempts   int
	MaxRetries int
	LastError  error
	mu         sync.RWMutex
}

func (j *Job) done(err error) {
	if j.OnDone != nil {
		j.OnDone(err)
	}
}

// SetStatus safely updates the job status
func (j *Job) SetStatus(status JobStatus) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
}

// GetStatus safely retrieves the job status
func (j *Job) GetStatus() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// SetError safely sets the last error
func (j *Job) SetError(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.LastError = err
}

// GetError safely retrieves the last error
func (j *Job) GetError() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.LastError
}

// Config holds configuration for the worker pool
type Config struct {
	WorkerCount   int           // Number of worker goroutines
	MaxRetries    int           // Maximum attempts per retryable job
	RetryDelay    time.Duration // Initial retry delay
	MaxRetryDelay time.Duration // Maximum retry delay
	BackoffFactor float64       // Exponential backoff multiplier
	QueueSize     int           // Size of job queue buffer
	LogVerbose    bool          // Enable verbose logging
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		WorkerCount:   1,
		MaxRetries:    3,
		RetryDelay:    time.Second,
		MaxRetryDelay: time.Minute * 5,
		BackoffFactor: 2.0,
		QueueSize:     100,
		LogVerbose:    false,
	}
}

// Stats tracks pool statistics
type Stats struct {
	TotalJobs     int64
	CompletedJobs int64
	FailedJobs    int64
	RetryJobs     int64
	ActiveJobs    int64
}

// Pool manages a pool of workers that execute jobs concurrently
type Pool struct {
	config  *Config
	jobs    chan *Job
	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
	pending sync.WaitGroup
	stats   Stats
	log     logrus.FieldLogger

	stopMutex sync.Mutex
	stopped   bool
}

// NewPool creates a new worker pool with the given configuration. The pool's
// context derives from parent, so cancelling parent stops all jobs.
func NewPool(parent context.Context, config *Config, log logrus.FieldLogger) *Pool {
	if config == nil {
		config = DefaultConfig()
	}
	if config.WorkerCount < 1 {
		config.WorkerCount = 1
	}
	if config.QueueSize < 1 {
		config.QueueSize = 1
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 1
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(parent)

	return &Pool{
		config: config,
		jobs:   make(chan *Job, config.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		log:    log.WithField("component", "pool"),
	}
}

// Start initializes and starts the worker pool
func (p *Pool) Start() {
	p.logf("Starting worker pool with %d workers", p.config.WorkerCount)

	for i := 0; i < p.config.WorkerCount; i++ {
		p.workers.Add(1)
		go p.worker(i)
	}
}

// Submit queues a job, blocking while the queue is full
func (p *Pool) Submit(job *Job) error {
	p.stopMutex.Lock()
	if p.stopped {
		p.stopMutex.Unlock()
		return ErrPoolStopped
	}
	p.pending.Add(1)
	p.stopMutex.Unlock()

	if job.MaxRetries == 0 {
		job.MaxRetries = p.config.MaxRetries
	}
	job.SetStatus(JobPending)
	atomic.AddInt64(&p.stats.TotalJobs, 1)

	select {
	case p.jobs <- job:
		p.logf("Job %s submitted: %s", job.ID, job.Description)
		return nil
	case <-p.ctx.Done():
		p.pending.Done()
		return ErrPoolStopped
	}
}

// Wait blocks until every submitted job has finished
func (p *Pool) Wait() {
	p.pending.Wait()
}

// Stop gracefully shuts down the worker pool after queued jobs drain
func (p *Pool) Stop() {
	p.stopMutex.Lock()
	if p.stopped {
		p.stopMutex.Unlock()
		return
	}
	p.stopped = true
	p.stopMutex.Unlock()

	p.logf("Stopping worker pool...")

	close(p.jobs)
	p.workers.Wait()
	p.cancel()

	p.logf("Worker pool stopped")
}

// GetStats returns a copy of current statistics
func (p *Pool) GetStats() Stats {
	return Stats{
		TotalJobs:     atomic.LoadInt64(&p.stats.TotalJobs),
		CompletedJobs: atomic.LoadInt64(&p.stats.CompletedJobs),
		FailedJobs:    atomic.LoadInt64(&p.stats.FailedJobs),
		RetryJobs:     atomic.LoadInt64(&p.stats.RetryJobs),
		ActiveJobs:    atomic.LoadInt64(&p.stats.ActiveJobs),
	}
}

// worker is the main worker goroutine that processes jobs
func (p *Pool) worker(id int) {
	defer p.workers.Done()
	p.logf("Worker %d started", id)

	for job := range p.jobs {
		p.processJob(job, id)
	}

	p.logf("Worker %d stopping - job channel closed", id)
}

// processJob executes a single job, retrying in place while Retryable allows
func (p *Pool) processJob(job *Job, workerID int) {
	defer p.pending.Done()

	atomic.AddInt64(&p.stats.ActiveJobs, 1)
	defer atomic.AddInt64(&p.stats.ActiveJobs, -1)

	for {
		job.SetStatus(JobRunning)
		job.Attempts++

		p.logf("Worker %d executing job %s (attempt %d): %s",
			workerID, job.ID, job.Attempts, job.Description)

		err := job.Execute(p.ctx)
		if err == nil {
			job.SetStatus(JobCompleted)
			atomic.AddInt64(&p.stats.CompletedJobs, 1)
			p.logf("Worker %d completed job %s", workerID, job.ID)
			job.done(nil)
			return
		}

		job.SetError(err)
		p.logf("Worker %d job %s failed (attempt %d): %v", workerID, job.ID, job.Attempts, err)

		hint, retry := time.Duration(0), false
		if job.Retryable != nil {
			hint, retry = job.Retryable(err)
		}

		if !retry || job.Attempts >= job.MaxRetries || p.ctx.Err() != nil {
			job.SetStatus(JobFailed)
			atomic.AddInt64(&p.stats.FailedJobs, 1)
			job.done(err)
			return
		}

		job.SetStatus(JobRetrying)
		atomic.AddInt64(&p.stats.RetryJobs, 1)

		delay := p.calculateRetryDelay(job.Attempts)
		if hint > delay {
			delay = hint
		}
		if delay > p.config.MaxRetryDelay && p.config.MaxRetryDelay > 0 {
			delay = p.config.MaxRetryDelay
		}

		p.logf("Scheduling retry for job %s in %v", job.ID, delay)
		if job.OnRetry != nil {
			job.OnRetry(job.Attempts, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-p.ctx.Done():
			timer.Stop()
			job.SetStatus(JobFailed)
			atomic.AddInt64(&p.stats.FailedJobs, 1)
			job.done(err)
			return
		}
	}
}

// calculateRetryDelay calculates delay with exponential backoff
func (p *Pool) calculateRetryDelay(attempt int) time.Duration {
	delay := float64(p.config.RetryDelay)
	for i := 1; i < attempt; i++ {
		delay *= p.config.BackoffFactor
	}

	result := time.Duration(delay)
	if p.config.MaxRetryDelay > 0 && result > p.config.MaxRetryDelay {
		result = p.config.MaxRetryDelay
	}

	return result
}

// logf logs a message if verbose logging is enabled
func (p *Pool) logf(format string, args ...interface{}) {
	if p.config.LogVerbose {
		p.log.Debugf(format, args...)
	}
}
