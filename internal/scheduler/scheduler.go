// Package scheduler is the Download Scheduler: a FIFO queue, a
// bounded-parallel worker pool, per-job lifecycle tracking, cancellation,
// and a rate-limited consolidated progress view. Ported from the teacher's
// internal/downloader/manager.go + worker.go, generalized from a
// GORM-backed Download task to an in-memory DownloadJob with a closure
// run_fn, per spec.md §4.4/§9.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Scheduler is the single process-wide instance described in spec.md
// §4.4: a FIFO queue of pending jobs, a set of at-most-P running jobs, a
// bounded LRU of terminal jobs, and a background driver loop that admits
// a pending job whenever a permit is free. Admission uses
// golang.org/x/sync/semaphore.Weighted rather than the teacher's bare
// worker-count channel (see internal/downloader/manager.go's
// m.queue/m.workers), since the scheduler has no fixed worker goroutines
// to route jobs through -- each admitted job gets its own goroutine,
// bounded only by the semaphore's weight.
type Scheduler struct {
	mu      sync.Mutex
	queue   *queue
	lru     *terminalLRU
	running map[string]*DownloadJob

	permits     *semaphore.Weighted
	parallelism int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger     *slog.Logger
	aggregator *Aggregator

	arrivals chan struct{}
}

// New builds a Scheduler bounded to parallelism concurrently-running jobs
// and starts its driver loop. Stop must be called to release resources.
func New(parallelism int, logger *slog.Logger) *Scheduler {
	if parallelism < 1 {
		parallelism = 2
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		queue:       newQueue(),
		lru:         newTerminalLRU(50),
		running:     make(map[string]*DownloadJob),
		permits:     semaphore.NewWeighted(int64(parallelism)),
		parallelism: int64(parallelism),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.With("component", "scheduler"),
		aggregator:  NewAggregator(),
		arrivals:    make(chan struct{}, 1),
	}

	s.wg.Add(1)
	go s.driverLoop()
	return s
}

// Aggregator exposes the unified progress view owned by this scheduler.
func (s *Scheduler) Aggregator() *Aggregator { return s.aggregator }

// Submit appends a job to the FIFO in arrival order and returns
// immediately, per spec.md's submit(name, run_fn, ...) -> job_id.
// Rejects the submission (invariant I4) if a job for the same
// (title, unit) is already pending or running.
func (s *Scheduler) Submit(title TitleRef, unit UnitRef, runFn RunFunc) (string, error) {
	j := &DownloadJob{
		ID:        uuid.New().String(),
		Title:     title,
		Unit:      unit,
		Status:    StatusPending,
		CreatedAt: time.Now(),
		runFn:     runFn,
	}

	s.mu.Lock()
	err := s.queue.push(j)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	s.logger.Debug("job submitted", "job_id", j.ID, "title", title.Name, "key", j.Key())
	s.notify()
	return j.ID, nil
}

// Cancel transitions a still-pending job to cancelled without invoking
// run_fn, succeeding iff it was pending. For a running job it instead
// flips the cooperative cancel-requested flag the progress sink exposes
// to run_fn, and returns false -- per spec.md, running jobs "cannot be
// forcibly cancelled through this interface."
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.queue.removePending(id); ok {
		now := time.Now()
		j.Status = StatusCancelled
		j.CompletedAt = &now
		s.lru.add(j)
		s.aggregator.complete(j.Snapshot())
		return true
	}

	if j, ok := s.running[id]; ok {
		j.cancelRequested = true
	}
	return false
}

// Status returns a snapshot of the job with the given ID, searching
// running jobs, the pending queue, and the terminal LRU in that order.
func (s *Scheduler) Status(id string) (DownloadJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.running[id]; ok {
		return j.Snapshot(), true
	}
	for _, j := range s.queue.pending {
		if j.ID == id {
			return j.Snapshot(), true
		}
	}
	if j, ok := s.lru.get(id); ok {
		return j.Snapshot(), true
	}
	return DownloadJob{}, false
}

// Overview is the scheduler-wide summary spec.md's overview() returns.
type Overview struct {
	PendingCount   int
	RunningCount   int
	CompletedCount int
	Running        []DownloadJob
}

func (s *Scheduler) Overview() Overview {
	s.mu.Lock()
	defer s.mu.Unlock()

	running := make([]DownloadJob, 0, len(s.running))
	for _, j := range s.running {
		running = append(running, j.Snapshot())
	}
	completed := 0
	for _, j := range s.lru.recent(0) {
		if j.Status == StatusCompleted {
			completed++
		}
	}
	return Overview{
		PendingCount:   s.queue.len(),
		RunningCount:   len(s.running),
		CompletedCount: completed,
		Running:        running,
	}
}

// Stop cancels the driver loop and waits for all running jobs to finish
// releasing their permits. Running jobs are not forcibly killed; Stop
// blocks until each run_fn returns naturally or observes its
// cancel-requested flag.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) notify() {
	select {
	case s.arrivals <- struct{}{}:
	default:
	}
}

// driverLoop wakes on queue arrivals and job completions (both signalled
// through arrivals) and admits as many pending jobs as permits allow.
func (s *Scheduler) driverLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.arrivals:
		}
		s.admitReady()
	}
}

func (s *Scheduler) admitReady() {
	for {
		if s.ctx.Err() != nil {
			return
		}
		if !s.permits.TryAcquire(1) {
			return
		}

		s.mu.Lock()
		j, ok := s.queue.pop()
		s.mu.Unlock()
		if !ok {
			s.permits.Release(1)
			return
		}

		s.mu.Lock()
		now := time.Now()
		j.Status = StatusRunning
		j.StartedAt = &now
		s.running[j.ID] = j
		s.mu.Unlock()

		s.aggregator.update(j.Snapshot())

		s.wg.Add(1)
		go s.runJob(j)
	}
}

// runJob executes j.runFn under the permit acquired by admitReady. A
// panic from run_fn is recovered and recorded as an ordinary failure, per
// spec.md's "a panic/fatal signal from the backend process is treated as
// an ordinary failure" -- the scheduler always releases the permit and
// always moves the job to a terminal state.
func (s *Scheduler) runJob(j *DownloadJob) {
	defer s.wg.Done()
	defer s.permits.Release(1)

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("panic in run_fn: %v", r)
			}
		}()
		runErr = j.runFn(func(fraction float64) bool {
			s.mu.Lock()
			j.Progress = fraction
			cancelled := j.cancelRequested
			s.mu.Unlock()
			s.aggregator.update(j.Snapshot())
			return cancelled
		})
	}()

	now := time.Now()
	s.mu.Lock()
	delete(s.running, j.ID)
	s.queue.markDone(j)
	j.CompletedAt = &now
	switch {
	case runErr != nil:
		j.Status = StatusFailed
		j.Error = runErr.Error()
	default:
		j.Status = StatusCompleted
		j.Progress = 1
	}
	s.lru.add(j)
	s.mu.Unlock()

	if runErr != nil {
		s.logger.Warn("job failed", "job_id", j.ID, "title", j.Title.Name, "error", runErr)
	} else {
		s.logger.Info("job completed", "job_id", j.ID, "title", j.Title.Name)
	}

	s.aggregator.complete(j.Snapshot())
	s.notify()
}
