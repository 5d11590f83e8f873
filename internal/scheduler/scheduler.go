// Package scheduler runs named periodic jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"gameclaim/internal/metrics"
)

// ErrUnknownJob is returned for a job name that was never added.
var ErrUnknownJob = errors.New("unknown job")

// Func is one run of a job.
type Func func(ctx context.Context) error

// Job describes a periodic task.
type Job struct {
	Name       string
	Interval   time.Duration
	RunOnStart bool
	Run        Func
}

// Status is a point-in-time view of a job.
type Status struct {
	Name      string        `json:"name"`
	Interval  time.Duration `json:"interval_ns"`
	Running   bool          `json:"running"`
	Busy      bool          `json:"busy"`
	Runs      int64         `json:"runs"`
	Failures  int64         `json:"failures"`
	LastRun   time.Time     `json:"last_run,omitzero"`
	LastError string        `json:"last_error,omitempty"`
}

type job struct {
	Job

	cancel context.CancelFunc
	done   chan struct{}

	busy     bool
	runs     int64
	failures int64
	lastRun  time.Time
	lastErr  string
}

// Scheduler owns a set of named jobs. Each started job runs in its own
// goroutine; runs of the same job never overlap.
type Scheduler struct {
	metrics *metrics.Metrics
	log     *slog.Logger

	mu   sync.Mutex
	jobs map[string]*job
}

// New creates an empty Scheduler.
func New(m *metrics.Metrics, log *slog.Logger) *Scheduler {
	return &Scheduler{
		metrics: m,
		log:     log,
		jobs:    make(map[string]*job),
	}
}

// Add registers a job. Adding a name twice replaces the definition of a
// stopped job and fails for a running one.
func (s *Scheduler) Add(j Job) error {
	if j.Name == "" || j.Run == nil {
		return errors.New("job needs a name and a run func")
	}
	if j.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", j.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.jobs[j.Name]; ok && cur.cancel != nil {
		return fmt.Errorf("job %s is running", j.Name)
	}
	s.jobs[j.Name] = &job{Job: j}
	return nil
}

// Start launches every added job that is not already running. Calling it
// again is a no-op for running jobs.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.cancel != nil {
			continue
		}
		jctx, cancel := context.WithCancel(ctx)
		j.cancel = cancel
		j.done = make(chan struct{})
		go s.loop(jctx, j)
		s.log.Info("job started", "job", j.Name, "interval", j.Interval)
	}
}

// Stop cancels one job and waits for its in-flight run to finish.
func (s *Scheduler) Stop(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("stop %s: %w", name, ErrUnknownJob)
	}
	cancel, done := j.cancel, j.done
	j.cancel, j.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	s.log.Info("job stopped", "job", name)
	return nil
}

// StopAll cancels every job and waits for all in-flight runs.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Stop(name)
		}()
	}
	wg.Wait()
}

// Status returns a snapshot of all jobs sorted by name.
func (s *Scheduler) Status() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, Status{
			Name:      j.Name,
			Interval:  j.Interval,
			Running:   j.cancel != nil,
			Busy:      j.busy,
			Runs:      j.runs,
			Failures:  j.failures,
			LastRun:   j.lastRun,
			LastError: j.lastErr,
		})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// RunNow executes a job once in the caller's goroutine.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("run %s: %w", name, ErrUnknownJob)
	}
	return s.runOnce(ctx, j)
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	defer close(j.done)

	if j.RunOnStart {
		_ = s.runOnce(ctx, j)
	}

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.runOnce(ctx, j)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, j *job) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.mu.Lock()
	if j.busy {
		s.mu.Unlock()
		s.log.Debug("job still running, skipping tick", "job", j.Name)
		return nil
	}
	j.busy = true
	s.mu.Unlock()

	start := time.Now()
	err := j.Run(ctx)
	elapsed := time.Since(start)
	s.metrics.ObserveCycle(j.Name, elapsed)

	s.mu.Lock()
	j.busy = false
	j.runs++
	j.lastRun = start.UTC()
	j.lastErr = ""
	if err != nil {
		j.failures++
		j.lastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error("job run", "job", j.Name, "duration", elapsed, "error", err)
		return err
	}
	s.log.Debug("job run", "job", j.Name, "duration", elapsed)
	return nil
}
