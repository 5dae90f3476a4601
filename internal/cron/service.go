// Package cron schedules the recurring maintenance work: tier rebalancing,
// cleanup, scheduled profile snapshots and retention sweeps. Jobs are
// registered in code from config intervals; there is no user-defined job
// store.
package cron

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// Job is one named maintenance task. Run returns a short human-readable
// result for the log.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (string, error)
}

// JobStatus is the observable state of a registered job.
type JobStatus struct {
	Name       string        `json:"name"`
	Interval   time.Duration `json:"interval"`
	LastRunAt  time.Time     `json:"lastRunAt"`
	LastStatus string        `json:"lastStatus,omitempty"`
	LastError  string        `json:"lastError,omitempty"`
}

type jobState struct {
	job    Job
	status JobStatus
}

// Service wraps robfig/cron with named jobs and per-job run state. Register
// before Start; the set of jobs is fixed once the scheduler runs.
type Service struct {
	mu      sync.Mutex
	jobs    map[string]*jobState
	order   []string
	cron    *rcron.Cron
	entries map[string]rcron.EntryID
	runCtx  context.Context
	cancel  context.CancelFunc
	started bool
}

func NewService() *Service {
	return &Service{
		jobs:    make(map[string]*jobState),
		entries: make(map[string]rcron.EntryID),
	}
}

// Register adds a job. Interval must be at least a second, the floor of
// robfig's @every schedule.
func (s *Service) Register(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("register job: empty name")
	}
	if job.Run == nil {
		return fmt.Errorf("register job %s: nil run function", job.Name)
	}
	if job.Interval < time.Second {
		return fmt.Errorf("register job %s: interval %s below 1s", job.Name, job.Interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("register job %s: scheduler already started", job.Name)
	}
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("register job %s: duplicate name", job.Name)
	}
	s.jobs[job.Name] = &jobState{
		job:    job,
		status: JobStatus{Name: job.Name, Interval: job.Interval},
	}
	s.order = append(s.order, job.Name)
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.runCtx = runCtx
	s.cancel = cancel
	s.cron = rcron.New()

	for _, name := range s.order {
		st := s.jobs[name]
		expr := "@every " + st.job.Interval.String()
		entryID, err := s.cron.AddFunc(expr, func() { s.execute(st.job.Name) })
		if err != nil {
			cancel()
			return fmt.Errorf("schedule job %s (%s): %w", st.job.Name, expr, err)
		}
		s.entries[st.job.Name] = entryID
	}

	s.cron.Start()
	s.started = true
	log.Printf("[cron] started with %d jobs", len(s.jobs))
	return nil
}

func (s *Service) execute(name string) {
	s.mu.Lock()
	st, ok := s.jobs[name]
	if !ok || s.runCtx == nil {
		s.mu.Unlock()
		return
	}
	job := st.job
	ctx := s.runCtx
	s.mu.Unlock()

	result, err := job.Run(ctx)

	s.mu.Lock()
	st.status.LastRunAt = time.Now().UTC()
	if err != nil {
		st.status.LastStatus = "error"
		st.status.LastError = err.Error()
	} else {
		st.status.LastStatus = "ok"
		st.status.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		log.Printf("[cron] job %s error: %v", name, err)
		return
	}
	log.Printf("[cron] job %s: %s", name, truncate(result, 100))
}

// RunNow triggers a job outside its schedule and returns its result. The
// run is recorded in the job state like a scheduled one.
func (s *Service) RunNow(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	st, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("job %s not found", name)
	}

	result, err := st.job.Run(ctx)

	s.mu.Lock()
	st.status.LastRunAt = time.Now().UTC()
	if err != nil {
		st.status.LastStatus = "error"
		st.status.LastError = err.Error()
	} else {
		st.status.LastStatus = "ok"
		st.status.LastError = ""
	}
	s.mu.Unlock()
	return result, err
}

// Jobs returns the status of every registered job in registration order.
func (s *Service) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]JobStatus, 0, len(s.jobs))
	for _, name := range s.order {
		result = append(result, s.jobs[name].status)
	}
	return result
}

// Names returns the registered job names sorted alphabetically.
func (s *Service) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stop halts the schedule and waits up to five seconds for running jobs.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	c := s.cron
	s.cancel = nil
	s.cron = nil
	s.entries = make(map[string]rcron.EntryID)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c != nil {
		stopCtx := c.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(5 * time.Second):
			log.Printf("[cron] stop timeout waiting for running jobs")
		}
	}
	log.Printf("[cron] stopped")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
