// Package scheduler is the shared cron scheduler for background jobs that
// run outside the Automator's own cooperative loop; the one job wired
// here is the periodic detailed hardware status poll. It does not touch
// the command queues directly; it calls into the Automator the same way
// an operator-issued command would. The buffer-inventory integrator is
// not a job here: pumpengine.Engine runs it on its own ticker.
package scheduler

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a one-time job.
type JobStatus int

const (
	JobStatusPending   JobStatus = 1
	JobStatusRunning   JobStatus = 2
	JobStatusCompleted JobStatus = 3
	JobStatusFailed    JobStatus = 4
)

// JobProgress tracks run counters and the last error for a recurring or
// one-time job. Methods are safe for concurrent use.
type JobProgress struct {
	mu          sync.RWMutex
	Status      JobStatus
	RunCount    int64
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
}

// MarkRunning transitions the job to Running and bumps the run counter.
func (p *JobProgress) MarkRunning() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Status = JobStatusRunning
	p.RunCount++
}

// Complete transitions the job to Completed.
func (p *JobProgress) Complete(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Status = JobStatusCompleted
	p.CompletedAt = now
}

// Fail transitions the job to Failed with an error message.
func (p *JobProgress) Fail(now time.Time, err string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Status = JobStatusFailed
	p.Error = err
	p.CompletedAt = now
}

// Snapshot returns a read-consistent copy.
func (p *JobProgress) Snapshot() JobProgress {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return JobProgress{
		Status:      p.Status,
		RunCount:    p.RunCount,
		Error:       p.Error,
		StartedAt:   p.StartedAt,
		CompletedAt: p.CompletedAt,
	}
}

// JobInfo describes a registered job for external inspection (e.g. the
// operator console's "stats" view).
type JobInfo struct {
	ID          string
	Name        string
	Description string
	Schedule    string // cron expression, or "once" for one-time jobs
	LastRun     time.Time
	NextRun     time.Time
	Progress    *JobProgress
}

// cronEntry remembers a cron job's definition so it can be re-registered
// when the scheduler is rebuilt (e.g. to change the concurrency limit).
type cronEntry struct {
	name string
	cron string
	taskFn any
	args   []any
}

// Scheduler is the process-wide cron scheduler. The full-status poller
// registers its job here rather than running its own timer.
type Scheduler struct {
	mu            sync.Mutex
	scheduler     gocron.Scheduler
	jobs          map[string]gocron.Job
	schedules     map[string]string
	descriptions  map[string]string
	cronEntries   map[string]cronEntry
	progress      map[string]*JobProgress
	completed     map[string]JobInfo
	maxConcurrent int
	now           func() time.Time
	logger        *slog.Logger
}

// New constructs and starts a Scheduler. maxConcurrent bounds how many jobs
// may run at once; non-positive values fall back to 4.
func New(logger *slog.Logger, maxConcurrent int, now func() time.Time) (*Scheduler, error) {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	if now == nil {
		now = time.Now
	}
	s, err := gocron.NewScheduler(
		gocron.WithLimitConcurrentJobs(uint(maxConcurrent), gocron.LimitModeWait),
	)
	if err != nil {
		return nil, fmt.Errorf("create cron scheduler: %w", err)
	}
	sched := &Scheduler{
		scheduler:     s,
		jobs:          make(map[string]gocron.Job),
		schedules:     make(map[string]string),
		descriptions:  make(map[string]string),
		cronEntries:   make(map[string]cronEntry),
		progress:      make(map[string]*JobProgress),
		completed:     make(map[string]JobInfo),
		maxConcurrent: maxConcurrent,
		now:           now,
		logger:        logger,
	}
	s.Start()
	return sched, nil
}

// MaxConcurrent returns the current concurrency limit.
func (s *Scheduler) MaxConcurrent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxConcurrent
}

// Rebuild recreates the underlying gocron scheduler with a new concurrency
// limit, re-registering all cron jobs. One-time jobs are not preserved.
func (s *Scheduler) Rebuild(maxConcurrent int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}

	if err := s.scheduler.Shutdown(); err != nil {
		s.logger.Warn("error shutting down old scheduler during rebuild", "error", err)
	}

	gs, err := gocron.NewScheduler(
		gocron.WithLimitConcurrentJobs(uint(maxConcurrent), gocron.LimitModeWait),
	)
	if err != nil {
		return fmt.Errorf("rebuild scheduler: %w", err)
	}

	s.scheduler = gs
	s.maxConcurrent = maxConcurrent
	s.jobs = make(map[string]gocron.Job, len(s.cronEntries))
	s.schedules = make(map[string]string, len(s.cronEntries))
	oldDescs := s.descriptions
	s.descriptions = make(map[string]string, len(s.cronEntries))

	for _, entry := range s.cronEntries {
		j, err := gs.NewJob(
			gocron.CronJob(entry.cron, true),
			gocron.NewTask(entry.taskFn, entry.args...),
			gocron.WithName(entry.name),
		)
		if err != nil {
			s.logger.Error("failed to re-register job during rebuild", "name", entry.name, "error", err)
			continue
		}
		s.jobs[entry.name] = j
		s.schedules[entry.name] = entry.cron
		if desc, ok := oldDescs[entry.name]; ok {
			s.descriptions[entry.name] = desc
		}
	}

	gs.Start()
	s.logger.Info("scheduler rebuilt", "maxConcurrent", maxConcurrent, "jobs", len(s.jobs))
	return nil
}

// AddJob registers a named cron job. The name must be unique.
func (s *Scheduler) AddJob(name, cronExpr string, taskFn any, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("scheduled job already exists: %s", name)
	}

	j, err := s.scheduler.NewJob(
		gocron.CronJob(cronExpr, true),
		gocron.NewTask(taskFn, args...),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("create scheduled job %s: %w", name, err)
	}

	s.jobs[name] = j
	s.schedules[name] = cronExpr
	s.cronEntries[name] = cronEntry{name: name, cron: cronExpr, taskFn: taskFn, args: args}
	s.logger.Info("scheduled job added", "name", name, "cron", cronExpr)
	return nil
}

// RemoveJob stops and removes a named job. No-op if the job doesn't exist.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[name]
	if !ok {
		return
	}
	if err := s.scheduler.RemoveJob(j.ID()); err != nil {
		s.logger.Warn("failed to remove scheduled job", "name", name, "error", err)
	}
	delete(s.jobs, name)
	delete(s.schedules, name)
	delete(s.descriptions, name)
	delete(s.cronEntries, name)
	s.logger.Info("scheduled job removed", "name", name)
}

// UpdateJob replaces a named job with a new schedule, creating it if absent.
func (s *Scheduler) UpdateJob(name, cronExpr string, taskFn any, args ...any) error {
	s.RemoveJob(name)
	return s.AddJob(name, cronExpr, taskFn, args...)
}

// HasJob returns true if a job with the given name exists.
func (s *Scheduler) HasJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[name]
	return ok
}

// Describe sets a human-readable description for a named job.
func (s *Scheduler) Describe(name, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.descriptions[name] = description
}

// ListJobs returns info about all registered cron and one-time jobs, plus
// recently completed one-time jobs retained for status polling.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cleanupCompletedLocked()

	infos := make([]JobInfo, 0, len(s.jobs)+len(s.completed))

	for name, j := range s.jobs {
		id := j.ID().String()
		info := JobInfo{
			ID:          id,
			Name:        name,
			Description: s.descriptions[name],
			Schedule:    s.schedules[name],
			Progress:    s.progress[id],
		}
		if lr, err := j.LastRun(); err == nil {
			info.LastRun = lr
		}
		if nr, err := j.NextRun(); err == nil {
			info.NextRun = nr
		}
		infos = append(infos, info)
	}

	for _, info := range s.completed {
		infos = append(infos, info)
	}

	slices.SortFunc(infos, func(a, b JobInfo) int {
		aScheduled := a.Schedule != "" && a.Schedule != "once"
		bScheduled := b.Schedule != "" && b.Schedule != "once"
		if aScheduled != bScheduled {
			if aScheduled {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.Name, b.Name)
	})

	return infos
}

// JobSchedule returns the cron expression for a named job, or "" if absent.
func (s *Scheduler) JobSchedule(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedules[name]
}

// Start is a no-op: the scheduler starts eagerly at creation time so that
// RunOnce/Submit jobs can execute without an explicit Start call.
func (s *Scheduler) Start() {}

// RunOnce schedules a one-time job that runs immediately.
func (s *Scheduler) RunOnce(name string, taskFn any, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.scheduler.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartImmediately()),
		gocron.NewTask(taskFn, args...),
		gocron.WithName(name),
		gocron.WithEventListeners(
			gocron.AfterJobRuns(func(_ uuid.UUID, jobName string) {
				s.completeOneTimeJob(jobName)
			}),
			gocron.AfterJobRunsWithError(func(_ uuid.UUID, jobName string, _ error) {
				s.completeOneTimeJob(jobName)
			}),
		),
	)
	if err != nil {
		return fmt.Errorf("create one-time job %s: %w", name, err)
	}

	s.jobs[name] = j
	s.schedules[name] = "once"
	s.logger.Info("one-time job scheduled", "name", name)
	return nil
}

// Submit schedules a one-time job with progress tracking. fn receives a
// context detached from the caller and a JobProgress to report into.
func (s *Scheduler) Submit(name string, fn func(context.Context, *JobProgress)) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	prog := &JobProgress{
		Status:    JobStatusPending,
		StartedAt: s.now(),
	}

	wrapper := func() {
		prog.MarkRunning()
		ctx := context.WithoutCancel(context.Background())
		fn(ctx, prog)
		prog.mu.RLock()
		status := prog.Status
		prog.mu.RUnlock()
		if status == JobStatusRunning {
			prog.Complete(s.now())
		}
		s.logger.Info("job finished", "name", name)
	}

	j, err := s.scheduler.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartImmediately()),
		gocron.NewTask(wrapper),
		gocron.WithName(name),
		gocron.WithEventListeners(
			gocron.AfterJobRuns(func(_ uuid.UUID, jobName string) {
				s.completeOneTimeJob(jobName)
			}),
			gocron.AfterJobRunsWithError(func(_ uuid.UUID, jobName string, _ error) {
				s.completeOneTimeJob(jobName)
			}),
		),
	)
	if err != nil {
		s.logger.Error("failed to schedule job", "name", name, "error", err)
		prog.Fail(s.now(), "failed to schedule: "+err.Error())
		failedID := uuid.Must(uuid.NewV7()).String()
		s.completed[failedID] = JobInfo{
			ID:          failedID,
			Name:        name,
			Description: s.descriptions[name],
			Schedule:    "once",
			Progress:    prog,
		}
		return failedID
	}

	id := j.ID().String()
	s.jobs[name] = j
	s.schedules[name] = "once"
	s.progress[id] = prog
	s.logger.Info("job submitted", "name", name, "id", id)
	return id
}

// completeOneTimeJob moves a finished one-time job from the active maps to
// the completed map so its progress remains available for polling.
func (s *Scheduler) completeOneTimeJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[name]
	if !ok {
		return
	}

	id := j.ID().String()
	info := JobInfo{
		ID:          id,
		Name:        name,
		Description: s.descriptions[name],
		Schedule:    "once",
		Progress:    s.progress[id],
	}
	if lr, err := j.LastRun(); err == nil {
		info.LastRun = lr
	}

	s.completed[id] = info
	delete(s.jobs, name)
	delete(s.schedules, name)
	delete(s.descriptions, name)
	delete(s.progress, id)
}

// cleanupCompletedLocked removes completed one-time jobs older than an hour.
// Must be called with s.mu held.
func (s *Scheduler) cleanupCompletedLocked() {
	cutoff := s.now().Add(-1 * time.Hour)
	for id, info := range s.completed {
		if info.Progress == nil {
			delete(s.completed, id)
			continue
		}
		snap := info.Progress.Snapshot()
		if !snap.CompletedAt.IsZero() && snap.CompletedAt.Before(cutoff) {
			delete(s.completed, id)
		}
	}
}

// Stop shuts down the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}
