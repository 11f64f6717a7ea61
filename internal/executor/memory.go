package executor

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/dirsync/internal/job"
)

// Memory is an in-process Executor. Jobs are kept as live values, so no
// registry round trip happens between invocations.
type Memory struct {
	mu       sync.Mutex
	jobs     map[string]*job.Job
	order    []string
	observer Observer
	logger   *slog.Logger
}

var _ job.Executor = (*Memory)(nil)

// NewMemory creates an empty in-memory executor
func NewMemory(logger *slog.Logger) *Memory {
	return &Memory{
		jobs:   make(map[string]*job.Job),
		logger: logger,
	}
}

// OnCall registers an observer for every invocation
func (m *Memory) OnCall(obs Observer) {
	m.observer = obs
}

// Cast stores j; it runs on a later Select and Call
func (m *Memory) Cast(ctx context.Context, j *job.Job) error {
	return m.Save(ctx, j)
}

// Save stores j, keeping its original position in the queue
func (m *Memory) Save(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[j.ID()]; !ok {
		m.order = append(m.order, j.ID())
	}
	m.jobs[j.ID()] = j
	return nil
}

// Select claims the oldest runnable job of tag
func (m *Memory) Select(_ context.Context, tag string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.order {
		j := m.jobs[id]
		if j.Tag() != tag || !j.Status().Runnable() {
			continue
		}
		if err := j.Transition(job.StatusSelected); err != nil {
			return nil, err
		}
		return j, nil
	}
	return nil, nil
}

// Claim moves the idle job with id to selected
func (m *Memory) Claim(_ context.Context, id string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok || !j.Status().Runnable() {
		return nil, ErrJobAlreadyClaimed
	}
	if err := j.Transition(job.StatusSelected); err != nil {
		return nil, err
	}
	return j, nil
}

// Call runs j once and requeues it when rescheduled
func (m *Memory) Call(ctx context.Context, j *job.Job) error {
	start := time.Now()
	if err := job.Run(ctx, j, m.logger); err != nil {
		return err
	}
	if m.observer != nil {
		m.observer(j, time.Since(start))
	}

	if j.Status() == job.StatusRescheduled {
		if err := j.Requeue(); err != nil {
			return err
		}
	}
	return m.Save(ctx, j)
}

// CountJobs counts the jobs of tag in any of statuses
func (m *Memory) CountJobs(_ context.Context, tag string, statuses ...job.Status) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, j := range m.jobs {
		if j.Tag() == tag && matchStatus(j.Status(), statuses) {
			count++
		}
	}
	return count, nil
}

// Get returns the job with id
func (m *Memory) Get(_ context.Context, id string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, job.ErrJobNotFound
	}
	return j, nil
}

// List returns one page of jobs matching filter plus one extra job when
// more pages follow
func (m *Memory) List(_ context.Context, filter Filter) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*job.Job
	for _, j := range m.jobs {
		if filter.Tag != "" && j.Tag() != filter.Tag {
			continue
		}
		if filter.Status != "" && j.Status() != filter.Status {
			continue
		}
		if !filter.Cursor.after(j) {
			continue
		}
		out = append(out, j)
	}

	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt().Equal(out[b].CreatedAt()) {
			return out[a].CreatedAt().After(out[b].CreatedAt())
		}
		return out[a].ID() > out[b].ID()
	})

	if filter.PageSize > 0 && len(out) > filter.PageSize+1 {
		out = out[:filter.PageSize+1]
	}
	return out, nil
}

func matchStatus(s job.Status, statuses []job.Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, want := range statuses {
		if s == want {
			return true
		}
	}
	return false
}
