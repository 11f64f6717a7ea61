package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/dirsync/internal/account"
	"github.com/cuongbtq/dirsync/internal/api/dto"
	"github.com/cuongbtq/dirsync/internal/executor"
	"github.com/cuongbtq/dirsync/internal/job"
)

// Syncer schedules reconciliation batches and deletions
type Syncer interface {
	Trigger(ctx context.Context, tag string, patterns []string) (*job.Job, error)
	ScheduleDelete(ctx context.Context, tag, side, key string) (*job.Job, error)
}

// JobStore reads persisted jobs
type JobStore interface {
	job.Executor
	Get(ctx context.Context, id string) (*job.Job, error)
	List(ctx context.Context, filter executor.Filter) ([]*job.Job, error)
}

// AccountStore writes local accounts
type AccountStore interface {
	LoadByKey(ctx context.Context, key string) (*account.Account, error)
	Create(ctx context.Context, a *account.Account) error
	Update(ctx context.Context, a *account.Account) error
}

// HealthCheck reports whether one backing service is reachable
type HealthCheck func(ctx context.Context) error

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger         *slog.Logger
	ServiceName    string
	Sync           Syncer
	Jobs           JobStore
	Accounts       AccountStore
	DefaultFilters []string
	Metrics        http.Handler
	HealthChecks   map[string]HealthCheck
}

// JobHandler serves job details, listings and tag progress
type JobHandler struct {
	logger *slog.Logger
	jobs   JobStore
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		jobs:   deps.Jobs,
	}
}

// SyncHandler schedules sync work and records local account changes
type SyncHandler struct {
	logger         *slog.Logger
	sync           Syncer
	accounts       AccountStore
	defaultFilters []string
}

// NewSyncHandler creates a new SyncHandler instance
func NewSyncHandler(deps *Dependencies) *SyncHandler {
	return &SyncHandler{
		logger:         deps.Logger,
		sync:           deps.Sync,
		accounts:       deps.Accounts,
		defaultFilters: deps.DefaultFilters,
	}
}

func scheduled(j *job.Job) dto.ScheduledResponse {
	return dto.ScheduledResponse{
		JobID:  j.ID(),
		Tag:    j.Tag(),
		Kind:   j.Kind(),
		Status: string(j.Status()),
	}
}
