// Package dirsync wires the account store and the external directory into
// reconciliation, conversion and deletion jobs.
package dirsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/cuongbtq/dirsync/internal/account"
	"github.com/cuongbtq/dirsync/internal/directory"
	"github.com/cuongbtq/dirsync/internal/job"
	"github.com/cuongbtq/dirsync/internal/mapping"
	"github.com/cuongbtq/dirsync/internal/metrics"
	"github.com/cuongbtq/dirsync/internal/reconcile"
)

// Store names used in job kinds and messages
const (
	SideAccount   = "account"
	SideDirectory = "directory"
)

// ChangeTag groups the jobs scheduled by local account changes
const ChangeTag = "account-changes"

// ErrUnknownSide is returned when a delete names neither store
var ErrUnknownSide = errors.New("unknown side")

// AccountStore is the account storage used by sync jobs
type AccountStore interface {
	reconcile.Store[*account.Account]
	FindByUsername(ctx context.Context, username string) (*account.Account, error)
}

// DirectoryStore is the external directory used by sync jobs
type DirectoryStore interface {
	reconcile.Store[*directory.Entry]
	FindByLogin(ctx context.Context, login string) (*directory.Entry, error)
}

// Dependencies holds everything the sync jobs need
type Dependencies struct {
	Accounts  AccountStore
	Directory DirectoryStore
	Converter *mapping.Converter
	Scheduler job.Scheduler
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	RetryBudget int
	Strict      bool

	ProtectedAccountFields   []string
	ProtectedDirectoryFields []string
}

// Service registers every sync job kind and schedules batches
type Service struct {
	toAccount   *reconcile.Side[*directory.Entry, *account.Account]
	toDirectory *reconcile.Side[*account.Account, *directory.Entry]
	deletes     map[string]*reconcile.DeleteSide
	reconciler  *reconcile.Reconciler[*account.Account, *directory.Entry]

	scheduler   job.Scheduler
	metrics     *metrics.Metrics
	logger      *slog.Logger
	retryBudget int
	strict      bool
}

// NewService creates a new Service instance
func NewService(deps *Dependencies) *Service {
	s := &Service{
		scheduler:   deps.Scheduler,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		retryBudget: deps.RetryBudget,
		strict:      deps.Strict,
	}

	toAccount := deps.Converter.EntryToAccount()
	toDirectory := deps.Converter.AccountToEntry()

	// identity fields are protected whatever the configuration adds
	protectedAccount := withIdentity(mapping.IdentityAttributes(), deps.ProtectedAccountFields)
	protectedDirectory := withIdentity(mapping.IdentityFields(), deps.ProtectedDirectoryFields)

	s.toAccount = &reconcile.Side[*directory.Entry, *account.Account]{
		SourceName: SideDirectory,
		TargetName: SideAccount,
		Source:     deps.Directory,
		Target:     deps.Accounts,
		Converter:  toAccount,
		Protected:  protectedAccount,
		PreSave:    reconcile.IdentityGuard[*account.Account](account.FieldUsername, deps.Accounts.FindByUsername),
		PostSave:   s.postSave,
		Problem:    s.problem,
		Logger:     deps.Logger,
	}

	s.toDirectory = &reconcile.Side[*account.Account, *directory.Entry]{
		SourceName: SideAccount,
		TargetName: SideDirectory,
		Source:     deps.Accounts,
		Target:     deps.Directory,
		Converter:  toDirectory,
		Protected:  protectedDirectory,
		PreSave:    reconcile.IdentityGuard[*directory.Entry](directory.FieldLogin, deps.Directory.FindByLogin),
		PostSave:   s.postSave,
		Problem:    s.problem,
		Logger:     deps.Logger,
	}

	s.deletes = map[string]*reconcile.DeleteSide{
		SideAccount:   {Name: SideAccount, Store: deps.Accounts, PostSave: s.postSave},
		SideDirectory: {Name: SideDirectory, Store: deps.Directory, PostSave: s.postSave},
	}

	s.reconciler = &reconcile.Reconciler[*account.Account, *directory.Entry]{
		Left:        deps.Accounts,
		Right:       deps.Directory,
		Scheduler:   deps.Scheduler,
		Child:       s.child,
		InSync:      reconcile.ConvergenceCheck(toAccount, toDirectory, protectedAccount, protectedDirectory),
		RetryBudget: deps.RetryBudget,
		Observe:     s.observe,
		Logger:      deps.Logger,
	}

	return s
}

// withIdentity returns identity followed by the extra names it lacks
func withIdentity(identity, extra []string) []string {
	out := append([]string{}, identity...)
	for _, name := range extra {
		if !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	return out
}

// Register binds every sync job kind to its factory
func (s *Service) Register(reg *job.Registry) {
	for _, mode := range []reconcile.Mode{reconcile.ModeCreate, reconcile.ModeUpdate, reconcile.ModeCreateOrUpdate} {
		reg.Register(s.toAccount.Kind(mode), s.toAccount.Factory(mode))
		reg.Register(s.toDirectory.Kind(mode), s.toDirectory.Factory(mode))
	}
	for _, d := range s.deletes {
		reg.Register(d.Kind(), d.Factory())
	}
	reg.Register(reconcile.KindReconciliation, s.reconciler.Factory())
}

// NewTag returns a fresh batch tag
func NewTag(now time.Time) string {
	return "sync-" + now.UTC().Format("20060102T150405.000")
}

// Trigger schedules one reconciliation per filter under tag. Several filters
// are wrapped in a cooperative list so the batch has a single entry job.
func (s *Service) Trigger(ctx context.Context, tag string, patterns []string) (*job.Job, error) {
	if len(patterns) == 0 {
		patterns = []string{""}
	}

	children := make([]*job.Job, 0, len(patterns))
	for _, pattern := range patterns {
		filter, err := reconcile.NewKeyFilter(pattern)
		if err != nil {
			return nil, err
		}
		children = append(children, job.New(tag, s.reconciler.NewReconciliation(filter), job.WithRetryBudget(s.retryBudget)))
	}

	entry := children[0]
	if len(children) > 1 {
		entry = job.New(tag, job.NewList(false, children...), job.WithRetryBudget(s.retryBudget))
	}

	if err := s.scheduler.Cast(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to schedule reconciliation: %w", err)
	}

	s.logger.Info("Reconciliation triggered",
		slog.String("job_id", entry.ID()),
		slog.String("tag", tag),
		slog.Int("filters", len(children)),
	)
	return entry, nil
}

// ScheduleDelete schedules the deletion of key from side
func (s *Service) ScheduleDelete(ctx context.Context, tag, side, key string) (*job.Job, error) {
	d, ok := s.deletes[side]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSide, side)
	}

	j := job.New(tag, d.NewDeletion(key), job.WithRetryBudget(s.retryBudget))
	if err := s.scheduler.Cast(ctx, j); err != nil {
		return nil, fmt.Errorf("failed to schedule deletion: %w", err)
	}
	return j, nil
}

// AccountChanged schedules pushing a locally changed account to the directory
func (s *Service) AccountChanged(ctx context.Context, key string) {
	j := job.New(ChangeTag, s.toDirectory.NewConversion(key, reconcile.ModeCreateOrUpdate, s.strict), job.WithRetryBudget(s.retryBudget))
	if err := s.scheduler.Cast(ctx, j); err != nil {
		s.logger.Error("Failed to schedule directory update for changed account",
			slog.String("email", key),
			slog.String("error", err.Error()),
		)
		return
	}

	s.metrics.ObserveNotification()
	s.logger.Info("Directory update scheduled for changed account",
		slog.String("email", key),
		slog.String("job_id", j.ID()),
	)
}

// ObserveJob feeds executor invocations into the job metrics
func (s *Service) ObserveJob(j *job.Job, elapsed time.Duration) {
	s.metrics.ObserveJob(j.Kind(), string(j.Status()), elapsed)
}

// child maps a reconciliation action onto its conversion job
func (s *Service) child(a reconcile.Action) (job.Behavior, error) {
	switch a.Kind {
	case reconcile.UpdateLeft:
		return s.toAccount.NewConversion(a.Key, reconcile.ModeUpdate, s.strict), nil
	case reconcile.CreateLeft:
		return s.toAccount.NewConversion(a.Key, reconcile.ModeCreate, s.strict), nil
	case reconcile.UpdateRight:
		return s.toDirectory.NewConversion(a.Key, reconcile.ModeUpdate, s.strict), nil
	case reconcile.CreateRight:
		return s.toDirectory.NewConversion(a.Key, reconcile.ModeCreate, s.strict), nil
	default:
		return nil, fmt.Errorf("unknown action kind %q", a.Kind)
	}
}

func (s *Service) observe(a reconcile.Action) {
	s.metrics.ObserveScheduled(string(a.Kind))
}

func (s *Service) problem(kind string, p reconcile.Problem) {
	s.metrics.ObserveProblem(kind, reconcile.ProblemKind(p))
}

func (s *Service) postSave(_ context.Context, o reconcile.SaveOutcome) {
	outcome := metrics.OutcomeSkipped
	switch {
	case o.Err != nil:
		outcome = metrics.OutcomeFailed
	case o.Saved:
		outcome = metrics.OutcomeSaved
	}

	s.metrics.ObserveSave(o.Kind, outcome)
	s.logger.Debug("Save attempt finished",
		slog.String("kind", o.Kind),
		slog.String("key", o.Key),
		slog.String("outcome", outcome),
	)
}
