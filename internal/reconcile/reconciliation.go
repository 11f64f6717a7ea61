package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/cuongbtq/dirsync/internal/job"
)

// KindReconciliation is the registry kind of Reconciliation
const KindReconciliation = "reconcile"

// ActionKind classifies what a reconciliation schedules for one key
type ActionKind string

// Action kinds. Left is the account store, right the external directory.
const (
	UpdateLeft  ActionKind = "update-left"
	UpdateRight ActionKind = "update-right"
	CreateLeft  ActionKind = "create-left"
	CreateRight ActionKind = "create-right"
)

// Action is one corrective job to schedule
type Action struct {
	Kind ActionKind
	Key  string
}

func (a Action) String() string {
	return fmt.Sprintf("%s(%s)", a.Kind, a.Key)
}

// Index maps records passing filter by normalized key. When a store returns
// two records for one key the most recently modified wins.
func Index[R Record](records []R, filter KeyFilter) map[string]R {
	idx := make(map[string]R, len(records))
	for _, rec := range records {
		key := NormalizeKey(rec.Key())
		if key == "" || !filter.Match(key) {
			continue
		}
		if prev, ok := idx[key]; ok && prev.ModifiedAt().After(rec.ModifiedAt()) {
			continue
		}
		idx[key] = rec
	}
	return idx
}

// Plan classifies every key of both snapshots. A key on both sides updates
// the left side when the right record is at least as new, and the right side
// otherwise; a key on one side only is created on the other. Actions are
// sorted by key.
func Plan[L, R Record](left map[string]L, right map[string]R) []Action {
	actions := make([]Action, 0, len(left)+len(right))

	for key, l := range left {
		r, ok := right[key]
		switch {
		case !ok:
			actions = append(actions, Action{Kind: CreateRight, Key: key})
		case !r.ModifiedAt().Before(l.ModifiedAt()):
			// ties go left
			actions = append(actions, Action{Kind: UpdateLeft, Key: key})
		default:
			actions = append(actions, Action{Kind: UpdateRight, Key: key})
		}
	}

	for key := range right {
		if _, ok := left[key]; !ok {
			actions = append(actions, Action{Kind: CreateLeft, Key: key})
		}
	}

	sort.Slice(actions, func(i, k int) bool {
		if actions[i].Key != actions[k].Key {
			return actions[i].Key < actions[k].Key
		}
		return actions[i].Kind < actions[k].Kind
	})
	return actions
}

// InSyncFunc reports whether the records of an update action already agree,
// in which case no job is scheduled for it
type InSyncFunc[L, R Record] func(ctx context.Context, a Action, left L, right R) (bool, error)

// Reconciler holds what a Reconciliation needs to load snapshots and
// schedule child jobs.
type Reconciler[L, R Record] struct {
	Left  Loader[L]
	Right Loader[R]

	Scheduler job.Scheduler

	// Child builds the job behavior for an action.
	Child func(a Action) (job.Behavior, error)

	// InSync optionally prunes update actions whose records already agree.
	InSync InSyncFunc[L, R]

	// RetryBudget is given to every child job.
	RetryBudget int

	// Observe is called for every scheduled action.
	Observe func(a Action)

	Logger *slog.Logger
}

// NewReconciliation creates a reconciliation behavior over filter
func (rc *Reconciler[L, R]) NewReconciliation(filter KeyFilter) *Reconciliation[L, R] {
	return &Reconciliation[L, R]{Filter: filter, rc: rc}
}

// Factory restores persisted reconciliations
func (rc *Reconciler[L, R]) Factory() job.Factory {
	return func(payload json.RawMessage) (job.Behavior, error) {
		r := &Reconciliation[L, R]{rc: rc}
		if err := json.Unmarshal(payload, r); err != nil {
			return nil, fmt.Errorf("invalid reconciliation payload: %w", err)
		}
		return r, nil
	}
}

// Reconciliation diffs both stores once and schedules one child job per
// differing key under its own tag. It never reruns itself and keeps no
// snapshot after Execute returns.
type Reconciliation[L, R Record] struct {
	job.RetryAlways

	Filter KeyFilter `json:"filter"`

	rc *Reconciler[L, R]
}

// Kind implements job.Behavior
func (r *Reconciliation[L, R]) Kind() string { return KindReconciliation }

// String implements job.Behavior
func (r *Reconciliation[L, R]) String() string {
	return fmt.Sprintf("reconcile keys matching %s", r.Filter)
}

// Execute implements job.Behavior
func (r *Reconciliation[L, R]) Execute(ctx context.Context, j *job.Job) (bool, error) {
	rc := r.rc

	leftRecords, err := rc.Left.LoadAll(ctx, r.Filter)
	if err != nil {
		return false, fmt.Errorf("failed to load left snapshot: %w", err)
	}
	rightRecords, err := rc.Right.LoadAll(ctx, r.Filter)
	if err != nil {
		return false, fmt.Errorf("failed to load right snapshot: %w", err)
	}

	left := Index(leftRecords, r.Filter)
	right := Index(rightRecords, r.Filter)

	counts := make(map[ActionKind]int)
	inSync := 0

	for _, a := range Plan(left, right) {
		if rc.InSync != nil && (a.Kind == UpdateLeft || a.Kind == UpdateRight) {
			ok, err := rc.InSync(ctx, a, left[a.Key], right[a.Key])
			if err != nil && rc.Logger != nil {
				// the child conversion re-reads both sides and reports its own failure
				rc.Logger.Warn("Convergence check failed, scheduling anyway",
					slog.String("job_id", j.ID()),
					slog.String("key", a.Key),
					slog.Any("error", err),
				)
			}
			if err == nil && ok {
				inSync++
				continue
			}
		}

		behavior, err := rc.Child(a)
		if err != nil {
			return false, fmt.Errorf("failed to build %s: %w", a, err)
		}

		child := job.New(j.Tag(), behavior, job.WithRetryBudget(rc.RetryBudget))
		if err := rc.Scheduler.Cast(ctx, child); err != nil {
			return false, fmt.Errorf("failed to schedule %s: %w", a, err)
		}

		counts[a.Kind]++
		if rc.Observe != nil {
			rc.Observe(a)
		}
	}

	scheduled := 0
	parts := make([]string, 0, 4)
	for _, kind := range []ActionKind{UpdateLeft, UpdateRight, CreateLeft, CreateRight} {
		scheduled += counts[kind]
		parts = append(parts, fmt.Sprintf("%s=%d", kind, counts[kind]))
	}

	j.RecordMessage("scheduled %d jobs (%s), %d keys in sync, %d left and %d right records",
		scheduled, strings.Join(parts, ", "), inSync, len(left), len(right))

	if rc.Logger != nil {
		rc.Logger.Info("Reconciliation planned",
			slog.String("job_id", j.ID()),
			slog.String("tag", j.Tag()),
			slog.String("filter", r.Filter.String()),
			slog.Int("scheduled", scheduled),
			slog.Int("in_sync", inSync),
		)
	}

	return false, nil
}

// ConvergenceCheck returns an InSyncFunc that dry-runs the conversion an
// update action would perform and reports whether it would write anything.
func ConvergenceCheck[L, R Entity](toLeft Converter[R, L], toRight Converter[L, R], protectedLeft, protectedRight []string) InSyncFunc[L, R] {
	pl, pr := toSet(protectedLeft), toSet(protectedRight)

	return func(ctx context.Context, a Action, left L, right R) (bool, error) {
		switch a.Kind {
		case UpdateLeft:
			res, err := toLeft.Update(ctx, right, left)
			if err != nil {
				return false, err
			}
			return converged(res, left, pl), nil
		case UpdateRight:
			res, err := toRight.Update(ctx, left, right)
			if err != nil {
				return false, err
			}
			return converged(res, right, pr), nil
		default:
			return false, nil
		}
	}
}

func converged[T Entity](res *Result[T], current T, protected map[string]bool) bool {
	_, blocking := settle(res, current, true, protected)
	return len(blocking) == 0 && !res.Changed()
}

func toSet(fields []string) map[string]bool {
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}
