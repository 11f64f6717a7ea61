package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/dirsync/internal/job"
)

func index(records ...*fakeRecord) map[string]*fakeRecord {
	return Index(records, KeyFilter{})
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name  string
		left  map[string]*fakeRecord
		right map[string]*fakeRecord
		want  []Action
	}{
		{
			name:  "left newer updates right",
			left:  index(rec("x@example.com", 100, nil)),
			right: index(rec("x@example.com", 50, nil)),
			want:  []Action{{Kind: UpdateRight, Key: "x@example.com"}},
		},
		{
			name:  "right newer updates left",
			left:  index(rec("x@example.com", 50, nil)),
			right: index(rec("x@example.com", 100, nil)),
			want:  []Action{{Kind: UpdateLeft, Key: "x@example.com"}},
		},
		{
			name:  "tie updates left",
			left:  index(rec("x@example.com", 70, nil)),
			right: index(rec("x@example.com", 70, nil)),
			want:  []Action{{Kind: UpdateLeft, Key: "x@example.com"}},
		},
		{
			name:  "left only creates right",
			left:  index(rec("y@example.com", 10, nil)),
			right: index(),
			want:  []Action{{Kind: CreateRight, Key: "y@example.com"}},
		},
		{
			name:  "right only creates left",
			left:  index(),
			right: index(rec("z@example.com", 10, nil)),
			want:  []Action{{Kind: CreateLeft, Key: "z@example.com"}},
		},
		{
			name:  "keys match case-insensitively",
			left:  index(rec("Mixed@Example.com", 10, nil)),
			right: index(rec("mixed@example.COM", 20, nil)),
			want:  []Action{{Kind: UpdateLeft, Key: "mixed@example.com"}},
		},
		{
			name:  "both empty",
			left:  index(),
			right: index(),
			want:  []Action{},
		},
		{
			name: "mixed snapshot sorted by key",
			left: index(
				rec("b@example.com", 10, nil),
				rec("a@example.com", 90, nil),
			),
			right: index(
				rec("a@example.com", 20, nil),
				rec("c@example.com", 10, nil),
			),
			want: []Action{
				{Kind: UpdateRight, Key: "a@example.com"},
				{Kind: CreateRight, Key: "b@example.com"},
				{Kind: CreateLeft, Key: "c@example.com"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Plan(tt.left, tt.right))
		})
	}
}

func TestPlanSchedulesOneActionPerKey(t *testing.T) {
	left := index(
		rec("a@example.com", 1, nil),
		rec("b@example.com", 5, nil),
		rec("c@example.com", 9, nil),
	)
	right := index(
		rec("a@example.com", 3, nil),
		rec("b@example.com", 5, nil),
		rec("c@example.com", 2, nil),
		rec("d@example.com", 2, nil),
	)

	seen := make(map[string]int)
	for _, a := range Plan(left, right) {
		seen[a.Key]++
		if l, ok := left[a.Key]; ok {
			if r, ok := right[a.Key]; ok {
				if !r.ModifiedAt().Before(l.ModifiedAt()) {
					assert.Equal(t, UpdateLeft, a.Kind, a.Key)
				} else {
					assert.Equal(t, UpdateRight, a.Kind, a.Key)
				}
			}
		}
	}

	assert.Equal(t, map[string]int{"a@example.com": 1, "b@example.com": 1, "c@example.com": 1, "d@example.com": 1}, seen)
}

func TestIndex(t *testing.T) {
	older := rec("dup@example.com", 10, map[string]string{"name": "old"})
	newer := rec("DUP@example.com", 20, map[string]string{"name": "new"})
	blank := rec("  ", 10, nil)
	other := rec("other@test.org", 10, nil)

	idx := Index([]*fakeRecord{newer, older, blank, other}, MustKeyFilter(`@example\.com$`))

	require.Len(t, idx, 1)
	assert.Equal(t, "new", idx["dup@example.com"].values["name"])
}

func TestKeyFilter(t *testing.T) {
	f, err := NewKeyFilter(`^ADMIN`)
	require.NoError(t, err)
	assert.True(t, f.Match("admin@example.com"))
	assert.False(t, f.Match("user@example.com"))
	assert.Equal(t, "^ADMIN", f.String())

	empty, err := NewKeyFilter("")
	require.NoError(t, err)
	assert.True(t, empty.Empty())
	assert.True(t, empty.Match("anything"))
	assert.Equal(t, "*", empty.String())

	_, err = NewKeyFilter("(")
	assert.Error(t, err)
}

type reconcileFixture struct {
	left, right *fakeStore
	scheduler   *recordingScheduler
	reconciler  *Reconciler[*fakeRecord, *fakeRecord]
	toLeft      *Side[*fakeRecord, *fakeRecord]
	toRight     *Side[*fakeRecord, *fakeRecord]
}

func newReconcileFixture(left, right *fakeStore, pruneInSync bool) *reconcileFixture {
	f := &reconcileFixture{left: left, right: right, scheduler: &recordingScheduler{}}
	conv := copyConverter{fields: []string{"name", "phone"}}

	f.toLeft = &Side[*fakeRecord, *fakeRecord]{
		SourceName: "directory", TargetName: "account",
		Source: right, Target: left, Converter: conv,
	}
	f.toRight = &Side[*fakeRecord, *fakeRecord]{
		SourceName: "account", TargetName: "directory",
		Source: left, Target: right, Converter: conv,
	}

	f.reconciler = &Reconciler[*fakeRecord, *fakeRecord]{
		Left:        left,
		Right:       right,
		Scheduler:   f.scheduler,
		RetryBudget: 2,
		Logger:      discardLogger(),
		Child: func(a Action) (job.Behavior, error) {
			switch a.Kind {
			case UpdateLeft:
				return f.toLeft.NewConversion(a.Key, ModeUpdate, false), nil
			case CreateLeft:
				return f.toLeft.NewConversion(a.Key, ModeCreate, false), nil
			case UpdateRight:
				return f.toRight.NewConversion(a.Key, ModeUpdate, false), nil
			case CreateRight:
				return f.toRight.NewConversion(a.Key, ModeCreate, false), nil
			}
			return nil, errors.New("unknown action")
		},
	}
	if pruneInSync {
		f.reconciler.InSync = ConvergenceCheck[*fakeRecord, *fakeRecord](conv, conv, nil, nil)
	}
	return f
}

func (f *reconcileFixture) reconcile(t *testing.T, tag string) *job.Job {
	t.Helper()
	j := job.New(tag, f.reconciler.NewReconciliation(KeyFilter{}))
	require.NoError(t, runOnce(j))
	require.Equal(t, job.StatusFinished, j.Status())
	return j
}

func TestReconciliationSchedulesChildren(t *testing.T) {
	left := newStore(
		rec("x@example.com", 100, map[string]string{"name": "X left"}),
		rec("y@example.com", 10, map[string]string{"name": "Y"}),
	)
	right := newStore(
		rec("x@example.com", 50, map[string]string{"name": "X right"}),
		rec("z@example.com", 10, map[string]string{"name": "Z"}),
	)
	f := newReconcileFixture(left, right, false)

	j := f.reconcile(t, "batch-1")

	assert.Equal(t, []string{"account.create", "directory.create", "directory.update"}, f.scheduler.kinds())
	for _, child := range f.scheduler.jobs {
		assert.Equal(t, "batch-1", child.Tag())
		assert.Equal(t, 2, child.RetryBudget())
		assert.Equal(t, job.StatusIdle, child.Status())
	}
	require.Len(t, j.Messages(), 1)
	assert.Contains(t, j.Messages()[0], "scheduled 3 jobs")
	assert.Equal(t, 0, left.writes()+right.writes(), "reconciliation itself never writes")
}

func TestReconciliationEmptyStores(t *testing.T) {
	f := newReconcileFixture(newStore(), newStore(), true)
	f.reconcile(t, "empty")
	assert.Empty(t, f.scheduler.jobs)
}

func TestReconciliationLoadFailureIsRetried(t *testing.T) {
	left := newStore()
	left.loadErr = NewTransientError(errors.New("connection refused"))
	f := newReconcileFixture(left, newStore(), false)

	j := job.New("batch", f.reconciler.NewReconciliation(KeyFilter{}), job.WithRetryBudget(1))
	require.NoError(t, runOnce(j))

	assert.Equal(t, job.StatusRescheduled, j.Status())
	require.Len(t, j.Exceptions(), 1)
	assert.Equal(t, "communication", j.Exceptions()[0].Code)
	assert.Empty(t, f.scheduler.jobs)
}

func TestReconciliationConverges(t *testing.T) {
	left := newStore(
		rec("x@example.com", 100, map[string]string{"name": "X left", "phone": "1"}),
		rec("y@example.com", 10, map[string]string{"name": "Y", "phone": "2"}),
	)
	right := newStore(
		rec("x@example.com", 50, map[string]string{"name": "X right", "phone": "1"}),
		rec("z@example.com", 10, map[string]string{"name": "Z", "phone": "3"}),
	)
	f := newReconcileFixture(left, right, true)

	f.reconcile(t, "pass-1")
	require.Len(t, f.scheduler.jobs, 3)
	for _, child := range f.scheduler.jobs {
		require.NoError(t, runOnce(child))
		assert.Equal(t, job.StatusFinished, child.Status(), child.Summarize().Messages)
	}
	assert.Equal(t, "X left", right.records["x@example.com"].values["name"])
	assert.Contains(t, left.records, "z@example.com")
	assert.Contains(t, right.records, "y@example.com")

	f.scheduler.jobs = nil
	j := f.reconcile(t, "pass-2")

	assert.Empty(t, f.scheduler.jobs)
	assert.Contains(t, j.Messages()[0], "scheduled 0 jobs")
	assert.Contains(t, j.Messages()[0], "3 keys in sync")
}

func TestReconciliationComparisonErrorSchedulesChild(t *testing.T) {
	left := newStore(
		rec("bad@example.com", 100, map[string]string{"name": "Bad"}),
		rec("ok@example.com", 100, map[string]string{"name": "Ok"}),
	)
	right := newStore(
		rec("bad@example.com", 50, map[string]string{"name": "Bad"}),
		rec("ok@example.com", 50, map[string]string{"name": "Ok"}),
	)
	f := newReconcileFixture(left, right, false)
	f.reconciler.InSync = func(_ context.Context, a Action, _, _ *fakeRecord) (bool, error) {
		if a.Key == "bad@example.com" {
			return false, errors.New("unsupported field value")
		}
		return true, nil
	}

	j := f.reconcile(t, "compare")

	require.Len(t, f.scheduler.jobs, 1)
	assert.Equal(t, []string{"directory.update"}, f.scheduler.kinds())
	assert.Contains(t, j.Messages()[0], "scheduled 1 jobs")
	assert.Contains(t, j.Messages()[0], "1 keys in sync")
}

func TestReconciliationObserve(t *testing.T) {
	f := newReconcileFixture(newStore(rec("a@example.com", 1, nil)), newStore(), false)
	var observed []Action
	f.reconciler.Observe = func(a Action) { observed = append(observed, a) }

	f.reconcile(t, "observe")

	assert.Equal(t, []Action{{Kind: CreateRight, Key: "a@example.com"}}, observed)
}

func TestReconciliationRestore(t *testing.T) {
	f := newReconcileFixture(newStore(), newStore(), false)
	reg := job.NewRegistry()
	reg.Register(KindReconciliation, f.reconciler.Factory())

	j := job.New("tag", f.reconciler.NewReconciliation(MustKeyFilter(`@example\.com$`)))
	record, err := j.Record()
	require.NoError(t, err)

	got, err := reg.Restore(record)
	require.NoError(t, err)

	r, ok := got.Behavior().(*Reconciliation[*fakeRecord, *fakeRecord])
	require.True(t, ok)
	assert.Equal(t, `@example\.com$`, r.Filter.Pattern())
	assert.True(t, r.Filter.Match("A@EXAMPLE.COM"))
	assert.NoError(t, runOnce(got))
}

func TestConvergenceCheck(t *testing.T) {
	conv := copyConverter{fields: []string{"name"}}
	check := ConvergenceCheck[*fakeRecord, *fakeRecord](conv, conv, nil, nil)
	ctx := context.Background()

	same := rec("a@example.com", 1, map[string]string{"name": "A"})
	differs := rec("a@example.com", 2, map[string]string{"name": "B"})

	ok, err := check(ctx, Action{Kind: UpdateLeft, Key: "a@example.com"}, same, same.clone())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = check(ctx, Action{Kind: UpdateRight, Key: "a@example.com"}, same, differs)
	require.NoError(t, err)
	assert.False(t, ok)

	blocked := same.clone()
	blocked.active = false
	ok, err = check(ctx, Action{Kind: UpdateLeft, Key: "a@example.com"}, same, blocked)
	require.NoError(t, err)
	assert.True(t, ok, "a blocked source never deactivates an active target")

	ok, err = check(ctx, Action{Kind: UpdateRight, Key: "a@example.com"}, blocked, same)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = check(ctx, Action{Kind: UpdateLeft, Key: "a@example.com"}, blocked, same)
	require.NoError(t, err)
	assert.False(t, ok, "activating an inactive target is a change")
}
