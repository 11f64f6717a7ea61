package job

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubJob(name string, results ...stubResult) *Job {
	return New("tag", &stubBehavior{Name: name, results: results})
}

func TestListCooperative(t *testing.T) {
	first := stubJob("first", stubResult{incomplete: true, message: "page 1"}, stubResult{message: "page 2"})
	second := stubJob("second", stubResult{message: "done"})
	list := NewList(false, first, second)
	parent := New("tag", list)

	incomplete, err := parent.Execute(context.Background())
	require.NoError(t, err)
	assert.True(t, incomplete)
	assert.Equal(t, 0, list.Cursor(), "incomplete child keeps the cursor")

	incomplete, err = parent.Execute(context.Background())
	require.NoError(t, err)
	assert.True(t, incomplete)
	assert.Equal(t, 1, list.Cursor())

	incomplete, err = parent.Execute(context.Background())
	require.NoError(t, err)
	assert.False(t, incomplete)
	assert.False(t, list.Remaining())

	assert.Equal(t, []string{"stub first: page 1", "stub first: page 2", "stub second: done"}, parent.Messages())
	assert.Equal(t, StatusFinished, first.Status())
}

func TestListRunAll(t *testing.T) {
	list := NewList(true,
		stubJob("a", stubResult{incomplete: true}, stubResult{}),
		stubJob("b", stubResult{}),
	)
	parent := New("tag", list)

	incomplete, err := parent.Execute(context.Background())
	require.NoError(t, err)
	assert.False(t, incomplete)
	assert.Equal(t, 2, list.Cursor())
}

func TestListChildErrorKeepsCursor(t *testing.T) {
	failing := stubJob("b", stubResult{err: errors.New("timeout")}, stubResult{})
	list := NewList(true, stubJob("a", stubResult{}), failing)
	parent := selected(t, New("tag", list, WithRetryBudget(1)))

	require.NoError(t, Run(context.Background(), parent, discardLogger()))
	assert.Equal(t, StatusRescheduled, parent.Status())
	assert.Equal(t, 1, list.Cursor())
	require.Len(t, parent.Exceptions(), 1)
	assert.Contains(t, parent.Exceptions()[0].Message, "child 1 (stub b) failed")
	assert.Len(t, failing.Exceptions(), 1)

	require.NoError(t, parent.Requeue())
	require.NoError(t, parent.Transition(StatusSelected))
	require.NoError(t, Run(context.Background(), parent, discardLogger()))
	assert.Equal(t, StatusFinished, parent.Status())
}

func TestEmptyList(t *testing.T) {
	for _, runAll := range []bool{true, false} {
		incomplete, err := New("tag", NewList(runAll)).Execute(context.Background())
		require.NoError(t, err)
		assert.False(t, incomplete)
	}
}

func TestListRoundTrip(t *testing.T) {
	reg := NewRegistry()
	reg.Register("stub", func(payload json.RawMessage) (Behavior, error) {
		b := &stubBehavior{}
		return b, json.Unmarshal(payload, b)
	})

	list := NewList(false, stubJob("a", stubResult{}), stubJob("b"))
	parent := New("tag", list)
	_, err := parent.Execute(context.Background())
	require.NoError(t, err)

	rec, err := parent.Record()
	require.NoError(t, err)
	assert.Equal(t, KindList, rec.Kind)

	restored, err := reg.Restore(rec)
	require.NoError(t, err)

	got, ok := restored.Behavior().(*List)
	require.True(t, ok)
	assert.Equal(t, 2, got.Len())
	assert.Equal(t, 1, got.Cursor())
	assert.Equal(t, "list of 2 jobs (cooperative, at 1)", got.String())
}
