package job

import (
	"context"
	"encoding/json"
	"fmt"
)

// KindList is the registry kind of List
const KindList = "list"

// List runs an ordered sequence of child jobs behind one job identity.
//
// In cooperative mode every Execute runs the current child once and advances
// the cursor when that child completes; the list stays incomplete while a
// child remains. In run-all mode Execute loops until no child remains.
type List struct {
	RetryAlways

	children []*Job
	cursor   int
	runAll   bool
}

// NewList creates a list behavior over children
func NewList(runAll bool, children ...*Job) *List {
	return &List{children: children, runAll: runAll}
}

// Kind implements Behavior
func (l *List) Kind() string { return KindList }

// Cursor returns the index of the next child to run
func (l *List) Cursor() int { return l.cursor }

// Len returns the number of children
func (l *List) Len() int { return len(l.children) }

// Remaining reports whether a child is left to run
func (l *List) Remaining() bool { return l.cursor < len(l.children) }

// Execute implements Behavior
func (l *List) Execute(ctx context.Context, j *Job) (bool, error) {
	if !l.runAll {
		if l.Remaining() {
			if err := l.step(ctx, j); err != nil {
				return false, err
			}
		}
		return l.Remaining(), nil
	}

	for l.Remaining() {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if err := l.step(ctx, j); err != nil {
			return false, err
		}
	}
	return false, nil
}

// step runs the current child once, forwarding its new messages to parent
func (l *List) step(ctx context.Context, parent *Job) error {
	child := l.children[l.cursor]
	seen := len(child.messages)

	incomplete, err := child.Execute(ctx)

	for _, msg := range child.messages[seen:] {
		parent.RecordMessage("%s: %s", child.behavior, msg)
	}

	if err != nil {
		child.RecordException(err)
		return fmt.Errorf("child %d (%s) failed: %w", l.cursor, child.behavior, err)
	}

	if !incomplete {
		child.status = StatusFinished
		l.cursor++
	}
	return nil
}

// String implements Behavior
func (l *List) String() string {
	mode := "cooperative"
	if l.runAll {
		mode = "run-all"
	}
	return fmt.Sprintf("list of %d jobs (%s, at %d)", len(l.children), mode, l.cursor)
}

type listPayload struct {
	Cursor   int       `json:"cursor"`
	RunAll   bool      `json:"run_all"`
	Children []*Record `json:"children"`
}

// MarshalJSON persists the cursor and every child record
func (l *List) MarshalJSON() ([]byte, error) {
	p := listPayload{
		Cursor:   l.cursor,
		RunAll:   l.runAll,
		Children: make([]*Record, 0, len(l.children)),
	}

	for _, child := range l.children {
		rec, err := child.Record()
		if err != nil {
			return nil, err
		}
		p.Children = append(p.Children, rec)
	}

	return json.Marshal(p)
}

func listFactory(r *Registry) Factory {
	return func(payload json.RawMessage) (Behavior, error) {
		var p listPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("invalid list payload: %w", err)
		}

		l := &List{cursor: p.Cursor, runAll: p.RunAll}
		for _, rec := range p.Children {
			child, err := r.Restore(rec)
			if err != nil {
				return nil, err
			}
			l.children = append(l.children, child)
		}
		return l, nil
	}
}
