package reconcile

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cuongbtq/dirsync/internal/job"
)

// DeleteSide wires deletion of records from one store
type DeleteSide struct {
	Name     string
	Store    Deleter
	PostSave PostSaveHook
}

// Kind returns the registry kind of deletions on this side
func (s *DeleteSide) Kind() string {
	return s.Name + ".delete"
}

// NewDeletion creates a deletion job behavior for key
func (s *DeleteSide) NewDeletion(key string) *Deletion {
	return &Deletion{Key: NormalizeKey(key), side: s}
}

// Factory restores persisted deletions
func (s *DeleteSide) Factory() job.Factory {
	return func(payload json.RawMessage) (job.Behavior, error) {
		d := &Deletion{side: s}
		if err := json.Unmarshal(payload, d); err != nil {
			return nil, fmt.Errorf("invalid deletion payload: %w", err)
		}
		return d, nil
	}
}

// Deletion removes one record by key. Any failure is left to the generic
// retry policy.
type Deletion struct {
	job.RetryAlways

	Key string `json:"key"`

	side *DeleteSide
}

// Kind implements job.Behavior
func (d *Deletion) Kind() string { return d.side.Kind() }

// String implements job.Behavior
func (d *Deletion) String() string {
	return fmt.Sprintf("%s delete %s", d.side.Name, d.Key)
}

// Execute implements job.Behavior
func (d *Deletion) Execute(ctx context.Context, j *job.Job) (_ bool, err error) {
	ctx = WithSyncInProgress(ctx)
	outcome := SaveOutcome{Kind: d.Kind(), Key: d.Key}

	defer func() {
		if d.side.PostSave != nil {
			outcome.Err = err
			d.side.PostSave(ctx, outcome)
		}
	}()

	if err := d.side.Store.Delete(ctx, d.Key); err != nil {
		return false, fmt.Errorf("failed to delete %s %s: %w", d.side.Name, d.Key, err)
	}

	outcome.Saved = true
	j.RecordMessage("deleted %s %s", d.side.Name, d.Key)
	return false, nil
}
