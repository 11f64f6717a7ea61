package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/dirsync/internal/job"
)

// Mode selects how a Conversion treats the target record
type Mode string

// Conversion modes
const (
	ModeCreate         Mode = "create"
	ModeUpdate         Mode = "update"
	ModeCreateOrUpdate Mode = "create_or_update"
)

// Converter maps a source record onto the target side.
type Converter[S, T Entity] interface {
	// Create builds a new target record from source.
	Create(ctx context.Context, source S) (*Result[T], error)

	// Update converts source onto a copy of current and leaves current
	// untouched. Activation is applied with SetActive but not recorded as a
	// Change; the conversion job decides whether it counts.
	Update(ctx context.Context, source S, current T) (*Result[T], error)
}

// PreSaveHook may abort a save by returning an error
type PreSaveHook[T Entity] func(ctx context.Context, target T, exists bool) error

// PostSaveHook runs after every conversion or deletion attempt, on every path
type PostSaveHook func(ctx context.Context, outcome SaveOutcome)

// SaveOutcome describes how one job invocation ended
type SaveOutcome struct {
	Kind  string
	Key   string
	Saved bool
	Err   error
}

// ProblemHook observes every problem a conversion reports
type ProblemHook func(kind string, p Problem)

// Side wires one direction of conversion: where records come from, where
// they go, and the hooks around the save.
type Side[S, T Entity] struct {
	// SourceName and TargetName name the stores in kinds, logs and messages.
	SourceName string
	TargetName string

	Source    Loader[S]
	Target    Store[T]
	Converter Converter[S, T]

	// Protected names target identity fields that are never rolled back.
	Protected []string

	PreSave  PreSaveHook[T]
	PostSave PostSaveHook
	Problem  ProblemHook

	Logger *slog.Logger
}

// Kind returns the registry kind of a conversion in mode
func (s *Side[S, T]) Kind(mode Mode) string {
	return fmt.Sprintf("%s.%s", s.TargetName, mode)
}

// NewConversion creates a conversion job behavior for key
func (s *Side[S, T]) NewConversion(key string, mode Mode, strict bool) *Conversion[S, T] {
	return &Conversion[S, T]{
		Key:    NormalizeKey(key),
		Mode:   mode,
		Strict: strict,
		side:   s,
	}
}

// Factory restores persisted conversions of mode
func (s *Side[S, T]) Factory(mode Mode) job.Factory {
	return func(payload json.RawMessage) (job.Behavior, error) {
		c := &Conversion[S, T]{side: s}
		if err := json.Unmarshal(payload, c); err != nil {
			return nil, fmt.Errorf("invalid conversion payload: %w", err)
		}
		c.Mode = mode
		return c, nil
	}
}

// Conversion converts the source record of one key into the target store.
type Conversion[S, T Entity] struct {
	Key    string `json:"key"`
	Mode   Mode   `json:"mode"`
	Strict bool   `json:"strict,omitempty"`

	side *Side[S, T]
}

// Kind implements job.Behavior
func (c *Conversion[S, T]) Kind() string {
	return c.side.Kind(c.Mode)
}

// String implements job.Behavior
func (c *Conversion[S, T]) String() string {
	return fmt.Sprintf("%s %s %s from %s", c.side.TargetName, c.Mode, c.Key, c.side.SourceName)
}

// ShouldRetry implements job.Behavior
func (c *Conversion[S, T]) ShouldRetry(err error) bool {
	return retryable(err)
}

// Execute implements job.Behavior
func (c *Conversion[S, T]) Execute(ctx context.Context, j *job.Job) (incomplete bool, err error) {
	ctx = WithSyncInProgress(ctx)
	s := c.side
	outcome := SaveOutcome{Kind: c.Kind(), Key: c.Key}

	defer func() {
		if s.PostSave != nil {
			outcome.Err = err
			s.PostSave(ctx, outcome)
		}
	}()

	source, err := s.Source.LoadByKey(ctx, c.Key)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return false, &StaleReferenceError{Side: s.SourceName, Key: c.Key}
		}
		return false, fmt.Errorf("failed to load %s %s: %w", s.SourceName, c.Key, err)
	}

	current, err := s.Target.LoadByKey(ctx, c.Key)
	exists := err == nil
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return false, fmt.Errorf("failed to load %s %s: %w", s.TargetName, c.Key, err)
	}

	switch {
	case c.Mode == ModeUpdate && !exists:
		return false, &StaleReferenceError{Side: s.TargetName, Key: c.Key}
	case c.Mode == ModeCreate && exists:
		return false, c.duplicate(j, ErrAlreadyExists)
	}

	var res *Result[T]
	if exists {
		res, err = s.Converter.Update(ctx, source, current)
	} else {
		res, err = s.Converter.Create(ctx, source)
	}
	if err != nil {
		return false, fmt.Errorf("failed to convert %s %s: %w", s.SourceName, c.Key, err)
	}

	notes, blocking := settle(res, current, exists, toSet(s.Protected))
	c.report(j, res.Problems)
	for _, note := range notes {
		j.RecordMessage("%s %s: %s", s.TargetName, c.Key, note)
	}

	if len(blocking) > 0 {
		return false, &BlockingProblemError{Key: c.Key, Problems: blocking}
	}

	if s.PreSave != nil {
		if err := s.PreSave(ctx, res.Target, exists); err != nil {
			return false, err
		}
	}

	if exists && !res.Changed() {
		j.RecordMessage("%s %s is up to date, nothing saved", s.TargetName, c.Key)
		return false, nil
	}

	if exists {
		err = s.Target.Update(ctx, res.Target)
	} else {
		err = s.Target.Create(ctx, res.Target)
		if errors.Is(err, ErrAlreadyExists) {
			return false, c.duplicate(j, err)
		}
	}
	if err != nil {
		return false, fmt.Errorf("failed to save %s %s: %w", s.TargetName, c.Key, err)
	}

	outcome.Saved = true
	verb := "updated"
	if !exists {
		verb = "created"
	}
	j.RecordMessage("%s %s %s (%d changes)", verb, s.TargetName, c.Key, len(res.Changes))

	return false, nil
}

// duplicate downgrades a duplicate-key race to a success message unless the
// conversion is strict
func (c *Conversion[S, T]) duplicate(j *job.Job, err error) error {
	if c.Strict {
		return fmt.Errorf("%s %s: %w", c.side.TargetName, c.Key, err)
	}

	j.RecordMessage("%s %s already exists, treated as created", c.side.TargetName, c.Key)
	return nil
}

// report logs every problem and surfaces it to operators
func (c *Conversion[S, T]) report(j *job.Job, problems []Problem) {
	s := c.side
	for _, p := range problems {
		if s.Logger != nil {
			attrs := append([]any{
				slog.String("job_id", j.ID()),
				slog.String("tag", j.Tag()),
				slog.String("kind", c.Kind()),
				slog.String("key", c.Key),
			}, problemAttrs(p)...)
			s.Logger.Warn("Conversion problem", attrs...)
		}

		if s.Problem != nil {
			s.Problem(c.Kind(), p)
		}

		j.RecordMessage("%s %s: %s", s.TargetName, c.Key, Describe(p))
	}
}

// settle applies the update rules to a converted result: an active target is
// never blocked by sync, activation changes count as changes, invalid fields
// are rolled back and blocking problems are returned.
func settle[T Entity](res *Result[T], current T, exists bool, protected map[string]bool) (notes []string, blocking []Problem) {
	if exists {
		was, now := current.Active(), res.Target.Active()
		switch {
		case was && !now:
			res.Target.SetActive(true)
			notes = append(notes, "kept active, a blocked source does not block an active record")
		case !was && now:
			res.Changes = append(res.Changes, Change{
				Field: FieldActive, Old: "false", HadOld: true, New: "true", HasNew: true,
			})
		}
	}

	for _, p := range res.Problems {
		block, revert := disposition(p, protected)
		if block {
			blocking = append(blocking, p)
			continue
		}
		if revert != "" && res.Revert(revert) {
			notes = append(notes, fmt.Sprintf("rolled back field %q to its previous value", revert))
		}
	}

	return notes, blocking
}
