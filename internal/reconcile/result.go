package reconcile

// Change is one applied field change
type Change struct {
	Field  string
	Old    string
	HadOld bool
	New    string
	HasNew bool
}

// Result pairs a converted target record with the problems found and the
// field changes applied while producing it.
type Result[T Entity] struct {
	Target   T
	Problems []Problem
	Changes  []Change
}

// NewResult starts a conversion into target. Converters write through Set and
// Unset so that changes are tracked.
func NewResult[T Entity](target T) *Result[T] {
	return &Result[T]{Target: target}
}

// Set writes value to field, recording a change when it differs
func (r *Result[T]) Set(field, value string) {
	old, had := r.Target.Value(field)
	if had && old == value {
		return
	}

	r.Target.SetValue(field, value)
	r.Changes = append(r.Changes, Change{Field: field, Old: old, HadOld: had, New: value, HasNew: true})
}

// Unset clears field, recording a change when it was set
func (r *Result[T]) Unset(field string) {
	old, had := r.Target.Value(field)
	if !had {
		return
	}

	r.Target.UnsetValue(field)
	r.Changes = append(r.Changes, Change{Field: field, Old: old, HadOld: true})
}

// AddProblem appends p
func (r *Result[T]) AddProblem(p Problem) {
	r.Problems = append(r.Problems, p)
}

// Changed reports whether any change was applied
func (r *Result[T]) Changed() bool {
	return len(r.Changes) > 0
}

// Revert restores field to its value before conversion and drops its changes.
// It reports whether anything was reverted.
func (r *Result[T]) Revert(field string) bool {
	var original *Change
	kept := make([]Change, 0, len(r.Changes))
	for i := range r.Changes {
		if r.Changes[i].Field != field {
			kept = append(kept, r.Changes[i])
			continue
		}
		if original == nil {
			c := r.Changes[i]
			original = &c
		}
	}

	if original == nil {
		return false
	}
	r.Changes = kept

	if original.HadOld {
		r.Target.SetValue(field, original.Old)
	} else {
		r.Target.UnsetValue(field)
	}
	return true
}
