package reconcile

import (
	"context"
	"errors"
	"fmt"
)

// IdentityLookup finds the record owning an identity value, or returns
// ErrRecordNotFound when the value is free.
type IdentityLookup[T Entity] func(ctx context.Context, value string) (T, error)

// IdentityGuard returns a pre-save hook that aborts the save when the value of
// field on the target already belongs to a record with a different key.
func IdentityGuard[T Entity](field string, lookup IdentityLookup[T]) PreSaveHook[T] {
	return func(ctx context.Context, target T, _ bool) error {
		value, ok := target.Value(field)
		if !ok || value == "" {
			return nil
		}

		owner, err := lookup(ctx, value)
		if errors.Is(err, ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to look up %s %q: %w", field, value, err)
		}

		if NormalizeKey(owner.Key()) != NormalizeKey(target.Key()) {
			return &IdentityConflictError{
				Field:    field,
				Value:    value,
				Key:      target.Key(),
				OwnerKey: owner.Key(),
			}
		}
		return nil
	}
}
