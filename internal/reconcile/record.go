// Package reconcile keeps two independently owned record stores consistent.
//
// A Reconciliation snapshots both stores, classifies every key and schedules
// one Conversion or Deletion job per key. Conversions re-read current state
// before writing and skip the write when nothing changed, so every job is
// idempotent and safe to run more than once.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// FieldActive is the change name used when a conversion flips activation.
const FieldActive = "active"

// Record is what reconciliation needs from either side
type Record interface {
	// Key is the normalized identity shared by both stores.
	Key() string
	ModifiedAt() time.Time
}

// Entity is a Record that conversion jobs can read and write field by field.
type Entity interface {
	Record
	Active() bool
	SetActive(active bool)
	Value(name string) (string, bool)
	SetValue(name, value string)
	UnsetValue(name string)
}

// Loader reads records of one side
type Loader[R Record] interface {
	// LoadAll returns every record matching filter, in no particular order.
	LoadAll(ctx context.Context, filter KeyFilter) ([]R, error)
	// LoadByKey returns ErrRecordNotFound when key does not exist.
	LoadByKey(ctx context.Context, key string) (R, error)
}

// Deleter removes records of one side
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// Store reads and writes records of one side
type Store[R Entity] interface {
	Loader[R]
	Deleter
	// Create returns ErrAlreadyExists when the key is already taken.
	Create(ctx context.Context, record R) error
	Update(ctx context.Context, record R) error
}

// NormalizeKey lower-cases and trims an email-like identifier
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// KeyFilter is an optional case-insensitive regular expression over
// normalized keys. The zero value matches every key.
type KeyFilter struct {
	pattern string
	re      *regexp.Regexp
}

// NewKeyFilter compiles pattern; an empty pattern matches everything
func NewKeyFilter(pattern string) (KeyFilter, error) {
	if pattern == "" {
		return KeyFilter{}, nil
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return KeyFilter{}, fmt.Errorf("invalid key filter %q: %w", pattern, err)
	}
	return KeyFilter{pattern: pattern, re: re}, nil
}

// MustKeyFilter is NewKeyFilter for patterns known to be valid
func MustKeyFilter(pattern string) KeyFilter {
	f, err := NewKeyFilter(pattern)
	if err != nil {
		panic(err)
	}
	return f
}

// Pattern returns the source expression
func (f KeyFilter) Pattern() string { return f.pattern }

// Empty reports whether the filter matches every key
func (f KeyFilter) Empty() bool { return f.re == nil }

// Match reports whether key passes the filter
func (f KeyFilter) Match(key string) bool {
	if f.re == nil {
		return true
	}
	return f.re.MatchString(NormalizeKey(key))
}

// String implements fmt.Stringer
func (f KeyFilter) String() string {
	if f.pattern == "" {
		return "*"
	}
	return f.pattern
}

// MarshalJSON persists the pattern only
func (f KeyFilter) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.pattern)
}

// UnmarshalJSON compiles the persisted pattern
func (f *KeyFilter) UnmarshalJSON(data []byte) error {
	var pattern string
	if err := json.Unmarshal(data, &pattern); err != nil {
		return err
	}

	parsed, err := NewKeyFilter(pattern)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
