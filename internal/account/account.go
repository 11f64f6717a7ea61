package account

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuongbtq/dirsync/internal/reconcile"
)

// Base field names. Every other name is a custom attribute.
const (
	FieldEmail    = "email"
	FieldUsername = "username"
)

// Attributes holds custom account attributes, stored as JSONB
type Attributes map[string]string

// Value implements driver.Valuer
func (a Attributes) Value() (driver.Value, error) {
	if a == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(a)
}

// Scan implements sql.Scanner
func (a *Attributes) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*a = Attributes{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into attributes", src)
	}

	out := Attributes{}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("invalid attributes: %w", err)
	}
	*a = out
	return nil
}

// Account is a local directory account
type Account struct {
	ID         string     `json:"id" db:"id"`
	Email      string     `json:"email" db:"email"`
	Username   string     `json:"username" db:"username"`
	IsActive   bool       `json:"active" db:"active"`
	Attributes Attributes `json:"attributes" db:"attributes"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

var _ reconcile.Entity = (*Account)(nil)

// Key implements reconcile.Record
func (a *Account) Key() string { return reconcile.NormalizeKey(a.Email) }

// ModifiedAt implements reconcile.Record
func (a *Account) ModifiedAt() time.Time { return a.UpdatedAt }

// Active implements reconcile.Entity
func (a *Account) Active() bool { return a.IsActive }

// SetActive implements reconcile.Entity
func (a *Account) SetActive(active bool) { a.IsActive = active }

// Value returns a base field or custom attribute
func (a *Account) Value(name string) (string, bool) {
	switch name {
	case FieldEmail:
		return a.Email, a.Email != ""
	case FieldUsername:
		return a.Username, a.Username != ""
	}
	v, ok := a.Attributes[name]
	return v, ok
}

// SetValue sets a base field or custom attribute
func (a *Account) SetValue(name, value string) {
	switch name {
	case FieldEmail:
		a.Email = value
	case FieldUsername:
		a.Username = value
	default:
		if a.Attributes == nil {
			a.Attributes = Attributes{}
		}
		a.Attributes[name] = value
	}
}

// UnsetValue clears a base field or removes a custom attribute
func (a *Account) UnsetValue(name string) {
	switch name {
	case FieldEmail:
		a.Email = ""
	case FieldUsername:
		a.Username = ""
	default:
		delete(a.Attributes, name)
	}
}

// Clone returns a deep copy
func (a *Account) Clone() *Account {
	c := *a
	c.Attributes = make(Attributes, len(a.Attributes))
	for k, v := range a.Attributes {
		c.Attributes[k] = v
	}
	return &c
}
