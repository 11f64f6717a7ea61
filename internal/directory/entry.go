package directory

import (
	"time"

	"github.com/cuongbtq/dirsync/internal/reconcile"
)

// Base field names. Every other name is a custom field.
const (
	FieldEmail = "email"
	FieldLogin = "login"
)

// Entry is a user record of the external directory
type Entry struct {
	ID       string            `json:"id,omitempty"`
	Email    string            `json:"email"`
	Login    string            `json:"login"`
	Blocked  bool              `json:"blocked"`
	Fields   map[string]string `json:"fields"`
	Modified time.Time         `json:"modified_at"`
}

var _ reconcile.Entity = (*Entry)(nil)

// Key implements reconcile.Record
func (e *Entry) Key() string { return reconcile.NormalizeKey(e.Email) }

// ModifiedAt implements reconcile.Record
func (e *Entry) ModifiedAt() time.Time { return e.Modified }

// Active is the inverse of Blocked
func (e *Entry) Active() bool { return !e.Blocked }

// SetActive implements reconcile.Entity
func (e *Entry) SetActive(active bool) { e.Blocked = !active }

// Value returns a base or custom field
func (e *Entry) Value(name string) (string, bool) {
	switch name {
	case FieldEmail:
		return e.Email, e.Email != ""
	case FieldLogin:
		return e.Login, e.Login != ""
	}
	v, ok := e.Fields[name]
	return v, ok
}

// SetValue sets a base or custom field
func (e *Entry) SetValue(name, value string) {
	switch name {
	case FieldEmail:
		e.Email = value
	case FieldLogin:
		e.Login = value
	default:
		if e.Fields == nil {
			e.Fields = make(map[string]string)
		}
		e.Fields[name] = value
	}
}

// UnsetValue clears a base field or removes a custom field
func (e *Entry) UnsetValue(name string) {
	switch name {
	case FieldEmail:
		e.Email = ""
	case FieldLogin:
		e.Login = ""
	default:
		delete(e.Fields, name)
	}
}

// Clone returns a deep copy
func (e *Entry) Clone() *Entry {
	c := *e
	c.Fields = make(map[string]string, len(e.Fields))
	for k, v := range e.Fields {
		c.Fields[k] = v
	}
	return &c
}

// FieldDef describes one field of the directory schema
type FieldDef struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// Schema is the set of fields the directory defines
type Schema struct {
	Fields []FieldDef `json:"fields"`
}

// Field returns the definition of name
func (s *Schema) Field(name string) (FieldDef, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDef{}, false
}
