package mapping

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/cuongbtq/dirsync/internal/account"
	"github.com/cuongbtq/dirsync/internal/directory"
	"github.com/cuongbtq/dirsync/internal/reconcile"
)

// DefaultSchemaTTL bounds how long a fetched directory schema is reused
const DefaultSchemaTTL = 5 * time.Minute

// SchemaSource fetches the directory field definitions
type SchemaSource interface {
	Schema(ctx context.Context) (*directory.Schema, error)
}

// baseTypes are the types of the identity fields, which need no schema entry
var baseTypes = map[string]string{
	directory.FieldEmail: TypeEmail,
	directory.FieldLogin: TypeText,
}

// Converter converts accounts into directory entries and back, field by
// field through the mapping table.
type Converter struct {
	table    *Table
	schemas  SchemaSource
	ttl      time.Duration
	validate *validator.Validate

	mu      sync.Mutex
	schema  *directory.Schema
	fetched time.Time
	now     func() time.Time
}

// NewConverter creates a converter; ttl <= 0 uses DefaultSchemaTTL
func NewConverter(table *Table, schemas SchemaSource, ttl time.Duration) *Converter {
	if ttl <= 0 {
		ttl = DefaultSchemaTTL
	}
	return &Converter{
		table:    table,
		schemas:  schemas,
		ttl:      ttl,
		validate: validator.New(),
		now:      time.Now,
	}
}

// Table returns the mapping table
func (c *Converter) Table() *Table { return c.table }

// Schema returns the cached directory schema, refreshing it once the TTL expired
func (c *Converter) Schema(ctx context.Context) (*directory.Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.schema != nil && c.now().Sub(c.fetched) < c.ttl {
		return c.schema, nil
	}

	s, err := c.schemas.Schema(ctx)
	if err != nil {
		return nil, err
	}
	c.schema = s
	c.fetched = c.now()
	return s, nil
}

// fieldType resolves the type of a directory field; ok is false when the
// directory does not define it
func fieldType(schema *directory.Schema, field string) (string, bool) {
	if t, ok := baseTypes[field]; ok {
		return t, true
	}
	def, ok := schema.Field(field)
	return def.Type, ok
}

// AccountToEntry returns the account -> directory converter
func (c *Converter) AccountToEntry() reconcile.Converter[*account.Account, *directory.Entry] {
	return toEntry{c}
}

// EntryToAccount returns the directory -> account converter
func (c *Converter) EntryToAccount() reconcile.Converter[*directory.Entry, *account.Account] {
	return toAccount{c}
}

type toEntry struct{ c *Converter }

func (t toEntry) Create(ctx context.Context, source *account.Account) (*reconcile.Result[*directory.Entry], error) {
	return t.convert(ctx, source, &directory.Entry{Fields: map[string]string{}})
}

func (t toEntry) Update(ctx context.Context, source *account.Account, current *directory.Entry) (*reconcile.Result[*directory.Entry], error) {
	return t.convert(ctx, source, current.Clone())
}

func (t toEntry) convert(ctx context.Context, source *account.Account, target *directory.Entry) (*reconcile.Result[*directory.Entry], error) {
	schema, err := t.c.Schema(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load directory schema: %w", err)
	}

	res := reconcile.NewResult(target)
	target.SetActive(source.Active())

	for _, p := range t.c.table.Pairs() {
		typ, ok := fieldType(schema, p.Field)
		if !ok {
			res.AddProblem(reconcile.FieldMissingOnTarget{Field: p.Field, Attribute: p.Attribute})
			continue
		}

		value, ok := source.Value(p.Attribute)
		if !ok {
			res.AddProblem(reconcile.AttributeMissingOnSource{Attribute: p.Attribute, Field: p.Field})
			continue
		}

		t.c.apply(res, p.Field, typ, value)
	}

	return res, nil
}

type toAccount struct{ c *Converter }

func (t toAccount) Create(ctx context.Context, source *directory.Entry) (*reconcile.Result[*account.Account], error) {
	return t.convert(ctx, source, &account.Account{Attributes: account.Attributes{}})
}

func (t toAccount) Update(ctx context.Context, source *directory.Entry, current *account.Account) (*reconcile.Result[*account.Account], error) {
	return t.convert(ctx, source, current.Clone())
}

func (t toAccount) convert(ctx context.Context, source *directory.Entry, target *account.Account) (*reconcile.Result[*account.Account], error) {
	schema, err := t.c.Schema(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load directory schema: %w", err)
	}

	res := reconcile.NewResult(target)
	target.SetActive(source.Active())

	for _, p := range t.c.table.Pairs() {
		value, ok := source.Value(p.Field)
		if !ok {
			res.AddProblem(reconcile.AttributeMissingOnSource{Attribute: p.Field, Field: p.Attribute})
			continue
		}

		typ, ok := fieldType(schema, p.Field)
		if !ok {
			typ = TypeText
		}

		t.c.apply(res, p.Attribute, typ, value)
	}

	return res, nil
}

// fieldWriter is the part of reconcile.Result that apply writes through
type fieldWriter interface {
	Set(field, value string)
	Unset(field string)
	AddProblem(p reconcile.Problem)
}

// apply formats value for a field of typ, writes it through res and records
// a problem when no formatter exists or the formatted value is invalid
func (c *Converter) apply(res fieldWriter, name, typ, value string) {
	f, ok := formatters[typ]
	if !ok {
		res.AddProblem(reconcile.NoFormatterForFieldType{Field: name, FieldType: typ})
		return
	}

	formatted := f.normalize(value)
	if formatted == "" {
		res.Unset(name)
		return
	}

	res.Set(name, formatted)
	if v, ok := check(c.validate, formatted, f.rule); !ok {
		res.AddProblem(reconcile.InvalidFieldValue{Field: name, Violation: v})
	}
}
