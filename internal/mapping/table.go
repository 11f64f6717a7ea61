// Package mapping translates account attributes into directory fields and back.
package mapping

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cuongbtq/dirsync/internal/account"
	"github.com/cuongbtq/dirsync/internal/directory"
)

// Pair binds an account attribute to a directory field
type Pair struct {
	Attribute string `yaml:"attribute"`
	Field     string `yaml:"field"`
}

// basePairs are the identity fields every table maps
var basePairs = []Pair{
	{Attribute: account.FieldEmail, Field: directory.FieldEmail},
	{Attribute: account.FieldUsername, Field: directory.FieldLogin},
}

// Table is the attribute <-> field name mapping
type Table struct {
	pairs       []Pair
	byAttribute map[string]string
	byField     map[string]string
}

type tableFile struct {
	Fields []Pair `yaml:"fields"`
}

// NewTable builds a table from custom pairs; the base identity pairs are always included
func NewTable(custom ...Pair) (*Table, error) {
	t := &Table{
		byAttribute: make(map[string]string),
		byField:     make(map[string]string),
	}

	for _, p := range append(append([]Pair{}, basePairs...), custom...) {
		if p.Attribute == "" || p.Field == "" {
			return nil, fmt.Errorf("mapping entry needs both attribute and field: %+v", p)
		}
		if _, ok := t.byAttribute[p.Attribute]; ok {
			return nil, fmt.Errorf("attribute %q is mapped twice", p.Attribute)
		}
		if _, ok := t.byField[p.Field]; ok {
			return nil, fmt.Errorf("field %q is mapped twice", p.Field)
		}

		t.pairs = append(t.pairs, p)
		t.byAttribute[p.Attribute] = p.Field
		t.byField[p.Field] = p.Attribute
	}

	return t, nil
}

// LoadTable reads custom pairs from a YAML file
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping file: %w", err)
	}

	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse mapping file: %w", err)
	}

	return NewTable(f.Fields...)
}

// FieldNameFor returns the directory field mapped from attribute
func (t *Table) FieldNameFor(attribute string) (string, bool) {
	f, ok := t.byAttribute[attribute]
	return f, ok
}

// AttributeNameFor returns the account attribute mapped from field
func (t *Table) AttributeNameFor(field string) (string, bool) {
	a, ok := t.byField[field]
	return a, ok
}

// Pairs returns every mapping, base pairs first
func (t *Table) Pairs() []Pair {
	out := make([]Pair, len(t.pairs))
	copy(out, t.pairs)
	return out
}

// IdentityAttributes returns the account attributes of the base pairs
func IdentityAttributes() []string {
	out := make([]string, len(basePairs))
	for i, p := range basePairs {
		out[i] = p.Attribute
	}
	return out
}

// IdentityFields returns the directory fields of the base pairs
func IdentityFields() []string {
	out := make([]string, len(basePairs))
	for i, p := range basePairs {
		out[i] = p.Field
	}
	return out
}
