package reconcile

import (
	"fmt"
	"log/slog"
)

// Problem is a classified, non-fatal-by-default issue found while converting
// one record into the other side's shape. The set of variants is closed: only
// the types in this file implement it.
type Problem interface {
	problem()
}

// FieldMissingOnTarget reports a mapped field the target side does not define
type FieldMissingOnTarget struct {
	Field     string
	Attribute string
}

// AttributeMissingOnSource reports a mapped name the source record does not carry
type AttributeMissingOnSource struct {
	Attribute string
	Field     string
}

// NoFormatterForFieldType reports a field whose type cannot be converted
type NoFormatterForFieldType struct {
	Field     string
	FieldType string
}

// InvalidFieldValue reports a converted value rejected by validation
type InvalidFieldValue struct {
	Field     string
	Violation Violation
}

// Violation describes one failed validation rule
type Violation struct {
	Rule    string
	Value   string
	Message string
}

func (FieldMissingOnTarget) problem()     {}
func (AttributeMissingOnSource) problem() {}
func (NoFormatterForFieldType) problem()  {}
func (InvalidFieldValue) problem()        {}

// Describe renders p as an operator-facing message
func Describe(p Problem) string {
	switch p := p.(type) {
	case FieldMissingOnTarget:
		return fmt.Sprintf("field %q mapped from attribute %q does not exist on the target", p.Field, p.Attribute)
	case AttributeMissingOnSource:
		return fmt.Sprintf("attribute %q mapped to field %q is missing on the source", p.Attribute, p.Field)
	case NoFormatterForFieldType:
		return fmt.Sprintf("field %q has type %q which has no formatter", p.Field, p.FieldType)
	case InvalidFieldValue:
		return fmt.Sprintf("field %q value %q is invalid: %s", p.Field, p.Violation.Value, p.Violation.Message)
	default:
		return fmt.Sprintf("unknown problem %T", p)
	}
}

// ProblemKind returns a stable name for p, used in logs and metrics
func ProblemKind(p Problem) string {
	switch p.(type) {
	case FieldMissingOnTarget:
		return "field_missing_on_target"
	case AttributeMissingOnSource:
		return "attribute_missing_on_source"
	case NoFormatterForFieldType:
		return "no_formatter_for_field_type"
	case InvalidFieldValue:
		return "invalid_field_value"
	default:
		return "unknown"
	}
}

// Blocking reports whether p must abort the conversion before any write.
func Blocking(p Problem, protected map[string]bool) bool {
	block, _ := disposition(p, protected)
	return block
}

// disposition decides what a conversion does with p: abort before any write,
// or roll one field back to its previous value. An invalid value in a
// protected identity field blocks, since protected fields are never rolled
// back; any other invalid value is rolled back.
func disposition(p Problem, protected map[string]bool) (block bool, revert string) {
	switch p := p.(type) {
	case InvalidFieldValue:
		if protected[p.Field] {
			return true, ""
		}
		return false, p.Field
	case FieldMissingOnTarget, AttributeMissingOnSource, NoFormatterForFieldType:
		return false, ""
	default:
		return false, ""
	}
}

func problemAttrs(p Problem) []any {
	return []any{
		slog.String("problem", ProblemKind(p)),
		slog.String("detail", Describe(p)),
	}
}
