package mapping

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/cuongbtq/dirsync/internal/reconcile"
)

// Field types of the directory schema
const (
	TypeText    = "text"
	TypeEmail   = "email"
	TypePhone   = "phone"
	TypeURL     = "url"
	TypeDate    = "date"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
)

// formatter normalizes a raw value and names the validator rule it must pass
type formatter struct {
	normalize func(string) string
	rule      string
}

var formatters = map[string]formatter{
	TypeText:    {normalize: strings.TrimSpace, rule: "max=255"},
	TypeEmail:   {normalize: lowerTrim, rule: "email"},
	TypePhone:   {normalize: normalizePhone, rule: "e164"},
	TypeURL:     {normalize: strings.TrimSpace, rule: "url"},
	TypeDate:    {normalize: strings.TrimSpace, rule: "datetime=2006-01-02"},
	TypeNumber:  {normalize: strings.TrimSpace, rule: "numeric"},
	TypeBoolean: {normalize: normalizeBool, rule: "boolean"},
}

func lowerTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// normalizePhone drops separators and turns a 00 prefix into +
func normalizePhone(s string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(s) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			b.WriteRune(r)
		}
	}

	out := b.String()
	if strings.HasPrefix(out, "00") {
		out = "+" + out[2:]
	}
	return out
}

func normalizeBool(s string) string {
	switch lowerTrim(s) {
	case "1", "yes", "y", "true", "on":
		return "true"
	case "0", "no", "n", "false", "off":
		return "false"
	}
	return strings.TrimSpace(s)
}

// check validates value against rule and describes the first failure
func check(validate *validator.Validate, value, rule string) (reconcile.Violation, bool) {
	err := validate.Var(value, rule)
	if err == nil {
		return reconcile.Violation{}, true
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		msg := fmt.Sprintf("failed %q validation", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed %q validation with %s", fe.Tag(), fe.Param())
		}
		return reconcile.Violation{Rule: fe.Tag(), Value: value, Message: msg}, false
	}

	return reconcile.Violation{Rule: rule, Value: value, Message: err.Error()}, false
}
