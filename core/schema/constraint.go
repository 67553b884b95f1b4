package schema

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// ConstraintType identifies the rule a value failed.
type ConstraintType string

const (
	ConstraintMismatch ConstraintType = "type"
	ConstraintRequired ConstraintType = "required"
	ConstraintMatch    ConstraintType = "match"
	ConstraintChoices  ConstraintType = "choices"
	ConstraintMin      ConstraintType = "min"
	ConstraintMax      ConstraintType = "max"
	ConstraintCustom   ConstraintType = "validate"
)

// ConstraintError describes a single failed rule on a field.
type ConstraintError struct {
	Field      string
	Constraint ConstraintType
	Expected   string
	Value      any
}

func (e ConstraintError) Error() string {
	return fmt.Sprintf("%s: %s: expected %s, got %s", e.Field, e.Constraint, e.Expected, Describe(e.Value))
}

// CheckRules applies the value rules of f in order: required, match, choices,
// min, max, custom validator. The type rule is checked separately because
// embedded records bypass it. Returns the first failure or nil.
func (f Field) CheckRules(value any) *ConstraintError {
	if f.Required && IsEmptyValue(value) {
		return f.fail(ConstraintRequired, "a non-empty value", value)
	}
	if err := f.checkMatch(value); err != nil {
		return err
	}
	if err := f.checkChoices(value); err != nil {
		return err
	}
	if err := f.checkBounds(value); err != nil {
		return err
	}
	if f.Validate != nil && !f.Validate(value) {
		return f.fail(ConstraintCustom, "a value accepted by the custom validator", value)
	}
	return nil
}

func (f Field) checkMatch(value any) *ConstraintError {
	if f.Match == nil {
		return nil
	}
	str, ok := value.(string)
	if !ok {
		return nil
	}
	if !f.Match.MatchString(str) {
		return f.fail(ConstraintMatch, fmt.Sprintf("a match for /%s/", f.Match.String()), value)
	}
	return nil
}

func (f Field) checkChoices(value any) *ConstraintError {
	if f.Choices == nil || value == nil {
		return nil
	}
	for _, c := range f.Choices {
		if ValuesEqual(c, value) {
			return nil
		}
	}
	options := make([]string, len(f.Choices))
	for i, c := range f.Choices {
		options[i] = fmt.Sprintf("%v", c)
	}
	return f.fail(ConstraintChoices, fmt.Sprintf("one of [%s]", strings.Join(options, ", ")), value)
}

func (f Field) checkBounds(value any) *ConstraintError {
	if f.Min == nil && f.Max == nil {
		return nil
	}
	val, ok := orderable(value)
	if !ok {
		return nil
	}
	if f.Min != nil && val < *f.Min {
		return f.fail(ConstraintMin, fmt.Sprintf("at least %v", *f.Min), value)
	}
	if f.Max != nil && val > *f.Max {
		return f.fail(ConstraintMax, fmt.Sprintf("at most %v", *f.Max), value)
	}
	return nil
}

// orderable maps numbers and dates onto a single numeric axis. Dates compare
// as epoch milliseconds.
func orderable(v any) (float64, bool) {
	if n, ok := ToFloat(v); ok {
		return n, true
	}
	if t, ok := v.(time.Time); ok {
		return float64(t.UnixMilli()), true
	}
	return 0, false
}

func (f Field) fail(c ConstraintType, expected string, value any) *ConstraintError {
	return &ConstraintError{Field: f.Name, Constraint: c, Expected: expected, Value: value}
}

// ValuesEqual compares two values under schema semantics: numbers by value,
// dates by instant, everything else deeply.
func ValuesEqual(a, b any) bool {
	if fa, ok := ToFloat(a); ok {
		fb, ok := ToFloat(b)
		return ok && fa == fb
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return reflect.DeepEqual(a, b)
}

// Describe renders a value for error messages.
func Describe(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", x)
	case Record:
		return x.KindName()
	}
	if IsArray(v) {
		parts := make([]string, 0)
		for _, e := range Elements(v) {
			parts = append(parts, Describe(e))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return fmt.Sprintf("%v (%T)", v, v)
}
