// Package validation checks record values against their kind's schema and
// canonicalizes them before they are stored.
// Validation is enforced at save time, before any backend write.
package validation

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/docmap/core/schema"
)

// ErrValidation matches every *ValidationError with errors.Is.
var ErrValidation = errors.New("validation failed")

// Target is a record whose values are validated against its schema.
type Target interface {
	schema.Record
	Schema() *schema.Schema
	Lookup(name string) (any, bool)
	Set(name string, value any)
}

// ValidationError names the first field of a record that failed a rule.
type ValidationError struct {
	Kind     string
	Field    string
	Rule     schema.ConstraintType
	Expected string
	Actual   string

	cause error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s.%s: %s: expected %s, got %s", e.Kind, e.Field, e.Rule, e.Expected, e.Actual)
}

// Unwrap returns the failed constraint.
func (e *ValidationError) Unwrap() error {
	return e.cause
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Validator validates records. ids recognizes backend-native identities for
// ID and reference fields.
type Validator struct {
	ids schema.IDChecker
}

// New creates a validator using the given identity checker.
func New(ids schema.IDChecker) *Validator {
	return &Validator{ids: ids}
}

// Validate checks every schema field of t in declaration order and returns
// the first failure. Embedded records are validated recursively in place of
// their own type check.
func (v *Validator) Validate(t Target) error {
	for _, field := range t.Schema().Fields() {
		if field.Name == schema.IDField {
			continue
		}
		value, _ := t.Lookup(field.Name)

		if handled, err := v.validateEmbedded(t, field, value); handled {
			if err != nil {
				return err
			}
			continue
		}

		if !schema.IsValidType(value, field.Type, v.ids) {
			return &ValidationError{
				Kind:     t.KindName(),
				Field:    field.Name,
				Rule:     schema.ConstraintMismatch,
				Expected: field.Type.String(),
				Actual:   schema.Describe(value),
				cause: schema.ConstraintError{
					Field:      field.Name,
					Constraint: schema.ConstraintMismatch,
					Expected:   field.Type.String(),
					Value:      value,
				},
			}
		}

		if ce := field.CheckRules(value); ce != nil {
			return &ValidationError{
				Kind:     t.KindName(),
				Field:    field.Name,
				Rule:     ce.Constraint,
				Expected: ce.Expected,
				Actual:   schema.Describe(value),
				cause:    *ce,
			}
		}
	}
	return nil
}

// validateEmbedded recurses into embedded records held directly or in a
// non-empty array. It reports whether the value was an embedded record.
func (v *Validator) validateEmbedded(t Target, field schema.Field, value any) (bool, error) {
	var children []Target
	switch {
	case schema.IsEmbeddedRecord(value):
		child, ok := value.(Target)
		if !ok {
			return false, nil
		}
		children = []Target{child}
	case schema.IsArray(value):
		elems := schema.Elements(value)
		if len(elems) == 0 || !schema.IsEmbeddedRecord(elems[0]) {
			return false, nil
		}
		for _, e := range elems {
			child, ok := e.(Target)
			if !ok {
				if field.Type.IsEmbedded() {
					return true, &ValidationError{
						Kind:     t.KindName(),
						Field:    field.Name,
						Rule:     schema.ConstraintMismatch,
						Expected: field.Type.String(),
						Actual:   schema.Describe(e),
					}
				}
				continue
			}
			children = append(children, child)
		}
	default:
		return false, nil
	}

	if field.Type.IsEmbedded() {
		want := field.Type.Element().Kind
		for _, child := range children {
			if child.KindName() != want {
				return true, &ValidationError{
					Kind:     t.KindName(),
					Field:    field.Name,
					Rule:     schema.ConstraintMismatch,
					Expected: field.Type.String(),
					Actual:   child.KindName(),
				}
			}
		}
	}

	for _, child := range children {
		if err := v.Validate(child); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				nested := *ve
				nested.Field = field.Name + "." + ve.Field
				return true, &nested
			}
			return true, err
		}
	}
	return true, nil
}

// ValidateField checks a single value against a field descriptor.
func (v *Validator) ValidateField(kind string, field schema.Field, value any) error {
	if !schema.IsValidType(value, field.Type, v.ids) {
		return &ValidationError{
			Kind:     kind,
			Field:    field.Name,
			Rule:     schema.ConstraintMismatch,
			Expected: field.Type.String(),
			Actual:   schema.Describe(value),
		}
	}
	if ce := field.CheckRules(value); ce != nil {
		return &ValidationError{
			Kind:     kind,
			Field:    field.Name,
			Rule:     ce.Constraint,
			Expected: ce.Expected,
			Actual:   schema.Describe(value),
			cause:    *ce,
		}
	}
	return nil
}

// Canonicalize rewrites values into their stored representation: dates
// become time.Time, numbers float64, and sequences []any. Binary fields
// holding base64 text are decoded. Embedded records are canonicalized in
// place.
func Canonicalize(t Target) {
	for _, field := range t.Schema().Fields() {
		value, ok := t.Lookup(field.Name)
		if !ok || value == nil {
			continue
		}
		if out, changed := CanonicalValue(field.Type, value); changed {
			t.Set(field.Name, out)
		}
	}
}

// CanonicalValue converts a single value of type typ. It reports whether the
// returned value differs from the input.
func CanonicalValue(typ schema.Type, value any) (any, bool) {
	if value == nil {
		return nil, false
	}

	if child, ok := value.(Target); ok && schema.IsEmbeddedRecord(value) {
		Canonicalize(child)
		return value, false
	}

	switch typ.Tag {
	case schema.TagDate:
		if _, isTime := value.(time.Time); isTime {
			return value, false
		}
		if d, ok := schema.ToDate(value); ok {
			return d, true
		}
	case schema.TagBinary:
		if s, ok := value.(string); ok {
			if b, err := base64.StdEncoding.DecodeString(s); err == nil {
				return b, true
			}
		}
	case schema.TagNumber:
		if _, isFloat := value.(float64); isFloat {
			return value, false
		}
		if f, ok := schema.ToFloat(value); ok {
			return f, true
		}
	case schema.TagArray:
		if !schema.IsArray(value) {
			return value, false
		}
		_, plain := value.([]any)
		elems := schema.Elements(value)
		out := make([]any, len(elems))
		changed := !plain
		for i, e := range elems {
			elemType := schema.Type{}
			if typ.Elem != nil {
				elemType = *typ.Elem
			}
			c, ok := CanonicalValue(elemType, e)
			out[i] = c
			changed = changed || ok
		}
		if changed {
			return out, true
		}
	}
	return value, false
}
