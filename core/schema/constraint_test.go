package schema

import (
	"regexp"
	"testing"
	"time"
)

func TestCheckRules(t *testing.T) {
	past := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	floor := float64(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli())

	tests := []struct {
		name  string
		field Field
		value any
		want  ConstraintType
	}{
		{"required empty string", Field{Type: String, Required: true}, "", ConstraintRequired},
		{"required nil", Field{Type: String, Required: true}, nil, ConstraintRequired},
		{"required zero", Field{Type: Number, Required: true}, 0, ""},
		{"required false", Field{Type: Boolean, Required: true}, false, ""},
		{"match ok", Field{Type: String, Match: regexp.MustCompile(`^a`)}, "abc", ""},
		{"match fail", Field{Type: String, Match: regexp.MustCompile(`^a`)}, "xbc", ConstraintMatch},
		{"match ignores non strings", Field{Type: Number, Match: regexp.MustCompile(`^a`)}, 5, ""},
		{"choices ok", Field{Type: String, Choices: []any{"a", "b"}}, "b", ""},
		{"choices fail", Field{Type: String, Choices: []any{"a", "b"}}, "c", ConstraintChoices},
		{"choices nil value", Field{Type: String, Choices: []any{"a"}}, nil, ""},
		{"choices numeric", Field{Type: Number, Choices: []any{1, 2}}, 2.0, ""},
		{"min fail", Field{Type: Number, Min: Bound(3)}, 2, ConstraintMin},
		{"min edge", Field{Type: Number, Min: Bound(3)}, 3, ""},
		{"max fail", Field{Type: Number, Max: Bound(5)}, 6.5, ConstraintMax},
		{"date min", Field{Type: Date, Min: Bound(floor)}, past, ConstraintMin},
		{"custom fail", Field{Type: String, Validate: func(v any) bool { return v == "ok" }}, "no", ConstraintCustom},
		{"custom ok", Field{Type: String, Validate: func(v any) bool { return v == "ok" }}, "ok", ""},
		{"required before choices", Field{Type: String, Required: true, Choices: []any{"a"}}, "", ConstraintRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.field.Name = "f"
			err := tt.field.CheckRules(tt.value)
			if tt.want == "" {
				if err != nil {
					t.Errorf("CheckRules(%v) = %v, want nil", tt.value, err)
				}
				return
			}
			if err == nil {
				t.Fatalf("CheckRules(%v) = nil, want %s", tt.value, tt.want)
			}
			if err.Constraint != tt.want {
				t.Errorf("Constraint = %s, want %s", err.Constraint, tt.want)
			}
			if err.Field != "f" {
				t.Errorf("Field = %q, want %q", err.Field, "f")
			}
		})
	}
}

func TestConstraintErrorMessage(t *testing.T) {
	f := Field{Name: "source", Type: String, Choices: []any{"a", "b"}}
	err := f.CheckRules("c")
	if err == nil {
		t.Fatal("expected choices violation")
	}

	want := `source: choices: expected one of [a, b], got "c"`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestValuesEqual(t *testing.T) {
	at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"int and float", 5, 5.0, true},
		{"different numbers", 5, 6, false},
		{"number and string", 5, "5", false},
		{"same instant", at, at.In(time.FixedZone("x", 3600)), true},
		{"strings", "a", "a", true},
		{"slices", []any{1, "a"}, []any{1, "a"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValuesEqual(tt.a, tt.b); got != tt.want {
				t.Errorf("ValuesEqual(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
