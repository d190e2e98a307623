package tools

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSchemaFromStructDerivesFields(t *testing.T) {
	t.Parallel()

	s, err := SchemaFromStruct(&weighParams{})
	if err != nil {
		t.Fatalf("SchemaFromStruct() error = %v", err)
	}
	if len(s.Fields) != 2 {
		t.Fatalf("Fields len = %d, want 2", len(s.Fields))
	}

	criterion, weight := s.Fields[0], s.Fields[1]
	if criterion.Name != "criterion" || criterion.Type != FieldString || !criterion.Required {
		t.Fatalf("criterion field = %+v", criterion)
	}
	if criterion.MinLength == nil || *criterion.MinLength != 2 || criterion.MaxLength == nil || *criterion.MaxLength != 80 {
		t.Fatalf("criterion bounds = %v..%v", criterion.MinLength, criterion.MaxLength)
	}
	if weight.Type != FieldNumber || weight.Minimum == nil || *weight.Minimum != 1 || *weight.Maximum != 10 {
		t.Fatalf("weight field = %+v", weight)
	}
	if !json.Valid(s.Raw) {
		t.Fatalf("Raw is not valid JSON: %s", s.Raw)
	}
}

func TestSchemaOptionalFieldsAndEmptySchema(t *testing.T) {
	t.Parallel()

	s := MustSchema(tenTenTenParams{})
	var names []string
	for _, f := range s.RequiredFields() {
		names = append(names, f.Name)
	}
	if diff := cmp.Diff([]string{"option"}, names); diff != "" {
		t.Fatalf("RequiredFields() mismatch (-want +got):\n%s", diff)
	}
	if !s.NeedsInput() {
		t.Fatalf("NeedsInput() = false, want true")
	}
	if EmptySchema().NeedsInput() {
		t.Fatalf("EmptySchema().NeedsInput() = true")
	}
	if _, err := SchemaFromStruct("nope"); err == nil {
		t.Fatalf("SchemaFromStruct(string) error = nil")
	}
}

func TestSchemaValidate(t *testing.T) {
	t.Parallel()

	s := MustSchema(weighParams{})
	tests := []struct {
		name   string
		values map[string]any
		want   map[string]any
		errs   map[string]string
	}{
		{
			name:   "valid with numeric string",
			values: map[string]any{"criterion": " Cost ", "weight": "7", "extra": "ignored"},
			want:   map[string]any{"criterion": "Cost", "weight": 7.0},
		},
		{
			name:   "missing everything",
			values: map[string]any{"criterion": "   "},
			errs:   map[string]string{"criterion": "Criterion is required", "weight": "Weight is required"},
		},
		{
			name:   "out of bounds",
			values: map[string]any{"criterion": "x", "weight": 11},
			errs: map[string]string{
				"criterion": "Criterion must be at least 2 characters",
				"weight":    "Weight must be at most 10",
			},
		},
		{
			name:   "not a number",
			values: map[string]any{"criterion": "Cost", "weight": "lots"},
			errs:   map[string]string{"weight": "Weight must be a number"},
		},
		{
			name:   "nan",
			values: map[string]any{"criterion": "Salary", "weight": "NaN"},
			errs:   map[string]string{"weight": "Weight must be a number"},
		},
		{
			name:   "infinity",
			values: map[string]any{"criterion": "Salary", "weight": math.Inf(1)},
			errs:   map[string]string{"weight": "Weight must be a number"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := s.Validate(tt.values)
			if tt.errs == nil {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				if diff := cmp.Diff(tt.want, got); diff != "" {
					t.Fatalf("Validate() mismatch (-want +got):\n%s", diff)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error = %v, want *ValidationError", err)
			}
			if diff := cmp.Diff(tt.errs, verr.Fields); diff != "" {
				t.Fatalf("field errors mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSchemaValidateDropsEmptyOptional(t *testing.T) {
	t.Parallel()

	got, err := MustSchema(tenTenTenParams{}).Validate(map[string]any{"option": "Move abroad", "notes": "  "})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if _, ok := got["notes"]; ok {
		t.Fatalf("Validate() kept empty optional notes: %v", got)
	}
}

func TestParseSchema(t *testing.T) {
	t.Parallel()

	s, err := ParseSchema(json.RawMessage(`{"type":"object","properties":{"count":{"type":"integer","minimum":1},"label":{"type":"string"}},"required":["count"]}`))
	if err != nil {
		t.Fatalf("ParseSchema() error = %v", err)
	}
	if _, err := s.Validate(map[string]any{"count": 2.5}); err == nil {
		t.Fatalf("Validate(2.5) error = nil, want whole number error")
	}
	got, err := s.Validate(map[string]any{"count": json.Number("3")})
	if err != nil {
		t.Fatalf("Validate(3) error = %v", err)
	}
	if got["count"] != 3.0 {
		t.Fatalf("count = %v, want 3", got["count"])
	}

	if _, err := ParseSchema(json.RawMessage(`{"type":"array"}`)); err == nil {
		t.Fatalf("ParseSchema(array) error = nil")
	}
	if _, err := ParseSchema(json.RawMessage(`{`)); err == nil {
		t.Fatalf("ParseSchema(bad json) error = nil")
	}
}

func TestValidationErrorMessageIsSorted(t *testing.T) {
	t.Parallel()

	err := &ValidationError{Fields: map[string]string{"b": "second", "a": "first"}}
	if got, want := err.Error(), "invalid tool input: a: first; b: second"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}
