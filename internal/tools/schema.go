package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/invopop/jsonschema"
)

var schemaReflector = jsonschema.Reflector{
	DoNotReference:            true,
	AllowAdditionalProperties: false,
}

// FieldType is the JSON type of one input field.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldInteger FieldType = "integer"
	FieldBoolean FieldType = "boolean"
)

// Field is one form input derived from a tool schema.
type Field struct {
	Name        string
	Title       string
	Description string
	Type        FieldType
	Required    bool
	MinLength   *int
	MaxLength   *int
	Minimum     *float64
	Maximum     *float64
}

// Label is the human-readable field name.
func (f Field) Label() string {
	if f.Title != "" {
		return f.Title
	}
	return f.Name
}

// Schema is a tool's input schema with its fields in declaration order.
type Schema struct {
	Raw    json.RawMessage
	Fields []Field
}

// EmptySchema is the schema of tools that take no input.
func EmptySchema() Schema {
	return Schema{Raw: json.RawMessage(`{"type":"object","properties":{}}`)}
}

// SchemaFromStruct reflects params into a schema. Fields without omitempty are
// required; jsonschema tags set titles and bounds.
func SchemaFromStruct(params any) (Schema, error) {
	t := reflect.TypeOf(params)
	if t == nil {
		return Schema{}, fmt.Errorf("schema struct is nil")
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return Schema{}, fmt.Errorf("schema struct must be a struct or pointer to struct, got %s", t.Kind())
	}
	return fromJSONSchema(schemaReflector.Reflect(reflect.New(t).Interface()))
}

// MustSchema is SchemaFromStruct for package-level tool definitions.
func MustSchema(params any) Schema {
	s, err := SchemaFromStruct(params)
	if err != nil {
		panic(err)
	}
	return s
}

// ParseSchema decodes a raw JSON object schema.
func ParseSchema(raw json.RawMessage) (Schema, error) {
	var js jsonschema.Schema
	if err := json.Unmarshal(raw, &js); err != nil {
		return Schema{}, fmt.Errorf("decode schema: %w", err)
	}
	return fromJSONSchema(&js)
}

func fromJSONSchema(js *jsonschema.Schema) (Schema, error) {
	if js.Type != "" && js.Type != "object" {
		return Schema{}, fmt.Errorf("schema type must be object, got %q", js.Type)
	}
	raw, err := json.Marshal(js)
	if err != nil {
		return Schema{}, fmt.Errorf("marshal schema: %w", err)
	}

	required := make(map[string]bool, len(js.Required))
	for _, name := range js.Required {
		required[name] = true
	}

	var fields []Field
	if js.Properties != nil {
		for pair := js.Properties.Oldest(); pair != nil; pair = pair.Next() {
			prop := pair.Value
			field := Field{
				Name:        pair.Key,
				Title:       prop.Title,
				Description: prop.Description,
				Type:        FieldType(prop.Type),
				Required:    required[pair.Key],
				MinLength:   uintPtr(prop.MinLength),
				MaxLength:   uintPtr(prop.MaxLength),
				Minimum:     numberPtr(prop.Minimum),
				Maximum:     numberPtr(prop.Maximum),
			}
			if field.Type == "" {
				field.Type = FieldString
			}
			fields = append(fields, field)
		}
	}
	return Schema{Raw: raw, Fields: fields}, nil
}

// RequiredFields returns the fields a user must fill in.
func (s Schema) RequiredFields() []Field {
	var out []Field
	for _, f := range s.Fields {
		if f.Required {
			out = append(out, f)
		}
	}
	return out
}

// NeedsInput reports whether the tool cannot run with empty values.
func (s Schema) NeedsInput() bool {
	return len(s.RequiredFields()) > 0
}

// ValidationError reports per-field problems, keyed by field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for name, msg := range e.Fields {
		parts = append(parts, name+": "+msg)
	}
	sort.Strings(parts)
	return "invalid tool input: " + strings.Join(parts, "; ")
}

// Validate checks values against the schema and returns them normalized:
// strings trimmed, numeric strings parsed, unknown keys dropped, empty
// optional fields omitted.
func (s Schema) Validate(values map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(s.Fields))
	problems := map[string]string{}

	for _, f := range s.Fields {
		raw, present := values[f.Name]
		if present {
			if str, ok := raw.(string); ok && strings.TrimSpace(str) == "" {
				present = false
			}
		}
		if !present || raw == nil {
			if f.Required {
				problems[f.Name] = f.Label() + " is required"
			}
			continue
		}

		switch f.Type {
		case FieldNumber, FieldInteger:
			n, err := toNumber(raw)
			if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
				problems[f.Name] = f.Label() + " must be a number"
				continue
			}
			if f.Type == FieldInteger && n != float64(int64(n)) {
				problems[f.Name] = f.Label() + " must be a whole number"
				continue
			}
			if f.Minimum != nil && n < *f.Minimum {
				problems[f.Name] = fmt.Sprintf("%s must be at least %s", f.Label(), formatNumber(*f.Minimum))
				continue
			}
			if f.Maximum != nil && n > *f.Maximum {
				problems[f.Name] = fmt.Sprintf("%s must be at most %s", f.Label(), formatNumber(*f.Maximum))
				continue
			}
			out[f.Name] = n
		case FieldBoolean:
			b, err := toBool(raw)
			if err != nil {
				problems[f.Name] = f.Label() + " must be yes or no"
				continue
			}
			out[f.Name] = b
		default:
			str := strings.TrimSpace(fmt.Sprint(raw))
			n := utf8.RuneCountInString(str)
			if f.MinLength != nil && n < *f.MinLength {
				problems[f.Name] = fmt.Sprintf("%s must be at least %d characters", f.Label(), *f.MinLength)
				continue
			}
			if f.MaxLength != nil && n > *f.MaxLength {
				problems[f.Name] = fmt.Sprintf("%s must be at most %d characters", f.Label(), *f.MaxLength)
				continue
			}
			out[f.Name] = str
		}
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Fields: problems}
	}
	return out, nil
}

func toNumber(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		return strconv.ParseBool(strings.TrimSpace(b))
	default:
		return false, fmt.Errorf("not a boolean: %T", v)
	}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func uintPtr(v *uint64) *int {
	if v == nil {
		return nil
	}
	n := int(*v)
	return &n
}

func numberPtr(v json.Number) *float64 {
	if v == "" {
		return nil
	}
	f, err := v.Float64()
	if err != nil {
		return nil
	}
	return &f
}
