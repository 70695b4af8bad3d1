package util

import (
	"fmt"
	"reflect"
	"strings"
)

// SchemaError describes a document that does not match a schema.
type SchemaError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface for SchemaError.
func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error for field '%s': %s", e.Field, e.Message)
}

// Schema lists the top-level JSON fields of a struct with their kind.
// Fields without omitempty are required.
type Schema struct {
	fields []schemaField
}

type schemaField struct {
	name     string
	kind     string
	required bool
}

// SchemaOf derives a Schema from the json tags of a struct value.
func SchemaOf(v any) Schema {
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	var s Schema
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if !f.IsExported() || tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		if name == "" {
			name = f.Name
		}
		s.fields = append(s.fields, schemaField{
			name:     name,
			kind:     jsonKind(f.Type),
			required: !strings.Contains(opts, "omitempty") && f.Type.Kind() != reflect.Ptr,
		})
	}
	return s
}

// Validate checks a decoded JSON object: required fields must exist and
// known fields must hold the expected kind. Extra fields and nulls pass.
func (s Schema) Validate(doc map[string]any) error {
	for _, f := range s.fields {
		v, ok := doc[f.name]
		if !ok {
			if f.required {
				return &SchemaError{Field: f.name, Message: "required field is missing"}
			}
			continue
		}
		if v != nil && !hasKind(v, f.kind) {
			return &SchemaError{Field: f.name, Message: fmt.Sprintf("expected %s, got %T", f.kind, v)}
		}
	}
	return nil
}

func jsonKind(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Ptr:
		return jsonKind(t.Elem())
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "number"
	}
	return "string"
}

func hasKind(v any, kind string) bool {
	switch v.(type) {
	case string:
		return kind == "string"
	case []any:
		return kind == "array"
	case map[string]any:
		return kind == "object"
	case bool:
		return kind == "boolean"
	case float64:
		return kind == "number"
	}
	return false
}
