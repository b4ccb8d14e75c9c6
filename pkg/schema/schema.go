// Package schema describes the expected shape of structured model output and
// validates decoded JSON documents against it.
package schema

import (
	"fmt"
	"math"
	"regexp"
	"slices"

	"github.com/samber/lo"
)

// Kind is the closed set of value types a field can declare.
type Kind int

const (
	KindString Kind = iota + 1
	KindInteger
	KindFloat
	KindBoolean
	KindObject
	KindArray
)

// String returns the JSON Schema type name for the kind.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps a type name (JSON Schema or common alias) to a Kind.
func ParseKind(name string) (Kind, error) {
	switch name {
	case "string", "str":
		return KindString, nil
	case "integer", "int":
		return KindInteger, nil
	case "number", "float":
		return KindFloat, nil
	case "boolean", "bool":
		return KindBoolean, nil
	case "object":
		return KindObject, nil
	case "array", "list":
		return KindArray, nil
	default:
		return 0, fmt.Errorf("unsupported field type %q", name)
	}
}

// Field describes one named value of a Schema.
// Fields are required unless Optional is set.
type Field struct {
	Name        string
	Kind        Kind
	Optional    bool
	Description string

	// String constraints
	Enum      []string
	MinLength *int
	MaxLength *int
	Pattern   string

	// Numeric constraints
	Minimum *float64
	Maximum *float64

	// Array constraints; Items describes every element
	MinItems *int
	MaxItems *int
	Items    *Field

	// Nested object shape for KindObject
	Schema *Schema

	pattern *regexp.Regexp
}

// String creates a required string field.
func String(name string) Field {
	return Field{Name: name, Kind: KindString}
}

// Integer creates a required integer field.
func Integer(name string) Field {
	return Field{Name: name, Kind: KindInteger}
}

// Float creates a required number field.
func Float(name string) Field {
	return Field{Name: name, Kind: KindFloat}
}

// Boolean creates a required boolean field.
func Boolean(name string) Field {
	return Field{Name: name, Kind: KindBoolean}
}

// ObjectOf creates a required nested object field.
func ObjectOf(name string, nested *Schema) Field {
	return Field{Name: name, Kind: KindObject, Schema: nested}
}

// ArrayOf creates a required array field whose elements match item.
// The item's name and Optional flag are ignored.
func ArrayOf(name string, item Field) Field {
	return Field{Name: name, Kind: KindArray, Items: &item}
}

// AsOptional marks the field as optional.
func (f Field) AsOptional() Field {
	f.Optional = true
	return f
}

// WithDescription sets the description rendered into the model instruction.
func (f Field) WithDescription(description string) Field {
	f.Description = description
	return f
}

// WithEnum restricts a string field to the given values.
func (f Field) WithEnum(values ...string) Field {
	f.Enum = values
	return f
}

// WithMinLength sets a minimum string length in characters.
func (f Field) WithMinLength(n int) Field {
	f.MinLength = &n
	return f
}

// WithMaxLength sets a maximum string length in characters.
func (f Field) WithMaxLength(n int) Field {
	f.MaxLength = &n
	return f
}

// WithPattern sets a regular expression a string field must match.
func (f Field) WithPattern(pattern string) Field {
	f.Pattern = pattern
	return f
}

// WithMin sets an inclusive lower bound on a numeric field.
func (f Field) WithMin(min float64) Field {
	f.Minimum = &min
	return f
}

// WithMax sets an inclusive upper bound on a numeric field.
func (f Field) WithMax(max float64) Field {
	f.Maximum = &max
	return f
}

// WithRange sets inclusive bounds on a numeric field.
func (f Field) WithRange(min, max float64) Field {
	return f.WithMin(min).WithMax(max)
}

// WithItemCount bounds the number of array elements. Negative values are unbounded.
func (f Field) WithItemCount(min, max int) Field {
	if min >= 0 {
		f.MinItems = &min
	}
	if max >= 0 {
		f.MaxItems = &max
	}
	return f
}

// Schema is an ordered, immutable set of fields describing a JSON object.
// Use New to construct one; the zero value has no fields.
type Schema struct {
	description string
	fields      []Field
	index       map[string]int
}

// New builds a Schema, rejecting definitions the validator cannot check.
func New(fields ...Field) (*Schema, error) {
	s := &Schema{
		fields: make([]Field, 0, len(fields)),
		index:  make(map[string]int, len(fields)),
	}

	for _, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("schema: field at position %d has empty name", len(s.fields))
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, fmt.Errorf("schema: duplicate field %q", f.Name)
		}
		checked, err := prepareField(f.Name, f)
		if err != nil {
			return nil, err
		}
		s.index[f.Name] = len(s.fields)
		s.fields = append(s.fields, checked)
	}

	return s, nil
}

// MustNew is like New but panics on an invalid definition.
// Intended for package-level schema variables.
func MustNew(fields ...Field) *Schema {
	s, err := New(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// WithDescription returns a copy of the schema carrying a top-level description.
func (s *Schema) WithDescription(description string) *Schema {
	cp := *s
	cp.description = description
	return &cp
}

// Description returns the top-level description.
func (s *Schema) Description() string {
	return s.description
}

// Fields returns the fields in declaration order.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	for i, f := range s.fields {
		out[i] = f.detached()
	}
	return out
}

// Field looks up a field by name.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i].detached(), true
}

// Required returns the names of required fields in declaration order.
func (s *Schema) Required() []string {
	return lo.FilterMap(s.fields, func(f Field, _ int) (string, bool) {
		return f.Name, !f.Optional
	})
}

// prepareField checks a field definition and compiles its pattern.
func prepareField(path string, f Field) (Field, error) {
	switch f.Kind {
	case KindString, KindInteger, KindFloat, KindBoolean, KindObject, KindArray:
	default:
		return f, fmt.Errorf("schema: field %q has unsupported kind %v", path, f.Kind)
	}

	if f.Kind != KindString && (len(f.Enum) > 0 || f.MinLength != nil || f.MaxLength != nil || f.Pattern != "") {
		return f, fmt.Errorf("schema: field %q: string constraints on %s field", path, f.Kind)
	}
	if f.Kind != KindInteger && f.Kind != KindFloat && (f.Minimum != nil || f.Maximum != nil) {
		return f, fmt.Errorf("schema: field %q: numeric bounds on %s field", path, f.Kind)
	}
	if f.Kind != KindArray && (f.MinItems != nil || f.MaxItems != nil || f.Items != nil) {
		return f, fmt.Errorf("schema: field %q: array constraints on %s field", path, f.Kind)
	}
	if f.Kind != KindObject && f.Schema != nil {
		return f, fmt.Errorf("schema: field %q: nested schema on %s field", path, f.Kind)
	}

	if f.MinLength != nil && *f.MinLength < 0 {
		return f, fmt.Errorf("schema: field %q: negative min length", path)
	}
	if f.MinLength != nil && f.MaxLength != nil && *f.MinLength > *f.MaxLength {
		return f, fmt.Errorf("schema: field %q: min length %d exceeds max length %d", path, *f.MinLength, *f.MaxLength)
	}
	if f.Minimum != nil && !isFinite(*f.Minimum) {
		return f, fmt.Errorf("schema: field %q: minimum must be finite, got %v", path, *f.Minimum)
	}
	if f.Maximum != nil && !isFinite(*f.Maximum) {
		return f, fmt.Errorf("schema: field %q: maximum must be finite, got %v", path, *f.Maximum)
	}
	if f.Minimum != nil && f.Maximum != nil && *f.Minimum > *f.Maximum {
		return f, fmt.Errorf("schema: field %q: minimum %v exceeds maximum %v", path, *f.Minimum, *f.Maximum)
	}
	if f.MinItems != nil && f.MaxItems != nil && *f.MinItems > *f.MaxItems {
		return f, fmt.Errorf("schema: field %q: min items %d exceeds max items %d", path, *f.MinItems, *f.MaxItems)
	}

	f = f.detached()

	if f.Pattern != "" {
		re, err := regexp.Compile(f.Pattern)
		if err != nil {
			return f, fmt.Errorf("schema: field %q: invalid pattern: %w", path, err)
		}
		f.pattern = re
	}

	switch f.Kind {
	case KindObject:
		if f.Schema == nil {
			return f, fmt.Errorf("schema: object field %q has no nested schema", path)
		}
	case KindArray:
		if f.Items == nil {
			return f, fmt.Errorf("schema: array field %q has no item definition", path)
		}
		item, err := prepareField(path+"[]", *f.Items)
		if err != nil {
			return f, err
		}
		f.Items = &item
	}

	return f, nil
}

// detached copies the constraint values so that no slice or pointer is
// shared between the caller and a Schema.
func (f Field) detached() Field {
	f.Enum = slices.Clone(f.Enum)
	f.MinLength = clonePtr(f.MinLength)
	f.MaxLength = clonePtr(f.MaxLength)
	f.Minimum = clonePtr(f.Minimum)
	f.Maximum = clonePtr(f.Maximum)
	f.MinItems = clonePtr(f.MinItems)
	f.MaxItems = clonePtr(f.MaxItems)
	return f
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
