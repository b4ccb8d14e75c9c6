package schema

import (
	"encoding/json"
	"fmt"
)

// Object is a validated JSON object. Values are string, int64, float64, bool,
// Object or []any, as declared by the schema that produced it.
type Object map[string]any

// String returns a string field.
func (o Object) String(name string) (string, bool) {
	v, ok := o[name].(string)
	return v, ok
}

// Int returns an integer field.
func (o Object) Int(name string) (int64, bool) {
	v, ok := o[name].(int64)
	return v, ok
}

// Float returns a number field.
func (o Object) Float(name string) (float64, bool) {
	v, ok := o[name].(float64)
	return v, ok
}

// Bool returns a boolean field.
func (o Object) Bool(name string) (bool, bool) {
	v, ok := o[name].(bool)
	return v, ok
}

// Object returns a nested object field.
func (o Object) Object(name string) (Object, bool) {
	v, ok := o[name].(Object)
	return v, ok
}

// Array returns an array field.
func (o Object) Array(name string) ([]any, bool) {
	v, ok := o[name].([]any)
	return v, ok
}

// Decode copies the object into v, which should be a pointer to a struct
// with json tags matching the schema's field names.
func (o Object) Decode(v any) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal validated object: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode validated object: %w", err)
	}
	return nil
}
