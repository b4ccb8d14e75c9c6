package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"slices"
	"strconv"
	"unicode/utf8"
)

// Validation failure reasons
const (
	ReasonMissing    = "missing_field"
	ReasonType       = "type_mismatch"
	ReasonConstraint = "constraint_violation"
)

// ValidationError reports the first field of a document that does not satisfy
// the schema. Field is a dotted path ("company.name", "tags[2]"); it is empty
// when the document root itself has the wrong type.
type ValidationError struct {
	Field    string `json:"field"`
	Reason   string `json:"reason"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	field := e.Field
	if field == "" {
		field = "<root>"
	}
	switch e.Reason {
	case ReasonMissing:
		return fmt.Sprintf("field %q: required field is missing", field)
	case ReasonType:
		return fmt.Sprintf("field %q: expected %s, got %s", field, e.Expected, e.Actual)
	default:
		return fmt.Sprintf("field %q: %s", field, e.Message)
	}
}

// Validate checks a decoded JSON document against the schema and returns the
// typed object. Validation is all-or-nothing: on any violation no object is
// returned. Fields are checked in declaration order, so the reported field is
// deterministic.
//
// Accepted inputs are the values produced by encoding/json (with or without
// UseNumber) plus Go integer types. Output values are string, int64, float64,
// bool, Object and []any. Fields not declared in the schema are ignored and
// dropped; a null optional field is treated as absent.
func (s *Schema) Validate(doc any) (Object, error) {
	m, ok := asMap(doc)
	if !ok {
		return nil, &ValidationError{
			Reason:   ReasonType,
			Expected: KindObject.String(),
			Actual:   jsonType(doc),
		}
	}
	return s.validateObject("", m)
}

func (s *Schema) validateObject(prefix string, m map[string]any) (Object, error) {
	out := make(Object, len(s.fields))
	for _, f := range s.fields {
		path := joinPath(prefix, f.Name)
		raw, present := m[f.Name]
		if !present || raw == nil {
			if f.Optional {
				continue
			}
			if !present {
				return nil, &ValidationError{Field: path, Reason: ReasonMissing, Expected: f.Kind.String()}
			}
		}
		v, err := validateValue(path, f, raw)
		if err != nil {
			return nil, err
		}
		out[f.Name] = v
	}
	return out, nil
}

func validateValue(path string, f Field, raw any) (any, error) {
	mismatch := func() error {
		return &ValidationError{Field: path, Reason: ReasonType, Expected: f.Kind.String(), Actual: jsonType(raw)}
	}

	switch f.Kind {
	case KindString:
		s, ok := raw.(string)
		if !ok {
			return nil, mismatch()
		}
		if err := checkString(path, f, s); err != nil {
			return nil, err
		}
		return s, nil

	case KindInteger:
		n, ok := toInt64(raw)
		if !ok {
			if integralNumber(raw) {
				return nil, constraint(path, "value %v is out of range for a 64-bit integer", raw)
			}
			return nil, mismatch()
		}
		if err := checkIntBounds(path, f, n); err != nil {
			return nil, err
		}
		return n, nil

	case KindFloat:
		x, ok := toFloat64(raw)
		if !ok {
			if num, isNum := raw.(json.Number); isNum && outOfFloatRange(num) {
				return nil, constraint(path, "value %v is out of range for a 64-bit float", raw)
			}
			return nil, mismatch()
		}
		if err := checkBounds(path, f, x); err != nil {
			return nil, err
		}
		return x, nil

	case KindBoolean:
		b, ok := raw.(bool)
		if !ok {
			return nil, mismatch()
		}
		return b, nil

	case KindObject:
		m, ok := asMap(raw)
		if !ok {
			return nil, mismatch()
		}
		return f.Schema.validateObject(path, m)

	case KindArray:
		items, ok := raw.([]any)
		if !ok {
			return nil, mismatch()
		}
		if f.MinItems != nil && len(items) < *f.MinItems {
			return nil, constraint(path, "array has %d items, fewer than %d", len(items), *f.MinItems)
		}
		if f.MaxItems != nil && len(items) > *f.MaxItems {
			return nil, constraint(path, "array has %d items, more than %d", len(items), *f.MaxItems)
		}
		out := make([]any, len(items))
		for i, item := range items {
			itemPath := fmt.Sprintf("%s[%d]", path, i)
			v, err := validateValue(itemPath, *f.Items, item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}

	return nil, mismatch()
}

func checkString(path string, f Field, s string) error {
	n := utf8.RuneCountInString(s)
	if f.MinLength != nil && n < *f.MinLength {
		return constraint(path, "string length %d is below minimum %d", n, *f.MinLength)
	}
	if f.MaxLength != nil && n > *f.MaxLength {
		return constraint(path, "string length %d exceeds maximum %d", n, *f.MaxLength)
	}
	if f.pattern != nil && !f.pattern.MatchString(s) {
		return constraint(path, "string does not match pattern %s", f.Pattern)
	}
	if len(f.Enum) > 0 && !slices.Contains(f.Enum, s) {
		return constraint(path, "value %q is not one of %v", s, f.Enum)
	}
	return nil
}

func checkBounds(path string, f Field, x float64) error {
	if f.Minimum != nil && x < *f.Minimum {
		return constraint(path, "value %v is below minimum %v", x, *f.Minimum)
	}
	if f.Maximum != nil && x > *f.Maximum {
		return constraint(path, "value %v exceeds maximum %v", x, *f.Maximum)
	}
	return nil
}

// checkIntBounds compares exactly, so values above 2^53 are not rounded
// onto a bound.
func checkIntBounds(path string, f Field, n int64) error {
	v := new(big.Float).SetInt64(n)
	if f.Minimum != nil && v.Cmp(big.NewFloat(*f.Minimum)) < 0 {
		return constraint(path, "value %d is below minimum %v", n, *f.Minimum)
	}
	if f.Maximum != nil && v.Cmp(big.NewFloat(*f.Maximum)) > 0 {
		return constraint(path, "value %d exceeds maximum %v", n, *f.Maximum)
	}
	return nil
}

// integralNumber reports whether raw is a JSON number with an integral value,
// whatever its magnitude.
func integralNumber(raw any) bool {
	n, ok := raw.(json.Number)
	if !ok {
		return false
	}
	v, _, err := big.ParseFloat(string(n), 10, 256, big.ToNearestEven)
	return err == nil && v.IsInt()
}

func outOfFloatRange(n json.Number) bool {
	_, err := strconv.ParseFloat(string(n), 64)
	return errors.Is(err, strconv.ErrRange)
}

func constraint(path, format string, args ...any) error {
	return &ValidationError{Field: path, Reason: ReasonConstraint, Message: fmt.Sprintf(format, args...)}
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Object:
		return m, true
	default:
		return nil, false
	}
}

// toInt64 accepts integral numbers only. 150000 and 1.5e5 pass, 1.5 does not.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := strconv.ParseFloat(string(n), 64)
		if err != nil {
			return 0, false
		}
		return floatToInt64(f)
	case float64:
		return floatToInt64(n)
	case float32:
		return floatToInt64(float64(n))
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	default:
		return 0, false
	}
}

func floatToInt64(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

// jsonType names the JSON type of a decoded value for error messages.
func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float64, float32, int, int8, int16, int32, int64, uint8, uint16, uint32:
		return "number"
	case map[string]any, Object:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}
