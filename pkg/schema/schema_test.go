package schema

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsInvalidDefinitions(t *testing.T) {
	nested := MustNew(String("name"))

	tests := []struct {
		name   string
		fields []Field
		errMsg string
	}{
		{"empty name", []Field{String("")}, "empty name"},
		{"duplicate", []Field{String("a"), Integer("a")}, "duplicate field"},
		{"unknown kind", []Field{{Name: "a", Kind: Kind(42)}}, "unsupported kind"},
		{"object without schema", []Field{{Name: "a", Kind: KindObject}}, "no nested schema"},
		{"array without items", []Field{{Name: "a", Kind: KindArray}}, "no item definition"},
		{"bad pattern", []Field{String("a").WithPattern("([")}, "invalid pattern"},
		{"enum on integer", []Field{Integer("a").WithEnum("x")}, "string constraints"},
		{"bounds on string", []Field{String("a").WithMin(1)}, "numeric bounds"},
		{"items on bool", []Field{{Name: "a", Kind: KindBoolean, Items: &Field{Kind: KindString}}}, "array constraints"},
		{"schema on string", []Field{{Name: "a", Kind: KindString, Schema: nested}}, "nested schema"},
		{"min over max", []Field{Float("a").WithRange(5, 1)}, "exceeds maximum"},
		{"length inverted", []Field{String("a").WithMinLength(3).WithMaxLength(1)}, "exceeds max length"},
		{"negative length", []Field{String("a").WithMinLength(-1)}, "negative min length"},
		{"items inverted", []Field{ArrayOf("a", String("")).WithItemCount(3, 1)}, "exceeds max items"},
		{"bad item", []Field{ArrayOf("a", Field{Kind: KindObject})}, `"a[]"`},
		{"infinite maximum", []Field{Integer("a").WithMax(math.Inf(1))}, "maximum must be finite"},
		{"infinite minimum", []Field{Float("a").WithMin(math.Inf(-1))}, "minimum must be finite"},
		{"NaN minimum", []Field{Float("a").WithMin(math.NaN())}, "minimum must be finite"},
		{"NaN item bound", []Field{ArrayOf("a", Float("").WithMax(math.NaN()))}, "maximum must be finite"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.fields...)
			require.Error(t, err)
			assert.Nil(t, s)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestNew_DetachedFromCallerValues(t *testing.T) {
	values := []string{"junior", "senior"}
	s := MustNew(String("level").WithEnum(values...))

	values[0] = "intern"
	_, err := s.Validate(map[string]any{"level": "junior"})
	require.NoError(t, err)

	f, ok := s.Field("level")
	require.True(t, ok)
	f.Enum[1] = "intern"
	s.Fields()[0].Enum[0] = "intern"
	_, err = s.Validate(map[string]any{"level": "senior"})
	require.NoError(t, err)
	_, err = s.Validate(map[string]any{"level": "intern"})
	require.Error(t, err)
}

func TestMustNew_Panics(t *testing.T) {
	assert.Panics(t, func() { MustNew(String("a"), String("a")) })
}

func TestSchema_FieldsAndRequired(t *testing.T) {
	s := MustNew(
		String("cpu_name"),
		Integer("core_count"),
		Float("base_clock_ghz").AsOptional(),
		Boolean("supports_pcie_5"),
	)

	assert.Equal(t, []string{"cpu_name", "core_count", "supports_pcie_5"}, s.Required())

	names := make([]string, 0)
	for _, f := range s.Fields() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"cpu_name", "core_count", "base_clock_ghz", "supports_pcie_5"}, names)

	f, ok := s.Field("base_clock_ghz")
	require.True(t, ok)
	assert.Equal(t, KindFloat, f.Kind)
	assert.True(t, f.Optional)

	_, ok = s.Field("missing")
	assert.False(t, ok)
}

func TestSchema_FieldsReturnsCopy(t *testing.T) {
	s := MustNew(String("a"))
	fields := s.Fields()
	fields[0].Name = "changed"

	f, ok := s.Field("a")
	require.True(t, ok)
	assert.Equal(t, "a", f.Name)
}

func TestParseKind(t *testing.T) {
	for name, want := range map[string]Kind{
		"str": KindString, "string": KindString,
		"int": KindInteger, "integer": KindInteger,
		"float": KindFloat, "number": KindFloat,
		"bool": KindBoolean, "boolean": KindBoolean,
		"object": KindObject, "array": KindArray, "list": KindArray,
	} {
		got, err := ParseKind(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseKind("date")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unsupported field type"))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "number", KindFloat.String())
	assert.Equal(t, "boolean", KindBoolean.String())
	assert.Equal(t, "kind(99)", Kind(99).String())
}
