package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var scalarKinds = []Kind{KindString, KindInteger, KindFloat, KindBoolean}

// drawSchema draws a flat schema of 1..6 uniquely named scalar fields.
func drawSchema(rt *rapid.T) *Schema {
	names := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z][a-z_]{1,11}`), 1, 6, rapid.ID[string]).Draw(rt, "names")
	fields := make([]Field, len(names))
	for i, name := range names {
		kind := rapid.SampledFrom(scalarKinds).Draw(rt, fmt.Sprintf("kind_%s", name))
		fields[i] = Field{Name: name, Kind: kind}
	}
	return MustNew(fields...)
}

// drawValue draws a Go value of the type Validate produces for kind.
func drawValue(rt *rapid.T, kind Kind, label string) any {
	switch kind {
	case KindString:
		return rapid.String().Draw(rt, label)
	case KindInteger:
		return rapid.Int64Range(-1<<52, 1<<52).Draw(rt, label)
	case KindFloat:
		return rapid.Float64Range(-1e9, 1e9).Draw(rt, label)
	default:
		return rapid.Bool().Draw(rt, label)
	}
}

func drawConforming(rt *rapid.T, s *Schema) map[string]any {
	doc := make(map[string]any)
	for _, f := range s.Fields() {
		doc[f.Name] = drawValue(rt, f.Kind, f.Name)
	}
	return doc
}

// Conforming documents round-trip through JSON and validate to identical fields.
func TestProperty_ValidateRoundTripIdentity(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := drawSchema(rt)
		doc := drawConforming(rt, s)

		data, err := json.Marshal(doc)
		require.NoError(rt, err)

		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var parsed any
		require.NoError(rt, dec.Decode(&parsed))

		obj, err := s.Validate(parsed)
		require.NoError(rt, err)
		require.Len(rt, obj, len(doc))
		for name, want := range doc {
			assert.Equal(rt, want, obj[name], "field %s", name)
		}
	})
}

// Removing any required field yields a ValidationError naming exactly that field.
func TestProperty_MissingRequiredFieldIsNamed(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := drawSchema(rt)
		doc := drawConforming(rt, s)
		missing := rapid.SampledFrom(s.Required()).Draw(rt, "missing")
		delete(doc, missing)

		obj, err := s.Validate(doc)
		assert.Nil(rt, obj)

		var verr *ValidationError
		require.ErrorAs(rt, err, &verr)
		assert.Equal(rt, missing, verr.Field)
		assert.Equal(rt, ReasonMissing, verr.Reason)
	})
}

// A value of the wrong JSON type is always reported against its field.
func TestProperty_TypeMismatchIsNamed(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := drawSchema(rt)
		doc := drawConforming(rt, s)
		target := rapid.SampledFrom(s.Fields()).Draw(rt, "target")

		switch target.Kind {
		case KindString:
			doc[target.Name] = rapid.Bool().Draw(rt, "wrong")
		case KindBoolean:
			doc[target.Name] = gofakeit.Word()
		default:
			doc[target.Name] = []any{gofakeit.Word()}
		}

		_, err := s.Validate(doc)
		var verr *ValidationError
		require.ErrorAs(rt, err, &verr)
		assert.Equal(rt, target.Name, verr.Field)
		assert.Equal(rt, ReasonType, verr.Reason)
	})
}

// Unknown fields never change the outcome.
func TestProperty_ExtraFieldsIgnored(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := drawSchema(rt)
		doc := drawConforming(rt, s)

		want, err := s.Validate(doc)
		require.NoError(rt, err)

		extra := rapid.StringMatching(`X[a-z]{1,8}`).Draw(rt, "extra")
		doc[extra] = gofakeit.Name()

		got, err := s.Validate(doc)
		require.NoError(rt, err)
		assert.Equal(rt, want, got)
	})
}

// Validating an already valid object again yields an equal object.
func TestProperty_ValidationIdempotent(t *testing.T) {
	s := MustNew(
		String("cpu_name"),
		Integer("core_count"),
		Float("base_clock_ghz"),
		Boolean("supports_pcie_5"),
	)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("validate(validate(d)) == validate(d)", prop.ForAll(
		func(name string, cores int64, clock float64, pcie bool) bool {
			doc := map[string]any{
				"cpu_name":        name,
				"core_count":      cores,
				"base_clock_ghz":  clock,
				"supports_pcie_5": pcie,
			}
			first, err := s.Validate(doc)
			if err != nil {
				return false
			}
			second, err := s.Validate(first)
			if err != nil {
				return false
			}
			return assert.ObjectsAreEqual(first, second)
		},
		gen.AlphaString(),
		gen.Int64Range(0, 512),
		gen.Float64Range(0, 6),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestValidate_GeneratedPostings(t *testing.T) {
	faker := gofakeit.New(42)
	for i := 0; i < 50; i++ {
		doc := map[string]any{
			"title":      faker.JobTitle(),
			"is_remote":  faker.Bool(),
			"salary_max": int64(faker.IntRange(30000, 300000)),
		}
		obj, err := jobSchema.Validate(doc)
		require.NoError(t, err)
		assert.Equal(t, Object(doc), obj)
	}
}
