package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileDef is the on-disk schema format:
//
//	description: Job posting
//	fields:
//	  - name: title
//	    type: string
//	  - name: salary_max
//	    type: integer
//	    optional: true
//	    minimum: 0
type fileDef struct {
	Description string     `yaml:"description"`
	Fields      []fieldDef `yaml:"fields"`
}

type fieldDef struct {
	Name        string     `yaml:"name"`
	Type        string     `yaml:"type"`
	Optional    bool       `yaml:"optional"`
	Description string     `yaml:"description"`
	Enum        []string   `yaml:"enum"`
	MinLength   *int       `yaml:"min_length"`
	MaxLength   *int       `yaml:"max_length"`
	Pattern     string     `yaml:"pattern"`
	Minimum     *float64   `yaml:"minimum"`
	Maximum     *float64   `yaml:"maximum"`
	MinItems    *int       `yaml:"min_items"`
	MaxItems    *int       `yaml:"max_items"`
	Items       *fieldDef  `yaml:"items"`
	Fields      []fieldDef `yaml:"fields"`
}

// ParseYAML builds a Schema from its YAML description.
func ParseYAML(data []byte) (*Schema, error) {
	var def fileDef
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse schema YAML: %w", err)
	}
	if len(def.Fields) == 0 {
		return nil, fmt.Errorf("schema YAML declares no fields")
	}

	s, err := buildSchema(def.Fields)
	if err != nil {
		return nil, err
	}
	if def.Description != "" {
		s = s.WithDescription(def.Description)
	}
	return s, nil
}

// LoadFile reads a YAML schema file.
func LoadFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	return ParseYAML(data)
}

func buildSchema(defs []fieldDef) (*Schema, error) {
	fields := make([]Field, 0, len(defs))
	for _, d := range defs {
		f, err := d.field()
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return New(fields...)
}

func (d fieldDef) field() (Field, error) {
	kind, err := ParseKind(d.Type)
	if err != nil {
		return Field{}, fmt.Errorf("field %q: %w", d.Name, err)
	}

	f := Field{
		Name:        d.Name,
		Kind:        kind,
		Optional:    d.Optional,
		Description: d.Description,
		Enum:        d.Enum,
		MinLength:   d.MinLength,
		MaxLength:   d.MaxLength,
		Pattern:     d.Pattern,
		Minimum:     d.Minimum,
		Maximum:     d.Maximum,
		MinItems:    d.MinItems,
		MaxItems:    d.MaxItems,
	}

	if d.Items != nil {
		item, err := d.Items.field()
		if err != nil {
			return Field{}, fmt.Errorf("field %q items: %w", d.Name, err)
		}
		f.Items = &item
	}
	if len(d.Fields) > 0 {
		nested, err := buildSchema(d.Fields)
		if err != nil {
			return Field{}, fmt.Errorf("field %q: %w", d.Name, err)
		}
		f.Schema = nested
	}
	return f, nil
}
