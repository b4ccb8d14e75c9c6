package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// JSONSchema renders the schema as a draft-07 style JSON Schema document.
func (s *Schema) JSONSchema() map[string]any {
	doc := objectSchema(s)
	doc["$schema"] = "http://json-schema.org/draft-07/schema#"
	if s.description != "" {
		doc["description"] = s.description
	}
	return doc
}

func objectSchema(s *Schema) map[string]any {
	props := make(map[string]any, len(s.fields))
	for _, f := range s.fields {
		props[f.Name] = fieldSchema(f)
	}
	doc := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if req := s.Required(); len(req) > 0 {
		doc["required"] = req
	}
	return doc
}

func fieldSchema(f Field) map[string]any {
	var doc map[string]any
	switch f.Kind {
	case KindObject:
		doc = objectSchema(f.Schema)
	case KindArray:
		doc = map[string]any{"type": "array", "items": fieldSchema(*f.Items)}
	default:
		doc = map[string]any{"type": f.Kind.String()}
	}

	if f.Description != "" {
		doc["description"] = f.Description
	}
	if len(f.Enum) > 0 {
		doc["enum"] = f.Enum
	}
	if f.MinLength != nil {
		doc["minLength"] = *f.MinLength
	}
	if f.MaxLength != nil {
		doc["maxLength"] = *f.MaxLength
	}
	if f.Pattern != "" {
		doc["pattern"] = f.Pattern
	}
	if f.Minimum != nil {
		doc["minimum"] = *f.Minimum
	}
	if f.Maximum != nil {
		doc["maximum"] = *f.Maximum
	}
	if f.MinItems != nil {
		doc["minItems"] = *f.MinItems
	}
	if f.MaxItems != nil {
		doc["maxItems"] = *f.MaxItems
	}
	return doc
}

// Instruction renders the text appended to a system prompt so that the model
// answers with a bare JSON object of this shape. It embeds the JSON Schema and
// lists every required field with its type.
func (s *Schema) Instruction() string {
	doc, err := json.MarshalIndent(s.JSONSchema(), "", "  ")
	if err != nil {
		// only plain maps, slices, strings and numbers are marshalled
		panic(fmt.Sprintf("schema: render JSON schema: %v", err))
	}

	var required, optional []string
	collectFieldLines("", s, "", &required, &optional)

	var b strings.Builder
	b.WriteString("You must respond with valid JSON strictly following this schema:\n")
	b.WriteString("```json\n")
	b.Write(doc)
	b.WriteString("\n```\n")
	if len(required) > 0 {
		b.WriteString("Required fields:\n")
		b.WriteString(strings.Join(required, "\n"))
		b.WriteString("\n")
	}
	if len(optional) > 0 {
		b.WriteString("Optional fields (omit or use null when unknown):\n")
		b.WriteString(strings.Join(optional, "\n"))
		b.WriteString("\n")
	}
	b.WriteString("Respond with the JSON object only. Do not add any markdown formatting or chatter.")
	return b.String()
}

// collectFieldLines lists every field path. A required field below an
// optional ancestor is listed with the optional fields, qualified by the
// ancestor it depends on.
func collectFieldLines(prefix string, s *Schema, optionalParent string, required, optional *[]string) {
	for _, f := range s.fields {
		path := joinPath(prefix, f.Name)
		line := fmt.Sprintf("- %s (%s)", path, typeLabel(f))
		switch {
		case f.Optional:
			*optional = append(*optional, line)
		case optionalParent != "":
			*optional = append(*optional, fmt.Sprintf("%s, required when %s is present", line, optionalParent))
		default:
			*required = append(*required, line)
		}

		parent := optionalParent
		if f.Optional && parent == "" {
			parent = path
		}
		// arrays of arrays nest one "[]" per level
		item, itemPath := f, path
		for item.Kind == KindArray {
			item, itemPath = *item.Items, itemPath+"[]"
		}
		if item.Kind == KindObject {
			collectFieldLines(itemPath, item.Schema, parent, required, optional)
		}
	}
}

func typeLabel(f Field) string {
	if f.Kind == KindArray {
		return "array of " + typeLabel(*f.Items)
	}
	return f.Kind.String()
}
