package agent

import (
	"errors"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// recordSchema is the part of an output schema the executor checks: the
// required properties of each record. Full JSON Schema validation is left to
// the provider, which receives the schema verbatim.
type recordSchema struct {
	required []string
}

type schemaDoc struct {
	Type     string     `json:"type"`
	Required []string   `json:"required"`
	Items    *schemaDoc `json:"items"`
}

// parseRecordSchema reads the record shape out of raw. An array schema
// describes its items; an object schema describes a record directly.
func parseRecordSchema(raw []byte) (*recordSchema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var doc schemaDoc
	if err := jsoniter.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("output schema is not a JSON object: %w", err)
	}
	if doc.Type == "array" && doc.Items != nil {
		doc = *doc.Items
	}
	if len(doc.Required) == 0 {
		return nil, nil
	}
	return &recordSchema{required: doc.Required}, nil
}

// check returns a description of every record missing a required property.
func (s *recordSchema) check(records []any) error {
	if s == nil {
		return nil
	}
	var problems []string
	for i, rec := range records {
		obj, ok := rec.(map[string]any)
		if !ok {
			problems = append(problems, fmt.Sprintf("record %d is %T, not an object", i, rec))
			continue
		}
		var missing []string
		for _, key := range s.required {
			if _, ok := obj[key]; !ok {
				missing = append(missing, key)
			}
		}
		if len(missing) > 0 {
			problems = append(problems, fmt.Sprintf("record %d is missing %s", i, strings.Join(missing, ", ")))
		}
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
