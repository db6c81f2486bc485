package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const evaluateSchemaURL = "https://paystream.dev/schemas/evaluate-request.schema.json"

const evaluateSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["from", "to", "amount"],
  "properties": {
    "id": {"type": "string", "maxLength": 128},
    "from": {"type": "string", "minLength": 1, "maxLength": 256},
    "to": {"type": "string", "minLength": 1, "maxLength": 256},
    "amount": {"type": "number", "exclusiveMinimum": 0},
    "description": {"type": "string", "maxLength": 4096},
    "urgency": {"enum": ["low", "medium", "high", "critical"]}
  },
  "additionalProperties": false
}`

const fetchSchemaURL = "https://paystream.dev/schemas/fetch-request.schema.json"

const fetchSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["url"],
  "properties": {
    "url": {"type": "string", "pattern": "^https?://"}
  },
  "additionalProperties": false
}`

// bodyValidator validates request bodies before they are decoded into types.
type bodyValidator struct {
	schema *jsonschema.Schema
}

func compileSchema(url, schema string) (*bodyValidator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("schema load failed: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema compile failed: %w", err)
	}
	return &bodyValidator{schema: compiled}, nil
}

// Decode validates body against the schema, then decodes it into dst.
func (v *bodyValidator) Decode(body []byte, dst any) error {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
