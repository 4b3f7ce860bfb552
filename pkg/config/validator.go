package config

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

//go:embed schemas
var schemasFS embed.FS

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate runs both passes spec.md's Config Registry requires: struct-tag
// validation of required fields and enums (go-playground/validator), then
// document-shape validation against the checked-in JSON Schema (so a pack
// with an unexpected extra field or wrong nesting is rejected even if every
// present field happens to satisfy its own struct tag).
func Validate(p *Pack) error {
	if err := structValidator.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	if err := validateAgainstSchema(p); err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	return nil
}

func validateAgainstSchema(p *Pack) error {
	schemaBytes, err := schemasFS.ReadFile("schemas/pack.schema.json")
	if err != nil {
		return fmt.Errorf("read pack schema: %w", err)
	}
	var schemaDoc any
	if err := json.Unmarshal(schemaBytes, &schemaDoc); err != nil {
		return fmt.Errorf("unmarshal pack schema: %w", err)
	}

	// Pack is YAML-tagged; round-trip through YAML->JSON so schema
	// validation sees the same field names the loader populated.
	yamlBytes, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pack for schema check: %w", err)
	}
	var generic any
	if err := yaml.Unmarshal(yamlBytes, &generic); err != nil {
		return fmt.Errorf("unmarshal pack for schema check: %w", err)
	}
	doc := jsonify(generic)

	c := jsonschema.NewCompiler()
	if err := c.AddResource("pack.schema.json", schemaDoc); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("pack.schema.json")
	if err != nil {
		return fmt.Errorf("compile pack schema: %w", err)
	}
	return schema.Validate(doc)
}

// jsonify converts yaml.Unmarshal's map[string]interface{} (with
// possible nested map[string]interface{} producing non-string keys in
// older yaml.v2, though v3 already uses string keys) into the
// plain-JSON-compatible shape jsonschema expects.
func jsonify(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = jsonify(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = jsonify(val)
		}
		return out
	default:
		return t
	}
}
