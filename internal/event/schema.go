package event

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema.json
var schemaJSON string

// SchemaValidator validates raw event JSON against the record schema.
// It catches shape problems (wrong types, unknown severities, negative
// counters) before an imported event ever reaches the record file.
type SchemaValidator struct {
	schema *jsonschema.Schema
}

// NewSchemaValidator compiles the embedded record schema.
func NewSchemaValidator() (*SchemaValidator, error) {
	// jsonschema.UnmarshalJSON keeps numbers as json.Number, which the
	// compiler needs for "minimum" bounds.
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal event schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("event.schema.json", doc); err != nil {
		return nil, fmt.Errorf("add event schema resource: %w", err)
	}
	schema, err := c.Compile("event.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile event schema: %w", err)
	}
	return &SchemaValidator{schema: schema}, nil
}

// ValidateJSON checks one decoded JSON document against the schema.
func (sv *SchemaValidator) ValidateJSON(doc any) error {
	return sv.schema.Validate(doc)
}
