package handlers

import (
	"bytes"
	_ "embed"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/lead.json
var leadSchemaJSON []byte

const leadSchemaURL = "https://tractstack.com/schemas/lead.json"

var (
	leadSchemaOnce sync.Once
	leadSchema     *jsonschema.Schema
	leadSchemaErr  error
)

func compileLeadSchema() (*jsonschema.Schema, error) {
	leadSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(leadSchemaJSON))
		if err != nil {
			leadSchemaErr = fmt.Errorf("parse lead schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(leadSchemaURL, doc); err != nil {
			leadSchemaErr = fmt.Errorf("add lead schema: %w", err)
			return
		}
		leadSchema, leadSchemaErr = compiler.Compile(leadSchemaURL)
	})
	return leadSchema, leadSchemaErr
}

// ValidateLeadRequest checks a raw lead submission body against the embedded
// schema before it is bound.
func ValidateLeadRequest(body []byte) error {
	schema, err := compileLeadSchema()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return schema.Validate(inst)
}
