package executor

import (
	"bytes"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ryelabs/rye/internal/item"
)

// validateParams checks caller parameters against the leaf tool's declared
// JSON Schema. Tools without a schema accept anything.
func validateParams(leaf *item.Tool, params json.RawMessage) error {
	if len(leaf.Parameters) == 0 {
		return nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("params.json", bytes.NewReader(leaf.Parameters)); err != nil {
		return &Error{Stage: StageParams, Message: "invalid parameter schema for " + leaf.ID + ": " + err.Error()}
	}
	schema, err := compiler.Compile("params.json")
	if err != nil {
		return &Error{Stage: StageParams, Message: "invalid parameter schema for " + leaf.ID + ": " + err.Error()}
	}

	var doc any
	if len(params) == 0 {
		doc = map[string]any{}
	} else if err := json.Unmarshal(params, &doc); err != nil {
		return &Error{Stage: StageParams, Message: "parameters are not valid JSON: " + err.Error()}
	}

	if err := schema.Validate(doc); err != nil {
		return &Error{Stage: StageParams, Message: err.Error()}
	}
	return nil
}
