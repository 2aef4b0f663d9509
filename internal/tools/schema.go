package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaCache memoizes compiled schemas by their raw JSON text, since a
// ToolDefinition's InputSchema is fixed for the process lifetime of a
// registered tool.
var schemaCache sync.Map

// validateAgainstSchema compiles def.InputSchema (once, cached by its raw
// text) and validates args against it. An empty/missing schema is
// treated as "accept anything" rather than an error, since not every
// tool's JSON-Schema is worth authoring for trivial inputs.
func validateAgainstSchema(def ToolDefinition, args json.RawMessage) error {
	if len(def.InputSchema) == 0 {
		return nil
	}

	schema, err := compileSchema(def.Name, def.InputSchema)
	if err != nil {
		return fmt.Errorf("compiling schema: %w", err)
	}

	var decoded any
	payload := args
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("decoding arguments: %w", err)
	}

	if err := schema.Validate(decoded); err != nil {
		return err
	}
	return nil
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	key := name + ":" + string(raw)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}
