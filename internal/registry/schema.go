package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// validateArgs checks args against a tool's declared JSON Schema
// (ToolDefinition.Parameters), grounded on pkg/pluginsdk's
// ValidateConfig/compileSchema pattern from the teacher. A tool with no
// declared schema is left unvalidated.
func validateArgs(name string, rawSchema json.RawMessage, args map[string]any) error {
	if len(rawSchema) == 0 {
		return nil
	}
	schema, err := compileSchema(name, rawSchema)
	if err != nil {
		return fmt.Errorf("registry: compiling schema for %q: %w", name, err)
	}

	payload, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("registry: encoding args for %q: %w", name, err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("registry: decoding args for %q: %w", name, err)
	}

	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("registry: %q arguments invalid: %w", name, err)
	}
	return nil
}

var schemaCache sync.Map

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
