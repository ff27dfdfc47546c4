package plan

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema.json
var schemaData []byte

const schemaResource = "plan.schema.json"

var (
	planSchema  *jsonschema.Schema
	compileOnce sync.Once
	compileErr  error
)

func compileSchema() error {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaData))
		if err != nil {
			compileErr = fmt.Errorf("unmarshal plan schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaResource, doc); err != nil {
			compileErr = fmt.Errorf("add plan schema resource: %w", err)
			return
		}
		planSchema, err = compiler.Compile(schemaResource)
		if err != nil {
			compileErr = fmt.Errorf("compile plan schema: %w", err)
		}
	})
	return compileErr
}

// validateDocument checks a decoded YAML or TOML document against the plan
// schema. The document is normalized through JSON so both formats validate
// the same way.
func validateDocument(doc any) error {
	if err := compileSchema(); err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to normalize plan: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("failed to normalize plan: %w", err)
	}
	if err := planSchema.Validate(v); err != nil {
		return fmt.Errorf("plan validation failed: %w", err)
	}
	return nil
}
