//go:build ignore

// This program generates the JSON schema for kake's CLI configuration file.
// Run with: go run gen/jsonschema.go > kake.schema.json
package main

import (
	"encoding/json"
	"fmt"
	"os"

	gjsonschema "github.com/google/jsonschema-go/jsonschema"

	"github.com/kakebuild/kake/internal/config"
)

func main() {
	schema, err := gjsonschema.For[config.Config](&gjsonschema.ForOptions{
		IgnoreInvalidTypes: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "reflecting config schema: %v\n", err)
		os.Exit(1)
	}

	schema.ID = "https://raw.githubusercontent.com/kakebuild/kake/main/kake.schema.json"
	schema.Title = "kake configuration"
	schema.Description = "Configuration schema for the kake build engine CLI"

	if outputDef, ok := schema.Properties["output"]; ok && outputDef != nil {
		if formatProp, ok := outputDef.Properties["format"]; ok && formatProp != nil {
			formatProp.Enum = []any{"text", "json", "sarif"}
			formatProp.Default = mustMarshal("text")
			formatProp.Description = "Diagnostics output format"
		}
		if progressProp, ok := outputDef.Properties["progress"]; ok && progressProp != nil {
			progressProp.Enum = []any{"auto", "always", "never"}
			progressProp.Default = mustMarshal("auto")
			progressProp.Description = "Whether to render a live TUI progress view"
		}
	}

	// All top-level fields have built-in defaults, so none are required.
	schema.Required = nil

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshaling schema: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
