// Command generate-schema writes the JSON schema of the moji configuration
// file, for editor completion and validation of config.yaml.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/spf13/pflag"

	"github.com/marmos91/moji/pkg/config"
)

func main() {
	output := pflag.StringP("output", "o", "config.schema.json", "Schema file to write, or - for stdout")
	pflag.Parse()

	if err := run(*output, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "generate-schema: %v\n", err)
		os.Exit(1)
	}
}

func run(output string, stdout io.Writer) error {
	data, err := generate()
	if err != nil {
		return err
	}

	if output == "-" {
		_, err := stdout.Write(data)
		return err
	}

	if err := os.WriteFile(output, data, 0644); err != nil {
		return fmt.Errorf("write schema: %w", err)
	}
	_, err = fmt.Fprintf(stdout, "JSON schema written to %s\n", output)
	return err
}

// generate reflects config.Config using the same keys viper decodes.
func generate() ([]byte, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		FieldNameTag:              "mapstructure",
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Title = "moji Configuration"
	schema.Description = "Configuration schema for the moji client and development storage node"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return append(data, '\n'), nil
}
