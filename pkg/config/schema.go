package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema/voicekit.json
var configSchema string

const errorFormat = "  - %s"

// SchemaValidationError represents a validation error from JSON schema validation.
type SchemaValidationError struct {
	Field       string
	Description string
	Value       any
}

// Error implements the error interface.
func (e SchemaValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("%s: %s (value: %v)", e.Field, e.Description, e.Value)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Description)
}

// ValidateSchema checks YAML configuration data against the embedded JSON schema.
func ValidateSchema(yamlData []byte) error {
	var data any
	if err := yaml.Unmarshal(yamlData, &data); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	if data == nil {
		return nil
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to convert to JSON: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(configSchema),
		gojsonschema.NewBytesLoader(jsonData),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if result.Valid() {
		return nil
	}

	messages := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		e := SchemaValidationError{Field: re.Field(), Description: re.Description(), Value: re.Value()}
		messages = append(messages, fmt.Sprintf(errorFormat, e.Error()))
	}
	return fmt.Errorf("configuration does not match schema:\n%s", strings.Join(messages, "\n"))
}
