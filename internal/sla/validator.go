package sla

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// Validator handles SLA definition validation
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator creates a new validator with the given schema file
func NewValidator(schemaPath string) (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	// Load schema from file path
	// The schema will be auto-detected based on $schema field
	schema, err := compiler.Compile(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// ValidateDirectory loads and validates all SLA definition files in a directory
func (v *Validator) ValidateDirectory(dirPath string) []ValidationError {
	files, err := discoverYAMLFiles(dirPath)
	if err != nil {
		return []ValidationError{{
			File:    dirPath,
			Message: fmt.Sprintf("failed to read directory: %v", err),
		}}
	}

	var allErrors []ValidationError
	var parsed []DefinitionWithFile

	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			allErrors = append(allErrors, ValidationError{
				File:    file,
				Message: fmt.Sprintf("failed to read file: %v", err),
			})
			continue
		}

		// Schema validation runs against the raw document so violations are
		// reported even when the struct-level conversion would also fail.
		allErrors = append(allErrors, v.validateSchema(file, data)...)

		var defFile DefinitionFile
		if err := yaml.Unmarshal(data, &defFile); err != nil {
			allErrors = append(allErrors, ValidationError{
				File:    file,
				Message: fmt.Sprintf("failed to parse YAML: %v", err),
			})
			continue
		}

		def, err := defFile.Definition()
		if err != nil {
			allErrors = append(allErrors, ValidationError{
				File:    file,
				Path:    "spec",
				Message: err.Error(),
			})
			continue
		}

		parsed = append(parsed, DefinitionWithFile{Definition: def, File: file})
	}

	allErrors = append(allErrors, validateExtraRules(parsed)...)

	return allErrors
}

// validateSchema validates a single raw definition document against the JSON schema
func (v *Validator) validateSchema(file string, data []byte) []ValidationError {
	var errors []ValidationError

	var jsonData interface{}
	if err := yaml.Unmarshal(data, &jsonData); err != nil {
		errors = append(errors, ValidationError{
			File:    file,
			Message: fmt.Sprintf("failed to convert to JSON: %v", err),
		})
		return errors
	}

	// Validate against schema
	if err := v.schema.Validate(jsonData); err != nil {
		if validationErr, ok := err.(*jsonschema.ValidationError); ok {
			errors = append(errors, extractSchemaErrors(file, validationErr)...)
		} else {
			errors = append(errors, ValidationError{
				File:    file,
				Message: err.Error(),
			})
		}
	}

	return errors
}

// extractSchemaErrors converts JSON schema validation errors to ValidationErrors
func extractSchemaErrors(file string, err *jsonschema.ValidationError) []ValidationError {
	var errors []ValidationError

	// Add the main error
	path := strings.Join(err.InstanceLocation, ".")
	if path == "" {
		path = "(root)"
	}

	errors = append(errors, ValidationError{
		File:    file,
		Path:    path,
		Message: err.Error(),
	})

	// Add any nested errors
	for _, cause := range err.Causes {
		errors = append(errors, extractSchemaErrors(file, cause)...)
	}

	return errors
}

// validateExtraRules applies additional validation rules beyond JSON schema
func validateExtraRules(defs []DefinitionWithFile) []ValidationError {
	var errors []ValidationError

	// Check for duplicate slugs
	slugSeen := make(map[string]string)
	for _, d := range defs {
		slug := d.Definition.Slug
		if prevFile, exists := slugSeen[slug]; exists {
			errors = append(errors, ValidationError{
				File:    d.File,
				Path:    "metadata.slug",
				Message: fmt.Sprintf("duplicate slug %q (also in %s)", slug, filepath.Base(prevFile)),
			})
		} else {
			slugSeen[slug] = d.File
		}

		// Success-rate targets are percentages; anything outside 0-100 is
		// a configuration mistake, not a strict schema violation.
		if d.Definition.ObjectiveType == ObjectiveSuccessRate {
			if d.Definition.TargetNumeric < 0 || d.Definition.TargetNumeric > 100 {
				errors = append(errors, ValidationError{
					File:    d.File,
					Path:    "spec.target",
					Message: fmt.Sprintf("success_rate target %v must be between 0 and 100", d.Definition.TargetNumeric),
				})
			}
		}
	}

	return errors
}
