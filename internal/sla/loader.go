package sla

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefinitionFile is the on-disk YAML shape of an SLA definition.
type DefinitionFile struct {
	APIVersion string       `yaml:"apiVersion"`
	Kind       string       `yaml:"kind"`
	Metadata   FileMetadata `yaml:"metadata"`
	Spec       FileSpec     `yaml:"spec"`
}

// FileMetadata contains definition metadata.
type FileMetadata struct {
	Slug        string `yaml:"slug"`
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
}

// FileSpec holds the objective settings of a definition file.
type FileSpec struct {
	Objective string  `yaml:"objective"`
	Target    float64 `yaml:"target"`
	Operator  string  `yaml:"operator"`
	Window    string  `yaml:"window"`
	Query     string  `yaml:"query,omitempty"`
	Enabled   *bool   `yaml:"enabled,omitempty"`
}

// Definition converts the file form into a catalog definition. The ID is
// left empty; storage assigns one when the definition is first persisted.
func (f *DefinitionFile) Definition() (*SLADefinition, error) {
	windowMinutes, err := ParseWindowMinutes(f.Spec.Window)
	if err != nil {
		return nil, fmt.Errorf("invalid window: %w", err)
	}

	enabled := true
	if f.Spec.Enabled != nil {
		enabled = *f.Spec.Enabled
	}

	def := &SLADefinition{
		Slug:          f.Metadata.Slug,
		Name:          f.Metadata.Name,
		Description:   f.Metadata.Description,
		ObjectiveType: ObjectiveType(f.Spec.Objective),
		TargetNumeric: f.Spec.Target,
		Operator:      ThresholdOperator(f.Spec.Operator),
		WindowMinutes: windowMinutes,
		Enabled:       enabled,
		Query:         f.Spec.Query,
	}

	if !def.ObjectiveType.Valid() {
		return nil, fmt.Errorf("unknown objective type: %s", f.Spec.Objective)
	}
	if !def.Operator.Valid() {
		return nil, fmt.Errorf("unknown threshold operator: %s", f.Spec.Operator)
	}

	return def, nil
}

// LoadFromDirectory discovers and loads all SLA definition files from a directory
func LoadFromDirectory(dirPath string) ([]DefinitionWithFile, []ValidationError) {
	var defs []DefinitionWithFile
	var errors []ValidationError

	// Discover YAML files
	files, err := discoverYAMLFiles(dirPath)
	if err != nil {
		errors = append(errors, ValidationError{
			File:    dirPath,
			Message: fmt.Sprintf("failed to read directory: %v", err),
		})
		return nil, errors
	}

	// Parse each file
	for _, file := range files {
		def, err := parseYAMLFile(file)
		if err != nil {
			errors = append(errors, ValidationError{
				File:    file,
				Message: fmt.Sprintf("failed to parse YAML: %v", err),
			})
			continue
		}
		defs = append(defs, DefinitionWithFile{
			Definition: def,
			File:       file,
		})
	}

	return defs, errors
}

// discoverYAMLFiles finds all *.yaml and *.yml files in a directory
func discoverYAMLFiles(dirPath string) ([]string, error) {
	var files []string

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}
		return nil
	})

	return files, err
}

// parseYAMLFile parses a single YAML file into a catalog definition
func parseYAMLFile(filePath string) (*SLADefinition, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var file DefinitionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	return file.Definition()
}
