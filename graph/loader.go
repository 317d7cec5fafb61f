package graph

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Parse decodes a YAML or JSON workflow definition and checks its shape.
func Parse(data []byte) (Definition, error) {
	var def Definition
	// yaml handles JSON input as well
	if err := yaml.Unmarshal(data, &def); err != nil {
		return def, fmt.Errorf("parse workflow definition: %w", err)
	}
	return def, def.Validate()
}

// LoadFile reads and parses a definition file.
func LoadFile(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, err
	}
	def, err := Parse(data)
	if err != nil {
		return def, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// Load parses and compiles data against reg.
func Load(data []byte, reg *Registry) (*StateGraph, error) {
	def, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return Compile(def, reg)
}
