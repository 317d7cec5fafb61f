package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/goliatone/go-workflow/graph"
	"github.com/goliatone/go-workflow/workflows/expense"
	"github.com/goliatone/go-workflow/workflows/hiring"
)

var builtins = map[string]func() (graph.Definition, error){
	expense.Type: expense.Definition,
	hiring.Type:  hiring.Definition,
}

func builtinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// newRegistry returns a registry carrying the hooks and guards of every built-in type,
// so that custom definitions may reference them too.
func newRegistry() (*graph.Registry, error) {
	reg := graph.NewRegistry()
	if err := expense.Register(reg); err != nil {
		return nil, err
	}
	if err := hiring.Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// loadDefinition resolves ref as a built-in type name first, then as a file path.
func loadDefinition(ref string) (graph.Definition, error) {
	ref = strings.TrimSpace(ref)
	if load, ok := builtins[ref]; ok {
		return load()
	}
	if _, err := os.Stat(ref); err != nil {
		return graph.Definition{}, fmt.Errorf("%q is neither a built-in type (%s) nor a readable file: %w",
			ref, strings.Join(builtinNames(), ", "), err)
	}
	return graph.LoadFile(ref)
}

func compileDefinition(ref string) (graph.Definition, *graph.StateGraph, error) {
	def, err := loadDefinition(ref)
	if err != nil {
		return graph.Definition{}, nil, err
	}
	reg, err := newRegistry()
	if err != nil {
		return graph.Definition{}, nil, err
	}
	g, err := graph.Compile(def, reg)
	if err != nil {
		return def, nil, err
	}
	return def, g, nil
}
