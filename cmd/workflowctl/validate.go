package main

import (
	"fmt"
)

type validateCmd struct {
	Refs []string `arg:"" optional:"" name:"definition" help:"Definition files or built-in type names. Defaults to definitions from the config, then all built-ins."`
}

func (c *validateCmd) Run(a *app) error {
	refs := c.Refs
	if len(refs) == 0 {
		refs = a.cfg.Definitions
	}
	if len(refs) == 0 {
		refs = builtinNames()
	}

	failed := 0
	for _, ref := range refs {
		_, g, err := compileDefinition(ref)
		if err != nil {
			failed++
			fmt.Fprintf(a.out, "FAIL %s: %v\n", ref, err)
			continue
		}
		terminal := 0
		for _, s := range g.States() {
			if g.IsTerminal(s) {
				terminal++
			}
		}
		fmt.Fprintf(a.out, "ok   %s: %s, %d states (%d terminal), initial %s\n",
			ref, g.ID(), len(g.States()), terminal, g.Initial())
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d definitions failed validation", failed, len(refs))
	}
	return nil
}

type typesCmd struct{}

func (typesCmd) Run(a *app) error {
	for _, name := range builtinNames() {
		_, g, err := compileDefinition(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%-18s %s\n", name, g.Description())
	}
	return nil
}
