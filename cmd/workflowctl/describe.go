package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-workflow/graph"
	"github.com/goliatone/go-workflow/permission"
)

type describeCmd struct {
	Ref    string `arg:"" name:"definition" help:"Definition file or built-in type name."`
	Format string `short:"f" enum:"text,yaml,json,dot" default:"text" help:"Output format (text, yaml, json, dot)."`
}

func (c *describeCmd) Run(a *app) error {
	def, g, err := compileDefinition(c.Ref)
	if err != nil {
		return err
	}
	switch c.Format {
	case "yaml":
		enc := yaml.NewEncoder(a.out)
		enc.SetIndent(2)
		if err := enc.Encode(def); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(def)
	case "dot":
		writeDot(a.out, g)
		return nil
	default:
		writeText(a.out, g)
		return nil
	}
}

func writeText(w io.Writer, g *graph.StateGraph) {
	fmt.Fprintf(w, "%s (%s)", g.ID(), g.Name())
	if g.Version() != "" {
		fmt.Fprintf(w, " v%s", g.Version())
	}
	fmt.Fprintln(w)
	if d := strings.TrimSpace(g.Description()); d != "" {
		fmt.Fprintln(w, d)
	}
	fmt.Fprintf(w, "initial: %s\n", g.Initial())

	for _, name := range g.States() {
		node, _ := g.Node(name)
		fmt.Fprintf(w, "\n%s [%s]", node.Name, node.Label)
		switch {
		case name == g.Initial():
			fmt.Fprint(w, " initial")
		case node.Terminal():
			fmt.Fprint(w, " terminal")
		}
		fmt.Fprintln(w)
		if node.Permission != nil {
			fmt.Fprintf(w, "  permission: %s\n", describeRequirement(*node.Permission))
		}
		for _, v := range node.Validations {
			fmt.Fprintf(w, "  validate: %s (%s)\n", v.Rule, v.Message)
		}
		if names := hookNames(node.OnEnter); names != "" {
			fmt.Fprintf(w, "  on_enter: %s\n", names)
		}
		if names := hookNames(node.OnExit); names != "" {
			fmt.Fprintf(w, "  on_exit: %s\n", names)
		}
		for _, tr := range node.Transitions {
			fmt.Fprintf(w, "  %s -> %s", tr.Action, tr.Target)
			if tr.Label != "" {
				fmt.Fprintf(w, " %q", tr.Label)
			}
			fmt.Fprintln(w)
			for _, guard := range tr.Guards {
				fmt.Fprintf(w, "      guard: %s\n", guard)
			}
			if !tr.Permission.IsZero() {
				fmt.Fprintf(w, "      permission: %s\n", describeRequirement(tr.Permission))
			}
		}
	}
}

func writeDot(w io.Writer, g *graph.StateGraph) {
	fmt.Fprintf(w, "digraph %q {\n", g.ID())
	fmt.Fprintln(w, "  rankdir=LR;")
	for _, name := range g.States() {
		node, _ := g.Node(name)
		shape := "box"
		if node.Terminal() {
			shape = "doublecircle"
		}
		fmt.Fprintf(w, "  %q [label=%q shape=%s];\n", name, node.Label, shape)
	}
	for _, name := range g.States() {
		node, _ := g.Node(name)
		for _, tr := range node.Transitions {
			fmt.Fprintf(w, "  %q -> %q [label=%q];\n", name, tr.Target, tr.Action)
		}
	}
	fmt.Fprintln(w, "}")
}

func describeRequirement(req permission.Requirement) string {
	var parts []string
	if len(req.Actors) > 0 {
		roles := make([]string, len(req.Actors))
		for i, r := range req.Actors {
			roles[i] = string(r)
		}
		parts = append(parts, "actors="+strings.Join(roles, ","))
	}
	if req.Group != nil {
		group := req.Group.Name
		if req.Group.Type != "" {
			group += "/" + string(req.Group.Type)
		}
		parts = append(parts, "group="+group)
	}
	if len(req.Designations) > 0 {
		parts = append(parts, "designations="+strings.Join(req.Designations, ","))
	}
	for _, c := range req.Conditions {
		parts = append(parts, c.String())
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, " ")
}

func hookNames(hooks []graph.NamedHook) string {
	names := make([]string, len(hooks))
	for i, h := range hooks {
		names[i] = h.Name
	}
	return strings.Join(names, ", ")
}
