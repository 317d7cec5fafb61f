package graph

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-workflow/permission"
	"github.com/goliatone/go-workflow/predicate"
)

// Validate checks the definition shape without resolving named guards or hooks.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("workflow id required")
	}
	if len(d.States) == 0 {
		return fmt.Errorf("workflow %s: at least one state required", d.ID)
	}
	seen := make(map[string]struct{}, len(d.States))
	initials := 0
	for _, s := range d.States {
		name := Normalize(s.Name)
		if name == "" {
			return fmt.Errorf("workflow %s: state name required", d.ID)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("workflow %s: duplicate state %s", d.ID, name)
		}
		seen[name] = struct{}{}
		if s.Initial {
			initials++
		}
	}
	if initial := Normalize(d.Initial); initial != "" {
		if _, ok := seen[initial]; !ok {
			return fmt.Errorf("workflow %s: initial state %s not declared", d.ID, initial)
		}
		for _, s := range d.States {
			if s.Initial && Normalize(s.Name) != initial {
				return fmt.Errorf("workflow %s: initial state %s conflicts with state %s marked initial", d.ID, initial, Normalize(s.Name))
			}
		}
	} else if initials != 1 {
		return fmt.Errorf("workflow %s: exactly one initial state required, found %d", d.ID, initials)
	}
	for _, s := range d.States {
		from := Normalize(s.Name)
		if s.Terminal && len(s.Transitions) > 0 {
			return fmt.Errorf("workflow %s: state %s marked terminal but has transitions", d.ID, from)
		}
		for idx, tr := range s.Transitions {
			target := Normalize(tr.Target)
			if target == "" {
				return fmt.Errorf("workflow %s: state %s transition[%d] missing target", d.ID, from, idx)
			}
			if _, ok := seen[target]; !ok {
				return fmt.Errorf("workflow %s: state %s transition[%d] targets unknown state %s", d.ID, from, idx, target)
			}
		}
	}
	return nil
}

// Compile validates def and resolves it against reg into an immutable StateGraph.
// A nil registry is allowed when the definition references no named guards or hooks.
func Compile(def Definition, reg *Registry) (*StateGraph, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if reg == nil {
		reg = NewRegistry()
	}
	funcs := reg.Predicates()

	g := &StateGraph{
		id:          strings.TrimSpace(def.ID),
		name:        strings.TrimSpace(def.Name),
		version:     strings.TrimSpace(def.Version),
		description: def.Description,
		initial:     Normalize(def.Initial),
		nodes:       make(map[string]StateNode, len(def.States)),
		funcs:       funcs,
	}
	if g.name == "" {
		g.name = g.id
	}

	for _, s := range def.States {
		name := Normalize(s.Name)
		if g.initial == "" && s.Initial {
			g.initial = name
		}
		node := StateNode{
			Name:        name,
			Label:       s.Label,
			Description: s.Description,
			Metadata:    copyMap(s.Metadata),
		}
		if node.Label == "" {
			node.Label = name
		}
		if s.Permission != nil {
			req, err := s.Permission.Requirement()
			if err != nil {
				return nil, fmt.Errorf("workflow %s: state %s permission: %w", g.id, name, err)
			}
			node.Permission = &req
		}
		for idx, v := range s.Validations {
			if err := v.Rule.Validate(funcs); err != nil {
				return nil, fmt.Errorf("workflow %s: state %s validation[%d]: %w", g.id, name, idx, err)
			}
			msg := strings.TrimSpace(v.Message)
			if msg == "" {
				msg = fmt.Sprintf("%s failed", v.Rule)
			}
			node.Validations = append(node.Validations, Validation{Message: msg, Rule: v.Rule})
		}
		var err error
		if node.OnEnter, err = resolveHooks(reg, s.OnEnter); err != nil {
			return nil, fmt.Errorf("workflow %s: state %s on_enter: %w", g.id, name, err)
		}
		if node.OnExit, err = resolveHooks(reg, s.OnExit); err != nil {
			return nil, fmt.Errorf("workflow %s: state %s on_exit: %w", g.id, name, err)
		}
		for idx, td := range s.Transitions {
			tr, err := compileTransition(td, funcs)
			if err != nil {
				return nil, fmt.Errorf("workflow %s: state %s transition[%d]: %w", g.id, name, idx, err)
			}
			node.Transitions = append(node.Transitions, tr)
		}
		g.order = append(g.order, name)
		g.nodes[name] = node
	}
	return g, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(def Definition, reg *Registry) *StateGraph {
	g, err := Compile(def, reg)
	if err != nil {
		panic(err)
	}
	return g
}

func compileTransition(td TransitionDefinition, funcs *predicate.Registry) (Transition, error) {
	tr := Transition{
		Target: Normalize(td.Target),
		Action: strings.TrimSpace(td.Action),
		Label:  td.Label,
	}
	if tr.Action == "" {
		tr.Action = tr.Target
	}
	if tr.Label == "" {
		tr.Label = tr.Action
	}
	req, err := td.Permission.Requirement()
	if err != nil {
		return tr, err
	}
	if len(td.Actors) > 0 {
		req = req.Merge(permission.Requirement{Actors: td.Actors})
	}
	tr.Permission = req
	for idx, guard := range td.Guards {
		if err := guard.Validate(funcs); err != nil {
			return tr, fmt.Errorf("guard[%d]: %w", idx, err)
		}
	}
	tr.Guards = append(tr.Guards, td.Guards...)
	return tr, nil
}

func resolveHooks(reg *Registry, names []string) ([]NamedHook, error) {
	var out []NamedHook
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		fn, ok := reg.Hook(name)
		if !ok {
			return nil, fmt.Errorf("unknown hook %s", name)
		}
		out = append(out, NamedHook{Name: name, Fn: fn})
	}
	return out, nil
}

func copyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
