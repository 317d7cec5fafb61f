package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-workflow/permission"
	"github.com/goliatone/go-workflow/predicate"
)

// Transition is a compiled outbound edge.
type Transition struct {
	Target     string
	Action     string
	Label      string
	Guards     []predicate.Expr
	Permission permission.Requirement
}

// Validation is a compiled entry validation.
type Validation struct {
	Message string
	Rule    predicate.Expr
}

// NamedHook pairs a hook with the name it was declared under.
type NamedHook struct {
	Name string
	Fn   Hook
}

// StateNode is a compiled state.
type StateNode struct {
	Name        string
	Label       string
	Description string
	Transitions []Transition
	Validations []Validation
	Permission  *permission.Requirement
	OnEnter     []NamedHook
	OnExit      []NamedHook
	Metadata    map[string]any
}

// Terminal reports whether the node has no outbound transitions.
func (n StateNode) Terminal() bool {
	return len(n.Transitions) == 0
}

// TransitionsTo returns the edges targeting state, in declaration order.
func (n StateNode) TransitionsTo(state string) []Transition {
	state = Normalize(state)
	var out []Transition
	for _, tr := range n.Transitions {
		if tr.Target == state {
			out = append(out, tr)
		}
	}
	return out
}

// RequiredActors returns the union of roles named by the node and its edges.
func (n StateNode) RequiredActors() []permission.Role {
	set := permission.NewRoleSet()
	if n.Permission != nil {
		set.Add(n.Permission.Actors...)
	}
	for _, tr := range n.Transitions {
		set.Add(tr.Permission.Actors...)
	}
	return set.Sorted()
}

func (n StateNode) clone() StateNode {
	cp := n
	cp.Transitions = append([]Transition(nil), n.Transitions...)
	cp.Validations = append([]Validation(nil), n.Validations...)
	cp.OnEnter = append([]NamedHook(nil), n.OnEnter...)
	cp.OnExit = append([]NamedHook(nil), n.OnExit...)
	return cp
}

// StateGraph is an immutable, compiled workflow type.
type StateGraph struct {
	id          string
	name        string
	version     string
	description string
	initial     string
	order       []string
	nodes       map[string]StateNode
	funcs       *predicate.Registry
}

// ID returns the graph identifier.
func (g *StateGraph) ID() string { return g.id }

// Name returns the display name.
func (g *StateGraph) Name() string { return g.name }

// Version returns the authoring version.
func (g *StateGraph) Version() string { return g.version }

// Description returns the authoring description.
func (g *StateGraph) Description() string { return g.description }

// Initial returns the initial state name.
func (g *StateGraph) Initial() string { return g.initial }

// States returns state names in declaration order.
func (g *StateGraph) States() []string {
	return append([]string(nil), g.order...)
}

// Node returns a copy of the named node.
func (g *StateGraph) Node(state string) (StateNode, bool) {
	n, ok := g.nodes[Normalize(state)]
	if !ok {
		return StateNode{}, false
	}
	return n.clone(), true
}

// HasState reports whether state exists.
func (g *StateGraph) HasState(state string) bool {
	_, ok := g.nodes[Normalize(state)]
	return ok
}

// IsTerminal reports whether state exists and has no outbound transitions.
func (g *StateGraph) IsTerminal(state string) bool {
	n, ok := g.nodes[Normalize(state)]
	return ok && n.Terminal()
}

// GuardsPass evaluates the edge guards in declaration order.
func (g *StateGraph) GuardsPass(ctx context.Context, tr Transition, data map[string]any) (bool, error) {
	env := predicate.Env{Data: data, Funcs: g.funcs}
	for _, guard := range tr.Guards {
		ok, err := guard.Eval(ctx, env)
		if err != nil {
			return false, fmt.Errorf("guard %s: %w", guard, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Validate runs the entry validations of state and returns every failing message.
func (g *StateGraph) Validate(ctx context.Context, state string, data map[string]any) []string {
	n, ok := g.nodes[Normalize(state)]
	if !ok {
		return []string{fmt.Sprintf("unknown state %s", state)}
	}
	env := predicate.Env{Data: data, Funcs: g.funcs}
	var messages []string
	for _, v := range n.Validations {
		ok, err := v.Rule.Eval(ctx, env)
		switch {
		case err != nil:
			messages = append(messages, fmt.Sprintf("%s (%v)", v.Message, err))
		case !ok:
			messages = append(messages, v.Message)
		}
	}
	return messages
}

// RunHooks invokes hooks in order, stopping at the first error.
func RunHooks(ctx context.Context, hooks []NamedHook, hc *HookContext) error {
	for _, h := range hooks {
		if err := h.Fn(ctx, hc); err != nil {
			return fmt.Errorf("hook %s: %w", h.Name, err)
		}
	}
	return nil
}

// Normalize lowercases and trims a state name.
func Normalize(state string) string {
	return strings.ToLower(strings.TrimSpace(state))
}
