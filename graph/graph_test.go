package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-workflow/permission"
	"github.com/goliatone/go-workflow/predicate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reviewYAML = `
id: review
name: Document Review
states:
  - name: Draft
    initial: true
    on_exit: [stamp]
    transitions:
      - target: in_review
        action: submit
        actors: [requestor]
        guards:
          - field: pages
            op: ">"
            value: 0
  - name: in_review
    permission:
      actors: [analyzer]
    validations:
      - message: title is required
        rule:
          field: title
          op: exists
    transitions:
      - target: done
        action: approve
        guards:
          - ref: reviewed
      - target: draft
        action: reject
  - name: done
    terminal: true
`

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.RegisterGuard("reviewed", func(_ context.Context, data map[string]any) (bool, error) {
		v, _ := data["reviewed"].(bool)
		return v, nil
	}))
	require.NoError(t, reg.RegisterHook("stamp", func(_ context.Context, hc *HookContext) error {
		hc.Data["stamped"] = hc.State
		return nil
	}))
	return reg
}

func TestLoadCompilesGraph(t *testing.T) {
	g, err := Load([]byte(reviewYAML), testRegistry(t))
	require.NoError(t, err)

	assert.Equal(t, "review", g.ID())
	assert.Equal(t, "Document Review", g.Name())
	assert.Equal(t, "draft", g.Initial())
	assert.Equal(t, []string{"draft", "in_review", "done"}, g.States())
	assert.True(t, g.IsTerminal("done"))
	assert.False(t, g.IsTerminal("DRAFT"))
	assert.True(t, g.HasState(" In_Review "))

	draft, ok := g.Node("draft")
	require.True(t, ok)
	require.Len(t, draft.Transitions, 1)
	tr := draft.Transitions[0]
	assert.Equal(t, "submit", tr.Action)
	assert.Equal(t, "in_review", tr.Target)
	assert.Equal(t, []permission.Role{permission.RoleRequestor}, tr.Permission.Actors)
	require.Len(t, draft.OnExit, 1)
	assert.Equal(t, "stamp", draft.OnExit[0].Name)

	review, _ := g.Node("in_review")
	require.NotNil(t, review.Permission)
	assert.Equal(t, []permission.Role{permission.RoleAnalyzer}, review.RequiredActors())
	assert.Len(t, review.TransitionsTo("done"), 1)
	assert.Empty(t, review.TransitionsTo("in_review"))
}

func TestNodeReturnsCopy(t *testing.T) {
	g, err := Load([]byte(reviewYAML), testRegistry(t))
	require.NoError(t, err)

	node, _ := g.Node("draft")
	node.Transitions[0].Target = "done"
	node.Transitions = nil

	again, _ := g.Node("draft")
	require.Len(t, again.Transitions, 1)
	assert.Equal(t, "in_review", again.Transitions[0].Target)
}

func TestGuardsAndValidations(t *testing.T) {
	g, err := Load([]byte(reviewYAML), testRegistry(t))
	require.NoError(t, err)
	ctx := context.Background()

	draft, _ := g.Node("draft")
	ok, err := g.GuardsPass(ctx, draft.Transitions[0], map[string]any{"pages": 3})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.GuardsPass(ctx, draft.Transitions[0], map[string]any{"pages": 0})
	require.NoError(t, err)
	assert.False(t, ok)

	review, _ := g.Node("in_review")
	ok, err = g.GuardsPass(ctx, review.Transitions[0], map[string]any{"reviewed": true})
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, []string{"title is required"}, g.Validate(ctx, "in_review", map[string]any{}))
	assert.Empty(t, g.Validate(ctx, "in_review", map[string]any{"title": "x"}))
}

func TestRunHooksStopsAtFirstError(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	hooks := []NamedHook{
		{Name: "one", Fn: func(context.Context, *HookContext) error { calls++; return nil }},
		{Name: "two", Fn: func(context.Context, *HookContext) error { calls++; return boom }},
		{Name: "three", Fn: func(context.Context, *HookContext) error { calls++; return nil }},
	}
	err := RunHooks(context.Background(), hooks, &HookContext{})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "hook two")
	assert.Equal(t, 2, calls)
}

func TestCompileSoundness(t *testing.T) {
	base := func() Definition {
		return Definition{
			ID: "wf",
			States: []StateDefinition{
				{Name: "a", Initial: true, Transitions: []TransitionDefinition{{Target: "b"}}},
				{Name: "b"},
			},
		}
	}

	cases := []struct {
		name   string
		mutate func(*Definition)
		msg    string
	}{
		{"missing id", func(d *Definition) { d.ID = "" }, "workflow id required"},
		{"unknown target", func(d *Definition) { d.States[0].Transitions[0].Target = "c" }, "targets unknown state c"},
		{"duplicate state", func(d *Definition) { d.States[1].Name = "A" }, "duplicate state a"},
		{"no initial", func(d *Definition) { d.States[0].Initial = false }, "exactly one initial state"},
		{"two initials", func(d *Definition) { d.States[1].Initial = true }, "exactly one initial state"},
		{"explicit initial unknown", func(d *Definition) { d.Initial = "zzz" }, "initial state zzz not declared"},
		{"terminal with edges", func(d *Definition) { d.States[0].Terminal = true }, "marked terminal"},
		{"unknown hook", func(d *Definition) { d.States[1].OnEnter = []string{"nope"} }, "unknown hook nope"},
		{"unknown guard ref", func(d *Definition) {
			d.States[0].Transitions[0].Guards = []predicate.Expr{predicate.Ref("nope")}
		}, `unknown predicate ref "nope"`},
		{"bad condition", func(d *Definition) {
			d.States[0].Transitions[0].Permission = &PermissionDefinition{
				Conditions: []ConditionDefinition{{Kind: permission.ConditionTimeWindow, Field: "x", Within: "soon"}},
			}
		}, "within"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			def := base()
			tc.mutate(&def)
			_, err := Compile(def, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}

	g, err := Compile(base(), nil)
	require.NoError(t, err)
	assert.Equal(t, "a", g.Initial())
	for _, name := range g.States() {
		node, _ := g.Node(name)
		for _, tr := range node.Transitions {
			assert.True(t, g.HasState(tr.Target))
		}
	}
}

func TestPermissionDefinitionRequirement(t *testing.T) {
	def := &PermissionDefinition{
		Actors:       []permission.Role{permission.RoleApprover},
		Group:        &GroupDefinition{Name: " Finance ", Type: "Department"},
		Designations: []string{"Manager"},
		Conditions: []ConditionDefinition{
			{Kind: "Ownership"},
			{Kind: permission.ConditionField, Field: "total_amount", Op: "<", Value: 5000},
			{Kind: permission.ConditionTimeWindow, Field: "submitted_at", Within: "72h"},
		},
	}
	req, err := def.Requirement()
	require.NoError(t, err)
	require.NotNil(t, req.Group)
	assert.Equal(t, "Finance", req.Group.Name)
	assert.Equal(t, permission.GroupDepartment, req.Group.Type)
	require.Len(t, req.Conditions, 3)
	assert.Equal(t, permission.ConditionOwnership, req.Conditions[0].Kind)
	assert.Equal(t, predicate.OpLt, req.Conditions[1].Op)
	assert.Equal(t, "72h0m0s", req.Conditions[2].Within.String())

	var nilDef *PermissionDefinition
	empty, err := nilDef.Requirement()
	require.NoError(t, err)
	assert.True(t, empty.IsZero())
}

func TestRegistryDuplicates(t *testing.T) {
	reg := NewRegistry()
	hook := func(context.Context, *HookContext) error { return nil }
	require.NoError(t, reg.RegisterHookNamespaced("expense", "stamp", hook))
	err := reg.RegisterHookNamespaced("expense", "stamp", hook)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expense::stamp already registered")

	_, ok := reg.Hook("expense::stamp")
	assert.True(t, ok)

	require.NoError(t, reg.RegisterGuardNamespaced("expense", "ok", func(context.Context, map[string]any) (bool, error) { return true, nil }))
	assert.Error(t, reg.RegisterGuard("expense::ok", func(context.Context, map[string]any) (bool, error) { return true, nil }))
}

func TestParseJSON(t *testing.T) {
	def, err := Parse([]byte(`{"id":"j","states":[{"name":"a","initial":true,"transitions":[{"target":"b"}]},{"name":"b"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "j", def.ID)

	_, err = Parse([]byte("id: x\nstates: []\n"))
	assert.Error(t, err)
}
