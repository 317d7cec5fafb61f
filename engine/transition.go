package engine

import (
	"context"
	"fmt"

	"github.com/goliatone/go-workflow/graph"
	"github.com/goliatone/go-workflow/permission"
)

// permissionOutcome is the audited result of the permission stage.
type permissionOutcome struct {
	decision permission.Decision
	scope    string
}

type transitionResult struct {
	inst       Instance
	from       string
	transition graph.Transition
	permission permissionOutcome
}

// transition runs the FSM algorithm on a working copy of inst. inst itself is never
// mutated; on success the caller swaps in result.inst.
func (e *Engine) transition(ctx context.Context, g *graph.StateGraph, inst Instance, target string, actor permission.Actor, org *permission.OrgContext, req TransitionRequest) (transitionResult, error) {
	res := transitionResult{from: inst.CurrentState}
	target = graph.Normalize(target)
	meta := map[string]any{
		"workflow_id":   inst.ID,
		"workflow_type": inst.Type,
		"from_state":    inst.CurrentState,
		"target_state":  target,
	}

	current, ok := g.Node(inst.CurrentState)
	if !ok {
		return res, validationError("current state is not part of the workflow graph",
			[]string{fmt.Sprintf("unknown state %s", inst.CurrentState)}, meta)
	}
	if current.Terminal() {
		return res, cloneRuntimeError(ErrWorkflowTerminal, "", nil, meta)
	}

	candidates := current.TransitionsTo(target)
	if len(candidates) == 0 {
		meta["available_targets"] = targetsOf(current)
		return res, cloneRuntimeError(ErrInvalidTransition,
			fmt.Sprintf("no transition from %s to %s", inst.CurrentState, target), nil, meta)
	}

	working := inst.Clone()
	if len(req.Updates) > 0 {
		working.Context = mergeInto(working.Context, req.Updates)
	}
	if working.Context == nil {
		working.Context = make(map[string]any)
	}
	subject := working.subject()

	// node-level permissions of both ends apply to every edge between them
	targetNode, _ := g.Node(target)
	for _, scoped := range []struct {
		scope string
		req   *permission.Requirement
	}{
		{"state:" + current.Name, current.Permission},
		{"state:" + targetNode.Name, targetNode.Permission},
	} {
		if scoped.req == nil {
			continue
		}
		d, err := e.check(ctx, actor, org, *scoped.req, subject)
		if err != nil || !d.Granted {
			res.permission = permissionOutcome{decision: d, scope: scoped.scope}
			return res, permissionError(d, err, meta)
		}
	}

	var permitted []graph.Transition
	var lastDenied permission.Decision
	var lastErr error
	for _, tr := range candidates {
		d, err := e.check(ctx, actor, org, tr.Permission, subject)
		if err == nil && d.Granted {
			permitted = append(permitted, tr)
			res.permission = permissionOutcome{decision: d, scope: "transition:" + tr.Action}
			continue
		}
		lastDenied, lastErr = d, err
	}
	if len(permitted) == 0 {
		res.permission = permissionOutcome{decision: lastDenied, scope: "transition:" + candidates[len(candidates)-1].Action}
		return res, permissionError(lastDenied, lastErr, meta)
	}

	var selected *graph.Transition
	var guardErr error
	for idx := range permitted {
		passed, err := g.GuardsPass(ctx, permitted[idx], working.Context)
		if err != nil {
			guardErr = err
			continue
		}
		if passed {
			selected = &permitted[idx]
			break
		}
	}
	if selected == nil {
		return res, cloneRuntimeError(ErrGuardNotSatisfied,
			fmt.Sprintf("no transition from %s to %s has all guards satisfied", inst.CurrentState, target), guardErr, meta)
	}
	res.transition = *selected
	meta["action"] = selected.Action

	if messages := g.Validate(ctx, target, working.Context); len(messages) > 0 {
		return res, validationError("", messages, meta)
	}

	now := e.now()
	hc := &graph.HookContext{
		InstanceID: working.ID,
		Type:       working.Type,
		State:      current.Name,
		Actor:      actor,
		Data:       working.Context,
		Now:        now,
	}
	if err := graph.RunHooks(ctx, current.OnExit, hc); err != nil {
		return res, cloneRuntimeError(ErrHookFailed, "", err, meta)
	}
	working.CurrentState = target
	working.History = append(working.History, HistoryEntry{
		FromState:         current.Name,
		ToState:           target,
		Action:            selected.Action,
		Actor:             actor.ID,
		Timestamp:         now,
		TransitionContext: cloneMap(req.Context),
	})
	hc.State = target
	if err := graph.RunHooks(ctx, targetNode.OnEnter, hc); err != nil {
		return res, cloneRuntimeError(ErrHookFailed, "", err, meta)
	}
	if hc.Data != nil {
		working.Context = hc.Data
	}
	working.UpdatedAt = now
	working.Version++
	res.inst = working
	return res, nil
}

// available lists the edges out of inst's current state the actor can execute now.
func (e *Engine) available(ctx context.Context, g *graph.StateGraph, inst Instance, actor permission.Actor, org *permission.OrgContext) []AvailableTransition {
	current, ok := g.Node(inst.CurrentState)
	if !ok || current.Terminal() {
		return nil
	}
	subject := inst.subject()
	if current.Permission != nil {
		if d, err := e.check(ctx, actor, org, *current.Permission, subject); err != nil || !d.Granted {
			return nil
		}
	}
	out := []AvailableTransition{}
	seen := map[string]bool{}
	for _, tr := range current.Transitions {
		if seen[tr.Target] {
			continue
		}
		if targetNode, ok := g.Node(tr.Target); ok && targetNode.Permission != nil {
			if d, err := e.check(ctx, actor, org, *targetNode.Permission, subject); err != nil || !d.Granted {
				continue
			}
		}
		if d, err := e.check(ctx, actor, org, tr.Permission, subject); err != nil || !d.Granted {
			continue
		}
		if passed, err := g.GuardsPass(ctx, tr, inst.Context); err != nil || !passed {
			continue
		}
		seen[tr.Target] = true
		out = append(out, AvailableTransition{Target: tr.Target, Action: tr.Action, Label: tr.Label})
	}
	return out
}

func (e *Engine) check(ctx context.Context, actor permission.Actor, org *permission.OrgContext, req permission.Requirement, subject permission.Subject) (permission.Decision, error) {
	return e.resolver.Check(ctx, permission.CheckRequest{
		Actor:       actor,
		Org:         org,
		Requirement: req,
		Subject:     subject,
	})
}

func permissionError(d permission.Decision, source error, meta map[string]any) error {
	if permission.IsProviderUnavailable(source) {
		return source
	}
	out := make(map[string]any, len(meta)+2)
	for k, v := range meta {
		out[k] = v
	}
	if d.Dimension != "" {
		out["dimension"] = string(d.Dimension)
	}
	if d.Reason != "" {
		out["reason"] = d.Reason
	}
	msg := ""
	if d.Reason != "" {
		msg = "permission denied: " + d.Reason
	}
	return cloneRuntimeError(ErrPermissionDenied, msg, source, out)
}

func targetsOf(node graph.StateNode) []string {
	out := make([]string, 0, len(node.Transitions))
	seen := map[string]bool{}
	for _, tr := range node.Transitions {
		if !seen[tr.Target] {
			seen[tr.Target] = true
			out = append(out, tr.Target)
		}
	}
	return out
}
