package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/goliatone/go-workflow/graph"
	"github.com/goliatone/go-workflow/permission"
)

// CreateWorkflow creates a workflow of type in its initial state. The instance becomes
// visible only after its enter hooks ran and it was persisted.
func (e *Engine) CreateWorkflow(ctx context.Context, workflowType, id string, actor permission.Actor, organizationID string, opts CreateOptions) (_ Instance, err error) {
	done, err := e.enter()
	if err != nil {
		return Instance{}, err
	}
	defer done()

	id = strings.TrimSpace(id)
	ctx, span := e.startSpan(ctx, "workflow.create", workflowType, id, actor)
	defer func() { endSpan(span, err) }()
	logger := e.opLogger(ctx, workflowType, id, actor)

	g, ok := e.Graph(workflowType)
	if !ok {
		return Instance{}, cloneRuntimeError(ErrUnknownType, "", nil, map[string]any{"workflow_type": workflowType})
	}
	if id == "" {
		return Instance{}, validationError("workflow id required", []string{"workflow id required"}, nil)
	}
	org, err := e.resolver.Context(ctx, actor.ID, organizationID)
	if err != nil {
		logger.Warn("organizational context unavailable: %v", err)
		return Instance{}, err
	}

	if err := e.reserve(id); err != nil {
		return Instance{}, err
	}
	defer e.unreserve(id)

	now := e.now()
	inst := Instance{
		ID:             id,
		Type:           workflowType,
		CurrentState:   g.Initial(),
		Context:        cloneMap(opts.Context),
		History:        []HistoryEntry{},
		CreatedBy:      actor.ID,
		OrganizationID: organizationID,
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	}
	if inst.Context == nil {
		inst.Context = make(map[string]any)
	}
	node, _ := g.Node(inst.CurrentState)

	var req permission.Requirement
	if node.Permission != nil {
		req = *node.Permission
	}
	d, err := e.check(ctx, actor, org, req, inst.subject())
	if err != nil || !d.Granted {
		e.auditPermission(ctx, inst, actor, inst.CurrentState, permissionOutcome{decision: d, scope: "create"})
		return Instance{}, permissionError(d, err, map[string]any{"workflow_id": id, "workflow_type": workflowType})
	}
	if messages := g.Validate(ctx, inst.CurrentState, inst.Context); len(messages) > 0 {
		e.record(ctx, AuditEvent{
			Kind: AuditValidationFailed, WorkflowID: id, WorkflowType: workflowType,
			OrganizationID: organizationID, Actor: actor.ID, ToState: inst.CurrentState, Messages: messages,
		})
		return Instance{}, validationError("", messages, map[string]any{"workflow_id": id})
	}
	hc := &graph.HookContext{
		InstanceID: id,
		Type:       workflowType,
		State:      inst.CurrentState,
		Actor:      actor,
		Data:       inst.Context,
		Now:        now,
	}
	if err := graph.RunHooks(ctx, node.OnEnter, hc); err != nil {
		return Instance{}, cloneRuntimeError(ErrHookFailed, "", err, map[string]any{"workflow_id": id})
	}
	if hc.Data != nil {
		inst.Context = hc.Data
	}

	if e.store != nil {
		inst.LastPersistedAt = now
		if err := e.store.Save(ctx, inst.Clone()); err != nil {
			if delErr := e.store.Delete(ctx, id); delErr != nil {
				logger.Warn("rollback delete failed: %v", delErr)
			}
			logger.Error("create persistence failed: %v", err)
			return Instance{}, persistenceError(err, id)
		}
	}

	e.mu.Lock()
	persisted := int64(0)
	if e.store != nil {
		persisted = inst.Version
	}
	e.instances[id] = &record{inst: inst.Clone(), persistedVersion: persisted}
	e.mu.Unlock()

	logger.Info("workflow created in state %s", inst.CurrentState)
	e.record(ctx, AuditEvent{
		Kind:           AuditWorkflowCreated,
		WorkflowID:     id,
		WorkflowType:   workflowType,
		OrganizationID: organizationID,
		Actor:          actor.ID,
		ToState:        inst.CurrentState,
		Data:           cloneMap(inst.Context),
	})
	e.emit(ctx, Event{
		Kind:         EventWorkflowCreated,
		WorkflowID:   id,
		WorkflowType: workflowType,
		ToState:      inst.CurrentState,
		Actor:        actor.ID,
	})
	e.notify(ctx, notificationFor(g, inst, TemplateWorkflowCreated))
	return inst.Clone(), nil
}

// ExecuteTransition moves a workflow to targetState under the per-instance lock.
func (e *Engine) ExecuteTransition(ctx context.Context, id, targetState string, actor permission.Actor, organizationID string, req TransitionRequest) (_ Instance, err error) {
	done, err := e.enter()
	if err != nil {
		return Instance{}, err
	}
	defer done()

	current, ok := e.lookup(id)
	if !ok {
		return Instance{}, cloneRuntimeError(ErrInstanceNotFound, "", nil, map[string]any{"workflow_id": id})
	}
	ctx, span := e.startSpan(ctx, "workflow.transition", current.Type, id, actor)
	defer func() { endSpan(span, err) }()
	logger := scoped(e.opLogger(ctx, current.Type, id, actor), map[string]any{
		"target_state": graph.Normalize(targetState),
	})

	org, err := e.resolver.Context(ctx, actor.ID, organizationID)
	if err != nil {
		logger.Warn("organizational context unavailable: %v", err)
		return Instance{}, err
	}

	var (
		res     transitionResult
		g       *graph.StateGraph
		prev    Instance
		updated Instance
	)
	err = e.withLock(id, actor, func(token string) error {
		var ok bool
		prev, ok = e.lookup(id)
		if !ok {
			return cloneRuntimeError(ErrInstanceNotFound, "", nil, map[string]any{"workflow_id": id})
		}
		g, ok = e.Graph(prev.Type)
		if !ok || !g.HasState(prev.CurrentState) {
			return validationError("workflow no longer matches a registered graph",
				[]string{fmt.Sprintf("type %s state %s not registered", prev.Type, prev.CurrentState)},
				map[string]any{"workflow_id": id})
		}

		var terr error
		res, terr = e.transition(ctx, g, prev, targetState, actor, org, req)
		if res.permission.scope != "" {
			e.auditPermission(ctx, prev, actor, graph.Normalize(targetState), res.permission)
		}
		if terr != nil {
			if msgs := ValidationMessages(terr); len(msgs) > 0 {
				e.record(ctx, AuditEvent{
					Kind: AuditValidationFailed, WorkflowID: id, WorkflowType: prev.Type,
					OrganizationID: prev.OrganizationID, Actor: actor.ID,
					FromState: prev.CurrentState, ToState: graph.Normalize(targetState), Messages: msgs,
				})
			}
			return terr
		}

		if err := e.locks.commit(id, token, func() { e.swap(res.inst) }); err != nil {
			return err
		}
		if err := e.persist(ctx, res.inst.Clone()); err != nil {
			logger.Error("transition persisted lazily, save failed: %v", err)
			e.sideEffectFailed(ctx, EffectPersistence, id, prev.Type, err)
		}
		updated, _ = e.lookup(id)
		return nil
	})
	if err != nil {
		logger.Debug("transition rejected: %v", err)
		return Instance{}, err
	}

	logger.Info("workflow transitioned %s -> %s via %s", res.from, updated.CurrentState, res.transition.Action)
	e.record(ctx, AuditEvent{
		Kind:           AuditWorkflowTransitioned,
		WorkflowID:     id,
		WorkflowType:   updated.Type,
		OrganizationID: updated.OrganizationID,
		Actor:          actor.ID,
		FromState:      res.from,
		ToState:        updated.CurrentState,
		Action:         res.transition.Action,
		Data:           cloneMap(req.Context),
	})
	e.notify(ctx, notificationFor(g, updated, TemplateActionRequired))
	e.emit(ctx, Event{
		Kind:         EventStateChanged,
		WorkflowID:   id,
		WorkflowType: updated.Type,
		FromState:    res.from,
		ToState:      updated.CurrentState,
		Action:       res.transition.Action,
		Actor:        actor.ID,
		Terminal:     g.IsTerminal(updated.CurrentState),
	})
	return updated, nil
}

// UpdateWorkflowContext merges updates into the workflow context without changing state.
// It is gated by the current state's node permission; states without one only require
// the actor to belong to the workflow's organization.
func (e *Engine) UpdateWorkflowContext(ctx context.Context, id string, updates map[string]any, actor permission.Actor, organizationID string) (_ Instance, err error) {
	done, err := e.enter()
	if err != nil {
		return Instance{}, err
	}
	defer done()

	current, ok := e.lookup(id)
	if !ok {
		return Instance{}, cloneRuntimeError(ErrInstanceNotFound, "", nil, map[string]any{"workflow_id": id})
	}
	ctx, span := e.startSpan(ctx, "workflow.update_context", current.Type, id, actor)
	defer func() { endSpan(span, err) }()
	logger := e.opLogger(ctx, current.Type, id, actor)

	org, err := e.resolver.Context(ctx, actor.ID, organizationID)
	if err != nil {
		logger.Warn("organizational context unavailable: %v", err)
		return Instance{}, err
	}

	var updated Instance
	err = e.withLock(id, actor, func(token string) error {
		inst, ok := e.lookup(id)
		if !ok {
			return cloneRuntimeError(ErrInstanceNotFound, "", nil, map[string]any{"workflow_id": id})
		}
		g, ok := e.Graph(inst.Type)
		if !ok || !g.HasState(inst.CurrentState) {
			return validationError("workflow no longer matches a registered graph",
				[]string{fmt.Sprintf("type %s state %s not registered", inst.Type, inst.CurrentState)},
				map[string]any{"workflow_id": id})
		}
		meta := map[string]any{"workflow_id": id, "workflow_type": inst.Type, "state": inst.CurrentState}
		if g.IsTerminal(inst.CurrentState) {
			return cloneRuntimeError(ErrWorkflowTerminal, "", nil, meta)
		}

		node, _ := g.Node(inst.CurrentState)
		req := permission.Requirement{Conditions: []permission.Condition{permission.SameOrganization()}}
		if node.Permission != nil {
			req = *node.Permission
		}
		d, err := e.check(ctx, actor, org, req, inst.subject())
		e.auditPermission(ctx, inst, actor, inst.CurrentState, permissionOutcome{decision: d, scope: "context:" + inst.CurrentState})
		if err != nil || !d.Granted {
			return permissionError(d, err, meta)
		}

		next := inst.Clone()
		next.Context = mergeInto(next.Context, updates)
		next.UpdatedAt = e.now()
		next.Version++
		if err := e.locks.commit(id, token, func() { e.swap(next) }); err != nil {
			return err
		}
		if err := e.persist(ctx, next.Clone()); err != nil {
			logger.Error("context update persisted lazily, save failed: %v", err)
			e.sideEffectFailed(ctx, EffectPersistence, id, inst.Type, err)
		}
		updated, _ = e.lookup(id)
		return nil
	})
	if err != nil {
		return Instance{}, err
	}

	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	e.record(ctx, AuditEvent{
		Kind:           AuditContextUpdated,
		WorkflowID:     id,
		WorkflowType:   updated.Type,
		OrganizationID: updated.OrganizationID,
		Actor:          actor.ID,
		FromState:      updated.CurrentState,
		Data:           map[string]any{"keys": keys},
	})
	e.emit(ctx, Event{
		Kind:         EventContextUpdated,
		WorkflowID:   id,
		WorkflowType: updated.Type,
		FromState:    updated.CurrentState,
		ToState:      updated.CurrentState,
		Actor:        actor.ID,
	})
	return updated, nil
}

// GetWorkflow returns a copy of a live workflow.
func (e *Engine) GetWorkflow(_ context.Context, id string) (Instance, error) {
	done, err := e.enter()
	if err != nil {
		return Instance{}, err
	}
	defer done()
	inst, ok := e.lookup(id)
	if !ok {
		return Instance{}, cloneRuntimeError(ErrInstanceNotFound, "", nil, map[string]any{"workflow_id": id})
	}
	return inst, nil
}

// GetUserWorkflows lists the same-organization workflows the actor created, holds node
// permission on, or can act on, together with the transitions available to them.
func (e *Engine) GetUserWorkflows(ctx context.Context, actor permission.Actor, organizationID string, filter Filter) ([]Summary, error) {
	done, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer done()

	org, err := e.resolver.Context(ctx, actor.ID, organizationID)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	candidates := make([]Instance, 0, len(e.instances))
	for _, rec := range e.instances {
		if rec.inst.OrganizationID == organizationID {
			candidates = append(candidates, rec.inst.Clone())
		}
	}
	e.mu.RUnlock()
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].ID < candidates[j].ID
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	out := []Summary{}
	for _, inst := range candidates {
		g, ok := e.Graph(inst.Type)
		if !ok || !filter.matches(inst, g, actor.ID) {
			continue
		}
		node, ok := g.Node(inst.CurrentState)
		if !ok {
			continue
		}
		available := e.available(ctx, g, inst, actor, org)
		visible := inst.CreatedBy == actor.ID || len(available) > 0
		if !visible && node.Permission != nil {
			d, err := e.check(ctx, actor, org, *node.Permission, inst.subject())
			visible = err == nil && d.Granted
		}
		if !visible {
			continue
		}
		if available == nil {
			available = []AvailableTransition{}
		}
		out = append(out, Summary{
			ID:                   inst.ID,
			Type:                 inst.Type,
			CurrentState:         inst.CurrentState,
			StateLabel:           node.Label,
			CreatedBy:            inst.CreatedBy,
			OrganizationID:       inst.OrganizationID,
			CreatedAt:            inst.CreatedAt,
			UpdatedAt:            inst.UpdatedAt,
			Terminal:             node.Terminal(),
			AvailableTransitions: available,
		})
	}
	return out, nil
}

// withLock runs fn holding the instance lock and releases it on every path.
func (e *Engine) withLock(id string, actor permission.Actor, fn func(token string) error) error {
	token, err := e.locks.acquire(id, actor.ID)
	if err != nil {
		return err
	}
	defer e.locks.release(id, token)
	return fn(token)
}

func (e *Engine) swap(inst Instance) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rec, ok := e.instances[inst.ID]; ok {
		rec.inst = inst.Clone()
	}
}

func (e *Engine) reserve(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, live := e.instances[id]
	_, pending := e.reserved[id]
	if live || pending {
		return cloneRuntimeError(ErrDuplicateID, "", nil, map[string]any{"workflow_id": id})
	}
	e.reserved[id] = struct{}{}
	return nil
}

func (e *Engine) unreserve(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.reserved, id)
}
