package engine

import (
	"context"

	"github.com/goliatone/go-workflow/graph"
	"github.com/goliatone/go-workflow/permission"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func (e *Engine) startSpan(ctx context.Context, name, workflowType, workflowID string, actor permission.Actor) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("workflow.type", workflowType),
		attribute.String("workflow.id", workflowID),
		attribute.String("workflow.actor", actor.ID),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrorCode(err))
	}
	span.End()
}

func (e *Engine) opLogger(ctx context.Context, workflowType, workflowID string, actor permission.Actor) Logger {
	return scoped(e.logger.WithContext(ctx), map[string]any{
		"workflow_id":   workflowID,
		"workflow_type": workflowType,
		"actor":         actor.ID,
	})
}

// record writes an audit event. Failures are logged and surfaced as side_effect_failed.
func (e *Engine) record(ctx context.Context, evt AuditEvent) {
	if e.audit == nil {
		return
	}
	evt.ID = uuid.NewString()
	if evt.Timestamp.IsZero() {
		evt.Timestamp = e.now()
	}
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = cloneRuntimeError(ErrHookFailed, "audit sink panicked", nil, map[string]any{"panic": r})
			}
		}()
		return e.audit.Record(ctx, evt)
	}()
	if err != nil {
		scoped(e.logger.WithContext(ctx), map[string]any{
			"workflow_id": evt.WorkflowID,
			"audit_kind":  string(evt.Kind),
		}).Error("audit record failed: %v", err)
		e.sideEffectFailed(ctx, EffectAudit, evt.WorkflowID, evt.WorkflowType, err)
	}
}

func (e *Engine) auditPermission(ctx context.Context, inst Instance, actor permission.Actor, target string, out permissionOutcome) {
	granted := out.decision.Granted
	e.record(ctx, AuditEvent{
		Kind:           AuditPermissionChecked,
		WorkflowID:     inst.ID,
		WorkflowType:   inst.Type,
		OrganizationID: inst.OrganizationID,
		Actor:          actor.ID,
		FromState:      inst.CurrentState,
		ToState:        target,
		Granted:        &granted,
		Dimension:      out.decision.Dimension,
		Reason:         out.decision.Reason,
		Data:           map[string]any{"scope": out.scope, "cached": out.decision.Cached},
	})
}

// notify delivers asynchronously; Stop waits for outstanding deliveries.
func (e *Engine) notify(ctx context.Context, n Notification) {
	if e.notifier == nil || n.Recipients.Empty() {
		return
	}
	ctx = context.WithoutCancel(ctx)
	e.notifications.Add(1)
	go func() {
		defer e.notifications.Done()
		defer recoverPanic(e.logger, "notification", map[string]any{"workflow_id": n.WorkflowID})
		if err := e.notifier.Notify(ctx, n); err != nil {
			scoped(e.logger.WithContext(ctx), map[string]any{
				"workflow_id": n.WorkflowID,
				"template":    string(n.Template),
			}).Error("notification failed: %v", err)
			e.sideEffectFailed(ctx, EffectNotification, n.WorkflowID, n.WorkflowType, err)
		}
	}()
}

// notificationFor addresses the actors required by inst's current state; terminal
// states notify the creator instead.
func notificationFor(g *graph.StateGraph, inst Instance, tmpl Template) Notification {
	n := Notification{
		Template:       tmpl,
		WorkflowID:     inst.ID,
		WorkflowType:   inst.Type,
		OrganizationID: inst.OrganizationID,
		State:          inst.CurrentState,
		Data: map[string]any{
			"created_by": inst.CreatedBy,
			"state":      inst.CurrentState,
		},
	}
	node, ok := g.Node(inst.CurrentState)
	if !ok {
		return n
	}
	n.Data["state_label"] = node.Label
	if node.Terminal() {
		n.Template = TemplateWorkflowCompleted
		n.Recipients.Users = []string{inst.CreatedBy}
		return n
	}
	roles := node.RequiredActors()
	for _, r := range roles {
		// every actor holds requestor; only the creator needs to hear about it
		if r == permission.RoleRequestor {
			n.Recipients.Users = []string{inst.CreatedBy}
			continue
		}
		n.Recipients.Roles = append(n.Recipients.Roles, r)
	}
	return n
}

func (e *Engine) emit(ctx context.Context, evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = e.now()
	}
	e.bus.emit(ctx, evt)
}

func (e *Engine) sideEffectFailed(ctx context.Context, effect, workflowID, workflowType string, err error) {
	e.emit(ctx, Event{
		Kind:         EventSideEffectFailed,
		WorkflowID:   workflowID,
		WorkflowType: workflowType,
		Effect:       effect,
		Err:          err,
	})
}
