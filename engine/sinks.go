package engine

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-workflow/permission"
)

// AuditKind names an audit record.
type AuditKind string

const (
	AuditWorkflowCreated      AuditKind = "workflow_created"
	AuditWorkflowTransitioned AuditKind = "workflow_transitioned"
	AuditContextUpdated       AuditKind = "context_updated"
	AuditPermissionChecked    AuditKind = "permission_checked"
	AuditValidationFailed     AuditKind = "validation_failed"
)

// AuditEvent is one audit trail record.
type AuditEvent struct {
	ID             string               `json:"id"`
	Kind           AuditKind            `json:"kind"`
	WorkflowID     string               `json:"workflow_id"`
	WorkflowType   string               `json:"workflow_type"`
	OrganizationID string               `json:"organization_id,omitempty"`
	Actor          string               `json:"actor"`
	FromState      string               `json:"from_state,omitempty"`
	ToState        string               `json:"to_state,omitempty"`
	Action         string               `json:"action,omitempty"`
	Granted        *bool                `json:"granted,omitempty"`
	Dimension      permission.Dimension `json:"dimension,omitempty"`
	Reason         string               `json:"reason,omitempty"`
	Messages       []string             `json:"messages,omitempty"`
	Data           map[string]any       `json:"data,omitempty"`
	Timestamp      time.Time            `json:"timestamp"`
}

// AuditSink records audit events. Errors are reported but never fail the caller.
type AuditSink interface {
	Record(ctx context.Context, evt AuditEvent) error
}

// AuditFunc adapts a function to AuditSink.
type AuditFunc func(ctx context.Context, evt AuditEvent) error

// Record calls f.
func (f AuditFunc) Record(ctx context.Context, evt AuditEvent) error { return f(ctx, evt) }

// MemoryAuditSink keeps audit events in memory.
type MemoryAuditSink struct {
	mu     sync.RWMutex
	events []AuditEvent
}

// NewMemoryAuditSink creates an empty sink.
func NewMemoryAuditSink() *MemoryAuditSink { return &MemoryAuditSink{} }

// Record appends evt.
func (s *MemoryAuditSink) Record(_ context.Context, evt AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

// Events returns recorded events, optionally filtered by kind.
func (s *MemoryAuditSink) Events(kinds ...AuditKind) []AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(kinds) == 0 {
		return append([]AuditEvent(nil), s.events...)
	}
	want := make(map[AuditKind]struct{}, len(kinds))
	for _, k := range kinds {
		want[k] = struct{}{}
	}
	var out []AuditEvent
	for _, evt := range s.events {
		if _, ok := want[evt.Kind]; ok {
			out = append(out, evt)
		}
	}
	return out
}

// LogAuditSink writes audit events to a Logger.
type LogAuditSink struct {
	logger Logger
}

// NewLogAuditSink wraps logger.
func NewLogAuditSink(logger Logger) *LogAuditSink {
	return &LogAuditSink{logger: orDefaultLogger(logger)}
}

// Record logs evt at info level with correlation fields.
func (s *LogAuditSink) Record(ctx context.Context, evt AuditEvent) error {
	fields := map[string]any{
		"audit_id":      evt.ID,
		"workflow_id":   evt.WorkflowID,
		"workflow_type": evt.WorkflowType,
		"actor":         evt.Actor,
	}
	if evt.ToState != "" {
		fields["target_state"] = evt.ToState
	}
	if evt.Granted != nil {
		fields["granted"] = *evt.Granted
	}
	if evt.Reason != "" {
		fields["reason"] = evt.Reason
	}
	scoped(s.logger.WithContext(ctx), fields).Info("audit %s", evt.Kind)
	return nil
}

// Template names a notification template.
type Template string

const (
	TemplateWorkflowCreated   Template = "workflow_created"
	TemplateActionRequired    Template = "action_required"
	TemplateWorkflowCompleted Template = "workflow_completed"
)

// Recipients addresses a notification to roles and explicit users.
type Recipients struct {
	Roles []permission.Role `json:"roles,omitempty"`
	Users []string          `json:"users,omitempty"`
}

// Empty reports whether there is nobody to notify.
func (r Recipients) Empty() bool { return len(r.Roles) == 0 && len(r.Users) == 0 }

// Notification is a fire-and-forget message request.
type Notification struct {
	Recipients     Recipients     `json:"recipients"`
	Template       Template       `json:"template"`
	WorkflowID     string         `json:"workflow_id"`
	WorkflowType   string         `json:"workflow_type"`
	OrganizationID string         `json:"organization_id,omitempty"`
	State          string         `json:"state"`
	Data           map[string]any `json:"data,omitempty"`
}

// NotificationSink delivers notifications. Retries are the sink's concern.
type NotificationSink interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifyFunc adapts a function to NotificationSink.
type NotifyFunc func(ctx context.Context, n Notification) error

// Notify calls f.
func (f NotifyFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// Store persists instance snapshots. Save must ignore a snapshot whose Version is
// lower than the stored one, since sweeps and transitions persist concurrently.
type Store interface {
	Save(ctx context.Context, snapshot Instance) error
	LoadAll(ctx context.Context) ([]Instance, error)
	Delete(ctx context.Context, id string) error
}

// MemoryStore keeps snapshots in memory.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]Instance
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string]Instance)}
}

// Save stores a deep copy of snapshot unless a newer version is already stored.
func (s *MemoryStore) Save(_ context.Context, snapshot Instance) error {
	if strings.TrimSpace(snapshot.ID) == "" {
		return errors.New("snapshot id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.snapshots[snapshot.ID]; ok && current.Version > snapshot.Version {
		return nil
	}
	s.snapshots[snapshot.ID] = snapshot.Clone()
	return nil
}

// LoadAll returns every snapshot ordered by creation time.
func (s *MemoryStore) LoadAll(context.Context) ([]Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Instance, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		out = append(out, snap.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Delete removes a snapshot; missing ids are ignored.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, id)
	return nil
}

// Get returns a stored snapshot.
func (s *MemoryStore) Get(id string) (Instance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[id]
	if !ok {
		return Instance{}, false
	}
	return snap.Clone(), true
}
