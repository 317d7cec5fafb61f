package engine

import (
	"reflect"
	"time"

	"github.com/goliatone/go-workflow/graph"
	"github.com/goliatone/go-workflow/permission"
)

// HistoryEntry records one successful transition. Entries are never mutated once written.
type HistoryEntry struct {
	FromState         string         `json:"from_state"`
	ToState           string         `json:"to_state"`
	Action            string         `json:"action"`
	Actor             string         `json:"actor"`
	Timestamp         time.Time      `json:"timestamp"`
	TransitionContext map[string]any `json:"transition_context,omitempty"`
}

// Instance is one running workflow. Values returned by the engine are deep copies;
// it is also the snapshot shape handed to a Store.
type Instance struct {
	ID              string         `json:"id"`
	Type            string         `json:"type"`
	CurrentState    string         `json:"current_state"`
	Context         map[string]any `json:"context"`
	History         []HistoryEntry `json:"history"`
	CreatedBy       string         `json:"created_by"`
	OrganizationID  string         `json:"organization_id"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	LastPersistedAt time.Time      `json:"last_persisted_at,omitempty"`
	Version         int64          `json:"version"`
}

// Clone returns a deep copy.
func (i Instance) Clone() Instance {
	cp := i
	cp.Context = cloneMap(i.Context)
	if i.History != nil {
		cp.History = make([]HistoryEntry, len(i.History))
		for idx, h := range i.History {
			h.TransitionContext = cloneMap(h.TransitionContext)
			cp.History[idx] = h
		}
	}
	return cp
}

func (i Instance) subject() permission.Subject {
	return permission.Subject{
		ID:             i.ID,
		Type:           i.Type,
		CreatedBy:      i.CreatedBy,
		OrganizationID: i.OrganizationID,
		Data:           i.Context,
	}
}

// AvailableTransition is an edge the actor can execute right now.
type AvailableTransition struct {
	Target string `json:"target"`
	Action string `json:"action"`
	Label  string `json:"label"`
}

// Summary is the per-instance row returned by GetUserWorkflows.
type Summary struct {
	ID                   string                `json:"id"`
	Type                 string                `json:"type"`
	CurrentState         string                `json:"current_state"`
	StateLabel           string                `json:"state_label"`
	CreatedBy            string                `json:"created_by"`
	OrganizationID       string                `json:"organization_id"`
	CreatedAt            time.Time             `json:"created_at"`
	UpdatedAt            time.Time             `json:"updated_at"`
	Terminal             bool                  `json:"terminal"`
	AvailableTransitions []AvailableTransition `json:"available_transitions"`
}

// CreateOptions carries the initial context of a new workflow.
type CreateOptions struct {
	Context map[string]any
}

// TransitionRequest carries caller data for a transition. Updates are merged into the
// workflow context before guards and validations run; Context is recorded in history.
type TransitionRequest struct {
	Context map[string]any
	Updates map[string]any
}

// Filter narrows GetUserWorkflows.
type Filter struct {
	Type            string
	State           string
	IncludeTerminal bool
	CreatedByMe     bool
}

func (f Filter) matches(inst Instance, g *graph.StateGraph, actorID string) bool {
	if f.Type != "" && f.Type != inst.Type {
		return false
	}
	if f.State != "" && graph.Normalize(f.State) != inst.CurrentState {
		return false
	}
	if !f.IncludeTerminal && g.IsTerminal(inst.CurrentState) {
		return false
	}
	if f.CreatedByMe && inst.CreatedBy != actorID {
		return false
	}
	return true
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return cloneMap(tv)
	case []any:
		out := make([]any, len(tv))
		for idx, item := range tv {
			out[idx] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), tv...)
	case nil:
		return nil
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return cloneReflect(rv).Interface()
	default:
		return v
	}
}

// cloneReflect copies typed slices, maps and arrays element by element.
// Pointers and structs are copied shallowly.
func cloneReflect(rv reflect.Value) reflect.Value {
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return rv
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(cloneReflect(rv.Index(i)))
		}
		return out
	case reflect.Array:
		out := reflect.New(rv.Type()).Elem()
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(cloneReflect(rv.Index(i)))
		}
		return out
	case reflect.Map:
		if rv.IsNil() {
			return rv
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), cloneReflect(iter.Value()))
		}
		return out
	case reflect.Interface:
		if rv.IsNil() {
			return rv
		}
		out := reflect.New(rv.Type()).Elem()
		out.Set(cloneReflect(rv.Elem()))
		return out
	default:
		return rv
	}
}

func mergeInto(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		dst[k] = cloneValue(v)
	}
	return dst
}
