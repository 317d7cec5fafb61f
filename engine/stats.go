package engine

import "github.com/goliatone/go-workflow/permission"

// TypeStats breaks down the live instances of one workflow type.
type TypeStats struct {
	Total     int            `json:"total"`
	Running   int            `json:"running"`
	Completed int            `json:"completed"`
	ByState   map[string]int `json:"by_state"`
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	State           string                `json:"state"`
	Total           int                   `json:"total"`
	Running         int                   `json:"running"`
	Completed       int                   `json:"completed"`
	Dirty           int                   `json:"dirty"`
	LocksHeld       int                   `json:"locks_held"`
	ByType          map[string]TypeStats  `json:"by_type"`
	PermissionCache permission.CacheStats `json:"permission_cache"`
	DroppedEvents   int64                 `json:"dropped_events"`
}

// Stats counts live instances by type and state. It is valid in every lifecycle state.
func (e *Engine) Stats() Stats {
	out := Stats{
		State:  e.State().String(),
		ByType: make(map[string]TypeStats),
	}

	e.mu.RLock()
	for _, rec := range e.instances {
		ts := out.ByType[rec.inst.Type]
		if ts.ByState == nil {
			ts.ByState = make(map[string]int)
		}
		ts.Total++
		ts.ByState[rec.inst.CurrentState]++
		terminal := false
		if g, ok := e.Graph(rec.inst.Type); ok {
			terminal = g.IsTerminal(rec.inst.CurrentState)
		}
		if terminal {
			ts.Completed++
			out.Completed++
		} else {
			ts.Running++
			out.Running++
		}
		if e.store != nil && rec.dirty() {
			out.Dirty++
		}
		out.Total++
		out.ByType[rec.inst.Type] = ts
	}
	e.mu.RUnlock()

	out.LocksHeld = e.locks.held()
	out.PermissionCache = e.resolver.CacheStats()
	out.DroppedEvents = e.bus.dropped()
	return out
}
