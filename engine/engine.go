package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-workflow/graph"
	"github.com/goliatone/go-workflow/permission"
	rcron "github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/goliatone/go-workflow/engine"

// State is the engine lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type record struct {
	inst             Instance
	persistedVersion int64
}

func (r *record) dirty() bool {
	return r.inst.Version > r.persistedVersion
}

// Engine owns the workflow type registry and the live instance table.
type Engine struct {
	resolver *permission.Resolver
	store    Store
	audit    AuditSink
	notifier NotificationSink
	logger   Logger
	tracer   trace.Tracer
	now      func() time.Time

	lockTTL      time.Duration
	autoSaveSpec string

	stateMu sync.Mutex
	state   State
	ops     sync.WaitGroup

	typesMu sync.RWMutex
	types   map[string]*graph.StateGraph

	mu        sync.RWMutex
	instances map[string]*record
	reserved  map[string]struct{}

	locks         *lockTable
	bus           *eventBus
	notifications sync.WaitGroup
	cron          *rcron.Cron
	sweepMu       sync.Mutex
}

// New builds a stopped engine. A nil resolver denies every operation.
func New(resolver *permission.Resolver, opts ...Option) *Engine {
	if resolver == nil {
		resolver = permission.NewResolver(nil)
	}
	e := &Engine{
		resolver:     resolver,
		now:          time.Now,
		lockTTL:      DefaultLockTTL,
		autoSaveSpec: DefaultAutoSaveSpec,
		types:        make(map[string]*graph.StateGraph),
		instances:    make(map[string]*record),
		reserved:     make(map[string]struct{}),
		bus:          &eventBus{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.logger = orDefaultLogger(e.logger)
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	e.bus.logger = e.logger
	e.locks = newLockTable(e.lockTTL, e.now)
	return e
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

// Resolver exposes the permission resolver.
func (e *Engine) Resolver() *permission.Resolver { return e.resolver }

// Start loads persisted instances and starts the auto-save sweep.
func (e *Engine) Start(ctx context.Context) error {
	e.stateMu.Lock()
	if e.state != StateStopped {
		state := e.state
		e.stateMu.Unlock()
		return fmt.Errorf("engine start: already %s", state)
	}
	e.state = StateStarting
	e.stateMu.Unlock()

	setState := func(s State) {
		e.stateMu.Lock()
		e.state = s
		e.stateMu.Unlock()
	}

	if err := e.load(ctx); err != nil {
		setState(StateStopped)
		return err
	}
	if err := e.startAutoSave(); err != nil {
		setState(StateStopped)
		return err
	}
	setState(StateRunning)
	e.logger.Info("workflow engine running with %d instances", e.count())
	return nil
}

// Stop rejects new operations, waits for in-flight work and flushes dirty instances.
// It fails while Start is still loading.
func (e *Engine) Stop(ctx context.Context) error {
	e.stateMu.Lock()
	switch e.state {
	case StateRunning:
	case StateStarting:
		e.stateMu.Unlock()
		return cloneRuntimeError(ErrEngineNotRunning, "workflow engine is still starting", nil, nil)
	default:
		e.stateMu.Unlock()
		return nil
	}
	e.state = StateStopping
	e.stateMu.Unlock()

	e.ops.Wait()
	e.stopAutoSave()
	waitErr := waitGroup(ctx, &e.notifications)
	flushErr := e.flush(ctx)

	e.stateMu.Lock()
	e.state = StateStopped
	e.stateMu.Unlock()

	if flushErr != nil {
		return flushErr
	}
	return waitErr
}

// enter admits an operation while running; the returned func must be called on exit.
func (e *Engine) enter() (func(), error) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.state != StateRunning {
		return nil, cloneRuntimeError(ErrEngineNotRunning, "", nil, map[string]any{"state": e.state.String()})
	}
	e.ops.Add(1)
	return e.ops.Done, nil
}

// RegisterWorkflowType adds a compiled graph under name. Types may be registered in
// any lifecycle state so that Start can match persisted instances.
func (e *Engine) RegisterWorkflowType(name string, g *graph.StateGraph) error {
	name = strings.TrimSpace(name)
	if name == "" || g == nil {
		return cloneRuntimeError(ErrUnknownType, "workflow type name and graph required", nil, nil)
	}
	e.typesMu.Lock()
	defer e.typesMu.Unlock()
	if _, exists := e.types[name]; exists {
		return cloneRuntimeError(ErrDuplicateType, "", nil, map[string]any{"workflow_type": name})
	}
	e.types[name] = g
	return nil
}

// RegisterDefinition compiles def against reg and registers it under def.ID.
func (e *Engine) RegisterDefinition(def graph.Definition, reg *graph.Registry) (*graph.StateGraph, error) {
	g, err := graph.Compile(def, reg)
	if err != nil {
		return nil, cloneRuntimeError(ErrValidationFailed, "invalid workflow definition", err, map[string]any{
			"workflow_type": def.ID,
			"messages":      []string{err.Error()},
		})
	}
	if err := e.RegisterWorkflowType(g.ID(), g); err != nil {
		return nil, err
	}
	return g, nil
}

// WorkflowTypes returns registered type names in sorted order.
func (e *Engine) WorkflowTypes() []string {
	e.typesMu.RLock()
	defer e.typesMu.RUnlock()
	out := make([]string, 0, len(e.types))
	for name := range e.types {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Graph returns the graph registered under name.
func (e *Engine) Graph(name string) (*graph.StateGraph, bool) {
	e.typesMu.RLock()
	defer e.typesMu.RUnlock()
	g, ok := e.types[name]
	return g, ok
}

// Subscribe registers obs until the returned subscription is cancelled.
func (e *Engine) Subscribe(obs Observer) Subscription {
	return e.bus.subscribe(obs)
}

func (e *Engine) load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	snapshots, err := e.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load workflows: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, snap := range snapshots {
		logger := scoped(e.logger, map[string]any{
			"workflow_id":   snap.ID,
			"workflow_type": snap.Type,
		})
		g, ok := e.Graph(snap.Type)
		if !ok {
			logger.Warn("skipping persisted workflow of unregistered type")
			continue
		}
		if !g.HasState(snap.CurrentState) {
			logger.Warn("skipping persisted workflow in unknown state %s", snap.CurrentState)
			continue
		}
		if _, exists := e.instances[snap.ID]; exists {
			continue
		}
		e.instances[snap.ID] = &record{inst: snap.Clone(), persistedVersion: snap.Version}
	}
	return nil
}

func (e *Engine) count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.instances)
}

func (e *Engine) lookup(id string) (Instance, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.instances[id]
	if !ok {
		return Instance{}, false
	}
	return rec.inst.Clone(), true
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
