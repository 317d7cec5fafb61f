package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-workflow/graph"
	"github.com/goliatone/go-workflow/permission"
	"github.com/goliatone/go-workflow/workflows/expense"
)

const orgID = "acme"

var (
	alice = permission.Actor{ID: "alice", Name: "Alice Requestor"}
	bob   = permission.Actor{ID: "bob", Name: "Bob Manager"}
	carol = permission.Actor{ID: "carol", Name: "Carol Accountant"}
	dave  = permission.Actor{ID: "dave", Name: "Dave Engineer"}
	eve   = permission.Actor{ID: "eve", Name: "Eve Outsider"}
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.sent...)
}

type fixture struct {
	engine   *Engine
	clock    *fakeClock
	provider *permission.StaticProvider
	audit    *MemoryAuditSink
	notifier *recordingNotifier
	events   *ChannelObserver
}

func staffPositions(p *permission.StaticProvider) {
	p.SetPositions("alice", orgID, permission.Position{
		Designation: permission.Designation{Name: "Staff Engineer", Level: 3},
		Group:       permission.Group{Name: "Engineering", Type: permission.GroupDepartment},
	})
	p.SetPositions("bob", orgID, permission.Position{
		Designation: permission.Designation{Name: "Engineering Manager", Level: 5},
		Group:       permission.Group{Name: "Engineering", Type: permission.GroupDepartment},
	})
	p.SetPositions("carol", orgID, permission.Position{
		Designation: permission.Designation{Name: "Senior Accountant", Level: 4},
		Group:       permission.Group{Name: "Finance", Type: permission.GroupDepartment},
	})
	p.SetPositions("dave", orgID, permission.Position{
		Designation: permission.Designation{Name: "Software Engineer", Level: 2},
		Group:       permission.Group{Name: "Platform", Type: permission.GroupTeam},
	})
	p.SetPositions("eve", "globex", permission.Position{
		Designation: permission.Designation{Name: "Finance Director", Level: 6},
		Group:       permission.Group{Name: "Finance", Type: permission.GroupDepartment},
	})
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		clock:    newFakeClock(),
		provider: permission.NewStaticProvider(),
		audit:    NewMemoryAuditSink(),
		notifier: &recordingNotifier{},
		events:   NewChannelObserver(64),
	}
	staffPositions(f.provider)
	resolver := permission.NewResolver(f.provider, permission.WithClock(f.clock.Now))
	base := []Option{
		WithClock(f.clock.Now),
		WithLogger(NopLogger()),
		WithAuditSink(f.audit),
		WithNotificationSink(f.notifier),
		WithObserver(f.events),
		WithAutoSave(""),
	}
	f.engine = New(resolver, append(base, opts...)...)

	g, err := expense.Graph()
	require.NoError(t, err)
	require.NoError(t, f.engine.RegisterWorkflowType(expense.Type, g))
	require.NoError(t, f.engine.Start(context.Background()))
	t.Cleanup(func() { _ = f.engine.Stop(context.Background()) })
	return f
}

func (f *fixture) createExpense(t *testing.T, id string, amount any) Instance {
	t.Helper()
	inst, err := f.engine.CreateWorkflow(context.Background(), expense.Type, id, alice, orgID, CreateOptions{
		Context: map[string]any{
			"total_amount": amount,
			"category":     "travel",
			"receipt_url":  "https://files.example.com/r/" + id,
		},
	})
	require.NoError(t, err)
	return inst
}

func (f *fixture) transition(id, target string, actor permission.Actor) (Instance, error) {
	return f.engine.ExecuteTransition(context.Background(), id, target, actor, orgID, TransitionRequest{})
}

func (f *fixture) drainEvents() []Event {
	var out []Event
	for {
		select {
		case evt := <-f.events.Events():
			out = append(out, evt)
		default:
			return out
		}
	}
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, ErrorCode(err), "unexpected error: %v", err)
}

func TestEngineLifecycle(t *testing.T) {
	e := New(nil, WithLogger(NopLogger()), WithAutoSave(""))
	assert.Equal(t, StateStopped, e.State())

	_, err := e.CreateWorkflow(context.Background(), expense.Type, "x", alice, orgID, CreateOptions{})
	requireCode(t, err, ErrCodeEngineNotRunning)
	_, err = e.GetUserWorkflows(context.Background(), alice, orgID, Filter{})
	requireCode(t, err, ErrCodeEngineNotRunning)

	require.NoError(t, e.Start(context.Background()))
	assert.Equal(t, StateRunning, e.State())
	assert.Error(t, e.Start(context.Background()))

	require.NoError(t, e.Stop(context.Background()))
	assert.Equal(t, StateStopped, e.State())
	assert.NoError(t, e.Stop(context.Background()))

	_, err = e.GetWorkflow(context.Background(), "x")
	requireCode(t, err, ErrCodeEngineNotRunning)
	assert.Equal(t, "stopped", e.Stats().State)
}

type blockingStore struct {
	*MemoryStore
	entered chan struct{}
	release chan struct{}
}

func (s blockingStore) LoadAll(ctx context.Context) ([]Instance, error) {
	close(s.entered)
	<-s.release
	return s.MemoryStore.LoadAll(ctx)
}

func TestStopWhileStartingFails(t *testing.T) {
	st := blockingStore{MemoryStore: NewMemoryStore(), entered: make(chan struct{}), release: make(chan struct{})}
	e := New(nil, WithLogger(NopLogger()), WithAutoSave(""), WithStore(st))

	started := make(chan error, 1)
	go func() { started <- e.Start(context.Background()) }()
	<-st.entered
	assert.Equal(t, StateStarting, e.State())

	requireCode(t, e.Stop(context.Background()), ErrCodeEngineNotRunning)

	close(st.release)
	require.NoError(t, <-started)
	assert.Equal(t, StateRunning, e.State())
	require.NoError(t, e.Stop(context.Background()))
	assert.Equal(t, StateStopped, e.State())
}

func TestRegisterWorkflowTypeDuplicate(t *testing.T) {
	f := newFixture(t)
	g, err := expense.Graph()
	require.NoError(t, err)

	err = f.engine.RegisterWorkflowType(expense.Type, g)
	requireCode(t, err, ErrCodeDuplicateType)
	assert.Equal(t, []string{expense.Type}, f.engine.WorkflowTypes())

	err = f.engine.RegisterWorkflowType("", g)
	assert.Error(t, err)
}

func TestRegisterDefinitionRejectsUnsoundGraph(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.RegisterDefinition(graph.Definition{
		ID: "broken",
		States: []graph.StateDefinition{
			{Name: "a", Initial: true, Transitions: []graph.TransitionDefinition{{Target: "missing"}}},
		},
	}, nil)
	requireCode(t, err, ErrCodeValidationFailed)
	assert.NotEmpty(t, ValidationMessages(err))
	_, ok := f.engine.Graph("broken")
	assert.False(t, ok)
}

func TestCreateWorkflow(t *testing.T) {
	f := newFixture(t)
	inst := f.createExpense(t, "exp-1", 120)

	assert.Equal(t, expense.StateDraft, inst.CurrentState)
	assert.Equal(t, "alice", inst.CreatedBy)
	assert.Equal(t, orgID, inst.OrganizationID)
	assert.Empty(t, inst.History)
	assert.Equal(t, f.clock.Now(), inst.CreatedAt)

	_, err := f.engine.CreateWorkflow(context.Background(), expense.Type, "exp-1", bob, orgID, CreateOptions{})
	requireCode(t, err, ErrCodeDuplicateID)

	_, err = f.engine.CreateWorkflow(context.Background(), "unknown", "exp-2", alice, orgID, CreateOptions{})
	requireCode(t, err, ErrCodeUnknownType)

	_, err = f.engine.CreateWorkflow(context.Background(), expense.Type, " ", alice, orgID, CreateOptions{})
	requireCode(t, err, ErrCodeValidationFailed)

	_, err = f.engine.CreateWorkflow(context.Background(), expense.Type, "exp-3", permission.Actor{}, orgID, CreateOptions{})
	requireCode(t, err, ErrCodePermissionDenied)

	created := f.audit.Events(AuditWorkflowCreated)
	require.Len(t, created, 1)
	assert.Equal(t, "exp-1", created[0].WorkflowID)
	assert.NotEmpty(t, created[0].ID)

	evts := f.drainEvents()
	require.Len(t, evts, 1)
	assert.Equal(t, EventWorkflowCreated, evts[0].Kind)

	require.Eventually(t, func() bool { return len(f.notifier.Sent()) == 1 }, time.Second, 5*time.Millisecond)
	n := f.notifier.Sent()[0]
	assert.Equal(t, TemplateWorkflowCreated, n.Template)
	assert.Equal(t, []string{"alice"}, n.Recipients.Users)
}

func TestCreateWorkflowIsolatesCallerContext(t *testing.T) {
	f := newFixture(t)
	data := map[string]any{"total_amount": 10, "category": "meals", "tags": []any{"a"}}
	_, err := f.engine.CreateWorkflow(context.Background(), expense.Type, "exp-iso", alice, orgID, CreateOptions{Context: data})
	require.NoError(t, err)

	data["total_amount"] = 99999
	data["tags"].([]any)[0] = "mutated"

	got, err := f.engine.GetWorkflow(context.Background(), "exp-iso")
	require.NoError(t, err)
	assert.Equal(t, 10, got.Context["total_amount"])
	assert.Equal(t, []any{"a"}, got.Context["tags"])

	got.Context["category"] = "changed"
	again, _ := f.engine.GetWorkflow(context.Background(), "exp-iso")
	assert.Equal(t, "meals", again.Context["category"])
}

func TestProviderUnavailableFailsClosed(t *testing.T) {
	clock := newFakeClock()
	down := permission.ProviderFunc(func(context.Context, string, string) (*permission.OrgContext, error) {
		return nil, errors.New("directory offline")
	})
	e := New(permission.NewResolver(down, permission.WithClock(clock.Now)),
		WithClock(clock.Now), WithLogger(NopLogger()), WithAutoSave(""))
	g, err := expense.Graph()
	require.NoError(t, err)
	require.NoError(t, e.RegisterWorkflowType(expense.Type, g))
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop(context.Background())

	_, err = e.CreateWorkflow(context.Background(), expense.Type, "exp-1", alice, orgID, CreateOptions{})
	requireCode(t, err, ErrCodeProviderUnavailable)
	assert.Equal(t, 0, e.Stats().Total)

	_, err = e.GetUserWorkflows(context.Background(), alice, orgID, Filter{})
	requireCode(t, err, ErrCodeProviderUnavailable)
}

func TestUpdateWorkflowContext(t *testing.T) {
	f := newFixture(t)
	f.createExpense(t, "exp-1", 120)

	inst, err := f.engine.UpdateWorkflowContext(context.Background(), "exp-1", map[string]any{"notes": "taxi"}, alice, orgID)
	require.NoError(t, err)
	assert.Equal(t, expense.StateDraft, inst.CurrentState)
	assert.Equal(t, "taxi", inst.Context["notes"])
	assert.Equal(t, int64(2), inst.Version)

	_, err = f.engine.UpdateWorkflowContext(context.Background(), "exp-1", map[string]any{"notes": "x"}, eve, "globex")
	requireCode(t, err, ErrCodePermissionDenied)

	_, err = f.engine.UpdateWorkflowContext(context.Background(), "missing", nil, alice, orgID)
	requireCode(t, err, ErrCodeInstanceNotFound)

	updated := f.audit.Events(AuditContextUpdated)
	require.Len(t, updated, 1)
	assert.Equal(t, []string{"notes"}, updated[0].Data["keys"])
}

func TestGetUserWorkflows(t *testing.T) {
	f := newFixture(t)
	f.createExpense(t, "exp-draft", 100)
	f.createExpense(t, "exp-review", 100)
	_, err := f.transition("exp-review", expense.StateSubmitted, alice)
	require.NoError(t, err)
	_, err = f.transition("exp-review", expense.StateManagerReview, alice)
	require.NoError(t, err)

	mine, err := f.engine.GetUserWorkflows(context.Background(), alice, orgID, Filter{})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "exp-draft", mine[0].ID)
	assert.Equal(t, []AvailableTransition{{Target: expense.StateSubmitted, Action: "submit", Label: "Submit for approval"}}, mine[0].AvailableTransitions)
	assert.Empty(t, mine[1].AvailableTransitions)

	approver, err := f.engine.GetUserWorkflows(context.Background(), bob, orgID, Filter{})
	require.NoError(t, err)
	require.Len(t, approver, 1)
	assert.Equal(t, "exp-review", approver[0].ID)
	actions := []string{}
	for _, tr := range approver[0].AvailableTransitions {
		actions = append(actions, tr.Action)
	}
	assert.Equal(t, []string{"approve_manager", "reject_manager", "request_changes"}, actions)

	// same organization grants node visibility without any executable action
	bystander, err := f.engine.GetUserWorkflows(context.Background(), dave, orgID, Filter{})
	require.NoError(t, err)
	require.Len(t, bystander, 1)
	assert.Empty(t, bystander[0].AvailableTransitions)

	outsider, err := f.engine.GetUserWorkflows(context.Background(), eve, "globex", Filter{})
	require.NoError(t, err)
	assert.Empty(t, outsider)

	filtered, err := f.engine.GetUserWorkflows(context.Background(), alice, orgID, Filter{State: expense.StateManagerReview})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "Manager Review", filtered[0].StateLabel)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	f.createExpense(t, "exp-1", 100)
	f.createExpense(t, "exp-2", 100)
	_, err := f.transition("exp-2", expense.StateSubmitted, alice)
	require.NoError(t, err)

	stats := f.engine.Stats()
	assert.Equal(t, "running", stats.State)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Running)
	assert.Equal(t, 0, stats.Completed)
	assert.Equal(t, 0, stats.LocksHeld)
	ts := stats.ByType[expense.Type]
	assert.Equal(t, 1, ts.ByState[expense.StateDraft])
	assert.Equal(t, 1, ts.ByState[expense.StateSubmitted])
	assert.Positive(t, stats.PermissionCache.Misses)
}

func TestHookFailureLeavesInstanceUntouched(t *testing.T) {
	f := newFixture(t)
	reg := graph.NewRegistry()
	require.NoError(t, reg.RegisterHook("explode", func(context.Context, *graph.HookContext) error {
		return errors.New("ledger offline")
	}))
	_, err := f.engine.RegisterDefinition(graph.Definition{
		ID: "fragile",
		States: []graph.StateDefinition{
			{Name: "open", Initial: true, Transitions: []graph.TransitionDefinition{{Target: "closed", Action: "close"}}},
			{Name: "closed", OnEnter: []string{"explode"}},
		},
	}, reg)
	require.NoError(t, err)

	_, err = f.engine.CreateWorkflow(context.Background(), "fragile", "f-1", alice, orgID, CreateOptions{})
	require.NoError(t, err)
	_, err = f.transition("f-1", "closed", alice)
	requireCode(t, err, ErrCodeHookFailed)

	inst, err := f.engine.GetWorkflow(context.Background(), "f-1")
	require.NoError(t, err)
	assert.Equal(t, "open", inst.CurrentState)
	assert.Empty(t, inst.History)
}

func TestOnEnterRunsAtCreation(t *testing.T) {
	f := newFixture(t)
	reg := graph.NewRegistry()
	require.NoError(t, reg.RegisterHook("seed", func(_ context.Context, hc *graph.HookContext) error {
		hc.Data["seeded_in"] = hc.State
		return nil
	}))
	_, err := f.engine.RegisterDefinition(graph.Definition{
		ID: "seeded",
		States: []graph.StateDefinition{
			{Name: "start", Initial: true, OnEnter: []string{"seed"}, Transitions: []graph.TransitionDefinition{{Target: "end"}}},
			{Name: "end"},
		},
	}, reg)
	require.NoError(t, err)

	inst, err := f.engine.CreateWorkflow(context.Background(), "seeded", "s-1", alice, orgID, CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "start", inst.Context["seeded_in"])
}
