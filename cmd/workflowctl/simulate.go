package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-workflow/engine"
	"github.com/goliatone/go-workflow/permission"
)

type simulateCmd struct {
	Scenario string `arg:"" type:"existingfile" help:"Scenario file (yaml)."`
	Metrics  bool   `help:"Print the collected metrics after the run."`
}

// scenario is a scripted sequence of engine calls against a fixed directory of users.
type scenario struct {
	Organization string                      `yaml:"organization"`
	Start        time.Time                   `yaml:"start"`
	Directory    map[string][]directoryEntry `yaml:"directory"`
	Steps        []step                      `yaml:"steps"`
}

type directoryEntry struct {
	Organization string               `yaml:"organization"`
	Title        string               `yaml:"title"`
	Level        int                  `yaml:"level"`
	Group        string               `yaml:"group"`
	GroupType    permission.GroupType `yaml:"group_type"`
}

type step struct {
	Name     string         `yaml:"name"`
	Op       string         `yaml:"op"`
	Type     string         `yaml:"type"`
	Workflow string         `yaml:"workflow"`
	To       string         `yaml:"to"`
	Actor    string         `yaml:"actor"`
	Data     map[string]any `yaml:"data"`
	Updates  map[string]any `yaml:"updates"`
	Advance  time.Duration  `yaml:"advance"`
	Expect   string         `yaml:"expect"`
}

const (
	opCreate     = "create"
	opTransition = "transition"
	opUpdate     = "update"
	opAdvance    = "advance"
	opList       = "list"
	opShow       = "show"
)

func loadScenario(path string) (scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return scenario{}, err
	}
	var sc scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return scenario{}, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if strings.TrimSpace(sc.Organization) == "" {
		return scenario{}, errors.New("scenario organization is required")
	}
	if sc.Start.IsZero() {
		sc.Start = time.Now().UTC().Truncate(time.Second)
	}
	for i, st := range sc.Steps {
		switch st.Op {
		case opCreate, opTransition, opUpdate, opAdvance, opList, opShow:
		default:
			return scenario{}, fmt.Errorf("step %d: unknown op %q", i+1, st.Op)
		}
	}
	return sc, nil
}

func (sc scenario) provider() *permission.StaticProvider {
	p := permission.NewStaticProvider()
	byUser := map[string]map[string][]permission.Position{}
	for user, entries := range sc.Directory {
		for _, e := range entries {
			org := e.Organization
			if org == "" {
				org = sc.Organization
			}
			if byUser[user] == nil {
				byUser[user] = map[string][]permission.Position{}
			}
			byUser[user][org] = append(byUser[user][org], permission.Position{
				Designation: permission.Designation{Name: e.Title, Level: e.Level},
				Group:       permission.Group{Name: e.Group, Type: e.GroupType},
			})
		}
	}
	for user, orgs := range byUser {
		for org, positions := range orgs {
			p.SetPositions(user, org, positions...)
		}
	}
	return p
}

// simClock is the scenario's notion of now; advance steps move it forward.
type simClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *simClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *simClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *simulateCmd) Run(a *app) error {
	sc, err := loadScenario(c.Scenario)
	if err != nil {
		return err
	}
	cfg := a.cfg
	if c.Metrics {
		cfg.Metrics.Enabled = true
	}
	clock := &simClock{now: sc.Start}
	rt, err := buildRuntime(cfg, a.logger, sc.provider(), clock.Now)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx := a.ctx
	if err := rt.engine.Start(ctx); err != nil {
		return err
	}
	mismatches := runSteps(ctx, a.out, rt.engine, clock, sc)
	if err := rt.engine.Stop(ctx); err != nil {
		return err
	}
	if c.Metrics && rt.registry != nil {
		if err := printMetrics(a.out, rt); err != nil {
			return err
		}
	}
	if mismatches > 0 {
		return fmt.Errorf("scenario failed: %d of %d steps did not match expectations", mismatches, len(sc.Steps))
	}
	return nil
}

func runSteps(ctx context.Context, out io.Writer, e *engine.Engine, clock *simClock, sc scenario) int {
	mismatches := 0
	for i, st := range sc.Steps {
		label := st.Name
		if label == "" {
			label = st.Op + " " + st.Workflow
		}
		detail, err := runStep(ctx, out, e, clock, sc.Organization, st)
		got := "ok"
		if err != nil {
			got = engine.ErrorCode(err)
			if got == "" {
				got = "error"
			}
		}
		want := st.Expect
		if want == "" {
			want = "ok"
		}
		status := "pass"
		if !strings.EqualFold(got, want) {
			status = "FAIL"
			mismatches++
		}
		fmt.Fprintf(out, "%s %2d %-40s %s", status, i+1, label, got)
		if detail != "" {
			fmt.Fprintf(out, " %s", detail)
		}
		if err != nil && status == "FAIL" {
			fmt.Fprintf(out, " (%v)", err)
		}
		if msgs := engine.ValidationMessages(err); len(msgs) > 0 {
			fmt.Fprintf(out, " [%s]", strings.Join(msgs, "; "))
		}
		fmt.Fprintln(out)
	}
	return mismatches
}

func runStep(ctx context.Context, out io.Writer, e *engine.Engine, clock *simClock, org string, st step) (string, error) {
	actor := permission.Actor{ID: st.Actor}
	switch st.Op {
	case opCreate:
		inst, err := e.CreateWorkflow(ctx, st.Type, st.Workflow, actor, org, engine.CreateOptions{Context: st.Data})
		if err != nil {
			return "", err
		}
		return "-> " + inst.CurrentState, nil
	case opTransition:
		inst, err := e.ExecuteTransition(ctx, st.Workflow, st.To, actor, org, engine.TransitionRequest{
			Context: st.Data,
			Updates: st.Updates,
		})
		if err != nil {
			return "", err
		}
		return "-> " + inst.CurrentState, nil
	case opUpdate:
		inst, err := e.UpdateWorkflowContext(ctx, st.Workflow, st.Updates, actor, org)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("v%d", inst.Version), nil
	case opAdvance:
		clock.Advance(st.Advance)
		return "now " + clock.Now().Format(time.RFC3339), nil
	case opList:
		rows, err := e.GetUserWorkflows(ctx, actor, org, engine.Filter{Type: st.Type, IncludeTerminal: true})
		if err != nil {
			return "", err
		}
		for _, row := range rows {
			actions := make([]string, len(row.AvailableTransitions))
			for i, tr := range row.AvailableTransitions {
				actions[i] = tr.Action
			}
			fmt.Fprintf(out, "        %s %s [%s] actions: %s\n", row.ID, row.Type, row.StateLabel, strings.Join(actions, ", "))
		}
		return fmt.Sprintf("%d visible", len(rows)), nil
	case opShow:
		inst, err := e.GetWorkflow(ctx, st.Workflow)
		if err != nil {
			return "", err
		}
		keys := make([]string, 0, len(inst.Context))
		for k := range inst.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, h := range inst.History {
			fmt.Fprintf(out, "        %s %s -> %s by %s\n", h.Timestamp.Format(time.RFC3339), h.FromState, h.ToState, h.Actor)
		}
		return fmt.Sprintf("%s v%d context: %s", inst.CurrentState, inst.Version, strings.Join(keys, ",")), nil
	}
	return "", fmt.Errorf("unknown op %q", st.Op)
}

func printMetrics(out io.Writer, rt *runtime) error {
	families, err := rt.registry.Gather()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "\nmetrics:")
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			fmt.Fprintf(out, "  %s{%s} %g\n", mf.GetName(), strings.Join(labels, ","), m.GetCounter().GetValue())
		}
	}
	return nil
}
