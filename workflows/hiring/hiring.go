// Package hiring provides the candidate hiring workflow.
package hiring

import (
	"context"
	_ "embed"

	"github.com/goliatone/go-workflow/graph"
	"github.com/goliatone/go-workflow/predicate"
)

// Type is the workflow type identifier.
const Type = "hiring"

const (
	StateApplicationReceived = "application_received"
	StateScreening           = "screening"
	StateInterview           = "interview"
	StateOffer               = "offer"
	StateHired               = "hired"
	StateRejected            = "rejected"
)

// MinPanelScore is the average interview score required to make an offer.
const MinPanelScore = 3.5

//go:embed hiring.yaml
var definitionYAML []byte

// DefinitionYAML returns the raw embedded definition.
func DefinitionYAML() []byte {
	return append([]byte(nil), definitionYAML...)
}

// Definition parses the embedded definition.
func Definition() (graph.Definition, error) {
	return graph.Parse(definitionYAML)
}

// Register adds the hiring hooks and predicates to reg.
func Register(reg *graph.Registry) error {
	if err := reg.RegisterGuardNamespaced("hiring", "panel_approved", panelApproved); err != nil {
		return err
	}
	return reg.RegisterHookNamespaced("hiring", "stamp_offer", func(_ context.Context, hc *graph.HookContext) error {
		hc.Data["offer_sent_at"] = hc.Now.UTC()
		delete(hc.Data, "offer_accepted")
		return nil
	})
}

// Graph compiles the hiring workflow against a fresh registry.
func Graph() (*graph.StateGraph, error) {
	reg := graph.NewRegistry()
	if err := Register(reg); err != nil {
		return nil, err
	}
	def, err := Definition()
	if err != nil {
		return nil, err
	}
	return graph.Compile(def, reg)
}

// panelApproved requires at least two interview scores averaging MinPanelScore or more.
func panelApproved(_ context.Context, data map[string]any) (bool, error) {
	raw, ok := predicate.Lookup(data, "interview_scores")
	if !ok {
		return false, nil
	}
	var scores []any
	switch v := raw.(type) {
	case []any:
		scores = v
	case []float64:
		for _, f := range v {
			scores = append(scores, f)
		}
	}
	if len(scores) < 2 {
		return false, nil
	}
	var sum float64
	for _, s := range scores {
		f, ok := predicate.ToFloat(s)
		if !ok {
			return false, nil
		}
		sum += f
	}
	return sum/float64(len(scores)) >= MinPanelScore, nil
}
