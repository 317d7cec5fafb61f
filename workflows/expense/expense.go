// Package expense provides the expense approval workflow: amounts under the
// threshold go to a line manager, larger ones to finance.
package expense

import (
	"context"
	_ "embed"
	"strings"

	"github.com/goliatone/go-workflow/graph"
)

// Type is the workflow type identifier.
const Type = "expense_approval"

// Threshold is the amount from which an expense is routed to finance.
const Threshold = 5000

const (
	StateDraft         = "draft"
	StateSubmitted     = "submitted"
	StateManagerReview = "manager_review"
	StateFinanceReview = "finance_review"
	StateApproved      = "approved"
	StateRejected      = "rejected"
	StatePaid          = "paid"
)

const namespace = "expense"

//go:embed expense.yaml
var definitionYAML []byte

// DefinitionYAML returns the raw embedded definition.
func DefinitionYAML() []byte {
	return append([]byte(nil), definitionYAML...)
}

// Definition parses the embedded definition.
func Definition() (graph.Definition, error) {
	return graph.Parse(definitionYAML)
}

// Register adds the expense hooks and predicates to reg.
func Register(reg *graph.Registry) error {
	if err := reg.RegisterGuardNamespaced(namespace, "receipt_attached", receiptAttached); err != nil {
		return err
	}
	if err := reg.RegisterHookNamespaced(namespace, "stamp_submitted", stamp("submitted_at")); err != nil {
		return err
	}
	return reg.RegisterHookNamespaced(namespace, "stamp_paid", stamp("paid_at"))
}

// Graph compiles the expense workflow against a fresh registry.
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

func receiptAttached(_ context.Context, data map[string]any) (bool, error) {
	switch v := data["receipt_url"].(type) {
	case string:
		return strings.TrimSpace(v) != "", nil
	case nil:
		return false, nil
	default:
		return true, nil
	}
}

func stamp(field string) graph.Hook {
	return func(_ context.Context, hc *graph.HookContext) error {
		hc.Data[field] = hc.Now.UTC()
		return nil
	}
}
