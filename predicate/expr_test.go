package predicate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupDottedPath(t *testing.T) {
	data := map[string]any{
		"expense": map[string]any{
			"items": []any{
				map[string]any{"amount": 12.5},
			},
			"meta": map[string]string{"currency": "EUR"},
		},
	}

	v, ok := Lookup(data, "expense.items.0.amount")
	require.True(t, ok)
	assert.Equal(t, 12.5, v)

	v, ok = Lookup(data, "expense.meta.currency")
	require.True(t, ok)
	assert.Equal(t, "EUR", v)

	_, ok = Lookup(data, "expense.items.3.amount")
	assert.False(t, ok)
	_, ok = Lookup(data, "missing")
	assert.False(t, ok)
}

func TestFieldComparisons(t *testing.T) {
	data := map[string]any{
		"total_amount": 3000,
		"category":     "travel",
		"tags":         []any{"urgent", "q3"},
		"submitted_at": "2026-01-02T10:00:00Z",
	}
	cases := []struct {
		name string
		expr Expr
		want bool
	}{
		{"lt int vs float", Field("total_amount", OpLt, 5000.0), true},
		{"gte", Field("total_amount", OpGte, 5000), false},
		{"eq numeric kinds", Field("total_amount", OpEq, int64(3000)), true},
		{"ne string", Field("category", OpNe, "meals"), true},
		{"contains slice", Field("tags", OpContains, "urgent"), true},
		{"contains substring", Field("category", OpContains, "rav"), true},
		{"in set", Field("category", OpIn, []any{"travel", "meals"}), true},
		{"not in set", Field("category", OpIn, []string{"meals"}), false},
		{"exists", Field("category", OpExists, nil), true},
		{"not exists", Field("approver", OpExists, false), true},
		{"missing field eq", Field("approver", OpEq, "x"), false},
		{"missing field ne", Field("approver", OpNe, "x"), true},
		{"time ordering", Field("submitted_at", OpLt, "2026-02-01T00:00:00Z"), true},
		{"symbolic alias", Field("total_amount", Op("<"), 5000), true},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.expr.Eval(context.Background(), Env{Data: data})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOrderingIncomparableKinds(t *testing.T) {
	_, err := Field("category", OpGt, 10).Eval(context.Background(), Env{Data: map[string]any{"category": "travel"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIncomparable))
}

func TestCompositeAndRefs(t *testing.T) {
	funcs := NewRegistry()
	require.NoError(t, funcs.Register("has_receipt", func(_ context.Context, data map[string]any) (bool, error) {
		_, ok := data["receipt_id"]
		return ok, nil
	}))
	require.Error(t, funcs.Register("has_receipt", func(context.Context, map[string]any) (bool, error) { return true, nil }))

	expr := All(
		Field("total_amount", OpGt, 0),
		Any(Ref("has_receipt"), Field("total_amount", OpLt, 25)),
		Not(Field("category", OpEq, "personal")),
	)
	require.NoError(t, expr.Validate(funcs))

	env := Env{Data: map[string]any{"total_amount": 100, "receipt_id": "r-1", "category": "travel"}, Funcs: funcs}
	ok, err := expr.Eval(context.Background(), env)
	require.NoError(t, err)
	assert.True(t, ok)

	env.Data = map[string]any{"total_amount": 100, "category": "travel"}
	ok, err = expr.Eval(context.Background(), env)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, "all(total_amount > 0, any(@has_receipt, total_amount < 25), not(category == personal))", expr.String())
}

func TestValidateRejectsMalformed(t *testing.T) {
	assert.Error(t, Expr{}.Validate(nil))
	assert.Error(t, Expr{Field: "a", Op: "between"}.Validate(nil))
	assert.Error(t, Expr{Field: "a", Op: OpEq, Ref: "x"}.Validate(nil))
	assert.Error(t, Ref("unknown").Validate(NewRegistry()))
	assert.NoError(t, Ref("unknown").Validate(nil))
}

func TestUnknownRefFailsAtEval(t *testing.T) {
	_, err := Ref("nope").Eval(context.Background(), Env{})
	assert.Error(t, err)
}

func TestToTime(t *testing.T) {
	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	got, ok := ToTime(ts.Format(time.RFC3339))
	require.True(t, ok)
	assert.True(t, ts.Equal(got))

	got, ok = ToTime(float64(ts.Unix()))
	require.True(t, ok)
	assert.True(t, ts.Equal(got))

	_, ok = ToTime("yesterday")
	assert.False(t, ok)
}
