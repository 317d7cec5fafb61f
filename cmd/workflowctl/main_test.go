package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-workflow/engine"
	"github.com/goliatone/go-workflow/workflows/expense"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := run(context.Background(), append([]string{"--log-level", "error"}, args...), &out, &errOut)
	return out.String(), errOut.String(), err
}

func TestValidateBuiltins(t *testing.T) {
	out, _, err := execute(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "ok   expense_approval: expense_approval, 7 states (2 terminal), initial draft")
	assert.Contains(t, out, "ok   hiring: hiring")
}

func TestValidateReportsBrokenDefinitions(t *testing.T) {
	out, _, err := execute(t, "validate", "expense_approval", filepath.Join("testdata", "broken.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 definitions failed validation")
	assert.Contains(t, out, "targets unknown state nowhere")
}

func TestValidateUnknownReference(t *testing.T) {
	out, _, err := execute(t, "validate", "payroll")
	require.Error(t, err)
	assert.Contains(t, out, `"payroll" is neither a built-in type`)
}

func TestDescribeText(t *testing.T) {
	out, _, err := execute(t, "describe", expense.Type)
	require.NoError(t, err)
	assert.Contains(t, out, "expense_approval (Expense Approval) v1")
	assert.Contains(t, out, "draft [Draft] initial")
	assert.Contains(t, out, "  submit -> submitted \"Submit for approval\"")
	assert.Contains(t, out, "permission: actors=requestor ownership")
	assert.Contains(t, out, "on_enter: expense::stamp_submitted")
	assert.Contains(t, out, "paid [Paid] terminal")
}

func TestDescribeFormats(t *testing.T) {
	out, _, err := execute(t, "describe", "--format", "yaml", expense.Type)
	require.NoError(t, err)
	assert.Contains(t, out, "id: expense_approval")

	out, _, err = execute(t, "describe", "-f", "json", expense.Type)
	require.NoError(t, err)
	assert.Contains(t, out, `"id": "expense_approval"`)

	out, _, err = execute(t, "describe", "-f", "dot", expense.Type)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, `digraph "expense_approval" {`))
	assert.Contains(t, out, `"draft" -> "submitted" [label="submit"];`)
	assert.Contains(t, out, `"paid" [label="Paid" shape=doublecircle];`)

	_, _, err = execute(t, "describe", "-f", "xml", expense.Type)
	assert.Error(t, err)
}

func TestTypes(t *testing.T) {
	out, _, err := execute(t, "types")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "expense_approval"))
	assert.True(t, strings.HasPrefix(lines[1], "hiring"))
}

func TestSimulateExpenseScenario(t *testing.T) {
	out, _, err := execute(t, "simulate", "--metrics", filepath.Join("testdata", "expense.yaml"))
	require.NoError(t, err, out)
	assert.NotContains(t, out, "FAIL")
	assert.Contains(t, out, "engineers cannot approve")
	assert.Contains(t, out, "WF_PERMISSION_DENIED")
	assert.Contains(t, out, "exp-1 expense_approval [Manager Review] actions: approve_manager, reject_manager, request_changes")
	assert.Contains(t, out, "paid v5")
	assert.Contains(t, out, "workflow_completions_total{state=paid,workflow_type=expense_approval} 1")
}

func TestSimulateHiringScenario(t *testing.T) {
	out, _, err := execute(t, "simulate", filepath.Join("testdata", "hiring.yaml"))
	require.NoError(t, err, out)
	assert.NotContains(t, out, "FAIL")
	assert.Contains(t, out, "now 2026-06-09T09:00:00Z")
	assert.Contains(t, out, "offer window has closed")
}

func TestSimulateReportsMismatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
organization: acme
steps:
  - op: create
    type: expense_approval
    workflow: exp-9
    actor: alice
  - name: submit without amount
    op: transition
    workflow: exp-9
    to: submitted
    actor: alice
`), 0o600))

	out, _, err := execute(t, "simulate", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 steps did not match expectations")
	assert.Contains(t, out, "FAIL  2 submit without amount")
	assert.Contains(t, out, "WF_VALIDATION_FAILED")
	assert.Contains(t, out, "total amount must be greater than zero")
}

func TestSimulateRejectsUnknownOps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte("organization: acme\nsteps:\n  - op: teleport\n"), 0o600))
	_, _, err := execute(t, "simulate", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown op "teleport"`)
}

func TestSimulateWithSQLiteConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "workflow.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
store:
  driver: sqlite
  sqlite:
    dsn: ":memory:"
engine:
  autosave: ""
`), 0o600))

	out, _, err := execute(t, "--config", cfgPath, "simulate", filepath.Join("testdata", "expense.yaml"))
	require.NoError(t, err, out)
	assert.NotContains(t, out, "FAIL")
}

func TestLoggerAdapterWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "debug", "json").(engine.FieldsLogger).WithFields(map[string]any{"workflow_id": "exp-1"})
	logger.WithContext(context.Background()).Info("moved to %s", "submitted")
	assert.Contains(t, buf.String(), "exp-1")
	assert.Contains(t, buf.String(), "moved to submitted")
}

func TestReportErrorIncludesTransportMapping(t *testing.T) {
	var buf bytes.Buffer
	reportError(&buf, fmt.Errorf("transition exp-1: %w", engine.ErrLockConflict))
	assert.Contains(t, buf.String(), "workflowctl: transition exp-1:")
	assert.Contains(t, buf.String(), "code: WF_LOCK_CONFLICT (http 409, grpc Aborted, retryable)")

	buf.Reset()
	reportError(&buf, fmt.Errorf("load: %w", engine.ErrInstanceNotFound))
	assert.Contains(t, buf.String(), "code: WF_INSTANCE_NOT_FOUND (http 404, grpc NotFound)")

	buf.Reset()
	reportError(&buf, errors.New("config missing"))
	assert.Equal(t, "workflowctl: config missing\n", buf.String())
}
