package engine

import (
	stderrors "errors"
	"strings"

	apperrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-workflow/permission"
)

const (
	ErrCodeUnknownType         = "WF_UNKNOWN_TYPE"
	ErrCodeDuplicateType       = "WF_DUPLICATE_TYPE"
	ErrCodeDuplicateID         = "WF_DUPLICATE_ID"
	ErrCodeInstanceNotFound    = "WF_INSTANCE_NOT_FOUND"
	ErrCodeEngineNotRunning    = "WF_ENGINE_NOT_RUNNING"
	ErrCodeLockConflict        = "WF_LOCK_CONFLICT"
	ErrCodeInvalidTransition   = "WF_INVALID_TRANSITION"
	ErrCodeGuardNotSatisfied   = "WF_GUARD_NOT_SATISFIED"
	ErrCodePermissionDenied    = "WF_PERMISSION_DENIED"
	ErrCodeValidationFailed    = "WF_VALIDATION_FAILED"
	ErrCodeWorkflowTerminal    = "WF_WORKFLOW_TERMINAL"
	ErrCodeProviderUnavailable = permission.ErrCodeProviderUnavailable
	ErrCodeHookFailed          = "WF_HOOK_FAILED"
	ErrCodePersistenceFailed   = "WF_PERSISTENCE_FAILED"
)

var (
	ErrUnknownType = apperrors.New("unknown workflow type", apperrors.CategoryBadInput).
			WithTextCode(ErrCodeUnknownType)
	ErrDuplicateType = apperrors.New("workflow type already registered", apperrors.CategoryConflict).
				WithTextCode(ErrCodeDuplicateType)
	ErrDuplicateID = apperrors.New("workflow id already exists", apperrors.CategoryConflict).
			WithTextCode(ErrCodeDuplicateID)
	ErrInstanceNotFound = apperrors.New("workflow instance not found", apperrors.CategoryNotFound).
				WithTextCode(ErrCodeInstanceNotFound)
	ErrEngineNotRunning = apperrors.New("workflow engine not running", apperrors.CategoryInternal).
				WithTextCode(ErrCodeEngineNotRunning)
	ErrLockConflict = apperrors.New("workflow instance is locked", apperrors.CategoryConflict).
			WithTextCode(ErrCodeLockConflict)
	ErrInvalidTransition = apperrors.New("invalid transition", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeInvalidTransition)
	ErrGuardNotSatisfied = apperrors.New("transition guard not satisfied", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeGuardNotSatisfied)
	ErrPermissionDenied = apperrors.New("permission denied", apperrors.CategoryAuthz).
				WithTextCode(ErrCodePermissionDenied)
	ErrValidationFailed = apperrors.New("validation failed", apperrors.CategoryValidation).
				WithTextCode(ErrCodeValidationFailed)
	ErrWorkflowTerminal = apperrors.New("workflow is in a terminal state", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeWorkflowTerminal)
	ErrProviderUnavailable = permission.ErrProviderUnavailable
	ErrHookFailed          = apperrors.New("state hook failed", apperrors.CategoryHandler).
				WithTextCode(ErrCodeHookFailed)
)

func persistenceError(source error, workflowID string) *apperrors.Error {
	return apperrors.Wrap(source, apperrors.CategoryExternal, "failed to persist workflow").
		WithTextCode(ErrCodePersistenceFailed).
		WithMetadata(map[string]any{"workflow_id": workflowID})
}

func cloneRuntimeError(base *apperrors.Error, message string, source error, metadata map[string]any) *apperrors.Error {
	if base == nil {
		base = ErrValidationFailed
	}
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

func validationError(message string, messages []string, metadata map[string]any) *apperrors.Error {
	meta := map[string]any{"messages": append([]string(nil), messages...)}
	for k, v := range metadata {
		meta[k] = v
	}
	return cloneRuntimeError(ErrValidationFailed, message, nil, meta)
}

// ErrorCode returns the text code carried by err, or "" for foreign errors.
func ErrorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// IsCode reports whether err carries code.
func IsCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}

// IsRetryable reports whether the caller may retry the operation unchanged.
func IsRetryable(err error) bool {
	return IsCode(err, ErrCodeLockConflict)
}

// ValidationMessages returns the messages attached to a validation failure.
func ValidationMessages(err error) []string {
	var ge *apperrors.Error
	if !stderrors.As(err, &ge) || ge.TextCode != ErrCodeValidationFailed {
		return nil
	}
	switch msgs := ge.Metadata["messages"].(type) {
	case []string:
		return append([]string(nil), msgs...)
	case []any:
		out := make([]string, 0, len(msgs))
		for _, m := range msgs {
			if s, ok := m.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
