package engine

import (
	"net/http"
	"strings"
)

const (
	GRPCCodeAborted            = "Aborted"
	GRPCCodeAlreadyExists      = "AlreadyExists"
	GRPCCodeFailedPrecondition = "FailedPrecondition"
	GRPCCodeInternal           = "Internal"
	GRPCCodeInvalidArgument    = "InvalidArgument"
	GRPCCodeNotFound           = "NotFound"
	GRPCCodePermissionDenied   = "PermissionDenied"
	GRPCCodeUnavailable        = "Unavailable"
)

const rpcCodeInternal = "WF_INTERNAL"

// TransportErrorMapping defines protocol-level mappings for engine errors.
type TransportErrorMapping struct {
	RuntimeCode string
	HTTPStatus  int
	GRPCCode    string
	RPCCode     string
	Retryable   bool
}

// RPCErrorEnvelope is the RPC transport error shape.
type RPCErrorEnvelope struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Messages []string `json:"messages,omitempty"`
}

var transportMappings = map[string]struct {
	status int
	grpc   string
}{
	ErrCodeUnknownType:         {http.StatusBadRequest, GRPCCodeInvalidArgument},
	ErrCodeDuplicateType:       {http.StatusConflict, GRPCCodeAlreadyExists},
	ErrCodeDuplicateID:         {http.StatusConflict, GRPCCodeAlreadyExists},
	ErrCodeInstanceNotFound:    {http.StatusNotFound, GRPCCodeNotFound},
	ErrCodeEngineNotRunning:    {http.StatusServiceUnavailable, GRPCCodeUnavailable},
	ErrCodeLockConflict:        {http.StatusConflict, GRPCCodeAborted},
	ErrCodeInvalidTransition:   {http.StatusConflict, GRPCCodeFailedPrecondition},
	ErrCodeGuardNotSatisfied:   {http.StatusPreconditionFailed, GRPCCodeFailedPrecondition},
	ErrCodePermissionDenied:    {http.StatusForbidden, GRPCCodePermissionDenied},
	ErrCodeValidationFailed:    {http.StatusUnprocessableEntity, GRPCCodeInvalidArgument},
	ErrCodeWorkflowTerminal:    {http.StatusConflict, GRPCCodeFailedPrecondition},
	ErrCodeProviderUnavailable: {http.StatusServiceUnavailable, GRPCCodeUnavailable},
	ErrCodeHookFailed:          {http.StatusInternalServerError, GRPCCodeInternal},
	ErrCodePersistenceFailed:   {http.StatusServiceUnavailable, GRPCCodeUnavailable},
}

// MapError maps engine error codes to transport protocol codes.
func MapError(err error) TransportErrorMapping {
	code := strings.TrimSpace(ErrorCode(err))
	if m, ok := transportMappings[code]; ok {
		return TransportErrorMapping{
			RuntimeCode: code,
			HTTPStatus:  m.status,
			GRPCCode:    m.grpc,
			RPCCode:     code,
			Retryable:   code == ErrCodeLockConflict,
		}
	}
	return TransportErrorMapping{
		RuntimeCode: code,
		HTTPStatus:  http.StatusInternalServerError,
		GRPCCode:    GRPCCodeInternal,
		RPCCode:     rpcCodeInternal,
	}
}

// HTTPStatusForError returns the mapped HTTP status code for an engine error.
func HTTPStatusForError(err error) int {
	return MapError(err).HTTPStatus
}

// GRPCCodeForError returns the mapped gRPC status code string for an engine error.
func GRPCCodeForError(err error) string {
	return MapError(err).GRPCCode
}

// RPCErrorForError returns a canonical RPC envelope for engine errors.
func RPCErrorForError(err error) *RPCErrorEnvelope {
	if err == nil {
		return nil
	}
	return &RPCErrorEnvelope{
		Code:     MapError(err).RPCCode,
		Message:  err.Error(),
		Messages: ValidationMessages(err),
	}
}
