// Package services implements the core operations of the recorder: run and
// event ingestion, artifact registration, read-side queries, and replay
// session management. Services speak to persistence through store.Store and
// surface domain failures as ServiceError values.
package services

import "errors"

// Error codes surfaced in the response envelope. The strings are stable;
// collaborators match on them.
const (
	CodeValidationError       = "VALIDATION_ERROR"
	CodeConflict              = "CONFLICT"
	CodeNotFound              = "NOT_FOUND"
	CodeAuthRequired          = "AUTH_REQUIRED"
	CodeAuthForbidden         = "AUTH_FORBIDDEN"
	CodeDependencyUnavailable = "DEPENDENCY_UNAVAILABLE"
	CodeNotImplemented        = "NOT_IMPLEMENTED"
	CodeInternalError         = "INTERNAL_ERROR"
)

// ServiceError is a tagged domain error. The HTTP status mapping is a
// transport concern and lives with the API layer.
type ServiceError struct {
	Code      string
	Message   string
	Details   map[string]any
	Retryable bool
}

func (e *ServiceError) Error() string {
	return e.Message
}

// AsServiceError unwraps err into a ServiceError if one is in the chain.
func AsServiceError(err error) (*ServiceError, bool) {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr, true
	}
	return nil, false
}

func newError(code, message string, details map[string]any, retryable bool) *ServiceError {
	if details == nil {
		details = map[string]any{}
	}
	return &ServiceError{Code: code, Message: message, Details: details, Retryable: retryable}
}

// NewValidationError flags a malformed or semantically invalid request.
func NewValidationError(message string, details map[string]any) *ServiceError {
	return newError(CodeValidationError, message, details, false)
}

// NewConflictError flags a request that lost against already-recorded state,
// such as a non-monotonic sequence number.
func NewConflictError(message string, details map[string]any) *ServiceError {
	return newError(CodeConflict, message, details, false)
}

// NewNotFoundError flags a reference to a run, artifact, or replay session
// that does not exist.
func NewNotFoundError(message string, details map[string]any) *ServiceError {
	return newError(CodeNotFound, message, details, false)
}

// NewAuthRequiredError flags a request with no usable bearer token.
func NewAuthRequiredError(message string) *ServiceError {
	return newError(CodeAuthRequired, message, nil, false)
}

// NewAuthForbiddenError flags a request whose bearer token was rejected.
func NewAuthForbiddenError(message string) *ServiceError {
	return newError(CodeAuthForbidden, message, nil, false)
}

// NewDependencyError flags an unreachable backing dependency. Retryable.
func NewDependencyError(message string) *ServiceError {
	return newError(CodeDependencyUnavailable, message, nil, true)
}

// NewInternalError stands in for errors outside the taxonomy.
func NewInternalError() *ServiceError {
	return newError(CodeInternalError, "internal server error", nil, false)
}

// NewNotImplementedError marks an endpoint stub outside the current scope.
func NewNotImplementedError(message string) *ServiceError {
	return newError(CodeNotImplemented, message, nil, false)
}
