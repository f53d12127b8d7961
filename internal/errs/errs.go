// Package errs holds the coded error shared by composition, resolution,
// routing and request handling.
package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Code uint16

const (
	CodeUnknown Code = iota

	CodeCompositionFailed
	CodeDuplicateBinding
	CodeMissingDependency
	CodeCircularDependency
	CodeAmbiguousBinding
	CodeUnknownModule
	CodeImportCycle
	CodeInvalidModule
	CodeConflictingRoute
	CodeInvalidRouteParam
	CodeOverrideTargetMissing
	CodeNotOverridable

	CodeServiceNotFound
	CodeNotVisible
	CodeScopeViolation
	CodeFactoryFailed
	CodeTypeMismatch
	CodeScopeClosed

	CodeBadRequest
	CodeValidation
	CodeUnauthenticated
	CodeForbidden
	CodeNotFound
	CodeMethodNotAllowed
	CodeConflict
	CodePayloadTooLarge
	CodeNotAcceptable
	CodeTimeout
	CodeCancelled
	CodeOverloaded

	CodeInvalidConfig
	CodeBindFailed
	CodeAcceptFailed
	CodeIOFailed
	CodeInitFailed
	CodeShutdownFailed
	CodeShutdownTimeout
	CodeNextCalledTwice
	CodeInternal
)

type codeInfo struct {
	name   string
	slug   string
	status int
}

var codes = map[Code]codeInfo{
	CodeUnknown: {"UNKNOWN", "internal_error", http.StatusInternalServerError},

	CodeCompositionFailed:     {"COMPOSITION_FAILED", "internal_error", http.StatusInternalServerError},
	CodeDuplicateBinding:      {"DUPLICATE_BINDING", "internal_error", http.StatusInternalServerError},
	CodeMissingDependency:     {"MISSING_DEPENDENCY", "internal_error", http.StatusInternalServerError},
	CodeCircularDependency:    {"CIRCULAR_DEPENDENCY", "circular_dependency", http.StatusInternalServerError},
	CodeAmbiguousBinding:      {"AMBIGUOUS_BINDING", "ambiguous_binding", http.StatusInternalServerError},
	CodeUnknownModule:         {"UNKNOWN_MODULE", "internal_error", http.StatusInternalServerError},
	CodeImportCycle:           {"IMPORT_CYCLE", "internal_error", http.StatusInternalServerError},
	CodeInvalidModule:         {"INVALID_MODULE", "internal_error", http.StatusInternalServerError},
	CodeConflictingRoute:      {"CONFLICTING_ROUTE", "internal_error", http.StatusInternalServerError},
	CodeInvalidRouteParam:     {"INVALID_ROUTE_PARAM", "internal_error", http.StatusInternalServerError},
	CodeOverrideTargetMissing: {"OVERRIDE_TARGET_MISSING", "internal_error", http.StatusInternalServerError},
	CodeNotOverridable:        {"NOT_OVERRIDABLE", "internal_error", http.StatusInternalServerError},

	CodeServiceNotFound: {"SERVICE_NOT_FOUND", "service_not_found", http.StatusInternalServerError},
	CodeNotVisible:      {"NOT_VISIBLE", "service_not_visible", http.StatusInternalServerError},
	CodeScopeViolation:  {"SCOPE_VIOLATION", "scope_violation", http.StatusInternalServerError},
	CodeFactoryFailed:   {"FACTORY_FAILED", "factory_failed", http.StatusInternalServerError},
	CodeTypeMismatch:    {"TYPE_MISMATCH", "internal_error", http.StatusInternalServerError},
	CodeScopeClosed:     {"SCOPE_CLOSED", "scope_closed", http.StatusInternalServerError},

	CodeBadRequest:       {"BAD_REQUEST", "bad_request", http.StatusBadRequest},
	CodeValidation:       {"VALIDATION", "validation_failed", http.StatusBadRequest},
	CodeUnauthenticated:  {"UNAUTHENTICATED", "unauthenticated", http.StatusUnauthorized},
	CodeForbidden:        {"FORBIDDEN", "forbidden", http.StatusForbidden},
	CodeNotFound:         {"NOT_FOUND", "not_found", http.StatusNotFound},
	CodeMethodNotAllowed: {"METHOD_NOT_ALLOWED", "method_not_allowed", http.StatusMethodNotAllowed},
	CodeConflict:         {"CONFLICT", "conflict", http.StatusConflict},
	CodePayloadTooLarge:  {"PAYLOAD_TOO_LARGE", "payload_too_large", http.StatusRequestEntityTooLarge},
	CodeNotAcceptable:    {"NOT_ACCEPTABLE", "not_acceptable", http.StatusNotAcceptable},
	CodeTimeout:          {"TIMEOUT", "timeout", http.StatusGatewayTimeout},
	CodeCancelled:        {"CANCELLED", "cancelled", http.StatusServiceUnavailable},
	CodeOverloaded:       {"OVERLOADED", "overloaded", http.StatusServiceUnavailable},

	CodeInvalidConfig:   {"INVALID_CONFIG", "internal_error", http.StatusInternalServerError},
	CodeBindFailed:      {"BIND_FAILED", "internal_error", http.StatusInternalServerError},
	CodeAcceptFailed:    {"ACCEPT_FAILED", "internal_error", http.StatusInternalServerError},
	CodeIOFailed:        {"IO_FAILED", "internal_error", http.StatusInternalServerError},
	CodeInitFailed:      {"INIT_FAILED", "internal_error", http.StatusInternalServerError},
	CodeShutdownFailed:  {"SHUTDOWN_FAILED", "internal_error", http.StatusInternalServerError},
	CodeShutdownTimeout: {"SHUTDOWN_TIMEOUT", "internal_error", http.StatusInternalServerError},
	CodeNextCalledTwice: {"NEXT_CALLED_TWICE", "internal_error", http.StatusInternalServerError},
	CodeInternal:        {"INTERNAL", "internal_error", http.StatusInternalServerError},
}

func (c Code) String() string {
	if info, ok := codes[c]; ok {
		return info.name
	}
	return fmt.Sprintf("UNKNOWN(%d)", c)
}

// Slug is the stable wire identifier used in the error envelope.
func (c Code) Slug() string {
	if info, ok := codes[c]; ok {
		return info.slug
	}
	return "internal_error"
}

func (c Code) Status() int {
	if info, ok := codes[c]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// ClientFacing reports whether the message of an error with this code may
// be shown to the caller verbatim.
func (c Code) ClientFacing() bool {
	return c.Status() < http.StatusInternalServerError ||
		c == CodeTimeout || c == CodeCancelled || c == CodeOverloaded
}

type Error struct {
	Code    Code
	Message string
	Service string
	Cause   error
	Stack   []string
	Details any
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("[%s]", e.Code))

	if e.Service != "" {
		b.WriteString(fmt.Sprintf(" service=%q:", e.Service))
	}

	b.WriteString(" ")
	b.WriteString(e.Message)

	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}

	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

func (e *Error) WithService(service string) *Error {
	e.Service = service
	return e
}

func (e *Error) WithStack(stack []string) *Error {
	e.Stack = stack
	return e
}

func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

func New(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// CodeOf returns the code of the outermost *Error in err's chain, or
// CodeUnknown when there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// Has reports whether any *Error in err's tree carries code, including
// errors joined under a composition failure.
func Has(err error, code Code) bool {
	return errors.Is(err, &Error{Code: code})
}
