package elif

import (
	"errors"
	"fmt"

	"github.com/elifgo/elif/internal/errs"
)

// Error is the single error type produced by composition, resolution,
// routing and request handling. errors.Is matches two *Error values by
// code.
type Error = errs.Error

type ErrorCode = errs.Code

const (
	ErrCodeUnknown = errs.CodeUnknown

	ErrCodeCompositionFailed     = errs.CodeCompositionFailed
	ErrCodeDuplicateBinding      = errs.CodeDuplicateBinding
	ErrCodeMissingDependency     = errs.CodeMissingDependency
	ErrCodeCircularDependency    = errs.CodeCircularDependency
	ErrCodeAmbiguousBinding      = errs.CodeAmbiguousBinding
	ErrCodeUnknownModule         = errs.CodeUnknownModule
	ErrCodeImportCycle           = errs.CodeImportCycle
	ErrCodeInvalidModule         = errs.CodeInvalidModule
	ErrCodeConflictingRoute      = errs.CodeConflictingRoute
	ErrCodeInvalidRouteParam     = errs.CodeInvalidRouteParam
	ErrCodeOverrideTargetMissing = errs.CodeOverrideTargetMissing
	ErrCodeNotOverridable        = errs.CodeNotOverridable

	ErrCodeServiceNotFound = errs.CodeServiceNotFound
	ErrCodeNotVisible      = errs.CodeNotVisible
	ErrCodeScopeViolation  = errs.CodeScopeViolation
	ErrCodeFactoryFailed   = errs.CodeFactoryFailed
	ErrCodeTypeMismatch    = errs.CodeTypeMismatch
	ErrCodeScopeClosed     = errs.CodeScopeClosed

	ErrCodeBadRequest       = errs.CodeBadRequest
	ErrCodeValidation       = errs.CodeValidation
	ErrCodeUnauthenticated  = errs.CodeUnauthenticated
	ErrCodeForbidden        = errs.CodeForbidden
	ErrCodeNotFound         = errs.CodeNotFound
	ErrCodeMethodNotAllowed = errs.CodeMethodNotAllowed
	ErrCodeConflict         = errs.CodeConflict
	ErrCodePayloadTooLarge  = errs.CodePayloadTooLarge
	ErrCodeNotAcceptable    = errs.CodeNotAcceptable
	ErrCodeTimeout          = errs.CodeTimeout
	ErrCodeCancelled        = errs.CodeCancelled
	ErrCodeOverloaded       = errs.CodeOverloaded

	ErrCodeInvalidConfig   = errs.CodeInvalidConfig
	ErrCodeBindFailed      = errs.CodeBindFailed
	ErrCodeAcceptFailed    = errs.CodeAcceptFailed
	ErrCodeIOFailed        = errs.CodeIOFailed
	ErrCodeInitFailed      = errs.CodeInitFailed
	ErrCodeShutdownFailed  = errs.CodeShutdownFailed
	ErrCodeShutdownTimeout = errs.CodeShutdownTimeout
	ErrCodeNextCalledTwice = errs.CodeNextCalledTwice
	ErrCodeInternal        = errs.CodeInternal
)

// NewError builds a coded error. Handlers return these to pick the HTTP
// status and wire code of the response.
func NewError(code ErrorCode, message string) *Error {
	return errs.New(code, message, nil)
}

func BadRequest(format string, args ...any) *Error {
	return errs.Newf(ErrCodeBadRequest, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return errs.Newf(ErrCodeNotFound, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return errs.Newf(ErrCodeConflict, format, args...)
}

func Unauthenticated(format string, args ...any) *Error {
	return errs.Newf(ErrCodeUnauthenticated, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return errs.Newf(ErrCodeForbidden, format, args...)
}

// FieldError is one entry of a validation failure envelope.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func ValidationFailed(fields ...FieldError) *Error {
	return errs.New(ErrCodeValidation, fmt.Sprintf("%d field(s) failed validation", len(fields)), nil).
		WithDetails(fields)
}

func CodeOf(err error) ErrorCode {
	return errs.CodeOf(err)
}

func errTypeMismatch(key Key, got any) *Error {
	return errs.Newf(ErrCodeTypeMismatch, "binding %s produced %T", key, got).WithService(key.String())
}

func IsNotFound(err error) bool {
	return errs.Has(err, ErrCodeServiceNotFound)
}

func IsNotVisible(err error) bool {
	return errs.Has(err, ErrCodeNotVisible)
}

func IsCircularDependency(err error) bool {
	return errs.Has(err, ErrCodeCircularDependency)
}

func IsDuplicateBinding(err error) bool {
	return errs.Has(err, ErrCodeDuplicateBinding)
}

func IsAmbiguousBinding(err error) bool {
	return errs.Has(err, ErrCodeAmbiguousBinding)
}

func IsScopeViolation(err error) bool {
	return errs.Has(err, ErrCodeScopeViolation)
}

func IsFactoryFailed(err error) bool {
	return errs.Has(err, ErrCodeFactoryFailed)
}

func IsConflictingRoute(err error) bool {
	return errs.Has(err, ErrCodeConflictingRoute)
}

func IsCompositionFailed(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == ErrCodeCompositionFailed
}

// IsShutdownTimeout reports whether err means in-flight requests were cut
// because the drain window closed.
func IsShutdownTimeout(err error) bool {
	return errs.Has(err, ErrCodeShutdownTimeout)
}
