// Package apperrors defines the failure taxonomy shared by every layer of the
// authorization core. Policy, repository, session and rate-limit code return
// *Error values; only the request pipeline turns them into responses.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the failure category. Each kind maps to exactly one HTTP status.
type Kind string

const (
	KindAuthentication Kind = "AUTHENTICATION_ERROR"
	KindAuthorization  Kind = "AUTHORIZATION_ERROR"
	KindNotFound       Kind = "NOT_FOUND"
	KindRateLimit      Kind = "RATE_LIMIT_ERROR"
	KindValidation     Kind = "VALIDATION_ERROR"
	KindInternal       Kind = "INTERNAL_ERROR"
)

// HTTPStatus returns the transport status for the kind
func (k Kind) HTTPStatus() int {
	switch k {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Code is a machine-readable reason attached to an error.
type Code string

const (
	CodeMissingCredential    Code = "MISSING_CREDENTIAL"
	CodeInvalidCredential    Code = "INVALID_CREDENTIAL"
	CodeExpiredCredential    Code = "EXPIRED_CREDENTIAL"
	CodeSessionInvalid       Code = "SESSION_INVALID"
	CodeSessionExpired       Code = "SESSION_EXPIRED"
	CodeSessionMismatch      Code = "SESSION_PRINCIPAL_MISMATCH"
	CodeNotProjectMember     Code = "NOT_PROJECT_MEMBER"
	CodeNoModuleAccess       Code = "NO_MODULE_ACCESS"
	CodePermissionDenied     Code = "PERMISSION_DENIED"
	CodeApprovalRequiresRole Code = "APPROVAL_REQUIRES_ELEVATED_ROLE"
	CodeRoleNotAllowed       Code = "ROLE_NOT_ALLOWED"
	CodeOutsideAccessWindow  Code = "OUTSIDE_ACCESS_WINDOW"
	CodeTenantMismatch       Code = "TENANT_MISMATCH"
	CodeProjectNotAccessible Code = "PROJECT_NOT_ACCESSIBLE"
	CodeRateLimited          Code = "RATE_LIMITED"
	CodeNotFound             Code = "NOT_FOUND"
	CodeInvalidInput         Code = "INVALID_INPUT"
	CodeUnscopedRawQuery     Code = "UNSCOPED_RAW_QUERY"
	CodeInternal             Code = "INTERNAL"
)

// Error is the typed failure returned through every layer.
type Error struct {
	Kind    Kind
	Code    Code
	Message string

	// RetryAfter is set for KindRateLimit, in whole seconds.
	RetryAfter int

	// Module and Permission name the check that failed, when known.
	Module     string
	Permission string

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status returns the HTTP-equivalent status for the error
func (e *Error) Status() int {
	return e.Kind.HTTPStatus()
}

// New creates an error of the given kind
func New(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap creates an error of the given kind around a cause
func Wrap(kind Kind, code Code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Unauthenticated reports a missing, invalid or expired credential or session.
func Unauthenticated(code Code, message string) *Error {
	return New(KindAuthentication, code, message)
}

// Forbidden reports an authorization failure.
func Forbidden(code Code, message string) *Error {
	return New(KindAuthorization, code, message)
}

// NotFound reports a resource absent after a tenant-scoped lookup.
func NotFound(message string) *Error {
	return New(KindNotFound, CodeNotFound, message)
}

// Invalid reports malformed input.
func Invalid(message string) *Error {
	return New(KindValidation, CodeInvalidInput, message)
}

// RateLimited reports denied admission; retryAfter is clamped to at least one second.
func RateLimited(retryAfter int) *Error {
	if retryAfter < 1 {
		retryAfter = 1
	}
	return &Error{
		Kind:       KindRateLimit,
		Code:       CodeRateLimited,
		Message:    "rate limit exceeded",
		RetryAfter: retryAfter,
	}
}

// Internal wraps an unexpected failure of a store or collaborator.
func Internal(message string, err error) *Error {
	return Wrap(KindInternal, CodeInternal, message, err)
}

// As extracts an *Error from err's chain
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the kind of err. Untyped errors are internal.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindInternal
}

// CodeOf returns the code of err, or CodeInternal for untyped errors.
func CodeOf(err error) Code {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return CodeInternal
}

// Is reports whether err is an *Error of the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsSecurityEvent reports whether err belongs on the security audit channel.
func IsSecurityEvent(err error) bool {
	kind := KindOf(err)
	return kind == KindAuthentication || kind == KindAuthorization
}
