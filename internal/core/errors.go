// Package core provides the shared error taxonomy and request timeouts.
package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is a machine-readable error identifier. Clients localize it;
// the server never sends human-readable messages as the primary signal.
type ErrorCode string

const (
	// Validation
	ErrInvalidRequestBody     ErrorCode = "INVALID_REQUEST_BODY"
	ErrInvalidID              ErrorCode = "INVALID_ID"
	ErrConnectionNameRequired ErrorCode = "CONNECTION_NAME_REQUIRED"
	ErrConnectionNameTooLong  ErrorCode = "CONNECTION_NAME_TOO_LONG"
	ErrConnectionURLRequired  ErrorCode = "CONNECTION_URL_REQUIRED"
	ErrConnectionURLInvalid   ErrorCode = "CONNECTION_URL_INVALID"
	ErrIndexNameRequired      ErrorCode = "INDEX_NAME_REQUIRED"
	ErrIndexNameTooLong       ErrorCode = "INDEX_NAME_TOO_LONG"
	ErrIndexNameInvalidStart  ErrorCode = "INDEX_NAME_INVALID_START"
	ErrIndexNameInvalidChars  ErrorCode = "INDEX_NAME_INVALID_CHARS"
	ErrIndexNameInvalid       ErrorCode = "INDEX_NAME_INVALID"
	ErrIndexNameLowercase     ErrorCode = "INDEX_NAME_MUST_BE_LOWERCASE"
	ErrAliasNameRequired      ErrorCode = "ALIAS_NAME_REQUIRED"
	ErrAliasNameTooLong       ErrorCode = "ALIAS_NAME_TOO_LONG"
	ErrAliasNameInvalidChars  ErrorCode = "ALIAS_NAME_INVALID_CHARS"
	ErrQueryNameRequired      ErrorCode = "QUERY_NAME_REQUIRED"
	ErrQueryMethodInvalid     ErrorCode = "QUERY_METHOD_INVALID"
	ErrQueryPathRequired      ErrorCode = "QUERY_PATH_REQUIRED"
	ErrMethodInvalid          ErrorCode = "METHOD_INVALID"
	ErrPathRequired           ErrorCode = "PATH_REQUIRED"
	ErrPathInvalid            ErrorCode = "PATH_INVALID"
	ErrDocumentIDRequired     ErrorCode = "DOCUMENT_ID_REQUIRED"
	ErrDocumentsRequired      ErrorCode = "DOCUMENTS_REQUIRED"
	ErrTaskIDRequired         ErrorCode = "TASK_ID_REQUIRED"
	ErrFieldsRequired         ErrorCode = "FIELDS_REQUIRED"
	ErrImportBundleInvalid    ErrorCode = "IMPORT_BUNDLE_INVALID"

	// State
	ErrNoESConnection ErrorCode = "NO_ES_CONNECTION"

	// Not found
	ErrConnectionNotFound       ErrorCode = "CONNECTION_NOT_FOUND"
	ErrQueryNotFound            ErrorCode = "QUERY_NOT_FOUND"
	ErrSavedConnectionNotFound  ErrorCode = "SAVED_CONNECTION_NOT_FOUND"
	ErrTargetIndexNotFound      ErrorCode = "TARGET_INDEX_NOT_FOUND"
	ErrSourceConnectionNotFound ErrorCode = "SOURCE_CONNECTION_NOT_FOUND"
	ErrPooledClientNotFound     ErrorCode = "POOLED_CLIENT_NOT_FOUND"

	// Connectivity
	ErrConnectionFailed       ErrorCode = "CONNECTION_FAILED"
	ErrTargetConnectionFailed ErrorCode = "TARGET_CONNECTION_FAILED"

	// Security
	ErrDangerousRequestBlocked ErrorCode = "DANGEROUS_REQUEST_BLOCKED"

	// Upstream and internal
	ErrESRequestFailed ErrorCode = "ES_REQUEST_FAILED"
	ErrInternal        ErrorCode = "INTERNAL_ERROR"
)

// Error is a classified failure carrying its HTTP status.
type Error struct {
	Code    ErrorCode
	Status  int
	Details string
	// Upstream holds the cluster's JSON error body, when one was returned.
	Upstream json.RawMessage
	cause    error
}

func (e *Error) Error() string {
	if e.Details == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Details)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Validation creates a 400 error for malformed caller input.
func Validation(code ErrorCode) *Error {
	return &Error{Code: code, Status: http.StatusBadRequest}
}

// Validationf creates a 400 error with diagnostic detail.
func Validationf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Status: http.StatusBadRequest, Details: fmt.Sprintf(format, args...)}
}

// NotFound creates a not-found error. Direct entity lookups use 404,
// copy-workflow preconditions use 400.
func NotFound(code ErrorCode, status int, details string) *Error {
	return &Error{Code: code, Status: status, Details: details}
}

// Precondition creates a 400 error for a copy-workflow precondition that
// does not hold, such as a missing target index or unreachable cluster.
func Precondition(code ErrorCode, details string) *Error {
	return &Error{Code: code, Status: http.StatusBadRequest, Details: details}
}

// NoConnection reports that an operation needs an active session.
func NoConnection() *Error {
	return &Error{Code: ErrNoESConnection, Status: http.StatusBadRequest}
}

// Blocked reports a request rejected by the dangerous-request guard.
func Blocked(method, path string) *Error {
	return &Error{
		Code:    ErrDangerousRequestBlocked,
		Status:  http.StatusForbidden,
		Details: fmt.Sprintf("%s %s", method, path),
	}
}

// ConnectionFailed reports a failed liveness probe against a cluster.
func ConnectionFailed(code ErrorCode, err error) *Error {
	e := &Error{Code: code, Status: http.StatusBadGateway, cause: err}
	if err != nil {
		e.Details = err.Error()
	}
	return e
}

// Upstream wraps an error response from a cluster. A zero status means the
// request never got a response and is reported as 500.
func Upstream(status int, body []byte, err error) *Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	e := &Error{Code: ErrESRequestFailed, Status: status, cause: err}
	if len(body) > 0 && json.Valid(body) {
		e.Upstream = json.RawMessage(body)
		e.Details = upstreamReason(body)
	}
	if e.Details == "" && err != nil {
		e.Details = err.Error()
	}
	if e.Details == "" && len(body) > 0 {
		e.Details = string(body)
	}
	return e
}

// Internal wraps an unexpected failure.
func Internal(err error) *Error {
	e := &Error{Code: ErrInternal, Status: http.StatusInternalServerError, cause: err}
	if err != nil {
		e.Details = err.Error()
	}
	return e
}

// As extracts a *Error from an error chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

// CodeOf returns the code of err, or ErrInternal for unclassified errors.
func CodeOf(err error) ErrorCode {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ErrInternal
}

// upstreamReason pulls error.reason (or error as a string) out of an
// Elasticsearch error body.
func upstreamReason(body []byte) string {
	var parsed struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.Error) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(parsed.Error, &asString); err == nil {
		return asString
	}
	var asObject struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(parsed.Error, &asObject); err == nil {
		if asObject.Reason != "" {
			return asObject.Reason
		}
		return asObject.Type
	}
	return ""
}
