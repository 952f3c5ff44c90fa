package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/peternagy/espal/internal/core"
	"github.com/peternagy/espal/internal/debug"
)

const maxBodySize = 10 << 20 // 10MB

// errorBody is the structured error shape: a machine code, optional
// diagnostic detail and, for upstream failures, the cluster's own body.
type errorBody struct {
	ErrorCode core.ErrorCode  `json:"errorCode"`
	Details   string          `json:"details,omitempty"`
	Response  json.RawMessage `json:"response,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debug.Warn(debug.CategoryHTTP, "Failed to write response", map[string]interface{}{"error": err.Error()})
	}
}

// classify turns any error into a *core.Error. Unclassified errors are internal.
func classify(err error) *core.Error {
	if e, ok := core.As(err); ok {
		return e
	}
	return core.Internal(err)
}

func writeError(w http.ResponseWriter, err error) {
	e := classify(err)
	logFailure(e)
	writeJSON(w, e.Status, errorBody{
		ErrorCode: e.Code,
		Details:   e.Details,
		Response:  e.Upstream,
	})
}

// writeLegacyError answers {"error": "..."} for endpoints whose callers
// predate error codes.
func writeLegacyError(w http.ResponseWriter, err error) {
	e := classify(err)
	logFailure(e)
	msg := e.Details
	if msg == "" {
		msg = string(e.Code)
	}
	writeJSON(w, e.Status, map[string]string{"error": msg})
}

func logFailure(e *core.Error) {
	if e.Status < http.StatusInternalServerError {
		return
	}
	debug.Warn(debug.CategoryHTTP, "Request failed", map[string]interface{}{
		"code":    string(e.Code),
		"status":  e.Status,
		"details": e.Details,
	})
}

// decodeJSON reads a required JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return core.Validationf(core.ErrInvalidRequestBody, "%v", err)
	}
	return nil
}

// decodeOptionalJSON is decodeJSON that accepts an empty body.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return core.Validationf(core.ErrInvalidRequestBody, "%v", err)
}

// readRawJSON reads a body that must be a JSON document.
func readRawJSON(w http.ResponseWriter, r *http.Request) (json.RawMessage, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, core.Validationf(core.ErrInvalidRequestBody, "%v", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || !json.Valid(data) {
		return nil, core.Validation(core.ErrInvalidRequestBody)
	}
	return json.RawMessage(data), nil
}

func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, core.Validation(core.ErrInvalidID)
	}
	return id, nil
}
