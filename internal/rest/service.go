// Package rest forwards free-form REST calls to the active cluster after the
// dangerous-request check.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/peternagy/espal/internal/core"
	"github.com/peternagy/espal/internal/debug"
	"github.com/peternagy/espal/internal/esclient"
	"github.com/peternagy/espal/internal/guard"
	"github.com/peternagy/espal/internal/types"
)

// ActiveClient yields the session client.
type ActiveClient interface {
	Active() (*esclient.Client, error)
}

// Service is the guarded passthrough.
type Service struct {
	clients ActiveClient
}

// NewService creates a new passthrough service.
func NewService(clients ActiveClient) *Service {
	return &Service{clients: clients}
}

// Execute validates req, rejects blocked operations before any network call
// and forwards the rest verbatim.
func (s *Service) Execute(ctx context.Context, req types.RestRequest) (*esclient.Response, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if !guard.ValidMethod(method) {
		return nil, core.Validation(core.ErrMethodInvalid)
	}
	if strings.TrimSpace(req.Path) == "" {
		return nil, core.Validation(core.ErrPathRequired)
	}
	u, err := guard.ParsePath(req.Path)
	if err != nil {
		return nil, core.Validationf(core.ErrPathInvalid, "%v", err)
	}
	// Forward exactly what the guard checked.
	path := u.RequestURI()

	if guard.IsDangerousRequest(method, path) {
		debug.Warn(debug.CategoryHTTP, "Blocked dangerous request", map[string]interface{}{
			"method": method,
			"path":   path,
		})
		return nil, core.Blocked(method, path)
	}

	c, err := s.clients.Active()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := c.Perform(ctx, method, path, body(req.Body))
	debug.LogQuery("REST passthrough", map[string]interface{}{
		"method":   method,
		"path":     path,
		"duration": time.Since(start).String(),
		"failed":   err != nil,
	})
	return res, err
}

// body drops an absent or JSON-null payload. A JSON string is sent as its
// contents so NDJSON bodies can be passed through as text.
func body(raw json.RawMessage) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err == nil {
			return []byte(text)
		}
	}
	return trimmed
}
