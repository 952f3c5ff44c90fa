package api

import (
	"errors"
	"net/http"

	"github.com/peternagy/espal/internal/core"
	"github.com/peternagy/espal/internal/storage"
	"github.com/peternagy/espal/internal/types"
)

func connectionNotFound(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return core.NotFound(core.ErrConnectionNotFound, http.StatusNotFound, "")
	}
	return err
}

func maskAll(profiles []types.ConnectionProfile) []types.ConnectionProfile {
	out := make([]types.ConnectionProfile, len(profiles))
	for i, p := range profiles {
		out[i] = p.Masked()
	}
	return out
}

func handleListConnections(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profiles, err := deps.Connections.List(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, maskAll(profiles))
	}
}

func handleGetConnection(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r, "id")
		if err != nil {
			writeError(w, err)
			return
		}
		p, err := deps.Connections.Get(r.Context(), id)
		if err != nil {
			writeError(w, connectionNotFound(err))
			return
		}
		writeJSON(w, http.StatusOK, p.Masked())
	}
}

func handleCreateConnection(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in types.ConnectionInput
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, err)
			return
		}
		p, err := deps.Connections.Create(r.Context(), in)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, p.Masked())
	}
}

// handleUpdateConnection also drops any pooled client for the profile so
// the next cross-cluster call dials with the new URL and credentials.
func handleUpdateConnection(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r, "id")
		if err != nil {
			writeError(w, err)
			return
		}
		var patch types.ConnectionPatch
		if err := decodeJSON(w, r, &patch); err != nil {
			writeError(w, err)
			return
		}
		p, err := deps.Connections.Update(r.Context(), id, patch)
		if err != nil {
			writeError(w, connectionNotFound(err))
			return
		}
		deps.Sessions.Evict(id)
		writeJSON(w, http.StatusOK, p.Masked())
	}
}

func handleDeleteConnection(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r, "id")
		if err != nil {
			writeError(w, err)
			return
		}
		deleted, err := deps.Connections.Delete(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		if !deleted {
			writeError(w, core.NotFound(core.ErrConnectionNotFound, http.StatusNotFound, ""))
			return
		}
		deps.Sessions.Evict(id)
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

type shareBundle struct {
	Bundle string `json:"bundle"`
	Key    string `json:"key"`
}

func handleExportConnections(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bundle, key, err := deps.Connections.Export(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, shareBundle{Bundle: bundle, Key: key})
	}
}

func handleImportConnections(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in shareBundle
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, err)
			return
		}
		n, err := deps.Connections.Import(r.Context(), in.Bundle, in.Key)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"imported": n})
	}
}
