package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/peternagy/espal/internal/types"
)

func handleRemoteIndices(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r, "id")
		if err != nil {
			writeLegacyError(w, err)
			return
		}
		indices, err := deps.Transfer.ListIndices(r.Context(), id)
		if err != nil {
			writeLegacyError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, indices)
	}
}

func handleRemoteMapping(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r, "id")
		if err != nil {
			writeLegacyError(w, err)
			return
		}
		out, err := deps.Transfer.Mapping(r.Context(), id, chi.URLParam(r, "index"))
		if err != nil {
			writeLegacyError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleCopyDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.CopyRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		res, err := deps.Transfer.CopyDocument(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleBulkCopy(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.BulkCopyRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		res, err := deps.Transfer.BulkCopy(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
