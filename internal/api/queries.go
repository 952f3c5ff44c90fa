package api

import (
	"errors"
	"net/http"

	"github.com/peternagy/espal/internal/core"
	"github.com/peternagy/espal/internal/storage"
	"github.com/peternagy/espal/internal/types"
)

func queryNotFound(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return core.NotFound(core.ErrQueryNotFound, http.StatusNotFound, "")
	}
	return err
}

func handleListQueries(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		queries, err := deps.Queries.List(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, queries)
	}
}

func handleGetQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r, "id")
		if err != nil {
			writeError(w, err)
			return
		}
		q, err := deps.Queries.Get(r.Context(), id)
		if err != nil {
			writeError(w, queryNotFound(err))
			return
		}
		writeJSON(w, http.StatusOK, q)
	}
}

func handleCreateQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in types.SavedQueryInput
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, err)
			return
		}
		q, err := deps.Queries.Create(r.Context(), in)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, q)
	}
}

func handleUpdateQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r, "id")
		if err != nil {
			writeError(w, err)
			return
		}
		var patch types.SavedQueryPatch
		if err := decodeJSON(w, r, &patch); err != nil {
			writeError(w, err)
			return
		}
		q, err := deps.Queries.Update(r.Context(), id, patch)
		if err != nil {
			writeError(w, queryNotFound(err))
			return
		}
		writeJSON(w, http.StatusOK, q)
	}
}

func handleDeleteQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r, "id")
		if err != nil {
			writeError(w, err)
			return
		}
		deleted, err := deps.Queries.Delete(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		if !deleted {
			writeError(w, core.NotFound(core.ErrQueryNotFound, http.StatusNotFound, ""))
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}
