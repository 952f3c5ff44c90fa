package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/peternagy/espal/internal/types"
)

// indexHandler relays a gateway call scoped to the {index} URL parameter.
func indexHandler(fn func(ctx context.Context, name string) (json.RawMessage, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := fn(r.Context(), chi.URLParam(r, "index"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleListIndices(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		indices, err := deps.Indices.List(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, indices)
	}
}

func handleCreateIndex(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.CreateIndexRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		out, err := deps.Indices.Create(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleDeleteIndex(deps Deps) http.HandlerFunc   { return indexHandler(deps.Indices.Delete) }
func handleOpenIndex(deps Deps) http.HandlerFunc     { return indexHandler(deps.Indices.Open) }
func handleCloseIndex(deps Deps) http.HandlerFunc    { return indexHandler(deps.Indices.Close) }
func handleIndexMapping(deps Deps) http.HandlerFunc  { return indexHandler(deps.Indices.Mapping) }
func handleIndexSettings(deps Deps) http.HandlerFunc { return indexHandler(deps.Indices.Settings) }
func handleIndexStats(deps Deps) http.HandlerFunc    { return indexHandler(deps.Indices.Stats) }

func handleAddAlias(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.AliasRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		out, err := deps.Indices.AddAlias(r.Context(), chi.URLParam(r, "index"), req.Alias)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleRemoveAlias(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := deps.Indices.RemoveAlias(r.Context(), chi.URLParam(r, "index"), chi.URLParam(r, "alias"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.SearchRequest
		if err := decodeOptionalJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		res, err := deps.Documents.Search(r.Context(), chi.URLParam(r, "index"), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleAggregations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.AggregationRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		out, err := deps.Documents.Aggregations(r.Context(), chi.URLParam(r, "index"), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleCreateDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readRawJSON(w, r)
		if err != nil {
			writeError(w, err)
			return
		}
		res, err := deps.Documents.Create(r.Context(), chi.URLParam(r, "index"), body)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

func handleGetDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := deps.Documents.Get(r.Context(), chi.URLParam(r, "index"), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handlePutDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readRawJSON(w, r)
		if err != nil {
			writeError(w, err)
			return
		}
		res, err := deps.Documents.Put(r.Context(), chi.URLParam(r, "index"), chi.URLParam(r, "id"), body)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleDeleteDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Documents.Delete(r.Context(), chi.URLParam(r, "index"), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
