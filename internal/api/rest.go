package api

import (
	"net/http"

	"github.com/peternagy/espal/internal/types"
)

// handleRest relays the upstream status, content type and body unchanged.
func handleRest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.RestRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		res, err := deps.Rest.Execute(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}

		contentType := res.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(res.Status)
		_, _ = w.Write(res.Body)
	}
}
