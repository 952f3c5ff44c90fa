// Package api serves the console's HTTP surface.
package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/peternagy/espal/internal/cluster"
	"github.com/peternagy/espal/internal/connection"
	"github.com/peternagy/espal/internal/debug"
	"github.com/peternagy/espal/internal/document"
	"github.com/peternagy/espal/internal/index"
	"github.com/peternagy/espal/internal/performance"
	"github.com/peternagy/espal/internal/rest"
	"github.com/peternagy/espal/internal/storage"
	"github.com/peternagy/espal/internal/transfer"
)

// Deps are the services behind the routes.
type Deps struct {
	Connections *storage.ConnectionService
	Queries     *storage.QueryService
	Sessions    *connection.Manager
	Cluster     *cluster.Service
	Indices     *index.Service
	Documents   *document.Service
	Rest        *rest.Service
	Transfer    *transfer.Service
	Metrics     *performance.Service
	// StaticDir, when set, is served with SPA fallback for non-API paths.
	StaticDir string
}

// NewHandler builds the router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(deps.Metrics))

	r.Get("/health", handleHealth(deps))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/metrics", handleRuntimeMetrics(deps))

		r.Route("/connections", func(r chi.Router) {
			r.Get("/", handleListConnections(deps))
			r.Post("/", handleCreateConnection(deps))
			r.Get("/export", handleExportConnections(deps))
			r.Post("/import", handleImportConnections(deps))
			r.Get("/{id}", handleGetConnection(deps))
			r.Put("/{id}", handleUpdateConnection(deps))
			r.Delete("/{id}", handleDeleteConnection(deps))
		})

		r.Route("/queries", func(r chi.Router) {
			r.Get("/", handleListQueries(deps))
			r.Post("/", handleCreateQuery(deps))
			r.Get("/{id}", handleGetQuery(deps))
			r.Put("/{id}", handleUpdateQuery(deps))
			r.Delete("/{id}", handleDeleteQuery(deps))
		})

		r.Get("/session", handleSessionStatus(deps))
		r.Post("/session/connect", handleConnect(deps))
		r.Post("/session/disconnect", handleDisconnect(deps))
		r.Post("/session/test", handleTestConnection(deps))

		r.Get("/pool", handleListPool(deps))
		r.Delete("/pool/{id}", handleEvictPooled(deps))

		r.Get("/cluster/health", rawHandler(deps.Cluster.Health))
		r.Get("/cluster/info", rawHandler(deps.Cluster.Info))
		r.Get("/cluster/stats", rawHandler(deps.Cluster.Stats))
		r.Get("/cluster/pending-tasks", rawHandler(deps.Cluster.PendingTasks))

		r.Get("/nodes/stats", handleNodeStats(deps))
		r.Get("/nodes/info", handleNodeInfo(deps))
		r.Get("/nodes/hot-threads", handleHotThreads(deps))
		r.Get("/nodes/breakers", rawHandler(deps.Cluster.Breakers))
		r.Get("/nodes/thread-pools", rawHandler(deps.Cluster.ThreadPools))
		r.Get("/nodes/summary", handleNodeSummary(deps))

		r.Get("/tasks", rawHandler(deps.Cluster.Tasks))
		r.Post("/tasks/{taskId}/cancel", handleCancelTask(deps))

		r.Route("/indices", func(r chi.Router) {
			r.Get("/", handleListIndices(deps))
			r.Post("/", handleCreateIndex(deps))
			r.Route("/{index}", func(r chi.Router) {
				r.Delete("/", handleDeleteIndex(deps))
				r.Post("/open", handleOpenIndex(deps))
				r.Post("/close", handleCloseIndex(deps))
				r.Get("/mapping", handleIndexMapping(deps))
				r.Get("/settings", handleIndexSettings(deps))
				r.Get("/stats", handleIndexStats(deps))
				r.Post("/aliases", handleAddAlias(deps))
				r.Delete("/aliases/{alias}", handleRemoveAlias(deps))
				r.Post("/search", handleSearch(deps))
				r.Post("/aggregations", handleAggregations(deps))
				r.Post("/documents", handleCreateDocument(deps))
				r.Get("/documents/{id}", handleGetDocument(deps))
				r.Put("/documents/{id}", handlePutDocument(deps))
				r.Delete("/documents/{id}", handleDeleteDocument(deps))
			})
		})

		r.Post("/rest", handleRest(deps))

		r.Route("/cross-cluster", func(r chi.Router) {
			r.Get("/{id}/indices", handleRemoteIndices(deps))
			r.Get("/{id}/indices/{index}/mapping", handleRemoteMapping(deps))
			r.Post("/copy", handleCopyDocument(deps))
			r.Post("/copy-bulk", handleBulkCopy(deps))
		})
	})

	if deps.StaticDir != "" {
		r.NotFound(spaHandler(deps.StaticDir))
	}
	return r
}

// requestLogger logs each request at debug level and feeds the HTTP
// collectors. Route labels use the matched pattern.
func requestLogger(metrics *performance.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			elapsed := time.Since(start)

			if metrics != nil {
				metrics.ObserveRequest(r.Method, route, status, elapsed)
			}
			debug.Log(debug.CategoryHTTP, "Request", map[string]interface{}{
				"method":    r.Method,
				"route":     route,
				"status":    status,
				"duration":  elapsed.String(),
				"requestId": middleware.GetReqID(r.Context()),
			})
		})
	}
}

// spaHandler serves files from dir and falls back to index.html so client
// routes resolve. Unknown API paths stay 404.
func spaHandler(dir string) http.HandlerFunc {
	files := http.FileServer(http.Dir(dir))
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/api" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.NotFound(w, r)
			return
		}

		name := filepath.Join(dir, filepath.FromSlash(filepath.Clean("/"+r.URL.Path)))
		if info, err := os.Stat(name); err == nil && !info.IsDir() {
			files.ServeHTTP(w, r)
			return
		}
		http.ServeFile(w, r, filepath.Join(dir, "index.html"))
	}
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"connected": deps.Sessions.Connected(),
		})
	}
}

func handleRuntimeMetrics(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Metrics.GetMetrics())
	}
}
