package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/peternagy/espal/internal/cluster"
	"github.com/peternagy/espal/internal/connection"
	"github.com/peternagy/espal/internal/credential"
	"github.com/peternagy/espal/internal/document"
	"github.com/peternagy/espal/internal/index"
	"github.com/peternagy/espal/internal/performance"
	"github.com/peternagy/espal/internal/rest"
	"github.com/peternagy/espal/internal/storage"
	"github.com/peternagy/espal/internal/testutil/fakees"
	"github.com/peternagy/espal/internal/transfer"
	"github.com/peternagy/espal/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	handler http.Handler
	conns   *storage.ConnectionService
	manager *connection.Manager
}

func setup(t *testing.T, staticDir string) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	conns := storage.NewConnectionService(store, credential.NewCipher("api-test"))
	manager := connection.NewManager(conns, connection.DefaultOptions())
	t.Cleanup(manager.Close)
	metrics := performance.NewService(manager)

	h := NewHandler(Deps{
		Connections: conns,
		Queries:     storage.NewQueryService(store),
		Sessions:    manager,
		Cluster:     cluster.NewService(manager),
		Indices:     index.NewService(manager),
		Documents:   document.NewService(manager),
		Rest:        rest.NewService(manager),
		Transfer:    transfer.NewService(manager, metrics.CopiedDocuments()),
		Metrics:     metrics,
		StaticDir:   staticDir,
	})
	return &testEnv{handler: h, conns: conns, manager: manager}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

// connect saves a profile for es and makes it the active session.
func (e *testEnv) connect(t *testing.T, es *fakees.Server) int64 {
	t.Helper()
	id := e.saveProfile(t, "cluster", es.URL)
	rr := e.do(t, http.MethodPost, "/api/session/connect", fmt.Sprintf(`{"id":%d}`, id))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	return id
}

func (e *testEnv) saveProfile(t *testing.T, name, url string) int64 {
	t.Helper()
	p, err := e.conns.Create(context.Background(), types.ConnectionInput{Name: name, URL: url})
	require.NoError(t, err)
	return p.ID
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	return string(decodeBody[errorBody](t, rr).ErrorCode)
}

func TestConnections_PasswordNeverReturned(t *testing.T) {
	env := setup(t, "")

	rr := env.do(t, http.MethodPost, "/api/connections", `{"name":"local","url":"http://localhost:9200","password":"secret"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decodeBody[types.ConnectionProfile](t, rr)
	assert.Equal(t, types.PasswordMask, created.Password)

	stored, err := env.conns.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Len(t, strings.Split(stored.Password, ":"), 3)
	assert.NotContains(t, stored.Password, "secret")

	rr = env.do(t, http.MethodGet, fmt.Sprintf("/api/connections/%d", created.ID), "")
	require.Equal(t, http.StatusOK, rr.Code)
	got := decodeBody[types.ConnectionProfile](t, rr)
	assert.Equal(t, types.PasswordMask, got.Password)

	rr = env.do(t, http.MethodGet, "/api/connections", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), stored.Password)
	assert.NotContains(t, rr.Body.String(), "secret")
}

func TestConnections_UpdateAndDelete(t *testing.T) {
	env := setup(t, "")
	id := env.saveProfile(t, "old", "http://localhost:9200")

	rr := env.do(t, http.MethodPut, fmt.Sprintf("/api/connections/%d", id), `{"name":"new"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "new", decodeBody[types.ConnectionProfile](t, rr).Name)

	rr = env.do(t, http.MethodPut, "/api/connections/999", `{"name":"x"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "CONNECTION_NOT_FOUND", errorCode(t, rr))

	rr = env.do(t, http.MethodDelete, fmt.Sprintf("/api/connections/%d", id), "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodGet, fmt.Sprintf("/api/connections/%d", id), "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodDelete, fmt.Sprintf("/api/connections/%d", id), "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestConnections_Validation(t *testing.T) {
	env := setup(t, "")

	rr := env.do(t, http.MethodPost, "/api/connections", `{"name":"","url":"http://x:9200"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "CONNECTION_NAME_REQUIRED", errorCode(t, rr))

	rr = env.do(t, http.MethodPost, "/api/connections", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_REQUEST_BODY", errorCode(t, rr))

	rr = env.do(t, http.MethodGet, "/api/connections/abc", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_ID", errorCode(t, rr))
}

func TestConnections_ExportImport(t *testing.T) {
	env := setup(t, "")
	env.saveProfile(t, "a", "http://a:9200")
	env.saveProfile(t, "b", "http://b:9200")

	rr := env.do(t, http.MethodGet, "/api/connections/export", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	bundle := decodeBody[shareBundle](t, rr)
	require.NotEmpty(t, bundle.Key)

	other := setup(t, "")
	body, err := json.Marshal(bundle)
	require.NoError(t, err)
	rr = other.do(t, http.MethodPost, "/api/connections/import", string(body))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, map[string]int{"imported": 2}, decodeBody[map[string]int](t, rr))

	bundle.Key = strings.Repeat("A", len(bundle.Key))
	body, _ = json.Marshal(bundle)
	rr = other.do(t, http.MethodPost, "/api/connections/import", string(body))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "IMPORT_BUNDLE_INVALID", errorCode(t, rr))
}

func TestQueries_CRUD(t *testing.T) {
	env := setup(t, "")

	rr := env.do(t, http.MethodPost, "/api/queries", `{"name":"health","method":"get","path":"/_cluster/health"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	q := decodeBody[types.SavedQuery](t, rr)
	assert.Equal(t, "GET", q.Method)

	rr = env.do(t, http.MethodPut, fmt.Sprintf("/api/queries/%d", q.ID), `{"body":"{}"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "{}", decodeBody[types.SavedQuery](t, rr).Body)

	rr = env.do(t, http.MethodGet, "/api/queries", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody[[]types.SavedQuery](t, rr), 1)

	rr = env.do(t, http.MethodDelete, fmt.Sprintf("/api/queries/%d", q.ID), "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodGet, fmt.Sprintf("/api/queries/%d", q.ID), "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "QUERY_NOT_FOUND", errorCode(t, rr))

	rr = env.do(t, http.MethodPost, "/api/queries", `{"name":"bad","method":"PATCH","path":"/"}`)
	assert.Equal(t, "QUERY_METHOD_INVALID", errorCode(t, rr))
}

func TestSession_Lifecycle(t *testing.T) {
	env := setup(t, "")
	es := fakees.New(t)

	dead := fakees.New(t)
	deadURL := dead.URL
	dead.Close()

	rr := env.do(t, http.MethodPost, "/api/session/connect", fmt.Sprintf(`{"url":%q}`, deadURL))
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Equal(t, "CONNECTION_FAILED", errorCode(t, rr))

	rr = env.do(t, http.MethodGet, "/api/session", "")
	assert.JSONEq(t, `{"id":null,"url":"","connected":false,"name":"","color":""}`, rr.Body.String())

	id := env.connect(t, es)
	status := decodeBody[types.ActiveSession](t, env.do(t, http.MethodGet, "/api/session", ""))
	assert.True(t, status.Connected)
	require.NotNil(t, status.ID)
	assert.Equal(t, id, *status.ID)
	assert.Equal(t, "cluster", status.Name)

	rr = env.do(t, http.MethodPost, "/api/session/disconnect", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, decodeBody[types.ActiveSession](t, rr).Connected)

	rr = env.do(t, http.MethodPost, "/api/session/connect", `{"id":999}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "SAVED_CONNECTION_NOT_FOUND", errorCode(t, rr))
}

func TestSession_Test(t *testing.T) {
	env := setup(t, "")
	es := fakees.New(t)

	rr := env.do(t, http.MethodPost, "/api/session/test", fmt.Sprintf(`{"url":%q}`, es.URL))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.False(t, env.manager.Connected())
}

func TestGateway_RequiresConnection(t *testing.T) {
	env := setup(t, "")

	for _, path := range []string{"/api/cluster/health", "/api/indices", "/api/nodes/summary", "/api/tasks"} {
		rr := env.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, rr.Code, path)
		assert.Equal(t, "NO_ES_CONNECTION", errorCode(t, rr), path)
	}
}

func TestGateway_ClusterAndNodes(t *testing.T) {
	env := setup(t, "")
	env.connect(t, fakees.New(t))

	rr := env.do(t, http.MethodGet, "/api/cluster/health", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, decodeBody[map[string]any](t, rr), "status")

	rr = env.do(t, http.MethodGet, "/api/nodes/stats?metric=jvm,os", "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/nodes/hot-threads", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/plain")

	rr = env.do(t, http.MethodGet, "/api/nodes/summary", "")
	require.Equal(t, http.StatusOK, rr.Code)
	nodes := decodeBody[[]types.NodeSummary](t, rr)
	require.Len(t, nodes, 1)
	assert.True(t, nodes[0].Master)

	rr = env.do(t, http.MethodPost, "/api/tasks/node-1:42/cancel", "")
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestGateway_IndicesAndDocuments(t *testing.T) {
	env := setup(t, "")
	es := fakees.New(t)
	env.connect(t, es)

	rr := env.do(t, http.MethodPost, "/api/indices", `{"name":"books","settings":{"index":{"uuid":"x","number_of_shards":"1"}}}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.True(t, es.HasIndex("books"))

	rr = env.do(t, http.MethodPost, "/api/indices", `{"name":"Books"}`)
	assert.Equal(t, "INDEX_NAME_MUST_BE_LOWERCASE", errorCode(t, rr))

	rr = env.do(t, http.MethodPut, "/api/indices/books/documents/1", `{"title":"Dune"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "1", decodeBody[types.DocumentWriteResult](t, rr).ID)

	rr = env.do(t, http.MethodPost, "/api/indices/books/documents", `{"title":"Emma"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = env.do(t, http.MethodGet, "/api/indices/books/documents/1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Dune")

	rr = env.do(t, http.MethodGet, "/api/indices/books/documents/nope", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "ES_REQUEST_FAILED", errorCode(t, rr))

	rr = env.do(t, http.MethodPost, "/api/indices/books/search", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, int64(2), decodeBody[types.SearchResult](t, rr).Total)

	rr = env.do(t, http.MethodPost, "/api/indices/books/aggregations", `{"fields":["title.keyword"]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, decodeBody[map[string]any](t, rr), "title.keyword")

	rr = env.do(t, http.MethodPost, "/api/indices/books/aliases", `{"alias":"library"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rr = env.do(t, http.MethodDelete, "/api/indices/books/aliases/library", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = env.do(t, http.MethodGet, "/api/indices", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody[[]types.IndexInfo](t, rr), 1)

	rr = env.do(t, http.MethodPost, "/api/indices/books/close", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, es.IsClosed("books"))

	rr = env.do(t, http.MethodDelete, "/api/indices/books/documents/1", "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodDelete, "/api/indices/books", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, es.HasIndex("books"))
}

func TestRest_Passthrough(t *testing.T) {
	env := setup(t, "")
	es := fakees.New(t)
	es.AddIndex("logs", "")
	env.connect(t, es)
	before := len(es.Requests())

	rr := env.do(t, http.MethodPost, "/api/rest", `{"method":"DELETE","path":"/_all"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "DANGEROUS_REQUEST_BLOCKED", errorCode(t, rr))
	assert.Len(t, es.Requests(), before)

	rr = env.do(t, http.MethodPost, "/api/rest", `{"method":"GET","path":"_cat/indices?format=json"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"logs"`)

	rr = env.do(t, http.MethodPost, "/api/rest", `{"method":"GET","path":"/missing/_mapping"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	body := decodeBody[errorBody](t, rr)
	assert.Equal(t, "ES_REQUEST_FAILED", string(body.ErrorCode))
	assert.Contains(t, string(body.Response), "index_not_found_exception")

	rr = env.do(t, http.MethodPost, "/api/rest", `{"method":"PATCH","path":"/"}`)
	assert.Equal(t, "METHOD_INVALID", errorCode(t, rr))
}

func TestCrossCluster(t *testing.T) {
	env := setup(t, "")
	source := fakees.New(t)
	target := fakees.New(t)
	for _, id := range []string{"1", "2", "3"} {
		source.AddDocument("books", id, `{"id":"`+id+`"}`)
	}
	env.connect(t, source)
	targetID := env.saveProfile(t, "target", target.URL)

	rr := env.do(t, http.MethodPost, "/api/cross-cluster/copy", fmt.Sprintf(
		`{"sourceIndex":"books","documentId":"1","targetConnectionId":%d,"targetIndex":"books"}`, targetID))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "TARGET_INDEX_NOT_FOUND", errorCode(t, rr))

	rr = env.do(t, http.MethodPost, "/api/cross-cluster/copy-bulk", fmt.Sprintf(`{
		"documents":[{"index":"books","id":"1"},{"index":"books","id":"x"},{"index":"books","id":"2"},{"index":"books","id":"y"},{"index":"books","id":"3"}],
		"targetConnectionId":%d,"targetIndex":"books","createIndex":true}`, targetID))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := decodeBody[types.BulkCopyResult](t, rr)
	assert.Equal(t, 3, res.Copied)
	assert.Equal(t, 2, res.Errors)
	assert.Equal(t, 3, target.DocCount("books"))

	rr = env.do(t, http.MethodGet, fmt.Sprintf("/api/cross-cluster/%d/indices", targetID), "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody[[]types.IndexInfo](t, rr), 1)

	rr = env.do(t, http.MethodGet, fmt.Sprintf("/api/cross-cluster/%d/indices/books/mapping", targetID), "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/cross-cluster/999/indices", "")
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	legacy := decodeBody[map[string]string](t, rr)
	assert.NotEmpty(t, legacy["error"])

	rr = env.do(t, http.MethodGet, "/api/pool", "")
	require.Equal(t, http.StatusOK, rr.Code)
	pooled := decodeBody[[]types.PooledClientInfo](t, rr)
	require.Len(t, pooled, 1)
	assert.Equal(t, targetID, pooled[0].ConnectionID)

	rr = env.do(t, http.MethodPut, fmt.Sprintf("/api/connections/%d", targetID), `{"color":"#ff0000"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Zero(t, env.manager.PoolSize())

	rr = env.do(t, http.MethodDelete, fmt.Sprintf("/api/pool/%d", targetID), "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "POOLED_CLIENT_NOT_FOUND", errorCode(t, rr))
}

func TestHealthAndMetrics(t *testing.T) {
	env := setup(t, "")

	rr := env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok","connected":false}`, rr.Body.String())

	rr = env.do(t, http.MethodGet, "/api/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, decodeBody[map[string]any](t, rr), "heapAlloc")

	rr = env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `espal_http_requests_total{method="GET",route="/health",status_code="200"} 1`)
	assert.Contains(t, rr.Body.String(), "espal_session_connected 0")
}

func TestStaticFallback(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>app</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))
	env := setup(t, dir)

	rr := env.do(t, http.MethodGet, "/app.js", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "console.log(1)", rr.Body.String())

	rr = env.do(t, http.MethodGet, "/indices/books", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "app")

	rr = env.do(t, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
