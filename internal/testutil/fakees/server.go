// Package fakees is an in-process stand-in for an Elasticsearch cluster,
// speaking enough of the REST dialect for the console's tests.
package fakees

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// Request is one recorded call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

type index struct {
	settings map[string]any
	mappings json.RawMessage
	aliases  map[string]bool
	docs     map[string]json.RawMessage
	closed   bool
	uuid     string
}

// Server is a fake cluster backed by httptest.Server.
type Server struct {
	*httptest.Server

	// TotalAsNumber makes search answer hits.total as a bare number.
	TotalAsNumber atomic.Bool
	// FailPing makes the root endpoint answer 503.
	FailPing atomic.Bool

	pings atomic.Int64

	mu       sync.Mutex
	name     string
	indices  map[string]*index
	requests []Request
	nextID   int
}

// New starts a fake cluster and closes it when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{name: "fake-cluster", indices: map[string]*index{}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// Pings returns how many liveness probes the server has answered.
func (s *Server) Pings() int64 {
	return s.pings.Load()
}

// Requests returns a copy of every recorded request.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// LastRequest returns the most recent request matching method and path.
func (s *Server) LastRequest(method, path string) (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.requests) - 1; i >= 0; i-- {
		r := s.requests[i]
		if r.Method == method && r.Path == path {
			return r, true
		}
	}
	return Request{}, false
}

// AddIndex creates an index with an optional mapping.
func (s *Server) AddIndex(name string, mappings string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createIndex(name, nil, json.RawMessage(mappings), nil)
}

// AddDocument stores a document, creating the index if needed.
func (s *Server) AddDocument(indexName, id, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureIndex(indexName).docs[id] = json.RawMessage(source)
}

// AddAlias attaches an alias to an existing index.
func (s *Server) AddAlias(indexName, alias string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureIndex(indexName).aliases[alias] = true
}

// HasIndex reports whether the index exists.
func (s *Server) HasIndex(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.indices[name]
	return ok
}

// Document returns a stored document source.
func (s *Server) Document(indexName, id string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indices[indexName]
	if !ok {
		return nil, false
	}
	doc, ok := idx.docs[id]
	return doc, ok
}

// DocCount returns the number of documents in an index.
func (s *Server) DocCount(indexName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.indices[indexName]; ok {
		return len(idx.docs)
	}
	return 0
}

// Mapping returns the stored mapping of an index.
func (s *Server) Mapping(indexName string) json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.indices[indexName]; ok {
		return idx.mappings
	}
	return nil
}

// Settings returns the settings an index was created with.
func (s *Server) Settings(indexName string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.indices[indexName]; ok {
		return idx.settings
	}
	return nil
}

// IsClosed reports whether an index was closed.
func (s *Server) IsClosed(indexName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indices[indexName]
	return ok && idx.closed
}

func (s *Server) ensureIndex(name string) *index {
	if idx, ok := s.indices[name]; ok {
		return idx
	}
	return s.createIndex(name, nil, nil, nil)
}

func (s *Server) createIndex(name string, settings map[string]any, mappings json.RawMessage, aliases map[string]any) *index {
	if settings == nil {
		settings = map[string]any{}
	}
	if len(mappings) == 0 {
		mappings = json.RawMessage(`{}`)
	}
	idx := &index{
		settings: settings,
		mappings: mappings,
		aliases:  map[string]bool{},
		docs:     map[string]json.RawMessage{},
		uuid:     fmt.Sprintf("uuid-%s", name),
	}
	for a := range aliases {
		idx.aliases[a] = true
	}
	s.indices[name] = idx
	return idx
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, reason string) {
	writeJSON(w, status, map[string]any{
		"error":  map[string]any{"type": errType, "reason": reason},
		"status": status,
	})
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")

	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.requests = append(s.requests, Request{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query(), Body: body})
	s.mu.Unlock()

	path := strings.Trim(r.URL.Path, "/")
	var segs []string
	if path != "" {
		segs = strings.Split(path, "/")
	}

	if len(segs) == 0 {
		s.serveRoot(w, r)
		return
	}

	if strings.HasPrefix(segs[0], "_") {
		s.serveAPI(w, r, segs, body)
		return
	}
	s.serveIndex(w, r, segs, body)
}

func (s *Server) serveRoot(w http.ResponseWriter, r *http.Request) {
	s.pings.Add(1)
	if s.FailPing.Load() {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "cluster unavailable")
		return
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":         "node-1",
		"cluster_name": s.name,
		"cluster_uuid": "fake-uuid",
		"version":      map[string]any{"number": "8.11.1"},
		"tagline":      "You Know, for Search",
	})
}

func (s *Server) serveAPI(w http.ResponseWriter, r *http.Request, segs []string, body []byte) {
	switch segs[0] {
	case "_cluster":
		s.serveCluster(w, r, segs)
	case "_nodes":
		s.serveNodes(w, r, segs)
	case "_cat":
		s.serveCat(w, r, segs)
	case "_tasks":
		s.serveTasks(w, r, segs)
	case "_alias":
		s.serveAliases(w, "")
	case "_aliases":
		s.serveAliasActions(w, body)
	case "_settings":
		s.serveSettings(w, "")
	case "_bulk":
		s.serveBulk(w, "", body)
	case "_search":
		writeJSON(w, http.StatusOK, map[string]any{"took": 1, "hits": map[string]any{"total": map[string]any{"value": 0}, "hits": []any{}}})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true, "method": r.Method, "path": r.URL.Path})
	}
}

func (s *Server) serveCluster(w http.ResponseWriter, r *http.Request, segs []string) {
	if len(segs) < 2 {
		writeError(w, http.StatusNotFound, "not_found", "unknown cluster endpoint")
		return
	}
	switch segs[1] {
	case "health":
		s.mu.Lock()
		n := len(s.indices)
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"cluster_name":    s.name,
			"status":          "green",
			"number_of_nodes": 1,
			"active_shards":   n,
		})
	case "stats":
		s.mu.Lock()
		n := len(s.indices)
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"cluster_name": s.name, "status": "green", "indices": map[string]any{"count": n}})
	case "pending_tasks":
		writeJSON(w, http.StatusOK, map[string]any{"tasks": []any{}})
	case "settings":
		writeJSON(w, http.StatusOK, map[string]any{"persistent": map[string]any{}, "transient": map[string]any{}})
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown cluster endpoint")
	}
}

func (s *Server) serveNodes(w http.ResponseWriter, r *http.Request, segs []string) {
	if len(segs) >= 2 && segs[1] == "hot_threads" {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "::: {node-1}\n   Hot threads at 2024-01-01T00:00:00Z\n")
		return
	}

	metrics := []string{}
	if len(segs) >= 3 && segs[1] == "stats" {
		metrics = strings.Split(segs[2], ",")
	} else if len(segs) == 2 && segs[1] != "stats" {
		metrics = strings.Split(segs[1], ",")
	}
	node := map[string]any{"name": "node-1", "roles": []string{"master", "data"}}
	for _, m := range metrics {
		node[m] = map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"_nodes":       map[string]any{"total": 1, "successful": 1, "failed": 0},
		"cluster_name": s.name,
		"nodes":        map[string]any{"node-id-1": node},
	})
}

func (s *Server) serveCat(w http.ResponseWriter, r *http.Request, segs []string) {
	if len(segs) < 2 {
		writeError(w, http.StatusNotFound, "not_found", "unknown cat endpoint")
		return
	}
	switch segs[1] {
	case "indices":
		s.mu.Lock()
		names := make([]string, 0, len(s.indices))
		for name := range s.indices {
			names = append(names, name)
		}
		sort.Strings(names)
		rows := make([]map[string]any, 0, len(names))
		for _, name := range names {
			idx := s.indices[name]
			status := "open"
			if idx.closed {
				status = "close"
			}
			rows = append(rows, map[string]any{
				"health":         "green",
				"status":         status,
				"index":          name,
				"uuid":           idx.uuid,
				"pri":            "1",
				"rep":            "0",
				"docs.count":     strconv.Itoa(len(idx.docs)),
				"docs.deleted":   "0",
				"store.size":     "1kb",
				"pri.store.size": "1kb",
			})
		}
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, rows)
	case "nodes":
		writeJSON(w, http.StatusOK, []map[string]any{{
			"name":              "node-1",
			"ip":                "127.0.0.1",
			"node.role":         "cdfhilmrstw",
			"master":            "*",
			"heap.percent":      "42",
			"ram.percent":       "73",
			"cpu":               "5",
			"load_1m":           "0.50",
			"disk.used_percent": "31.5",
			"version":           "8.11.1",
		}})
	default:
		writeJSON(w, http.StatusOK, []any{})
	}
}

func (s *Server) serveTasks(w http.ResponseWriter, r *http.Request, segs []string) {
	if len(segs) == 3 && segs[2] == "_cancel" {
		writeJSON(w, http.StatusOK, map[string]any{"nodes": map[string]any{}, "cancelled": segs[1]})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": []map[string]any{{
			"node":        "node-id-1",
			"id":          1,
			"type":        "transport",
			"action":      "cluster:monitor/tasks/lists",
			"cancellable": false,
		}},
	})
}

func (s *Server) serveAliases(w http.ResponseWriter, only string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]any{}
	for name, idx := range s.indices {
		if only != "" && name != only {
			continue
		}
		aliases := map[string]any{}
		for a := range idx.aliases {
			aliases[a] = map[string]any{}
		}
		out[name] = map[string]any{"aliases": aliases}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) serveAliasActions(w http.ResponseWriter, body []byte) {
	var req struct {
		Actions []map[string]struct {
			Index string `json:"index"`
			Alias string `json:"alias"`
		} `json:"actions"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "parse_exception", err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, action := range req.Actions {
		for kind, a := range action {
			idx, ok := s.indices[a.Index]
			if !ok {
				writeError(w, http.StatusNotFound, "index_not_found_exception", "no such index ["+a.Index+"]")
				return
			}
			switch kind {
			case "add":
				idx.aliases[a.Alias] = true
			case "remove":
				delete(idx.aliases, a.Alias)
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
}

func (s *Server) serveSettings(w http.ResponseWriter, only string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]any{}
	for name, idx := range s.indices {
		if only != "" && name != only {
			continue
		}
		out[name] = map[string]any{
			"settings": map[string]any{
				"index": map[string]any{
					"creation_date":      "1700000000000",
					"uuid":               idx.uuid,
					"number_of_shards":   "1",
					"number_of_replicas": "0",
					"provided_name":      name,
					"version":            map[string]any{"created": "8110199"},
				},
			},
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request, segs []string, body []byte) {
	name := segs[0]

	if len(segs) == 1 {
		s.serveIndexRoot(w, r, name, body)
		return
	}

	s.mu.Lock()
	idx, exists := s.indices[name]
	s.mu.Unlock()

	switch segs[1] {
	case "_doc", "_create":
		s.serveDoc(w, r, name, segs[2:], body)
		return
	case "_bulk":
		s.serveBulk(w, name, body)
		return
	}

	if !exists {
		writeError(w, http.StatusNotFound, "index_not_found_exception", "no such index ["+name+"]")
		return
	}

	switch segs[1] {
	case "_mapping":
		s.mu.Lock()
		mappings := idx.mappings
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{name: map[string]any{"mappings": mappings}})
	case "_settings":
		s.serveSettings(w, name)
	case "_stats":
		s.mu.Lock()
		count := len(idx.docs)
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"_all":    map[string]any{"primaries": map[string]any{"docs": map[string]any{"count": count}}},
			"indices": map[string]any{name: map[string]any{"uuid": idx.uuid}},
		})
	case "_open", "_close":
		s.mu.Lock()
		idx.closed = segs[1] == "_close"
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
	case "_alias", "_aliases":
		s.serveIndexAlias(w, r, idx, name, segs)
	case "_search":
		s.serveSearch(w, name, idx, body)
	default:
		writeError(w, http.StatusBadRequest, "illegal_argument_exception", "unsupported endpoint "+r.URL.Path)
	}
}

func (s *Server) serveIndexRoot(w http.ResponseWriter, r *http.Request, name string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.indices[name]

	switch r.Method {
	case http.MethodHead:
		if exists {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	case http.MethodPut:
		if exists {
			writeError(w, http.StatusBadRequest, "resource_already_exists_exception", "index ["+name+"] already exists")
			return
		}
		var req struct {
			Settings map[string]any  `json:"settings"`
			Mappings json.RawMessage `json:"mappings"`
			Aliases  map[string]any  `json:"aliases"`
		}
		if len(bytes.TrimSpace(body)) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				writeError(w, http.StatusBadRequest, "parse_exception", err.Error())
				return
			}
		}
		s.createIndex(name, req.Settings, req.Mappings, req.Aliases)
		writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true, "shards_acknowledged": true, "index": name})
	case http.MethodDelete:
		if !exists {
			writeError(w, http.StatusNotFound, "index_not_found_exception", "no such index ["+name+"]")
			return
		}
		delete(s.indices, name)
		writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
	case http.MethodGet:
		if !exists {
			writeError(w, http.StatusNotFound, "index_not_found_exception", "no such index ["+name+"]")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{name: map[string]any{"mappings": s.indices[name].mappings}})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method)
	}
}

func (s *Server) serveIndexAlias(w http.ResponseWriter, r *http.Request, idx *index, name string, segs []string) {
	if len(segs) < 3 {
		s.serveAliases(w, name)
		return
	}
	alias := segs[2]
	s.mu.Lock()
	defer s.mu.Unlock()
	switch r.Method {
	case http.MethodPut, http.MethodPost:
		idx.aliases[alias] = true
		writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
	case http.MethodDelete:
		if !idx.aliases[alias] {
			writeError(w, http.StatusNotFound, "aliases_not_found_exception", "aliases ["+alias+"] missing")
			return
		}
		delete(idx.aliases, alias)
		writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method)
	}
}

func (s *Server) serveDoc(w http.ResponseWriter, r *http.Request, name string, rest []string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := ""
	if len(rest) > 0 {
		id = rest[0]
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		idx, ok := s.indices[name]
		if !ok {
			writeError(w, http.StatusNotFound, "index_not_found_exception", "no such index ["+name+"]")
			return
		}
		doc, ok := idx.docs[id]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"_index": name, "_id": id, "found": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"_index": name, "_id": id, "_version": 1, "found": true, "_source": doc,
		})
	case http.MethodPut, http.MethodPost:
		if id == "" {
			s.nextID++
			id = fmt.Sprintf("auto-%d", s.nextID)
		}
		if !json.Valid(body) {
			writeError(w, http.StatusBadRequest, "mapper_parsing_exception", "failed to parse")
			return
		}
		idx := s.ensureIndex(name)
		result := "created"
		status := http.StatusCreated
		if _, ok := idx.docs[id]; ok {
			result = "updated"
			status = http.StatusOK
		}
		idx.docs[id] = json.RawMessage(body)
		writeJSON(w, status, map[string]any{"_index": name, "_id": id, "_version": 1, "result": result})
	case http.MethodDelete:
		idx, ok := s.indices[name]
		if !ok {
			writeError(w, http.StatusNotFound, "index_not_found_exception", "no such index ["+name+"]")
			return
		}
		if _, ok := idx.docs[id]; !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"_index": name, "_id": id, "result": "not_found"})
			return
		}
		delete(idx.docs, id)
		writeJSON(w, http.StatusOK, map[string]any{"_index": name, "_id": id, "_version": 2, "result": "deleted"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method)
	}
}

func (s *Server) serveSearch(w http.ResponseWriter, name string, idx *index, body []byte) {
	var req struct {
		From int            `json:"from"`
		Size *int           `json:"size"`
		Aggs map[string]any `json:"aggs"`
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "parse_exception", err.Error())
			return
		}
	}
	size := 10
	if req.Size != nil {
		size = *req.Size
	}

	s.mu.Lock()
	ids := make([]string, 0, len(idx.docs))
	for id := range idx.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	total := len(ids)
	hits := []map[string]any{}
	for i := req.From; i < len(ids) && len(hits) < size; i++ {
		hits = append(hits, map[string]any{"_index": name, "_id": ids[i], "_score": 1.0, "_source": idx.docs[ids[i]]})
	}
	s.mu.Unlock()

	var totalField any = map[string]any{"value": total, "relation": "eq"}
	if s.TotalAsNumber.Load() {
		totalField = total
	}
	resp := map[string]any{
		"took":      1,
		"timed_out": false,
		"hits":      map[string]any{"total": totalField, "max_score": 1.0, "hits": hits},
	}
	if len(req.Aggs) > 0 {
		aggs := map[string]any{}
		for name := range req.Aggs {
			aggs[name] = map[string]any{"buckets": []any{}}
		}
		resp["aggregations"] = aggs
	}
	writeJSON(w, http.StatusOK, resp)
}

// serveBulk accepts index/create actions. A source containing
// "_reject": true is refused with a per-item error.
func (s *Server) serveBulk(w http.ResponseWriter, defaultIndex string, body []byte) {
	type meta struct {
		Index string `json:"_index"`
		ID    string `json:"_id"`
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	items := []map[string]any{}
	hasErrors := false
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var action map[string]meta
		if err := json.Unmarshal(line, &action); err != nil {
			writeError(w, http.StatusBadRequest, "parse_exception", err.Error())
			return
		}
		if !scanner.Scan() {
			writeError(w, http.StatusBadRequest, "parse_exception", "missing source line")
			return
		}
		source := append([]byte(nil), scanner.Bytes()...)

		for kind, m := range action {
			indexName := m.Index
			if indexName == "" {
				indexName = defaultIndex
			}
			id := m.ID
			if id == "" {
				s.nextID++
				id = fmt.Sprintf("auto-%d", s.nextID)
			}

			var probe struct {
				Reject bool `json:"_reject"`
			}
			_ = json.Unmarshal(source, &probe)
			if probe.Reject {
				hasErrors = true
				items = append(items, map[string]any{kind: map[string]any{
					"_index": indexName, "_id": id, "status": 400,
					"error": map[string]any{"type": "mapper_parsing_exception", "reason": "document rejected"},
				}})
				continue
			}

			s.ensureIndex(indexName).docs[id] = json.RawMessage(source)
			items = append(items, map[string]any{kind: map[string]any{
				"_index": indexName, "_id": id, "status": 201, "result": "created",
			}})
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"took": 1, "errors": hasErrors, "items": items})
}
