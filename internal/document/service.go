// Package document handles document CRUD, search and facet aggregations on
// the active session.
package document

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/peternagy/espal/internal/core"
	"github.com/peternagy/espal/internal/debug"
	"github.com/peternagy/espal/internal/esclient"
	"github.com/peternagy/espal/internal/types"
)

const (
	defaultPageSize = 20
	maxPageSize     = 10000
)

// ActiveClient yields the session client.
type ActiveClient interface {
	Active() (*esclient.Client, error)
}

// Service handles document operations.
type Service struct {
	clients ActiveClient
}

// NewService creates a new document service.
func NewService(clients ActiveClient) *Service {
	return &Service{clients: clients}
}

// Get returns the upstream GET response for a document.
func (s *Service) Get(ctx context.Context, index, id string) (json.RawMessage, error) {
	if strings.TrimSpace(id) == "" {
		return nil, core.Validation(core.ErrDocumentIDRequired)
	}
	c, err := s.clients.Active()
	if err != nil {
		return nil, err
	}
	var out json.RawMessage
	if err := c.Do(ctx, esapi.GetRequest{Index: index, DocumentID: id}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Put writes a document under id and refreshes so it is immediately visible.
func (s *Service) Put(ctx context.Context, index, id string, source json.RawMessage) (types.DocumentWriteResult, error) {
	if strings.TrimSpace(id) == "" {
		return types.DocumentWriteResult{}, core.Validation(core.ErrDocumentIDRequired)
	}
	return s.write(ctx, index, id, source)
}

// Create writes a document with a cluster-generated id.
func (s *Service) Create(ctx context.Context, index string, source json.RawMessage) (types.DocumentWriteResult, error) {
	return s.write(ctx, index, "", source)
}

func (s *Service) write(ctx context.Context, index, id string, source json.RawMessage) (types.DocumentWriteResult, error) {
	if len(source) == 0 || !json.Valid(source) {
		return types.DocumentWriteResult{}, core.Validation(core.ErrInvalidRequestBody)
	}
	c, err := s.clients.Active()
	if err != nil {
		return types.DocumentWriteResult{}, err
	}

	var res types.DocumentWriteResult
	err = c.Do(ctx, esapi.IndexRequest{
		Index:      index,
		DocumentID: id,
		Body:       bytes.NewReader(source),
		Refresh:    "true",
	}, &res)
	if err != nil {
		return types.DocumentWriteResult{}, err
	}

	debug.LogDocument("Document written", map[string]interface{}{
		"index":  index,
		"id":     res.ID,
		"result": res.Result,
	})
	return res, nil
}

// Delete removes a document and refreshes.
func (s *Service) Delete(ctx context.Context, index, id string) (types.DocumentWriteResult, error) {
	if strings.TrimSpace(id) == "" {
		return types.DocumentWriteResult{}, core.Validation(core.ErrDocumentIDRequired)
	}
	c, err := s.clients.Active()
	if err != nil {
		return types.DocumentWriteResult{}, err
	}

	var res types.DocumentWriteResult
	if err := c.Do(ctx, esapi.DeleteRequest{Index: index, DocumentID: id, Refresh: "true"}, &res); err != nil {
		return types.DocumentWriteResult{}, err
	}
	return res, nil
}

// searchResponse is the subset of a search reply the console reads.
type searchResponse struct {
	Took     int  `json:"took"`
	TimedOut bool `json:"timed_out"`
	Hits     struct {
		Total json.RawMessage `json:"total"`
		Hits  []types.Hit     `json:"hits"`
	} `json:"hits"`
	Aggregations json.RawMessage `json:"aggregations"`
}

// Search runs a paginated query. An empty query matches everything.
func (s *Service) Search(ctx context.Context, index string, req types.SearchRequest) (types.SearchResult, error) {
	if req.Size <= 0 {
		req.Size = defaultPageSize
	}
	if req.Size > maxPageSize {
		req.Size = maxPageSize
	}
	if req.From < 0 {
		req.From = 0
	}

	body := map[string]any{
		"from":  req.From,
		"size":  req.Size,
		"query": queryOrMatchAll(req.Query),
	}
	if len(req.Sort) > 0 && string(req.Sort) != "null" {
		body["sort"] = req.Sort
	}

	start := time.Now()
	resp, err := s.search(ctx, index, body)
	if err != nil {
		return types.SearchResult{}, err
	}

	debug.LogQuery("Search", map[string]interface{}{
		"index":    index,
		"hits":     len(resp.Hits.Hits),
		"duration": time.Since(start).String(),
	})
	return resp.result()
}

// Aggregations runs the facet query built from req.
func (s *Service) Aggregations(ctx context.Context, index string, req types.AggregationRequest) (json.RawMessage, error) {
	if len(req.Fields) == 0 && req.DateField == "" {
		return nil, core.Validation(core.ErrFieldsRequired)
	}

	body := map[string]any{
		"size":  0,
		"query": queryOrMatchAll(req.Query),
		"aggs":  BuildAggregations(req.Fields, req.DateField),
	}
	resp, err := s.search(ctx, index, body)
	if err != nil {
		return nil, err
	}
	if len(resp.Aggregations) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return resp.Aggregations, nil
}

func (s *Service) search(ctx context.Context, index string, body map[string]any) (*searchResponse, error) {
	c, err := s.clients.Active()
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, core.Internal(fmt.Errorf("encoding search body: %w", err))
	}

	var resp searchResponse
	if err := c.Do(ctx, esapi.SearchRequest{Index: []string{index}, Body: bytes.NewReader(data)}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (r *searchResponse) result() (types.SearchResult, error) {
	total, err := NormalizeTotal(r.Hits.Total)
	if err != nil {
		return types.SearchResult{}, core.Internal(err)
	}
	hits := r.Hits.Hits
	if hits == nil {
		hits = []types.Hit{}
	}
	return types.SearchResult{
		Total:        total,
		Took:         r.Took,
		TimedOut:     r.TimedOut,
		Hits:         hits,
		Aggregations: r.Aggregations,
	}, nil
}

func queryOrMatchAll(q json.RawMessage) any {
	if len(bytes.TrimSpace(q)) == 0 || string(bytes.TrimSpace(q)) == "null" {
		return map[string]any{"match_all": map[string]any{}}
	}
	return q
}

// NormalizeTotal reads hits.total in either form: a bare number or an
// object with a value field.
func NormalizeTotal(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var obj struct {
		Value int64 `json:"value"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return 0, fmt.Errorf("unrecognised hits.total %s", string(raw))
	}
	return obj.Value, nil
}
