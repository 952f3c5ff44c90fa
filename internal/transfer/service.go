// Package transfer copies documents between clusters using the active
// session and pooled clients.
package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/peternagy/espal/internal/core"
	"github.com/peternagy/espal/internal/debug"
	"github.com/peternagy/espal/internal/esclient"
	"github.com/peternagy/espal/internal/guard"
	"github.com/peternagy/espal/internal/index"
	"github.com/peternagy/espal/internal/types"
)

// readConcurrency bounds parallel source reads in a bulk copy.
const readConcurrency = 8

// ClientSource hands out the session client and pooled clients.
type ClientSource interface {
	Active() (*esclient.Client, error)
	Pooled(ctx context.Context, id int64) (*esclient.Client, bool)
}

// Service runs cross-cluster operations.
type Service struct {
	clients ClientSource
	copied  prometheus.Counter
}

// NewService creates a transfer service. copied, when non-nil, counts
// documents written to target clusters.
func NewService(clients ClientSource, copied prometheus.Counter) *Service {
	return &Service{clients: clients, copied: copied}
}

// ListIndices lists indices on a saved connection through the pool.
func (s *Service) ListIndices(ctx context.Context, connectionID int64) ([]types.IndexInfo, error) {
	c, err := s.pooled(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	return index.List(ctx, c)
}

// Mapping returns an index mapping from a saved connection.
func (s *Service) Mapping(ctx context.Context, connectionID int64, name string) (json.RawMessage, error) {
	c, err := s.pooled(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	return index.Mapping(ctx, c, name)
}

func (s *Service) pooled(ctx context.Context, id int64) (*esclient.Client, error) {
	c, ok := s.clients.Pooled(ctx, id)
	if !ok {
		return nil, core.ConnectionFailed(core.ErrConnectionFailed, fmt.Errorf("could not connect to connection %d", id))
	}
	return c, nil
}

// CopyDocument copies one document, keeping its id.
func (s *Service) CopyDocument(ctx context.Context, req types.CopyRequest) (types.CopyResult, error) {
	if strings.TrimSpace(req.DocumentID) == "" {
		return types.CopyResult{}, core.Validation(core.ErrDocumentIDRequired)
	}
	if strings.TrimSpace(req.SourceIndex) == "" || strings.TrimSpace(req.TargetIndex) == "" {
		return types.CopyResult{}, core.Validation(core.ErrIndexNameRequired)
	}

	op := newOperation("copy")
	src, dst, err := s.resolve(ctx, req.SourceConnectionID, req.TargetConnectionID)
	if err != nil {
		return types.CopyResult{}, err
	}
	if err := s.ensureTarget(ctx, src, dst, req.SourceIndex, req.TargetIndex, req.CreateIndex, req.CopyMapping); err != nil {
		return types.CopyResult{}, err
	}

	source, err := readSource(ctx, src, req.SourceIndex, req.DocumentID)
	if err != nil {
		return types.CopyResult{}, err
	}

	var res types.DocumentWriteResult
	err = dst.Do(ctx, esapi.IndexRequest{
		Index:      req.TargetIndex,
		DocumentID: req.DocumentID,
		Body:       bytes.NewReader(source),
		Refresh:    "true",
	}, &res)
	if err != nil {
		return types.CopyResult{}, err
	}
	s.count(1)

	op.done(map[string]interface{}{
		"sourceIndex": req.SourceIndex,
		"targetIndex": req.TargetIndex,
		"documentId":  req.DocumentID,
		"result":      res.Result,
	})
	return types.CopyResult{
		OperationID: op.id,
		Result:      res.Result,
		TargetIndex: req.TargetIndex,
		TargetID:    req.DocumentID,
	}, nil
}

// BulkCopy copies many documents into one target index. Each document
// succeeds or fails on its own; failures are listed, never fatal.
func (s *Service) BulkCopy(ctx context.Context, req types.BulkCopyRequest) (types.BulkCopyResult, error) {
	if len(req.Documents) == 0 {
		return types.BulkCopyResult{}, core.Validation(core.ErrDocumentsRequired)
	}
	// The first document's index supplies the target mapping.
	if strings.TrimSpace(req.Documents[0].Index) == "" || strings.TrimSpace(req.TargetIndex) == "" {
		return types.BulkCopyResult{}, core.Validation(core.ErrIndexNameRequired)
	}

	op := newOperation("bulk-copy")
	src, dst, err := s.resolve(ctx, req.SourceConnectionID, req.TargetConnectionID)
	if err != nil {
		return types.BulkCopyResult{}, err
	}
	// All documents are assumed to share the first one's mapping.
	if err := s.ensureTarget(ctx, src, dst, req.Documents[0].Index, req.TargetIndex, req.CreateIndex, req.CopyMapping); err != nil {
		return types.BulkCopyResult{}, err
	}

	sources, failures := readAll(ctx, src, req.Documents)

	var buf bytes.Buffer
	var batch []types.DocumentRef
	for i, ref := range req.Documents {
		if sources[i] == nil {
			continue
		}
		action, err := json.Marshal(map[string]any{
			"index": map[string]string{"_index": req.TargetIndex, "_id": ref.ID},
		})
		if err != nil {
			return types.BulkCopyResult{}, core.Internal(err)
		}
		buf.Write(action)
		buf.WriteByte('\n')
		buf.Write(compact(sources[i]))
		buf.WriteByte('\n')
		batch = append(batch, ref)
	}

	copied := 0
	if len(batch) > 0 {
		rejected, err := writeBatch(ctx, dst, &buf, batch)
		if err != nil {
			return types.BulkCopyResult{}, err
		}
		failures = append(failures, rejected...)
		copied = len(batch) - len(rejected)
	}
	s.count(copied)

	if failures == nil {
		failures = []types.CopyFailure{}
	}
	op.done(map[string]interface{}{
		"targetIndex": req.TargetIndex,
		"requested":   len(req.Documents),
		"copied":      copied,
		"errors":      len(failures),
	})
	return types.BulkCopyResult{
		OperationID: op.id,
		Copied:      copied,
		Errors:      len(failures),
		Failures:    failures,
	}, nil
}

// resolve obtains the source client (pooled by id, or the active session
// when id is nil) and the pooled target client.
func (s *Service) resolve(ctx context.Context, sourceID *int64, targetID int64) (src, dst *esclient.Client, err error) {
	if sourceID == nil {
		src, err = s.clients.Active()
		if err != nil {
			return nil, nil, core.Precondition(core.ErrSourceConnectionNotFound, "no active connection")
		}
	} else {
		var ok bool
		if src, ok = s.clients.Pooled(ctx, *sourceID); !ok {
			return nil, nil, core.Precondition(core.ErrSourceConnectionNotFound, fmt.Sprintf("connection %d", *sourceID))
		}
	}

	dst, ok := s.clients.Pooled(ctx, targetID)
	if !ok {
		return nil, nil, core.Precondition(core.ErrTargetConnectionFailed, fmt.Sprintf("connection %d", targetID))
	}
	return src, dst, nil
}

// ensureTarget makes sure the target index exists, creating it when asked.
func (s *Service) ensureTarget(ctx context.Context, src, dst *esclient.Client, sourceIndex, targetIndex string, create, copyMapping bool) error {
	exists, err := index.Exists(ctx, dst, targetIndex)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if !create {
		return core.Precondition(core.ErrTargetIndexNotFound, targetIndex)
	}
	if err := guard.ValidateIndexName(targetIndex); err != nil {
		return err
	}

	var mappings json.RawMessage
	if copyMapping {
		raw, err := index.Mapping(ctx, src, sourceIndex)
		if err != nil {
			return err
		}
		if mappings, err = firstMappings(raw); err != nil {
			return core.Internal(err)
		}
	}

	debug.LogTransfer("Creating target index", map[string]interface{}{
		"targetIndex": targetIndex,
		"withMapping": len(mappings) > 0,
	})
	return index.CreateWithMappings(ctx, dst, targetIndex, mappings)
}

// firstMappings pulls the mappings object out of a get-mapping response.
// The response is keyed by concrete index name, which differs from the
// requested name when an alias was given. With several indices the first
// name in sort order wins.
func firstMappings(raw json.RawMessage) (json.RawMessage, error) {
	var byIndex map[string]struct {
		Mappings json.RawMessage `json:"mappings"`
	}
	if err := json.Unmarshal(raw, &byIndex); err != nil {
		return nil, fmt.Errorf("decoding mapping: %w", err)
	}
	names := make([]string, 0, len(byIndex))
	for name := range byIndex {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if m := byIndex[name]; len(m.Mappings) > 0 && string(m.Mappings) != "null" {
			return m.Mappings, nil
		}
	}
	return nil, nil
}

func readSource(ctx context.Context, c *esclient.Client, indexName, id string) (json.RawMessage, error) {
	var doc struct {
		Found  bool            `json:"found"`
		Source json.RawMessage `json:"_source"`
	}
	if err := c.Do(ctx, esapi.GetRequest{Index: indexName, DocumentID: id}, &doc); err != nil {
		return nil, err
	}
	if !doc.Found || len(doc.Source) == 0 {
		return nil, core.Upstream(http.StatusNotFound, nil, fmt.Errorf("document %s/%s not found", indexName, id))
	}
	return doc.Source, nil
}

// readAll fetches every source document concurrently. sources[i] is nil
// when refs[i] could not be read. Failures keep request order.
func readAll(ctx context.Context, c *esclient.Client, refs []types.DocumentRef) ([]json.RawMessage, []types.CopyFailure) {
	sources := make([]json.RawMessage, len(refs))
	reasons := make([]string, len(refs))

	var g errgroup.Group
	g.SetLimit(readConcurrency)
	for i, ref := range refs {
		g.Go(func() error {
			if strings.TrimSpace(ref.ID) == "" || strings.TrimSpace(ref.Index) == "" {
				reasons[i] = "document reference incomplete"
				return nil
			}
			source, err := readSource(ctx, c, ref.Index, ref.ID)
			if err != nil {
				reasons[i] = failureReason(err)
				return nil
			}
			sources[i] = source
			return nil
		})
	}
	_ = g.Wait()

	var failures []types.CopyFailure
	for i, reason := range reasons {
		if reason != "" {
			failures = append(failures, types.CopyFailure{Index: refs[i].Index, ID: refs[i].ID, Reason: reason})
		}
	}
	return sources, failures
}

type bulkItem struct {
	ID     string `json:"_id"`
	Index  string `json:"_index"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

// writeBatch submits the NDJSON batch and returns the items the target
// rejected.
func writeBatch(ctx context.Context, c *esclient.Client, body *bytes.Buffer, batch []types.DocumentRef) ([]types.CopyFailure, error) {
	var res struct {
		Errors bool                  `json:"errors"`
		Items  []map[string]bulkItem `json:"items"`
	}
	if err := c.Do(ctx, esapi.BulkRequest{Body: body, Refresh: "true"}, &res); err != nil {
		return nil, err
	}
	if !res.Errors {
		return nil, nil
	}

	var rejected []types.CopyFailure
	for i, entry := range res.Items {
		for _, item := range entry {
			if item.Error == nil {
				continue
			}
			f := types.CopyFailure{Index: item.Index, ID: item.ID, Reason: item.Error.Reason}
			if i < len(batch) {
				f.Index, f.ID = batch[i].Index, batch[i].ID
			}
			if f.Reason == "" {
				f.Reason = item.Error.Type
			}
			rejected = append(rejected, f)
		}
	}
	return rejected, nil
}

func failureReason(err error) string {
	e, ok := core.As(err)
	if !ok {
		return err.Error()
	}
	if e.Status == http.StatusNotFound {
		return "document not found"
	}
	if e.Details != "" {
		return e.Details
	}
	return string(e.Code)
}

// compact puts a source document on a single line for the NDJSON body.
func compact(source json.RawMessage) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, source); err != nil {
		return source
	}
	return buf.Bytes()
}

func (s *Service) count(n int) {
	if s.copied != nil && n > 0 {
		s.copied.Add(float64(n))
	}
}

type operation struct {
	id    string
	kind  string
	start time.Time
}

func newOperation(kind string) operation {
	op := operation{id: uuid.NewString(), kind: kind, start: time.Now()}
	debug.LogTransfer("Transfer started", map[string]interface{}{
		"operationId": op.id,
		"kind":        kind,
	})
	return op
}

func (op operation) done(details map[string]interface{}) {
	details["operationId"] = op.id
	details["kind"] = op.kind
	details["duration"] = time.Since(op.start).String()
	debug.LogTransfer("Transfer finished", details)
}
