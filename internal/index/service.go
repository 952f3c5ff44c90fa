// Package index manages index lifecycle and aliases on the active session.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/peternagy/espal/internal/debug"
	"github.com/peternagy/espal/internal/esclient"
	"github.com/peternagy/espal/internal/guard"
	"github.com/peternagy/espal/internal/types"
)

// ActiveClient yields the session client.
type ActiveClient interface {
	Active() (*esclient.Client, error)
}

// Service handles index operations.
type Service struct {
	clients ActiveClient
}

// NewService creates a new index service.
func NewService(clients ActiveClient) *Service {
	return &Service{clients: clients}
}

// List returns every index enriched with aliases and creation date.
func (s *Service) List(ctx context.Context) ([]types.IndexInfo, error) {
	c, err := s.clients.Active()
	if err != nil {
		return nil, err
	}
	indices, err := List(ctx, c)
	if err != nil {
		return nil, err
	}
	enrich(ctx, c, indices)
	return indices, nil
}

// Create validates the name and creates the index. Server-assigned settings
// are stripped before submission.
func (s *Service) Create(ctx context.Context, req types.CreateIndexRequest) (json.RawMessage, error) {
	if err := guard.ValidateIndexName(req.Name); err != nil {
		return nil, err
	}
	c, err := s.clients.Active()
	if err != nil {
		return nil, err
	}

	body := map[string]any{}
	if len(req.Settings) > 0 {
		body["settings"] = StripImmutableSettings(req.Settings)
	}
	if len(req.Mappings) > 0 {
		body["mappings"] = req.Mappings
	}
	if len(req.Aliases) > 0 {
		body["aliases"] = req.Aliases
	}

	out, err := create(ctx, c, req.Name, body)
	if err != nil {
		return nil, err
	}
	debug.Log(debug.CategoryQuery, "Index created", map[string]interface{}{"index": req.Name})
	return out, nil
}

// Delete removes an index.
func (s *Service) Delete(ctx context.Context, name string) (json.RawMessage, error) {
	return s.named(ctx, name, esapi.IndicesDeleteRequest{Index: []string{name}})
}

// Open opens a closed index.
func (s *Service) Open(ctx context.Context, name string) (json.RawMessage, error) {
	return s.named(ctx, name, esapi.IndicesOpenRequest{Index: []string{name}})
}

// Close closes an index.
func (s *Service) Close(ctx context.Context, name string) (json.RawMessage, error) {
	return s.named(ctx, name, esapi.IndicesCloseRequest{Index: []string{name}})
}

// Mapping returns the mapping response for an index.
func (s *Service) Mapping(ctx context.Context, name string) (json.RawMessage, error) {
	c, err := s.clients.Active()
	if err != nil {
		return nil, err
	}
	return Mapping(ctx, c, name)
}

// Settings returns the settings response for an index.
func (s *Service) Settings(ctx context.Context, name string) (json.RawMessage, error) {
	return s.read(ctx, esapi.IndicesGetSettingsRequest{Index: []string{name}})
}

// Stats returns index statistics.
func (s *Service) Stats(ctx context.Context, name string) (json.RawMessage, error) {
	return s.read(ctx, esapi.IndicesStatsRequest{Index: []string{name}})
}

// AddAlias points alias at an index.
func (s *Service) AddAlias(ctx context.Context, name, alias string) (json.RawMessage, error) {
	if err := guard.ValidateAliasName(alias); err != nil {
		return nil, err
	}
	return s.read(ctx, esapi.IndicesPutAliasRequest{Index: []string{name}, Name: alias})
}

// RemoveAlias detaches alias from an index.
func (s *Service) RemoveAlias(ctx context.Context, name, alias string) (json.RawMessage, error) {
	if err := guard.ValidateAliasName(alias); err != nil {
		return nil, err
	}
	return s.read(ctx, esapi.IndicesDeleteAliasRequest{Index: []string{name}, Name: []string{alias}})
}

// named validates the index name before running a write request.
func (s *Service) named(ctx context.Context, name string, req esapi.Request) (json.RawMessage, error) {
	if err := guard.ValidateIndexName(name); err != nil {
		return nil, err
	}
	return s.read(ctx, req)
}

func (s *Service) read(ctx context.Context, req esapi.Request) (json.RawMessage, error) {
	c, err := s.clients.Active()
	if err != nil {
		return nil, err
	}
	var out json.RawMessage
	if err := c.Do(ctx, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// catRow is one row of _cat/indices in JSON form.
type catRow struct {
	Health       string `json:"health"`
	Status       string `json:"status"`
	Index        string `json:"index"`
	UUID         string `json:"uuid"`
	Pri          string `json:"pri"`
	Rep          string `json:"rep"`
	DocsCount    string `json:"docs.count"`
	DocsDeleted  string `json:"docs.deleted"`
	StoreSize    string `json:"store.size"`
	PriStoreSize string `json:"pri.store.size"`
}

// List reads _cat/indices from any client, sorted by name. Used for the
// active session and for pooled cross-cluster clients alike.
func List(ctx context.Context, c *esclient.Client) ([]types.IndexInfo, error) {
	var rows []catRow
	if err := c.Do(ctx, esapi.CatIndicesRequest{Format: "json"}, &rows); err != nil {
		return nil, err
	}

	indices := make([]types.IndexInfo, 0, len(rows))
	for _, r := range rows {
		indices = append(indices, types.IndexInfo{
			Name:         r.Index,
			Health:       r.Health,
			Status:       r.Status,
			UUID:         r.UUID,
			Primaries:    r.Pri,
			Replicas:     r.Rep,
			DocsCount:    r.DocsCount,
			DocsDeleted:  r.DocsDeleted,
			StoreSize:    r.StoreSize,
			PriStoreSize: r.PriStoreSize,
			Aliases:      []string{},
		})
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i].Name < indices[j].Name })
	return indices, nil
}

// Mapping returns the raw mapping response of an index from any client.
func Mapping(ctx context.Context, c *esclient.Client, name string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.Do(ctx, esapi.IndicesGetMappingRequest{Index: []string{name}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Exists reports whether an index exists on the given client.
func Exists(ctx context.Context, c *esclient.Client, name string) (bool, error) {
	return c.Exists(ctx, esapi.IndicesExistsRequest{Index: []string{name}})
}

// CreateWithMappings creates an index carrying only a mapping, or bare when
// mappings is nil.
func CreateWithMappings(ctx context.Context, c *esclient.Client, name string, mappings json.RawMessage) error {
	body := map[string]any{}
	if len(mappings) > 0 {
		body["mappings"] = mappings
	}
	_, err := create(ctx, c, name, body)
	return err
}

func create(ctx context.Context, c *esclient.Client, name string, body map[string]any) (json.RawMessage, error) {
	req := esapi.IndicesCreateRequest{Index: name}
	if len(body) > 0 {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding index body: %w", err)
		}
		req.Body = bytes.NewReader(data)
	}

	var out json.RawMessage
	if err := c.Do(ctx, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// enrich joins alias membership and creation dates into the listing. The
// listing is still useful without them, so failures are logged and skipped.
func enrich(ctx context.Context, c *esclient.Client, indices []types.IndexInfo) {
	var aliases map[string]struct {
		Aliases map[string]json.RawMessage `json:"aliases"`
	}
	if err := c.Do(ctx, esapi.IndicesGetAliasRequest{}, &aliases); err != nil {
		debug.Warn(debug.CategoryQuery, "Alias lookup failed", map[string]interface{}{"error": err.Error()})
	}

	var settings map[string]struct {
		Settings struct {
			Index struct {
				CreationDate string `json:"creation_date"`
			} `json:"index"`
		} `json:"settings"`
	}
	if err := c.Do(ctx, esapi.IndicesGetSettingsRequest{Name: []string{"index.creation_date"}}, &settings); err != nil {
		debug.Warn(debug.CategoryQuery, "Settings lookup failed", map[string]interface{}{"error": err.Error()})
	}

	for i := range indices {
		name := indices[i].Name
		if a, ok := aliases[name]; ok {
			for alias := range a.Aliases {
				indices[i].Aliases = append(indices[i].Aliases, alias)
			}
			sort.Strings(indices[i].Aliases)
		}
		if s, ok := settings[name]; ok {
			indices[i].CreationDate = s.Settings.Index.CreationDate
		}
	}
}
