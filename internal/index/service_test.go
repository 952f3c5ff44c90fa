package index

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/peternagy/espal/internal/core"
	"github.com/peternagy/espal/internal/esclient"
	"github.com/peternagy/espal/internal/testutil/fakees"
	"github.com/peternagy/espal/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticClient struct {
	c *esclient.Client
}

func (s staticClient) Active() (*esclient.Client, error) {
	if s.c == nil {
		return nil, core.NoConnection()
	}
	return s.c, nil
}

func setup(t *testing.T) (*Service, *fakees.Server) {
	t.Helper()
	es := fakees.New(t)
	c, err := esclient.New(types.Credentials{URL: es.URL}, esclient.DefaultOptions())
	require.NoError(t, err)
	return NewService(staticClient{c: c}), es
}

func TestList_Enriched(t *testing.T) {
	svc, es := setup(t)
	es.AddIndex("logs-b", "")
	es.AddIndex("logs-a", "")
	es.AddDocument("logs-a", "1", `{}`)
	es.AddAlias("logs-a", "current")
	es.AddAlias("logs-a", "all-logs")

	list, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, "logs-a", list[0].Name)
	assert.Equal(t, "1", list[0].DocsCount)
	assert.Equal(t, []string{"all-logs", "current"}, list[0].Aliases)
	assert.Equal(t, "1700000000000", list[0].CreationDate)

	assert.Equal(t, "logs-b", list[1].Name)
	assert.Empty(t, list[1].Aliases)
	assert.NotNil(t, list[1].Aliases)
}

func TestList_NoConnection(t *testing.T) {
	svc := NewService(staticClient{})
	_, err := svc.List(context.Background())
	assert.True(t, core.Is(err, core.ErrNoESConnection))
}

func TestCreate_StripsImmutableSettings(t *testing.T) {
	svc, es := setup(t)

	_, err := svc.Create(context.Background(), types.CreateIndexRequest{
		Name: "copy-of-logs",
		Settings: map[string]any{
			"index": map[string]any{
				"uuid":               "abc",
				"creation_date":      "1700000000000",
				"provided_name":      "logs",
				"number_of_shards":   "1",
				"version":            map[string]any{"created": "8110199"},
				"number_of_replicas": "0",
			},
			"index.routing.allocation.include._tier_preference": "data_content",
		},
		Mappings: map[string]any{"properties": map[string]any{"msg": map[string]any{"type": "text"}}},
	})
	require.NoError(t, err)
	require.True(t, es.HasIndex("copy-of-logs"))

	settings := es.Settings("copy-of-logs")
	indexSettings, ok := settings["index"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"number_of_shards": "1", "number_of_replicas": "0"}, indexSettings)
	assert.NotContains(t, settings, "index.routing.allocation.include._tier_preference")
	assert.JSONEq(t, `{"properties":{"msg":{"type":"text"}}}`, string(es.Mapping("copy-of-logs")))
}

func TestCreate_ValidatesBeforeNetwork(t *testing.T) {
	svc, es := setup(t)

	_, err := svc.Create(context.Background(), types.CreateIndexRequest{Name: "My-Index"})
	assert.True(t, core.Is(err, core.ErrIndexNameLowercase))
	assert.Empty(t, es.Requests())
}

func TestCreate_AlreadyExists(t *testing.T) {
	svc, es := setup(t)
	es.AddIndex("logs", "")

	_, err := svc.Create(context.Background(), types.CreateIndexRequest{Name: "logs"})
	e, ok := core.As(err)
	require.True(t, ok)
	assert.Equal(t, core.ErrESRequestFailed, e.Code)
	assert.Equal(t, http.StatusBadRequest, e.Status)
}

func TestDeleteOpenClose(t *testing.T) {
	svc, es := setup(t)
	es.AddIndex("logs", "")
	ctx := context.Background()

	_, err := svc.Close(ctx, "logs")
	require.NoError(t, err)
	assert.True(t, es.IsClosed("logs"))

	_, err = svc.Open(ctx, "logs")
	require.NoError(t, err)
	assert.False(t, es.IsClosed("logs"))

	_, err = svc.Delete(ctx, "logs")
	require.NoError(t, err)
	assert.False(t, es.HasIndex("logs"))

	_, err = svc.Delete(ctx, "*")
	assert.True(t, core.Is(err, core.ErrIndexNameInvalidChars))
}

func TestMappingSettingsStats(t *testing.T) {
	svc, es := setup(t)
	es.AddIndex("logs", `{"properties":{"ts":{"type":"date"}}}`)
	ctx := context.Background()

	mapping, err := svc.Mapping(ctx, "logs")
	require.NoError(t, err)
	var m map[string]struct {
		Mappings json.RawMessage `json:"mappings"`
	}
	require.NoError(t, json.Unmarshal(mapping, &m))
	assert.JSONEq(t, `{"properties":{"ts":{"type":"date"}}}`, string(m["logs"].Mappings))

	_, err = svc.Settings(ctx, "logs")
	require.NoError(t, err)
	_, err = svc.Stats(ctx, "logs")
	require.NoError(t, err)

	_, err = svc.Mapping(ctx, "missing")
	e, ok := core.As(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, e.Status)
}

func TestAliases(t *testing.T) {
	svc, es := setup(t)
	es.AddIndex("logs", "")
	ctx := context.Background()

	_, err := svc.AddAlias(ctx, "logs", "Current")
	require.NoError(t, err)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Current"}, list[0].Aliases)

	_, err = svc.RemoveAlias(ctx, "logs", "Current")
	require.NoError(t, err)

	_, err = svc.AddAlias(ctx, "logs", "bad alias")
	assert.True(t, core.Is(err, core.ErrAliasNameInvalidChars))
}

func TestStripImmutableSettings(t *testing.T) {
	in := map[string]any{
		"index.uuid":             "x",
		"index.version.created":  "1",
		"index.number_of_shards": "3",
		"creation_date":          "1",
		"resize":                 map[string]any{},
		"settings": map[string]any{
			"index": map[string]any{"provided_name": "a", "refresh_interval": "1s"},
		},
	}

	out := StripImmutableSettings(in)
	assert.Equal(t, map[string]any{
		"index.number_of_shards": "3",
		"settings": map[string]any{
			"index": map[string]any{"refresh_interval": "1s"},
		},
	}, out)
	assert.Contains(t, in, "index.uuid")
}
