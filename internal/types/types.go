// Package types contains shared type definitions used across the espal application.
package types

import (
	"bytes"
	"encoding/json"
	"time"
)

// PasswordMask replaces a stored password in every API response.
const PasswordMask = "********"

// =============================================================================
// Connection Types
// =============================================================================

// ConnectionProfile represents a saved Elasticsearch endpoint.
// Password holds the stored token (ciphertext or legacy plaintext), never a
// value fit for display; use Masked before handing a profile to a caller.
type ConnectionProfile struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Username  string    `json:"username,omitempty"`
	Password  string    `json:"password,omitempty"`
	Color     string    `json:"color,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Masked returns a copy of the profile with the password replaced by PasswordMask.
func (p ConnectionProfile) Masked() ConnectionProfile {
	if p.Password != "" {
		p.Password = PasswordMask
	}
	return p
}

// ConnectionInput is the payload for creating a connection profile.
type ConnectionInput struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Color    string `json:"color,omitempty"`
}

// ConnectionPatch is a partial update. Nil fields keep the stored value.
// Password is tri-state: omitted keeps, empty or null clears, anything else replaces.
type ConnectionPatch struct {
	Name     *string        `json:"name,omitempty"`
	URL      *string        `json:"url,omitempty"`
	Username *string        `json:"username,omitempty"`
	Password OptionalString `json:"password"`
	Color    *string        `json:"color,omitempty"`
}

// OptionalString distinguishes an omitted JSON field from an explicit value.
// A JSON null sets the field with an empty value.
type OptionalString struct {
	Set   bool
	Value string
}

// Some returns a set OptionalString holding v.
func Some(v string) OptionalString {
	return OptionalString{Set: true, Value: v}
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *OptionalString) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = ""
		return nil
	}
	return json.Unmarshal(data, &o.Value)
}

// MarshalJSON implements json.Marshaler.
func (o OptionalString) MarshalJSON() ([]byte, error) {
	if !o.Set {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// Credentials are the resolved, plaintext values needed to build a client.
type Credentials struct {
	ID       *int64 `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	Color    string `json:"color,omitempty"`
	URL      string `json:"url"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// ActiveSession describes the cluster the operator is currently connected to.
// ID is nil for ad-hoc connections that were never saved.
type ActiveSession struct {
	ID        *int64 `json:"id"`
	URL       string `json:"url"`
	Connected bool   `json:"connected"`
	Name      string `json:"name"`
	Color     string `json:"color"`
}

// ConnectRequest selects either a saved profile (ID) or ad-hoc credentials.
type ConnectRequest struct {
	ID       *int64 `json:"id,omitempty"`
	URL      string `json:"url,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Name     string `json:"name,omitempty"`
	Color    string `json:"color,omitempty"`
}

// PooledClientInfo describes one cached cross-cluster client.
type PooledClientInfo struct {
	ConnectionID int64     `json:"connectionId"`
	URL          string    `json:"url"`
	LastUsedAt   time.Time `json:"lastUsedAt"`
}

// =============================================================================
// Saved Query Types
// =============================================================================

// SavedQuery is a named, reusable REST call template.
type SavedQuery struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Body      string    `json:"body,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SavedQueryInput is the payload for creating a saved query.
type SavedQueryInput struct {
	Name   string `json:"name"`
	Method string `json:"method"`
	Path   string `json:"path"`
	Body   string `json:"body,omitempty"`
}

// SavedQueryPatch is a partial update of a saved query.
type SavedQueryPatch struct {
	Name   *string        `json:"name,omitempty"`
	Method *string        `json:"method,omitempty"`
	Path   *string        `json:"path,omitempty"`
	Body   OptionalString `json:"body"`
}

// =============================================================================
// Index Types
// =============================================================================

// IndexInfo is one row of the enriched index listing.
type IndexInfo struct {
	Name         string   `json:"index"`
	Health       string   `json:"health"`
	Status       string   `json:"status"`
	UUID         string   `json:"uuid"`
	Primaries    string   `json:"pri"`
	Replicas     string   `json:"rep"`
	DocsCount    string   `json:"docsCount"`
	DocsDeleted  string   `json:"docsDeleted"`
	StoreSize    string   `json:"storeSize"`
	PriStoreSize string   `json:"priStoreSize"`
	Aliases      []string `json:"aliases"`
	CreationDate string   `json:"creationDate,omitempty"`
}

// CreateIndexRequest is the payload for creating an index.
type CreateIndexRequest struct {
	Name     string         `json:"name"`
	Settings map[string]any `json:"settings,omitempty"`
	Mappings map[string]any `json:"mappings,omitempty"`
	Aliases  map[string]any `json:"aliases,omitempty"`
}

// AliasRequest names an alias to attach to an index.
type AliasRequest struct {
	Alias string `json:"alias"`
}

// =============================================================================
// Node Types
// =============================================================================

// NodeSummary is one row of the tabular node overview.
type NodeSummary struct {
	Name        string `json:"name"`
	IP          string `json:"ip"`
	Roles       string `json:"roles"`
	Master      bool   `json:"master"`
	HeapPercent string `json:"heapPercent"`
	RAMPercent  string `json:"ramPercent"`
	CPU         string `json:"cpu"`
	Load1m      string `json:"load1m"`
	DiskUsed    string `json:"diskUsedPercent"`
	Version     string `json:"version"`
}

// =============================================================================
// Query Types
// =============================================================================

// SearchRequest drives the free-form search endpoint.
type SearchRequest struct {
	Query json.RawMessage `json:"query,omitempty"`
	From  int             `json:"from"`
	Size  int             `json:"size"`
	Sort  json.RawMessage `json:"sort,omitempty"`
}

// SearchResult is a search response with the hit total normalized to an integer.
type SearchResult struct {
	Total        int64           `json:"total"`
	Took         int             `json:"took"`
	TimedOut     bool            `json:"timedOut"`
	Hits         []Hit           `json:"hits"`
	Aggregations json.RawMessage `json:"aggregations,omitempty"`
}

// Hit is a single search hit.
type Hit struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Score  *float64        `json:"_score"`
	Source json.RawMessage `json:"_source"`
	Sort   []any           `json:"sort,omitempty"`
}

// AggregationRequest asks for quick-filter facets on an index.
type AggregationRequest struct {
	Fields    []string        `json:"fields"`
	DateField string          `json:"dateField,omitempty"`
	Query     json.RawMessage `json:"query,omitempty"`
}

// DocumentWriteResult is the upstream acknowledgement of a document write.
type DocumentWriteResult struct {
	Index   string `json:"_index"`
	ID      string `json:"_id"`
	Version int64  `json:"_version"`
	Result  string `json:"result"`
}

// RestRequest is a raw call forwarded to the active cluster.
type RestRequest struct {
	Method string          `json:"method"`
	Path   string          `json:"path"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// =============================================================================
// Cross-Cluster Copy Types
// =============================================================================

// CopyRequest copies one document between clusters. A nil SourceConnectionID
// means the active session.
type CopyRequest struct {
	SourceConnectionID *int64 `json:"sourceConnectionId,omitempty"`
	SourceIndex        string `json:"sourceIndex"`
	DocumentID         string `json:"documentId"`
	TargetConnectionID int64  `json:"targetConnectionId"`
	TargetIndex        string `json:"targetIndex"`
	CreateIndex        bool   `json:"createIndex"`
	CopyMapping        bool   `json:"copyMapping"`
}

// CopyResult reports a single-document copy.
type CopyResult struct {
	OperationID string `json:"operationId"`
	Result      string `json:"result"`
	TargetIndex string `json:"targetIndex"`
	TargetID    string `json:"targetId"`
}

// DocumentRef points at one source document.
type DocumentRef struct {
	Index string `json:"index"`
	ID    string `json:"id"`
}

// BulkCopyRequest copies many documents into one target index.
type BulkCopyRequest struct {
	SourceConnectionID *int64        `json:"sourceConnectionId,omitempty"`
	Documents          []DocumentRef `json:"documents"`
	TargetConnectionID int64         `json:"targetConnectionId"`
	TargetIndex        string        `json:"targetIndex"`
	CreateIndex        bool          `json:"createIndex"`
	CopyMapping        bool          `json:"copyMapping"`
}

// CopyFailure names a document that could not be copied.
type CopyFailure struct {
	Index  string `json:"index"`
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// BulkCopyResult counts successes and failures of a bulk copy.
type BulkCopyResult struct {
	OperationID string        `json:"operationId"`
	Copied      int           `json:"copied"`
	Errors      int           `json:"errors"`
	Failures    []CopyFailure `json:"failures"`
}
