// Package cluster serves read-only cluster, node and task introspection
// against the active session.
package cluster

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/peternagy/espal/internal/core"
	"github.com/peternagy/espal/internal/esclient"
	"github.com/peternagy/espal/internal/types"
)

// ActiveClient yields the session client.
type ActiveClient interface {
	Active() (*esclient.Client, error)
}

// Service handles cluster operations.
type Service struct {
	clients ActiveClient
}

// NewService creates a new cluster service.
func NewService(clients ActiveClient) *Service {
	return &Service{clients: clients}
}

func (s *Service) raw(ctx context.Context, req esapi.Request) (json.RawMessage, error) {
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

// Health returns cluster health.
func (s *Service) Health(ctx context.Context) (json.RawMessage, error) {
	return s.raw(ctx, esapi.ClusterHealthRequest{})
}

// Info returns the root endpoint document: name, version, tagline.
func (s *Service) Info(ctx context.Context) (json.RawMessage, error) {
	return s.raw(ctx, esapi.InfoRequest{})
}

// Stats returns cluster-wide statistics.
func (s *Service) Stats(ctx context.Context) (json.RawMessage, error) {
	return s.raw(ctx, esapi.ClusterStatsRequest{})
}

// PendingTasks returns queued cluster-state updates.
func (s *Service) PendingTasks(ctx context.Context) (json.RawMessage, error) {
	return s.raw(ctx, esapi.ClusterPendingTasksRequest{})
}

// NodeStats returns node statistics, optionally narrowed to metric groups.
func (s *Service) NodeStats(ctx context.Context, metrics []string) (json.RawMessage, error) {
	return s.raw(ctx, esapi.NodesStatsRequest{Metric: metrics})
}

// NodeInfo returns node information, optionally narrowed to metric groups.
func (s *Service) NodeInfo(ctx context.Context, metrics []string) (json.RawMessage, error) {
	return s.raw(ctx, esapi.NodesInfoRequest{Metric: metrics})
}

// Breakers returns circuit breaker statistics per node.
func (s *Service) Breakers(ctx context.Context) (json.RawMessage, error) {
	return s.NodeStats(ctx, []string{"breaker"})
}

// ThreadPools returns thread pool statistics per node.
func (s *Service) ThreadPools(ctx context.Context) (json.RawMessage, error) {
	return s.NodeStats(ctx, []string{"thread_pool"})
}

// HotThreads returns the plain-text hot threads report.
func (s *Service) HotThreads(ctx context.Context) (string, error) {
	out, err := s.raw(ctx, esapi.NodesHotThreadsRequest{})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

var nodeColumns = []string{
	"name", "ip", "node.role", "master", "heap.percent", "ram.percent",
	"cpu", "load_1m", "disk.used_percent", "version",
}

// NodeSummary returns one row per node.
func (s *Service) NodeSummary(ctx context.Context) ([]types.NodeSummary, error) {
	c, err := s.clients.Active()
	if err != nil {
		return nil, err
	}

	var rows []map[string]string
	if err := c.Do(ctx, esapi.CatNodesRequest{Format: "json", H: nodeColumns}, &rows); err != nil {
		return nil, err
	}

	nodes := make([]types.NodeSummary, 0, len(rows))
	for _, r := range rows {
		nodes = append(nodes, types.NodeSummary{
			Name:        r["name"],
			IP:          r["ip"],
			Roles:       r["node.role"],
			Master:      r["master"] == "*",
			HeapPercent: r["heap.percent"],
			RAMPercent:  r["ram.percent"],
			CPU:         r["cpu"],
			Load1m:      r["load_1m"],
			DiskUsed:    r["disk.used_percent"],
			Version:     r["version"],
		})
	}
	return nodes, nil
}

// Tasks lists running tasks grouped by parent.
func (s *Service) Tasks(ctx context.Context) (json.RawMessage, error) {
	detailed := true
	return s.raw(ctx, esapi.TasksListRequest{Detailed: &detailed, GroupBy: "parents"})
}

// CancelTask cancels a task by its node:id identifier.
func (s *Service) CancelTask(ctx context.Context, taskID string) (json.RawMessage, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, core.Validation(core.ErrTaskIDRequired)
	}
	return s.raw(ctx, esapi.TasksCancelRequest{TaskID: taskID})
}
