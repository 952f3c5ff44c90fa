// Package performance reports runtime statistics and exposes Prometheus
// collectors for the console.
package performance

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "espal"

// Metrics holds performance and runtime statistics
type Metrics struct {
	// Go runtime
	HeapAlloc      uint64 `json:"heapAlloc"`      // Bytes allocated and in use
	HeapSys        uint64 `json:"heapSys"`        // Bytes obtained from system
	HeapIdle       uint64 `json:"heapIdle"`       // Bytes in idle spans
	HeapInuse      uint64 `json:"heapInuse"`      // Bytes in non-idle spans
	HeapReleased   uint64 `json:"heapReleased"`   // Bytes released to OS
	StackInuse     uint64 `json:"stackInuse"`     // Bytes in stack spans
	Goroutines     int    `json:"goroutines"`     // Number of goroutines
	NumGC          uint32 `json:"numGC"`          // Number of completed GC cycles
	LastGCPauseNs  uint64 `json:"lastGCPauseNs"`  // Duration of last GC pause in nanoseconds
	TotalAllocated uint64 `json:"totalAllocated"` // Total bytes allocated (cumulative)
	Sys            uint64 `json:"sys"`            // Total bytes obtained from system

	// Connection stats
	ActiveConnections int  `json:"activeConnections"` // Session client plus pooled clients
	PooledClients     int  `json:"pooledClients"`
	SessionConnected  bool `json:"sessionConnected"`

	// Uptime
	UptimeSeconds int64 `json:"uptimeSeconds"` // App uptime in seconds

	// Timestamp
	Timestamp string `json:"timestamp"` // When metrics were collected
}

// SessionStats is the view of the connection manager the collectors need.
type SessionStats interface {
	Connected() bool
	PoolSize() int
}

// Service provides performance metrics collection
type Service struct {
	stats     SessionStats
	startTime time.Time

	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	copiedDocuments prometheus.Counter
}

// NewService creates a metrics service with its own registry. stats may be
// nil, in which case connection figures read as zero.
func NewService(stats SessionStats) *Service {
	s := &Service{
		stats:     stats,
		startTime: time.Now(),
		registry:  prometheus.NewRegistry(),
	}

	s.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)
	s.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	s.copiedDocuments = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "copied_documents_total",
		Help:      "Documents written to target clusters by cross-cluster copy",
	})

	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		s.requestsTotal,
		s.requestDuration,
		s.copiedDocuments,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pooled_clients",
			Help:      "Number of cached cross-cluster clients",
		}, func() float64 {
			return float64(s.pooledClients())
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_connected",
			Help:      "1 when an active cluster session exists",
		}, func() float64 {
			if s.sessionConnected() {
				return 1
			}
			return 0
		}),
	)
	return s
}

// GetMetrics returns current performance metrics
func (s *Service) GetMetrics() *Metrics {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	// Get last GC pause duration
	var lastGCPause uint64
	if memStats.NumGC > 0 {
		// PauseNs is a circular buffer of recent GC pause times
		lastGCPause = memStats.PauseNs[(memStats.NumGC+255)%256]
	}

	pooled := s.pooledClients()
	connected := s.sessionConnected()
	active := pooled
	if connected {
		active++
	}

	return &Metrics{
		HeapAlloc:         memStats.HeapAlloc,
		HeapSys:           memStats.HeapSys,
		HeapIdle:          memStats.HeapIdle,
		HeapInuse:         memStats.HeapInuse,
		HeapReleased:      memStats.HeapReleased,
		StackInuse:        memStats.StackInuse,
		Goroutines:        runtime.NumGoroutine(),
		NumGC:             memStats.NumGC,
		LastGCPauseNs:     lastGCPause,
		TotalAllocated:    memStats.TotalAlloc,
		Sys:               memStats.Sys,
		ActiveConnections: active,
		PooledClients:     pooled,
		SessionConnected:  connected,
		UptimeSeconds:     int64(time.Since(s.startTime).Seconds()),
		Timestamp:         time.Now().Format(time.RFC3339),
	}
}

// ObserveRequest records one served HTTP request. route is the matched
// pattern, not the raw path, to keep label cardinality bounded.
func (s *Service) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	s.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	s.requestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// CopiedDocuments is the counter the transfer service increments.
func (s *Service) CopiedDocuments() prometheus.Counter {
	return s.copiedDocuments
}

// Registry exposes the registry for tests and extra collectors.
func (s *Service) Registry() *prometheus.Registry {
	return s.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (s *Service) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// ForceGC triggers a garbage collection (for debugging/testing)
func (s *Service) ForceGC() {
	runtime.GC()
}

func (s *Service) pooledClients() int {
	if s.stats == nil {
		return 0
	}
	return s.stats.PoolSize()
}

func (s *Service) sessionConnected() bool {
	return s.stats != nil && s.stats.Connected()
}
