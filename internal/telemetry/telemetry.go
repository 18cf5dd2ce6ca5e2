// Package telemetry implements the instrumentation hook a cloud storage
// environment calls on every object-store and log-stream request,
// exporting them as Prometheus metrics.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config controls whether telemetry runs and where its HTTP endpoint lives.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// DefaultConfig returns a disabled-by-default config; callers opt in
// explicitly since most embedders of a storage engine don't want a metrics
// HTTP server spun up for them.
func DefaultConfig() Config {
	return Config{
		Enabled:   false,
		Addr:      ":9190",
		Path:      "/metrics",
		Namespace: "cloudenv",
	}
}

// Collector is the request_callback/statistics hook cloudenv threads
// through objectstore and logstream.
type Collector struct {
	cfg Config

	registry *prometheus.Registry
	server   *http.Server

	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	bytesTransferred *prometheus.CounterVec
	cacheEvents    *prometheus.CounterVec
	queueDepth     *prometheus.GaugeVec
	breakerState   *prometheus.GaugeVec
}

// NewCollector builds and registers all metrics. When cfg.Enabled is false
// it still returns a usable no-op-safe Collector whose Record* methods are
// cheap prometheus no-op writes into an unregistered, unexposed registry.
func NewCollector(cfg Config) (*Collector, error) {
	if cfg.Addr == "" {
		cfg.Addr = DefaultConfig().Addr
	}
	if cfg.Path == "" {
		cfg.Path = DefaultConfig().Path
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultConfig().Namespace
	}

	registry := prometheus.NewRegistry()
	c := &Collector{
		cfg:      cfg,
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "requests_total",
			Help:      "Cloud backend requests by component, operation, and outcome.",
		}, []string{"component", "operation", "outcome"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "request_duration_seconds",
			Help:      "Cloud backend request latency by component and operation.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 18),
		}, []string{"component", "operation"}),
		bytesTransferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "bytes_transferred_total",
			Help:      "Bytes moved to or from the cloud backend by component and direction.",
		}, []string{"component", "direction"}),
		cacheEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "local_cache_events_total",
			Help:      "Local disk cache hits and misses by component.",
		}, []string{"component", "result"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "queue_depth",
			Help:      "Current depth of internal work queues (e.g. the deletion queue).",
		}, []string{"queue"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "circuit_breaker_state",
			Help:      "0=closed 1=open 2=half-open, by breaker name.",
		}, []string{"breaker"}),
	}

	for _, m := range []prometheus.Collector{c.requests, c.requestLatency, c.bytesTransferred, c.cacheEvents, c.queueDepth, c.breakerState} {
		if err := registry.Register(m); err != nil {
			return nil, fmt.Errorf("telemetry: register metric: %w", err)
		}
	}
	return c, nil
}

// Start brings up the metrics HTTP endpoint if the collector is enabled.
func (c *Collector) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(c.cfg.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))

	c.server = &http.Server{
		Addr:              c.cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		_ = c.server.ListenAndServe()
	}()
	return nil
}

// Stop shuts the metrics HTTP endpoint down, if it was started.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

// RecordRequest is called once per cloud backend call by objectstore and
// logstream, regardless of whether telemetry is enabled.
func (c *Collector) RecordRequest(component, operation string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.requests.WithLabelValues(component, operation, outcome).Inc()
	c.requestLatency.WithLabelValues(component, operation).Observe(duration.Seconds())
}

// RecordBytes records bytes read from ("download") or written to
// ("upload") the cloud backend.
func (c *Collector) RecordBytes(component, direction string, n int64) {
	if n <= 0 {
		return
	}
	c.bytesTransferred.WithLabelValues(component, direction).Add(float64(n))
}

// RecordCacheEvent records a local-disk cache hit or miss.
func (c *Collector) RecordCacheEvent(component string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheEvents.WithLabelValues(component, result).Inc()
}

// SetQueueDepth reports the current depth of a named work queue, e.g. the
// deletion queue.
func (c *Collector) SetQueueDepth(queue string, depth int) {
	c.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// SetBreakerState reports a circuit breaker's numeric state.
func (c *Collector) SetBreakerState(breaker string, state int) {
	c.breakerState.WithLabelValues(breaker).Set(float64(state))
}

// Registry exposes the underlying Prometheus registry for embedders that
// want to fold these metrics into a larger /metrics endpoint.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }
