// Package metrics provides Prometheus metrics for mapkit.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Live map instances
	LiveInstances prometheus.Gauge

	// Instance lifecycle events
	InstancesCreated   prometheus.Counter
	InstancesDestroyed prometheus.Counter

	// SDK loads by provider and result
	SDKLoads *prometheus.CounterVec

	// Bounded retries that gave up, by operation
	RetriesAbandoned *prometheus.CounterVec

	// Markers rejected at AddMarkers
	MarkersSkipped *prometheus.CounterVec

	// Clustering passes and their duration
	ClusterPasses       prometheus.Counter
	ClusterPassDuration prometheus.Histogram

	// Cluster nodes by evaluated state
	ClusterNodes *prometheus.CounterVec

	// Reverse geocoding and visitor location lookups
	GeocodingRequests   *prometheus.CounterVec
	GeolocationRequests *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a registry and registers all metrics on it.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := NewWith(reg)
	m.registry = reg
	return m
}

// NewWith registers all metrics on reg.
func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		LiveInstances: f.NewGauge(prometheus.GaugeOpts{
			Name: "mapkit_live_instances",
			Help: "Number of currently mounted map instances",
		}),

		InstancesCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "mapkit_instances_created_total",
			Help: "Total number of map instances created",
		}),

		InstancesDestroyed: f.NewCounter(prometheus.CounterOpts{
			Name: "mapkit_instances_destroyed_total",
			Help: "Total number of map instances destroyed",
		}),

		SDKLoads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mapkit_sdk_loads_total",
			Help: "Provider SDK load attempts",
		}, []string{"provider", "result"}), // result: loaded, failed

		RetriesAbandoned: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mapkit_retries_abandoned_total",
			Help: "Bounded retries that reached their attempt cap",
		}, []string{"operation"}), // operation: collect, container

		MarkersSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mapkit_markers_skipped_total",
			Help: "Markers rejected because of invalid positions",
		}, []string{"provider"}),

		ClusterPasses: f.NewCounter(prometheus.CounterOpts{
			Name: "mapkit_cluster_passes_total",
			Help: "Total number of clustering passes",
		}),

		ClusterPassDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mapkit_cluster_pass_duration_seconds",
			Help:    "Time taken by one clustering pass",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),

		ClusterNodes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mapkit_cluster_nodes_total",
			Help: "Cluster nodes by evaluated state",
		}, []string{"state"}), // state: aggregated, promoted

		GeocodingRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mapkit_geocoding_requests_total",
			Help: "Total reverse geocoding requests",
		}, []string{"status"}), // status: success, failed, empty

		GeolocationRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mapkit_geolocation_requests_total",
			Help: "Total visitor geolocation lookups",
		}, []string{"status"}), // status: success, failed
	}
}

// Registry returns the registry created by New, or nil for NewWith.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// InstanceCreated records a created instance.
func (m *Metrics) InstanceCreated() {
	if m == nil {
		return
	}
	m.InstancesCreated.Inc()
	m.LiveInstances.Inc()
}

// InstanceDestroyed records a destroyed instance.
func (m *Metrics) InstanceDestroyed() {
	if m == nil {
		return
	}
	m.InstancesDestroyed.Inc()
	m.LiveInstances.Dec()
}

// IncSDKLoad records an SDK load result.
func (m *Metrics) IncSDKLoad(provider, result string) {
	if m == nil {
		return
	}
	m.SDKLoads.WithLabelValues(provider, result).Inc()
}

// IncRetryAbandoned records a retry loop that gave up.
func (m *Metrics) IncRetryAbandoned(operation string) {
	if m == nil {
		return
	}
	m.RetriesAbandoned.WithLabelValues(operation).Inc()
}

// IncMarkerSkipped records a rejected marker.
func (m *Metrics) IncMarkerSkipped(provider string) {
	if m == nil {
		return
	}
	m.MarkersSkipped.WithLabelValues(provider).Inc()
}

// ObserveClusterPass records one clustering pass.
func (m *Metrics) ObserveClusterPass(seconds float64) {
	if m == nil {
		return
	}
	m.ClusterPasses.Inc()
	m.ClusterPassDuration.Observe(seconds)
}

// AddClusterNodes records evaluated cluster nodes.
func (m *Metrics) AddClusterNodes(aggregated, promoted int) {
	if m == nil {
		return
	}
	m.ClusterNodes.WithLabelValues("aggregated").Add(float64(aggregated))
	m.ClusterNodes.WithLabelValues("promoted").Add(float64(promoted))
}

// IncGeocodingRequest records a reverse geocoding request.
func (m *Metrics) IncGeocodingRequest(status string) {
	if m == nil {
		return
	}
	m.GeocodingRequests.WithLabelValues(status).Inc()
}

// IncGeolocationRequest records a visitor location lookup.
func (m *Metrics) IncGeolocationRequest(status string) {
	if m == nil {
		return
	}
	m.GeolocationRequests.WithLabelValues(status).Inc()
}
