// Package telemetry exposes the provider's allocation, garbage-collection,
// and watchdog activity as Prometheus collectors, behind an Observer
// interface pluggable metrics collection.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Observer receives provider lifecycle events. NoOpObserver discards them;
// PrometheusObserver records them to real collectors.
type Observer interface {
	ObserveAlloc(size uint64, success bool)
	ObserveFree(size uint64)
	ObserveGarbageCollect(reclaimed int)
	ObserveDefragment(merged int)
	ObserveWatchdogInvalidation()
	ObserveBusyListLength(n int)
	ObserveAvailableBytes(n uint64)
}

// NoOpObserver is a no-op implementation of Observer, the default when a
// Provider is built without a metrics registry.
type NoOpObserver struct{}

func (NoOpObserver) ObserveAlloc(uint64, bool)       {}
func (NoOpObserver) ObserveFree(uint64)              {}
func (NoOpObserver) ObserveGarbageCollect(int)       {}
func (NoOpObserver) ObserveDefragment(int)           {}
func (NoOpObserver) ObserveWatchdogInvalidation()    {}
func (NoOpObserver) ObserveBusyListLength(int)       {}
func (NoOpObserver) ObserveAvailableBytes(uint64)    {}

var _ Observer = NoOpObserver{}

// PrometheusObserver implements Observer using a set of collectors
// registered against a caller-supplied registry, so a daemon can expose
// them on its own /metrics endpoint.
type PrometheusObserver struct {
	allocTotal      *prometheus.CounterVec
	freeTotal       prometheus.Counter
	freedBytesTotal prometheus.Counter
	gcReclaimsTotal prometheus.Counter
	defragTotal     prometheus.Counter
	watchdogInvalid prometheus.Counter
	busyListLength  prometheus.Gauge
	availableBytes  prometheus.Gauge
}

// NewPrometheusObserver creates and registers the provider's collectors
// under the given namespace (e.g. "goshm").
func NewPrometheusObserver(reg prometheus.Registerer, namespace string) *PrometheusObserver {
	o := &PrometheusObserver{
		allocTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alloc_total",
			Help:      "Total allocation attempts, labeled by outcome.",
		}, []string{"result"}),
		freeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "free_total",
			Help:      "Total buffers freed back to a backend.",
		}),
		freedBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "freed_bytes_total",
			Help:      "Total bytes returned to a backend's free list.",
		}),
		gcReclaimsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gc_reclaims_total",
			Help:      "Total chunks reclaimed by garbage collection.",
		}),
		defragTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "defragment_merges_total",
			Help:      "Total defragmentation passes run.",
		}),
		watchdogInvalid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watchdog_invalidations_total",
			Help:      "Total watchdog bits observed unconfirmed.",
		}),
		busyListLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "busy_list_length",
			Help:      "Current number of chunks tracked as busy.",
		}),
		availableBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "available_bytes",
			Help:      "Bytes currently available for allocation.",
		}),
	}
	reg.MustRegister(
		o.allocTotal, o.freeTotal, o.freedBytesTotal, o.gcReclaimsTotal,
		o.defragTotal, o.watchdogInvalid, o.busyListLength, o.availableBytes,
	)
	return o
}

func (o *PrometheusObserver) ObserveAlloc(size uint64, success bool) {
	if success {
		o.allocTotal.WithLabelValues("ok").Inc()
	} else {
		o.allocTotal.WithLabelValues("error").Inc()
	}
}

func (o *PrometheusObserver) ObserveFree(size uint64) {
	o.freeTotal.Inc()
	o.freedBytesTotal.Add(float64(size))
}

func (o *PrometheusObserver) ObserveGarbageCollect(reclaimed int) {
	o.gcReclaimsTotal.Add(float64(reclaimed))
}

func (o *PrometheusObserver) ObserveDefragment(merged int) {
	o.defragTotal.Add(float64(merged))
}

func (o *PrometheusObserver) ObserveWatchdogInvalidation() {
	o.watchdogInvalid.Inc()
}

func (o *PrometheusObserver) ObserveBusyListLength(n int) {
	o.busyListLength.Set(float64(n))
}

func (o *PrometheusObserver) ObserveAvailableBytes(n uint64) {
	o.availableBytes.Set(float64(n))
}

var _ Observer = (*PrometheusObserver)(nil)
