package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "assetingest"

// Metrics exposes the Prometheus collectors for the ingestion service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ingests        *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	stageFailures  *prometheus.CounterVec
	ingestedBytes  prometheus.Counter
	orphanedBlobs  *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	rateLimited    prometheus.Counter
	renditionsBusy prometheus.Gauge
	hostInfo       *prometheus.GaugeVec
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default returns the metrics registered on the global registry, created once
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNew(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNew builds the collectors and registers them on reg. Collectors that
// are already registered are reused; any other registration error panics.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		ingests: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingests_total",
			Help:      "Ingestion attempts by outcome (ok or the failure code).",
		}, []string{"outcome"})),
		stageDuration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each ingestion stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage", "status"})),
		stageFailures: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Failed ingestion stages by stage and error kind.",
		}, []string{"stage", "kind"})),
		ingestedBytes: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_bytes_total",
			Help:      "Bytes of accepted original payloads.",
		})),
		orphanedBlobs: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphaned_blobs_total",
			Help:      "Blobs whose cleanup failed, by resolution (reported, reclaimed, abandoned).",
		}, []string{"resolution"})),
		cacheLookups: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_cache_lookups_total",
			Help:      "Catalog list cache lookups by result.",
		}, []string{"result"})),
		rateLimited: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Upload requests rejected by the per-principal rate limit.",
		})),
		renditionsBusy: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "renditions_in_flight",
			Help:      "Renditions currently being computed.",
		})),
		hostInfo: register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_info",
			Help:      "Static host information, value is always 1.",
		}, []string{"os", "arch", "go_version", "container"})),
	}

	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveIngest counts one finished ingestion. outcome is "ok" or a failure code.
func (m *Metrics) ObserveIngest(outcome string, bytes int) {
	if m == nil {
		return
	}
	m.ingests.WithLabelValues(outcome).Inc()
	if outcome == "ok" && bytes > 0 {
		m.ingestedBytes.Add(float64(bytes))
	}
}

// ObserveStage records the time spent in a stage
func (m *Metrics) ObserveStage(stage string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.stageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

// IncStageFailure counts a failed stage by error kind
func (m *Metrics) IncStageFailure(stage, kind string) {
	if m == nil {
		return
	}
	m.stageFailures.WithLabelValues(stage, kind).Inc()
}

// IncOrphan counts an orphaned blob transition
func (m *Metrics) IncOrphan(resolution string) {
	if m == nil {
		return
	}
	m.orphanedBlobs.WithLabelValues(resolution).Inc()
}

// IncCacheLookup counts a catalog cache hit or miss
func (m *Metrics) IncCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// IncRateLimited counts a rejected upload
func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// RenditionStarted marks a rendition as in flight
func (m *Metrics) RenditionStarted() {
	if m == nil {
		return
	}
	m.renditionsBusy.Inc()
}

// RenditionDone pairs with RenditionStarted
func (m *Metrics) RenditionDone() {
	if m == nil {
		return
	}
	m.renditionsBusy.Dec()
}

// SetHostInfo publishes the static host labels
func (m *Metrics) SetHostInfo(h HostInfo) {
	if m == nil {
		return
	}
	m.hostInfo.WithLabelValues(h.OS, h.Arch, h.GoVersion, h.ContainerRuntime).Set(1)
}
