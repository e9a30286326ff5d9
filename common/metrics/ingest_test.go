package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_CountsIngestOutcomes(t *testing.T) {
	m := MustNew(prometheus.NewRegistry())

	m.ObserveIngest("ok", 100)
	m.ObserveIngest("ok", 50)
	m.ObserveIngest("too_large", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ingests.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingests.WithLabelValues("too_large")))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.ingestedBytes))
}

func TestMetrics_ReusesAlreadyRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := MustNew(reg)
	second := MustNew(reg)

	first.IncOrphan("reported")
	second.IncOrphan("reported")

	assert.Equal(t, 2.0, testutil.ToFloat64(first.orphanedBlobs.WithLabelValues("reported")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveIngest("ok", 1)
		m.ObserveStage("derive", true, time.Millisecond)
		m.IncStageFailure("derive", "processing_failure")
		m.IncOrphan("reported")
		m.IncCacheLookup(true)
		m.IncRateLimited()
		m.RenditionStarted()
		m.RenditionDone()
		m.SetHostInfo(CaptureHostInfo())
	})
}
