package http

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageTimerRecordsDurationAndCount(t *testing.T) {
	m := NewMetricsRegistry()

	m.StartStageTimer("triage").Stop("success")
	m.StartStageTimer("triage").Stop("success")
	m.StartStageTimer("stage_k").Stop("refused")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.StageRuns.WithLabelValues("triage", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageRuns.WithLabelValues("stage_k", "refused")))
}

func TestCacheHitRatio(t *testing.T) {
	m := NewMetricsRegistry()

	m.RecordCacheHit("fingerprint")
	m.RecordCacheHit("fingerprint")
	m.RecordCacheHit("cooldown")
	m.RecordCacheMiss("cooldown")

	assert.InDelta(t, 0.75, testutil.ToFloat64(m.CacheHitRatio), 1e-9)
}

func TestCacheHitRatioUnsetWithoutTraffic(t *testing.T) {
	m := NewMetricsRegistry()

	assert.Equal(t, 0.0, testutil.ToFloat64(m.CacheHitRatio))
}

func TestMetricsHandlerExposesRegistry(t *testing.T) {
	m := NewMetricsRegistry()
	m.RecordOutcome("promoted")
	m.RecordGateBlock("stage_t_blocked")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "pipeline_triage_outcomes_total"))
	assert.True(t, strings.Contains(body, "pipeline_gate_blocks_total"))
}

func TestSeparateRegistriesDoNotCollide(t *testing.T) {
	a := NewMetricsRegistry()
	b := NewMetricsRegistry()

	a.RecordOutcome("promoted")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.TriageOutcomes.WithLabelValues("promoted")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.TriageOutcomes.WithLabelValues("promoted")))
}
