package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-ingest/internal/model"
)

func TestObserveRun(t *testing.T) {
	m := New()
	res := &model.IngestResult{Status: model.RunPartial, Family: "relay", Written: 3}
	res.AddSkip(model.Skip{Identifier: "X1", Reason: model.SkipMissingBrand})
	res.AddSkip(model.Skip{Identifier: "X2", Reason: model.SkipMissingBrand})
	res.AddSkip(model.Skip{Identifier: "X3", Reason: model.SkipInvalidIdentifier})

	m.ObserveRun(res, 2*time.Second)
	m.ObserveRun(&model.IngestResult{Status: model.RunDone, Family: "relay", Written: 1}, time.Second)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.runs.WithLabelValues("partial")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.runs.WithLabelValues("done")))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.written.WithLabelValues("relay")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.skips.WithLabelValues("missing_brand")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.skips.WithLabelValues("invalid_identifier")))
}

func TestObserveOracle(t *testing.T) {
	m := New()
	m.ObserveOracle("classify_family", nil)
	m.ObserveOracle("classify_family", errors.New("overloaded"))
	m.ObserveOracle("extract_fields", nil)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.oracleCalls.WithLabelValues("classify_family", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.oracleCalls.WithLabelValues("classify_family", "error")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRun(&model.IngestResult{Status: model.RunDone}, time.Second)
		m.ObserveOracle("x", nil)
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveRun(&model.IngestResult{Status: model.RunDone, Family: "relay", Written: 2}, time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `catalog_ingest_records_written_total{family="relay"} 2`)
	assert.Contains(t, string(body), "catalog_ingest_run_duration_seconds_bucket")
}
