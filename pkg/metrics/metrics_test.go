package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"codeberg.org/opendatahub/odhsync/pkg/result"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_ObservePass(t *testing.T) {
	m := New()

	m.ObservePass("lts", result.SyncResult{
		Created:       2,
		Updated:       3,
		ObjectChanged: 1,
		PushChannels:  []string{"idm-marketplace"},
	}, time.Second)
	m.ObservePass("lts", result.SyncResult{Error: 1}, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.records.WithLabelValues("lts", "created")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.records.WithLabelValues("lts", "updated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.records.WithLabelValues("lts", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.passes.WithLabelValues("lts", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.passes.WithLabelValues("lts", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pushChannels.WithLabelValues("lts", "idm-marketplace")))
	assert.Greater(t, testutil.ToFloat64(m.lastSuccessTS.WithLabelValues("lts")), 0.0)
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObservePass("dss", result.SyncResult{Created: 1}, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `odhsync_records_total{outcome="created",source="dss"} 1`)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObservePass("x", result.SyncResult{Created: 1}, time.Second)
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
