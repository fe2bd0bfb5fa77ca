package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()
	c.SampleIngested(3 * time.Millisecond)
	c.SampleIngested(5 * time.Millisecond)
	c.RawAlertEmitted("speed_violation", "high")
	c.IncidentOpened("speed_violation")
	c.IncidentMerged("speed_violation")
	c.IncidentMerged("speed_violation")
	c.StatusChanged("resolved")
	c.IngestFailed("validate")
	c.ConflictRetried()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.samplesIngested))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rawAlerts.WithLabelValues("speed_violation", "high")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.incidentsOpened.WithLabelValues("speed_violation")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.incidentsMerged.WithLabelValues("speed_violation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.statusChanges.WithLabelValues("resolved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ingestFailures.WithLabelValues("validate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.conflictRetries))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.SampleIngested(time.Millisecond)
		c.IncidentOpened("low_fuel_battery")
		c.HTTPRequest("GET", "/health", "200", time.Millisecond)
		c.KafkaMessage("processed")
	})
	assert.Nil(t, c.Registry())
}

func TestCollectorsAreIsolated(t *testing.T) {
	a, b := NewCollector(), NewCollector()
	a.IncidentOpened("speed_violation")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.incidentsOpened.WithLabelValues("speed_violation")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector()
	c.HTTPRequest("GET", "/health", "200", 2*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `fleetguard_http_requests_total{method="GET",route="/health",status_code="200"} 1`))
}
