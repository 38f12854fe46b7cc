package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveRequest(t *testing.T) {
	ok := testutil.ToFloat64(ConnectRequests.WithLabelValues("POST", "connectors", "201"))
	failed := testutil.ToFloat64(ConnectRequests.WithLabelValues("POST", "connectors", "error"))

	ObserveRequest("POST", "connectors", &http.Response{StatusCode: 201}, nil, 10*time.Millisecond)
	ObserveRequest("POST", "connectors", nil, errors.New("dial tcp: refused"), time.Millisecond)

	assert.Equal(t, ok+1, testutil.ToFloat64(ConnectRequests.WithLabelValues("POST", "connectors", "201")))
	assert.Equal(t, failed+1, testutil.ToFloat64(ConnectRequests.WithLabelValues("POST", "connectors", "error")))
}

func TestSetConnectorStatusIsOneHot(t *testing.T) {
	SetConnectorStatus("c1", "RUNNING")
	SetConnectorStatus("c1", "STOPPED")

	assert.Equal(t, 1.0, testutil.ToFloat64(ConnectorStatus.WithLabelValues("c1", "STOPPED")))
	assert.Equal(t, 0.0, testutil.ToFloat64(ConnectorStatus.WithLabelValues("c1", "RUNNING")))
}

func TestSetStarted(t *testing.T) {
	SetStarted(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(Started))
	SetStarted(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(Started))
}

func TestLatencyTracker(t *testing.T) {
	lt := NewLatencyTracker(3)
	for _, d := range []time.Duration{40, 10, 30, 20} {
		lt.Record(d * time.Millisecond)
	}

	assert.Equal(t, 3, lt.Count())
	assert.Equal(t, 10*time.Millisecond, lt.GetPercentile(0))
	assert.Equal(t, 30*time.Millisecond, lt.GetPercentile(100))
}

func TestHandlerExposesCollectors(t *testing.T) {
	RecordOperation("start", OutcomeSuccess)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kafkacl_lifecycle_operations_total")
}
