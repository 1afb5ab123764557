package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Harshitk-cp/memlayer/internal/domain"
	"github.com/Harshitk-cp/memlayer/internal/notify"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveRequest(http.MethodGet, "/v1/memories/{id}", 200, 10*time.Millisecond)
	m.ObserveRequest(http.MethodGet, "/v1/memories/{id}", 404, time.Millisecond)
	m.ObserveEvent(notify.Event{Action: domain.AuditRedact})
	m.ObserveEvent(notify.Event{Action: domain.AuditRedact})
	m.ObserveGate("queued")
	m.ObserveSweep("memories", 0)
	m.ObserveSweep("memories", 3)

	assert.Equal(t, 1.0, counterValue(t, m.HTTPRequests.WithLabelValues("GET", "/v1/memories/{id}", "404")))
	assert.Equal(t, 2.0, counterValue(t, m.Mutations.WithLabelValues("redact")))
	assert.Equal(t, 1.0, counterValue(t, m.GateDecisions.WithLabelValues("queued")))
	assert.Equal(t, 3.0, counterValue(t, m.SweepRuns.WithLabelValues("memories")))
}

func TestMetrics_HandlerServesOwnRegistry(t *testing.T) {
	a, b := New(), New()
	a.ObserveGate("committed")

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `memlayer_gate_decisions_total{outcome="committed"} 1`))

	rec = httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.False(t, strings.Contains(rec.Body.String(), `outcome="committed"`))
}
