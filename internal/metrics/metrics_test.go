package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCommandsAcceptedIncrementsByLabel(t *testing.T) {
	before := testutil.ToFloat64(CommandsAccepted.WithLabelValues("standard.get_clean_steps"))
	CommandsAccepted.WithLabelValues("standard.get_clean_steps").Inc()
	after := testutil.ToFloat64(CommandsAccepted.WithLabelValues("standard.get_clean_steps"))
	assert.Equal(t, before+1, after)
}

func TestHandlerServesPrometheusFormat(t *testing.T) {
	HeartbeatsSent.Add(0) // ensure the collector has been observed at least once
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "agent_heartbeats_sent_total")
}

func TestTimerObserveDuration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(time.Millisecond)
	assert.Greater(t, timer.Duration(), time.Duration(0))
	timer.ObserveDuration(HeartbeatLatency)
}
