package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsHandlerExposesClientSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(reg, reg, "maitred_test")

	m.ObserveSessionStarted()
	m.ObserveSessionEvent("start")
	m.ObserveTransition("idle", "active")
	m.ObserveMessage("inbound", "audio/pcm")
	m.ObserveReconnect()
	m.ObservePoll("ok", 40*time.Millisecond)
	m.ObserveSessionEnded("goodbye")
	m.ObserveSessionEnded("inactive")
	m.ObserveSessionEnded("user")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`maitred_test_session_events_total{event="start"} 1`,
		`# HELP maitred_test_session_end_reasons_total Ended sessions by stop reason.`,
		`maitred_test_session_end_reasons_total{reason="goodbye"} 1`,
		`maitred_test_session_end_reasons_total{reason="inactive"} 1`,
		`maitred_test_session_end_reasons_total{reason="user"} 1`,
		`maitred_test_session_state_transitions_total{from="idle",to="active"} 1`,
		`maitred_test_ws_reconnects_total 1`,
		`maitred_test_active_session 0`,
		`maitred_test_status_polls_total{result="ok"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}

	snap := m.Stages.Snapshot()
	if len(snap.Stages) != 1 || snap.Stages[0].Stage != StagePoll {
		t.Fatalf("stage snapshot = %+v, want one poll stage", snap.Stages)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.ObserveSessionEvent("start")
	m.ObserveSessionEnded("")
	m.ObserveFirstAudioLatency(time.Second)
	m.SetConnected(true)
	if m.Handler() == nil {
		t.Fatalf("Handler() = nil")
	}
}
