package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ProbeAttempt("/shot.jpg", true)
	m.Reconnect()
	m.SnapshotRefresh()
	m.FrameFetch(false)
	m.StreamActive("video", true)
	m.StreamError("video", "connection")
	m.ArmedTransition("activate", true)
	m.Armed(true)
	m.WSClients(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("nil handler status = %d, want 404", rec.Code)
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.ProbeAttempt("/shot.jpg", false)
	m.ProbeAttempt("/status.json", true)
	m.Reconnect()
	m.Armed(true)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	out := string(body)

	for _, want := range []string{
		`kuntur_camera_probe_attempts_total{path="/shot.jpg",result="error"} 1`,
		`kuntur_camera_probe_attempts_total{path="/status.json",result="ok"} 1`,
		`kuntur_stream_reconnects_total 1`,
		`kuntur_armed 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
