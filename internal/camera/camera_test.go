package camera

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"http://192.168.1.51:8080", "http://192.168.1.51:8080", false},
		{"http://192.168.1.51:8080/", "http://192.168.1.51:8080", false},
		{"192.168.1.51:8080", "http://192.168.1.51:8080", false},
		{"  https://cam.local  ", "https://cam.local", false},
		{"http://cam.local/some/path", "http://cam.local", false},
		{"", "", true},
		{"rtsp://192.168.1.51:554", "", true},
		{"http://", "", true},
		{"http://cam.local:99999", "", true},
	}

	for _, tt := range tests {
		ep, err := ParseEndpoint(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseEndpoint(%q) = %q, want error", tt.in, ep)
			} else if !errors.Is(err, ErrInvalidURL) {
				t.Errorf("ParseEndpoint(%q) error = %v, want ErrInvalidURL", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseEndpoint(%q) error: %v", tt.in, err)
			continue
		}
		if ep.String() != tt.want {
			t.Errorf("ParseEndpoint(%q) = %q, want %q", tt.in, ep, tt.want)
		}
	}
}

func TestEndpointURLs(t *testing.T) {
	ep := MustParseEndpoint("http://10.0.0.2:8080")

	if got := ep.SnapshotURL("", 42); got != "http://10.0.0.2:8080/shot.jpg?random=42" {
		t.Errorf("SnapshotURL = %q", got)
	}
	urls := ep.URLs()
	if urls.Audio != "http://10.0.0.2:8080/audio.wav" {
		t.Errorf("Audio = %q", urls.Audio)
	}
	if urls.Settings != "http://10.0.0.2:8080/settings.json" {
		t.Errorf("Settings = %q", urls.Settings)
	}
	if urls.VideoFeed != "http://10.0.0.2:8080/videofeed" {
		t.Errorf("VideoFeed = %q", urls.VideoFeed)
	}
}

func TestRegistrySetOnce(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Endpoint(); ok {
		t.Fatal("new registry should be empty")
	}

	if _, err := r.Set("192.168.1.51:8080"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	// Same endpoint, different spelling: no-op.
	if _, err := r.Set("http://192.168.1.51:8080/"); err != nil {
		t.Fatalf("Set same endpoint: %v", err)
	}
	if _, err := r.Set("http://192.168.1.99:8080"); !errors.Is(err, ErrEndpointLocked) {
		t.Fatalf("Set different endpoint error = %v, want ErrEndpointLocked", err)
	}

	ep, ok := r.Endpoint()
	if !ok || ep.String() != "http://192.168.1.51:8080" {
		t.Errorf("Endpoint() = %q, %v", ep, ok)
	}
}

// fakeCamera serves the camera HTTP surface with per-path status codes.
type fakeCamera struct {
	mu       sync.Mutex
	codes    map[string]int
	delay    map[string]time.Duration
	status   string
	requests []string
	headers  []http.Header
}

func (f *fakeCamera) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.headers = append(f.headers, r.Header.Clone())
	code, ok := f.codes[r.URL.Path]
	d := f.delay[r.URL.Path]
	status := f.status
	f.mu.Unlock()

	if d > 0 {
		select {
		case <-time.After(d):
		case <-r.Context().Done():
			return
		}
	}
	if !ok {
		code = http.StatusNotFound
	}
	if r.URL.Path == PathStatus && code == http.StatusOK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		w.Write([]byte(status))
		return
	}
	if r.URL.Path == PathSnapshot && code == http.StatusOK {
		w.Header().Set("Content-Type", "image/jpeg")
		w.WriteHeader(code)
		w.Write([]byte{0xff, 0xd8, 0xff, 0xd9})
		return
	}
	w.WriteHeader(code)
}

func (f *fakeCamera) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func newTestClient(t *testing.T, f *fakeCamera, opts ClientOptions) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return NewClient(MustParseEndpoint(srv.URL), opts)
}

func TestProbeFirstSuccessWins(t *testing.T) {
	f := &fakeCamera{codes: map[string]int{
		PathSnapshot: http.StatusInternalServerError,
		PathStatus:   http.StatusOK,
		PathVideo:    http.StatusOK,
	}}
	c := newTestClient(t, f, ClientOptions{})

	path, err := c.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if path != PathStatus {
		t.Errorf("Probe path = %q, want %q", path, PathStatus)
	}

	seen := f.seen()
	want := []string{"HEAD /shot.jpg", "HEAD /status.json"}
	if strings.Join(seen, ",") != strings.Join(want, ",") {
		t.Errorf("requests = %v, want %v", seen, want)
	}

	f.mu.Lock()
	h := f.headers[0]
	f.mu.Unlock()
	if h.Get("Cache-Control") != "no-cache" || h.Get("Pragma") != "no-cache" {
		t.Errorf("probe should disable caching, got headers %v", h)
	}
}

func TestProbeAllFail(t *testing.T) {
	f := &fakeCamera{codes: map[string]int{}}
	c := newTestClient(t, f, ClientOptions{})

	_, err := c.Probe(context.Background())
	var perr *ProbeError
	if !errors.As(err, &perr) {
		t.Fatalf("Probe error = %v, want *ProbeError", err)
	}
	if len(perr.Attempts) != len(ProbePaths) {
		t.Errorf("attempts = %d, want %d", len(perr.Attempts), len(ProbePaths))
	}
	for i, a := range perr.Attempts {
		if a.Path != ProbePaths[i] {
			t.Errorf("attempt[%d].Path = %q, want %q", i, a.Path, ProbePaths[i])
		}
	}
	if !strings.Contains(perr.Diagnostic(), perr.Endpoint.String()) {
		t.Errorf("diagnostic should name the URL: %q", perr.Diagnostic())
	}
}

func TestProbePerAttemptTimeout(t *testing.T) {
	f := &fakeCamera{
		codes: map[string]int{PathSnapshot: http.StatusOK, PathStatus: http.StatusOK},
		delay: map[string]time.Duration{PathSnapshot: 2 * time.Second},
	}
	c := newTestClient(t, f, ClientOptions{ProbeTimeout: 50 * time.Millisecond})

	start := time.Now()
	path, err := c.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if path != PathStatus {
		t.Errorf("Probe path = %q, want %q after snapshot timeout", path, PathStatus)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("probe took %v, per-attempt timeout not applied", elapsed)
	}
}

func TestProbeContextCancelled(t *testing.T) {
	f := &fakeCamera{codes: map[string]int{PathSnapshot: http.StatusOK}}
	c := newTestClient(t, f, ClientOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Probe(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Probe error = %v, want context.Canceled", err)
	}
	if n := len(f.seen()); n != 0 {
		t.Errorf("cancelled probe issued %d requests", n)
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantAudio bool
	}{
		{"bool true", `{"audio_enabled": true, "video_chunk_len": 1024}`, true},
		{"string false", `{"audio_enabled": "false", "curvals": {"video_size": "640x480"}}`, false},
		{"string on", `{"audio_enabled": "on"}`, true},
		{"missing", `{}`, false},
		{"numeric curvals", `{"audio_enabled": 1, "curvals": {"quality": 49}}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeCamera{codes: map[string]int{PathStatus: http.StatusOK}, status: tt.body}
			c := newTestClient(t, f, ClientOptions{})

			st, err := c.Status(context.Background())
			if err != nil {
				t.Fatalf("Status: %v", err)
			}
			if bool(st.AudioEnabled) != tt.wantAudio {
				t.Errorf("AudioEnabled = %v, want %v", st.AudioEnabled, tt.wantAudio)
			}
		})
	}
}

func TestStatusErrors(t *testing.T) {
	f := &fakeCamera{codes: map[string]int{PathStatus: http.StatusOK}, status: `not json`}
	c := newTestClient(t, f, ClientOptions{})
	if _, err := c.Status(context.Background()); err == nil {
		t.Error("expected decode error")
	}

	f2 := &fakeCamera{codes: map[string]int{}}
	c2 := newTestClient(t, f2, ClientOptions{})
	if _, err := c2.Status(context.Background()); err == nil {
		t.Error("expected HTTP error for 404")
	}
}

func TestStatusSummary(t *testing.T) {
	st, err := parseStatus([]byte(`{"audio_enabled":"true","video_chunk_len":"512","curvals":{"video_size":"1280x720","ignored":"x"}}`))
	if err != nil {
		t.Fatal(err)
	}
	sum := st.Summary()
	if sum["audio_enabled"] != "true" || sum["video_size"] != "1280x720" || sum["video_chunk_len"] != "512" {
		t.Errorf("Summary() = %v", sum)
	}
	if _, ok := sum["ignored"]; ok {
		t.Error("Summary() should only include known keys")
	}
	var nilStatus *Status
	if nilStatus.Summary() != nil {
		t.Error("nil Summary() should be nil")
	}
}

func TestFetchSnapshot(t *testing.T) {
	f := &fakeCamera{codes: map[string]int{PathSnapshot: http.StatusOK}}
	c := newTestClient(t, f, ClientOptions{})

	frame, err := c.FetchSnapshot(context.Background(), c.Endpoint().SnapshotURL(PathSnapshot, 1))
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}
	if frame.ContentType != "image/jpeg" || len(frame.Data) != 4 {
		t.Errorf("frame = %q, %d bytes", frame.ContentType, len(frame.Data))
	}

	f.mu.Lock()
	h := f.headers[len(f.headers)-1]
	f.mu.Unlock()
	if h.Get("Cache-Control") != "no-cache" {
		t.Error("snapshot request should disable caching")
	}

	f.mu.Lock()
	f.codes[PathSnapshot] = http.StatusServiceUnavailable
	f.mu.Unlock()
	if _, err := c.FetchSnapshot(context.Background(), PathSnapshot); err == nil {
		t.Error("expected error for 503")
	}
}
