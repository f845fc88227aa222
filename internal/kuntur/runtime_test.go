package kuntur

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kuntur/kuntur/internal/armed"
	"github.com/kuntur/kuntur/internal/camera"
	"github.com/kuntur/kuntur/internal/config"
	"github.com/kuntur/kuntur/internal/profile"
	"github.com/kuntur/kuntur/internal/stream"
)

// testCamera answers the probe and serves a tiny JPEG. failFrames makes
// snapshot GETs fail.
type testCamera struct {
	mu         sync.Mutex
	failFrames bool
}

func (c *testCamera) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	fail := c.failFrames
	c.mu.Unlock()

	switch r.URL.Path {
	case camera.PathSnapshot:
		if r.Method == http.MethodGet && fail {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte{0xff, 0xd8, 0xff, 0xd9})
	case camera.PathStatus:
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"audio_enabled":"on"}`))
	default:
		http.NotFound(w, r)
	}
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Profile.Path = filepath.Join(t.TempDir(), "profile.json")
	cfg.Stream.SettleDelay = 0
	cfg.Stream.AudioSettleDelay = 0
	cfg.Stream.ReconnectBackoff = time.Hour
	cfg.Armed.ArmDelay = 0
	cfg.Armed.DisarmDelay = 0
	cfg.Armed.StatusDelay = 0
	cfg.Camera.ProbeTimeout = time.Second
	return cfg
}

type recorder struct {
	mu     sync.Mutex
	stream []stream.Snapshot
	armed  []armed.State
}

func (r *recorder) StreamChanged(s stream.Snapshot) {
	r.mu.Lock()
	r.stream = append(r.stream, s)
	r.mu.Unlock()
}

func (r *recorder) ArmedChanged(s armed.State) {
	r.mu.Lock()
	r.armed = append(r.armed, s)
	r.mu.Unlock()
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stream), len(r.armed)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func registration(cameraURL string) profile.Registration {
	return profile.Registration{
		LocalName: "Ferretería Sol",
		CameraIP:  cameraURL,
		Address:   "Calle 10, Quito",
		Latitude:  -0.2,
		Longitude: -78.5,
		Password:  "123456",
	}
}

func TestRuntimeBeforeRegistration(t *testing.T) {
	rt := New(Deps{Config: testConfig(t)})
	defer rt.Close()

	if err := rt.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := rt.Streams(); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("Streams() error = %v, want ErrNotRegistered", err)
	}
	if _, err := rt.Armed(); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("Armed() error = %v, want ErrNotRegistered", err)
	}
	if _, err := rt.Frame(context.Background()); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("Frame() error = %v", err)
	}
	if st := rt.State(); st.Registered || st.Stream != nil {
		t.Errorf("state = %+v", st)
	}
}

func TestRuntimeRegisterAndArm(t *testing.T) {
	cam := &testCamera{}
	srv := httptest.NewServer(cam)
	defer srv.Close()

	rt := New(Deps{Config: testConfig(t)})
	defer rt.Close()
	rec := &recorder{}
	rt.Observe(rec)

	if err := rt.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := rt.Register(context.Background(), registration(srv.URL)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctrl, err := rt.Armed()
	if err != nil {
		t.Fatal(err)
	}
	mgr, _ := rt.Streams()

	waitFor(t, "initial refresh", func() bool { return !ctrl.State().Refreshing })
	if err := ctrl.Activate(context.Background()); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	waitFor(t, "video live", func() bool { return mgr.Snapshot().Video.Live() })

	frame, err := rt.Frame(context.Background())
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	if len(frame.Data) == 0 {
		t.Error("empty frame")
	}
	if mgr.Snapshot().Video.LastFrameAt.IsZero() {
		t.Error("frame load not reported")
	}

	st := rt.State()
	if !st.Registered || st.Armed == nil || st.Armed.Status != armed.On || st.Camera == nil {
		t.Errorf("state = %+v", st)
	}

	if err := ctrl.Deactivate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if mgr.Snapshot().Video.Active {
		t.Error("video still active after deactivate")
	}

	nStream, nArmed := rec.counts()
	if nStream == 0 || nArmed == 0 {
		t.Errorf("observer saw %d stream and %d armed changes", nStream, nArmed)
	}
}

func TestRuntimeFrameFailureDegradesVideo(t *testing.T) {
	cam := &testCamera{}
	srv := httptest.NewServer(cam)
	defer srv.Close()

	rt := New(Deps{Config: testConfig(t)})
	defer rt.Close()
	if _, err := rt.Register(context.Background(), registration(srv.URL)); err != nil {
		t.Fatal(err)
	}
	mgr, _ := rt.Streams()
	mgr.StartVideo(context.Background())

	cam.mu.Lock()
	cam.failFrames = true
	cam.mu.Unlock()

	if _, err := rt.Frame(context.Background()); err == nil {
		t.Fatal("expected frame error")
	}
	v := mgr.Snapshot().Video
	if !v.Degraded || v.ErrorKind != stream.ErrorTransientFetch {
		t.Errorf("video = %+v", v)
	}

	mgr.StopVideo()
	if _, err := rt.Frame(context.Background()); !errors.Is(err, ErrVideoInactive) {
		t.Errorf("Frame on stopped video = %v", err)
	}
}

func TestRuntimeRestoresProfile(t *testing.T) {
	srv := httptest.NewServer(&testCamera{})
	defer srv.Close()
	cfg := testConfig(t)

	first := New(Deps{Config: cfg})
	if _, err := first.Register(context.Background(), registration(srv.URL)); err != nil {
		t.Fatal(err)
	}
	first.Close()

	second := New(Deps{Config: cfg})
	defer second.Close()
	if err := second.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	mgr, err := second.Streams()
	if err != nil {
		t.Fatalf("Streams after restore: %v", err)
	}
	if mgr.Endpoint().String() != srv.URL {
		t.Errorf("endpoint = %q, want %q", mgr.Endpoint(), srv.URL)
	}
}

func TestRuntimeRejectsSecondCamera(t *testing.T) {
	srv := httptest.NewServer(&testCamera{})
	defer srv.Close()

	rt := New(Deps{Config: testConfig(t)})
	defer rt.Close()
	if _, err := rt.Register(context.Background(), registration(srv.URL)); err != nil {
		t.Fatal(err)
	}
	_, err := rt.Register(context.Background(), registration("http://10.9.9.9:8080"))
	if !errors.Is(err, camera.ErrEndpointLocked) {
		t.Errorf("error = %v, want ErrEndpointLocked", err)
	}

	_, err = rt.Register(context.Background(), registration("rtsp://cam"))
	if !errors.Is(err, profile.ErrInvalid) {
		t.Errorf("error = %v, want ErrInvalid", err)
	}
}

func TestNewBackendSelection(t *testing.T) {
	if _, ok := NewBackend(config.ArmedConfig{}).(*armed.SimulatedBackend); !ok {
		t.Error("empty URL should select the simulated backend")
	}
	if _, ok := NewBackend(config.ArmedConfig{BackendURL: "http://localhost:1"}).(*armed.HTTPBackend); !ok {
		t.Error("URL should select the HTTP backend")
	}
}
