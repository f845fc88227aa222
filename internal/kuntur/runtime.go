// Package kuntur is the composition root: it owns the camera registry, the
// registrar, the stream manager and the armed controller, and hands them to
// the transports.
package kuntur

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kuntur/kuntur/internal/armed"
	"github.com/kuntur/kuntur/internal/camera"
	"github.com/kuntur/kuntur/internal/config"
	"github.com/kuntur/kuntur/internal/logging"
	"github.com/kuntur/kuntur/internal/metrics"
	"github.com/kuntur/kuntur/internal/profile"
	"github.com/kuntur/kuntur/internal/stream"
)

var (
	ErrNotRegistered = errors.New("kuntur: no camera registered")
	ErrVideoInactive = errors.New("kuntur: video is not active")
)

// Observer receives every state change of the stream manager and the armed
// controller once a camera is attached.
type Observer interface {
	StreamChanged(stream.Snapshot)
	ArmedChanged(armed.State)
}

// Deps are the collaborators New wires together. Nil fields get defaults.
type Deps struct {
	Config    *config.Config
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Registrar *profile.Registrar
	// Backend overrides the arming backend selected from the config.
	Backend armed.Backend
}

// Runtime wires the core together. The camera is attached once, either from
// the stored profile at Start or by Register.
type Runtime struct {
	cfg       *config.Config
	log       *slog.Logger
	metrics   *metrics.Metrics
	registry  *camera.Registry
	registrar *profile.Registrar
	backend   armed.Backend

	mu        sync.RWMutex
	client    *camera.Client
	streams   *stream.Manager
	armed     *armed.Controller
	observers []Observer
	unsubs    []func()
	closed    bool
}

// New builds a runtime. Call Start to restore the profile and attach the camera.
func New(d Deps) *Runtime {
	cfg := d.Config
	if cfg == nil {
		cfg = config.Default()
	}
	log := logging.OrDiscard(d.Logger)

	registrar := d.Registrar
	if registrar == nil {
		registrar = profile.NewRegistrar(
			profile.NewFileStore(cfg.Profile.Path),
			profile.NewService(cfg.Profile.ServiceURL, cfg.Armed.Timeout),
			log,
		)
	}

	backend := d.Backend
	if backend == nil {
		backend = NewBackend(cfg.Armed)
	}

	return &Runtime{
		cfg:       cfg,
		log:       log,
		metrics:   d.Metrics,
		registry:  camera.NewRegistry(),
		registrar: registrar,
		backend:   backend,
	}
}

// NewBackend selects the HTTP arming backend when a URL is configured and
// the simulated one otherwise.
func NewBackend(cfg config.ArmedConfig) armed.Backend {
	if cfg.BackendURL != "" {
		return armed.NewHTTPBackend(cfg.BackendURL, cfg.Token, cfg.Timeout)
	}
	return armed.NewSimulatedBackend(cfg.ArmDelay, cfg.DisarmDelay, cfg.StatusDelay)
}

// Registrar returns the profile registrar.
func (r *Runtime) Registrar() *profile.Registrar { return r.registrar }
func (r *Runtime) Metrics() *metrics.Metrics     { return r.metrics }

// Start restores the stored profile and attaches its camera. Without a
// profile (and without camera.url in the config) the runtime waits for
// Register.
func (r *Runtime) Start(ctx context.Context) error {
	p, err := r.registrar.Restore()
	if err != nil {
		return fmt.Errorf("restoring profile: %w", err)
	}

	target := r.cfg.Camera.URL
	if target == "" && p != nil {
		target = p.CameraIP
	}
	if target == "" {
		r.log.Info("no storefront registered, waiting for registration")
		return nil
	}
	return r.attach(target)
}

// Register registers the storefront and attaches its camera.
func (r *Runtime) Register(ctx context.Context, reg profile.Registration) (*profile.Profile, error) {
	if _, err := camera.ParseEndpoint(reg.CameraIP); err != nil {
		return nil, &profile.ValidationError{Field: "camera_ip", Reason: err.Error()}
	}
	if ep, ok := r.registry.Endpoint(); ok && r.cfg.Camera.URL == "" {
		want, _ := camera.ParseEndpoint(reg.CameraIP)
		if want != ep {
			return nil, fmt.Errorf("%w: %s", camera.ErrEndpointLocked, ep)
		}
	}

	p, err := r.registrar.Register(ctx, reg)
	if err != nil {
		return nil, err
	}

	target := r.cfg.Camera.URL
	if target == "" {
		target = p.CameraIP
	}
	if err := r.attach(target); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *Runtime) attach(raw string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.New("kuntur: runtime closed")
	}

	ep, err := r.registry.Set(raw)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if r.streams != nil {
		r.mu.Unlock()
		return nil
	}

	client := camera.NewClient(ep, camera.ClientOptions{
		ProbeTimeout:  r.cfg.Camera.ProbeTimeout,
		StatusTimeout: r.cfg.Camera.StatusTimeout,
		FrameTimeout:  r.cfg.Camera.FrameTimeout,
		Logger:        r.log,
		Metrics:       r.metrics,
	})

	mgr, err := stream.NewManager(r.registry, client, stream.Options{
		Timings:      TimingsFromConfig(r.cfg.Stream),
		IncludeAudio: r.cfg.Stream.IncludeAudio,
		QualityPaths: r.cfg.Camera.QualityPaths,
		Logger:       r.log,
		Metrics:      r.metrics,
	})
	if err != nil {
		r.mu.Unlock()
		return err
	}

	ctrl := armed.NewController(r.backend, mgr, armed.Options{
		Logger:  r.log,
		Metrics: r.metrics,
	})

	r.client = client
	r.streams = mgr
	r.armed = ctrl
	for _, o := range r.observers {
		r.subscribeLocked(o)
	}
	observers := append([]Observer(nil), r.observers...)
	r.mu.Unlock()

	// Bring observers up to date with the fresh components.
	for _, o := range observers {
		o.StreamChanged(mgr.Snapshot())
		o.ArmedChanged(ctrl.State())
	}
	r.log.Info("camera attached", "camera", ep.String())
	return nil
}

func TimingsFromConfig(c config.StreamConfig) stream.Timings {
	return stream.Timings{
		PollInterval:     c.PollInterval,
		SettleDelay:      c.SettleDelay,
		ReconfigureDelay: c.ReconfigureDelay,
		ReconnectBackoff: c.ReconnectBackoff,
		AudioSettleDelay: c.AudioSettleDelay,
		AudioTick:        c.AudioTick,
	}
}

// Observe registers o for state changes, including those of a camera
// attached later.
func (r *Runtime) Observe(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
	if r.streams != nil {
		r.subscribeLocked(o)
	}
}

func (r *Runtime) subscribeLocked(o Observer) {
	r.unsubs = append(r.unsubs,
		r.streams.Subscribe(o.StreamChanged),
		r.armed.Subscribe(o.ArmedChanged),
	)
}

// Streams returns the stream manager, or ErrNotRegistered before a camera
// is attached.
func (r *Runtime) Streams() (*stream.Manager, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.streams == nil {
		return nil, ErrNotRegistered
	}
	return r.streams, nil
}

// Armed returns the controller, or ErrNotRegistered before registration.
func (r *Runtime) Armed() (*armed.Controller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.armed == nil {
		return nil, ErrNotRegistered
	}
	return r.armed, nil
}

// Frame fetches the current snapshot and reports the outcome to the stream
// manager, which is how fetch failures reach the reconnect policy.
func (r *Runtime) Frame(ctx context.Context) (*camera.Frame, error) {
	r.mu.RLock()
	mgr, client := r.streams, r.client
	r.mu.RUnlock()
	if mgr == nil {
		return nil, ErrNotRegistered
	}
	if !mgr.Snapshot().Video.Active {
		return nil, ErrVideoInactive
	}

	frame, err := client.FetchSnapshot(ctx, mgr.CurrentSnapshotURL())
	if err != nil {
		if ctx.Err() == nil {
			mgr.ReportFrameError(err)
		}
		return nil, err
	}
	mgr.ReportFrameLoaded()
	return frame, nil
}

// State is the combined view served to clients.
type State struct {
	Registered bool             `json:"registered"`
	Profile    *profile.Profile `json:"profile,omitempty"`
	Camera     *camera.URLs     `json:"camera,omitempty"`
	Stream     *stream.Snapshot `json:"stream,omitempty"`
	Armed      *armed.State     `json:"armed,omitempty"`
}

// State returns the aggregate state sent to new clients.
func (r *Runtime) State() State {
	st := State{
		Registered: r.registrar.IsRegistered(),
		Profile:    r.registrar.Current(),
	}

	r.mu.RLock()
	mgr, ctrl := r.streams, r.armed
	r.mu.RUnlock()

	if ep, ok := r.registry.Endpoint(); ok {
		urls := ep.URLs()
		st.Camera = &urls
	}
	if mgr != nil {
		snap := mgr.Snapshot()
		st.Stream = &snap
	}
	if ctrl != nil {
		as := ctrl.State()
		st.Armed = &as
	}
	return st
}

// Close disposes the armed controller, then stops and disposes the stream
// manager.
func (r *Runtime) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	mgr, ctrl, unsubs := r.streams, r.armed, r.unsubs
	r.unsubs = nil
	r.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	if ctrl != nil {
		ctrl.Close()
	}
	if mgr != nil {
		mgr.StopAllStreams(context.Background())
		mgr.Close()
	}
}
