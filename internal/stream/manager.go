// Package stream owns the video and audio session state for the registered
// camera: start/stop, the snapshot polling loop, quality changes and the
// auto-reconnect policy.
package stream

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kuntur/kuntur/internal/camera"
	"github.com/kuntur/kuntur/internal/logging"
	"github.com/kuntur/kuntur/internal/metrics"
)

// Camera is the subset of camera.Client the manager needs.
type Camera interface {
	Probe(ctx context.Context) (string, error)
	Status(ctx context.Context) (*camera.Status, error)
}

// EndpointSource yields the registered camera endpoint.
type EndpointSource interface {
	Endpoint() (camera.Endpoint, bool)
}

// Options configures NewManager.
type Options struct {
	Timings      Timings
	IncludeAudio bool
	// QualityPaths maps a tier name (HD, SD, LOW) to the snapshot path used
	// for it. Unset tiers use /shot.jpg.
	QualityPaths map[string]string
	Now          func() time.Time
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// Manager is safe for concurrent use. Every operation reports failures
// through session state; none of them return connectivity errors.
type Manager struct {
	ep           camera.Endpoint
	cam          Camera
	timings      Timings
	includeAudio bool
	paths        map[Quality]string
	now          func() time.Time
	log          *slog.Logger
	metrics      *metrics.Metrics

	// ctx is cancelled by Close and parents every start attempt.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	seq    uint64
	stamp  int64
	video  VideoSession
	audio  AudioSession

	// Each start bumps its generation; results and timer callbacks carrying
	// an older generation are dropped.
	videoGen    uint64
	videoCancel context.CancelFunc
	audioGen    uint64
	audioCancel context.CancelFunc

	poll         *ticker
	meter        *ticker
	reconfig     *time.Timer
	reconfigGen  uint64
	reconnect    *time.Timer
	reconnectGen uint64

	listeners map[int]func(Snapshot)
	nextID    int

	// counters read by tests
	pollStarts  atomic.Int64
	livePollers atomic.Int64
}

// ticker is one running periodic goroutine. It is identified by pointer so a
// goroutine whose ticker has been replaced exits on its next tick.
type ticker struct {
	stop chan struct{}
}

func newTicker() *ticker { return &ticker{stop: make(chan struct{})} }

func (t *ticker) halt() { close(t.stop) }

// NewManager builds a manager for the endpoint held by src. It fails with a
// *ConfigError wrapping ErrNoCamera when no endpoint is registered.
func NewManager(src EndpointSource, cam Camera, opts Options) (*Manager, error) {
	if src == nil {
		return nil, &ConfigError{Err: ErrNoCamera}
	}
	ep, ok := src.Endpoint()
	if !ok || ep.IsZero() {
		return nil, &ConfigError{Err: ErrNoCamera}
	}
	if cam == nil {
		return nil, &ConfigError{Err: camera.ErrNoEndpoint}
	}

	paths := make(map[Quality]string, len(Qualities))
	for _, q := range Qualities {
		paths[q] = camera.PathSnapshot
	}
	for name, p := range opts.QualityPaths {
		q, err := ParseQuality(name)
		if err != nil {
			return nil, &ConfigError{Err: err}
		}
		if p = strings.TrimSpace(p); p != "" {
			paths[q] = p
		}
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		ep:           ep,
		cam:          cam,
		timings:      opts.Timings.withDefaults(),
		includeAudio: opts.IncludeAudio,
		paths:        paths,
		now:          now,
		log:          logging.OrDiscard(opts.Logger).With("component", "stream", "camera", ep.String()),
		metrics:      opts.Metrics,
		ctx:          ctx,
		cancel:       cancel,
		listeners:    make(map[int]func(Snapshot)),
	}
	m.video.Quality = QualityHD
	return m, nil
}

func (m *Manager) Endpoint() camera.Endpoint { return m.ep }

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Subscribe registers fn to receive every state change. fn runs outside the
// manager's lock, possibly from timer goroutines; it must not block for long.
func (m *Manager) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return noop
	}
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// Close cancels every timer and in-flight start. No state changes are
// published afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.cancel()

	m.videoGen++
	m.audioGen++
	if m.videoCancel != nil {
		m.videoCancel()
		m.videoCancel = nil
	}
	if m.audioCancel != nil {
		m.audioCancel()
		m.audioCancel = nil
	}
	m.stopPollLocked()
	m.stopMeterLocked()
	m.cancelReconfigLocked()
	m.cancelReconnectLocked()
	m.listeners = nil
	m.log.Debug("stream manager closed")
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{
		Seq:    m.seq,
		Camera: m.ep.String(),
		Video:  m.video.clone(),
		Audio:  m.audio,
	}
}

// commitLocked re-evaluates the timers against the new state and returns a
// function that delivers the resulting snapshot. Call it after unlocking.
func (m *Manager) commitLocked() func() {
	m.reconcileLocked()
	m.seq++
	snap := m.snapshotLocked()
	fns := make([]func(Snapshot), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	return func() {
		for _, fn := range fns {
			fn(snap)
		}
	}
}

// reconcileLocked creates or tears down timers on the edges of their
// predicates. Repeated calls with unchanged state do nothing.
func (m *Manager) reconcileLocked() {
	if m.closed {
		return
	}

	if m.video.Live() {
		if m.poll == nil {
			m.startPollLocked()
		}
	} else if m.poll != nil {
		m.stopPollLocked()
	}

	if m.video.Active && m.video.LastError != "" {
		if m.reconnect == nil {
			m.scheduleReconnectLocked()
		}
	} else if m.reconnect != nil {
		m.cancelReconnectLocked()
	}

	if m.audio.Live() {
		if m.meter == nil {
			m.startMeterLocked()
		}
	} else if m.meter != nil {
		m.stopMeterLocked()
	}
}

func (m *Manager) startPollLocked() {
	t := newTicker()
	m.poll = t
	m.pollStarts.Add(1)
	m.livePollers.Add(1)
	m.refreshURLLocked()
	go m.runPoll(t)
}

func (m *Manager) stopPollLocked() {
	if m.poll != nil {
		m.poll.halt()
		m.poll = nil
	}
}

func (m *Manager) runPoll(t *ticker) {
	defer m.livePollers.Add(-1)

	tk := time.NewTicker(m.timings.PollInterval)
	defer tk.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-tk.C:
			m.mu.Lock()
			if m.poll != t {
				m.mu.Unlock()
				return
			}
			m.refreshURLLocked()
			emit := m.commitLocked()
			m.mu.Unlock()
			emit()
		}
	}
}

// refreshURLLocked regenerates the cache-busted snapshot URL.
func (m *Manager) refreshURLLocked() {
	now := m.now()
	m.video.SnapshotURL = m.snapshotURLLocked(now)
	m.video.LastSnapshotAt = now
	m.metrics.SnapshotRefresh()
}

// snapshotURLLocked builds the URL with a millisecond stamp that strictly
// increases across calls, even within the same millisecond.
func (m *Manager) snapshotURLLocked(now time.Time) string {
	ts := now.UnixMilli()
	if ts <= m.stamp {
		ts = m.stamp + 1
	}
	m.stamp = ts
	return m.ep.SnapshotURL(m.paths[m.video.Quality], ts)
}

func (m *Manager) scheduleReconnectLocked() {
	m.reconnectGen++
	gen := m.reconnectGen
	m.reconnect = time.AfterFunc(m.timings.ReconnectBackoff, func() {
		m.fireReconnect(gen)
	})
	m.log.Info("video reconnect scheduled", "in", m.timings.ReconnectBackoff, "error", m.video.LastError)
}

func (m *Manager) cancelReconnectLocked() {
	m.reconnectGen++
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
}

func (m *Manager) fireReconnect(gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.reconnectGen || m.reconnect == nil {
		m.mu.Unlock()
		return
	}
	m.reconnect = nil
	m.metrics.Reconnect()
	m.log.Info("video reconnect firing")

	// The start begins under the same lock that validated the timer, so a
	// concurrent stop either cancels the timer first or discards this start.
	run, emit := m.beginVideoLocked(m.ctx)
	m.mu.Unlock()
	emit()
	if run != nil {
		run()
	}
}

func (m *Manager) cancelReconfigLocked() {
	m.reconfigGen++
	if m.reconfig != nil {
		m.reconfig.Stop()
		m.reconfig = nil
	}
}

// mergeContext returns a context cancelled when either the manager closes
// or ctx is done, and a cancel func that releases both.
func (m *Manager) mergeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	sctx, cancel := context.WithCancel(m.ctx)
	stop := context.AfterFunc(ctx, cancel)
	return sctx, func() {
		stop()
		cancel()
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func noop() {}

// StartAllStreams starts video, and audio when enabled, and returns once
// both attempts have settled.
func (m *Manager) StartAllStreams(ctx context.Context) {
	if !m.includeAudio {
		m.StartVideo(ctx)
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.StartVideo(ctx)
	}()
	go func() {
		defer wg.Done()
		m.StartAudio(ctx)
	}()
	wg.Wait()
}

// StopAllStreams stops both sessions. When it returns both are idle, every
// timer is cancelled and any in-flight start has been invalidated.
func (m *Manager) StopAllStreams(ctx context.Context) error {
	m.StopVideo()
	m.StopAudio()
	return nil
}
