package stream

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/kuntur/kuntur/internal/camera"
)

const kindVideo = "video"

// StartVideo probes the camera, reads its status document (best effort),
// waits the settle delay and marks the session active. It blocks until the
// attempt settles. A second call while connecting is a no-op.
func (m *Manager) StartVideo(ctx context.Context) {
	m.mu.Lock()
	run, emit := m.beginVideoLocked(ctx)
	m.mu.Unlock()
	emit()
	if run != nil {
		run()
	}
}

// RetryVideo clears the error and runs the full start sequence again,
// including a fresh probe.
func (m *Manager) RetryVideo(ctx context.Context) {
	m.ClearVideoError()
	m.StartVideo(ctx)
}

// beginVideoLocked moves the session to connecting and returns the attempt
// to run after unlocking. run is nil when the call is a no-op.
func (m *Manager) beginVideoLocked(ctx context.Context) (run func(), emit func()) {
	if m.closed || m.video.Connecting || ctx.Err() != nil {
		return nil, noop
	}

	m.cancelReconfigLocked()
	m.videoGen++
	gen := m.videoGen
	sctx, cancel := m.mergeContext(ctx)
	m.videoCancel = cancel

	m.video.Connecting = true
	m.video.LastError = ""
	m.video.ErrorKind = ErrorNone
	m.video.Degraded = false
	m.video.SessionID = uuid.NewString()
	m.log.Info("video start", "session", m.video.SessionID)

	return func() {
		defer cancel()
		m.runVideoStart(sctx, gen)
	}, m.commitLocked()
}

func (m *Manager) runVideoStart(ctx context.Context, gen uint64) {
	path, err := m.cam.Probe(ctx)

	var info map[string]string
	if err == nil {
		if st, serr := m.cam.Status(ctx); serr == nil {
			info = st.Summary()
		} else {
			m.log.Debug("status document unavailable", "error", serr)
		}
		err = sleep(ctx, m.timings.SettleDelay)
	}

	m.mu.Lock()
	if m.closed || gen != m.videoGen {
		m.mu.Unlock()
		return
	}
	m.videoCancel = nil
	m.video.Connecting = false

	switch {
	case err == nil:
		m.video.Active = true
		m.video.ProbedPath = path
		m.video.CameraInfo = info
		m.metrics.StreamActive(kindVideo, true)
		m.log.Info("video live", "path", path, "session", m.video.SessionID)
	case ctx.Err() != nil:
		// Caller gave up; not a camera failure.
		m.video.Active = false
		m.metrics.StreamActive(kindVideo, false)
		m.log.Debug("video start cancelled", "error", err)
	default:
		m.video.Active = false
		m.video.LastError = diagnostic(m.ep, err)
		m.video.ErrorKind = ErrorConnection
		m.metrics.StreamActive(kindVideo, false)
		m.metrics.StreamError(kindVideo, ErrorConnection.String())
		m.log.Warn("video start failed", "error", err)
	}

	emit := m.commitLocked()
	m.mu.Unlock()
	emit()
}

func diagnostic(ep camera.Endpoint, err error) string {
	var perr *camera.ProbeError
	if errors.As(err, &perr) {
		return perr.Diagnostic()
	}
	return camera.DiagnosticMessage(ep)
}

// StopVideo deactivates the session, clears its error and cancels the
// in-flight start and every video timer. Calling it on an idle session
// changes nothing.
func (m *Manager) StopVideo() {
	m.mu.Lock()
	v := m.video
	if m.closed || (!v.Active && !v.Connecting && v.LastError == "" && !v.Degraded) {
		m.mu.Unlock()
		return
	}

	m.videoGen++
	if m.videoCancel != nil {
		m.videoCancel()
		m.videoCancel = nil
	}
	m.cancelReconfigLocked()

	m.video.Active = false
	m.video.Connecting = false
	m.video.LastError = ""
	m.video.ErrorKind = ErrorNone
	m.video.Degraded = false
	m.metrics.StreamActive(kindVideo, false)
	m.log.Info("video stopped")

	emit := m.commitLocked()
	m.mu.Unlock()
	emit()
}

// ChangeQuality records q. While the session is live it regenerates the
// snapshot URL at once and reports connecting for the reconfigure delay,
// without probing again.
func (m *Manager) ChangeQuality(q Quality) error {
	if !q.Valid() {
		return ErrInvalidQuality
	}

	m.mu.Lock()
	if m.closed || m.video.Quality == q {
		m.mu.Unlock()
		return nil
	}
	m.video.Quality = q

	// A start in flight will pick the new tier up when it settles.
	if m.video.Active && m.videoCancel == nil && m.video.LastError == "" {
		m.refreshURLLocked()
		m.cancelReconfigLocked()
		m.video.Connecting = true
		gen := m.reconfigGen
		m.reconfig = time.AfterFunc(m.timings.ReconfigureDelay, func() {
			m.finishReconfigure(gen)
		})
		m.log.Info("video quality change", "quality", q)
	}

	emit := m.commitLocked()
	m.mu.Unlock()
	emit()
	return nil
}

func (m *Manager) finishReconfigure(gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.reconfigGen || m.reconfig == nil {
		m.mu.Unlock()
		return
	}
	m.reconfig = nil
	m.video.Connecting = false

	emit := m.commitLocked()
	m.mu.Unlock()
	emit()
}

// ClearVideoError clears the error and nothing else.
func (m *Manager) ClearVideoError() {
	m.mu.Lock()
	if m.closed || m.video.LastError == "" {
		m.mu.Unlock()
		return
	}
	m.video.LastError = ""
	m.video.ErrorKind = ErrorNone

	emit := m.commitLocked()
	m.mu.Unlock()
	emit()
}

// CurrentSnapshotURL returns a snapshot URL for the current quality with a
// fresh cache-busting value.
func (m *Manager) CurrentSnapshotURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotURLLocked(m.now())
}

// ReportFrameLoaded records a successfully displayed frame.
func (m *Manager) ReportFrameLoaded() {
	m.mu.Lock()
	if m.closed || !m.video.Active {
		m.mu.Unlock()
		return
	}
	m.video.LastFrameAt = m.now()
	m.video.Degraded = false

	emit := m.commitLocked()
	m.mu.Unlock()
	emit()
}

// ReportFrameError records a failed image fetch. On a live session this
// marks it degraded and sets a transient fetch error, which schedules a
// reconnect.
func (m *Manager) ReportFrameError(err error) {
	m.mu.Lock()
	if m.closed || !m.video.Active || m.video.Connecting {
		m.mu.Unlock()
		return
	}
	m.video.Degraded = true
	if m.video.LastError == "" {
		msg := "Lost the camera image"
		if err != nil {
			msg += ": " + err.Error()
		}
		m.video.LastError = msg
		m.video.ErrorKind = ErrorTransientFetch
		m.metrics.StreamError(kindVideo, ErrorTransientFetch.String())
		m.log.Warn("frame fetch failed", "error", err)
	}

	emit := m.commitLocked()
	m.mu.Unlock()
	emit()
}
