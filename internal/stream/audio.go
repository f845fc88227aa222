package stream

import (
	"context"
	"math/rand"
	"time"
)

const kindAudio = "audio"

// StartAudio checks that the camera has audio enabled, waits the audio
// settle delay and starts the level generator. A status fetch failure is
// not fatal; an explicit "disabled" is a configuration error.
func (m *Manager) StartAudio(ctx context.Context) {
	m.mu.Lock()
	if m.closed || m.audio.Connecting || m.audio.Active || ctx.Err() != nil {
		m.mu.Unlock()
		return
	}

	m.audioGen++
	gen := m.audioGen
	sctx, cancel := m.mergeContext(ctx)
	defer cancel()
	m.audioCancel = cancel
	m.audio.Connecting = true
	m.audio.LastError = ""
	m.audio.ErrorKind = ErrorNone

	emit := m.commitLocked()
	m.mu.Unlock()
	emit()

	var (
		err      error
		disabled bool
	)
	if st, serr := m.cam.Status(sctx); serr == nil {
		disabled = !bool(st.AudioEnabled)
	} else {
		m.log.Debug("status document unavailable for audio", "error", serr)
	}
	if !disabled {
		err = sleep(sctx, m.timings.AudioSettleDelay)
	}

	m.mu.Lock()
	if m.closed || gen != m.audioGen {
		m.mu.Unlock()
		return
	}
	m.audioCancel = nil
	m.audio.Connecting = false

	switch {
	case disabled:
		m.audio.LastError = "Audio is not enabled on the camera. Turn it on in the camera app settings."
		m.audio.ErrorKind = ErrorConfiguration
		m.metrics.StreamError(kindAudio, ErrorConfiguration.String())
		m.log.Warn("audio disabled on camera")
	case err != nil:
		m.log.Debug("audio start cancelled", "error", err)
	default:
		m.audio.Active = true
		m.audio.Level = 0
		m.metrics.StreamActive(kindAudio, true)
		m.log.Info("audio live")
	}

	emit = m.commitLocked()
	m.mu.Unlock()
	emit()
}

// StopAudio stops the level generator and resets the session. Idempotent.
func (m *Manager) StopAudio() {
	m.mu.Lock()
	a := m.audio
	if m.closed || (!a.Active && !a.Connecting && a.LastError == "" && a.Level == 0) {
		m.mu.Unlock()
		return
	}

	m.audioGen++
	if m.audioCancel != nil {
		m.audioCancel()
		m.audioCancel = nil
	}
	m.audio = AudioSession{}
	m.metrics.StreamActive(kindAudio, false)
	m.log.Info("audio stopped")

	emit := m.commitLocked()
	m.mu.Unlock()
	emit()
}

// ClearAudioError resets the audio error without touching the session.
func (m *Manager) ClearAudioError() {
	m.mu.Lock()
	if m.closed || m.audio.LastError == "" {
		m.mu.Unlock()
		return
	}
	m.audio.LastError = ""
	m.audio.ErrorKind = ErrorNone

	emit := m.commitLocked()
	m.mu.Unlock()
	emit()
}

func (m *Manager) startMeterLocked() {
	t := newTicker()
	m.meter = t
	go m.runMeter(t)
}

func (m *Manager) stopMeterLocked() {
	if m.meter != nil {
		m.meter.halt()
		m.meter = nil
	}
}

// runMeter feeds pseudo-random levels in [0,100] while audio is live.
func (m *Manager) runMeter(t *ticker) {
	tk := time.NewTicker(m.timings.AudioTick)
	defer tk.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-tk.C:
			m.mu.Lock()
			if m.meter != t {
				m.mu.Unlock()
				return
			}
			m.audio.Level = rand.Float64() * 100
			emit := m.commitLocked()
			m.mu.Unlock()
			emit()
		}
	}
}
