package stream

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStartAudioGeneratesLevels(t *testing.T) {
	m := newTestManager(t, &fakeCamera{audio: true}, nil)

	m.StartAudio(context.Background())
	a := m.Snapshot().Audio
	if !a.Active || a.Connecting || a.LastError != "" {
		t.Fatalf("after start: %+v", a)
	}

	seen := map[float64]bool{}
	waitFor(t, "level changes", func() bool {
		l := m.Snapshot().Audio.Level
		if l < 0 || l > 100 {
			t.Fatalf("level %v out of range", l)
		}
		seen[l] = true
		return len(seen) >= 3
	})

	m.StopAudio()
	a = m.Snapshot().Audio
	if a.Active || a.Level != 0 {
		t.Errorf("after stop: %+v", a)
	}
	time.Sleep(40 * time.Millisecond)
	if m.Snapshot().Audio.Level != 0 {
		t.Error("level generator kept running after stop")
	}
}

func TestStartAudioDisabledOnCamera(t *testing.T) {
	m := newTestManager(t, &fakeCamera{audio: false}, nil)

	m.StartAudio(context.Background())
	a := m.Snapshot().Audio
	if a.Active || a.Connecting {
		t.Errorf("active=%v connecting=%v, want both false", a.Active, a.Connecting)
	}
	if a.ErrorKind != ErrorConfiguration || a.LastError == "" {
		t.Errorf("error = %q (%v), want configuration error", a.LastError, a.ErrorKind)
	}

	m.ClearAudioError()
	if m.Snapshot().Audio.LastError != "" {
		t.Error("clear should remove the error")
	}
}

func TestStartAudioStatusUnavailable(t *testing.T) {
	m := newTestManager(t, &fakeCamera{statusErr: errors.New("timeout")}, nil)

	m.StartAudio(context.Background())
	if !m.Snapshot().Audio.Active {
		t.Error("status fetch failure should not prevent audio start")
	}
}

func TestStopAudioIdempotent(t *testing.T) {
	m := newTestManager(t, &fakeCamera{audio: true}, nil)
	n := countNotifications(m)

	m.StopAudio()
	m.StopAudio()
	if n.Load() != 0 {
		t.Errorf("idle stop notified %d times", n.Load())
	}
}

func TestStartAllStreams(t *testing.T) {
	tests := []struct {
		name         string
		includeAudio bool
	}{
		{"video only", false},
		{"video and audio", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, &fakeCamera{audio: true}, func(o *Options) {
				o.IncludeAudio = tt.includeAudio
			})

			m.StartAllStreams(context.Background())
			s := m.Snapshot()
			if !s.Video.Live() {
				t.Errorf("video not live: %+v", s.Video)
			}
			if s.Audio.Active != tt.includeAudio {
				t.Errorf("audio active = %v, want %v", s.Audio.Active, tt.includeAudio)
			}

			if err := m.StopAllStreams(context.Background()); err != nil {
				t.Fatal(err)
			}
			s = m.Snapshot()
			if s.Video.Active || s.Audio.Active || s.Video.Connecting || s.Audio.Connecting {
				t.Errorf("after stop all: video=%+v audio=%+v", s.Video, s.Audio)
			}
			waitFor(t, "pollers to exit", func() bool { return m.livePollers.Load() == 0 })
		})
	}
}
