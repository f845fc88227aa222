package audio

import (
	"strings"
	"testing"

	"github.com/kuntur/kuntur/internal/stream"
)

func TestSpringSettlesOnTarget(t *testing.T) {
	m := New()
	cmd := m.SetSession(stream.AudioSession{Active: true, Level: 60})
	if cmd == nil || !m.Animating() {
		t.Fatal("a new level should start the animation")
	}

	for i := 0; i < 300 && m.Animating(); i++ {
		m, _ = m.Update(FrameMsg{})
	}
	if m.Animating() {
		t.Fatal("meter should settle")
	}
	if m.Level() != 60 {
		t.Errorf("Level() = %v, want 60", m.Level())
	}
}

func TestInactiveTargetsZero(t *testing.T) {
	m := New()
	m.SetSession(stream.AudioSession{Active: true, Level: 80})
	for i := 0; i < 300 && m.Animating(); i++ {
		m, _ = m.Update(FrameMsg{})
	}
	m.SetSession(stream.AudioSession{Active: false, Level: 80})
	for i := 0; i < 300 && m.Animating(); i++ {
		m, _ = m.Update(FrameMsg{})
	}
	if m.Level() != 0 {
		t.Errorf("Level() = %v, want 0 once audio stops", m.Level())
	}
}

func TestSettledSessionNeedsNoFrames(t *testing.T) {
	m := New()
	if cmd := m.SetSession(stream.AudioSession{}); cmd != nil {
		t.Error("an idle session at level 0 should not animate")
	}
}

func TestViewShowsError(t *testing.T) {
	m := New()
	m.Width = 40
	m.SetSession(stream.AudioSession{LastError: "audio unavailable"})
	v := m.View()
	if !strings.Contains(v, "audio unavailable") || !strings.Contains(v, "error") {
		t.Errorf("view should show the error:\n%s", v)
	}
}
