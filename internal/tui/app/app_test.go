package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kuntur/kuntur/internal/armed"
	"github.com/kuntur/kuntur/internal/kuntur"
	"github.com/kuntur/kuntur/internal/profile"
	"github.com/kuntur/kuntur/internal/stream"
	"github.com/kuntur/kuntur/internal/tui/client"
)

func sized() Model {
	m := New(nil, nil)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(Model)
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(Model)
}

func keyMsg(s string) tea.KeyMsg {
	if s == " " {
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune(" ")}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestDisconnectOverlay(t *testing.T) {
	m := sized()
	m.connected = false

	v := m.View()
	if !strings.Contains(v, "DISCONNECTED") {
		t.Error("disconnect overlay should contain 'DISCONNECTED'")
	}
	if !strings.Contains(v, "Reconnecting") {
		t.Error("disconnect overlay should contain 'Reconnecting'")
	}
}

func TestSnapshotPopulatesViews(t *testing.T) {
	m := sized()
	m = update(t, m, client.WSConnectedMsg{})

	st := kuntur.State{
		Registered: true,
		Profile:    &profile.Profile{LocalName: "Bodega Sol", CameraIP: "192.168.1.20:8080"},
		Stream: &stream.Snapshot{
			Seq:   4,
			Video: stream.VideoSession{Active: true, Quality: stream.QualitySD},
			Audio: stream.AudioSession{Active: true, Level: 40},
		},
		Armed: &armed.State{Status: armed.On, Phase: armed.PhaseOn, Seq: 2},
	}
	m = update(t, m, client.WSSnapshotMsg{State: st})

	if !m.video.Known || !m.audio.Known || !m.control.Known {
		t.Fatal("views should be populated by the snapshot")
	}
	if m.streamSeq != 4 || m.armedSeq != 2 {
		t.Errorf("seq = %d/%d, want 4/2", m.streamSeq, m.armedSeq)
	}

	v := m.View()
	for _, want := range []string{"Bodega Sol", "ON", "live", "SD"} {
		if !strings.Contains(v, want) {
			t.Errorf("view should contain %q", want)
		}
	}
}

func TestStaleDeliveriesDropped(t *testing.T) {
	m := sized()
	m = update(t, m, client.WSStreamMsg{Snapshot: stream.Snapshot{Seq: 5, Video: stream.VideoSession{Active: true}}})
	m = update(t, m, client.WSStreamMsg{Snapshot: stream.Snapshot{Seq: 3}})
	if !m.video.Session.Active {
		t.Error("older stream snapshot should be ignored")
	}

	m = update(t, m, client.WSArmedMsg{State: armed.State{Phase: armed.PhaseOn, Seq: 7}})
	m = update(t, m, client.WSArmedMsg{State: armed.State{Phase: armed.PhaseOff, Seq: 6}})
	if m.control.State.Phase != armed.PhaseOn {
		t.Errorf("phase = %v, want on", m.control.State.Phase)
	}
}

func TestSnapshotOrderedBySeq(t *testing.T) {
	m := sized()
	m = update(t, m, client.WSConnectedMsg{})
	m = update(t, m, client.WSSnapshotMsg{State: kuntur.State{
		Armed: &armed.State{Status: armed.Off, Phase: armed.PhaseOff, Seq: 5},
	}})
	m = update(t, m, client.WSArmedMsg{State: armed.State{Status: armed.On, Phase: armed.PhaseOn, Seq: 9}})

	// A periodic snapshot read before the delta must not roll the view back.
	m = update(t, m, client.WSSnapshotMsg{State: kuntur.State{
		Armed: &armed.State{Status: armed.On, Phase: armed.PhaseActivating, Transitioning: true, Seq: 8},
	}})
	if m.control.State.Phase != armed.PhaseOn || m.armedSeq != 9 {
		t.Errorf("phase = %v seq %d, want on at 9", m.control.State.Phase, m.armedSeq)
	}

	// After a reconnect the server may have restarted with lower seqs.
	m = update(t, m, client.WSDisconnectedMsg{})
	m = update(t, m, client.WSConnectedMsg{})
	m = update(t, m, client.WSSnapshotMsg{State: kuntur.State{
		Stream: &stream.Snapshot{Seq: 1, Video: stream.VideoSession{Active: true}},
		Armed:  &armed.State{Status: armed.Off, Phase: armed.PhaseOff, Seq: 1},
	}})
	if m.armedSeq != 1 || m.control.State.Phase != armed.PhaseOff {
		t.Errorf("first snapshot after connect should replace state, got %v at %d", m.control.State.Phase, m.armedSeq)
	}
	if m.streamSeq != 1 || !m.video.Session.Active {
		t.Errorf("stream seq = %d", m.streamSeq)
	}

	// Later snapshots are compared again.
	m = update(t, m, client.WSSnapshotMsg{State: kuntur.State{
		Stream: &stream.Snapshot{Seq: 1},
	}})
	if !m.video.Session.Active {
		t.Error("a repeated seq should not replace the stream state")
	}
}

func TestBusyStartsSpinner(t *testing.T) {
	m := sized()
	next, cmd := m.Update(client.WSArmedMsg{State: armed.State{
		Phase:         armed.PhaseActivating,
		Transitioning: true,
		Seq:           1,
	}})
	m = next.(Model)
	if !m.spinning {
		t.Error("spinner should run while a transition is in progress")
	}
	if cmd == nil {
		t.Error("expected a command")
	}

	m = update(t, m, client.WSArmedMsg{State: armed.State{Phase: armed.PhaseOn, Seq: 2}})
	if m.busy() {
		t.Error("should not be busy after the transition")
	}
}

func TestOverlays(t *testing.T) {
	m := sized()
	m.connected = true

	m = update(t, m, keyMsg("l"))
	if m.overlay != OverlayLog {
		t.Fatalf("overlay = %d, want log", m.overlay)
	}
	if !strings.Contains(m.View(), "EVENT LOG") {
		t.Error("log overlay should render")
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.overlay != OverlayNone {
		t.Errorf("esc should close the overlay, got %d", m.overlay)
	}

	m = update(t, m, keyMsg("?"))
	if m.overlay != OverlayHelp {
		t.Fatalf("overlay = %d, want help", m.overlay)
	}
	m = update(t, m, keyMsg("?"))
	if m.overlay != OverlayNone {
		t.Error("? should toggle help off")
	}
}

func TestQualityWhileVideoIdle(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.Method + " " + r.URL.Path
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := New(nil, client.NewHTTPClient(srv.URL, ""))
	m = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	m = update(t, m, client.WSStreamMsg{Snapshot: stream.Snapshot{Seq: 1}})
	if m.video.Session.Active {
		t.Fatal("video should be idle")
	}

	_, cmd := m.Update(keyMsg("q"))
	if cmd == nil {
		t.Fatal("q should send the new quality while idle")
	}
	msg, ok := cmd().(intentMsg)
	if !ok || msg.err != nil {
		t.Fatalf("msg = %#v", msg)
	}
	if path != "POST /api/video/quality" || got["quality"] != "SD" {
		t.Errorf("request = %s %v", path, got)
	}
}

func TestQuitOnlyOnCtrlC(t *testing.T) {
	m := sized()
	if _, cmd := m.Update(keyMsg("q")); cmd != nil {
		if _, ok := cmd().(tea.QuitMsg); ok {
			t.Error("q must not quit")
		}
	}
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("ctrl+c should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("ctrl+c should quit")
	}
}

func TestErrorsLogged(t *testing.T) {
	m := sized()
	m = update(t, m, intentMsg{label: "video.start", err: errors.New("409 no camera registered")})
	m = update(t, m, frameMsg{err: errors.New("502")})

	var errs, frames int
	for _, e := range m.log.Entries {
		switch e.Kind {
		case "err":
			errs++
		case "vid":
			frames++
		}
	}
	if errs != 1 || frames != 1 {
		t.Errorf("errs=%d frames=%d, want 1/1", errs, frames)
	}
	if m.video.FrameErr != "502" {
		t.Errorf("FrameErr = %q", m.video.FrameErr)
	}
}

func TestFrameLoaded(t *testing.T) {
	m := sized()
	m.fetching = true
	at := time.Now()
	m = update(t, m, frameMsg{size: 2048, at: at})
	if m.fetching {
		t.Error("fetching should be cleared")
	}
	if m.video.FrameBytes != 2048 || !m.video.FrameAt.Equal(at) {
		t.Errorf("frame = %d at %v", m.video.FrameBytes, m.video.FrameAt)
	}
}
