package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kuntur/kuntur/internal/armed"
	"github.com/kuntur/kuntur/internal/kuntur"
	"github.com/kuntur/kuntur/internal/stream"
	"github.com/kuntur/kuntur/internal/ws"
)

func TestDispatch(t *testing.T) {
	raw := func(typ ws.MessageType, payload any) rawMessage {
		data, _ := json.Marshal(payload)
		return rawMessage{Type: typ, Payload: data}
	}

	if m, ok := dispatch(raw(ws.MsgSnapshot, kuntur.State{Registered: true})).(WSSnapshotMsg); !ok || !m.State.Registered {
		t.Errorf("snapshot dispatch = %#v", m)
	}
	if m, ok := dispatch(raw(ws.MsgStream, stream.Snapshot{Seq: 7})).(WSStreamMsg); !ok || m.Snapshot.Seq != 7 {
		t.Errorf("stream dispatch = %#v", m)
	}
	if m, ok := dispatch(raw(ws.MsgArmed, armed.State{Status: armed.On})).(WSArmedMsg); !ok || m.State.Status != armed.On {
		t.Errorf("armed dispatch = %#v", m)
	}
	if m, ok := dispatch(raw(ws.MsgError, ws.ErrorPayload{Op: "video.start", Message: "x"})).(WSErrorMsg); !ok || m.Payload.Op != "video.start" {
		t.Errorf("error dispatch = %#v", m)
	}
	if m := dispatch(raw("unknown", nil)); m != nil {
		t.Errorf("unknown type dispatched to %#v", m)
	}
}

func TestListenAndRead(t *testing.T) {
	var gotAuth string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		mu.Unlock()
		up := websocket.Upgrader{}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(ws.WSMessage{Type: "ignored", Payload: 1})
		conn.WriteJSON(ws.WSMessage{Type: ws.MsgArmed, Payload: armed.State{Status: armed.On, Seq: 2}})
	}))
	defer srv.Close()

	c := NewWSClient("ws"+strings.TrimPrefix(srv.URL, "http"), "tok")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	defer c.Close()

	if _, ok := c.Listen(ctx)().(WSConnectedMsg); !ok {
		t.Fatal("expected WSConnectedMsg")
	}
	mu.Lock()
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	mu.Unlock()

	msg := c.ReadLoop(ctx)()
	am, ok := msg.(WSArmedMsg)
	if !ok || am.State.Seq != 2 {
		t.Fatalf("ReadLoop = %#v, want armed seq 2", msg)
	}

	if _, ok := c.ReadLoop(ctx)().(WSDisconnectedMsg); !ok {
		t.Error("expected WSDisconnectedMsg after server closed")
	}
}

func TestListenCancelled(t *testing.T) {
	c := NewWSClient("ws://127.0.0.1:1/ws", "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if msg := c.Listen(ctx)(); msg != nil {
		t.Errorf("Listen on cancelled ctx = %#v", msg)
	}
}

func TestHTTPClient(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
	)
	mux := http.NewServeMux()
	record := func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, r.Method+" "+r.URL.Path)
		mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"status":"accepted"}`))
	}
	mux.HandleFunc("POST /api/kuntur/{action}", record)
	mux.HandleFunc("POST /api/video/{action}", record)
	mux.HandleFunc("POST /api/audio/{action}", record)
	mux.HandleFunc("POST /api/video/quality", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["quality"] != "LOW" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid quality"}`))
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("GET /api/video/frame", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte{0xff, 0xd8})
	})
	mux.HandleFunc("GET /api/state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(kuntur.State{Registered: true})
	})
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","clients":2}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", "tok")
	ctx := context.Background()

	if err := c.Kuntur(ctx, "toggle"); err != nil {
		t.Errorf("Kuntur: %v", err)
	}
	if err := c.Video(ctx, "retry"); err != nil {
		t.Errorf("Video: %v", err)
	}
	if err := c.Audio(ctx, "stop"); err != nil {
		t.Errorf("Audio: %v", err)
	}
	if err := c.SetQuality(ctx, stream.QualityLow); err != nil {
		t.Errorf("SetQuality(LOW): %v", err)
	}
	err := c.SetQuality(ctx, stream.QualityHD)
	if err == nil || !strings.Contains(err.Error(), "invalid quality") {
		t.Errorf("SetQuality(HD) error = %v", err)
	}

	frame, err := c.Frame(ctx)
	if err != nil || len(frame) != 2 {
		t.Errorf("Frame = %v, %v", frame, err)
	}
	st, err := c.State(ctx)
	if err != nil || !st.Registered {
		t.Errorf("State = %+v, %v", st, err)
	}
	h, err := c.Health(ctx)
	if err != nil || h.Clients != 2 {
		t.Errorf("Health = %+v, %v", h, err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"POST /api/kuntur/toggle", "POST /api/video/retry", "POST /api/audio/stop"}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}
