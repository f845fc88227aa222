package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kuntur/kuntur/internal/armed"
	"github.com/kuntur/kuntur/internal/kuntur"
	"github.com/kuntur/kuntur/internal/logging"
	"github.com/kuntur/kuntur/internal/metrics"
	"github.com/kuntur/kuntur/internal/stream"
)

var ErrTooManyConnections = errors.New("too many websocket connections")

const writeWait = 10 * time.Second

// StateSource provides the full state for snapshots.
type StateSource interface {
	State() kuntur.State
}

type client struct {
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
}

func newClient(conn *websocket.Conn, b *Broadcaster) *client {
	c := &client{
		conn: conn,
		b:    b,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// BroadcastOptions configures NewBroadcaster.
type BroadcastOptions struct {
	// Throttle coalesces bursts of state changes into one message per kind.
	Throttle         time.Duration
	SnapshotInterval time.Duration
	// MaxConns caps concurrent clients; zero means unlimited.
	MaxConns int
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Broadcaster fans state changes out to websocket clients. It implements
// kuntur.Observer.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	src      StateSource
	throttle time.Duration
	maxConns int
	log      *slog.Logger
	metrics  *metrics.Metrics

	snapshotTicker *time.Ticker
	stop           chan struct{}
	stopOnce       sync.Once

	flushMu       sync.Mutex
	pendingStream *stream.Snapshot
	pendingArmed  *armed.State
	lastStreamSeq uint64
	lastArmedSeq  uint64
	sawStream     bool
	sawArmed      bool
	flushTimer    *time.Timer
	stopped       bool
}

// NewBroadcaster starts the periodic snapshot loop. Call Stop to end it.
func NewBroadcaster(src StateSource, opts BroadcastOptions) *Broadcaster {
	if opts.SnapshotInterval <= 0 {
		opts.SnapshotInterval = 5 * time.Second
	}
	b := &Broadcaster{
		clients:  make(map[*client]bool),
		src:      src,
		throttle: opts.Throttle,
		maxConns: opts.MaxConns,
		log:      logging.OrDiscard(opts.Logger).With("component", "ws"),
		metrics:  opts.Metrics,
		stop:     make(chan struct{}),
	}

	b.snapshotTicker = time.NewTicker(opts.SnapshotInterval)
	go b.snapshotLoop()

	return b
}

// AddClient registers conn and queues the current snapshot for it.
func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	data, err := json.Marshal(b.snapshotMessage())
	if err != nil {
		b.log.Error("snapshot marshal error", "error", err)
		data = nil
	}

	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	c := newClient(conn, b)
	b.clients[c] = true
	if data != nil {
		c.send <- data
	}
	n := len(b.clients)
	b.mu.Unlock()
	b.metrics.WSClients(n)

	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	n := len(b.clients)
	b.mu.Unlock()
	b.metrics.WSClients(n)
}

// StreamChanged queues s, replacing any older pending stream state.
func (b *Broadcaster) StreamChanged(s stream.Snapshot) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	if b.sawStream && s.Seq <= b.lastStreamSeq {
		return
	}
	b.sawStream, b.lastStreamSeq = true, s.Seq
	b.pendingStream = &s
	b.scheduleFlushLocked()
}

// ArmedChanged queues s, replacing any older pending armed state.
func (b *Broadcaster) ArmedChanged(s armed.State) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	if b.sawArmed && s.Seq <= b.lastArmedSeq {
		return
	}
	b.sawArmed, b.lastArmedSeq = true, s.Seq
	b.pendingArmed = &s
	b.scheduleFlushLocked()
}

// ReportError sends an error message to every client right away.
func (b *Broadcaster) ReportError(op string, err error) {
	b.broadcast(WSMessage{
		Type:    MsgError,
		Payload: ErrorPayload{Op: op, Message: err.Error()},
	})
}

func (b *Broadcaster) scheduleFlushLocked() {
	if b.stopped || b.flushTimer != nil {
		return
	}
	if b.throttle <= 0 {
		b.flushTimer = time.AfterFunc(0, b.flush)
		return
	}
	b.flushTimer = time.AfterFunc(b.throttle, b.flush)
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	st, as := b.pendingStream, b.pendingArmed
	b.pendingStream = nil
	b.pendingArmed = nil
	b.flushTimer = nil
	b.flushMu.Unlock()

	if st != nil {
		b.broadcast(WSMessage{Type: MsgStream, Payload: *st})
	}
	if as != nil {
		b.broadcast(WSMessage{Type: MsgArmed, Payload: *as})
	}
}

func (b *Broadcaster) snapshotMessage() WSMessage {
	return WSMessage{
		Type:    MsgSnapshot,
		Payload: b.src.State(),
	}
}

func (b *Broadcaster) snapshotLoop() {
	for {
		select {
		case <-b.stop:
			return
		case <-b.snapshotTicker.C:
			b.broadcast(b.snapshotMessage())
		}
	}
}

func (b *Broadcaster) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.log.Error("broadcast marshal error", "type", msg.Type, "error", err)
		return
	}

	// Sends happen under the read lock so RemoveClient cannot close a
	// channel mid-send.
	var slow []*client
	b.mu.RLock()
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range slow {
		// Client can't keep up, disconnect it
		b.log.Warn("ws client too slow, disconnecting")
		b.RemoveClient(c)
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Stop halts the snapshot loop and pending flushes and disconnects every
// client.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		b.snapshotTicker.Stop()
		close(b.stop)

		b.flushMu.Lock()
		b.stopped = true
		if b.flushTimer != nil {
			b.flushTimer.Stop()
			b.flushTimer = nil
		}
		b.flushMu.Unlock()

		b.mu.Lock()
		for c := range b.clients {
			delete(b.clients, c)
			c.close()
		}
		b.mu.Unlock()
		b.metrics.WSClients(0)
	})
}
