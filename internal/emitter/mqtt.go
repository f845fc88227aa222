// Package emitter publishes Kuntur state transitions to an MQTT broker so
// alarm panels and home-automation hubs can follow the storefront.
package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kuntur/kuntur/internal/armed"
	"github.com/kuntur/kuntur/internal/config"
	"github.com/kuntur/kuntur/internal/logging"
	"github.com/kuntur/kuntur/internal/stream"
)

var ErrNotConnected = errors.New("mqtt not connected")

// publisher is the slice of the paho client the emitter needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

type pahoPublisher struct {
	client mqtt.Client
}

func (p pahoPublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	return token.Error()
}

// ArmedEvent is published (retained) on <prefix>/armed.
type ArmedEvent struct {
	Status    armed.Status `json:"status"`
	Phase     armed.Phase  `json:"phase"`
	LastError string       `json:"lastError,omitempty"`
	At        time.Time    `json:"at"`
}

// StreamEvent is published on <prefix>/stream.
type StreamEvent struct {
	Camera  string         `json:"camera"`
	Video   string         `json:"video"`
	Audio   string         `json:"audio"`
	Quality stream.Quality `json:"quality"`
	Error   string         `json:"error,omitempty"`
	At      time.Time      `json:"at"`
}

type message struct {
	topic    string
	retained bool
	payload  []byte
}

// Emitter implements kuntur.Observer. It publishes only transitions: audio
// level ticks and snapshot URL refreshes are not sent.
type Emitter struct {
	cfg    config.MQTTConfig
	log    *slog.Logger
	now    func() time.Time
	client mqtt.Client

	mu         sync.Mutex
	pub        publisher
	lastArmed  *ArmedEvent
	lastStream *StreamEvent
	published  map[string]uint64
	errors     uint64

	// Seq of the newest delivery per kind; saw* lets seq 0 through first.
	lastArmedSeq  uint64
	lastStreamSeq uint64
	sawArmed      bool
	sawStream     bool

	queue chan message
	done  chan struct{}
	once  sync.Once
}

// New returns an emitter for cfg. Call Connect before observing.
func New(cfg config.MQTTConfig, logger *slog.Logger) *Emitter {
	e := &Emitter{
		cfg:       cfg,
		log:       logging.OrDiscard(logger).With("component", "mqtt"),
		now:       time.Now,
		published: make(map[string]uint64),
		queue:     make(chan message, 32),
		done:      make(chan struct{}),
	}
	go e.run()
	return e
}

func brokerURL(b string) string {
	if strings.Contains(b, "://") {
		return b
	}
	return "tcp://" + b
}

// Connect establishes the broker connection. Paho reconnects on its own
// after a later loss.
func (e *Emitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(e.cfg.Broker))
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetWill(e.topic("online"), "false", 1, true)

	opts.OnConnect = func(c mqtt.Client) {
		e.log.Info("mqtt connection established", "broker", e.cfg.Broker, "client_id", e.cfg.ClientID)
		c.Publish(e.topic("online"), 1, true, "true")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.log.Warn("mqtt connection lost, will auto-reconnect", "error", err, "broker", e.cfg.Broker)
	}

	client := mqtt.NewClient(opts)
	e.log.Info("connecting to mqtt broker", "broker", e.cfg.Broker)

	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		return ctx.Err()
	case <-time.After(5 * time.Second):
		client.Disconnect(0)
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.mu.Lock()
	e.client = client
	e.pub = pahoPublisher{client: client}
	e.mu.Unlock()
	return nil
}

func (e *Emitter) topic(name string) string {
	return strings.TrimSuffix(e.cfg.TopicPrefix, "/") + "/" + name
}

// ArmedChanged publishes armed transitions. Deliveries with a seq not
// newer than the last one seen are dropped.
func (e *Emitter) ArmedChanged(s armed.State) {
	ev := ArmedEvent{Status: s.Status, Phase: s.Phase, LastError: s.LastError, At: s.ChangedAt}
	if ev.At.IsZero() {
		ev.At = e.now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sawArmed && s.Seq <= e.lastArmedSeq {
		return
	}
	e.sawArmed = true
	e.lastArmedSeq = s.Seq
	if e.lastArmed != nil && e.lastArmed.Status == ev.Status &&
		e.lastArmed.Phase == ev.Phase && e.lastArmed.LastError == ev.LastError {
		return
	}
	e.lastArmed = &ev
	e.enqueueLocked("armed", true, ev)
}

// StreamChanged publishes video and audio phase transitions, dropping
// out-of-order deliveries like ArmedChanged.
func (e *Emitter) StreamChanged(s stream.Snapshot) {
	ev := StreamEvent{
		Camera:  s.Camera,
		Video:   s.Video.Phase(),
		Audio:   s.Audio.Phase(),
		Quality: s.Video.Quality,
		Error:   s.Video.LastError,
		At:      e.now(),
	}
	if ev.Error == "" {
		ev.Error = s.Audio.LastError
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sawStream && s.Seq <= e.lastStreamSeq {
		return
	}
	e.sawStream = true
	e.lastStreamSeq = s.Seq
	if l := e.lastStream; l != nil && l.Camera == ev.Camera && l.Video == ev.Video &&
		l.Audio == ev.Audio && l.Quality == ev.Quality && l.Error == ev.Error {
		return
	}
	e.lastStream = &ev
	e.enqueueLocked("stream", false, ev)
}

// enqueueLocked never blocks the caller; observers run on the owners'
// goroutines. Queuing under e.mu keeps the queue in seq order.
func (e *Emitter) enqueueLocked(name string, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		e.log.Error("marshal event", "topic", name, "error", err)
		return
	}

	select {
	case <-e.done:
		return
	default:
	}

	select {
	case e.queue <- message{topic: e.topic(name), retained: retained, payload: payload}:
	default:
		e.errors++
		e.log.Warn("mqtt queue full, dropping event", "topic", name)
	}
}

func (e *Emitter) run() {
	for {
		select {
		case <-e.done:
			return
		case m := <-e.queue:
			e.publish(m)
		}
	}
}

func (e *Emitter) publish(m message) {
	e.mu.Lock()
	pub := e.pub
	e.mu.Unlock()

	var err error
	if pub == nil {
		err = ErrNotConnected
	} else {
		err = pub.Publish(m.topic, e.cfg.QoS, m.retained, m.payload)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.errors++
		e.log.Debug("publish failed", "topic", m.topic, "error", err)
		return
	}
	e.published[m.topic]++
	e.log.Debug("event published", "topic", m.topic, "size", len(m.payload))
}

// Stats contains emitter statistics.
type Stats struct {
	Published map[string]uint64
	Errors    uint64
}

// Stats returns publish counters per topic.
func (e *Emitter) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{Published: published, Errors: e.errors}
}

// Close stops publishing and disconnects from the broker.
func (e *Emitter) Close() {
	e.once.Do(func() {
		close(e.done)

		e.mu.Lock()
		client := e.client
		e.mu.Unlock()
		if client != nil && client.IsConnected() {
			client.Publish(e.topic("online"), 1, true, "false").WaitTimeout(time.Second)
			client.Disconnect(250)
			e.log.Info("mqtt disconnected")
		}
	})
}
