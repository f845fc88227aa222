package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Quality is a video resolution tier.
type Quality int

const (
	QualityHD Quality = iota
	QualitySD
	QualityLow
)

var qualityNames = map[Quality]string{
	QualityHD:  "HD",
	QualitySD:  "SD",
	QualityLow: "LOW",
}

// Qualities lists the tiers in display order.
var Qualities = []Quality{QualityHD, QualitySD, QualityLow}

func (q Quality) String() string {
	if s, ok := qualityNames[q]; ok {
		return s
	}
	return "unknown"
}

func (q Quality) Valid() bool {
	_, ok := qualityNames[q]
	return ok
}

// Next cycles HD -> SD -> LOW -> HD.
func (q Quality) Next() Quality {
	return Qualities[(int(q)+1)%len(Qualities)]
}

// ParseQuality accepts the tier names case-insensitively.
func ParseQuality(s string) (Quality, error) {
	for q, name := range qualityNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return q, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidQuality, s)
}

func (q Quality) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.String())
}

func (q *Quality) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseQuality(s)
	if err != nil {
		return err
	}
	*q = v
	return nil
}

// ErrorKind classifies the error attached to a session.
type ErrorKind int

const (
	ErrorNone ErrorKind = iota
	ErrorConnection
	ErrorConfiguration
	ErrorTransientFetch
)

var errorKindNames = map[ErrorKind]string{
	ErrorNone:           "",
	ErrorConnection:     "connection",
	ErrorConfiguration:  "configuration",
	ErrorTransientFetch: "transient_fetch",
}

var errorKindFromName = map[string]ErrorKind{
	"":                ErrorNone,
	"connection":      ErrorConnection,
	"configuration":   ErrorConfiguration,
	"transient_fetch": ErrorTransientFetch,
}

func (k ErrorKind) String() string {
	return errorKindNames[k]
}

func (k ErrorKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *ErrorKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if v, ok := errorKindFromName[s]; ok {
		*k = v
	}
	return nil
}

var (
	ErrNoCamera       = errors.New("no camera endpoint registered")
	ErrInvalidQuality = errors.New("invalid quality")
)

// ConfigError is returned when the manager cannot be built against a
// usable camera target.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return "stream configuration: " + e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

// VideoSession is the polled-snapshot video state.
type VideoSession struct {
	Active         bool              `json:"active"`
	Connecting     bool              `json:"connecting"`
	LastError      string            `json:"lastError,omitempty"`
	ErrorKind      ErrorKind         `json:"errorKind,omitempty"`
	Quality        Quality           `json:"quality"`
	SnapshotURL    string            `json:"snapshotUrl,omitempty"`
	LastSnapshotAt time.Time         `json:"lastSnapshotAt"`
	LastFrameAt    time.Time         `json:"lastFrameAt"`
	Degraded       bool              `json:"degraded,omitempty"`
	SessionID      string            `json:"sessionId,omitempty"`
	ProbedPath     string            `json:"probedPath,omitempty"`
	CameraInfo     map[string]string `json:"cameraInfo,omitempty"`
}

// Live reports whether the session is producing frames. An error makes the
// session unusable even when Active is still set.
func (v VideoSession) Live() bool {
	return v.Active && !v.Connecting && v.LastError == ""
}

// Phase is a display label: idle, connecting, live, degraded or error.
func (v VideoSession) Phase() string {
	switch {
	case v.LastError != "":
		return "error"
	case v.Connecting:
		return "connecting"
	case v.Active && v.Degraded:
		return "degraded"
	case v.Active:
		return "live"
	default:
		return "idle"
	}
}

func (v VideoSession) clone() VideoSession {
	if v.CameraInfo != nil {
		info := make(map[string]string, len(v.CameraInfo))
		for k, val := range v.CameraInfo {
			info[k] = val
		}
		v.CameraInfo = info
	}
	return v
}

// AudioSession is the simulated audio state. Level is in [0,100].
type AudioSession struct {
	Active     bool      `json:"active"`
	Connecting bool      `json:"connecting"`
	LastError  string    `json:"lastError,omitempty"`
	ErrorKind  ErrorKind `json:"errorKind,omitempty"`
	Level      float64   `json:"level"`
}

// Live reports whether audio is flowing.
func (a AudioSession) Live() bool {
	return a.Active && !a.Connecting && a.LastError == ""
}

func (a AudioSession) Phase() string {
	switch {
	case a.LastError != "":
		return "error"
	case a.Connecting:
		return "connecting"
	case a.Active:
		return "live"
	default:
		return "idle"
	}
}

// Snapshot is a point-in-time copy of both sessions. Seq increases with every
// change so consumers can drop out-of-order deliveries.
type Snapshot struct {
	Seq    uint64       `json:"seq"`
	Camera string       `json:"camera"`
	Video  VideoSession `json:"video"`
	Audio  AudioSession `json:"audio"`
}

// Timings are the manager's delays and periods.
type Timings struct {
	PollInterval     time.Duration
	SettleDelay      time.Duration
	ReconfigureDelay time.Duration
	ReconnectBackoff time.Duration
	AudioSettleDelay time.Duration
	AudioTick        time.Duration
}

// DefaultTimings returns the production delays.
func DefaultTimings() Timings {
	return Timings{
		PollInterval:     4 * time.Second,
		SettleDelay:      1500 * time.Millisecond,
		ReconfigureDelay: 800 * time.Millisecond,
		ReconnectBackoff: 10 * time.Second,
		AudioSettleDelay: time.Second,
		AudioTick:        100 * time.Millisecond,
	}
}

// withDefaults fills periods that must be positive. Settle-style delays may
// legitimately be zero.
func (t Timings) withDefaults() Timings {
	d := DefaultTimings()
	if t.PollInterval <= 0 {
		t.PollInterval = d.PollInterval
	}
	if t.ReconnectBackoff <= 0 {
		t.ReconnectBackoff = d.ReconnectBackoff
	}
	if t.AudioTick <= 0 {
		t.AudioTick = d.AudioTick
	}
	for _, p := range []*time.Duration{&t.SettleDelay, &t.ReconfigureDelay, &t.AudioSettleDelay} {
		if *p < 0 {
			*p = 0
		}
	}
	return t
}
