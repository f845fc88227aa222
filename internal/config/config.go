package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of kuntur.yaml.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Camera    CameraConfig    `yaml:"camera"`
	Stream    StreamConfig    `yaml:"stream"`
	Armed     ArmedConfig     `yaml:"armed"`
	Profile   ProfileConfig   `yaml:"profile"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Health    HealthConfig    `yaml:"health"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// CameraConfig controls how the camera endpoint is reached. URL overrides
// the camera IP stored in the registered profile when set.
type CameraConfig struct {
	URL           string            `yaml:"url"`
	ProbeTimeout  time.Duration     `yaml:"probe_timeout"`
	StatusTimeout time.Duration     `yaml:"status_timeout"`
	FrameTimeout  time.Duration     `yaml:"frame_timeout"`
	QualityPaths  map[string]string `yaml:"quality_paths"`
}

// StreamConfig holds the stream session timings.
type StreamConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval"`
	SettleDelay      time.Duration `yaml:"settle_delay"`
	ReconfigureDelay time.Duration `yaml:"reconfigure_delay"`
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`
	AudioSettleDelay time.Duration `yaml:"audio_settle_delay"`
	AudioTick        time.Duration `yaml:"audio_tick"`
	IncludeAudio     bool          `yaml:"include_audio"`
}

// ArmedConfig selects the arm/disarm backend. An empty BackendURL uses the
// simulated backend with the configured delays.
type ArmedConfig struct {
	BackendURL  string        `yaml:"backend_url"`
	Token       string        `yaml:"token"`
	ArmDelay    time.Duration `yaml:"arm_delay"`
	DisarmDelay time.Duration `yaml:"disarm_delay"`
	StatusDelay time.Duration `yaml:"status_delay"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ProfileConfig locates the registration store and the remote service.
type ProfileConfig struct {
	Path        string `yaml:"path"`
	ServiceURL  string `yaml:"service_url"`
	GeocoderURL string `yaml:"geocoder_url"`
}

// BroadcastConfig tunes the WebSocket fan-out.
type BroadcastConfig struct {
	Throttle         time.Duration `yaml:"throttle"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	MaxConnections   int           `yaml:"max_connections"`
}

// MQTTConfig enables the event emitter when Broker is non-empty.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

type HealthConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8090,
			Host: "127.0.0.1",
		},
		Camera: CameraConfig{
			ProbeTimeout:  8 * time.Second,
			StatusTimeout: 5 * time.Second,
			FrameTimeout:  10 * time.Second,
		},
		Stream: StreamConfig{
			PollInterval:     4 * time.Second,
			SettleDelay:      1500 * time.Millisecond,
			ReconfigureDelay: 800 * time.Millisecond,
			ReconnectBackoff: 10 * time.Second,
			AudioSettleDelay: time.Second,
			AudioTick:        100 * time.Millisecond,
		},
		Armed: ArmedConfig{
			ArmDelay:    2 * time.Second,
			DisarmDelay: 2 * time.Second,
			StatusDelay: 1500 * time.Millisecond,
			Timeout:     10 * time.Second,
		},
		Profile: ProfileConfig{
			GeocoderURL: "https://nominatim.openstreetmap.org",
		},
		Broadcast: BroadcastConfig{
			Throttle:         100 * time.Millisecond,
			SnapshotInterval: 5 * time.Second,
			MaxConnections:   16,
		},
		MQTT: MQTTConfig{
			TopicPrefix: "kuntur",
			QoS:         1,
		},
		Health: HealthConfig{
			Interval: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

// Load reads a YAML config on top of the defaults. A missing file is not an
// error: the defaults are returned as-is.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects values the runtime cannot work with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"camera.probe_timeout", c.Camera.ProbeTimeout},
		{"camera.status_timeout", c.Camera.StatusTimeout},
		{"camera.frame_timeout", c.Camera.FrameTimeout},
		{"stream.poll_interval", c.Stream.PollInterval},
		{"stream.reconnect_backoff", c.Stream.ReconnectBackoff},
		{"stream.audio_tick", c.Stream.AudioTick},
		{"broadcast.throttle", c.Broadcast.Throttle},
		{"broadcast.snapshot_interval", c.Broadcast.SnapshotInterval},
		{"health.interval", c.Health.Interval},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", d.name, d.d)
		}
	}

	// Settle-style delays may be zero (tests, instant backends) but not negative.
	delays := []struct {
		name string
		d    time.Duration
	}{
		{"stream.settle_delay", c.Stream.SettleDelay},
		{"stream.reconfigure_delay", c.Stream.ReconfigureDelay},
		{"stream.audio_settle_delay", c.Stream.AudioSettleDelay},
		{"armed.arm_delay", c.Armed.ArmDelay},
		{"armed.disarm_delay", c.Armed.DisarmDelay},
		{"armed.status_delay", c.Armed.StatusDelay},
	}
	for _, d := range delays {
		if d.d < 0 {
			return fmt.Errorf("%s must not be negative, got %v", d.name, d.d)
		}
	}

	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
