// Package camera holds the registered camera endpoint and the HTTP client
// used to probe it, read its status document and fetch snapshots.
package camera

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

// Camera HTTP surface paths.
const (
	PathSnapshot  = "/shot.jpg"
	PathStatus    = "/status.json"
	PathVideo     = "/video"
	PathVideoFeed = "/videofeed"
	PathAudio     = "/audio.wav"
	PathSettings  = "/settings.json"
)

// ProbePaths is the ordered list of endpoints tried by the connectivity probe.
var ProbePaths = []string{PathSnapshot, PathStatus, PathVideo, PathVideoFeed}

var (
	ErrNoEndpoint     = errors.New("camera: no endpoint registered")
	ErrEndpointLocked = errors.New("camera: endpoint already registered")
	ErrInvalidURL     = errors.New("camera: invalid endpoint URL")
)

// Endpoint is the base URL (scheme, host and port) of one camera. The zero
// value means "not set".
type Endpoint struct {
	base string
}

// ParseEndpoint normalises user input such as "192.168.1.51:8080" or
// "http://192.168.1.51:8080/" into an Endpoint.
func ParseEndpoint(raw string) (Endpoint, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Endpoint{}, fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Endpoint{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return Endpoint{}, fmt.Errorf("%w: missing host in %q", ErrInvalidURL, raw)
	}
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err != nil || n <= 0 || n > 65535 {
			return Endpoint{}, fmt.Errorf("%w: bad port %q", ErrInvalidURL, p)
		}
	}

	return Endpoint{base: u.Scheme + "://" + u.Host}, nil
}

// MustParseEndpoint is ParseEndpoint for constants and tests.
func MustParseEndpoint(raw string) Endpoint {
	ep, err := ParseEndpoint(raw)
	if err != nil {
		panic(err)
	}
	return ep
}

func (e Endpoint) IsZero() bool   { return e.base == "" }
func (e Endpoint) String() string { return e.base }

// URL joins path onto the base URL.
func (e Endpoint) URL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return e.base + path
}

// SnapshotURL builds a cache-busted still-image URL.
func (e Endpoint) SnapshotURL(path string, stamp int64) string {
	if path == "" {
		path = PathSnapshot
	}
	return fmt.Sprintf("%s?random=%d", e.URL(path), stamp)
}

// URLs lists the well-known camera URLs.
type URLs struct {
	Snapshot  string `json:"snapshot"`
	Video     string `json:"video"`
	VideoFeed string `json:"videofeed"`
	Audio     string `json:"audio"`
	Status    string `json:"status"`
	Settings  string `json:"settings"`
}

// URLs derives the camera endpoints from the base address.
func (e Endpoint) URLs() URLs {
	return URLs{
		Snapshot:  e.URL(PathSnapshot),
		Video:     e.URL(PathVideo),
		VideoFeed: e.URL(PathVideoFeed),
		Audio:     e.URL(PathAudio),
		Status:    e.URL(PathStatus),
		Settings:  e.URL(PathSettings),
	}
}

// Registry holds the camera endpoint for the lifetime of the process. It is
// written once, at registration, and read by the stream manager.
type Registry struct {
	mu sync.RWMutex
	ep Endpoint
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Set registers the endpoint parsed from raw. Setting the same endpoint
// again is a no-op; a different endpoint returns ErrEndpointLocked.
func (r *Registry) Set(raw string) (Endpoint, error) {
	ep, err := ParseEndpoint(raw)
	if err != nil {
		return Endpoint{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ep.IsZero() {
		if r.ep == ep {
			return ep, nil
		}
		return r.ep, fmt.Errorf("%w: %s", ErrEndpointLocked, r.ep)
	}
	r.ep = ep
	return ep, nil
}

// Endpoint returns the registered endpoint and whether one is set.
func (r *Registry) Endpoint() (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ep, !r.ep.IsZero()
}
