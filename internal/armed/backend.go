package armed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// SimulatedBackend stands in for a remote arming service. Each call waits
// its configured delay; Status reports whatever the last successful Arm or
// Disarm left behind.
type SimulatedBackend struct {
	ArmDelay    time.Duration
	DisarmDelay time.Duration
	StatusDelay time.Duration

	mu       sync.Mutex
	armed    bool
	failures map[string]error
}

// NewSimulatedBackend returns an in-memory backend that answers after the given delays.
func NewSimulatedBackend(armDelay, disarmDelay, statusDelay time.Duration) *SimulatedBackend {
	return &SimulatedBackend{
		ArmDelay:    armDelay,
		DisarmDelay: disarmDelay,
		StatusDelay: statusDelay,
		failures:    make(map[string]error),
	}
}

// Fail makes every later call of op ("arm", "disarm" or "status") return
// err. A nil err clears the failure.
func (b *SimulatedBackend) Fail(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failures, op)
		return
	}
	b.failures[op] = err
}

// SetArmed changes the remote state directly, as another client would.
func (b *SimulatedBackend) SetArmed(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.armed = on
}

func (b *SimulatedBackend) Arm(ctx context.Context) error {
	return b.call(ctx, "arm", b.ArmDelay, func() { b.armed = true })
}

func (b *SimulatedBackend) Disarm(ctx context.Context) error {
	return b.call(ctx, "disarm", b.DisarmDelay, func() { b.armed = false })
}

func (b *SimulatedBackend) Status(ctx context.Context) (Status, error) {
	var st Status
	err := b.call(ctx, "status", b.StatusDelay, func() {
		if b.armed {
			st = On
		}
	})
	return st, err
}

func (b *SimulatedBackend) call(ctx context.Context, op string, d time.Duration, apply func()) error {
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failures[op]; err != nil {
		return err
	}
	apply()
	return nil
}

// HTTPBackend talks to a remote arming service:
//
//	POST {base}/arm
//	POST {base}/disarm
//	GET  {base}/status  -> {"status": "on" | "off"}
type HTTPBackend struct {
	http *resty.Client
}

type statusResponse struct {
	Status string `json:"status"`
}

// NewHTTPBackend talks to the alarm service at baseURL.
func NewHTTPBackend(baseURL, token string, timeout time.Duration) *HTTPBackend {
	r := resty.New()
	r.SetBaseURL(baseURL)
	r.SetHeader("Content-Type", "application/json")
	r.SetHeader("Accept", "application/json")
	if timeout > 0 {
		r.SetTimeout(timeout)
	}
	if token != "" {
		r.SetAuthToken(token)
	}
	return &HTTPBackend{http: r}
}

func (b *HTTPBackend) Arm(ctx context.Context) error {
	return b.post(ctx, "/arm")
}

func (b *HTTPBackend) Disarm(ctx context.Context) error {
	return b.post(ctx, "/disarm")
}

func (b *HTTPBackend) post(ctx context.Context, path string) error {
	resp, err := b.http.R().SetContext(ctx).Post(path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("POST %s: HTTP %d: %s", path, resp.StatusCode(), resp.String())
	}
	return nil
}

func (b *HTTPBackend) Status(ctx context.Context) (Status, error) {
	resp, err := b.http.R().
		SetContext(ctx).
		SetResult(&statusResponse{}).
		Get("/status")
	if err != nil {
		return Off, err
	}
	if resp.IsError() {
		return Off, fmt.Errorf("GET /status: HTTP %d", resp.StatusCode())
	}
	out, ok := resp.Result().(*statusResponse)
	if !ok {
		return Off, errors.New("GET /status: unexpected response")
	}
	return ParseStatus(out.Status)
}
