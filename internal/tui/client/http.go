package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/kuntur/kuntur/internal/health"
	"github.com/kuntur/kuntur/internal/kuntur"
	"github.com/kuntur/kuntur/internal/stream"
)

// HTTPClient makes REST calls to the kuntur server.
type HTTPClient struct {
	http *resty.Client
}

// NewHTTPClient creates a client targeting baseURL (e.g.
// "http://127.0.0.1:8090").
func NewHTTPClient(baseURL, token string) *HTTPClient {
	r := resty.New()
	r.SetBaseURL(strings.TrimSuffix(baseURL, "/"))
	r.SetTimeout(10 * time.Second)
	if token != "" {
		r.SetAuthToken(token)
	}
	return &HTTPClient{http: r}
}

// Health mirrors the server's /api/health response.
type Health struct {
	Status     string         `json:"status"`
	Registered bool           `json:"registered"`
	Clients    int            `json:"clients"`
	Host       *health.Report `json:"host,omitempty"`
}

type apiError struct {
	Error string `json:"error"`
}

// State fetches the full coordinator state.
func (c *HTTPClient) State(ctx context.Context) (*kuntur.State, error) {
	var st kuntur.State
	if err := c.get(ctx, "/api/state", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *HTTPClient) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.get(ctx, "/api/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Kuntur posts an armed intent: activate, deactivate, toggle or refresh.
func (c *HTTPClient) Kuntur(ctx context.Context, action string) error {
	return c.post(ctx, "/api/kuntur/"+action, nil)
}

// Video posts a video intent: start, stop, retry or clear-error.
func (c *HTTPClient) Video(ctx context.Context, action string) error {
	return c.post(ctx, "/api/video/"+action, nil)
}

// Audio posts an audio intent: start, stop or clear-error.
func (c *HTTPClient) Audio(ctx context.Context, action string) error {
	return c.post(ctx, "/api/audio/"+action, nil)
}

// SetQuality asks the server to switch the video quality.
func (c *HTTPClient) SetQuality(ctx context.Context, q stream.Quality) error {
	return c.post(ctx, "/api/video/quality", map[string]string{"quality": q.String()})
}

// Frame downloads the current snapshot through the server.
func (c *HTTPClient) Frame(ctx context.Context) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Cache-Control", "no-cache").
		Get("/api/video/frame")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("GET /api/video/frame: %d %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return resp.Body(), nil
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(out).
		SetError(&apiError{}).
		Get(path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return responseError("GET", path, resp)
	}
	return nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body any) error {
	req := c.http.R().SetContext(ctx).SetError(&apiError{})
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Post(path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return responseError("POST", path, resp)
	}
	return nil
}

func responseError(method, path string, resp *resty.Response) error {
	if e, ok := resp.Error().(*apiError); ok && e.Error != "" {
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode(), e.Error)
	}
	return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode(), strings.TrimSpace(resp.String()))
}
