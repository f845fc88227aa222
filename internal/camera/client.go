package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/kuntur/kuntur/internal/logging"
	"github.com/kuntur/kuntur/internal/metrics"
)

var noCacheHeaders = map[string]string{
	"Cache-Control": "no-cache",
	"Pragma":        "no-cache",
}

// ClientOptions tunes the camera client. Zero durations fall back to the
// defaults (8s probe, 5s status, 10s frame).
type ClientOptions struct {
	ProbeTimeout  time.Duration
	StatusTimeout time.Duration
	FrameTimeout  time.Duration
	ProbePaths    []string
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// Client talks to one camera endpoint over plain HTTP.
type Client struct {
	ep      Endpoint
	http    *resty.Client
	opts    ClientOptions
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewClient returns a client for the camera at ep.
func NewClient(ep Endpoint, opts ClientOptions) *Client {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 8 * time.Second
	}
	if opts.StatusTimeout <= 0 {
		opts.StatusTimeout = 5 * time.Second
	}
	if opts.FrameTimeout <= 0 {
		opts.FrameTimeout = 10 * time.Second
	}
	if len(opts.ProbePaths) == 0 {
		opts.ProbePaths = ProbePaths
	}

	r := resty.New()
	r.SetBaseURL(ep.String())
	r.SetHeader("User-Agent", "kuntur/1")

	return &Client{
		ep:      ep,
		http:    r,
		opts:    opts,
		log:     logging.OrDiscard(opts.Logger).With("component", "camera"),
		metrics: opts.Metrics,
	}
}

func (c *Client) Endpoint() Endpoint { return c.ep }

// Probe checks the candidate paths in order and returns the first one that
// answers a HEAD request with a 2xx status. Each attempt is bounded by the
// probe timeout, so the whole probe is bounded by len(paths) x timeout.
func (c *Client) Probe(ctx context.Context) (string, error) {
	perr := &ProbeError{Endpoint: c.ep}

	for _, path := range c.opts.ProbePaths {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		status, err := c.head(ctx, path)
		ok := err == nil && status >= 200 && status < 300
		c.metrics.ProbeAttempt(path, ok)
		if ok {
			c.log.Debug("probe endpoint answered", "url", c.ep.URL(path), "status", status)
			return path, nil
		}

		if err == nil {
			err = fmt.Errorf("HTTP %d", status)
		}
		// Caller cancellation aborts the sequence; a per-attempt timeout does not.
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.log.Debug("probe endpoint failed", "url", c.ep.URL(path), "error", err)
		perr.Attempts = append(perr.Attempts, ProbeAttempt{Path: path, Err: err})
	}

	return "", perr
}

func (c *Client) head(ctx context.Context, path string) (int, error) {
	actx, cancel := context.WithTimeout(ctx, c.opts.ProbeTimeout)
	defer cancel()

	resp, err := c.http.R().
		SetContext(actx).
		SetHeaders(noCacheHeaders).
		Head(path)
	if err != nil {
		if errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return 0, fmt.Errorf("timed out after %v", c.opts.ProbeTimeout)
		}
		return 0, err
	}
	return resp.StatusCode(), nil
}

// Status fetches and decodes the camera's status document.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	actx, cancel := context.WithTimeout(ctx, c.opts.StatusTimeout)
	defer cancel()

	resp, err := c.http.R().
		SetContext(actx).
		SetHeader("Cache-Control", "no-cache").
		Get(PathStatus)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", PathStatus, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("GET %s: HTTP %d", PathStatus, resp.StatusCode())
	}

	st, err := parseStatus(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", PathStatus, err)
	}
	return st, nil
}

// Frame is one fetched still image.
type Frame struct {
	Data        []byte
	ContentType string
	FetchedAt   time.Time
}

// FetchSnapshot downloads the image at url with caching disabled. url may be
// absolute (as produced by Endpoint.SnapshotURL) or a path on the endpoint.
func (c *Client) FetchSnapshot(ctx context.Context, url string) (*Frame, error) {
	actx, cancel := context.WithTimeout(ctx, c.opts.FrameTimeout)
	defer cancel()

	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = c.ep.URL(url)
	}

	resp, err := c.http.R().
		SetContext(actx).
		SetHeaders(noCacheHeaders).
		Get(url)
	if err != nil {
		c.metrics.FrameFetch(false)
		return nil, fmt.Errorf("fetching snapshot: %w", err)
	}
	if !resp.IsSuccess() {
		c.metrics.FrameFetch(false)
		return nil, fmt.Errorf("fetching snapshot: HTTP %d", resp.StatusCode())
	}
	if len(resp.Body()) == 0 {
		c.metrics.FrameFetch(false)
		return nil, errors.New("fetching snapshot: empty body")
	}

	c.metrics.FrameFetch(true)
	return &Frame{
		Data:        resp.Body(),
		ContentType: resp.Header().Get("Content-Type"),
		FetchedAt:   resp.ReceivedAt(),
	}, nil
}
