package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Service is the remote registration service.
type Service interface {
	Register(ctx context.Context, reg Registration) (Result, error)
	Login(ctx context.Context, creds Credentials) (Result, error)
	Exists(ctx context.Context, localName string) (bool, error)
	Me(ctx context.Context) (*Profile, error)
	Logout(ctx context.Context) error
}

var ErrOffline = errors.New("no registration service configured")

// NewService returns an HTTP client for baseURL, or an offline service that
// accepts every registration when baseURL is empty.
func NewService(baseURL string, timeout time.Duration) Service {
	if baseURL == "" {
		return OfflineService{}
	}
	return NewHTTPService(baseURL, timeout)
}

// HTTPService talks JSON to the registration API.
type HTTPService struct {
	http *resty.Client
}

// NewHTTPService talks to the registration service at baseURL.
func NewHTTPService(baseURL string, timeout time.Duration) *HTTPService {
	r := resty.New()
	r.SetBaseURL(baseURL)
	r.SetHeader("Content-Type", "application/json")
	r.SetHeader("Accept", "application/json")
	if timeout > 0 {
		r.SetTimeout(timeout)
	}
	return &HTTPService{http: r}
}

func (s *HTTPService) Register(ctx context.Context, reg Registration) (Result, error) {
	return s.submit(ctx, "/users/register", reg)
}

// Login authenticates and keeps the returned token for later calls.
func (s *HTTPService) Login(ctx context.Context, creds Credentials) (Result, error) {
	res, err := s.submit(ctx, "/users/login", creds)
	if err != nil {
		return res, err
	}
	if res.Success && res.Token != "" {
		s.http.SetAuthToken(res.Token)
	}
	return res, nil
}

// submit posts body and decodes a Result. The API reports rejections with a
// 4xx status and a Result body, which is returned without an error.
func (s *HTTPService) submit(ctx context.Context, path string, body any) (Result, error) {
	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&Result{}).
		SetError(&Result{}).
		Post(path)
	if err != nil {
		return Result{}, fmt.Errorf("POST %s: %w", path, err)
	}

	if resp.IsError() {
		if res, ok := resp.Error().(*Result); ok && res.Message != "" {
			res.Success = false
			return *res, nil
		}
		return Result{}, fmt.Errorf("POST %s: HTTP %d", path, resp.StatusCode())
	}

	res, ok := resp.Result().(*Result)
	if !ok {
		return Result{}, fmt.Errorf("POST %s: unexpected response", path)
	}
	return *res, nil
}

func (s *HTTPService) Exists(ctx context.Context, localName string) (bool, error) {
	var out struct {
		Exists bool `json:"exists"`
	}
	resp, err := s.http.R().
		SetContext(ctx).
		SetQueryParam("local_name", localName).
		SetResult(&out).
		Get("/users/exists")
	if err != nil {
		return false, fmt.Errorf("GET /users/exists: %w", err)
	}
	if resp.IsError() {
		return false, fmt.Errorf("GET /users/exists: HTTP %d", resp.StatusCode())
	}
	return out.Exists, nil
}

func (s *HTTPService) Me(ctx context.Context) (*Profile, error) {
	var p Profile
	resp, err := s.http.R().
		SetContext(ctx).
		SetResult(&p).
		Get("/users/me")
	if err != nil {
		return nil, fmt.Errorf("GET /users/me: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("GET /users/me: HTTP %d", resp.StatusCode())
	}
	return &p, nil
}

func (s *HTTPService) Logout(ctx context.Context) error {
	resp, err := s.http.R().SetContext(ctx).Post("/users/logout")
	if err != nil {
		return fmt.Errorf("POST /users/logout: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("POST /users/logout: HTTP %d", resp.StatusCode())
	}
	s.http.SetAuthToken("")
	return nil
}

// OfflineService is used when no registration API is configured. Local
// registration always succeeds; anything needing the server fails.
type OfflineService struct{}

func (OfflineService) Register(context.Context, Registration) (Result, error) {
	return Result{Success: true, Message: "registered locally"}, nil
}

func (OfflineService) Login(context.Context, Credentials) (Result, error) {
	return Result{}, ErrOffline
}

func (OfflineService) Exists(context.Context, string) (bool, error) {
	return false, ErrOffline
}

func (OfflineService) Me(context.Context) (*Profile, error) {
	return nil, ErrOffline
}

func (OfflineService) Logout(context.Context) error {
	return nil
}
