package profile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// Geocoder turns coordinates into a street address using a Nominatim
// compatible reverse geocoding API.
type Geocoder struct {
	http *resty.Client
}

type reverseResponse struct {
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
}

// NewGeocoder queries the reverse-geocoding service at baseURL.
func NewGeocoder(baseURL string, timeout time.Duration) *Geocoder {
	r := resty.New()
	r.SetBaseURL(baseURL)
	r.SetHeader("Accept", "application/json")
	// Nominatim's usage policy requires an identifying User-Agent.
	r.SetHeader("User-Agent", "kuntur/1")
	if timeout > 0 {
		r.SetTimeout(timeout)
	}
	return &Geocoder{http: r}
}

// Reverse returns the display address for lat/lon.
func (g *Geocoder) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	resp, err := g.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"format":         "json",
			"lat":            strconv.FormatFloat(lat, 'f', 6, 64),
			"lon":            strconv.FormatFloat(lon, 'f', 6, 64),
			"addressdetails": "1",
		}).
		SetResult(&reverseResponse{}).
		Get("/reverse")
	if err != nil {
		return "", fmt.Errorf("reverse geocoding: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("reverse geocoding: HTTP %d", resp.StatusCode())
	}

	out, ok := resp.Result().(*reverseResponse)
	if !ok {
		return "", errors.New("reverse geocoding: unexpected response")
	}
	if out.Error != "" {
		return "", fmt.Errorf("reverse geocoding: %s", out.Error)
	}
	if out.DisplayName == "" {
		return "", errors.New("reverse geocoding: no address found")
	}
	return out.DisplayName, nil
}
