// Package profile stores the registered storefront profile and talks to the
// remote registration service.
package profile

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

const MinPasswordLength = 6

// Profile is the registered storefront. CameraIP is the camera base URL as
// the user typed it.
type Profile struct {
	LocalName    string    `json:"local_name"`
	CameraIP     string    `json:"camera_ip"`
	Address      string    `json:"address"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Registration is the form submitted to register a storefront.
type Registration struct {
	LocalName string  `json:"local_name"`
	CameraIP  string  `json:"camera_ip"`
	Address   string  `json:"address"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Password  string  `json:"password"`
}

// Credentials identify a registered storefront.
type Credentials struct {
	LocalName string `json:"local_name"`
	Password  string `json:"password"`
}

// Result is the registration service's verdict.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Token   string `json:"token,omitempty"`
}

var ErrInvalid = errors.New("invalid registration")

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

// Validate checks that every field is present, the password is long enough
// and the coordinates are real.
func (r Registration) Validate() error {
	required := []struct {
		field, value string
	}{
		{"local_name", r.LocalName},
		{"camera_ip", r.CameraIP},
		{"address", r.Address},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return &ValidationError{Field: f.field, Reason: "required"}
		}
	}

	if r.Latitude == 0 && r.Longitude == 0 {
		return &ValidationError{Field: "location", Reason: "required"}
	}
	if math.IsNaN(r.Latitude) || r.Latitude < -90 || r.Latitude > 90 {
		return &ValidationError{Field: "latitude", Reason: "must be between -90 and 90"}
	}
	if math.IsNaN(r.Longitude) || r.Longitude < -180 || r.Longitude > 180 {
		return &ValidationError{Field: "longitude", Reason: "must be between -180 and 180"}
	}

	if strings.TrimSpace(r.Password) == "" {
		return &ValidationError{Field: "password", Reason: "required"}
	}
	if len(r.Password) < MinPasswordLength {
		return &ValidationError{Field: "password", Reason: fmt.Sprintf("must be at least %d characters", MinPasswordLength)}
	}
	return nil
}

// Profile returns the storable part of the registration.
func (r Registration) Profile(at time.Time) Profile {
	return Profile{
		LocalName:    strings.TrimSpace(r.LocalName),
		CameraIP:     strings.TrimSpace(r.CameraIP),
		Address:      strings.TrimSpace(r.Address),
		Latitude:     r.Latitude,
		Longitude:    r.Longitude,
		RegisteredAt: at.UTC(),
	}
}

// merge overlays the non-zero fields of patch onto p.
func (p Profile) merge(patch Profile) Profile {
	if patch.LocalName != "" {
		p.LocalName = patch.LocalName
	}
	if patch.CameraIP != "" {
		p.CameraIP = patch.CameraIP
	}
	if patch.Address != "" {
		p.Address = patch.Address
	}
	if patch.Latitude != 0 || patch.Longitude != 0 {
		p.Latitude = patch.Latitude
		p.Longitude = patch.Longitude
	}
	return p
}
