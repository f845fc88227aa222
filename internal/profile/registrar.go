package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kuntur/kuntur/internal/logging"
)

var ErrNotRegistered = errors.New("no storefront registered")

// Registrar holds the current profile in memory, backed by a Store, and
// coordinates registration with the remote Service.
type Registrar struct {
	store Store
	svc   Service
	now   func() time.Time
	log   *slog.Logger

	mu      sync.RWMutex
	current *Profile
}

// NewRegistrar returns a registrar with nothing loaded; call Restore to read the store.
func NewRegistrar(store Store, svc Service, logger *slog.Logger) *Registrar {
	if svc == nil {
		svc = OfflineService{}
	}
	return &Registrar{
		store: store,
		svc:   svc,
		now:   time.Now,
		log:   logging.OrDiscard(logger).With("component", "profile"),
	}
}

// Restore loads the stored profile into memory. It returns nil when nothing
// is stored.
func (r *Registrar) Restore() (*Profile, error) {
	p, err := r.store.Load()
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.current = p
	r.mu.Unlock()
	return clone(p), nil
}

// Register validates reg, submits it to the service and stores the profile
// on success. A rejection by the service is returned as an error carrying
// the service message.
func (r *Registrar) Register(ctx context.Context, reg Registration) (*Profile, error) {
	if err := reg.Validate(); err != nil {
		return nil, err
	}

	res, err := r.svc.Register(ctx, reg)
	if err != nil {
		return nil, fmt.Errorf("registering: %w", err)
	}
	if !res.Success {
		msg := res.Message
		if msg == "" {
			msg = "registration rejected"
		}
		return nil, errors.New(msg)
	}

	p := reg.Profile(r.now())
	if err := r.store.Save(&p); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.current = &p
	r.mu.Unlock()
	r.log.Info("storefront registered", "local_name", p.LocalName, "camera", p.CameraIP)
	return clone(&p), nil
}

// Login authenticates against the service and stores the profile it
// returns.
func (r *Registrar) Login(ctx context.Context, creds Credentials) (*Profile, error) {
	res, err := r.svc.Login(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("logging in: %w", err)
	}
	if !res.Success {
		msg := res.Message
		if msg == "" {
			msg = "login rejected"
		}
		return nil, errors.New(msg)
	}

	p, err := r.svc.Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching profile: %w", err)
	}
	if p.RegisteredAt.IsZero() {
		p.RegisteredAt = r.now().UTC()
	}
	if err := r.store.Save(p); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.current = p
	r.mu.Unlock()
	r.log.Info("logged in", "local_name", p.LocalName)
	return clone(p), nil
}

// Update overlays the non-zero fields of patch onto the current profile and
// stores the result.
func (r *Registrar) Update(patch Profile) (*Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil, ErrNotRegistered
	}

	p := r.current.merge(patch)
	if err := r.store.Save(&p); err != nil {
		return nil, err
	}
	r.current = &p
	return clone(&p), nil
}

// Logout tells the service and clears the local profile. The local profile
// is cleared even when the service call fails.
func (r *Registrar) Logout(ctx context.Context) error {
	if err := r.svc.Logout(ctx); err != nil {
		r.log.Warn("remote logout failed, clearing locally", "error", err)
	}
	return r.Clear()
}

// Clear removes the stored profile.
func (r *Registrar) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Clear(); err != nil {
		return err
	}
	r.current = nil
	return nil
}

// IsRegistered reports whether a profile is loaded.
func (r *Registrar) IsRegistered() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current != nil
}

// Current returns a copy of the profile, or nil.
func (r *Registrar) Current() *Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return clone(r.current)
}

// CheckLocalExists asks the service whether a storefront name is taken. Any
// failure reads as "not taken".
func (r *Registrar) CheckLocalExists(ctx context.Context, localName string) bool {
	exists, err := r.svc.Exists(ctx, localName)
	if err != nil {
		r.log.Debug("exists check failed", "error", err)
		return false
	}
	return exists
}

func clone(p *Profile) *Profile {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
