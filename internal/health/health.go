// Package health samples host load so operators can tell a struggling
// machine apart from a struggling camera.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/kuntur/kuntur/internal/logging"
)

// Report is one host sample. Fields that could not be read are left zero
// and the failure is listed in Errors.
type Report struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemPercent    float64   `json:"mem_percent"`
	Load1         float64   `json:"load1"`
	UptimeSeconds uint64    `json:"uptime_seconds"`
	SampledAt     time.Time `json:"sampled_at"`
	Errors        []string  `json:"errors,omitempty"`
}

// source abstracts gopsutil so tests can feed fixed values.
type source struct {
	cpu    func(context.Context) (float64, error)
	mem    func(context.Context) (float64, error)
	load   func(context.Context) (float64, error)
	uptime func(context.Context) (uint64, error)
}

func hostSource() source {
	return source{
		cpu: func(ctx context.Context) (float64, error) {
			p, err := cpu.PercentWithContext(ctx, 0, false)
			if err != nil || len(p) == 0 {
				return 0, err
			}
			return p[0], nil
		},
		mem: func(ctx context.Context) (float64, error) {
			v, err := mem.VirtualMemoryWithContext(ctx)
			if err != nil {
				return 0, err
			}
			return v.UsedPercent, nil
		},
		load: func(ctx context.Context) (float64, error) {
			a, err := load.AvgWithContext(ctx)
			if err != nil {
				return 0, err
			}
			return a.Load1, nil
		},
		uptime: host.UptimeWithContext,
	}
}

// Sampler periodically samples the host and keeps the latest report.
type Sampler struct {
	interval time.Duration
	src      source
	now      func() time.Time
	log      *slog.Logger

	mu     sync.RWMutex
	latest Report
	ok     bool
}

// NewSampler samples host load every interval once Run is called.
func NewSampler(interval time.Duration, logger *slog.Logger) *Sampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Sampler{
		interval: interval,
		src:      hostSource(),
		now:      time.Now,
		log:      logging.OrDiscard(logger).With("component", "health"),
	}
}

// Sample reads the host now and stores the result as the latest report.
func (s *Sampler) Sample(ctx context.Context) Report {
	r := Report{SampledAt: s.now()}
	fail := func(what string, err error) {
		r.Errors = append(r.Errors, what+": "+err.Error())
	}

	var err error
	if r.CPUPercent, err = s.src.cpu(ctx); err != nil {
		fail("cpu", err)
	}
	if r.MemPercent, err = s.src.mem(ctx); err != nil {
		fail("mem", err)
	}
	if r.Load1, err = s.src.load(ctx); err != nil {
		fail("load", err)
	}
	if r.UptimeSeconds, err = s.src.uptime(ctx); err != nil {
		fail("uptime", err)
	}

	s.mu.Lock()
	s.latest, s.ok = r, true
	s.mu.Unlock()
	return r
}

// Latest returns the most recent report; ok is false before the first
// sample.
func (s *Sampler) Latest() (r Report, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.ok
}

// Run samples immediately and then on every interval until ctx is done.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if r := s.Sample(ctx); len(r.Errors) > 0 {
			s.log.Debug("host sample incomplete", "errors", r.Errors)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
