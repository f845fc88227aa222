package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fixedSource(cpuErr error) source {
	return source{
		cpu: func(context.Context) (float64, error) {
			if cpuErr != nil {
				return 0, cpuErr
			}
			return 12.5, nil
		},
		mem:    func(context.Context) (float64, error) { return 40, nil },
		load:   func(context.Context) (float64, error) { return 0.75, nil },
		uptime: func(context.Context) (uint64, error) { return 3600, nil },
	}
}

func TestSample(t *testing.T) {
	at := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		cpuErr  error
		wantCPU float64
		wantErr int
	}{
		{"all readings", nil, 12.5, 0},
		{"cpu unavailable", errors.New("no /proc/stat"), 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSampler(time.Second, nil)
			s.src = fixedSource(tt.cpuErr)
			s.now = func() time.Time { return at }

			if _, ok := s.Latest(); ok {
				t.Fatal("Latest before any sample should report !ok")
			}

			r := s.Sample(context.Background())
			if r.CPUPercent != tt.wantCPU || r.MemPercent != 40 || r.Load1 != 0.75 || r.UptimeSeconds != 3600 {
				t.Errorf("report = %+v", r)
			}
			if len(r.Errors) != tt.wantErr {
				t.Errorf("errors = %v, want %d", r.Errors, tt.wantErr)
			}
			if !r.SampledAt.Equal(at) {
				t.Errorf("SampledAt = %v", r.SampledAt)
			}

			latest, ok := s.Latest()
			if !ok || latest.CPUPercent != r.CPUPercent {
				t.Errorf("Latest = %+v, %v", latest, ok)
			}
		})
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := NewSampler(10*time.Millisecond, nil)
	s.src = fixedSource(nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := s.Latest(); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no sample taken")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestHostSource(t *testing.T) {
	s := NewSampler(time.Second, nil)
	r := s.Sample(context.Background())
	if r.SampledAt.IsZero() {
		t.Error("SampledAt not set")
	}
	if r.MemPercent < 0 || r.MemPercent > 100 {
		t.Errorf("mem percent %v out of range", r.MemPercent)
	}
}
