package stream

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseQuality(t *testing.T) {
	tests := []struct {
		in      string
		want    Quality
		wantErr bool
	}{
		{"HD", QualityHD, false},
		{"sd", QualitySD, false},
		{" Low ", QualityLow, false},
		{"4k", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseQuality(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidQuality) {
				t.Errorf("ParseQuality(%q) error = %v, want ErrInvalidQuality", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseQuality(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}

func TestQualityNextCycles(t *testing.T) {
	q := QualityHD
	var order []string
	for i := 0; i < 4; i++ {
		order = append(order, q.String())
		q = q.Next()
	}
	if got := order[0] + order[1] + order[2] + order[3]; got != "HDSDLOWHD" {
		t.Errorf("cycle = %v", order)
	}
}

func TestVideoPhase(t *testing.T) {
	tests := []struct {
		name string
		v    VideoSession
		want string
	}{
		{"idle", VideoSession{}, "idle"},
		{"connecting", VideoSession{Connecting: true}, "connecting"},
		{"live", VideoSession{Active: true}, "live"},
		{"degraded", VideoSession{Active: true, Degraded: true}, "degraded"},
		{"error wins over active", VideoSession{Active: true, LastError: "x"}, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.Phase(); got != tt.want {
				t.Errorf("Phase() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSnapshotJSON(t *testing.T) {
	s := Snapshot{
		Seq:   7,
		Video: VideoSession{Active: true, Quality: QualityLow, ErrorKind: ErrorTransientFetch, LastError: "lost"},
	}
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	video := raw["video"].(map[string]any)
	if video["quality"] != "LOW" || video["errorKind"] != "transient_fetch" {
		t.Errorf("video json = %v", video)
	}

	var back Snapshot
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.Video.Quality != QualityLow || back.Video.ErrorKind != ErrorTransientFetch {
		t.Errorf("round trip = %+v", back.Video)
	}
}
