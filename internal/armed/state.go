package armed

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the settled armed state reported by the backend.
type Status int

const (
	Off Status = iota
	On
)

func (s Status) String() string {
	if s == On {
		return "on"
	}
	return "off"
}

// ParseStatus accepts the on/off spellings the alarm service uses.
func ParseStatus(v string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "armed", "true":
		return On, nil
	case "off", "disarmed", "false":
		return Off, nil
	}
	return Off, fmt.Errorf("unknown armed status %q", v)
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	st, err := ParseStatus(v)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Phase is the controller's state machine position.
type Phase int

const (
	PhaseOff Phase = iota
	PhaseActivating
	PhaseOn
	PhaseDeactivating
)

var phaseNames = map[Phase]string{
	PhaseOff:          "off",
	PhaseActivating:   "activating",
	PhaseOn:           "on",
	PhaseDeactivating: "deactivating",
}

var phaseFromName = map[string]Phase{
	"off":          PhaseOff,
	"activating":   PhaseActivating,
	"on":           PhaseOn,
	"deactivating": PhaseDeactivating,
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return "unknown"
}

// Transitioning reports whether p is activating or deactivating.
func (p Phase) Transitioning() bool {
	return p == PhaseActivating || p == PhaseDeactivating
}

func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Phase) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if v, ok := phaseFromName[s]; ok {
		*p = v
	}
	return nil
}

var (
	ErrTransitioning = errors.New("armed: transition in progress")
	ErrClosed        = errors.New("armed: controller closed")
)

// State is a copy of the controller's state. Transitioning is true for the
// whole duration of an activate or deactivate call.
type State struct {
	Status        Status    `json:"status"`
	Phase         Phase     `json:"phase"`
	Transitioning bool      `json:"transitioning"`
	Refreshing    bool      `json:"refreshing"`
	LastError     string    `json:"lastError,omitempty"`
	ChangedAt     time.Time `json:"changedAt"`
	Seq           uint64    `json:"seq"`
}
