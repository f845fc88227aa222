package camera

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Status is the subset of the camera's /status.json document Kuntur reads.
// IP Webcam style apps report most flags as strings, so Flag accepts either
// a JSON bool or a string.
type Status struct {
	VideoChunkLen json.Number       `json:"video_chunk_len,omitempty"`
	AudioEnabled  Flag              `json:"audio_enabled"`
	CurVals       map[string]string `json:"curvals,omitempty"`
}

// Summary returns the fields worth showing to a user.
func (s *Status) Summary() map[string]string {
	if s == nil {
		return nil
	}
	out := map[string]string{
		"audio_enabled": strconv.FormatBool(bool(s.AudioEnabled)),
	}
	if s.VideoChunkLen != "" {
		out["video_chunk_len"] = s.VideoChunkLen.String()
	}
	for _, k := range []string{"video_size", "quality", "orientation", "night_vision"} {
		if v, ok := s.CurVals[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Flag is a boolean that unmarshals from true/false, "true"/"on"/"1" and
// their negations.
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = Flag(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Numbers: non-zero is true.
		n := strings.TrimSpace(string(data))
		*f = Flag(n != "0" && n != "null")
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "on", "yes", "1":
		*f = true
	default:
		*f = false
	}
	return nil
}

// parseStatus decodes a status document. CurVals values may be non-string
// in the wild; those are stringified.
func parseStatus(data []byte) (*Status, error) {
	var raw struct {
		VideoChunkLen json.Number                `json:"video_chunk_len"`
		AudioEnabled  Flag                       `json:"audio_enabled"`
		CurVals       map[string]json.RawMessage `json:"curvals"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}

	st := &Status{
		VideoChunkLen: raw.VideoChunkLen,
		AudioEnabled:  raw.AudioEnabled,
	}
	if len(raw.CurVals) > 0 {
		st.CurVals = make(map[string]string, len(raw.CurVals))
		for k, v := range raw.CurVals {
			var s string
			if json.Unmarshal(v, &s) == nil {
				st.CurVals[k] = s
			} else {
				st.CurVals[k] = string(v)
			}
		}
	}
	return st, nil
}
