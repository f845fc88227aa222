package camera

import (
	"fmt"
	"strings"
)

// ProbeAttempt records one failed candidate endpoint.
type ProbeAttempt struct {
	Path string
	Err  error
}

// ProbeError is returned when every candidate endpoint failed.
type ProbeError struct {
	Endpoint Endpoint
	Attempts []ProbeAttempt
}

func (e *ProbeError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Path, a.Err))
	}
	return fmt.Sprintf("camera %s unreachable (%s)", e.Endpoint, strings.Join(parts, "; "))
}

// Diagnostic is the user-facing explanation shown next to a retry control.
func (e *ProbeError) Diagnostic() string {
	return DiagnosticMessage(e.Endpoint)
}

// DiagnosticMessage explains an unreachable camera and what to check.
func DiagnosticMessage(ep Endpoint) string {
	var b strings.Builder
	b.WriteString("Could not connect to the IP camera.\n\nCheck that:\n")
	b.WriteString("• the camera app is running\n")
	fmt.Fprintf(&b, "• the URL is correct: %s\n", ep)
	b.WriteString("• this device is on the same network")
	return b.String()
}
