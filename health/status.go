// Package health tracks per-component health and serves it over HTTP for
// liveness and readiness probes.
package health

import (
	"regexp"
	"time"
)

// States a component can report.
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

// Status is the health of one component at a point in time.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	State       string    `json:"state"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// NewHealthy builds a healthy status.
func NewHealthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		State:     StateHealthy,
		Message:   sanitize(message),
		Timestamp: time.Now().UTC(),
	}
}

// NewDegraded builds a degraded status: serving, but impaired.
func NewDegraded(component, message string) Status {
	return Status{
		Component: component,
		State:     StateDegraded,
		Message:   sanitize(message),
		Timestamp: time.Now().UTC(),
	}
}

// NewUnhealthy builds an unhealthy status.
func NewUnhealthy(component, message string) Status {
	return Status{
		Component: component,
		State:     StateUnhealthy,
		Message:   sanitize(message),
		Timestamp: time.Now().UTC(),
	}
}

// IsHealthy reports whether the component is fully healthy.
func (s Status) IsHealthy() bool { return s.State == StateHealthy }

// IsDegraded reports whether the component is degraded.
func (s Status) IsDegraded() bool { return s.State == StateDegraded }

// Health messages often carry error text that embeds endpoints or
// credentials; those are scrubbed before the status leaves the process.
var (
	urlRegex        = regexp.MustCompile(`(?:wss?|https?)://[^\s]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}(?::\d{2,5})?\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|key|secret|credential)\s*[:=]\s*[^,\s}]+`)
)

func sanitize(message string) string {
	message = urlRegex.ReplaceAllString(message, "[url]")
	message = ipAddrRegex.ReplaceAllString(message, "[addr]")
	message = credentialRegex.ReplaceAllString(message, "$1=[redacted]")
	return message
}
