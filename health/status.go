package health

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/c360/resourcekit/memmonitor"
)

// Status values.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

var (
	httpURLRegex     = regexp.MustCompile(`https?://[^\s]+`)
	natsURLRegex     = regexp.MustCompile(`nats://[^\s]+`)
	dsnURLRegex      = regexp.MustCompile(`(postgres|postgresql|file)://[^\s]+`)
	unixPathRegex    = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	windowsPathRegex = regexp.MustCompile(`[A-Z]:\\[^:\s]+`)
	ipAddrRegex      = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex        = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex  = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status is the health of one subsystem or of the whole manager.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics are resource figures attached to a status.
type Metrics struct {
	ResidentBytes uint64  `json:"resident_bytes,omitempty"`
	PhysicalBytes uint64  `json:"physical_bytes,omitempty"`
	UsageRatio    float64 `json:"usage_ratio,omitempty"`
	Entries       int     `json:"entries,omitempty"`
	QueueDepth    int     `json:"queue_depth,omitempty"`
	Failures      int64   `json:"failures,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == StatusHealthy
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == StatusDegraded
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == StatusUnhealthy
}

// WithMetrics returns a copy of the status with metrics attached
func (s Status) WithMetrics(metrics *Metrics) Status {
	s.Metrics = metrics
	return s
}

// WithSubStatus adds a sub-status and returns a copy
func (s Status) WithSubStatus(subStatus Status) Status {
	subs := make([]Status, len(s.SubStatuses), len(s.SubStatuses)+1)
	copy(subs, s.SubStatuses)
	s.SubStatuses = append(subs, subStatus)
	return s
}

// FromPressure maps a memory pressure level onto a status:
// normal → healthy, warning → degraded, critical → unhealthy.
func FromPressure(component string, level memmonitor.Level, resident, physical uint64) Status {
	var ratio float64
	if physical > 0 {
		ratio = float64(resident) / float64(physical)
	}
	message := fmt.Sprintf("Memory pressure %s (%.1f%% of physical memory)", level, ratio*100)

	var status Status
	switch level {
	case memmonitor.LevelCritical:
		status = NewUnhealthy(component, message)
	case memmonitor.LevelWarning:
		status = NewDegraded(component, message)
	default:
		status = NewHealthy(component, message)
	}

	return status.WithMetrics(&Metrics{
		ResidentBytes: resident,
		PhysicalBytes: physical,
		UsageRatio:    ratio,
	})
}

// FromError reports a subsystem as degraded with a sanitized error message.
// A nil error yields a healthy status.
func FromError(component string, err error) Status {
	if err == nil {
		return NewHealthy(component, "OK")
	}
	return NewDegraded(component, sanitizeErrorMessage(err.Error()))
}

// sanitizeErrorMessage strips URLs, DSNs, paths, addresses, ports and
// credential pairs from an error message.
func sanitizeErrorMessage(err string) string {
	if err == "" {
		return ""
	}

	sanitized := err

	// URLs before paths, they contain paths
	sanitized = dsnURLRegex.ReplaceAllString(sanitized, "[URL]")
	sanitized = httpURLRegex.ReplaceAllString(sanitized, "[URL]")
	sanitized = natsURLRegex.ReplaceAllString(sanitized, "[URL]")

	sanitized = unixPathRegex.ReplaceAllString(sanitized, "[PATH]")
	sanitized = windowsPathRegex.ReplaceAllString(sanitized, "[PATH]")
	sanitized = ipAddrRegex.ReplaceAllString(sanitized, "[IP]")
	sanitized = portRegex.ReplaceAllString(sanitized, "[PORT]")

	lower := strings.ToLower(sanitized)
	for _, word := range []string{"password", "token", "key", "secret", "credential"} {
		if strings.Contains(lower, word) {
			sanitized = credentialRegex.ReplaceAllString(sanitized, "[REDACTED]")
			break
		}
	}

	return sanitized
}
