package health

import (
	"regexp"
	"time"
)

// Patterns scrubbed from error messages.
var (
	urlRegex         = regexp.MustCompile(`(?:https?|wss?|nats)://[^\s]+`)
	unixPathRegex    = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	windowsPathRegex = regexp.MustCompile(`[A-Z]:\\[^:\s]+`)
	ipAddrRegex      = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex        = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex  = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status is the health of one component, or of the whole system when it
// carries sub-statuses.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

func (s Status) IsHealthy() bool   { return s.Status == StateHealthy }
func (s Status) IsDegraded() bool  { return s.Status == StateDegraded }
func (s Status) IsUnhealthy() bool { return s.Status == StateUnhealthy }

// WithSubStatus returns a copy with sub appended. The receiver's slice is
// never shared.
func (s Status) WithSubStatus(sub Status) Status {
	subs := make([]Status, len(s.SubStatuses), len(s.SubStatuses)+1)
	copy(subs, s.SubStatuses)
	s.SubStatuses = append(subs, sub)
	return s
}

// sanitizeErrorMessage masks URLs, paths, addresses, ports and credentials
// before an error is served on /health. URLs go first since they contain
// paths.
func sanitizeErrorMessage(err string) string {
	for _, r := range scrubbers {
		err = r.re.ReplaceAllString(err, r.with)
	}
	return err
}

var scrubbers = []struct {
	re   *regexp.Regexp
	with string
}{
	{urlRegex, "[URL]"},
	{unixPathRegex, "[PATH]"},
	{windowsPathRegex, "[PATH]"},
	{ipAddrRegex, "[IP]"},
	{portRegex, "[PORT]"},
	{credentialRegex, "[REDACTED]"},
}

// FromError builds a status from the outcome of a check. A nil error is
// healthy; otherwise the sanitized error becomes the message.
func FromError(name string, err error) Status {
	if err == nil {
		return NewHealthy(name, "ok")
	}
	return NewUnhealthy(name, sanitizeErrorMessage(err.Error()))
}
