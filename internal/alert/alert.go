// Package alert defines the canonical Alert entity and the normalization
// of raw inbound alert records into it.
package alert

import (
	"fmt"
	"strings"
	"time"
)

// Severity is the ordered alert severity: critical > major > warning > info.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityMajor
	SeverityCritical
)

// severityAliases maps inbound severity strings (lowercased) to the enum.
// Legacy monitoring sources emit Sev1/severity-1 style labels.
var severityAliases = map[string]Severity{
	"critical":   SeverityCritical,
	"sev1":       SeverityCritical,
	"severity-1": SeverityCritical,
	"major":      SeverityMajor,
	"sev2":       SeverityMajor,
	"severity-2": SeverityMajor,
	"warning":    SeverityWarning,
	"warn":       SeverityWarning,
	"sev3":       SeverityWarning,
	"severity-3": SeverityWarning,
	"info":       SeverityInfo,
	"sev4":       SeverityInfo,
	"severity-4": SeverityInfo,
}

// ParseSeverity maps a severity string (including legacy aliases) to a
// Severity. Unknown strings are an error.
func ParseSeverity(s string) (Severity, error) {
	sev, ok := severityAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityMajor:
		return "major"
	case SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}

// MarshalText implements encoding.TextMarshaler so Severity serializes as
// its canonical name in JSON and database rows.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, accepting aliases.
func (s *Severity) UnmarshalText(b []byte) error {
	sev, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = sev
	return nil
}

// RawAlert is an inbound alert record before validation. All fields are
// strings as received from the monitoring source.
type RawAlert struct {
	ID          string `json:"id"`
	Host        string `json:"host"`
	Title       string `json:"title"`
	Severity    string `json:"severity"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	Source      string `json:"source,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// Alert is a validated, canonicalized alert. Immutable once normalized.
type Alert struct {
	ID          string    `json:"id"`
	Host        string    `json:"host"`
	Title       string    `json:"title"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	Source      string    `json:"source,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ValidationError reports a malformed raw alert. Alerts failing validation
// are rejected before any processing; no decision or audit entry exists for
// them.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid alert: %s: %s", e.Field, e.Reason)
}

// timestampLayouts are tried in order when parsing RawAlert.Timestamp.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// Normalize validates a raw alert and canonicalizes it into an Alert.
// It fails with *ValidationError when required fields are missing, the
// timestamp is unparsable, or the severity does not map to a known value.
// No side effects.
func Normalize(raw RawAlert) (*Alert, error) {
	id := strings.TrimSpace(raw.ID)
	if id == "" {
		return nil, &ValidationError{Field: "id", Reason: "required"}
	}

	ts := strings.TrimSpace(raw.Timestamp)
	if ts == "" {
		return nil, &ValidationError{Field: "timestamp", Reason: "required"}
	}
	var parsed time.Time
	var err error
	for _, layout := range timestampLayouts {
		parsed, err = time.Parse(layout, ts)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, &ValidationError{Field: "timestamp", Reason: fmt.Sprintf("unparsable %q", ts)}
	}

	sev, err := ParseSeverity(raw.Severity)
	if err != nil {
		return nil, &ValidationError{Field: "severity", Reason: err.Error()}
	}

	return &Alert{
		ID:          id,
		Host:        strings.TrimSpace(raw.Host),
		Title:       strings.TrimSpace(raw.Title),
		Severity:    sev,
		Description: raw.Description,
		Category:    strings.TrimSpace(raw.Category),
		Source:      strings.TrimSpace(raw.Source),
		Timestamp:   parsed.UTC(),
	}, nil
}
