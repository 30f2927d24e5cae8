package domain

// Severity tags every user-visible message produced by the pipeline.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityDebug   Severity = "debug"
)

// Prefix returns the tag prepended to outbound text.
func (s Severity) Prefix() string {
	switch s {
	case SeveritySuccess:
		return "[OK]"
	case SeverityWarning:
		return "[WARN]"
	case SeverityError:
		return "[ERROR]"
	case SeverityDebug:
		return "[DEBUG]"
	default:
		return "[INFO]"
	}
}

// Format prefixes msg with the severity tag.
func (s Severity) Format(msg string) string {
	return s.Prefix() + " " + msg
}
