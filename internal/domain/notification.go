package domain

// Severity of a toast shown by the presentation layer.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
)

// Notification is emitted by engine operations for UI toast display.
type Notification struct {
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Info, Success and Warning build notifications of the matching severity.
func Info(msg string) Notification    { return Notification{Message: msg, Severity: SeverityInfo} }
func Success(msg string) Notification { return Notification{Message: msg, Severity: SeveritySuccess} }
func Warning(msg string) Notification { return Notification{Message: msg, Severity: SeverityWarning} }
