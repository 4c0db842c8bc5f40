package alert

import "context"

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type Alert struct {
	Severity Severity
	Title    string
	BotID    string
	Detail   string
}

// Alerter pages an operator. Implementations must be safe for concurrent use.
type Alerter interface {
	Alert(ctx context.Context, a Alert) error
}

type NopAlerter struct{}

func (NopAlerter) Alert(context.Context, Alert) error { return nil }
