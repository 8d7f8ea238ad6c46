package audit

import "context"

// Auditor records registry events for later review.
//
// Implementations must not block the caller: LogEvent hands the event to a
// background goroutine and failures are only logged. A disabled auditor
// returns immediately.
type Auditor interface {
	LogEvent(ctx context.Context, event *Event)

	// IsEnabled lets callers skip building events nobody will record
	IsEnabled() bool
}

// NoopAuditor discards every event. Used when no Redis address is configured.
type NoopAuditor struct{}

// LogEvent does nothing
func (NoopAuditor) LogEvent(context.Context, *Event) {}

// IsEnabled always returns false
func (NoopAuditor) IsEnabled() bool { return false }
