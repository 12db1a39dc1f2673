// Package notify provides quota alert delivery adapters.
package notify

import (
	"context"
	"errors"

	"github.com/artpar/quotaguard/ports"
	"github.com/rs/zerolog"
)

// Log writes alerts as structured log entries.
type Log struct {
	logger zerolog.Logger
}

// NewLog creates a log notifier.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger}
}

// Notify implements ports.Notifier.
func (l *Log) Notify(_ context.Context, n ports.Notification) error {
	l.logger.Warn().
		Str("user_id", n.Identity).
		Str("email", n.Email).
		Str("plan", n.Plan).
		Float64("usage_pct", n.UsagePercent).
		Int64("remaining", n.Remaining).
		Int("threshold", n.Threshold).
		Str("day", n.Day).
		Msg("quota alert")
	return nil
}

// Multi fans a notification out to several notifiers. Every notifier is
// tried; the returned error joins their failures.
type Multi []ports.Notifier

// Notify implements ports.Notifier.
func (m Multi) Notify(ctx context.Context, n ports.Notification) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
