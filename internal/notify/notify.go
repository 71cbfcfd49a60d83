package notify

import (
	"context"

	"sarathi/internal/logger"
)

// Notifier delivers a text message to a phone number.
type Notifier interface {
	Notify(ctx context.Context, phone, message string) error
}

// LogNotifier writes messages to the log instead of sending them.
// It stands in for SMS when no provider is configured.
type LogNotifier struct {
	Logg *logger.Logger
}

func (n LogNotifier) Notify(ctx context.Context, phone, message string) error {
	logg := n.Logg
	if logg == nil {
		logg = logger.Nop()
	}
	ctx = logg.WithFields(ctx, map[string]any{"to": phone, "sms": message})
	logg.Info(ctx, "sms delivery skipped; no provider configured")
	return nil
}
