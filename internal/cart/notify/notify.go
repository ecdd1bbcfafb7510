// Package notify provides the collaborators that show shopper-facing toasts
// ("Sourdough added to cart!") after cart operations.
package notify

import (
	"context"
	"log/slog"
)

// Severity is the visual flavour of a toast.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
)

// Notification is a single toast message.
type Notification struct {
	Message  string
	Severity Severity
}

// Success returns a success toast.
func Success(message string) Notification {
	return Notification{Message: message, Severity: SeveritySuccess}
}

// Warning returns a warning toast.
func Warning(message string) Notification {
	return Notification{Message: message, Severity: SeverityWarning}
}

// Notifier delivers toasts. Delivery is fire-and-forget: implementations
// handle their own failures and never block the caller on them.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Nop discards every notification.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Notification) {}

// LogNotifier writes toasts to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a Notifier backed by logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "notifier")}
}

// Notify implements Notifier.
func (l *LogNotifier) Notify(ctx context.Context, n Notification) {
	level := slog.LevelInfo
	if n.Severity == SeverityWarning {
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, "Toast", "message", n.Message, "severity", string(n.Severity))
}

// Multi fans a notification out to every notifier in order.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, notifier := range m {
		notifier.Notify(ctx, n)
	}
}
