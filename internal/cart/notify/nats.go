package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the NATS subject toasts are published on.
const DefaultSubject = "bakery.cart.toasts"

// Publisher is the subset of *nats.Conn used by NatsNotifier.
type Publisher interface {
	Publish(subj string, data []byte) error
}

// toastEvent is the wire format of a toast published to NATS.
type toastEvent struct {
	Message  string    `json:"message"`
	Severity Severity  `json:"severity"`
	SentAt   time.Time `json:"sent_at"`
}

func (e toastEvent) Payload() ([]byte, error) {
	return json.Marshal(e)
}

// NatsNotifier publishes toasts to a NATS subject for the page's UI to pick up.
type NatsNotifier struct {
	pub     Publisher
	subject string
	logger  *slog.Logger
	now     func() time.Time
}

// NewNatsNotifier creates a Notifier publishing on subject through pub.
func NewNatsNotifier(pub Publisher, subject string, logger *slog.Logger) *NatsNotifier {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NatsNotifier{
		pub:     pub,
		subject: subject,
		logger:  logger.With("component", "nats_notifier"),
		now:     time.Now,
	}
}

// Notify implements Notifier. Publish failures are logged and dropped.
func (n *NatsNotifier) Notify(ctx context.Context, note Notification) {
	data, err := toastEvent{Message: note.Message, Severity: note.Severity, SentAt: n.now().UTC()}.Payload()
	if err != nil {
		n.logger.ErrorContext(ctx, "Failed to encode toast", "error", err)
		return
	}
	if err := n.pub.Publish(n.subject, data); err != nil {
		n.logger.WarnContext(ctx, "Failed to publish toast", "subject", n.subject, "error", err)
	}
}

// Connect opens a NATS connection for NatsNotifier.
func Connect(url string, timeout time.Duration) (*nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Timeout(timeout), nats.Name("bakery-cart"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}
