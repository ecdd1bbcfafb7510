package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	subject string
	data    []byte
}

// fakePublisher records published messages and can be made to fail.
type fakePublisher struct {
	msgs []captured
	err  error
}

func (f *fakePublisher) Publish(subj string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, captured{subject: subj, data: data})
	return nil
}

type countingNotifier struct{ got []Notification }

func (c *countingNotifier) Notify(_ context.Context, n Notification) { c.got = append(c.got, n) }

func jsonLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestLogNotifier_LevelBySeverity(t *testing.T) {
	testCases := []struct {
		note          Notification
		expectedLevel string
	}{
		{note: Success("Sourdough added to cart!"), expectedLevel: "INFO"},
		{note: Warning("Sourdough added to cart, but it could not be saved"), expectedLevel: "WARN"},
	}

	for _, tc := range testCases {
		t.Run(string(tc.note.Severity), func(t *testing.T) {
			// given
			var buf bytes.Buffer
			n := NewLogNotifier(jsonLogger(&buf))

			// when
			n.Notify(context.Background(), tc.note)

			// then
			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tc.expectedLevel, entry["level"])
			assert.Equal(t, tc.note.Message, entry["message"])
			assert.Equal(t, string(tc.note.Severity), entry["severity"])
		})
	}
}

func TestNatsNotifier_Publishes(t *testing.T) {
	// given
	pub := &fakePublisher{}
	var buf bytes.Buffer
	n := NewNatsNotifier(pub, "", jsonLogger(&buf))
	n.now = func() time.Time { return time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC) }

	// when
	n.Notify(context.Background(), Success("Cheesecake added to cart!"))

	// then
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, DefaultSubject, pub.msgs[0].subject)
	assert.JSONEq(t, `{"message":"Cheesecake added to cart!","severity":"success","sent_at":"2025-03-14T09:30:00Z"}`, string(pub.msgs[0].data))
}

func TestNatsNotifier_PublishFailureIsSwallowed(t *testing.T) {
	// given
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	var buf bytes.Buffer
	n := NewNatsNotifier(pub, "custom.subject", jsonLogger(&buf))

	// when
	assert.NotPanics(t, func() {
		n.Notify(context.Background(), Warning("not saved"))
	})

	// then
	assert.Empty(t, pub.msgs)
	assert.Contains(t, buf.String(), "Failed to publish toast")
	assert.Contains(t, buf.String(), "custom.subject")
}

func TestMulti_FansOut(t *testing.T) {
	// given
	a, b := &countingNotifier{}, &countingNotifier{}
	m := Multi{a, Nop{}, b}

	// when
	m.Notify(context.Background(), Success("Bagel added to cart!"))

	// then
	assert.Equal(t, []Notification{Success("Bagel added to cart!")}, a.got)
	assert.Equal(t, a.got, b.got)
}
