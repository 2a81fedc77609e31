package email

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// NoopSender stands in for SMTP when integrity.email.smtp_host is unset. Each
// alert is written to the log at warn level and kept in memory so that a
// broken chain is still visible without a mail relay.
type NoopSender struct {
	logger *zap.Logger

	mu   sync.Mutex
	sent []Message
}

// Message is an alert captured by NoopSender.
type Message struct {
	To      []string
	Subject string
	Body    string
}

// NewNoopSender returns a NoopSender logging to logger.
func NewNoopSender(logger *zap.Logger) *NoopSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NoopSender{logger: logger}
}

// Send records the alert and logs it. It never fails.
func (n *NoopSender) Send(_ context.Context, to []string, subject, body string) error {
	n.mu.Lock()
	n.sent = append(n.sent, Message{To: append([]string(nil), to...), Subject: subject, Body: body})
	n.mu.Unlock()

	n.logger.Warn("integrity alert (smtp not configured, not mailed)",
		zap.Strings("recipients", to),
		zap.String("subject", subject),
		zap.Strings("lines", strings.Split(strings.TrimSpace(body), "\n")),
	)
	return nil
}

// Sent returns the alerts captured so far, oldest first.
func (n *NoopSender) Sent() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Message(nil), n.sent...)
}
