package email

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Alerter turns integrity alerts into operator mail.
type Alerter struct {
	sender     Sender
	recipients []string
	logger     *zap.Logger
}

// NewAlerter creates an Alerter that mails recipients through sender.
func NewAlerter(sender Sender, recipients []string, logger *zap.Logger) *Alerter {
	return &Alerter{sender: sender, recipients: recipients, logger: logger}
}

// Notify sends one message describing the alert. Delivery failures are
// logged; the monitor that raised the alert keeps running.
func (a *Alerter) Notify(ctx context.Context, eventType string, payload map[string]string) {
	subject, body := formatAlert(eventType, payload)
	if err := a.sender.Send(ctx, a.recipients, subject, body); err != nil {
		a.logger.Warn("integrity alert email failed",
			zap.String("event", eventType),
			zap.Strings("to", a.recipients),
			zap.Error(err),
		)
		return
	}
	a.logger.Info("integrity alert emailed", zap.String("event", eventType), zap.Int("recipients", len(a.recipients)))
}

func formatAlert(eventType string, payload map[string]string) (string, string) {
	subject := "[scholarchain] " + eventType
	if strings.HasSuffix(eventType, "integrity_failed") {
		subject = "[scholarchain] Ledger integrity check FAILED"
	} else if strings.HasSuffix(eventType, "integrity_restored") {
		subject = "[scholarchain] Ledger integrity restored"
	}

	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "Event: %s\n\n", eventType)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, payload[k])
	}
	b.WriteString("\nRun `chainctl verify` for the full report.\n")
	return subject, b.String()
}
