// Package email delivers integrity alerts to operators by mail.
package email

import "context"

// Sender delivers a plain-text message to one or more recipients.
type Sender interface {
	Send(ctx context.Context, to []string, subject, body string) error
}
