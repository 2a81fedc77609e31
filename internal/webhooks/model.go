package webhooks

import (
	"time"
)

// Subscription is a configured receiver of ledger events.
type Subscription struct {
	URL    string   `mapstructure:"url"`
	Events []string `mapstructure:"events"` // empty or "*" matches every event
	Secret string   `mapstructure:"secret"` // HMAC key for X-Ledger-Signature; empty sends unsigned
}

// Wants reports whether the subscription receives eventType.
func (s Subscription) Wants(eventType string) bool {
	if len(s.Events) == 0 {
		return true
	}
	for _, e := range s.Events {
		if e == "*" || e == eventType {
			return true
		}
	}
	return false
}

// Event is the JSON body delivered to subscribers.
type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload"`
}

// Delivery records the outcome of a single delivery attempt.
type Delivery struct {
	URL          string
	EventType    string
	StatusCode   int
	Attempt      int
	Success      bool
	ErrorMessage string
}
