package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-Ledger-Signature"

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// Dispatcher delivers events to the configured subscriptions.
type Dispatcher struct {
	subs       []Subscription
	httpClient *http.Client
	delays     []time.Duration
	onMetrics  MetricsRecorder
	wg         sync.WaitGroup
	logger     *zap.Logger
}

// NewDispatcher creates a Dispatcher for subs.
func NewDispatcher(subs []Subscription, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		subs:       subs,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		// Retry with backoff: 1s, 5s, 25s.
		delays: []time.Duration{0, 1 * time.Second, 5 * time.Second, 25 * time.Second},
		logger: logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (d *Dispatcher) SetMetricsRecorder(fn MetricsRecorder) {
	d.onMetrics = fn
}

// Dispatch fans out an event to every matching subscription. Deliveries run
// in the background; Wait blocks until they finish.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType string, payload map[string]string) {
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	body, err := json.Marshal(event)
	if err != nil {
		d.logger.Error("webhook: marshal event", zap.Error(err))
		return
	}

	for _, sub := range d.subs {
		if !sub.Wants(eventType) {
			continue
		}
		d.wg.Add(1)
		go func(sub Subscription) {
			defer d.wg.Done()
			d.deliver(context.WithoutCancel(ctx), sub, eventType, body)
		}(sub)
	}
}

// Wait blocks until every in-flight delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// deliver sends the event to a single subscription with retries.
func (d *Dispatcher) deliver(ctx context.Context, sub Subscription, eventType string, body []byte) {
	signature := ""
	if sub.Secret != "" {
		signature = Sign(body, sub.Secret)
	}

	attempts := len(d.delays) - 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			time.Sleep(d.delays[attempt])
		}

		delivery := d.doDelivery(ctx, sub.URL, body, signature)
		delivery.EventType = eventType
		delivery.Attempt = attempt

		if d.onMetrics != nil {
			d.onMetrics(delivery.Success)
		}
		if delivery.Success {
			return
		}

		d.logger.Warn("webhook: delivery failed",
			zap.String("url", sub.URL),
			zap.String("event", eventType),
			zap.Int("attempt", attempt),
			zap.String("error", delivery.ErrorMessage),
		)
	}
}

// doDelivery performs a single HTTP POST delivery.
func (d *Dispatcher) doDelivery(ctx context.Context, url string, body []byte, signature string) Delivery {
	out := Delivery{URL: url}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		out.ErrorMessage = err.Error()
		return out
	}
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		out.ErrorMessage = err.Error()
		return out
	}
	defer resp.Body.Close()
	io.ReadAll(io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	out.StatusCode = resp.StatusCode
	out.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !out.Success {
		out.ErrorMessage = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return out
}

// Sign computes the signature header value for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
