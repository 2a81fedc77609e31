// Package integrity periodically re-verifies the ledger and raises alerts
// when the chain breaks or recovers.
package integrity

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jmerrifield20/scholarchain/internal/ledger"
	"go.uber.org/zap"
)

// Alert event types.
const (
	EventIntegrityFailed   = "ledger.integrity_failed"
	EventIntegrityRestored = "ledger.integrity_restored"
)

// DefaultInterval is the verification period binaries configure by default.
const DefaultInterval = 10 * time.Minute

// Config holds monitor configuration.
type Config struct {
	// Interval between verification passes. Zero or less disables the
	// periodic loop; Check still works.
	Interval time.Duration
}

// Verifier runs a full chain verification.
type Verifier interface {
	Verify(ctx context.Context) (*ledger.Report, error)
}

// AlertFunc is an optional callback for dispatching integrity transitions.
type AlertFunc func(ctx context.Context, eventType string, payload map[string]string)

// Alerts fans one alert out to every non-nil fn, in order.
func Alerts(fns ...AlertFunc) AlertFunc {
	var active []AlertFunc
	for _, fn := range fns {
		if fn != nil {
			active = append(active, fn)
		}
	}
	return func(ctx context.Context, eventType string, payload map[string]string) {
		for _, fn := range active {
			fn(ctx, eventType, payload)
		}
	}
}

// MetricsRecordFunc is an optional callback for recording verification
// results. report is nil when verification itself failed.
type MetricsRecordFunc func(report *ledger.Report, took time.Duration)

// Monitor runs periodic chain verification.
type Monitor struct {
	verifier  Verifier
	cfg       Config
	mu        sync.Mutex
	last      *ledger.Report
	broken    bool
	onAlert   AlertFunc
	onMetrics MetricsRecordFunc
	logger    *zap.Logger
}

// New creates a Monitor.
func New(v Verifier, cfg Config, logger *zap.Logger) *Monitor {
	return &Monitor{verifier: v, cfg: cfg, logger: logger}
}

// SetAlert configures the alert callback.
func (m *Monitor) SetAlert(fn AlertFunc) {
	m.onAlert = fn
}

// SetMetricsRecord configures the metrics recording callback.
func (m *Monitor) SetMetricsRecord(fn MetricsRecordFunc) {
	m.onMetrics = fn
}

// Run verifies the chain on every tick until ctx is cancelled, starting with
// an immediate pass unless Check has already produced a report. It returns
// at once when the monitor is disabled.
func (m *Monitor) Run(ctx context.Context) {
	if m.cfg.Interval <= 0 {
		m.logger.Info("integrity: monitor disabled")
		return
	}
	m.logger.Info("integrity: monitor started", zap.Duration("interval", m.cfg.Interval))

	if m.Last() == nil {
		m.Check(ctx)
	}
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Start runs the monitor in its own goroutine. The returned stop function
// cancels it and blocks until any in-flight verification has returned, so
// the store can be closed safely afterwards.
func (m *Monitor) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

// Check runs one verification pass, logs the outcome and fires an alert when
// validity changed since the previous pass.
func (m *Monitor) Check(ctx context.Context) *ledger.Report {
	start := time.Now()
	report, err := m.verifier.Verify(ctx)
	took := time.Since(start)

	if m.onMetrics != nil {
		m.onMetrics(report, took)
	}
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Error("integrity: verify chain", zap.Error(err))
		}
		return nil
	}

	m.mu.Lock()
	wasBroken := m.broken
	m.broken = !report.Valid
	m.last = report
	m.mu.Unlock()

	if report.Valid {
		m.logger.Debug("integrity: chain verified",
			zap.Int("blocks", report.Blocks),
			zap.Duration("took", took),
		)
	} else {
		for _, f := range report.Findings {
			m.logger.Warn("integrity: finding",
				zap.Uint64("seq", f.Sequence),
				zap.String("kind", string(f.Kind)),
				zap.String("message", f.Message),
			)
		}
		m.logger.Error("integrity: chain verification failed",
			zap.Int("blocks", report.Blocks),
			zap.Int("findings", len(report.Findings)),
		)
	}

	switch {
	case !report.Valid && !wasBroken:
		m.alert(ctx, EventIntegrityFailed, report)
	case report.Valid && wasBroken:
		m.logger.Info("integrity: chain restored", zap.Int("blocks", report.Blocks))
		m.alert(ctx, EventIntegrityRestored, report)
	}
	return report
}

// Last returns the most recent successful verification report, or nil
// before the first pass.
func (m *Monitor) Last() *ledger.Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func (m *Monitor) alert(ctx context.Context, eventType string, report *ledger.Report) {
	if m.onAlert == nil {
		return
	}
	payload := map[string]string{
		"total_blocks": strconv.Itoa(report.Blocks),
		"findings":     strconv.Itoa(len(report.Findings)),
		"tip":          report.Tip,
		"checked_at":   report.CheckedAt.Format(time.RFC3339),
	}
	if len(report.Findings) > 0 {
		payload["first_finding"] = report.Findings[0].Message
	}
	m.onAlert(ctx, eventType, payload)
}
