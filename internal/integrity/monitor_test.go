package integrity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmerrifield20/scholarchain/internal/ledger"
	"go.uber.org/zap"
)

// ── Stubs ────────────────────────────────────────────────────────────────

type stubVerifier struct {
	mu      sync.Mutex
	reports []*ledger.Report
	err     error
	calls   int
}

func (s *stubVerifier) Verify(_ context.Context) (*ledger.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	r := s.reports[0]
	if len(s.reports) > 1 {
		s.reports = s.reports[1:]
	}
	return r, nil
}

func valid(n int) *ledger.Report {
	return &ledger.Report{Valid: true, Blocks: n, Findings: []ledger.Finding{}}
}

func broken(n int) *ledger.Report {
	return &ledger.Report{Blocks: n, Findings: []ledger.Finding{{
		Sequence: 2, Kind: ledger.FindingHashMismatch, Message: "Block #2: Hash verification failed",
	}}}
}

type alertLog struct {
	mu     sync.Mutex
	events []string
	last   map[string]string
}

func (a *alertLog) record(_ context.Context, eventType string, payload map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, eventType)
	a.last = payload
}

// blockingVerifier holds every Verify call until release is closed.
type blockingVerifier struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingVerifier) Verify(_ context.Context) (*ledger.Report, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return valid(1), nil
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestCheck_alertsOnTransitions(t *testing.T) {
	v := &stubVerifier{reports: []*ledger.Report{valid(3), broken(3), broken(4), valid(4)}}
	m := New(v, Config{}, zap.NewNop())
	alerts := &alertLog{}
	m.SetAlert(alerts.record)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		m.Check(ctx)
	}

	want := []string{EventIntegrityFailed, EventIntegrityRestored}
	if len(alerts.events) != len(want) {
		t.Fatalf("alerts: got %v, want %v", alerts.events, want)
	}
	for i := range want {
		if alerts.events[i] != want[i] {
			t.Errorf("alert %d: got %q, want %q", i, alerts.events[i], want[i])
		}
	}
	if alerts.last["total_blocks"] != "4" {
		t.Errorf("payload: got %v", alerts.last)
	}
}

func TestCheck_failurePayload(t *testing.T) {
	m := New(&stubVerifier{reports: []*ledger.Report{broken(5)}}, Config{}, zap.NewNop())
	alerts := &alertLog{}
	m.SetAlert(alerts.record)

	m.Check(context.Background())

	if alerts.last["first_finding"] != "Block #2: Hash verification failed" || alerts.last["findings"] != "1" {
		t.Errorf("unexpected payload: %v", alerts.last)
	}
	if r := m.Last(); r == nil || r.Valid {
		t.Errorf("Last() should hold the broken report, got %+v", r)
	}
}

func TestCheck_verifyError(t *testing.T) {
	m := New(&stubVerifier{err: errors.New("db down")}, Config{}, zap.NewNop())
	var metricsReport *ledger.Report = valid(1)
	m.SetMetricsRecord(func(r *ledger.Report, _ time.Duration) { metricsReport = r })

	if r := m.Check(context.Background()); r != nil {
		t.Errorf("expected nil report, got %+v", r)
	}
	if metricsReport != nil {
		t.Error("metrics callback should see a nil report on error")
	}
	if m.Last() != nil {
		t.Error("Last() should stay nil after a failed pass")
	}
}

func TestRun_stopsOnCancel(t *testing.T) {
	v := &stubVerifier{reports: []*ledger.Report{valid(1)}}
	m := New(v, Config{Interval: 5 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	v.mu.Lock()
	calls := v.calls
	v.mu.Unlock()
	if calls < 2 {
		t.Errorf("expected repeated verification, got %d calls", calls)
	}
}

func TestRun_disabled(t *testing.T) {
	v := &stubVerifier{reports: []*ledger.Report{valid(1)}}
	m := New(v, Config{}, zap.NewNop())

	m.Run(context.Background())
	if v.calls != 0 {
		t.Errorf("disabled monitor verified %d times", v.calls)
	}
}

func TestCheck_realChain(t *testing.T) {
	store := ledger.NewMemoryStore()
	chain := ledger.NewChain(store, nil, zap.NewNop())
	ref := ledger.EntityRef{Type: "CustomUser", ID: "1"}
	if _, err := chain.Append(context.Background(), ledger.Record{
		Type:    ledger.RecordUserCreation,
		Payload: ledger.NewPayload(ledger.OpCreate, ref, nil),
	}); err != nil {
		t.Fatal(err)
	}

	m := New(chain, Config{}, zap.NewNop())
	r := m.Check(context.Background())
	if r == nil || !r.Valid || r.Blocks != 1 {
		t.Errorf("unexpected report: %+v", r)
	}
}

func TestRun_skipsImmediatePassAfterCheck(t *testing.T) {
	v := &stubVerifier{reports: []*ledger.Report{valid(1)}}
	m := New(v, Config{Interval: time.Hour}, zap.NewNop())
	m.Check(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	m.Run(ctx)

	if v.calls != 1 {
		t.Errorf("expected only the explicit Check, got %d calls", v.calls)
	}
}

func TestAlerts_fansOut(t *testing.T) {
	var got []string
	record := func(name string) AlertFunc {
		return func(_ context.Context, eventType string, _ map[string]string) {
			got = append(got, name+":"+eventType)
		}
	}

	fn := Alerts(record("webhook"), nil, record("email"))
	fn(context.Background(), EventIntegrityFailed, nil)

	if len(got) != 2 || got[0] != "webhook:"+EventIntegrityFailed || got[1] != "email:"+EventIntegrityFailed {
		t.Errorf("unexpected fan-out: %v", got)
	}
}

func TestStart_stopWaitsForInFlightCheck(t *testing.T) {
	v := &blockingVerifier{entered: make(chan struct{}), release: make(chan struct{})}
	m := New(v, Config{Interval: time.Hour}, zap.NewNop())

	stop := m.Start(context.Background())
	select {
	case <-v.entered:
	case <-time.After(time.Second):
		t.Fatal("monitor never started a verification")
	}

	stopped := make(chan struct{})
	go func() {
		stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("stop returned while a verification was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(v.release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("stop did not return after the verification finished")
	}
}

func TestStart_disabledStopsImmediately(t *testing.T) {
	m := New(&stubVerifier{reports: []*ledger.Report{valid(1)}}, Config{Interval: 0}, zap.NewNop())
	stop := m.Start(context.Background())
	stop()
}
