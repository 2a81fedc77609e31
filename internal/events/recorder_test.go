package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmerrifield20/scholarchain/internal/ledger"
	"go.uber.org/zap"
)

func newTestRecorder(t *testing.T) (*Recorder, *ledger.Chain, *ledger.Auditor) {
	t.Helper()
	store := ledger.NewMemoryStore()
	chain := ledger.NewChain(store, nil, zap.NewNop())
	return NewRecorder(chain, zap.NewNop()), chain, ledger.NewAuditor(store)
}

func TestRecorder_userLifecycle(t *testing.T) {
	r, chain, auditor := newTestRecorder(t)
	ctx := WithSourceIP(context.Background(), "192.0.2.10")

	user := Entity{ID: "7", Name: "Ada Lovelace", Fields: map[string]any{
		"id":       7,
		"username": "ada",
		"email":    "ada@uni.example",
	}}
	b, err := r.UserCreated(ctx, user)
	if err != nil {
		t.Fatalf("UserCreated: %v", err)
	}
	if b.RecordType != ledger.RecordUserCreation {
		t.Errorf("record type: got %q", b.RecordType)
	}
	if b.Actor == nil || b.Actor.Name != "Ada Lovelace" {
		t.Errorf("user should be its own actor, got %+v", b.Actor)
	}
	if b.SourceIP != "192.0.2.10" {
		t.Errorf("source IP: got %q", b.SourceIP)
	}

	user.Fields["email"] = "ada@new.example"
	if _, err := r.UserUpdated(ctx, user); err != nil {
		t.Fatalf("UserUpdated: %v", err)
	}

	trail, err := auditor.TrailFor(ctx, ledger.EntityRef{Type: ModelUser, ID: "7"})
	if err != nil {
		t.Fatal(err)
	}
	if len(trail) != 2 || trail[0].Operation != "create" || trail[1].Operation != "update" {
		t.Fatalf("unexpected trail: %+v", trail)
	}
	data := trail[1].Data.(map[string]any)
	if data["email"] != "ada@new.example" {
		t.Errorf("trail data: got %v", data["email"])
	}
	if _, ok := data["id"]; ok {
		t.Error("volatile id field should not be recorded")
	}

	if rep, err := chain.Verify(ctx); err != nil || !rep.Valid {
		t.Errorf("chain invalid after recording: %v %v", err, rep)
	}
}

func TestRecorder_roles(t *testing.T) {
	r, _, auditor := newTestRecorder(t)
	ctx := context.Background()
	role := Entity{ID: "3", Fields: map[string]any{"name": "Examiners"}}

	for _, fn := range []func(context.Context, Entity) (*ledger.Block, error){r.RoleCreated, r.RoleUpdated, r.RoleDeleted} {
		b, err := fn(ctx, role)
		if err != nil {
			t.Fatal(err)
		}
		if b.Actor != nil {
			t.Errorf("role events are system actions, got actor %+v", b.Actor)
		}
	}

	trail, _ := auditor.TrailFor(ctx, ledger.EntityRef{Type: ModelRole, ID: "3"})
	want := []ledger.RecordType{ledger.RecordRoleCreation, ledger.RecordRoleUpdate, ledger.RecordRoleDeletion}
	if len(trail) != len(want) {
		t.Fatalf("trail length: got %d", len(trail))
	}
	for i, w := range want {
		if trail[i].RecordType != w {
			t.Errorf("trail[%d]: got %q, want %q", i, trail[i].RecordType, w)
		}
	}
	if trail[2].Operation != "delete" {
		t.Errorf("deletion operation: got %q", trail[2].Operation)
	}
}

func TestRecorder_presentationFlow(t *testing.T) {
	r, _, auditor := newTestRecorder(t)
	ctx := context.Background()
	student := &ledger.ActorRef{ID: "11", Name: "Student"}

	p := Entity{ID: "42", Fields: map[string]any{"title": "Graph Coloring", "status": "pending"}}
	b, err := r.PresentationSubmitted(ctx, p, student)
	if err != nil {
		t.Fatal(err)
	}
	if b.Subject == nil || b.Subject.ID != "42" {
		t.Errorf("presentation should be its own subject, got %+v", b.Subject)
	}

	// Not scheduled yet: nothing recorded.
	b, err = r.PresentationScheduled(ctx, p)
	if err != nil || b != nil {
		t.Fatalf("unscheduled update should be skipped, got %v, %v", b, err)
	}

	p.Fields["scheduled_date"] = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	b, err = r.PresentationScheduled(ctx, p)
	if err != nil || b == nil {
		t.Fatalf("PresentationScheduled: %v, %v", b, err)
	}
	data := b.Payload[ledger.PayloadData].(map[string]any)
	if data["scheduled_date"] != "2025-06-02T10:00:00Z" {
		t.Errorf("scheduled_date: got %v", data["scheduled_date"])
	}

	trail, _ := auditor.TrailFor(ctx, ledger.EntityRef{Type: ModelPresentation, ID: "42"})
	if len(trail) != 2 || trail[0].Actor != "Student" || trail[1].Actor != ledger.SystemActor {
		t.Errorf("unexpected presentation trail: %+v", trail)
	}
}

func TestRecorder_examinerResponses(t *testing.T) {
	r, _, _ := newTestRecorder(t)
	ctx := context.Background()
	examiner := &ledger.ActorRef{ID: "20", Name: "Dr. Examiner"}
	a := Entity{ID: "5", Presentation: "42", Fields: map[string]any{
		"status":       "pending",
		"presentation": Related{ID: "42", Display: "Graph Coloring"},
	}}

	b, err := r.ExaminerResponded(ctx, a, examiner, true)
	if err != nil || b == nil {
		t.Fatalf("creation should be recorded: %v, %v", b, err)
	}
	if b.Subject == nil || b.Subject.Type != ModelPresentation || b.Subject.ID != "42" {
		t.Errorf("subject: got %+v", b.Subject)
	}
	rel := b.Payload[ledger.PayloadData].(map[string]any)["presentation"].(map[string]any)
	if rel["id"] != "42" || rel["str"] != "Graph Coloring" {
		t.Errorf("related field: got %v", rel)
	}

	b, err = r.ExaminerResponded(ctx, a, examiner, false)
	if err != nil || b != nil {
		t.Errorf("pending update should be skipped, got %v, %v", b, err)
	}

	for _, status := range []string{StatusAccepted, StatusDeclined} {
		a.Fields["status"] = status
		b, err = r.ExaminerResponded(ctx, a, examiner, false)
		if err != nil || b == nil {
			t.Fatalf("%s should be recorded: %v, %v", status, b, err)
		}
		if b.RecordType != ledger.RecordAssessmentSubmitted || b.Payload.Operation() != "update" {
			t.Errorf("%s: got %s/%s", status, b.RecordType, b.Payload.Operation())
		}
	}
}

func TestRecorder_assignmentNotificationDate(t *testing.T) {
	r, _, _ := newTestRecorder(t)
	ctx := context.Background()
	coordinator := &ledger.ActorRef{ID: "2", Name: "Coordinator"}

	b, err := r.PresentationAssigned(ctx, Entity{ID: "9", Presentation: "42"}, coordinator)
	if err != nil {
		t.Fatal(err)
	}
	if b.RecordType != ledger.RecordPresentationScheduled || b.Payload.Entity().Type != ModelPresentationAssignment {
		t.Errorf("assignment recorded as %s on %s", b.RecordType, b.Payload.Entity().Type)
	}

	b, err = r.NotificationSent(ctx, Entity{ID: "100", Fields: map[string]any{"message": "Scheduled"}}, coordinator)
	if err != nil || b.RecordType != ledger.RecordNotificationSent {
		t.Fatalf("NotificationSent: %v %v", b, err)
	}

	if _, err := r.DateChanged(ctx, Entity{ID: "42"}, coordinator); err == nil {
		t.Error("DateChanged without entity type should fail")
	}
	b, err = r.DateChanged(ctx, Entity{Type: ModelPresentation, ID: "42"}, coordinator)
	if err != nil || b.RecordType != ledger.RecordDateChanged {
		t.Fatalf("DateChanged: %v %v", b, err)
	}
}

type failingAppender struct{}

func (failingAppender) Append(context.Context, ledger.Record) (*ledger.Block, error) {
	return nil, ledger.ErrConflict
}

func TestRecorder_strictness(t *testing.T) {
	r := NewRecorder(failingAppender{}, zap.NewNop())
	ctx := context.Background()

	if _, err := r.UserCreated(ctx, Entity{ID: "1"}); !errors.Is(err, ledger.ErrConflict) {
		t.Errorf("strict recorder should return append errors, got %v", err)
	}

	r.SetStrict(false)
	b, err := r.UserCreated(ctx, Entity{ID: "1"})
	if err != nil || b != nil {
		t.Errorf("lenient recorder should swallow append errors, got %v, %v", b, err)
	}
}

func TestRecorder_requiresID(t *testing.T) {
	r, _, _ := newTestRecorder(t)
	if _, err := r.UserCreated(context.Background(), Entity{}); err == nil {
		t.Error("expected error for entity without id")
	}
}
