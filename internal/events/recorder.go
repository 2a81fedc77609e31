// Package events turns domain events of the academic workflow into ledger
// records. Each recordable event has one explicit Recorder method; callers
// invoke it after the corresponding change has been committed.
package events

import (
	"context"
	"fmt"

	"github.com/jmerrifield20/scholarchain/internal/ledger"
	"go.uber.org/zap"
)

// Model names recorded in payloads. Audit trails are looked up by these.
const (
	ModelUser                   = "CustomUser"
	ModelRole                   = "UserGroup"
	ModelPresentation           = "PresentationRequest"
	ModelPresentationAssignment = "PresentationAssignment"
	ModelExaminerAssignment     = "ExaminerAssignment"
	ModelNotification           = "Notification"
)

// Examiner response statuses that are recorded on update.
const (
	StatusAccepted = "accepted"
	StatusDeclined = "declined"
)

// Appender is the subset of *ledger.Chain the Recorder needs.
type Appender interface {
	Append(ctx context.Context, rec ledger.Record) (*ledger.Block, error)
}

// Entity is a producer-supplied snapshot of a domain object.
type Entity struct {
	Type   string
	ID     string
	Name   string         // display name, used when the entity is also the actor
	Fields map[string]any // raw field values; see Snapshot

	// Presentation links the entity to the presentation it belongs to, if
	// any. Presentations link to themselves.
	Presentation string
}

func (e Entity) ref() ledger.EntityRef {
	return ledger.EntityRef{Type: e.Type, ID: e.ID}
}

func (e Entity) actor() *ledger.ActorRef {
	return &ledger.ActorRef{ID: e.ID, Name: e.Name}
}

type sourceIPKey struct{}

// WithSourceIP returns a context carrying the client IP of the request that
// caused an event. Recorded blocks pick it up.
func WithSourceIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, sourceIPKey{}, ip)
}

// SourceIPFromContext returns the IP stored by WithSourceIP.
func SourceIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(sourceIPKey{}).(string)
	return ip
}

// Recorder appends domain events to the ledger.
type Recorder struct {
	chain  Appender
	strict bool
	logger *zap.Logger
}

// NewRecorder creates a strict Recorder: append failures are returned to
// the caller.
func NewRecorder(chain Appender, logger *zap.Logger) *Recorder {
	return &Recorder{chain: chain, strict: true, logger: logger}
}

// SetStrict controls whether append failures are returned (true) or only
// logged (false).
func (r *Recorder) SetStrict(strict bool) {
	r.strict = strict
}

// UserCreated records a new user account. The user is its own actor.
func (r *Recorder) UserCreated(ctx context.Context, user Entity) (*ledger.Block, error) {
	user.Type = ModelUser
	return r.record(ctx, ledger.RecordUserCreation, ledger.OpCreate, user, user.actor())
}

// UserUpdated records a change to a user account.
func (r *Recorder) UserUpdated(ctx context.Context, user Entity) (*ledger.Block, error) {
	user.Type = ModelUser
	return r.record(ctx, ledger.RecordUserUpdate, ledger.OpUpdate, user, user.actor())
}

// RoleCreated records a new role group. Role changes are system actions.
func (r *Recorder) RoleCreated(ctx context.Context, role Entity) (*ledger.Block, error) {
	role.Type = ModelRole
	return r.record(ctx, ledger.RecordRoleCreation, ledger.OpCreate, role, nil)
}

// RoleUpdated records a change to a role group.
func (r *Recorder) RoleUpdated(ctx context.Context, role Entity) (*ledger.Block, error) {
	role.Type = ModelRole
	return r.record(ctx, ledger.RecordRoleUpdate, ledger.OpUpdate, role, nil)
}

// RoleDeleted records the removal of a role group. role should be the last
// state of the group before deletion.
func (r *Recorder) RoleDeleted(ctx context.Context, role Entity) (*ledger.Block, error) {
	role.Type = ModelRole
	return r.record(ctx, ledger.RecordRoleDeletion, ledger.OpDelete, role, nil)
}

// PresentationSubmitted records a student's new presentation request.
func (r *Recorder) PresentationSubmitted(ctx context.Context, p Entity, student *ledger.ActorRef) (*ledger.Block, error) {
	p.Type = ModelPresentation
	p.Presentation = p.ID
	return r.record(ctx, ledger.RecordPresentationSubmission, ledger.OpCreate, p, student)
}

// PresentationScheduled records an update to a presentation that has a
// scheduled date. Updates without one are not recorded and return a nil
// block.
func (r *Recorder) PresentationScheduled(ctx context.Context, p Entity) (*ledger.Block, error) {
	if snapshotValue(p.Fields["scheduled_date"]) == nil {
		return nil, nil
	}
	p.Type = ModelPresentation
	p.Presentation = p.ID
	return r.record(ctx, ledger.RecordPresentationScheduled, ledger.OpUpdate, p, nil)
}

// PresentationAssigned records a coordinator assigning a presentation slot.
func (r *Recorder) PresentationAssigned(ctx context.Context, a Entity, coordinator *ledger.ActorRef) (*ledger.Block, error) {
	a.Type = ModelPresentationAssignment
	return r.record(ctx, ledger.RecordPresentationScheduled, ledger.OpCreate, a, coordinator)
}

// ExaminerResponded records an examiner assignment when it is created or
// when the examiner accepts or declines it. Other updates return a nil
// block.
func (r *Recorder) ExaminerResponded(ctx context.Context, a Entity, examiner *ledger.ActorRef, created bool) (*ledger.Block, error) {
	op := ledger.OpCreate
	if !created {
		status, _ := a.Fields["status"].(string)
		if status != StatusAccepted && status != StatusDeclined {
			return nil, nil
		}
		op = ledger.OpUpdate
	}
	a.Type = ModelExaminerAssignment
	return r.record(ctx, ledger.RecordAssessmentSubmitted, op, a, examiner)
}

// NotificationSent records a notification delivered to recipient.
func (r *Recorder) NotificationSent(ctx context.Context, n Entity, recipient *ledger.ActorRef) (*ledger.Block, error) {
	n.Type = ModelNotification
	return r.record(ctx, ledger.RecordNotificationSent, ledger.OpCreate, n, recipient)
}

// DateChanged records a change to a date on any entity. e.Type must be set.
func (r *Recorder) DateChanged(ctx context.Context, e Entity, actor *ledger.ActorRef) (*ledger.Block, error) {
	if e.Type == "" {
		return nil, fmt.Errorf("date changed: entity type is required")
	}
	return r.record(ctx, ledger.RecordDateChanged, ledger.OpUpdate, e, actor)
}

func (r *Recorder) record(ctx context.Context, typ ledger.RecordType, op ledger.Operation, e Entity, actor *ledger.ActorRef) (*ledger.Block, error) {
	if e.ID == "" {
		return nil, fmt.Errorf("record %s: %s id is required", typ, e.Type)
	}
	rec := ledger.Record{
		Type:     typ,
		Payload:  ledger.NewPayload(op, e.ref(), Snapshot(e.Fields)),
		Actor:    actor,
		SourceIP: SourceIPFromContext(ctx),
	}
	if e.Presentation != "" {
		rec.Subject = &ledger.EntityRef{Type: ModelPresentation, ID: e.Presentation}
	}

	b, err := r.chain.Append(ctx, rec)
	if err != nil {
		if r.strict {
			return nil, err
		}
		r.logger.Error("ledger append failed (non-fatal)",
			zap.String("record_type", string(typ)),
			zap.String("model", e.Type),
			zap.String("model_id", e.ID),
			zap.Error(err),
		)
		return nil, nil
	}
	return b, nil
}
