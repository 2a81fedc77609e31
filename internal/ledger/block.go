package ledger

import (
	"fmt"
	"strings"
	"time"
)

// GenesisHash is the previous-digest sentinel carried by the first block.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// SystemActor is the display name used when a block has no acting user.
const SystemActor = "System"

// RecordType tags the kind of event a block records. The set is closed.
type RecordType string

const (
	RecordUserCreation           RecordType = "user_creation"
	RecordUserUpdate             RecordType = "user_update"
	RecordRoleCreation           RecordType = "role_creation"
	RecordRoleUpdate             RecordType = "role_update"
	RecordRoleDeletion           RecordType = "role_deletion"
	RecordPresentationSubmission RecordType = "presentation_submission"
	RecordPresentationScheduled  RecordType = "presentation_scheduled"
	RecordAssessmentSubmitted    RecordType = "assessment_submitted"
	RecordNotificationSent       RecordType = "notification_sent"
	RecordDateChanged            RecordType = "date_changed"
)

// recordLabels holds the display label of every valid record type, in
// declaration order.
var recordLabels = []struct {
	typ   RecordType
	label string
}{
	{RecordUserCreation, "User Creation"},
	{RecordUserUpdate, "User Update"},
	{RecordRoleCreation, "Role Creation"},
	{RecordRoleUpdate, "Role Update"},
	{RecordRoleDeletion, "Role Deletion"},
	{RecordPresentationSubmission, "Presentation Submission"},
	{RecordPresentationScheduled, "Presentation Scheduled"},
	{RecordAssessmentSubmitted, "Assessment Submitted"},
	{RecordNotificationSent, "Notification Sent"},
	{RecordDateChanged, "Date Changed"},
}

// RecordTypes returns every valid record type in declaration order.
func RecordTypes() []RecordType {
	out := make([]RecordType, len(recordLabels))
	for i, r := range recordLabels {
		out[i] = r.typ
	}
	return out
}

// Valid reports whether t belongs to the closed record type set.
func (t RecordType) Valid() bool {
	for _, r := range recordLabels {
		if r.typ == t {
			return true
		}
	}
	return false
}

// Label returns the human-readable name of t ("User Creation").
func (t RecordType) Label() string {
	for _, r := range recordLabels {
		if r.typ == t {
			return r.label
		}
	}
	return string(t)
}

// ParseRecordType accepts either the stored form ("user_update") or the
// dashed form ("user-update").
func ParseRecordType(s string) (RecordType, error) {
	t := RecordType(strings.ReplaceAll(strings.TrimSpace(strings.ToLower(s)), "-", "_"))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRecordType, s)
	}
	return t, nil
}

// EntityRef is a weak reference to a domain entity, e.g. PresentationRequest 42.
type EntityRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (r EntityRef) String() string { return r.Type + "#" + r.ID }

// IsZero reports whether the reference is unset.
func (r EntityRef) IsZero() bool { return r.Type == "" && r.ID == "" }

// ActorRef is a weak reference to the user that triggered an event. Name is a
// display-name snapshot taken when the event was recorded.
type ActorRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Payload is the structured event snapshot a block commits to.
type Payload map[string]any

// Block is a single record in the chain.
type Block struct {
	Sequence       uint64     `json:"block_number"`
	PreviousDigest string     `json:"previous_hash"`
	Digest         string     `json:"current_hash"`
	RecordType     RecordType `json:"record_type"`
	Payload        Payload    `json:"record_data"`
	Timestamp      time.Time  `json:"timestamp"`
	Actor          *ActorRef  `json:"actor,omitempty"`
	Subject        *EntityRef `json:"subject,omitempty"`
	SourceIP       string     `json:"ip_address,omitempty"`
}

// ActorName returns the display name of the acting user, its ID when no name
// was captured, or SystemActor when the block has no actor.
func (b *Block) ActorName() string {
	switch {
	case b.Actor == nil || (b.Actor.ID == "" && b.Actor.Name == ""):
		return SystemActor
	case b.Actor.Name != "":
		return b.Actor.Name
	default:
		return b.Actor.ID
	}
}

// References reports whether the block's payload names ref as its model.
func (b *Block) References(ref EntityRef) bool {
	return payloadString(b.Payload, PayloadModel) == ref.Type &&
		payloadString(b.Payload, PayloadModelID) == ref.ID
}

// clone returns a deep copy so callers can never mutate stored blocks.
func (b *Block) clone() *Block {
	if b == nil {
		return nil
	}
	cp := *b
	cp.Payload = clonePayload(b.Payload)
	if b.Actor != nil {
		a := *b.Actor
		cp.Actor = &a
	}
	if b.Subject != nil {
		s := *b.Subject
		cp.Subject = &s
	}
	return &cp
}

func clonePayload(p Payload) Payload {
	if p == nil {
		return nil
	}
	return Payload(cloneValue(map[string]any(p)).(map[string]any))
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = cloneValue(val)
		}
		return m
	case Payload:
		return cloneValue(map[string]any(t))
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = cloneValue(val)
		}
		return s
	default:
		return v
	}
}

// placeholderDigest is written before the real digest is known. It embeds the
// sequence number so it can never collide with another in-flight block.
func placeholderDigest(seq uint64) string {
	return fmt.Sprintf("pending-%d", seq)
}

// storeTime normalizes a store-assigned timestamp to the precision every
// backend can round-trip (PostgreSQL keeps microseconds).
func storeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
