package ledger

import (
	"context"
	"fmt"
	"time"
)

// shortDigestLen is how many hex characters ShortDigest keeps.
const shortDigestLen = 16

// TrailEntry is one row of an entity's audit history.
type TrailEntry struct {
	Sequence   uint64     `json:"block_number"`
	Timestamp  time.Time  `json:"timestamp"`
	RecordType RecordType `json:"record_type"`
	Operation  string     `json:"operation"`
	Actor      string     `json:"user"`
	ActorID    string     `json:"user_id,omitempty"`
	Data       any        `json:"data,omitempty"`
	Digest     string     `json:"hash"`
}

// ShortDigest returns the leading characters of the block digest for display.
func (e TrailEntry) ShortDigest() string {
	if len(e.Digest) <= shortDigestLen {
		return e.Digest
	}
	return e.Digest[:shortDigestLen]
}

// Auditor answers "what happened to entity X" queries.
//
// A trail is exactly the sub-sequence of the chain whose payload references
// the entity. It does not re-verify the chain; run Chain.Verify first when
// the trail must be trusted.
type Auditor struct {
	store Store
}

// NewAuditor creates an Auditor over store.
func NewAuditor(store Store) *Auditor {
	return &Auditor{store: store}
}

// TrailFor returns the audit trail of ref in ascending sequence order,
// optionally restricted to the given record types. An entity with no blocks
// has an empty trail.
func (a *Auditor) TrailFor(ctx context.Context, ref EntityRef, types ...RecordType) ([]TrailEntry, error) {
	if ref.Type == "" || ref.ID == "" {
		return nil, fmt.Errorf("audit trail: entity type and id are required")
	}
	var blocks []*Block
	err := a.store.View(ctx, func(r Reader) error {
		var err error
		blocks, err = r.FindByEntity(ctx, ref, types...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("audit trail for %s: %w", ref, err)
	}

	trail := make([]TrailEntry, 0, len(blocks))
	for _, b := range blocks {
		var actorID string
		if b.Actor != nil {
			actorID = b.Actor.ID
		}
		trail = append(trail, TrailEntry{
			Sequence:   b.Sequence,
			Timestamp:  b.Timestamp,
			RecordType: b.RecordType,
			Operation:  b.Payload.Operation(),
			Actor:      b.ActorName(),
			ActorID:    actorID,
			Data:       b.Payload[PayloadData],
			Digest:     b.Digest,
		})
	}
	return trail, nil
}
