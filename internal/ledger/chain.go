package ledger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultLatest is the number of recent blocks Statistics returns when the
// caller does not ask for a specific count.
const DefaultLatest = 50

// Record is an event a producer asks the chain to append.
type Record struct {
	Type     RecordType
	Payload  Payload
	Actor    *ActorRef
	Subject  *EntityRef
	SourceIP string
}

// Chain runs the append and verification protocols over a Store. It keeps no
// state of its own; the tail is always read inside the store's write
// transaction.
type Chain struct {
	store    Store
	hasher   *Hasher
	onAppend func(*Block)
	logger   *zap.Logger
}

// NewChain creates a Chain over store. A nil hasher selects DefaultHasher and
// a nil logger discards output.
func NewChain(store Store, hasher *Hasher, logger *zap.Logger) *Chain {
	if hasher == nil {
		hasher = DefaultHasher
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{store: store, hasher: hasher, logger: logger}
}

// SetAppendHook registers fn to be called with every block after it has been
// durably appended.
func (c *Chain) SetAppendHook(fn func(*Block)) {
	c.onAppend = fn
}

// Hasher returns the hasher the chain digests blocks with.
func (c *Chain) Hasher() *Hasher { return c.hasher }

// Append adds a new block chained to the current tail.
//
// Inside one store write transaction it reads the tail, derives the next
// sequence number and previous digest, inserts the block with a placeholder
// digest (the store assigns the timestamp), computes the digest over the
// stored timestamp, and finalizes it. If any step fails nothing is persisted.
func (c *Chain) Append(ctx context.Context, rec Record) (*Block, error) {
	if !rec.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRecordType, rec.Type)
	}
	payload, _, err := normalizePayload(rec.Payload)
	if err != nil {
		return nil, fmt.Errorf("append %s: %w", rec.Type, err)
	}

	var out *Block
	err = c.store.Update(ctx, func(tx Tx) error {
		last, err := tx.Last(ctx)
		if err != nil {
			return err
		}

		seq, prev := uint64(1), GenesisHash
		if last != nil {
			seq, prev = last.Sequence+1, last.Digest
		}

		b := &Block{
			Sequence:       seq,
			PreviousDigest: prev,
			Digest:         placeholderDigest(seq),
			RecordType:     rec.Type,
			Payload:        payload,
			Actor:          rec.Actor,
			Subject:        rec.Subject,
			SourceIP:       rec.SourceIP,
		}
		if err := tx.Insert(ctx, b); err != nil {
			return err
		}

		digest, err := c.hasher.Digest(b.Sequence, b.PreviousDigest, b.Payload, b.Timestamp)
		if err != nil {
			return err
		}
		if err := tx.SetDigest(ctx, b.Sequence, digest); err != nil {
			return err
		}
		b.Digest = digest
		out = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("append %s: %w", rec.Type, err)
	}

	c.logger.Debug("ledger block appended",
		zap.Uint64("seq", out.Sequence),
		zap.String("record_type", string(out.RecordType)),
		zap.String("digest", out.Digest),
	)
	if c.onAppend != nil {
		c.onAppend(out)
	}
	return out, nil
}

// Get returns the block with sequence number seq.
func (c *Chain) Get(ctx context.Context, seq uint64) (*Block, error) {
	var b *Block
	err := c.store.View(ctx, func(r Reader) error {
		var err error
		b, err = r.Get(ctx, seq)
		return err
	})
	return b, err
}

// Tip returns the most recent block, or nil for an empty chain.
func (c *Chain) Tip(ctx context.Context) (*Block, error) {
	var b *Block
	err := c.store.View(ctx, func(r Reader) error {
		var err error
		b, err = r.Last(ctx)
		return err
	})
	return b, err
}

// FindingKind classifies a verification finding.
type FindingKind string

const (
	FindingInvalidGenesis   FindingKind = "invalid_genesis"
	FindingPreviousMismatch FindingKind = "previous_hash_mismatch"
	FindingHashMismatch     FindingKind = "hash_mismatch"
	FindingSequenceGap      FindingKind = "sequence_gap"
)

// Finding is one integrity problem found by Verify. Findings are data, not
// errors: a broken chain is a normal, reportable outcome.
type Finding struct {
	Sequence uint64      `json:"block_number"`
	Kind     FindingKind `json:"kind"`
	Message  string      `json:"message"`
}

func (f Finding) String() string { return f.Message }

// Report is the outcome of a verification pass.
type Report struct {
	Valid     bool      `json:"is_valid"`
	Findings  []Finding `json:"findings"`
	Blocks    int       `json:"total_blocks"`
	Tip       string    `json:"tip,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Errors returns the findings as human-readable lines.
func (r *Report) Errors() []string {
	out := make([]string, len(r.Findings))
	for i, f := range r.Findings {
		out[i] = f.Message
	}
	return out
}

// Verify walks the whole chain in ascending order over one consistent
// snapshot and reports every broken link and digest. It never writes.
//
// An empty chain is valid. Store and encoding failures are returned as errors.
func (c *Chain) Verify(ctx context.Context) (*Report, error) {
	report := &Report{Findings: []Finding{}}
	add := func(seq uint64, kind FindingKind, msg string) {
		report.Findings = append(report.Findings, Finding{
			Sequence: seq,
			Kind:     kind,
			Message:  fmt.Sprintf("Block #%d: %s", seq, msg),
		})
	}

	err := c.store.View(ctx, func(r Reader) error {
		var prev *Block
		return r.Ascend(ctx, func(curr *Block) error {
			report.Blocks++
			if prev == nil {
				if curr.PreviousDigest != GenesisHash {
					add(curr.Sequence, FindingInvalidGenesis, "Invalid genesis block")
				}
				if curr.Sequence != 1 {
					add(curr.Sequence, FindingSequenceGap,
						fmt.Sprintf("Sequence gap (chain starts at %d, want 1)", curr.Sequence))
				}
			} else {
				if curr.PreviousDigest != prev.Digest {
					add(curr.Sequence, FindingPreviousMismatch, "Previous hash mismatch")
				}
				if curr.Sequence != prev.Sequence+1 {
					add(curr.Sequence, FindingSequenceGap,
						fmt.Sprintf("Sequence gap (follows #%d)", prev.Sequence))
				}
			}

			digest, err := c.hasher.Digest(curr.Sequence, curr.PreviousDigest, curr.Payload, curr.Timestamp)
			if err != nil {
				return fmt.Errorf("rehash block %d: %w", curr.Sequence, err)
			}
			if digest != curr.Digest {
				add(curr.Sequence, FindingHashMismatch, "Hash verification failed")
			}

			report.Tip = curr.Digest
			prev = curr
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("verify chain: %w", err)
	}

	report.Valid = len(report.Findings) == 0
	report.CheckedAt = time.Now().UTC()
	return report, nil
}

// TypeCount is the number of blocks of one record type.
type TypeCount struct {
	Type  RecordType `json:"record_type"`
	Label string     `json:"label"`
	Count int        `json:"count"`
}

// Stats summarizes the chain for dashboards.
type Stats struct {
	TotalBlocks int         `json:"total_blocks"`
	ByType      []TypeCount `json:"record_type_counts"`
	Latest      []*Block    `json:"latest_blocks"`
}

// Statistics returns the block total, a count for every record type (zero
// counts included) and up to latest most recent blocks, newest first. A
// latest of zero or less selects DefaultLatest.
func (c *Chain) Statistics(ctx context.Context, latest int) (*Stats, error) {
	if latest <= 0 {
		latest = DefaultLatest
	}
	stats := &Stats{}
	err := c.store.View(ctx, func(r Reader) error {
		var err error
		if stats.TotalBlocks, err = r.Count(ctx); err != nil {
			return err
		}
		counts, err := r.CountByType(ctx)
		if err != nil {
			return err
		}
		for _, t := range RecordTypes() {
			stats.ByType = append(stats.ByType, TypeCount{Type: t, Label: t.Label(), Count: counts[t]})
		}
		stats.Latest, err = r.Latest(ctx, latest)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ledger statistics: %w", err)
	}
	if stats.Latest == nil {
		stats.Latest = []*Block{}
	}
	return stats, nil
}
