package ledger

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a block lookup finds no matching record.
	ErrNotFound = errors.New("block not found")

	// ErrConflict is returned when a write violates sequence or digest
	// uniqueness. It means two appends raced past the store's write lock and
	// must never be swallowed.
	ErrConflict = errors.New("ledger write conflict")

	// ErrEncoding is returned when a payload cannot be canonically encoded.
	ErrEncoding = errors.New("payload encoding failed")

	// ErrUnknownRecordType is returned for a record type outside the closed set.
	ErrUnknownRecordType = errors.New("unknown record type")
)

// Store is the durable, ordered collection of blocks.
//
// Update runs fn inside the store's single write transaction: calls are
// serialized, and if fn returns an error nothing it wrote becomes visible.
// View runs fn over a consistent snapshot; blocks appended while fn runs are
// not observed.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(r Reader) error) error
	Close() error
}

// Reader is the read side of a store snapshot.
type Reader interface {
	// Last returns the block with the highest sequence number, or nil when
	// the store is empty.
	Last(ctx context.Context) (*Block, error)

	// Get returns the block with the given sequence number or ErrNotFound.
	Get(ctx context.Context, seq uint64) (*Block, error)

	// Ascend calls fn for every block in ascending sequence order. It stops
	// and returns fn's error if fn fails.
	Ascend(ctx context.Context, fn func(b *Block) error) error

	// FindByEntity returns the blocks whose payload references ref, in
	// ascending order. When types is non-empty only those record types match.
	FindByEntity(ctx context.Context, ref EntityRef, types ...RecordType) ([]*Block, error)

	// Count returns the number of stored blocks.
	Count(ctx context.Context) (int, error)

	// CountByType returns the number of blocks per record type. Types with
	// no blocks may be absent.
	CountByType(ctx context.Context) (map[RecordType]int, error)

	// Latest returns up to n blocks, highest sequence first.
	Latest(ctx context.Context, n int) ([]*Block, error)
}

// Tx is the write side of an Update.
type Tx interface {
	Reader

	// Insert persists b and sets b.Timestamp to the store-assigned write
	// time. A duplicate sequence number or digest yields ErrConflict.
	Insert(ctx context.Context, b *Block) error

	// SetDigest replaces the digest of block seq. A digest already used by
	// another block yields ErrConflict.
	SetDigest(ctx context.Context, seq uint64, digest string) error
}

func wantType(types []RecordType, t RecordType) bool {
	if len(types) == 0 {
		return true
	}
	for _, want := range types {
		if want == t {
			return true
		}
	}
	return false
}
