package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory, thread-safe Store implementation.
// It is primarily useful for testing and for single-process deployments
// that do not require durable persistence across restarts.
type MemoryStore struct {
	mu       sync.RWMutex
	blocks   []*Block
	bySeq    map[uint64]int
	byDigest map[string]uint64
	now      func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the clock used to stamp inserted blocks.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		bySeq:    make(map[uint64]int),
		byDigest: make(map[string]uint64),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Update implements Store. The write lock is held for the whole of fn, and
// every block fn inserted is dropped again if fn fails.
func (s *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{memoryReader: memoryReader{blocks: s.blocks}, store: s, base: len(s.blocks)}
	if err := fn(tx); err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		s.rollback(tx.base)
		return err
	}
	return nil
}

// rollback truncates the chain back to n blocks and rebuilds the indexes for
// anything removed.
func (s *MemoryStore) rollback(n int) {
	for _, b := range s.blocks[n:] {
		delete(s.bySeq, b.Sequence)
		delete(s.byDigest, b.Digest)
	}
	s.blocks = s.blocks[:n]
}

// View implements Store. The snapshot is taken under the read lock and the
// lock is released before fn runs, so a slow reader never blocks appends.
func (s *MemoryStore) View(ctx context.Context, fn func(r Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	snapshot := make([]*Block, len(s.blocks))
	for i, b := range s.blocks {
		snapshot[i] = b.clone()
	}
	s.mu.RUnlock()
	return fn(&memoryReader{blocks: snapshot})
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// memoryReader reads from a fixed slice of blocks ordered by sequence.
type memoryReader struct {
	blocks []*Block
}

func (r *memoryReader) Last(_ context.Context) (*Block, error) {
	if len(r.blocks) == 0 {
		return nil, nil
	}
	return r.blocks[len(r.blocks)-1].clone(), nil
}

func (r *memoryReader) Get(_ context.Context, seq uint64) (*Block, error) {
	i := sort.Search(len(r.blocks), func(i int) bool { return r.blocks[i].Sequence >= seq })
	if i == len(r.blocks) || r.blocks[i].Sequence != seq {
		return nil, fmt.Errorf("block %d: %w", seq, ErrNotFound)
	}
	return r.blocks[i].clone(), nil
}

func (r *memoryReader) Ascend(ctx context.Context, fn func(b *Block) error) error {
	for _, b := range r.blocks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(b.clone()); err != nil {
			return err
		}
	}
	return nil
}

func (r *memoryReader) FindByEntity(_ context.Context, ref EntityRef, types ...RecordType) ([]*Block, error) {
	var out []*Block
	for _, b := range r.blocks {
		if b.References(ref) && wantType(types, b.RecordType) {
			out = append(out, b.clone())
		}
	}
	return out, nil
}

func (r *memoryReader) Count(_ context.Context) (int, error) {
	return len(r.blocks), nil
}

func (r *memoryReader) CountByType(_ context.Context) (map[RecordType]int, error) {
	counts := make(map[RecordType]int)
	for _, b := range r.blocks {
		counts[b.RecordType]++
	}
	return counts, nil
}

func (r *memoryReader) Latest(_ context.Context, n int) ([]*Block, error) {
	if n <= 0 {
		return nil, nil
	}
	out := make([]*Block, 0, n)
	for i := len(r.blocks) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, r.blocks[i].clone())
	}
	return out, nil
}

// memoryTx writes straight into the store; the store's write lock is held by
// Update for the lifetime of the transaction.
type memoryTx struct {
	memoryReader
	store *MemoryStore
	base  int
	undo  []func()
}

func (t *memoryTx) Insert(_ context.Context, b *Block) error {
	s := t.store
	if _, dup := s.bySeq[b.Sequence]; dup {
		return fmt.Errorf("insert block %d: duplicate sequence number: %w", b.Sequence, ErrConflict)
	}
	if _, dup := s.byDigest[b.Digest]; dup {
		return fmt.Errorf("insert block %d: duplicate digest: %w", b.Sequence, ErrConflict)
	}
	if n := len(s.blocks); n > 0 && s.blocks[n-1].Sequence > b.Sequence {
		return fmt.Errorf("insert block %d: sequence behind tail %d: %w", b.Sequence, s.blocks[n-1].Sequence, ErrConflict)
	}

	b.Timestamp = storeTime(s.now())
	stored := b.clone()
	s.blocks = append(s.blocks, stored)
	s.bySeq[stored.Sequence] = len(s.blocks) - 1
	s.byDigest[stored.Digest] = stored.Sequence
	t.blocks = s.blocks
	return nil
}

func (t *memoryTx) SetDigest(_ context.Context, seq uint64, digest string) error {
	s := t.store
	i, ok := s.bySeq[seq]
	if !ok {
		return fmt.Errorf("set digest of block %d: %w", seq, ErrNotFound)
	}
	if owner, dup := s.byDigest[digest]; dup && owner != seq {
		return fmt.Errorf("set digest of block %d: digest already used by block %d: %w", seq, owner, ErrConflict)
	}
	b := s.blocks[i]
	if i < t.base {
		old := b.Digest
		t.undo = append(t.undo, func() {
			delete(s.byDigest, b.Digest)
			b.Digest = old
			s.byDigest[old] = seq
		})
	}
	delete(s.byDigest, b.Digest)
	b.Digest = digest
	s.byDigest[digest] = seq
	return nil
}
