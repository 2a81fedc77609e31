package ledger

import (
	"fmt"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type BadgerStoreSuite struct {
	suite.Suite
	store *BadgerStore
	chain *Chain
}

func (s *BadgerStoreSuite) SetupTest() {
	store, err := OpenBadgerStore("", zap.NewNop())
	s.Require().NoError(err)
	s.store = store
	s.chain = NewChain(store, nil, zap.NewNop())
}

func (s *BadgerStoreSuite) TearDownTest() {
	s.Require().NoError(s.store.Close())
}

func (s *BadgerStoreSuite) appendN(n int) []*Block {
	out := make([]*Block, 0, n)
	for i := 0; i < n; i++ {
		b, err := s.chain.Append(ctx, userRecord(fmt.Sprint(i)))
		s.Require().NoError(err)
		out = append(out, b)
	}
	return out
}

// rewrite replaces a stored block out-of-band, bypassing the chain.
func (s *BadgerStoreSuite) rewrite(seq uint64, mutate func(b *Block)) {
	err := s.store.db.Update(func(txn *badger.Txn) error {
		tx := &badgerTx{badgerReader: badgerReader{txn: txn}, now: time.Now}
		b, err := tx.Get(ctx, seq)
		if err != nil {
			return err
		}
		mutate(b)
		return tx.put(b)
	})
	s.Require().NoError(err)
}

func (s *BadgerStoreSuite) TestAppendAndVerify() {
	blocks := s.appendN(3)

	s.Equal(GenesisHash, blocks[0].PreviousDigest)
	s.Equal(blocks[0].Digest, blocks[1].PreviousDigest)
	s.Equal(blocks[1].Digest, blocks[2].PreviousDigest)

	r, err := s.chain.Verify(ctx)
	s.Require().NoError(err)
	s.True(r.Valid, r.Errors())
	s.Equal(3, r.Blocks)
	s.Equal(blocks[2].Digest, r.Tip)
}

func (s *BadgerStoreSuite) TestRoundTripPreservesDigestInputs() {
	ref := EntityRef{Type: "PresentationRequest", ID: "42"}
	rec := Record{
		Type: RecordPresentationSubmission,
		Payload: NewPayload(OpCreate, ref, map[string]any{
			"title":  "Émile's thesis",
			"score":  3.25,
			"panel":  []any{"a", "b"},
			"nested": map[string]any{"z": nil, "a": true},
		}),
		Actor:    &ActorRef{ID: "11", Name: "Ada"},
		Subject:  &ref,
		SourceIP: "10.0.0.8",
	}
	appended, err := s.chain.Append(ctx, rec)
	s.Require().NoError(err)

	got, err := s.chain.Get(ctx, appended.Sequence)
	s.Require().NoError(err)
	s.Equal(appended.Digest, got.Digest)
	s.True(appended.Timestamp.Equal(got.Timestamp))
	s.Equal(&ActorRef{ID: "11", Name: "Ada"}, got.Actor)
	s.Equal(&ref, got.Subject)
	s.Equal("10.0.0.8", got.SourceIP)

	d, err := DefaultHasher.Digest(got.Sequence, got.PreviousDigest, got.Payload, got.Timestamp)
	s.Require().NoError(err)
	s.Equal(got.Digest, d)
}

func (s *BadgerStoreSuite) TestDetectsTamper() {
	s.appendN(3)
	s.rewrite(2, func(b *Block) { b.Payload[PayloadOperation] = "delete" })

	r, err := s.chain.Verify(ctx)
	s.Require().NoError(err)
	s.Require().False(r.Valid)
	s.Require().Len(r.Findings, 1)
	s.Equal(uint64(2), r.Findings[0].Sequence)
	s.Equal(FindingHashMismatch, r.Findings[0].Kind)
}

func (s *BadgerStoreSuite) TestDetectsDeletedGenesis() {
	s.appendN(3)
	err := s.store.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(blockKey(1))
	})
	s.Require().NoError(err)

	r, err := s.chain.Verify(ctx)
	s.Require().NoError(err)
	s.False(r.Valid)
	s.Equal(uint64(2), r.Findings[0].Sequence)
	s.Equal(FindingInvalidGenesis, r.Findings[0].Kind)
}

func (s *BadgerStoreSuite) TestReaders() {
	s.appendN(5)

	err := s.store.View(ctx, func(r Reader) error {
		n, err := r.Count(ctx)
		s.Require().NoError(err)
		s.Equal(5, n)

		last, err := r.Last(ctx)
		s.Require().NoError(err)
		s.Equal(uint64(5), last.Sequence)

		latest, err := r.Latest(ctx, 2)
		s.Require().NoError(err)
		s.Require().Len(latest, 2)
		s.Equal(uint64(5), latest[0].Sequence)
		s.Equal(uint64(4), latest[1].Sequence)

		counts, err := r.CountByType(ctx)
		s.Require().NoError(err)
		s.Equal(5, counts[RecordUserUpdate])

		found, err := r.FindByEntity(ctx, EntityRef{Type: "CustomUser", ID: "3"})
		s.Require().NoError(err)
		s.Require().Len(found, 1)
		s.Equal(uint64(4), found[0].Sequence)

		_, err = r.Get(ctx, 77)
		s.ErrorIs(err, ErrNotFound)
		return nil
	})
	s.Require().NoError(err)
}

func (s *BadgerStoreSuite) TestEmpty() {
	tip, err := s.chain.Tip(ctx)
	s.Require().NoError(err)
	s.Nil(tip)

	r, err := s.chain.Verify(ctx)
	s.Require().NoError(err)
	s.True(r.Valid)
	s.Zero(r.Blocks)
}

func (s *BadgerStoreSuite) TestFailedUpdateRollsBack() {
	s.appendN(1)

	err := s.store.Update(ctx, func(tx Tx) error {
		b := &Block{Sequence: 2, PreviousDigest: "x", Digest: placeholderDigest(2), RecordType: RecordUserUpdate, Payload: Payload{}}
		s.Require().NoError(tx.Insert(ctx, b))
		return fmt.Errorf("abort")
	})
	s.Error(err)

	var n int
	s.Require().NoError(s.store.View(ctx, func(r Reader) error {
		var err error
		n, err = r.Count(ctx)
		return err
	}))
	s.Equal(1, n)
}

func (s *BadgerStoreSuite) TestDuplicateSequenceConflicts() {
	s.appendN(1)
	err := s.store.Update(ctx, func(tx Tx) error {
		return tx.Insert(ctx, &Block{Sequence: 1, Digest: "other", RecordType: RecordUserUpdate, Payload: Payload{}})
	})
	s.ErrorIs(err, ErrConflict)
}

func TestBadgerStoreSuite(t *testing.T) {
	suite.Run(t, new(BadgerStoreSuite))
}

func TestOpenBadgerStore_persists(t *testing.T) {
	dir := t.TempDir()

	store, err := OpenBadgerStore(dir, zap.NewNop())
	require.NoError(t, err)
	c := NewChain(store, nil, zap.NewNop())
	first, err := c.Append(ctx, userRecord("A"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = OpenBadgerStore(dir, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()
	c = NewChain(store, nil, zap.NewNop())

	second, err := c.Append(ctx, userRecord("B"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.Sequence)
	assert.Equal(t, first.Digest, second.PreviousDigest)

	r, err := c.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, r.Valid, r.Errors())
}
