package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"
)

var (
	blockPrefix  = []byte("blk/")
	digestPrefix = []byte("dig/")
)

// recordEncMode encodes stored records with Core Deterministic Encoding
// (sorted map keys, smallest integer encoding).
var recordEncMode cbor.EncMode

func init() {
	var err error
	recordEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("ledger: CBOR encoder initialization failed: " + err.Error())
	}
}

// badgerRecord is the on-disk form of a block. The payload is kept as its
// canonical JSON bytes so it decodes back to exactly what was hashed.
type badgerRecord struct {
	Sequence       uint64 `cbor:"seq"`
	PreviousDigest string `cbor:"prev"`
	Digest         string `cbor:"digest"`
	RecordType     string `cbor:"type"`
	Payload        []byte `cbor:"payload"`
	TimestampMicro int64  `cbor:"ts"`
	ActorID        string `cbor:"actor_id,omitempty"`
	ActorName      string `cbor:"actor_name,omitempty"`
	SubjectType    string `cbor:"subject_type,omitempty"`
	SubjectID      string `cbor:"subject_id,omitempty"`
	SourceIP       string `cbor:"source_ip,omitempty"`
}

// BadgerStore is an embedded, durable Store backed by BadgerDB.
// Writes are serialized by a process-wide mutex; each Update is one badger
// read-write transaction and each View one read-only snapshot.
type BadgerStore struct {
	mu     sync.Mutex
	db     *badger.DB
	now    func() time.Time
	logger *zap.Logger
}

// OpenBadgerStore opens (or creates) a BadgerStore in dir. An empty dir opens
// an in-memory database.
func OpenBadgerStore(dir string, logger *zap.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create badger dir: %w", err)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	logger.Info("badger ledger store opened", zap.String("dir", dir))
	return &BadgerStore{db: db, now: time.Now, logger: logger}, nil
}

// Update implements Store.
func (s *BadgerStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		return fn(&badgerTx{badgerReader: badgerReader{txn: txn}, now: s.now})
	})
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

// View implements Store.
func (s *BadgerStore) View(ctx context.Context, fn func(r Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&badgerReader{txn: txn})
	})
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

type badgerReader struct {
	txn *badger.Txn
}

func (r *badgerReader) Last(_ context.Context) (*Block, error) {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	it := r.txn.NewIterator(opts)
	defer it.Close()

	it.Seek(append(append([]byte{}, blockPrefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff))
	if !it.ValidForPrefix(blockPrefix) {
		return nil, nil
	}
	return decodeItem(it.Item())
}

func (r *badgerReader) Get(_ context.Context, seq uint64) (*Block, error) {
	item, err := r.txn.Get(blockKey(seq))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("block %d: %w", seq, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get block %d: %w", seq, err)
	}
	return decodeItem(item)
}

func (r *badgerReader) Ascend(ctx context.Context, fn func(b *Block) error) error {
	it := r.txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	for it.Seek(blockPrefix); it.ValidForPrefix(blockPrefix); it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := decodeItem(it.Item())
		if err != nil {
			return err
		}
		if err := fn(b); err != nil {
			return err
		}
	}
	return nil
}

func (r *badgerReader) FindByEntity(ctx context.Context, ref EntityRef, types ...RecordType) ([]*Block, error) {
	var out []*Block
	err := r.Ascend(ctx, func(b *Block) error {
		if b.References(ref) && wantType(types, b.RecordType) {
			out = append(out, b)
		}
		return nil
	})
	return out, err
}

func (r *badgerReader) Count(_ context.Context) (int, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := r.txn.NewIterator(opts)
	defer it.Close()

	n := 0
	for it.Seek(blockPrefix); it.ValidForPrefix(blockPrefix); it.Next() {
		n++
	}
	return n, nil
}

func (r *badgerReader) CountByType(ctx context.Context) (map[RecordType]int, error) {
	counts := make(map[RecordType]int)
	err := r.Ascend(ctx, func(b *Block) error {
		counts[b.RecordType]++
		return nil
	})
	return counts, err
}

func (r *badgerReader) Latest(_ context.Context, n int) ([]*Block, error) {
	if n <= 0 {
		return nil, nil
	}
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	it := r.txn.NewIterator(opts)
	defer it.Close()

	out := make([]*Block, 0, n)
	it.Seek(append(append([]byte{}, blockPrefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff))
	for ; it.ValidForPrefix(blockPrefix) && len(out) < n; it.Next() {
		b, err := decodeItem(it.Item())
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

type badgerTx struct {
	badgerReader
	now func() time.Time
}

func (t *badgerTx) Insert(_ context.Context, b *Block) error {
	if exists, err := t.has(blockKey(b.Sequence)); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("insert block %d: duplicate sequence number: %w", b.Sequence, ErrConflict)
	}
	if exists, err := t.has(digestKey(b.Digest)); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("insert block %d: duplicate digest: %w", b.Sequence, ErrConflict)
	}

	b.Timestamp = storeTime(t.now())
	if err := t.put(b); err != nil {
		return fmt.Errorf("insert block %d: %w", b.Sequence, err)
	}
	if err := t.txn.Set(digestKey(b.Digest), seqBytes(b.Sequence)); err != nil {
		return fmt.Errorf("index digest of block %d: %w", b.Sequence, err)
	}
	return nil
}

func (t *badgerTx) SetDigest(ctx context.Context, seq uint64, digest string) error {
	b, err := t.Get(ctx, seq)
	if err != nil {
		return fmt.Errorf("set digest: %w", err)
	}
	item, err := t.txn.Get(digestKey(digest))
	switch {
	case err == nil:
		owner, verr := item.ValueCopy(nil)
		if verr != nil {
			return verr
		}
		if binary.BigEndian.Uint64(owner) != seq {
			return fmt.Errorf("set digest of block %d: digest already used by block %d: %w",
				seq, binary.BigEndian.Uint64(owner), ErrConflict)
		}
	case !errors.Is(err, badger.ErrKeyNotFound):
		return err
	}

	if err := t.txn.Delete(digestKey(b.Digest)); err != nil {
		return err
	}
	b.Digest = digest
	if err := t.put(b); err != nil {
		return fmt.Errorf("set digest of block %d: %w", seq, err)
	}
	return t.txn.Set(digestKey(digest), seqBytes(seq))
}

func (t *badgerTx) has(key []byte) (bool, error) {
	_, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (t *badgerTx) put(b *Block) error {
	payload, err := canonicalPayload(b.Payload)
	if err != nil {
		return err
	}
	rec := badgerRecord{
		Sequence:       b.Sequence,
		PreviousDigest: b.PreviousDigest,
		Digest:         b.Digest,
		RecordType:     string(b.RecordType),
		Payload:        payload,
		TimestampMicro: b.Timestamp.UnixMicro(),
		SourceIP:       b.SourceIP,
	}
	if b.Actor != nil {
		rec.ActorID, rec.ActorName = b.Actor.ID, b.Actor.Name
	}
	if b.Subject != nil {
		rec.SubjectType, rec.SubjectID = b.Subject.Type, b.Subject.ID
	}
	data, err := recordEncMode.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode block record: %w", err)
	}
	return t.txn.Set(blockKey(b.Sequence), data)
}

func decodeItem(item *badger.Item) (*Block, error) {
	data, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("read block record: %w", err)
	}
	var rec badgerRecord
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode block record: %w", err)
	}
	payload, err := decodePayload(rec.Payload)
	if err != nil {
		return nil, err
	}
	b := &Block{
		Sequence:       rec.Sequence,
		PreviousDigest: rec.PreviousDigest,
		Digest:         rec.Digest,
		RecordType:     RecordType(rec.RecordType),
		Payload:        payload,
		Timestamp:      time.UnixMicro(rec.TimestampMicro).UTC(),
		SourceIP:       rec.SourceIP,
	}
	if rec.ActorID != "" || rec.ActorName != "" {
		b.Actor = &ActorRef{ID: rec.ActorID, Name: rec.ActorName}
	}
	if rec.SubjectType != "" || rec.SubjectID != "" {
		b.Subject = &EntityRef{Type: rec.SubjectType, ID: rec.SubjectID}
	}
	return b, nil
}

func blockKey(seq uint64) []byte {
	return append(append([]byte{}, blockPrefix...), seqBytes(seq)...)
}

func digestKey(digest string) []byte {
	return append(append([]byte{}, digestPrefix...), digest...)
}

func seqBytes(seq uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return buf[:]
}
