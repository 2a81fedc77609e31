package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey is a stable PostgreSQL advisory lock key used to serialise
// concurrent appends. The value is arbitrary but must be consistent across
// all processes writing to the same database.
const advisoryLockKey = int64(2_086_451_337)

const blockColumns = `sequence_number, previous_hash, current_hash, record_type, payload,
	recorded_at, actor_id, actor_name, subject_type, subject_id, source_ip`

// PostgresStore persists the chain to the ledger_blocks table.
// It implements the Store interface.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{pool: pool, logger: logger}
}

// Update implements Store.
// fn runs inside one transaction holding a transaction-scoped advisory lock,
// so reading the tail, inserting and finalizing the digest are linearized
// across every writer. The lock is released on commit or rollback.
func (s *PostgresStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	if err := fn(&pgTx{pgReader{q: tx}}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapPgError(fmt.Errorf("commit ledger tx: %w", err))
	}
	return nil
}

// View implements Store. fn reads from a REPEATABLE READ snapshot.
func (s *PostgresStore) View(ctx context.Context, fn func(r Reader) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&pgReader{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Close implements Store. The pool is owned by the caller and left open.
func (s *PostgresStore) Close() error { return nil }

// querier is the subset of pgx.Tx used by readers and writers.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgReader struct {
	q querier
}

func (r *pgReader) Last(ctx context.Context) (*Block, error) {
	b, err := scanBlock(r.q.QueryRow(ctx,
		`SELECT `+blockColumns+` FROM ledger_blocks ORDER BY sequence_number DESC LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger tail: %w", err)
	}
	return b, nil
}

func (r *pgReader) Get(ctx context.Context, seq uint64) (*Block, error) {
	b, err := scanBlock(r.q.QueryRow(ctx,
		`SELECT `+blockColumns+` FROM ledger_blocks WHERE sequence_number = $1`, int64(seq)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("block %d: %w", seq, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get block %d: %w", seq, err)
	}
	return b, nil
}

// Ascend streams rows ordered by sequence number. fn must not issue queries
// on the same transaction while the walk is in progress.
func (r *pgReader) Ascend(ctx context.Context, fn func(b *Block) error) error {
	rows, err := r.q.Query(ctx,
		`SELECT `+blockColumns+` FROM ledger_blocks ORDER BY sequence_number ASC`)
	if err != nil {
		return fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return fmt.Errorf("scan ledger row: %w", err)
		}
		if err := fn(b); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *pgReader) FindByEntity(ctx context.Context, ref EntityRef, types ...RecordType) ([]*Block, error) {
	q := `SELECT ` + blockColumns + ` FROM ledger_blocks
		WHERE payload->>'model' = $1 AND payload->>'model_id' = $2`
	args := []any{ref.Type, ref.ID}
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		q += ` AND record_type = ANY($3)`
		args = append(args, names)
	}
	q += ` ORDER BY sequence_number ASC`
	return r.collect(ctx, q, args...)
}

func (r *pgReader) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.q.QueryRow(ctx, "SELECT COUNT(*) FROM ledger_blocks").Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger blocks: %w", err)
	}
	return n, nil
}

func (r *pgReader) CountByType(ctx context.Context) (map[RecordType]int, error) {
	rows, err := r.q.Query(ctx,
		"SELECT record_type, COUNT(*) FROM ledger_blocks GROUP BY record_type")
	if err != nil {
		return nil, fmt.Errorf("count ledger blocks by type: %w", err)
	}
	defer rows.Close()

	counts := make(map[RecordType]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("scan record type count: %w", err)
		}
		counts[RecordType(t)] = n
	}
	return counts, rows.Err()
}

func (r *pgReader) Latest(ctx context.Context, n int) ([]*Block, error) {
	if n <= 0 {
		return nil, nil
	}
	return r.collect(ctx,
		`SELECT `+blockColumns+` FROM ledger_blocks ORDER BY sequence_number DESC LIMIT $1`, n)
}

func (r *pgReader) collect(ctx context.Context, q string, args ...any) ([]*Block, error) {
	rows, err := r.q.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var out []*Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type pgTx struct {
	pgReader
}

// Insert implements Tx. The timestamp comes from the database clock so every
// writer shares one authoritative time source.
func (t *pgTx) Insert(ctx context.Context, b *Block) error {
	payload, err := canonicalPayload(b.Payload)
	if err != nil {
		return err
	}

	var actorID, actorName, subjectType, subjectID *string
	if b.Actor != nil {
		actorID, actorName = nullable(b.Actor.ID), nullable(b.Actor.Name)
	}
	if b.Subject != nil {
		subjectType, subjectID = nullable(b.Subject.Type), nullable(b.Subject.ID)
	}

	if err := t.q.QueryRow(ctx,
		`INSERT INTO ledger_blocks (sequence_number, previous_hash, current_hash, record_type, payload,
			recorded_at, actor_id, actor_name, subject_type, subject_id, source_ip)
		 VALUES ($1, $2, $3, $4, $5::json, clock_timestamp(), $6, $7, $8, $9, $10)
		 RETURNING recorded_at`,
		int64(b.Sequence), b.PreviousDigest, b.Digest, string(b.RecordType), string(payload),
		actorID, actorName, subjectType, subjectID, nullable(b.SourceIP),
	).Scan(&b.Timestamp); err != nil {
		return mapPgError(fmt.Errorf("insert block %d: %w", b.Sequence, err))
	}
	b.Timestamp = storeTime(b.Timestamp)
	return nil
}

// SetDigest implements Tx.
func (t *pgTx) SetDigest(ctx context.Context, seq uint64, digest string) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE ledger_blocks SET current_hash = $2 WHERE sequence_number = $1`,
		int64(seq), digest)
	if err != nil {
		return mapPgError(fmt.Errorf("set digest of block %d: %w", seq, err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set digest of block %d: %w", seq, ErrNotFound)
	}
	return nil
}

func scanBlock(row pgx.Row) (*Block, error) {
	var (
		b                                          Block
		seq                                        int64
		recordType                                 string
		payload                                    []byte
		actorID, actorName, subjectType, subjectID *string
		sourceIP                                   *string
	)
	if err := row.Scan(
		&seq, &b.PreviousDigest, &b.Digest, &recordType, &payload,
		&b.Timestamp, &actorID, &actorName, &subjectType, &subjectID, &sourceIP,
	); err != nil {
		return nil, err
	}
	p, err := decodePayload(payload)
	if err != nil {
		return nil, err
	}
	b.Sequence = uint64(seq)
	b.RecordType = RecordType(recordType)
	b.Payload = p
	b.Timestamp = storeTime(b.Timestamp)
	if actorID != nil || actorName != nil {
		b.Actor = &ActorRef{ID: deref(actorID), Name: deref(actorName)}
	}
	if subjectType != nil || subjectID != nil {
		b.Subject = &EntityRef{Type: deref(subjectType), ID: deref(subjectID)}
	}
	b.SourceIP = deref(sourceIP)
	return &b, nil
}

// mapPgError turns unique violations into ErrConflict.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s (%s)", ErrConflict, pgErr.ConstraintName, err)
	}
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
