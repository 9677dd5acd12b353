// Package postgres is the durable ledger substrate backed by PostgreSQL.
// The table is append-only by construction: the service never issues
// UPDATE or DELETE against it.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/GrupoUS/neonpro-sub006/internal/event"
	"github.com/GrupoUS/neonpro-sub006/internal/ledger"
	"github.com/GrupoUS/neonpro-sub006/pkg/domain"
	"github.com/GrupoUS/neonpro-sub006/pkg/platform/sentinel"
)

// Store implements ledger.LogStore on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the audit table when missing. Payload is BYTEA, not
// JSONB: the chain hash commits to the caller's exact bytes and JSONB
// normalization would silently rewrite them.
func (s *Store) EnsureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS audit_records (
			partition      TEXT        NOT NULL,
			sequence       BIGINT      NOT NULL,
			previous_hash  TEXT        NOT NULL,
			record_hash    TEXT        NOT NULL,
			event_id       UUID        NOT NULL UNIQUE,
			aggregate_id   TEXT        NOT NULL,
			event_type     TEXT        NOT NULL,
			payload        BYTEA       NOT NULL,
			occurred_at    TIMESTAMPTZ NOT NULL,
			actor_id       TEXT        NOT NULL,
			actor_role     TEXT        NOT NULL,
			causation_id   UUID,
			correlation_id TEXT        NOT NULL DEFAULT '',
			recorded_at    TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (partition, sequence)
		)`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return classify(err, "ensure schema")
	}
	return nil
}

func (s *Store) AppendIfAbsent(ctx context.Context, rec ledger.Record) (ledger.Record, bool, error) {
	const insert = `
		INSERT INTO audit_records (
			partition, sequence, previous_hash, record_hash, event_id,
			aggregate_id, event_type, payload, occurred_at, actor_id,
			actor_role, causation_id, correlation_id, recorded_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (event_id) DO NOTHING`

	var causation *uuid.UUID
	if rec.Event.HasCausation() {
		u := uuid.UUID(rec.Event.CausationID)
		causation = &u
	}
	tag, err := s.pool.Exec(ctx, insert,
		rec.Partition.String(),
		int64(rec.Sequence),
		rec.PreviousHash,
		rec.Hash,
		uuid.UUID(rec.Event.ID),
		rec.Event.AggregateID,
		rec.Event.Type.String(),
		[]byte(rec.Event.Payload),
		rec.Event.OccurredAt.UTC(),
		rec.Event.ActorID,
		rec.Event.ActorRole.String(),
		causation,
		rec.Event.CorrelationID,
		rec.RecordedAt.UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		// 23505 on the primary key means we raced another writer to the
		// tail; the service retakes the head under its partition lock.
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ledger.Record{}, false, fmt.Errorf("append at occupied sequence %d: %w", rec.Sequence, sentinel.ErrConflict)
		}
		return ledger.Record{}, false, classify(err, "append")
	}
	if tag.RowsAffected() == 1 {
		return rec, false, nil
	}
	existing, ok, err := s.GetByID(ctx, rec.Event.ID)
	if err != nil {
		return ledger.Record{}, false, err
	}
	if !ok {
		return ledger.Record{}, false, fmt.Errorf("event %s vanished after conflict: %w", rec.Event.ID, sentinel.ErrUnavailable)
	}
	return existing, true, nil
}

const recordColumns = `
	partition, sequence, previous_hash, record_hash, event_id,
	aggregate_id, event_type, payload, occurred_at, actor_id,
	actor_role, causation_id, correlation_id, recorded_at`

func (s *Store) GetByID(ctx context.Context, id domain.EventID) (ledger.Record, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM audit_records WHERE event_id = $1`,
		uuid.UUID(id))
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Record{}, false, nil
	}
	if err != nil {
		return ledger.Record{}, false, classify(err, "get by id")
	}
	return rec, true, nil
}

func (s *Store) ReadRange(ctx context.Context, partition domain.AggregateType, from, to uint64) ([]ledger.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+`
		 FROM audit_records
		 WHERE partition = $1 AND sequence BETWEEN $2 AND $3
		 ORDER BY sequence ASC`,
		partition.String(), int64(from), int64(to))
	if err != nil {
		return nil, classify(err, "read range")
	}
	defer rows.Close()

	var out []ledger.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, classify(err, "read range")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "read range")
	}
	return out, nil
}

func (s *Store) Head(ctx context.Context, partition domain.AggregateType) (uint64, string, error) {
	var seq int64
	var hash string
	err := s.pool.QueryRow(ctx,
		`SELECT sequence, record_hash FROM audit_records
		 WHERE partition = $1 ORDER BY sequence DESC LIMIT 1`,
		partition.String()).Scan(&seq, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", classify(err, "head")
	}
	return uint64(seq), hash, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (ledger.Record, error) {
	var (
		rec       ledger.Record
		partition string
		seq       int64
		eventID   uuid.UUID
		eventType string
		payload   []byte
		actorRole string
		causation *uuid.UUID
	)
	err := row.Scan(
		&partition, &seq, &rec.PreviousHash, &rec.Hash, &eventID,
		&rec.Event.AggregateID, &eventType, &payload, &rec.Event.OccurredAt,
		&rec.Event.ActorID, &actorRole, &causation, &rec.Event.CorrelationID,
		&rec.RecordedAt,
	)
	if err != nil {
		return ledger.Record{}, err
	}
	rec.Partition = domain.AggregateType(partition)
	rec.Sequence = uint64(seq)
	rec.Event.ID = domain.EventID(eventID)
	rec.Event.AggregateType = rec.Partition
	rec.Event.Type = event.Type(eventType)
	rec.Event.Payload = json.RawMessage(payload)
	rec.Event.ActorRole = domain.ActorRole(actorRole)
	rec.Event.OccurredAt = rec.Event.OccurredAt.UTC()
	rec.RecordedAt = rec.RecordedAt.UTC()
	if causation != nil {
		rec.Event.CausationID = domain.EventID(*causation)
	}
	return rec, nil
}

// classify maps driver failures onto the substrate sentinels so the service
// can decide what to retry.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection failure, 57 is operator intervention
		// (shutdown); both are transient from the ledger's standpoint.
		if len(pgErr.Code) >= 2 && (pgErr.Code[:2] == "08" || pgErr.Code[:2] == "57") {
			return fmt.Errorf("%s: %v: %w", op, err, sentinel.ErrUnavailable)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s: %v: %w", op, err, sentinel.ErrUnavailable)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %v: %w", op, err, sentinel.ErrUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}
