package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// Schema is the SQL DDL for the voice_profiles table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
//
// The embedding column is dimension-less so that switching embedding models
// does not require a schema change.
const Schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS voice_profiles (
    id              TEXT PRIMARY KEY,
    owner_id        TEXT NOT NULL,
    name            TEXT NOT NULL,
    description     TEXT NOT NULL DEFAULT '',
    reference_audio JSONB NOT NULL DEFAULT '[]',
    embedding_ref   TEXT NOT NULL DEFAULT '',
    embedding       vector,
    engine_voice_id TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'pending'
                    CHECK (status IN ('pending', 'ready', 'failed')),
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_voice_profiles_owner ON voice_profiles(owner_id, created_at DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL with the pgvector extension.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] on db. The caller is responsible
// for calling [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPool opens a connection pool to dsn with pgvector types registered on
// every connection, and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("profile: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("profile: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("profile: ping: %w", err)
	}
	return pool, nil
}

// Migrate executes the [Schema] DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("profile: migrate: %w", err)
	}
	return nil
}

// Create implements [Store].
func (s *PostgresStore) Create(ctx context.Context, p *VoiceProfile) error {
	if p.Status != StatusPending {
		return fmt.Errorf("profile: create %q: status must be pending, got %q", p.ID, p.Status)
	}
	refsJSON, err := json.Marshal(nonNilRefs(p.References))
	if err != nil {
		return fmt.Errorf("profile: marshal references: %w", err)
	}

	const query = `
		INSERT INTO voice_profiles (
			id, owner_id, name, description, reference_audio,
			embedding_ref, embedding, engine_voice_id, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at`

	err = s.db.QueryRow(ctx, query,
		p.ID, p.OwnerID, p.Name, p.Description, refsJSON,
		p.EmbeddingRef, vectorArg(p.Embedding), p.EngineVoiceID, string(p.Status),
	).Scan(&p.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("profile: create %q: %w", p.ID, ErrExists)
		}
		return fmt.Errorf("profile: create %q: %w", p.ID, err)
	}
	return nil
}

const selectColumns = `
	SELECT id, owner_id, name, description, reference_audio,
	       embedding_ref, embedding, engine_voice_id, status, created_at
	FROM voice_profiles`

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, id string) (*VoiceProfile, error) {
	p, err := scanProfile(s.db.QueryRow(ctx, selectColumns+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("profile: get %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("profile: get %q: %w", id, err)
	}
	return p, nil
}

// ListByOwner implements [Store].
func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID string) ([]VoiceProfile, error) {
	rows, err := s.db.Query(ctx, selectColumns+` WHERE owner_id = $1 ORDER BY created_at DESC, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("profile: list for owner %q: %w", ownerID, err)
	}
	defer rows.Close()

	out := make([]VoiceProfile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("profile: scan row: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profile: iterate rows: %w", err)
	}
	return out, nil
}

// SetReferences implements [Store].
func (s *PostgresStore) SetReferences(ctx context.Context, id string, refs []AudioRef) error {
	refsJSON, err := json.Marshal(nonNilRefs(refs))
	if err != nil {
		return fmt.Errorf("profile: marshal references: %w", err)
	}
	return s.execOne(ctx, "set references", id,
		`UPDATE voice_profiles SET reference_audio = $2 WHERE id = $1`, id, refsJSON)
}

// SetEmbedding implements [Store].
func (s *PostgresStore) SetEmbedding(ctx context.Context, id, ref string, vec []float32) error {
	return s.execOne(ctx, "set embedding", id,
		`UPDATE voice_profiles SET embedding_ref = $2, embedding = $3 WHERE id = $1`,
		id, ref, vectorArg(vec))
}

// SetEngineVoice implements [Store].
func (s *PostgresStore) SetEngineVoice(ctx context.Context, id, voiceID string) error {
	return s.execOne(ctx, "set engine voice", id,
		`UPDATE voice_profiles SET engine_voice_id = $2 WHERE id = $1`, id, voiceID)
}

// Transition implements [Store]. The status guard runs in the UPDATE itself
// so concurrent transitions cannot both succeed.
func (s *PostgresStore) Transition(ctx context.Context, id string, to Status) error {
	if !CanTransition(StatusPending, to) {
		return fmt.Errorf("profile: transition %q to %s: %w", id, to, ErrInvalidTransition)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE voice_profiles SET status = $2 WHERE id = $1 AND status = 'pending'`, id, string(to))
	if err != nil {
		return fmt.Errorf("profile: transition %q: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = s.db.QueryRow(ctx, `SELECT status FROM voice_profiles WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("profile: transition %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("profile: transition %q: %w", id, err)
	}
	return fmt.Errorf("profile: transition %q %s→%s: %w", id, current, to, ErrInvalidTransition)
}

// Delete implements [Store].
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	return s.execOne(ctx, "delete", id, `DELETE FROM voice_profiles WHERE id = $1`, id)
}

// execOne runs a single-row statement and maps zero affected rows to
// ErrNotFound.
func (s *PostgresStore) execOne(ctx context.Context, action, id, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("profile: %s %q: %w", action, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("profile: %s %q: %w", action, id, ErrNotFound)
	}
	return nil
}

// scanProfile scans one row produced by selectColumns.
func scanProfile(row pgx.Row) (*VoiceProfile, error) {
	var (
		p        VoiceProfile
		refsJSON []byte
		vec      *pgvector.Vector
		status   string
	)
	if err := row.Scan(
		&p.ID, &p.OwnerID, &p.Name, &p.Description, &refsJSON,
		&p.EmbeddingRef, &vec, &p.EngineVoiceID, &status, &p.CreatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(refsJSON, &p.References); err != nil {
		return nil, fmt.Errorf("unmarshal reference_audio: %w", err)
	}
	if vec != nil {
		p.Embedding = vec.Slice()
	}
	p.Status = Status(status)
	return &p, nil
}

// vectorArg converts vec to a query argument, mapping empty to NULL.
func vectorArg(vec []float32) any {
	if len(vec) == 0 {
		return nil
	}
	return pgvector.NewVector(vec)
}

func nonNilRefs(refs []AudioRef) []AudioRef {
	if refs == nil {
		return []AudioRef{}
	}
	return refs
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
