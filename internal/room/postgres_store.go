package room

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"slateboard/core/internal/permission"
)

// Open connects to Postgres with sane pool limits.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// PostgresStore keeps room records in a single jsonb-backed table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the rooms table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS rooms (
			id         TEXT PRIMARY KEY,
			record     JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure rooms schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRoom(ctx context.Context, roomID string) (permission.Record, error) {
	const query = `SELECT record FROM rooms WHERE id = $1`
	var raw []byte
	err := s.db.QueryRowContext(ctx, query, roomID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return permission.Record{}, permission.ErrNotFound
	}
	if err != nil {
		return permission.Record{}, fmt.Errorf("select room: %w", err)
	}

	var rec permission.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return permission.Record{}, fmt.Errorf("unmarshal room record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) PutRoom(ctx context.Context, roomID string, rec permission.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal room record: %w", err)
	}

	const upsert = `
		INSERT INTO rooms (id, record, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET record = EXCLUDED.record, updated_at = now()
	`
	if _, err := s.db.ExecContext(ctx, upsert, roomID, payload); err != nil {
		return fmt.Errorf("upsert room: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
