package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alexjbarnes/focus-sync/internal/document"
	"github.com/alexjbarnes/focus-sync/internal/identity"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// schema creates the documents table. A row belongs to exactly one
// identity scheme.
const schema = `
CREATE TABLE IF NOT EXISTS sync_documents (
	user_id        TEXT UNIQUE,
	google_user_id TEXT UNIQUE,
	data           JSONB NOT NULL,
	device         TEXT NOT NULL DEFAULT '',
	updated_at     TIMESTAMPTZ NOT NULL,
	CONSTRAINT sync_documents_one_identity
		CHECK ((user_id IS NULL) <> (google_user_id IS NULL))
)`

// PostgresStore keeps documents in the sync_documents table.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenPostgres connects to databaseURL and ensures the schema exists.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for the postgres backend")
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s, err := NewPostgresStore(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// NewPostgresStore wraps an open database and ensures the schema exists.
func NewPostgresStore(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &PostgresStore{db: db, now: time.Now}, nil
}

// identityColumn returns the column that keys id's scheme.
func identityColumn(id identity.Identity) (string, error) {
	switch id.Kind {
	case identity.KindPrimary:
		return "user_id", nil
	case identity.KindSecondary:
		return "google_user_id", nil
	default:
		return "", fmt.Errorf("invalid identity %q", id.Key())
	}
}

func (s *PostgresStore) Get(ctx context.Context, id identity.Identity) (document.Record, error) {
	if err := checkIdentity(id); err != nil {
		return document.Record{}, err
	}

	col, err := identityColumn(id)
	if err != nil {
		return document.Record{}, err
	}

	var (
		data []byte
		rec  document.Record
	)

	err = s.db.QueryRowContext(ctx,
		`SELECT data, device, updated_at FROM sync_documents WHERE `+col+` = $1`, id.ID,
	).Scan(&data, &rec.Device, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return document.Record{}, fmt.Errorf("reading document for %s: %w", id, ErrNotFound)
	}

	if err != nil {
		return document.Record{}, fmt.Errorf("reading document for %s: %w", id, err)
	}

	if err := json.Unmarshal(data, &rec.Document); err != nil {
		return document.Record{}, fmt.Errorf("decoding document for %s: %w", id, err)
	}

	rec.UpdatedAt = rec.UpdatedAt.UTC()

	return rec, nil
}

func (s *PostgresStore) Put(ctx context.Context, id identity.Identity, doc document.Document, device string) (document.Record, error) {
	if err := checkIdentity(id); err != nil {
		return document.Record{}, err
	}

	col, err := identityColumn(id)
	if err != nil {
		return document.Record{}, err
	}

	rec := document.Record{
		Document:  doc.Clone(),
		UpdatedAt: s.now().UTC(),
		Device:    device,
	}

	data, err := json.Marshal(rec.Document)
	if err != nil {
		return document.Record{}, fmt.Errorf("marshalling document: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sync_documents (`+col+`, data, device, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (`+col+`) DO UPDATE
		SET data = EXCLUDED.data, device = EXCLUDED.device, updated_at = EXCLUDED.updated_at`,
		id.ID, data, device, rec.UpdatedAt,
	)
	if err != nil {
		return document.Record{}, fmt.Errorf("writing document for %s: %w", id, err)
	}

	return rec, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
