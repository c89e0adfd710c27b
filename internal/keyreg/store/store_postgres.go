package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"namereg/internal/keyreg/models"
	id "namereg/pkg/domain"
	"namereg/pkg/platform/sentinel"
	txcontext "namereg/pkg/platform/tx"
)

const ownerRegistryLabel = "keys"

// Postgres persists key registry records in PostgreSQL. The enumeration log
// is a separate append-only table so removals never disturb it.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// execer returns the context transaction when one is open, so mutations can
// commit atomically with the audit outbox append.
func (s *Postgres) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Migrate creates the registry tables if they do not exist yet.
func (s *Postgres) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS key_records (
			name       TEXT PRIMARY KEY,
			public_key BYTEA NOT NULL,
			live       BOOLEAN NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS key_names (
			position BIGSERIAL PRIMARY KEY,
			name     TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS registry_owner (
			registry TEXT PRIMARY KEY,
			owner    UUID NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate key registry: %w", err)
		}
	}
	return nil
}

// EnsureOwner seeds the owner row on first start. An existing owner wins, so
// restarts never overwrite a transferred ownership.
func (s *Postgres) EnsureOwner(ctx context.Context, owner id.Identity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO registry_owner (registry, owner)
		VALUES ($1, $2)
		ON CONFLICT (registry) DO NOTHING
	`, ownerRegistryLabel, owner.String())
	if err != nil {
		return fmt.Errorf("seed registry owner: %w", err)
	}
	return nil
}

func (s *Postgres) Create(ctx context.Context, rec *models.Record) error {
	if _, ok := txcontext.From(ctx); ok {
		return s.create(ctx, rec)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := s.create(txcontext.With(ctx, tx), rec); err != nil {
		return err
	}
	return tx.Commit()
}

// create runs the record upsert and the enumeration append on the context
// transaction.
func (s *Postgres) create(ctx context.Context, rec *models.Record) error {
	// Upsert that only lands when no live record holds the name; a losing
	// create changes nothing.
	res, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO key_records (name, public_key, live, created_at, updated_at)
		VALUES ($1, $2, TRUE, $3, $4)
		ON CONFLICT (name) DO UPDATE
		SET public_key = EXCLUDED.public_key,
		    live       = TRUE,
		    updated_at = EXCLUDED.updated_at
		WHERE key_records.live = FALSE
	`, rec.Name, rec.PublicKey, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert key record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert key record: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}

	if _, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO key_names (name) VALUES ($1)
	`, rec.Name); err != nil {
		return fmt.Errorf("append enumeration log: %w", err)
	}
	return nil
}

func (s *Postgres) UpdateKey(ctx context.Context, name string, publicKey []byte, now time.Time) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE key_records SET public_key = $2, updated_at = $3
		WHERE name = $1 AND live
	`, name, publicKey, now)
	if err != nil {
		return fmt.Errorf("update key record: %w", err)
	}
	return requireAffected(res, "update key record")
}

func (s *Postgres) Remove(ctx context.Context, name string, now time.Time) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE key_records SET public_key = ''::bytea, live = FALSE, updated_at = $2
		WHERE name = $1 AND live
	`, name, now)
	if err != nil {
		return fmt.Errorf("remove key record: %w", err)
	}
	return requireAffected(res, "remove key record")
}

func (s *Postgres) Find(ctx context.Context, name string) (*models.Record, error) {
	var rec models.Record
	err := s.db.QueryRowContext(ctx, `
		SELECT name, public_key, live, created_at, updated_at
		FROM key_records
		WHERE name = $1 AND live
	`, name).Scan(&rec.Name, &rec.PublicKey, &rec.Live, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find key record: %w", err)
	}
	return &rec, nil
}

func (s *Postgres) Exists(ctx context.Context, name string) (bool, error) {
	var live bool
	err := s.db.QueryRowContext(ctx, `
		SELECT live FROM key_records WHERE name = $1
	`, name).Scan(&live)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check key record: %w", err)
	}
	return live, nil
}

func (s *Postgres) ListNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM key_names ORDER BY position
	`)
	if err != nil {
		return nil, fmt.Errorf("list names: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Postgres) Owner(ctx context.Context) (id.Identity, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT owner FROM registry_owner WHERE registry = $1
	`, ownerRegistryLabel).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return id.Identity{}, nil
		}
		return id.Identity{}, fmt.Errorf("load registry owner: %w", err)
	}
	owner, err := id.ParseIdentity(raw)
	if err != nil {
		return id.Identity{}, fmt.Errorf("parse registry owner: %w", err)
	}
	return owner, nil
}

func (s *Postgres) SetOwner(ctx context.Context, owner id.Identity) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO registry_owner (registry, owner)
		VALUES ($1, $2)
		ON CONFLICT (registry) DO UPDATE SET owner = EXCLUDED.owner
	`, ownerRegistryLabel, owner.String())
	if err != nil {
		return fmt.Errorf("set registry owner: %w", err)
	}
	return nil
}

func requireAffected(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
