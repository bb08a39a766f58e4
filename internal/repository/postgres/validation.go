package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/blast-orchestrator/internal/validation"
)

// ValidationStore is the durable L3 tier of the phone validation cache.
type ValidationStore struct{ db *sql.DB }

// NewValidationStore creates a Postgres-backed validation store.
func NewValidationStore(db *sql.DB) *ValidationStore { return &ValidationStore{db: db} }

func (s *ValidationStore) Get(ctx context.Context, address string) (*validation.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT address, "exists", COALESCE(handle, ''), validated_at
		FROM phone_validation_cache
		WHERE address = $1
	`, address)

	var e validation.Entry
	err := row.Scan(&e.Address, &e.Exists, &e.Handle, &e.ValidatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get validation entry: %w", err)
	}
	return &e, nil
}

func (s *ValidationStore) Put(ctx context.Context, e validation.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO phone_validation_cache (address, "exists", handle, validated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4)
		ON CONFLICT (address)
		DO UPDATE SET "exists" = EXCLUDED."exists",
		              handle = EXCLUDED.handle,
		              validated_at = EXCLUDED.validated_at
	`, e.Address, e.Exists, e.Handle, e.ValidatedAt)
	if err != nil {
		return fmt.Errorf("put validation entry: %w", err)
	}
	return nil
}

func (s *ValidationStore) Delete(ctx context.Context, address string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM phone_validation_cache WHERE address = $1
	`, address)
	if err != nil {
		return fmt.Errorf("delete validation entry: %w", err)
	}
	return nil
}
