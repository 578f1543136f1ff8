package repositories

import (
	"context"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema creates the ledger tables if missing and seeds the numbering
// policy row with currency. Safe to run on every start.
func EnsureSchema(ctx context.Context, db DB, currency string) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply ledger schema: %w", err)
	}
	if _, err := db.Exec(ctx, `INSERT INTO numbering_policy (id, currency) VALUES (1, $1) ON CONFLICT (id) DO NOTHING`, currency); err != nil {
		return fmt.Errorf("failed to seed numbering policy: %w", err)
	}
	return nil
}
