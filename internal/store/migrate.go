package store

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS api_keys (
		token TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_created ON api_keys(created_at);`,
	`CREATE TABLE IF NOT EXISTS shares (
		id TEXT PRIMARY KEY,
		goal TEXT NOT NULL DEFAULT '',
		prompt TEXT NOT NULL DEFAULT '',
		voice_ref TEXT NOT NULL DEFAULT '',
		voice_prompt_text TEXT NOT NULL DEFAULT '',
		visibility TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		plays INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE INDEX IF NOT EXISTS idx_shares_public ON shares(visibility, plays DESC);`,
}

// Migrate ensures the required database tables exist.
func (s *Store) Migrate(ctx context.Context) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}
	return nil
}
