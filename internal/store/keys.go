package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nmtlab/nmtgate/internal/keystore"
)

// Keys adapts a Store to keystore.Store.
type Keys struct {
	store *Store
	clock func() time.Time
}

// Keys returns the API key table view of s.
func (s *Store) Keys() *Keys {
	return &Keys{store: s, clock: time.Now}
}

var _ keystore.Store = (*Keys)(nil)

func (k *Keys) Create(ctx context.Context, name string) (*keystore.Credential, error) {
	ctx, err := k.store.ready(ctx)
	if err != nil {
		return nil, err
	}

	token, err := keystore.GenerateToken()
	if err != nil {
		return nil, err
	}
	meta := keystore.Metadata{Name: keystore.NormalizeName(name), Created: k.clock().UTC()}

	_, err = k.store.DB.ExecContext(ctx, `
		INSERT INTO api_keys (token, name, created_at)
		VALUES (?, ?, ?)
	`, token, meta.Name, meta.Created.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("store api key: %w", err)
	}

	return &keystore.Credential{Token: token, Metadata: meta}, nil
}

func (k *Keys) Validate(ctx context.Context, token string) (*keystore.Metadata, error) {
	ctx, err := k.store.ready(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, keystore.ErrNotFound
	}

	var (
		name    string
		created int64
	)
	row := k.store.DB.QueryRowContext(ctx, `
		SELECT name, created_at FROM api_keys WHERE token = ?
	`, token)
	if err := row.Scan(&name, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, keystore.ErrNotFound
		}
		return nil, fmt.Errorf("fetch api key: %w", err)
	}

	return &keystore.Metadata{Name: name, Created: time.UnixMilli(created).UTC()}, nil
}

func (k *Keys) List(ctx context.Context) ([]keystore.Redacted, error) {
	ctx, err := k.store.ready(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := k.store.DB.QueryContext(ctx, `
		SELECT token, name, created_at FROM api_keys ORDER BY created_at, token
	`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	out := []keystore.Redacted{}
	for rows.Next() {
		var (
			token   string
			name    string
			created int64
		)
		if err := rows.Scan(&token, &name, &created); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		out = append(out, keystore.Redacted{
			Key:     keystore.RedactToken(token),
			Name:    name,
			Created: time.UnixMilli(created).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return out, nil
}

func (k *Keys) Revoke(ctx context.Context, tokenOrPrefix string) error {
	ctx, err := k.store.ready(ctx)
	if err != nil {
		return err
	}

	prefix := keystore.RevokePrefix(tokenOrPrefix)
	if prefix == "" {
		return keystore.ErrNotFound
	}

	tx, err := k.store.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin revoke: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	rows, err := tx.QueryContext(ctx, `
		SELECT token FROM api_keys WHERE substr(token, 1, ?) = ?
	`, len(prefix), prefix)
	if err != nil {
		return fmt.Errorf("lookup api key: %w", err)
	}
	var candidates []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan api key: %w", err)
		}
		candidates = append(candidates, token)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("lookup api key: %w", err)
	}

	token, err := keystore.Resolve(candidates, prefix)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM api_keys WHERE token = ?`, token); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit revoke: %w", err)
	}
	return nil
}
