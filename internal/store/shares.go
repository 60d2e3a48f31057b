package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nmtlab/nmtgate/internal/share"
)

// Shares adapts a Store to share.Store.
type Shares struct {
	store *Store
}

// Shares returns the share table view of s.
func (s *Store) Shares() *Shares {
	return &Shares{store: s}
}

var _ share.Store = (*Shares)(nil)

const shareColumns = `id, goal, prompt, voice_ref, voice_prompt_text, visibility, created_at, plays`

func (s *Shares) Insert(ctx context.Context, r *share.Record) error {
	ctx, err := s.store.ready(ctx)
	if err != nil {
		return err
	}

	_, err = s.store.DB.ExecContext(ctx, `
		INSERT INTO shares (`+shareColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Goal, r.Prompt, r.VoiceRef, r.VoicePromptText, string(r.Visibility), r.CreatedAt.UTC().UnixMilli(), r.Plays)
	if err != nil {
		if isUniqueViolation(err) {
			return share.ErrExists
		}
		return fmt.Errorf("store share: %w", err)
	}
	return nil
}

// Play increments in SQL so concurrent readers never lose a count.
func (s *Shares) Play(ctx context.Context, id string) (*share.Record, error) {
	ctx, err := s.store.ready(ctx)
	if err != nil {
		return nil, err
	}

	result, err := s.store.DB.ExecContext(ctx, `UPDATE shares SET plays = plays + 1 WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("count share play: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return nil, share.ErrNotFound
	}

	row := s.store.DB.QueryRowContext(ctx, `SELECT `+shareColumns+` FROM shares WHERE id = ?`, id)
	record, err := scanShare(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, share.ErrNotFound
	}
	return record, err
}

func (s *Shares) Public(ctx context.Context, limit int) ([]share.Record, error) {
	ctx, err := s.store.ready(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = share.PublicLimit
	}

	rows, err := s.store.DB.QueryContext(ctx, `
		SELECT `+shareColumns+`
		FROM shares
		WHERE visibility = ?
		ORDER BY plays DESC, created_at DESC
		LIMIT ?
	`, string(share.VisibilityPublic), limit)
	if err != nil {
		return nil, fmt.Errorf("list public shares: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	out := []share.Record{}
	for rows.Next() {
		record, err := scanShare(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list public shares: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanShare(row scanner) (*share.Record, error) {
	var (
		r          share.Record
		visibility string
		created    int64
	)
	if err := row.Scan(&r.ID, &r.Goal, &r.Prompt, &r.VoiceRef, &r.VoicePromptText, &visibility, &created, &r.Plays); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan share: %w", err)
	}
	r.Visibility = share.Visibility(visibility)
	r.CreatedAt = time.UnixMilli(created).UTC()
	return &r, nil
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}
