package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/julianstephens/habitsync/internal/relay"
)

func (s *Store) Get(ctx context.Context, account string) (relay.Blob, error) {
	var b relay.Blob
	err := s.db.QueryRowContext(ctx,
		"SELECT last_modified, state FROM relay_blobs WHERE account = $1", account).Scan(&b.LastModified, &b.State)
	if errors.Is(err, sql.ErrNoRows) {
		return relay.Blob{}, relay.ErrNotFound
	}
	if err != nil {
		return relay.Blob{}, fmt.Errorf("failed to read blob: %w", err)
	}
	return b, nil
}

// Put is a compare-and-swap on last_modified. The replaced blob is copied
// into relay_blob_history.
func (s *Store) Put(ctx context.Context, account string, blob relay.Blob, base int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var cur relay.Blob
	err = tx.QueryRowContext(ctx,
		"SELECT last_modified, state FROM relay_blobs WHERE account = $1 FOR UPDATE", account).Scan(&cur.LastModified, &cur.State)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx, `
			INSERT INTO relay_blobs (account, last_modified, state) VALUES ($1, $2, $3)
			ON CONFLICT (account) DO NOTHING`, account, blob.LastModified, blob.State)
		if err != nil {
			return fmt.Errorf("failed to insert blob: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Another writer created the row first.
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				return err
			}
			return s.Put(ctx, account, blob, base)
		}
	case err != nil:
		return fmt.Errorf("failed to read blob: %w", err)
	case cur.LastModified != base:
		return &relay.ConflictError{Current: cur}
	default:
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO relay_blob_history (account, last_modified, state) VALUES ($1, $2, $3)",
			account, cur.LastModified, cur.State); err != nil {
			return fmt.Errorf("failed to archive blob: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE relay_blobs SET last_modified = $2, state = $3, updated_at = NOW() WHERE account = $1",
			account, blob.LastModified, blob.State); err != nil {
			return fmt.Errorf("failed to update blob: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit blob: %w", err)
	}
	return nil
}

// PruneHistory deletes archived blobs older than maxAge and returns how many
// were removed.
func (s *Store) PruneHistory(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	res, err := s.db.ExecContext(ctx, "DELETE FROM relay_blob_history WHERE replaced_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune blob history: %w", err)
	}
	return res.RowsAffected()
}
