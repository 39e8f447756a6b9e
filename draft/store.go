// Package draft persists unsaved editor content in a local SQLite table so
// that a session interrupted by a crash or a dropped connection can be
// recovered on the next open. One row per prototype: the newest autosaved
// payload wins, older drafts for the same prototype are overwritten.
package draft

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/protoboard/dbopen"
)

// Schema for the drafts table. Apply via Store.Init or dbopen.WithSchema.
const Schema = `
CREATE TABLE IF NOT EXISTS drafts (
	prototype_id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	data BLOB NOT NULL,
	saved_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_drafts_saved ON drafts(saved_at);
`

// Draft is one recoverable payload. SavedAt has millisecond precision.
type Draft struct {
	PrototypeID string    `json:"prototype_id"`
	SessionID   string    `json:"session_id"`
	Data        []byte    `json:"data"`
	SavedAt     time.Time `json:"saved_at"`
}

// Store reads and writes drafts. Safe for concurrent use; writes go through
// the busy-retry helpers so a locked database does not surface as an error.
type Store struct {
	db *sql.DB
}

// New wraps an open database. Call Init once unless the schema was applied
// at open time.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Init creates the drafts table if it does not exist.
func (s *Store) Init(ctx context.Context) error {
	if _, err := dbopen.Exec(ctx, s.db, Schema); err != nil {
		return fmt.Errorf("draft: init schema: %w", err)
	}
	return nil
}

// Put upserts the draft for d.PrototypeID.
func (s *Store) Put(ctx context.Context, d Draft) error {
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO drafts (prototype_id, session_id, data, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(prototype_id) DO UPDATE SET
			session_id = excluded.session_id,
			data = excluded.data,
			saved_at = excluded.saved_at`,
		d.PrototypeID, d.SessionID, d.Data, d.SavedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("draft: put %s: %w", d.PrototypeID, err)
	}
	return nil
}

// Get returns the draft for prototypeID, or nil if none is stored.
func (s *Store) Get(ctx context.Context, prototypeID string) (*Draft, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, data, saved_at FROM drafts WHERE prototype_id = ?`,
		prototypeID)

	d := Draft{PrototypeID: prototypeID}
	var savedAt int64
	if err := row.Scan(&d.SessionID, &d.Data, &savedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("draft: get %s: %w", prototypeID, err)
	}
	d.SavedAt = time.UnixMilli(savedAt)
	return &d, nil
}

// Adopt reassigns the draft for prototypeID to sessionID and returns it, or
// nil if none is stored. Used when a fresh session opens a prototype that
// still carries a draft from a dead session.
func (s *Store) Adopt(ctx context.Context, prototypeID, sessionID string) (*Draft, error) {
	var found *Draft
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT session_id, data, saved_at FROM drafts WHERE prototype_id = ?`,
			prototypeID)

		d := Draft{PrototypeID: prototypeID}
		var savedAt int64
		if err := row.Scan(&d.SessionID, &d.Data, &savedAt); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
		d.SavedAt = time.UnixMilli(savedAt)

		if _, err := tx.ExecContext(ctx,
			`UPDATE drafts SET session_id = ? WHERE prototype_id = ?`,
			sessionID, prototypeID); err != nil {
			return err
		}
		d.SessionID = sessionID
		found = &d
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("draft: adopt %s: %w", prototypeID, err)
	}
	return found, nil
}

// Delete removes the draft for prototypeID. Deleting a missing draft is not
// an error.
func (s *Store) Delete(ctx context.Context, prototypeID string) error {
	if _, err := dbopen.Exec(ctx, s.db,
		`DELETE FROM drafts WHERE prototype_id = ?`, prototypeID); err != nil {
		return fmt.Errorf("draft: delete %s: %w", prototypeID, err)
	}
	return nil
}

// Prune removes drafts saved before cutoff and reports how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := dbopen.Exec(ctx, s.db,
		`DELETE FROM drafts WHERE saved_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("draft: prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("draft: prune: rows affected: %w", err)
	}
	return n, nil
}

// Count reports how many drafts are stored.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM drafts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("draft: count: %w", err)
	}
	return n, nil
}
