package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/peersync/internal/canon"
	"github.com/roach88/peersync/internal/resource"
	"github.com/roach88/peersync/internal/version"
)

// Save upserts the snapshot and appends an audit revision in one transaction.
func (s *Store) Save(ctx context.Context, r resource.Resource) error {
	doc, err := canon.MarshalCanonical(r.Document())
	if err != nil {
		return fmt.Errorf("save %s: %w", r.Identity, err)
	}
	kind := r.Kind.WithDefaults().Name
	ts := version.Format(r.LastUpdated)

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO resources (party_id, id, kind, document, content_hash, last_updated)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(party_id, id) DO UPDATE SET
				kind = excluded.kind,
				document = excluded.document,
				content_hash = excluded.content_hash,
				last_updated = excluded.last_updated
		`, r.Identity.PartyID, r.Identity.ID, kind, string(doc), r.ContentHash, ts)
		if err != nil {
			return fmt.Errorf("save %s: %w", r.Identity, err)
		}
		return appendRevision(ctx, tx, r.Identity, kind, "save", r.ContentHash, ts)
	})
}

// Delete removes the snapshot and appends a delete revision. Deleting an
// absent identity only records the revision.
func (s *Store) Delete(ctx context.Context, kind string, id resource.Identity) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM resources WHERE party_id = ? AND id = ?
		`, id.PartyID, id.ID)
		if err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
		return appendRevision(ctx, tx, id, kind, "delete", "", "")
	})
}

func appendRevision(ctx context.Context, tx *sql.Tx, id resource.Identity, kind, op, hash, ts string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO revisions (party_id, id, kind, op, content_hash, last_updated)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id.PartyID, id.ID, kind, op, hash, ts)
	if err != nil {
		return fmt.Errorf("append revision %s: %w", id, err)
	}
	return nil
}

// inTx runs fn in a transaction, committing on success.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
