package sqlite

import (
	"context"
	"fmt"

	"github.com/roach88/peersync/internal/canon"
	"github.com/roach88/peersync/internal/errs"
	"github.com/roach88/peersync/internal/resource"
)

// Revision is one audit log row.
type Revision struct {
	Seq         int64
	Identity    resource.Identity
	Kind        string
	Op          string
	ContentHash string
	LastUpdated string
}

// Load decodes every stored snapshot. kinds maps kind names to their layout;
// a name missing from kinds uses the default layout. Every document is
// re-hashed and must match its stored content_hash.
//
// Results are ordered by party_id, id (COLLATE BINARY).
func (s *Store) Load(ctx context.Context, kinds map[string]resource.Kind) ([]resource.Resource, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT party_id, id, kind, document, content_hash
		FROM resources
		ORDER BY party_id COLLATE BINARY ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query resources: %w", err)
	}
	defer rows.Close()

	out := []resource.Resource{}
	for rows.Next() {
		var (
			partyID, id, kindName, doc, hash string
		)
		if err := rows.Scan(&partyID, &id, &kindName, &doc, &hash); err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}

		kind, ok := kinds[kindName]
		if !ok {
			kind = resource.Kind{Name: kindName}
		}
		r, err := decode(kind, doc)
		if err != nil {
			return nil, fmt.Errorf("load %s/%s: %w", partyID, id, err)
		}
		if r.ContentHash != hash {
			return nil, errs.New(errs.CodePersistence, "stored hash %s does not match content %s", hash, r.ContentHash).
				WithTarget(r.Identity.String())
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resources: %w", err)
	}
	return out, nil
}

func decode(kind resource.Kind, doc string) (resource.Resource, error) {
	obj, err := canon.ParseObject([]byte(doc))
	if err != nil {
		return resource.Resource{}, err
	}
	return resource.FromObject(kind, obj)
}

// History returns the audit revisions of id in commit order.
func (s *Store) History(ctx context.Context, id resource.Identity) ([]Revision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, party_id, id, kind, op, content_hash, last_updated
		FROM revisions
		WHERE party_id = ? AND id = ?
		ORDER BY seq ASC
	`, id.PartyID, id.ID)
	if err != nil {
		return nil, fmt.Errorf("query revisions: %w", err)
	}
	defer rows.Close()

	out := []Revision{}
	for rows.Next() {
		var rev Revision
		if err := rows.Scan(&rev.Seq, &rev.Identity.PartyID, &rev.Identity.ID, &rev.Kind, &rev.Op, &rev.ContentHash, &rev.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		out = append(out, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revisions: %w", err)
	}
	return out, nil
}
