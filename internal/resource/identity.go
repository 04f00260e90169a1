package resource

import (
	"strings"

	"github.com/roach88/peersync/internal/errs"
)

// Canonical keys shared by every kind.
const (
	KeyPartyID     = "party_id"
	KeyID          = "id"
	KeyLastUpdated = "last_updated"
	KeyContentHash = "content_hash"
	KeyStatus      = "status"
)

// Identity is the write-once composite key of a top-level resource.
type Identity struct {
	PartyID string
	ID      string
}

// String renders the identity as "party/id".
func (i Identity) String() string {
	return i.PartyID + "/" + i.ID
}

// Validate checks that both parts are present and free of the separator.
func (i Identity) Validate() error {
	if i.PartyID == "" || i.ID == "" {
		return errs.New(errs.CodeInvalidResource, "identity requires party_id and id, got %q", i.String())
	}
	if strings.Contains(i.PartyID, "/") {
		return &errs.Error{Code: errs.CodeInvalidResource, Message: "party_id must not contain '/'", Field: KeyPartyID}
	}
	return nil
}

// ParseIdentity parses "party/id". The id part may itself contain '/'.
func ParseIdentity(s string) (Identity, error) {
	party, id, ok := strings.Cut(s, "/")
	if !ok {
		return Identity{}, errs.New(errs.CodeInvalidResource, "identity %q is not of the form party/id", s)
	}
	ident := Identity{PartyID: party, ID: id}
	if err := ident.Validate(); err != nil {
		return Identity{}, err
	}
	return ident, nil
}
