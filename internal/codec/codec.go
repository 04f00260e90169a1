// Package codec maps domain objects to canonical resources and back.
//
// A Codec is the boundary between whatever representation the caller holds
// (decoded JSON, structs, raw bytes) and canon.Object. Conversion may emit
// advisory warnings; a conversion error is terminal for the item.
package codec

import (
	"github.com/roach88/peersync/internal/canon"
	"github.com/roach88/peersync/internal/errs"
	"github.com/roach88/peersync/internal/resource"
)

// Codec converts between domain objects and canonical Objects.
type Codec interface {
	// ToCanonical converts obj. Warnings are advisory and never fail the item.
	ToCanonical(obj any) (canon.Object, []string, error)

	// FromCanonical converts a canonical Object of kind back to the domain form.
	FromCanonical(kind resource.Kind, obj canon.Object) (any, error)
}

// Identity extracts the identity a publish document must carry.
func Identity(obj canon.Object) (resource.Identity, error) {
	party, partyOK := obj.GetString(resource.KeyPartyID)
	id, idOK := obj.GetString(resource.KeyID)
	if !partyOK || !idOK || party == "" || id == "" {
		return resource.Identity{}, errs.New(errs.CodeConversionFailed, "publish document requires string %s and %s", resource.KeyPartyID, resource.KeyID)
	}
	return resource.Identity{PartyID: party, ID: id}, nil
}
