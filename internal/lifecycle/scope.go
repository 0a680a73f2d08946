package lifecycle

import (
	"encoding/json"

	"caseline/internal/domain"
)

// Scope carries one request's resolved context through the call chain:
// caller identity and authorization plus, once the engine loads the case,
// the pre-mutation snapshot and the revision the mutation is based on.
// It replaces any ad hoc request-object state.
type Scope struct {
	ActorID        string
	Role           domain.Role
	Accreditations []int

	// Filled by the engine while handling the request.
	Case     *domain.Case
	Snapshot json.RawMessage
	Revision int
}

// HasRestrictedAccess reports whether the caller holds the accreditation
// level that exempts restricted-data masking.
func (s Scope) HasRestrictedAccess() bool {
	for _, a := range s.Accreditations {
		if a == domain.RestrictedDataAccreditation {
			return true
		}
	}
	return false
}
