package snapshot

import (
	"fmt"

	uuid "github.com/satori/go.uuid"
)

/*
PeerID:

	Stable logical name of a peer (resolved host name or a configured id).
	Used as a map key everywhere, so it must never be empty and is compared
	by exact string match.

MarkerID:

	Canonical UUID string. A marker and every local snapshot it triggers share
	the same id, which is the only identity either of them has.
*/

type PeerID string

type MarkerID string

// Marker identifies one global snapshot instance. Two markers are the same
// marker iff their IDs match; Initiator is carried for display only.
type Marker struct {
	ID        MarkerID
	Initiator PeerID
}

// NewMarker creates a marker with a fresh random id initiated by self.
func NewMarker(self PeerID) Marker {
	return Marker{
		ID:        MarkerID(uuid.NewV4().String()),
		Initiator: self,
	}
}

// ParseMarker rebuilds a marker received from another peer. The id must be a
// valid UUID and the initiator must be set.
func ParseMarker(id string, initiator string) (Marker, error) {
	parsed, err := uuid.FromString(id)
	if err != nil {
		return Marker{}, fmt.Errorf("%w: %v", ErrInvalidMarkerID, err)
	}
	if initiator == "" {
		return Marker{}, ErrInitiatorRequired
	}
	return Marker{
		ID:        MarkerID(parsed.String()),
		Initiator: PeerID(initiator),
	}, nil
}

func (m Marker) String() string {
	return fmt.Sprintf("%s (initiated by %s)", m.ID, m.Initiator)
}
