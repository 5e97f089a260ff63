package snapshot

import "errors"

var (
	ErrInvalidMarkerID   = errors.New("marker id is not a valid uuid")
	ErrInitiatorRequired = errors.New("marker initiator is required")
	ErrPeerIDRequired    = errors.New("peer ID is required")

	// ErrUnknownSnapshot is returned when a marker echo arrives for an id that
	// was never initiated or first-received here.
	ErrUnknownSnapshot = errors.New("no snapshot tracked for marker")
	// ErrSnapshotComplete is returned for a marker whose snapshot is already
	// in the history.
	ErrSnapshotComplete = errors.New("snapshot already complete")
)

var (
	ErrNoLocalSnapshots   = errors.New("no local snapshots to assemble")
	ErrMixedSnapshots     = errors.New("local snapshots belong to different markers")
	ErrSnapshotIncomplete = errors.New("local snapshot is not complete")
	ErrDuplicateOwner     = errors.New("more than one local snapshot from the same peer")
)
