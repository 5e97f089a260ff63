package node

import "errors"

var (
	ErrPeerIDRequired           = errors.New("peer ID is required")
	ErrAddressRequired          = errors.New("address is required")
	ErrPortRequired             = errors.New("port is required")
	ErrSelfInRoster             = errors.New("peer roster must not contain self")
	ErrPeerAddressRequired      = errors.New("every peer in the roster needs an address")
	ErrNegativeBalance          = errors.New("initial balance must not be negative")
	ErrInvalidMaxTransfer       = errors.New("max transfer must be greater than 0")
	ErrInvalidTransferInterval  = errors.New("transfer interval must be greater than 0")
	ErrInvalidSnapshotInterval  = errors.New("snapshot interval must not be negative")
	ErrInvalidStartupDelay      = errors.New("startup delay must not be negative")
	ErrUnknownPeer              = errors.New("peer is not in the roster")
	ErrInvalidAmount            = errors.New("transfer amount must not be negative")
	ErrNodeNotStarted           = errors.New("node is not started")
	ErrNodeStopped              = errors.New("node is stopped")
	ErrInvalidNodeIndex         = errors.New("invalid node index")
	ErrGlobalSnapshotIncomplete = errors.New("snapshot has not completed on every peer")
)
