package snapshot

import (
	"fmt"
	"strings"
)

// Global is the union of every peer's local snapshot for one marker: a
// consistent cut of all balances and the transfers in flight across it.
type Global struct {
	ID        MarkerID
	Initiator PeerID

	States map[PeerID]int64
	// InFlight maps receiver -> sender -> amounts recorded on that channel.
	InFlight map[PeerID]map[PeerID][]int64
}

// Assemble merges complete local snapshots of the same marker, one per peer.
func Assemble(locals []LocalSnapshot) (Global, error) {
	if len(locals) == 0 {
		return Global{}, ErrNoLocalSnapshots
	}

	g := Global{
		ID:        locals[0].ID,
		Initiator: locals[0].Initiator,
		States:    make(map[PeerID]int64, len(locals)),
		InFlight:  make(map[PeerID]map[PeerID][]int64, len(locals)),
	}
	for _, local := range locals {
		if local.ID != g.ID {
			return Global{}, fmt.Errorf("%w: %s and %s", ErrMixedSnapshots, g.ID, local.ID)
		}
		if !local.Complete() {
			return Global{}, fmt.Errorf("%w: %s on %s", ErrSnapshotIncomplete, local.ID, local.Owner)
		}
		if _, dup := g.States[local.Owner]; dup {
			return Global{}, fmt.Errorf("%w: %s", ErrDuplicateOwner, local.Owner)
		}
		g.States[local.Owner] = local.LocalState
		channels := make(map[PeerID][]int64, len(local.Channels))
		for sender, amounts := range local.Channels {
			channels[sender] = append([]int64(nil), amounts...)
		}
		g.InFlight[local.Owner] = channels
	}
	return g, nil
}

// Total is the money in the system at the cut: balances plus in-flight transfers.
func (g Global) Total() int64 {
	var total int64
	for _, state := range g.States {
		total += state
	}
	for _, channels := range g.InFlight {
		for _, amounts := range channels {
			for _, amount := range amounts {
				total += amount
			}
		}
	}
	return total
}

// Peers returns the snapshot owners in name order.
func (g Global) Peers() []PeerID {
	return sortedPeers(g.States)
}

func (g Global) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Global snapshot %s (initiated by %s)", g.ID, g.Initiator)
	for _, peer := range g.Peers() {
		fmt.Fprintf(&b, "\n %s : %d", peer, g.States[peer])
		channels := g.InFlight[peer]
		for _, sender := range sortedPeers(channels) {
			if len(channels[sender]) > 0 {
				fmt.Fprintf(&b, "\n   %s <--- %s : %v", peer, sender, channels[sender])
			}
		}
	}
	fmt.Fprintf(&b, "\n Total : %d", g.Total())
	return b.String()
}
