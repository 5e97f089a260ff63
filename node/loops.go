package node

import (
	"context"
	"time"
)

// runTransfers sends a random transfer every TransferInterval until ctx is
// cancelled. The first one waits for StartupDelay so that every peer of a
// freshly launched cluster is listening.
func (n *Node) runTransfers(ctx context.Context) {
	defer n.wg.Done()

	if delay := n.config.StartupDelay; delay > 0 {
		n.logf("Starting transfers in %v", delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	ticker := time.NewTicker(n.config.TransferInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.sendRandomTransfer()
		}
	}
}

// runSnapshots initiates a snapshot every SnapshotInterval.
func (n *Node) runSnapshots(ctx context.Context) {
	defer n.wg.Done()

	ticker := time.NewTicker(n.config.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.InitiateSnapshot()
		}
	}
}
