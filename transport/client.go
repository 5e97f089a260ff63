package transport

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/adamgarcia4/goLearning/chandylamport/snapshot"
)

type peerConn struct {
	mu   sync.Mutex // held for a whole Deliver call: FIFO per receiver
	conn *grpc.ClientConn
}

// GRPCChannel sends messages to a static roster of peers over gRPC.
type GRPCChannel struct {
	addrs    map[snapshot.PeerID]string
	dialOpts []grpc.DialOption

	mu     sync.Mutex
	conns  map[snapshot.PeerID]*peerConn
	closed bool
}

// NewGRPCChannel creates a channel to the peers in addrs (peer id -> host:port).
// Connections are created on first use; without dial options they are
// insecure.
func NewGRPCChannel(addrs map[snapshot.PeerID]string, opts ...grpc.DialOption) (*GRPCChannel, error) {
	roster := make(map[snapshot.PeerID]string, len(addrs))
	for peer, addr := range addrs {
		if peer == "" || addr == "" {
			return nil, fmt.Errorf("invalid roster entry %q=%q", peer, addr)
		}
		roster[peer] = addr
	}
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	return &GRPCChannel{
		addrs:    roster,
		dialOpts: opts,
		conns:    make(map[snapshot.PeerID]*peerConn),
	}, nil
}

func (c *GRPCChannel) peer(peer snapshot.PeerID) (*peerConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if pc, ok := c.conns[peer]; ok {
		return pc, nil
	}
	addr, ok := c.addrs[peer]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, peer)
	}
	conn, err := grpc.NewClient(addr, c.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s (%s): %w", peer, addr, err)
	}
	pc := &peerConn{conn: conn}
	c.conns[peer] = pc
	return pc, nil
}

// Send delivers msg to peer and waits until the peer has handled it.
func (c *GRPCChannel) Send(ctx context.Context, peer snapshot.PeerID, msg Message) error {
	req, err := Encode(msg)
	if err != nil {
		return err
	}
	pc, err := c.peer(peer)
	if err != nil {
		return err
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()
	if err := pc.conn.Invoke(ctx, deliverMethod, req, &emptypb.Empty{}); err != nil {
		return fmt.Errorf("failed to deliver %s to %s: %w", msg.Kind, peer, err)
	}
	return nil
}

func (c *GRPCChannel) Close() error {
	c.mu.Lock()
	conns := c.conns
	c.conns = make(map[snapshot.PeerID]*peerConn)
	c.closed = true
	c.mu.Unlock()

	var errs []error
	for peer, pc := range conns {
		if err := pc.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", peer, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing connections: %v", errs)
	}
	return nil
}
