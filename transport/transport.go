package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/adamgarcia4/goLearning/chandylamport/snapshot"
)

/*
Channel model

A Channel delivers one Message to one peer per Send. Messages sent by the same
sender to the same receiver are observed in the order they were sent; the
snapshot protocol is only correct on top of that guarantee. Send may block,
returns delivery failures to the caller and never retries. There is no
duplicate suppression.

Both implementations get ordering the same way: a sender holds a per-receiver
lock for the whole call and the receiver finishes handling a message before the
call returns, so the next message cannot overtake it.

	GRPCChannel   - one gRPC connection per peer, unary Deliver per message
	MemoryNetwork - in-process registry of handlers, used by tests and demos
*/

type Kind string

const (
	KindTransfer Kind = "transfer"
	KindMarker   Kind = "marker"
	KindExit     Kind = "exit"
)

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrUnknownPeer      = errors.New("unknown peer")
	ErrClosed           = errors.New("channel closed")
)

// Message is the decoded form of everything peers send each other.
type Message struct {
	Kind   Kind
	Sender snapshot.PeerID
	Amount int64           // transfer only
	Marker snapshot.Marker // marker only
}

func NewTransfer(sender snapshot.PeerID, amount int64) Message {
	return Message{Kind: KindTransfer, Sender: sender, Amount: amount}
}

func NewMarker(sender snapshot.PeerID, marker snapshot.Marker) Message {
	return Message{Kind: KindMarker, Sender: sender, Marker: marker}
}

func NewExit(sender snapshot.PeerID) Message {
	return Message{Kind: KindExit, Sender: sender}
}

// Validate checks that the fields required by the message kind are present.
func (m Message) Validate() error {
	switch m.Kind {
	case KindTransfer, KindExit:
	case KindMarker:
		if _, err := snapshot.ParseMarker(string(m.Marker.ID), string(m.Marker.Initiator)); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedMessage, m.Kind)
	}
	if m.Sender == "" {
		return fmt.Errorf("%w: sender is required", ErrMalformedMessage)
	}
	return nil
}

func (m Message) String() string {
	switch m.Kind {
	case KindTransfer:
		return fmt.Sprintf("transfer of %d from %s", m.Amount, m.Sender)
	case KindMarker:
		return fmt.Sprintf("marker %s from %s", m.Marker.ID, m.Sender)
	default:
		return fmt.Sprintf("%s from %s", m.Kind, m.Sender)
	}
}

// Channel sends messages to peers, FIFO per receiver.
type Channel interface {
	Send(ctx context.Context, peer snapshot.PeerID, msg Message) error
	Close() error
}

// Handler consumes decoded inbound messages. It must finish with a message
// before returning, since the sender's next message waits on it.
type Handler interface {
	HandleMessage(ctx context.Context, msg Message) error
}
