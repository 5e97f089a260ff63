package node

import (
	"context"
	"sync"

	"github.com/adamgarcia4/goLearning/chandylamport/snapshot"
	"github.com/adamgarcia4/goLearning/chandylamport/transport"
)

// outbox is the ordered stream from this node to one peer. push only appends
// to memory, so it can be called with the cut lock held; a single goroutine
// drains the queue through the Channel, which keeps messages in push order.
type outbox struct {
	peer    snapshot.PeerID
	channel transport.Channel
	onSent  func(peer snapshot.PeerID, msg transport.Message, err error)

	mu    sync.Mutex
	queue []transport.Message
	busy  bool
	wake  chan struct{}
}

func newOutbox(peer snapshot.PeerID, channel transport.Channel, onSent func(snapshot.PeerID, transport.Message, error)) *outbox {
	return &outbox{
		peer:    peer,
		channel: channel,
		onSent:  onSent,
		wake:    make(chan struct{}, 1),
	}
}

func (o *outbox) push(msg transport.Message) {
	o.mu.Lock()
	o.queue = append(o.queue, msg)
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *outbox) pop() (transport.Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.queue) == 0 {
		o.busy = false
		return transport.Message{}, false
	}
	msg := o.queue[0]
	o.queue[0] = transport.Message{}
	o.queue = o.queue[1:]
	o.busy = true
	return msg, true
}

// pending counts queued messages plus the one being delivered.
func (o *outbox) pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := len(o.queue)
	if o.busy {
		n++
	}
	return n
}

// run delivers until ctx is cancelled. Whatever is still queued then is
// returned so the caller can account for it.
func (o *outbox) run(ctx context.Context) []transport.Message {
	for {
		for {
			if ctx.Err() != nil {
				return o.drop()
			}
			msg, ok := o.pop()
			if !ok {
				break
			}
			err := o.channel.Send(ctx, o.peer, msg)
			o.onSent(o.peer, msg, err)
		}

		select {
		case <-ctx.Done():
			return o.drop()
		case <-o.wake:
		}
	}
}

func (o *outbox) drop() []transport.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	dropped := o.queue
	o.queue = nil
	o.busy = false
	return dropped
}
