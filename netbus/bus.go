// Package netbus is the transport the synchronization core runs over:
// destination-addressed, reliable delivery of worldsync messages
// between a host and its peers. The core never sees a net.Conn; it
// only sees Bus.
package netbus

import (
	"io"

	"github.com/dannyzb/worldsync"
)

// Envelope pairs an inbound message with who sent it, since HandleMsg
// needs the source to decide things like "am I already authority".
type Envelope struct {
	From    worldsync.PeerId
	Message worldsync.WorldNetMessage
}

// Bus is what WorldManager's owner drains MessageRequests into and
// reads Envelopes and departures from. Destination resolution (self,
// one peer, broadcast) is the bus's job; the core only ever produces a
// Destination value.
type Bus interface {
	// Send delivers msg to dest. The core never queues ToSelf
	// requests; the implementations in this package loop a ToSelf
	// request back into their own Recv.
	Send(dest worldsync.Destination, msg worldsync.WorldNetMessage) error

	// Recv blocks until a message arrives or the bus is closed.
	// Departures are reported on Departed, not through Recv.
	Recv() (Envelope, error)

	// Departed yields peer ids as they disconnect, for
	// handle_peer_left.
	Departed() <-chan worldsync.PeerId

	// LocalPeer is this bus's own address, used to decide
	// ToSelf-equivalent routing at the wire layer (e.g. when a host
	// addresses a message to itself).
	LocalPeer() worldsync.PeerId

	io.Closer
}

// ErrClosed is returned by Recv once the bus has been closed and its
// backlog drained.
var ErrClosed = busClosed{}

type busClosed struct{}

func (busClosed) Error() string { return "netbus: closed" }
