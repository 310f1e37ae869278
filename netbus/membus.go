package netbus

import (
	"sync"

	"github.com/dannyzb/worldsync"
)

// MemBus is an in-process Bus used by this package's tests: Send on
// one MemBus delivers directly into its peer's Recv channel, no
// serialization involved.
type MemBus struct {
	local worldsync.PeerId

	mu    sync.Mutex
	peers map[worldsync.PeerId]*MemBus

	incoming chan Envelope
	departed chan worldsync.PeerId
}

// NewMemBusPair wires two in-memory buses together as mutual peers,
// the common case for a two-party authority-protocol test.
func NewMemBusPair(a, b worldsync.PeerId) (*MemBus, *MemBus) {
	busA := newMemBus(a)
	busB := newMemBus(b)
	busA.peers[b] = busB
	busB.peers[a] = busA
	return busA, busB
}

func newMemBus(local worldsync.PeerId) *MemBus {
	return &MemBus{
		local:    local,
		peers:    make(map[worldsync.PeerId]*MemBus),
		incoming: make(chan Envelope, 256),
		departed: make(chan worldsync.PeerId, 16),
	}
}

// Link additionally registers other as a peer reachable from this bus,
// for tests with more than two parties.
func (b *MemBus) Link(other *MemBus) {
	b.mu.Lock()
	b.peers[other.local] = other
	b.mu.Unlock()
	other.mu.Lock()
	other.peers[b.local] = b
	other.mu.Unlock()
}

func (b *MemBus) Send(dest worldsync.Destination, msg worldsync.WorldNetMessage) error {
	if dest.ToSelf {
		b.incoming <- Envelope{From: b.local, Message: msg}
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if dest.Broadcast {
		for _, p := range b.peers {
			p.incoming <- Envelope{From: b.local, Message: msg}
		}
		return nil
	}
	p, ok := b.peers[dest.Peer]
	if !ok {
		return nil
	}
	p.incoming <- Envelope{From: b.local, Message: msg}
	return nil
}

func (b *MemBus) Recv() (Envelope, error) {
	env, ok := <-b.incoming
	if !ok {
		return Envelope{}, ErrClosed
	}
	return env, nil
}

func (b *MemBus) Departed() <-chan worldsync.PeerId {
	return b.departed
}

func (b *MemBus) LocalPeer() worldsync.PeerId {
	return b.local
}

// Disconnect simulates b leaving every bus it's linked to, delivering
// a departure notification to each.
func (b *MemBus) Disconnect() {
	b.mu.Lock()
	peers := b.peers
	b.mu.Unlock()
	for _, p := range peers {
		p.departed <- b.local
	}
}

func (b *MemBus) Close() error {
	close(b.incoming)
	return nil
}

var _ Bus = (*MemBus)(nil)
var _ Bus = (*WSBus)(nil)
