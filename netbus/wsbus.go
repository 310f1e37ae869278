package netbus

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/anacrolix/log"
	"github.com/dannyzb/worldsync"
	"github.com/dannyzb/worldsync/version"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// protocolVersionHeader carries version.DefaultProtocolVersion on the
// websocket handshake so a host can refuse a peer speaking a
// different wire protocol before it ever reaches the manager.
const protocolVersionHeader = "X-Worldsync-Protocol-Version"

// WSBus is the concrete production Bus: one websocket connection per
// peer, a host listening via http.Server/websocket.Upgrader and peers
// dialing in with websocket.Dialer. Each worldsync message is written
// as its own length-prefixed frame inside its own websocket message,
// so connMsgWriter's queue coalesces wakeups without ever merging two
// messages into one read on the other end.
type WSBus struct {
	local worldsync.PeerId
	upgrader websocket.Upgrader

	mu       sync.Mutex
	peers    map[worldsync.PeerId]*wsPeer
	nextPeer worldsync.PeerId

	incoming chan Envelope
	departed chan worldsync.PeerId
	logger   log.Logger
}

type wsPeer struct {
	id     worldsync.PeerId
	conn   *websocket.Conn
	writer *connMsgWriter
}

func NewWSBus(local worldsync.PeerId, logger log.Logger) *WSBus {
	return &WSBus{
		local:    local,
		peers:    make(map[worldsync.PeerId]*wsPeer),
		incoming: make(chan Envelope, 256),
		departed: make(chan worldsync.PeerId, 16),
		logger:   logger,
	}
}

// ServeHTTP upgrades an incoming request to a websocket connection and
// registers it under id, the way a host accepts join requests.
func (b *WSBus) ServeHTTP(id worldsync.PeerId, w http.ResponseWriter, r *http.Request) error {
	if got := r.Header.Get(protocolVersionHeader); got != "" && got != version.DefaultProtocolVersion {
		http.Error(w, fmt.Sprintf("protocol version mismatch: host is %s, peer is %s", version.DefaultProtocolVersion, got), http.StatusUpgradeRequired)
		return errors.Errorf("rejecting peer %d: protocol version mismatch (host %s, peer %s)", id, version.DefaultProtocolVersion, got)
	}
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return errors.Wrap(err, "upgrading websocket connection")
	}
	b.addPeer(id, conn)
	return nil
}

// Dial connects out to a host or peer at addr and registers it under
// id.
func (b *WSBus) Dial(id worldsync.PeerId, addr string) error {
	header := http.Header{}
	header.Set(protocolVersionHeader, version.DefaultProtocolVersion)
	header.Set("User-Agent", version.DefaultUserAgent)
	conn, _, err := websocket.DefaultDialer.Dial(addr, header)
	if err != nil {
		return errors.Wrap(err, "dialing peer")
	}
	b.addPeer(id, conn)
	return nil
}

func (b *WSBus) addPeer(id worldsync.PeerId, conn *websocket.Conn) {
	writer := newConnMsgWriter(wsFrameWriter{conn}, b.logger)
	peer := &wsPeer{id: id, conn: conn, writer: writer}

	b.mu.Lock()
	b.peers[id] = peer
	b.mu.Unlock()

	go writer.run()
	go b.readLoop(peer)
}

// wsFrameWriter adapts a *websocket.Conn to io.Writer by sending each
// Write call as one binary message. Framing (length prefix) is already
// applied by connMsgWriter, so a binary message boundary has no
// semantic meaning here beyond what the websocket protocol requires.
type wsFrameWriter struct {
	conn *websocket.Conn
}

func (w wsFrameWriter) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (b *WSBus) readLoop(peer *wsPeer) {
	defer b.removePeer(peer.id)
	for {
		_, data, err := peer.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := worldsync.UnmarshalMessage(stripLenPrefix(data))
		if err != nil {
			b.logger.WithDefaultLevel(log.Debug).Printf("decoding message from %v: %v", peer.id, err)
			continue
		}
		b.incoming <- Envelope{From: peer.id, Message: msg}
	}
}

func stripLenPrefix(data []byte) []byte {
	if len(data) < 4 {
		return nil
	}
	return data[4:]
}

func (b *WSBus) removePeer(id worldsync.PeerId) {
	b.mu.Lock()
	peer, ok := b.peers[id]
	if ok {
		delete(b.peers, id)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	peer.writer.close()
	peer.conn.Close()
	b.departed <- id
}

func (b *WSBus) Send(dest worldsync.Destination, msg worldsync.WorldNetMessage) error {
	if dest.ToSelf {
		b.incoming <- Envelope{From: b.local, Message: msg}
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if dest.Broadcast {
		for _, p := range b.peers {
			p.writer.write(msg)
		}
		return nil
	}
	p, ok := b.peers[dest.Peer]
	if !ok {
		return fmt.Errorf("netbus: unknown peer %v", dest.Peer)
	}
	p.writer.write(msg)
	return nil
}

func (b *WSBus) Recv() (Envelope, error) {
	env, ok := <-b.incoming
	if !ok {
		return Envelope{}, ErrClosed
	}
	return env, nil
}

func (b *WSBus) Departed() <-chan worldsync.PeerId {
	return b.departed
}

func (b *WSBus) LocalPeer() worldsync.PeerId {
	return b.local
}

func (b *WSBus) Close() error {
	b.mu.Lock()
	peers := b.peers
	b.peers = nil
	b.mu.Unlock()
	for _, p := range peers {
		p.writer.close()
		p.conn.Close()
	}
	close(b.incoming)
	return nil
}
