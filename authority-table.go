package worldsync

import (
	"sync"

	"github.com/dannyzb/worldsync/chunkmodel"
)

// authorityEntry is one row of the host's authority table: who owns a
// chunk and at what priority they claimed it.
type authorityEntry struct {
	Owner    PeerId
	Priority Priority
}

// authorityTable is the host-only map from chunk coordinate to current
// owner. It is the tiebreaker the rest of the protocol defers to:
// whichever peer this table names as owner is authoritative, full
// stop. Guarded by its own mutex since the liveness pass, the message
// engine, and handle_peer_left all touch it from the same goroutine in
// the reference design but the Go port additionally has to survive a
// concurrent netbus reader goroutine delivering handle_peer_left.
type authorityTable struct {
	mu      sync.Mutex
	entries map[chunkmodel.ChunkCoord]authorityEntry
}

func newAuthorityTable() *authorityTable {
	return &authorityTable{entries: make(map[chunkmodel.ChunkCoord]authorityEntry)}
}

func (t *authorityTable) get(coord chunkmodel.ChunkCoord) (authorityEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[coord]
	return e, ok
}

func (t *authorityTable) set(coord chunkmodel.ChunkCoord, owner PeerId, priority Priority) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[coord] = authorityEntry{Owner: owner, Priority: priority}
}

func (t *authorityTable) setPriority(coord chunkmodel.ChunkCoord, priority Priority) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[coord]
	if !ok {
		return
	}
	e.Priority = priority
	t.entries[coord] = e
}

func (t *authorityTable) remove(coord chunkmodel.ChunkCoord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, coord)
}

// removeOwnedBy removes every entry owned by peer, for handle_peer_left,
// and returns the coordinates that were removed so the caller can
// broadcast ListenAuthorityRelinquished for each.
func (t *authorityTable) removeOwnedBy(peer PeerId) []chunkmodel.ChunkCoord {
	t.mu.Lock()
	defer t.mu.Unlock()
	var removed []chunkmodel.ChunkCoord
	for coord, e := range t.entries {
		if e.Owner == peer {
			removed = append(removed, coord)
			delete(t.entries, coord)
		}
	}
	return removed
}

func (t *authorityTable) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[chunkmodel.ChunkCoord]authorityEntry)
}

func (t *authorityTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
