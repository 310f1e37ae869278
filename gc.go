package worldsync

import (
	. "github.com/anacrolix/generics"
	"github.com/dannyzb/worldsync/chunkmodel"
)

// absInt32 avoids importing math for one int32 absolute value.
func absInt32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// withinBox reports whether (cx, cy) lies within a (2*half+1)-square
// box centered on center.
func withinBox(center chunkmodel.ChunkCoord, cx, cy, half int32) bool {
	return absInt32(cx-center.X) <= half && absInt32(cy-center.Y) <= half
}

// shouldKill implements the §4.G liveness predicate.
func shouldKill(myPos, camPos chunkmodel.ChunkCoord, cx, cy int32, isNotPlayer bool) bool {
	if absInt32(myPos.X-camPos.X) > 2 || absInt32(myPos.Y-camPos.Y) > 2 {
		return !(withinBox(myPos, cx, cy, 2) || withinBox(camPos, cx, cy, 2))
	}
	if isNotPlayer {
		return !withinBox(myPos, cx, cy, 2)
	}
	return !withinBox(myPos, cx, cy, 3)
}

// Update runs the liveness/GC pass: chunks outside the player's view
// rectangle get role-specific teardown, then every UnloadPending entry
// is retired and forgotten by both models.
func (m *WorldManager) Update() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var toRemove []chunkmodel.ChunkCoord
	for coord, s := range m.states {
		if !shouldKill(m.myPos, m.camPos, coord.X, coord.Y, m.isNotPlayer) {
			continue
		}
		switch s.Kind {
		case StateListening:
			m.emit(ToPeer(s.Authority), WorldNetMessage{Kind: MsgListenStopRequest, Chunk: coord})
			m.setState(coord, newUnloadPending())
		case StateAuthority:
			if bestPeer, bestPrio, ok := s.bestContender(); ok {
				m.emit(ToPeer(bestPeer), WorldNetMessage{Kind: MsgAskForAuthority, Chunk: coord, Priority: bestPrio})
			}
			var data Option[chunkmodel.ChunkData]
			if cd, ok := m.outbound.GetChunkData(coord); ok {
				data = Some(cd)
			}
			m.emit(m.toHost(), WorldNetMessage{Kind: MsgRelinquishAuthority, Chunk: coord, Data: data, WorldNum: m.worldNum})
			m.setState(coord, newUnloadPending())
		case StateWaitingForAuthority, StateWantToGetAuth:
			m.setState(coord, newUnloadPending())
		case StateUnloadPending, StateTransfer:
			// left alone; Transfer awaits TransferOk/TransferFailed.
		}
	}

	for coord, s := range m.states {
		if s.Kind == StateUnloadPending {
			toRemove = append(toRemove, coord)
		}
	}
	for _, coord := range toRemove {
		delete(m.states, coord)
		delete(m.lastRequestPriority, coord)
		delete(m.chunkLastUpdate, coord)
		m.inbound.ForgetChunk(coord)
		m.outbound.ForgetChunk(coord)
	}
}
