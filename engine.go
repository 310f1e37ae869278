package worldsync

import (
	. "github.com/anacrolix/generics"
	"github.com/anacrolix/log"
	"github.com/dannyzb/worldsync/chunkmodel"
)

// pendingSend is one (listener, priority) pair the local-edit handler
// asks the caller to forward this chunk's delta to as a plain
// ChunkPacket entry.
type pendingSend struct {
	to   PeerId
	prio Priority
}

func (m *WorldManager) warnf(format string, args ...interface{}) {
	m.logger.WithDefaultLevel(log.Warning).Printf(format, args...)
}

// handleMsgLocked is the reactive core: given (local state, incoming
// message, sender), it mutates local state and emits zero or more
// outbound messages via m.emit. Called with mu held, and re-entrantly
// from emit's self/broadcast short-circuit.
func (m *WorldManager) handleMsgLocked(source PeerId, msg WorldNetMessage) {
	switch msg.Kind {
	case MsgRequestAuthority:
		m.handleRequestAuthority(source, msg)
	case MsgAskForAuthority:
		m.handleAskForAuthority(source, msg)
	case MsgGotAuthority:
		m.handleGotAuthority(source, msg)
	case MsgAuthorityAlreadyTaken:
		m.handleAuthorityAlreadyTaken(source, msg)
	case MsgListenRequest:
		m.handleListenRequest(source, msg)
	case MsgListenStopRequest:
		m.handleListenStopRequest(source, msg)
	case MsgListenInitialResponse:
		m.handleListenInitialResponse(source, msg)
	case MsgListenUpdate:
		m.handleListenUpdate(source, msg)
	case MsgChunkPacket:
		m.handleChunkPacket(source, msg)
	case MsgListenAuthorityRelinquished:
		m.handleListenAuthorityRelinquished(source, msg)
	case MsgLoseAuthority:
		m.handleLoseAuthority(source, msg)
	case MsgChangePriority:
		m.handleChangePriority(source, msg)
	case MsgUnloadChunk:
		m.handleUnloadChunk(source, msg)
	case MsgRelinquishAuthority:
		m.handleRelinquishAuthority(source, msg)
	case MsgUpdateStorage:
		m.handleUpdateStorage(source, msg)
	case MsgGetAuthorityFrom:
		m.handleGetAuthorityFrom(source, msg)
	case MsgRequestAuthorityTransfer:
		m.handleRequestAuthorityTransfer(source, msg)
	case MsgTransferOk:
		m.handleTransferOk(source, msg)
	case MsgTransferFailed:
		m.handleTransferFailed(source, msg)
	case MsgNotifyNewAuthority:
		m.handleNotifyNewAuthority(source, msg)
	default:
		m.warnf("worldsync: unhandled message kind %v from %v", msg.Kind, source)
	}
}

// grantAuthority sends GotAuthority to dest, piggybacking chunk_storage
// data only when the owner actually changed (the emit_got_authority
// data policy, §9).
func (m *WorldManager) grantAuthority(dest PeerId, coord chunkmodel.ChunkCoord, priority Priority, ownerChanged bool) {
	var data Option[chunkmodel.ChunkData]
	if ownerChanged {
		if cd, ok := m.chunkStorage[coord]; ok {
			data = Some(cd)
			delete(m.chunkStorage, coord)
		}
	}
	m.emit(ToPeer(dest), WorldNetMessage{Kind: MsgGotAuthority, Chunk: coord, Data: data, Priority: priority})
}

// handleRequestAuthority implements the host-side rules of §4.E.2, in
// order.
func (m *WorldManager) handleRequestAuthority(source PeerId, msg WorldNetMessage) {
	if !m.isHost {
		m.warnf("worldsync: RequestAuthority %v received at non-host, dropping", msg.Chunk)
		return
	}
	coord := msg.Chunk
	entry, owned := m.authority.get(coord)
	switch {
	case owned && entry.Owner == source:
		m.authority.setPriority(coord, msg.Priority)
		m.grantAuthority(source, coord, msg.Priority, false)
	case owned && entry.Priority > msg.Priority && !msg.CanWait:
		current := entry.Owner
		m.authority.set(coord, source, msg.Priority)
		m.emit(ToPeer(source), WorldNetMessage{Kind: MsgGetAuthorityFrom, Chunk: coord, Authority: current})
	case owned:
		m.emit(ToPeer(source), WorldNetMessage{Kind: MsgAuthorityAlreadyTaken, Chunk: coord, Authority: entry.Owner})
	default:
		m.authority.set(coord, source, msg.Priority)
		m.grantAuthority(source, coord, msg.Priority, true)
	}
}

// handleAskForAuthority is the receiving side of the GC-driven handoff
// nudge (§4.G): the designated successor requests authority itself,
// demanding an immediate transfer rather than waiting in line again.
func (m *WorldManager) handleAskForAuthority(source PeerId, msg WorldNetMessage) {
	coord := msg.Chunk
	m.lastRequestPriority[coord] = msg.Priority
	m.setState(coord, newWaitingForAuthority())
	m.emit(m.toHost(), WorldNetMessage{Kind: MsgRequestAuthority, Chunk: coord, Priority: msg.Priority, CanWait: false})
}

func (m *WorldManager) handleGotAuthority(source PeerId, msg WorldNetMessage) {
	coord := msg.Chunk
	if msg.Data.Ok {
		m.inbound.ApplyChunkData(coord, msg.Data.Value)
		m.outbound.ApplyChunkData(coord, msg.Data.Value)
	}
	m.setState(coord, newAuthority(nil, msg.Priority))
}

func (m *WorldManager) handleAuthorityAlreadyTaken(source PeerId, msg WorldNetMessage) {
	coord := msg.Chunk
	m.setState(coord, newListening(msg.Authority, LowestPriority))
	m.emit(ToPeer(msg.Authority), WorldNetMessage{Kind: MsgListenRequest, Chunk: coord})
}

// handleListenRequest answers a subscription request. Per §7, a
// request to a peer who isn't this chunk's authority gets UnloadChunk
// instead.
func (m *WorldManager) handleListenRequest(source PeerId, msg WorldNetMessage) {
	coord := msg.Chunk
	s, ok := m.stateFor(coord)
	if !ok || s.Kind != StateAuthority {
		m.emit(ToPeer(source), WorldNetMessage{Kind: MsgUnloadChunk, Chunk: coord})
		return
	}
	s.Listeners[source] = struct{}{}
	var data Option[chunkmodel.ChunkData]
	if cd, ok := m.outbound.GetChunkData(coord); ok {
		data = Some(cd)
	}
	m.emit(ToPeer(source), WorldNetMessage{Kind: MsgListenInitialResponse, Chunk: coord, Data: data, Priority: s.Priority})
}

func (m *WorldManager) handleListenStopRequest(source PeerId, msg WorldNetMessage) {
	coord := msg.Chunk
	s, ok := m.stateFor(coord)
	if !ok || s.Kind != StateAuthority {
		return
	}
	delete(s.Listeners, source)
	if best, _, ok2 := s.bestContender(); ok2 && best == source {
		s.Contenders.Delete(source)
	}
}

func (m *WorldManager) handleListenInitialResponse(source PeerId, msg WorldNetMessage) {
	coord := msg.Chunk
	if msg.Data.Ok {
		m.inbound.ApplyChunkData(coord, msg.Data.Value)
	} else {
		m.warnf("worldsync: ListenInitialResponse for %v carried no data", coord)
	}
	m.setState(coord, newListening(source, msg.Priority))
}

func (m *WorldManager) handleListenUpdate(source PeerId, msg WorldNetMessage) {
	coord := msg.Delta.ChunkCoord
	m.inbound.ApplyChunkDelta(msg.Delta)
	s, ok := m.stateFor(coord)
	if ok && s.Kind == StateListening {
		s.Priority = msg.Priority
	}
	if !msg.TakeAuth {
		return
	}
	priority := LowestPriority
	if ok && s.Kind == StateWantToGetAuth {
		priority = s.MyPriority
	}
	m.lastRequestPriority[coord] = priority
	m.setState(coord, newWaitingForAuthority())
	m.emit(m.toHost(), WorldNetMessage{Kind: MsgRequestAuthority, Chunk: coord, Priority: priority, CanWait: false})
}

func (m *WorldManager) handleChunkPacket(source PeerId, msg WorldNetMessage) {
	for _, e := range msg.Packets {
		m.inbound.ApplyChunkDelta(e.Delta)
		if s, ok := m.stateFor(e.Delta.ChunkCoord); ok && s.Kind == StateListening {
			s.Priority = e.Priority
		}
	}
}

func (m *WorldManager) handleListenAuthorityRelinquished(source PeerId, msg WorldNetMessage) {
	coord := msg.Chunk
	s, ok := m.stateFor(coord)
	if !ok {
		return
	}
	if s.Kind == StateListening || s.Kind == StateWantToGetAuth {
		m.setState(coord, newUnloadPending())
	}
}

// handleLoseAuthority records a listener's preemption claim. The
// incumbent wins ties: a claim at or above our own priority is simply
// ignored (§4.E.3 tie-break).
func (m *WorldManager) handleLoseAuthority(source PeerId, msg WorldNetMessage) {
	coord := msg.Chunk
	s, ok := m.stateFor(coord)
	if !ok || s.Kind != StateAuthority {
		return
	}
	if msg.NewPrio >= s.Priority {
		return
	}
	s.Contenders.Upsert(msg.NewAuth, msg.NewPrio)
}

func (m *WorldManager) handleChangePriority(source PeerId, msg WorldNetMessage) {
	if !m.isHost {
		m.warnf("worldsync: ChangePriority %v received at non-host, dropping", msg.Chunk)
		return
	}
	m.authority.setPriority(msg.Chunk, msg.Priority)
}

func (m *WorldManager) handleUnloadChunk(source PeerId, msg WorldNetMessage) {
	coord := msg.Chunk
	if s, ok := m.stateFor(coord); ok && (s.Kind == StateListening || s.Kind == StateWantToGetAuth) {
		m.setState(coord, newUnloadPending())
	}
}

func (m *WorldManager) handleRelinquishAuthority(source PeerId, msg WorldNetMessage) {
	if !m.isHost {
		m.warnf("worldsync: RelinquishAuthority %v received at non-host, dropping", msg.Chunk)
		return
	}
	if msg.WorldNum != m.worldNum {
		return
	}
	entry, ok := m.authority.get(msg.Chunk)
	if !ok || entry.Owner != source {
		m.warnf("worldsync: RelinquishAuthority %v from %v, not the recorded owner", msg.Chunk, source)
		return
	}
	m.authority.remove(msg.Chunk)
	if msg.Data.Ok {
		m.chunkStorage[msg.Chunk] = msg.Data.Value
	}
	m.emit(ToAll(), WorldNetMessage{Kind: MsgListenAuthorityRelinquished, Chunk: msg.Chunk})
}

func (m *WorldManager) handleUpdateStorage(source PeerId, msg WorldNetMessage) {
	if !m.isHost {
		m.warnf("worldsync: UpdateStorage %v received at non-host, dropping", msg.Chunk)
		return
	}
	if msg.WorldNum != m.worldNum {
		return
	}
	if msg.Data.Ok {
		m.chunkStorage[msg.Chunk] = msg.Data.Value
	}
}

// handleGetAuthorityFrom starts the new-owner side of a pull-transfer
// (§4.E.4 step 1). If we've already decided to unload this chunk, we
// bail out immediately with a data-less relinquish instead.
func (m *WorldManager) handleGetAuthorityFrom(source PeerId, msg WorldNetMessage) {
	coord := msg.Chunk
	if s, ok := m.stateFor(coord); ok && s.Kind == StateUnloadPending {
		m.emit(m.toHost(), WorldNetMessage{Kind: MsgRelinquishAuthority, Chunk: coord, WorldNum: m.worldNum})
		return
	}
	m.setState(coord, newTransfer())
	m.emit(ToPeer(msg.Authority), WorldNetMessage{Kind: MsgRequestAuthorityTransfer, Chunk: coord})
}

func (m *WorldManager) handleRequestAuthorityTransfer(source PeerId, msg WorldNetMessage) {
	coord := msg.Chunk
	s, ok := m.stateFor(coord)
	if !ok || s.Kind != StateAuthority {
		m.emit(ToPeer(source), WorldNetMessage{Kind: MsgTransferFailed, Chunk: coord})
		return
	}
	data, _ := m.outbound.GetChunkData(coord)
	listeners := make([]PeerId, 0, len(s.Listeners))
	for l := range s.Listeners {
		if l == source {
			// The new owner does not listen to itself.
			continue
		}
		listeners = append(listeners, l)
	}
	m.emit(ToPeer(source), WorldNetMessage{Kind: MsgTransferOk, Chunk: coord, Data: Some(data), Listeners: listeners})
	m.emit(m.toHost(), WorldNetMessage{Kind: MsgUpdateStorage, Chunk: coord, Data: Some(data), WorldNum: m.worldNum})
	m.setState(coord, newUnloadPending())
}

func (m *WorldManager) handleTransferOk(source PeerId, msg WorldNetMessage) {
	coord := msg.Chunk
	if msg.Data.Ok {
		m.inbound.ApplyChunkData(coord, msg.Data.Value)
		m.outbound.ApplyChunkData(coord, msg.Data.Value)
	}
	listeners := make(map[PeerId]struct{}, len(msg.Listeners))
	for _, l := range msg.Listeners {
		listeners[l] = struct{}{}
		m.emit(ToPeer(l), WorldNetMessage{Kind: MsgNotifyNewAuthority, Chunk: coord})
	}
	m.setState(coord, newAuthority(listeners, m.lastRequestPriority[coord]))
}

func (m *WorldManager) handleTransferFailed(source PeerId, msg WorldNetMessage) {
	coord := msg.Chunk
	priority, ok := m.lastRequestPriority[coord]
	if !ok {
		priority = LowestPriority
	}
	m.setState(coord, newRequestAuthority(priority, true))
}

func (m *WorldManager) handleNotifyNewAuthority(source PeerId, msg WorldNetMessage) {
	coord := msg.Chunk
	if s, ok := m.stateFor(coord); ok && s.Kind == StateListening {
		s.Authority = source
	}
}

// localEditHandler is the per-chunk local-edit handler of §4.E.6,
// invoked once per dirty chunk from AddEnd. It mutates chunk_state
// directly and returns the (listener, priority) pairs the caller
// should fold into this tick's ChunkPacket batches.
func (m *WorldManager) localEditHandler(coord chunkmodel.ChunkCoord, priority Priority, delta chunkmodel.ChunkDelta) []pendingSend {
	s, ok := m.stateFor(coord)
	if !ok {
		m.setState(coord, newRequestAuthority(priority, true))
		m.emit(m.toHost(), WorldNetMessage{Kind: MsgRequestAuthority, Chunk: coord, Priority: priority, CanWait: true})
		return nil
	}

	switch s.Kind {
	case StateListening:
		if priority < s.Priority {
			next := newWantToGetAuth(s.Authority, s.Priority, priority)
			m.setState(coord, next)
			m.emit(ToPeer(s.Authority), WorldNetMessage{Kind: MsgLoseAuthority, Chunk: coord, NewPrio: priority, NewAuth: m.self})
		}
		return nil

	case StateWantToGetAuth:
		s.MyPriority = priority
		if !(s.MyPriority < s.AuthPriority) {
			m.setState(coord, newListening(s.Authority, s.AuthPriority))
			return nil
		}
		m.emit(ToPeer(s.Authority), WorldNetMessage{Kind: MsgLoseAuthority, Chunk: coord, NewPrio: s.MyPriority, NewAuth: m.self})
		return nil

	case StateAuthority:
		if priority != s.Priority {
			s.Priority = priority
			m.emit(m.toHost(), WorldNetMessage{Kind: MsgChangePriority, Chunk: coord, Priority: priority})
		}

		var target PeerId
		hasTarget := false
		if bestPeer, bestPrio, ok2 := s.bestContender(); ok2 {
			if bestPrio >= s.Priority {
				s.Contenders.Delete(bestPeer)
			} else {
				target, hasTarget = bestPeer, true
			}
		}

		if s.StopSending {
			return nil
		}

		var sends []pendingSend
		for listener := range s.Listeners {
			if hasTarget && listener == target {
				continue
			}
			sends = append(sends, pendingSend{to: listener, prio: s.Priority})
		}
		if hasTarget {
			m.emit(ToPeer(target), WorldNetMessage{Kind: MsgListenUpdate, Delta: delta.Clone(), Priority: s.Priority, TakeAuth: true})
			s.StopSending = true
			return nil
		}
		return sends

	default:
		return nil
	}
}
