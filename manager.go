// Package worldsync implements the authority hand-off protocol that
// decides, chunk by chunk, which peer's simulator is the source of
// truth for a region of a shared mutable world, and fans that peer's
// edits out to everyone else watching it.
package worldsync

import (
	"math/rand"
	"os"

	"github.com/anacrolix/log"
	"github.com/dannyzb/worldsync/chunkmodel"
	"github.com/dannyzb/worldsync/storage"
	"github.com/pkg/errors"
)

// worldChunksKey is the save-state entry name the host's chunk storage
// is persisted under.
const worldChunksKey = "world_chunks"

// WorldManager is the synchronization core for one peer. Exactly one
// participant in a session constructs it with isHost=true; the rest
// are plain peers. All of its entry points are meant to be called from
// a single logical thread of control (one simulator tick, one message
// at a time) even though the lock lets a second goroutine (typically a
// netbus reader) call HandlePeerLeft or HandleMsg concurrently with
// the simulator-facing calls.
type WorldManager struct {
	mu managerLock

	isHost   bool
	self     PeerId
	hostPeer PeerId // meaningful only when !isHost
	worldNum uint32

	inbound  *chunkmodel.WorldModel
	outbound *chunkmodel.WorldModel

	// chunkStorage is the host's canonical snapshot of chunks with no
	// live owner. Only ever populated when isHost.
	chunkStorage map[chunkmodel.ChunkCoord]chunkmodel.ChunkData
	authority    *authorityTable

	states               map[chunkmodel.ChunkCoord]*ChunkState
	lastRequestPriority  map[chunkmodel.ChunkCoord]Priority
	chunkLastUpdate      map[chunkmodel.ChunkCoord]uint64

	currentUpdate Count

	myPos, camPos chunkmodel.ChunkCoord
	isNotPlayer   bool

	newEmitted Event

	save *storage.SaveState

	logger log.Logger

	testRand *rand.Rand

	niceTerraforming bool
	durabilities     map[uint16]DurabilityEntry
}

// New constructs a WorldManager. hostPeer is ignored when isHost is
// true (a host always addresses itself). save may be nil for a
// non-host peer, or for a host running without persistence (e.g. in
// tests).
func New(isHost bool, self, hostPeer PeerId, save *storage.SaveState, logger log.Logger) (*WorldManager, error) {
	m := &WorldManager{
		isHost:              isHost,
		self:                self,
		hostPeer:            hostPeer,
		inbound:             chunkmodel.NewWorldModel(),
		outbound:            chunkmodel.NewWorldModel(),
		chunkStorage:        make(map[chunkmodel.ChunkCoord]chunkmodel.ChunkData),
		states:              make(map[chunkmodel.ChunkCoord]*ChunkState),
		lastRequestPriority: make(map[chunkmodel.ChunkCoord]Priority),
		chunkLastUpdate:     make(map[chunkmodel.ChunkCoord]uint64),
		save:                save,
		logger:              logger,
		testRand:            rand.New(rand.NewSource(1)),
		niceTerraforming:    true,
		durabilities:        make(map[uint16]DurabilityEntry),
	}
	if isHost {
		m.authority = newAuthorityTable()
	}
	if os.Getenv("WORLDSYNC_LOCK_DEBUG") == "stack" {
		m.mu.EnableDebug("worldsync.WorldManager", true)
	}
	if isHost && save != nil {
		if err := m.loadChunkStorage(); err != nil {
			return nil, errors.Wrap(err, "loading persisted chunk storage")
		}
	}
	return m, nil
}

func (m *WorldManager) loadChunkStorage() error {
	blob, ok, err := m.save.Get(worldChunksKey)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	entries, err := decodeChunkStorage(blob)
	if err != nil {
		return errors.Wrap(err, "decoding persisted chunk storage")
	}
	m.chunkStorage = entries
	return nil
}

// Close persists chunkStorage back through the save-state entry, if
// this manager is a host with persistence configured, then closes the
// save handle.
func (m *WorldManager) Close() error {
	if !m.isHost || m.save == nil {
		return nil
	}
	m.mu.Lock()
	blob := encodeChunkStorage(m.chunkStorage)
	m.mu.Unlock()
	if err := m.save.Set(worldChunksKey, blob); err != nil {
		return errors.Wrap(err, "persisting chunk storage")
	}
	return m.save.Close()
}

// AddUpdate folds a simulator-produced pixel write into the outbound
// model, the external interface's add_update.
func (m *WorldManager) AddUpdate(u chunkmodel.WorldUpdate) {
	m.outbound.ApplyUpdate(u)
}

// GetNoitaUpdates drains inbound-model deltas back to the simulator.
func (m *WorldManager) GetNoitaUpdates() []chunkmodel.ChunkDelta {
	m.mu.Lock()
	m.maybeInjectTestUpdate(m.testRand)
	m.mu.Unlock()
	return m.inbound.DrainUpdates()
}

// SetTestRand overrides the source of randomness NP_WORLD_SYNC_TEST
// injection draws from, so tests can assert on exact injected pixels.
func (m *WorldManager) SetTestRand(r *rand.Rand) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.testRand = r
}

// GetEmittedMsgs drains every outbound message queued by message
// handling or frame-boundary processing since the last call.
func (m *WorldManager) GetEmittedMsgs() []MessageRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mu.drain()
}

// Reset clears both models, chunk storage, the authority table and
// every per-chunk map, used when world_num changes generation.
func (m *WorldManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

func (m *WorldManager) resetLocked() {
	m.inbound.Reset()
	m.outbound.Reset()
	m.chunkStorage = make(map[chunkmodel.ChunkCoord]chunkmodel.ChunkData)
	if m.authority != nil {
		m.authority.reset()
	}
	m.states = make(map[chunkmodel.ChunkCoord]*ChunkState)
	m.lastRequestPriority = make(map[chunkmodel.ChunkCoord]Priority)
	m.chunkLastUpdate = make(map[chunkmodel.ChunkCoord]uint64)
}

// emit queues req for the bus, and — per the self/broadcast
// short-circuit — also dispatches it to the local handler immediately
// when it's addressed to this peer. Must be called with mu held.
func (m *WorldManager) emit(dest Destination, msg WorldNetMessage) {
	if dest.ToSelf || (!dest.Broadcast && dest.Peer == m.self) {
		m.handleMsgLocked(m.self, msg)
		return
	}
	m.mu.queue(MessageRequest{Dest: dest, Message: msg})
	if dest.Broadcast {
		m.handleMsgLocked(m.self, msg)
	}
}

// toHost returns the destination for a host-addressed message: ToSelf
// when this manager is the host, otherwise the configured host peer.
func (m *WorldManager) toHost() Destination {
	if m.isHost {
		return ToSelf()
	}
	return ToPeer(m.hostPeer)
}

func (m *WorldManager) stateFor(coord chunkmodel.ChunkCoord) (*ChunkState, bool) {
	s, ok := m.states[coord]
	return s, ok
}

func (m *WorldManager) setState(coord chunkmodel.ChunkCoord, s ChunkState) {
	m.states[coord] = &s
}

// HandleMsg processes one inbound message from source. It is the entry
// point a netbus reader goroutine calls for each received message.
func (m *WorldManager) HandleMsg(source PeerId, msg WorldNetMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handleMsgLocked(source, msg)
}

// HandlePeerLeft removes every authority-table entry a departed peer
// owned and broadcasts ListenAuthorityRelinquished for each; other
// per-chunk state is left as it is. Non-host managers ignore this; the
// host relies on
// ListenAuthorityRelinquished broadcasts to inform peers instead.
func (m *WorldManager) HandlePeerLeft(source PeerId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isHost {
		return
	}
	for _, coord := range m.authority.removeOwnedBy(source) {
		m.emit(ToAll(), WorldNetMessage{Kind: MsgListenAuthorityRelinquished, Chunk: coord})
	}
}

// AddEnd closes a simulator frame: it updates position/world-number
// tracking, increments current_update, and dispatches the local-edit
// broadcast for every chunk the outbound model reports dirty.
func (m *WorldManager) AddEnd(priority Priority, pos []int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyPosUpdate(pos)
	m.currentUpdate.Inc()

	batches := make(map[PeerId][]ChunkPacketEntry)

	for _, coord := range m.outbound.UpdatedChunks() {
		delta, ok := m.outbound.GetChunkDelta(coord)
		if !ok {
			continue
		}
		m.chunkLastUpdate[coord] = uint64(m.currentUpdate.Int64())
		for _, send := range m.localEditHandler(coord, priority, delta) {
			batches[send.to] = append(batches[send.to], ChunkPacketEntry{Delta: delta.Clone(), Priority: send.prio})
		}
	}
	for listener, entries := range batches {
		if len(entries) == 0 {
			continue
		}
		m.emit(ToPeer(listener), WorldNetMessage{Kind: MsgChunkPacket, Chunk: entries[0].Delta.ChunkCoord, Packets: entries})
	}
	m.outbound.ResetChangeTracking()
}

func (m *WorldManager) applyPosUpdate(pos []int32) {
	switch len(pos) {
	case 6:
		newWorldNum := uint32(pos[5])
		m.myPos = chunkmodel.ChunkCoord{X: pos[0], Y: pos[1]}
		m.camPos = chunkmodel.ChunkCoord{X: pos[2], Y: pos[3]}
		m.isNotPlayer = pos[4] != 0
		if newWorldNum != m.worldNum {
			m.worldNum = newWorldNum
			m.resetLocked()
		}
	case 1:
		newWorldNum := uint32(pos[0])
		if newWorldNum != m.worldNum {
			m.worldNum = newWorldNum
			m.resetLocked()
		}
	}
}
