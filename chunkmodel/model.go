package chunkmodel

import (
	"sync"

	"github.com/RoaringBitmap/roaring"
)

// WorldUpdate is a single pixel write produced by the local simulator,
// addressed in world-pixel space.
type WorldUpdate struct {
	X, Y  int32
	Pixel Pixel
}

// CoordOf returns the chunk that world pixel (x, y) belongs to.
func CoordOf(x, y int32) ChunkCoord {
	return ChunkCoord{X: floorDiv(x, CHUNK_SIZE), Y: floorDiv(y, CHUNK_SIZE)}
}

func floorDiv(a, b int32) int32 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int32) int32 {
	m := a % b
	if m != 0 && ((m < 0) != (b < 0)) {
		m += b
	}
	return m
}

// WorldModel is one of the three pixel-grid views a peer keeps: the
// inbound model (applied from remote authorities, destined for replay
// into the local simulator), the outbound model (locally simulated,
// source of truth for edits this peer broadcasts), or the host's
// canonical storage snapshot. All three share this implementation;
// which role a given instance plays is a matter of how the manager
// wires it up.
//
// Dirty pixels within a chunk are tracked with a roaring.Bitmap over
// the dense 0..CHUNK_SIZE*CHUNK_SIZE-1 index space rather than a plain
// map, the usual tradeoff for dense membership sets.
type WorldModel struct {
	mu     sync.RWMutex
	chunks map[ChunkCoord]*Chunk
	dirty  map[ChunkCoord]*roaring.Bitmap
}

func NewWorldModel() *WorldModel {
	return &WorldModel{
		chunks: make(map[ChunkCoord]*Chunk),
		dirty:  make(map[ChunkCoord]*roaring.Bitmap),
	}
}

func (m *WorldModel) markDirty(coord ChunkCoord, idx uint16) {
	bm, ok := m.dirty[coord]
	if !ok {
		bm = roaring.New()
		m.dirty[coord] = bm
	}
	bm.Add(uint32(idx))
}

// ApplyUpdate folds one simulator-produced pixel write into the model.
func (m *WorldModel) ApplyUpdate(u WorldUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	coord := CoordOf(u.X, u.Y)
	chunk, ok := m.chunks[coord]
	if !ok {
		chunk = &Chunk{}
		m.chunks[coord] = chunk
	}
	idx := uint16(floorMod(u.Y, CHUNK_SIZE))*CHUNK_SIZE + uint16(floorMod(u.X, CHUNK_SIZE))
	chunk.SetPixel(int(idx), u.Pixel)
	m.markDirty(coord, idx)
}

// UpdatedChunks returns a snapshot of chunks touched since the last
// ResetChangeTracking call.
func (m *WorldModel) UpdatedChunks() []ChunkCoord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ChunkCoord, 0, len(m.dirty))
	for c := range m.dirty {
		out = append(out, c)
	}
	return out
}

// GetChunkDelta returns the changed pixels for coord since the last
// ResetChangeTracking. Returns ok=false if no pixel of the chunk has
// changed since then.
func (m *WorldModel) GetChunkDelta(coord ChunkCoord) (ChunkDelta, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bm, ok := m.dirty[coord]
	if !ok || bm.IsEmpty() {
		return ChunkDelta{}, false
	}
	chunk, ok := m.chunks[coord]
	if !ok {
		return ChunkDelta{}, false
	}
	delta := ChunkDelta{ChunkCoord: coord}
	it := bm.Iterator()
	for it.HasNext() {
		idx := it.Next()
		delta.Changed = append(delta.Changed, IndexedPixel{Index: uint16(idx), Pixel: chunk.Pixel(int(idx))})
	}
	return delta, true
}

// GetChunkData returns the full encoded snapshot of coord, if loaded.
func (m *WorldModel) GetChunkData(coord ChunkCoord) (ChunkData, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chunk, ok := m.chunks[coord]
	if !ok {
		return ChunkData{}, false
	}
	return chunk.ToChunkData(), true
}

// ApplyChunkData replaces coord's content wholesale (a grant, transfer,
// or listen-initial-response payload) and marks every pixel it set as
// dirty so a subsequent drain/broadcast sees the full picture.
func (m *WorldModel) ApplyChunkData(coord ChunkCoord, data ChunkData) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chunk, ok := m.chunks[coord]
	if !ok {
		chunk = &Chunk{}
		m.chunks[coord] = chunk
	}
	data.ApplyToChunk(chunk)
	bm := roaring.New()
	for _, ip := range data.Set {
		bm.Add(uint32(ip.Index))
	}
	m.dirty[coord] = bm
}

// ApplyChunkDelta merges incremental pixel changes (a ListenUpdate or
// ChunkPacket payload) into coord, creating it if unseen.
func (m *WorldModel) ApplyChunkDelta(delta ChunkDelta) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dc := delta.ChunkCoord
	chunk, ok := m.chunks[dc]
	if !ok {
		chunk = &Chunk{}
		m.chunks[dc] = chunk
	}
	for _, ip := range delta.Changed {
		chunk.SetPixel(int(ip.Index), ip.Pixel)
		m.markDirty(dc, ip.Index)
	}
}

// ForgetChunk drops coord entirely; called by the liveness pass once a
// chunk's state-machine entry has been retired.
func (m *WorldModel) ForgetChunk(coord ChunkCoord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chunks, coord)
	delete(m.dirty, coord)
}

// Reset clears every chunk, used when world_num changes generation.
func (m *WorldModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = make(map[ChunkCoord]*Chunk)
	m.dirty = make(map[ChunkCoord]*roaring.Bitmap)
}

// ResetChangeTracking clears dirty bitmaps without discarding content.
func (m *WorldModel) ResetChangeTracking() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirty = make(map[ChunkCoord]*roaring.Bitmap)
}

// DrainUpdates returns one delta per dirty chunk, holding only that
// chunk's dirty pixels, for replay into the local simulator, and
// clears the dirty set.
func (m *WorldModel) DrainUpdates() []ChunkDelta {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChunkDelta, 0, len(m.dirty))
	for c, bm := range m.dirty {
		chunk, ok := m.chunks[c]
		if !ok || bm.IsEmpty() {
			continue
		}
		d := ChunkDelta{ChunkCoord: c}
		it := bm.Iterator()
		for it.HasNext() {
			idx := it.Next()
			d.Changed = append(d.Changed, IndexedPixel{Index: uint16(idx), Pixel: chunk.Pixel(int(idx))})
		}
		out = append(out, d)
	}
	m.dirty = make(map[ChunkCoord]*roaring.Bitmap)
	return out
}

// Len reports how many chunks are currently loaded, for diagnostics.
func (m *WorldModel) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks)
}
