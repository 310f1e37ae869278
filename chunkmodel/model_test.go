package chunkmodel

import (
	"testing"

	"github.com/frankban/quicktest"
)

func TestApplyUpdateMarksChunkDirty(t *testing.T) {
	c := quicktest.New(t)
	m := NewWorldModel()
	m.ApplyUpdate(WorldUpdate{X: 5, Y: 5, Pixel: Pixel{Material: 7}})
	m.ApplyUpdate(WorldUpdate{X: CHUNK_SIZE + 3, Y: 2, Pixel: Pixel{Material: 9}})

	updated := m.UpdatedChunks()
	c.Assert(updated, quicktest.HasLen, 2)

	delta, ok := m.GetChunkDelta(ChunkCoord{X: 0, Y: 0})
	c.Assert(ok, quicktest.IsTrue)
	c.Assert(delta.Changed, quicktest.HasLen, 1)
	c.Assert(delta.Changed[0].Pixel.Material, quicktest.Equals, uint16(7))
}

func TestApplyChunkDataRoundTrips(t *testing.T) {
	c := quicktest.New(t)
	var chunk Chunk
	chunk.SetPixel(10, Pixel{Material: 3})
	chunk.SetPixel(200, Pixel{Material: 4})
	data := chunk.ToChunkData()
	c.Assert(data.Set, quicktest.HasLen, 2)

	m := NewWorldModel()
	coord := ChunkCoord{X: -1, Y: 2}
	m.ApplyChunkData(coord, data)
	got, ok := m.GetChunkData(coord)
	c.Assert(ok, quicktest.IsTrue)
	c.Assert(got, quicktest.DeepEquals, data)
}

func TestApplyChunkDeltaCreatesChunk(t *testing.T) {
	c := quicktest.New(t)
	m := NewWorldModel()
	coord := ChunkCoord{X: 4, Y: -4}
	m.ApplyChunkDelta(ChunkDelta{
		ChunkCoord: coord,
		Changed:    []IndexedPixel{{Index: 42, Pixel: Pixel{Material: 99}}},
	})
	data, ok := m.GetChunkData(coord)
	c.Assert(ok, quicktest.IsTrue)
	c.Assert(data.Set, quicktest.HasLen, 1)
	c.Assert(data.Set[0].Index, quicktest.Equals, uint16(42))
}

func TestForgetChunkAndReset(t *testing.T) {
	c := quicktest.New(t)
	m := NewWorldModel()
	m.ApplyUpdate(WorldUpdate{X: 1, Y: 1, Pixel: Pixel{Material: 1}})
	m.ForgetChunk(ChunkCoord{X: 0, Y: 0})
	c.Assert(m.Len(), quicktest.Equals, 0)

	m.ApplyUpdate(WorldUpdate{X: 1, Y: 1, Pixel: Pixel{Material: 1}})
	m.Reset()
	c.Assert(m.Len(), quicktest.Equals, 0)
	c.Assert(m.UpdatedChunks(), quicktest.HasLen, 0)
}

func TestDrainUpdatesClearsDirty(t *testing.T) {
	c := quicktest.New(t)
	m := NewWorldModel()
	m.ApplyUpdate(WorldUpdate{X: 1, Y: 1, Pixel: Pixel{Material: 5}})
	deltas := m.DrainUpdates()
	c.Assert(deltas, quicktest.HasLen, 1)
	c.Assert(m.UpdatedChunks(), quicktest.HasLen, 0)
}

func TestCoordOfNegativeCoordinates(t *testing.T) {
	c := quicktest.New(t)
	c.Assert(CoordOf(-1, -1), quicktest.Equals, ChunkCoord{X: -1, Y: -1})
	c.Assert(CoordOf(-CHUNK_SIZE, 0), quicktest.Equals, ChunkCoord{X: -1, Y: 0})
	c.Assert(CoordOf(0, 0), quicktest.Equals, ChunkCoord{X: 0, Y: 0})
}
