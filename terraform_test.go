package worldsync

import (
	"testing"

	. "github.com/anacrolix/generics"
	"github.com/dannyzb/worldsync/chunkmodel"
	"github.com/frankban/quicktest"
)

func chunkPixelAt(data chunkmodel.ChunkData, idx uint16) chunkmodel.Pixel {
	for _, ip := range data.Set {
		if ip.Index == idx {
			return ip.Pixel
		}
	}
	return chunkmodel.AirPixel
}

func TestCutThroughWorldCircleClearsHostStorage(t *testing.T) {
	c := quicktest.New(t)
	host := newTestHost(t)
	coord := chunkmodel.ChunkCoord{X: 0, Y: 0}
	var chunk chunkmodel.Chunk
	chunk.SetPixel(0, chunkmodel.Pixel{Material: 5})   // (0,0)
	chunk.SetPixel(1, chunkmodel.Pixel{Material: 5})   // (1,0)
	chunk.SetPixel(20, chunkmodel.Pixel{Material: 5})  // (20,0), far outside r=2
	host.chunkStorage[coord] = chunk.ToChunkData()

	host.CutThroughWorldCircle(0, 0, 2, Option[uint16]{})

	got := host.chunkStorage[coord]
	c.Assert(chunkPixelAt(got, 0), quicktest.Equals, chunkmodel.AirPixel)
	c.Assert(chunkPixelAt(got, 1), quicktest.Equals, chunkmodel.AirPixel)
	c.Assert(chunkPixelAt(got, 20).Material, quicktest.Equals, uint16(5))
}

func TestCutThroughWorldCircleMaterialFilter(t *testing.T) {
	c := quicktest.New(t)
	host := newTestHost(t)
	coord := chunkmodel.ChunkCoord{X: 0, Y: 0}
	var chunk chunkmodel.Chunk
	chunk.SetPixel(0, chunkmodel.Pixel{Material: 5})
	chunk.SetPixel(1, chunkmodel.Pixel{Material: 9})
	host.chunkStorage[coord] = chunk.ToChunkData()

	host.CutThroughWorldCircle(0, 0, 2, Some(uint16(9)))

	got := host.chunkStorage[coord]
	c.Assert(chunkPixelAt(got, 0).Material, quicktest.Equals, uint16(5))
	c.Assert(chunkPixelAt(got, 1), quicktest.Equals, chunkmodel.AirPixel)
}

func TestNonHostCircleNoOpWithoutNiceTerraforming(t *testing.T) {
	c := quicktest.New(t)
	peer := newTestPeer(t, 2, 1)
	peer.SetNiceTerraforming(false)
	coord := chunkmodel.ChunkCoord{X: 0, Y: 0}
	peer.outbound.ApplyChunkData(coord, chunkmodel.ChunkData{Set: []chunkmodel.IndexedPixel{{Index: 0, Pixel: chunkmodel.Pixel{Material: 3}}}})

	peer.CutThroughWorldCircle(0, 0, 2, Option[uint16]{})

	data, _ := peer.outbound.GetChunkData(coord)
	c.Assert(chunkPixelAt(data, 0).Material, quicktest.Equals, uint16(3))
}

func TestCutThroughWorldVerticalClearsWithinRange(t *testing.T) {
	c := quicktest.New(t)
	host := newTestHost(t)
	coord := chunkmodel.ChunkCoord{X: 0, Y: 0}
	var chunk chunkmodel.Chunk
	for i := int32(0); i < chunkmodel.CHUNK_SIZE; i++ {
		chunk.SetPixel(int(i)*chunkmodel.CHUNK_SIZE, chunkmodel.Pixel{Material: 1})
	}
	host.chunkStorage[coord] = chunk.ToChunkData()

	host.CutThroughWorld(0, 0, 10, 8)

	got := host.chunkStorage[coord]
	c.Assert(chunkPixelAt(got, 0*chunkmodel.CHUNK_SIZE), quicktest.Equals, chunkmodel.AirPixel)
	c.Assert(chunkPixelAt(got, 50*chunkmodel.CHUNK_SIZE).Material, quicktest.Equals, uint16(1))
}

func TestCutThroughWorldLineDegenerateDelegatesToCircle(t *testing.T) {
	c := quicktest.New(t)
	host := newTestHost(t)
	coord := chunkmodel.ChunkCoord{X: 0, Y: 0}
	var chunk chunkmodel.Chunk
	chunk.SetPixel(0, chunkmodel.Pixel{Material: 1})
	host.chunkStorage[coord] = chunk.ToChunkData()

	host.CutThroughWorldLine(0, 0, 0, 0, 2)

	got := host.chunkStorage[coord]
	c.Assert(chunkPixelAt(got, 0), quicktest.Equals, chunkmodel.AirPixel)
}

func TestNextPow2Clamped(t *testing.T) {
	c := quicktest.New(t)
	c.Assert(clampU32(nextPow2(3), 8, 256), quicktest.Equals, uint32(8))
	c.Assert(clampU32(nextPow2(300), 8, 256), quicktest.Equals, uint32(256))
	c.Assert(nextPow2(9), quicktest.Equals, uint32(16))
}

func TestExplosionSkipsChunksAlreadyLoaded(t *testing.T) {
	c := quicktest.New(t)
	host := newTestHost(t)
	coord := chunkmodel.ChunkCoord{X: 0, Y: 0}
	var chunk chunkmodel.Chunk
	chunk.SetPixel(0, chunkmodel.Pixel{Material: 1})
	host.chunkStorage[coord] = chunk.ToChunkData()
	host.outbound.ApplyChunkData(coord, chunk.ToChunkData())

	host.cutExplosionListLocked(0, 0, 8, []int64{1 << 20, 1 << 20, 1 << 20, 1 << 20, 1 << 20, 1 << 20, 1 << 20, 1 << 20})

	got := host.chunkStorage[coord]
	c.Assert(chunkPixelAt(got, 0).Material, quicktest.Equals, uint16(1))
}

// TestExplosionLongRangeUsesDiagonalAdjacentCorners exercises the
// r>=8*CHUNK_SIZE bucket-range branch at a chunk diagonally offset
// from the blast center (both coordinates on the same side of center),
// where the bucket range must be taken between the two corners that
// share an edge with the near corner, (-128,-1) and (-1,-128), giving
// buckets 128..191. The near corner (-1,-1) and the far corner
// (-128,-128) lie on one ray from the center and would give the single
// bucket 160. Only bucket 191 carries enough reach to clear the target
// pixel, so it is cleared only when the edge-adjacent corners are used.
func TestExplosionLongRangeUsesDiagonalAdjacentCorners(t *testing.T) {
	c := quicktest.New(t)
	host := newTestHost(t)
	const s = chunkmodel.CHUNK_SIZE
	coord := chunkmodel.ChunkCoord{X: -1, Y: -1}

	var chunk chunkmodel.Chunk
	// local (127, 0) is global (-1, -128): the chunk's corner next to
	// the -y axis, in bucket 191.
	chunk.SetPixel(127, chunkmodel.Pixel{Material: 5})
	host.chunkStorage[coord] = chunk.ToChunkData()

	rays := uint32(256)
	list := make([]int64, rays)
	list[191] = 1 << 20 // ~1048576, pushes the derived loop radius to 8*s

	host.cutExplosionListLocked(0, 0, rays, list)

	got := host.chunkStorage[coord]
	c.Assert(chunkPixelAt(got, 127), quicktest.Equals, chunkmodel.AirPixel)
}
