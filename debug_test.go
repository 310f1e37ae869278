package worldsync

import (
	"testing"

	"github.com/dannyzb/worldsync/chunkmodel"
	"github.com/frankban/quicktest"
)

func TestAddEndStampsChunkLastUpdate(t *testing.T) {
	c := quicktest.New(t)
	host := newTestHost(t)
	coord := chunkmodel.ChunkCoord{X: 3, Y: 3}

	host.AddUpdate(chunkmodel.WorldUpdate{X: coord.X*chunkmodel.CHUNK_SIZE + 1, Y: coord.Y*chunkmodel.CHUNK_SIZE + 1, Pixel: chunkmodel.Pixel{Material: 7}})
	host.AddEnd(100, nil)

	c.Assert(host.chunkLastUpdate[coord], quicktest.Equals, uint64(1))

	markers := host.GetDebugMarkers()
	c.Assert(markers, quicktest.HasLen, 1)
	c.Assert(markers[0].Label, quicktest.Equals, "auth 100 @1")
}

func TestResetClearsChunkLastUpdate(t *testing.T) {
	c := quicktest.New(t)
	host := newTestHost(t)
	coord := chunkmodel.ChunkCoord{X: 1, Y: 1}
	host.chunkLastUpdate[coord] = 5

	host.applyPosUpdate([]int32{0, 0, 0, 0, 0, int32(host.worldNum) + 1})

	c.Assert(host.chunkLastUpdate, quicktest.HasLen, 0)
}
