package worldsync

import (
	"math/rand"
	"os"

	"github.com/dannyzb/worldsync/chunkmodel"
)

// testInjectEnv, when set, folds a handful of random pixels into chunk
// (0,0) before any drain made while the current_update counter AddEnd
// advances is a multiple of ten. This exercises a simulator's tolerance for
// unexpected inbound writes without needing a second peer in the loop.
const testInjectEnv = "NP_WORLD_SYNC_TEST"

var testInjectEnabled = os.Getenv(testInjectEnv) != ""

func (m *WorldManager) maybeInjectTestUpdate(rng *rand.Rand) {
	if !testInjectEnabled {
		return
	}
	if m.currentUpdate.Int64()%10 != 0 {
		return
	}
	coord := chunkmodel.ChunkCoord{}
	for i := 0; i < 4; i++ {
		idx := rng.Intn(chunkmodel.CHUNK_SIZE * chunkmodel.CHUNK_SIZE)
		pixel := chunkmodel.Pixel{Material: uint16(rng.Intn(1 << 16))}
		m.inbound.ApplyChunkDelta(chunkmodel.ChunkDelta{
			ChunkCoord: coord,
			Changed:    []chunkmodel.IndexedPixel{{Index: uint16(idx), Pixel: pixel}},
		})
	}
}
