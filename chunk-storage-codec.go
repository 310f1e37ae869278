package worldsync

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dannyzb/worldsync/chunkmodel"
)

// encodeChunkStorage serializes the host's canonical chunk snapshot for
// the save-state entry, reusing the same coord/data wire primitives the
// message codec uses.
func encodeChunkStorage(m map[chunkmodel.ChunkCoord]chunkmodel.ChunkData) []byte {
	var buf bytes.Buffer
	writeUint32(&buf, uint32(len(m)))
	for coord, data := range m {
		writeChunkCoord(&buf, coord)
		writeChunkData(&buf, data)
	}
	return buf.Bytes()
}

func decodeChunkStorage(b []byte) (map[chunkmodel.ChunkCoord]chunkmodel.ChunkData, error) {
	r := bytes.NewReader(b)
	n, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("worldsync: reading chunk storage length: %w", err)
	}
	out := make(map[chunkmodel.ChunkCoord]chunkmodel.ChunkData, n)
	for i := uint32(0); i < n; i++ {
		coord, err := readChunkCoord(r)
		if err != nil {
			return out, err
		}
		data, err := readChunkData(r)
		if err != nil {
			return out, err
		}
		out[coord] = data
	}
	if r.Len() != 0 {
		return out, io.ErrUnexpectedEOF
	}
	return out, nil
}
