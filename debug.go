package worldsync

import (
	"fmt"

	"github.com/dannyzb/worldsync/chunkmodel"
	"github.com/davecgh/go-spew/spew"
	"github.com/dustin/go-humanize"
)

// DebugMarker is one human-readable annotation of a chunk's current
// state, placed at that chunk's origin pixel so an overlay renderer
// can draw it directly on top of the world.
type DebugMarker struct {
	X, Y  int32
	Label string
}

func markerRole(kind ChunkStateKind) string {
	switch kind {
	case StateRequestAuthority:
		return "req auth"
	case StateWaitingForAuthority:
		return "wai auth"
	case StateListening:
		return "list"
	case StateAuthority:
		return "auth"
	case StateUnloadPending:
		return "unl"
	case StateTransfer:
		return "tran"
	case StateWantToGetAuth:
		return "want auth"
	default:
		return kind.String()
	}
}

// GetDebugMarkers returns one marker per live chunk-state entry, for an
// in-world overlay. Host authority markers additionally report the
// recorded priority, since a host is the only party that always knows
// it.
func (m *WorldManager) GetDebugMarkers() []DebugMarker {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]DebugMarker, 0, len(m.states))
	for coord, s := range m.states {
		label := markerRole(s.Kind)
		if m.isHost && s.Kind == StateAuthority {
			label = fmt.Sprintf("%s %s", label, humanize.Comma(int64(s.Priority)))
		}
		if last, ok := m.chunkLastUpdate[coord]; ok {
			label = fmt.Sprintf("%s @%d", label, last)
		}
		out = append(out, DebugMarker{
			X:     coord.X * chunkmodel.CHUNK_SIZE,
			Y:     coord.Y * chunkmodel.CHUNK_SIZE,
			Label: label,
		})
	}
	return out
}

// DumpState renders every tracked chunk-state entry, plus the update
// counter each chunk last saw local activity at, for attaching to a
// bug report. Not meant to be parsed, only read.
func (m *WorldManager) DumpState() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return spew.Sdump(m.states, m.chunkLastUpdate)
}
