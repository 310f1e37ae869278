package worldsync

import "fmt"

// PeerId is an opaque, comparable, totally-ordered peer identifier.
// It's a plain uint64 handed out by the transport layer (netbus); the
// core never interprets its bits beyond equality and ordering.
type PeerId uint64

func (p PeerId) String() string {
	return fmt.Sprintf("peer:%016x", uint64(p))
}

// Less gives PeerId a total order. The same order (peerIdLess in
// chunk-state.go) breaks ties between equal-priority contenders.
func (p PeerId) Less(o PeerId) bool {
	return p < o
}

// Priority is a request/authority priority. Lower numeric value means
// a stronger claim: 0 is the strongest possible priority, 255 the
// weakest. Ties are broken in favor of whichever peer already holds
// authority.
type Priority = uint8

const (
	// HighestPriority is the strongest possible claim.
	HighestPriority Priority = 0
	// LowestPriority is the default a transfer falls back to once a
	// remembered request priority has been forgotten.
	LowestPriority Priority = 255
)
