package worldsync

import (
	"fmt"

	. "github.com/anacrolix/generics"
	"github.com/dannyzb/worldsync/chunkmodel"
)

// MessageKind tags the variant of a WorldNetMessage, the way
// pp.MessageType tags a BitTorrent wire message.
type MessageKind uint8

// The wire vocabulary is closed: every interaction between peers uses
// one of these. Extending it means reserving a new tag value, never
// renumbering an existing one, since the codec is tag-positional.
const (
	MsgRequestAuthority MessageKind = iota
	MsgAskForAuthority
	MsgGotAuthority
	MsgAuthorityAlreadyTaken
	MsgListenRequest
	MsgListenStopRequest
	MsgListenInitialResponse
	MsgListenUpdate
	MsgChunkPacket
	MsgListenAuthorityRelinquished
	MsgLoseAuthority
	MsgChangePriority
	MsgUnloadChunk
	MsgRelinquishAuthority
	MsgUpdateStorage
	MsgGetAuthorityFrom
	MsgRequestAuthorityTransfer
	MsgTransferOk
	MsgTransferFailed
	MsgNotifyNewAuthority
)

var messageKindNames = [...]string{
	"RequestAuthority",
	"AskForAuthority",
	"GotAuthority",
	"AuthorityAlreadyTaken",
	"ListenRequest",
	"ListenStopRequest",
	"ListenInitialResponse",
	"ListenUpdate",
	"ChunkPacket",
	"ListenAuthorityRelinquished",
	"LoseAuthority",
	"ChangePriority",
	"UnloadChunk",
	"RelinquishAuthority",
	"UpdateStorage",
	"GetAuthorityFrom",
	"RequestAuthorityTransfer",
	"TransferOk",
	"TransferFailed",
	"NotifyNewAuthority",
}

func (k MessageKind) String() string {
	if int(k) < len(messageKindNames) {
		return messageKindNames[k]
	}
	return fmt.Sprintf("MessageKind(%d)", uint8(k))
}

// Destination says who a message is addressed to. The engine's emit
// helpers short-circuit ToSelf, ToPeer of the local peer, and ToAll
// destinations by handling them inline in addition to (for ToAll)
// queuing them for the bus.
type Destination struct {
	Peer      PeerId
	ToSelf    bool
	Broadcast bool
}

func ToPeer(p PeerId) Destination { return Destination{Peer: p} }
func ToSelf() Destination         { return Destination{ToSelf: true} }
func ToAll() Destination          { return Destination{Broadcast: true} }

// Reliability picks the netbus delivery guarantee a message requires.
// Every message in this protocol is delivered reliably: Reliability()
// always returns ReliableOrdered, and no bus in this module reads it.
type Reliability uint8

const (
	ReliableOrdered Reliability = iota
	UnreliableUnordered
)

// ChunkPacketEntry is one (delta, priority) pair inside a batched
// ChunkPacket.
type ChunkPacketEntry struct {
	Delta    chunkmodel.ChunkDelta
	Priority Priority
}

// WorldNetMessage is one message of the closed wire vocabulary. Only
// the fields relevant to Kind are populated: a hand-rolled tagged
// union rather than a generated sum type.
type WorldNetMessage struct {
	Kind MessageKind

	Chunk chunkmodel.ChunkCoord

	Priority Priority
	CanWait  bool

	Data Option[chunkmodel.ChunkData]

	Authority PeerId // AuthorityAlreadyTaken.authority, GetAuthorityFrom.current_authority

	Delta     chunkmodel.ChunkDelta // ListenUpdate
	TakeAuth  bool                  // ListenUpdate.take_auth
	Packets   []ChunkPacketEntry    // ChunkPacket
	NewPrio   Priority              // LoseAuthority.new_priority
	NewAuth   PeerId                // LoseAuthority.new_authority
	WorldNum  uint32                // RelinquishAuthority / UpdateStorage
	Listeners []PeerId              // TransferOk.listeners
}

func (m WorldNetMessage) Reliability() Reliability {
	return ReliableOrdered
}

func (m WorldNetMessage) String() string {
	switch m.Kind {
	case MsgRequestAuthority:
		return fmt.Sprintf("RequestAuthority{%v prio=%d can_wait=%v}", m.Chunk, m.Priority, m.CanWait)
	case MsgAskForAuthority:
		return fmt.Sprintf("AskForAuthority{%v prio=%d}", m.Chunk, m.Priority)
	case MsgGotAuthority:
		return fmt.Sprintf("GotAuthority{%v data=%v prio=%d}", m.Chunk, m.Data.Ok, m.Priority)
	case MsgAuthorityAlreadyTaken:
		return fmt.Sprintf("AuthorityAlreadyTaken{%v authority=%v}", m.Chunk, m.Authority)
	case MsgListenRequest, MsgListenStopRequest, MsgListenAuthorityRelinquished, MsgUnloadChunk,
		MsgRequestAuthorityTransfer, MsgTransferFailed, MsgNotifyNewAuthority:
		return fmt.Sprintf("%v{%v}", m.Kind, m.Chunk)
	case MsgListenInitialResponse:
		return fmt.Sprintf("ListenInitialResponse{%v data=%v prio=%d}", m.Chunk, m.Data.Ok, m.Priority)
	case MsgListenUpdate:
		return fmt.Sprintf("ListenUpdate{%v changed=%d prio=%d take_auth=%v}", m.Delta.ChunkCoord, len(m.Delta.Changed), m.Priority, m.TakeAuth)
	case MsgChunkPacket:
		return fmt.Sprintf("ChunkPacket{%v entries=%d}", m.Chunk, len(m.Packets))
	case MsgLoseAuthority:
		return fmt.Sprintf("LoseAuthority{%v new_prio=%d new_authority=%v}", m.Chunk, m.NewPrio, m.NewAuth)
	case MsgChangePriority:
		return fmt.Sprintf("ChangePriority{%v prio=%d}", m.Chunk, m.Priority)
	case MsgRelinquishAuthority, MsgUpdateStorage:
		return fmt.Sprintf("%v{%v data=%v world_num=%d}", m.Kind, m.Chunk, m.Data.Ok, m.WorldNum)
	case MsgGetAuthorityFrom:
		return fmt.Sprintf("GetAuthorityFrom{%v current=%v}", m.Chunk, m.Authority)
	case MsgTransferOk:
		return fmt.Sprintf("TransferOk{%v data=%v listeners=%d}", m.Chunk, m.Data.Ok, len(m.Listeners))
	default:
		return m.Kind.String()
	}
}

// MessageRequest pairs an outbound message with its destination. The
// emit queue deals exclusively in these so the protocol engine never
// has to know about the transport.
type MessageRequest struct {
	Dest    Destination
	Message WorldNetMessage
}
