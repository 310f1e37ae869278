package worldsync

import (
	"fmt"

	"github.com/dannyzb/worldsync/internal/priorityorder"
)

// ChunkStateKind tags which variant of ChunkState a chunk-state table
// entry holds.
type ChunkStateKind uint8

const (
	StateRequestAuthority ChunkStateKind = iota
	StateWaitingForAuthority
	StateListening
	StateAuthority
	StateTransfer
	StateWantToGetAuth
	StateUnloadPending
)

func (k ChunkStateKind) String() string {
	switch k {
	case StateRequestAuthority:
		return "RequestAuthority"
	case StateWaitingForAuthority:
		return "WaitingForAuthority"
	case StateListening:
		return "Listening"
	case StateAuthority:
		return "Authority"
	case StateTransfer:
		return "Transfer"
	case StateWantToGetAuth:
		return "WantToGetAuth"
	case StateUnloadPending:
		return "UnloadPending"
	default:
		return fmt.Sprintf("ChunkStateKind(%d)", uint8(k))
	}
}

// ChunkState is the per-chunk, per-peer role a chunk-state table entry
// holds. Only the fields relevant to Kind are meaningful; this is the
// same hand-rolled tagged-union shape WorldNetMessage uses on the wire
// side, here kept purely in memory.
type ChunkState struct {
	Kind ChunkStateKind

	// RequestAuthority
	Priority Priority
	CanWait  bool

	// Listening
	Authority PeerId

	// Authority. Contenders holds every peer whose LoseAuthority claim
	// outranked this authority's priority when it arrived, ordered so
	// Min always names the best-priority
	// one regardless of arrival order (the "Preemption fairness" law).
	Listeners   map[PeerId]struct{}
	Contenders  *priorityorder.Order[PeerId]
	StopSending bool

	// WantToGetAuth
	AuthPriority Priority
	MyPriority   Priority
}

func peerIdLess(a, b PeerId) bool { return a < b }

func newRequestAuthority(priority Priority, canWait bool) ChunkState {
	return ChunkState{Kind: StateRequestAuthority, Priority: priority, CanWait: canWait}
}

func newWaitingForAuthority() ChunkState {
	return ChunkState{Kind: StateWaitingForAuthority}
}

func newListening(authority PeerId, priority Priority) ChunkState {
	return ChunkState{Kind: StateListening, Authority: authority, Priority: priority}
}

func newAuthority(listeners map[PeerId]struct{}, priority Priority) ChunkState {
	if listeners == nil {
		listeners = make(map[PeerId]struct{})
	}
	return ChunkState{
		Kind:       StateAuthority,
		Listeners:  listeners,
		Priority:   priority,
		Contenders: priorityorder.New(peerIdLess),
	}
}

func newTransfer() ChunkState {
	return ChunkState{Kind: StateTransfer}
}

func newWantToGetAuth(authority PeerId, authPriority, myPriority Priority) ChunkState {
	return ChunkState{Kind: StateWantToGetAuth, Authority: authority, AuthPriority: authPriority, MyPriority: myPriority}
}

func newUnloadPending() ChunkState {
	return ChunkState{Kind: StateUnloadPending}
}

// bestContender returns the current best-priority pending successor,
// if this Authority has one.
func (s *ChunkState) bestContender() (PeerId, Priority, bool) {
	if s.Contenders == nil {
		return 0, 0, false
	}
	e, ok := s.Contenders.Min()
	if !ok {
		return 0, 0, false
	}
	return e.Key, e.Priority, true
}

func (s ChunkState) String() string {
	switch s.Kind {
	case StateRequestAuthority:
		return fmt.Sprintf("RequestAuthority{prio=%d can_wait=%v}", s.Priority, s.CanWait)
	case StateListening:
		return fmt.Sprintf("Listening{authority=%v prio=%d}", s.Authority, s.Priority)
	case StateAuthority:
		_, _, hasContender := s.bestContender()
		return fmt.Sprintf("Authority{listeners=%d prio=%d has_contender=%v stop_sending=%v}",
			len(s.Listeners), s.Priority, hasContender, s.StopSending)
	case StateWantToGetAuth:
		return fmt.Sprintf("WantToGetAuth{authority=%v auth_prio=%d my_prio=%d}", s.Authority, s.AuthPriority, s.MyPriority)
	default:
		return s.Kind.String()
	}
}
