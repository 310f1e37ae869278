package worldsync

import (
	"testing"

	"github.com/dannyzb/worldsync/chunkmodel"
	"github.com/frankban/quicktest"
)

// These mirror the end-to-end scenarios: a host H and peers A, B, all
// starting fresh with default priority 128.

func TestScenarioInitialClaim(t *testing.T) {
	c := quicktest.New(t)
	host := newTestHost(t)
	a := newTestPeer(t, 10, 1)
	coord := chunkmodel.ChunkCoord{X: 0, Y: 0}

	a.AddUpdate(chunkmodel.WorldUpdate{X: 0, Y: 0, Pixel: chunkmodel.Pixel{Material: 7}})
	a.AddEnd(100, nil)
	aOut := a.GetEmittedMsgs()
	c.Assert(aOut, quicktest.HasLen, 1)
	c.Assert(aOut[0].Message, quicktest.DeepEquals, WorldNetMessage{Kind: MsgRequestAuthority, Chunk: coord, Priority: 100, CanWait: true})

	host.HandleMsg(10, aOut[0].Message)
	hOut := host.GetEmittedMsgs()
	c.Assert(hOut, quicktest.HasLen, 1)
	c.Assert(hOut[0].Message.Kind, quicktest.Equals, MsgGotAuthority)
	c.Assert(hOut[0].Message.Data.Ok, quicktest.IsFalse)

	a.HandleMsg(1, hOut[0].Message)
	s, ok := a.stateFor(coord)
	c.Assert(ok, quicktest.IsTrue)
	c.Assert(s.Kind, quicktest.Equals, StateAuthority)
}

func TestScenarioSecondPeerListens(t *testing.T) {
	c := quicktest.New(t)
	host := newTestHost(t)
	a := newTestPeer(t, 10, 1)
	b := newTestPeer(t, 20, 1)
	coord := chunkmodel.ChunkCoord{X: 0, Y: 0}

	host.authority.set(coord, 10, 100)
	a.setState(coord, newAuthority(nil, 100))
	a.AddUpdate(chunkmodel.WorldUpdate{X: 1, Y: 1, Pixel: chunkmodel.Pixel{Material: 3}})
	a.outbound.ResetChangeTracking()

	host.HandleMsg(20, WorldNetMessage{Kind: MsgRequestAuthority, Chunk: coord, Priority: 100, CanWait: true})
	hOut := host.GetEmittedMsgs()
	c.Assert(hOut, quicktest.HasLen, 1)
	c.Assert(hOut[0].Message, quicktest.DeepEquals, WorldNetMessage{Kind: MsgAuthorityAlreadyTaken, Chunk: coord, Authority: 10})

	b.HandleMsg(1, hOut[0].Message)
	bState, _ := b.stateFor(coord)
	c.Assert(bState.Kind, quicktest.Equals, StateListening)
	bOut := b.GetEmittedMsgs()
	c.Assert(bOut, quicktest.HasLen, 1)
	c.Assert(bOut[0].Message.Kind, quicktest.Equals, MsgListenRequest)

	a.HandleMsg(20, bOut[0].Message)
	aState, _ := a.stateFor(coord)
	_, isListener := aState.Listeners[20]
	c.Assert(isListener, quicktest.IsTrue)
	aOut := a.GetEmittedMsgs()
	c.Assert(aOut, quicktest.HasLen, 1)
	c.Assert(aOut[0].Message.Kind, quicktest.Equals, MsgListenInitialResponse)
	c.Assert(aOut[0].Message.Priority, quicktest.Equals, Priority(100))

	b.HandleMsg(10, aOut[0].Message)
	bState, _ = b.stateFor(coord)
	c.Assert(bState.Kind, quicktest.Equals, StateListening)
	c.Assert(bState.Authority, quicktest.Equals, PeerId(10))
	c.Assert(bState.Priority, quicktest.Equals, Priority(100))
}

func TestScenarioPriorityPreemption(t *testing.T) {
	c := quicktest.New(t)
	host := newTestHost(t)
	a := newTestPeer(t, 10, 1)
	b := newTestPeer(t, 20, 1)
	coord := chunkmodel.ChunkCoord{X: 0, Y: 0}

	host.authority.set(coord, 10, 100)
	authState := newAuthority(map[PeerId]struct{}{20: {}}, 100)
	a.setState(coord, authState)
	b.setState(coord, newListening(10, 100))

	b.AddUpdate(chunkmodel.WorldUpdate{X: 1, Y: 1, Pixel: chunkmodel.Pixel{Material: 1}})
	b.AddEnd(50, nil)
	bOut := b.GetEmittedMsgs()
	c.Assert(bOut, quicktest.HasLen, 1)
	c.Assert(bOut[0].Message, quicktest.DeepEquals, WorldNetMessage{Kind: MsgLoseAuthority, Chunk: coord, NewPrio: 50, NewAuth: 20})
	bState, _ := b.stateFor(coord)
	c.Assert(bState.Kind, quicktest.Equals, StateWantToGetAuth)

	a.HandleMsg(20, bOut[0].Message)
	aState, _ := a.stateFor(coord)
	bestPeer, bestPrio, ok := aState.bestContender()
	c.Assert(ok, quicktest.IsTrue)
	c.Assert(bestPeer, quicktest.Equals, PeerId(20))
	c.Assert(bestPrio, quicktest.Equals, Priority(50))

	a.AddUpdate(chunkmodel.WorldUpdate{X: 2, Y: 2, Pixel: chunkmodel.Pixel{Material: 2}})
	a.AddEnd(100, nil)
	aOut := a.GetEmittedMsgs()
	c.Assert(aOut, quicktest.HasLen, 1)
	c.Assert(aOut[0].Message.Kind, quicktest.Equals, MsgListenUpdate)
	c.Assert(aOut[0].Message.TakeAuth, quicktest.IsTrue)
	c.Assert(aOut[0].Dest, quicktest.Equals, ToPeer(PeerId(20)))
	aState, _ = a.stateFor(coord)
	c.Assert(aState.StopSending, quicktest.IsTrue)

	b.HandleMsg(10, aOut[0].Message)
	bOut = b.GetEmittedMsgs()
	c.Assert(bOut, quicktest.HasLen, 1)
	c.Assert(bOut[0].Message, quicktest.DeepEquals, WorldNetMessage{Kind: MsgRequestAuthority, Chunk: coord, Priority: 50, CanWait: false})

	host.HandleMsg(20, bOut[0].Message)
	hOut := host.GetEmittedMsgs()
	c.Assert(hOut, quicktest.HasLen, 1)
	c.Assert(hOut[0].Message, quicktest.DeepEquals, WorldNetMessage{Kind: MsgGetAuthorityFrom, Chunk: coord, Authority: 10})

	b.HandleMsg(1, hOut[0].Message)
	bOut = b.GetEmittedMsgs()
	c.Assert(bOut, quicktest.HasLen, 1)
	c.Assert(bOut[0].Message, quicktest.DeepEquals, WorldNetMessage{Kind: MsgRequestAuthorityTransfer, Chunk: coord})

	a.HandleMsg(20, bOut[0].Message)
	aOut = a.GetEmittedMsgs()
	c.Assert(aOut, quicktest.HasLen, 2)
	var toB, toHost WorldNetMessage
	for _, req := range aOut {
		if req.Message.Kind == MsgTransferOk {
			toB = req.Message
		} else {
			toHost = req.Message
		}
	}
	c.Assert(toB.Kind, quicktest.Equals, MsgTransferOk)
	c.Assert(toB.Listeners, quicktest.HasLen, 0)
	c.Assert(toHost.Kind, quicktest.Equals, MsgUpdateStorage)
	aState, _ = a.stateFor(coord)
	c.Assert(aState.Kind, quicktest.Equals, StateUnloadPending)

	b.HandleMsg(10, toB)
	bState, _ = b.stateFor(coord)
	c.Assert(bState.Kind, quicktest.Equals, StateAuthority)
	c.Assert(bState.Priority, quicktest.Equals, Priority(50))
}

func TestScenarioAuthorityLeavesArea(t *testing.T) {
	c := quicktest.New(t)
	a := newTestPeer(t, 10, 1)
	coord := chunkmodel.ChunkCoord{X: 50, Y: 50}
	a.setState(coord, newAuthority(map[PeerId]struct{}{20: {}}, 100))
	a.outbound.ApplyChunkData(coord, chunkmodel.ChunkData{Set: []chunkmodel.IndexedPixel{{Index: 4, Pixel: chunkmodel.Pixel{Material: 1}}}})
	a.outbound.ResetChangeTracking()

	a.Update()
	out := a.GetEmittedMsgs()
	var relinquish WorldNetMessage
	for _, req := range out {
		if req.Message.Kind == MsgRelinquishAuthority {
			relinquish = req.Message
		}
	}
	c.Assert(relinquish.Kind, quicktest.Equals, MsgRelinquishAuthority)
	c.Assert(relinquish.Data.Ok, quicktest.IsTrue)
	_, ok := a.stateFor(coord)
	c.Assert(ok, quicktest.IsFalse)
}

func TestScenarioHostLosesAuthorityHolder(t *testing.T) {
	c := quicktest.New(t)
	host := newTestHost(t)
	coord := chunkmodel.ChunkCoord{X: 2, Y: 2}
	host.authority.set(coord, 10, 128)

	host.HandlePeerLeft(10)
	out := host.GetEmittedMsgs()
	c.Assert(out, quicktest.HasLen, 1)
	c.Assert(out[0].Message, quicktest.DeepEquals, WorldNetMessage{Kind: MsgListenAuthorityRelinquished, Chunk: coord})
	_, ok := host.authority.get(coord)
	c.Assert(ok, quicktest.IsFalse)
}

func TestScenarioExplosionStopsAtInsufficientTier(t *testing.T) {
	c := quicktest.New(t)
	host := newTestHost(t)
	host.SetDurabilities(map[uint16]DurabilityEntry{
		1: {MinTier: 0, CostPerPixel: 100},
		2: {MinTier: 2, CostPerPixel: 100},
	})

	coord := chunkmodel.ChunkCoord{X: 0, Y: 0}
	var chunk chunkmodel.Chunk
	chunk.SetPixel(0, chunkmodel.Pixel{Material: 1})
	chunk.SetPixel(1, chunkmodel.Pixel{Material: 1})
	chunk.SetPixel(2, chunkmodel.Pixel{Material: 1})
	chunk.SetPixel(3, chunkmodel.Pixel{Material: 2})
	host.chunkStorage[coord] = chunk.ToChunkData()

	ex, _, ok := host.doRay(0, 0, 10, 0, 1000, 1, 1.0)
	c.Assert(ok, quicktest.IsTrue)
	c.Assert(ex, quicktest.Equals, int32(2))
}
