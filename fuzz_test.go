package worldsync

import (
	"math/rand"
	"testing"

	"github.com/frankban/quicktest"
)

// TestMaybeInjectTestUpdateTracksCurrentUpdate confirms the injector
// fires on the tenth current_update tick, the same counter AddEnd
// advances, rather than a separately-paced counter of its own.
func TestMaybeInjectTestUpdateTracksCurrentUpdate(t *testing.T) {
	c := quicktest.New(t)
	testInjectEnabled = true
	defer func() { testInjectEnabled = false }()

	host := newTestHost(t)
	host.SetTestRand(rand.New(rand.NewSource(1)))

	for i := 0; i < 9; i++ {
		host.AddEnd(100, nil)
	}
	c.Assert(host.currentUpdate.Int64(), quicktest.Equals, int64(9))
	host.GetNoitaUpdates()
	c.Assert(host.inbound.Len(), quicktest.Equals, 0)

	host.AddEnd(100, nil)
	c.Assert(host.currentUpdate.Int64(), quicktest.Equals, int64(10))
	host.GetNoitaUpdates()
	c.Assert(host.inbound.Len(), quicktest.Equals, 1)
}
