package priorityorder

import (
	"testing"

	"github.com/frankban/quicktest"
)

func peerLess(a, b uint64) bool { return a < b }

func TestMinReturnsStrongestClaimRegardlessOfArrivalOrder(t *testing.T) {
	c := quicktest.New(t)
	o := New(peerLess)
	o.Upsert(uint64(1), 200)
	o.Upsert(uint64(2), 50)
	o.Upsert(uint64(3), 100)

	min, ok := o.Min()
	c.Assert(ok, quicktest.IsTrue)
	c.Assert(min.Key, quicktest.Equals, uint64(2))
	c.Assert(min.Priority, quicktest.Equals, uint8(50))
}

func TestUpsertReplacesExistingEntryForKey(t *testing.T) {
	c := quicktest.New(t)
	o := New(peerLess)
	o.Upsert(uint64(1), 200)
	o.Upsert(uint64(1), 10)
	c.Assert(o.Len(), quicktest.Equals, 1)
	min, _ := o.Min()
	c.Assert(min.Priority, quicktest.Equals, uint8(10))
}

func TestDeleteRemovesEntry(t *testing.T) {
	c := quicktest.New(t)
	o := New(peerLess)
	o.Upsert(uint64(1), 50)
	o.Upsert(uint64(2), 60)
	o.Delete(uint64(1))
	min, ok := o.Min()
	c.Assert(ok, quicktest.IsTrue)
	c.Assert(min.Key, quicktest.Equals, uint64(2))
}

func TestMinOnEmptyOrder(t *testing.T) {
	c := quicktest.New(t)
	o := New(peerLess)
	_, ok := o.Min()
	c.Assert(ok, quicktest.IsFalse)
}
