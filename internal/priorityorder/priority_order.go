// Package priorityorder is a priority-ordered set, used wherever a
// component must always act on the best of several concurrently
// arriving claims regardless of arrival order — the authority
// preemption protocol's "keep the best-priority contender" rule.
package priorityorder

import (
	"github.com/ajwerner/btree"
	"github.com/anacrolix/multiless"
)

// Entry is one ordered element: a key plus the priority it was
// inserted at. Lower Priority sorts first, matching the rest of the
// protocol's convention that 0 is the strongest claim.
type Entry[K comparable] struct {
	Key      K
	Priority uint8
}

// Order is an ajwerner/btree-backed ordered set of Entry values, kept
// sorted by (Priority, Key) so Min always yields the strongest current
// claim in O(log n) regardless of the order entries arrived in.
type Order[K comparable] struct {
	tree btree.Set[Entry[K]]
	less func(a, b K) bool
}

// New builds an empty Order. less breaks ties between equal-priority
// entries so iteration order is deterministic.
func New[K comparable](less func(a, b K) bool) *Order[K] {
	o := &Order[K]{less: less}
	o.tree = btree.MakeSet(func(a, b Entry[K]) int {
		return entryOrderLess(a, b, less).OrderingInt()
	})
	return o
}

func entryOrderLess[K comparable](a, b Entry[K], less func(a, b K) bool) multiless.Computation {
	return multiless.New().
		Int64(int64(a.Priority), int64(b.Priority)).
		Bool(less(b.Key, a.Key), less(a.Key, b.Key))
}

// Upsert inserts or replaces the entry for key at priority, the way a
// repeated LoseAuthority from the same peer updates its standing claim
// rather than creating a duplicate.
func (o *Order[K]) Upsert(key K, priority uint8) {
	o.deleteKey(key)
	o.tree.Upsert(Entry[K]{Key: key, Priority: priority})
}

func (o *Order[K]) deleteKey(key K) {
	it := o.tree.Iterator()
	for it.First(); it.Valid(); it.Next() {
		if it.Cur().Key == key {
			o.tree.Delete(it.Cur())
			return
		}
	}
}

// Delete removes key's entry, if any.
func (o *Order[K]) Delete(key K) {
	o.deleteKey(key)
}

// Min returns the strongest (lowest priority value) entry, if any.
func (o *Order[K]) Min() (Entry[K], bool) {
	it := o.tree.Iterator()
	it.First()
	if !it.Valid() {
		return Entry[K]{}, false
	}
	return it.Cur(), true
}

// Len reports how many entries are tracked.
func (o *Order[K]) Len() int {
	n := 0
	it := o.tree.Iterator()
	for it.First(); it.Valid(); it.Next() {
		n++
	}
	return n
}

// Scan visits entries in priority order, stopping early if f returns
// false.
func (o *Order[K]) Scan(f func(Entry[K]) bool) {
	it := o.tree.Iterator()
	for it.First(); it.Valid(); it.Next() {
		if !f(it.Cur()) {
			return
		}
	}
}
