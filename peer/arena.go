// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

package peer

// Handle is a stable index into the manager's record arena. Handles
// stay valid until the record is destroyed; slots are recycled with a
// generation bump so a stale handle can never reach a reused slot.
type Handle struct {
	index      int
	generation uint32
}

// Zero reports whether h is the zero Handle, which never names a
// record.
func (h Handle) Zero() bool {
	return h == Handle{}
}

type slot struct {
	generation uint32
	record     *record
}

// arena owns every peer record. Lookups by handle are O(1); the
// peer-id map exists only for signaling ingress, where messages
// arrive keyed by sender id.
type arena struct {
	slots []slot
	free  []int
	byID  map[string]Handle
}

func newArena() *arena {
	return &arena{byID: make(map[string]Handle)}
}

func (a *arena) insert(r *record) Handle {
	var index int
	if n := len(a.free); n > 0 {
		index = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, slot{})
		index = len(a.slots) - 1
	}
	a.slots[index].generation++
	a.slots[index].record = r

	handle := Handle{index: index, generation: a.slots[index].generation}
	r.handle = handle
	a.byID[r.peerID] = handle
	return handle
}

func (a *arena) get(h Handle) *record {
	if h.index < 0 || h.index >= len(a.slots) {
		return nil
	}
	s := a.slots[h.index]
	if s.generation != h.generation {
		return nil
	}
	return s.record
}

func (a *arena) byPeerID(peerID string) *record {
	h, ok := a.byID[peerID]
	if !ok {
		return nil
	}
	return a.get(h)
}

func (a *arena) remove(h Handle) *record {
	r := a.get(h)
	if r == nil {
		return nil
	}
	delete(a.byID, r.peerID)
	a.slots[h.index].record = nil
	a.free = append(a.free, h.index)
	return r
}

// each calls fn for every live record. fn must not mutate the arena.
func (a *arena) each(fn func(*record)) {
	for i := range a.slots {
		if r := a.slots[i].record; r != nil {
			fn(r)
		}
	}
}

func (a *arena) size() int {
	return len(a.byID)
}
