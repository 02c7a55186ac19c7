// Copyright (C) 2026, Chunkdb, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chunk

import (
	"sync"

	"golang.org/x/exp/slices"

	"github.com/chunkdb/chunkdb/cluster"
)

// Map is the authoritative ordered list of chunk definitions. Only the
// primary mutates it; every replica holds a copy refreshed by chunk-list
// broadcasts. All mutations and snapshots serialize on one lock.
//
// Invariants on the primary while non-empty: the ranges cover [Start, End),
// no two ranges overlap, and no two chunks share a start.
type Map struct {
	mu     sync.Mutex
	chunks []Definition
}

func NewMap() *Map {
	return &Map{}
}

// Snapshot copies the current definitions under the lock.
func (m *Map) Snapshot() []Definition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.chunks)
}

func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chunks)
}

func (m *Map) Empty() bool {
	return m.Len() == 0
}

// InstallFull installs the single [Start, End) chunk owned by the first
// storage node to join. The caller rolls this back with [Map.Clear] if the
// database create is rejected.
func (m *Map) InstallFull(owner cluster.NodeDefinition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = []Definition{{Start: Start(), End: End(), Owner: owner}}
}

// Clear drops every chunk.
func (m *Map) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = nil
}

// Replace swaps the whole map for a received chunk list. Non-primary
// replicas apply broadcasts this way; applying the same list twice is a
// no-op.
func (m *Map) Replace(defs []Definition) {
	next := slices.Clone(defs)
	sortDefinitions(next)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = next
}

// ApplySplit removes the chunk starting at start1 and installs the two
// halves, both owned by owner. It reports whether the original chunk was
// found; on a miss the map is left untouched — the sender held a stale view
// and the next broadcast reconciles it.
func (m *Map) ApplySplit(start1, end1, start2, end2 Marker, owner cluster.NodeDefinition) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, d := range m.chunks {
		if d.Start.Equal(start1) {
			m.chunks = slices.Delete(m.chunks, i, i+1)
			m.insertLocked(Definition{Start: start1, End: end1, Owner: owner})
			m.insertLocked(Definition{Start: start2, End: end2, Owner: owner})
			return true
		}
	}
	return false
}

// ApplyMerge removes the chunk starting at start and the chunk ending at
// end (searched independently) and installs the single merged chunk.
func (m *Map) ApplyMerge(start, end Marker, owner cluster.NodeDefinition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, d := range m.chunks {
		if d.Start.Equal(start) {
			m.chunks = slices.Delete(m.chunks, i, i+1)
			break
		}
	}
	for i, d := range m.chunks {
		if d.End.Equal(end) {
			m.chunks = slices.Delete(m.chunks, i, i+1)
			break
		}
	}
	m.insertLocked(Definition{Start: start, End: end, Owner: owner})
}

// RemoveOwner drops every chunk owned by node and returns how many were
// removed. No replacement owner is chosen; the range stays uncovered until
// another storage node reports it.
func (m *Map) RemoveOwner(node cluster.NodeDefinition) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.chunks[:0]
	removed := 0
	for _, d := range m.chunks {
		if d.Owner == node {
			removed++
			continue
		}
		kept = append(kept, d)
	}
	m.chunks = kept
	return removed
}

// Locked runs fn with the map lock held, passing the live definitions.
// The chunk-list broadcast uses this so no split or merge lands while the
// update is in flight. fn must not call back into the map.
func (m *Map) Locked(fn func(defs []Definition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.chunks)
}

func (m *Map) insertLocked(d Definition) {
	i, _ := slices.BinarySearchFunc(m.chunks, d, func(a, b Definition) int {
		return a.Start.Compare(b.Start)
	})
	m.chunks = slices.Insert(m.chunks, i, d)
}

func sortDefinitions(defs []Definition) {
	slices.SortFunc(defs, func(a, b Definition) int {
		return a.Start.Compare(b.Start)
	})
}
