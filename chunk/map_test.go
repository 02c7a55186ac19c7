// Copyright (C) 2026, Chunkdb, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chunk

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chunkdb/chunkdb/cluster"
)

func node(t *testing.T, addr string) cluster.NodeDefinition {
	t.Helper()
	n, err := cluster.ParseNodeDefinition(addr)
	require.NoError(t, err)
	return n
}

// requireCovered asserts the coverage and non-overlap invariants: the
// ordered chunks tile [Start, End) exactly.
func requireCovered(t *testing.T, defs []Definition) {
	t.Helper()
	require := require.New(t)
	require.NotEmpty(defs)
	require.True(defs[0].Start.IsStart())
	require.True(defs[len(defs)-1].End.IsEnd())
	for i := 1; i < len(defs); i++ {
		require.True(defs[i-1].End.Equal(defs[i].Start))
	}
}

func TestMapInstallFull(t *testing.T) {
	require := require.New(t)

	owner := node(t, "s1:6100")
	m := NewMap()
	require.True(m.Empty())

	m.InstallFull(owner)
	defs := m.Snapshot()
	require.Len(defs, 1)
	require.True(defs[0].Start.IsStart())
	require.True(defs[0].End.IsEnd())
	require.Equal(owner, defs[0].Owner)
	requireCovered(t, defs)

	m.Clear()
	require.True(m.Empty())
}

func TestMapSplit(t *testing.T) {
	require := require.New(t)

	owner := node(t, "s1:6100")
	m := NewMap()
	m.InstallFull(owner)

	require.True(m.ApplySplit(Start(), Value("m"), Value("m"), End(), owner))
	defs := m.Snapshot()
	require.Len(defs, 2)
	require.True(defs[0].End.Equal(Value("m")))
	require.True(defs[1].Start.Equal(Value("m")))
	requireCovered(t, defs)

	// A second split of the lower half keeps the map ordered.
	require.True(m.ApplySplit(Start(), Value("f"), Value("f"), Value("m"), owner))
	defs = m.Snapshot()
	require.Len(defs, 3)
	requireCovered(t, defs)
}

func TestMapSplitUnknownChunkIsNoop(t *testing.T) {
	require := require.New(t)

	owner := node(t, "s1:6100")
	m := NewMap()
	m.InstallFull(owner)
	before := m.Snapshot()

	require.False(m.ApplySplit(Value("zz"), Value("zz1"), Value("zz1"), End(), owner))
	require.Equal(before, m.Snapshot())
}

func TestMapSplitThenMergeRoundTrip(t *testing.T) {
	require := require.New(t)

	owner := node(t, "s1:6100")
	m := NewMap()
	m.InstallFull(owner)
	before := m.Snapshot()

	require.True(m.ApplySplit(Start(), Value("m"), Value("m"), End(), owner))
	m.ApplyMerge(Start(), End(), owner)

	require.Equal(before, m.Snapshot())
}

func TestMapMergeAdjacentPair(t *testing.T) {
	require := require.New(t)

	owner := node(t, "s1:6100")
	m := NewMap()
	m.InstallFull(owner)
	require.True(m.ApplySplit(Start(), Value("f"), Value("f"), End(), owner))
	require.True(m.ApplySplit(Value("f"), Value("m"), Value("m"), End(), owner))

	// Merge the middle and upper chunks: start == f, end == <end>.
	m.ApplyMerge(Value("f"), End(), owner)
	defs := m.Snapshot()
	require.Len(defs, 2)
	requireCovered(t, defs)
	require.True(defs[1].Start.Equal(Value("f")))
}

func TestMapRemoveOwner(t *testing.T) {
	require := require.New(t)

	s1 := node(t, "s1:6100")
	s2 := node(t, "s2:6100")
	m := NewMap()
	m.InstallFull(s1)
	require.True(m.ApplySplit(Start(), Value("m"), Value("m"), End(), s1))
	m.Replace([]Definition{
		{Start: Start(), End: Value("m"), Owner: s1},
		{Start: Value("m"), End: End(), Owner: s2},
	})

	require.Equal(1, m.RemoveOwner(s2))
	defs := m.Snapshot()
	require.Len(defs, 1)
	require.Equal(s1, defs[0].Owner)

	require.Zero(m.RemoveOwner(s2))
}

func TestMapReplaceIsIdempotent(t *testing.T) {
	require := require.New(t)

	s1 := node(t, "s1:6100")
	update := []Definition{
		{Start: Value("m"), End: End(), Owner: s1},
		{Start: Start(), End: Value("m"), Owner: s1},
	}

	m := NewMap()
	m.Replace(update)
	first := m.Snapshot()
	requireCovered(t, first)

	m.Replace(update)
	require.Equal(first, m.Snapshot())
}
