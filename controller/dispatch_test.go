// Copyright (C) 2026, Chunkdb, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package controller

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chunkdb/chunkdb/chunk"
	"github.com/chunkdb/chunkdb/cluster"
	"github.com/chunkdb/chunkdb/wire"
)

func TestChunkListUpdateReplacesOnNonPrimary(t *testing.T) {
	require := require.New(t)

	f := newFakeTransport()
	c := testController(t, "a:5100,b:5101,c:5102", "a", 5100, f)

	owner := cluster.NewNodeDefinition("s1", 6100)
	update := &wire.ChunkListUpdate{Chunks: []chunk.Definition{
		{Start: chunk.Start(), End: chunk.Value("m"), Owner: owner},
		{Start: chunk.Value("m"), End: chunk.End(), Owner: owner},
	}}

	msg := &wire.Message{ID: wire.NextID(), WaitingForResponse: true, Payload: update}
	c.HandleMessage("b:5101", msg)

	first := c.Chunks()
	require.Len(first, 2)
	// The broadcast is acknowledged so the primary's serial send advances.
	require.Len(f.repliesOfKind(wire.KindAcknowledgement), 1)

	// Applying the same update twice is a no-op.
	c.HandleMessage("b:5101", &wire.Message{ID: wire.NextID(), WaitingForResponse: true, Payload: update})
	require.Equal(first, c.Chunks())
}

func TestChunkListUpdateIgnoredOnPrimary(t *testing.T) {
	require := require.New(t)

	f := newFakeTransport()
	c := testController(t, "a:5100,b:5101,c:5102", "a", 5100, f)
	c.setPrimary(&c.self)

	s1 := cluster.NewNodeDefinition("s1", 6100)
	c.chunks.InstallFull(s1)
	before := c.Chunks()

	c.HandleMessage("b:5101", &wire.Message{ID: wire.NextID(), Payload: &wire.ChunkListUpdate{}})
	require.Equal(before, c.Chunks())
}

func TestChunkSplitThenMerge(t *testing.T) {
	require := require.New(t)

	f := newFakeTransport()
	f.addPeer("s1:6100", cluster.StorageNode, true)
	c := testController(t, "a:5100", "a", 5100, f)
	c.setPrimary(&c.self)

	s1 := cluster.NewNodeDefinition("s1", 6100)
	c.chunks.InstallFull(s1)
	before := c.Chunks()

	split := &wire.ChunkSplit{
		Start1: chunk.Start(),
		End1:   chunk.Value("m"),
		Start2: chunk.Value("m"),
		End2:   chunk.End(),
	}
	c.HandleMessage("s1:6100", &wire.Message{ID: wire.NextID(), WaitingForResponse: true, Payload: split})

	defs := c.Chunks()
	require.Len(defs, 2)
	require.True(defs[0].End.Equal(chunk.Value("m")))
	require.Equal(s1, defs[0].Owner)
	require.Equal(s1, defs[1].Owner)
	require.Len(f.repliesOfKind(wire.KindAcknowledgement), 1)

	merge := &wire.ChunkMerge{Start: chunk.Start(), End: chunk.End()}
	c.HandleMessage("s1:6100", &wire.Message{ID: wire.NextID(), WaitingForResponse: true, Payload: merge})

	require.Equal(before, c.Chunks())
	require.Len(f.repliesOfKind(wire.KindAcknowledgement), 2)
}

func TestChunkSplitUnknownChunkStillAcknowledged(t *testing.T) {
	require := require.New(t)

	f := newFakeTransport()
	f.addPeer("s1:6100", cluster.StorageNode, true)
	c := testController(t, "a:5100", "a", 5100, f)
	c.setPrimary(&c.self)

	s1 := cluster.NewNodeDefinition("s1", 6100)
	c.chunks.InstallFull(s1)
	before := c.Chunks()

	split := &wire.ChunkSplit{
		Start1: chunk.Value("zz"),
		End1:   chunk.Value("zz5"),
		Start2: chunk.Value("zz5"),
		End2:   chunk.End(),
	}
	c.HandleMessage("s1:6100", &wire.Message{ID: wire.NextID(), WaitingForResponse: true, Payload: split})

	// Stale view: no mutation, but the sender still gets its ack.
	require.Equal(before, c.Chunks())
	require.Len(f.repliesOfKind(wire.KindAcknowledgement), 1)
}

func TestChunkSplitIgnoredOnNonPrimary(t *testing.T) {
	require := require.New(t)

	f := newFakeTransport()
	f.addPeer("s1:6100", cluster.StorageNode, true)
	c := testController(t, "a:5100,b:5101,c:5102", "a", 5100, f)

	split := &wire.ChunkSplit{
		Start1: chunk.Start(),
		End1:   chunk.Value("m"),
		Start2: chunk.Value("m"),
		End2:   chunk.End(),
	}
	c.HandleMessage("s1:6100", &wire.Message{ID: wire.NextID(), WaitingForResponse: true, Payload: split})

	require.True(c.chunks.Empty())
	require.Len(f.repliesOfKind(wire.KindAcknowledgement), 1)
}

func TestChunkBroadcastReachesControllersAndQueryPeers(t *testing.T) {
	require := require.New(t)

	f := newFakeTransport()
	f.addPeer("b:5101", cluster.ControllerNode, true)
	f.addPeer("q1:7100", cluster.QueryNode, true)
	f.addPeer("s1:6100", cluster.StorageNode, true)
	f.addPeer("api1:8100", cluster.ApiNode, true)
	c := testController(t, "a:5100,b:5101,c:5102", "a", 5100, f)
	c.setPrimary(&c.self)

	s1 := cluster.NewNodeDefinition("s1", 6100)
	c.chunks.InstallFull(s1)
	c.broadcastChunkList()

	updates := f.sentOfKind(wire.KindChunkListUpdate)
	require.Len(updates, 2)
	targets := []string{updates[0].addr, updates[1].addr}
	require.Contains(targets, "b:5101")
	require.Contains(targets, "q1:7100")
}

func TestChunkBroadcastOnlyFromPrimary(t *testing.T) {
	require := require.New(t)

	f := newFakeTransport()
	f.addPeer("b:5101", cluster.ControllerNode, true)
	c := testController(t, "a:5100,b:5101,c:5102", "a", 5100, f)

	c.broadcastChunkList()
	require.Empty(f.sentOfKind(wire.KindChunkListUpdate))
}

func TestDataOperationProxiedToFirstQueryNode(t *testing.T) {
	require := require.New(t)

	f := newFakeTransport()
	f.addPeer("q1:7100", cluster.QueryNode, true)
	f.addPeer("q2:7101", cluster.QueryNode, true)
	f.addPeer("console-1:0", cluster.ConsoleNode, true)
	f.respond[wire.KindDataOperation] = func(string) (wire.Payload, bool) {
		return &wire.DataOperationResult{Message: "3 rows"}, true
	}
	c := testController(t, "a:5100,b:5101,c:5102", "a", 5100, f)

	op := &wire.DataOperation{Operation: []byte("get user:42")}
	c.HandleMessage("console-1:0", &wire.Message{ID: wire.NextID(), WaitingForResponse: true, Payload: op})

	forwarded := f.sentOfKind(wire.KindDataOperation)
	require.Len(forwarded, 1)
	require.Equal("q1:7100", forwarded[0].addr)

	results := f.repliesOfKind(wire.KindDataOperationResult)
	require.Len(results, 1)
	require.Equal("console-1:0", results[0].addr)
	result := results[0].payload.(*wire.DataOperationResult)
	require.False(result.Failed)
	require.Equal("3 rows", result.Message)
}

func TestDataOperationFailsWithoutQueryNode(t *testing.T) {
	require := require.New(t)

	f := newFakeTransport()
	f.addPeer("console-1:0", cluster.ConsoleNode, true)
	c := testController(t, "a:5100,b:5101,c:5102", "a", 5100, f)

	op := &wire.DataOperation{Operation: []byte("get user:42")}
	c.HandleMessage("console-1:0", &wire.Message{ID: wire.NextID(), WaitingForResponse: true, Payload: op})

	results := f.repliesOfKind(wire.KindDataOperationResult)
	require.Len(results, 1)
	result := results[0].payload.(*wire.DataOperationResult)
	require.True(result.Failed)
	require.Equal("Could not reach a query node.", result.Message)
}

func TestDataOperationFailsWhenQueryNodeTimesOut(t *testing.T) {
	require := require.New(t)

	f := newFakeTransport()
	f.addPeer("q1:7100", cluster.QueryNode, true)
	c := testController(t, "a:5100,b:5101,c:5102", "a", 5100, f)

	op := &wire.DataOperation{Operation: []byte("get user:42")}
	c.HandleMessage("console-1:0", &wire.Message{ID: wire.NextID(), WaitingForResponse: true, Payload: op})

	results := f.repliesOfKind(wire.KindDataOperationResult)
	require.Len(results, 1)
	require.True(results[0].payload.(*wire.DataOperationResult).Failed)
}
