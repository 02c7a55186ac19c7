// Copyright (C) 2026, Chunkdb, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package controller

import (
	"context"

	"github.com/chunkdb/chunkdb/cluster"
	"github.com/chunkdb/chunkdb/transport"
	"github.com/chunkdb/chunkdb/wire"
)

// Transport is the message layer the controller drives. Framing, delivery,
// correlation, and the connection table live behind it; the controller only
// addresses peers by connection name and payloads by semantic type.
type Transport interface {
	Connect(ctx context.Context, addr string) error
	Send(addr string, payload wire.Payload, wantReply bool) (transport.Pending, error)
	Reply(addr string, req *wire.Message, payload wire.Payload, wantReply bool) (transport.Pending, error)

	Rename(oldAddr, newAddr string) bool
	HasPeer(addr string) bool
	ListPeers() []cluster.Peer
	MarkEstablished(addr string, nodeType cluster.NodeType)
	ClosePeer(addr string)
}

type Metrics interface {
	RecordVoteStarted()
	RecordVoteWon()
	RecordJoin(nodeType cluster.NodeType)
	RecordJoinRejected()
	RecordChunkBroadcast()
	RecordNodeListBroadcast()
	RecordChunkSplit()
	RecordChunkMerge()
	RecordProxiedOperation(success bool)
}
