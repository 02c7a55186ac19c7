// Copyright (C) 2026, Chunkdb, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package controller

import (
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/chunkdb/chunkdb/chunk"
	"github.com/chunkdb/chunkdb/cluster"
	"github.com/chunkdb/chunkdb/wire"
)

// broadcastChunkList pushes the chunk map to every connected controller and
// query peer, serially, each awaited. The map lock is held throughout so no
// split or merge lands mid-broadcast; the duration is bounded by peer count
// times the request timeout. Only the primary broadcasts.
func (c *Controller) broadcastChunkList() {
	if !c.IsPrimary() {
		return
	}
	if c.metrics != nil {
		c.metrics.RecordChunkBroadcast()
	}
	c.chunks.Locked(func(defs []chunk.Definition) {
		update := &wire.ChunkListUpdate{Chunks: slices.Clone(defs)}
		for _, peer := range c.tr.ListPeers() {
			if peer.Type != cluster.ControllerNode && peer.Type != cluster.QueryNode {
				continue
			}
			pend, err := c.tr.Send(peer.Addr, update, true)
			if err != nil {
				c.log.Warn("unable to send chunk list", zap.String("addr", peer.Addr), zap.Error(err))
				continue
			}
			if !pend.BlockUntilDone() {
				c.log.Warn("chunk list update not acknowledged", zap.String("addr", peer.Addr))
			}
		}
	})
}

// sendNodeList sends the current list of listType nodes to one peer.
func (c *Controller) sendNodeList(to string, listType cluster.NodeType) {
	payload := &wire.NodeList{NodeType: listType, Nodes: c.nodesOfType(listType)}
	if _, err := c.tr.Send(to, payload, false); err != nil {
		c.log.Warn("unable to send node list",
			zap.String("addr", to),
			zap.Stringer("listType", listType),
			zap.Error(err),
		)
	}
}

// broadcastNodeList fans the list of listType nodes out to every connected
// peer of toType. Only the primary broadcasts.
func (c *Controller) broadcastNodeList(listType, toType cluster.NodeType) {
	if !c.IsPrimary() {
		return
	}
	if c.metrics != nil {
		c.metrics.RecordNodeListBroadcast()
	}
	payload := &wire.NodeList{NodeType: listType, Nodes: c.nodesOfType(listType)}
	for _, peer := range c.tr.ListPeers() {
		if peer.Type != toType {
			continue
		}
		if _, err := c.tr.Send(peer.Addr, payload, false); err != nil {
			c.log.Warn("unable to send node list", zap.String("addr", peer.Addr), zap.Error(err))
		}
	}
}

func (c *Controller) nodesOfType(t cluster.NodeType) []cluster.NodeDefinition {
	var nodes []cluster.NodeDefinition
	for _, peer := range c.tr.ListPeers() {
		if peer.Type != t || !peer.Established {
			continue
		}
		n, err := cluster.ParseNodeDefinition(peer.Addr)
		if err != nil {
			continue
		}
		nodes = append(nodes, n)
	}
	return nodes
}
