// Copyright (C) 2026, Chunkdb, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package controller

import (
	"go.uber.org/zap"

	"github.com/chunkdb/chunkdb/cluster"
	"github.com/chunkdb/chunkdb/wire"
)

// HandleMessage is wired to the transport's inbound dispatcher. Each call
// runs on its own goroutine and is a terminal unit of work: no error leaves
// a handler.
func (c *Controller) HandleMessage(from string, msg *wire.Message) {
	c.observePrimaryMessage(from, msg.ID)

	switch p := msg.Payload.(type) {
	case *wire.JoinAttempt:
		c.handleJoin(from, msg, p)
	case *wire.VotingRequest:
		c.handleVotingRequest(from, msg)
	case *wire.LastPrimaryMessageIDRequest:
		c.replyLastPrimaryMessageID(from, msg)
	case *wire.PrimaryAnnouncement:
		c.handlePrimaryAnnouncement(from, p)
	case *wire.ChunkListUpdate:
		c.handleChunkListUpdate(from, msg, p)
	case *wire.ChunkSplit:
		c.handleChunkSplit(from, msg, p)
	case *wire.ChunkMerge:
		c.handleChunkMerge(from, msg, p)
	case *wire.DataOperation:
		c.handleDataOperation(from, msg, p)
	case *wire.NodeList:
		// Controllers also receive node lists when the primary fans them
		// out; nothing to track beyond the registry.
	default:
		c.log.Warn("unexpected message",
			zap.String("from", from),
			zap.Uint32("id", msg.ID),
		)
	}
}

func (c *Controller) replyLastPrimaryMessageID(from string, msg *wire.Message) {
	resp := &wire.LastPrimaryMessageIDResponse{LastPrimaryMessageID: c.lastPrimaryMessageID.Load()}
	if _, err := c.tr.Reply(from, msg, resp, false); err != nil {
		c.log.Debug("unable to answer last primary message id", zap.String("from", from), zap.Error(err))
	}
}

func (c *Controller) handleChunkListUpdate(from string, msg *wire.Message, p *wire.ChunkListUpdate) {
	if !c.IsPrimary() {
		c.chunks.Replace(p.Chunks)
		c.log.Debug("chunk list replaced",
			zap.String("from", from),
			zap.Int("chunks", len(p.Chunks)),
		)
	}
	if msg.WaitingForResponse {
		if _, err := c.tr.Reply(from, msg, &wire.Acknowledgement{}, false); err != nil {
			c.log.Debug("unable to acknowledge chunk list", zap.String("from", from), zap.Error(err))
		}
	}
}

func (c *Controller) handleChunkSplit(from string, msg *wire.Message, p *wire.ChunkSplit) {
	owner, err := cluster.ParseNodeDefinition(from)
	if err == nil && c.IsPrimary() {
		if !c.chunks.ApplySplit(p.Start1, p.End1, p.Start2, p.End2, owner) {
			// Stale view on the sender; the broadcast below reconciles it.
			c.log.Warn("split targeted an unknown chunk",
				zap.String("from", from),
				zap.Stringer("start", p.Start1),
			)
		} else if c.metrics != nil {
			c.metrics.RecordChunkSplit()
		}
	}
	// Acknowledged regardless of a match.
	if _, err := c.tr.Reply(from, msg, &wire.Acknowledgement{}, false); err != nil {
		c.log.Debug("unable to acknowledge split", zap.String("from", from), zap.Error(err))
	}
	c.broadcastChunkList()
}

func (c *Controller) handleChunkMerge(from string, msg *wire.Message, p *wire.ChunkMerge) {
	owner, err := cluster.ParseNodeDefinition(from)
	if err == nil && c.IsPrimary() {
		c.chunks.ApplyMerge(p.Start, p.End, owner)
		if c.metrics != nil {
			c.metrics.RecordChunkMerge()
		}
	}
	if _, err := c.tr.Reply(from, msg, &wire.Acknowledgement{}, false); err != nil {
		c.log.Debug("unable to acknowledge merge", zap.String("from", from), zap.Error(err))
	}
	c.broadcastChunkList()
}
