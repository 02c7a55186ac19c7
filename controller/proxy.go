// Copyright (C) 2026, Chunkdb, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package controller

import (
	"go.uber.org/zap"

	"github.com/chunkdb/chunkdb/cluster"
	"github.com/chunkdb/chunkdb/wire"
)

const noQueryNodeMessage = "Could not reach a query node."

// handleDataOperation proxies a data-plane request from a non-query client
// to the first connected query node and relays the reply. Selection is
// first-enumerated; the controller does not load-balance.
func (c *Controller) handleDataOperation(from string, msg *wire.Message, p *wire.DataOperation) {
	var target string
	for _, peer := range c.tr.ListPeers() {
		if peer.Type == cluster.QueryNode && peer.Established {
			target = peer.Addr
			break
		}
	}
	if target == "" || target == from {
		c.failDataOperation(from, msg)
		return
	}

	pend, err := c.tr.Send(target, p, true)
	if err != nil || !pend.BlockUntilDone() {
		c.log.Warn("query node did not answer proxied operation",
			zap.String("from", from),
			zap.String("query", target),
		)
		c.failDataOperation(from, msg)
		return
	}
	if c.metrics != nil {
		c.metrics.RecordProxiedOperation(true)
	}
	if _, err := c.tr.Reply(from, msg, pend.Response().Payload, false); err != nil {
		c.log.Debug("unable to relay operation result", zap.String("from", from), zap.Error(err))
	}
}

func (c *Controller) failDataOperation(from string, msg *wire.Message) {
	if c.metrics != nil {
		c.metrics.RecordProxiedOperation(false)
	}
	result := &wire.DataOperationResult{Failed: true, Message: noQueryNodeMessage}
	if _, err := c.tr.Reply(from, msg, result, false); err != nil {
		c.log.Debug("unable to deliver operation result", zap.String("from", from), zap.Error(err))
	}
}
