// Copyright (C) 2026, Chunkdb, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package controller

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/chunkdb/chunkdb/cluster"
	"github.com/chunkdb/chunkdb/wire"
)

// joinController runs the initiator side of the admission handshake against
// another configured controller. ErrJoinRejected is fatal for the caller:
// a rejection means this node's settings disagree with the cluster's.
func (c *Controller) joinController(ctx context.Context, target cluster.NodeDefinition) error {
	addr := target.ConnectionName()
	if c.tr.HasPeer(addr) {
		return nil
	}
	if err := c.tr.Connect(ctx, addr); err != nil {
		return err
	}
	doc, err := c.settings.Document()
	if err != nil {
		return err
	}
	attempt := &wire.JoinAttempt{
		NodeType:     cluster.ControllerNode,
		Name:         c.self.Hostname,
		Port:         c.self.Port,
		Settings:     doc,
		PrimaryClaim: c.IsPrimary(),
	}
	pend, err := c.tr.Send(addr, attempt, true)
	if err != nil {
		return err
	}
	if !pend.BlockUntilDone() {
		c.tr.ClosePeer(addr)
		return fmt.Errorf("%w: %s", ErrJoinTimeout, addr)
	}
	resp := pend.Response()
	switch rp := resp.Payload.(type) {
	case *wire.JoinFailure:
		c.tr.ClosePeer(addr)
		return fmt.Errorf("%w by %s: %s", ErrJoinRejected, addr, rp.Reason)
	case *wire.JoinSuccess:
		c.tr.MarkEstablished(addr, cluster.ControllerNode)
		if rp.Primary {
			c.setPrimary(&target)
		}
		if _, err := c.tr.Reply(addr, resp, &wire.Acknowledgement{}, false); err != nil {
			return err
		}
		c.log.Info("joined controller", zap.Stringer("controller", target))
		return nil
	default:
		c.tr.ClosePeer(addr)
		return fmt.Errorf("unexpected join response from %s", addr)
	}
}

func (c *Controller) handleJoin(from string, msg *wire.Message, p *wire.JoinAttempt) {
	canonical := cluster.NewNodeDefinition(p.Name, p.Port)
	switch p.NodeType {
	case cluster.ControllerNode:
		c.admitController(from, msg, p, canonical)
	case cluster.QueryNode:
		c.admitQuery(from, msg, p, canonical)
	case cluster.StorageNode:
		c.admitStorage(from, msg, p, canonical)
	case cluster.ApiNode:
		c.admitApi(from, msg, p, canonical)
	case cluster.ConsoleNode:
		c.admitConsole(from, msg, canonical)
	default:
		c.rejectJoin(from, msg, fmt.Sprintf("unknown node type %d", p.NodeType))
	}
}

func (c *Controller) rejectJoin(from string, msg *wire.Message, reason string) {
	if c.metrics != nil {
		c.metrics.RecordJoinRejected()
	}
	c.log.Warn("join rejected", zap.String("from", from), zap.String("reason", reason))
	if _, err := c.tr.Reply(from, msg, &wire.JoinFailure{Reason: reason}, false); err != nil {
		c.log.Debug("unable to deliver join failure", zap.String("from", from), zap.Error(err))
	}
}

// admit renames the transport entry from its ephemeral inbound address to
// the joiner's declared canonical one and classifies it. A false return
// means a connection for that canonical address already exists (the
// duplicate has been dropped) or the inbound entry is no longer
// registered; either way the handshake ends here.
func (c *Controller) admit(from string, canonical cluster.NodeDefinition, nodeType cluster.NodeType) bool {
	addr := canonical.ConnectionName()
	if !c.tr.Rename(from, addr) {
		return false
	}
	c.tr.MarkEstablished(addr, nodeType)
	if c.metrics != nil {
		c.metrics.RecordJoin(nodeType)
	}
	c.log.Info("peer admitted", zap.String("addr", addr), zap.Stringer("type", nodeType))
	return true
}

// awaitAck sends the JoinSuccess and blocks for the joiner's
// acknowledgement before any post-admission dissemination runs.
func (c *Controller) awaitAck(addr string, req *wire.Message, success *wire.JoinSuccess) bool {
	pend, err := c.tr.Reply(addr, req, success, true)
	if err != nil {
		c.log.Warn("unable to deliver join success", zap.String("addr", addr), zap.Error(err))
		return false
	}
	if !pend.BlockUntilDone() {
		c.log.Warn("join acknowledgement timed out", zap.String("addr", addr))
		return false
	}
	return true
}

func (c *Controller) admitController(from string, msg *wire.Message, p *wire.JoinAttempt, canonical cluster.NodeDefinition) {
	theirs, err := cluster.ParseDocument(p.Settings)
	if err != nil {
		c.rejectJoin(from, msg, "malformed settings document")
		return
	}
	if err := c.settings.CheckCompatible(theirs); err != nil {
		c.rejectJoin(from, msg, err.Error())
		return
	}
	if !c.admit(from, canonical, cluster.ControllerNode) {
		return
	}
	addr := canonical.ConnectionName()
	if !c.awaitAck(addr, msg, &wire.JoinSuccess{Primary: c.IsPrimary()}) {
		return
	}
	if p.PrimaryClaim {
		c.setPrimary(&canonical)
	}
	c.broadcastChunkList()
}

func (c *Controller) admitQuery(from string, msg *wire.Message, p *wire.JoinAttempt, canonical cluster.NodeDefinition) {
	theirs, err := cluster.ParseDocument(p.Settings)
	if err != nil {
		c.rejectJoin(from, msg, "malformed settings document")
		return
	}
	if err := c.settings.CheckConnectionString(theirs); err != nil {
		c.rejectJoin(from, msg, err.Error())
		return
	}
	if !c.admit(from, canonical, cluster.QueryNode) {
		return
	}
	addr := canonical.ConnectionName()
	if !c.awaitAck(addr, msg, &wire.JoinSuccess{Primary: c.IsPrimary()}) {
		return
	}
	c.sendNodeList(addr, cluster.StorageNode)
	c.broadcastNodeList(cluster.QueryNode, cluster.ApiNode)
	c.broadcastChunkList()
}

func (c *Controller) admitStorage(from string, msg *wire.Message, p *wire.JoinAttempt, canonical cluster.NodeDefinition) {
	theirs, err := cluster.ParseDocument(p.Settings)
	if err != nil {
		c.rejectJoin(from, msg, "malformed settings document")
		return
	}
	if err := c.settings.CheckConnectionString(theirs); err != nil {
		c.rejectJoin(from, msg, err.Error())
		return
	}
	if !c.admit(from, canonical, cluster.StorageNode) {
		return
	}
	success := &wire.JoinSuccess{Primary: c.IsPrimary()}
	if c.IsPrimary() {
		// The chunk split threshold is a primary concern; secondaries
		// leave it unset.
		success.Doc = map[string]string{
			wire.DocMaxChunkItemCount: strconv.Itoa(c.settings.MaxChunkItemCount),
		}
	}
	addr := canonical.ConnectionName()
	if !c.awaitAck(addr, msg, success) {
		return
	}
	c.broadcastNodeList(cluster.StorageNode, cluster.QueryNode)
	if c.IsPrimary() && c.chunks.Empty() {
		c.bootstrapDatabase(canonical)
	}
}

func (c *Controller) admitApi(from string, msg *wire.Message, p *wire.JoinAttempt, canonical cluster.NodeDefinition) {
	// API peers send the raw connection string, not a settings document.
	if p.Settings != c.settings.ConnectionString {
		c.rejectJoin(from, msg, fmt.Sprintf("connection string %q does not match", p.Settings))
		return
	}
	if !c.admit(from, canonical, cluster.ApiNode) {
		return
	}
	addr := canonical.ConnectionName()
	if !c.awaitAck(addr, msg, &wire.JoinSuccess{Primary: c.IsPrimary()}) {
		return
	}
	c.sendNodeList(addr, cluster.QueryNode)
}

func (c *Controller) admitConsole(from string, msg *wire.Message, canonical cluster.NodeDefinition) {
	if !c.admit(from, canonical, cluster.ConsoleNode) {
		return
	}
	addr := canonical.ConnectionName()
	if _, err := c.tr.Reply(addr, msg, &wire.JoinSuccess{Primary: c.IsPrimary()}, false); err != nil {
		c.log.Debug("unable to deliver join success", zap.String("addr", addr), zap.Error(err))
	}
}

// bootstrapDatabase installs the initial full-range chunk for the first
// storage node and asks the storage tier to create the database. One
// acceptance is required; with none the speculative chunk is rolled back.
func (c *Controller) bootstrapDatabase(owner cluster.NodeDefinition) {
	c.chunks.InstallFull(owner)
	accepted := false
	for _, peer := range c.tr.ListPeers() {
		if peer.Type != cluster.StorageNode {
			continue
		}
		pend, err := c.tr.Send(peer.Addr, &wire.DatabaseCreate{}, true)
		if err != nil {
			continue
		}
		if !pend.BlockUntilDone() {
			continue
		}
		if _, ok := pend.Response().Payload.(*wire.Acknowledgement); ok {
			accepted = true
			break
		}
	}
	if !accepted {
		c.log.Warn("database create rejected by every storage node, rolling back",
			zap.Stringer("owner", owner),
		)
		c.chunks.Clear()
		return
	}
	c.log.Info("database created", zap.Stringer("owner", owner))
	c.broadcastChunkList()
}
