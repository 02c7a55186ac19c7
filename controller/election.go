// Copyright (C) 2026, Chunkdb, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package controller

import (
	"context"
	"sync"

	"github.com/neilotoole/errgroup"
	"go.uber.org/zap"

	"github.com/chunkdb/chunkdb/wire"
)

// InitiateVoting runs one election attempt with this replica as candidate.
// The candidate wins iff every received VotingResponse answered true and at
// least one arrived. Transport failures count as non-responses.
func (c *Controller) InitiateVoting(ctx context.Context) {
	if !c.voting.CompareAndSwap(false, true) {
		return
	}
	defer c.voting.Store(false)

	if _, ok := c.Primary(); ok {
		return
	}
	if !c.hasQuorum() {
		c.log.Warn("not enough active controllers to vote",
			zap.Int("configured", len(c.controllers)),
		)
		return
	}
	if c.metrics != nil {
		c.metrics.RecordVoteStarted()
	}
	c.log.Info("initiating voting")

	var (
		mu      sync.Mutex
		answers []bool
	)
	g, _ := errgroup.WithContext(ctx)
	for _, cd := range c.controllers {
		if cd == c.self {
			continue
		}
		addr := cd.ConnectionName()
		g.Go(func() error {
			pend, err := c.tr.Send(addr, &wire.VotingRequest{}, true)
			if err != nil {
				return nil
			}
			if !pend.BlockUntilDone() {
				return nil
			}
			if vr, ok := pend.Response().Payload.(*wire.VotingResponse); ok {
				mu.Lock()
				answers = append(answers, vr.Answer)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(answers) == 0 {
		c.log.Warn("voting produced no responses")
		return
	}
	for _, answer := range answers {
		if !answer {
			c.log.Info("voting lost", zap.Int("responses", len(answers)))
			return
		}
	}

	c.primaryLock.Lock()
	if c.primary != nil {
		c.primaryLock.Unlock()
		c.log.Info("primary discovered during voting", zap.Stringer("primary", *c.primary))
		return
	}
	self := c.self
	c.setPrimaryLocked(&self)
	c.primaryLock.Unlock()

	if c.metrics != nil {
		c.metrics.RecordVoteWon()
	}
	c.log.Info("voting won, announcing primary")
	announcement := &wire.PrimaryAnnouncement{Primary: c.self}
	for _, cd := range c.controllers {
		if cd == c.self {
			continue
		}
		if _, err := c.tr.Send(cd.ConnectionName(), announcement, false); err != nil {
			c.log.Warn("unable to announce primary", zap.Stringer("controller", cd), zap.Error(err))
		}
	}
}

// handleVotingRequest answers a candidate. A replica that already follows a
// primary refuses outright; otherwise it polls every other controller for
// its last primary message ID and approves the candidate iff it is the most
// up-to-date responder, ties broken by ascending connection name so every
// responder reaches the same choice.
func (c *Controller) handleVotingRequest(from string, msg *wire.Message) {
	if _, ok := c.Primary(); ok {
		c.replyVote(from, msg, false)
		return
	}

	type lastSeen struct {
		name string
		id   uint32
	}
	var (
		mu   sync.Mutex
		seen []lastSeen
	)
	g, _ := errgroup.WithContext(context.Background())
	for _, cd := range c.controllers {
		if cd == c.self {
			continue
		}
		addr := cd.ConnectionName()
		g.Go(func() error {
			pend, err := c.tr.Send(addr, &wire.LastPrimaryMessageIDRequest{}, true)
			if err != nil {
				return nil
			}
			if !pend.BlockUntilDone() {
				return nil
			}
			if lr, ok := pend.Response().Payload.(*wire.LastPrimaryMessageIDResponse); ok {
				mu.Lock()
				seen = append(seen, lastSeen{name: addr, id: lr.LastPrimaryMessageID})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(seen) == 0 {
		c.replyVote(from, msg, false)
		return
	}
	winner := seen[0]
	for _, s := range seen[1:] {
		if s.id > winner.id || (s.id == winner.id && s.name < winner.name) {
			winner = s
		}
	}
	c.replyVote(from, msg, winner.name == from)
}

func (c *Controller) replyVote(from string, msg *wire.Message, answer bool) {
	c.log.Info("answering voting request", zap.String("candidate", from), zap.Bool("answer", answer))
	if _, err := c.tr.Reply(from, msg, &wire.VotingResponse{Answer: answer}, false); err != nil {
		c.log.Debug("unable to answer voting request", zap.String("candidate", from), zap.Error(err))
	}
}

// handlePrimaryAnnouncement installs an elected primary. If this replica is
// mid-vote it defers to the announcement; the in-flight attempt observes the
// installed primary and does not overwrite it.
func (c *Controller) handlePrimaryAnnouncement(from string, p *wire.PrimaryAnnouncement) {
	if c.voting.Load() {
		c.log.Info("primary discovered during voting", zap.Stringer("primary", p.Primary))
	} else {
		c.log.Debug("primary announced", zap.String("from", from), zap.Stringer("primary", p.Primary))
	}
	primary := p.Primary
	c.setPrimary(&primary)
}
