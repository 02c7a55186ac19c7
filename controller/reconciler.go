// Copyright (C) 2026, Chunkdb, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package controller

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// reconcileLoop is the single periodic background task: reconnect missing
// controller peers and kick an election while no primary exists. The delay
// before every iteration is uniform in [minReconcileDelay,
// maxReconcileDelay] so replicas don't storm elections in lockstep after a
// shared network event.
func (c *Controller) reconcileLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-time.After(c.reconcileDelay()):
		case <-c.stop:
			return
		}
		if !c.running.Load() {
			return
		}
		c.reconcile(ctx)
	}
}

func (c *Controller) reconcileDelay() time.Duration {
	spread := int64(c.maxReconcileDelay - c.minReconcileDelay)
	return c.minReconcileDelay + time.Duration(rand.Int63n(spread+1))
}

func (c *Controller) reconcile(ctx context.Context) {
	for _, cd := range c.controllers {
		if cd == c.self || c.tr.HasPeer(cd.ConnectionName()) {
			continue
		}
		err := c.joinController(ctx, cd)
		switch {
		case errors.Is(err, ErrJoinRejected):
			// A rejection at this point means the local configuration
			// disagrees with the cluster; running on is worse than dying.
			c.log.Error("configured controller rejected us, shutting down", zap.Error(err))
			c.fail(err)
			return
		case err != nil:
			c.log.Debug("controller still unreachable",
				zap.Stringer("controller", cd),
				zap.Error(err),
			)
		}
	}

	if _, ok := c.Primary(); !ok {
		c.InitiateVoting(ctx)
	}
}
