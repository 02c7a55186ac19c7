// Copyright (C) 2026, Chunkdb, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ava-labs/avalanchego/utils/set"
	"go.uber.org/zap"

	"github.com/chunkdb/chunkdb/chunk"
	"github.com/chunkdb/chunkdb/cluster"
)

const (
	defaultMinReconcileDelay = 30 * time.Second
	defaultMaxReconcileDelay = 120 * time.Second
)

var (
	ErrNotInControllerSet = errors.New("local node is not part of the connection string")
	ErrJoinRejected       = errors.New("join rejected")
	ErrJoinTimeout        = errors.New("join timed out")
)

// Controller is one replica of the controller plane. It admits peers,
// participates in leader election, and, while primary, owns the chunk map
// and its dissemination.
type Controller struct {
	log     *zap.Logger
	metrics Metrics

	settings      *cluster.Settings
	self          cluster.NodeDefinition
	controllers   []cluster.NodeDefinition
	controllerSet set.Set[string]

	tr     Transport
	chunks *chunk.Map

	primaryLock sync.Mutex
	primary     *cluster.NodeDefinition

	lastPrimaryMessageID atomic.Uint32
	voting               atomic.Bool

	running  atomic.Bool
	stop     chan struct{}
	wg       sync.WaitGroup
	doneOnce sync.Once
	done     chan struct{}
	err      error

	minReconcileDelay time.Duration
	maxReconcileDelay time.Duration
}

func New(settings *cluster.Settings, tr Transport, metrics Metrics, log *zap.Logger) (*Controller, error) {
	controllers, err := settings.Controllers()
	if err != nil {
		return nil, err
	}
	self := settings.Self()
	names := set.NewSet[string](len(controllers))
	member := false
	for _, cd := range controllers {
		names.Add(cd.ConnectionName())
		if cd == self {
			member = true
		}
	}
	if !member {
		return nil, fmt.Errorf("%w: %s not in %q", ErrNotInControllerSet, self, settings.ConnectionString)
	}
	return &Controller{
		log:               log,
		metrics:           metrics,
		settings:          settings,
		self:              self,
		controllers:       controllers,
		controllerSet:     names,
		tr:                tr,
		chunks:            chunk.NewMap(),
		stop:              make(chan struct{}),
		done:              make(chan struct{}),
		minReconcileDelay: defaultMinReconcileDelay,
		maxReconcileDelay: defaultMaxReconcileDelay,
	}, nil
}

// Start performs the startup join against every other configured controller
// and launches the reconciler. A JoinFailure from any controller means this
// node is misconfigured and is returned as fatal; an unreachable controller
// is left to the reconciler.
func (c *Controller) Start(ctx context.Context) error {
	c.running.Store(true)
	if len(c.controllers) == 1 {
		c.log.Info("sole configured controller, assuming primary")
		c.setPrimary(&c.self)
	} else {
		for _, cd := range c.controllers {
			if cd == c.self {
				continue
			}
			if err := c.joinController(ctx, cd); err != nil {
				if errors.Is(err, ErrJoinRejected) {
					return err
				}
				c.log.Warn("controller unreachable at startup",
					zap.Stringer("controller", cd),
					zap.Error(err),
				)
			}
		}
	}
	c.wg.Add(1)
	go c.reconcileLoop(ctx)
	return nil
}

// Stop shuts the controller down cooperatively.
func (c *Controller) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	close(c.stop)
	c.wg.Wait()
	c.fail(nil)
}

// Done closes when the controller stopped, either via [Controller.Stop] or
// fatally.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Err is the fatal error, if any, once Done is closed.
func (c *Controller) Err() error { return c.err }

func (c *Controller) fail(err error) {
	c.doneOnce.Do(func() {
		c.err = err
		close(c.done)
	})
}

func (c *Controller) Self() cluster.NodeDefinition { return c.self }

func (c *Controller) ControllerSet() []cluster.NodeDefinition { return c.controllers }

func (c *Controller) Peers() []cluster.Peer { return c.tr.ListPeers() }

func (c *Controller) Chunks() []chunk.Definition { return c.chunks.Snapshot() }

// Primary returns the current primary, if any.
func (c *Controller) Primary() (cluster.NodeDefinition, bool) {
	c.primaryLock.Lock()
	defer c.primaryLock.Unlock()
	if c.primary == nil {
		return cluster.NodeDefinition{}, false
	}
	return *c.primary, true
}

func (c *Controller) IsPrimary() bool {
	p, ok := c.Primary()
	return ok && p == c.self
}

// LastPrimaryMessageID is the high-water mark of message IDs seen from the
// current primary.
func (c *Controller) LastPrimaryMessageID() uint32 {
	return c.lastPrimaryMessageID.Load()
}

func (c *Controller) setPrimary(n *cluster.NodeDefinition) {
	c.primaryLock.Lock()
	defer c.primaryLock.Unlock()
	c.setPrimaryLocked(n)
}

func (c *Controller) setPrimaryLocked(n *cluster.NodeDefinition) {
	if c.primary != nil && n != nil && *c.primary == *n {
		return
	}
	if c.primary == nil && n == nil {
		return
	}
	c.primary = n
	c.lastPrimaryMessageID.Store(0)
	if n == nil {
		c.log.Info("primary cleared")
	} else {
		c.log.Info("primary changed", zap.Stringer("primary", *n))
	}
}

func (c *Controller) clearPrimary(reason string) {
	c.primaryLock.Lock()
	defer c.primaryLock.Unlock()
	if c.primary == nil {
		return
	}
	c.log.Warn("clearing primary", zap.String("reason", reason), zap.Stringer("primary", *c.primary))
	c.setPrimaryLocked(nil)
}

// observePrimaryMessage merges a message ID seen from the current primary
// into the high-water mark. Maximum, not last: delivery across handler
// goroutines may reorder.
func (c *Controller) observePrimaryMessage(from string, id uint32) {
	p, ok := c.Primary()
	if !ok || p.ConnectionName() != from {
		return
	}
	for {
		seen := c.lastPrimaryMessageID.Load()
		if id <= seen || c.lastPrimaryMessageID.CompareAndSwap(seen, id) {
			return
		}
	}
}

// hasQuorum evaluates the strict-majority rule: this replica plus every
// other configured controller currently established in the registry.
func (c *Controller) hasQuorum() bool {
	active := 1
	for _, p := range c.tr.ListPeers() {
		if p.Type != cluster.ControllerNode || !p.Established {
			continue
		}
		if p.Addr != c.self.ConnectionName() && c.controllerSet.Contains(p.Addr) {
			active++
		}
	}
	return active > len(c.controllers)/2
}

// HandleConnectionLost is wired to the transport's teardown callback.
func (c *Controller) HandleConnectionLost(addr string, nodeType cluster.NodeType) {
	c.log.Debug("connection lost", zap.String("addr", addr), zap.Stringer("type", nodeType))

	if nodeType == cluster.StorageNode {
		if owner, err := cluster.ParseNodeDefinition(addr); err == nil {
			if removed := c.chunks.RemoveOwner(owner); removed > 0 {
				c.log.Warn("storage node lost, chunk coverage reduced",
					zap.Stringer("owner", owner),
					zap.Int("chunks", removed),
				)
				c.broadcastChunkList()
			}
		}
	}

	if p, ok := c.Primary(); ok && p.ConnectionName() == addr {
		c.clearPrimary("primary disconnected")
	}
	if nodeType == cluster.ControllerNode && !c.hasQuorum() {
		c.clearPrimary("quorum lost")
	}
}
