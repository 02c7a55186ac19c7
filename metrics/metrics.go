// Copyright (C) 2026, Chunkdb, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/chunkdb/chunkdb/cluster"
)

const namespace = "chunkdb_controller"

// Metrics is the prometheus-backed implementation of controller.Metrics.
type Metrics struct {
	votesStarted prometheus.Counter
	votesWon     prometheus.Counter

	joins        *prometheus.CounterVec
	joinRejected prometheus.Counter

	chunkBroadcasts    prometheus.Counter
	nodeListBroadcasts prometheus.Counter
	chunkSplits        prometheus.Counter
	chunkMerges        prometheus.Counter

	proxied *prometheus.CounterVec
}

func New(r prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		votesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_started",
			Help:      "number of elections this replica started as candidate",
		}),
		votesWon: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_won",
			Help:      "number of elections this replica won",
		}),
		joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "joins_admitted",
			Help:      "number of admitted peers by type",
		}, []string{"type"}),
		joinRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "joins_rejected",
			Help:      "number of rejected join attempts",
		}),
		chunkBroadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_broadcasts",
			Help:      "number of chunk list broadcasts",
		}),
		nodeListBroadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_list_broadcasts",
			Help:      "number of node list broadcasts",
		}),
		chunkSplits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_splits",
			Help:      "number of applied chunk splits",
		}),
		chunkMerges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_merges",
			Help:      "number of applied chunk merges",
		}),
		proxied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxied_operations",
			Help:      "number of proxied data operations by outcome",
		}, []string{"outcome"}),
	}
	errs := []error{
		r.Register(m.votesStarted),
		r.Register(m.votesWon),
		r.Register(m.joins),
		r.Register(m.joinRejected),
		r.Register(m.chunkBroadcasts),
		r.Register(m.nodeListBroadcasts),
		r.Register(m.chunkSplits),
		r.Register(m.chunkMerges),
		r.Register(m.proxied),
	}
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) RecordVoteStarted() { m.votesStarted.Inc() }
func (m *Metrics) RecordVoteWon()     { m.votesWon.Inc() }

func (m *Metrics) RecordJoin(nodeType cluster.NodeType) {
	m.joins.WithLabelValues(nodeType.String()).Inc()
}
func (m *Metrics) RecordJoinRejected() { m.joinRejected.Inc() }

func (m *Metrics) RecordChunkBroadcast()    { m.chunkBroadcasts.Inc() }
func (m *Metrics) RecordNodeListBroadcast() { m.nodeListBroadcasts.Inc() }
func (m *Metrics) RecordChunkSplit()        { m.chunkSplits.Inc() }
func (m *Metrics) RecordChunkMerge()        { m.chunkMerges.Inc() }

func (m *Metrics) RecordProxiedOperation(success bool) {
	outcome := "ok"
	if !success {
		outcome = "failed"
	}
	m.proxied.WithLabelValues(outcome).Inc()
}
