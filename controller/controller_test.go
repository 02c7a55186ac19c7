// Copyright (C) 2026, Chunkdb, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package controller

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chunkdb/chunkdb/cluster"
	"github.com/chunkdb/chunkdb/transport"
	"github.com/chunkdb/chunkdb/wire"
)

// fakeTransport scripts the transport seam. Responses are registered per
// payload kind; unscripted requests behave like timeouts.
type fakeTransport struct {
	mu      sync.Mutex
	peers   []cluster.Peer
	sends   []fakeSend
	replies []fakeReply

	respond    map[wire.Kind]func(addr string) (wire.Payload, bool)
	connectErr map[string]error
	ackOK      bool
}

type fakeSend struct {
	addr    string
	payload wire.Payload
}

type fakeReply struct {
	addr    string
	req     *wire.Message
	payload wire.Payload
}

type fakePending struct {
	resp *wire.Message
	ok   bool
}

func (p *fakePending) BlockUntilDone() bool    { return p.ok }
func (p *fakePending) Response() *wire.Message { return p.resp }

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		respond:    make(map[wire.Kind]func(addr string) (wire.Payload, bool)),
		connectErr: make(map[string]error),
		ackOK:      true,
	}
}

func (f *fakeTransport) Connect(_ context.Context, addr string) error {
	if err := f.connectErr[addr]; err != nil {
		return err
	}
	f.addPeer(addr, cluster.UnknownNode, false)
	return nil
}

func (f *fakeTransport) addPeer(addr string, nodeType cluster.NodeType, established bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.peers {
		if p.Addr == addr {
			return
		}
	}
	f.peers = append(f.peers, cluster.Peer{Addr: addr, Type: nodeType, Established: established})
}

func (f *fakeTransport) Send(addr string, payload wire.Payload, wantReply bool) (transport.Pending, error) {
	f.mu.Lock()
	f.sends = append(f.sends, fakeSend{addr: addr, payload: payload})
	fn := f.respond[payload.Kind()]
	f.mu.Unlock()
	if !wantReply {
		return &fakePending{ok: true}, nil
	}
	if fn == nil {
		return &fakePending{ok: false}, nil
	}
	resp, ok := fn(addr)
	if !ok {
		return &fakePending{ok: false}, nil
	}
	return &fakePending{ok: true, resp: &wire.Message{ID: wire.NextID(), InResponseTo: 1, Payload: resp}}, nil
}

func (f *fakeTransport) Reply(addr string, req *wire.Message, payload wire.Payload, wantReply bool) (transport.Pending, error) {
	f.mu.Lock()
	f.replies = append(f.replies, fakeReply{addr: addr, req: req, payload: payload})
	ackOK := f.ackOK
	f.mu.Unlock()
	if !wantReply {
		return &fakePending{ok: true}, nil
	}
	if !ackOK {
		return &fakePending{ok: false}, nil
	}
	ack := &wire.Message{ID: wire.NextID(), InResponseTo: req.ID, Payload: &wire.Acknowledgement{}}
	return &fakePending{ok: true, resp: ack}, nil
}

func (f *fakeTransport) Rename(oldAddr, newAddr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if oldAddr == newAddr {
		return true
	}
	oldIdx := -1
	for i, p := range f.peers {
		if p.Addr == newAddr {
			// First-won: the duplicate is dropped.
			for j, q := range f.peers {
				if q.Addr == oldAddr {
					f.peers = append(f.peers[:j], f.peers[j+1:]...)
					break
				}
			}
			return false
		}
		if p.Addr == oldAddr {
			oldIdx = i
		}
	}
	if oldIdx < 0 {
		return false
	}
	f.peers[oldIdx].Addr = newAddr
	return true
}

func (f *fakeTransport) HasPeer(addr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.peers {
		if p.Addr == addr {
			return true
		}
	}
	return false
}

func (f *fakeTransport) ListPeers() []cluster.Peer {
	f.mu.Lock()
	defer f.mu.Unlock()
	peers := make([]cluster.Peer, len(f.peers))
	copy(peers, f.peers)
	return peers
}

func (f *fakeTransport) MarkEstablished(addr string, nodeType cluster.NodeType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.peers {
		if p.Addr == addr {
			f.peers[i].Type = nodeType
			f.peers[i].Established = true
			return
		}
	}
}

func (f *fakeTransport) ClosePeer(addr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.peers {
		if p.Addr == addr {
			f.peers = append(f.peers[:i], f.peers[i+1:]...)
			return
		}
	}
}

func (f *fakeTransport) sentOfKind(kind wire.Kind) []fakeSend {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeSend
	for _, s := range f.sends {
		if s.payload.Kind() == kind {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeTransport) repliesOfKind(kind wire.Kind) []fakeReply {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeReply
	for _, r := range f.replies {
		if r.payload.Kind() == kind {
			out = append(out, r)
		}
	}
	return out
}

func testSettings(connString, name string, port uint16) *cluster.Settings {
	return &cluster.Settings{
		ConnectionString:          connString,
		NodeName:                  name,
		Port:                      port,
		LogLevel:                  "info",
		MaxChunkItemCount:         1000,
		RedundantNodesPerLocation: 2,
	}
}

func testController(t *testing.T, connString, name string, port uint16, f *fakeTransport) *Controller {
	t.Helper()
	c, err := New(testSettings(connString, name, port), f, nil, zap.NewNop())
	require.NoError(t, err)
	return c
}

func settingsDocument(t *testing.T, s *cluster.Settings) string {
	t.Helper()
	doc, err := s.Document()
	require.NoError(t, err)
	return doc
}

func TestNewRejectsUnlistedNode(t *testing.T) {
	require := require.New(t)

	_, err := New(testSettings("a:5100,b:5101", "d", 5103), newFakeTransport(), nil, zap.NewNop())
	require.ErrorIs(err, ErrNotInControllerSet)
}

func TestStartSoleControllerBecomesPrimary(t *testing.T) {
	require := require.New(t)

	f := newFakeTransport()
	c := testController(t, "a:5100", "a", 5100, f)
	require.NoError(c.Start(context.Background()))
	defer c.Stop()

	// Primary without any voting.
	require.True(c.IsPrimary())
	require.Empty(f.sentOfKind(wire.KindVotingRequest))
}

func TestStartJoinsConfiguredControllers(t *testing.T) {
	require := require.New(t)

	f := newFakeTransport()
	f.respond[wire.KindJoinAttempt] = func(string) (wire.Payload, bool) {
		return &wire.JoinSuccess{}, true
	}
	c := testController(t, "a:5100,b:5101,c:5102", "a", 5100, f)
	require.NoError(c.Start(context.Background()))
	defer c.Stop()

	attempts := f.sentOfKind(wire.KindJoinAttempt)
	require.Len(attempts, 2)
	require.True(f.HasPeer("b:5101"))
	require.True(f.HasPeer("c:5102"))
	for _, p := range f.ListPeers() {
		require.Equal(cluster.ControllerNode, p.Type)
		require.True(p.Established)
	}
	require.False(c.IsPrimary())
	// Every JoinSuccess was acknowledged.
	require.Len(f.repliesOfKind(wire.KindAcknowledgement), 2)
}

func TestStartFatalOnJoinRejection(t *testing.T) {
	require := require.New(t)

	f := newFakeTransport()
	f.respond[wire.KindJoinAttempt] = func(string) (wire.Payload, bool) {
		return &wire.JoinFailure{Reason: "connection string mismatch"}, true
	}
	c := testController(t, "a:5100,b:5101,c:5102", "a", 5100, f)
	require.ErrorIs(c.Start(context.Background()), ErrJoinRejected)
}

func TestStartupJoinAdoptsPrimary(t *testing.T) {
	require := require.New(t)

	f := newFakeTransport()
	f.respond[wire.KindJoinAttempt] = func(addr string) (wire.Payload, bool) {
		return &wire.JoinSuccess{Primary: addr == "b:5101"}, true
	}
	c := testController(t, "a:5100,b:5101,c:5102", "a", 5100, f)
	require.NoError(c.Start(context.Background()))
	defer c.Stop()

	primary, ok := c.Primary()
	require.True(ok)
	require.Equal("b:5101", primary.ConnectionName())
}

func TestQuorumClearsPrimaryOnControllerLoss(t *testing.T) {
	require := require.New(t)

	f := newFakeTransport()
	f.addPeer("b:5101", cluster.ControllerNode, true)
	f.addPeer("c:5102", cluster.ControllerNode, true)
	c := testController(t, "a:5100,b:5101,c:5102", "a", 5100, f)
	c.setPrimary(&c.self)

	// One controller down: 2 of 3 active, quorum holds.
	f.ClosePeer("b:5101")
	c.HandleConnectionLost("b:5101", cluster.ControllerNode)
	require.True(c.IsPrimary())

	// Second down: 1 of 3 is not a strict majority, even self-primary
	// clears.
	f.ClosePeer("c:5102")
	c.HandleConnectionLost("c:5102", cluster.ControllerNode)
	require.False(c.IsPrimary())
	_, ok := c.Primary()
	require.False(ok)
}

func TestPrimaryDisconnectClearsPrimary(t *testing.T) {
	require := require.New(t)

	f := newFakeTransport()
	f.addPeer("b:5101", cluster.ControllerNode, true)
	f.addPeer("c:5102", cluster.ControllerNode, true)
	c := testController(t, "a:5100,b:5101,c:5102", "a", 5100, f)
	b := cluster.NewNodeDefinition("b", 5101)
	c.setPrimary(&b)

	f.ClosePeer("b:5101")
	c.HandleConnectionLost("b:5101", cluster.ControllerNode)
	_, ok := c.Primary()
	require.False(ok)
}

func TestLastPrimaryMessageIDHighWaterMark(t *testing.T) {
	require := require.New(t)

	f := newFakeTransport()
	c := testController(t, "a:5100,b:5101,c:5102", "a", 5100, f)
	b := cluster.NewNodeDefinition("b", 5101)
	c.setPrimary(&b)
	require.Zero(c.LastPrimaryMessageID())

	send := func(from string, id uint32) {
		c.HandleMessage(from, &wire.Message{ID: id, Payload: &wire.NodeList{}})
	}
	send("b:5101", 7)
	require.Equal(uint32(7), c.LastPrimaryMessageID())
	// Out-of-order delivery keeps the maximum, not the last.
	send("b:5101", 5)
	require.Equal(uint32(7), c.LastPrimaryMessageID())
	send("b:5101", 9)
	require.Equal(uint32(9), c.LastPrimaryMessageID())
	// Messages from non-primaries don't count.
	send("c:5102", 100)
	require.Equal(uint32(9), c.LastPrimaryMessageID())

	// Reset on primary change.
	announced := cluster.NewNodeDefinition("c", 5102)
	c.HandleMessage("c:5102", &wire.Message{ID: 101, Payload: &wire.PrimaryAnnouncement{Primary: announced}})
	primary, ok := c.Primary()
	require.True(ok)
	require.Equal(announced, primary)
	// The announcement itself arrived before the change took effect; the
	// mark restarts at the next message from the new primary.
	require.Zero(c.LastPrimaryMessageID())
}

func TestStorageDisconnectRemovesOwnedChunks(t *testing.T) {
	require := require.New(t)

	f := newFakeTransport()
	c := testController(t, "a:5100", "a", 5100, f)
	c.setPrimary(&c.self)

	s1 := cluster.NewNodeDefinition("s1", 6100)
	c.chunks.InstallFull(s1)
	require.False(c.chunks.Empty())

	c.HandleConnectionLost("s1:6100", cluster.StorageNode)
	require.True(c.chunks.Empty())
}
