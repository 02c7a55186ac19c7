// Copyright (C) 2026, Chunkdb, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chunkdb/chunkdb/cluster"
	"github.com/chunkdb/chunkdb/wire"
)

const (
	DefaultRequestTimeout = 10 * time.Second
	defaultDialTimeout    = 5 * time.Second

	sendQueueSize = 64
)

var (
	ErrUnknownPeer = errors.New("no connection to peer")
	ErrClosed      = errors.New("transport closed")
	ErrQueueFull   = errors.New("send queue full")
)

// Handler receives every unsolicited inbound message. The transport invokes
// it on a fresh goroutine per message so handlers may issue nested blocking
// requests without starving the demultiplexer.
type Handler func(from string, msg *wire.Message)

// ClosedFunc is called when a link is torn down. The type is UnknownNode if
// the peer never completed its handshake.
type ClosedFunc func(addr string, nodeType cluster.NodeType)

// Pending is the handle returned for an outbound message. BlockUntilDone
// suspends the caller until a correlated response arrives, the request times
// out, or the link is torn down.
type Pending interface {
	// BlockUntilDone reports whether a response arrived in time. It returns
	// true immediately for messages sent without waitingForResponse.
	BlockUntilDone() bool
	// Response is the correlated response; nil until BlockUntilDone
	// returns true, and always nil for messages sent without
	// waitingForResponse.
	Response() *wire.Message
}

// Transport frames messages over TCP links and owns the peer registry:
// every live connection keyed by its address, first by the transport-level
// address and, after admission renames it, by the peer's canonical name.
type Transport struct {
	log            *zap.Logger
	requestTimeout time.Duration

	mu    sync.RWMutex
	links map[string]*link

	handler  Handler
	onClosed ClosedFunc

	pendingLock sync.Mutex
	pending     map[uint32]*pendingEntry

	ln       net.Listener
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type pendingEntry struct {
	pm *pendingMessage
	l  *link
}

func New(requestTimeout time.Duration, log *zap.Logger) *Transport {
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	return &Transport{
		log:            log,
		requestTimeout: requestTimeout,
		links:          make(map[string]*link),
		pending:        make(map[uint32]*pendingEntry),
		stop:           make(chan struct{}),
	}
}

// OnMessage installs the inbound dispatcher. Must be set before Listen or
// Connect.
func (t *Transport) OnMessage(h Handler) { t.handler = h }

// OnConnectionLost installs the link-teardown callback.
func (t *Transport) OnConnectionLost(f ClosedFunc) { t.onClosed = f }

// Listen starts accepting inbound links on addr. Inbound links are
// registered under their ephemeral remote address until the join protocol
// renames them.
func (t *Transport) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	t.ln = ln
	t.wg.Add(1)
	go t.acceptLoop(ln)
	return nil
}

// Addr is the bound listen address, valid after Listen.
func (t *Transport) Addr() string {
	if t.ln == nil {
		return ""
	}
	return t.ln.Addr().String()
}

func (t *Transport) acceptLoop(ln net.Listener) {
	defer t.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-t.stop:
				return
			default:
			}
			t.log.Warn("accept failed", zap.Error(err))
			return
		}
		t.addLink(conn.RemoteAddr().String(), conn)
	}
}

// Connect dials addr and registers the link under it. Connecting to an
// already-registered peer is a no-op.
func (t *Transport) Connect(ctx context.Context, addr string) error {
	if t.HasPeer(addr) {
		return nil
	}
	d := net.Dialer{Timeout: defaultDialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	// On a lost connect race addLink drops the dial and the existing link
	// serves.
	t.addLink(addr, conn)
	return nil
}

func (t *Transport) addLink(addr string, conn net.Conn) bool {
	l := newLink(t, addr, conn)
	t.mu.Lock()
	if _, ok := t.links[addr]; ok {
		t.mu.Unlock()
		t.log.Warn("duplicate link dropped", zap.String("addr", addr))
		conn.Close()
		return false
	}
	t.links[addr] = l
	t.mu.Unlock()
	l.start()
	return true
}

// Send posts payload to the peer at addr. With wantReply the returned
// Pending blocks until the correlated response or the request timeout.
func (t *Transport) Send(addr string, payload wire.Payload, wantReply bool) (Pending, error) {
	return t.post(addr, wire.NewRequest(payload, wantReply))
}

// Reply posts payload correlated to req.
func (t *Transport) Reply(addr string, req *wire.Message, payload wire.Payload, wantReply bool) (Pending, error) {
	return t.post(addr, wire.NewReply(req, payload, wantReply))
}

func (t *Transport) post(addr string, msg *wire.Message) (Pending, error) {
	t.mu.RLock()
	l, ok := t.links[addr]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, addr)
	}
	raw, err := msg.Marshal()
	if err != nil {
		return nil, err
	}
	pm := newPendingMessage(t, msg)
	if msg.WaitingForResponse {
		t.pendingLock.Lock()
		t.pending[msg.ID] = &pendingEntry{pm: pm, l: l}
		t.pendingLock.Unlock()
	} else {
		pm.resolve(nil, true)
	}
	if err := l.enqueue(raw); err != nil {
		t.dropPending(msg.ID)
		pm.resolve(nil, false)
		return nil, err
	}
	return pm, nil
}

// resolveResponse completes the pending request a response correlates to.
func (t *Transport) resolveResponse(msg *wire.Message) {
	t.pendingLock.Lock()
	e, ok := t.pending[msg.InResponseTo]
	delete(t.pending, msg.InResponseTo)
	t.pendingLock.Unlock()
	if !ok {
		t.log.Warn("got unexpected response", zap.Uint32("inResponseTo", msg.InResponseTo))
		return
	}
	e.pm.resolve(msg, true)
}

func (t *Transport) dropPending(id uint32) {
	t.pendingLock.Lock()
	delete(t.pending, id)
	t.pendingLock.Unlock()
}

// removeLink unregisters l, fails its in-flight requests, and fires the
// connection-lost callback.
func (t *Transport) removeLink(l *link) {
	t.mu.Lock()
	addr := l.addr
	registered := t.links[addr] == l
	if registered {
		delete(t.links, addr)
	}
	nodeType := l.nodeType
	t.mu.Unlock()

	t.pendingLock.Lock()
	var failed []*pendingMessage
	for id, e := range t.pending {
		if e.l == l {
			failed = append(failed, e.pm)
			delete(t.pending, id)
		}
	}
	t.pendingLock.Unlock()
	for _, pm := range failed {
		pm.resolve(nil, false)
	}

	if registered && t.onClosed != nil {
		t.onClosed(addr, nodeType)
	}
}

// Rename rebinds the entry at oldAddr under the peer's canonical address.
// If the canonical key is already taken the existing entry wins and the
// renaming link is dropped.
func (t *Transport) Rename(oldAddr, newAddr string) bool {
	if oldAddr == newAddr {
		return true
	}
	t.mu.Lock()
	l, ok := t.links[oldAddr]
	if !ok {
		t.mu.Unlock()
		return false
	}
	if _, taken := t.links[newAddr]; taken {
		t.mu.Unlock()
		t.log.Warn("duplicate join dropped, keeping existing connection",
			zap.String("addr", newAddr),
			zap.String("duplicate", oldAddr),
		)
		l.close()
		return false
	}
	delete(t.links, oldAddr)
	l.addr = newAddr
	t.links[newAddr] = l
	t.mu.Unlock()
	return true
}

func (t *Transport) HasPeer(addr string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.links[addr]
	return ok
}

// ListPeers snapshots the registry.
func (t *Transport) ListPeers() []cluster.Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	peers := make([]cluster.Peer, 0, len(t.links))
	for addr, l := range t.links {
		peers = append(peers, cluster.Peer{Addr: addr, Type: l.nodeType, Established: l.established})
	}
	return peers
}

// MarkEstablished classifies the peer at addr after a successful join.
func (t *Transport) MarkEstablished(addr string, nodeType cluster.NodeType) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok := t.links[addr]; ok {
		l.nodeType = nodeType
		l.established = true
	}
}

func (t *Transport) ClosePeer(addr string) {
	t.mu.RLock()
	l, ok := t.links[addr]
	t.mu.RUnlock()
	if ok {
		l.close()
	}
}

// Close tears down the listener and every link. In-flight blocking requests
// fail.
func (t *Transport) Close() {
	t.stopOnce.Do(func() {
		close(t.stop)
		if t.ln != nil {
			t.ln.Close()
		}
		t.mu.RLock()
		links := make([]*link, 0, len(t.links))
		for _, l := range t.links {
			links = append(links, l)
		}
		t.mu.RUnlock()
		for _, l := range links {
			l.close()
		}
		t.wg.Wait()
	})
}

func (t *Transport) dispatch(l *link, msg *wire.Message) {
	if msg.InResponseTo != 0 {
		t.resolveResponse(msg)
		return
	}
	if t.handler == nil {
		t.log.Warn("dropping message, no handler installed", zap.Uint32("id", msg.ID))
		return
	}
	t.mu.RLock()
	addr := l.addr
	t.mu.RUnlock()
	go t.handler(addr, msg)
}

type pendingMessage struct {
	tr  *Transport
	msg *wire.Message

	done    chan struct{}
	once    sync.Once
	resp    *wire.Message
	success bool
}

func newPendingMessage(tr *Transport, msg *wire.Message) *pendingMessage {
	return &pendingMessage{tr: tr, msg: msg, done: make(chan struct{})}
}

func (p *pendingMessage) resolve(resp *wire.Message, success bool) {
	p.once.Do(func() {
		p.resp = resp
		p.success = success
		close(p.done)
	})
}

func (p *pendingMessage) BlockUntilDone() bool {
	select {
	case <-p.done:
	case <-time.After(p.tr.requestTimeout):
		p.tr.dropPending(p.msg.ID)
		p.resolve(nil, false)
		<-p.done
	}
	return p.success
}

func (p *pendingMessage) Response() *wire.Message { return p.resp }
