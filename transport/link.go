// Copyright (C) 2026, Chunkdb, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/chunkdb/chunkdb/cluster"
	"github.com/chunkdb/chunkdb/consts"
	"github.com/chunkdb/chunkdb/wire"
)

var errFrameTooLarge = errors.New("frame exceeds network size limit")

// link is one TCP connection. The stream is a sequence of frames, each a
// u32 little-endian length followed by a marshalled message. addr, nodeType,
// and established are registry state guarded by the transport's lock.
type link struct {
	tr   *Transport
	conn net.Conn

	addr        string
	nodeType    cluster.NodeType
	established bool

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newLink(tr *Transport, addr string, conn net.Conn) *link {
	return &link{
		tr:   tr,
		conn: conn,
		addr: addr,
		out:  make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
}

func (l *link) start() {
	l.tr.wg.Add(2)
	go l.readLoop()
	go l.writeLoop()
}

func (l *link) enqueue(raw []byte) error {
	select {
	case l.out <- raw:
		return nil
	case <-l.done:
		return ErrClosed
	default:
		return ErrQueueFull
	}
}

func (l *link) readLoop() {
	defer l.tr.wg.Done()
	defer l.close()

	r := bufio.NewReader(l.conn)
	header := make([]byte, consts.Uint32Len)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				l.tr.log.Debug("link read failed", zap.String("addr", l.addr), zap.Error(err))
			}
			return
		}
		size := binary.LittleEndian.Uint32(header)
		if size > consts.NetworkSizeLimit {
			l.tr.log.Warn("dropping link", zap.String("addr", l.addr), zap.Error(errFrameTooLarge))
			return
		}
		raw := make([]byte, size)
		if _, err := io.ReadFull(r, raw); err != nil {
			return
		}
		msg, err := wire.UnmarshalMessage(raw)
		if err != nil {
			l.tr.log.Warn("unable to parse message", zap.String("addr", l.addr), zap.Error(err))
			continue
		}
		l.tr.dispatch(l, msg)
	}
}

func (l *link) writeLoop() {
	defer l.tr.wg.Done()

	header := make([]byte, consts.Uint32Len)
	for {
		select {
		case raw := <-l.out:
			binary.LittleEndian.PutUint32(header, uint32(len(raw)))
			if _, err := l.conn.Write(header); err != nil {
				l.close()
				return
			}
			if _, err := l.conn.Write(raw); err != nil {
				l.close()
				return
			}
		case <-l.done:
			return
		}
	}
}

func (l *link) close() {
	l.closeOnce.Do(func() {
		close(l.done)
		l.conn.Close()
		l.tr.removeLink(l)
	})
}
