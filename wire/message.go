// Copyright (C) 2026, Chunkdb, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import (
	"errors"
	"fmt"

	"github.com/chunkdb/chunkdb/codec"
	"github.com/chunkdb/chunkdb/consts"
)

var (
	ErrTruncatedMessage = errors.New("truncated message")
	ErrTrailingBytes    = errors.New("trailing bytes after payload")
)

// Message is one framed transport message. The byte layout is fixed for
// wire compatibility:
//
//	id (u32 LE) | inResponseTo (u32 LE) | waitingForResponse (u8) | payload
//
// InResponseTo is 0 for unsolicited messages.
type Message struct {
	ID                 uint32
	InResponseTo       uint32
	WaitingForResponse bool
	Payload            Payload
}

// NewRequest wraps a payload in a freshly-identified message.
func NewRequest(p Payload, waiting bool) *Message {
	return &Message{ID: NextID(), WaitingForResponse: waiting, Payload: p}
}

// NewReply wraps a payload in a message correlated to req.
func NewReply(req *Message, p Payload, waiting bool) *Message {
	return &Message{ID: NextID(), InResponseTo: req.ID, WaitingForResponse: waiting, Payload: p}
}

func (m *Message) Marshal() ([]byte, error) {
	p := codec.NewWriter(consts.MessageHeaderLen+consts.Uint8Len, consts.NetworkSizeLimit)
	p.PackUint32(m.ID)
	p.PackUint32(m.InResponseTo)
	p.PackBool(m.WaitingForResponse)
	p.PackByte(byte(m.Payload.Kind()))
	m.Payload.Marshal(p)
	return p.Bytes(), p.Err()
}

func UnmarshalMessage(raw []byte) (*Message, error) {
	if len(raw) < consts.MessageHeaderLen+consts.Uint8Len {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncatedMessage, len(raw))
	}
	p := codec.NewReader(raw, consts.NetworkSizeLimit)
	m := &Message{
		ID:                 p.UnpackUint32(),
		InResponseTo:       p.UnpackUint32(),
		WaitingForResponse: p.UnpackBool(),
	}
	kind := Kind(p.UnpackByte())
	payload, err := unmarshalPayload(kind, p)
	if err != nil {
		return nil, err
	}
	m.Payload = payload
	if !p.Empty() {
		return nil, fmt.Errorf("%w: remaining=%d", ErrTrailingBytes, len(raw)-p.Offset())
	}
	return m, p.Err()
}
