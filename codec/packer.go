// Copyright (C) 2026, Chunkdb, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package codec

import (
	"encoding/binary"
	"errors"

	"github.com/chunkdb/chunkdb/consts"
)

var (
	ErrInsufficientLength = errors.New("packer has insufficient length for input")
	ErrOversized          = errors.New("size is larger than limit")
	ErrInvalidBool        = errors.New("unexpected bool value")
)

// Packer packs and unpacks the little-endian encoding shared by every wire
// payload. A Packer created with [NewWriter] only packs; one created with
// [NewReader] only unpacks. The first failure latches into [Packer.Err] and
// turns every later call into a no-op.
type Packer struct {
	b       []byte
	offset  int
	maxSize int
	err     error
}

func NewWriter(initial, maxSize int) *Packer {
	return &Packer{b: make([]byte, 0, initial), maxSize: maxSize}
}

func NewReader(src []byte, maxSize int) *Packer {
	p := &Packer{b: src, maxSize: maxSize}
	if len(src) > maxSize {
		p.err = ErrOversized
	}
	return p
}

func (p *Packer) checkSpace(n int) bool {
	if p.err != nil {
		return false
	}
	if len(p.b)+n > p.maxSize {
		p.err = ErrOversized
		return false
	}
	return true
}

func (p *Packer) checkRead(n int) bool {
	if p.err != nil {
		return false
	}
	if p.offset+n > len(p.b) {
		p.err = ErrInsufficientLength
		return false
	}
	return true
}

func (p *Packer) PackByte(v byte) {
	if !p.checkSpace(consts.Uint8Len) {
		return
	}
	p.b = append(p.b, v)
}

func (p *Packer) UnpackByte() byte {
	if !p.checkRead(consts.Uint8Len) {
		return 0
	}
	v := p.b[p.offset]
	p.offset += consts.Uint8Len
	return v
}

func (p *Packer) PackBool(v bool) {
	if v {
		p.PackByte(1)
	} else {
		p.PackByte(0)
	}
}

func (p *Packer) UnpackBool() bool {
	switch p.UnpackByte() {
	case 0:
		return false
	case 1:
		return true
	default:
		if p.err == nil {
			p.err = ErrInvalidBool
		}
		return false
	}
}

func (p *Packer) PackUint16(v uint16) {
	if !p.checkSpace(consts.Uint16Len) {
		return
	}
	p.b = binary.LittleEndian.AppendUint16(p.b, v)
}

func (p *Packer) UnpackUint16() uint16 {
	if !p.checkRead(consts.Uint16Len) {
		return 0
	}
	v := binary.LittleEndian.Uint16(p.b[p.offset:])
	p.offset += consts.Uint16Len
	return v
}

func (p *Packer) PackUint32(v uint32) {
	if !p.checkSpace(consts.Uint32Len) {
		return
	}
	p.b = binary.LittleEndian.AppendUint32(p.b, v)
}

func (p *Packer) UnpackUint32() uint32 {
	if !p.checkRead(consts.Uint32Len) {
		return 0
	}
	v := binary.LittleEndian.Uint32(p.b[p.offset:])
	p.offset += consts.Uint32Len
	return v
}

func (p *Packer) PackUint64(v uint64) {
	if !p.checkSpace(consts.Uint64Len) {
		return
	}
	p.b = binary.LittleEndian.AppendUint64(p.b, v)
}

func (p *Packer) UnpackUint64() uint64 {
	if !p.checkRead(consts.Uint64Len) {
		return 0
	}
	v := binary.LittleEndian.Uint64(p.b[p.offset:])
	p.offset += consts.Uint64Len
	return v
}

func (p *Packer) PackInt(v int) {
	if v < 0 || v > consts.MaxStringLen {
		if p.err == nil {
			p.err = ErrOversized
		}
		return
	}
	p.PackUint32(uint32(v))
}

func (p *Packer) UnpackInt() int {
	return int(p.UnpackUint32())
}

// PackStr packs a u16-length-prefixed string.
func (p *Packer) PackStr(v string) {
	if len(v) > consts.MaxStringLen {
		if p.err == nil {
			p.err = ErrOversized
		}
		return
	}
	p.PackUint16(uint16(len(v)))
	if !p.checkSpace(len(v)) {
		return
	}
	p.b = append(p.b, v...)
}

func (p *Packer) UnpackStr() string {
	n := int(p.UnpackUint16())
	if !p.checkRead(n) {
		return ""
	}
	v := string(p.b[p.offset : p.offset+n])
	p.offset += n
	return v
}

// PackBytes packs a u32-length-prefixed byte slice.
func (p *Packer) PackBytes(v []byte) {
	p.PackUint32(uint32(len(v)))
	if !p.checkSpace(len(v)) {
		return
	}
	p.b = append(p.b, v...)
}

func (p *Packer) UnpackBytes(limit int) []byte {
	n := int(p.UnpackUint32())
	if n > limit {
		if p.err == nil {
			p.err = ErrOversized
		}
		return nil
	}
	if !p.checkRead(n) {
		return nil
	}
	v := make([]byte, n)
	copy(v, p.b[p.offset:p.offset+n])
	p.offset += n
	return v
}

func (p *Packer) PackFixedBytes(v []byte) {
	if !p.checkSpace(len(v)) {
		return
	}
	p.b = append(p.b, v...)
}

func (p *Packer) UnpackFixedBytes(n int) []byte {
	if !p.checkRead(n) {
		return nil
	}
	v := make([]byte, n)
	copy(v, p.b[p.offset:p.offset+n])
	p.offset += n
	return v
}

func (p *Packer) Bytes() []byte { return p.b }

func (p *Packer) Err() error { return p.err }

// Empty reports whether a reader consumed its whole input.
func (p *Packer) Empty() bool { return p.offset == len(p.b) }

func (p *Packer) Offset() int { return p.offset }
