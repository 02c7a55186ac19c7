// Copyright (C) 2026, Chunkdb, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chunk

import (
	"errors"
	"strings"

	"github.com/chunkdb/chunkdb/codec"
)

var ErrInvalidMarker = errors.New("invalid chunk marker")

type markerKind byte

// Wire order doubles as sort order: Start < Value(k) < End for every k.
const (
	startKind markerKind = iota
	valueKind
	endKind
)

// Marker is a sentinel-extended key bounding a chunk range.
type Marker struct {
	kind markerKind
	key  string
}

// Start is the marker below all keys.
func Start() Marker { return Marker{kind: startKind} }

// End is the marker above all keys.
func End() Marker { return Marker{kind: endKind} }

// Value wraps a concrete key.
func Value(key string) Marker { return Marker{kind: valueKind, key: key} }

func (m Marker) IsStart() bool { return m.kind == startKind }
func (m Marker) IsEnd() bool   { return m.kind == endKind }

// Key returns the wrapped key; empty for sentinels.
func (m Marker) Key() string { return m.key }

// Compare returns -1, 0, or 1. Sentinels order around all values; values
// order by the key's natural order.
func (m Marker) Compare(o Marker) int {
	if m.kind != o.kind {
		if m.kind < o.kind {
			return -1
		}
		return 1
	}
	if m.kind != valueKind {
		return 0
	}
	return strings.Compare(m.key, o.key)
}

func (m Marker) Less(o Marker) bool  { return m.Compare(o) < 0 }
func (m Marker) Equal(o Marker) bool { return m.Compare(o) == 0 }

func (m Marker) String() string {
	switch m.kind {
	case startKind:
		return "<start>"
	case endKind:
		return "<end>"
	default:
		return m.key
	}
}

func (m Marker) Marshal(p *codec.Packer) {
	p.PackByte(byte(m.kind))
	if m.kind == valueKind {
		p.PackStr(m.key)
	}
}

func UnmarshalMarker(p *codec.Packer) (Marker, error) {
	kind := markerKind(p.UnpackByte())
	switch kind {
	case startKind, endKind:
		return Marker{kind: kind}, p.Err()
	case valueKind:
		return Marker{kind: kind, key: p.UnpackStr()}, p.Err()
	default:
		return Marker{}, ErrInvalidMarker
	}
}
