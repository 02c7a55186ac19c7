// Copyright (C) 2026, Chunkdb, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chunk

import (
	"errors"
	"fmt"

	"github.com/chunkdb/chunkdb/cluster"
	"github.com/chunkdb/chunkdb/codec"
)

var ErrInvalidRange = errors.New("chunk start must precede end")

// Definition is a half-open key range [Start, End) owned by exactly one
// storage node.
type Definition struct {
	Start Marker
	End   Marker
	Owner cluster.NodeDefinition
}

func NewDefinition(start, end Marker, owner cluster.NodeDefinition) (Definition, error) {
	if !start.Less(end) {
		return Definition{}, fmt.Errorf("%w: %s >= %s", ErrInvalidRange, start, end)
	}
	return Definition{Start: start, End: end, Owner: owner}, nil
}

// Contains reports whether key falls inside [Start, End).
func (d Definition) Contains(key string) bool {
	m := Value(key)
	return !m.Less(d.Start) && m.Less(d.End)
}

func (d Definition) String() string {
	return fmt.Sprintf("[%s, %s)@%s", d.Start, d.End, d.Owner)
}

func (d Definition) Marshal(p *codec.Packer) {
	d.Start.Marshal(p)
	d.End.Marshal(p)
	p.PackStr(d.Owner.Hostname)
	p.PackUint16(d.Owner.Port)
}

func UnmarshalDefinition(p *codec.Packer) (Definition, error) {
	start, err := UnmarshalMarker(p)
	if err != nil {
		return Definition{}, err
	}
	end, err := UnmarshalMarker(p)
	if err != nil {
		return Definition{}, err
	}
	owner := cluster.NodeDefinition{Hostname: p.UnpackStr(), Port: p.UnpackUint16()}
	if err := p.Err(); err != nil {
		return Definition{}, err
	}
	return Definition{Start: start, End: end, Owner: owner}, nil
}
