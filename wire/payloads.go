// Copyright (C) 2026, Chunkdb, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import (
	"errors"
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/chunkdb/chunkdb/chunk"
	"github.com/chunkdb/chunkdb/cluster"
	"github.com/chunkdb/chunkdb/codec"
	"github.com/chunkdb/chunkdb/consts"
)

var ErrUnknownPayload = errors.New("unknown payload kind")

// Kind tags a payload on the wire. The core routes messages by this tag;
// the field encodings behind it are private to each variant.
type Kind byte

const (
	KindJoinAttempt Kind = iota + 1
	KindJoinSuccess
	KindJoinFailure
	KindAcknowledgement
	KindVotingRequest
	KindVotingResponse
	KindLastPrimaryMessageIDRequest
	KindLastPrimaryMessageIDResponse
	KindPrimaryAnnouncement
	KindChunkListUpdate
	KindChunkSplit
	KindChunkMerge
	KindDataOperation
	KindDataOperationResult
	KindNodeList
	KindDatabaseCreate
)

type Payload interface {
	Kind() Kind
	Marshal(p *codec.Packer)
}

func unmarshalPayload(kind Kind, p *codec.Packer) (Payload, error) {
	switch kind {
	case KindJoinAttempt:
		return unmarshalJoinAttempt(p)
	case KindJoinSuccess:
		return unmarshalJoinSuccess(p)
	case KindJoinFailure:
		return &JoinFailure{Reason: p.UnpackStr()}, p.Err()
	case KindAcknowledgement:
		return &Acknowledgement{}, p.Err()
	case KindVotingRequest:
		return &VotingRequest{}, p.Err()
	case KindVotingResponse:
		return &VotingResponse{Answer: p.UnpackBool()}, p.Err()
	case KindLastPrimaryMessageIDRequest:
		return &LastPrimaryMessageIDRequest{}, p.Err()
	case KindLastPrimaryMessageIDResponse:
		return &LastPrimaryMessageIDResponse{LastPrimaryMessageID: p.UnpackUint32()}, p.Err()
	case KindPrimaryAnnouncement:
		return &PrimaryAnnouncement{Primary: unpackNode(p)}, p.Err()
	case KindChunkListUpdate:
		return unmarshalChunkListUpdate(p)
	case KindChunkSplit:
		return unmarshalChunkSplit(p)
	case KindChunkMerge:
		return unmarshalChunkMerge(p)
	case KindDataOperation:
		return &DataOperation{Operation: p.UnpackBytes(consts.NetworkSizeLimit)}, p.Err()
	case KindDataOperationResult:
		return &DataOperationResult{Failed: p.UnpackBool(), Message: p.UnpackStr()}, p.Err()
	case KindNodeList:
		return unmarshalNodeList(p)
	case KindDatabaseCreate:
		return &DatabaseCreate{}, p.Err()
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownPayload, kind)
	}
}

func packNode(p *codec.Packer, n cluster.NodeDefinition) {
	p.PackStr(n.Hostname)
	p.PackUint16(n.Port)
}

func unpackNode(p *codec.Packer) cluster.NodeDefinition {
	return cluster.NodeDefinition{Hostname: p.UnpackStr(), Port: p.UnpackUint16()}
}

// JoinAttempt opens admission for any peer type. Name and Port declare the
// joiner's canonical listen address; Settings carries the settings document
// (XML, or the raw connection string for API peers).
type JoinAttempt struct {
	NodeType     cluster.NodeType
	Name         string
	Port         uint16
	Settings     string
	PrimaryClaim bool
}

func (*JoinAttempt) Kind() Kind { return KindJoinAttempt }

func (j *JoinAttempt) Marshal(p *codec.Packer) {
	p.PackByte(byte(j.NodeType))
	p.PackStr(j.Name)
	p.PackUint16(j.Port)
	p.PackStr(j.Settings)
	p.PackBool(j.PrimaryClaim)
}

func unmarshalJoinAttempt(p *codec.Packer) (*JoinAttempt, error) {
	j := &JoinAttempt{
		NodeType:     cluster.NodeType(p.UnpackByte()),
		Name:         p.UnpackStr(),
		Port:         p.UnpackUint16(),
		Settings:     p.UnpackStr(),
		PrimaryClaim: p.UnpackBool(),
	}
	return j, p.Err()
}

// JoinSuccess admits a peer. Doc is an optional string document; absent keys
// are unset. The primary adds "maxChunkItemCount" for storage joiners.
type JoinSuccess struct {
	Primary bool
	Doc     map[string]string
}

// Doc keys known to the core.
const DocMaxChunkItemCount = "maxChunkItemCount"

func (*JoinSuccess) Kind() Kind { return KindJoinSuccess }

func (j *JoinSuccess) Marshal(p *codec.Packer) {
	p.PackBool(j.Primary)
	keys := maps.Keys(j.Doc)
	slices.Sort(keys)
	p.PackUint16(uint16(len(keys)))
	for _, k := range keys {
		p.PackStr(k)
		p.PackStr(j.Doc[k])
	}
}

func unmarshalJoinSuccess(p *codec.Packer) (*JoinSuccess, error) {
	j := &JoinSuccess{Primary: p.UnpackBool()}
	n := int(p.UnpackUint16())
	if n > 0 {
		j.Doc = make(map[string]string, n)
		for i := 0; i < n; i++ {
			k := p.UnpackStr()
			j.Doc[k] = p.UnpackStr()
		}
	}
	return j, p.Err()
}

type JoinFailure struct {
	Reason string
}

func (*JoinFailure) Kind() Kind                { return KindJoinFailure }
func (j *JoinFailure) Marshal(p *codec.Packer) { p.PackStr(j.Reason) }

type Acknowledgement struct{}

func (*Acknowledgement) Kind() Kind            { return KindAcknowledgement }
func (*Acknowledgement) Marshal(*codec.Packer) {}

type VotingRequest struct{}

func (*VotingRequest) Kind() Kind            { return KindVotingRequest }
func (*VotingRequest) Marshal(*codec.Packer) {}

type VotingResponse struct {
	Answer bool
}

func (*VotingResponse) Kind() Kind                { return KindVotingResponse }
func (v *VotingResponse) Marshal(p *codec.Packer) { p.PackBool(v.Answer) }

type LastPrimaryMessageIDRequest struct{}

func (*LastPrimaryMessageIDRequest) Kind() Kind            { return KindLastPrimaryMessageIDRequest }
func (*LastPrimaryMessageIDRequest) Marshal(*codec.Packer) {}

type LastPrimaryMessageIDResponse struct {
	LastPrimaryMessageID uint32
}

func (*LastPrimaryMessageIDResponse) Kind() Kind { return KindLastPrimaryMessageIDResponse }
func (l *LastPrimaryMessageIDResponse) Marshal(p *codec.Packer) {
	p.PackUint32(l.LastPrimaryMessageID)
}

type PrimaryAnnouncement struct {
	Primary cluster.NodeDefinition
}

func (*PrimaryAnnouncement) Kind() Kind                { return KindPrimaryAnnouncement }
func (a *PrimaryAnnouncement) Marshal(p *codec.Packer) { packNode(p, a.Primary) }

// ChunkListUpdate carries the whole chunk map; receivers replace their copy
// wholesale.
type ChunkListUpdate struct {
	Chunks []chunk.Definition
}

func (*ChunkListUpdate) Kind() Kind { return KindChunkListUpdate }

func (c *ChunkListUpdate) Marshal(p *codec.Packer) {
	p.PackUint16(uint16(len(c.Chunks)))
	for _, d := range c.Chunks {
		d.Marshal(p)
	}
}

func unmarshalChunkListUpdate(p *codec.Packer) (*ChunkListUpdate, error) {
	n := int(p.UnpackUint16())
	c := &ChunkListUpdate{}
	for i := 0; i < n; i++ {
		d, err := chunk.UnmarshalDefinition(p)
		if err != nil {
			return nil, err
		}
		c.Chunks = append(c.Chunks, d)
	}
	return c, p.Err()
}

// ChunkSplit declares that the sender's chunk (Start1, X) became
// (Start1, End1) and (Start2, End2), with End1 == Start2.
type ChunkSplit struct {
	Start1 chunk.Marker
	End1   chunk.Marker
	Start2 chunk.Marker
	End2   chunk.Marker
}

func (*ChunkSplit) Kind() Kind { return KindChunkSplit }

func (c *ChunkSplit) Marshal(p *codec.Packer) {
	c.Start1.Marshal(p)
	c.End1.Marshal(p)
	c.Start2.Marshal(p)
	c.End2.Marshal(p)
}

func unmarshalChunkSplit(p *codec.Packer) (*ChunkSplit, error) {
	var (
		c   ChunkSplit
		err error
	)
	if c.Start1, err = chunk.UnmarshalMarker(p); err != nil {
		return nil, err
	}
	if c.End1, err = chunk.UnmarshalMarker(p); err != nil {
		return nil, err
	}
	if c.Start2, err = chunk.UnmarshalMarker(p); err != nil {
		return nil, err
	}
	if c.End2, err = chunk.UnmarshalMarker(p); err != nil {
		return nil, err
	}
	return &c, p.Err()
}

type ChunkMerge struct {
	Start chunk.Marker
	End   chunk.Marker
}

func (*ChunkMerge) Kind() Kind { return KindChunkMerge }

func (c *ChunkMerge) Marshal(p *codec.Packer) {
	c.Start.Marshal(p)
	c.End.Marshal(p)
}

func unmarshalChunkMerge(p *codec.Packer) (*ChunkMerge, error) {
	var (
		c   ChunkMerge
		err error
	)
	if c.Start, err = chunk.UnmarshalMarker(p); err != nil {
		return nil, err
	}
	if c.End, err = chunk.UnmarshalMarker(p); err != nil {
		return nil, err
	}
	return &c, p.Err()
}

// DataOperation is an opaque data-plane request the controller proxies to a
// query node.
type DataOperation struct {
	Operation []byte
}

func (*DataOperation) Kind() Kind                { return KindDataOperation }
func (d *DataOperation) Marshal(p *codec.Packer) { p.PackBytes(d.Operation) }

type DataOperationResult struct {
	Failed  bool
	Message string
}

func (*DataOperationResult) Kind() Kind { return KindDataOperationResult }

func (d *DataOperationResult) Marshal(p *codec.Packer) {
	p.PackBool(d.Failed)
	p.PackStr(d.Message)
}

// NodeList announces the connected nodes of one type.
type NodeList struct {
	NodeType cluster.NodeType
	Nodes    []cluster.NodeDefinition
}

func (*NodeList) Kind() Kind { return KindNodeList }

func (l *NodeList) Marshal(p *codec.Packer) {
	p.PackByte(byte(l.NodeType))
	p.PackUint16(uint16(len(l.Nodes)))
	for _, n := range l.Nodes {
		packNode(p, n)
	}
}

func unmarshalNodeList(p *codec.Packer) (*NodeList, error) {
	l := &NodeList{NodeType: cluster.NodeType(p.UnpackByte())}
	n := int(p.UnpackUint16())
	for i := 0; i < n; i++ {
		l.Nodes = append(l.Nodes, unpackNode(p))
	}
	return l, p.Err()
}

// DatabaseCreate asks a storage node to create the initial database. The
// storage node answers with an Acknowledgement on success.
type DatabaseCreate struct{}

func (*DatabaseCreate) Kind() Kind            { return KindDatabaseCreate }
func (*DatabaseCreate) Marshal(*codec.Packer) {}
