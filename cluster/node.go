// Copyright (C) 2026, Chunkdb, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cluster

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidAddress = errors.New("invalid node address")

// NodeType classifies a peer after its join handshake succeeds.
type NodeType byte

const (
	UnknownNode NodeType = iota
	ControllerNode
	QueryNode
	StorageNode
	ApiNode
	ConsoleNode
)

func (t NodeType) String() string {
	switch t {
	case ControllerNode:
		return "controller"
	case QueryNode:
		return "query"
	case StorageNode:
		return "storage"
	case ApiNode:
		return "api"
	case ConsoleNode:
		return "console"
	default:
		return "unknown"
	}
}

// NodeDefinition is an immutable (hostname, port) pair. The derived
// connection name "hostname:port" is the total ordering key used for
// election tie-breaking and peer-registry lookups.
type NodeDefinition struct {
	Hostname string
	Port     uint16
}

func NewNodeDefinition(hostname string, port uint16) NodeDefinition {
	return NodeDefinition{Hostname: hostname, Port: port}
}

// ParseNodeDefinition parses "hostname:port".
func ParseNodeDefinition(s string) (NodeDefinition, error) {
	idx := strings.LastIndexByte(s, ':')
	if idx <= 0 || idx == len(s)-1 {
		return NodeDefinition{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	port, err := strconv.ParseUint(s[idx+1:], 10, 16)
	if err != nil {
		return NodeDefinition{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return NodeDefinition{Hostname: s[:idx], Port: uint16(port)}, nil
}

func (n NodeDefinition) ConnectionName() string {
	return fmt.Sprintf("%s:%d", n.Hostname, n.Port)
}

func (n NodeDefinition) String() string { return n.ConnectionName() }

// Less orders by connection name; every replica must agree on this order.
func (n NodeDefinition) Less(o NodeDefinition) bool {
	return n.ConnectionName() < o.ConnectionName()
}

// Peer is a registry entry: a live connection and its classified role.
type Peer struct {
	Addr        string
	Type        NodeType
	Established bool
}
