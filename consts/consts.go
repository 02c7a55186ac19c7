// Copyright (C) 2026, Chunkdb, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package consts

const (
	Uint8Len  = 1
	Uint16Len = 2
	Uint32Len = 4
	Uint64Len = 8
	BoolLen   = 1

	// MessageHeaderLen is the fixed prefix of every wire message:
	// id (u32) | inResponseTo (u32) | waitingForResponse (u8).
	MessageHeaderLen = Uint32Len + Uint32Len + Uint8Len

	// NetworkSizeLimit bounds any single wire message.
	NetworkSizeLimit = 2_097_152 // 2 MiB

	// MaxStringLen bounds packed strings (hostnames, settings documents,
	// failure reasons).
	MaxStringLen = 65_535

	MaxInt = int(^uint(0) >> 1)
)
