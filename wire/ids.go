// Copyright (C) 2026, Chunkdb, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import "sync/atomic"

var messageID atomic.Uint32

// NextID allocates the next process-wide message ID. Zero is reserved for
// "no response", so the counter re-increments when it wraps onto it.
func NextID() uint32 {
	for {
		if id := messageID.Add(1); id != 0 {
			return id
		}
	}
}
