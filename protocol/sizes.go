// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package protocol

// Size limits and safety margins from §4.4/§6. The margins are
// conservative upper bounds on what RLE/delta encoding could possibly
// emit for one more item; they exist so the message builder can decide
// whether an addition fits without re-encoding everything first.
const (
	// DefaultTotalMaxSize bounds one whole ProtocolMessage.
	DefaultTotalMaxSize = 1_000_000

	// DefaultRangesMaxSize bounds the ranges block alone.
	DefaultRangesMaxSize = 30_000

	// MaxMutationSize bounds one plaintext change, pre-padding.
	MaxMutationSize = 655_360

	// maxWireChangeLen bounds the encrypted, padded change as carried on
	// the wire; padding and AEAD overhead can grow a change past
	// MaxMutationSize, so this allows headroom rather than reusing the
	// plaintext bound directly.
	maxWireChangeLen = 2 * MaxMutationSize

	fingerprintSize = 12
	ownerIDLength   = 16
	writeKeyLength  = 32

	messageSafeMargin        = 30 + 8 // timestamp + change_length_varint
	remainingRangeSafeMargin = fingerprintSize + 10
	timestampsRangeSafeMargin = 50
	splitRangeSafeMargin      = 800
)
