// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package rbsr

import (
	"crypto/rand"

	"github.com/dblokhin/relaysync/protocol"
	"github.com/dblokhin/relaysync/timestamp"
)

// continuationProbe appends a Fingerprint(+∞, random) range to builder. A
// random 12-byte value is guaranteed (with overwhelming probability) to
// mismatch whatever the peer actually holds, forcing it to reply with
// another round even though this side has nothing more to say right now
// — used when an initiator had more outgoing messages queued than this
// round's budget could carry, so the peer doesn't need to remember any
// cross-round state of its own (Design Notes §9 Open Question: kept
// isolated here so the `(Skip, Fingerprint(remaining), Skip)` alternative
// could be swapped in without touching the rest of the engine).
func continuationProbe(builder *protocol.MessageBuilder) error {
	var fp timestamp.Fingerprint
	if _, err := rand.Read(fp[:]); err != nil {
		return err
	}
	builder.AddRange(protocol.FingerprintRange(protocol.InfiniteBound(), fp))
	return nil
}
