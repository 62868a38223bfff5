// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package aead

import "math/bits"

// padmeLength rounds l up to the PADMÉ bucket boundary, bounding length
// leakage to O(log log L) bits (Glossary: "PADMÉ"). l=0 and l=1 are left
// unpadded — there is nothing to bucket below that.
func padmeLength(l int) int {
	if l < 2 {
		return l
	}

	e := bits.Len(uint(l)) - 1 // floor(log2(l))
	s := bits.Len(uint(e))     // floor(log2(e)) + 1
	lastBits := e - s
	if lastBits < 0 {
		lastBits = 0
	}
	mask := (1 << uint(lastBits)) - 1
	return (l + mask) &^ mask
}
