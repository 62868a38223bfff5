// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package protocol

import "github.com/dblokhin/relaysync/storage"

// VersionMismatchResponse builds the minimal reply a relay sends when it
// does not implement the version a client requested (§4.6, §8 S3): just
// the version/owner header, no ranges or messages. The client surfaces
// this as SyncErr{Kind: UnsupportedVersion}.
func VersionMismatchResponse(relayVersion uint64, owner storage.OwnerID) *ProtocolMessage {
	return &ProtocolMessage{
		Version: relayVersion,
		Owner:   owner,
		Type:    Response,
		Error:   NoError,
	}
}
