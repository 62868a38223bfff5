// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package protocol

import (
	"fmt"

	"github.com/dblokhin/relaysync/storage"
)

// ErrorKind enumerates the taxonomy of §7. Every kind but InvalidData
// carries an owner id.
type ErrorKind int

const (
	// NoError is ErrorCode 0 on the wire; it is never wrapped as a SyncErr.
	NoError ErrorKind = iota
	UnsupportedVersion
	InvalidData
	WriteKeyError
	WriteError
	SyncError
	TimestampMismatch
)

func (k ErrorKind) String() string {
	switch k {
	case NoError:
		return "NoError"
	case UnsupportedVersion:
		return "UnsupportedVersion"
	case InvalidData:
		return "InvalidData"
	case WriteKeyError:
		return "WriteKeyError"
	case WriteError:
		return "WriteError"
	case SyncError:
		return "SyncError"
	case TimestampMismatch:
		return "TimestampMismatch"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// errorCode is the wire ErrorCode a Response header carries (§6): only
// WriteKeyError, WriteError and SyncError have a distinct wire
// representation; everything else is local to a side and never serialized.
func (k ErrorKind) errorCode() byte {
	switch k {
	case WriteKeyError:
		return 1
	case WriteError:
		return 2
	case SyncError:
		return 3
	default:
		return 0
	}
}

func errorKindFromCode(code byte) ErrorKind {
	switch code {
	case 1:
		return WriteKeyError
	case 2:
		return WriteError
	case 3:
		return SyncError
	default:
		return NoError
	}
}

// SyncErr is the single exported error type for the taxonomy. Owner is the
// zero value when Kind == InvalidData, which carries no owner per §7.
type SyncErr struct {
	Kind  ErrorKind
	Owner storage.OwnerID

	// UnsupportedVersion carries the responder's version when Kind ==
	// UnsupportedVersion (§8 S3); IsInitiator distinguishes which side
	// surfaces the error.
	UnsupportedVersionValue uint64
	IsInitiator             bool

	err error
}

func (e *SyncErr) Error() string {
	if e.err != nil {
		return fmt.Sprintf("protocol: %s (owner=%x): %v", e.Kind, e.Owner, e.err)
	}
	return fmt.Sprintf("protocol: %s (owner=%x)", e.Kind, e.Owner)
}

func (e *SyncErr) Unwrap() error {
	return e.err
}

func newSyncErr(kind ErrorKind, owner storage.OwnerID, err error) *SyncErr {
	return &SyncErr{Kind: kind, Owner: owner, err: err}
}

// NewSyncErr builds a SyncErr for the given kind/owner, wrapping the
// underlying cause. Exported so package rbsr (which must translate
// storage failures into SyncError and decode failures into InvalidData
// without importing anything that would create an import cycle back into
// protocol) can produce the same taxonomy this package decodes.
func NewSyncErr(kind ErrorKind, owner storage.OwnerID, err error) *SyncErr {
	return newSyncErr(kind, owner, err)
}
