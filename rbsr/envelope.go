// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package rbsr

import (
	"fmt"

	"github.com/dblokhin/relaysync/protocol"
	"github.com/dblokhin/relaysync/storage"
	"github.com/sirupsen/logrus"
)

// ClientOutcome tells the caller what ApplyAsClient produced (§4.6: "a
// new request, no-response, or broadcast" — translated into a small enum
// rather than a dynamically-typed return).
type ClientOutcome int

const (
	NoResponse ClientOutcome = iota
	NextRequest
	BroadcastApplied
)

// ApplyAsClient decodes a relay's reply, applies any inbound messages,
// and — only when writeKey is non-nil — runs the Sync Engine to decide
// whether another round is needed (§4.6 applyAsClient).
func ApplyAsClient(st storage.Storage, ourVersion uint64, reply *protocol.ProtocolMessage, writeKey *storage.WriteKey, totalMaxSize, rangesMaxSize int) (ClientOutcome, *protocol.ProtocolMessage, error) {
	if reply.Version != ourVersion {
		verr := protocol.NewSyncErr(protocol.UnsupportedVersion, reply.Owner, nil)
		verr.UnsupportedVersionValue = reply.Version
		return NoResponse, nil, verr
	}

	switch reply.Type {
	case protocol.Response:
		if reply.Error != protocol.NoError {
			return NoResponse, nil, protocol.NewSyncErr(reply.Error, reply.Owner, nil)
		}
	case protocol.Broadcast:
		// no error code to inspect
	default:
		return NoResponse, nil, fmt.Errorf("rbsr: client received unexpected message type %d", reply.Type)
	}

	if len(reply.Messages) > 0 {
		if err := st.WriteMessages(reply.Owner, reply.Messages); err != nil {
			return NoResponse, nil, protocol.NewSyncErr(protocol.WriteError, reply.Owner, err)
		}
	}

	if reply.Type == protocol.Broadcast {
		return BroadcastApplied, reply, nil
	}

	if writeKey == nil || len(reply.Ranges) == 0 {
		return NoResponse, nil, nil
	}

	builder := protocol.NewMessageBuilder(protocol.ProtocolMessage{
		Version:      ourVersion,
		Owner:        reply.Owner,
		Type:         protocol.Request,
		WriteKey:     writeKey,
		Subscription: protocol.SubscriptionNone,
	}, totalMaxSize, rangesMaxSize)

	hasChanges, err := Run(st, reply.Owner, reply.Ranges, builder)
	if err != nil {
		return NoResponse, nil, err
	}
	if !hasChanges {
		return NoResponse, nil, nil
	}
	return NextRequest, builder.Unwrap(), nil
}

// ApplyAsRelay decodes a client's request, validates authorization,
// applies inbound messages, optionally broadcasts them, and always
// returns a response (§4.6 applyAsRelay) — storage failures are folded
// into the response's error code rather than returned as a Go error, so
// the caller always has something to send back.
func ApplyAsRelay(st storage.Storage, subs Subscriptions, subscriberID string, ourVersion uint64, req *protocol.ProtocolMessage, totalMaxSize, rangesMaxSize int) (*protocol.ProtocolMessage, error) {
	if req.Type != protocol.Request {
		return nil, fmt.Errorf("rbsr: relay received non-request message type %d", req.Type)
	}

	if req.Version != ourVersion {
		return protocol.VersionMismatchResponse(ourVersion, req.Owner), nil
	}

	switch req.Subscription {
	case protocol.SubscriptionSubscribe:
		subs.OnSubscribe(req.Owner, subscriberID)
	case protocol.SubscriptionUnsubscribe:
		subs.OnUnsubscribe(req.Owner, subscriberID)
	}

	response := func(code protocol.ErrorKind) *protocol.ProtocolMessage {
		return &protocol.ProtocolMessage{Version: ourVersion, Owner: req.Owner, Type: protocol.Response, Error: code}
	}

	if len(req.Messages) > 0 && req.WriteKey == nil {
		return response(protocol.WriteKeyError), nil
	}

	if req.WriteKey != nil {
		ok, err := st.ValidateWriteKey(req.Owner, *req.WriteKey)
		if err != nil {
			logrus.WithField("owner", req.Owner).WithError(err).Warn("rbsr: validate_write_key failed")
			return response(protocol.SyncError), nil
		}
		if !ok {
			return response(protocol.WriteKeyError), nil
		}
	}

	if len(req.Messages) > 0 {
		if err := st.WriteMessages(req.Owner, req.Messages); err != nil {
			logrus.WithField("owner", req.Owner).WithError(err).Warn("rbsr: write_messages failed")
			return response(protocol.WriteError), nil
		}
		subs.Broadcast(req.Owner, req.Messages, subscriberID)
	}

	builder := protocol.NewMessageBuilder(protocol.ProtocolMessage{
		Version: ourVersion,
		Owner:   req.Owner,
		Type:    protocol.Response,
		Error:   protocol.NoError,
	}, totalMaxSize, rangesMaxSize)

	if len(req.Ranges) > 0 {
		if _, err := Run(st, req.Owner, req.Ranges, builder); err != nil {
			logrus.WithField("owner", req.Owner).WithError(err).Warn("rbsr: sync engine failed")
			return response(protocol.SyncError), nil
		}
	}

	return builder.Unwrap(), nil
}

// BuildRequest assembles an initiator's outgoing request: as many of
// pending's local messages as totalMaxSize allows, plus a baseline range
// describing this side's current state. If pending didn't fully fit, the
// baseline is replaced with a random continuation probe (§8 S4) rather
// than an accurate fingerprint, since the unsent tail of pending has
// nothing to do with the range-exchange's notion of "what's reconciled".
func BuildRequest(st storage.Storage, owner storage.OwnerID, version uint64, writeKey *storage.WriteKey, subscription protocol.SubscriptionFlag, pending []storage.Message, totalMaxSize, rangesMaxSize int) (*protocol.ProtocolMessage, error) {
	builder := protocol.NewMessageBuilder(protocol.ProtocolMessage{
		Version:      version,
		Owner:        owner,
		Type:         protocol.Request,
		WriteKey:     writeKey,
		Subscription: subscription,
	}, totalMaxSize, rangesMaxSize)

	overflowed := false
	for _, m := range pending {
		if !builder.CanAddMessage(m) {
			overflowed = true
			break
		}
		builder.AddMessage(m)
	}

	if overflowed {
		if err := continuationProbe(builder); err != nil {
			return nil, err
		}
		return builder.Unwrap(), nil
	}

	size, err := st.Size(owner)
	if err != nil {
		return nil, protocol.NewSyncErr(protocol.SyncError, owner, err)
	}
	fp, err := st.Fingerprint(owner, 0, size)
	if err != nil {
		return nil, protocol.NewSyncErr(protocol.SyncError, owner, err)
	}
	builder.AddRange(protocol.FingerprintRange(protocol.InfiniteBound(), fp))

	return builder.Unwrap(), nil
}
