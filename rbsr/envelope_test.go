package rbsr

import (
	"testing"

	"github.com/dblokhin/relaysync/protocol"
	"github.com/dblokhin/relaysync/storage"
	"github.com/dblokhin/relaysync/timestamp"
	"github.com/stretchr/testify/require"
)

type fakeSubscriptions struct {
	subscribed   []string
	unsubscribed []string
	broadcasts   int
	lastExcept   string
	lastOwner    storage.OwnerID
	lastMessages []storage.Message
}

func (f *fakeSubscriptions) OnSubscribe(owner storage.OwnerID, subscriber string) {
	f.subscribed = append(f.subscribed, subscriber)
}

func (f *fakeSubscriptions) OnUnsubscribe(owner storage.OwnerID, subscriber string) {
	f.unsubscribed = append(f.unsubscribed, subscriber)
}

func (f *fakeSubscriptions) Broadcast(owner storage.OwnerID, messages []storage.Message, except string) {
	f.broadcasts++
	f.lastExcept = except
	f.lastOwner = owner
	f.lastMessages = messages
}

func oneMessage(millis uint64) storage.Message {
	var node timestamp.NodeID
	node[0] = 3
	ts := timestamp.Timestamp{Millis: millis, Counter: 0, Node: node}
	return storage.Message{Timestamp: ts, Change: storage.EncryptedDbChange("payload")}
}

func TestApplyAsClientRejectsVersionMismatch(t *testing.T) {
	st := newTestStorage(t)
	reply := &protocol.ProtocolMessage{Version: 2, Owner: testOwner(), Type: protocol.Response}

	outcome, msg, err := ApplyAsClient(st, 1, reply, nil, 0, 0)
	require.Error(t, err)
	require.Equal(t, NoResponse, outcome)
	require.Nil(t, msg)

	var syncErr *protocol.SyncErr
	require.ErrorAs(t, err, &syncErr)
	require.Equal(t, protocol.UnsupportedVersion, syncErr.Kind)
}

func TestApplyAsClientAppliesMessagesAndStopsWithoutWriteKey(t *testing.T) {
	st := newTestStorage(t)
	owner := testOwner()
	msg := oneMessage(1)

	reply := &protocol.ProtocolMessage{
		Version:  1,
		Owner:    owner,
		Type:     protocol.Response,
		Error:    protocol.NoError,
		Messages: []storage.Message{msg},
	}

	outcome, next, err := ApplyAsClient(st, 1, reply, nil, protocol.DefaultTotalMaxSize, protocol.DefaultRangesMaxSize)
	require.NoError(t, err)
	require.Equal(t, NoResponse, outcome)
	require.Nil(t, next)

	size, err := st.Size(owner)
	require.NoError(t, err)
	require.Equal(t, 1, size)
}

func TestApplyAsClientSurfacesServerErrorCode(t *testing.T) {
	st := newTestStorage(t)
	reply := &protocol.ProtocolMessage{Version: 1, Owner: testOwner(), Type: protocol.Response, Error: protocol.WriteKeyError}

	_, _, err := ApplyAsClient(st, 1, reply, nil, 0, 0)
	require.Error(t, err)
	var syncErr *protocol.SyncErr
	require.ErrorAs(t, err, &syncErr)
	require.Equal(t, protocol.WriteKeyError, syncErr.Kind)
}

func TestApplyAsClientBroadcastIsAppliedWithoutFurtherRounds(t *testing.T) {
	st := newTestStorage(t)
	owner := testOwner()
	msg := oneMessage(1)

	reply := &protocol.ProtocolMessage{
		Version:  1,
		Owner:    owner,
		Type:     protocol.Broadcast,
		Messages: []storage.Message{msg},
	}

	var key storage.WriteKey
	outcome, next, err := ApplyAsClient(st, 1, reply, &key, protocol.DefaultTotalMaxSize, protocol.DefaultRangesMaxSize)
	require.NoError(t, err)
	require.Equal(t, BroadcastApplied, outcome)
	require.Same(t, reply, next)

	size, err := st.Size(owner)
	require.NoError(t, err)
	require.Equal(t, 1, size)
}

func TestApplyAsClientBuildsNextRequestWhenRangesRemain(t *testing.T) {
	st := newTestStorage(t)
	owner := testOwner()
	seedTimestamps(t, st, owner, 5)

	reply := &protocol.ProtocolMessage{
		Version: 1,
		Owner:   owner,
		Type:    protocol.Response,
		Error:   protocol.NoError,
		Ranges:  []protocol.Range{protocol.FingerprintRange(protocol.InfiniteBound(), timestamp.Fingerprint{0xAB})},
	}

	var key storage.WriteKey
	outcome, next, err := ApplyAsClient(st, 1, reply, &key, protocol.DefaultTotalMaxSize, protocol.DefaultRangesMaxSize)
	require.NoError(t, err)
	require.Equal(t, NextRequest, outcome)
	require.NotNil(t, next)
	require.Equal(t, protocol.Request, next.Type)
	require.NotEmpty(t, next.Ranges)
}

// S3 — version mismatch: a relay presented with a client version it does
// not implement replies with its own version and no error, rather than
// attempting sync.
func TestApplyAsRelayRespondsToVersionMismatchWithoutSyncing(t *testing.T) {
	st := newTestStorage(t)
	subs := &fakeSubscriptions{}
	req := &protocol.ProtocolMessage{Version: 99, Owner: testOwner(), Type: protocol.Request}

	resp, err := ApplyAsRelay(st, subs, "peer-1", 1, req, protocol.DefaultTotalMaxSize, protocol.DefaultRangesMaxSize)
	require.NoError(t, err)
	require.Equal(t, uint64(1), resp.Version)
	require.Equal(t, protocol.NoError, resp.Error)
	require.Empty(t, resp.Ranges)
}

// S5 — a request presenting the wrong write key for an owner that already
// has one on file is rejected with WriteKeyError, and nothing is written.
func TestApplyAsRelayRejectsWrongWriteKey(t *testing.T) {
	st := newTestStorage(t)
	subs := &fakeSubscriptions{}
	owner := testOwner()

	var first storage.WriteKey
	first[0] = 1
	ok, err := st.ValidateWriteKey(owner, first)
	require.NoError(t, err)
	require.True(t, ok)

	var second storage.WriteKey
	second[0] = 2
	req := &protocol.ProtocolMessage{
		Version:  1,
		Owner:    owner,
		Type:     protocol.Request,
		WriteKey: &second,
		Messages: []storage.Message{oneMessage(1)},
	}

	resp, err := ApplyAsRelay(st, subs, "peer-1", 1, req, protocol.DefaultTotalMaxSize, protocol.DefaultRangesMaxSize)
	require.NoError(t, err)
	require.Equal(t, protocol.WriteKeyError, resp.Error)

	size, err := st.Size(owner)
	require.NoError(t, err)
	require.Zero(t, size)
	require.Zero(t, subs.broadcasts)
}

// A request bearing messages but no write key must be rejected outright,
// even though ValidateWriteKey would never be consulted to tell us no.
func TestApplyAsRelayRejectsMessagesWithoutWriteKey(t *testing.T) {
	st := newTestStorage(t)
	subs := &fakeSubscriptions{}
	owner := testOwner()

	req := &protocol.ProtocolMessage{
		Version:  1,
		Owner:    owner,
		Type:     protocol.Request,
		Messages: []storage.Message{oneMessage(1)},
	}

	resp, err := ApplyAsRelay(st, subs, "peer-1", 1, req, protocol.DefaultTotalMaxSize, protocol.DefaultRangesMaxSize)
	require.NoError(t, err)
	require.Equal(t, protocol.WriteKeyError, resp.Error)

	size, err := st.Size(owner)
	require.NoError(t, err)
	require.Zero(t, size)
	require.Zero(t, subs.broadcasts)
}

func TestApplyAsRelayWritesMessagesAndBroadcastsExceptSender(t *testing.T) {
	st := newTestStorage(t)
	subs := &fakeSubscriptions{}
	owner := testOwner()
	msg := oneMessage(1)

	var key storage.WriteKey
	req := &protocol.ProtocolMessage{
		Version:  1,
		Owner:    owner,
		Type:     protocol.Request,
		WriteKey: &key,
		Messages: []storage.Message{msg},
	}

	resp, err := ApplyAsRelay(st, subs, "peer-1", 1, req, protocol.DefaultTotalMaxSize, protocol.DefaultRangesMaxSize)
	require.NoError(t, err)
	require.Equal(t, protocol.NoError, resp.Error)
	require.Equal(t, 1, subs.broadcasts)
	require.Equal(t, "peer-1", subs.lastExcept)
	require.Len(t, subs.lastMessages, 1)

	size, err := st.Size(owner)
	require.NoError(t, err)
	require.Equal(t, 1, size)
}

func TestApplyAsRelayHandlesSubscribeFlag(t *testing.T) {
	st := newTestStorage(t)
	subs := &fakeSubscriptions{}
	owner := testOwner()

	req := &protocol.ProtocolMessage{Version: 1, Owner: owner, Type: protocol.Request, Subscription: protocol.SubscriptionSubscribe}
	_, err := ApplyAsRelay(st, subs, "peer-2", 1, req, protocol.DefaultTotalMaxSize, protocol.DefaultRangesMaxSize)
	require.NoError(t, err)
	require.Equal(t, []string{"peer-2"}, subs.subscribed)

	req2 := &protocol.ProtocolMessage{Version: 1, Owner: owner, Type: protocol.Request, Subscription: protocol.SubscriptionUnsubscribe}
	_, err = ApplyAsRelay(st, subs, "peer-2", 1, req2, protocol.DefaultTotalMaxSize, protocol.DefaultRangesMaxSize)
	require.NoError(t, err)
	require.Equal(t, []string{"peer-2"}, subs.unsubscribed)
}

func TestApplyAsRelayAlwaysReturnsAResponse(t *testing.T) {
	st := newTestStorage(t)
	subs := &fakeSubscriptions{}
	owner := testOwner()

	req := &protocol.ProtocolMessage{Version: 1, Owner: owner, Type: protocol.Request}
	resp, err := ApplyAsRelay(st, subs, "peer-3", 1, req, protocol.DefaultTotalMaxSize, protocol.DefaultRangesMaxSize)
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Equal(t, protocol.Response, resp.Type)
	require.Equal(t, protocol.NoError, resp.Error)
	require.Empty(t, resp.Ranges)
	require.Empty(t, resp.Messages)
}

func TestBuildRequestIncludesPendingMessagesAndBaselineFingerprint(t *testing.T) {
	st := newTestStorage(t)
	owner := testOwner()
	seedTimestamps(t, st, owner, 2)

	pending := []storage.Message{oneMessage(100), oneMessage(101)}
	var key storage.WriteKey
	req, err := BuildRequest(st, owner, 1, &key, protocol.SubscriptionNone, pending, protocol.DefaultTotalMaxSize, protocol.DefaultRangesMaxSize)
	require.NoError(t, err)
	require.Equal(t, protocol.Request, req.Type)
	require.Len(t, req.Messages, 2)
	require.Len(t, req.Ranges, 1)
	require.Equal(t, protocol.RangeFingerprint, req.Ranges[0].Kind)
	require.True(t, req.Ranges[0].Upper.Infinite)
}

// S4 — when pending messages overflow the budget, the baseline is a random
// continuation probe rather than an accurate fingerprint.
func TestBuildRequestUsesContinuationProbeWhenPendingOverflows(t *testing.T) {
	st := newTestStorage(t)
	owner := testOwner()

	var pending []storage.Message
	for i := 0; i < 50; i++ {
		pending = append(pending, oneMessage(uint64(i)))
	}

	var key storage.WriteKey
	req, err := BuildRequest(st, owner, 1, &key, protocol.SubscriptionNone, pending, 900, protocol.DefaultRangesMaxSize)
	require.NoError(t, err)
	require.Less(t, len(req.Messages), len(pending))
	require.Len(t, req.Ranges, 1)
	require.Equal(t, protocol.RangeFingerprint, req.Ranges[0].Kind)
	require.True(t, req.Ranges[0].Upper.Infinite)
}
