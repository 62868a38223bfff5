// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

// Command relay runs a minimal TCP server speaking the sync protocol
// directly over transport's length-prefixed framing: each connection
// carries any number of requests, each answered by one response, with
// in-memory subscriber fan-out for
// broadcast. It exists to exercise the envelope end-to-end, not as a
// production deployment (no persistence beyond the SQLite file, no TLS,
// no peer discovery).
package main

import (
	"flag"
	"io"
	"net"
	"os"
	"sync"

	"github.com/dblokhin/relaysync/protocol"
	"github.com/dblokhin/relaysync/rbsr"
	"github.com/dblokhin/relaysync/storage"
	"github.com/dblokhin/relaysync/transport"
	"github.com/sirupsen/logrus"
)

func init() {
	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(logrus.InfoLevel)
}

const protocolVersion = 1

func main() {
	addr := flag.String("addr", "127.0.0.1:13415", "listen address")
	dbPath := flag.String("db", "relay.db", "sqlite database path")
	flag.Parse()

	st, err := storage.Open(*dbPath)
	if err != nil {
		logrus.WithError(err).Fatal("relay: open storage")
	}
	defer st.Close()

	subs := newSubscriberHub()

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		logrus.WithError(err).Fatal("relay: listen")
	}
	logrus.WithField("addr", *addr).Info("relay: listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			logrus.WithError(err).Warn("relay: accept")
			continue
		}
		go serveConn(st, subs, conn)
	}
}

// serveConn handles one connection for its entire lifetime: it reads
// requests, runs them through rbsr.ApplyAsRelay, writes the response, and
// drains any broadcast frames the subscriber hub queues for it in the
// meantime. The peer's remote address is its subscriber id.
func serveConn(st storage.Storage, subs *subscriberHub, conn net.Conn) {
	defer conn.Close()
	subscriberID := conn.RemoteAddr().String()
	defer subs.forget(subscriberID)

	outgoing := subs.register(subscriberID)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case msg := <-outgoing:
				if err := transport.WriteMessage(conn, msg); err != nil {
					logrus.WithError(err).WithField("peer", subscriberID).Warn("relay: write broadcast")
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		req, err := transport.ReadMessage(conn)
		if err != nil {
			if err != io.EOF {
				logrus.WithError(err).WithField("peer", subscriberID).Debug("relay: read")
			}
			return
		}

		resp, err := rbsr.ApplyAsRelay(st, subs, subscriberID, protocolVersion, req, protocol.DefaultTotalMaxSize, protocol.DefaultRangesMaxSize)
		if err != nil {
			logrus.WithError(err).WithField("peer", subscriberID).Warn("relay: apply_as_relay")
			return
		}

		if err := transport.WriteMessage(conn, resp); err != nil {
			logrus.WithError(err).WithField("peer", subscriberID).Warn("relay: write response")
			return
		}
	}
}

// subscriberHub implements rbsr.Subscriptions with an in-memory map from
// subscriber id to its outgoing broadcast queue (§4.6 on_subscribe /
// on_unsubscribe / broadcast) — no persistence, no cross-process fan-out.
type subscriberHub struct {
	mu       sync.Mutex
	channels map[string]chan *protocol.ProtocolMessage
	byOwner  map[storage.OwnerID]map[string]bool
}

func newSubscriberHub() *subscriberHub {
	return &subscriberHub{
		channels: make(map[string]chan *protocol.ProtocolMessage),
		byOwner:  make(map[storage.OwnerID]map[string]bool),
	}
}

func (h *subscriberHub) register(id string) chan *protocol.ProtocolMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan *protocol.ProtocolMessage, 16)
	h.channels[id] = ch
	return ch
}

func (h *subscriberHub) forget(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.channels, id)
	for owner, subscribers := range h.byOwner {
		delete(subscribers, id)
		if len(subscribers) == 0 {
			delete(h.byOwner, owner)
		}
	}
}

func (h *subscriberHub) OnSubscribe(owner storage.OwnerID, subscriber string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byOwner[owner] == nil {
		h.byOwner[owner] = make(map[string]bool)
	}
	h.byOwner[owner][subscriber] = true
}

func (h *subscriberHub) OnUnsubscribe(owner storage.OwnerID, subscriber string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.byOwner[owner], subscriber)
}

func (h *subscriberHub) Broadcast(owner storage.OwnerID, messages []storage.Message, except string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	msg := &protocol.ProtocolMessage{
		Version:  protocolVersion,
		Owner:    owner,
		Type:     protocol.Broadcast,
		Messages: messages,
	}

	for subscriber := range h.byOwner[owner] {
		if subscriber == except {
			continue
		}
		ch, ok := h.channels[subscriber]
		if !ok {
			continue
		}
		select {
		case ch <- msg:
		default:
			logrus.WithField("subscriber", subscriber).Warn("relay: broadcast queue full, dropping")
		}
	}
}
