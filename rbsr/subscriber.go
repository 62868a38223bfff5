// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package rbsr

import "github.com/dblokhin/relaysync/storage"

// Subscriptions is the relay-side fan-out collaborator (Design Notes §9:
// "subscription/broadcast callbacks modeled as an interface rather than
// optional lambdas"). ApplyAsRelay calls OnSubscribe/OnUnsubscribe when a
// request carries the matching flag, and Broadcast once per request that
// successfully wrote messages.
type Subscriptions interface {
	// OnSubscribe registers subscriber for owner's broadcasts.
	OnSubscribe(owner storage.OwnerID, subscriber string)
	// OnUnsubscribe removes subscriber from owner's broadcast list.
	OnUnsubscribe(owner storage.OwnerID, subscriber string)
	// Broadcast fans messages out to every subscriber of owner except
	// except (the connection that submitted them, which already knows).
	Broadcast(owner storage.OwnerID, messages []storage.Message, except string)
}

// NoSubscriptions is a Subscriptions that does nothing; useful for a
// client role or a relay that hasn't wired fan-out yet.
type NoSubscriptions struct{}

func (NoSubscriptions) OnSubscribe(storage.OwnerID, string)                     {}
func (NoSubscriptions) OnUnsubscribe(storage.OwnerID, string)                   {}
func (NoSubscriptions) Broadcast(storage.OwnerID, []storage.Message, string) {}
