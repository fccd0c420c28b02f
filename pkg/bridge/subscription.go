package bridge

import (
	"sync/atomic"

	"github.com/chris-alexander-pop/zmqbridge/pkg/bridge/wire"
	"github.com/google/uuid"
)

// SubscriptionCallbacks are invoked on the subscription's own
// EventQueue, never on the dispatcher goroutine. OnMsg may be called
// any number of times; OnDestroy fires exactly once, after every
// OnMsg call already queued ahead of it has returned.
type SubscriptionCallbacks struct {
	OnMsg     func(wire.Frame)
	OnDestroy func()
}

// Subscription is a live registration against a topic key or a
// wildcard pattern. The zero value is not usable; obtain one from
// Transport.CreateSubscription or Transport.CreateWildcardSubscription.
type Subscription struct {
	id        uuid.UUID
	key       string
	wildcard  bool
	source    string // original subscribe-source string, for logging
	callbacks SubscriptionCallbacks
	queue     EventQueue

	valid     atomic.Bool
	muted     atomic.Bool
	connected atomic.Bool

	destroyed chan struct{}
	transport *Transport
}

func (s *Subscription) ID() uuid.UUID { return s.id }

// Mute suppresses OnMsg delivery without tearing the subscription
// down; unmuting resumes delivery from whatever the dispatcher sees
// next (no backlog replay).
func (s *Subscription) Mute(muted bool) { s.muted.Store(muted) }

func (s *Subscription) IsMuted() bool { return s.muted.Load() }

func (s *Subscription) IsValid() bool { return s.valid.Load() }

// Connected reports whether the dispatcher has applied this
// subscription's registration yet. A freshly created subscription is
// disconnected until the control-channel round trip completes.
func (s *Subscription) Connected() bool { return s.connected.Load() }

// Destroy unregisters the subscription and schedules OnDestroy to run
// once all callbacks already in flight have completed. It returns
// immediately; use Done to block until OnDestroy has actually run.
func (s *Subscription) Destroy() {
	s.transport.destroySubscription(s)
}

// Done returns a channel closed once OnDestroy has run to completion.
func (s *Subscription) Done() <-chan struct{} {
	return s.destroyed
}
