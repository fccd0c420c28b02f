package bridge

import (
	"sync/atomic"
	"time"

	"github.com/chris-alexander-pop/zmqbridge/pkg/bridge/wire"
	"github.com/google/uuid"
)

// InboxCallbacks are optional asynchronous hooks; an inbox used only
// through WaitReply can leave both nil.
type InboxCallbacks struct {
	OnMsg     func(wire.Frame)
	OnDestroy func()
}

// Inbox is a transport-unique reply address used to correlate a
// request published via SendRequest with the response routed back to
// it. Unlike subscriptions, the inbox registry is a plain mutex-
// protected map rather than dispatcher-exclusive state, since inboxes
// are created and destroyed far more often than subscriptions and
// from arbitrary caller goroutines.
type Inbox struct {
	id         uuid.UUID
	replyTopic string
	callbacks  InboxCallbacks
	queue      EventQueue
	replyCh    chan wire.Frame

	valid     atomic.Bool
	destroyed chan struct{}
	transport *Transport
}

func (ib *Inbox) ID() uuid.UUID { return ib.id }

// ReplyTopic is the subject this inbox listens on; it is also the
// reply handle a request carries on the wire.
func (ib *Inbox) ReplyTopic() string { return ib.replyTopic }

// SendRequest publishes payload to subject as an INBOX_REQUEST frame
// whose reply handle is this inbox's reply topic.
func (ib *Inbox) SendRequest(subject string, payload []byte) error {
	f := &wire.Frame{
		Subject:     subject,
		Type:        wire.MsgInboxRequest,
		ReplyHandle: ib.replyTopic,
		Payload:     payload,
	}
	return ib.transport.Publisher().publishFrame(f)
}

// WaitReply blocks until a response is routed to this inbox or
// timeout elapses; a non-positive timeout uses the transport's
// Config.InboxReplyTimeout. It is a plain deadline: a timed-out wait is
// reported to the caller and never retried or resent, since resending
// silently would duplicate the original request.
func (ib *Inbox) WaitReply(timeout time.Duration) (wire.Frame, error) {
	if timeout <= 0 {
		timeout = ib.transport.cfg.InboxReplyTimeout
	}
	select {
	case f := <-ib.replyCh:
		return f, nil
	case <-time.After(timeout):
		return wire.Frame{}, ErrReplyTimeout(ib.replyTopic)
	}
}

func (ib *Inbox) deliver(f wire.Frame) {
	if !ib.valid.Load() {
		return
	}
	select {
	case ib.replyCh <- f:
	default:
		// No synchronous waiter; callback delivery below still happens.
	}
	if ib.callbacks.OnMsg != nil {
		cb := ib.callbacks.OnMsg
		if err := ib.queue.Enqueue(func() { cb(f) }); err != nil {
			ib.transport.metrics.incQueueFull(ib.transport.bgCtx)
		}
	}
}

// Destroy unregisters the inbox and schedules OnDestroy to run after
// every OnMsg call already queued ahead of it has completed.
func (ib *Inbox) Destroy() {
	ib.transport.destroyInbox(ib)
}

func (ib *Inbox) Done() <-chan struct{} {
	return ib.destroyed
}
