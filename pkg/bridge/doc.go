/*
Package bridge adapts a lightweight socket-based messaging library (PUB/SUB,
DEALER/ROUTER and PAIR sockets, 0MQ-style) to a generic market-data messaging
API: subscriptions, inboxes (request/reply), publishers, timers, and
asynchronous per-queue event dispatch.

# Architecture

Core logic lives here with zero third-party imports beyond google/uuid,
go.opentelemetry.io/otel's metric API, go-playground/validator (for Config
validation), and this module's own pkg/errors,
pkg/logger, pkg/concurrency, pkg/events and pkg/resilience. The concrete
socket library, the host-API event queue, and the timer service are
external collaborators, represented only as interfaces (Socket/Context/
Poller, EventQueue, Timer). Each ships one adapter:

  - pkg/bridge/adapters/memory     — channel-backed Socket/Context
  - pkg/bridge/adapters/eventqueue — goroutine-per-queue EventQueue
  - pkg/bridge/adapters/timer      — time.Ticker-backed Timer

Publishing goes through a pkg/resilience retry-plus-circuit-breaker wrapper;
a reply wait on an Inbox is a plain deadline that is never retried, since
resending would silently duplicate the original request.

# Usage

	ctx := memory.NewContext()
	tr, err := bridge.NewTransport(bridge.Config{
	    MiddlewareName:  "zmqbridge",
	    IncomingAddress: []string{"ipc://test-1"},
	    OutgoingAddress: []string{"ipc://test-1"},
	    PollTimeout:     10 * time.Millisecond,
	    QueueDepth:      64,
	}, ctx, eventqueue.NewFactory(), timer.NewService())
	if err != nil {
	    log.Fatal(err)
	}
	defer tr.Destroy()

	sub, err := tr.CreateSubscription("MD", "SRC", "AAPL", bridge.SubscriptionCallbacks{
	    OnMsg: func(f wire.Frame) { ... },
	}, 8)

	pub := tr.Publisher()
	pub.Publish(&wire.Frame{Subject: "MD.SRC.AAPL", Payload: []byte{0x01, 'h', 'i'}})
*/
package bridge
