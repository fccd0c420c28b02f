package bridge_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chris-alexander-pop/zmqbridge/pkg/bridge"
	"github.com/chris-alexander-pop/zmqbridge/pkg/bridge/adapters/eventqueue"
	"github.com/chris-alexander-pop/zmqbridge/pkg/bridge/adapters/memory"
	"github.com/chris-alexander-pop/zmqbridge/pkg/bridge/adapters/timer"
	"github.com/chris-alexander-pop/zmqbridge/pkg/bridge/wire"
	apperrors "github.com/chris-alexander-pop/zmqbridge/pkg/errors"
	"github.com/chris-alexander-pop/zmqbridge/pkg/events"
	"github.com/stretchr/testify/require"
)

func newTestTransport(t *testing.T, ctx *memory.Context, name string, addr string) *bridge.Transport {
	t.Helper()
	tr, err := bridge.NewTransport(bridge.Config{
		MiddlewareName:  name,
		IncomingAddress: []string{addr},
		OutgoingAddress: []string{addr},
		PollTimeout:     10 * time.Millisecond,
		QueueDepth:      64,
	}, ctx, eventqueue.NewFactory(), timer.NewService())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Destroy() })
	return tr
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.Fail(t, "condition not met before timeout")
}

func TestPublishSubscribeExactMatch(t *testing.T) {
	ctx := memory.NewContext()
	pub := newTestTransport(t, ctx, "pub", "ipc://test-1")
	sub := newTestTransport(t, ctx, "sub", "ipc://test-1")

	var mu sync.Mutex
	var received []wire.Frame
	s, err := sub.CreateSubscription("MD", "SRC", "AAPL", bridge.SubscriptionCallbacks{
		OnMsg: func(f wire.Frame) {
			mu.Lock()
			received = append(received, f)
			mu.Unlock()
		},
	}, 8)
	require.NoError(t, err)

	// Give the dispatcher a moment to apply the subscribe control message.
	waitFor(t, time.Second, s.Connected)

	require.NoError(t, pub.Publisher().Publish(&wire.Frame{Subject: "MD.SRC.AAPL", Payload: []byte{0x01, 'h', 'i'}}))

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	})
	require.Equal(t, "MD.SRC.AAPL", received[0].Subject)
	require.Equal(t, []byte{0x01, 'h', 'i'}, received[0].Payload)
}

func TestWildcardSubscriptionMatchesPattern(t *testing.T) {
	ctx := memory.NewContext()
	pub := newTestTransport(t, ctx, "pub", "ipc://test-2")
	sub := newTestTransport(t, ctx, "sub", "ipc://test-2")

	var mu sync.Mutex
	var count int
	_, err := sub.CreateWildcardSubscription("MD.*SRC.^MD\\.SRC\\..*$", bridge.SubscriptionCallbacks{
		OnMsg: func(f wire.Frame) {
			mu.Lock()
			count++
			mu.Unlock()
		},
	}, 8)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, pub.Publisher().Publish(&wire.Frame{Subject: "MD.SRC.AAPL", Payload: []byte{0}}))
	require.NoError(t, pub.Publisher().Publish(&wire.Frame{Subject: "OTHER.TOPIC", Payload: []byte{0}}))

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})
}

func TestMuteSuppressesDelivery(t *testing.T) {
	ctx := memory.NewContext()
	pub := newTestTransport(t, ctx, "pub", "ipc://test-3")
	sub := newTestTransport(t, ctx, "sub", "ipc://test-3")

	var mu sync.Mutex
	var count int
	s, err := sub.CreateSubscription("", "", "MD.AAPL", bridge.SubscriptionCallbacks{
		OnMsg: func(f wire.Frame) {
			mu.Lock()
			count++
			mu.Unlock()
		},
	}, 8)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	s.Mute(true)
	require.NoError(t, pub.Publisher().Publish(&wire.Frame{Subject: "MD.AAPL", Payload: []byte{0}}))
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	require.Equal(t, 0, count)
	mu.Unlock()

	s.Mute(false)
	require.NoError(t, pub.Publisher().Publish(&wire.Frame{Subject: "MD.AAPL", Payload: []byte{0}}))
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})
}

func TestSubscriptionDestroyCompletesAfterInFlightDispatch(t *testing.T) {
	ctx := memory.NewContext()
	pub := newTestTransport(t, ctx, "pub", "ipc://test-4")
	sub := newTestTransport(t, ctx, "sub", "ipc://test-4")

	var mu sync.Mutex
	var delivered int
	destroyed := false
	s, err := sub.CreateSubscription("", "", "MD.AAPL", bridge.SubscriptionCallbacks{
		OnMsg: func(f wire.Frame) {
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			delivered++
			mu.Unlock()
		},
		OnDestroy: func() {
			mu.Lock()
			destroyed = true
			mu.Unlock()
		},
	}, 8)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, pub.Publisher().Publish(&wire.Frame{Subject: "MD.AAPL", Payload: []byte{0}}))
	time.Sleep(2 * time.Millisecond) // let the frame land on the subscription's queue before destroy
	s.Destroy()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		require.Fail(t, "subscription did not finish destroying")
	}

	mu.Lock()
	defer mu.Unlock()
	require.True(t, destroyed)
	require.Equal(t, 1, delivered, "in-flight OnMsg call must complete before OnDestroy runs")
}

func TestInboxRequestReply(t *testing.T) {
	ctx := memory.NewContext()
	server := newTestTransport(t, ctx, "server", "ipc://test-5")
	client := newTestTransport(t, ctx, "client", "ipc://test-5")

	_, err := server.CreateSubscription("", "", "ECHO", bridge.SubscriptionCallbacks{
		OnMsg: func(f wire.Frame) {
			_ = server.Publisher().SendReply(f.ReplyHandle, f.Payload)
		},
	}, 8)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	inbox, err := client.CreateInbox(bridge.InboxCallbacks{}, 8)
	require.NoError(t, err)
	require.NoError(t, inbox.SendRequest("ECHO", []byte{0x02, 'p', 'i', 'n', 'g'}))

	reply, err := inbox.WaitReply(time.Second)
	require.NoError(t, err)
	require.Equal(t, []byte{0x02, 'p', 'i', 'n', 'g'}, reply.Payload)
}

func TestInboxWaitReplyTimesOutWithoutRetry(t *testing.T) {
	ctx := memory.NewContext()
	client := newTestTransport(t, ctx, "client-only", "ipc://test-6")

	inbox, err := client.CreateInbox(bridge.InboxCallbacks{}, 8)
	require.NoError(t, err)

	start := time.Now()
	_, err = inbox.WaitReply(30 * time.Millisecond)
	require.Error(t, err)
	require.WithinDuration(t, start.Add(30*time.Millisecond), time.Now(), 40*time.Millisecond)
}

func TestSubscribeUnsubscribeRefCountsSharedFilter(t *testing.T) {
	ctx := memory.NewContext()
	pub := newTestTransport(t, ctx, "pub", "ipc://test-8")
	sub := newTestTransport(t, ctx, "sub", "ipc://test-8")

	var mu sync.Mutex
	var countA, countB int
	a, err := sub.CreateSubscription("", "", "MD.AAPL", bridge.SubscriptionCallbacks{
		OnMsg: func(f wire.Frame) { mu.Lock(); countA++; mu.Unlock() },
	}, 8)
	require.NoError(t, err)
	b, err := sub.CreateSubscription("", "", "MD.AAPL", bridge.SubscriptionCallbacks{
		OnMsg: func(f wire.Frame) { mu.Lock(); countB++; mu.Unlock() },
	}, 8)
	require.NoError(t, err)
	waitFor(t, time.Second, a.Connected)
	waitFor(t, time.Second, b.Connected)

	// Destroying one of two subscriptions sharing the same key must not
	// drop the underlying socket filter: the other subscription still
	// has a live interest in the prefix.
	a.Destroy()
	select {
	case <-a.Done():
	case <-time.After(time.Second):
		require.Fail(t, "subscription a did not finish destroying")
	}

	require.NoError(t, pub.Publisher().Publish(&wire.Frame{Subject: "MD.AAPL", Payload: []byte{0}}))
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return countB == 1
	})
	mu.Lock()
	require.Equal(t, 0, countA, "destroyed subscription must not receive further messages")
	mu.Unlock()

	// Destroying the last subscription on the key drops the socket
	// filter; further publishes on that subject reach nobody.
	b.Destroy()
	select {
	case <-b.Done():
	case <-time.After(time.Second):
		require.Fail(t, "subscription b did not finish destroying")
	}
	require.NoError(t, pub.Publisher().Publish(&wire.Frame{Subject: "MD.AAPL", Payload: []byte{0}}))
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	require.Equal(t, 1, countB, "no live subscription should remain on the key")
	mu.Unlock()
}

func TestOperationsAfterDestroyReturnTransportClosed(t *testing.T) {
	ctx := memory.NewContext()
	tr, err := bridge.NewTransport(bridge.Config{
		MiddlewareName:  "closed",
		IncomingAddress: []string{"ipc://test-9"},
		OutgoingAddress: []string{"ipc://test-9"},
		PollTimeout:     10 * time.Millisecond,
		QueueDepth:      8,
	}, ctx, eventqueue.NewFactory(), timer.NewService())
	require.NoError(t, err)

	require.NoError(t, tr.Destroy())

	_, err = tr.CreateSubscription("", "", "MD.AAPL", bridge.SubscriptionCallbacks{}, 8)
	require.True(t, apperrors.Is(err, bridge.CodeTransportClosed))

	_, err = tr.CreateInbox(bridge.InboxCallbacks{}, 8)
	require.True(t, apperrors.Is(err, bridge.CodeTransportClosed))

	err = tr.Publisher().Publish(&wire.Frame{Subject: "MD.AAPL", Payload: []byte{0}})
	require.True(t, apperrors.Is(err, bridge.CodeTransportClosed))
}

func TestNamingHelloGoodbyeObserved(t *testing.T) {
	ctx := memory.NewContext()
	a, err := bridge.NewTransport(bridge.Config{
		MiddlewareName:        "A",
		IncomingAddress:       []string{"ipc://test-7-a"},
		OutgoingAddress:       []string{"ipc://test-7-a"},
		NamingEnabled:         true,
		NamingBindAddress:     "ipc://test-7-naming-a",
		NamingAddress:         []string{"ipc://test-7-naming-b"},
		NamingRetransmitEvery: 5 * time.Second,
		PollTimeout:           10 * time.Millisecond,
		QueueDepth:            8,
	}, ctx, eventqueue.NewFactory(), timer.NewService())
	require.NoError(t, err)
	defer a.Destroy()

	var mu sync.Mutex
	var sawHello bool
	require.NoError(t, a.OnPeerEvent("peer.hello", func(_ context.Context, e events.Event) error {
		mu.Lock()
		sawHello = true
		mu.Unlock()
		return nil
	}))

	b, err := bridge.NewTransport(bridge.Config{
		MiddlewareName:        "B",
		IncomingAddress:       []string{"ipc://test-7-b"},
		OutgoingAddress:       []string{"ipc://test-7-b"},
		NamingEnabled:         true,
		NamingBindAddress:     "ipc://test-7-naming-b",
		NamingAddress:         []string{"ipc://test-7-naming-a"},
		NamingRetransmitEvery: 5 * time.Second,
		PollTimeout:           10 * time.Millisecond,
		QueueDepth:            8,
	}, ctx, eventqueue.NewFactory(), timer.NewService())
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return sawHello
	})
	require.Len(t, a.Peers(), 1)
	require.Equal(t, "B", a.Peers()[0].Topic)

	require.NoError(t, b.Destroy())
	waitFor(t, time.Second, func() bool {
		return len(a.Peers()) == 0
	})
}
