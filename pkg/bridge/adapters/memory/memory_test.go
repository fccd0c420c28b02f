package memory_test

import (
	"testing"
	"time"

	"github.com/chris-alexander-pop/zmqbridge/pkg/bridge"
	"github.com/chris-alexander-pop/zmqbridge/pkg/bridge/adapters/memory"
	"github.com/stretchr/testify/require"
)

func recvWithTimeout(t *testing.T, s bridge.Socket) []byte {
	t.Helper()
	select {
	case <-s.Readable():
	case <-time.After(time.Second):
		require.Fail(t, "socket never became readable")
	}
	data, err := s.Recv()
	require.NoError(t, err)
	return data
}

func TestPubBroadcastsToAllSubscribers(t *testing.T) {
	ctx := memory.NewContext()
	pub, err := ctx.NewSocket(bridge.SocketPub)
	require.NoError(t, err)
	require.NoError(t, pub.Bind("ipc://pub-test"))

	sub1, err := ctx.NewSocket(bridge.SocketSub)
	require.NoError(t, err)
	require.NoError(t, sub1.Connect("ipc://pub-test"))
	require.NoError(t, sub1.Subscribe(""))
	sub2, err := ctx.NewSocket(bridge.SocketSub)
	require.NoError(t, err)
	require.NoError(t, sub2.Connect("ipc://pub-test"))
	require.NoError(t, sub2.Subscribe(""))

	require.NoError(t, pub.Send([]byte("hello")))

	require.Equal(t, []byte("hello"), recvWithTimeout(t, sub1))
	require.Equal(t, []byte("hello"), recvWithTimeout(t, sub2))
}

// frame builds a minimal subject+NUL+payload buffer, matching the
// wire encoding accepts() parses, without pulling in pkg/bridge/wire.
func frame(subject string, payload string) []byte {
	buf := append([]byte(subject), 0)
	return append(buf, []byte(payload)...)
}

func TestSubWithoutSubscribeReceivesNothing(t *testing.T) {
	ctx := memory.NewContext()
	pub, err := ctx.NewSocket(bridge.SocketPub)
	require.NoError(t, err)
	require.NoError(t, pub.Bind("ipc://sub-filter-test"))

	sub, err := ctx.NewSocket(bridge.SocketSub)
	require.NoError(t, err)
	require.NoError(t, sub.Connect("ipc://sub-filter-test"))

	require.NoError(t, pub.Send(frame("MD.AAPL", "x")))

	select {
	case <-sub.Readable():
		require.Fail(t, "socket with no subscribed prefix should not have received anything")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSubPrefixFiltersBySubject(t *testing.T) {
	ctx := memory.NewContext()
	pub, err := ctx.NewSocket(bridge.SocketPub)
	require.NoError(t, err)
	require.NoError(t, pub.Bind("ipc://sub-filter-test-2"))

	sub, err := ctx.NewSocket(bridge.SocketSub)
	require.NoError(t, err)
	require.NoError(t, sub.Connect("ipc://sub-filter-test-2"))
	require.NoError(t, sub.Subscribe("MD."))

	require.NoError(t, pub.Send(frame("OTHER.TOPIC", "x")))
	require.NoError(t, pub.Send(frame("MD.AAPL", "y")))

	data := recvWithTimeout(t, sub)
	require.Equal(t, frame("MD.AAPL", "y"), data)
}

func TestSubUnsubscribeDropsFilter(t *testing.T) {
	ctx := memory.NewContext()
	pub, err := ctx.NewSocket(bridge.SocketPub)
	require.NoError(t, err)
	require.NoError(t, pub.Bind("ipc://sub-filter-test-3"))

	sub, err := ctx.NewSocket(bridge.SocketSub)
	require.NoError(t, err)
	require.NoError(t, sub.Connect("ipc://sub-filter-test-3"))
	require.NoError(t, sub.Subscribe("MD."))
	require.NoError(t, sub.Unsubscribe("MD."))

	require.NoError(t, pub.Send(frame("MD.AAPL", "x")))
	select {
	case <-sub.Readable():
		require.Fail(t, "unsubscribed prefix should no longer match")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, sub.Subscribe("MD."))
	require.NoError(t, pub.Send(frame("MD.AAPL", "y")))
	require.Equal(t, frame("MD.AAPL", "y"), recvWithTimeout(t, sub))
}

func TestPubConnectReachesPeerBus(t *testing.T) {
	ctx := memory.NewContext()
	pubA, err := ctx.NewSocket(bridge.SocketPub)
	require.NoError(t, err)
	require.NoError(t, pubA.Bind("ipc://bus-a"))

	subB, err := ctx.NewSocket(bridge.SocketSub)
	require.NoError(t, err)
	require.NoError(t, subB.Connect("ipc://bus-b"))
	require.NoError(t, subB.Subscribe(""))

	// pubA joins bus-b (as the naming protocol wires a discovered
	// peer's publisher to that peer's sub_endpoint) without losing its
	// own bound address.
	require.NoError(t, pubA.Connect("ipc://bus-b"))
	require.NoError(t, pubA.Send(frame("MD.AAPL", "z")))

	require.Equal(t, frame("MD.AAPL", "z"), recvWithTimeout(t, subB))
}

func TestPairConnectsExactlyTwoEndpoints(t *testing.T) {
	ctx := memory.NewContext()
	a, err := ctx.NewSocket(bridge.SocketPair)
	require.NoError(t, err)
	require.NoError(t, a.Bind("inproc://pair-test"))

	b, err := ctx.NewSocket(bridge.SocketPair)
	require.NoError(t, err)
	require.NoError(t, b.Connect("inproc://pair-test"))

	require.NoError(t, a.Send([]byte("ping")))
	require.Equal(t, []byte("ping"), recvWithTimeout(t, b))

	require.NoError(t, b.Send([]byte("pong")))
	require.Equal(t, []byte("pong"), recvWithTimeout(t, a))
}

func TestPairSendWithoutPeerErrors(t *testing.T) {
	ctx := memory.NewContext()
	a, err := ctx.NewSocket(bridge.SocketPair)
	require.NoError(t, err)
	require.NoError(t, a.Bind("inproc://pair-lonely"))

	require.Error(t, a.Send([]byte("nobody listening")))
}

func TestContextCloseUnblocksRecv(t *testing.T) {
	ctx := memory.NewContext()
	sub, err := ctx.NewSocket(bridge.SocketSub)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := sub.Recv()
		done <- err
	}()

	require.NoError(t, ctx.Close())

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		require.Fail(t, "Recv did not unblock after Close")
	}
}
