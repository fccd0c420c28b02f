package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chris-alexander-pop/zmqbridge/pkg/bridge/control"
	"github.com/chris-alexander-pop/zmqbridge/pkg/bridge/endpoint"
	"github.com/chris-alexander-pop/zmqbridge/pkg/bridge/topic"
	"github.com/chris-alexander-pop/zmqbridge/pkg/bridge/wire"
	"github.com/chris-alexander-pop/zmqbridge/pkg/concurrency"
	apperrors "github.com/chris-alexander-pop/zmqbridge/pkg/errors"
	"github.com/chris-alexander-pop/zmqbridge/pkg/events"
	eventsmemory "github.com/chris-alexander-pop/zmqbridge/pkg/events/adapters/memory"
	"github.com/chris-alexander-pop/zmqbridge/pkg/logger"
	"github.com/chris-alexander-pop/zmqbridge/pkg/resilience"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
)

const controlAddrPrefix = "inproc://zmqbridge-control-"

// Transport owns one dispatcher goroutine, the subscriber/publisher/
// control sockets it polls and writes, and every subscription and
// inbox registered against it. Construct one with NewTransport and
// tear it down with Destroy.
type Transport struct {
	cfg          Config
	socketCtx    Context
	queueFactory EventQueueFactory
	timer        Timer

	instanceID  uuid.UUID
	inboxPrefix string

	subSocket    Socket
	pubSocket    Socket
	controlRead  Socket
	controlWrite Socket
	namingPub    Socket
	namingSub    Socket
	namingCancel func()

	pool          *endpoint.Pool
	wildcards     *endpoint.WildcardList
	subFilterRefs map[string]int

	pendingMu sync.Mutex
	pending   map[uuid.UUID]*endpoint.Record

	inboxMu sync.RWMutex
	inboxes map[string]*Inbox

	pubMu          *concurrency.SmartMutex
	controlMu      *concurrency.SmartMutex
	publishBreaker *resilience.CircuitBreaker

	peers      *peerRegistry
	peerEvents events.Bus
	stats      Stats

	logger  *slog.Logger
	metrics *Metrics
	bgCtx   context.Context

	closed   atomic.Bool
	shutdown chan struct{}
	done     chan struct{}
	once     sync.Once
}

// NewTransport validates cfg, opens the sockets it needs through
// socketCtx, and starts the dispatcher goroutine. The returned
// Transport is ready to accept CreateSubscription/CreateInbox calls
// immediately.
func NewTransport(cfg Config, socketCtx Context, qf EventQueueFactory, timer Timer) (*Transport, error) {
	if err := validator.New().Struct(cfg); err != nil {
		return nil, apperrors.Wrap(err, "invalid transport config")
	}

	instanceID := uuid.New()
	t := &Transport{
		cfg:           cfg,
		socketCtx:     socketCtx,
		queueFactory:  qf,
		timer:         timer,
		instanceID:    instanceID,
		inboxPrefix:   fmt.Sprintf("_INBOX.%s.", instanceID.String()),
		pool:          endpoint.NewPool(),
		wildcards:     endpoint.NewWildcardList(),
		subFilterRefs: make(map[string]int),
		pending:       make(map[uuid.UUID]*endpoint.Record),
		inboxes:       make(map[string]*Inbox),
		peers:         newPeerRegistry(),
		peerEvents:    eventsmemory.New(),
		pubMu:         concurrency.NewSmartMutex(concurrency.MutexConfig{Name: "publisher-socket"}),
		controlMu:     concurrency.NewSmartMutex(concurrency.MutexConfig{Name: "control-socket"}),
		publishBreaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             cfg.MiddlewareName + "-publish",
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
		}),
		logger:   logger.L().With("middleware", cfg.MiddlewareName),
		bgCtx:    context.Background(),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}

	meter := otel.Meter("github.com/chris-alexander-pop/zmqbridge/pkg/bridge")
	metrics, err := newMetrics(meter)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to create metrics instruments")
	}
	t.metrics = metrics

	if err := t.openSockets(); err != nil {
		return nil, err
	}

	concurrency.SafeGo(t.bgCtx, t.dispatchLoop)

	if cfg.NamingEnabled {
		t.sendNaming(NamingHello)
		t.namingCancel = t.timer.ScheduleRepeating(cfg.NamingRetransmitEvery, func() {
			t.sendNaming(NamingHello)
		})
	}

	return t, nil
}

func (t *Transport) openSockets() error {
	var err error
	if t.pubSocket, err = t.socketCtx.NewSocket(SocketPub); err != nil {
		return ErrBindFailed("pub", err)
	}
	for _, addr := range t.cfg.OutgoingAddress {
		if err := t.pubSocket.Bind(addr); err != nil {
			return ErrBindFailed(addr, err)
		}
	}

	if t.subSocket, err = t.socketCtx.NewSocket(SocketSub); err != nil {
		return ErrBindFailed("sub", err)
	}
	for _, addr := range t.cfg.IncomingAddress {
		if err := t.subSocket.Connect(addr); err != nil {
			return ErrBindFailed(addr, err)
		}
	}
	// The inbox-subject prefix is subscribed once, up front, rather than
	// per-created inbox: every inbox this transport ever allocates gets
	// a reply topic under the same instance-scoped prefix, and this
	// runs before the dispatcher goroutine starts, so it doesn't need
	// to go through the control channel like CreateSubscription does.
	if err := t.subSocket.Subscribe(t.inboxPrefix); err != nil {
		return ErrBindFailed("sub-filter", err)
	}

	controlAddr := controlAddrPrefix + t.instanceID.String()
	if t.controlRead, err = t.socketCtx.NewSocket(SocketPair); err != nil {
		return ErrBindFailed("control-read", err)
	}
	if err := t.controlRead.Bind(controlAddr); err != nil {
		return ErrBindFailed(controlAddr, err)
	}
	if t.controlWrite, err = t.socketCtx.NewSocket(SocketPair); err != nil {
		return ErrBindFailed("control-write", err)
	}
	if err := t.controlWrite.Connect(controlAddr); err != nil {
		return ErrBindFailed(controlAddr, err)
	}

	if t.cfg.NamingEnabled {
		if t.namingPub, err = t.socketCtx.NewSocket(SocketPub); err != nil {
			return ErrBindFailed("naming-pub", err)
		}
		if err := t.namingPub.Bind(t.cfg.NamingBindAddress); err != nil {
			return ErrBindFailed(t.cfg.NamingBindAddress, err)
		}
		for _, addr := range t.cfg.NamingAddress {
			if t.namingSub == nil {
				if t.namingSub, err = t.socketCtx.NewSocket(SocketSub); err != nil {
					return ErrBindFailed("naming-sub", err)
				}
				if err := t.namingSub.Subscribe(""); err != nil {
					return ErrBindFailed("naming-filter", err)
				}
			}
			if err := t.namingSub.Connect(addr); err != nil {
				return ErrBindFailed(addr, err)
			}
		}
	}

	return nil
}

// Publisher returns the transport's single outbound publisher.
func (t *Transport) Publisher() *Publisher {
	return &Publisher{t: t}
}

// Stats returns a point-in-time snapshot of the dispatcher's
// bookkeeping counters.
func (t *Transport) Stats() Snapshot {
	return t.stats.Snapshot()
}

// CreateSubscription registers an exact-match subscription against a
// topic key built from root/source/topicName. Registration is
// asynchronous: the call returns before the dispatcher goroutine has
// necessarily applied it, matching the non-blocking control-channel
// handoff the rest of the protocol uses.
func (t *Transport) CreateSubscription(root, source, topicName string, cb SubscriptionCallbacks, queueDepth int) (*Subscription, error) {
	key := topic.GenerateKey(root, source, topicName)
	if len(key) >= topic.MaxKeyLength {
		return nil, ErrSubjectTooLong(key)
	}
	return t.createSubscription(key, false, nil, key, cb, queueDepth)
}

// CreateWildcardSubscription registers a wildcard subscription. source
// must be of the form "<literal-prefix>*<tail>.<regex>": everything
// before the first '*' up to and including it is a cosmetic prefix,
// and the regex after the next '.' is compiled and matched against
// every inbound subject, including ones an exact lookup also matched. The
// literal prefix (everything before that first '*') also doubles as
// the subscriber socket's filter for this subscription.
func (t *Transport) CreateWildcardSubscription(source string, cb SubscriptionCallbacks, queueDepth int) (*Subscription, error) {
	star := strings.Index(source, "*")
	if star < 0 {
		return nil, ErrInvalidWildcard(source, fmt.Errorf("missing '*'"))
	}
	dot := strings.Index(source[star:], ".")
	if dot < 0 {
		return nil, ErrInvalidWildcard(source, fmt.Errorf("missing regex separator '.'"))
	}
	pattern := source[star+dot+1:]
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, ErrInvalidWildcard(source, err)
	}
	return t.createSubscription(source, true, re, source, cb, queueDepth)
}

func (t *Transport) createSubscription(key string, wildcard bool, re *regexp.Regexp, source string, cb SubscriptionCallbacks, queueDepth int) (*Subscription, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed()
	}
	if queueDepth <= 0 {
		queueDepth = t.cfg.QueueDepth
	}
	id := uuid.New()
	queue, err := t.queueFactory.NewQueue("sub:"+source, queueDepth)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to create subscription event queue")
	}

	sub := &Subscription{
		id:        id,
		key:       key,
		wildcard:  wildcard,
		source:    source,
		callbacks: cb,
		queue:     queue,
		transport: t,
		destroyed: make(chan struct{}),
	}
	sub.valid.Store(true)

	rec := &endpoint.Record{Key: key, ID: id, Wildcard: wildcard, Regex: re, Value: sub}

	t.pendingMu.Lock()
	t.pending[id] = rec
	t.pendingMu.Unlock()

	if err := t.sendControl(control.Message{Command: control.CmdSubscribe, Arg1: id.String()}); err != nil {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
		return nil, err
	}
	return sub, nil
}

func (t *Transport) destroySubscription(s *Subscription) {
	s.valid.Store(false)
	if err := t.sendControl(control.Message{Command: control.CmdUnsubscribe, Arg1: s.id.String()}); err != nil {
		t.logger.Warn("failed to send unsubscribe command", "subscription", s.id, "error", err)
	}
	cb := s.callbacks.OnDestroy
	q := s.queue
	done := s.destroyed
	_ = q.Enqueue(func() {
		if cb != nil {
			cb()
		}
		close(done)
		_ = q.Close()
	})
}

// CreateInbox allocates a transport-unique reply topic and registers
// it in the inbox registry, which is plain mutex-protected state (not
// dispatcher-exclusive), since inboxes churn far more than
// subscriptions.
func (t *Transport) CreateInbox(cb InboxCallbacks, queueDepth int) (*Inbox, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed()
	}
	if queueDepth <= 0 {
		queueDepth = t.cfg.QueueDepth
	}
	id := uuid.New()
	replyTopic := fmt.Sprintf("_INBOX.%s.%s", t.instanceID.String(), id.String())
	queue, err := t.queueFactory.NewQueue("inbox:"+replyTopic, queueDepth)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to create inbox event queue")
	}

	ib := &Inbox{
		id:         id,
		replyTopic: replyTopic,
		callbacks:  cb,
		queue:      queue,
		replyCh:    make(chan wire.Frame, 1),
		transport:  t,
		destroyed:  make(chan struct{}),
	}
	ib.valid.Store(true)

	t.inboxMu.Lock()
	t.inboxes[replyTopic] = ib
	t.inboxMu.Unlock()
	return ib, nil
}

func (t *Transport) destroyInbox(ib *Inbox) {
	ib.valid.Store(false)
	t.inboxMu.Lock()
	delete(t.inboxes, ib.replyTopic)
	t.inboxMu.Unlock()

	cb := ib.callbacks.OnDestroy
	q := ib.queue
	done := ib.destroyed
	_ = q.Enqueue(func() {
		if cb != nil {
			cb()
		}
		close(done)
		_ = q.Close()
	})
}

func (t *Transport) sendControl(msg control.Message) error {
	t.controlMu.Lock()
	defer t.controlMu.Unlock()
	return t.controlWrite.Send(msg.Marshal())
}

// Destroy sends GOODBYE (if naming is enabled), stops the naming
// timer, signals the dispatcher goroutine to exit, and waits for it to
// finish (bounded by Config.ShutdownTimeout, so a wedged dispatcher
// can't hang the caller forever). It then closes the naming, control,
// publisher, and subscriber sockets and marks the transport closed, so
// any CreateSubscription/CreateInbox/Publish call made afterward fails
// with ErrTransportClosed instead of touching a torn-down socket.
//
// Destroy deliberately does not close socketCtx: Context is an
// injected collaborator that may be shared across several Transports
// (as tests that run peers against one in-process memory.Context do),
// so only this transport's own sockets are closed, not the context
// that created them.
//
// It does not wait for already-queued subscription/inbox callbacks to
// drain; callers that need that should call Done() on each live
// subscription/inbox first.
func (t *Transport) Destroy() error {
	var sendErr error
	t.once.Do(func() {
		if t.cfg.NamingEnabled {
			if t.namingCancel != nil {
				t.namingCancel()
			}
			t.sendNaming(NamingGoodbye)
		}
		sendErr = t.sendControl(control.Message{Command: control.CmdShutdown})
		close(t.shutdown)

		timeout := t.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		select {
		case <-t.done:
		case <-time.After(timeout):
			t.logger.Warn("dispatcher did not exit within shutdown timeout, closing sockets anyway")
		}

		t.closed.Store(true)
		for _, s := range []Socket{t.namingPub, t.namingSub, t.controlRead, t.controlWrite, t.pubSocket, t.subSocket} {
			if s == nil {
				continue
			}
			if err := s.Close(); err != nil {
				t.logger.Warn("failed to close socket on destroy", "error", err)
			}
		}
	})
	return sendErr
}

// dispatchLoop is the transport's single reader goroutine. It is the
// only place the endpoint pool and wildcard list are ever mutated or
// read.
func (t *Transport) dispatchLoop() {
	defer close(t.done)

	poller := t.socketCtx.NewPoller()
	poller.Add(t.subSocket)
	poller.Add(t.controlRead)
	if t.namingSub != nil {
		poller.Add(t.namingSub)
	}

	for {
		select {
		case <-t.shutdown:
			return
		default:
		}

		ready, err := poller.Poll(t.cfg.PollTimeout)
		if err != nil {
			t.logger.Error("dispatcher poll failed, terminating dispatcher", "error", err)
			return
		}
		t.stats.Polls.Add(1)
		if len(ready) == 0 {
			t.stats.NoPolls.Add(1)
			continue
		}

		// Handle ready sockets in a fixed order (control, then naming,
		// then subscriber), whatever order the poller reported them in.
		var controlReady, namingReady, subReady bool
		for _, s := range ready {
			switch s {
			case t.controlRead:
				controlReady = true
			case t.namingSub:
				namingReady = true
			case t.subSocket:
				subReady = true
			}
		}
		if controlReady && t.handleControl() {
			return
		}
		if namingReady {
			t.handleNaming()
		}
		if subReady {
			t.handleInbound()
		}
	}
}

// handleControl applies one pending command and reports whether it
// was a shutdown request.
func (t *Transport) handleControl() bool {
	data, err := t.controlRead.Recv()
	if err != nil {
		t.logger.Warn("control recv failed", "error", err)
		return false
	}
	msg, err := control.Unmarshal(data)
	if err != nil {
		t.logger.Warn("malformed control record", "error", err)
		return false
	}

	switch msg.Command {
	case control.CmdSubscribe:
		id, err := uuid.Parse(msg.Arg1)
		if err != nil {
			t.logger.Warn("malformed subscribe id", "arg", msg.Arg1)
			return false
		}
		t.pendingMu.Lock()
		rec, ok := t.pending[id]
		delete(t.pending, id)
		t.pendingMu.Unlock()
		if !ok {
			return false
		}
		if rec.Wildcard {
			t.wildcards.Add(rec)
		} else {
			t.pool.Register(rec.Key, rec)
		}
		t.addSocketFilter(subscribeFilterFor(rec))
		if sub, ok := rec.Value.(*Subscription); ok {
			sub.connected.Store(true)
		}
	case control.CmdUnsubscribe:
		id, err := uuid.Parse(msg.Arg1)
		if err != nil {
			t.logger.Warn("malformed unsubscribe id", "arg", msg.Arg1)
			return false
		}
		rec, wildcard, ok := t.lookupRecord(id)
		if !ok {
			return false
		}
		if wildcard {
			t.wildcards.Remove(id)
		} else {
			t.pool.Unregister(rec.Key, id)
		}
		t.removeSocketFilter(subscribeFilterFor(rec))
	case control.CmdShutdown:
		return true
	}
	return false
}

// lookupRecord finds a registered pool/wildcard record by id without
// removing it, reporting whether it was a wildcard record.
func (t *Transport) lookupRecord(id uuid.UUID) (rec *endpoint.Record, wildcard bool, found bool) {
	if r, ok := t.pool.Lookup(id); ok {
		return r, false, true
	}
	if r, ok := t.wildcards.Find(id); ok {
		return r, true, true
	}
	return nil, false, false
}

// subscribeFilterFor computes the socket-level subscribe prefix for a
// record: the exact key for a literal subscription, or the substring
// before the first '*' for a wildcard one, matching the prefix a
// subscriber socket can filter on before the regex ever runs.
func subscribeFilterFor(rec *endpoint.Record) string {
	if !rec.Wildcard {
		return rec.Key
	}
	if star := strings.Index(rec.Key, "*"); star >= 0 {
		return rec.Key[:star]
	}
	return rec.Key
}

// addSocketFilter and removeSocketFilter keep the subscriber socket's
// filter set in sync with however many live pool/wildcard records
// currently want a given prefix. Several subscriptions can share a
// prefix (two exact subscriptions on the same key, or overlapping
// wildcards), so the socket-level subscribe/unsubscribe only fires on
// the 0->1/1->0 transitions; both are called exclusively from the
// dispatcher goroutine via handleControl.
func (t *Transport) addSocketFilter(prefix string) {
	t.subFilterRefs[prefix]++
	if t.subFilterRefs[prefix] == 1 {
		if err := t.subSocket.Subscribe(prefix); err != nil {
			t.logger.Warn("failed to subscribe socket filter", "prefix", prefix, "error", err)
		}
	}
}

func (t *Transport) removeSocketFilter(prefix string) {
	if t.subFilterRefs[prefix] == 0 {
		return
	}
	t.subFilterRefs[prefix]--
	if t.subFilterRefs[prefix] == 0 {
		delete(t.subFilterRefs, prefix)
		if err := t.subSocket.Unsubscribe(prefix); err != nil {
			t.logger.Warn("failed to unsubscribe socket filter", "prefix", prefix, "error", err)
		}
	}
}

func (t *Transport) handleInbound() {
	data, err := t.subSocket.Recv()
	if err != nil {
		t.logger.Warn("subscriber recv failed", "error", err)
		return
	}
	var f wire.Frame
	if err := f.Unmarshal(data); err != nil {
		t.metrics.incDropped(t.bgCtx, "malformed_frame")
		t.stats.Dropped.Add(1)
		t.logger.Warn("malformed inbound frame", "error", err)
		return
	}
	t.stats.NormalMessages.Add(1)
	t.metrics.incReceived(t.bgCtx)

	if f.Type == wire.MsgInboxResponse {
		t.routeInboxResponse(f)
		return
	}

	matched := false
	t.pool.ForEach(f.Subject, func(rec *endpoint.Record) {
		matched = true
		t.dispatchToRecord(rec, f)
	})
	t.wildcards.ForEachMatching(f.Subject, func(rec *endpoint.Record) {
		matched = true
		t.dispatchToRecord(rec, f)
	})
	if !matched {
		t.metrics.incDropped(t.bgCtx, "no_subscriber")
	}
}

func (t *Transport) dispatchToRecord(rec *endpoint.Record, f wire.Frame) {
	sub, ok := rec.Value.(*Subscription)
	if !ok || !sub.IsValid() || sub.IsMuted() {
		return
	}
	cb := sub.callbacks.OnMsg
	if cb == nil {
		return
	}
	t.metrics.incDispatched(t.bgCtx)
	if err := sub.queue.Enqueue(func() { cb(f) }); err != nil {
		t.metrics.incQueueFull(t.bgCtx)
		t.stats.Dropped.Add(1)
	}
}

func (t *Transport) routeInboxResponse(f wire.Frame) {
	t.inboxMu.RLock()
	ib, ok := t.inboxes[f.Subject]
	t.inboxMu.RUnlock()
	if !ok {
		t.metrics.incDropped(t.bgCtx, "unknown_inbox")
		return
	}
	ib.deliver(f)
}

// Peers returns a snapshot of the transports discovered through the
// naming channel. Empty when naming is disabled.
func (t *Transport) Peers() []NamingRecord {
	return t.peers.snapshot()
}
