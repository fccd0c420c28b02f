// Package memory implements bridge.Context/bridge.Socket/bridge.Poller
// entirely with Go channels, for tests and for any process where
// "transport" peers all live inside one address space. PUB sockets
// broadcast to every SUB connected to the address(es) they're bound or
// connected to; PAIR sockets connect exactly two endpoints bound/
// connected to the same address, mirroring the inproc:// addressing
// the real socket library uses.
package memory

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/chris-alexander-pop/zmqbridge/pkg/bridge"
)

const recvBuffer = 4096

// Context is a shared namespace: sockets created from different
// Context values never see each other, even if bound/connected to the
// same address string.
type Context struct {
	mu        sync.Mutex
	pubBinds  map[string][]*socket
	pairBinds map[string]*socket
	subConns  map[string][]*socket
	sockets   []*socket
	closed    bool
}

func NewContext() *Context {
	return &Context{
		pubBinds:  make(map[string][]*socket),
		pairBinds: make(map[string]*socket),
		subConns:  make(map[string][]*socket),
	}
}

func (c *Context) NewSocket(t bridge.SocketType) (bridge.Socket, error) {
	s := &socket{
		kind:     t,
		ctx:      c,
		recvCh:   make(chan []byte, recvBuffer),
		readable: make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
	c.mu.Lock()
	c.sockets = append(c.sockets, s)
	c.mu.Unlock()
	return s, nil
}

func (c *Context) NewPoller() bridge.Poller {
	return &poller{}
}

func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, s := range c.sockets {
		s.closeOnce()
	}
	return nil
}

type socket struct {
	kind     bridge.SocketType
	ctx      *Context
	addr     string
	peer     *socket
	prefixes []string

	// peerAddrs holds additional bus addresses a PUB socket has
	// connected to (beyond the address it bound, if any), so a
	// transport that discovers a peer through naming can publish onto
	// that peer's bus without rebinding.
	peerAddrs []string

	recvCh   chan []byte
	readable chan struct{}
	closed   chan struct{}
	once     sync.Once
}

func (s *socket) Type() bridge.SocketType { return s.kind }

func (s *socket) Bind(addr string) error {
	c := s.ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	switch s.kind {
	case bridge.SocketPub:
		c.pubBinds[addr] = append(c.pubBinds[addr], s)
	case bridge.SocketPair:
		if _, exists := c.pairBinds[addr]; exists {
			return fmt.Errorf("memory: %q already bound by a PAIR socket", addr)
		}
		c.pairBinds[addr] = s
	default:
		return fmt.Errorf("memory: %s sockets cannot Bind", s.kind)
	}
	s.addr = addr
	return nil
}

func (s *socket) Connect(addr string) error {
	c := s.ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	switch s.kind {
	case bridge.SocketSub:
		c.subConns[addr] = append(c.subConns[addr], s)
	case bridge.SocketPub:
		// A PUB socket normally reaches subscribers through the single
		// address it Bind-s to; Connect lets it additionally publish
		// onto a peer's bus discovered after the fact (e.g. the naming
		// protocol wiring a publisher to a peer's sub_endpoint), without
		// disturbing its own bound address.
		s.peerAddrs = append(s.peerAddrs, addr)
		return nil
	case bridge.SocketPair:
		peer, ok := c.pairBinds[addr]
		if !ok {
			return fmt.Errorf("memory: no PAIR socket bound at %q", addr)
		}
		s.peer = peer
		peer.peer = s
	default:
		return fmt.Errorf("memory: %s sockets cannot Connect", s.kind)
	}
	s.addr = addr
	return nil
}

func (s *socket) Subscribe(prefix string) error {
	if s.kind != bridge.SocketSub {
		return fmt.Errorf("memory: %s sockets cannot Subscribe", s.kind)
	}
	s.prefixes = append(s.prefixes, prefix)
	return nil
}

func (s *socket) Unsubscribe(prefix string) error {
	if s.kind != bridge.SocketSub {
		return fmt.Errorf("memory: %s sockets cannot Unsubscribe", s.kind)
	}
	for i, p := range s.prefixes {
		if p == prefix {
			s.prefixes = append(s.prefixes[:i:i], s.prefixes[i+1:]...)
			break
		}
	}
	return nil
}

func (s *socket) Send(data []byte) error {
	switch s.kind {
	case bridge.SocketPub:
		s.ctx.mu.Lock()
		var subs []*socket
		if s.addr != "" {
			subs = append(subs, s.ctx.subConns[s.addr]...)
		}
		for _, addr := range s.peerAddrs {
			subs = append(subs, s.ctx.subConns[addr]...)
		}
		s.ctx.mu.Unlock()
		for _, sub := range subs {
			if sub.accepts(data) {
				sub.push(data)
			}
		}
		return nil
	case bridge.SocketPair:
		if s.peer == nil {
			return fmt.Errorf("memory: PAIR socket at %q has no connected peer", s.addr)
		}
		s.peer.push(data)
		return nil
	default:
		return fmt.Errorf("memory: %s sockets cannot Send", s.kind)
	}
}

// accepts reports whether data's subject (everything up to the first
// NUL byte, matching pkg/bridge/wire's subject+NUL framing) matches
// one of s's subscribed prefixes. A SUB socket with no prefixes
// subscribed rejects everything, mirroring a real 0MQ SUB socket that
// hasn't issued any ZMQ_SUBSCRIBE yet.
func (s *socket) accepts(data []byte) bool {
	subject := data
	if nul := bytes.IndexByte(data, 0); nul >= 0 {
		subject = data[:nul]
	}
	for _, p := range s.prefixes {
		if strings.HasPrefix(string(subject), p) {
			return true
		}
	}
	return false
}

func (s *socket) push(data []byte) {
	select {
	case <-s.closed:
		return
	default:
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.recvCh <- buf
	select {
	case s.readable <- struct{}{}:
	default:
	}
}

func (s *socket) Recv() ([]byte, error) {
	select {
	case data := <-s.recvCh:
		if len(s.recvCh) > 0 {
			select {
			case s.readable <- struct{}{}:
			default:
			}
		}
		return data, nil
	case <-s.closed:
		return nil, fmt.Errorf("memory: socket closed")
	}
}

func (s *socket) Readable() <-chan struct{} {
	return s.readable
}

func (s *socket) Close() error {
	s.closeOnce()
	return nil
}

func (s *socket) closeOnce() {
	s.once.Do(func() { close(s.closed) })
}
