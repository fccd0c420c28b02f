package bridge

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chris-alexander-pop/zmqbridge/pkg/events"
)

// NamingType distinguishes a peer announcing itself from a peer
// leaving.
type NamingType byte

const (
	NamingHello NamingType = iota
	NamingGoodbye
)

func (t NamingType) String() string {
	if t == NamingGoodbye {
		return "GOODBYE"
	}
	return "HELLO"
}

const namingFieldLen = 256

// namingRecordSize is topic[256] + type(1) + pub_endpoint[256] + sub_endpoint[256].
const namingRecordSize = namingFieldLen*3 + 1

// NamingRecord is the fixed-layout record exchanged on the naming
// channel so peers can discover each other's pub/sub endpoints out of
// band from the data sockets themselves.
type NamingRecord struct {
	Topic       string
	Type        NamingType
	PubEndpoint string
	SubEndpoint string
}

func putFixed(buf []byte, s string) {
	n := copy(buf, s)
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
}

func getFixed(buf []byte) string {
	end := len(buf)
	for i, b := range buf {
		if b == 0 {
			end = i
			break
		}
	}
	return string(buf[:end])
}

func (r NamingRecord) Marshal() []byte {
	buf := make([]byte, namingRecordSize)
	putFixed(buf[0:namingFieldLen], r.Topic)
	buf[namingFieldLen] = byte(r.Type)
	putFixed(buf[namingFieldLen+1:namingFieldLen+1+namingFieldLen], r.PubEndpoint)
	putFixed(buf[namingFieldLen+1+namingFieldLen:], r.SubEndpoint)
	return buf
}

func UnmarshalNamingRecord(data []byte) (NamingRecord, error) {
	if len(data) != namingRecordSize {
		return NamingRecord{}, fmt.Errorf("bridge: naming record must be %d bytes, got %d", namingRecordSize, len(data))
	}
	return NamingRecord{
		Topic:       getFixed(data[0:namingFieldLen]),
		Type:        NamingType(data[namingFieldLen]),
		PubEndpoint: getFixed(data[namingFieldLen+1 : namingFieldLen+1+namingFieldLen]),
		SubEndpoint: getFixed(data[namingFieldLen+1+namingFieldLen:]),
	}, nil
}

func splitAddrs(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, ",")
}

// peerRegistry tracks the last HELLO seen per topic, dropping the
// entry on GOODBYE.
type peerRegistry struct {
	mu    sync.RWMutex
	peers map[string]NamingRecord
}

func newPeerRegistry() *peerRegistry {
	return &peerRegistry{peers: make(map[string]NamingRecord)}
}

func (r *peerRegistry) apply(rec NamingRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch rec.Type {
	case NamingHello:
		r.peers[rec.Topic] = rec
	case NamingGoodbye:
		delete(r.peers, rec.Topic)
	}
}

func (r *peerRegistry) snapshot() []NamingRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NamingRecord, 0, len(r.peers))
	for _, rec := range r.peers {
		out = append(out, rec)
	}
	return out
}

func (t *Transport) sendNaming(namingType NamingType) {
	if t.namingPub == nil {
		return
	}
	rec := NamingRecord{
		Topic:       t.cfg.MiddlewareName,
		Type:        namingType,
		PubEndpoint: joinAddrs(t.cfg.OutgoingAddress),
		SubEndpoint: joinAddrs(t.cfg.IncomingAddress),
	}
	if err := t.namingPub.Send(rec.Marshal()); err != nil {
		t.logger.Warn("naming send failed", "type", namingType.String(), "error", err)
	}
}

func joinAddrs(addrs []string) string {
	out := ""
	for i, a := range addrs {
		if i > 0 {
			out += ","
		}
		out += a
	}
	return out
}

func (t *Transport) handleNaming() {
	data, err := t.namingSub.Recv()
	if err != nil {
		t.logger.Warn("naming recv failed", "error", err)
		return
	}
	rec, err := UnmarshalNamingRecord(data)
	if err != nil {
		t.logger.Warn("malformed naming record", "error", err)
		return
	}
	t.stats.NamingMessages.Add(1)
	t.peers.apply(rec)

	if rec.Type == NamingHello {
		t.connectToPeer(rec)
	}

	eventType := "peer.hello"
	if rec.Type == NamingGoodbye {
		eventType = "peer.goodbye"
	}
	_ = t.peerEvents.Publish(t.bgCtx, eventType, events.Event{
		Type:      eventType,
		Source:    rec.Topic,
		Timestamp: time.Now(),
		Payload:   rec,
	})
}

// connectToPeer wires this transport's own primary sockets to a
// peer's: the subscriber connects to the peer's pub_endpoint so this
// transport starts receiving what the peer publishes, and the
// publisher connects to the peer's sub_endpoint so the peer starts
// receiving what this transport publishes. Called only from the
// dispatcher goroutine (handleNaming), so subSocket.Connect needs no
// extra guard; pubSocket.Connect still goes through pubMu since
// Publish can reach the publisher socket from any goroutine.
// Duplicate connects (a retransmitted HELLO for an already-connected
// peer) are tolerated at the socket layer, so no dedup bookkeeping is
// required here.
func (t *Transport) connectToPeer(rec NamingRecord) {
	for _, addr := range splitAddrs(rec.PubEndpoint) {
		if err := t.subSocket.Connect(addr); err != nil {
			t.logger.Warn("failed to connect subscriber to peer", "peer", rec.Topic, "addr", addr, "error", err)
		}
	}

	t.pubMu.Lock()
	defer t.pubMu.Unlock()
	for _, addr := range splitAddrs(rec.SubEndpoint) {
		if err := t.pubSocket.Connect(addr); err != nil {
			t.logger.Warn("failed to connect publisher to peer", "peer", rec.Topic, "addr", addr, "error", err)
		}
	}
}

// OnPeerEvent subscribes handler to "peer.hello"/"peer.goodbye"
// notifications raised as naming records are observed.
func (t *Transport) OnPeerEvent(eventType string, handler events.Handler) error {
	return t.peerEvents.Subscribe(t.bgCtx, eventType, handler)
}
