package bridge

import (
	"context"

	"github.com/chris-alexander-pop/zmqbridge/pkg/bridge/topic"
	"github.com/chris-alexander-pop/zmqbridge/pkg/bridge/wire"
	"github.com/chris-alexander-pop/zmqbridge/pkg/resilience"
)

// Publisher is the transport's single outbound path. All of its
// methods serialize through the transport's publish mutex, so a
// Publisher can be shared freely across goroutines even though the
// underlying Socket may not be able to handle concurrent Send calls.
type Publisher struct {
	t *Transport
}

// Publish writes f as a PUB_SUB frame. Callers publishing at high
// rate from a single goroutine may reuse the same *wire.Frame across
// calls to take advantage of its internal scratch-buffer reuse;
// sharing one *wire.Frame across concurrent goroutines is not safe; use
// a separate Frame per goroutine instead.
func (p *Publisher) Publish(f *wire.Frame) error {
	f.Type = wire.MsgPubSub
	return p.publishFrame(f)
}

// SendReply publishes payload as an INBOX_RESPONSE addressed to
// replyTopic (normally the ReplyHandle carried by the originating
// INBOX_REQUEST frame).
func (p *Publisher) SendReply(replyTopic string, payload []byte) error {
	f := &wire.Frame{Subject: replyTopic, Type: wire.MsgInboxResponse, Payload: payload}
	return p.publishFrame(f)
}

func (p *Publisher) publishFrame(f *wire.Frame) error {
	if len(f.Subject) >= topic.MaxKeyLength {
		return ErrSubjectTooLong(f.Subject)
	}
	buf, err := f.Marshal()
	if err != nil {
		return ErrMalformedFrame(err)
	}
	// Marshal reuses f's scratch buffer; copy before handing off to
	// the retrying send so a subsequent reuse of f can't mutate bytes
	// a retry attempt is still writing.
	out := make([]byte, len(buf))
	copy(out, buf)
	return p.t.sendWithRetry(out)
}

func (t *Transport) sendWithRetry(buf []byte) error {
	if t.closed.Load() {
		return ErrTransportClosed()
	}
	cfg := resilience.RetryConfig{
		MaxAttempts:    t.cfg.PublishRetryAttempts,
		InitialBackoff: t.cfg.PublishRetryBackoff,
		Multiplier:     2.0,
		Jitter:         0.1,
		RetryIf:        func(err error) bool { return err != nil },
	}
	err := resilience.RetryWithCircuitBreaker(context.Background(), t.publishBreaker, cfg, func(ctx context.Context) error {
		t.pubMu.Lock()
		defer t.pubMu.Unlock()
		return t.pubSocket.Send(buf)
	})
	if err != nil {
		t.metrics.incDropped(t.bgCtx, "publish_failed")
		return err
	}
	t.metrics.incPublished(t.bgCtx)
	return nil
}
