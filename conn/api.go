package conn

import (
	"context"
	"time"

	"github.com/rskv-p/natscore/natserr"
	"github.com/rskv-p/natscore/protocol"
	"github.com/rskv-p/natscore/reqmux"
	"github.com/rskv-p/natscore/status"
	"github.com/rskv-p/natscore/status/httpmon"
)

// PubOpts configures one Publish call.
type PubOpts struct {
	Reply  string
	Header protocol.Header
}

// SubOpts configures one Subscribe call.
type SubOpts struct {
	Queue   string
	Max     int64
	Timeout time.Duration // inactivity deadline; 0 disables
	SinkBuf int           // sink channel depth; 0 uses the registry default
}

// ReqOpts configures one Request call.
type ReqOpts struct {
	Timeout time.Duration
	Header  protocol.Header
	NoMux   bool // use a disposable subscription instead of the shared mux
}

func (c *Conn) checkWritable() error {
	c.mu.Lock()
	st := c.state
	c.mu.Unlock()
	switch st {
	case StateClosed:
		return natserr.New(natserr.ConnectionClosed, "connection is closed")
	case StateDraining:
		return natserr.New(natserr.ConnectionDraining, "connection is draining")
	}
	return nil
}

// publishFrame validates subject/header/size and enqueues the encoded
// PUB/HPUB frame. Used directly by Publish and indirectly by the request
// mux's Publisher callback.
func (c *Conn) publishFrame(subject, reply string, header protocol.Header, payload []byte) error {
	if err := c.checkWritable(); err != nil {
		return err
	}
	if err := protocol.ValidPublishSubject(subject); err != nil {
		return err
	}
	if reply != "" {
		if err := protocol.ValidPublishSubject(reply); err != nil {
			return err
		}
	}

	c.mu.Lock()
	maxPayload := c.serverInfo.MaxPayload
	c.mu.Unlock()
	if maxPayload > 0 && int64(len(payload)) > maxPayload {
		return natserr.New(natserr.MaxPayloadExceeded, "payload exceeds server max_payload")
	}

	var frame []byte
	var err error
	if len(header) > 0 {
		frame, err = protocol.EncodeHPub(subject, reply, header, protocol.Status{}, payload)
	} else {
		frame, err = protocol.EncodePub(subject, reply, payload)
	}
	if err != nil {
		return err
	}
	return c.outq.Enqueue(frame)
}

// Publish enqueues subject/payload for delivery; it never blocks on the
// socket. Publishes from one caller goroutine reach the wire in call
// order.
func (c *Conn) Publish(subject string, payload []byte) error {
	return c.publishFrame(subject, "", nil, payload)
}

// PublishMsg publishes with an optional reply subject and header block.
func (c *Conn) PublishMsg(subject string, payload []byte, opts PubOpts) error {
	return c.publishFrame(subject, opts.Reply, opts.Header, payload)
}

// Subscribe installs a new subscription and returns its handle. SUB (and,
// if opts.Max > 0, an immediate UNSUB <sid> <max>) is enqueued before
// Subscribe returns.
func (c *Conn) Subscribe(subject string, opts SubOpts) (*Subscription, error) {
	if err := c.checkWritable(); err != nil {
		return nil, err
	}
	if err := protocol.ValidSubscribeSubject(subject); err != nil {
		return nil, err
	}
	rec, err := c.registry.Subscribe(subject, opts.Queue, opts.Max, opts.SinkBuf)
	if err != nil {
		return nil, err
	}
	if opts.Timeout > 0 {
		c.registry.ArmInactivityTimer(rec.Sid, opts.Timeout)
	}
	return &Subscription{rec: rec, conn: c}, nil
}

// QueueSubscribe is Subscribe with a queue group, the common case.
func (c *Conn) QueueSubscribe(subject, queue string) (*Subscription, error) {
	return c.Subscribe(subject, SubOpts{Queue: queue})
}

// Request publishes subject/payload and waits for exactly one reply,
// correlated via the shared inbox mux unless opts.NoMux requests a
// disposable subscription instead.
func (c *Conn) Request(ctx context.Context, subject string, payload []byte, opts ReqOpts) (*Msg, error) {
	if err := c.checkWritable(); err != nil {
		return nil, err
	}
	if err := protocol.ValidPublishSubject(subject); err != nil {
		return nil, err
	}

	if opts.NoMux {
		return c.requestNoMux(ctx, subject, payload, opts)
	}

	op, err := c.mux.Request(ctx, subject, payload, reqmux.Options{Timeout: opts.Timeout, Header: opts.Header})
	if err != nil {
		return nil, err
	}
	return &Msg{Subject: op.Subject, Reply: op.Reply, Header: op.Header, Status: op.Status, Data: op.Data, conn: c}, nil
}

// requestNoMux services one request with a disposable, auto-unsubscribing
// subscription instead of the shared mux inbox, for callers that want a
// dedicated reply subject per request.
func (c *Conn) requestNoMux(ctx context.Context, subject string, payload []byte, opts ReqOpts) (*Msg, error) {
	inbox := c.ids.NewInboxRoot()
	sub, err := c.Subscribe(inbox, SubOpts{Max: 1, SinkBuf: 1})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe(0)

	if err := c.publishFrame(subject, inbox, opts.Header, payload); err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := sub.Next(rctx)
	if err != nil {
		if rctx.Err() != nil {
			return nil, natserr.New(natserr.Timeout, "request timed out waiting for reply")
		}
		return nil, err
	}
	if msg.Status.Code == 503 {
		return nil, natserr.New(natserr.NoResponders, msg.Status.Description)
	}
	return msg, nil
}

// Flush enqueues a PING and blocks until the matching PONG is observed, or
// ctx is done. It resolves only after every publish issued before it has
// been handed to the transport.
func (c *Conn) Flush(ctx context.Context) error {
	if err := c.checkWritable(); err != nil {
		return err
	}
	ch := c.outq.Flush(protocol.EncodePing())
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FlushTimeout is Flush with a plain timeout instead of a caller-owned
// context.
func (c *Conn) FlushTimeout(d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return c.Flush(ctx)
}

// Varz satisfies status/httpmon.Snapshotter: a cheap, lock-protected
// snapshot of the connection's current shape for an external monitor to
// serve as JSON.
func (c *Conn) Varz() httpmon.Varz {
	c.mu.Lock()
	gen := c.generation
	var url string
	if c.tconn != nil {
		url = c.tconn.RemoteAddr()
	}
	c.mu.Unlock()

	return httpmon.Varz{
		ConnectedURL:    url,
		Generation:      gen,
		Subscriptions:   len(c.registry.Records()),
		PendingRequests: c.mux.PendingCount(),
	}
}

// Status subscribes to the connection's lifecycle event bus. New
// subscribers only observe events emitted after they subscribe.
func (c *Conn) Status(queueDepth int) *status.Subscription {
	return c.status.Subscribe(queueDepth)
}

// Drain performs an orderly shutdown: stop accepting new
// publishes/subscribes, UNSUB every live subscription, flush so that
// messages the server sent before the UNSUBs reach their sinks, then close
// every sink and the connection. Messages already in a sink stay readable
// after it closes; Drain does not wait for consumers to read them. Drain is
// irreversible.
func (c *Conn) Drain(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateDraining
	c.mu.Unlock()

	recs := c.registry.Records()
	for _, rec := range recs {
		_ = c.registry.Drain(rec.Sid)
	}

	ch := c.outq.Flush(protocol.EncodePing())
	select {
	case err := <-ch:
		if err != nil {
			c.closePermanently(err)
			return err
		}
	case <-ctx.Done():
		c.closePermanently(ctx.Err())
		return ctx.Err()
	}
	for _, rec := range recs {
		c.registry.FinishDrain(rec.Sid)
	}
	c.closePermanently(nil)
	return nil
}

// Close tears the connection down immediately without draining. Close is
// idempotent; concurrent callers all observe the same Closed() resolution.
func (c *Conn) Close() error {
	c.closePermanently(nil)
	return nil
}

// muxSubscribeOnce installs the request mux's single wildcard inbox
// subscription as an internal registry record whose deliveries are
// forwarded to the mux's own dispatcher rather than exposed through a
// user-facing Subscription.
func (c *Conn) muxSubscribeOnce(wildcard string, onMsg func(protocol.MsgOp)) error {
	rec, err := c.registry.Subscribe(wildcard, "", 0, 256)
	if err != nil {
		return err
	}
	go func() {
		ctx := c.lifeCtx
		for {
			d, ok := rec.Sink.Next(ctx)
			if !ok {
				return
			}
			if d.Err != nil {
				continue
			}
			onMsg(d.Msg)
		}
	}()
	return nil
}

// muxPublish is the request mux's Publisher callback, routed through the
// same validation and framing path as a user Publish call.
func (c *Conn) muxPublish(subject, reply string, header protocol.Header, payload []byte) error {
	return c.publishFrame(subject, reply, header, payload)
}
