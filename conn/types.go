package conn

import (
	"context"
	"errors"

	"github.com/rskv-p/natscore/natserr"
	"github.com/rskv-p/natscore/protocol"
	"github.com/rskv-p/natscore/registry"
)

// ErrSubscriptionClosed is returned by Subscription.Next once the
// underlying sink has closed cleanly (unsubscribe or drain completion, as
// opposed to a TIMEOUT, which is returned as its own *natserr.Error).
var ErrSubscriptionClosed = errors.New("conn: subscription closed")

// Header is a NATS message header block, canonicalized the same way
// net/http.Header is.
type Header = protocol.Header

// Msg is one delivered message, either via a Subscription or a Request
// reply.
type Msg struct {
	Subject string
	Reply   string
	Header  Header
	Status  protocol.Status
	Data    []byte

	conn *Conn
}

// Respond publishes data on m.Reply, the common request/reply pattern. It
// returns an error if m has no reply subject.
func (m *Msg) Respond(data []byte) error {
	if m.Reply == "" {
		return natserr.New(natserr.BadSubject, "message has no reply subject")
	}
	return m.conn.Publish(m.Reply, data)
}

// Subscription is a live subscription's handle: a single-shot lazy sequence
// of Msgs backed by a registry.Record.
type Subscription struct {
	rec  *registry.Record
	conn *Conn
}

func (s *Subscription) Sid() uint64     { return s.rec.Sid }
func (s *Subscription) Subject() string { return s.rec.Subject }
func (s *Subscription) Queue() string   { return s.rec.Queue }

// Next blocks for the next delivered message. It returns ErrSubscriptionClosed
// once the sink closes cleanly, or a *natserr.Error (kind TIMEOUT) if an
// inactivity timer fired.
func (s *Subscription) Next(ctx context.Context) (*Msg, error) {
	d, ok := s.rec.Sink.Next(ctx)
	if !ok {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrSubscriptionClosed
	}
	if d.Err != nil {
		return nil, d.Err
	}
	return &Msg{
		Subject: d.Msg.Subject,
		Reply:   d.Msg.Reply,
		Header:  d.Msg.Header,
		Status:  d.Msg.Status,
		Data:    d.Msg.Data,
		conn:    s.conn,
	}, nil
}

// Unsubscribe enqueues UNSUB, delivering at most max more messages (0 means
// immediately).
func (s *Subscription) Unsubscribe(max int) error {
	return s.conn.registry.Unsubscribe(s.rec.Sid, int64(max))
}

// Drain enqueues UNSUB but keeps delivering in-flight messages until the
// connection's drain machinery finishes this subscription.
func (s *Subscription) Drain() error {
	return s.conn.registry.Drain(s.rec.Sid)
}
