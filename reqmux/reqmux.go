// Package reqmux implements request/reply multiplexing: a single wildcard
// subscription on a connection-scoped inbox, fanning inbound replies out
// to per-request pending entries keyed by a token carried in the reply
// subject's last segment, so many concurrent requests share one
// subscription.
package reqmux

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rskv-p/natscore/idgen"
	"github.com/rskv-p/natscore/natserr"
	"github.com/rskv-p/natscore/protocol"
)

// Publisher sends a PUB/HPUB frame for subject/reply with the given body.
type Publisher func(subject, reply string, header protocol.Header, payload []byte) error

// SubscribeOnce installs the mux's single wildcard subscription. It is
// called at most once, lazily, on first Request.
type SubscribeOnce func(inboxWildcard string, onMsg func(protocol.MsgOp)) error

// Mux tracks in-flight requests awaiting a reply on the shared inbox
// subscription.
type Mux struct {
	mu        sync.Mutex
	base      string // e.g. "_INBOX.<token>"
	started   bool
	pending   map[string]chan Result
	ids       *idgen.Generator
	subscribe SubscribeOnce
	publish   Publisher
}

// Result is what a Request resolves to: either a message or an error
// (TIMEOUT, or NO_RESPONDERS translated from a header status).
type Result struct {
	Msg protocol.MsgOp
	Err error
}

// PendingCount reports how many requests are currently awaiting a reply,
// for status/monitoring surfaces.
func (m *Mux) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func New(ids *idgen.Generator, subscribe SubscribeOnce, publish Publisher) *Mux {
	return &Mux{
		base:      ids.NewInboxRoot(),
		ids:       ids,
		pending:   make(map[string]chan Result),
		subscribe: subscribe,
		publish:   publish,
	}
}

func (m *Mux) ensureStarted() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	wildcard := m.base + ".*"
	if err := m.subscribe(wildcard, m.onMsg); err != nil {
		return err
	}
	m.started = true
	return nil
}

// onMsg is the mux subscription's handler: it parses the last token of the
// reply subject as the request token and resolves the pending entry
// single-shot, or discards silently if unknown.
func (m *Mux) onMsg(op protocol.MsgOp) {
	idx := strings.LastIndexByte(op.Subject, '.')
	if idx < 0 {
		return
	}
	token := op.Subject[idx+1:]

	m.mu.Lock()
	ch, ok := m.pending[token]
	if ok {
		delete(m.pending, token)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	if status := op.Status; status.Code != 0 && status.Code != 100 {
		ch <- Result{Err: statusToErr(status)}
		close(ch)
		return
	}
	ch <- Result{Msg: op}
	close(ch)
}

func statusToErr(s protocol.Status) error {
	if s.Code == 503 {
		return natserr.New(natserr.NoResponders, s.Description)
	}
	return natserr.New(natserr.ProtocolError, s.Description)
}

// Options configures one Request call.
type Options struct {
	Timeout time.Duration
	Header  protocol.Header
}

// Request publishes subject/payload with a mux-owned reply inbox and waits
// for a reply, TIMEOUT, or cancellation via ctx.
func (m *Mux) Request(ctx context.Context, subject string, payload []byte, opts Options) (protocol.MsgOp, error) {
	if err := m.ensureStarted(); err != nil {
		return protocol.MsgOp{}, err
	}

	token := m.ids.Next()
	reply := m.base + "." + token
	ch := make(chan Result, 1)

	m.mu.Lock()
	m.pending[token] = ch
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		delete(m.pending, token)
		m.mu.Unlock()
	}

	if err := m.publish(subject, reply, opts.Header, payload); err != nil {
		cancel()
		return protocol.MsgOp{}, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.Msg, res.Err
	case <-timer.C:
		cancel()
		return protocol.MsgOp{}, natserr.New(natserr.Timeout, "request timed out waiting for reply")
	case <-ctx.Done():
		cancel()
		return protocol.MsgOp{}, ctx.Err()
	}
}
