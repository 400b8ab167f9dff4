package reqmux

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rskv-p/natscore/idgen"
	"github.com/rskv-p/natscore/natserr"
	"github.com/rskv-p/natscore/protocol"
)

type harness struct {
	mu       sync.Mutex
	handler  func(protocol.MsgOp)
	wildcard string
	sent     []string
}

func newHarness() *harness { return &harness{} }

func (h *harness) subscribe(wildcard string, onMsg func(protocol.MsgOp)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.wildcard = wildcard
	h.handler = onMsg
	return nil
}

func (h *harness) publish(subject, reply string, header protocol.Header, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, subject+"|"+reply)
	return nil
}

func (h *harness) deliver(reply string, op protocol.MsgOp) {
	h.mu.Lock()
	fn := h.handler
	h.mu.Unlock()
	op.Subject = reply
	fn(op)
}

func TestRequestResolvesOnReply(t *testing.T) {
	h := newHarness()
	mux := New(idgen.New(), h.subscribe, h.publish)

	var got protocol.MsgOp
	var gotErr error
	done := make(chan struct{})
	go func() {
		got, gotErr = mux.Request(context.Background(), "svc", []byte("ping"), Options{Timeout: time.Second})
		close(done)
	}()

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.sent) == 1
	}, time.Second, time.Millisecond)

	h.mu.Lock()
	reply := h.sent[0][len("svc|"):]
	h.mu.Unlock()
	h.deliver(reply, protocol.MsgOp{Data: []byte("pong")})

	<-done
	require.NoError(t, gotErr)
	assert.Equal(t, []byte("pong"), got.Data)
}

func TestRequestTimesOut(t *testing.T) {
	h := newHarness()
	mux := New(idgen.New(), h.subscribe, h.publish)

	_, err := mux.Request(context.Background(), "svc", []byte("ping"), Options{Timeout: 20 * time.Millisecond})
	require.Error(t, err)
	kind, ok := natserr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, natserr.Timeout, kind)
}

func TestLateReplyAfterTimeoutIsDropped(t *testing.T) {
	h := newHarness()
	mux := New(idgen.New(), h.subscribe, h.publish)

	_, err := mux.Request(context.Background(), "svc", []byte("ping"), Options{Timeout: 10 * time.Millisecond})
	require.Error(t, err)

	h.mu.Lock()
	reply := h.sent[0][len("svc|"):]
	h.mu.Unlock()

	require.NotPanics(t, func() {
		h.deliver(reply, protocol.MsgOp{Data: []byte("too late")})
	})
}

func TestNoRespondersStatusTranslatesToError(t *testing.T) {
	h := newHarness()
	mux := New(idgen.New(), h.subscribe, h.publish)

	done := make(chan struct{})
	var err error
	go func() {
		_, err = mux.Request(context.Background(), "svc", []byte("ping"), Options{Timeout: time.Second})
		close(done)
	}()

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.sent) == 1
	}, time.Second, time.Millisecond)

	h.mu.Lock()
	reply := h.sent[0][len("svc|"):]
	h.mu.Unlock()
	h.deliver(reply, protocol.MsgOp{Status: protocol.Status{Code: 503, Description: "No Responders"}})

	<-done
	require.Error(t, err)
	kind, ok := natserr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, natserr.NoResponders, kind)
}

func TestCancelViaContextRemovesEntryWithoutResolving(t *testing.T) {
	h := newHarness()
	mux := New(idgen.New(), h.subscribe, h.publish)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var err error
	go func() {
		_, err = mux.Request(ctx, "svc", []byte("ping"), Options{Timeout: time.Minute})
		close(done)
	}()

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.sent) == 1
	}, time.Second, time.Millisecond)

	cancel()
	<-done
	assert.ErrorIs(t, err, context.Canceled)
}
