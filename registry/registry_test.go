package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rskv-p/natscore/natserr"
	"github.com/rskv-p/natscore/protocol"
)

func collectFrames() (Emitter, func() []string) {
	var mu sync.Mutex
	var frames []string
	emit := func(f []byte) error {
		mu.Lock()
		defer mu.Unlock()
		frames = append(frames, string(f))
		return nil
	}
	return emit, func() []string {
		mu.Lock()
		defer mu.Unlock()
		out := make([]string, len(frames))
		copy(out, frames)
		return out
	}
}

func TestSubscribeEmitsSubThenUnsubWhenMaxSet(t *testing.T) {
	emit, frames := collectFrames()
	r := New(emit)

	rec, err := r.Subscribe("a.*", "", 2, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Sid)
	assert.Equal(t, []string{"SUB a.* 1\r\n", "UNSUB 1 2\r\n"}, frames())
}

func TestDispatchDeliversAndRemovesAtMax(t *testing.T) {
	emit, _ := collectFrames()
	r := New(emit)
	rec, err := r.Subscribe("a.*", "", 2, 8)
	require.NoError(t, err)

	ctx := context.Background()
	r.Dispatch(protocol.MsgOp{Subject: "a.x", Sid: 1, Data: []byte("1")}, 0)
	r.Dispatch(protocol.MsgOp{Subject: "a.y", Sid: 1, Data: []byte("2")}, 0)

	d1, ok := rec.Sink.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, []byte("1"), d1.Msg.Data)

	d2, ok := rec.Sink.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, []byte("2"), d2.Msg.Data)

	_, ok = rec.Sink.Next(ctx)
	assert.False(t, ok, "sink should be closed after max deliveries")

	assert.Empty(t, r.Records())
}

func TestDispatchToUnknownSidIsSilentlyDiscarded(t *testing.T) {
	emit, _ := collectFrames()
	r := New(emit)
	require.NotPanics(t, func() {
		r.Dispatch(protocol.MsgOp{Subject: "x", Sid: 999, Data: []byte("z")}, 0)
	})
}

func TestUnsubscribeWithoutMaxRemovesImmediately(t *testing.T) {
	emit, frames := collectFrames()
	r := New(emit)
	rec, err := r.Subscribe("a", "", 0, 8)
	require.NoError(t, err)

	require.NoError(t, r.Unsubscribe(rec.Sid, 0))
	assert.Contains(t, frames(), "UNSUB 1\r\n")

	_, ok := rec.Sink.Next(context.Background())
	assert.False(t, ok)
	assert.Empty(t, r.Records())
}

func TestUnsubscribeWithMaxDeliversAtMostNMore(t *testing.T) {
	emit, frames := collectFrames()
	r := New(emit)
	rec, err := r.Subscribe("a", "", 0, 8)
	require.NoError(t, err)

	r.Dispatch(protocol.MsgOp{Subject: "a", Sid: rec.Sid, Data: []byte("1")}, 0)
	r.Dispatch(protocol.MsgOp{Subject: "a", Sid: rec.Sid, Data: []byte("2")}, 0)

	// "at most 1 more" after two deliveries: the wire carries the total.
	require.NoError(t, r.Unsubscribe(rec.Sid, 1))
	assert.Contains(t, frames(), "UNSUB 1 3\r\n")

	r.Dispatch(protocol.MsgOp{Subject: "a", Sid: rec.Sid, Data: []byte("3")}, 0)
	r.Dispatch(protocol.MsgOp{Subject: "a", Sid: rec.Sid, Data: []byte("4")}, 0)

	ctx := context.Background()
	for _, want := range []string{"1", "2", "3"} {
		d, ok := rec.Sink.Next(ctx)
		require.True(t, ok)
		assert.Equal(t, []byte(want), d.Msg.Data)
	}
	_, ok := rec.Sink.Next(ctx)
	assert.False(t, ok, "sink should close after one more delivery")
}

func TestDispatchFromStaleGenerationIsDropped(t *testing.T) {
	emit, _ := collectFrames()
	r := New(emit)
	rec, err := r.Subscribe("a", "", 0, 8)
	require.NoError(t, err)

	// A reconnect re-stamps the record; the old reader's dispatches carry
	// the prior generation and must be discarded.
	r.SetGeneration(2)
	r.Dispatch(protocol.MsgOp{Subject: "a", Sid: rec.Sid, Data: []byte("stale")}, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	_, ok := rec.Sink.Next(ctx)
	cancel()
	assert.False(t, ok, "stale-generation dispatch must not be delivered")

	r.Dispatch(protocol.MsgOp{Subject: "a", Sid: rec.Sid, Data: []byte("fresh")}, 2)
	d, ok := rec.Sink.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, []byte("fresh"), d.Msg.Data)
	assert.Equal(t, int64(1), rec.Received, "stale dispatch must not count against received")
}

func TestInactivityTimerDeliversTimeoutAndCloses(t *testing.T) {
	emit, _ := collectFrames()
	r := New(emit)
	rec, err := r.Subscribe("a", "", 0, 8)
	require.NoError(t, err)

	r.ArmInactivityTimer(rec.Sid, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d, ok := rec.Sink.Next(ctx)
	require.True(t, ok)
	require.Error(t, d.Err)
	kind, _ := natserr.KindOf(d.Err)
	assert.Equal(t, natserr.Timeout, kind)

	_, ok = rec.Sink.Next(ctx)
	assert.False(t, ok)
}

func TestDispatchResetsInactivityTimer(t *testing.T) {
	emit, _ := collectFrames()
	r := New(emit)
	rec, err := r.Subscribe("a", "", 0, 8)
	require.NoError(t, err)

	r.ArmInactivityTimer(rec.Sid, 40*time.Millisecond)

	// A steady trickle of messages, each arriving before the deadline,
	// must keep re-arming the timer instead of letting it fire on a clock
	// started at Subscribe time.
	for i := 0; i < 3; i++ {
		time.Sleep(25 * time.Millisecond)
		r.Dispatch(protocol.MsgOp{Subject: "a", Sid: rec.Sid, Data: []byte("x")}, 0)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	for i := 0; i < 3; i++ {
		d, ok := rec.Sink.Next(ctx)
		require.True(t, ok, "message %d should have been delivered, not preempted by a stale timeout", i)
		assert.NoError(t, d.Err)
	}

	// Now let the subscription actually go quiet and confirm the
	// (re-armed) timer still fires.
	d, ok := rec.Sink.Next(ctx)
	require.True(t, ok)
	require.Error(t, d.Err)
	kind, _ := natserr.KindOf(d.Err)
	assert.Equal(t, natserr.Timeout, kind)
}

func TestRecordsReturnsSidOrder(t *testing.T) {
	emit, _ := collectFrames()
	r := New(emit)
	_, err := r.Subscribe("a", "", 0, 8)
	require.NoError(t, err)
	_, err = r.Subscribe("b", "", 0, 8)
	require.NoError(t, err)
	_, err = r.Subscribe("c", "", 0, 8)
	require.NoError(t, err)

	recs := r.Records()
	require.Len(t, recs, 3)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{recs[0].Sid, recs[1].Sid, recs[2].Sid})
}

func TestDrainThenFinishDrainClosesSink(t *testing.T) {
	emit, frames := collectFrames()
	r := New(emit)
	rec, err := r.Subscribe("a", "", 0, 8)
	require.NoError(t, err)

	require.NoError(t, r.Drain(rec.Sid))
	assert.Contains(t, frames(), "UNSUB 1\r\n")

	// in-flight delivery still reaches the sink before FinishDrain
	r.Dispatch(protocol.MsgOp{Subject: "a", Sid: rec.Sid, Data: []byte("late")}, 0)
	r.FinishDrain(rec.Sid)

	ctx := context.Background()
	d, ok := rec.Sink.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, []byte("late"), d.Msg.Data)

	_, ok = rec.Sink.Next(ctx)
	assert.False(t, ok)
}
