package outbound

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rskv-p/natscore/natserr"
)

type captureWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *captureWriter) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *captureWriter) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func TestEnqueueCoalescesIntoOneWrite(t *testing.T) {
	q := New(DefaultConfig(), nil)
	w := &captureWriter{}

	done := make(chan struct{})
	go func() { Run(q, w); close(done) }()

	require.NoError(t, q.Enqueue([]byte("PUB a 1\r\nx\r\n")))
	require.NoError(t, q.Enqueue([]byte("PUB b 1\r\ny\r\n")))

	require.Eventually(t, func() bool {
		return w.String() == "PUB a 1\r\nx\r\nPUB b 1\r\ny\r\n"
	}, time.Second, time.Millisecond)

	q.Close()
	<-done
}

func TestHighWaterMarkReturnsSlowConsumer(t *testing.T) {
	cfg := Config{HighWaterMark: 4}
	q := New(cfg, nil)
	require.NoError(t, q.Enqueue([]byte("ab")))
	err := q.Enqueue([]byte("abc"))
	require.Error(t, err)
	kind, ok := natserr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, natserr.SlowConsumer, kind)
}

func TestFlushResolvesInFIFOOrder(t *testing.T) {
	q := New(DefaultConfig(), nil)
	w := &captureWriter{}
	go Run(q, w)
	t.Cleanup(q.Close)

	f1 := q.Flush([]byte("PING\r\n"))
	f2 := q.Flush([]byte("PING\r\n"))

	var order []int
	q.ResolvePong()
	select {
	case err := <-f1:
		require.NoError(t, err)
		order = append(order, 1)
	case <-time.After(time.Second):
		t.Fatal("f1 did not resolve")
	}

	q.ResolvePong()
	select {
	case err := <-f2:
		require.NoError(t, err)
		order = append(order, 2)
	case <-time.After(time.Second):
		t.Fatal("f2 did not resolve")
	}

	assert.Equal(t, []int{1, 2}, order)
}

func TestPauseBuffersAndResumeReplays(t *testing.T) {
	q := New(DefaultConfig(), nil)
	q.Pause()
	require.NoError(t, q.Enqueue([]byte("PUB a 1\r\nx\r\n")))

	w := &captureWriter{}
	go Run(q, w)
	t.Cleanup(q.Close)

	// nothing written while paused
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, "", w.String())

	q.Resume()
	require.Eventually(t, func() bool {
		return w.String() == "PUB a 1\r\nx\r\n"
	}, time.Second, time.Millisecond)
}

type recordingStatus struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordingStatus) ReportError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func TestPausedOverflowDropsAndReportsStatus(t *testing.T) {
	status := &recordingStatus{}
	cfg := Config{ReplayBufferCap: 4}
	q := New(cfg, status)
	q.Pause()

	require.NoError(t, q.Enqueue([]byte("ab")))
	require.NoError(t, q.Enqueue([]byte("abcdef")))

	status.mu.Lock()
	defer status.mu.Unlock()
	require.Len(t, status.errs, 1)
	kind, ok := natserr.KindOf(status.errs[0])
	require.True(t, ok)
	assert.Equal(t, natserr.SlowConsumer, kind)
}

func TestCloseFailsPendingFlushWaiters(t *testing.T) {
	q := New(DefaultConfig(), nil)
	ch := q.Flush([]byte("PING\r\n"))
	q.Close()
	q.FailAllFlushWaiters(natserr.New(natserr.ConnectionClosed, "closed"))

	select {
	case err := <-ch:
		require.Error(t, err)
		kind, _ := natserr.KindOf(err)
		assert.Equal(t, natserr.ConnectionClosed, kind)
	case <-time.After(time.Second):
		t.Fatal("flush waiter was never failed")
	}
}

func TestEnqueueAfterCloseFails(t *testing.T) {
	q := New(DefaultConfig(), nil)
	q.Close()
	err := q.Enqueue([]byte("x"))
	require.Error(t, err)
	kind, _ := natserr.KindOf(err)
	assert.Equal(t, natserr.ConnectionClosed, kind)
}
