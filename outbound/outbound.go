// Package outbound implements the connection's write side: a single writer
// task drains a FIFO of already-encoded protocol frames, coalescing
// whatever is queued at each wakeup into one buffer before handing it to
// the transport, with backpressure and flush bookkeeping on the side.
package outbound

import (
	"fmt"
	"io"
	"sync"

	"github.com/rskv-p/natscore/natserr"
)

// StatusReporter receives out-of-band error conditions the queue cannot
// surface to a synchronous caller, such as frames dropped while paused for
// reconnect. The status bus (component I) implements this.
type StatusReporter interface {
	ReportError(err error)
}

// Config bounds queue memory.
type Config struct {
	HighWaterMark   int // bytes; 0 = unbounded
	ReplayBufferCap int // bytes retained while paused for reconnect; 0 = unbounded
}

func DefaultConfig() Config {
	return Config{
		HighWaterMark:   8 * 1024 * 1024,
		ReplayBufferCap: 8 * 1024 * 1024,
	}
}

// Queue is the outbound frame queue. It is safe for concurrent Enqueue /
// Flush calls from user goroutines; Run is intended for a single writer
// goroutine.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	frames []byte // already-coalesced bytes ready for the writer
	size   int

	paused     bool
	pausedBuf  []byte
	pausedSize int
	epoch      uint64 // bumped on every Pause; retires the previous writer task

	flushWaiters []chan error
	closed       bool

	cfg    Config
	status StatusReporter
}

func New(cfg Config, status StatusReporter) *Queue {
	q := &Queue{cfg: cfg, status: status}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends frame to the queue. It never blocks: a high-water-mark
// breach returns a SLOW_CONSUMER error to the caller instead of waiting
// for the writer to drain.
func (q *Queue) Enqueue(frame []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return natserr.New(natserr.ConnectionClosed, "outbound queue is closed")
	}

	if q.paused {
		if q.cfg.ReplayBufferCap > 0 && q.pausedSize+len(frame) > q.cfg.ReplayBufferCap {
			q.reportDropped(len(frame))
			return nil
		}
		q.pausedBuf = append(q.pausedBuf, frame...)
		q.pausedSize += len(frame)
		return nil
	}

	if q.cfg.HighWaterMark > 0 && q.size+len(frame) > q.cfg.HighWaterMark {
		return natserr.New(natserr.SlowConsumer, "outbound queue exceeds high-water mark")
	}
	q.frames = append(q.frames, frame...)
	q.size += len(frame)
	q.cond.Signal()
	return nil
}

// Flush enqueues pingFrame and registers a FIFO waiter resolved by the next
// call to ResolvePong — the future a caller's flush() awaits. PING frames
// bypass the high-water-mark check: heartbeats must still reach the wire so
// the connection can detect staleness.
func (q *Queue) Flush(pingFrame []byte) <-chan error {
	ch := make(chan error, 1)
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		ch <- natserr.New(natserr.ConnectionClosed, "outbound queue is closed")
		return ch
	}

	q.flushWaiters = append(q.flushWaiters, ch)
	if q.paused {
		q.pausedBuf = append(q.pausedBuf, pingFrame...)
		q.pausedSize += len(pingFrame)
		return ch
	}
	q.frames = append(q.frames, pingFrame...)
	q.size += len(pingFrame)
	q.cond.Signal()
	return ch
}

// ResolvePong resolves the oldest pending flush waiter with a nil error, in
// FIFO order, on each observed PONG.
func (q *Queue) ResolvePong() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.flushWaiters) == 0 {
		return
	}
	ch := q.flushWaiters[0]
	q.flushWaiters = q.flushWaiters[1:]
	ch <- nil
	close(ch)
}

// FailAllFlushWaiters rejects every pending flush waiter with err, used when
// the connection closes fatally and no further PONG will ever arrive.
func (q *Queue) FailAllFlushWaiters(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, ch := range q.flushWaiters {
		ch <- err
		close(ch)
	}
	q.flushWaiters = nil
}

// Pause stops frames from reaching the writer-visible buffer; Enqueue and
// Flush instead accumulate into a bounded replay buffer until Resume. Used
// while the handler tears down and re-establishes the transport. Frames
// already queued but not yet handed to the transport are moved into the
// replay buffer, and the current writer task is retired: a Run started
// before this Pause returns instead of racing the next generation's writer
// for the replayed frames.
func (q *Queue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = true
	q.epoch++
	if len(q.frames) > 0 {
		q.pausedBuf = append(q.pausedBuf, q.frames...)
		q.pausedSize += q.size
		q.frames = nil
		q.size = 0
	}
	q.cond.Broadcast()
}

// Resume splices the replay buffer back onto the front of the writer queue
// and wakes the writer.
func (q *Queue) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = false
	if len(q.pausedBuf) == 0 {
		return
	}
	q.frames = append(q.pausedBuf, q.frames...)
	q.size += q.pausedSize
	q.pausedBuf = nil
	q.pausedSize = 0
	q.cond.Signal()
}

func (q *Queue) currentEpoch() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.epoch
}

// next blocks until frames are available or the queue is closed, returning
// everything currently queued coalesced into one buffer. It reports ok=false
// once the queue is closed and drained, or once epoch is stale (a Pause
// happened after the calling writer task started).
func (q *Queue) next(epoch uint64) (buf []byte, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.frames) == 0 && !q.closed && q.epoch == epoch {
		q.cond.Wait()
	}
	if q.epoch != epoch || len(q.frames) == 0 {
		return nil, false
	}
	buf = q.frames
	q.frames = nil
	q.size = 0
	return buf, true
}

// Close stops the queue permanently; pending flush waiters are left for the
// caller to fail via FailAllFlushWaiters.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

func (q *Queue) reportDropped(n int) {
	if q.status == nil {
		return
	}
	q.status.ReportError(natserr.New(natserr.SlowConsumer,
		fmt.Sprintf("dropped %d queued bytes while reconnecting: replay buffer exhausted", n)))
}

// Run is the writer task for one transport attachment: it drains the queue
// into w until the queue closes, a Pause retires it, or a write fails.
// Callers run one Run per (re)connect generation in its own goroutine; a
// retired Run returns nil so a write error against a freshly attached
// transport is the only condition that reports back.
func Run(q *Queue, w io.Writer) error {
	epoch := q.currentEpoch()
	for {
		buf, ok := q.next(epoch)
		if !ok {
			return nil
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
}
