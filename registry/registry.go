// Package registry implements the subscription registry: local sid
// allocation, dispatch of inbound MSG/HMSG to the owning subscription's
// lazy sequence sink, and drain/unsubscribe bookkeeping. Lookup is by sid
// alone; the server, not the client, does subject matching.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/rskv-p/natscore/natserr"
	"github.com/rskv-p/natscore/protocol"
)

// Delivery is one item pulled from a subscription's Sink: either a message
// or a terminal error (e.g. TIMEOUT on inactivity).
type Delivery struct {
	Msg protocol.MsgOp
	Err error
}

// Sink is the lazy, single-shot, pull sequence of deliveries a
// subscription exposes to user code: a bounded channel with a close
// signal, consumed cooperatively.
type Sink struct {
	ch     chan Delivery
	mu     sync.Mutex
	closed bool
}

func newSink(buf int) *Sink {
	if buf <= 0 {
		buf = 64
	}
	return &Sink{ch: make(chan Delivery, buf)}
}

// Next blocks until a delivery is available, the sink closes, or ctx is
// done.
func (s *Sink) Next(ctx context.Context) (Delivery, bool) {
	select {
	case d, ok := <-s.ch:
		return d, ok
	case <-ctx.Done():
		return Delivery{}, false
	}
}

// push enqueues a delivery, dropping it silently if the sink is already
// closed (racing close/unsubscribe).
func (s *Sink) push(d Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- d:
	default:
		// Full sink: drop the oldest to make room rather than block the
		// single-threaded dispatch loop indefinitely.
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- d:
		default:
		}
	}
}

func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Record is one installed subscription. Generation is the connection
// generation the record was last (re)registered on the wire under; a
// dispatch carrying an older generation comes from a reader that lost its
// socket and is discarded.
type Record struct {
	Sid        uint64
	Subject    string
	Queue      string
	Max        int64 // 0 = unlimited
	Received   int64
	Generation uint64
	Sink       *Sink

	draining      bool
	inactivity    *time.Timer
	inactivityDur time.Duration
}

// Emitter sends an already-encoded frame to the outbound writer.
type Emitter func(frame []byte) error

// Registry owns sid allocation and the set of live subscription records for
// one connection generation.
type Registry struct {
	mu      sync.Mutex
	nextSid uint64
	gen     uint64
	records map[uint64]*Record
	emit    Emitter
}

func New(emit Emitter) *Registry {
	return &Registry{records: make(map[uint64]*Record), emit: emit}
}

// Subscribe installs a new subscription record and enqueues SUB (and, if
// max > 0, an immediate UNSUB <sid> <max>).
func (r *Registry) Subscribe(subject, queue string, max int64, sinkBuf int) (*Record, error) {
	r.mu.Lock()
	r.nextSid++
	sid := r.nextSid
	rec := &Record{Sid: sid, Subject: subject, Queue: queue, Max: max, Generation: r.gen, Sink: newSink(sinkBuf)}
	r.records[sid] = rec
	r.mu.Unlock()

	frame, err := protocol.EncodeSub(subject, queue, sid)
	if err != nil {
		r.remove(sid)
		return nil, err
	}
	if err := r.emit(frame); err != nil {
		r.remove(sid)
		return nil, err
	}
	if max > 0 {
		if err := r.emit(protocol.EncodeUnsub(sid, int(max))); err != nil {
			r.remove(sid)
			return nil, err
		}
	}
	return rec, nil
}

// Unsubscribe enqueues UNSUB. With max == 0 the subscription is removed
// immediately; with max > 0 it stays live until max MORE messages arrive.
// The wire value is the total count, since the server tallies from the
// start of the subscription.
func (r *Registry) Unsubscribe(sid uint64, max int64) error {
	r.mu.Lock()
	rec, ok := r.records[sid]
	var total int64
	if ok && max > 0 {
		total = rec.Received + max
		rec.Max = total
	}
	r.mu.Unlock()
	if !ok {
		return natserr.New(natserr.BadSubject, "unknown subscription")
	}

	if err := r.emit(protocol.EncodeUnsub(sid, int(total))); err != nil {
		return err
	}
	if max <= 0 {
		r.remove(sid)
		rec.Sink.Close()
	}
	return nil
}

// Drain marks sid draining: UNSUB is sent immediately, but the record and
// its sink stay live until Dispatch observes the max (or the caller closes
// it explicitly once in-flight deliveries are flushed), so messages
// already en route from the server are not lost.
func (r *Registry) Drain(sid uint64) error {
	r.mu.Lock()
	rec, ok := r.records[sid]
	if ok {
		rec.draining = true
	}
	r.mu.Unlock()
	if !ok {
		return natserr.New(natserr.BadSubject, "unknown subscription")
	}
	return r.emit(protocol.EncodeUnsub(sid, 0))
}

// FinishDrain closes sid's sink once the caller has confirmed pending
// dispatch drained (e.g. via a round-trip flush), and removes the record.
func (r *Registry) FinishDrain(sid uint64) {
	r.mu.Lock()
	rec, ok := r.records[sid]
	delete(r.records, sid)
	r.mu.Unlock()
	if ok {
		rec.Sink.Close()
	}
}

// SetGeneration stamps gen on the registry and every live record, called
// as subscription state is (re)registered on the wire after a
// (re)connect. Subsequent Subscribe calls stamp new records with the same
// generation.
func (r *Registry) SetGeneration(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen = gen
	for _, rec := range r.records {
		rec.Generation = gen
	}
}

// Dispatch routes an inbound MSG/HMSG to its subscription by sid,
// incrementing received_count and removing the record once max is reached.
// A message for an unknown sid (racing unsubscribe) is silently discarded,
// as is one whose gen predates the record's: that reader's socket is gone
// and its sid references are stale.
func (r *Registry) Dispatch(op protocol.MsgOp, gen uint64) {
	r.mu.Lock()
	rec, ok := r.records[op.Sid]
	if !ok || rec.Generation != gen {
		r.mu.Unlock()
		return
	}
	rec.Received++
	done := rec.Max > 0 && rec.Received >= rec.Max
	if done {
		delete(r.records, op.Sid)
		if rec.inactivity != nil {
			rec.inactivity.Stop()
		}
	}
	resetDur := rec.inactivityDur
	r.mu.Unlock()

	if !done && resetDur > 0 {
		r.ResetInactivityTimer(op.Sid, resetDur)
	}

	rec.Sink.push(Delivery{Msg: op})
	if done {
		rec.Sink.Close()
	}
}

// ArmInactivityTimer fires a TIMEOUT delivery and closes sid's sink if no
// message arrives within d.
func (r *Registry) ArmInactivityTimer(sid uint64, d time.Duration) {
	r.mu.Lock()
	rec, ok := r.records[sid]
	if !ok {
		r.mu.Unlock()
		return
	}
	if rec.inactivity != nil {
		rec.inactivity.Stop()
	}
	rec.inactivityDur = d
	rec.inactivity = time.AfterFunc(d, func() {
		rec.Sink.push(Delivery{Err: natserr.New(natserr.Timeout, "subscription inactivity timeout")})
		rec.Sink.Close()
		r.remove(sid)
	})
	r.mu.Unlock()
}

// ResetInactivityTimer re-arms sid's inactivity timer, called each time a
// message is dispatched to a subscription with an active inactivity
// deadline, so the deadline measures time since the last message, not time
// since Subscribe.
func (r *Registry) ResetInactivityTimer(sid uint64, d time.Duration) {
	r.ArmInactivityTimer(sid, d)
}

// Records returns a snapshot of all live records in sid order, used to
// replay SUB on reconnect.
func (r *Registry) Records() []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Record, 0, len(r.records))
	for sid := uint64(1); sid <= r.nextSid; sid++ {
		if rec, ok := r.records[sid]; ok {
			out = append(out, rec)
		}
	}
	return out
}

func (r *Registry) remove(sid uint64) {
	r.mu.Lock()
	rec, ok := r.records[sid]
	delete(r.records, sid)
	r.mu.Unlock()
	if ok && rec.inactivity != nil {
		rec.inactivity.Stop()
	}
}
