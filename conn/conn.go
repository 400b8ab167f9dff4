package conn

import (
	"context"
	"crypto/tls"
	"strings"
	"sync"
	"time"

	"github.com/rskv-p/natscore/auth"
	"github.com/rskv-p/natscore/idgen"
	"github.com/rskv-p/natscore/internal/safe"
	"github.com/rskv-p/natscore/logger"
	"github.com/rskv-p/natscore/natserr"
	"github.com/rskv-p/natscore/outbound"
	"github.com/rskv-p/natscore/protocol"
	"github.com/rskv-p/natscore/registry"
	"github.com/rskv-p/natscore/reqmux"
	"github.com/rskv-p/natscore/srvpool"
	"github.com/rskv-p/natscore/status"
	"github.com/rskv-p/natscore/transport"
)

// State is the connection's lifecycle state.
type State int

const (
	StateConnecting State = iota
	StateHandshaking
	StateConnected
	StateReconnecting
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateDraining:
		return "DRAINING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Conn is one NATS connection: the protocol handler and state machine
// wiring together the server pool, authenticator, outbound queue,
// subscription registry, request mux, and status bus around one
// transport.Conn at a time. The transport, parser buffer, and pool are
// owned exclusively by the handler; the registry and outbound queue are
// shared with user-facing calls under their own locks.
type Conn struct {
	opts   Options
	pool   *srvpool.Pool
	dialer transport.Dialer
	ids    *idgen.Generator
	log    logger.ILogger

	registry *registry.Registry
	outq     *outbound.Queue
	mux      *reqmux.Mux
	status   *status.Bus

	mu         sync.Mutex
	state      State
	generation uint64
	tconn      transport.Conn
	serverInfo protocol.Info
	pingsOut   int

	lifeCtx    context.Context
	lifeCancel context.CancelFunc
	genCancel  context.CancelFunc

	closedOnce sync.Once
	closedCh   chan struct{}
	closedErr  error
}

// Connect dials the first reachable seed server, completes the handshake,
// and starts the background reader/writer/heartbeat tasks. It blocks until
// the initial connection succeeds or every seed is exhausted.
func Connect(ctx context.Context, opts ...Option) (*Conn, error) {
	o := DefaultOptions()
	for _, apply := range opts {
		apply(&o)
	}
	if o.Logger == nil {
		o.Logger = logger.Noop()
	}
	if o.Dialer == nil {
		o.Dialer = transport.NewTCPDialer(transport.WithDialTimeout(o.Timeout))
	}

	pool, err := srvpool.New(o.Servers, srvpool.Config{
		NoRandomize:          o.NoRandomize,
		MaxReconnectAttempts: o.MaxReconnectAttempts,
		ReconnectTimeWait:    o.ReconnectTimeWait,
	})
	if err != nil {
		return nil, err
	}

	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	c := &Conn{
		opts:     o,
		pool:     pool,
		dialer:   o.Dialer,
		ids:      idgen.New(),
		log:      o.Logger.WithContext("conn"),
		status:   status.New(),
		closedCh: make(chan struct{}),

		lifeCtx:    lifeCtx,
		lifeCancel: lifeCancel,
		state:      StateConnecting,
	}
	c.registry = registry.New(func(frame []byte) error { return c.outq.Enqueue(frame) })
	c.outq = outbound.New(o.Outbound, c.status)
	c.mux = reqmux.New(c.ids, c.muxSubscribeOnce, c.muxPublish)

	if err := c.attemptConnect(ctx); err != nil {
		c.closePermanently(err)
		return nil, err
	}
	return c, nil
}

// attemptConnect tries every server in the pool once, stopping at the
// first successful handshake. A fatal handshake outcome (server lacks a
// required capability, authorization rejected) aborts immediately instead
// of burning through the rest of the pool.
func (c *Conn) attemptConnect(ctx context.Context) error {
	var lastErr error
	for range c.pool.Servers() {
		srv, err := c.pool.NextServer()
		if err != nil {
			break
		}
		c.pool.MarkAttempt(srv)

		dctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		w, info, err := c.dialAndHandshake(dctx, srv.URL)
		cancel()
		if err != nil {
			if isFatalConnectErr(err) {
				return err
			}
			lastErr = err
			continue
		}
		if err := c.finishConnect(w, info); err != nil {
			w.tc.Close()
			if isFatalConnectErr(err) {
				return err
			}
			lastErr = err
			continue
		}
		c.pool.MarkSuccess(srv)
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	return natserr.New(natserr.ConnectionRefused, "no servers available for connection")
}

// isFatalConnectErr reports whether a handshake failure should stop the
// connect/reconnect loop outright rather than move on to the next server:
// capability mismatches (SERVER_OPTION_NA) and fatal -ERR kinds would
// fail identically everywhere.
func isFatalConnectErr(err error) bool {
	kind, ok := natserr.KindOf(err)
	if !ok {
		return false
	}
	return kind == natserr.ServerOptionNA || natserr.IsFatal(kind)
}

// wire is the read side of one connection attempt: a single parser and
// read buffer that live from the first INFO through the steady-state read
// loop. The handshake phases reconfigure the parser's callbacks instead of
// building throwaway parsers, so frames the server pipelines in the same
// segment as a handshake reply are never dropped — they land in the
// backlog below and are drained once the connection goes live.
type wire struct {
	tc  transport.Conn
	p   *protocol.Parser
	buf []byte

	backlogMsgs  []protocol.MsgOp
	backlogInfos []protocol.Info
	backlogErrs  []string
	pingsOwed    int
	pongsOwed    int
}

func newWire(tc transport.Conn) *wire {
	return &wire{tc: tc, p: protocol.NewParser(), buf: make([]byte, 32*1024)}
}

// dialAndHandshake opens the transport and reads the server's initial INFO,
// applying the headers-required and TLS-upgrade checks before any CONNECT
// is sent.
func (c *Conn) dialAndHandshake(ctx context.Context, addr string) (*wire, protocol.Info, error) {
	tc, err := c.dialer.Dial(ctx, dialAddr(addr))
	if err != nil {
		return nil, protocol.Info{}, natserr.Wrap(natserr.ConnectionRefused, "dial failed", err)
	}
	w := newWire(tc)

	info, err := c.readInfo(w)
	if err != nil {
		tc.Close()
		if _, ok := natserr.KindOf(err); ok {
			return nil, protocol.Info{}, err
		}
		return nil, protocol.Info{}, natserr.Wrap(natserr.ConnectionTimeout, "handshake failed reading INFO", err)
	}

	if c.opts.Headers && !info.Headers {
		tc.Close()
		return nil, protocol.Info{}, natserr.New(natserr.ServerOptionNA, "server does not support headers")
	}

	if info.TLSRequired || c.opts.TLSRequired {
		cfg := c.opts.TLSConfig
		if cfg == nil {
			cfg = &tls.Config{}
		}
		upgraded, err := transport.Upgrade(tc, cfg)
		if err != nil {
			tc.Close()
			return nil, protocol.Info{}, natserr.Wrap(natserr.ConnectionRefused, "TLS upgrade failed", err)
		}
		w.tc = upgraded
	}

	return w, info, nil
}

func (c *Conn) readInfo(w *wire) (protocol.Info, error) {
	_ = w.tc.SetReadDeadline(time.Now().Add(c.opts.Timeout))
	defer w.tc.SetReadDeadline(time.Time{})

	var info protocol.Info
	var got bool
	w.p.OnInfo = func(i protocol.Info) error {
		if got {
			w.backlogInfos = append(w.backlogInfos, i)
			return nil
		}
		info = i
		got = true
		return nil
	}
	w.p.OnMsg = func(op protocol.MsgOp) error { w.backlogMsgs = append(w.backlogMsgs, op); return nil }
	w.p.OnPing = func() error { w.pingsOwed++; return nil }
	w.p.OnPong = func() error { w.pongsOwed++; return nil }
	w.p.OnOK = func() error { return nil }
	w.p.OnErr = func(reason string) error {
		return natserr.New(classifyErrReason(reason), reason)
	}

	for !got {
		n, err := w.tc.Read(w.buf)
		if n > 0 {
			if ferr := w.p.Feed(w.buf[:n]); ferr != nil {
				return info, ferr
			}
		}
		if got {
			break
		}
		if err != nil {
			return info, err
		}
	}
	return info, nil
}

// finishConnect sends CONNECT plus an initial PING and awaits the matching
// PONG before switching the connection live: only then are the
// steady-state reader/writer/heartbeat tasks started and subscriptions
// from a prior generation replayed. The wire's parser carries over into
// the read loop, and anything the server pipelined behind the handshake
// PONG is drained from the wire backlog first.
func (c *Conn) finishConnect(w *wire, info protocol.Info) error {
	var fields auth.Fields
	if c.opts.Authenticator != nil {
		f, err := c.opts.Authenticator.Authenticate(info.Nonce)
		if err != nil {
			return natserr.Wrap(natserr.AuthorizationViol, "authenticator failed", err)
		}
		fields = f
	}

	connectInfo := protocol.ConnectInfo{
		Verbose:  c.opts.Verbose,
		Pedantic: c.opts.Pedantic,
		Name:     c.opts.Name,
		Lang:     "go",
		Version:  moduleVersion,
		Protocol: 1,
		Echo:     !c.opts.NoEcho,
		Headers:  c.opts.Headers,
		// Opting in to no_responders rides on header support: the 503
		// reply the server synthesizes for a responderless request is
		// itself a header message.
		NoResponders: c.opts.Headers,
		User:         fields.User,
		Pass:         fields.Pass,
		AuthTok:      fields.AuthToken,
		JWT:          fields.JWT,
		NKey:         fields.NKey,
		Sig:          fields.Sig,
	}
	frame, err := protocol.EncodeConnect(connectInfo)
	if err != nil {
		return err
	}
	if _, err := w.tc.Write(frame); err != nil {
		return natserr.Wrap(natserr.ConnectionRefused, "write CONNECT", err)
	}
	if _, err := w.tc.Write(protocol.EncodePing()); err != nil {
		return natserr.Wrap(natserr.ConnectionRefused, "write initial PING", err)
	}
	if err := c.awaitHandshakePong(w); err != nil {
		return err
	}

	c.mu.Lock()
	c.tconn = w.tc
	c.serverInfo = info
	c.generation++
	gen := c.generation
	c.state = StateConnected
	c.pingsOut = 0
	c.mu.Unlock()

	c.registry.SetGeneration(gen)

	genCtx, genCancel := context.WithCancel(c.lifeCtx)
	c.genCancel = genCancel

	// Replay subscription state straight onto the new transport, ahead of
	// any frames the replay buffer retained across the reconnect: the
	// server must know the subscriptions before it sees queued publishes.
	// The writer task for this generation is not running yet, so these
	// writes cannot interleave with queue drains.
	for _, rec := range c.registry.Records() {
		f, err := protocol.EncodeSub(rec.Subject, rec.Queue, rec.Sid)
		if err != nil {
			continue
		}
		if _, err := w.tc.Write(f); err != nil {
			return natserr.Wrap(natserr.ConnectionRefused, "replay SUB", err)
		}
		if rec.Max > 0 {
			remaining := rec.Max - rec.Received
			if _, err := w.tc.Write(protocol.EncodeUnsub(rec.Sid, int(remaining))); err != nil {
				return natserr.Wrap(natserr.ConnectionRefused, "replay UNSUB", err)
			}
		}
	}
	c.outq.Resume()

	c.installSteadyCallbacks(w, gen)
	c.drainWireBacklog(w, gen)

	go safe.Run(c.log, "conn.readLoop", func() { c.readLoop(genCtx, w) })
	go safe.Run(c.log, "conn.writer", func() {
		if err := outbound.Run(c.outq, w.tc); err != nil {
			c.handleDisconnect(natserr.Wrap(natserr.ConnectionClosed, "write failed", err))
		}
	})
	go safe.Run(c.log, "conn.heartbeat", func() { c.heartbeatLoop(genCtx) })
	return nil
}

// awaitHandshakePong blocks until the server answers the initial PING sent
// by finishConnect with a PONG, or reports a fatal -ERR first. INFO
// updates and stray +OK/PING frames arriving before the PONG are
// tolerated, and complete frames behind the PONG in the same read land in
// the wire backlog for the live connection to drain.
func (c *Conn) awaitHandshakePong(w *wire) error {
	_ = w.tc.SetReadDeadline(time.Now().Add(c.opts.Timeout))
	defer w.tc.SetReadDeadline(time.Time{})

	var done bool
	var handshakeErr error
	w.p.OnPong = func() error {
		if done {
			w.pongsOwed++
			return nil
		}
		done = true
		return nil
	}
	w.p.OnErr = func(reason string) error {
		if done {
			w.backlogErrs = append(w.backlogErrs, reason)
			return nil
		}
		done = true
		handshakeErr = natserr.New(classifyErrReason(reason), reason)
		return nil
	}

	for !done {
		n, err := w.tc.Read(w.buf)
		if n > 0 {
			if ferr := w.p.Feed(w.buf[:n]); ferr != nil {
				return ferr
			}
		}
		if done {
			break
		}
		if err != nil {
			return natserr.Wrap(natserr.ConnectionRefused, "read handshake PONG", err)
		}
	}
	return handshakeErr
}

// installSteadyCallbacks points the wire's parser at the live connection's
// handlers. Called once per (re)connect, before the read loop starts, on
// the same goroutine that ran the handshake.
func (c *Conn) installSteadyCallbacks(w *wire, gen uint64) {
	w.p.OnMsg = func(op protocol.MsgOp) error { c.registry.Dispatch(op, gen); return nil }
	w.p.OnPing = func() error { return c.outq.Enqueue(protocol.EncodePong()) }
	w.p.OnPong = func() error {
		c.mu.Lock()
		c.pingsOut = 0
		c.mu.Unlock()
		c.outq.ResolvePong()
		return nil
	}
	w.p.OnOK = func() error { return nil }
	w.p.OnErr = func(reason string) error { c.handleServerErr(reason); return nil }
	w.p.OnInfo = func(i protocol.Info) error { c.handleInfoUpdate(i); return nil }
}

// drainWireBacklog replays frames that completed during the handshake
// phases through the live handlers, in kind order: deliveries first, then
// the protocol bookkeeping.
func (c *Conn) drainWireBacklog(w *wire, gen uint64) {
	for _, op := range w.backlogMsgs {
		c.registry.Dispatch(op, gen)
	}
	for i := 0; i < w.pingsOwed; i++ {
		_ = c.outq.Enqueue(protocol.EncodePong())
	}
	for i := 0; i < w.pongsOwed; i++ {
		c.outq.ResolvePong()
	}
	for _, i := range w.backlogInfos {
		c.handleInfoUpdate(i)
	}
	for _, reason := range w.backlogErrs {
		c.handleServerErr(reason)
	}
	w.backlogMsgs, w.backlogInfos, w.backlogErrs = nil, nil, nil
	w.pingsOwed, w.pongsOwed = 0, 0
}

// dialAddr is what gets handed to the Dialer: a bare host:port for the
// default TCP transport, but the full URL for WebSocket schemes, whose
// dialer needs it intact.
func dialAddr(url string) string {
	if strings.HasPrefix(url, "ws://") || strings.HasPrefix(url, "wss://") {
		return url
	}
	if i := strings.Index(url, "://"); i >= 0 {
		return url[i+3:]
	}
	return url
}

const moduleVersion = "0.1.0"

// readLoop continues reading on the wire whose parser the handshake
// already primed; callbacks were installed by installSteadyCallbacks.
func (c *Conn) readLoop(ctx context.Context, w *wire) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := w.tc.Read(w.buf)
		if n > 0 {
			if ferr := w.p.Feed(w.buf[:n]); ferr != nil {
				c.handleDisconnect(ferr)
				return
			}
		}
		if err != nil {
			c.handleDisconnect(natserr.Wrap(natserr.ConnectionClosed, "read failed", err))
			return
		}
	}
}

func (c *Conn) heartbeatLoop(ctx context.Context) {
	if c.opts.PingInterval <= 0 {
		return
	}
	t := time.NewTicker(c.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.mu.Lock()
			c.pingsOut++
			out := c.pingsOut
			c.mu.Unlock()
			if c.opts.MaxPingsOut > 0 && out > c.opts.MaxPingsOut {
				c.handleDisconnect(natserr.New(natserr.StaleConnection, "no PONG within max_pings_out"))
				return
			}
			// Registered as a flush waiter so the PONG answering this PING
			// is not taken for the PONG of a later user Flush.
			_ = c.outq.Flush(protocol.EncodePing())
		}
	}
}

// handleInfoUpdate applies connect_urls gossip to the pool and reacts to
// lame-duck mode, independently of whether this particular INFO carried a
// connect_urls change. Gossip alone never tears down the current socket,
// even when the connected server stops appearing in its own list.
func (c *Conn) handleInfoUpdate(info protocol.Info) {
	if len(info.ConnectURLs) > 0 {
		added, removed := c.pool.Update(info.ConnectURLs)
		if len(added) > 0 || len(removed) > 0 {
			c.status.Emit(status.Event{Kind: status.Update, Payload: map[string][]string{"added": added, "removed": removed}})
		}
	}
	if info.LameDuckMode {
		c.status.Emit(status.Event{Kind: status.LDM, Payload: nil})
		if c.opts.ReconnectOnLameDuck {
			c.handleDisconnect(natserr.New(natserr.ConnectionClosed, "server entered lame duck mode"))
		}
	}
}

var fatalReasonKinds = map[string]natserr.Kind{
	"authorization violation": natserr.AuthorizationViol,
	"permissions violation":   natserr.PermissionsViol,
	"stale connection":        natserr.StaleConnection,
	"slow consumer":           natserr.SlowConsumer,
}

func classifyErrReason(reason string) natserr.Kind {
	lower := strings.ToLower(reason)
	for prefix, kind := range fatalReasonKinds {
		if strings.Contains(lower, prefix) {
			return kind
		}
	}
	return natserr.ProtocolError
}

// handleServerErr splits -ERR reasons into fatal and transient: fatal
// reasons close the connection for good, the lame-duck signal triggers a
// proactive reconnect, and anything else is surfaced on the status bus
// while the connection stays live.
func (c *Conn) handleServerErr(reason string) {
	kind := classifyErrReason(reason)
	err := natserr.New(kind, reason)
	if natserr.IsFatal(kind) {
		c.closePermanently(err)
		return
	}
	if strings.Contains(strings.ToLower(reason), "lame duck") {
		c.status.Emit(status.Event{Kind: status.LDM, Payload: err})
		if c.opts.ReconnectOnLameDuck {
			c.handleDisconnect(err)
		}
		return
	}
	c.status.Emit(status.Event{Kind: status.ErrorEvent, Payload: err})
}

// handleDisconnect pauses the outbound queue and either starts the
// reconnect loop or closes permanently, depending on options.
func (c *Conn) handleDisconnect(err error) {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.state = StateReconnecting
	var addr string
	if c.tconn != nil {
		addr = c.tconn.RemoteAddr()
		c.tconn.Close()
	}
	if c.genCancel != nil {
		c.genCancel()
	}
	c.mu.Unlock()

	c.outq.Pause()
	c.status.Emit(status.Event{Kind: status.Disconnect, Payload: addr})
	if c.opts.DisconnectedCallback != nil {
		c.opts.DisconnectedCallback(err)
	}

	if !c.opts.Reconnect {
		c.closePermanently(err)
		return
	}
	go safe.Run(c.log, "conn.reconnectLoop", c.reconnectLoop)
}

func (c *Conn) reconnectLoop() {
	attempt := 0
	for {
		select {
		case <-c.lifeCtx.Done():
			return
		default:
		}

		srv, err := c.pool.NextServer()
		if err != nil {
			c.closePermanently(natserr.Wrap(natserr.ConnectionClosed, "reconnect attempts exhausted", err))
			return
		}
		c.pool.MarkAttempt(srv)

		delay := srvpool.Backoff(c.opts.ReconnectTimeWait, attempt, 30*time.Second)
		attempt++
		select {
		case <-time.After(delay):
		case <-c.lifeCtx.Done():
			return
		}

		dctx, cancel := context.WithTimeout(c.lifeCtx, c.opts.Timeout)
		w, info, err := c.dialAndHandshake(dctx, srv.URL)
		cancel()
		if err != nil {
			continue
		}
		if err := c.finishConnect(w, info); err != nil {
			w.tc.Close()
			if isFatalConnectErr(err) {
				c.closePermanently(err)
				return
			}
			continue
		}
		c.pool.MarkSuccess(srv)
		c.status.Emit(status.Event{Kind: status.Reconnect, Payload: srv.URL})
		if c.opts.ReconnectedCallback != nil {
			c.opts.ReconnectedCallback(srv.URL)
		}
		return
	}
}

// closePermanently tears the connection down for good: the outbound queue
// is closed, pending flush waiters are failed, and closedCh is resolved
// exactly once no matter how many paths race into it.
func (c *Conn) closePermanently(err error) {
	c.closedOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		if c.tconn != nil {
			c.tconn.Close()
		}
		c.closedErr = err
		c.mu.Unlock()

		c.lifeCancel()
		c.outq.Close()
		flushErr := err
		if flushErr == nil {
			flushErr = natserr.New(natserr.ConnectionClosed, "connection closed")
		}
		c.outq.FailAllFlushWaiters(flushErr)
		close(c.closedCh)

		if c.opts.ClosedCallback != nil {
			c.opts.ClosedCallback(err)
		}
	})
}

// State returns the connection's current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Generation returns the counter incremented on each successful
// (re)connect, stamped on subscription state as it is replayed.
func (c *Conn) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Closed returns a channel closed once the connection has shut down for
// good, and the terminal error (nil if closed via a user-initiated Close).
func (c *Conn) Closed() (<-chan struct{}, func() error) {
	return c.closedCh, func() error { return c.closedErr }
}
