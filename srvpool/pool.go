// Package srvpool tracks known servers, iteration order, and reconnect
// attempt accounting. Candidates are offered round-robin starting after
// the last-tried entry, with gossip-discovered entries optionally
// shuffled; retry delays follow an exponential backoff with full jitter.
package srvpool

import (
	"errors"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"
)

// DefaultURL is used when the caller seeds no servers at all.
const DefaultURL = "127.0.0.1:4222"

var ErrPoolExhausted = errors.New("srvpool: all servers exhausted their reconnect attempts")

// Server is a descriptor for one known NATS endpoint.
type Server struct {
	Scheme string
	Host   string // host:port, used for equality
	URL    string // original URL as supplied or discovered

	WasDiscovered     bool
	ReconnectAttempts int
	LastConnectedAt   time.Time
}

func (s *Server) key() string { return s.Host }

// ParseServer splits a raw server URL into scheme + host:port, defaulting
// the scheme to "nats" and the port to 4222.
func ParseServer(raw string) (*Server, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "nats://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	host := u.Host
	if u.Port() == "" {
		host = host + ":4222"
	}
	return &Server{Scheme: u.Scheme, Host: host, URL: u.Scheme + "://" + host}, nil
}

// Config controls iteration and retry accounting.
type Config struct {
	NoRandomize          bool
	MaxReconnectAttempts int // -1 = unlimited
	PerServerMaxAttempts int // 0 = unlimited
	ReconnectTimeWait    time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxReconnectAttempts: 60,
		ReconnectTimeWait:    2 * time.Second,
	}
}

// Pool owns the ordered list of known servers plus reconnect bookkeeping.
// The protocol handler is its only mutator, but reads from
// status/monitoring consumers may race with it, so a mutex is kept.
type Pool struct {
	mu          sync.Mutex
	servers     []*Server
	userSeeded  map[string]bool
	lastTried   int
	cfg         Config
	rng         *rand.Rand
	globalTries int
}

// New builds a Pool from user-supplied seed URLs (or DefaultURL if empty).
func New(seeds []string, cfg Config) (*Pool, error) {
	if len(seeds) == 0 {
		seeds = []string{DefaultURL}
	}
	p := &Pool{
		userSeeded: make(map[string]bool),
		cfg:        cfg,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		lastTried:  -1,
	}
	for _, raw := range seeds {
		s, err := ParseServer(raw)
		if err != nil {
			return nil, err
		}
		p.servers = append(p.servers, s)
		p.userSeeded[s.key()] = true
	}
	return p, nil
}

// Servers returns a snapshot of the known servers in pool order.
func (p *Pool) Servers() []*Server {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Server, len(p.servers))
	copy(out, p.servers)
	return out
}

// NextServer returns the next candidate to try, round-robin starting after
// the last-tried index, with optional randomization of discovered entries.
// It returns ErrPoolExhausted once the global cap (if any) is spent, or
// once every server has hit its per-server cap.
func (p *Pool) NextServer() (*Server, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cfg.MaxReconnectAttempts >= 0 && p.globalTries >= p.cfg.MaxReconnectAttempts {
		return nil, ErrPoolExhausted
	}
	if len(p.servers) == 0 {
		return nil, ErrPoolExhausted
	}

	order := p.candidateOrder()
	for _, idx := range order {
		s := p.servers[idx]
		if p.cfg.PerServerMaxAttempts > 0 && s.ReconnectAttempts >= p.cfg.PerServerMaxAttempts {
			continue
		}
		p.lastTried = idx
		return s, nil
	}
	return nil, ErrPoolExhausted
}

// candidateOrder returns indices into p.servers starting just after
// lastTried, round-robin. When randomization is enabled (the default),
// discovered entries are shuffled among themselves while user-seeded
// entries keep their original relative order.
func (p *Pool) candidateOrder() []int {
	n := len(p.servers)
	order := make([]int, 0, n)
	for i := 1; i <= n; i++ {
		order = append(order, (p.lastTried+i)%n)
	}
	if p.cfg.NoRandomize {
		return order
	}

	var seeded, discovered []int
	for _, idx := range order {
		if p.servers[idx].WasDiscovered {
			discovered = append(discovered, idx)
		} else {
			seeded = append(seeded, idx)
		}
	}
	p.rng.Shuffle(len(discovered), func(i, j int) { discovered[i], discovered[j] = discovered[j], discovered[i] })
	return append(seeded, discovered...)
}

// MarkAttempt records a (re)connect attempt against s before it is tried.
func (p *Pool) MarkAttempt(s *Server) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s.ReconnectAttempts++
	p.globalTries++
}

// MarkSuccess resets s's attempt counter and timestamps the connection.
func (p *Pool) MarkSuccess(s *Server) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s.ReconnectAttempts = 0
	s.LastConnectedAt = time.Now()
	p.globalTries = 0
}

// Update applies connect_urls gossip: URLs not currently known are
// appended as discovered; known discovered URLs absent from the new set
// are removed. User-seeded URLs are never removed by gossip.
func (p *Pool) Update(connectURLs []string) (added, removed []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	seen := make(map[string]bool, len(connectURLs))
	for _, raw := range connectURLs {
		s, err := ParseServer(raw)
		if err != nil {
			continue
		}
		seen[s.key()] = true
		if !p.has(s.key()) {
			s.WasDiscovered = true
			p.servers = append(p.servers, s)
			added = append(added, s.URL)
		}
	}

	kept := p.servers[:0:0]
	for _, s := range p.servers {
		if !s.WasDiscovered || seen[s.key()] || p.userSeeded[s.key()] {
			kept = append(kept, s)
			continue
		}
		removed = append(removed, s.URL)
	}
	p.servers = kept
	return added, removed
}

func (p *Pool) has(key string) bool {
	for _, s := range p.servers {
		if s.key() == key {
			return true
		}
	}
	return false
}

// Backoff computes the delay before the attempt-th retry, "Full Jitter" per
// AWS's exponential-backoff-and-jitter article: a uniformly random duration
// in [0, min(cap, base<<attempt)).
func Backoff(base time.Duration, attempt int, cap time.Duration) time.Duration {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	if attempt < 0 {
		attempt = 0
	}
	expo := base << uint(min(attempt, 20))
	if cap > 0 && expo > cap {
		expo = cap
	}
	if expo <= 0 {
		return base
	}
	return time.Duration(rand.Int63n(int64(expo)))
}
