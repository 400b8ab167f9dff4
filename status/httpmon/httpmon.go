// Package httpmon exposes a read-only JSON status/varz endpoint over the
// connection's status bus, in the style of the NATS server's monitoring
// port. The surface is unauthenticated and carries no mutating operations.
package httpmon

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rskv-p/natscore/status"
)

// Varz is the point-in-time snapshot served at GET /varz.
type Varz struct {
	ConnectedURL    string    `json:"connected_url"`
	Generation      uint64    `json:"generation"`
	Subscriptions   int       `json:"subscriptions"`
	PendingRequests int       `json:"pending_requests"`
	LastError       string    `json:"last_error,omitempty"`
	LastEventAt     time.Time `json:"last_event_at,omitempty"`
}

// Snapshotter produces the current Varz view on demand; conn.Conn
// implements this.
type Snapshotter interface {
	Varz() Varz
}

// Monitor serves /varz (a point-in-time snapshot) and /healthz (a plain
// liveness probe) over HTTP, and keeps a rolling log of recent status bus
// events at /events.
type Monitor struct {
	snap Snapshotter

	mu     sync.Mutex
	events []status.Event
	cap    int
}

// New builds a Monitor backed by snap, keeping up to cap recent status
// events (0 defaults to 100). Call Tail in its own goroutine to start
// tailing a bus subscription; call Handler to get the chi router to serve.
func New(snap Snapshotter, cap int) *Monitor {
	if cap <= 0 {
		cap = 100
	}
	return &Monitor{snap: snap, cap: cap}
}

// Tail consumes events from sub until ctx is canceled, appending them to
// the rolling log served at /events.
func (m *Monitor) Tail(ctx context.Context, sub *status.Subscription) {
	for {
		ev, ok := sub.Next(ctx)
		if !ok {
			return
		}
		m.mu.Lock()
		if len(m.events) >= m.cap {
			m.events = m.events[1:]
		}
		m.events = append(m.events, ev)
		m.mu.Unlock()
	}
}

func (m *Monitor) recentEvents() []status.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]status.Event, len(m.events))
	copy(out, m.events)
	return out
}

// Handler returns the chi router serving the monitoring endpoints.
func (m *Monitor) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Get("/varz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m.snap.Varz())
	})

	r.Get("/events", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m.recentEvents())
	})

	return r
}
