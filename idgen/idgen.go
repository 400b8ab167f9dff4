// Package idgen produces short, collision-resistant tokens used for inbox
// subjects and request-correlation tokens.
//
// The generator is a thin, connection-scoped wrapper around the real NUID
// algorithm (github.com/nats-io/nuid): a 12-character random prefix plus a
// base-62 counter of 10 characters, the counter stepping by a randomized
// increment. This is the same scheme nats.go itself uses to build inbox
// subjects, so we reuse the library rather than reimplement its RNG and
// base-62 digit table by hand.
package idgen

import (
	"sync"

	"github.com/nats-io/nuid"
)

// Generator produces 22-character tokens. A Generator is safe for
// concurrent use; the underlying nuid.NUID is not, so access is guarded.
type Generator struct {
	mu sync.Mutex
	n  *nuid.NUID
}

// New returns a Generator seeded independently from the package-level
// default, so that multiple connections in the same process do not share
// prefix state.
func New() *Generator {
	return &Generator{n: nuid.New()}
}

// Next returns the next 22-character token.
func (g *Generator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n.Next()
}

// NewInboxRoot returns a per-connection random subject root of the form
// "_INBOX.<token>", under which a connection's request-mux wildcard
// subscription and per-request reply subjects are rooted.
func (g *Generator) NewInboxRoot() string {
	return "_INBOX." + g.Next()
}
