package srvpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToLocalhost(t *testing.T) {
	p, err := New(nil, DefaultConfig())
	require.NoError(t, err)
	servers := p.Servers()
	require.Len(t, servers, 1)
	assert.Equal(t, "127.0.0.1:4222", servers[0].Host)
	assert.False(t, servers[0].WasDiscovered)
}

func TestNextServerRoundRobinNoRandomize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NoRandomize = true
	p, err := New([]string{"a:4222", "b:4222", "c:4222"}, cfg)
	require.NoError(t, err)

	var order []string
	for i := 0; i < 3; i++ {
		s, err := p.NextServer()
		require.NoError(t, err)
		order = append(order, s.Host)
		p.MarkAttempt(s)
	}
	assert.Equal(t, []string{"a:4222", "b:4222", "c:4222"}, order)
}

func TestUpdateNeverDropsUserSeeded(t *testing.T) {
	p, err := New([]string{"seed:4222"}, DefaultConfig())
	require.NoError(t, err)

	added, removed := p.Update([]string{"disc1:4222", "disc2:4222"})
	assert.ElementsMatch(t, []string{"nats://disc1:4222", "nats://disc2:4222"}, added)
	assert.Empty(t, removed)

	// Next gossip drops disc1, adds nothing new, never touches seed.
	added, removed = p.Update([]string{"disc2:4222"})
	assert.Empty(t, added)
	assert.ElementsMatch(t, []string{"nats://disc1:4222"}, removed)

	hosts := make([]string, 0)
	for _, s := range p.Servers() {
		hosts = append(hosts, s.Host)
	}
	assert.Contains(t, hosts, "seed:4222")
	assert.Contains(t, hosts, "disc2:4222")
	assert.NotContains(t, hosts, "disc1:4222")
}

func TestMarkAttemptAndSuccess(t *testing.T) {
	p, err := New([]string{"a:4222"}, DefaultConfig())
	require.NoError(t, err)
	s := p.Servers()[0]

	p.MarkAttempt(s)
	p.MarkAttempt(s)
	assert.Equal(t, 2, p.Servers()[0].ReconnectAttempts)

	p.MarkSuccess(s)
	assert.Equal(t, 0, p.Servers()[0].ReconnectAttempts)
	assert.WithinDuration(t, time.Now(), p.Servers()[0].LastConnectedAt, time.Second)
}

func TestPerServerCapExhausts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NoRandomize = true
	cfg.PerServerMaxAttempts = 1
	cfg.MaxReconnectAttempts = -1
	p, err := New([]string{"a:4222"}, cfg)
	require.NoError(t, err)

	s, err := p.NextServer()
	require.NoError(t, err)
	p.MarkAttempt(s)

	_, err = p.NextServer()
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestBackoffRespectsCap(t *testing.T) {
	for i := 0; i < 50; i++ {
		d := Backoff(10*time.Millisecond, 30, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 500*time.Millisecond)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}
}
