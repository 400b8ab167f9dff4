package transport_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rskv-p/natscore/transport/pipetest"
)

func TestPipePairRoundTrips(t *testing.T) {
	client, server := pipetest.Pair()
	defer client.Close()
	defer server.Close()

	go func() { _, _ = server.Write([]byte("INFO {}\r\n")) }()

	buf := make([]byte, 64)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "INFO {}\r\n", string(buf[:n]))
}

func TestRemoteAddrIsStable(t *testing.T) {
	client, server := pipetest.Pair()
	defer client.Close()
	defer server.Close()
	assert.Equal(t, "pipe", client.RemoteAddr())
}
