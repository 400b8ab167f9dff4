package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodePubWire(t *testing.T) {
	frame, err := EncodePub("greet", "", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "PUB greet 5\r\nhello\r\n", string(frame))
}

func TestEncodePubWithReply(t *testing.T) {
	frame, err := EncodePub("greet", "reply.1", []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, "PUB greet reply.1 2\r\nhi\r\n", string(frame))
}

func TestEncodeSubAndUnsub(t *testing.T) {
	frame, err := EncodeSub("a.*", "", 1)
	require.NoError(t, err)
	assert.Equal(t, "SUB a.* 1\r\n", string(frame))

	frame, err = EncodeSub("a.*", "workers", 1)
	require.NoError(t, err)
	assert.Equal(t, "SUB a.* workers 1\r\n", string(frame))

	assert.Equal(t, "UNSUB 1\r\n", string(EncodeUnsub(1, 0)))
	assert.Equal(t, "UNSUB 1 2\r\n", string(EncodeUnsub(1, 2)))
}

func TestEncodeHPub(t *testing.T) {
	h := Header{}
	require.NoError(t, h.Set("X-A", "1"))
	frame, err := EncodeHPub("s", "", h, Status{}, []byte("body"))
	require.NoError(t, err)
	assert.Contains(t, string(frame), "HPUB s ")
	assert.Contains(t, string(frame), "NATS/1.0\r\n")
	assert.Contains(t, string(frame), "X-A: 1\r\n")
}

func TestEncodePingPong(t *testing.T) {
	assert.Equal(t, "PING\r\n", string(EncodePing()))
	assert.Equal(t, "PONG\r\n", string(EncodePong()))
}
