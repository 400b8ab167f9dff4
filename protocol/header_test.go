package protocol

import (
	"testing"

	"github.com/rskv-p/natscore/natserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{}
	require.NoError(t, h.Set("Content-Type", "application/json"))
	require.NoError(t, h.Add("X-Trace", "a"))
	require.NoError(t, h.Add("X-Trace", "b"))

	block, err := EncodeHeader(h, Status{})
	require.NoError(t, err)

	got, status, err := DecodeHeader(block)
	require.NoError(t, err)
	assert.False(t, status.set())
	assert.Equal(t, []string{"application/json"}, got["Content-Type"])
	assert.Equal(t, []string{"a", "b"}, got["X-Trace"])
}

func TestHeaderCanonicalization(t *testing.T) {
	h := Header{}
	require.NoError(t, h.Set("content-type", "text/plain"))
	assert.Equal(t, "text/plain", h.Get("Content-Type"))
	assert.Equal(t, "text/plain", h.Get("CONTENT-TYPE"))
}

func TestHeaderStatusLine(t *testing.T) {
	block, err := EncodeHeader(Header{}, Status{Code: 503, Description: "No Responders"})
	require.NoError(t, err)

	h, status, err := DecodeHeader(block)
	require.NoError(t, err)
	assert.Empty(t, h)
	assert.Equal(t, 503, status.Code)
	assert.Equal(t, "No Responders", status.Description)
}

func TestHeaderBadKey(t *testing.T) {
	h := Header{}
	err := h.Set("X:bad", "v")
	require.Error(t, err)
	assertBadHeader(t, err)
}

func TestHeaderBadValue(t *testing.T) {
	h := Header{}
	err := h.Set("X-Ok", "line1\nline2")
	require.Error(t, err)
	assertBadHeader(t, err)
}

func assertBadHeader(t *testing.T, err error) {
	t.Helper()
	kind, ok := natserr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, natserr.BadHeader, kind)
}
