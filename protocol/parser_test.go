package protocol

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParserInfoPingPong(t *testing.T) {
	var gotInfo Info
	var pinged, ponged bool

	p := NewParser()
	p.OnInfo = func(i Info) error { gotInfo = i; return nil }
	p.OnPing = func() error { pinged = true; return nil }
	p.OnPong = func() error { ponged = true; return nil }

	require.NoError(t, p.Feed([]byte(`INFO {"server_id":"abc","max_payload":1048576,"headers":true}`+"\r\n")))
	require.NoError(t, p.Feed([]byte("PING\r\nPONG\r\n")))

	assert.Equal(t, "abc", gotInfo.ServerID)
	assert.True(t, gotInfo.Headers)
	assert.True(t, pinged)
	assert.True(t, ponged)
}

func TestParserMsgWholeFrame(t *testing.T) {
	var got MsgOp
	p := NewParser()
	p.OnMsg = func(m MsgOp) error { got = m; return nil }

	require.NoError(t, p.Feed([]byte("MSG a.x 1 5\r\nhello\r\n")))
	assert.Equal(t, "a.x", got.Subject)
	assert.Equal(t, uint64(1), got.Sid)
	assert.Equal(t, "", got.Reply)
	assert.Equal(t, []byte("hello"), got.Data)
}

func TestParserMsgWithReply(t *testing.T) {
	var got MsgOp
	p := NewParser()
	p.OnMsg = func(m MsgOp) error { got = m; return nil }

	require.NoError(t, p.Feed([]byte("MSG a.x 1 reply.1 5\r\nhello\r\n")))
	assert.Equal(t, "reply.1", got.Reply)
}

func TestParserByteAtATimeFragmentation(t *testing.T) {
	var got MsgOp
	var count int
	p := NewParser()
	p.OnMsg = func(m MsgOp) error { got = m; count++; return nil }

	frame := []byte("MSG a.x 1 reply.1 5\r\nhello\r\n")
	for _, b := range frame {
		require.NoError(t, p.Feed([]byte{b}))
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, "a.x", got.Subject)
	assert.Equal(t, []byte("hello"), got.Data)
}

func TestParserSplitAcrossArbitraryBoundaries(t *testing.T) {
	var got []MsgOp
	p := NewParser()
	p.OnMsg = func(m MsgOp) error { got = append(got, m); return nil }

	full := []byte("MSG a 1 2\r\nhi\r\nMSG b 2 3\r\nbye\r\n")
	// split in the middle of the second frame's control line
	require.NoError(t, p.Feed(full[:20]))
	require.NoError(t, p.Feed(full[20:]))

	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Subject)
	assert.Equal(t, []byte("hi"), got[0].Data)
	assert.Equal(t, "b", got[1].Subject)
	assert.Equal(t, []byte("bye"), got[1].Data)
}

func TestParserHMsgWithHeadersAndStatus(t *testing.T) {
	h := Header{}
	require.NoError(t, h.Set("X-A", "1"))
	hdrBlock, err := EncodeHeader(h, Status{Code: 503, Description: "No Responders"})
	require.NoError(t, err)
	body := []byte("payload")
	total := len(hdrBlock) + len(body)

	frame := "HMSG inbox.tok 7 " + strconv.Itoa(len(hdrBlock)) + " " + strconv.Itoa(total) + "\r\n"
	frame += string(hdrBlock) + string(body) + "\r\n"

	var got MsgOp
	p := NewParser()
	p.OnMsg = func(m MsgOp) error { got = m; return nil }
	require.NoError(t, p.Feed([]byte(frame)))

	assert.Equal(t, "inbox.tok", got.Subject)
	assert.Equal(t, uint64(7), got.Sid)
	assert.Equal(t, body, got.Data)
	assert.Equal(t, "1", got.Header.Get("X-A"))
	assert.Equal(t, 503, got.Status.Code)
	assert.Equal(t, "No Responders", got.Status.Description)
}

func TestParserErrAndOK(t *testing.T) {
	var reason string
	var ok bool
	p := NewParser()
	p.OnErr = func(r string) error { reason = r; return nil }
	p.OnOK = func() error { ok = true; return nil }

	require.NoError(t, p.Feed([]byte("-ERR 'Authorization Violation'\r\n+OK\r\n")))
	assert.Equal(t, "Authorization Violation", reason)
	assert.True(t, ok)
}
