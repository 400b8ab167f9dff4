// Package protocol implements the NATS wire codec: encoding outbound
// control lines and length-delimited payloads, and a pull state-machine
// parser for the inbound half.
package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rskv-p/natscore/natserr"
)

const crlf = "\r\n"

// EncodeConnect renders "CONNECT <json>\r\n".
func EncodeConnect(info ConnectInfo) ([]byte, error) {
	b, err := json.Marshal(info)
	if err != nil {
		return nil, natserr.Wrap(natserr.ProtocolError, "marshal CONNECT", err)
	}
	var buf strings.Builder
	buf.WriteString("CONNECT ")
	buf.Write(b)
	buf.WriteString(crlf)
	return []byte(buf.String()), nil
}

// EncodePub renders "PUB <subject> [reply] <size>\r\n<payload>\r\n".
func EncodePub(subject, reply string, payload []byte) ([]byte, error) {
	if err := ValidPublishSubject(subject); err != nil {
		return nil, err
	}
	var buf strings.Builder
	buf.WriteString("PUB ")
	buf.WriteString(subject)
	buf.WriteByte(' ')
	if reply != "" {
		buf.WriteString(reply)
		buf.WriteByte(' ')
	}
	buf.WriteString(strconv.Itoa(len(payload)))
	buf.WriteString(crlf)
	buf.Write(payload)
	buf.WriteString(crlf)
	return []byte(buf.String()), nil
}

// EncodeHPub renders "HPUB <subject> [reply] <hdr-size> <total-size>\r\n
// <header-block><payload>\r\n".
func EncodeHPub(subject, reply string, header Header, status Status, payload []byte) ([]byte, error) {
	if err := ValidPublishSubject(subject); err != nil {
		return nil, err
	}
	hdrBlock, err := EncodeHeader(header, status)
	if err != nil {
		return nil, err
	}
	total := len(hdrBlock) + len(payload)

	var buf strings.Builder
	buf.WriteString("HPUB ")
	buf.WriteString(subject)
	buf.WriteByte(' ')
	if reply != "" {
		buf.WriteString(reply)
		buf.WriteByte(' ')
	}
	buf.WriteString(strconv.Itoa(len(hdrBlock)))
	buf.WriteByte(' ')
	buf.WriteString(strconv.Itoa(total))
	buf.WriteString(crlf)
	buf.Write(hdrBlock)
	buf.Write(payload)
	buf.WriteString(crlf)
	return []byte(buf.String()), nil
}

// EncodeSub renders "SUB <subject> [queue] <sid>\r\n".
func EncodeSub(subject, queue string, sid uint64) ([]byte, error) {
	if err := ValidSubscribeSubject(subject); err != nil {
		return nil, err
	}
	var buf strings.Builder
	buf.WriteString("SUB ")
	buf.WriteString(subject)
	buf.WriteByte(' ')
	if queue != "" {
		buf.WriteString(queue)
		buf.WriteByte(' ')
	}
	buf.WriteString(strconv.FormatUint(sid, 10))
	buf.WriteString(crlf)
	return []byte(buf.String()), nil
}

// EncodeUnsub renders "UNSUB <sid> [max]\r\n". max <= 0 omits the field.
func EncodeUnsub(sid uint64, max int) []byte {
	var buf strings.Builder
	buf.WriteString("UNSUB ")
	buf.WriteString(strconv.FormatUint(sid, 10))
	if max > 0 {
		buf.WriteByte(' ')
		buf.WriteString(strconv.Itoa(max))
	}
	buf.WriteString(crlf)
	return []byte(buf.String())
}

// EncodePing renders "PING\r\n".
func EncodePing() []byte { return []byte("PING" + crlf) }

// EncodePong renders "PONG\r\n".
func EncodePong() []byte { return []byte("PONG" + crlf) }

// verbKind classifies a case-insensitive verb token recognized on the wire.
type verbKind int

const (
	verbUnknown verbKind = iota
	verbInfo
	verbMsg
	verbHMsg
	verbPing
	verbPong
	verbOK
	verbErr
)

func classifyVerb(tok string) verbKind {
	switch {
	case strings.EqualFold(tok, "INFO"):
		return verbInfo
	case strings.EqualFold(tok, "MSG"):
		return verbMsg
	case strings.EqualFold(tok, "HMSG"):
		return verbHMsg
	case strings.EqualFold(tok, "PING"):
		return verbPing
	case strings.EqualFold(tok, "PONG"):
		return verbPong
	case strings.EqualFold(tok, "+OK"):
		return verbOK
	case strings.EqualFold(tok, "-ERR"):
		return verbErr
	default:
		return verbUnknown
	}
}

func parseErrLineArgs(line string) string {
	return strings.Trim(strings.TrimSpace(line), "'\"")
}

var errUnsupportedVerb = fmt.Errorf("unsupported verb")
