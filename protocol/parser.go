package protocol

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/rskv-p/natscore/natserr"
)

// maxLineLen bounds how much of a control line we'll buffer before giving
// up on a misbehaving peer (real NATS control lines are at most a few KB).
const maxLineLen = 64 * 1024

type opState int

const (
	stateOpStart opState = iota
	statePayload
)

type pendingMsg struct {
	isH     bool
	subject string
	sid     uint64
	reply   string
	hdrSize int
	needed  int // total bytes to read, including the trailing CRLF
}

// Parser is a pull state machine accepting arbitrary fragmentation from
// the transport. Payload boundaries are determined solely by the announced
// size; the trailing CRLF is validated and discarded. Callbacks are
// invoked synchronously from Feed, in the order frames complete.
type Parser struct {
	state   opState
	lineBuf []byte
	pending *pendingMsg
	payload []byte

	OnInfo func(Info) error
	OnMsg  func(MsgOp) error
	OnPing func() error
	OnPong func() error
	OnOK   func() error
	OnErr  func(string) error
}

func NewParser() *Parser { return &Parser{} }

// Feed processes another chunk of bytes read from the transport, invoking
// the configured callbacks for every frame that becomes complete. It
// retains any partial line or partial payload internally for the next call.
func (p *Parser) Feed(data []byte) error {
	for len(data) > 0 {
		if p.state == statePayload {
			need := p.pending.needed - len(p.payload)
			if len(data) < need {
				p.payload = append(p.payload, data...)
				return nil
			}
			p.payload = append(p.payload, data[:need]...)
			data = data[need:]

			full := p.payload
			if len(full) < 2 || string(full[len(full)-2:]) != crlf {
				return natserr.New(natserr.ProtocolError, "payload missing trailing CRLF")
			}
			body := full[:len(full)-2]
			if err := p.dispatchPending(body); err != nil {
				return err
			}
			p.pending = nil
			p.payload = nil
			p.state = stateOpStart
			continue
		}

		// A CRLF split across two Feed calls: the buffered line ends in CR
		// and this chunk starts with LF.
		if n := len(p.lineBuf); n > 0 && p.lineBuf[n-1] == '\r' && data[0] == '\n' {
			line := p.lineBuf[:n-1]
			p.lineBuf = nil
			data = data[1:]
			if err := p.handleLine(line); err != nil {
				return err
			}
			continue
		}

		idx := bytes.Index(data, []byte(crlf))
		if idx < 0 {
			p.lineBuf = append(p.lineBuf, data...)
			if len(p.lineBuf) > maxLineLen {
				return natserr.New(natserr.ProtocolError, "control line too long")
			}
			return nil
		}

		var line []byte
		if len(p.lineBuf) > 0 {
			line = append(p.lineBuf, data[:idx]...)
			p.lineBuf = nil
		} else {
			line = data[:idx]
		}
		data = data[idx+2:]

		if err := p.handleLine(line); err != nil {
			return err
		}
	}
	return nil
}

func (p *Parser) handleLine(line []byte) error {
	fields := bytes.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	verb := string(fields[0])

	switch classifyVerb(verb) {
	case verbInfo:
		var info Info
		if len(fields) < 2 {
			return natserr.New(natserr.ProtocolError, "INFO missing payload")
		}
		raw := bytes.TrimSpace(line[len(fields[0]):])
		if err := json.Unmarshal(raw, &info); err != nil {
			return natserr.Wrap(natserr.ProtocolError, "invalid INFO json", err)
		}
		if p.OnInfo != nil {
			return p.OnInfo(info)
		}
		return nil

	case verbPing:
		if p.OnPing != nil {
			return p.OnPing()
		}
		return nil

	case verbPong:
		if p.OnPong != nil {
			return p.OnPong()
		}
		return nil

	case verbOK:
		if p.OnOK != nil {
			return p.OnOK()
		}
		return nil

	case verbErr:
		reason := parseErrLineArgs(string(bytes.TrimSpace(line[len(fields[0]):])))
		if p.OnErr != nil {
			return p.OnErr(reason)
		}
		return nil

	case verbMsg:
		return p.startPayload(fields[1:], false)

	case verbHMsg:
		return p.startPayload(fields[1:], true)

	default:
		return natserr.Wrap(natserr.ProtocolError, "unknown verb: "+verb, errUnsupportedVerb)
	}
}

func (p *Parser) startPayload(args [][]byte, isH bool) error {
	// MSG:  subject sid [reply] size        -> 3 or 4 fields
	// HMSG: subject sid [reply] hdrSize totalSize -> 4 or 5 fields
	minFields, maxFields := 3, 4
	if isH {
		minFields, maxFields = 4, 5
	}
	if len(args) < minFields || len(args) > maxFields {
		return natserr.New(natserr.ProtocolError, "malformed MSG/HMSG arguments")
	}

	pm := &pendingMsg{isH: isH, subject: string(args[0])}
	sid, err := strconv.ParseUint(string(args[1]), 10, 64)
	if err != nil {
		return natserr.Wrap(natserr.ProtocolError, "invalid sid", err)
	}
	pm.sid = sid

	rest := args[2:]
	if len(rest) == maxFields-2 {
		pm.reply = string(rest[0])
		rest = rest[1:]
	}

	if isH {
		hdrSize, err := strconv.Atoi(string(rest[0]))
		if err != nil {
			return natserr.Wrap(natserr.ProtocolError, "invalid header size", err)
		}
		total, err := strconv.Atoi(string(rest[1]))
		if err != nil {
			return natserr.Wrap(natserr.ProtocolError, "invalid total size", err)
		}
		if hdrSize < 0 || total < hdrSize {
			return natserr.New(natserr.ProtocolError, "header size exceeds total size")
		}
		pm.hdrSize = hdrSize
		pm.needed = total + 2
	} else {
		size, err := strconv.Atoi(string(rest[0]))
		if err != nil {
			return natserr.Wrap(natserr.ProtocolError, "invalid payload size", err)
		}
		pm.needed = size + 2
	}

	p.pending = pm
	p.state = statePayload
	p.payload = p.payload[:0]
	return nil
}

func (p *Parser) dispatchPending(body []byte) error {
	pm := p.pending
	op := MsgOp{Subject: pm.subject, Sid: pm.sid, Reply: pm.reply}

	if pm.isH {
		if pm.hdrSize > len(body) {
			return natserr.New(natserr.ProtocolError, "header size exceeds payload")
		}
		hdr, status, err := DecodeHeader(body[:pm.hdrSize])
		if err != nil {
			return err
		}
		op.Header = hdr
		op.Status = status
		op.Data = body[pm.hdrSize:]
	} else {
		op.Data = body
	}

	if p.OnMsg != nil {
		return p.OnMsg(op)
	}
	return nil
}
