package protocol

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rskv-p/natscore/natserr"
)

// HeaderPreamble opens every header block.
const HeaderPreamble = "NATS/1.0"

// Header is a canonicalized MIME-style header map. Multiple values per key
// are preserved in insertion order, mirroring net/http.Header's shape.
type Header map[string][]string

// Status, when non-empty, carries the optional inline "NATS/1.0 <code>
// <description>" line servers attach to generated responses (e.g. 503 No
// Responders).
type Status struct {
	Code        int
	Description string
}

func (s Status) set() bool { return s.Code != 0 }

// Set canonicalizes key (ASCII title-case per hyphen segment) and replaces
// any existing values.
func (h Header) Set(key, value string) error {
	if err := validateHeaderKey(key); err != nil {
		return err
	}
	if err := validateHeaderValue(value); err != nil {
		return err
	}
	h[CanonicalHeaderKey(key)] = []string{value}
	return nil
}

// Add appends value to key's existing values instead of replacing them.
func (h Header) Add(key, value string) error {
	if err := validateHeaderKey(key); err != nil {
		return err
	}
	if err := validateHeaderValue(value); err != nil {
		return err
	}
	ck := CanonicalHeaderKey(key)
	h[ck] = append(h[ck], value)
	return nil
}

// Get returns the first value for key, canonicalized, or "".
func (h Header) Get(key string) string {
	vs := h[CanonicalHeaderKey(key)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Clone returns a deep copy of h.
func (h Header) Clone() Header {
	if h == nil {
		return nil
	}
	out := make(Header, len(h))
	for k, vs := range h {
		cp := make([]string, len(vs))
		copy(cp, vs)
		out[k] = cp
	}
	return out
}

// CanonicalHeaderKey title-cases each hyphen-delimited segment, the way
// net/http.CanonicalHeaderKey does, e.g. "content-type" -> "Content-Type".
func CanonicalHeaderKey(key string) string {
	parts := strings.Split(key, "-")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + strings.ToLower(p[1:])
	}
	return strings.Join(parts, "-")
}

func validateHeaderKey(key string) error {
	if key == "" {
		return natserr.New(natserr.BadHeader, "header key is empty")
	}
	if strings.ContainsAny(key, ": \t\r\n") {
		return natserr.New(natserr.BadHeader, fmt.Sprintf("invalid header key %q", key))
	}
	for _, r := range key {
		if r < 0x21 || r == 0x7f {
			return natserr.New(natserr.BadHeader, fmt.Sprintf("invalid header key %q", key))
		}
	}
	return nil
}

func validateHeaderValue(value string) error {
	if strings.ContainsAny(value, "\r\n") {
		return natserr.New(natserr.BadHeader, "header value contains CR or LF")
	}
	return nil
}

// EncodeHeader renders the header block: an optional inline status line,
// the NATS/1.0 preamble otherwise, each Key: Value pair, and a terminating
// blank line. Keys are emitted in sorted order for determinism (the wire
// format does not require it).
func EncodeHeader(h Header, status Status) ([]byte, error) {
	var buf bytes.Buffer
	if status.set() {
		desc := status.Description
		if desc == "" {
			buf.WriteString(fmt.Sprintf("%s %d\r\n", HeaderPreamble, status.Code))
		} else {
			buf.WriteString(fmt.Sprintf("%s %d %s\r\n", HeaderPreamble, status.Code, desc))
		}
	} else {
		buf.WriteString(HeaderPreamble)
		buf.WriteString("\r\n")
	}

	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := validateHeaderKey(k); err != nil {
			return nil, err
		}
		for _, v := range h[k] {
			if err := validateHeaderValue(v); err != nil {
				return nil, err
			}
			buf.WriteString(k)
			buf.WriteString(": ")
			buf.WriteString(v)
			buf.WriteString("\r\n")
		}
	}
	buf.WriteString("\r\n")
	return buf.Bytes(), nil
}

// DecodeHeader parses a header block produced by EncodeHeader (or by a real
// NATS server). It returns the Header map and, if an inline status line was
// present, the Status.
func DecodeHeader(block []byte) (Header, Status, error) {
	r := bufio.NewReader(bytes.NewReader(block))
	first, err := readLine(r)
	if err != nil {
		return nil, Status{}, natserr.Wrap(natserr.ProtocolError, "truncated header block", err)
	}
	if !strings.HasPrefix(first, HeaderPreamble) {
		return nil, Status{}, natserr.New(natserr.ProtocolError, "missing NATS/1.0 preamble")
	}

	var status Status
	rest := strings.TrimSpace(strings.TrimPrefix(first, HeaderPreamble))
	if rest != "" {
		fields := strings.SplitN(rest, " ", 2)
		code, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, Status{}, natserr.New(natserr.ProtocolError, "invalid status code in header preamble")
		}
		status.Code = code
		if len(fields) == 2 {
			status.Description = strings.TrimSpace(fields[1])
		}
	}

	h := make(Header)
	for {
		line, err := readLine(r)
		if err != nil {
			return nil, Status{}, natserr.Wrap(natserr.ProtocolError, "truncated header block", err)
		}
		if line == "" {
			break
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			return nil, Status{}, natserr.New(natserr.BadHeader, fmt.Sprintf("malformed header line %q", line))
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if err := h.Add(key, val); err != nil {
			return nil, Status{}, err
		}
	}
	return h, status, nil
}

// readLine reads up to the next "\r\n" or "\n" and returns the line with
// the terminator stripped.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
