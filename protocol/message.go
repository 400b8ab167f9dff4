package protocol

// Info is the JSON descriptor a server sends on connect and on cluster
// changes.
type Info struct {
	ServerID     string   `json:"server_id"`
	ServerName   string   `json:"server_name,omitempty"`
	Version      string   `json:"version,omitempty"`
	Proto        int      `json:"proto,omitempty"`
	MaxPayload   int64    `json:"max_payload"`
	Headers      bool     `json:"headers"`
	AuthRequired bool     `json:"auth_required,omitempty"`
	TLSRequired  bool     `json:"tls_required,omitempty"`
	Nonce        string   `json:"nonce,omitempty"`
	ConnectURLs  []string `json:"connect_urls,omitempty"`
	LameDuckMode bool     `json:"ldm,omitempty"`
	ClientID     uint64   `json:"client_id,omitempty"`
}

// ConnectInfo is the JSON payload of the outgoing CONNECT control line.
type ConnectInfo struct {
	Verbose      bool   `json:"verbose"`
	Pedantic     bool   `json:"pedantic"`
	TLSRequired  bool   `json:"tls_required,omitempty"`
	Name         string `json:"name,omitempty"`
	Lang         string `json:"lang"`
	Version      string `json:"version"`
	Protocol     int    `json:"protocol"`
	Echo         bool   `json:"echo"`
	Headers      bool   `json:"headers,omitempty"`
	NoResponders bool   `json:"no_responders,omitempty"`

	User    string `json:"user,omitempty"`
	Pass    string `json:"pass,omitempty"`
	AuthTok string `json:"auth_token,omitempty"`
	JWT     string `json:"jwt,omitempty"`
	NKey    string `json:"nkey,omitempty"`
	Sig     string `json:"sig,omitempty"`
}

// MsgOp is an incoming MSG or HMSG, handed to the registry for dispatch.
type MsgOp struct {
	Subject string
	Sid     uint64
	Reply   string
	Header  Header // nil unless this was an HMSG
	Status  Status
	Data    []byte
}

// ErrOp is an incoming -ERR <reason>.
type ErrOp struct {
	Reason string
}
