// Package conn implements the NATS client connection: the public Connect
// API plus the orchestration of srvpool, auth, protocol, outbound,
// registry, reqmux, and status underneath it.
//
// Options are assembled with functional With* builders. OptionsFromMap
// additionally decodes the same knobs out of a plain map via
// mitchellh/mapstructure, for callers loading connection settings from
// parsed JSON or YAML config.
package conn

import (
	"crypto/tls"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/rskv-p/natscore/auth"
	"github.com/rskv-p/natscore/logger"
	"github.com/rskv-p/natscore/outbound"
	"github.com/rskv-p/natscore/transport"
)

// Options holds every recognized connection option.
type Options struct {
	Servers []string
	Name    string

	Authenticator auth.Authenticator

	Headers     bool
	NoRandomize bool

	Reconnect            bool
	MaxReconnectAttempts int
	ReconnectTimeWait    time.Duration
	ReconnectOnLameDuck  bool

	PingInterval time.Duration
	MaxPingsOut  int

	Timeout time.Duration

	TLSConfig   *tls.Config
	TLSRequired bool
	Pedantic    bool
	Verbose     bool
	NoEcho      bool

	Outbound outbound.Config
	Dialer   transport.Dialer
	Logger   logger.ILogger

	ClosedCallback       func(error)
	DisconnectedCallback func(error)
	ReconnectedCallback  func(string)
}

// Option mutates Options; see the With* constructors below.
type Option func(*Options)

func DefaultOptions() Options {
	return Options{
		Reconnect:            true,
		MaxReconnectAttempts: 60,
		ReconnectTimeWait:    2 * time.Second,
		ReconnectOnLameDuck:  true,
		PingInterval:         2 * time.Minute,
		MaxPingsOut:          2,
		Timeout:              2 * time.Second,
		Outbound:             outbound.DefaultConfig(),
	}
}

func WithServers(urls ...string) Option { return func(o *Options) { o.Servers = urls } }
func WithName(name string) Option       { return func(o *Options) { o.Name = name } }

func WithUserPass(user, pass string) Option {
	return func(o *Options) { o.Authenticator = auth.Password(auth.Static(user), auth.Static(pass)) }
}

func WithToken(token string) Option {
	return func(o *Options) { o.Authenticator = auth.Token(auth.Static(token)) }
}

func WithAuthenticator(a auth.Authenticator) Option {
	return func(o *Options) { o.Authenticator = a }
}

func WithHeaders(enabled bool) Option       { return func(o *Options) { o.Headers = enabled } }
func WithNoRandomize(disable bool) Option   { return func(o *Options) { o.NoRandomize = disable } }
func WithAutoReconnect(enabled bool) Option { return func(o *Options) { o.Reconnect = enabled } }

func WithMaxReconnectAttempts(n int) Option {
	return func(o *Options) { o.MaxReconnectAttempts = n }
}

func WithReconnectTimeWait(d time.Duration) Option {
	return func(o *Options) { o.ReconnectTimeWait = d }
}

// WithReconnectOnLameDuck controls whether a lame-duck signal proactively
// moves the connection to another pool member (the default) or only emits
// the LDM status event and waits for the server to drop us.
func WithReconnectOnLameDuck(enabled bool) Option {
	return func(o *Options) { o.ReconnectOnLameDuck = enabled }
}

func WithPingInterval(d time.Duration) Option { return func(o *Options) { o.PingInterval = d } }
func WithMaxPingsOut(n int) Option            { return func(o *Options) { o.MaxPingsOut = n } }
func WithTimeout(d time.Duration) Option      { return func(o *Options) { o.Timeout = d } }

func WithTLSConfig(cfg *tls.Config) Option {
	return func(o *Options) { o.TLSConfig = cfg; o.TLSRequired = true }
}

func WithPedantic(v bool) Option { return func(o *Options) { o.Pedantic = v } }
func WithVerbose(v bool) Option  { return func(o *Options) { o.Verbose = v } }
func WithNoEcho(v bool) Option   { return func(o *Options) { o.NoEcho = v } }

func WithDialer(d transport.Dialer) Option { return func(o *Options) { o.Dialer = d } }
func WithLogger(l logger.ILogger) Option   { return func(o *Options) { o.Logger = l } }

func WithClosedCallback(fn func(error)) Option {
	return func(o *Options) { o.ClosedCallback = fn }
}

func WithDisconnectedCallback(fn func(error)) Option {
	return func(o *Options) { o.DisconnectedCallback = fn }
}

func WithReconnectedCallback(fn func(string)) Option {
	return func(o *Options) { o.ReconnectedCallback = fn }
}

// rawMapOptions is the plain-map shape of the recognized option keys for
// mapstructure decoding; not every key maps to a scalar field (tls and
// authenticator are handled by the caller separately).
type rawMapOptions struct {
	Servers              []string      `mapstructure:"servers"`
	Name                 string        `mapstructure:"name"`
	User                 string        `mapstructure:"user"`
	Pass                 string        `mapstructure:"pass"`
	Token                string        `mapstructure:"token"`
	Headers              bool          `mapstructure:"headers"`
	NoRandomize          bool          `mapstructure:"no_randomize"`
	Reconnect            *bool         `mapstructure:"reconnect"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	ReconnectTimeWait    time.Duration `mapstructure:"reconnect_time_wait"`
	PingInterval         time.Duration `mapstructure:"ping_interval"`
	MaxPingsOut          int           `mapstructure:"max_pings_out"`
	Timeout              time.Duration `mapstructure:"timeout"`
	Pedantic             bool          `mapstructure:"pedantic"`
	Verbose              bool          `mapstructure:"verbose"`
	NoEcho               bool          `mapstructure:"no_echo"`
}

// OptionsFromMap decodes the recognized option keys out of a generic
// map[string]any (e.g. parsed from JSON/YAML config) into Options.
func OptionsFromMap(m map[string]any) ([]Option, error) {
	var raw rawMapOptions
	if err := mapstructure.Decode(m, &raw); err != nil {
		return nil, err
	}

	var opts []Option
	if len(raw.Servers) > 0 {
		opts = append(opts, WithServers(raw.Servers...))
	}
	if raw.Name != "" {
		opts = append(opts, WithName(raw.Name))
	}
	switch {
	case raw.User != "" || raw.Pass != "":
		opts = append(opts, WithUserPass(raw.User, raw.Pass))
	case raw.Token != "":
		opts = append(opts, WithToken(raw.Token))
	}
	opts = append(opts, WithHeaders(raw.Headers))
	opts = append(opts, WithNoRandomize(raw.NoRandomize))
	if raw.Reconnect != nil {
		opts = append(opts, WithAutoReconnect(*raw.Reconnect))
	}
	if raw.MaxReconnectAttempts != 0 {
		opts = append(opts, WithMaxReconnectAttempts(raw.MaxReconnectAttempts))
	}
	if raw.ReconnectTimeWait != 0 {
		opts = append(opts, WithReconnectTimeWait(raw.ReconnectTimeWait))
	}
	if raw.PingInterval != 0 {
		opts = append(opts, WithPingInterval(raw.PingInterval))
	}
	if raw.MaxPingsOut != 0 {
		opts = append(opts, WithMaxPingsOut(raw.MaxPingsOut))
	}
	if raw.Timeout != 0 {
		opts = append(opts, WithTimeout(raw.Timeout))
	}
	opts = append(opts, WithPedantic(raw.Pedantic), WithVerbose(raw.Verbose), WithNoEcho(raw.NoEcho))
	return opts, nil
}
