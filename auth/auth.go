// Package auth produces the credential fields a connection attaches to
// CONNECT: given the server's handshake nonce, an Authenticator returns
// the bag of fields to send. The client never reads credential files
// itself; credentials are furnished as opaque values or thunks that
// produce them at handshake time, so rotation (e.g. a refreshed JWT) is
// possible without reconnecting through new Options.
package auth

import (
	"encoding/base64"
	"fmt"
	"time"

	natsjwt "github.com/nats-io/jwt/v2"
	"github.com/nats-io/nkeys"
)

// Fields is the bag of CONNECT JSON fields an Authenticator may populate.
// Zero-value fields are omitted from the outgoing CONNECT.
type Fields struct {
	User      string
	Pass      string
	AuthToken string
	JWT       string
	NKey      string
	Sig       string // base64url signature over the nonce
}

// Authenticator contributes credential fields at handshake time.
type Authenticator interface {
	Authenticate(nonce string) (Fields, error)
}

// Func adapts a plain function to the Authenticator interface, the way
// http.HandlerFunc adapts a function to http.Handler.
type Func func(nonce string) (Fields, error)

func (f Func) Authenticate(nonce string) (Fields, error) { return f(nonce) }

// StringSource is a thunk producing a credential value at handshake time,
// so a caller can rotate the underlying secret between reconnects without
// rebuilding the Authenticator.
type StringSource func() (string, error)

// Static wraps a fixed string as a StringSource.
func Static(s string) StringSource { return func() (string, error) { return s, nil } }

// Password returns an Authenticator attaching user/pass to CONNECT.
func Password(user, pass StringSource) Authenticator {
	return Func(func(string) (Fields, error) {
		u, err := user()
		if err != nil {
			return Fields{}, err
		}
		p, err := pass()
		if err != nil {
			return Fields{}, err
		}
		return Fields{User: u, Pass: p}, nil
	})
}

// Token returns an Authenticator attaching a bare auth_token to CONNECT.
func Token(token StringSource) Authenticator {
	return Func(func(string) (Fields, error) {
		tok, err := token()
		if err != nil {
			return Fields{}, err
		}
		return Fields{AuthToken: tok}, nil
	})
}

// SeedSource is a thunk producing an Ed25519 nkey seed (the decoded
// contents of a .nk seed file, or the seed half of a .creds file) at
// handshake time.
type SeedSource func() ([]byte, error)

// NKey returns an Authenticator that signs the server nonce with the
// Ed25519 seed key, the same scheme nats.go uses for nkey auth: the public
// key goes in NKey, and base64url(sign(nonce)) goes in Sig.
func NKey(seed SeedSource) Authenticator {
	return Func(func(nonce string) (Fields, error) {
		raw, err := seed()
		if err != nil {
			return Fields{}, err
		}
		kp, err := nkeys.FromSeed(raw)
		if err != nil {
			return Fields{}, err
		}
		pub, err := kp.PublicKey()
		if err != nil {
			return Fields{}, err
		}
		if nonce == "" {
			return Fields{NKey: pub}, nil
		}
		sig, err := kp.Sign([]byte(nonce))
		if err != nil {
			return Fields{}, err
		}
		return Fields{NKey: pub, Sig: base64.RawURLEncoding.EncodeToString(sig)}, nil
	})
}

// JWT returns an Authenticator for JWT-and-nkey credentials (the two
// halves of a .creds file): the nonce is signed with the accompanying seed
// key exactly as NKey does, and the JWT is decoded and checked for
// well-formedness and expiry before being attached verbatim. The caller is
// responsible for extracting both halves from wherever they are stored;
// only the decoded values ever reach this package.
func JWT(jwtSrc StringSource, seed SeedSource) Authenticator {
	nk := NKey(seed)
	return Func(func(nonce string) (Fields, error) {
		fields, err := nk.Authenticate(nonce)
		if err != nil {
			return Fields{}, err
		}
		token, err := jwtSrc()
		if err != nil {
			return Fields{}, err
		}
		claims, err := natsjwt.DecodeUserClaims(token)
		if err != nil {
			return Fields{}, fmt.Errorf("decode user JWT: %w", err)
		}
		if claims.Expires != 0 && time.Now().Unix() > claims.Expires {
			return Fields{}, fmt.Errorf("user JWT for %q expired", claims.Issuer)
		}
		fields.JWT = token
		return fields, nil
	})
}

// None is the no-op Authenticator used when the server requires no
// credentials at all.
var None Authenticator = Func(func(string) (Fields, error) { return Fields{}, nil })
