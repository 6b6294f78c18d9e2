package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Header names carried on peer session handshakes.
const (
	HeaderFrom        = "X-IOU-From"
	HeaderFromAddress = "X-IOU-From-Address"
	HeaderSession     = "X-IOU-Session"
	HeaderProtocol    = "X-IOU-Protocol"
	HeaderTimestamp   = "X-IOU-Timestamp"
	HeaderSignature   = "X-IOU-Signature"
)

// DefaultMaxClockSkew bounds how far a handshake timestamp may drift.
const DefaultMaxClockSkew = 30 * time.Second

var (
	ErrMissingHeader  = errors.New("crypto: missing auth header")
	ErrStaleTimestamp = errors.New("crypto: handshake timestamp outside allowed skew")
	ErrBadSignature   = errors.New("crypto: handshake signature mismatch")
)

// Handshake is the authenticated identity of a peer opening a session.
type Handshake struct {
	From        string
	FromAddress string
	SessionID   string
	Protocol    string
	Timestamp   int64
}

// PeerAuth signs and verifies session handshakes with a network-wide shared
// secret.
type PeerAuth struct {
	Secret       string
	MaxClockSkew time.Duration
}

// Headers returns the HTTP headers for a session handshake. The signature is
// HMAC-SHA256(secret, timestamp+from+address+session+protocol) encoded as
// base64.
func (p *PeerAuth) Headers(h Handshake) http.Header {
	return p.HeadersAt(h, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp
// (useful for deterministic testing).
func (p *PeerAuth) HeadersAt(h Handshake, unixTS int64) http.Header {
	h.Timestamp = unixTS
	hdr := http.Header{}
	hdr.Set(HeaderFrom, h.From)
	hdr.Set(HeaderFromAddress, h.FromAddress)
	hdr.Set(HeaderSession, h.SessionID)
	hdr.Set(HeaderProtocol, h.Protocol)
	hdr.Set(HeaderTimestamp, strconv.FormatInt(unixTS, 10))
	hdr.Set(HeaderSignature, hmacSHA256Base64([]byte(p.Secret), handshakeMessage(h)))
	return hdr
}

// Verify parses the handshake headers and checks their signature and
// timestamp against now.
func (p *PeerAuth) Verify(hdr http.Header, now time.Time) (Handshake, error) {
	h := Handshake{
		From:        hdr.Get(HeaderFrom),
		FromAddress: hdr.Get(HeaderFromAddress),
		SessionID:   hdr.Get(HeaderSession),
		Protocol:    hdr.Get(HeaderProtocol),
	}
	tsRaw := hdr.Get(HeaderTimestamp)
	sig := hdr.Get(HeaderSignature)
	for name, v := range map[string]string{
		HeaderFromAddress: h.FromAddress,
		HeaderSession:     h.SessionID,
		HeaderProtocol:    h.Protocol,
		HeaderTimestamp:   tsRaw,
		HeaderSignature:   sig,
	} {
		if v == "" {
			return Handshake{}, fmt.Errorf("%w: %s", ErrMissingHeader, name)
		}
	}

	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return Handshake{}, fmt.Errorf("crypto: invalid timestamp %q: %w", tsRaw, err)
	}
	h.Timestamp = ts

	skew := p.MaxClockSkew
	if skew <= 0 {
		skew = DefaultMaxClockSkew
	}
	if d := now.Sub(time.Unix(ts, 0)); d > skew || d < -skew {
		return Handshake{}, ErrStaleTimestamp
	}

	want := hmacSHA256Base64([]byte(p.Secret), handshakeMessage(h))
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return Handshake{}, ErrBadSignature
	}
	return h, nil
}

// String returns a redacted representation suitable for logging.
func (p *PeerAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("PeerAuth{secret=%s, skew=%s}", redact(p.Secret), p.MaxClockSkew)
}

func handshakeMessage(h Handshake) string {
	return strings.Join([]string{
		strconv.FormatInt(h.Timestamp, 10),
		h.From,
		strings.ToLower(h.FromAddress),
		h.SessionID,
		h.Protocol,
	}, "\n")
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
