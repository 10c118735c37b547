// Package auth implements the two authentication envelopes a command may
// carry: an HMAC-SHA1 digest over the packed command bytes, or a bare PIN
// payload for sensitive administrative operations. The algorithm choice
// (HMAC-SHA1) is mandated by the wire protocol itself, not a design
// preference, so this package is deliberately stdlib-only
// (crypto/hmac + crypto/sha1) — see DESIGN.md.
package auth

import (
	"crypto/hmac"
	"crypto/sha1"
)

// Mode selects which envelope a builder installs on a request. It is
// chosen by the operation builder (component D), never by the sender.
type Mode int

const (
	ModeUnauthenticated Mode = iota
	ModeHMAC
	ModePIN
)

// Envelope mirrors the wire message's mutually exclusive hmacAuth /
// pinAuth union.
//
// Resolves the spec's open question about clearing vs. zero-initializing
// the HMAC envelope: HMACAuth is left nil whenever Type is ModePIN, and
// callers must branch on Type — never on "HMACAuth == nil" — to decide
// which auth mode is in effect. A zero-value Envelope (Type ==
// ModeUnauthenticated) also has a nil HMACAuth, so nil-checking alone
// cannot distinguish "no auth" from "PIN auth" from "HMAC auth that
// hasn't been populated yet."
type Envelope struct {
	Type     Mode
	Identity int64
	HMACAuth *HMACAuth
	PINAuth  *PINAuth
}

// HMACAuth carries the digest and the identity it authenticates.
type HMACAuth struct {
	Identity int64
	HMAC     []byte
}

// PINAuth carries the (possibly empty) PIN payload.
type PINAuth struct {
	PIN []byte
}

// ComputeHMAC returns the SHA-1 HMAC of commandBytes under secret, the
// exact digest the wire's hmacAuth.hmac field carries.
func ComputeHMAC(secret, commandBytes []byte) []byte {
	mac := hmac.New(sha1.New, secret)
	mac.Write(commandBytes)
	return mac.Sum(nil)
}

// NewHMACEnvelope builds the auth envelope for an HMAC_AUTH message.
func NewHMACEnvelope(identity int64, secret, commandBytes []byte) Envelope {
	return Envelope{
		Type:     ModeHMAC,
		Identity: identity,
		HMACAuth: &HMACAuth{
			Identity: identity,
			HMAC:     ComputeHMAC(secret, commandBytes),
		},
	}
}

// NewPINEnvelope builds the auth envelope for a PIN_AUTH message (today,
// only SECURE_ERASE uses this). pin may be empty.
func NewPINEnvelope(pin []byte) Envelope {
	return Envelope{
		Type:    ModePIN,
		PINAuth: &PINAuth{PIN: pin},
	}
}

// Verify reports whether mac is the correct HMAC-SHA1 of commandBytes
// under secret, using a constant-time comparison.
func Verify(secret, commandBytes, mac []byte) bool {
	return hmac.Equal(mac, ComputeHMAC(secret, commandBytes))
}
