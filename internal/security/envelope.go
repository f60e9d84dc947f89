// Package security implements the HMAC-SHA256 wrap/unwrap envelope and its
// monotonic anti-replay nonce check.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingField = errors.New("security: missing envelope field")
	ErrHMACInvalid  = errors.New("security: hmac invalid")
	ErrReplay       = errors.New("security: nonce replay")
)

// envelope is the wire shape: {"nonce":.., "payload":"..", "mac":".."}.
type envelope struct {
	Nonce   uint64 `json:"nonce"`
	Payload string `json:"payload"`
	MAC     string `json:"mac"`
}

// Wrap base64-encodes inner, computes the HMAC-SHA256 MAC over
// "<nonce>.<payload_b64>" with psk, and returns the JSON envelope.
func Wrap(inner []byte, psk []byte, nonce uint64) ([]byte, error) {
	p := base64.StdEncoding.EncodeToString(inner)
	mac := macHex(psk, nonce, p)
	env := envelope{Nonce: nonce, Payload: p, MAC: mac}
	return json.Marshal(env)
}

// UnwrapAndVerify parses envJSON, verifies the MAC, enforces
// nonce > *lastSeenNonce, and returns the payload (base64-decoded if
// payloadIsBase64 is true), advancing *lastSeenNonce on success.
func UnwrapAndVerify(envJSON []byte, psk []byte, lastSeenNonce *uint64, payloadIsBase64 bool) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(envJSON, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingField, err)
	}
	if env.Payload == "" || env.MAC == "" {
		return nil, ErrMissingField
	}

	calc := macHex(psk, env.Nonce, env.Payload)
	if !strings.EqualFold(calc, env.MAC) {
		return nil, ErrHMACInvalid
	}
	if env.Nonce <= *lastSeenNonce {
		return nil, ErrReplay
	}
	*lastSeenNonce = env.Nonce

	if !payloadIsBase64 {
		return []byte(env.Payload), nil
	}
	bin, err := base64.StdEncoding.DecodeString(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("security: bad base64 payload: %w", err)
	}
	return bin, nil
}

func macHex(psk []byte, nonce uint64, payloadB64 string) string {
	msg := fmt.Sprintf("%d.%s", nonce, payloadB64)
	h := hmac.New(sha256.New, psk)
	h.Write([]byte(msg))
	return hex.EncodeToString(h.Sum(nil))
}
