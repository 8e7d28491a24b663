// Package challenge implements the two interactive proof modalities — the
// "not-a-bot" click and the seeded puzzle — both bound to a signed
// operation envelope and a seed token carrying the puzzle material.
package challenge

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"

	"github.com/edgegate/gate/internal/envelope"
)

// SeedPayload is the signed material issued with a challenge page: the
// operation envelope for the submit step, plus the puzzle's own seed.
type SeedPayload struct {
	Envelope envelope.Envelope `json:"envelope"`
	Seed     uint64            `json:"seed"`
}

// SeedTokenError names why a seed token failed to parse, distinguishing a
// malformed/forged token from one whose embedded envelope itself failed a
// specific envelope-level check.
type SeedTokenError string

const (
	ErrSeedMissingPayload    SeedTokenError = "missing_payload"
	ErrSeedMissingSignature  SeedTokenError = "missing_signature"
	ErrSeedInvalidEncoding   SeedTokenError = "invalid_encoding"
	ErrSeedSignatureMismatch SeedTokenError = "signature_mismatch"
	ErrSeedInvalidJSON       SeedTokenError = "invalid_json"
)

func (e SeedTokenError) Error() string { return string(e) }

// MakeSeedToken signs payload into the wire format
// base64(json) "." base64(hmac).
func MakeSeedToken(secret []byte, payload SeedPayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(raw)
	sig := mac.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(raw) + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// ParseSeedToken splits, verifies, and decodes a seed token. It does not
// itself validate the embedded envelope beyond structural JSON decoding;
// callers run the full envelope validator chain separately so that
// envelope-specific errors can be mapped to the right outcome.
func ParseSeedToken(secret []byte, token string) (SeedPayload, error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) < 1 || parts[0] == "" {
		return SeedPayload{}, ErrSeedMissingPayload
	}
	if len(parts) < 2 || parts[1] == "" {
		return SeedPayload{}, ErrSeedMissingSignature
	}

	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return SeedPayload{}, ErrSeedInvalidEncoding
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return SeedPayload{}, ErrSeedInvalidEncoding
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(raw)
	expected := mac.Sum(nil)
	if !hmac.Equal(expected, sig) {
		return SeedPayload{}, ErrSeedSignatureMismatch
	}

	var payload SeedPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return SeedPayload{}, ErrSeedInvalidJSON
	}
	if payload.Envelope.OperationID == "" {
		return SeedPayload{}, errMissingOperationID
	}
	return payload, nil
}

var errMissingOperationID = errors.New("challenge: seed token envelope missing operation id")

// IsMissingOperationID reports whether err is the specific missing-operation-id
// condition embedded in an otherwise well-formed seed token, which callers
// map to a distinct outcome from a generically invalid envelope.
func IsMissingOperationID(err error) bool {
	return errors.Is(err, errMissingOperationID)
}
