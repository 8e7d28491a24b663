// Package envelope mints, signs, parses, and validates the single-use
// operation tokens that bind every interactive challenge step to a flow,
// a step position, a request fingerprint, and an expiry.
package envelope

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Envelope is the canonical payload signed into every operation token.
type Envelope struct {
	SchemaVersion int    `json:"schema_version"`
	OperationID   string `json:"operation_id"`
	FlowID        string `json:"flow_id"`
	StepID        string `json:"step_id"`
	StepIndex     int    `json:"step_index"`
	TokenVersion  int    `json:"token_version"`
	IssuedAt      int64  `json:"issued_at"`
	ExpiresAt     int64  `json:"expires_at"`
	IPBucket      string `json:"ip_bucket"`
	UABucket      string `json:"ua_bucket"`
	PathClass     string `json:"path_class"`
	PrevDigest    string `json:"prev_digest,omitempty"`
}

const currentSchemaVersion = 1

// ParseError identifies why a raw token string failed to decode into an
// Envelope, mirroring the sub-error taxonomy a caller needs to translate
// into outcome codes.
type ParseError string

const (
	ErrMissingPayload           ParseError = "missing_payload"
	ErrMissingSignature         ParseError = "missing_signature"
	ErrInvalidPayloadEncoding   ParseError = "invalid_payload_encoding"
	ErrInvalidSignatureEncoding ParseError = "invalid_signature_encoding"
	ErrInvalidPayloadUTF8       ParseError = "invalid_payload_utf8"
	ErrSignatureMismatch        ParseError = "signature_mismatch"
	ErrInvalidPayloadJSON       ParseError = "invalid_payload_json"
)

func (e ParseError) Error() string { return string(e) }

// Binding captures the present-time request-derived values compared against
// an envelope's mint-time binding.
type Binding struct {
	IPBucket  string
	UABucket  string
	PathClass string
}

// MintParams carries everything needed to produce a fresh envelope.
type MintParams struct {
	FlowID       string
	StepID       string
	StepIndex    int
	TokenVersion int
	TTL          time.Duration
	Binding      Binding
	PrevDigest   string
}

// Mint produces a signed token for a new operation, using now as the issue
// time so callers (and tests) control the clock explicitly.
func Mint(secret []byte, params MintParams, now time.Time) (string, Envelope, error) {
	env := Envelope{
		SchemaVersion: currentSchemaVersion,
		OperationID:   uuid.NewString(),
		FlowID:        params.FlowID,
		StepID:        params.StepID,
		StepIndex:     params.StepIndex,
		TokenVersion:  params.TokenVersion,
		IssuedAt:      now.Unix(),
		ExpiresAt:     now.Add(params.TTL).Unix(),
		IPBucket:      params.Binding.IPBucket,
		UABucket:      params.Binding.UABucket,
		PathClass:     params.Binding.PathClass,
		PrevDigest:    params.PrevDigest,
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return "", Envelope{}, fmt.Errorf("envelope: marshal payload: %w", err)
	}

	token := encodeToken(secret, payload)
	return token, env, nil
}

func encodeToken(secret, payload []byte) string {
	sig := sign(secret, payload)
	return base64.RawURLEncoding.EncodeToString(payload) + "." + base64.RawURLEncoding.EncodeToString(sig)
}

func sign(secret, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return mac.Sum(nil)
}

// Parse splits a raw token, verifies its HMAC, and decodes the payload.
func Parse(secret []byte, token string) (Envelope, error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) < 1 || parts[0] == "" {
		return Envelope{}, ErrMissingPayload
	}
	if len(parts) < 2 || parts[1] == "" {
		return Envelope{}, ErrMissingSignature
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return Envelope{}, ErrInvalidPayloadEncoding
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Envelope{}, ErrInvalidSignatureEncoding
	}

	expected := sign(secret, payload)
	if !hmac.Equal(expected, sig) {
		return Envelope{}, ErrSignatureMismatch
	}

	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, ErrInvalidPayloadJSON
	}
	return env, nil
}

// ValidationError names a step-agnostic or step-specific envelope
// validation failure.
type ValidationError string

const (
	ErrMissingOperationID ValidationError = "missing_operation_id"
	ErrMissingFlowID      ValidationError = "missing_flow_id"
	ErrMissingStepID      ValidationError = "missing_step_id"
	ErrIssuedAfterExpiry  ValidationError = "issued_after_expiry"
	ErrStepWindowExceeded ValidationError = "step_window_exceeded"
	ErrUnsupportedSchema  ValidationError = "unsupported_schema_version"
)

func (e ValidationError) Error() string { return string(e) }

// ValidateSignedEnvelope performs the step-agnostic structural checks: a
// supported schema version, non-empty identifiers, and an issued/expiry
// relationship that fits within maxStepWindow.
func ValidateSignedEnvelope(env Envelope, maxStepWindow time.Duration) error {
	if env.SchemaVersion != currentSchemaVersion {
		return ErrUnsupportedSchema
	}
	if env.OperationID == "" {
		return ErrMissingOperationID
	}
	if env.FlowID == "" {
		return ErrMissingFlowID
	}
	if env.StepID == "" {
		return ErrMissingStepID
	}
	if env.IssuedAt > env.ExpiresAt {
		return ErrIssuedAfterExpiry
	}
	if time.Duration(env.ExpiresAt-env.IssuedAt)*time.Second > maxStepWindow {
		return ErrStepWindowExceeded
	}
	return nil
}

// OrderingError names a failure from ValidateOrderingWindow.
type OrderingError string

const (
	ErrOrderViolation OrderingError = "order_violation"
	ErrWindowExceeded OrderingError = "window_exceeded"
)

func (e OrderingError) Error() string { return string(e) }

// ValidateOrderingWindow checks that the envelope matches the expected step
// identity and index for its flow, and that it hasn't aged past
// maxStepWindow since issuance.
func ValidateOrderingWindow(env Envelope, expectedStepID string, expectedStepIndex int, maxStepWindow time.Duration, now time.Time) error {
	if env.StepID != expectedStepID || env.StepIndex != expectedStepIndex {
		return ErrOrderViolation
	}
	if now.Sub(time.Unix(env.IssuedAt, 0)) > maxStepWindow {
		return ErrWindowExceeded
	}
	return nil
}

// ErrBindingMismatch is returned by ValidateRequestBinding when the
// present-time request binding no longer matches the mint-time binding.
var ErrBindingMismatch = errors.New("envelope: binding_mismatch")

// ValidateRequestBinding compares mint-time binding fields against the
// present-time derivation.
func ValidateRequestBinding(env Envelope, present Binding) error {
	if env.IPBucket != present.IPBucket || env.UABucket != present.UABucket || env.PathClass != present.PathClass {
		return ErrBindingMismatch
	}
	return nil
}
