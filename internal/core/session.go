package core

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AuthInfo holds the credentials that make a session restorable.
// Invariant: (EncKey == nil) iff (MacKey == nil) iff (ServerToken ==
// nil) — these four fields are either all present ("restorable") or
// all absent ("fresh"). ClientID is non-empty from the moment a
// session begins.
type AuthInfo struct {
	ClientID    string
	ClientToken string
	ServerToken string
	EncKey      []byte
	MacKey      []byte
}

// IsRestorable reports whether enough credentials are present to
// attempt the login/takeover path instead of a fresh QR handshake.
func (a *AuthInfo) IsRestorable() bool {
	return a != nil && len(a.EncKey) == 32 && len(a.MacKey) == 32 && a.ServerToken != ""
}

// Validate enforces the all-or-nothing invariant over the four
// restorability fields.
func (a *AuthInfo) Validate() error {
	present := a.ServerToken != "" || len(a.EncKey) > 0 || len(a.MacKey) > 0
	complete := a.ServerToken != "" && len(a.EncKey) == 32 && len(a.MacKey) == 32
	if present && !complete {
		return &MalformedError{Reason: "partial AuthInfo: encKey/macKey/serverToken must be all present or all absent"}
	}
	return nil
}

type authInfoWire struct {
	ClientID    string `json:"clientId"`
	ClientToken string `json:"clientToken,omitempty"`
	ServerToken string `json:"serverToken,omitempty"`
	EncKey      string `json:"encKey,omitempty"`
	MacKey      string `json:"macKey,omitempty"`
}

// SaveToBase64 serializes AuthInfo to the base64-of-JSON form the
// external credentials adapter persists.
func (a *AuthInfo) SaveToBase64() (string, error) {
	wire := authInfoWire{
		ClientID:    a.ClientID,
		ClientToken: a.ClientToken,
		ServerToken: a.ServerToken,
	}
	if a.EncKey != nil {
		wire.EncKey = base64.StdEncoding.EncodeToString(a.EncKey)
	}
	if a.MacKey != nil {
		wire.MacKey = base64.StdEncoding.EncodeToString(a.MacKey)
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// LoadAuthInfoFromBase64 deserializes AuthInfo previously produced by
// SaveToBase64.
func LoadAuthInfoFromBase64(s string) (*AuthInfo, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	var wire authInfoWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}

	info := &AuthInfo{
		ClientID:    wire.ClientID,
		ClientToken: wire.ClientToken,
		ServerToken: wire.ServerToken,
	}
	if wire.EncKey != "" {
		info.EncKey, err = base64.StdEncoding.DecodeString(wire.EncKey)
		if err != nil {
			return nil, err
		}
	}
	if wire.MacKey != "" {
		info.MacKey, err = base64.StdEncoding.DecodeString(wire.MacKey)
		if err != nil {
			return nil, err
		}
	}
	if err := info.Validate(); err != nil {
		return nil, err
	}
	return info, nil
}

// CurveKeys is the ephemeral Curve25519 keypair generated per
// fresh-session handshake; its lifetime ends at successful validation.
type CurveKeys struct {
	Private [32]byte
	Public  [32]byte
}

// NewCurveKeys generates a fresh keypair from 32 secure random bytes.
func NewCurveKeys() (CurveKeys, error) {
	seed, err := RandomBytes(32)
	if err != nil {
		return CurveKeys{}, err
	}
	var seedArr [32]byte
	copy(seedArr[:], seed)

	priv, pub, err := CurveKeyPair(seedArr)
	if err != nil {
		return CurveKeys{}, err
	}
	return CurveKeys{Private: priv, Public: pub}, nil
}

// UserMetaData is the canonical identity surfaced once validation
// succeeds.
type UserMetaData struct {
	ID    string
	Name  string
	Phone map[string]interface{}
}

// SessionPhaseKind enumerates the tagged SessionPhase variants.
// Modeled as a sum type so the current phase is always an explicit,
// inspectable value rather than left implicit in continuation chains.
type SessionPhaseKind int

const (
	PhaseDisconnected SessionPhaseKind = iota
	PhaseOpening
	PhaseAwaitingInit
	PhaseAwaitingQRScan
	PhaseAwaitingLoginAck
	PhaseAwaitingChallengeAck
	PhaseAwaitingValidation
	PhaseLive
	PhaseReconnecting
)

func (k SessionPhaseKind) String() string {
	switch k {
	case PhaseDisconnected:
		return "Disconnected"
	case PhaseOpening:
		return "Opening"
	case PhaseAwaitingInit:
		return "AwaitingInit"
	case PhaseAwaitingQRScan:
		return "AwaitingQRScan"
	case PhaseAwaitingLoginAck:
		return "AwaitingLoginAck"
	case PhaseAwaitingChallengeAck:
		return "AwaitingChallengeAck"
	case PhaseAwaitingValidation:
		return "AwaitingValidation"
	case PhaseLive:
		return "Live"
	case PhaseReconnecting:
		return "Reconnecting"
	default:
		return "Unknown"
	}
}

// SessionPhase is the current tagged state of the Session State
// Machine. Exactly one SessionPhase is active at a time.
type SessionPhase struct {
	Kind SessionPhaseKind

	// AwaitingQRScan fields.
	Ref       string
	OurPublic string

	// Live fields.
	Since time.Time

	// Reconnecting fields.
	Attempt int
}

// Error kinds surfaced by the handshake and connection lifecycle.

// StatusError wraps a non-2xx status code returned by the server
// during the handshake.
type StatusError struct {
	Code    int
	Payload interface{}
}

func (e *StatusError) Error() string {
	switch e.Code {
	case 401:
		return "status 401: unpaired from phone"
	case 429:
		return "status 429: request denied, try reconnecting"
	default:
		return fmt.Sprintf("status %d", e.Code)
	}
}

// UnpairedError is surfaced when the server responds 401: the session
// has been unpaired from the phone.
type UnpairedError struct{}

func (e *UnpairedError) Error() string { return "unpaired from phone" }

// DeniedError is surfaced when the server responds 429.
type DeniedError struct{}

func (e *DeniedError) Error() string { return "request denied, try reconnecting" }

// MalformedError wraps a validation payload that fails a structural
// or length check.
type MalformedError struct {
	Reason string
}

func (e *MalformedError) Error() string { return "malformed: " + e.Reason }

// HmacMismatchError is returned when the server's secret blob fails
// HMAC verification during validation.
type HmacMismatchError struct{}

func (e *HmacMismatchError) Error() string { return "hmac mismatch" }

// AlreadyConnectedError is returned by Connect when a session is
// already live.
type AlreadyConnectedError struct{}

func (e *AlreadyConnectedError) Error() string { return "already connected" }

// TransportClosedError wraps the cause of an unexpected socket close.
type TransportClosedError struct {
	Cause string
}

func (e *TransportClosedError) Error() string { return "transport closed: " + e.Cause }

// UnexpectedError wraps an error this layer did not anticipate.
type UnexpectedError struct {
	Inner error
}

func (e *UnexpectedError) Error() string { return "unexpected: " + e.Inner.Error() }
func (e *UnexpectedError) Unwrap() error { return e.Inner }

// rewriteJID turns "<digits>@c.us" into the canonical
// "<digits>@s.whatsapp.net" form.
func rewriteJID(wid string) string {
	if strings.HasSuffix(wid, "@c.us") {
		return strings.TrimSuffix(wid, "@c.us") + "@s.whatsapp.net"
	}
	return wid
}

// validationResult is everything the validation algorithm produces
// when it succeeds.
type validationResult struct {
	Meta        UserMetaData
	EncKey      []byte
	MacKey      []byte
	ClientToken string
	ServerToken string
	Rekeyed     bool
}

// validatePayload implements the validation algorithm against a
// decoded validation message V.
func validatePayload(v map[string]interface{}, keys CurveKeys) (*validationResult, error) {
	connected, _ := v["connected"].(bool)
	if !connected {
		return nil, &MalformedError{Reason: "connected != true"}
	}

	meta := UserMetaData{
		ID: rewriteJID(stringField(v, "wid")),
	}
	if name, ok := v["pushname"].(string); ok {
		meta.Name = name
	}
	if phone, ok := v["phone"].(map[string]interface{}); ok {
		meta.Phone = phone
	}

	secretB64, hasSecret := v["secret"].(string)
	if !hasSecret || secretB64 == "" {
		return &validationResult{Meta: meta, Rekeyed: false}, nil
	}

	secret, err := base64.StdEncoding.DecodeString(secretB64)
	if err != nil {
		return nil, &MalformedError{Reason: "secret is not valid base64"}
	}
	if len(secret) != 144 {
		return nil, &MalformedError{Reason: "secret must be 144 bytes"}
	}

	var peerPublic [32]byte
	copy(peerPublic[:], secret[:32])

	shared, err := CurveSharedKey(keys.Private, peerPublic)
	if err != nil {
		return nil, &UnexpectedError{Inner: err}
	}

	expanded, err := HKDF(shared[:], 80, nil)
	if err != nil {
		return nil, &UnexpectedError{Inner: err}
	}

	hmacInput := make([]byte, 0, 32+80)
	hmacInput = append(hmacInput, secret[0:32]...)
	hmacInput = append(hmacInput, secret[64:144]...)
	if !VerifyHMACSHA256(hmacInput, expanded[32:64], secret[32:64]) {
		return nil, &HmacMismatchError{}
	}

	encryptedKeys := make([]byte, 0, 16+80)
	encryptedKeys = append(encryptedKeys, expanded[64:80]...)
	encryptedKeys = append(encryptedKeys, secret[64:144]...)

	keyMaterial, err := AESCBCDecryptWithIV(encryptedKeys[16:], expanded[0:32], encryptedKeys[0:16])
	if err != nil {
		return nil, &MalformedError{Reason: "secret's encrypted key material failed to decrypt"}
	}
	if len(keyMaterial) < 64 {
		return nil, &MalformedError{Reason: "decrypted key material shorter than 64 bytes"}
	}

	return &validationResult{
		Meta:        meta,
		EncKey:      keyMaterial[0:32],
		MacKey:      keyMaterial[32:64],
		ClientToken: stringField(v, "clientToken"),
		ServerToken: stringField(v, "serverToken"),
		Rekeyed:     true,
	}, nil
}

func stringField(m map[string]interface{}, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// computeChallengeResponse decodes the base64 challenge, HMACs it
// with macKey, and returns the base64 of the signature ready to send
// in the "admin","challenge" message.
func computeChallengeResponse(challengeB64 string, macKey []byte) (string, error) {
	challenge, err := base64.StdEncoding.DecodeString(challengeB64)
	if err != nil {
		return "", &MalformedError{Reason: "challenge is not valid base64"}
	}
	sig := HMACSHA256(challenge, macKey)
	return base64.StdEncoding.EncodeToString(sig), nil
}
