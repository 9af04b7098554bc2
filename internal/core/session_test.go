package core

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"testing"
)

func TestAuthInfoRoundTrip(t *testing.T) {
	auth := &AuthInfo{
		ClientID:    "client-1",
		ClientToken: "ctok",
		ServerToken: "stok",
		EncKey:      bytes32('e'),
		MacKey:      bytes32('m'),
	}

	encoded, err := auth.SaveToBase64()
	if err != nil {
		t.Fatalf("SaveToBase64: %v", err)
	}

	restored, err := LoadAuthInfoFromBase64(encoded)
	if err != nil {
		t.Fatalf("LoadAuthInfoFromBase64: %v", err)
	}

	if restored.ClientID != auth.ClientID || restored.ServerToken != auth.ServerToken {
		t.Errorf("round trip mismatch: %+v vs %+v", restored, auth)
	}
	if !restored.IsRestorable() {
		t.Error("restored AuthInfo with full keys should be restorable")
	}
}

func TestAuthInfoValidatePartialRejected(t *testing.T) {
	auth := &AuthInfo{ClientID: "client-1", ServerToken: "stok"}
	if err := auth.Validate(); err == nil {
		t.Error("expected an error for a serverToken with no encKey/macKey")
	}
}

func TestAuthInfoValidateFreshOK(t *testing.T) {
	auth := &AuthInfo{ClientID: "client-1"}
	if err := auth.Validate(); err != nil {
		t.Errorf("a fresh AuthInfo with only a clientID should validate, got %v", err)
	}
	if auth.IsRestorable() {
		t.Error("a fresh AuthInfo should not be restorable")
	}
}

func TestRewriteJID(t *testing.T) {
	cases := map[string]string{
		"15551234567@c.us":          "15551234567@s.whatsapp.net",
		"15551234567@s.whatsapp.net": "15551234567@s.whatsapp.net",
	}
	for in, want := range cases {
		if got := rewriteJID(in); got != want {
			t.Errorf("rewriteJID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidatePayloadFreshSessionNoSecret(t *testing.T) {
	keys, err := NewCurveKeys()
	if err != nil {
		t.Fatalf("NewCurveKeys: %v", err)
	}

	v := map[string]interface{}{
		"connected": true,
		"wid":       "15551234567@c.us",
		"pushname":  "Ada",
	}

	result, err := validatePayload(v, keys)
	if err != nil {
		t.Fatalf("validatePayload: %v", err)
	}
	if result.Rekeyed {
		t.Error("no secret means no rekeying")
	}
	if result.Meta.ID != "15551234567@s.whatsapp.net" {
		t.Errorf("expected rewritten JID, got %q", result.Meta.ID)
	}
	if result.Meta.Name != "Ada" {
		t.Errorf("expected pushname to carry through, got %q", result.Meta.Name)
	}
}

func TestValidatePayloadNotConnected(t *testing.T) {
	keys, _ := NewCurveKeys()
	_, err := validatePayload(map[string]interface{}{"connected": false}, keys)
	if _, ok := err.(*MalformedError); !ok {
		t.Errorf("expected *MalformedError, got %v (%T)", err, err)
	}
}

// buildValidSecret constructs the 144-byte secret blob the server would
// send for the restore path, so validatePayload's HMAC/decrypt chain
// succeeds against a keypair we control.
func buildValidSecret(t *testing.T, keys CurveKeys, keyMaterial []byte) []byte {
	t.Helper()

	peerKeys, err := NewCurveKeys()
	if err != nil {
		t.Fatalf("peer keys: %v", err)
	}

	shared, err := CurveSharedKey(keys.Private, peerKeys.Public)
	if err != nil {
		t.Fatalf("shared key: %v", err)
	}
	expanded, err := HKDF(shared[:], 80, nil)
	if err != nil {
		t.Fatalf("hkdf: %v", err)
	}

	iv := expanded[64:80]
	ciphertext := aesCBCEncryptWithIVForTest(t, keyMaterial, expanded[0:32], iv)

	hmacInput := append(append([]byte{}, peerKeys.Public[:]...), ciphertext...)
	sig := HMACSHA256(hmacInput, expanded[32:64])

	secret := make([]byte, 0, 144)
	secret = append(secret, peerKeys.Public[:]...)
	secret = append(secret, sig...)
	secret = append(secret, ciphertext...)
	return secret
}

// aesCBCEncryptWithIVForTest encrypts with a caller-supplied IV so the
// constructed secret blob decrypts under the explicit IV validatePayload
// expects, without going through AESCBCEncrypt's random-IV prefixing.
func aesCBCEncryptWithIVForTest(t *testing.T, plaintext, key, iv []byte) []byte {
	t.Helper()
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out
}

func TestValidatePayloadRestoreSucceeds(t *testing.T) {
	keys, err := NewCurveKeys()
	if err != nil {
		t.Fatalf("NewCurveKeys: %v", err)
	}

	keyMaterial := make([]byte, 64)
	for i := range keyMaterial {
		keyMaterial[i] = byte(i)
	}

	secret := buildValidSecret(t, keys, keyMaterial)

	v := map[string]interface{}{
		"connected":   true,
		"wid":         "15551234567@c.us",
		"secret":      base64.StdEncoding.EncodeToString(secret),
		"clientToken": "ctok",
		"serverToken": "stok",
	}

	result, err := validatePayload(v, keys)
	if err != nil {
		t.Fatalf("validatePayload: %v", err)
	}
	if !result.Rekeyed {
		t.Error("expected Rekeyed to be true when a secret is present")
	}
	if len(result.EncKey) != 32 || len(result.MacKey) != 32 {
		t.Errorf("expected 32-byte enc/mac keys, got %d/%d", len(result.EncKey), len(result.MacKey))
	}
}

func TestValidatePayloadHmacMismatch(t *testing.T) {
	keys, _ := NewCurveKeys()
	keyMaterial := make([]byte, 64)

	secret := buildValidSecret(t, keys, keyMaterial)
	secret[40] ^= 0xff // corrupt a byte inside the HMAC field

	v := map[string]interface{}{
		"connected": true,
		"wid":       "15551234567@c.us",
		"secret":    base64.StdEncoding.EncodeToString(secret),
	}

	_, err := validatePayload(v, keys)
	if _, ok := err.(*HmacMismatchError); !ok {
		t.Errorf("expected *HmacMismatchError, got %v (%T)", err, err)
	}
}

func TestValidatePayloadWrongSecretLength(t *testing.T) {
	keys, _ := NewCurveKeys()
	v := map[string]interface{}{
		"connected": true,
		"wid":       "15551234567@c.us",
		"secret":    base64.StdEncoding.EncodeToString(make([]byte, 100)),
	}
	_, err := validatePayload(v, keys)
	if _, ok := err.(*MalformedError); !ok {
		t.Errorf("expected *MalformedError for a mis-sized secret, got %v (%T)", err, err)
	}
}

func TestComputeChallengeResponse(t *testing.T) {
	macKey := bytes32('k')
	challenge := base64.StdEncoding.EncodeToString([]byte("challenge-bytes"))

	sig, err := computeChallengeResponse(challenge, macKey)
	if err != nil {
		t.Fatalf("computeChallengeResponse: %v", err)
	}

	decodedSig, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		t.Fatalf("signature is not valid base64: %v", err)
	}
	if !VerifyHMACSHA256([]byte("challenge-bytes"), macKey, decodedSig) {
		t.Error("returned signature does not verify against the challenge and macKey")
	}
}

func TestStatusErrorMessages(t *testing.T) {
	if (&StatusError{Code: 401}).Error() == "" {
		t.Error("expected a non-empty message for status 401")
	}
	if (&StatusError{Code: 429}).Error() == "" {
		t.Error("expected a non-empty message for status 429")
	}
}

func bytes32(b byte) []byte {
	out := make([]byte, 32)
	for i := range out {
		out[i] = b
	}
	return out
}
