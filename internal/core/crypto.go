// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

package core

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// ErrInvalidPadding is returned when AES-CBC decryption unpacks a
// PKCS#7 padding byte sequence that does not validate.
var ErrInvalidPadding = errors.New("core: invalid pkcs7 padding")

// ErrShortCiphertext is returned when a ciphertext is smaller than
// one AES block plus its IV.
var ErrShortCiphertext = errors.New("core: ciphertext too short")

// RandomBytes returns n cryptographically secure random bytes.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// GenerateClientID returns a 22-character base64 encoding of 16 random
// bytes, stable for the lifetime of a logical session.
func GenerateClientID() (string, error) {
	raw, err := RandomBytes(16)
	if err != nil {
		return "", err
	}
	return base64.RawStdEncoding.EncodeToString(raw), nil
}

// CurveKeyPair generates a Curve25519 keypair from a 32-byte seed.
func CurveKeyPair(seed [32]byte) (private [32]byte, public [32]byte, err error) {
	private = seed
	// RFC 7748 clamping, matching how every curve25519 keypair in the
	// retrieval pack derives its public half from a raw seed.
	private[0] &= 248
	private[31] &= 127
	private[31] |= 64

	pub, err := curve25519.X25519(private[:], curve25519.Basepoint)
	if err != nil {
		return [32]byte{}, [32]byte{}, err
	}
	copy(public[:], pub)
	return private, public, nil
}

// CurveSharedKey computes the X25519 shared secret between a private
// key and a peer's public key.
func CurveSharedKey(private [32]byte, peerPublic [32]byte) ([32]byte, error) {
	shared, err := curve25519.X25519(private[:], peerPublic[:])
	if err != nil {
		return [32]byte{}, err
	}
	var out [32]byte
	copy(out[:], shared)
	return out, nil
}

// HKDF expands ikm to length bytes using HKDF-SHA256 with a zero salt
// of 32 bytes and an optional info tag.
func HKDF(ikm []byte, length int, info []byte) ([]byte, error) {
	salt := make([]byte, 32)
	reader := hkdf.New(sha256.New, ikm, salt, info)

	out := make([]byte, length)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}

// HMACSHA256 returns the 32-byte HMAC-SHA256 of data under key.
func HMACSHA256(data []byte, key []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// VerifyHMACSHA256 reports whether sig is a valid HMAC-SHA256 of data
// under key, using a constant-time comparison.
func VerifyHMACSHA256(data, key, sig []byte) bool {
	return hmac.Equal(HMACSHA256(data, key), sig)
}

// AESCBCEncrypt encrypts plaintext under a 32-byte key using AES-256-CBC
// with PKCS#7 padding, returning ciphertext prefixed with a fresh
// random 16-byte IV.
func AESCBCEncrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)

	iv, err := RandomBytes(aes.BlockSize)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(iv)+len(padded))
	copy(out, iv)

	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(out[len(iv):], padded)

	return out, nil
}

// AESCBCDecrypt decrypts ciphertext that carries a leading 16-byte IV,
// stripping PKCS#7 padding from the result.
func AESCBCDecrypt(ciphertext []byte, key []byte) ([]byte, error) {
	if len(ciphertext) < aes.BlockSize {
		return nil, ErrShortCiphertext
	}
	iv := ciphertext[:aes.BlockSize]
	body := ciphertext[aes.BlockSize:]
	return AESCBCDecryptWithIV(body, key, iv)
}

// AESCBCDecryptWithIV decrypts ciphertext using an explicit IV,
// stripping PKCS#7 padding from the result. Used for media, where the
// IV travels alongside the blob rather than as its prefix.
func AESCBCDecryptWithIV(ciphertext []byte, key []byte, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrShortCiphertext
	}

	out := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(out, ciphertext)

	return pkcs7Unpad(out)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrInvalidPadding
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) || padLen > aes.BlockSize {
		return nil, ErrInvalidPadding
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, ErrInvalidPadding
		}
	}
	return data[:len(data)-padLen], nil
}
