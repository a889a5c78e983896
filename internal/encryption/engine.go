// Package encryption provides the symmetric engine used for PII fields and uploaded files.
//
// Every encrypt call draws a fresh 16-byte IV and uses AES-256-GCM, so tampering is
// detected on decrypt. Text payloads are stored as "<iv-hex>:<ciphertext-hex>"; byte
// payloads are the raw IV followed by the ciphertext.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// KeySize is the required key length (AES-256).
	KeySize = 32
	// IVSize is the IV length prefixed to every payload.
	IVSize = 16
	// Separator splits the IV and ciphertext in a text payload.
	Separator = ":"
)

var (
	// ErrCrypto is returned when a payload cannot be decrypted: malformed, wrong IV
	// length, wrong key, or tampered ciphertext. Never accompanied by partial plaintext.
	ErrCrypto = errors.New("crypto: payload cannot be decrypted")
	// ErrInvalidKey is returned when the engine key is not exactly KeySize bytes.
	ErrInvalidKey = errors.New("crypto: key must be 32 bytes")
)

// Config carries the static key. Loaded once at process start and never mutated.
type Config struct {
	Key []byte
}

// Engine encrypts and decrypts text and byte buffers with one static key.
// It is safe for concurrent use.
type Engine struct {
	aead cipher.AEAD
	rand io.Reader
}

// New returns an Engine for cfg.Key.
func New(cfg Config) (*Engine, error) {
	if len(cfg.Key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	return &Engine{aead: aead, rand: rand.Reader}, nil
}

// EncryptBytes returns IV || ciphertext for buf. A zero-length buf is valid.
func (e *Engine) EncryptBytes(buf []byte) ([]byte, error) {
	iv := make([]byte, IVSize, IVSize+len(buf)+e.aead.Overhead())
	if _, err := io.ReadFull(e.rand, iv); err != nil {
		return nil, fmt.Errorf("crypto: generate iv: %w", err)
	}
	return e.aead.Seal(iv, iv, buf, nil), nil
}

// DecryptBytes reverses EncryptBytes.
func (e *Engine) DecryptBytes(payload []byte) ([]byte, error) {
	if len(payload) < IVSize+e.aead.Overhead() {
		return nil, ErrCrypto
	}
	iv, ct := payload[:IVSize], payload[IVSize:]
	out, err := e.aead.Open(nil, iv, ct, nil)
	if err != nil {
		return nil, ErrCrypto
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}

// EncryptText returns "<iv-hex>:<ciphertext-hex>" for plaintext.
func (e *Engine) EncryptText(plaintext string) (string, error) {
	payload, err := e.EncryptBytes([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(payload[:IVSize]) + Separator + hex.EncodeToString(payload[IVSize:]), nil
}

// DecryptText reverses EncryptText.
func (e *Engine) DecryptText(payload string) (string, error) {
	ivHex, ctHex, ok := strings.Cut(payload, Separator)
	if !ok || len(ivHex) != IVSize*2 {
		return "", ErrCrypto
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return "", ErrCrypto
	}
	ct, err := hex.DecodeString(ctHex)
	if err != nil {
		return "", ErrCrypto
	}
	out, err := e.DecryptBytes(append(iv, ct...))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// LooksEncrypted is the write-time heuristic for text payloads: two hex segments joined by
// the separator, the first exactly one IV long. Values that fail it are encrypted before save.
func LooksEncrypted(value string) bool {
	ivHex, ctHex, ok := strings.Cut(value, Separator)
	if !ok || len(ivHex) != IVSize*2 || len(ctHex) == 0 || len(ctHex)%2 != 0 {
		return false
	}
	return isHex(ivHex) && isHex(ctHex)
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}
