// Package secret seals short strings (the stored API key) with
// nacl/secretbox under a key derived from a passphrase with Argon2id.
//
// A sealed value is "sealed:v1:" followed by base64(salt | nonce | box).
// Each Seal draws a fresh salt and nonce.
package secret

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	prefix   = "sealed:v1:"
	saltLen  = 16
	nonceLen = 24
	keyLen   = 32
)

var (
	// ErrSealed is returned when opening a sealed value without a passphrase.
	ErrSealed = errors.New("secret: value is sealed and no passphrase is configured")
	// ErrDecrypt is returned for a wrong passphrase or a corrupted value.
	ErrDecrypt = errors.New("secret: decryption failed")
)

// Params are the Argon2id cost parameters.
type Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultParams follow the RFC 9106 second recommended option.
var DefaultParams = Params{Time: 3, Memory: 64 * 1024, Threads: 4}

// Sealer seals and opens values. A nil *Sealer passes plain values
// through and refuses sealed ones.
type Sealer struct {
	passphrase []byte
	params     Params
}

// New returns a Sealer for passphrase, or nil when passphrase is empty.
func New(passphrase string, params Params) *Sealer {
	if passphrase == "" {
		return nil
	}
	if params.Time == 0 {
		params = DefaultParams
	}
	return &Sealer{passphrase: []byte(passphrase), params: params}
}

// IsSealed reports whether v carries the sealed prefix.
func IsSealed(v string) bool { return strings.HasPrefix(v, prefix) }

// Seal encrypts plain. Empty and already sealed values are returned as is.
func (s *Sealer) Seal(plain string) (string, error) {
	if s == nil || plain == "" || IsSealed(plain) {
		return plain, nil
	}
	buf := make([]byte, saltLen+nonceLen, saltLen+nonceLen+len(plain)+secretbox.Overhead)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("secret: random: %w", err)
	}
	var nonce [nonceLen]byte
	copy(nonce[:], buf[saltLen:])
	key := s.key(buf[:saltLen])
	out := secretbox.Seal(buf, []byte(plain), &nonce, &key)
	return prefix + base64.RawStdEncoding.EncodeToString(out), nil
}

// Open decrypts v. Plain values are returned as is.
func (s *Sealer) Open(v string) (string, error) {
	if !IsSealed(v) {
		return v, nil
	}
	if s == nil {
		return "", ErrSealed
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(v, prefix))
	if err != nil || len(raw) < saltLen+nonceLen+secretbox.Overhead {
		return "", ErrDecrypt
	}
	var nonce [nonceLen]byte
	copy(nonce[:], raw[saltLen:saltLen+nonceLen])
	key := s.key(raw[:saltLen])
	plain, ok := secretbox.Open(nil, raw[saltLen+nonceLen:], &nonce, &key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

func (s *Sealer) key(salt []byte) [keyLen]byte {
	var k [keyLen]byte
	copy(k[:], argon2.IDKey(s.passphrase, salt, s.params.Time, s.params.Memory, s.params.Threads, keyLen))
	return k
}
