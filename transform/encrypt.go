package transform

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	AlgAESGCM   = "aes-gcm"
	AlgChaCha20 = "chacha20-poly1305"
)

var (
	ErrAlgorithmMismatch = errors.New("transform: sealed algorithm does not match cipher")
	ErrInvalidNonce      = errors.New("transform: invalid nonce")
)

// Sealed is an encrypted payload with the parameters needed to open it.
type Sealed struct {
	Algorithm  string
	Ciphertext []byte
	Nonce      []byte
}

// Encryptor seals and opens byte payloads.
type Encryptor interface {
	Algorithm() string
	Encrypt(plaintext []byte) (Sealed, error)
	Decrypt(s Sealed) ([]byte, error)
}

// AEAD implements Encryptor over any cipher.AEAD with random nonces.
// aad, when set, is bound to every payload (e.g. a namespace).
type AEAD struct {
	alg  string
	aead cipher.AEAD
	aad  []byte
}

// NewAESGCM accepts 16, 24 or 32 byte keys.
func NewAESGCM(key []byte) (*AEAD, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, errors.New("invalid key size for AES-GCM: must be 16, 24, or 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AEAD{alg: AlgAESGCM, aead: gcm}, nil
}

// NewChaCha20 requires a 32 byte key.
func NewChaCha20(key []byte) (*AEAD, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.New("invalid key size for ChaCha20-Poly1305: must be 32 bytes")
	}
	a, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &AEAD{alg: AlgChaCha20, aead: a}, nil
}

// NewCipher picks AES-GCM where the platform accelerates it, ChaCha20 otherwise.
func NewCipher(key []byte) (*AEAD, error) {
	switch runtime.GOARCH {
	case "amd64", "arm64":
		return NewAESGCM(key)
	default:
		return NewChaCha20(key)
	}
}

// EncryptorByName builds an encryptor for alg; "" selects NewCipher.
func EncryptorByName(alg string, key []byte) (*AEAD, error) {
	switch alg {
	case "":
		return NewCipher(key)
	case AlgAESGCM:
		return NewAESGCM(key)
	case AlgChaCha20:
		return NewChaCha20(key)
	default:
		return nil, fmt.Errorf("transform: unknown cipher %q", alg)
	}
}

// WithAAD returns a copy that binds aad to every seal/open.
func (a *AEAD) WithAAD(aad []byte) *AEAD {
	cp := *a
	cp.aad = append([]byte(nil), aad...)
	return &cp
}

func (a *AEAD) Algorithm() string { return a.alg }

func (a *AEAD) Encrypt(plaintext []byte) (Sealed, error) {
	nonce := make([]byte, a.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Sealed{}, fmt.Errorf("transform: nonce: %w", err)
	}
	return Sealed{
		Algorithm:  a.alg,
		Ciphertext: a.aead.Seal(nil, nonce, plaintext, a.aad),
		Nonce:      nonce,
	}, nil
}

func (a *AEAD) Decrypt(s Sealed) ([]byte, error) {
	if s.Algorithm != "" && s.Algorithm != a.alg {
		return nil, fmt.Errorf("%w: %s != %s", ErrAlgorithmMismatch, s.Algorithm, a.alg)
	}
	if len(s.Nonce) != a.aead.NonceSize() {
		return nil, ErrInvalidNonce
	}
	return a.aead.Open(nil, s.Nonce, s.Ciphertext, a.aad)
}

// DeriveKey stretches a passphrase into a 32 byte key with Argon2id.
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, 32)
}
