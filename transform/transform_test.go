package transform

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompressorsRoundTrip(t *testing.T) {
	z, err := NewZstd(3)
	require.NoError(t, err)
	defer z.Close()

	payload := bytes.Repeat([]byte("layerkv compresses repetitive payloads "), 64)
	for _, c := range []Compressor{z, S2{}} {
		packed, err := c.Compress(payload)
		require.NoError(t, err, c.Algorithm())
		require.Less(t, len(packed), len(payload), c.Algorithm())

		unpacked, err := c.Decompress(packed)
		require.NoError(t, err, c.Algorithm())
		require.Equal(t, payload, unpacked, c.Algorithm())
	}
}

func TestDecompressRejectsGarbage(t *testing.T) {
	c, err := DefaultCompressor()
	require.NoError(t, err)
	_, err = c.Decompress([]byte("definitely not zstd"))
	require.Error(t, err)

	_, err = S2{}.Decompress([]byte{0xff, 0xff, 0xff})
	require.Error(t, err)
}

func TestCompressorByName(t *testing.T) {
	c, err := CompressorByName("s2")
	require.NoError(t, err)
	require.Equal(t, AlgS2, c.Algorithm())

	_, err = CompressorByName("lz4")
	require.Error(t, err)
}

func TestAEADRoundTrip(t *testing.T) {
	key := DeriveKey([]byte("correct horse"), []byte("layerkv-salt"))
	require.Len(t, key, 32)

	for _, alg := range []string{AlgAESGCM, AlgChaCha20} {
		enc, err := EncryptorByName(alg, key)
		require.NoError(t, err)

		s, err := enc.Encrypt([]byte("secret"))
		require.NoError(t, err)
		require.Equal(t, alg, s.Algorithm)
		require.NotContains(t, string(s.Ciphertext), "secret")

		out, err := enc.Decrypt(s)
		require.NoError(t, err)
		require.Equal(t, "secret", string(out))
	}
}

func TestAEADRejectsWrongKeyAndTamper(t *testing.T) {
	a, err := NewChaCha20(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	b, err := NewChaCha20(bytes.Repeat([]byte{2}, 32))
	require.NoError(t, err)

	s, err := a.Encrypt([]byte("payload"))
	require.NoError(t, err)

	_, err = b.Decrypt(s)
	require.Error(t, err)

	s.Ciphertext[0] ^= 0xff
	_, err = a.Decrypt(s)
	require.Error(t, err)
}

func TestAEADBindsAAD(t *testing.T) {
	base, err := NewAESGCM(bytes.Repeat([]byte{7}, 16))
	require.NoError(t, err)

	s, err := base.WithAAD([]byte("ns-a")).Encrypt([]byte("v"))
	require.NoError(t, err)

	_, err = base.WithAAD([]byte("ns-b")).Decrypt(s)
	require.Error(t, err)
}

func TestAEADValidation(t *testing.T) {
	_, err := NewAESGCM([]byte("short"))
	require.Error(t, err)
	_, err = NewChaCha20(make([]byte, 16))
	require.Error(t, err)

	a, err := NewAESGCM(make([]byte, 32))
	require.NoError(t, err)
	_, err = a.Decrypt(Sealed{Algorithm: AlgChaCha20})
	require.True(t, errors.Is(err, ErrAlgorithmMismatch))
	_, err = a.Decrypt(Sealed{Algorithm: AlgAESGCM, Nonce: []byte{1}})
	require.ErrorIs(t, err, ErrInvalidNonce)
}
