package layerkv

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/unkn0wn-root/layerkv/internal/envelope"
	"github.com/unkn0wn-root/layerkv/transform"
)

// seal runs the write side of the codec pipeline: compress, then encrypt.
func (s *store[V]) seal(key string, raw []byte, size int64, so setOptions) ([]byte, envelope.Meta, error) {
	var meta envelope.Meta
	payload := raw

	compress := s.compress && size >= s.compressAt
	if so.compress != nil {
		compress = *so.compress
	}
	if compress {
		out, err := s.compressor.Compress(payload)
		if err != nil {
			return nil, meta, &StorageError{Op: "set", Key: key, Err: fmt.Errorf("compress: %w", err)}
		}
		payload = out
		meta.Compressed = true
		meta.Compression = s.compressor.Algorithm()
	}

	encrypt := s.encrypt
	if so.encrypt != nil {
		encrypt = *so.encrypt
	}
	if encrypt {
		if s.encryptor == nil {
			return nil, meta, &EncryptionError{Op: "set", Key: key, Err: ErrNoEncryptor}
		}
		sealed, err := s.encryptor.Encrypt(payload)
		if err != nil {
			return nil, meta, &EncryptionError{Op: "set", Key: key, Err: err}
		}
		payload = sealed.Ciphertext
		meta.Encrypted = true
		meta.Algorithm = sealed.Algorithm
		meta.Nonce = sealed.Nonce
	}
	return payload, meta, nil
}

// open reverses seal and returns the codec bytes.
func (s *store[V]) open(op, key string, env *envelope.Envelope) ([]byte, error) {
	payload := env.Value
	if env.Meta.Encrypted {
		if s.encryptor == nil {
			return nil, &EncryptionError{Op: op, Key: key, Err: ErrNoEncryptor}
		}
		out, err := s.encryptor.Decrypt(transform.Sealed{
			Algorithm:  env.Meta.Algorithm,
			Ciphertext: payload,
			Nonce:      env.Meta.Nonce,
		})
		if err != nil {
			return nil, &EncryptionError{Op: op, Key: key, Err: err}
		}
		payload = out
	}
	if env.Meta.Compressed {
		c, err := s.compressorFor(env.Meta.Compression)
		if err != nil {
			return nil, &StorageError{Op: op, Key: key, Err: err}
		}
		out, err := c.Decompress(payload)
		if err != nil {
			return nil, &StorageError{Op: op, Key: key, Err: fmt.Errorf("decompress: %w", err)}
		}
		payload = out
	}
	return payload, nil
}

func (s *store[V]) decode(op, key string, env *envelope.Envelope) (V, error) {
	var zero V
	raw, err := s.open(op, key, env)
	if err != nil {
		return zero, err
	}
	v, err := s.codec.Decode(raw)
	if err != nil {
		return zero, &StorageError{Op: op, Key: key, Err: fmt.Errorf("decode value: %w", err)}
	}
	return v, nil
}

// compressorFor resolves the algorithm recorded in an envelope.
func (s *store[V]) compressorFor(alg string) (transform.Compressor, error) {
	if s.compressor != nil && s.compressor.Algorithm() == alg {
		return s.compressor, nil
	}
	return transform.CompressorByName(alg)
}

func (s *store[V]) sizeOf(v V, raw []byte) int64 {
	if s.estimate != nil {
		return s.estimate(v)
	}
	return int64(len(raw))
}

func newID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}

func toMetadata(key string, env *envelope.Envelope) Metadata {
	m := env.Meta
	return Metadata{
		Key:         key,
		ID:          env.ID,
		Version:     m.Version,
		Created:     m.Created,
		Updated:     m.Updated,
		Size:        m.Size,
		Codec:       m.Codec,
		Compressed:  m.Compressed,
		Compression: m.Compression,
		Encrypted:   m.Encrypted,
		Algorithm:   m.Algorithm,
		Tags:        m.Tags,
		TTL:         m.TTL,
		ExpiresAt:   m.ExpiresAt,
	}
}
