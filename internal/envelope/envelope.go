// Package envelope frames the persisted unit of layerkv.
//
//	magic(4) "LKVE" | ver(1) | kind(1) | msgpack(Envelope)
//
// kind distinguishes the current envelope of a key from an archived
// version record so a stray copy can never be mistaken for the other.
package envelope

import (
	"bytes"
	"errors"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	version byte = 1

	hdrLen = 4 + 1 + 1
)

type Kind byte

const (
	KindCurrent Kind = 1
	KindVersion Kind = 2
)

var (
	ErrCorrupt   = errors.New("layerkv: corrupt envelope")
	ErrWrongKind = errors.New("layerkv: unexpected envelope kind")
	magic4       = [...]byte{'L', 'K', 'V', 'E'}
)

// Meta is the envelope metadata.
type Meta struct {
	Created     time.Time     `msgpack:"c"`
	Updated     time.Time     `msgpack:"u"`
	Version     int64         `msgpack:"v"`
	Size        int64         `msgpack:"s"`
	Codec       string        `msgpack:"cd,omitempty"`
	Compressed  bool          `msgpack:"z,omitempty"`
	Compression string        `msgpack:"za,omitempty"`
	Encrypted   bool          `msgpack:"e,omitempty"`
	Algorithm   string        `msgpack:"ea,omitempty"`
	Nonce       []byte        `msgpack:"en,omitempty"`
	Tags        []string      `msgpack:"t,omitempty"`
	TTL         time.Duration `msgpack:"ttl,omitempty"`
	ExpiresAt   time.Time     `msgpack:"x,omitempty"`
}

// Envelope wraps a transformed payload with its metadata.
type Envelope struct {
	ID    string `msgpack:"id"`
	Key   string `msgpack:"k"`
	Value []byte `msgpack:"p"`
	Meta  Meta   `msgpack:"m"`
}

// Expired reports whether the envelope has an expiry at or before now.
func (e *Envelope) Expired(now time.Time) bool {
	return !e.Meta.ExpiresAt.IsZero() && !now.Before(e.Meta.ExpiresAt)
}

// Encode frames e as kind.
func Encode(kind Kind, e *Envelope) ([]byte, error) {
	body, err := msgpack.Marshal(e)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(hdrLen + len(body))
	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(byte(kind))
	buf.Write(body)
	return buf.Bytes(), nil
}

// Decode parses b and verifies it is of kind want.
func Decode(want Kind, b []byte) (*Envelope, error) {
	if len(b) < hdrLen || !bytes.Equal(b[:4], magic4[:]) || b[4] != version {
		return nil, ErrCorrupt
	}
	if Kind(b[5]) != want {
		return nil, ErrWrongKind
	}
	var e Envelope
	if err := msgpack.Unmarshal(b[hdrLen:], &e); err != nil {
		return nil, ErrCorrupt
	}
	return &e, nil
}

// Peek returns the kind of a framed envelope without decoding the body.
func Peek(b []byte) (Kind, bool) {
	if len(b) < hdrLen || !bytes.Equal(b[:4], magic4[:]) || b[4] != version {
		return 0, false
	}
	return Kind(b[5]), true
}
