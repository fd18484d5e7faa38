// Package codec turns caller values into the bytes layerkv persists and
// back. The byte length of an encoded value is also what the store uses as
// its size estimate for quota and cache accounting.
package codec

import "fmt"

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// Named is implemented by codecs that can report a stable name.
type Named interface {
	Name() string
}

// NameOf returns c's name, or "custom" when it does not implement Named.
func NameOf(c any) string {
	if n, ok := c.(Named); ok {
		return n.Name()
	}
	return "custom"
}

// EstimateSize returns the encoded length of v, or 0 if v cannot be encoded.
// It is monotonic in the encoded size and stable for one process lifetime.
func EstimateSize[V any](c Codec[V], v V) int64 {
	b, err := c.Encode(v)
	if err != nil {
		return 0
	}
	return int64(len(b))
}

// ByName returns a general purpose codec by name: "json", "msgpack" or "cbor".
func ByName[V any](name string) (Codec[V], error) {
	switch name {
	case "", "json":
		return JSON[V]{}, nil
	case "msgpack":
		return Msgpack[V]{}, nil
	case "cbor":
		return NewCBOR[V](false)
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
}
