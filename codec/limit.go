package codec

import "fmt"

// ErrTooLarge is wrapped by Limit when a payload exceeds its bound.
var ErrTooLarge = fmt.Errorf("codec: payload too large")

// Limit wraps another codec and bounds payload sizes in both directions.
// A bound <= 0 disables that direction's check.
//
// MaxEncode keeps oversized values out of the backend before any write is
// attempted; MaxDecode protects readers from oversized data written by a
// foreign process sharing the backend.
type Limit[V any] struct {
	Inner     Codec[V]
	MaxEncode int
	MaxDecode int
}

func (c Limit[V]) Name() string { return "limit(" + NameOf(c.Inner) + ")" }

func (c Limit[V]) Encode(v V) ([]byte, error) {
	b, err := c.Inner.Encode(v)
	if err != nil {
		return nil, err
	}
	if c.MaxEncode > 0 && len(b) > c.MaxEncode {
		return nil, fmt.Errorf("%w: encode %d > %d", ErrTooLarge, len(b), c.MaxEncode)
	}
	return b, nil
}

func (c Limit[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, fmt.Errorf("%w: decode %d > %d", ErrTooLarge, len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}
