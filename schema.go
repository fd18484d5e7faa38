package layerkv

import "strings"

// validators picks the Validator registered for the longest prefix of a key.
type validators[V any] struct {
	byPrefix map[string]Validator[V]
}

func (vs validators[V]) lookup(key string) (Validator[V], bool) {
	var (
		best  Validator[V]
		bestN = -1
	)
	for p, v := range vs.byPrefix {
		if strings.HasPrefix(key, p) && len(p) > bestN {
			best, bestN = v, len(p)
		}
	}
	return best, bestN >= 0
}

func (vs validators[V]) validate(key string, value V) error {
	v, ok := vs.lookup(key)
	if !ok {
		return nil
	}
	return v.Validate(key, value)
}
