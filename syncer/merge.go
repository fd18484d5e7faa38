package syncer

import "reflect"

// MergeValues combines a local and a remote value of the same kind.
// Maps are shallow-merged with local keys winning. Slices become their
// deduplicated union, local elements first. Any other pairing keeps local.
func MergeValues(local, remote any) any {
	lv, rv := reflect.ValueOf(local), reflect.ValueOf(remote)
	if !lv.IsValid() || !rv.IsValid() || lv.Type() != rv.Type() {
		return local
	}
	switch lv.Kind() {
	case reflect.Map:
		if lv.IsNil() && rv.IsNil() {
			return local
		}
		out := reflect.MakeMapWithSize(lv.Type(), lv.Len()+rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), iter.Value())
		}
		iter = lv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), iter.Value())
		}
		return out.Interface()
	case reflect.Slice:
		out := reflect.MakeSlice(lv.Type(), 0, lv.Len()+rv.Len())
		var kept []any
		add := func(s reflect.Value) {
			for i := 0; i < s.Len(); i++ {
				el := s.Index(i)
				x := el.Interface()
				dup := false
				for _, k := range kept {
					if reflect.DeepEqual(k, x) {
						dup = true
						break
					}
				}
				if !dup {
					kept = append(kept, x)
					out = reflect.Append(out, el)
				}
			}
		}
		add(lv)
		add(rv)
		return out.Interface()
	}
	return local
}
