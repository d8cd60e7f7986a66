package docdb

import "go.mongodb.org/mongo-driver/v2/bson"

// walkPath resolves a dotted field path inside doc, treating each array
// level encountered along the way as an existential quantifier: if a
// document field is an array, every element of the array is walked for the
// remaining path components (spec.md §3's indexing invariant, §4.4's
// expression semantics). It returns every leaf value reached; a path that
// resolves to nothing (missing at any level) returns no values.
func walkPath(doc bson.Raw, path string) []bson.RawValue {
	segments := splitPath(path)
	return walkSegments(bson.RawValue{Type: bson.TypeEmbeddedDocument, Value: doc}, segments)
}

// lookupPath is the single-value convenience form of walkPath, used where
// fan-out doesn't apply (primary-key path, TTL path, equality filters
// against a known-scalar field).
func lookupPath(doc bson.Raw, path string) (bson.RawValue, bool) {
	vs := walkPath(doc, path)
	if len(vs) == 0 {
		return bson.RawValue{}, false
	}
	return vs[0], true
}

func splitPath(path string) []string {
	var segs []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			segs = append(segs, path[start:i])
			start = i + 1
		}
	}
	segs = append(segs, path[start:])
	return segs
}

// walkSegments descends into a document or array-shaped RawValue. BSON
// arrays share a document's wire layout (length-prefixed elements, keys
// "0","1",... instead of field names), so both cases iterate the same
// Elements() call; only the match rule differs (key equality for
// documents, every element for arrays).
func walkSegments(v bson.RawValue, segments []string) []bson.RawValue {
	if len(segments) == 0 {
		return []bson.RawValue{v}
	}
	switch v.Type {
	case bson.TypeEmbeddedDocument:
		elems, err := bson.Raw(v.Value).Elements()
		if err != nil {
			return nil
		}
		for _, el := range elems {
			key, err := el.KeyErr()
			if err != nil || key != segments[0] {
				continue
			}
			rv, err := el.ValueErr()
			if err != nil {
				return nil
			}
			return walkSegments(rv, segments[1:])
		}
		return nil
	case bson.TypeArray:
		elems, err := bson.Raw(v.Value).Elements()
		if err != nil {
			return nil
		}
		var out []bson.RawValue
		for _, el := range elems {
			rv, err := el.ValueErr()
			if err != nil {
				continue
			}
			out = append(out, walkSegments(rv, segments)...)
		}
		return out
	default:
		return nil
	}
}
