// Package wire implements the Cap'n Web wire grammar: the tagged JSON value
// tree and the newline-delimited message framing described by the protocol's
// data model. A Value is whatever encoding/json would decode it to (nil,
// bool, float64, string, []any, map[string]any) with the two-element tagged
// form layered on top as a convention, not a distinct Go type — callers walk
// it the same way the wire format allows peers of any language to.
package wire

// Tag strings. This is the closed extension point of the protocol: any other
// first-element string that merely looks like a tag is a protocol error.
const (
	TagExport   = "export"
	TagImport   = "import"
	TagPromise  = "promise"
	TagPipeline = "pipeline"
	TagRemap    = "remap"
	TagDate     = "date"
	TagError    = "error"
	TagBigInt   = "bigint"
)

var valueTags = map[string]bool{
	TagExport:   true,
	TagImport:   true,
	TagPromise:  true,
	TagPipeline: true,
	TagRemap:    true,
	TagDate:     true,
	TagError:    true,
	TagBigInt:   true,
}

// IsTagged reports whether v is a tagged value — a sequence whose first
// element is one of the recognized tag strings — and returns the tag and
// the remaining elements.
func IsTagged(v any) (tag string, rest []any, ok bool) {
	arr, isArr := v.([]any)
	if !isArr || len(arr) == 0 {
		return "", nil, false
	}
	s, isStr := arr[0].(string)
	if !isStr || !valueTags[s] {
		return "", nil, false
	}
	return s, arr[1:], true
}

// LooksLikeTag reports whether the first element of v is a string at all,
// used to distinguish "unknown tag" protocol errors from "not tagged".
func LooksLikeTag(v any) (tag string, isTagShaped bool) {
	arr, isArr := v.([]any)
	if !isArr || len(arr) == 0 {
		return "", false
	}
	s, isStr := arr[0].(string)
	if !isStr {
		return "", false
	}
	return s, true
}

// Export builds the tagged value ["export", id].
func Export(id int) []any { return []any{TagExport, float64(id)} }

// Import builds the tagged value ["import", id].
func Import(id int) []any { return []any{TagImport, float64(id)} }

// Promise builds the tagged value ["promise", cid].
func Promise(cid int) []any { return []any{TagPromise, float64(cid)} }

// Pipeline builds the tagged value ["pipeline", cid, path].
func Pipeline(cid int, path []any) []any {
	if path == nil {
		path = []any{}
	}
	return []any{TagPipeline, float64(cid), path}
}

// Remap builds the tagged value ["remap", source, captures, ops, result].
func Remap(source any, captures []any, ops any, result any) []any {
	return []any{TagRemap, source, captures, ops, result}
}

// Date builds the tagged value ["date", msSinceEpoch].
func Date(ms int64) []any { return []any{TagDate, float64(ms)} }

// BigInt builds the tagged value ["bigint", decimalString].
func BigInt(decimal string) []any { return []any{TagBigInt, decimal} }

// AsID converts a decoded JSON numeric value to an int ID, failing if it is
// not an integral number — IDs are integers on the wire (spec.md §3).
func AsID(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	if f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

// AsPath converts a decoded JSON array into a property-access path: each
// element must be a string (object member) or a non-negative integer
// (sequence index), per spec.md §4.3.
func AsPath(v any) ([]any, bool) {
	arr, ok := v.([]any)
	if !ok {
		return nil, false
	}
	for _, e := range arr {
		switch x := e.(type) {
		case string:
			// ok
		case float64:
			if x < 0 || x != float64(int(x)) {
				return nil, false
			}
		default:
			return nil, false
		}
	}
	return arr, true
}

// Walk applies a resolved property-access path to a decoded value tree,
// navigating object members and sequence indices in order.
func Walk(v any, path []any) (any, error) {
	cur := v
	for _, step := range path {
		switch key := step.(type) {
		case string:
			obj, ok := cur.(map[string]any)
			if !ok {
				return nil, NewError(Protocol, "cannot traverse string key on non-object", nil)
			}
			cur = obj[key]
		case float64:
			arr, ok := cur.([]any)
			if !ok {
				return nil, NewError(Protocol, "cannot traverse numeric key on non-array", nil)
			}
			idx := int(key)
			if idx < 0 || idx >= len(arr) {
				return nil, NewError(BadRequest, "array index out of bounds", nil)
			}
			cur = arr[idx]
		default:
			return nil, NewError(Protocol, "invalid path element type", nil)
		}
	}
	return cur, nil
}
