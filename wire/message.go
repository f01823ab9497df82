package wire

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Message tags, per spec.md §4.1.
const (
	Push    = "push"
	Pull    = "pull"
	Resolve = "resolve"
	Reject  = "reject"
	Release = "release"
	Abort   = "abort"
)

var messageArity = map[string]int{
	Push:    1,
	Pull:    1,
	Resolve: 2,
	Reject:  2,
	Release: 2,
	Abort:   1,
}

// Message is one frame of the wire grammar: a tagged array whose first
// element names the message and whose remaining elements are its
// arguments, per spec.md §4.1.
type Message struct {
	Tag  string
	Args []any
}

// DecodeFrame parses a single ND-JSON line into a Message. It returns a
// *Error with Kind Protocol for any of the conditions spec.md §4.1 calls
// out: the frame is not a JSON array at top level; the tag is unknown;
// argument arity doesn't match; or an ID/path argument is malformed for
// message tags where that can be checked without interpreting the payload.
func DecodeFrame(line []byte) (Message, error) {
	var raw []any
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Message{}, NewError(Protocol, "frame is not a JSON array: "+err.Error(), nil)
	}
	if len(raw) == 0 {
		return Message{}, NewError(Protocol, "empty frame", nil)
	}
	tag, ok := raw[0].(string)
	if !ok {
		return Message{}, NewError(Protocol, "message tag is not a string", nil)
	}
	wantArity, known := messageArity[tag]
	if !known {
		return Message{}, NewError(Protocol, "unknown message tag: "+tag, nil)
	}
	args := normalizeNumbers(raw[1:])
	if len(args) != wantArity {
		return Message{}, NewError(Protocol, "wrong argument count for "+tag, nil)
	}
	if err := validateArgs(tag, args); err != nil {
		return Message{}, err
	}
	return Message{Tag: tag, Args: args}, nil
}

// normalizeNumbers converts json.Number (produced by UseNumber) into
// float64 for the rest of the codebase, which treats all JSON numbers
// uniformly as float64 exactly like encoding/json's default decoding into
// interface{} would. IDs are checked for integrality afterwards, on that
// float64 value (AsID).
func normalizeNumbers(v []any) []any {
	out := make([]any, len(v))
	for i, e := range v {
		out[i] = normalizeNumber(e)
	}
	return out
}

func normalizeNumber(v any) any {
	switch x := v.(type) {
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return x
		}
		return f
	case []any:
		return normalizeNumbers(x)
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = normalizeNumber(e)
		}
		return m
	default:
		return v
	}
}

func validateArgs(tag string, args []any) error {
	switch tag {
	case Push:
		// args[0] is an arbitrary expression value tree; validated by plan
		// construction (C3), not here.
	case Pull:
		if _, ok := AsID(args[0]); !ok {
			return NewError(Protocol, "pull: CID must be an integer", nil)
		}
	case Resolve:
		if _, ok := AsID(args[0]); !ok {
			return NewError(Protocol, "resolve: CID must be an integer", nil)
		}
	case Reject:
		if _, ok := AsID(args[0]); !ok {
			return NewError(Protocol, "reject: CID must be an integer", nil)
		}
		if _, ok := ErrorFromValue(args[1]); !ok {
			return NewError(Protocol, "reject: second argument must be an error value", nil)
		}
	case Release:
		if _, ok := AsID(args[0]); !ok {
			return NewError(Protocol, "release: ID must be an integer", nil)
		}
		if _, ok := AsID(args[1]); !ok {
			return NewError(Protocol, "release: refcount decrement must be an integer", nil)
		}
	case Abort:
		// args[0] is an error value; tolerated even if malformed so the
		// session can still observe that an abort happened.
	}
	return nil
}

// EncodeFrame serializes a Message back into its ND-JSON wire form,
// including the trailing newline.
func EncodeFrame(m Message) ([]byte, error) {
	arr := make([]any, 0, len(m.Args)+1)
	arr = append(arr, m.Tag)
	arr = append(arr, m.Args...)
	b, err := json.Marshal(arr)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// SplitFrames splits a batch body into individual trimmed, non-empty lines,
// matching the teacher's `bufio.Scanner` + `strings.TrimSpace` batch
// handling in server.go — an empty body is a valid zero-frame batch.
func SplitFrames(body []byte) []string {
	var lines []string
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
