package wire

import "fmt"

// Kind is the closed wire error taxonomy from spec.md §6/§7.
type Kind string

const (
	Protocol          Kind = "PROTOCOL"
	NotFound          Kind = "NOT_FOUND"
	PermissionDenied  Kind = "PERMISSION_DENIED"
	Canceled          Kind = "CANCELED"
	BadRequest        Kind = "BAD_REQUEST"
	Internal          Kind = "INTERNAL"
	Unimplemented     Kind = "UNIMPLEMENTED"
)

// Error is the Go representation of the wire error envelope
// ["error", kind, message, data?] from spec.md §4.1/§6.
type Error struct {
	Kind    Kind
	Message string
	Data    any // optional value tree, nil if absent
}

// NewError constructs a wire error. data may be nil.
func NewError(kind Kind, message string, data any) *Error {
	return &Error{Kind: kind, Message: message, Data: data}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// AsValue renders the error as its wire-format tagged value.
func (e *Error) AsValue() []any {
	if e.Data == nil {
		return []any{TagError, string(e.Kind), e.Message}
	}
	return []any{TagError, string(e.Kind), e.Message, e.Data}
}

// ErrorFromValue parses a decoded ["error", kind, message, data?] value.
// It returns ok=false if v is not shaped like an error tag.
func ErrorFromValue(v any) (*Error, bool) {
	tag, rest, ok := IsTagged(v)
	if !ok || tag != TagError || len(rest) < 2 {
		return nil, false
	}
	kind, kindOK := rest[0].(string)
	msg, msgOK := rest[1].(string)
	if !kindOK || !msgOK {
		return nil, false
	}
	var data any
	if len(rest) >= 3 {
		data = rest[2]
	}
	return &Error{Kind: Kind(kind), Message: msg, Data: data}, true
}

// WithArgPath returns a copy of e annotated with data.argPath, per spec.md
// §7's propagation policy. It refuses to double-wrap: if e already carries
// an argPath, the original is returned unchanged.
func (e *Error) WithArgPath(path []any) *Error {
	if e == nil {
		return nil
	}
	if m, ok := e.Data.(map[string]any); ok {
		if _, already := m["argPath"]; already {
			return e
		}
	}
	data := map[string]any{"argPath": path}
	if e.Data != nil {
		data["cause"] = e.Data
	}
	return &Error{Kind: e.Kind, Message: e.Message, Data: data}
}

// ToError converts any Go error into a wire.Error, classifying it as
// INTERNAL unless it already is one. The message is not sanitized further
// here; callers invoking untrusted host code should do that at the C7
// boundary per spec.md §7 ("MUST NOT leak implementation details").
func ToError(err error) *Error {
	if err == nil {
		return nil
	}
	if we, ok := err.(*Error); ok {
		return we
	}
	return NewError(Internal, err.Error(), nil)
}
