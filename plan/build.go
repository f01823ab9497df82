package plan

import (
	"fmt"

	"github.com/capnweb-go/capnweb/wire"
)

// DecodeExpr converts a decoded JSON value tree into an Expr. Plain scalars,
// mappings and sequences that do not start with a string become Literal;
// the tagged forms from spec.md §4.1 become Ref/Cap/Remap. A sequence whose
// first element is a string that is not one of those tags is a PROTOCOL
// error.
//
// Capability direction: a capability reference is always one of the tagged
// forms ["export", id] or ["import", id]. Tag "export" means the sender is
// introducing or reaffirming a capability it hosts — the receiver records
// it in its own IMPORT table keyed by id. Tag "import" means the sender is
// referencing a capability the *receiver* hosts (bouncing back a reference
// the receiver exported earlier, including the receiver's bootstrap/root
// object at id 1) — the receiver resolves it in its own EXPORT table. This
// is the tag-based equivalent of the positive/negative sign convention
// spec.md §3 describes at the table level: both encode the same
// direction+id pair, and implementations are free to pick either
// representation on the wire. DecodeExpr records the direction as
// Cap.Import so that a single table lookup decides unambiguously which
// table to consult, without re-deriving it from a sign check at every use
// site.
func DecodeExpr(v any) (Expr, error) {
	tag, rest, ok := wire.IsTagged(v)
	if !ok {
		if s, tagShaped := wire.LooksLikeTag(v); tagShaped {
			return nil, wire.NewError(wire.Protocol, "unknown tag: "+s, nil)
		}
		return Literal{Value: v}, nil
	}
	switch tag {
	case wire.TagExport:
		id, idOK := wire.AsID(firstOr(rest, nil))
		if !idOK {
			return nil, wire.NewError(wire.Protocol, "export: id must be an integer", nil)
		}
		return Cap{ID: id, Import: true}, nil
	case wire.TagImport:
		id, idOK := wire.AsID(firstOr(rest, nil))
		if !idOK {
			return nil, wire.NewError(wire.Protocol, "import: id must be an integer", nil)
		}
		return Cap{ID: id, Import: false}, nil
	case wire.TagPromise:
		cid, idOK := wire.AsID(firstOr(rest, nil))
		if !idOK {
			return nil, wire.NewError(wire.Protocol, "promise: cid must be an integer", nil)
		}
		return Ref{CID: cid, Path: nil}, nil
	case wire.TagPipeline:
		if len(rest) < 2 {
			return nil, wire.NewError(wire.Protocol, "pipeline: expected [cid, path]", nil)
		}
		cid, idOK := wire.AsID(rest[0])
		if !idOK {
			return nil, wire.NewError(wire.Protocol, "pipeline: cid must be an integer", nil)
		}
		path, pathOK := wire.AsPath(rest[1])
		if !pathOK {
			return nil, wire.NewError(wire.Protocol, "pipeline: malformed path", nil)
		}
		return Ref{CID: cid, Path: path}, nil
	case wire.TagRemap:
		return decodeRemap(rest)
	case wire.TagDate, wire.TagBigInt:
		// Scalar extensions carry no references; keep as a literal tagged
		// value so re-encoding round-trips unchanged.
		return Literal{Value: v}, nil
	case wire.TagError:
		return Literal{Value: v}, nil
	default:
		return nil, wire.NewError(wire.Protocol, "unknown tag: "+tag, nil)
	}
}

func firstOr(rest []any, def any) any {
	if len(rest) == 0 {
		return def
	}
	return rest[0]
}

// decodeRemap parses ["remap", source, captures, ops, result]. Ops is an
// array of [target, method, args] call tuples (the same shape DecodeCall
// expects), whose Ref CIDs address the remap's own local scope: index 0 is
// the resolved source, indices 1..N are the captures in order, and each
// subsequent op's result occupies the next index.
func decodeRemap(rest []any) (Expr, error) {
	if len(rest) < 4 {
		return nil, wire.NewError(wire.Protocol, "remap: expected [source, captures, ops, result]", nil)
	}
	source, err := DecodeExpr(rest[0])
	if err != nil {
		return nil, err
	}
	capturesRaw, ok := rest[1].([]any)
	if !ok {
		return nil, wire.NewError(wire.Protocol, "remap: captures must be an array", nil)
	}
	captures := make([]Expr, len(capturesRaw))
	for i, c := range capturesRaw {
		ce, err := DecodeExpr(c)
		if err != nil {
			return nil, err
		}
		captures[i] = ce
	}
	opsRaw, ok := rest[2].([]any)
	if !ok {
		return nil, wire.NewError(wire.Protocol, "remap: ops must be an array", nil)
	}
	ops := make([]Call, len(opsRaw))
	baseIndex := 1 + len(captures)
	for i, opRaw := range opsRaw {
		c, err := DecodeCall(opRaw, baseIndex+i)
		if err != nil {
			return nil, err
		}
		ops[i] = c
	}
	result, err := DecodeExpr(rest[3])
	if err != nil {
		return nil, err
	}
	return Remap{Source: source, Captures: captures, Ops: ops, Result: result}, nil
}

// DecodeCall parses the [target, method, args] tuple carried by a push
// message (spec.md §4.1 `push` argument) or by a Remap's `ops` entry.
func DecodeCall(raw any, index int) (Call, error) {
	arr, ok := raw.([]any)
	if !ok || len(arr) < 3 {
		return Call{}, wire.NewError(wire.Protocol, "call: expected [target, method, args]", nil)
	}
	target, err := DecodeExpr(arr[0])
	if err != nil {
		return Call{}, err
	}
	method, err := decodeMethod(arr[1])
	if err != nil {
		return Call{}, err
	}
	argsRaw, ok := arr[2].([]any)
	if !ok {
		return Call{}, wire.NewError(wire.Protocol, "call: args must be an array", nil)
	}
	args := make([]Expr, len(argsRaw))
	for i, a := range argsRaw {
		ae, err := DecodeExpr(a)
		if err != nil {
			return Call{}, err
		}
		args[i] = ae
	}
	return Call{Target: target, Method: method, Args: args, Index: index}, nil
}

func decodeMethod(v any) (Method, error) {
	switch x := v.(type) {
	case string:
		return Method{x}, nil
	case []any:
		m := make(Method, len(x))
		for i, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, wire.NewError(wire.Protocol, "method path elements must be strings", nil)
			}
			m[i] = s
		}
		return m, nil
	default:
		return nil, fmt.Errorf("plan: method must be a string or array of strings, got %T", v)
	}
}

// EncodeExpr turns an Expr back into its wire value, used when
// re-serializing an Expr onto the wire (e.g. forwarding a still-unresolved
// Ref as a pipeline value per spec.md §4.4 rule 4). It inverts DecodeExpr
// for every form except Cap, whose tag is flipped as explained below.
func EncodeExpr(e Expr) any {
	switch x := e.(type) {
	case Literal:
		return x.Value
	case Cap:
		// Encoding flips relative to DecodeExpr's mapping: a Cap records
		// *who hosts* the capability (Import=true means the peer hosts it,
		// having exported it to us), and that fact doesn't change when we
		// turn around and address it in a message back to that same peer —
		// only the sender/receiver roles do. So a peer-hosted capability
		// (Import=true) now goes out tagged "import" (the receiver hosts
		// it), and one of our own exports (Import=false) goes out tagged
		// "export" (the sender, us, hosts it).
		if x.Import {
			return wire.Import(x.ID)
		}
		return wire.Export(x.ID)
	case Ref:
		if len(x.Path) == 0 {
			return wire.Promise(x.CID)
		}
		return wire.Pipeline(x.CID, x.Path)
	case Remap:
		ops := make([]any, len(x.Ops))
		for i, op := range x.Ops {
			ops[i] = EncodeCall(op)
		}
		captures := make([]any, len(x.Captures))
		for i, c := range x.Captures {
			captures[i] = EncodeExpr(c)
		}
		return wire.Remap(EncodeExpr(x.Source), captures, ops, EncodeExpr(x.Result))
	default:
		return nil
	}
}

// EncodeCall turns a Call into its [target, method, args] wire tuple,
// encoding each part with EncodeExpr (so Cap tags flip as they do there);
// Index is not carried on the wire.
func EncodeCall(c Call) any {
	args := make([]any, len(c.Args))
	for i, a := range c.Args {
		args[i] = EncodeExpr(a)
	}
	var method any
	if len(c.Method) == 1 {
		method = c.Method[0]
	} else {
		ms := make([]any, len(c.Method))
		for i, m := range c.Method {
			ms[i] = m
		}
		method = ms
	}
	return []any{EncodeExpr(c.Target), method, args}
}
