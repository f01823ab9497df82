// Package plan implements the in-memory IL described by spec.md §3/§4.3: an
// algebraic expression tree whose leaves may reference capabilities or the
// not-yet-resolved results of other calls in the same batch, plus the Plan
// that sequences calls over those expressions.
package plan

// Expr is the sum type of spec.md §3 "IL expression": Literal, Ref, Cap, and
// Remap. It is a closed set by design — callers type-switch on the concrete
// type rather than adding new cases.
type Expr interface {
	isExpr()
}

// Literal is a value tree with no unresolved references.
type Literal struct {
	Value any
}

func (Literal) isExpr() {}

// Ref is the result of a prior call in the same Plan, optionally narrowed by
// a member/index path applied after the call resolves.
type Ref struct {
	CID  int
	Path []any
}

func (Ref) isExpr() {}

// Cap is a capability reference. Its direction comes from the wire tag
// ("export" or "import", see DecodeExpr), not from the sign of ID; the sign
// carries no direction. Import reports which table (import vs. export) this
// Cap addresses from the evaluating side's perspective.
type Cap struct {
	ID     int
	Import bool
}

func (Cap) isExpr() {}

// Remap is the inline sub-program of spec.md §4.4: transform source using a
// nested Plan (ops) seeded with source at scope index 0 and captures at
// indices 1..N, yielding result.
type Remap struct {
	Source   Expr
	Captures []Expr
	Ops      []Call
	Result   Expr
}

func (Remap) isExpr() {}

// Method is a property-access path applied before invocation: a flat method
// name is just a one-element Method, per spec.md §4.7.
type Method []string

// Call is one step of a Plan: invoke Method on Target with Args, storing the
// result at the given Index for later Refs to address.
type Call struct {
	Target Expr
	Method Method
	Args   []Expr
	Index  int
}
