package plan

import (
	"fmt"

	"github.com/capnweb-go/capnweb/wire"
)

// Plan is an ordered sequence of calls plus a terminal result expression —
// the unit of evaluation for the Plan Runner (spec.md §4.3).
type Plan struct {
	Calls  []Call
	Result Expr
}

// Validate checks the two structural invariants of spec.md §4.3:
//   - topological order: every Ref(i, _) in call k satisfies i < k
//   - closure: every Ref resolves within the call list and every Cap
//     addresses either a valid table entry (left to the runner to check
//     against live tables) or a parameter of the enclosing scope
//
// Validate only checks shape, not table membership — Cap validity against
// live reference tables is the Plan Runner's job (C4), since it requires
// session state this package doesn't have.
func (p *Plan) Validate() error {
	for i, c := range p.Calls {
		if err := validateRefsTopological(c.Target, i); err != nil {
			return err
		}
		for _, a := range c.Args {
			if err := validateRefsTopological(a, i); err != nil {
				return err
			}
		}
	}
	if err := validateRefsTopological(p.Result, len(p.Calls)); err != nil {
		return err
	}
	return nil
}

func validateRefsTopological(e Expr, callIndex int) error {
	switch x := e.(type) {
	case nil:
		return nil
	case Literal:
		return nil
	case Cap:
		return nil
	case Ref:
		if x.CID >= callIndex {
			return wire.NewError(wire.BadRequest,
				fmt.Sprintf("ref to call #%d is not in topological order before call #%d", x.CID, callIndex), nil)
		}
		return nil
	case Remap:
		if err := validateRefsTopological(x.Source, callIndex); err != nil {
			return err
		}
		for _, cap := range x.Captures {
			if err := validateRefsTopological(cap, callIndex); err != nil {
				return err
			}
		}
		// Ops inside a remap form their own closed scope (indices 0..N are
		// the source+captures, not outer CIDs, and op k sits at N+1+k) so
		// they are validated against their own index space, not the outer
		// callIndex.
		base := 1 + len(x.Captures)
		for k, op := range x.Ops {
			if err := validateRefsTopological(op.Target, base+k); err != nil {
				return err
			}
			for _, a := range op.Args {
				if err := validateRefsTopological(a, base+k); err != nil {
					return err
				}
			}
		}
		return validateRefsTopological(x.Result, base+len(x.Ops))
	default:
		return fmt.Errorf("plan: unknown expr type %T", e)
	}
}

// RefsIn collects every Ref appearing (recursively, including inside Remap
// captures but not crossing into a Remap's own Ops scope) within e.
func RefsIn(e Expr) []Ref {
	var out []Ref
	collectRefs(e, &out)
	return out
}

func collectRefs(e Expr, out *[]Ref) {
	switch x := e.(type) {
	case Ref:
		*out = append(*out, x)
	case Remap:
		collectRefs(x.Source, out)
		for _, c := range x.Captures {
			collectRefs(c, out)
		}
	}
}
