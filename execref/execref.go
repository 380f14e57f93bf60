// Package execref implements reference resolution: look up a variable,
// and once its reference is known — after splitting on symbolic
// aliasing or a conditional — invoke a caller-supplied hook over the
// concrete reference. The shared pre-work (alias materialization, null
// handling, the splits) lives here once; what differs per call site
// (a heap write, a lock acquire) is just the OverRef hook.
package execref

import (
	"fmt"

	"github.com/aclements/symex/expr"
	"github.com/aclements/symex/split"
	"github.com/aclements/symex/symstate"
)

// OverRef is invoked once per resolved concrete reference. It may mutate
// and return a new state (e.g. to perform a heap write); it must not
// retain s beyond the call.
type OverRef func(s symstate.State, ref expr.Reference) (symstate.State, error)

// Resolver supplies the collaborators Exec needs but that execref itself
// has no opinion about: how to materialize an alias entry the first time
// a symbolic reference is dereferenced, and how to check path
// feasibility when a split prunes a branch.
type Resolver struct {
	// InitAlias lazily creates the AliasMap entry for a symbolic
	// reference the first time it's dereferenced, consulting its runtime
	// type to materialize plausible concrete candidates plus a null
	// option.
	InitAlias func(s symstate.State, name string, ty expr.RuntimeType) symstate.State
	Split     *split.Splitter
}

// Exec resolves the variable named var on the active thread's stack to
// one or more concrete references, invoking over for each, and returns
// the resulting successor states. A symbolic reference with n alias
// candidates yields n successor states, plus one Excepted successor when
// the reference may be null; a conditional yields two; a
// concrete Ref yields exactly one (the input state, mutated by over).
func Exec(s symstate.State, varName string, r Resolver, over OverRef) ([]symstate.State, error) {
	v, ok := s.Active().Stack.Lookup(varName)
	if !ok {
		return nil, fmt.Errorf("execref: unbound variable %q", varName)
	}
	return execValue(s, varName, v, r, over)
}

func execValue(s symstate.State, varName string, v expr.Expression, r Resolver, over OverRef) ([]symstate.State, error) {
	switch n := v.(type) {
	case *expr.Ref:
		out, err := over(s, n.Ref)
		if err != nil {
			return nil, err
		}
		return []symstate.State{out}, nil

	case *expr.SymbolicRef:
		if _, ok := s.AliasMap.Get(n.Name); !ok {
			s = r.InitAlias(s, n.Name, n.Type())
		}
		// The null possibility, if still live, is peeled off into its own
		// Excepted successor by execOverSymbolicRef below (via
		// r.Split.Alias); MayBeNull must stay set until then, so a
		// candidate isn't dereferenced before the split has had a chance
		// to fork off the null case.
		return execOverSymbolicRef(s, n.Name, r, over)

	case *expr.Conditional:
		successors, err := r.Split.Conditional(s, n.Guard, varName, n.Then, n.Else)
		if err != nil {
			return nil, err
		}
		var out []symstate.State
		for _, succ := range successors {
			v2, ok := succ.Active().Stack.Lookup(varName)
			if !ok {
				return nil, fmt.Errorf("execref: %q vanished after conditional split", varName)
			}
			more, err := execValue(succ, varName, v2, r, over)
			if err != nil {
				return nil, err
			}
			out = append(out, more...)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("execref: expected Ref, SymbolicRef, or Conditional, found %T", v)
	}
}

func execOverSymbolicRef(s symstate.State, name string, r Resolver, over OverRef) ([]symstate.State, error) {
	entry, ok := s.AliasMap.Get(name)
	if !ok {
		return nil, fmt.Errorf("execref: no alias entry for %q after init", name)
	}
	if len(entry.Aliases) == 1 && !entry.MayBeNull {
		ref, ok := entry.Aliases[0].(*expr.Ref)
		if !ok {
			return nil, fmt.Errorf("execref: alias candidate for %q is not a concrete Ref", name)
		}
		out, err := over(s, ref.Ref)
		if err != nil {
			return nil, err
		}
		return []symstate.State{out}, nil
	}

	successors, err := r.Split.Alias(s, name, entry)
	if err != nil {
		return nil, err
	}
	var out []symstate.State
	for _, succ := range successors {
		if succ.Active().State == symstate.Excepted {
			// A null candidate: no reference to resolve, the exceptional
			// successor stands on its own.
			out = append(out, succ)
			continue
		}
		more, err := Exec(succ, name, r, over)
		if err != nil {
			return nil, err
		}
		out = append(out, more...)
	}
	return out, nil
}
