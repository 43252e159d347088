// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package ast

import (
	"strings"
)

// ReorderForSafety returns a copy of the rule whose body is ordered so that
// left-to-right evaluation binds every variable of a negated literal, and
// every input of a builtin, before that literal is evaluated. The reordering
// is stable: a rule that is already properly ordered is returned unchanged.
//
// If no such order exists, an UnsafeVarErr is returned that lists the
// literals that could not be made safe.
func ReorderForSafety(rule *Rule) (*Rule, error) {
	if len(rule.Body) == 0 {
		return rule, nil
	}

	safe := VarSet{}
	body := make([]*Literal, 0, len(rule.Body))
	var pending []*Literal
	unsafe := map[*Literal]VarSet{}

	makeSafe := func(lit *Literal) {
		safe.Update(lit.VarSet())
		body = append(body, lit)
	}

	// makeSafePlus schedules lit and then every pending literal that becomes
	// safe as a result, one at a time, so that as little as possible moves.
	makeSafePlus := func(lit *Literal) {
		makeSafe(lit)
		for found := true; found; {
			found = false
			for i, p := range pending {
				if len(unsafe[p].Diff(safe)) == 0 {
					pending = append(pending[:i], pending[i+1:]...)
					makeSafe(p)
					found = true
					break
				}
			}
		}
	}

	for _, lit := range rule.Body {
		var target VarSet
		switch {
		case lit.Negated:
			target = lit.VarSet()
		case lit.IsBuiltin():
			target = builtinInputVars(lit)
		default:
			makeSafePlus(lit)
			continue
		}
		if missing := target.Diff(safe); len(missing) > 0 {
			pending = append(pending, lit)
			unsafe[lit] = missing
		} else {
			makeSafePlus(lit)
		}
	}

	if len(pending) > 0 {
		msgs := make([]string, len(pending))
		for i, lit := range pending {
			msgs[i] = lit.String() + " (vars " + unsafe[lit].String() + ")"
		}
		return nil, NewError(UnsafeVarErr, rule.Location, "Could not reorder rule %v.  Unsafe lits: %v", rule, strings.Join(msgs, "; "))
	}

	cpy := *rule
	cpy.Body = body
	return &cpy, nil
}

func builtinInputVars(lit *Literal) VarSet {
	vs := VarSet{}
	b := LookupBuiltin(lit.Table)
	for i := 0; i < b.Inputs && i < len(lit.Args); i++ {
		if v, ok := lit.Args[i].(Var); ok {
			vs.Add(v)
		}
	}
	return vs
}
