// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package topdown

import (
	"github.com/google/uuid"

	"github.com/open-policy-agent/congress/ast"
)

// BiUnify unifies the arguments of a under b1 with the arguments of b under
// b2. Variables of either side may be bound. Tables, negation and modal
// operators are ignored; callers compare them where it matters. On success
// the returned Undo reverts every binding that was made. On failure no
// bindings are left behind.
func BiUnify(a *ast.Literal, b1 *Bindings, b *ast.Literal, b2 *Bindings) (*Undo, bool) {
	if len(a.Args) != len(b.Args) {
		return nil, false
	}
	return unifyLists(a.Args, b1, b.Args, b2)
}

func unifyLists(xs []ast.Term, b1 *Bindings, ys []ast.Term, b2 *Bindings) (*Undo, bool) {
	var trail *Undo
	for i := range xs {
		t1, u1 := b1.apply(xs[i])
		t2, u2 := b2.apply(ys[i])
		v1, isVar1 := t1.(ast.Var)
		v2, isVar2 := t2.(ast.Var)
		switch {
		case isVar1 && isVar2:
			if v1 == v2 && u1 == u2 {
				continue
			}
			trail = u1.bind(v1, t2, u2, trail)
		case isVar1:
			trail = u1.bind(v1, t2, u2, trail)
		case isVar2:
			trail = u2.bind(v2, t1, u1, trail)
		case t1.Equal(t2):
			continue
		default:
			trail.Undo()
			return nil, false
		}
	}
	return trail, true
}

// Match binds the variables of pattern so that it equals ground. The
// binding is returned if the match succeeds. Tables and negation are
// ignored.
func Match(pattern *ast.Literal, ground *ast.Literal) (ast.Binding, bool) {
	if len(pattern.Args) != len(ground.Args) {
		return nil, false
	}
	b := ast.Binding{}
	for i, t := range pattern.Args {
		g := ground.Args[i]
		v, ok := t.(ast.Var)
		if !ok {
			if !t.Equal(g) {
				return nil, false
			}
			continue
		}
		if prev, ok := b[v]; ok {
			if !prev.Equal(g) {
				return nil, false
			}
			continue
		}
		b[v] = g
	}
	return b, true
}

// Same returns true if a and b are identical up to a one-to-one renaming of
// their variables.
func Same(a, b ast.Formula) bool {
	la, lb := formulaLiterals(a), formulaLiterals(b)
	if la == nil || lb == nil || len(la) != len(lb) || ast.IsRule(a) != ast.IsRule(b) {
		return false
	}
	if ra, ok := a.(*ast.Rule); ok {
		rb := b.(*ast.Rule)
		if len(ra.Heads) != len(rb.Heads) {
			return false
		}
	}
	forward := map[ast.Var]ast.Var{}
	backward := map[ast.Var]ast.Var{}
	for i := range la {
		if !sameShape(la[i], lb[i]) {
			return false
		}
		for j, t := range la[i].Args {
			u := lb[i].Args[j]
			v1, ok1 := t.(ast.Var)
			v2, ok2 := u.(ast.Var)
			if ok1 != ok2 {
				return false
			}
			if !ok1 {
				if !t.Equal(u) {
					return false
				}
				continue
			}
			if w, ok := forward[v1]; ok && w != v2 {
				return false
			}
			if w, ok := backward[v2]; ok && w != v1 {
				return false
			}
			forward[v1] = v2
			backward[v2] = v1
		}
	}
	return true
}

// Instance returns true if specific can be obtained from general by binding
// variables of general. Variables of specific are treated as constants.
func Instance(specific, general ast.Formula) bool {
	ls, lg := formulaLiterals(specific), formulaLiterals(general)
	if ls == nil || lg == nil || len(ls) != len(lg) || ast.IsRule(specific) != ast.IsRule(general) {
		return false
	}
	b := ast.Binding{}
	for i := range ls {
		if !sameShape(ls[i], lg[i]) {
			return false
		}
		for j, t := range lg[i].Args {
			s := ls[i].Args[j]
			v, ok := t.(ast.Var)
			if !ok {
				if !t.Equal(s) {
					return false
				}
				continue
			}
			if prev, ok := b[v]; ok {
				if !prev.Equal(s) {
					return false
				}
				continue
			}
			b[v] = s
		}
	}
	return true
}

// Skolemize replaces every variable of the formulas with a fresh unique
// string constant. The same variable is replaced consistently across all of
// the formulas.
func Skolemize(fs []ast.Formula) []ast.Formula {
	b := ast.Binding{}
	for _, f := range fs {
		for _, v := range f.Vars() {
			if _, ok := b[v]; !ok {
				b[v] = ast.StringTerm(uuid.New().String())
			}
		}
	}
	result := make([]ast.Formula, len(fs))
	for i, f := range fs {
		result[i] = ast.PlugFormula(f, b)
	}
	return result
}

func formulaLiterals(f ast.Formula) []*ast.Literal {
	switch f := f.(type) {
	case *ast.Literal:
		return []*ast.Literal{f}
	case *ast.Rule:
		lits := make([]*ast.Literal, 0, len(f.Heads)+len(f.Body))
		lits = append(lits, f.Heads...)
		return append(lits, f.Body...)
	}
	return nil
}

func sameShape(a, b *ast.Literal) bool {
	return a.Theory == b.Theory && a.Table == b.Table && a.Modal == b.Modal &&
		a.Negated == b.Negated && len(a.Args) == len(b.Args)
}
