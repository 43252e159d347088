// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package topdown

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/open-policy-agent/congress/ast"
)

var bindingsIDs uint64

// Bindings maps variables to terms. A term bound to a variable is
// interpreted relative to the Bindings it was bound under so that the same
// variable name can be used by different rules at the same time.
type Bindings struct {
	id     uint64
	values map[ast.Var]value
}

type value struct {
	t ast.Term
	u *Bindings
}

// NewBindings returns a new empty set of bindings.
func NewBindings() *Bindings {
	return &Bindings{
		id:     atomic.AddUint64(&bindingsIDs, 1),
		values: map[ast.Var]value{},
	}
}

// BindingsFrom returns bindings that map each variable of b to its term.
// Terms bound to variables are interpreted within the returned bindings.
func BindingsFrom(b ast.Binding) *Bindings {
	u := NewBindings()
	for k, v := range b {
		if k.Equal(v) {
			continue
		}
		u.values[k] = value{t: v, u: u}
	}
	return u
}

// Undo records a sequence of bindings so that they can be reverted.
type Undo struct {
	k    ast.Var
	u    *Bindings
	next *Undo
}

// Undo removes the recorded bindings, most recent first.
func (u *Undo) Undo() {
	for curr := u; curr != nil; curr = curr.next {
		delete(curr.u.values, curr.k)
	}
}

func (u *Bindings) bind(v ast.Var, t ast.Term, tu *Bindings, next *Undo) *Undo {
	u.values[v] = value{t: t, u: tu}
	return &Undo{k: v, u: u, next: next}
}

// apply follows the chain of variable bindings starting at t and returns the
// term it ends in together with the bindings that term must be interpreted
// under.
func (u *Bindings) apply(t ast.Term) (ast.Term, *Bindings) {
	v, ok := t.(ast.Var)
	if !ok {
		return t, u
	}
	val, ok := u.values[v]
	if !ok {
		return t, u
	}
	if val.u == nil || !val.t.IsVar() {
		return val.t, val.u
	}
	return val.u.apply(val.t)
}

// Apply returns the term bound to v after following every variable binding.
// Variables that remain unbound are returned as is.
func (u *Bindings) Apply(v ast.Var) ast.Term {
	t, _ := u.apply(v)
	return t
}

// Namespaced returns a Binder that resolves variables like Apply but renames
// every unbound variable that does not belong to owner by appending the id
// of the bindings it belongs to. The result never confuses variables of
// different rules that happen to share a name.
func (u *Bindings) Namespaced(owner *Bindings) ast.Binder {
	return namespaced{u: u, owner: owner}
}

type namespaced struct {
	u     *Bindings
	owner *Bindings
}

func (n namespaced) Apply(v ast.Var) ast.Term {
	t, tu := n.u.apply(v)
	if tv, ok := t.(ast.Var); ok && tu != nil && tu != n.owner {
		return ast.Var(fmt.Sprintf("%v%d", tv, tu.id))
	}
	return t
}

// Binding returns the bindings of vars as a flat binding. Unbound variables
// are omitted.
func (u *Bindings) Binding(vars []ast.Var) ast.Binding {
	b := make(ast.Binding, len(vars))
	for _, v := range vars {
		t := u.Apply(v)
		if !t.Equal(v) {
			b[v] = t
		}
	}
	return b
}

// Len returns the number of variables bound directly in u.
func (u *Bindings) Len() int {
	return len(u.values)
}

func (u *Bindings) String() string {
	if u == nil {
		return "()"
	}
	strs := make([]string, 0, len(u.values))
	for k, v := range u.values {
		strs = append(strs, fmt.Sprintf("%v: %v", k, v.t))
	}
	sort.Strings(strs)
	return fmt.Sprintf("<%d>{%v}", u.id, strings.Join(strs, ", "))
}
