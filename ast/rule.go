// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package ast

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Formula is implemented by the statements of the language: literals (facts)
// and rules.
type Formula interface {
	fmt.Stringer

	// IsAtom returns true if the formula is a positive, non-modal literal.
	IsAtom() bool

	// Vars returns the variables of the formula in order of first
	// occurrence.
	Vars() []Var

	// Tablenames returns the full names of all tables referenced by the
	// formula.
	Tablenames() []string

	// Key returns a string that uniquely identifies the formula.
	Key() string

	// Hash returns the hash code of the formula.
	Hash() uint64

	// Loc returns the location of the formula in its source.
	Loc() *Location

	formula()
}

// Rule represents a rule with one or more heads and a (possibly empty) body.
// Reasoning algorithms only consider the first head.
type Rule struct {
	Location *Location
	ID       string
	Name     string
	Comment  string
	Heads    []*Literal
	Body     []*Literal
}

// NewRule returns a new rule with a single head.
func NewRule(head *Literal, body ...*Literal) *Rule {
	return &Rule{Heads: []*Literal{head}, Body: body}
}

// Head returns the first head of the rule.
func (r *Rule) Head() *Literal {
	return r.Heads[0]
}

// IsAtom returns false.
func (*Rule) IsAtom() bool {
	return false
}

// IsUpdate returns true if the head of the rule is an update table.
func (r *Rule) IsUpdate() bool {
	return r.Head().IsUpdate()
}

// Loc returns the rule's location.
func (r *Rule) Loc() *Location {
	return r.Location
}

// Vars returns the variables of the rule (heads first, then body) in order of
// first occurrence.
func (r *Rule) Vars() []Var {
	seen := VarSet{}
	var vs []Var
	for _, h := range r.Heads {
		vs = h.appendVars(vs, seen)
	}
	for _, l := range r.Body {
		vs = l.appendVars(vs, seen)
	}
	return vs
}

// HeadVars returns the set of variables occurring in the heads.
func (r *Rule) HeadVars() VarSet {
	vs := VarSet{}
	for _, h := range r.Heads {
		vs.Update(h.VarSet())
	}
	return vs
}

// BodyVars returns the set of variables occurring in the body.
func (r *Rule) BodyVars() VarSet {
	vs := VarSet{}
	for _, l := range r.Body {
		vs.Update(l.VarSet())
	}
	return vs
}

// Tablenames returns the full names of the tables in the heads and body of
// the rule, sorted and without duplicates.
func (r *Rule) Tablenames() []string {
	seen := map[string]struct{}{}
	for _, h := range r.Heads {
		seen[h.Tablename()] = struct{}{}
	}
	for _, l := range r.Body {
		seen[l.Tablename()] = struct{}{}
	}
	result := make([]string, 0, len(seen))
	for k := range seen {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}

// Copy returns a deep copy of the rule structure.
func (r *Rule) Copy() *Rule {
	cpy := *r
	cpy.Heads = make([]*Literal, len(r.Heads))
	for i := range r.Heads {
		cpy.Heads[i] = r.Heads[i].Copy()
	}
	cpy.Body = make([]*Literal, len(r.Body))
	for i := range r.Body {
		cpy.Body[i] = r.Body[i].Copy()
	}
	return &cpy
}

// Plug returns a copy of the rule with variables replaced according to b.
func (r *Rule) Plug(b Binder) *Rule {
	cpy := *r
	cpy.Heads = r.PlugHeads(b)
	cpy.Body = make([]*Literal, len(r.Body))
	for i := range r.Body {
		cpy.Body[i] = r.Body[i].Plug(b)
	}
	return &cpy
}

// PlugHeads returns the heads of the rule with variables replaced according
// to b.
func (r *Rule) PlugHeads(b Binder) []*Literal {
	heads := make([]*Literal, len(r.Heads))
	for i := range r.Heads {
		heads[i] = r.Heads[i].Plug(b)
	}
	return heads
}

// Equal returns true if both rules have the same ordered heads and body.
func (r *Rule) Equal(other *Rule) bool {
	if r == other {
		return true
	}
	if r == nil || other == nil {
		return false
	}
	if len(r.Heads) != len(other.Heads) || len(r.Body) != len(other.Body) {
		return false
	}
	for i := range r.Heads {
		if !r.Heads[i].Equal(other.Heads[i]) {
			return false
		}
	}
	for i := range r.Body {
		if !r.Body[i].Equal(other.Body[i]) {
			return false
		}
	}
	return true
}

// Key returns a string that uniquely identifies the rule.
func (r *Rule) Key() string {
	var sb strings.Builder
	for i, h := range r.Heads {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(h.Key())
	}
	sb.WriteString(":-")
	for i, l := range r.Body {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(l.Key())
	}
	return sb.String()
}

// Hash returns the hash code of the rule.
func (r *Rule) Hash() uint64 {
	return xxhash.Sum64String(r.Key())
}

func (r *Rule) String() string {
	heads := make([]string, len(r.Heads))
	for i := range r.Heads {
		heads[i] = r.Heads[i].String()
	}
	if len(r.Body) == 0 {
		return strings.Join(heads, ", ")
	}
	body := make([]string, len(r.Body))
	for i := range r.Body {
		body[i] = r.Body[i].String()
	}
	return strings.Join(heads, ", ") + " :- " + strings.Join(body, ", ")
}

func (*Rule) formula() {}

// IsRule returns true if f is a rule with a non-empty body.
func IsRule(f Formula) bool {
	r, ok := f.(*Rule)
	return ok && len(r.Body) > 0
}

// IsFact returns true if f is a literal or a rule without a body.
func IsFact(f Formula) bool {
	switch f := f.(type) {
	case *Literal:
		return true
	case *Rule:
		return len(f.Body) == 0
	}
	return false
}

// AsLiteral returns the literal representation of a fact: the literal itself
// or the single head of a bodiless rule.
func AsLiteral(f Formula) (*Literal, bool) {
	switch f := f.(type) {
	case *Literal:
		return f, true
	case *Rule:
		if len(f.Body) == 0 && len(f.Heads) == 1 {
			return f.Heads[0], true
		}
	}
	return nil, false
}

// HeadLiteral returns the literal a formula defines: the literal itself or
// the first head of a rule.
func HeadLiteral(f Formula) *Literal {
	switch f := f.(type) {
	case *Literal:
		return f
	case *Rule:
		return f.Head()
	}
	return nil
}

// Tablename returns the full name of the table defined by the formula.
func Tablename(f Formula) string {
	return HeadLiteral(f).Tablename()
}

// FormulaEqual returns true if a and b are structurally equal.
func FormulaEqual(a, b Formula) bool {
	switch a := a.(type) {
	case *Literal:
		if b, ok := b.(*Literal); ok {
			return a.Equal(b)
		}
	case *Rule:
		if b, ok := b.(*Rule); ok {
			return a.Equal(b)
		}
	}
	return false
}

// PlugFormula applies b to the formula.
func PlugFormula(f Formula, b Binder) Formula {
	switch f := f.(type) {
	case *Literal:
		return f.Plug(b)
	case *Rule:
		return f.Plug(b)
	}
	return f
}

// FormulasToString returns the string forms of the formulas sorted and
// joined by spaces.
func FormulasToString(fs []Formula) string {
	strs := make([]string, len(fs))
	for i := range fs {
		strs[i] = fs[i].String()
	}
	sort.Strings(strs)
	return strings.Join(strs, " ")
}

// LiteralsToString returns the string forms of the literals sorted and joined
// by spaces.
func LiteralsToString(ls []*Literal) string {
	fs := make([]Formula, len(ls))
	for i := range ls {
		fs[i] = ls[i]
	}
	return FormulasToString(fs)
}

// SortFormulas sorts the formulas by their textual representation.
func SortFormulas(fs []Formula) {
	sort.SliceStable(fs, func(i, j int) bool {
		return fs[i].String() < fs[j].String()
	})
}
