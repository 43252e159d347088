// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package ast

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Well-known modal operators.
const (
	ModalExecute = "execute"
	ModalInsert  = "insert"
	ModalDelete  = "delete"
)

// ColumnRef is a parameter that names its column instead of relying on its
// position, e.g., status=x or 2=x. Column references are removed by
// EliminateColumnReferences once the schema of the table is known.
type ColumnRef struct {
	Name     string // empty if the column is referenced by number
	Number   int
	Value    Term
	Location *Location
}

func (ref ColumnRef) String() string {
	if ref.Name != "" {
		return ref.Name + "=" + ref.Value.String()
	}
	return strconv.Itoa(ref.Number) + "=" + ref.Value.String()
}

// Literal represents a (possibly negated, possibly modal) reference to a table
// with a list of positional arguments.
type Literal struct {
	Location *Location
	Theory   string
	Table    string
	Modal    string
	Negated  bool
	Args     []Term
	Refs     []ColumnRef
}

// NewLiteral returns a new literal. Colon-qualified table names are split
// into theory and table at the last colon.
func NewLiteral(table string, args ...Term) *Literal {
	theory, tbl := PartitionTablename(table)
	return &Literal{Theory: theory, Table: tbl, Args: args}
}

// PartitionTablename splits a colon-qualified table name into its theory and
// table components.
func PartitionTablename(name string) (theory, table string) {
	i := strings.LastIndex(name, ":")
	if i < 0 {
		return "", name
	}
	return name[:i], name[i+1:]
}

// FullTablename returns the table name qualified by theory unless theory is
// empty or equal to defaultTheory.
func FullTablename(table, theory, defaultTheory string) string {
	if theory == "" || theory == defaultTheory {
		return table
	}
	return theory + ":" + table
}

// Tablename returns the colon-qualified name of the literal's table.
func (l *Literal) Tablename() string {
	return FullTablename(l.Table, l.Theory, "")
}

// TablenameIn returns the table name of the literal from the point of view of
// theory: unqualified if the literal refers to that theory.
func (l *Literal) TablenameIn(theory string) string {
	return FullTablename(l.Table, l.Theory, theory)
}

// Arity returns the number of positional arguments.
func (l *Literal) Arity() int {
	return len(l.Args)
}

// IsAtom returns true if the literal is a positive, non-modal literal.
func (l *Literal) IsAtom() bool {
	return !l.Negated && l.Modal == ""
}

// IsModal returns true if the literal is wrapped in a modal operator.
func (l *Literal) IsModal() bool {
	return l.Modal != ""
}

// IsBuiltin returns true if the literal refers to a builtin with matching
// arity.
func (l *Literal) IsBuiltin() bool {
	if l.Theory != "" && l.Theory != BuiltinTheory {
		return false
	}
	return IsBuiltin(l.Table, len(l.Args))
}

// IsGround returns true if the literal contains no variables.
func (l *Literal) IsGround() bool {
	for _, a := range l.Args {
		if a.IsVar() {
			return false
		}
	}
	for _, r := range l.Refs {
		if r.Value.IsVar() {
			return false
		}
	}
	return true
}

// Vars returns the variables of the literal in order of first occurrence.
func (l *Literal) Vars() []Var {
	return l.appendVars(nil, VarSet{})
}

func (l *Literal) appendVars(vs []Var, seen VarSet) []Var {
	add := func(t Term) {
		if v, ok := t.(Var); ok && !seen.Contains(v) {
			seen.Add(v)
			vs = append(vs, v)
		}
	}
	for _, a := range l.Args {
		add(a)
	}
	for _, r := range l.Refs {
		add(r.Value)
	}
	return vs
}

// VarSet returns the set of variables in the literal.
func (l *Literal) VarSet() VarSet {
	return NewVarSet(l.Vars()...)
}

// Tablenames returns the full table name of the literal.
func (l *Literal) Tablenames() []string {
	return []string{l.Tablename()}
}

// Loc returns the literal's location.
func (l *Literal) Loc() *Location {
	return l.Location
}

// Copy returns a copy of the literal. Terms are immutable and are shared.
func (l *Literal) Copy() *Literal {
	cpy := *l
	cpy.Args = append([]Term(nil), l.Args...)
	if l.Refs != nil {
		cpy.Refs = append([]ColumnRef(nil), l.Refs...)
	}
	return &cpy
}

// Plug returns a copy of the literal with each variable replaced by the
// term bound to it in b.
func (l *Literal) Plug(b Binder) *Literal {
	cpy := l.Copy()
	for i := range cpy.Args {
		cpy.Args[i] = plugTerm(cpy.Args[i], b)
	}
	for i := range cpy.Refs {
		cpy.Refs[i].Value = plugTerm(cpy.Refs[i].Value, b)
	}
	return cpy
}

// Complement returns a copy of the literal with the negation flipped.
func (l *Literal) Complement() *Literal {
	cpy := l.Copy()
	cpy.Negated = !cpy.Negated
	return cpy
}

// IsUpdate returns true if the literal's table denotes an update, i.e. it
// ends in + or -.
func (l *Literal) IsUpdate() bool {
	return IsUpdateTable(l.Table)
}

// IsUpdateTable returns true if the table name ends in + or -.
func IsUpdateTable(table string) bool {
	return strings.HasSuffix(table, "+") || strings.HasSuffix(table, "-")
}

// InvertUpdate returns a copy of the literal with the update sign flipped.
func (l *Literal) InvertUpdate() *Literal {
	cpy := l.Copy()
	switch {
	case strings.HasSuffix(cpy.Table, "+"):
		cpy.Table = cpy.Table[:len(cpy.Table)-1] + "-"
	case strings.HasSuffix(cpy.Table, "-"):
		cpy.Table = cpy.Table[:len(cpy.Table)-1] + "+"
	}
	return cpy
}

// DropUpdate returns a copy of the literal with the update sign removed.
func (l *Literal) DropUpdate() *Literal {
	cpy := l.Copy()
	if cpy.IsUpdate() {
		cpy.Table = cpy.Table[:len(cpy.Table)-1]
	}
	return cpy
}

// MakeUpdate returns a copy of the literal whose table is turned into an
// insert (+) or delete (-) update table.
func (l *Literal) MakeUpdate(insert bool) *Literal {
	cpy := l.DropUpdate()
	if insert {
		cpy.Table += "+"
	} else {
		cpy.Table += "-"
	}
	return cpy
}

// DropTheory returns a copy of the literal without its theory.
func (l *Literal) DropTheory() *Literal {
	cpy := l.Copy()
	cpy.Theory = ""
	return cpy
}

// Equal returns true if the literals refer to the same table of the same
// theory with the same negation and arguments.
func (l *Literal) Equal(other *Literal) bool {
	if l == other {
		return true
	}
	if l == nil || other == nil {
		return false
	}
	if l.Table != other.Table || l.Theory != other.Theory || l.Negated != other.Negated || l.Modal != other.Modal {
		return false
	}
	if len(l.Args) != len(other.Args) || len(l.Refs) != len(other.Refs) {
		return false
	}
	for i := range l.Args {
		if !l.Args[i].Equal(other.Args[i]) {
			return false
		}
	}
	for i := range l.Refs {
		a, b := l.Refs[i], other.Refs[i]
		if a.Name != b.Name || a.Number != b.Number || !a.Value.Equal(b.Value) {
			return false
		}
	}
	return true
}

// Compare orders literals by table name and then by arguments.
func (l *Literal) Compare(other *Literal) int {
	if c := strings.Compare(l.Tablename(), other.Tablename()); c != 0 {
		return c
	}
	if l.Negated != other.Negated {
		if l.Negated {
			return 1
		}
		return -1
	}
	if c := strings.Compare(l.Modal, other.Modal); c != 0 {
		return c
	}
	for i := 0; i < len(l.Args) && i < len(other.Args); i++ {
		if c := Compare(l.Args[i], other.Args[i]); c != 0 {
			return c
		}
	}
	return len(l.Args) - len(other.Args)
}

// Key returns a string that uniquely identifies the literal.
func (l *Literal) Key() string {
	var sb strings.Builder
	if l.Negated {
		sb.WriteString("!")
	}
	if l.Modal != "" {
		sb.WriteString(l.Modal)
		sb.WriteString("[")
	}
	sb.WriteString(l.Tablename())
	sb.WriteString("(")
	for i, a := range l.Args {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(a.Key())
	}
	for _, r := range l.Refs {
		sb.WriteString(";")
		if r.Name != "" {
			sb.WriteString(r.Name)
		} else {
			sb.WriteString(strconv.Itoa(r.Number))
		}
		sb.WriteString("=")
		sb.WriteString(r.Value.Key())
	}
	sb.WriteString(")")
	if l.Modal != "" {
		sb.WriteString("]")
	}
	return sb.String()
}

// Hash returns the hash code of the literal.
func (l *Literal) Hash() uint64 {
	return xxhash.Sum64String(l.Key())
}

func (l *Literal) String() string {
	var sb strings.Builder
	if l.Negated {
		sb.WriteString("not ")
	}
	if l.Modal != "" {
		sb.WriteString(l.Modal)
		sb.WriteString("[")
	}
	sb.WriteString(l.Tablename())
	sb.WriteString("(")
	n := 0
	for _, a := range l.Args {
		if n > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(a.String())
		n++
	}
	for _, r := range l.Refs {
		if n > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(r.String())
		n++
	}
	sb.WriteString(")")
	if l.Modal != "" {
		sb.WriteString("]")
	}
	return sb.String()
}

func (*Literal) formula() {}
