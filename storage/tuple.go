// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package storage

import (
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/open-policy-agent/congress/ast"
)

// Tuple is a row of ground terms.
type Tuple []ast.Term

// TupleFromLiteral returns the arguments of the literal as a tuple.
func TupleFromLiteral(lit *ast.Literal) Tuple {
	return Tuple(append([]ast.Term(nil), lit.Args...))
}

// Literal returns a literal for table with the tuple as arguments.
func (t Tuple) Literal(table string) *ast.Literal {
	return ast.NewLiteral(table, t...)
}

// Key returns a string that uniquely identifies the tuple.
func (t Tuple) Key() string {
	var sb strings.Builder
	for i, term := range t {
		if i > 0 {
			sb.WriteByte(0)
		}
		sb.WriteString(term.Key())
	}
	return sb.String()
}

// Hash returns the hash code of the tuple.
func (t Tuple) Hash() uint64 {
	return xxhash.Sum64String(t.Key())
}

// Equal returns true if both tuples contain equal terms.
func (t Tuple) Equal(other Tuple) bool {
	if len(t) != len(other) {
		return false
	}
	for i := range t {
		if !t[i].Equal(other[i]) {
			return false
		}
	}
	return true
}

// Project returns the terms at the given column positions.
func (t Tuple) Project(cols []int) Tuple {
	result := make(Tuple, len(cols))
	for i, c := range cols {
		result[i] = t[c]
	}
	return result
}

func (t Tuple) String() string {
	strs := make([]string, len(t))
	for i := range t {
		strs[i] = t[i].String()
	}
	return "(" + strings.Join(strs, ", ") + ")"
}

// ColumnValue constrains the column at position Col to Value.
type ColumnValue struct {
	Col   int
	Value ast.Term
}

// PartialFromLiteral returns the column constraints for the constant
// arguments of the literal, sorted by column.
func PartialFromLiteral(lit *ast.Literal) []ColumnValue {
	var partial []ColumnValue
	for i, a := range lit.Args {
		if !a.IsVar() {
			partial = append(partial, ColumnValue{Col: i, Value: a})
		}
	}
	return partial
}
