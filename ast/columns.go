// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package ast

import (
	"fmt"
	"strings"

	"github.com/open-policy-agent/congress/util"
)

// EliminateColumnReferences rewrites the column references of every literal
// in f into positional arguments using the schemas returned by lookup.
// Unqualified tables are looked up in defaultTheory. Columns that are neither
// provided positionally nor by reference are filled with fresh variables
// that do not clash with any variable of f.
//
// If the table's columns are unknown and the literal uses column references,
// an IncompleteSchemaErr is returned when the schema is incomplete (the
// columns may become known later) and a CompileErr otherwise.
func EliminateColumnReferences(f Formula, lookup SchemaLookup, defaultTheory string) (Formula, Errors) {
	prefix := UnusedVariablePrefix(f)
	switch f := f.(type) {
	case *Literal:
		lit, errs := eliminateLiteral(f, 0, prefix, lookup, defaultTheory)
		if len(errs) > 0 {
			return nil, errs
		}
		return lit, nil
	case *Rule:
		var errs Errors
		cpy := *f
		// Head literals are numbered after body literals so that the fresh
		// variables of a head never coincide with those of the body.
		cpy.Heads = make([]*Literal, len(f.Heads))
		for i := range f.Heads {
			lit, es := eliminateLiteral(f.Heads[i], len(f.Body)+i, prefix, lookup, defaultTheory)
			errs = append(errs, es...)
			cpy.Heads[i] = lit
		}
		cpy.Body = make([]*Literal, len(f.Body))
		for i := range f.Body {
			lit, es := eliminateLiteral(f.Body[i], i, prefix, lookup, defaultTheory)
			errs = append(errs, es...)
			cpy.Body[i] = lit
		}
		if len(errs) > 0 {
			return nil, errs
		}
		return &cpy, nil
	}
	return f, nil
}

// UnusedVariablePrefix returns a prefix of underscores such that no variable
// of f starts with it.
func UnusedVariablePrefix(f Formula) string {
	vars := f.Vars()
	prefix := "_"
	for {
		clash := false
		for _, v := range vars {
			if strings.HasPrefix(string(v), prefix) {
				clash = true
				break
			}
		}
		if !clash {
			return prefix
		}
		prefix += "_"
	}
}

func eliminateLiteral(lit *Literal, index int, prefix string, lookup SchemaLookup, defaultTheory string) (*Literal, Errors) {
	theory := lit.Theory
	if theory == "" {
		theory = defaultTheory
	}
	var schema *Schema
	if lookup != nil && theory != "" && theory != BuiltinTheory {
		schema = lookup(theory)
	}
	table := lit.DropUpdate().Table
	columns := schema.Columns(table)

	if columns == nil {
		if len(lit.Refs) == 0 {
			return lit, nil
		}
		code := IncompleteSchemaErr
		if schema != nil && schema.Complete {
			code = CompileErr
		}
		return nil, Errors{NewError(code, lit.Location, "Atom %v uses named parameters but the columns for table %v have not been declared.", lit, lit.Tablename())}
	}

	var errs Errors
	positional := len(lit.Args)
	names := map[string]Term{}
	numbers := map[int]Term{}
	position := map[string]int{}
	for i, c := range columns {
		position[c] = i
	}

	for _, ref := range lit.Refs {
		if ref.Name != "" {
			if _, ok := names[ref.Name]; ok {
				errs = append(errs, NewError(CompileErr, ref.Location, "In atom %v two values for column name %v were provided", lit, ref.Name))
			}
			names[ref.Name] = ref.Value
			number, ok := position[ref.Name]
			if !ok {
				msg := fmt.Sprintf("In atom %v column name %v does not exist", lit, ref.Name)
				if hints := util.Suggest(ref.Name, columns, 2); len(hints) > 0 {
					msg += fmt.Sprintf(" (did you mean %v?)", strings.Join(hints, " or "))
				}
				errs = append(errs, NewError(CompileErr, ref.Location, "%v", msg))
			} else if number < positional {
				errs = append(errs, NewError(CompileErr, ref.Location, "In atom %v column name %v references position %d, which is already provided by position arguments.", lit, ref.Name, number))
			}
			continue
		}
		if _, ok := numbers[ref.Number]; ok {
			errs = append(errs, NewError(CompileErr, ref.Location, "In atom %v two values for column number %d were provided.", lit, ref.Number))
		}
		numbers[ref.Number] = ref.Value
		if ref.Number < positional {
			errs = append(errs, NewError(CompileErr, ref.Location, "In atom %v column number %d is already provided by position arguments.", lit, ref.Number))
		}
		if ref.Number >= len(columns) {
			errs = append(errs, NewError(CompileErr, ref.Location, "In atom %v column number %d is too large. The permitted column numbers are 0..%d", lit, ref.Number, len(columns)-1))
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}

	cpy := lit.Copy()
	cpy.Refs = nil
	for i := positional; i < len(columns); i++ {
		byName, hasName := names[columns[i]]
		byNumber, hasNumber := numbers[i]
		switch {
		case hasName && hasNumber:
			errs = append(errs, NewError(CompileErr, lit.Location, "In atom %v a column was given two values by reference parameters: one by name %v and one by number %d.", lit, columns[i], i))
		case hasName:
			cpy.Args = append(cpy.Args, byName)
		case hasNumber:
			cpy.Args = append(cpy.Args, byNumber)
		default:
			cpy.Args = append(cpy.Args, Var(fmt.Sprintf("%sx_%d_%d", prefix, index, i)))
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return cpy, nil
}
