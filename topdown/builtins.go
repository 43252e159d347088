// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package topdown

import (
	"fmt"

	"github.com/open-policy-agent/congress/ast"
)

// BuiltinFunc defines the interface that the evaluation engine uses to
// invoke built-in functions. The function receives the ground input
// arguments and returns one constant per output argument. Builtins without
// outputs return a single boolean constant that tells whether the builtin
// holds.
type BuiltinFunc func(args []ast.Constant) ([]ast.Constant, error)

var builtinFunctions = map[string]BuiltinFunc{}

// RegisterBuiltinFunc adds a new built-in function to the evaluation engine.
func RegisterBuiltinFunc(name string, f BuiltinFunc) {
	builtinFunctions[name] = f
}

// RegisterFunctionalBuiltin1 adds a new built-in function with a single
// input and a single output.
func RegisterFunctionalBuiltin1(name string, f func(a ast.Constant) (ast.Constant, error)) {
	RegisterBuiltinFunc(name, func(args []ast.Constant) ([]ast.Constant, error) {
		r, err := f(args[0])
		if err != nil {
			return nil, err
		}
		return []ast.Constant{r}, nil
	})
}

// RegisterFunctionalBuiltin2 adds a new built-in function with two inputs
// and a single output.
func RegisterFunctionalBuiltin2(name string, f func(a, b ast.Constant) (ast.Constant, error)) {
	RegisterBuiltinFunc(name, func(args []ast.Constant) ([]ast.Constant, error) {
		r, err := f(args[0], args[1])
		if err != nil {
			return nil, err
		}
		return []ast.Constant{r}, nil
	})
}

// RegisterConditionBuiltin2 adds a new built-in function with two inputs
// and no outputs.
func RegisterConditionBuiltin2(name string, f func(a, b ast.Constant) (bool, error)) {
	RegisterBuiltinFunc(name, func(args []ast.Constant) ([]ast.Constant, error) {
		r, err := f(args[0], args[1])
		if err != nil {
			return nil, err
		}
		return []ast.Constant{ast.BoolTerm(r)}, nil
	})
}

// BuiltinFuncFor returns the implementation of the builtin named by lit.
func BuiltinFuncFor(lit *ast.Literal) (*ast.Builtin, BuiltinFunc, bool) {
	if !lit.IsBuiltin() {
		return nil, nil, false
	}
	b := ast.LookupBuiltin(lit.Table)
	f, ok := builtinFunctions[b.Name]
	return b, f, ok
}

// CallBuiltin evaluates the builtin named by lit on ground inputs and
// returns the outputs, or for conditions a single boolean.
func CallBuiltin(lit *ast.Literal, inputs []ast.Constant) ([]ast.Constant, error) {
	b, f, ok := BuiltinFuncFor(lit)
	if !ok {
		return nil, unsupportedBuiltinErr(lit)
	}
	if len(inputs) != b.Inputs {
		return nil, fmt.Errorf("%v expects %d inputs but got %d", b.Name, b.Inputs, len(inputs))
	}
	outs, err := f(inputs)
	if err != nil {
		return nil, err
	}
	expected := b.Outputs()
	if expected == 0 {
		expected = 1
	}
	if len(outs) != expected {
		return nil, fmt.Errorf("%v produced %d results but %d were expected", b.Name, len(outs), expected)
	}
	return outs, nil
}
