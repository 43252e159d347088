// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package topdown

import (
	"github.com/open-policy-agent/congress/ast"
)

type compareFunc func(a, b ast.Constant) bool

func compare(f func(cmp int) bool) compareFunc {
	return func(a, b ast.Constant) bool {
		return f(ast.Compare(a, b))
	}
}

var (
	compareLt   = compare(func(c int) bool { return c < 0 })
	compareLteq = compare(func(c int) bool { return c <= 0 })
	compareEq   = compare(func(c int) bool { return c == 0 })
	compareGt   = compare(func(c int) bool { return c > 0 })
	compareGteq = compare(func(c int) bool { return c >= 0 })
)

func builtinCompare(cmp compareFunc) func(a, b ast.Constant) (bool, error) {
	return func(a, b ast.Constant) (bool, error) {
		return cmp(a, b), nil
	}
}

func builtinMax(a, b ast.Constant) (ast.Constant, error) {
	if ast.Compare(a, b) >= 0 {
		return a, nil
	}
	return b, nil
}

func init() {
	RegisterConditionBuiltin2(ast.Lt.Name, builtinCompare(compareLt))
	RegisterConditionBuiltin2(ast.Lteq.Name, builtinCompare(compareLteq))
	RegisterConditionBuiltin2(ast.Equal.Name, builtinCompare(compareEq))
	RegisterConditionBuiltin2(ast.Gt.Name, builtinCompare(compareGt))
	RegisterConditionBuiltin2(ast.Gteq.Name, builtinCompare(compareGteq))
	RegisterFunctionalBuiltin2(ast.Max.Name, builtinMax)
}
