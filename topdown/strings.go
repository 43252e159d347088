// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package topdown

import (
	"unicode/utf8"

	"github.com/open-policy-agent/congress/ast"
	"github.com/open-policy-agent/congress/topdown/builtins"
)

func builtinConcat(a, b ast.Constant) (ast.Constant, error) {
	s1, err := builtins.StringOperand(a, 1)
	if err != nil {
		return ast.Constant{}, err
	}
	s2, err := builtins.StringOperand(b, 2)
	if err != nil {
		return ast.Constant{}, err
	}
	return ast.StringTerm(s1 + s2), nil
}

func builtinLen(a ast.Constant) (ast.Constant, error) {
	s, err := builtins.StringOperand(a, 1)
	if err != nil {
		return ast.Constant{}, err
	}
	return ast.IntTerm(int64(utf8.RuneCountInString(s))), nil
}

func init() {
	RegisterFunctionalBuiltin2(ast.Concat.Name, builtinConcat)
	RegisterFunctionalBuiltin1(ast.Len.Name, builtinLen)
}
