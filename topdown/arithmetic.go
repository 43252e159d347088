// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package topdown

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/open-policy-agent/congress/ast"
	"github.com/open-policy-agent/congress/topdown/builtins"
)

type arithArity2 func(a, b float64) float64

func arithOp(fn arithArity2, intFn func(a, b int64) (int64, bool)) func(a, b ast.Constant) (ast.Constant, error) {
	return func(a, b ast.Constant) (ast.Constant, error) {
		if builtins.IsInteger(a) && builtins.IsInteger(b) && intFn != nil {
			if r, ok := intFn(a.Value.(int64), b.Value.(int64)); ok {
				return ast.IntTerm(r), nil
			}
		}
		n1, err := builtins.NumberOperand(a, 1)
		if err != nil {
			return ast.Constant{}, err
		}
		n2, err := builtins.NumberOperand(b, 2)
		if err != nil {
			return ast.Constant{}, err
		}
		return ast.FloatTerm(fn(n1, n2)), nil
	}
}

func builtinPlus(a, b ast.Constant) (ast.Constant, error) {
	if s1, ok := a.Value.(string); ok {
		s2, err := builtins.StringOperand(b, 2)
		if err != nil {
			return ast.Constant{}, err
		}
		return ast.StringTerm(s1 + s2), nil
	}
	return arithOp(func(a, b float64) float64 { return a + b }, func(a, b int64) (int64, bool) {
		return a + b, true
	})(a, b)
}

var builtinMinus = arithOp(func(a, b float64) float64 { return a - b }, func(a, b int64) (int64, bool) {
	return a - b, true
})

var builtinMul = arithOp(func(a, b float64) float64 { return a * b }, func(a, b int64) (int64, bool) {
	return a * b, true
})

func builtinDiv(a, b ast.Constant) (ast.Constant, error) {
	if n, ok := b.Number(); ok && n == 0 {
		return ast.Constant{}, builtins.NewOperandErr(2, "must not be zero")
	}
	// Integer division rounds towards negative infinity.
	return arithOp(func(a, b float64) float64 { return a / b }, func(a, b int64) (int64, bool) {
		q := a / b
		if (a%b != 0) && ((a < 0) != (b < 0)) {
			q--
		}
		return q, true
	})(a, b)
}

func builtinFloat(a ast.Constant) (ast.Constant, error) {
	switch v := a.Value.(type) {
	case int64:
		return ast.FloatTerm(float64(v)), nil
	case float64:
		return a, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return ast.Constant{}, builtins.NewOperandErr(1, "could not convert string to float: %q", v)
		}
		return ast.FloatTerm(f), nil
	case bool:
		if v {
			return ast.FloatTerm(1), nil
		}
		return ast.FloatTerm(0), nil
	}
	return ast.Constant{}, builtins.NewOperandTypeErr(1, a, "integer", "float", "string")
}

func builtinInt(a ast.Constant) (ast.Constant, error) {
	switch v := a.Value.(type) {
	case int64:
		return a, nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ast.Constant{}, builtins.NewOperandErr(1, "cannot convert %v to integer", v)
		}
		return ast.IntTerm(int64(v)), nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return ast.Constant{}, builtins.NewOperandErr(1, "invalid literal for int(): %q", v)
		}
		return ast.IntTerm(i), nil
	case bool:
		if v {
			return ast.IntTerm(1), nil
		}
		return ast.IntTerm(0), nil
	}
	return ast.Constant{}, fmt.Errorf("cannot convert %v to integer", a)
}

func init() {
	RegisterFunctionalBuiltin2(ast.Plus.Name, builtinPlus)
	RegisterFunctionalBuiltin2(ast.Minus.Name, builtinMinus)
	RegisterFunctionalBuiltin2(ast.Mul.Name, builtinMul)
	RegisterFunctionalBuiltin2(ast.Div.Name, builtinDiv)
	RegisterFunctionalBuiltin1(ast.Float.Name, builtinFloat)
	RegisterFunctionalBuiltin1(ast.Int.Name, builtinInt)
}
