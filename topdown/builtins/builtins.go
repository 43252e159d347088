// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package builtins contains utilities for implementing built-in functions.
package builtins

import (
	"fmt"
	"strings"

	"github.com/open-policy-agent/congress/ast"
)

// ErrOperand represents an invalid operand has been passed to a built-in
// function. Built-ins should return ErrOperand to indicate a type error has
// occurred.
type ErrOperand string

func (err ErrOperand) Error() string {
	return string(err)
}

// NewOperandErr returns a generic operand error.
func NewOperandErr(pos int, f string, a ...interface{}) error {
	f = fmt.Sprintf("operand %v ", pos) + f
	return ErrOperand(fmt.Sprintf(f, a...))
}

// NewOperandTypeErr returns an operand error indicating the operand's type was wrong.
func NewOperandTypeErr(pos int, got ast.Constant, expected ...string) error {
	if len(expected) == 1 {
		return NewOperandErr(pos, "must be %v but got %v", expected[0], got.Kind)
	}
	return NewOperandErr(pos, "must be one of {%v} but got %v", strings.Join(expected, ", "), got.Kind)
}

// NumberOperand converts x to a float. Integers are widened.
func NumberOperand(x ast.Constant, pos int) (float64, error) {
	f, ok := x.Number()
	if !ok {
		return 0, NewOperandTypeErr(pos, x, "integer", "float")
	}
	return f, nil
}

// StringOperand converts x to a string. If the cast fails, a descriptive
// error is returned.
func StringOperand(x ast.Constant, pos int) (string, error) {
	s, ok := x.Value.(string)
	if !ok {
		return "", NewOperandTypeErr(pos, x, "string")
	}
	return s, nil
}

// IsInteger returns true if x holds an integer.
func IsInteger(x ast.Constant) bool {
	return x.Kind == ast.IntegerKind
}
