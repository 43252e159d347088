// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package topdown

import (
	"fmt"

	"github.com/open-policy-agent/congress/ast"
)

// Error is the error type returned by the evaluation functions when
// an evaluation error occurs.
type Error struct {
	Code     string        `json:"code"`
	Message  string        `json:"message"`
	Location *ast.Location `json:"location,omitempty"`
}

const (

	// InternalErr represents an unknown evaluation error.
	InternalErr string = "eval_internal_error"

	// UnsafeErr indicates evaluation reached a literal that cannot be
	// evaluated because some of its variables are unbound, e.g. a negated
	// literal or the input of a builtin.
	UnsafeErr string = "eval_unsafe_error"

	// TypeErr indicates evaluation stopped because a builtin was applied to
	// a value of an inappropriate type.
	TypeErr string = "eval_type_error"
)

// IsError returns true if the err is an Error.
func IsError(err error) bool {
	_, ok := err.(*Error)
	return ok
}

func (e *Error) Error() string {

	msg := fmt.Sprintf("%v: %v", e.Code, e.Message)

	if e.Location != nil {
		msg = e.Location.String() + ": " + msg
	}

	return msg
}

func negationNotGroundErr(lit *ast.Literal) error {
	return &Error{
		Code:     UnsafeErr,
		Location: lit.Location,
		Message:  fmt.Sprintf("negated literal not ground when evaluated: %v", lit),
	}
}

func builtinInputsErr(lit *ast.Literal, inputs int) error {
	return &Error{
		Code:     UnsafeErr,
		Location: lit.Location,
		Message:  fmt.Sprintf("builtins must be evaluated only after their inputs are ground: %v with %d inputs", lit, inputs),
	}
}

func unsupportedBuiltinErr(lit *ast.Literal) error {
	return &Error{
		Code:     InternalErr,
		Location: lit.Location,
		Message:  fmt.Sprintf("unsupported built-in: %v", lit.Table),
	}
}
