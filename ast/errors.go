// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package ast

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Errors represents a series of errors encountered during parsing, compiling,
// etc.
type Errors []*Error

func (e Errors) Error() string {

	if len(e) == 0 {
		return "no error(s)"
	}

	if len(e) == 1 {
		return fmt.Sprintf("1 error occurred: %v", e[0].Error())
	}

	s := []string{}
	for _, err := range e {
		s = append(s, err.Error())
	}

	return fmt.Sprintf("%d errors occurred:\n%s", len(e), strings.Join(s, "\n"))
}

// Sort sorts the error slice by location. Errors without a location sort
// last, in their original order.
func (e Errors) Sort() {
	sort.SliceStable(e, func(i, j int) bool {
		a, b := e[i].Location, e[j].Location
		if a == nil || b == nil {
			return a != nil
		}
		return a.Compare(b) < 0
	})
}

// ErrCode defines the types of errors returned during parsing, compiling, etc.
type ErrCode int

const (
	// ParseErr indicates an unclassified parse error occurred.
	ParseErr ErrCode = iota

	// CompileErr indicates a schema or structural error was found during
	// compilation, e.g., an unknown column reference or an arity mismatch.
	CompileErr

	// UnsafeVarErr indicates an unsafe variable was found during compilation.
	UnsafeVarErr

	// RecursionErr indicates recursion or a cycle through negation was found
	// in the rule dependency graph.
	RecursionErr

	// DuplicateErr indicates a rule that is already installed was inserted
	// again.
	DuplicateErr

	// EvalErr indicates an error raised while evaluating rules, e.g., a
	// builtin that could not be computed.
	EvalErr

	// IncompleteSchemaErr indicates that column references could not be
	// resolved because the schema of the referenced policy is not complete.
	IncompleteSchemaErr
)

func (c ErrCode) String() string {
	switch c {
	case ParseErr:
		return "parse_error"
	case CompileErr:
		return "compile_error"
	case UnsafeVarErr:
		return "unsafe_var_error"
	case RecursionErr:
		return "recursion_error"
	case DuplicateErr:
		return "duplicate_error"
	case EvalErr:
		return "eval_error"
	case IncompleteSchemaErr:
		return "incomplete_schema_error"
	}
	return fmt.Sprintf("error(%d)", int(c))
}

// MarshalText encodes the code by name.
func (c ErrCode) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// IsError returns true if err is an AST error with code. If err is a
// collection of errors, IsError returns true if any of them has the code.
func IsError(code ErrCode, err error) bool {
	var single *Error
	if errors.As(err, &single) {
		return single.Code == code
	}
	var errs Errors
	if errors.As(err, &errs) {
		for _, e := range errs {
			if e.Code == code {
				return true
			}
		}
	}
	return false
}

// Error represents a single error caught during parsing, compiling, etc.
type Error struct {
	Code     ErrCode   `json:"code"`
	Location *Location `json:"location,omitempty"`
	Message  string    `json:"message"`
}

func (e *Error) Error() string {
	if e.Location == nil {
		return e.Message
	}

	prefix := ""

	if len(e.Location.File) > 0 {
		prefix += e.Location.File + ":" + fmt.Sprint(e.Location.Row)
	} else {
		prefix += fmt.Sprint(e.Location.Row) + ":" + fmt.Sprint(e.Location.Col)
	}

	return fmt.Sprintf("%v: %v", prefix, e.Message)
}

// NewError returns a new Error object.
func NewError(code ErrCode, loc *Location, f string, a ...interface{}) *Error {
	return &Error{
		Code:     code,
		Location: loc,
		Message:  fmt.Sprintf(f, a...),
	}
}

// AsErrors converts err into an Errors collection. Errors that are not AST
// errors are wrapped with the EvalErr code.
func AsErrors(err error) Errors {
	if err == nil {
		return nil
	}
	var errs Errors
	if errors.As(err, &errs) {
		return errs
	}
	var single *Error
	if errors.As(err, &single) {
		return Errors{single}
	}
	return Errors{NewError(EvalErr, nil, "%v", err)}
}
