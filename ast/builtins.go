// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package ast

import (
	"sort"
)

// BuiltinTheory is the theory name that may optionally qualify builtins, e.g.
// builtin:plus(x, y, z).
const BuiltinTheory = "builtin"

// Builtin represents a builtin table. The first Inputs arguments must be bound
// when the builtin is evaluated; the remaining arguments are outputs. A
// builtin without outputs is a condition that holds or not.
type Builtin struct {
	Name     string
	Args     []string
	Inputs   int
	Category string
}

// Arity returns the number of arguments of the builtin.
func (b *Builtin) Arity() int {
	return len(b.Args)
}

// Outputs returns the number of output arguments of the builtin.
func (b *Builtin) Outputs() int {
	return len(b.Args) - b.Inputs
}

func (b *Builtin) String() string {
	lit := &Literal{Table: b.Name}
	for _, a := range b.Args {
		lit.Args = append(lit.Args, Var(a))
	}
	return lit.String()
}

// Builtin categories.
const (
	CategoryComparison = "comparison"
	CategoryArithmetic = "arithmetic"
	CategoryString     = "string"
	CategoryDatetime   = "datetime"
)

// DefaultBuiltins is the registry of builtins shipped with the engine.
var DefaultBuiltins = [...]*Builtin{
	Lt, Lteq, Equal, Gt, Gteq, Max,
	Plus, Minus, Mul, Div, Float, Int,
	Concat, Len,
	Now, UnpackDate, UnpackTime, UnpackDatetime, PackTime, PackDate, PackDatetime,
	ExtractDate, ExtractTime, DatetimeToSeconds, DatetimePlus, DatetimeMinus,
	DatetimeLt, DatetimeLteq, DatetimeGt, DatetimeGteq, DatetimeEqual,
}

// BuiltinMap provides a convenient mapping of built-in names to built-in
// definitions.
var BuiltinMap map[string]*Builtin

// RegisterBuiltin adds a new built-in to the registry.
func RegisterBuiltin(b *Builtin) {
	BuiltinMap[b.Name] = b
}

// LookupBuiltin returns the builtin with the given name or nil.
func LookupBuiltin(name string) *Builtin {
	return BuiltinMap[name]
}

// IsBuiltin returns true if name is a builtin with the given arity.
func IsBuiltin(name string, arity int) bool {
	b, ok := BuiltinMap[name]
	return ok && b.Arity() == arity
}

// IsReservedTablename returns true if name cannot be used for a table
// defined by rules or facts.
func IsReservedTablename(name string) bool {
	_, ok := BuiltinMap[name]
	return ok
}

// BuiltinNames returns the sorted names of all registered builtins.
func BuiltinNames() []string {
	names := make([]string, 0, len(BuiltinMap))
	for name := range BuiltinMap {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newBuiltin(category string, name string, inputs int, args ...string) *Builtin {
	return &Builtin{Name: name, Args: args, Inputs: inputs, Category: category}
}

/**
 * Comparison
 */

// Lt holds if x < y.
var Lt = newBuiltin(CategoryComparison, "lt", 2, "x", "y")

// Lteq holds if x <= y.
var Lteq = newBuiltin(CategoryComparison, "lteq", 2, "x", "y")

// Equal holds if x == y.
var Equal = newBuiltin(CategoryComparison, "equal", 2, "x", "y")

// Gt holds if x > y.
var Gt = newBuiltin(CategoryComparison, "gt", 2, "x", "y")

// Gteq holds if x >= y.
var Gteq = newBuiltin(CategoryComparison, "gteq", 2, "x", "y")

// Max binds z to the larger of x and y.
var Max = newBuiltin(CategoryComparison, "max", 2, "x", "y", "z")

/**
 * Arithmetic
 */

// Plus binds z to x + y.
var Plus = newBuiltin(CategoryArithmetic, "plus", 2, "x", "y", "z")

// Minus binds z to x - y.
var Minus = newBuiltin(CategoryArithmetic, "minus", 2, "x", "y", "z")

// Mul binds z to x * y.
var Mul = newBuiltin(CategoryArithmetic, "mul", 2, "x", "y", "z")

// Div binds z to x / y. Division of two integers is floor division.
var Div = newBuiltin(CategoryArithmetic, "div", 2, "x", "y", "z")

// Float binds y to x converted to a float.
var Float = newBuiltin(CategoryArithmetic, "float", 1, "x", "y")

// Int binds y to x converted to an integer.
var Int = newBuiltin(CategoryArithmetic, "int", 1, "x", "y")

/**
 * Strings
 */

// Concat binds z to the concatenation of x and y.
var Concat = newBuiltin(CategoryString, "concat", 2, "x", "y", "z")

// Len binds y to the length of x.
var Len = newBuiltin(CategoryString, "len", 1, "x", "y")

/**
 * Datetime
 */

// Now binds x to the current time.
var Now = newBuiltin(CategoryDatetime, "now", 0, "x")

// UnpackDate splits a datetime into its date parts.
var UnpackDate = newBuiltin(CategoryDatetime, "unpack_date", 1, "x", "year", "month", "day")

// UnpackTime splits a datetime into its time parts.
var UnpackTime = newBuiltin(CategoryDatetime, "unpack_time", 1, "x", "hours", "minutes", "seconds")

// UnpackDatetime splits a datetime into its date and time parts.
var UnpackDatetime = newBuiltin(CategoryDatetime, "unpack_datetime", 1, "x", "y", "m", "d", "h", "i", "s")

// PackTime builds a time from its parts.
var PackTime = newBuiltin(CategoryDatetime, "pack_time", 3, "hours", "minutes", "seconds", "result")

// PackDate builds a date from its parts.
var PackDate = newBuiltin(CategoryDatetime, "pack_date", 3, "year", "month", "day", "result")

// PackDatetime builds a datetime from its parts.
var PackDatetime = newBuiltin(CategoryDatetime, "pack_datetime", 6, "y", "m", "d", "h", "i", "s", "result")

// ExtractDate binds y to the date part of x.
var ExtractDate = newBuiltin(CategoryDatetime, "extract_date", 1, "x", "y")

// ExtractTime binds y to the time part of x.
var ExtractTime = newBuiltin(CategoryDatetime, "extract_time", 1, "x", "y")

// DatetimeToSeconds binds y to the number of seconds between 1900-01-01 and x.
var DatetimeToSeconds = newBuiltin(CategoryDatetime, "datetime_to_seconds", 1, "x", "y")

// DatetimePlus binds z to x advanced by the duration y.
var DatetimePlus = newBuiltin(CategoryDatetime, "datetime_plus", 2, "x", "y", "z")

// DatetimeMinus binds z to x moved back by the duration y.
var DatetimeMinus = newBuiltin(CategoryDatetime, "datetime_minus", 2, "x", "y", "z")

// DatetimeLt holds if datetime x is before y.
var DatetimeLt = newBuiltin(CategoryDatetime, "datetime_lt", 2, "x", "y")

// DatetimeLteq holds if datetime x is before or equal to y.
var DatetimeLteq = newBuiltin(CategoryDatetime, "datetime_lteq", 2, "x", "y")

// DatetimeGt holds if datetime x is after y.
var DatetimeGt = newBuiltin(CategoryDatetime, "datetime_gt", 2, "x", "y")

// DatetimeGteq holds if datetime x is after or equal to y.
var DatetimeGteq = newBuiltin(CategoryDatetime, "datetime_gteq", 2, "x", "y")

// DatetimeEqual holds if datetimes x and y are equal.
var DatetimeEqual = newBuiltin(CategoryDatetime, "datetime_equal", 2, "x", "y")

func init() {
	BuiltinMap = map[string]*Builtin{}
	for _, b := range DefaultBuiltins {
		RegisterBuiltin(b)
	}
}
