// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package ast

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Kind identifies the scalar type of a constant.
type Kind int

// Constant kinds.
const (
	StringKind Kind = iota
	IntegerKind
	FloatKind
	BooleanKind
)

func (k Kind) String() string {
	switch k {
	case StringKind:
		return "string"
	case IntegerKind:
		return "integer"
	case FloatKind:
		return "float"
	case BooleanKind:
		return "boolean"
	}
	return "unknown"
}

// Term is an argument of a literal: either a variable or a constant. The set
// of implementations is closed; consumers switch on Var and Constant.
type Term interface {
	// IsVar returns true if the term is a variable.
	IsVar() bool

	// Equal returns true if this term equals the other term.
	Equal(other Term) bool

	// Hash returns a hash code for the term.
	Hash() uint64

	// Key returns a string that uniquely identifies the term, including its
	// kind, so that it can be used as a map key.
	Key() string

	String() string

	isTerm()
}

// Var represents a logic variable. Variables are compared by name within the
// scope of a rule.
type Var string

// VarTerm returns a new variable.
func VarTerm(name string) Var {
	return Var(name)
}

// IsVar returns true.
func (Var) IsVar() bool { return true }

// Equal returns true if other is a variable with the same name.
func (v Var) Equal(other Term) bool {
	o, ok := other.(Var)
	return ok && o == v
}

// Hash returns the hash code for the variable.
func (v Var) Hash() uint64 {
	return xxhash.Sum64String(v.Key())
}

// Key returns the variable's map key.
func (v Var) Key() string {
	return "v:" + string(v)
}

func (v Var) String() string {
	return string(v)
}

func (Var) isTerm() {}

// Constant represents a scalar value. Value holds a string, int64, float64 or
// bool matching Kind.
type Constant struct {
	Kind  Kind
	Value interface{}
}

// StringTerm returns a new string constant.
func StringTerm(s string) Constant {
	return Constant{Kind: StringKind, Value: s}
}

// IntTerm returns a new integer constant.
func IntTerm(i int64) Constant {
	return Constant{Kind: IntegerKind, Value: i}
}

// FloatTerm returns a new float constant.
func FloatTerm(f float64) Constant {
	return Constant{Kind: FloatKind, Value: f}
}

// BoolTerm returns a new boolean constant.
func BoolTerm(b bool) Constant {
	return Constant{Kind: BooleanKind, Value: b}
}

// IsVar returns false.
func (Constant) IsVar() bool { return false }

// Equal returns true if other is a constant of the same kind and value.
func (c Constant) Equal(other Term) bool {
	o, ok := other.(Constant)
	return ok && o.Kind == c.Kind && o.Value == c.Value
}

// Hash returns the hash code for the constant.
func (c Constant) Hash() uint64 {
	return xxhash.Sum64String(c.Key())
}

// Key returns the constant's map key.
func (c Constant) Key() string {
	switch c.Kind {
	case StringKind:
		return "s:" + c.Value.(string)
	case IntegerKind:
		return "i:" + strconv.FormatInt(c.Value.(int64), 10)
	case FloatKind:
		return "f:" + strconv.FormatFloat(c.Value.(float64), 'g', -1, 64)
	default:
		return "b:" + strconv.FormatBool(c.Value.(bool))
	}
}

func (c Constant) String() string {
	switch c.Kind {
	case StringKind:
		return strconv.Quote(c.Value.(string))
	case IntegerKind:
		return strconv.FormatInt(c.Value.(int64), 10)
	case FloatKind:
		return formatFloat(c.Value.(float64))
	default:
		return strconv.FormatBool(c.Value.(bool))
	}
}

// Interface returns the Go value of the constant.
func (c Constant) Interface() interface{} {
	return c.Value
}

// Number returns the constant as a float64. The boolean result is false if
// the constant is not numeric.
func (c Constant) Number() (float64, bool) {
	switch v := c.Value.(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// MarshalJSON encodes the constant as its JSON scalar.
func (c Constant) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Value)
}

func (Constant) isTerm() {}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return s
	}
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// InterfaceToTerm converts a Go scalar into a constant. JSON numbers are
// converted to integers when they have no fractional part.
func InterfaceToTerm(x interface{}) (Term, error) {
	switch x := x.(type) {
	case Term:
		return x, nil
	case string:
		return StringTerm(x), nil
	case bool:
		return BoolTerm(x), nil
	case int:
		return IntTerm(int64(x)), nil
	case int32:
		return IntTerm(int64(x)), nil
	case int64:
		return IntTerm(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, fmt.Errorf("integer %v out of range", x)
		}
		return IntTerm(int64(x)), nil
	case float32:
		return FloatTerm(float64(x)), nil
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return IntTerm(int64(x)), nil
		}
		return FloatTerm(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return IntTerm(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, err
		}
		return FloatTerm(f), nil
	case nil:
		return StringTerm("None"), nil
	}
	return nil, fmt.Errorf("illegal value: %T", x)
}

// Compare returns an integer comparing two terms. Variables sort before
// constants; constants are ordered by kind and then by value.
func Compare(a, b Term) int {
	switch a := a.(type) {
	case Var:
		if bv, ok := b.(Var); ok {
			return strings.Compare(string(a), string(bv))
		}
		return -1
	case Constant:
		bc, ok := b.(Constant)
		if !ok {
			return 1
		}
		if a.Kind != bc.Kind {
			if an, ok := a.Number(); ok {
				if bn, ok := bc.Number(); ok {
					return compareFloat(an, bn)
				}
			}
			if a.Kind < bc.Kind {
				return -1
			}
			return 1
		}
		switch av := a.Value.(type) {
		case string:
			return strings.Compare(av, bc.Value.(string))
		case int64:
			bv := bc.Value.(int64)
			if av < bv {
				return -1
			} else if av > bv {
				return 1
			}
			return 0
		case float64:
			return compareFloat(av, bc.Value.(float64))
		case bool:
			bv := bc.Value.(bool)
			if av == bv {
				return 0
			} else if !av {
				return -1
			}
			return 1
		}
	}
	return 0
}

func compareFloat(a, b float64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

// VarSet represents a set of variables.
type VarSet map[Var]struct{}

// NewVarSet returns a new VarSet containing the specified variables.
func NewVarSet(vs ...Var) VarSet {
	s := VarSet{}
	for _, v := range vs {
		s.Add(v)
	}
	return s
}

// Add updates the set to include the variable "v".
func (s VarSet) Add(v Var) {
	s[v] = struct{}{}
}

// Contains returns true if the set contains the variable "v".
func (s VarSet) Contains(v Var) bool {
	_, ok := s[v]
	return ok
}

// Copy returns a shallow copy of the VarSet.
func (s VarSet) Copy() VarSet {
	cpy := make(VarSet, len(s))
	for v := range s {
		cpy.Add(v)
	}
	return cpy
}

// Diff returns a VarSet containing variables in s that are not in vs.
func (s VarSet) Diff(vs VarSet) VarSet {
	r := VarSet{}
	for v := range s {
		if !vs.Contains(v) {
			r.Add(v)
		}
	}
	return r
}

// Update merges the other VarSet into this VarSet.
func (s VarSet) Update(vs VarSet) {
	for v := range vs {
		s.Add(v)
	}
}

// Sorted returns a sorted slice of vars from s.
func (s VarSet) Sorted() []Var {
	sorted := make([]Var, 0, len(s))
	for v := range s {
		sorted = append(sorted, v)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted
}

func (s VarSet) String() string {
	tmp := []string{}
	for _, v := range s.Sorted() {
		tmp = append(tmp, string(v))
	}
	return fmt.Sprintf("%v", tmp)
}

// Binder is implemented by anything that maps variables to terms. Apply
// returns the variable itself when it is unbound.
type Binder interface {
	Apply(v Var) Term
}

// Binding is a simple Binder backed by a map.
type Binding map[Var]Term

// Apply returns the term bound to v, or v if it is unbound.
func (b Binding) Apply(v Var) Term {
	if t, ok := b[v]; ok {
		return t
	}
	return v
}

// Copy returns a shallow copy of the binding.
func (b Binding) Copy() Binding {
	cpy := make(Binding, len(b))
	for k, v := range b {
		cpy[k] = v
	}
	return cpy
}

// Equal returns true if both bindings contain the same variable/term pairs.
func (b Binding) Equal(other Binding) bool {
	if len(b) != len(other) {
		return false
	}
	for k, v := range b {
		ov, ok := other[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Key returns a canonical string for the binding.
func (b Binding) Key() string {
	keys := make([]string, 0, len(b))
	for k, v := range b {
		keys = append(keys, string(k)+"="+v.Key())
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

func (b Binding) String() string {
	keys := make([]string, 0, len(b))
	for k, v := range b {
		keys = append(keys, string(k)+": "+v.String())
	}
	sort.Strings(keys)
	return "{" + strings.Join(keys, ", ") + "}"
}

func plugTerm(t Term, b Binder) Term {
	if v, ok := t.(Var); ok {
		return b.Apply(v)
	}
	return t
}
