// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package types declares the data types of table columns and the registry
// used to validate and normalize values supplied for them.
package types

import (
	"encoding/json"
	"fmt"
	"math"
	"net/netip"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/open-policy-agent/congress/ast"
)

// DataType validates values supplied for a column and returns them in their
// normalized form. Nil values are passed through unchanged.
type DataType interface {
	Name() string
	Parent() DataType
	Marshal(value interface{}) (interface{}, error)
}

// Sprint returns the name of the type.
func Sprint(t DataType) string {
	if t == nil {
		return "???"
	}
	return t.Name()
}

type scalar struct{}

// Scalar is the most general type. It accepts any JSON scalar value.
var Scalar DataType = scalar{}

func (scalar) Name() string     { return "Scalar" }
func (scalar) Parent() DataType { return nil }

func (scalar) Marshal(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case nil, string, bool, int64, float64:
		return v, nil
	case int:
		return int64(v), nil
	case json.Number:
		return marshalNumber(v)
	}
	return nil, invalid(value, "one of string, integer, float or boolean")
}

type str struct{}

// Str accepts strings.
var Str DataType = str{}

func (str) Name() string     { return "Str" }
func (str) Parent() DataType { return Scalar }

func (str) Marshal(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case nil, string:
		return v, nil
	}
	return nil, invalid(value, "string")
}

type boolean struct{}

// Bool accepts booleans.
var Bool DataType = boolean{}

func (boolean) Name() string     { return "Bool" }
func (boolean) Parent() DataType { return Scalar }

func (boolean) Marshal(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case nil, bool:
		return v, nil
	}
	return nil, invalid(value, "boolean")
}

type integer struct{}

// Int accepts integers and floats without a fractional part.
var Int DataType = integer{}

func (integer) Name() string     { return "Int" }
func (integer) Parent() DataType { return Scalar }

func (integer) Marshal(value interface{}) (interface{}, error) {
	if n, ok := value.(json.Number); ok {
		v, err := marshalNumber(n)
		if err != nil {
			return nil, err
		}
		value = v
	}
	switch v := value.(type) {
	case nil, int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		if v == math.Trunc(v) && !math.IsInf(v, 0) {
			return int64(v), nil
		}
	}
	return nil, invalid(value, "integer")
}

type float struct{}

// Float accepts floats and integers.
var Float DataType = float{}

func (float) Name() string     { return "Float" }
func (float) Parent() DataType { return Scalar }

func (float) Marshal(value interface{}) (interface{}, error) {
	if n, ok := value.(json.Number); ok {
		v, err := n.Float64()
		if err != nil {
			return nil, invalid(value, "float")
		}
		return v, nil
	}
	switch v := value.(type) {
	case nil, float64:
		return v, nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	}
	return nil, invalid(value, "float")
}

type uuidType struct{}

// UUID accepts strings that are UUIDs.
var UUID DataType = uuidType{}

func (uuidType) Name() string     { return "UUID" }
func (uuidType) Parent() DataType { return Str }

func (uuidType) Marshal(value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	s, ok := value.(string)
	if !ok {
		return nil, invalid(value, "UUID")
	}
	if _, err := uuid.Parse(s); err != nil {
		return nil, fmt.Errorf("input value (%v) is not a UUID", value)
	}
	return s, nil
}

type ipAddress struct{}

// IPAddress accepts IPv4 and IPv6 addresses. IPv4-mapped IPv6 addresses are
// normalized to IPv4.
var IPAddress DataType = ipAddress{}

func (ipAddress) Name() string     { return "IPAddress" }
func (ipAddress) Parent() DataType { return Str }

func (ipAddress) Marshal(value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	s, ok := value.(string)
	if !ok {
		return nil, invalid(value, "IP address")
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return nil, fmt.Errorf("input value (%v) is not interpretable as an IP address", value)
	}
	return addr.Unmap().String(), nil
}

type ipNetwork struct{}

// IPNetwork accepts networks in CIDR notation. Host bits must be zero.
var IPNetwork DataType = ipNetwork{}

func (ipNetwork) Name() string     { return "IPNetwork" }
func (ipNetwork) Parent() DataType { return Str }

func (ipNetwork) Marshal(value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	s, ok := value.(string)
	if !ok {
		return nil, invalid(value, "IP network")
	}
	prefix, err := netip.ParsePrefix(s)
	if err != nil || prefix.Masked() != prefix {
		return nil, fmt.Errorf("input value (%v) is not interpretable as an IP network", value)
	}
	return prefix.String(), nil
}

// Enum is a type whose values come from a fixed domain of values of its
// parent type.
type Enum struct {
	name     string
	parent   DataType
	domain   map[interface{}]struct{}
	catchAll interface{}
}

// NewEnum returns an enumeration over the items, which must be valid values
// of the parent type. If catchAll is not nil, values outside the domain are
// replaced by it instead of being rejected.
func NewEnum(name string, items []interface{}, parent DataType, catchAll interface{}) (*Enum, error) {
	e := &Enum{name: name, parent: parent, domain: map[interface{}]struct{}{}, catchAll: catchAll}
	if catchAll != nil {
		items = append(items, catchAll)
	}
	for _, item := range items {
		v, err := parent.Marshal(item)
		if err != nil || v != item {
			return nil, fmt.Errorf("enum %v: item %v is not a normalized %v", name, item, parent.Name())
		}
		e.domain[item] = struct{}{}
	}
	return e, nil
}

// Name returns the name of the enumeration.
func (e *Enum) Name() string { return e.name }

// Parent returns the type of the items.
func (e *Enum) Parent() DataType { return e.parent }

// Marshal returns the value if it is in the domain.
func (e *Enum) Marshal(value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	v, err := e.parent.Marshal(value)
	if err == nil {
		if _, ok := e.domain[v]; ok {
			return v, nil
		}
	}
	if e.catchAll != nil {
		return e.catchAll, nil
	}
	return nil, fmt.Errorf("input value (%v) is not in the domain of %v", value, e.name)
}

// LeastAncestor returns the closest type among t and its ancestors that is
// one of the targets, or nil if there is none.
func LeastAncestor(t DataType, targets ...DataType) DataType {
	for cur := t; cur != nil; cur = cur.Parent() {
		for _, target := range targets {
			if cur.Name() == target.Name() {
				return target
			}
		}
	}
	return nil
}

// ConvertToAncestor converts a normalized value of t to a value of the
// ancestor type. Values become their JSON encoding when converted to Str.
func ConvertToAncestor(t DataType, value interface{}, ancestor DataType) (interface{}, error) {
	if LeastAncestor(t, ancestor) == nil {
		return nil, fmt.Errorf("%v is not an ancestor of %v", ancestor.Name(), t.Name())
	}
	if ancestor.Name() == Str.Name() && t.Name() != Str.Name() {
		bs, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		return string(bs), nil
	}
	return value, nil
}

// Term converts a normalized value to a constant. Nil values become the
// empty string.
func Term(value interface{}) (ast.Constant, error) {
	switch v := value.(type) {
	case nil:
		return ast.StringTerm(""), nil
	case string:
		return ast.StringTerm(v), nil
	case bool:
		return ast.BoolTerm(v), nil
	case int64:
		return ast.IntTerm(v), nil
	case int:
		return ast.IntTerm(int64(v)), nil
	case float64:
		return ast.FloatTerm(v), nil
	}
	return ast.Constant{}, fmt.Errorf("value %v of type %T is not a scalar", value, value)
}

// Registry maps type names to types.
type Registry struct {
	mtx   sync.RWMutex
	types map[string]DataType
}

// NewRegistry returns a registry holding the built-in types.
func NewRegistry() *Registry {
	r := &Registry{types: map[string]DataType{}}
	for _, t := range []DataType{Scalar, Str, Bool, Int, Float, UUID, IPAddress, IPNetwork} {
		r.types[t.Name()] = t
	}
	return r
}

// Default is the registry used when none is given.
var Default = NewRegistry()

// Register adds a type. Registering the same type twice is allowed; a
// different type with a name in use is an error.
func (r *Registry) Register(t DataType) error {
	if LeastAncestor(t, Scalar) == nil {
		return fmt.Errorf("type %v does not descend from %v", t.Name(), Scalar.Name())
	}
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if existing, ok := r.types[t.Name()]; ok {
		if existing != t {
			return fmt.Errorf("type with name %v is already registered", t.Name())
		}
		return nil
	}
	r.types[t.Name()] = t
	return nil
}

// Lookup returns the type with the given name. The empty name is Scalar.
func (r *Registry) Lookup(name string) (DataType, bool) {
	if name == "" {
		return Scalar, true
	}
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// Names returns the sorted names of the registered types.
func (r *Registry) Names() []string {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckSchema returns an error for every column whose type is not
// registered.
func (r *Registry) CheckSchema(schema *ast.Schema) error {
	if schema == nil {
		return nil
	}
	var msgs []string
	for _, table := range schema.Tablenames() {
		for _, col := range schema.Tables[table] {
			if _, ok := r.Lookup(col.Type); !ok {
				msgs = append(msgs, fmt.Sprintf("%v.%v: unknown type %v", table, col.Name, col.Type))
			}
		}
	}
	if len(msgs) > 0 {
		return fmt.Errorf("invalid schema: %v", strings.Join(msgs, "; "))
	}
	return nil
}

// MarshalRow validates the values of a row of the table against the column
// types of the schema and returns the corresponding fact.
func (r *Registry) MarshalRow(schema *ast.Schema, table string, row []interface{}) (*ast.Literal, error) {
	var cols []ast.Column
	if schema != nil {
		cols = schema.Tables[table]
	}
	if cols != nil && len(cols) != len(row) {
		return nil, fmt.Errorf("%v: expected %d columns but got %d", table, len(cols), len(row))
	}
	args := make([]ast.Term, len(row))
	for i, value := range row {
		t := Scalar
		nullable := true
		if i < len(cols) {
			var found bool
			if t, found = r.Lookup(cols[i].Type); !found {
				return nil, fmt.Errorf("%v.%v: unknown type %v", table, cols[i].Name, cols[i].Type)
			}
			nullable = cols[i].Nullable || cols[i].Type == ""
		}
		if value == nil && !nullable {
			return nil, fmt.Errorf("%v.%v: value must not be null", table, cols[i].Name)
		}
		v, err := t.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("%v: column %d: %w", table, i, err)
		}
		if args[i], err = Term(v); err != nil {
			return nil, err
		}
	}
	return ast.NewLiteral(table, args...), nil
}

func marshalNumber(n json.Number) (interface{}, error) {
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil, invalid(n, "number")
	}
	return f, nil
}

func invalid(value interface{}, expected string) error {
	return fmt.Errorf("input value (%v) is of type %T instead of expected %v", value, value, expected)
}
