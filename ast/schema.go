// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package ast

import (
	"sort"
)

// Column describes one column of a table.
type Column struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Nullable    bool   `json:"nullable,omitempty"`
	Description string `json:"desc,omitempty"`
}

// Schema maps table names to their ordered columns. A complete schema lists
// every table of its policy, so references to unknown tables are errors.
type Schema struct {
	Tables   map[string][]Column `json:"tables"`
	Complete bool                `json:"complete"`
}

// NewSchema returns a new schema.
func NewSchema(tables map[string][]Column, complete bool) *Schema {
	if tables == nil {
		tables = map[string][]Column{}
	}
	return &Schema{Tables: tables, Complete: complete}
}

// SchemaFromNames returns a complete schema whose columns only carry names.
func SchemaFromNames(tables map[string][]string) *Schema {
	s := NewSchema(nil, true)
	for table, names := range tables {
		cols := make([]Column, len(names))
		for i := range names {
			cols[i] = Column{Name: names[i]}
		}
		s.Tables[table] = cols
	}
	return s
}

// Contains returns true if the schema declares the table.
func (s *Schema) Contains(table string) bool {
	if s == nil {
		return false
	}
	_, ok := s.Tables[table]
	return ok
}

// Columns returns the names of the table's columns or nil if the table is
// not declared.
func (s *Schema) Columns(table string) []string {
	if s == nil {
		return nil
	}
	cols, ok := s.Tables[table]
	if !ok {
		return nil
	}
	names := make([]string, len(cols))
	for i := range cols {
		names[i] = cols[i].Name
	}
	return names
}

// Arity returns the number of columns of the table or -1 if the table is not
// declared.
func (s *Schema) Arity(table string) int {
	if s == nil {
		return -1
	}
	cols, ok := s.Tables[table]
	if !ok {
		return -1
	}
	return len(cols)
}

// ColumnIndex returns the position of the named column.
func (s *Schema) ColumnIndex(table, column string) (int, bool) {
	for i, name := range s.Columns(table) {
		if name == column {
			return i, true
		}
	}
	return -1, false
}

// ColumnName returns the name of the column at position i.
func (s *Schema) ColumnName(table string, i int) string {
	cols := s.Columns(table)
	if i < 0 || i >= len(cols) {
		return ""
	}
	return cols[i]
}

// Tablenames returns the sorted names of all declared tables.
func (s *Schema) Tablenames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Tables))
	for t := range s.Tables {
		names = append(names, t)
	}
	sort.Strings(names)
	return names
}

// Copy returns a copy of the schema.
func (s *Schema) Copy() *Schema {
	if s == nil {
		return nil
	}
	cpy := NewSchema(nil, s.Complete)
	for t, cols := range s.Tables {
		cpy.Tables[t] = append([]Column(nil), cols...)
	}
	return cpy
}

// SchemaLookup returns the schema of the named policy, or nil if the policy
// is unknown or has no schema.
type SchemaLookup func(policy string) *Schema
