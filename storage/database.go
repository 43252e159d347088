// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package storage

import (
	"sort"
	"strings"

	"github.com/open-policy-agent/congress/ast"
	"github.com/open-policy-agent/congress/util"
)

// baseSupport is the support key of a tuple asserted without a proof.
const baseSupport = ""

// Database stores tuples per table together with the set of proofs that
// support each tuple. A tuple is present as long as at least one support
// remains: either the base assertion (a fact inserted without proofs) or a
// proof produced by a rule. Database is not safe for concurrent use.
type Database struct {
	tables map[string]*dbTable
}

type dbTable struct {
	facts    *FactSet
	supports map[string]*supportSet
}

// supportSet keeps the supports of a tuple in insertion order.
type supportSet struct {
	keys   []string
	proofs map[string]ast.Proof
}

func newSupportSet() *supportSet {
	return &supportSet{proofs: map[string]ast.Proof{}}
}

func (s *supportSet) add(key string, p ast.Proof) bool {
	if _, ok := s.proofs[key]; ok {
		return false
	}
	s.keys = append(s.keys, key)
	s.proofs[key] = p
	return true
}

func (s *supportSet) remove(key string) bool {
	if _, ok := s.proofs[key]; !ok {
		return false
	}
	delete(s.proofs, key)
	for i := range s.keys {
		if s.keys[i] == key {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			break
		}
	}
	return true
}

func (s *supportSet) len() int {
	return len(s.keys)
}

// NewDatabase returns an empty database.
func NewDatabase() *Database {
	return &Database{tables: map[string]*dbTable{}}
}

func (db *Database) table(name string, create bool) *dbTable {
	t, ok := db.tables[name]
	if !ok && create {
		t = &dbTable{facts: NewFactSet(), supports: map[string]*supportSet{}}
		db.tables[name] = t
	}
	return t
}

// Insert adds the supports for the atom: the base assertion if proofs is
// empty and every proof otherwise. It returns true if the tuple was not
// present before.
func (db *Database) Insert(atom *ast.Literal, proofs []ast.Proof) (bool, error) {
	t := db.table(atom.Table, true)
	tuple := TupleFromLiteral(atom)
	key := tuple.Key()
	supports, exists := t.supports[key]
	if !exists {
		if _, err := t.facts.Add(tuple); err != nil {
			if t.facts.Len() == 0 {
				delete(db.tables, atom.Table)
			}
			return false, err
		}
		supports = newSupportSet()
		t.supports[key] = supports
	}
	if len(proofs) == 0 {
		supports.add(baseSupport, ast.Proof{})
	}
	for _, p := range proofs {
		supports.add(p.Key(), p)
	}
	return !exists, nil
}

// Delete removes the supports for the atom: the base assertion if proofs is
// empty and every given proof otherwise. It returns true if the tuple was
// present and no support remains, i.e., the tuple was removed.
func (db *Database) Delete(atom *ast.Literal, proofs []ast.Proof) bool {
	t := db.table(atom.Table, false)
	if t == nil {
		return false
	}
	tuple := TupleFromLiteral(atom)
	key := tuple.Key()
	supports, ok := t.supports[key]
	if !ok {
		return false
	}
	if len(proofs) == 0 {
		supports.remove(baseSupport)
	}
	for _, p := range proofs {
		supports.remove(p.Key())
	}
	if supports.len() > 0 {
		return false
	}
	delete(t.supports, key)
	t.facts.Remove(tuple)
	if t.facts.Len() == 0 {
		delete(db.tables, atom.Table)
	}
	return true
}

// IsNoop returns true if applying the event would not change the database.
// An insert is a no-op if the tuple already has every support the event
// carries; a delete is a no-op if the tuple has none of them.
func (db *Database) IsNoop(evt *ast.Event) bool {
	atom := ast.HeadLiteral(evt.Formula)
	supports := db.supports(atom)
	keys := []string{baseSupport}
	if len(evt.Proofs) > 0 {
		keys = keys[:0]
		for _, p := range evt.Proofs {
			keys = append(keys, p.Key())
		}
	}
	if evt.Insert {
		if supports == nil {
			return false
		}
		for _, k := range keys {
			if _, ok := supports.proofs[k]; !ok {
				return false
			}
		}
		return true
	}
	if supports == nil {
		return true
	}
	for _, k := range keys {
		if _, ok := supports.proofs[k]; ok {
			return false
		}
	}
	return true
}

// ChangesMembership returns true if applying the event would add the tuple
// to or remove it from the database. A delete removes the tuple only if the
// event carries every remaining support.
func (db *Database) ChangesMembership(evt *ast.Event) bool {
	supports := db.supports(ast.HeadLiteral(evt.Formula))
	if evt.Insert {
		return supports == nil
	}
	if supports == nil {
		return false
	}
	removed := map[string]struct{}{}
	if len(evt.Proofs) == 0 {
		removed[baseSupport] = struct{}{}
	}
	for _, p := range evt.Proofs {
		removed[p.Key()] = struct{}{}
	}
	for _, k := range supports.keys {
		if _, ok := removed[k]; !ok {
			return false
		}
	}
	return true
}

func (db *Database) supports(atom *ast.Literal) *supportSet {
	t := db.table(atom.Table, false)
	if t == nil {
		return nil
	}
	return t.supports[TupleFromLiteral(atom).Key()]
}

// Contains returns true if the ground atom is in the database.
func (db *Database) Contains(atom *ast.Literal) bool {
	return db.supports(atom) != nil
}

// Explain returns the proofs of the atom. Base assertions are not included.
// The result is nil if the atom is not in the database.
func (db *Database) Explain(atom *ast.Literal) []ast.Proof {
	supports := db.supports(atom)
	if supports == nil {
		return nil
	}
	result := []ast.Proof{}
	for _, k := range supports.keys {
		if k != baseSupport {
			result = append(result, supports.proofs[k])
		}
	}
	return result
}

// IsBase returns true if the atom is supported by a base assertion.
func (db *Database) IsBase(atom *ast.Literal) bool {
	supports := db.supports(atom)
	if supports == nil {
		return false
	}
	_, ok := supports.proofs[baseSupport]
	return ok
}

// Find returns the tuples of the table that agree with the constant
// arguments of match. An index over the constant positions is created on
// first use.
func (db *Database) Find(table string, match *ast.Literal) []Tuple {
	t := db.table(table, false)
	if t == nil {
		return nil
	}
	if match == nil {
		return t.facts.Tuples()
	}
	partial := PartialFromLiteral(match)
	if len(partial) > 0 {
		cols := make([]int, len(partial))
		for i := range partial {
			cols[i] = partial[i].Col
		}
		if !t.facts.HasIndex(cols) {
			_ = t.facts.CreateIndex(cols)
		}
	}
	return t.facts.Find(partial, nil)
}

// Tables returns the sorted names of the non-empty tables.
func (db *Database) Tables() []string {
	return util.SortedKeys(db.tables)
}

// Len returns the number of tuples in the table.
func (db *Database) Len(table string) int {
	if t := db.table(table, false); t != nil {
		return t.facts.Len()
	}
	return 0
}

// Arity returns the number of columns of the first tuple of the table.
func (db *Database) Arity(table string) (int, bool) {
	t := db.table(table, false)
	if t == nil {
		return 0, false
	}
	var arity int
	found := t.facts.Iter(func(tuple Tuple) bool {
		arity = len(tuple)
		return true
	})
	return arity, found
}

// Content returns the literals of the given tables, or of every table if
// none are given, grouped by sorted table name in insertion order.
func (db *Database) Content(tables ...string) []*ast.Literal {
	if len(tables) == 0 {
		tables = db.Tables()
	}
	var result []*ast.Literal
	for _, name := range tables {
		t := db.table(name, false)
		if t == nil {
			continue
		}
		t.facts.Iter(func(tuple Tuple) bool {
			result = append(result, tuple.Literal(name))
			return false
		})
	}
	return result
}

// ClearTable removes every tuple of the table.
func (db *Database) ClearTable(table string) {
	delete(db.tables, table)
}

// Clear removes every tuple.
func (db *Database) Clear() {
	db.tables = map[string]*dbTable{}
}

// String returns the content of the database with one literal per line in
// sorted order.
func (db *Database) String() string {
	lits := db.Content()
	strs := make([]string, len(lits))
	for i := range lits {
		strs[i] = lits[i].String()
	}
	sort.Strings(strs)
	return strings.Join(strs, "\n")
}
