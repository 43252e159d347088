// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package theory

import (
	"github.com/open-policy-agent/congress/ast"
	"github.com/open-policy-agent/congress/logging"
	"github.com/open-policy-agent/congress/storage"
	"github.com/open-policy-agent/congress/util"
)

// Database is a theory that only contains facts.
type Database struct {
	base
	db *storage.Database
}

// NewDatabase returns an empty database theory.
func NewDatabase(name string, opts Options) *Database {
	return &Database{
		base: newBase(name, DatabaseKind, opts),
		db:   storage.NewDatabase(),
	}
}

// HeadIndex returns the tuples of the table that agree with match as rules
// without a body.
func (d *Database) HeadIndex(table string, match *ast.Literal) []*ast.Rule {
	return headIndex(d.db, table, match)
}

func headIndex(db *storage.Database, table string, match *ast.Literal) []*ast.Rule {
	if match != nil && match.Negated {
		match = nil
	}
	tuples := db.Find(table, match)
	result := make([]*ast.Rule, len(tuples))
	for i := range tuples {
		result[i] = ast.NewRule(tuples[i].Literal(table))
	}
	return result
}

// Select returns the instances of the query that are true.
func (d *Database) Select(query ast.Formula, opts SelectOptions) ([]ast.Formula, error) {
	return d.selectRules(d, query, opts)
}

// Update inserts and deletes the facts of the events.
func (d *Database) Update(events []*ast.Event) ([]*ast.Event, error) {
	var changes []*ast.Event
	for _, e := range events {
		atom, ok := atomOf(e.Formula)
		if !ok {
			continue
		}
		if d.db.IsNoop(e) {
			continue
		}
		d.debug(atom.Table, "Update %v", e)
		if e.Insert {
			if _, err := d.db.Insert(atom, e.Proofs); err != nil {
				return changes, err
			}
		} else {
			d.db.Delete(atom, e.Proofs)
		}
		changes = append(changes, e)
	}
	return changes, nil
}

// UpdateWouldCauseErrors returns an error for every event that is not a
// valid fact.
func (d *Database) UpdateWouldCauseErrors(events []*ast.Event) ast.Errors {
	var errs ast.Errors
	for _, e := range events {
		atom, ok := atomOf(e.Formula)
		if !ok {
			errs = append(errs, ast.NewError(ast.CompileErr, e.Formula.Loc(), "Non-atomic formula is not permitted: %v", e.Formula))
			continue
		}
		errs = append(errs, ast.FactErrors(atom, d.checkOptions())...)
	}
	return errs
}

// Define replaces the contents of the database by the facts.
func (d *Database) Define(fs []ast.Formula) ([]*ast.Event, error) {
	d.Empty(nil, false)
	return d.Update(insertEvents(fs, d.name))
}

// Empty removes the facts of the tables.
func (d *Database) Empty(tables []string, invert bool) {
	if len(tables) == 0 && !invert {
		d.db.Clear()
		return
	}
	for _, t := range selectTables(d.db.Tables(), tables, invert) {
		d.db.ClearTable(t)
	}
}

// Content returns the facts of the tables.
func (d *Database) Content(tables ...string) []ast.Formula {
	lits := d.db.Content(tables...)
	result := make([]ast.Formula, len(lits))
	for i := range lits {
		result[i] = lits[i]
	}
	return result
}

// Contains returns true if the fact is in the database.
func (d *Database) Contains(f ast.Formula) bool {
	atom, ok := atomOf(f)
	return ok && d.db.Contains(atom)
}

// Arity returns the number of columns of the table.
func (d *Database) Arity(table string) (int, bool) {
	if n, ok := d.schemaArity(table); ok {
		return n, true
	}
	return d.db.Arity(table)
}

// DefinedTables returns the non-empty tables.
func (d *Database) DefinedTables() []string {
	return d.db.Tables()
}

// InitializeTables replaces the contents of the tables by the facts.
func (d *Database) InitializeTables(tables []string, facts []*ast.Literal) error {
	for _, t := range tables {
		d.db.ClearTable(t)
	}
	warnIgnoredFacts(d.logger, tables, facts)
	for _, f := range facts {
		if _, err := d.db.Insert(f, nil); err != nil {
			return err
		}
	}
	return nil
}

// selectTables returns the tables of all that are (or, if invert is true,
// are not) listed in tables.
func selectTables(all []string, tables []string, invert bool) []string {
	if !invert {
		return tables
	}
	listed := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		listed[t] = struct{}{}
	}
	var result []string
	for _, t := range all {
		if _, ok := listed[t]; !ok {
			result = append(result, t)
		}
	}
	return result
}

// warnIgnoredFacts logs facts for tables that were not cleared before being
// initialized.
func warnIgnoredFacts(logger logging.Logger, tables []string, facts []*ast.Literal) {
	cleared := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		cleared[t] = struct{}{}
	}
	extra := map[string]struct{}{}
	for _, f := range facts {
		if _, ok := cleared[f.Table]; !ok {
			extra[f.Table] = struct{}{}
		}
	}
	if len(extra) > 0 {
		logger.Warn("Initializing facts for tables %v not included in the list of tables %v", util.SortedKeys(extra), tables)
	}
}
