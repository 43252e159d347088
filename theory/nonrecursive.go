// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package theory

import (
	"strconv"

	"github.com/open-policy-agent/congress/ast"
	"github.com/open-policy-agent/congress/storage"
)

// Nonrecursive is a theory of facts and nonrecursive rules that is queried
// by top-down evaluation. Nothing is derived ahead of time.
type Nonrecursive struct {
	base
	rules *storage.RuleSet
	arity *ast.ArityChecker
}

// NewNonrecursive returns an empty nonrecursive theory.
func NewNonrecursive(name string, opts Options) *Nonrecursive {
	return &Nonrecursive{
		base:  newBase(name, NonrecursiveKind, opts),
		rules: storage.NewRuleSet(),
		arity: ast.NewArityChecker(),
	}
}

// HeadIndex returns the facts and rules defining the table.
func (n *Nonrecursive) HeadIndex(table string, match *ast.Literal) []*ast.Rule {
	return n.rules.Get(table, match)
}

// Select returns the instances of the query that are true.
func (n *Nonrecursive) Select(query ast.Formula, opts SelectOptions) ([]ast.Formula, error) {
	return n.selectRules(n, query, opts)
}

// Update inserts and deletes the formulas of the events. Rule bodies are
// reordered so that they can be evaluated left to right.
func (n *Nonrecursive) Update(events []*ast.Event) ([]*ast.Event, error) {
	var changes []*ast.Event
	for _, e := range events {
		f := e.Formula
		if r, ok := f.(*ast.Rule); ok {
			if len(r.Body) == 0 && len(r.Heads) == 1 {
				f = r.Head()
			} else if reordered, err := ast.ReorderForSafety(r); err == nil {
				f = reordered
			}
		}
		table := ast.HeadLiteral(f).Table
		var changed bool
		if e.Insert {
			n.debug(table, "Insert: %v", f)
			var err error
			if changed, err = n.rules.Add(table, f); err != nil {
				return changes, err
			}
			if changed {
				n.arity.Add(f)
			}
		} else {
			n.debug(table, "Delete: %v", f)
			if changed = n.rules.Discard(table, f); changed {
				n.arity.Remove(f)
			}
		}
		if changed {
			changes = append(changes, e)
		}
	}
	return changes, nil
}

// UpdateWouldCauseErrors returns the compile errors of the formulas of the
// events.
func (n *Nonrecursive) UpdateWouldCauseErrors(events []*ast.Event) ast.Errors {
	var errs ast.Errors
	opts := n.checkOptions()
	for _, e := range events {
		errs = append(errs, ast.FormulaErrors(e.Formula, opts)...)
	}
	return append(errs, n.arityErrors(events)...)
}

// arityErrors returns the errors of inserted formulas that use a local table
// with another number of arguments than the theory or an earlier event.
func (n *Nonrecursive) arityErrors(events []*ast.Event) ast.Errors {
	var errs ast.Errors
	var added []ast.Formula
	for _, e := range events {
		if !e.Insert {
			continue
		}
		if es := n.arity.Check(e.Formula); len(es) > 0 {
			errs = append(errs, es...)
			continue
		}
		n.arity.Add(e.Formula)
		added = append(added, e.Formula)
	}
	for _, f := range added {
		n.arity.Remove(f)
	}
	return errs
}

func (n *Nonrecursive) resetArity() {
	n.arity = ast.NewArityChecker()
	for _, f := range n.rules.Formulas() {
		n.arity.Add(f)
	}
}

// Define replaces the contents of the theory by the formulas.
func (n *Nonrecursive) Define(fs []ast.Formula) ([]*ast.Event, error) {
	n.Empty(nil, false)
	return n.Update(insertEvents(fs, n.name))
}

// Empty removes the formulas defining the tables.
func (n *Nonrecursive) Empty(tables []string, invert bool) {
	if len(tables) == 0 && !invert {
		n.rules.Clear()
		n.arity = ast.NewArityChecker()
		return
	}
	for _, t := range selectTables(n.rules.Tables(), tables, invert) {
		n.rules.ClearTable(t)
	}
	n.resetArity()
}

// Content returns the facts and rules defining the tables.
func (n *Nonrecursive) Content(tables ...string) []ast.Formula {
	if len(tables) == 0 {
		return n.rules.Formulas()
	}
	var result []ast.Formula
	for _, t := range tables {
		if fs := n.rules.Facts(t); fs != nil {
			for _, tuple := range fs.Tuples() {
				result = append(result, tuple.Literal(t))
			}
		}
		for _, r := range n.rules.Rules(t) {
			result = append(result, r)
		}
	}
	return result
}

// Policy returns the rules of the theory, excluding facts.
func (n *Nonrecursive) Policy() []*ast.Rule {
	var result []*ast.Rule
	for _, t := range n.rules.Tables() {
		result = append(result, n.rules.Rules(t)...)
	}
	return result
}

// Contains returns true if the formula is part of the theory.
func (n *Nonrecursive) Contains(f ast.Formula) bool {
	if lit, ok := atomOf(f); ok {
		return n.rules.Contains(lit.Table, lit)
	}
	r := f.(*ast.Rule)
	if reordered, err := ast.ReorderForSafety(r); err == nil {
		r = reordered
	}
	return n.rules.Contains(r.Head().Table, r)
}

// Arity returns the number of columns of the table according to the schema
// or, failing that, to the first formula that defines it.
func (n *Nonrecursive) Arity(table string) (int, bool) {
	if a, ok := n.schemaArity(table); ok {
		return a, true
	}
	_, name := ast.PartitionTablename(table)
	if rs := n.rules.Get(name, nil); len(rs) > 0 {
		return len(rs[0].Head().Args), true
	}
	return 0, false
}

// DefinedTables returns the tables with facts or rules.
func (n *Nonrecursive) DefinedTables() []string {
	return n.rules.Tables()
}

// InitializeTables replaces the facts of the tables. Facts for tables that
// are not listed are added without clearing their table first.
func (n *Nonrecursive) InitializeTables(tables []string, facts []*ast.Literal) error {
	for _, t := range tables {
		n.rules.ClearTable(t)
	}
	warnIgnoredFacts(n.logger, tables, facts)
	for _, f := range facts {
		if _, err := n.rules.Add(f.Table, f); err != nil {
			return err
		}
	}
	n.resetArity()
	n.logger.Info("Initialized %d tables with %d facts", len(tables), len(facts))
	return nil
}

// Consequences returns every true instance of the tables defined by the
// theory for which filter returns true.
func (n *Nonrecursive) Consequences(filter func(table string) bool, opts SelectOptions) ([]*ast.Literal, error) {
	var result []*ast.Literal
	for _, table := range n.DefinedTables() {
		if filter != nil && !filter(table) {
			continue
		}
		arity, ok := n.Arity(table)
		if !ok {
			continue
		}
		query := ast.NewLiteral(table, freshVars(arity)...)
		fs, err := n.Select(query, opts)
		if err != nil {
			return nil, err
		}
		for _, f := range fs {
			result = append(result, f.(*ast.Literal))
		}
	}
	return result, nil
}

func freshVars(n int) []ast.Term {
	args := make([]ast.Term, n)
	for i := range args {
		args[i] = ast.VarTerm("x" + strconv.Itoa(i))
	}
	return args
}

// Action is a nonrecursive theory that describes the effects of actions.
// Rules may define update tables of other policies, e.g.
// nova:servers+(x) :- action("create"), create(x).
type Action struct {
	Nonrecursive
}

// NewAction returns an empty action theory.
func NewAction(name string, opts Options) *Action {
	a := &Action{Nonrecursive: *NewNonrecursive(name, opts)}
	a.kind = ActionKind
	return a
}

// UpdateWouldCauseErrors returns the errors of the formulas of the events.
// Rules are only checked for heads that reference other policies without
// defining an update table.
func (a *Action) UpdateWouldCauseErrors(events []*ast.Event) ast.Errors {
	var errs ast.Errors
	opts := a.checkOptions()
	for _, e := range events {
		if lit, ok := atomOf(e.Formula); ok {
			errs = append(errs, ast.FactErrors(lit, opts)...)
			continue
		}
		rule := e.Formula.(*ast.Rule)
		for _, head := range rule.Heads {
			if head.Theory != "" && !head.IsUpdate() {
				errs = append(errs, ast.NewError(ast.CompileErr, head.Location, "Rule head %v should not reference any policy: %v", head, rule))
			}
		}
	}
	return append(errs, a.arityErrors(events)...)
}
