// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package ast

import (
	"sort"
)

// CheckOptions controls the checks applied to formulas before they are
// installed into a policy.
type CheckOptions struct {
	// Schemas resolves the schema of a policy. If nil, schema consistency is
	// not checked.
	Schemas SchemaLookup

	// Theory is the policy the formula is installed into. Unqualified tables
	// belong to it.
	Theory string

	// PermitHeadTheory returns true if the head literal may reference
	// another policy, e.g. the action of an execute[...] head.
	PermitHeadTheory func(head *Literal) bool
}

// PermitModalHeads allows modal heads to reference other policies.
func PermitModalHeads(head *Literal) bool {
	return head.Modal != ""
}

// FormulaErrors returns all errors of a formula. Every check runs
// independently so that all problems are reported at once.
func FormulaErrors(f Formula, opts CheckOptions) Errors {
	if lit, ok := AsLiteral(f); ok {
		return FactErrors(lit, opts)
	}
	return RuleErrors(f.(*Rule), opts)
}

// FactErrors returns the errors of a fact: it must be ground, must not
// reference another policy and must be consistent with the schema.
func FactErrors(lit *Literal, opts CheckOptions) Errors {
	var errs Errors
	if lit.Negated {
		errs = append(errs, NewError(CompileErr, lit.Location, "Fact %v must not be negated", lit))
	}
	if lit.IsModal() {
		errs = append(errs, NewError(CompileErr, lit.Location, "Fact %v must not have a modal operator", lit))
	}
	if !lit.IsGround() {
		errs = append(errs, NewError(CompileErr, lit.Location, "Fact not ground: %v", lit))
	}
	if IsReservedTablename(lit.Table) && lit.Theory == "" {
		errs = append(errs, NewError(CompileErr, lit.Location, "Fact %v uses the reserved table name %v", lit, lit.Table))
	}
	errs = append(errs, LiteralSchemaErrors(lit, opts.Schemas, opts.Theory)...)
	if lit.Theory != "" {
		errs = append(errs, NewError(CompileErr, lit.Location, "Fact %v should not reference any policy: %v", lit, lit.Theory))
	}
	return errs
}

// RuleErrors returns the errors of a rule: unsafe variables, schema
// inconsistencies in its body, heads that reference other policies and
// misplaced modal operators.
func RuleErrors(rule *Rule, opts CheckOptions) Errors {
	var errs Errors
	errs = append(errs, RuleHeadSafety(rule)...)
	if _, err := ReorderForSafety(rule); err != nil {
		errs = append(errs, AsErrors(err)...)
	}
	for _, lit := range rule.Body {
		errs = append(errs, LiteralSchemaErrors(lit, opts.Schemas, opts.Theory)...)
	}
	for _, head := range rule.Heads {
		if head.Theory != "" && (opts.PermitHeadTheory == nil || !opts.PermitHeadTheory(head)) {
			errs = append(errs, NewError(CompileErr, head.Location, "Rule head %v should not reference any policy: %v", head, rule))
		}
	}
	errs = append(errs, ruleModalErrors(rule)...)
	errs = append(errs, ruleBuiltinErrors(rule)...)
	return errs
}

// RuleHeadSafety returns an error for every variable of the heads that does
// not occur in the body.
func RuleHeadSafety(rule *Rule) Errors {
	unsafe := rule.HeadVars().Diff(rule.BodyVars())
	var errs Errors
	for _, v := range unsafe.Sorted() {
		errs = append(errs, NewError(UnsafeVarErr, rule.Location, "Variable %v found in head but not in body, rule %v", v, rule))
	}
	return errs
}

// LiteralSchemaErrors checks the literal against the schema of its policy:
// the table must exist if the schema is complete and the number of arguments
// must match the declared columns.
func LiteralSchemaErrors(lit *Literal, lookup SchemaLookup, theory string) Errors {
	if lookup == nil || lit.IsBuiltin() {
		return nil
	}
	active := lit.Theory
	if active == "" {
		active = theory
	}
	if active == "" {
		return nil
	}
	schema := lookup(active)
	if schema == nil {
		return nil
	}
	table := lit.DropUpdate().Table
	if !schema.Contains(table) {
		if schema.Complete {
			return Errors{NewError(CompileErr, lit.Location, "Literal %v uses unknown table %v from policy %v", lit, table, active)}
		}
		return nil
	}
	if arity := schema.Arity(table); arity > 0 && len(lit.Args) != arity {
		return Errors{NewError(CompileErr, lit.Location, "Literal %v contained %d arguments but only %d arguments are permitted", lit, len(lit.Args), arity)}
	}
	return nil
}

func ruleModalErrors(rule *Rule) Errors {
	var errs Errors
	modals := 0
	for _, head := range rule.Heads {
		if head.Modal == "" {
			continue
		}
		modals++
		if !isKnownModal(head.Modal) {
			errs = append(errs, NewError(CompileErr, head.Location, "Rule head %v uses unknown modal operator %v", head, head.Modal))
		}
	}
	if modals > 1 {
		errs = append(errs, NewError(CompileErr, rule.Location, "Rule %v has more than one modal head", rule))
	}
	for _, lit := range rule.Body {
		if lit.IsModal() {
			errs = append(errs, NewError(CompileErr, lit.Location, "Rule %v has a modal operator in its body: %v", rule, lit))
		}
	}
	return errs
}

func isKnownModal(modal string) bool {
	switch modal {
	case ModalExecute, ModalInsert, ModalDelete:
		return true
	}
	return false
}

func ruleBuiltinErrors(rule *Rule) Errors {
	var errs Errors
	for _, head := range rule.Heads {
		if head.Theory == "" && IsReservedTablename(head.DropUpdate().Table) {
			errs = append(errs, NewError(CompileErr, head.Location, "Rule head %v uses the reserved table name %v", head, head.Table))
		}
	}
	for _, lit := range rule.Body {
		if lit.Theory != "" && lit.Theory != BuiltinTheory {
			continue
		}
		b := LookupBuiltin(lit.Table)
		if b != nil && b.Arity() != len(lit.Args) {
			errs = append(errs, NewError(CompileErr, lit.Location, "Builtin %v expects %d arguments but %d were given", b.Name, b.Arity(), len(lit.Args)))
		}
	}
	return errs
}

// ArityChecker enforces that every unqualified table used by the formulas of
// a policy has a single arity. The arity of a table is fixed by the first
// formula that uses it and is released once no formula uses it anymore.
type ArityChecker struct {
	tables map[string]*arityEntry
}

type arityEntry struct {
	arity int
	refs  int
}

// NewArityChecker returns a new ArityChecker.
func NewArityChecker() *ArityChecker {
	return &ArityChecker{tables: map[string]*arityEntry{}}
}

// Check returns an error for every literal of f whose arity differs from the
// arity fixed for its table. Conflicts within f itself are reported too.
func (a *ArityChecker) Check(f Formula) Errors {
	var errs Errors
	local := map[string]int{}
	for _, lit := range arityLiterals(f) {
		table := lit.DropUpdate().Table
		expected, ok := local[table]
		if !ok {
			if e, found := a.tables[table]; found {
				expected, ok = e.arity, true
			}
		}
		if ok && expected != len(lit.Args) {
			errs = append(errs, NewError(CompileErr, lit.Location, "Literal %v has %d arguments but table %v is used with %d arguments", lit, len(lit.Args), table, expected))
			continue
		}
		local[table] = len(lit.Args)
	}
	return errs
}

// Add records the arities used by f.
func (a *ArityChecker) Add(f Formula) {
	for _, lit := range arityLiterals(f) {
		table := lit.DropUpdate().Table
		if e, ok := a.tables[table]; ok {
			e.refs++
			continue
		}
		a.tables[table] = &arityEntry{arity: len(lit.Args), refs: 1}
	}
}

// Remove releases the arities used by f.
func (a *ArityChecker) Remove(f Formula) {
	for _, lit := range arityLiterals(f) {
		table := lit.DropUpdate().Table
		if e, ok := a.tables[table]; ok {
			e.refs--
			if e.refs <= 0 {
				delete(a.tables, table)
			}
		}
	}
}

// Arity returns the arity fixed for the table.
func (a *ArityChecker) Arity(table string) (int, bool) {
	e, ok := a.tables[table]
	if !ok {
		return 0, false
	}
	return e.arity, true
}

// Tables returns the sorted names of the tables with a fixed arity.
func (a *ArityChecker) Tables() []string {
	names := make([]string, 0, len(a.tables))
	for t := range a.tables {
		names = append(names, t)
	}
	sort.Strings(names)
	return names
}

func arityLiterals(f Formula) []*Literal {
	var lits []*Literal
	add := func(l *Literal) {
		if l.Theory == "" && !l.IsBuiltin() {
			lits = append(lits, l)
		}
	}
	switch f := f.(type) {
	case *Literal:
		add(f)
	case *Rule:
		for _, h := range f.Heads {
			add(h)
		}
		for _, l := range f.Body {
			add(l)
		}
	}
	return lits
}
