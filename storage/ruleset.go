// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package storage

import (
	"github.com/open-policy-agent/congress/ast"
	"github.com/open-policy-agent/congress/util"
)

// RuleSet keeps the rules and facts of a policy by table. Facts are stored
// in FactSets so that lookups by bound arguments can use an index; rules are
// kept in insertion order.
type RuleSet struct {
	rules map[string]*ruleList
	facts map[string]*FactSet
}

type ruleList struct {
	rules []*ast.Rule
	keys  map[string]struct{}
}

// NewRuleSet returns an empty rule set.
func NewRuleSet() *RuleSet {
	return &RuleSet{
		rules: map[string]*ruleList{},
		facts: map[string]*FactSet{},
	}
}

// Add adds the formula to the table. It returns true if the rule set
// changed.
func (rs *RuleSet) Add(table string, f ast.Formula) (bool, error) {
	if lit, ok := ast.AsLiteral(f); ok {
		fs, ok := rs.facts[table]
		if !ok {
			fs = NewFactSet()
			rs.facts[table] = fs
		}
		return fs.Add(TupleFromLiteral(lit))
	}
	rule := f.(*ast.Rule)
	rl, ok := rs.rules[table]
	if !ok {
		rl = &ruleList{keys: map[string]struct{}{}}
		rs.rules[table] = rl
	}
	key := rule.Key()
	if _, ok := rl.keys[key]; ok {
		return false, nil
	}
	rl.keys[key] = struct{}{}
	rl.rules = append(rl.rules, rule)
	return true, nil
}

// Discard removes the formula from the table. It returns true if the rule
// set changed.
func (rs *RuleSet) Discard(table string, f ast.Formula) bool {
	if lit, ok := ast.AsLiteral(f); ok {
		fs, ok := rs.facts[table]
		if !ok {
			return false
		}
		changed := fs.Remove(TupleFromLiteral(lit))
		if fs.Len() == 0 && len(fs.indexes) == 0 {
			delete(rs.facts, table)
		}
		return changed
	}
	rule := f.(*ast.Rule)
	rl, ok := rs.rules[table]
	if !ok {
		return false
	}
	key := rule.Key()
	if _, ok := rl.keys[key]; !ok {
		return false
	}
	delete(rl.keys, key)
	for i := range rl.rules {
		if rl.rules[i].Key() == key {
			rl.rules = append(rl.rules[:i], rl.rules[i+1:]...)
			break
		}
	}
	if len(rl.rules) == 0 {
		delete(rs.rules, table)
	}
	return true
}

// Contains returns true if the formula is in the table.
func (rs *RuleSet) Contains(table string, f ast.Formula) bool {
	if lit, ok := ast.AsLiteral(f); ok {
		fs, ok := rs.facts[table]
		return ok && fs.Contains(TupleFromLiteral(lit))
	}
	rl, ok := rs.rules[table]
	if !ok {
		return false
	}
	_, ok = rl.keys[f.Key()]
	return ok
}

// HasTable returns true if the table has rules or facts.
func (rs *RuleSet) HasTable(table string) bool {
	_, r := rs.rules[table]
	_, f := rs.facts[table]
	return r || f
}

// Get returns the facts of the table, as bodiless rules, followed by its
// rules. If match is a positive literal, only facts that agree with its
// constant arguments are returned; an index over those arguments is created
// on first use.
func (rs *RuleSet) Get(table string, match *ast.Literal) []*ast.Rule {
	var result []*ast.Rule
	if fs, ok := rs.facts[table]; ok {
		var tuples []Tuple
		if match != nil && !match.Negated {
			partial := PartialFromLiteral(match)
			if len(partial) > 0 {
				cols := make([]int, len(partial))
				for i := range partial {
					cols[i] = partial[i].Col
				}
				// Tuples too short for the index are not indexed; the scan
				// below still finds nothing for them.
				if !fs.HasIndex(cols) {
					_ = fs.CreateIndex(cols)
				}
			}
			tuples = fs.Find(partial, nil)
		} else {
			tuples = fs.Tuples()
		}
		for _, t := range tuples {
			result = append(result, ast.NewRule(t.Literal(table)))
		}
	}
	if rl, ok := rs.rules[table]; ok {
		result = append(result, rl.rules...)
	}
	return result
}

// Rules returns the rules of the table in insertion order.
func (rs *RuleSet) Rules(table string) []*ast.Rule {
	if rl, ok := rs.rules[table]; ok {
		return append([]*ast.Rule(nil), rl.rules...)
	}
	return nil
}

// Facts returns the fact set of the table or nil.
func (rs *RuleSet) Facts(table string) *FactSet {
	return rs.facts[table]
}

// Tables returns the sorted names of the tables with rules or facts.
func (rs *RuleSet) Tables() []string {
	seen := map[string]struct{}{}
	for t := range rs.rules {
		seen[t] = struct{}{}
	}
	for t, fs := range rs.facts {
		if fs.Len() > 0 {
			seen[t] = struct{}{}
		}
	}
	return util.SortedKeys(seen)
}

// Len returns the number of rules and facts of the table.
func (rs *RuleSet) Len(table string) int {
	n := 0
	if rl, ok := rs.rules[table]; ok {
		n += len(rl.rules)
	}
	if fs, ok := rs.facts[table]; ok {
		n += fs.Len()
	}
	return n
}

// Formulas returns every rule and fact, grouped by sorted table name.
func (rs *RuleSet) Formulas() []ast.Formula {
	var result []ast.Formula
	for _, table := range rs.Tables() {
		if fs, ok := rs.facts[table]; ok {
			for _, t := range fs.Tuples() {
				result = append(result, t.Literal(table))
			}
		}
		if rl, ok := rs.rules[table]; ok {
			for _, r := range rl.rules {
				result = append(result, r)
			}
		}
	}
	return result
}

// ClearTable removes every rule and fact of the table.
func (rs *RuleSet) ClearTable(table string) {
	delete(rs.rules, table)
	delete(rs.facts, table)
}

// Clear removes every rule and fact.
func (rs *RuleSet) Clear() {
	rs.rules = map[string]*ruleList{}
	rs.facts = map[string]*FactSet{}
}
