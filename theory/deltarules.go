// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package theory

import (
	"fmt"
	"sort"
	"strings"

	"github.com/open-policy-agent/congress/ast"
)

// auxPrefix starts the names of the tables introduced by self-join
// elimination.
const auxPrefix = "___"

// IsAuxTable returns true if the table was introduced by self-join
// elimination.
func IsAuxTable(table string) bool {
	return strings.HasPrefix(table, auxPrefix)
}

func auxTable(table string, arity, index int) string {
	return fmt.Sprintf("%s%s_%d_%d", auxPrefix, strings.ReplaceAll(table, ":", "_"), arity, index)
}

// DeltaRule describes how a change to the trigger table changes the head
// table: when a tuple matching Trigger is inserted or deleted, every
// instance of Body that is true yields an instance of Head that is inserted
// or deleted. A negated trigger inverts the direction.
type DeltaRule struct {
	Trigger *ast.Literal
	Head    *ast.Literal
	Body    []*ast.Literal
	Rule    *ast.Rule
}

// Vars returns the variables of the delta rule.
func (d *DeltaRule) Vars() []ast.Var {
	seen := ast.VarSet{}
	var vs []ast.Var
	add := func(lit *ast.Literal) {
		for _, v := range lit.Vars() {
			if !seen.Contains(v) {
				seen.Add(v)
				vs = append(vs, v)
			}
		}
	}
	add(d.Trigger)
	add(d.Head)
	for _, lit := range d.Body {
		add(lit)
	}
	return vs
}

func (d *DeltaRule) String() string {
	return fmt.Sprintf("<trigger: %v, head: %v, body: [%v]>", d.Trigger, d.Head, literalList(d.Body))
}

func literalList(lits []*ast.Literal) string {
	strs := make([]string, len(lits))
	for i := range lits {
		strs[i] = lits[i].String()
	}
	return strings.Join(strs, ", ")
}

// ComputeDeltaRules returns one delta rule per body literal of the rule that
// is not a builtin. The rule's body must already be ordered for safety.
func ComputeDeltaRules(rule *ast.Rule) []*DeltaRule {
	var result []*DeltaRule
	for i, lit := range rule.Body {
		if lit.IsBuiltin() {
			continue
		}
		body := make([]*ast.Literal, 0, len(rule.Body)-1)
		body = append(body, rule.Body[:i]...)
		body = append(body, rule.Body[i+1:]...)
		result = append(result, &DeltaRule{Trigger: lit, Head: rule.Head(), Body: body, Rule: rule})
	}
	return result
}

// EliminateSelfJoins renames the second and later occurrences of every table
// in the body of the rule so that no table occurs twice. It returns the
// rewritten rule and, for every renamed occurrence, the rule defining the new
// table as a copy of the original one, e.g., ___p_2_1(x0, x1) :- p(x0, x1).
// Tables are compared by their name from the point of view of theory and by
// arity.
func EliminateSelfJoins(rule *ast.Rule, theory string) (*ast.Rule, []*ast.Rule) {
	type tableArity struct {
		table string
		arity int
	}
	occurrences := map[tableArity]int{}
	var aux []*ast.Rule
	cpy := *rule
	cpy.Body = make([]*ast.Literal, len(rule.Body))
	for i, lit := range rule.Body {
		cpy.Body[i] = lit
		if lit.IsBuiltin() {
			continue
		}
		key := tableArity{lit.TablenameIn(theory), len(lit.Args)}
		n := occurrences[key]
		occurrences[key] = n + 1
		if n == 0 {
			continue
		}
		name := auxTable(key.table, key.arity, n)
		renamed := lit.Copy()
		renamed.Theory = ""
		renamed.Table = name
		cpy.Body[i] = renamed
		args := make([]ast.Term, key.arity)
		for j := range args {
			args[j] = ast.VarTerm(fmt.Sprintf("x%d", j))
		}
		source := ast.NewLiteral(key.table, args...)
		aux = append(aux, ast.NewRule(ast.NewLiteral(name, args...), source))
	}
	if len(aux) == 0 {
		return rule, nil
	}
	return &cpy, aux
}

// DeltaRules is the set of installed rules of a materialized theory together
// with their delta rules, indexed by trigger table. Rules are reference
// counted so that rules shared by several users, e.g., the definitions of
// self-join tables, stay installed until the last user is removed.
type DeltaRules struct {
	theory   string
	rules    map[string]*deltaEntry
	triggers map[string][]*DeltaRule
	views    map[string]int
}

type deltaEntry struct {
	rule   *ast.Rule
	deltas []*DeltaRule
	refs   int
}

// NewDeltaRules returns an empty set of delta rules for the theory.
func NewDeltaRules(theory string) *DeltaRules {
	return &DeltaRules{
		theory:   theory,
		rules:    map[string]*deltaEntry{},
		triggers: map[string][]*DeltaRule{},
		views:    map[string]int{},
	}
}

// Insert adds a reference to the rule. It returns true if the rule was not
// installed before.
func (d *DeltaRules) Insert(rule *ast.Rule) bool {
	key := rule.Key()
	if e, ok := d.rules[key]; ok {
		e.refs++
		return false
	}
	e := &deltaEntry{rule: rule, deltas: ComputeDeltaRules(rule), refs: 1}
	d.rules[key] = e
	d.views[rule.Head().Table]++
	for _, delta := range e.deltas {
		t := delta.Trigger.TablenameIn(d.theory)
		d.triggers[t] = append(d.triggers[t], delta)
	}
	return true
}

// Delete removes a reference to the rule. It returns true if the rule is no
// longer installed.
func (d *DeltaRules) Delete(rule *ast.Rule) bool {
	key := rule.Key()
	e, ok := d.rules[key]
	if !ok {
		return false
	}
	e.refs--
	if e.refs > 0 {
		return false
	}
	delete(d.rules, key)
	head := rule.Head().Table
	if d.views[head]--; d.views[head] <= 0 {
		delete(d.views, head)
	}
	for _, delta := range e.deltas {
		t := delta.Trigger.TablenameIn(d.theory)
		ds := d.triggers[t]
		for i := range ds {
			if ds[i] == delta {
				ds = append(ds[:i], ds[i+1:]...)
				break
			}
		}
		if len(ds) == 0 {
			delete(d.triggers, t)
		} else {
			d.triggers[t] = ds
		}
	}
	return true
}

// Refs returns the number of references to the rule.
func (d *DeltaRules) Refs(rule *ast.Rule) int {
	if e, ok := d.rules[rule.Key()]; ok {
		return e.refs
	}
	return 0
}

// Triggered returns the delta rules whose trigger is the table. Tables of
// other theories are named theory:table.
func (d *DeltaRules) Triggered(table string) []*DeltaRule {
	return d.triggers[table]
}

// IsView returns true if an installed rule defines the table.
func (d *DeltaRules) IsView(table string) bool {
	return d.views[table] > 0
}

// References returns true if an installed rule has the table in its body.
func (d *DeltaRules) References(table string) bool {
	return len(d.triggers[table]) > 0
}

// Len returns the number of installed rules.
func (d *DeltaRules) Len() int {
	return len(d.rules)
}

func (d *DeltaRules) String() string {
	var strs []string
	for t, ds := range d.triggers {
		for _, delta := range ds {
			strs = append(strs, t+": "+delta.String())
		}
	}
	sort.Strings(strs)
	return strings.Join(strs, "\n")
}
