// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package runtime

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/open-policy-agent/congress/ast"
	"github.com/open-policy-agent/congress/dependencies"
	"github.com/open-policy-agent/congress/metrics"
	"github.com/open-policy-agent/congress/theory"
)

// TriggerFunc is called with the contents of a table before and after an
// update that changed it.
type TriggerFunc func(table string, old, new []*ast.Literal)

// Trigger is a callback registered on a table of a policy.
type Trigger struct {
	ID       string
	Table    string
	Policy   string
	Callback TriggerFunc
}

func (t *Trigger) qualified() string {
	return dependencies.Qualify(t.Table, t.Policy)
}

func (t *Trigger) String() string {
	return fmt.Sprintf("trigger(%v, %v:%v)", t.ID, t.Policy, t.Table)
}

// TriggerRegistry indexes triggers by the tables their table depends on so
// that the triggers affected by an update can be found quickly.
type TriggerRegistry struct {
	graph    *dependencies.Graph
	triggers map[string]*Trigger
	index    map[string]map[string]*Trigger
}

// NewTriggerRegistry returns an empty registry over the dependency graph.
func NewTriggerRegistry(graph *dependencies.Graph) *TriggerRegistry {
	return &TriggerRegistry{
		graph:    graph,
		triggers: map[string]*Trigger{},
		index:    map[string]map[string]*Trigger{},
	}
}

// Register adds a trigger on policy:table.
func (tr *TriggerRegistry) Register(table, policy string, cb TriggerFunc) *Trigger {
	t := &Trigger{
		ID:       uuid.New().String(),
		Table:    table,
		Policy:   policy,
		Callback: cb,
	}
	tr.triggers[t.ID] = t
	tr.indexTrigger(t)
	return t
}

// Unregister removes the trigger with the given ID. It returns false if the
// trigger does not exist.
func (tr *TriggerRegistry) Unregister(id string) bool {
	if _, ok := tr.triggers[id]; !ok {
		return false
	}
	delete(tr.triggers, id)
	tr.UpdateDependencies()
	return true
}

// UnregisterPolicy removes every trigger on the tables of the policy.
func (tr *TriggerRegistry) UnregisterPolicy(policy string) {
	for id, t := range tr.triggers {
		if t.Policy == policy {
			delete(tr.triggers, id)
		}
	}
	tr.UpdateDependencies()
}

// RenamePolicy moves the triggers of a policy to its new name.
func (tr *TriggerRegistry) RenamePolicy(oldname, newname string) {
	for _, t := range tr.triggers {
		if t.Policy == oldname {
			t.Policy = newname
		}
	}
	tr.UpdateDependencies()
}

// UpdateDependencies rebuilds the index after the dependency graph changed.
func (tr *TriggerRegistry) UpdateDependencies() {
	tr.index = map[string]map[string]*Trigger{}
	for _, t := range tr.triggers {
		tr.indexTrigger(t)
	}
}

func (tr *TriggerRegistry) indexTrigger(t *Trigger) {
	table := t.qualified()
	deps := tr.graph.Dependencies(table)
	if deps == nil {
		deps = []string{table}
	}
	for _, d := range deps {
		m, ok := tr.index[d]
		if !ok {
			m = map[string]*Trigger{}
			tr.index[d] = m
		}
		m[t.ID] = t
	}
}

// Triggers returns the registered triggers sorted by policy, table and ID.
func (tr *TriggerRegistry) Triggers() []*Trigger {
	result := make([]*Trigger, 0, len(tr.triggers))
	for _, t := range tr.triggers {
		result = append(result, t)
	}
	sortTriggers(result)
	return result
}

// Relevant returns the triggers whose table depends on one of the qualified
// tables.
func (tr *TriggerRegistry) Relevant(tables []string) []*Trigger {
	seen := map[string]*Trigger{}
	for _, table := range tables {
		for id, t := range tr.index[table] {
			seen[id] = t
		}
	}
	result := make([]*Trigger, 0, len(seen))
	for _, t := range seen {
		result = append(result, t)
	}
	sortTriggers(result)
	return result
}

func sortTriggers(ts []*Trigger) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].Policy != ts[j].Policy {
			return ts[i].Policy < ts[j].Policy
		}
		if ts[i].Table != ts[j].Table {
			return ts[i].Table < ts[j].Table
		}
		return ts[i].ID < ts[j].ID
	})
}

// RegisterTrigger registers cb to be called whenever the contents of table
// in the policy change.
func (r *Runtime) RegisterTrigger(table, policy string, cb TriggerFunc) (*Trigger, error) {
	if _, err := r.target(policy); err != nil {
		return nil, err
	}
	t := r.triggers.Register(table, policy, cb)
	r.logger.Debug("Registered %v", t)
	return t, nil
}

// UnregisterTrigger removes the trigger with the given ID.
func (r *Runtime) UnregisterTrigger(id string) error {
	if !r.triggers.Unregister(id) {
		return newError(PolicyError, "Trigger %s does not exist", id)
	}
	return nil
}

// Triggers returns the registered triggers.
func (r *Runtime) Triggers() []*Trigger {
	return r.triggers.Triggers()
}

// tableContents returns the current contents of the tables of the triggers.
func (r *Runtime) tableContents(triggers []*Trigger) map[string][]*ast.Literal {
	result := make(map[string][]*ast.Literal, len(triggers))
	for _, t := range triggers {
		if _, ok := result[t.qualified()]; !ok {
			result[t.qualified()] = r.tableContent(t.Table, t.Policy)
		}
	}
	return result
}

// tableContent returns the sorted rows of the table in the policy. Missing
// policies and tables are empty.
func (r *Runtime) tableContent(table, policy string) []*ast.Literal {
	p, ok := r.policies[policy]
	if !ok {
		return nil
	}
	arity, ok := r.Arity(table, policy)
	if !ok {
		return nil
	}
	args := make([]ast.Term, arity)
	for i := range args {
		args[i] = ast.Var(fmt.Sprintf("x%d", i))
	}
	query := ast.NewLiteral(table, args...)
	fs, err := p.theory.Select(query, theory.SelectOptions{})
	if err != nil {
		r.logger.Warn("Failed to read %v:%v for triggers: %v", policy, table, err)
		return nil
	}
	result := make([]*ast.Literal, 0, len(fs))
	for _, f := range fs {
		if lit, ok := f.(*ast.Literal); ok {
			result = append(result, lit)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Compare(result[j]) < 0
	})
	return result
}

// fireTriggers calls the triggers whose table contents differ from before.
func (r *Runtime) fireTriggers(triggers []*Trigger, before map[string][]*ast.Literal) {
	after := map[string][]*ast.Literal{}
	for _, t := range triggers {
		table := t.qualified()
		cur, ok := after[table]
		if !ok {
			cur = r.tableContent(t.Table, t.Policy)
			after[table] = cur
		}
		if sameLiterals(before[table], cur) {
			continue
		}
		r.metrics.Counter(metrics.RuntimeTriggers).Incr()
		r.runTrigger(t, before[table], cur)
	}
}

func (r *Runtime) runTrigger(t *Trigger, old, cur []*ast.Literal) {
	defer func() {
		if x := recover(); x != nil {
			r.logger.Error("Trigger %v failed: %v", t, x)
		}
	}()
	t.Callback(t.Table, old, cur)
}

func sameLiterals(a, b []*ast.Literal) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
