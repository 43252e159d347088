// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package runtime

import (
	"github.com/open-policy-agent/congress/ast"
	"github.com/open-policy-agent/congress/dependencies"
	"github.com/open-policy-agent/congress/metrics"
	"github.com/open-policy-agent/congress/theory"
)

// Insert inserts the facts and rules of the policy text into the target
// policy and returns the resulting changes.
func (r *Runtime) Insert(text, target string) ([]*ast.Event, error) {
	return r.updateFormulas(text, target, true)
}

// Delete deletes the facts and rules of the policy text from the target
// policy and returns the resulting changes.
func (r *Runtime) Delete(text, target string) ([]*ast.Event, error) {
	return r.updateFormulas(text, target, false)
}

func (r *Runtime) updateFormulas(text, target string, insert bool) ([]*ast.Event, error) {
	fs, err := r.parse(text)
	if err != nil {
		return nil, err
	}
	events := make([]*ast.Event, len(fs))
	for i := range fs {
		events[i] = ast.NewEvent(fs[i], insert, "")
	}
	return r.Update(events, target)
}

// UpdateString applies a sequence of insert[...] and delete[...] statements.
// Plain formulas are inserted.
func (r *Runtime) UpdateString(text, target string) ([]*ast.Event, error) {
	r.metrics.Timer(metrics.RuntimeParse).Start()
	events, err := ast.ParseEvents(text, ast.ParserOptions{}, "")
	r.metrics.Timer(metrics.RuntimeParse).Stop()
	if err != nil {
		return nil, wrapErrors(RuleSyntax, err)
	}
	return r.Update(events, target)
}

func (r *Runtime) parse(text string) ([]ast.Formula, error) {
	r.metrics.Timer(metrics.RuntimeParse).Start()
	defer r.metrics.Timer(metrics.RuntimeParse).Stop()
	fs, err := ast.Parse(text)
	if err != nil {
		return nil, wrapErrors(RuleSyntax, err)
	}
	return fs, nil
}

// Update applies the events and returns the resulting changes, including the
// changes to materialized policies that reference the updated ones. Events
// without a target are sent to target. Nothing is modified if any event is
// rejected. Events with column references to a policy whose schema is not
// complete yet are disabled until SetSchema is called for it.
func (r *Runtime) Update(events []*ast.Event, target string) ([]*ast.Event, error) {
	resolved := make([]*ast.Event, len(events))
	for i, e := range events {
		name := e.Target
		if name == "" {
			name = target
		}
		th, err := r.target(name)
		if err != nil {
			return nil, err
		}
		resolved[i] = e.Copy()
		resolved[i].Target = th.Name()
	}
	enabled, disabled, rejected := r.eliminateColumnReferences(resolved)
	if len(rejected) > 0 {
		var errs ast.Errors
		for _, rej := range rejected {
			errs = append(errs, rej.Errors...)
		}
		r.metrics.Counter(metrics.RuntimeRejected).Incr()
		return nil, &Error{Name: PolicyError, Errors: errs}
	}
	changes, err := r.apply(enabled, true)
	if err != nil {
		return nil, err
	}
	if len(disabled) > 0 {
		r.logger.Info("Disabled %d events until their schemas are known.", len(disabled))
		r.disabled = append(r.disabled, disabled...)
	}
	return changes, nil
}

// eliminateColumnReferences rewrites the column references of the events.
// Events that reference tables whose columns may still be declared are
// returned as disabled.
func (r *Runtime) eliminateColumnReferences(events []*ast.Event) (enabled, disabled []*ast.Event, rejected []RejectedEvent) {
	for _, e := range events {
		f, errs := ast.EliminateColumnReferences(e.Formula, r.schema, e.Target)
		if len(errs) == 0 {
			cpy := e.Copy()
			cpy.Formula = f
			enabled = append(enabled, cpy)
			continue
		}
		if onlyIncomplete(errs) {
			disabled = append(disabled, e)
			continue
		}
		rejected = append(rejected, RejectedEvent{Event: e, Errors: errs})
	}
	return enabled, disabled, rejected
}

func onlyIncomplete(errs ast.Errors) bool {
	for _, err := range errs {
		if err.Code != ast.IncompleteSchemaErr {
			return false
		}
	}
	return true
}

// apply checks and applies events whose targets are resolved and whose
// column references are eliminated. If fire is false, triggers are not run.
// If a policy fails to update, the policies updated before it are restored.
func (r *Runtime) apply(events []*ast.Event, fire bool) ([]*ast.Event, error) {
	r.metrics.Timer(metrics.RuntimeUpdate).Start()
	defer r.metrics.Timer(metrics.RuntimeUpdate).Stop()

	events = r.actualEvents(events)
	if len(events) == 0 {
		return nil, nil
	}
	r.metrics.Counter(metrics.RuntimeEvents).Add(uint64(len(events)))
	r.metrics.Histogram(metrics.UpdateBatchSize).Update(int64(len(events)))

	order, groups := groupByTarget(events)
	var errs ast.Errors
	for _, name := range order {
		errs = append(errs, r.policies[name].theory.UpdateWouldCauseErrors(groups[name])...)
	}
	if len(errs) > 0 {
		r.metrics.Counter(metrics.RuntimeRejected).Incr()
		return nil, &Error{Name: PolicyError, Errors: errs}
	}

	graphChanges := r.graph.Update(events)
	if r.graph.HasCycle() {
		cycle := r.graph.CycleString()
		r.graph.Undo(graphChanges)
		r.metrics.Counter(metrics.RuntimeRejected).Incr()
		return nil, &Error{Name: PolicyError, Errors: ast.Errors{ast.NewError(ast.RecursionErr, nil, "Rules are recursive: %v", cycle)}}
	}
	if len(graphChanges) > 0 {
		r.triggers.UpdateDependencies()
	}

	var triggers []*Trigger
	if fire {
		triggers = r.triggers.Relevant(eventTables(events))
	}
	before := r.tableContents(triggers)

	var changes []*ast.Event
	var undos [][]*ast.Event
	for _, name := range order {
		th := r.policies[name].theory
		before := containment(th, groups[name])
		cs, err := th.Update(groups[name])
		if err != nil {
			r.logger.Error("Failed to update policy %v: %v", name, err)
			r.rollback(undos)
			r.graph.Undo(graphChanges)
			if len(graphChanges) > 0 {
				r.triggers.UpdateDependencies()
			}
			return nil, wrapErrors(PolicyError, err)
		}
		changes = append(changes, cs...)
		undos = append(undos, restoreEvents(th, groups[name], before))
	}
	mirrored, err := r.refreshMirrors(order)
	changes = append(changes, mirrored...)
	if err != nil {
		return changes, err
	}
	r.metrics.Counter(metrics.RuntimeChanges).Add(uint64(len(changes)))
	r.fireTriggers(triggers, before)
	return changes, nil
}

// containment records for each formula of the events whether th contains it.
func containment(th theory.Theory, events []*ast.Event) map[string]bool {
	result := make(map[string]bool, len(events))
	for _, e := range events {
		key := e.Formula.String()
		if _, ok := result[key]; !ok {
			result[key] = th.Contains(e.Formula)
		}
	}
	return result
}

// restoreEvents returns the events that bring the formulas of events back to
// the containment recorded in before.
func restoreEvents(th theory.Theory, events []*ast.Event, before map[string]bool) []*ast.Event {
	var result []*ast.Event
	seen := map[string]struct{}{}
	for _, e := range events {
		key := e.Formula.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if had := before[key]; had != th.Contains(e.Formula) {
			result = append(result, ast.NewEvent(e.Formula, had, e.Target))
		}
	}
	return result
}

// rollback applies the restore events of the policies already updated, most
// recent first.
func (r *Runtime) rollback(undos [][]*ast.Event) {
	for i := len(undos) - 1; i >= 0; i-- {
		if len(undos[i]) == 0 {
			continue
		}
		name := undos[i][0].Target
		if _, err := r.policies[name].theory.Update(undos[i]); err != nil {
			r.logger.Error("Failed to roll back policy %v: %v", name, err)
		}
	}
}

// actualEvents drops the rule events that would not change their policy.
// Facts are left to the policies, which report whether they changed.
func (r *Runtime) actualEvents(events []*ast.Event) []*ast.Event {
	present := map[string]bool{}
	result := make([]*ast.Event, 0, len(events))
	for _, e := range events {
		rule, ok := e.Formula.(*ast.Rule)
		if !ok || len(rule.Body) == 0 {
			result = append(result, e)
			continue
		}
		key := e.Target + "|" + rule.Key()
		in, ok := present[key]
		if !ok {
			in = r.policies[e.Target].theory.Contains(rule)
		}
		if in == e.Insert {
			r.logger.Debug("Ignoring no-op event %v", e)
			continue
		}
		present[key] = e.Insert
		result = append(result, e)
	}
	return result
}

// groupByTarget returns the events of each target, with the targets in the
// order of their first event.
func groupByTarget(events []*ast.Event) ([]string, map[string][]*ast.Event) {
	var order []string
	groups := map[string][]*ast.Event{}
	for _, e := range events {
		if _, ok := groups[e.Target]; !ok {
			order = append(order, e.Target)
		}
		groups[e.Target] = append(groups[e.Target], e)
	}
	return order, groups
}

// eventTables returns the qualified tables the events define.
func eventTables(events []*ast.Event) []string {
	var result []string
	for _, e := range events {
		switch f := e.Formula.(type) {
		case *ast.Rule:
			for _, h := range f.Heads {
				result = append(result, dependencies.Qualify(h.Tablename(), e.Target))
			}
		case *ast.Literal:
			result = append(result, dependencies.Qualify(f.Tablename(), e.Target))
		}
	}
	return result
}

// refreshMirrors brings the materialized policies that reference the
// changed policies up to date. Changes to a materialized policy are in turn
// propagated to the policies that reference it.
func (r *Runtime) refreshMirrors(changed []string) ([]*ast.Event, error) {
	var result []*ast.Event
	queue := append([]string(nil), changed...)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, other := range r.PolicyNames() {
			m, ok := r.policies[other].theory.(*theory.Materialized)
			if !ok || other == name || !contains(m.Mirrors(), name) {
				continue
			}
			r.metrics.Counter(metrics.RuntimeMirrors).Incr()
			changes, err := m.RefreshMirrors(name)
			if err != nil {
				r.logger.Error("Failed to refresh the copies of %v in %v: %v", name, other, err)
				return result, wrapErrors(PolicyError, err)
			}
			if len(changes) > 0 {
				result = append(result, changes...)
				queue = append(queue, other)
			}
		}
	}
	return result, nil
}

func contains(xs []string, x string) bool {
	for _, y := range xs {
		if x == y {
			return true
		}
	}
	return false
}

// InitializeTables replaces the contents of the tables of the target policy
// by the facts.
func (r *Runtime) InitializeTables(tables []string, facts []*ast.Literal, target string) error {
	th, err := r.target(target)
	if err != nil {
		return err
	}
	qualified := make([]string, len(tables))
	for i := range tables {
		qualified[i] = dependencies.Qualify(tables[i], th.Name())
	}
	triggers := r.triggers.Relevant(qualified)
	before := r.tableContents(triggers)
	if err := th.InitializeTables(tables, facts); err != nil {
		return wrapErrors(PolicyError, err)
	}
	if _, err := r.refreshMirrors([]string{th.Name()}); err != nil {
		return err
	}
	r.fireTriggers(triggers, before)
	return nil
}
