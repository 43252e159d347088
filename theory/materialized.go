// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package theory

import (
	"fmt"
	"sort"
	"strings"

	"github.com/open-policy-agent/congress/ast"
	"github.com/open-policy-agent/congress/dependencies"
	"github.com/open-policy-agent/congress/storage"
	"github.com/open-policy-agent/congress/topdown"
	"github.com/open-policy-agent/congress/util"
)

// Materialized is a theory that stores the contents of every table defined
// by its rules and keeps them up to date as facts and rules are inserted and
// deleted. Each derived tuple records the proofs that support it, so a tuple
// disappears exactly when its last proof does.
//
// Tables of other policies referenced by the rules are copied into the
// theory and refreshed with RefreshMirrors. Changes are propagated before
// they are applied, so every body is evaluated against the state that
// precedes the change being processed.
type Materialized struct {
	base
	db      *storage.Database
	delta   *DeltaRules
	graph   *dependencies.Graph
	queue   *util.FIFO[*ast.Event]
	tracer  topdown.Tracer
	users   map[string]*userRule
	order   []string
	proofs  map[string]*ast.Rule
	mirrors map[string]int
}

// userRule is a rule as inserted by the user together with the rules that
// are installed for it.
type userRule struct {
	rule      *ast.Rule
	rewritten *ast.Rule
	aux       []*ast.Rule
}

func (u *userRule) installed() []*ast.Rule {
	return append([]*ast.Rule{u.rewritten}, u.aux...)
}

// NewMaterialized returns an empty materialized theory.
func NewMaterialized(name string, opts Options) *Materialized {
	return &Materialized{
		base:    newBase(name, MaterializedKind, opts),
		db:      storage.NewDatabase(),
		delta:   NewDeltaRules(name),
		graph:   dependencies.New(dependencies.Options{}),
		queue:   util.NewFIFO[*ast.Event](),
		users:   map[string]*userRule{},
		proofs:  map[string]*ast.Rule{},
		mirrors: map[string]int{},
	}
}

// SetTracer sets the tracer used while propagating changes.
func (m *Materialized) SetTracer(t topdown.Tracer) {
	m.tracer = t
}

// HeadIndex returns the stored tuples of the table that agree with match.
func (m *Materialized) HeadIndex(table string, match *ast.Literal) []*ast.Rule {
	return headIndex(m.db, table, match)
}

// Select returns the instances of the query that are true.
func (m *Materialized) Select(query ast.Formula, opts SelectOptions) ([]ast.Formula, error) {
	m.debug(ast.Tablename(query), "Select %v", query)
	return m.newQuery(opts).Select(query)
}

func (m *Materialized) newQuery(opts SelectOptions) *topdown.Query {
	q := topdown.NewQuery(m).WithFindAll(!opts.FirstOnly).WithResolver(m.resolve)
	if opts.Tracer != nil {
		q = q.WithTracer(opts.Tracer)
	}
	return q
}

// resolve returns the copy of another policy if the rules reference it and
// the policy itself otherwise.
func (m *Materialized) resolve(name string) (topdown.Theory, bool) {
	if m.mirrorsPolicy(name) {
		return &mirror{m: m, name: name}, true
	}
	if m.resolver == nil {
		return nil, false
	}
	return m.resolver(name)
}

// key returns the name under which the literal's table is stored.
func (m *Materialized) key(lit *ast.Literal) string {
	return lit.TablenameIn(m.name)
}

// stored returns the literal in the form used by the database: tables of
// other policies are stored under their qualified name.
func (m *Materialized) stored(lit *ast.Literal) *ast.Literal {
	k := m.key(lit)
	if k == lit.Table && lit.Theory == "" && !lit.Negated {
		return lit
	}
	return &ast.Literal{Table: k, Args: lit.Args, Location: lit.Location}
}

// visible returns false for tables that are internal to the theory.
func (m *Materialized) visible(table string) bool {
	return !IsAuxTable(table) && !strings.Contains(table, ":")
}

// Update applies the events and returns the events that changed the
// contents of the theory, including the changes to derived tables.
func (m *Materialized) Update(events []*ast.Event) ([]*ast.Event, error) {
	graphChanges, err := m.updateGraph(events)
	if err != nil {
		return nil, err
	}
	if m.graph.HasCycle() {
		m.graph.Undo(graphChanges)
		return nil, ast.NewError(ast.RecursionErr, nil, "Rules are recursive: %v", m.graph.CycleString())
	}

	var changes []*ast.Event
	for _, e := range events {
		var result []*ast.Event
		var err error
		if lit, ok := atomOf(e.Formula); ok {
			result, err = m.updateFact(e, lit)
		} else {
			result, err = m.updateRule(e)
		}
		changes = append(changes, result...)
		if err != nil {
			m.queue = util.NewFIFO[*ast.Event]()
			m.logger.Error("Update of %v failed: %v", e, err)
			return changes, err
		}
	}
	return changes, nil
}

// updateGraph adds the rules of the events that change the theory to the
// dependency graph.
func (m *Materialized) updateGraph(events []*ast.Event) ([]dependencies.Change, error) {
	present := map[string]bool{}
	var graphEvents []*ast.Event
	for _, e := range events {
		r, ok := e.Formula.(*ast.Rule)
		if !ok || len(r.Body) == 0 {
			continue
		}
		reordered, err := ast.ReorderForSafety(r)
		if err != nil {
			return nil, err
		}
		key := reordered.Key()
		exists, ok := present[key]
		if !ok {
			_, exists = m.users[key]
		}
		if exists == e.Insert {
			continue
		}
		present[key] = e.Insert
		graphEvents = append(graphEvents, ast.NewEvent(reordered, e.Insert, m.name))
	}
	return m.graph.Update(graphEvents), nil
}

func (m *Materialized) updateFact(e *ast.Event, lit *ast.Literal) ([]*ast.Event, error) {
	if m.delta.IsView(lit.Table) {
		return nil, ast.NewError(ast.CompileErr, lit.Location, "Cannot directly modify tables computed from other tables: %v", lit)
	}
	evt := &ast.Event{Formula: lit, Insert: e.Insert, Target: m.name}
	m.debug(lit.Table, "Enqueueing %v", evt)
	m.queue.Push(evt)
	return m.processQueue()
}

func (m *Materialized) updateRule(e *ast.Event) ([]*ast.Event, error) {
	reordered, err := ast.ReorderForSafety(e.Formula.(*ast.Rule))
	if err != nil {
		return nil, err
	}
	key := reordered.Key()
	var changes []*ast.Event
	if e.Insert {
		if _, ok := m.users[key]; ok {
			return nil, nil
		}
		rewritten, aux := EliminateSelfJoins(reordered, m.name)
		u := &userRule{rule: reordered, rewritten: rewritten, aux: aux}
		m.users[key] = u
		m.order = append(m.order, key)
		m.proofs[rewritten.Key()] = reordered
		m.debug(reordered.Head().Table, "Insert rule %v", reordered)
		changes = append(changes, ast.NewEvent(e.Formula, true, m.name))
		for _, r := range u.installed() {
			result, err := m.install(r)
			changes = append(changes, result...)
			if err != nil {
				return changes, err
			}
		}
		return changes, nil
	}

	u, ok := m.users[key]
	if !ok {
		return nil, nil
	}
	m.debug(reordered.Head().Table, "Delete rule %v", reordered)
	changes = append(changes, ast.NewEvent(e.Formula, false, m.name))
	for _, r := range u.installed() {
		result, err := m.uninstall(r)
		changes = append(changes, result...)
		if err != nil {
			return changes, err
		}
	}
	delete(m.users, key)
	delete(m.proofs, u.rewritten.Key())
	for i := range m.order {
		if m.order[i] == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return changes, nil
}

// install adds a reference to the rule. The first reference computes the
// rule's instances and propagates them.
func (m *Materialized) install(r *ast.Rule) ([]*ast.Event, error) {
	if m.delta.Refs(r) > 0 {
		m.delta.Insert(r)
		return nil, nil
	}
	if err := m.addMirrors(r); err != nil {
		return nil, err
	}
	m.delta.Insert(r)
	if err := m.enqueueInstances(r, true); err != nil {
		return nil, err
	}
	return m.processQueue()
}

// uninstall removes a reference to the rule. The last reference retracts the
// rule's instances.
func (m *Materialized) uninstall(r *ast.Rule) ([]*ast.Event, error) {
	if m.delta.Refs(r) > 1 {
		m.delta.Delete(r)
		return nil, nil
	}
	if err := m.enqueueInstances(r, false); err != nil {
		return nil, err
	}
	changes, err := m.processQueue()
	m.delta.Delete(r)
	m.dropMirrors(r)
	return changes, err
}

// enqueueInstances evaluates the body of the rule against the current state
// and enqueues an event for every resulting head tuple.
func (m *Materialized) enqueueInstances(r *ast.Rule, insert bool) error {
	bindings, err := m.newQuery(SelectOptions{Tracer: m.tracer}).Eval(r.Vars(), r.Body, nil)
	if err != nil {
		return err
	}
	m.enqueueBindings(bindings, r.Head(), insert, m.proofRule(r))
	return nil
}

// proofRule returns the rule recorded in proofs of tuples derived by the
// installed rule r: the rule the user inserted.
func (m *Materialized) proofRule(r *ast.Rule) *ast.Rule {
	if u, ok := m.proofs[r.Key()]; ok {
		return u
	}
	return r
}

// enqueueBindings enqueues one event per distinct instance of head carrying
// the proofs of all bindings that produce it.
func (m *Materialized) enqueueBindings(bindings []ast.Binding, head *ast.Literal, insert bool, rule *ast.Rule) {
	var order []string
	events := map[string]*ast.Event{}
	for _, b := range bindings {
		atom := head.Plug(b)
		k := atom.Key()
		e, ok := events[k]
		if !ok {
			e = &ast.Event{Formula: atom, Insert: insert, Target: m.name}
			events[k] = e
			order = append(order, k)
		}
		e.Proofs = append(e.Proofs, ast.Proof{Binding: b, Rule: rule})
	}
	for _, k := range order {
		m.debug(head.Table, "Enqueueing %v", events[k])
		m.queue.Push(events[k])
	}
}

// processQueue processes the queued events in order. An event that changes
// whether its tuple is present is propagated through the delta rules before
// it is applied. Events that only change the proofs of a tuple are applied
// without propagation. The events that changed membership are returned.
func (m *Materialized) processQueue() ([]*ast.Event, error) {
	var changes []*ast.Event
	for {
		e, ok := m.queue.Pop()
		if !ok {
			return changes, nil
		}
		lit := ast.HeadLiteral(e.Formula)
		stored := e
		if s := m.stored(lit); s != lit {
			stored = e.Copy()
			stored.Formula = s
		}
		if !m.db.ChangesMembership(stored) {
			if err := m.apply(stored); err != nil {
				return changes, err
			}
			continue
		}
		if err := m.propagate(e, lit); err != nil {
			return changes, err
		}
		if err := m.apply(stored); err != nil {
			return changes, err
		}
		if m.visible(m.key(lit)) {
			changes = append(changes, ast.NewEvent(lit, e.Insert, m.name))
		}
	}
}

func (m *Materialized) apply(e *ast.Event) error {
	atom := ast.HeadLiteral(e.Formula)
	if e.Insert {
		_, err := m.db.Insert(atom, e.Proofs)
		return err
	}
	m.db.Delete(atom, e.Proofs)
	return nil
}

// propagate enqueues the events caused by the change to the ground literal.
func (m *Materialized) propagate(e *ast.Event, lit *ast.Literal) error {
	deltas := m.delta.Triggered(m.key(lit))
	if len(deltas) == 0 {
		m.debug(lit.Table, "No applicable delta rule for %v", e)
		return nil
	}
	q := m.newQuery(SelectOptions{Tracer: m.tracer})
	for _, d := range deltas {
		initial, ok := topdown.Match(d.Trigger, lit)
		if !ok {
			continue
		}
		bindings, err := q.Eval(d.Vars(), d.Body, initial)
		if err != nil {
			return err
		}
		insert := e.Insert
		if d.Trigger.Negated {
			insert = !insert
		}
		m.enqueueBindings(bindings, d.Head, insert, m.proofRule(d.Rule))
	}
	return nil
}

// UpdateWouldCauseErrors returns the errors applying the events would cause:
// compile errors, facts for tables defined by rules and recursion.
func (m *Materialized) UpdateWouldCauseErrors(events []*ast.Event) ast.Errors {
	var errs ast.Errors
	opts := m.checkOptions()
	views := map[string]bool{}
	for _, e := range events {
		if r, ok := e.Formula.(*ast.Rule); ok && len(r.Body) > 0 && e.Insert {
			views[r.Head().Table] = true
		}
	}
	for _, e := range events {
		if lit, ok := atomOf(e.Formula); ok {
			errs = append(errs, ast.FactErrors(lit, opts)...)
			if m.delta.IsView(lit.Table) || views[lit.Table] {
				errs = append(errs, ast.NewError(ast.CompileErr, lit.Location, "Cannot directly modify tables computed from other tables: %v", lit))
			}
			continue
		}
		rule := e.Formula.(*ast.Rule)
		errs = append(errs, ast.RuleErrors(rule, opts)...)
		if len(rule.Heads) > 1 {
			errs = append(errs, ast.NewError(ast.CompileErr, rule.Location, "Materialized policies do not support multiple heads: %v", rule))
		}
		for _, head := range rule.Heads {
			if head.IsModal() {
				errs = append(errs, ast.NewError(ast.CompileErr, head.Location, "Materialized policies do not support modal heads: %v", rule))
			}
			if IsAuxTable(head.Table) {
				errs = append(errs, ast.NewError(ast.CompileErr, head.Location, "Table names starting with %v are reserved: %v", auxPrefix, head.Table))
			}
		}
	}
	if len(errs) > 0 {
		return errs
	}
	changes, err := m.updateGraph(events)
	if err != nil {
		return ast.AsErrors(err)
	}
	defer m.graph.Undo(changes)
	if m.graph.HasCycle() {
		errs = append(errs, ast.NewError(ast.RecursionErr, nil, "Rules are recursive: %v", m.graph.CycleString()))
	}
	return errs
}

// Define replaces the contents of the theory by the formulas.
func (m *Materialized) Define(fs []ast.Formula) ([]*ast.Event, error) {
	changes, err := m.Update(m.emptyEvents(nil, false))
	if err != nil {
		return changes, err
	}
	result, err := m.Update(insertEvents(fs, m.name))
	return append(changes, result...), err
}

// Empty deletes the rules and facts that define the tables.
func (m *Materialized) Empty(tables []string, invert bool) {
	if _, err := m.Update(m.emptyEvents(tables, invert)); err != nil {
		m.logger.Error("Emptying %v failed: %v", m.name, err)
	}
}

func (m *Materialized) emptyEvents(tables []string, invert bool) []*ast.Event {
	fs := m.Content()
	if len(tables) > 0 || invert {
		fs = m.Content(selectTables(m.DefinedTables(), tables, invert)...)
	}
	events := make([]*ast.Event, len(fs))
	for i := range fs {
		events[i] = ast.NewEvent(fs[i], false, m.name)
	}
	return events
}

// Content returns the rules and base facts that define the tables. Derived
// tuples are not included; see Data.
func (m *Materialized) Content(tables ...string) []ast.Formula {
	var wanted map[string]struct{}
	if len(tables) > 0 {
		wanted = map[string]struct{}{}
		for _, t := range tables {
			wanted[t] = struct{}{}
		}
	}
	include := func(table string) bool {
		if wanted == nil {
			return m.visible(table)
		}
		_, ok := wanted[table]
		return ok
	}
	var result []ast.Formula
	for _, table := range m.db.Tables() {
		if !include(table) {
			continue
		}
		for _, lit := range m.db.Content(table) {
			if m.db.IsBase(lit) {
				result = append(result, lit)
			}
		}
	}
	for _, key := range m.order {
		u := m.users[key]
		if include(u.rule.Head().Table) {
			result = append(result, u.rule)
		}
	}
	return result
}

// Data returns every stored tuple of the tables, derived or not.
func (m *Materialized) Data(tables ...string) []*ast.Literal {
	if len(tables) == 0 {
		for _, t := range m.db.Tables() {
			if m.visible(t) {
				tables = append(tables, t)
			}
		}
	}
	return m.db.Content(tables...)
}

// Policy returns the rules inserted into the theory.
func (m *Materialized) Policy() []*ast.Rule {
	result := make([]*ast.Rule, len(m.order))
	for i, key := range m.order {
		result[i] = m.users[key].rule
	}
	return result
}

// Contains returns true if the rule was inserted or the fact is a base fact.
func (m *Materialized) Contains(f ast.Formula) bool {
	if lit, ok := atomOf(f); ok {
		return m.db.IsBase(lit)
	}
	r, err := ast.ReorderForSafety(f.(*ast.Rule))
	if err != nil {
		return false
	}
	_, ok := m.users[r.Key()]
	return ok
}

// Arity returns the number of columns of the table.
func (m *Materialized) Arity(table string) (int, bool) {
	if a, ok := m.schemaArity(table); ok {
		return a, true
	}
	if a, ok := m.db.Arity(table); ok {
		return a, true
	}
	for _, key := range m.order {
		if head := m.users[key].rule.Head(); head.Table == table {
			return len(head.Args), true
		}
	}
	return 0, false
}

// DefinedTables returns the tables with base facts or rules.
func (m *Materialized) DefinedTables() []string {
	seen := map[string]struct{}{}
	for _, t := range m.db.Tables() {
		if m.visible(t) {
			seen[t] = struct{}{}
		}
	}
	for _, key := range m.order {
		seen[m.users[key].rule.Head().Table] = struct{}{}
	}
	return util.SortedKeys(seen)
}

// InitializeTables replaces the base facts of the tables by the facts and
// propagates the differences.
func (m *Materialized) InitializeTables(tables []string, facts []*ast.Literal) error {
	warnIgnoredFacts(m.logger, tables, facts)
	fresh := map[string]struct{}{}
	var events []*ast.Event
	for _, f := range facts {
		fresh[f.Key()] = struct{}{}
	}
	for _, table := range tables {
		for _, lit := range m.db.Content(table) {
			if _, ok := fresh[lit.Key()]; !ok && m.db.IsBase(lit) {
				events = append(events, ast.NewEvent(lit, false, m.name))
			}
		}
	}
	for _, f := range facts {
		events = append(events, ast.NewEvent(f, true, m.name))
	}
	_, err := m.Update(events)
	return err
}

// Explain returns the proof of a ground atom, or nil if the atom is not
// true. The first recorded proof of every derived tuple is used.
func (m *Materialized) Explain(atom *ast.Literal) (*Proof, error) {
	if !atom.IsGround() {
		return nil, ast.NewError(ast.EvalErr, atom.Location, "Explanation requires a ground atom: %v", atom)
	}
	return m.explain(atom, 0), nil
}

func (m *Materialized) explain(lit *ast.Literal, depth int) *Proof {
	m.debug(lit.Table, "Explaining %v at depth %d", lit, depth)
	if lit.Negated || lit.IsBuiltin() {
		return &Proof{Literal: lit}
	}
	s := m.stored(lit)
	if !m.db.Contains(s) {
		return nil
	}
	proofs := m.db.Explain(s)
	if len(proofs) == 0 {
		return &Proof{Literal: lit}
	}
	instance := proofs[0].Rule.Plug(proofs[0].Binding)
	result := &Proof{Literal: lit}
	for _, b := range instance.Body {
		child := m.explain(b, depth+1)
		if child == nil {
			return nil
		}
		result.Children = append(result.Children, child)
	}
	return result
}

// mirrorsPolicy returns true if the rules reference tables of the policy.
func (m *Materialized) mirrorsPolicy(name string) bool {
	prefix := name + ":"
	for k := range m.mirrors {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

// Mirrors returns the policies whose tables the rules reference.
func (m *Materialized) Mirrors() []string {
	seen := map[string]struct{}{}
	for k := range m.mirrors {
		theory, _ := ast.PartitionTablename(k)
		seen[theory] = struct{}{}
	}
	return util.SortedKeys(seen)
}

func (m *Materialized) foreignLiterals(r *ast.Rule) []*ast.Literal {
	var result []*ast.Literal
	for _, lit := range r.Body {
		if lit.IsBuiltin() {
			continue
		}
		if strings.Contains(m.key(lit), ":") {
			result = append(result, lit)
		}
	}
	return result
}

// addMirrors copies the tables of other policies the rule references that
// are not copied yet.
func (m *Materialized) addMirrors(r *ast.Rule) error {
	for _, lit := range m.foreignLiterals(r) {
		k := m.key(lit)
		if _, ok := m.mirrors[k]; ok {
			continue
		}
		m.mirrors[k] = len(lit.Args)
		fresh, err := m.foreignContent(k, len(lit.Args))
		if err != nil {
			delete(m.mirrors, k)
			return err
		}
		for _, f := range fresh {
			if _, err := m.db.Insert(m.stored(f), nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// dropMirrors removes the copies of tables no installed rule references.
func (m *Materialized) dropMirrors(r *ast.Rule) {
	for _, lit := range m.foreignLiterals(r) {
		k := m.key(lit)
		if !m.delta.References(k) {
			delete(m.mirrors, k)
			m.db.ClearTable(k)
		}
	}
}

// foreignContent returns the true instances of the table of another policy.
func (m *Materialized) foreignContent(table string, arity int) ([]*ast.Literal, error) {
	theory, name := ast.PartitionTablename(table)
	if m.resolver == nil {
		return nil, nil
	}
	th, ok := m.resolver(theory)
	if !ok {
		return nil, nil
	}
	query := ast.NewLiteral(name, freshVars(arity)...)
	fs, err := topdown.NewQuery(th).WithResolver(m.resolver).Select(query)
	if err != nil {
		return nil, err
	}
	result := make([]*ast.Literal, len(fs))
	for i := range fs {
		lit := fs[i].(*ast.Literal).Copy()
		lit.Theory = theory
		result[i] = lit
	}
	return result, nil
}

// RefreshMirrors brings the copies of the tables of the policy up to date
// and propagates the differences. It returns the resulting changes to the
// tables of this theory.
func (m *Materialized) RefreshMirrors(policy string) ([]*ast.Event, error) {
	var keys []string
	for k := range m.mirrors {
		if theory, _ := ast.PartitionTablename(k); theory == policy {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fresh, err := m.foreignContent(k, m.mirrors[k])
		if err != nil {
			return nil, err
		}
		current := map[string]*ast.Literal{}
		for _, lit := range m.db.Content(k) {
			current[storage.TupleFromLiteral(lit).Key()] = lit
		}
		for _, f := range fresh {
			tk := storage.TupleFromLiteral(f).Key()
			if _, ok := current[tk]; ok {
				delete(current, tk)
				continue
			}
			m.queue.Push(ast.NewEvent(f, true, m.name))
		}
		stale := make([]string, 0, len(current))
		for tk := range current {
			stale = append(stale, tk)
		}
		sort.Strings(stale)
		for _, tk := range stale {
			m.queue.Push(ast.NewEvent(current[tk], false, m.name))
		}
	}
	changes, err := m.processQueue()
	if err != nil {
		m.queue = util.NewFIFO[*ast.Event]()
	}
	return changes, err
}

func (m *Materialized) String() string {
	return fmt.Sprintf("%v (%v): %d rules, %d tables", m.name, m.kind, len(m.order), len(m.db.Tables()))
}

// mirror exposes the copies of the tables of another policy to top-down
// evaluation. Tables that are not copied are read from the policy itself.
type mirror struct {
	m    *Materialized
	name string
}

func (t *mirror) Name() string {
	return t.name
}

func (t *mirror) HeadIndex(table string, match *ast.Literal) []*ast.Rule {
	k := t.name + ":" + table
	if _, ok := t.m.mirrors[k]; ok {
		if match != nil && match.Negated {
			match = nil
		}
		tuples := t.m.db.Find(k, match)
		result := make([]*ast.Rule, len(tuples))
		for i := range tuples {
			result[i] = ast.NewRule(tuples[i].Literal(table))
		}
		return result
	}
	if t.m.resolver != nil {
		if th, ok := t.m.resolver(t.name); ok {
			return th.HeadIndex(table, match)
		}
	}
	return nil
}
