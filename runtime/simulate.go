// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package runtime

import (
	"fmt"
	"sort"

	"github.com/open-policy-agent/congress/ast"
	"github.com/open-policy-agent/congress/metrics"
	"github.com/open-policy-agent/congress/theory"
	"github.com/open-policy-agent/congress/topdown"
)

const (
	actionTable = "action"
	resultTable = "result"
)

// SimulateOptions controls Simulate.
type SimulateOptions struct {
	// Delta returns the changes to the query answers as p+(...) and
	// p-(...) instead of the answers.
	Delta bool

	// Trace records the evaluation and the applied updates.
	Trace bool
}

// SimulateResult is the answer to a simulated query.
type SimulateResult struct {
	Results []ast.Formula `json:"results"`
	Trace   string        `json:"trace,omitempty"`
}

// Simulate answers the query against the policy as it would be after the
// sequence of updates and actions, and then restores the policy. Actions are
// the values of action(x) in the action policy; their effects are the update
// tables (p+, p-) its rules derive. The result table of an action is
// available to the next action of the sequence.
func (r *Runtime) Simulate(query, policy, sequence, actionPolicy string, opts SimulateOptions) (*SimulateResult, error) {
	if query == "" || sequence == "" || actionPolicy == "" {
		return nil, newError(IncompleteSimulateArgs, "Simulate requires parameters: query, sequence, action_policy")
	}
	if policy == "" {
		return nil, newError(SimulateWithoutPolicy, "Simulate must be told which policy evaluate the query on")
	}
	th, err := r.target(policy)
	if err != nil {
		return nil, err
	}
	if _, err := r.target(actionPolicy); err != nil {
		return nil, err
	}
	q, err := r.parseQuery(query, policy)
	if err != nil {
		return nil, err
	}
	seq, err := ast.ParseWithOptions(sequence, ast.ParserOptions{Schemas: r.schema, DefaultTheory: policy})
	if err != nil {
		return nil, &Error{Name: SequenceSyntax, Errors: ast.AsErrors(err)}
	}

	r.metrics.Timer(metrics.RuntimeSimulate).Start()
	defer r.metrics.Timer(metrics.RuntimeSimulate).Stop()

	s := &simulation{r: r, policy: policy, action: actionPolicy}
	if opts.Trace {
		s.tracer = r.newTracer()
		for _, name := range r.PolicyNames() {
			if m, ok := r.policies[name].theory.(*theory.Materialized); ok {
				m.SetTracer(s.tracer)
				defer m.SetTracer(nil)
			}
		}
	}
	sopts := theory.SelectOptions{Tracer: s.tracer}

	var before []ast.Formula
	if opts.Delta {
		s.note("Simulate: querying %v", q)
		if before, err = th.Select(q, sopts); err != nil {
			return nil, &Error{Name: SimulateError, Errors: ast.AsErrors(err)}
		}
	}

	s.note("Simulate: applying sequence %v", seq)
	undos, err := s.project(seq)
	if err != nil {
		return nil, err
	}

	s.note("Simulate: querying %v", q)
	after, qerr := th.Select(q, sopts)

	s.note("Simulate: rolling back")
	if _, err := s.project(undos); err != nil {
		r.logger.Error("Failed to roll back simulation of %v: %v", sequence, err)
		return nil, err
	}
	if qerr != nil {
		return nil, &Error{Name: SimulateError, Errors: ast.AsErrors(qerr)}
	}

	result := &SimulateResult{}
	if opts.Delta {
		result.Results = delta(before, after)
	} else {
		ast.SortFormulas(after)
		result.Results = after
	}
	if s.tracer != nil {
		result.Trace = s.tracer.String()
	}
	return result, nil
}

// delta returns the answers gained as insert updates followed by the
// answers lost as delete updates.
func delta(before, after []ast.Formula) []ast.Formula {
	old := map[string]struct{}{}
	for _, f := range before {
		old[f.Key()] = struct{}{}
	}
	cur := map[string]struct{}{}
	for _, f := range after {
		cur[f.Key()] = struct{}{}
	}
	var pos, neg []ast.Formula
	for _, f := range after {
		if _, ok := old[f.Key()]; !ok {
			pos = append(pos, makeUpdate(f, true))
		}
	}
	for _, f := range before {
		if _, ok := cur[f.Key()]; !ok {
			neg = append(neg, makeUpdate(f, false))
		}
	}
	ast.SortFormulas(pos)
	ast.SortFormulas(neg)
	return append(pos, neg...)
}

func makeUpdate(f ast.Formula, insert bool) ast.Formula {
	switch f := f.(type) {
	case *ast.Literal:
		return f.MakeUpdate(insert)
	case *ast.Rule:
		cpy := f.Copy()
		for i := range cpy.Heads {
			cpy.Heads[i] = cpy.Heads[i].MakeUpdate(insert)
		}
		return cpy
	}
	return f
}

func invertUpdate(f ast.Formula) ast.Formula {
	switch f := f.(type) {
	case *ast.Literal:
		return f.InvertUpdate()
	case *ast.Rule:
		cpy := f.Copy()
		for i := range cpy.Heads {
			cpy.Heads[i] = cpy.Heads[i].InvertUpdate()
		}
		return cpy
	}
	return f
}

// simulation holds the state of a single Simulate call.
type simulation struct {
	r      *Runtime
	policy string
	action string
	tracer *topdown.BufferTracer
}

func (s *simulation) note(f string, a ...interface{}) {
	msg := fmt.Sprintf(f, a...)
	s.r.logger.Debug(msg)
	if s.tracer != nil {
		s.tracer.Trace(topdown.Event{Op: topdown.NoteOp, Theory: s.action, Message: msg})
	}
}

// projection evaluates the action policy together with the temporary
// theory that holds the current action and, if different, the policy being
// simulated.
type projection struct {
	action   topdown.Theory
	includes []topdown.Theory
}

func (p *projection) Name() string {
	return p.action.Name()
}

func (p *projection) HeadIndex(table string, match *ast.Literal) []*ast.Rule {
	return p.action.HeadIndex(table, match)
}

func (p *projection) Includes() []topdown.Theory {
	return p.includes
}

func (s *simulation) query(th topdown.Theory) *topdown.Query {
	q := topdown.NewQuery(th).WithResolver(s.r.resolve)
	if s.tracer != nil {
		q = q.WithTracer(s.tracer)
	}
	return q
}

// actions returns the names of the actions of the action policy.
func (s *simulation) actions(th theory.Theory) (map[string]struct{}, error) {
	fs, err := th.Select(ast.NewLiteral(actionTable, ast.VarTerm("x")), theory.SelectOptions{})
	if err != nil {
		return nil, err
	}
	result := map[string]struct{}{}
	for _, f := range fs {
		lit := f.(*ast.Literal)
		if c, ok := lit.Args[0].(ast.Constant); ok {
			if str, ok := c.Value.(string); ok {
				result[str] = struct{}{}
				continue
			}
		}
		result[lit.Args[0].String()] = struct{}{}
	}
	return result, nil
}

// project applies the sequence and returns the sequence of updates that
// undoes it. If a step fails, the steps already applied are undone.
func (s *simulation) project(seq []ast.Formula) ([]ast.Formula, error) {
	actth := s.r.policies[s.action].theory
	temp := theory.NewNonrecursive("simulate", theory.Options{Logger: s.r.logger})
	proj := &projection{action: actth, includes: []topdown.Theory{temp}}
	if s.action != s.policy {
		proj.includes = append(proj.includes, s.r.policies[s.policy].theory)
	}
	actions, err := s.actions(actth)
	if err != nil {
		return nil, wrapErrors(SimulateError, err)
	}
	s.note("Actions: %v", sortedSet(actions))

	var undos []ast.Formula
	fail := func(err error) ([]ast.Formula, error) {
		s.rollback(undos)
		return nil, wrapErrors(SimulateError, err)
	}

	var lastResults []ast.Formula
	for _, f := range seq {
		s.note("Updating with %v", f)
		head := ast.HeadLiteral(f)
		var updates []ast.Formula
		if _, ok := actions[head.Table]; !ok || (head.Theory != "" && head.Theory != s.action) {
			if !isUpdate(f) {
				return fail(newError(SimulateError, "Sequence contained non-action, non-update: %v", f))
			}
			updates = []ast.Formula{f}
		} else {
			fired, err := s.defineAction(f, proj, temp, lastResults)
			if err != nil {
				return fail(err)
			}
			if !fired {
				continue
			}
			lits, err := s.consequences(actth, temp, proj, func(l *ast.Literal) bool { return l.IsUpdate() })
			if err != nil {
				return fail(err)
			}
			updates = topdown.Skolemize(resolveConflicts(lits))
			s.note("Computed updates: %v", updates)
			if _, err := temp.Update(insertAll(updates)); err != nil {
				return fail(err)
			}
			results, err := s.consequences(actth, temp, proj, func(l *ast.Literal) bool { return l.Table == resultTable })
			if err != nil {
				return fail(err)
			}
			lastResults = lastResults[:0]
			for _, lit := range results {
				if lit.IsGround() {
					lastResults = append(lastResults, lit)
				}
			}
		}
		for _, u := range updates {
			undo, err := s.projectUpdate(u)
			if err != nil {
				return fail(err)
			}
			if undo != nil {
				undos = append(undos, undo)
			}
		}
	}
	reverse(undos)
	return undos, nil
}

// defineAction makes the action invocation f the content of the temporary
// theory. Action rules are instantiated with the results of the previous
// action; the returned boolean is false if the rule has no instance.
func (s *simulation) defineAction(f ast.Formula, proj *projection, temp *theory.Nonrecursive, lastResults []ast.Formula) (bool, error) {
	s.note("Projecting %v", f)
	switch f := f.(type) {
	case *ast.Literal:
		if !f.IsGround() {
			return false, newError(SimulateError, "Projection atomic updates must be ground: %v", f)
		}
		if f.Negated {
			return false, newError(SimulateError, "Projection atomic updates must be positive: %v", f)
		}
		_, err := temp.Define([]ast.Formula{f})
		return true, err
	case *ast.Rule:
		if len(f.Body) == 0 {
			_, err := temp.Define([]ast.Formula{f})
			return true, err
		}
		if _, err := temp.Define(lastResults); err != nil {
			return false, err
		}
		bindings, err := s.query(proj).WithFindAll(false).Eval(f.Vars(), f.Body, nil)
		if err != nil {
			return false, err
		}
		if len(bindings) == 0 {
			return false, nil
		}
		var grounds []ast.Formula
		for _, lit := range f.PlugHeads(bindings[0]) {
			if !lit.IsGround() {
				continue
			}
			if lit.Negated {
				return false, newError(SimulateError, "Projection atomic updates must be positive: %v", lit)
			}
			grounds = append(grounds, lit)
		}
		_, err = temp.Define(grounds)
		return true, err
	}
	return false, nil
}

// consequences returns the instances of the heads selected by filter of the
// rules and facts of the action policy and of the temporary theory. Rule
// bodies are evaluated one rule at a time so that the heads keep their
// policy.
func (s *simulation) consequences(actth theory.Theory, temp *theory.Nonrecursive, proj *projection, filter func(*ast.Literal) bool) ([]*ast.Literal, error) {
	var result []*ast.Literal
	seen := map[string]struct{}{}
	add := func(lit *ast.Literal) {
		if _, ok := seen[lit.Key()]; !ok {
			seen[lit.Key()] = struct{}{}
			result = append(result, lit)
		}
	}
	formulas := append(actth.Content(), temp.Content()...)
	for _, f := range formulas {
		if lit, ok := ast.AsLiteral(f); ok {
			if filter(lit) {
				add(lit)
			}
			continue
		}
		rule := f.(*ast.Rule)
		selected := false
		for _, h := range rule.Heads {
			selected = selected || filter(h)
		}
		if !selected {
			continue
		}
		bindings, err := s.query(proj).Eval(rule.Vars(), rule.Body, nil)
		if err != nil {
			return nil, err
		}
		for _, b := range bindings {
			for _, h := range rule.PlugHeads(b) {
				if filter(h) {
					add(h)
				}
			}
		}
	}
	return result, nil
}

// projectUpdate inserts or deletes the formula of the update p+(...) or
// p-(...) into the policy named by its head, or the simulated policy. It
// returns the update that undoes it, or nil if nothing changed.
func (s *simulation) projectUpdate(u ast.Formula) (ast.Formula, error) {
	head := ast.HeadLiteral(u)
	target := head.Theory
	if target == "" {
		target = s.policy
	}
	th, ok := s.r.policies[target]
	if !ok {
		return nil, newError(PolicyNotExist, "Unknown policy %s", target)
	}
	insert := head.Table[len(head.Table)-1] == '+'
	var f ast.Formula
	switch u := u.(type) {
	case *ast.Literal:
		f = u.DropUpdate().DropTheory()
	case *ast.Rule:
		cpy := u.Copy()
		for i := range cpy.Heads {
			cpy.Heads[i] = cpy.Heads[i].DropUpdate().DropTheory()
		}
		f = cpy
	}
	s.note("Applying update %v to %v", u, target)
	_, isRule := f.(*ast.Rule)
	had := isRule && th.theory.Contains(f)
	changes, err := s.r.apply([]*ast.Event{ast.NewEvent(f, insert, target)}, false)
	if err != nil {
		return nil, err
	}
	changed := len(changes) > 0
	if isRule {
		changed = had != th.theory.Contains(f)
	}
	if !changed {
		return nil, nil
	}
	return invertUpdate(u), nil
}

// rollback undoes the updates applied so far by a failed projection.
func (s *simulation) rollback(undos []ast.Formula) {
	for i := len(undos) - 1; i >= 0; i-- {
		if _, err := s.projectUpdate(undos[i]); err != nil {
			s.r.logger.Error("Failed to undo %v: %v", undos[i], err)
		}
	}
}

// resolveConflicts drops p-(args) when p+(args) is present.
func resolveConflicts(lits []*ast.Literal) []ast.Formula {
	inserted := map[string]struct{}{}
	for _, lit := range lits {
		if !isDelete(lit) {
			inserted[lit.Key()] = struct{}{}
		}
	}
	result := make([]ast.Formula, 0, len(lits))
	for _, lit := range lits {
		if isDelete(lit) {
			if _, ok := inserted[lit.InvertUpdate().Key()]; ok {
				continue
			}
		}
		result = append(result, lit)
	}
	return result
}

func isDelete(lit *ast.Literal) bool {
	return lit.IsUpdate() && lit.Table[len(lit.Table)-1] == '-'
}

func isUpdate(f ast.Formula) bool {
	head := ast.HeadLiteral(f)
	return head != nil && head.IsUpdate()
}

func insertAll(fs []ast.Formula) []*ast.Event {
	events := make([]*ast.Event, len(fs))
	for i := range fs {
		events[i] = ast.NewEvent(fs[i], true, "")
	}
	return events
}

func reverse(fs []ast.Formula) {
	for i, j := 0, len(fs)-1; i < j; i, j = i+1, j-1 {
		fs[i], fs[j] = fs[j], fs[i]
	}
}

func sortedSet(m map[string]struct{}) []string {
	result := make([]string, 0, len(m))
	for k := range m {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}
