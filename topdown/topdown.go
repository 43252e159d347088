// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package topdown implements SLD-style top-down evaluation of non-recursive
// Datalog over a theory, including abduction of missing literals.
package topdown

import (
	"fmt"

	"github.com/open-policy-agent/congress/ast"
)

// Theory is the interface the evaluator uses to look up the rules and facts
// that define a table.
type Theory interface {
	// Name returns the name of the policy.
	Name() string

	// HeadIndex returns the rules whose head may unify with match. Facts are
	// returned as rules without a body. The returned rules must not be
	// modified.
	HeadIndex(table string, match *ast.Literal) []*ast.Rule
}

// Includer is implemented by theories that include other theories: a table
// is defined by the union of the rules of the theory and of the included
// theories.
type Includer interface {
	Includes() []Theory
}

// Resolver returns the theory with the given name, used for literals that
// reference another policy.
type Resolver func(name string) (Theory, bool)

// Query holds the state of a top-down evaluation.
type Query struct {
	theory   Theory
	resolver Resolver
	tracer   Tracer
	findAll  bool
}

// NewQuery returns a new Query evaluated against th. By default all answers
// are computed.
func NewQuery(th Theory) *Query {
	return &Query{theory: th, findAll: true}
}

// WithResolver sets the resolver used for literals that reference another
// policy. Without a resolver such literals are evaluated against the query's
// own theory.
func (q *Query) WithResolver(r Resolver) *Query {
	q.resolver = r
	return q
}

// WithTracer sets the tracer to use during evaluation.
func (q *Query) WithTracer(t Tracer) *Query {
	q.tracer = t
	return q
}

// WithFindAll controls whether all answers are computed or evaluation stops
// at the first answer.
func (q *Query) WithFindAll(yes bool) *Query {
	q.findAll = yes
	return q
}

// Result is a single answer found by evaluation: the binding of the
// requested variables and, for abduction, the literals that were assumed.
type Result struct {
	Binding ast.Binding
	Support []*ast.Literal
}

// SaveFunc decides whether a literal is assumed instead of proved during
// abduction.
type SaveFunc func(lit *ast.Literal) bool

// Eval computes all bindings of vars that make the conjunction of literals
// true after applying initial. Results are deduplicated.
func (q *Query) Eval(vars []ast.Var, literals []*ast.Literal, initial ast.Binding) ([]ast.Binding, error) {
	rs, err := q.Abduction(vars, literals, initial, nil)
	if err != nil {
		return nil, err
	}
	result := make([]ast.Binding, len(rs))
	for i := range rs {
		result[i] = rs[i].Binding
	}
	return result, nil
}

// Abduction computes the bindings of vars that make the conjunction of
// literals true if every literal for which save returns true is assumed
// instead of proved. The assumed literals of each answer are returned as
// its support. Literals needed to prove a negated literal are never saved.
func (q *Query) Abduction(vars []ast.Var, literals []*ast.Literal, initial ast.Binding, save SaveFunc) ([]Result, error) {
	bindings := BindingsFrom(initial)
	e := &eval{query: q}
	c := &caller{vars: vars, bindings: bindings, findAll: q.findAll, save: save, seen: map[string]struct{}{}}
	if len(literals) == 0 {
		e.finish(nil, c, true)
	} else {
		ctx := &evalContext{literals: literals, bindings: bindings, theory: q.theory}
		e.eval(ctx, q.theory, c)
	}
	if e.err != nil {
		return nil, e.err
	}
	return c.results, nil
}

// Select returns the instances of the query that are true. The query is
// either a literal or a rule; in the latter case the rule's body is
// evaluated and the instances of the whole rule are returned.
func (q *Query) Select(query ast.Formula) ([]ast.Formula, error) {
	literals := queryLiterals(query)
	bindings, err := q.Eval(query.Vars(), literals, nil)
	if err != nil {
		return nil, err
	}
	result := make([]ast.Formula, 0, len(bindings))
	seen := map[string]struct{}{}
	for _, b := range bindings {
		f := ast.PlugFormula(query, b)
		if _, ok := seen[f.Key()]; ok {
			continue
		}
		seen[f.Key()] = struct{}{}
		result = append(result, f)
	}
	return result, nil
}

// Abduce computes the literals from the given tables that, if true, would
// make an instance of the query true. Each result is a rule whose head is
// an instance of the query (or of the query's head if it is a rule) and
// whose body lists the assumed literals.
func (q *Query) Abduce(query ast.Formula, tables []string) ([]*ast.Rule, error) {
	literals := queryLiterals(query)
	output := ast.HeadLiteral(query)
	permitted := map[string]struct{}{}
	for _, t := range tables {
		permitted[t] = struct{}{}
	}
	save := func(lit *ast.Literal) bool {
		_, ok := permitted[lit.Tablename()]
		return ok
	}
	rs, err := q.Abduction(output.Vars(), literals, nil, save)
	if err != nil {
		return nil, err
	}
	result := make([]*ast.Rule, len(rs))
	for i := range rs {
		result[i] = ast.NewRule(output.Plug(rs[i].Binding), rs[i].Support...)
	}
	return result, nil
}

// Instances returns every instance of rule obtained by matching its body
// literals against the facts of the theory, without evaluating builtins.
// Literals whose table appears in possibilities are matched against the
// given rules instead.
func (q *Query) Instances(rule *ast.Rule, possibilities map[string][]*ast.Rule) []*ast.Rule {
	var results []*ast.Rule
	seen := map[string]struct{}{}
	var visit func(index int, b ast.Binding)
	visit = func(index int, b ast.Binding) {
		if index >= len(rule.Body) {
			inst := rule.Plug(b)
			if _, ok := seen[inst.Key()]; !ok {
				seen[inst.Key()] = struct{}{}
				results = append(results, inst)
			}
			return
		}
		lit := rule.Body[index].Plug(b)
		q.trace(CallOp, lit, 0)
		if lit.IsGround() || lit.IsBuiltin() {
			visit(index+1, b)
			return
		}
		options, ok := possibilities[lit.Tablename()]
		if !ok {
			options = q.theory.HeadIndex(lit.Tablename(), lit)
		}
		for _, data := range options {
			ext, ok := Match(lit, data.Head())
			if !ok || data.Head().Table != lit.Table {
				continue
			}
			q.trace(ExitOp, lit, 0)
			next := b.Copy()
			for k, v := range ext {
				next[k] = v
			}
			visit(index+1, next)
			q.trace(RedoOp, lit, 0)
		}
		q.trace(FailOp, lit, 0)
	}
	visit(0, ast.Binding{})
	return results
}

func (q *Query) trace(op Op, lit *ast.Literal, depth int) {
	if q.tracer == nil || !q.tracer.Enabled() {
		return
	}
	q.tracer.Trace(Event{Op: op, Theory: q.theory.Name(), Table: lit.Tablename(), Literal: lit, Depth: depth})
}

func queryLiterals(query ast.Formula) []*ast.Literal {
	if r, ok := query.(*ast.Rule); ok {
		return r.Body
	}
	return []*ast.Literal{query.(*ast.Literal)}
}

type evalContext struct {
	literals []*ast.Literal
	index    int
	bindings *Bindings
	previous *evalContext
	theory   Theory
	depth    int
}

func (ctx *evalContext) current() *ast.Literal {
	return ctx.literals[ctx.index]
}

type saved struct {
	lit      *ast.Literal
	bindings *Bindings
}

type caller struct {
	vars     []ast.Var
	bindings *Bindings
	findAll  bool
	save     SaveFunc
	support  []saved
	results  []Result
	seen     map[string]struct{}
}

type eval struct {
	query *Query
	err   error
}

// eval evaluates the current literal of ctx and continues with the rest of
// the conjunction. It returns true once the caller needs no more answers.
func (e *eval) eval(ctx *evalContext, th Theory, c *caller) bool {
	if e.err != nil {
		return true
	}
	lit := ctx.current()

	if c.save != nil && c.save(lit.Plug(ctx.bindings)) {
		return e.evalSave(ctx, c)
	}

	switch {
	case lit.Negated:
		return e.evalNegated(ctx, th, c)
	case lit.Theory == "" && lit.Table == "true":
		e.traceCall(ctx)
		return e.finish(ctx, c, true)
	case lit.Theory == "" && lit.Table == "false":
		e.traceCall(ctx)
		e.traceFail(ctx)
		return false
	case lit.IsBuiltin():
		return e.evalBuiltin(ctx, c)
	case lit.Theory != "" && lit.Modal == "" && lit.Theory != th.Name() && !lit.IsUpdate() && e.query.resolver != nil:
		return e.evalModule(ctx, c)
	}
	return e.evalTruth(ctx, th, c)
}

func (e *eval) evalSave(ctx *evalContext, c *caller) bool {
	e.traceCall(ctx)
	e.traceOp(SaveOp, ctx)
	c.support = append(c.support, saved{lit: ctx.current(), bindings: ctx.bindings})
	done := e.finish(ctx, c, true)
	c.support = c.support[:len(c.support)-1]
	if done {
		return true
	}
	e.traceFail(ctx)
	return false
}

func (e *eval) evalNegated(ctx *evalContext, th Theory, c *caller) bool {
	lit := ctx.current()
	plugged := lit.Plug(ctx.bindings)
	if !plugged.IsGround() {
		e.err = negationNotGroundErr(plugged)
		return true
	}
	e.traceCall(ctx)
	nctx := &evalContext{
		literals: []*ast.Literal{lit.Complement()},
		bindings: ctx.bindings,
		theory:   ctx.theory,
		depth:    ctx.depth + 1,
	}
	nc := &caller{vars: c.vars, bindings: c.bindings, seen: map[string]struct{}{}}
	e.eval(nctx, th, nc)
	if e.err != nil {
		return true
	}
	if len(nc.results) > 0 {
		e.traceFail(ctx)
		return false
	}
	return e.finish(ctx, c, false)
}

func (e *eval) evalBuiltin(ctx *evalContext, c *caller) bool {
	lit := ctx.current()
	e.traceCall(ctx)
	b, _, ok := BuiltinFuncFor(lit)
	if !ok {
		e.err = unsupportedBuiltinErr(lit)
		return true
	}
	plugged := lit.Plug(ctx.bindings)
	inputs := make([]ast.Constant, b.Inputs)
	for i := 0; i < b.Inputs; i++ {
		x, ok := plugged.Args[i].(ast.Constant)
		if !ok {
			if c.save != nil {
				return e.evalSave(ctx, c)
			}
			e.err = builtinInputsErr(plugged, b.Inputs)
			return true
		}
		inputs[i] = x
	}
	outs, err := CallBuiltin(lit, inputs)
	if err != nil {
		e.traceNote(ctx, fmt.Sprintf("Error in builtin: %v", err))
		e.traceFail(ctx)
		return false
	}
	if b.Outputs() == 0 {
		if holds, ok := outs[0].Value.(bool); !ok || !holds {
			e.traceFail(ctx)
			return false
		}
		return e.finish(ctx, c, false)
	}
	terms := make([]ast.Term, len(outs))
	for i := range outs {
		terms[i] = outs[i]
	}
	undo, ok := unifyLists(terms, NewBindings(), lit.Args[b.Inputs:], ctx.bindings)
	if !ok {
		e.traceFail(ctx)
		return false
	}
	done := e.finish(ctx, c, false)
	undo.Undo()
	return done
}

func (e *eval) evalModule(ctx *evalContext, c *caller) bool {
	lit := ctx.current()
	other, ok := e.query.resolver(lit.Theory)
	if !ok {
		e.traceCall(ctx)
		e.traceNote(ctx, fmt.Sprintf("No such policy: %s", lit.Theory))
		e.traceFail(ctx)
		return false
	}
	return e.evalTruth(ctx, other, c)
}

func (e *eval) evalTruth(ctx *evalContext, th Theory, c *caller) bool {
	if e.evalTheory(ctx, th, c) && (!c.findAll || e.err != nil) {
		return true
	}
	if inc, ok := th.(Includer); ok {
		for _, other := range inc.Includes() {
			if e.evalTruth(ctx, other, c) && (!c.findAll || e.err != nil) {
				return true
			}
		}
	}
	return false
}

func (e *eval) evalTheory(ctx *evalContext, th Theory, c *caller) bool {
	lit := ctx.current()
	e.traceCall(ctx)
	for _, rule := range th.HeadIndex(lit.Table, lit.Plug(ctx.bindings)) {
		if e.err != nil {
			return true
		}
		head := rule.Head()
		if head.Table != lit.Table || head.Modal != lit.Modal || len(head.Args) != len(lit.Args) {
			continue
		}
		b := NewBindings()
		undo, ok := BiUnify(head, b, lit, ctx.bindings)
		if !ok {
			continue
		}
		var done bool
		if len(rule.Body) == 0 {
			done = e.finish(ctx, c, true)
		} else {
			done = e.eval(&evalContext{
				literals: rule.Body,
				bindings: b,
				previous: ctx,
				theory:   th,
				depth:    ctx.depth + 1,
			}, th, c)
		}
		undo.Undo()
		if e.err != nil {
			return true
		}
		if done && !c.findAll {
			return true
		}
	}
	e.traceFail(ctx)
	return false
}

// finish is called once the current literal of ctx has been proved. It
// proceeds with the next literal of the conjunction, or with the enclosing
// conjunction, or records an answer if there is nothing left to prove.
func (e *eval) finish(ctx *evalContext, c *caller, redo bool) bool {
	if ctx == nil {
		e.record(c)
		return true
	}
	e.traceOp(ExitOp, ctx)
	var done bool
	if ctx.index < len(ctx.literals)-1 {
		ctx.index++
		done = e.eval(ctx, ctx.theory, c)
		ctx.index--
	} else {
		done = e.finish(ctx.previous, c, true)
	}
	if e.err != nil {
		return true
	}
	if redo && (!done || c.findAll) {
		e.traceOp(RedoOp, ctx)
	}
	return done
}

func (e *eval) record(c *caller) {
	binding := make(ast.Binding, len(c.vars))
	for _, v := range c.vars {
		binding[v] = c.bindings.Apply(v)
	}
	support := make([]*ast.Literal, len(c.support))
	for i, s := range c.support {
		support[i] = s.lit.Plug(s.bindings.Namespaced(c.bindings))
	}
	key := binding.Key()
	if c.save != nil {
		key += "|" + ast.LiteralsToString(support)
	}
	if _, ok := c.seen[key]; ok {
		return
	}
	c.seen[key] = struct{}{}
	c.results = append(c.results, Result{Binding: binding, Support: support})
}

func (e *eval) traceCall(ctx *evalContext) {
	e.traceOp(CallOp, ctx)
}

func (e *eval) traceFail(ctx *evalContext) {
	e.traceOp(FailOp, ctx)
}

func (e *eval) traceOp(op Op, ctx *evalContext) {
	t := e.query.tracer
	if t == nil || !t.Enabled() {
		return
	}
	lit := ctx.current()
	t.Trace(Event{
		Op:      op,
		Theory:  ctx.theory.Name(),
		Table:   lit.Tablename(),
		Literal: lit.Plug(ctx.bindings),
		Depth:   ctx.depth,
	})
}

func (e *eval) traceNote(ctx *evalContext, msg string) {
	t := e.query.tracer
	if t == nil || !t.Enabled() {
		return
	}
	lit := ctx.current()
	t.Trace(Event{Op: NoteOp, Theory: ctx.theory.Name(), Table: lit.Tablename(), Message: msg, Depth: ctx.depth})
}
