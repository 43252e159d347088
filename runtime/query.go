// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package runtime

import (
	"github.com/open-policy-agent/congress/ast"
	"github.com/open-policy-agent/congress/metrics"
	"github.com/open-policy-agent/congress/theory"
	"github.com/open-policy-agent/congress/topdown"
)

// QueryOptions controls Select.
type QueryOptions struct {
	// Trace records the evaluation of the tables matching the trace
	// patterns of the runtime.
	Trace bool

	// FirstOnly stops at the first answer.
	FirstOnly bool
}

// QueryResult is the answer to a query.
type QueryResult struct {
	Results []ast.Formula `json:"results"`
	Trace   string        `json:"trace,omitempty"`
}

// Select returns the sorted instances of the query that are true in the
// target policy. The query is a literal or a rule whose body is evaluated.
func (r *Runtime) Select(query, target string, opts QueryOptions) (*QueryResult, error) {
	th, err := r.target(target)
	if err != nil {
		return nil, err
	}
	q, err := r.parseQuery(query, th.Name())
	if err != nil {
		return nil, err
	}
	r.metrics.Timer(metrics.RuntimeSelect).Start()
	defer r.metrics.Timer(metrics.RuntimeSelect).Stop()

	sopts := theory.SelectOptions{FirstOnly: opts.FirstOnly}
	var tracer *topdown.BufferTracer
	if opts.Trace {
		tracer = r.newTracer()
		sopts.Tracer = tracer
	}
	fs, err := th.Select(q, sopts)
	if err != nil {
		return nil, wrapErrors(PolicyError, err)
	}
	ast.SortFormulas(fs)
	result := &QueryResult{Results: fs}
	if tracer != nil {
		result.Trace = tracer.String()
	}
	return result, nil
}

// Explain returns the proof of a derived tuple of a materialized policy.
func (r *Runtime) Explain(query, target string) (*theory.Proof, error) {
	th, err := r.target(target)
	if err != nil {
		return nil, err
	}
	explainer, ok := th.(theory.Explainer)
	if !ok {
		return nil, newError(PolicyError, "Policy %s of kind %s does not support explanations", th.Name(), th.Kind())
	}
	q, err := r.parseQuery(query, th.Name())
	if err != nil {
		return nil, err
	}
	lit, ok := q.(*ast.Literal)
	if !ok || !lit.IsGround() {
		return nil, newError(RuleSyntax, "Explanations require a ground atom: %v", q)
	}
	proof, err := explainer.Explain(lit)
	if err != nil {
		return nil, wrapErrors(PolicyError, err)
	}
	return proof, nil
}

// Abduce returns the instances of the query that would hold if literals of
// the given tables were assumed, together with the assumed literals.
func (r *Runtime) Abduce(query string, tables []string, target string) ([]*ast.Rule, error) {
	th, err := r.target(target)
	if err != nil {
		return nil, err
	}
	q, err := r.parseQuery(query, th.Name())
	if err != nil {
		return nil, err
	}
	rules, err := topdown.NewQuery(th).WithResolver(r.resolve).Abduce(q, tables)
	if err != nil {
		return nil, wrapErrors(PolicyError, err)
	}
	return rules, nil
}

// parseQuery parses a query that consists of exactly one formula. Parsed
// queries are cached per target until a policy or schema changes.
func (r *Runtime) parseQuery(text, target string) (ast.Formula, error) {
	key := target + "\x00" + text
	if f, ok := r.queries.Get(key); ok {
		r.metrics.Counter(metrics.QueryCacheHit).Incr()
		return f, nil
	}
	r.metrics.Counter(metrics.QueryCacheMiss).Incr()
	r.metrics.Timer(metrics.RuntimeParse).Start()
	fs, err := ast.ParseWithOptions(text, ast.ParserOptions{Schemas: r.schema, DefaultTheory: target})
	r.metrics.Timer(metrics.RuntimeParse).Stop()
	if err != nil {
		return nil, wrapErrors(RuleSyntax, err)
	}
	if len(fs) != 1 {
		return nil, newError(RuleSyntax, "Query %q does not consist of exactly one formula", text)
	}
	r.queries.Add(key, fs[0])
	return fs[0], nil
}

// newTracer returns a tracer restricted to the trace patterns. The patterns
// were validated by New.
func (r *Runtime) newTracer() *topdown.BufferTracer {
	t, err := topdown.NewBufferTracer(r.params.TracePatterns...)
	if err != nil {
		r.logger.Warn("Invalid trace patterns %v: %v", r.params.TracePatterns, err)
		t, _ = topdown.NewBufferTracer()
	}
	return t
}
