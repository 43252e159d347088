// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package theory implements the kinds of policies the runtime manages: plain
// databases of facts, nonrecursive rule sets evaluated top-down, action
// descriptions used by simulation and materialized rule sets that keep every
// derived table up to date as facts change.
package theory

import (
	"fmt"
	"strings"

	"github.com/open-policy-agent/congress/ast"
	"github.com/open-policy-agent/congress/logging"
	"github.com/open-policy-agent/congress/topdown"
)

// Kind identifies the evaluation strategy of a policy.
type Kind string

// Policy kinds.
const (
	NonrecursiveKind Kind = "nonrecursive"
	ActionKind       Kind = "action"
	MaterializedKind Kind = "materialized"
	DatabaseKind     Kind = "database"
)

// Kinds returns the names of all policy kinds.
func Kinds() []string {
	return []string{string(NonrecursiveKind), string(ActionKind), string(MaterializedKind), string(DatabaseKind)}
}

// ParseKind returns the kind with the given name. The empty name selects the
// nonrecursive kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "":
		return NonrecursiveKind, nil
	case NonrecursiveKind, ActionKind, MaterializedKind, DatabaseKind:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown kind of policy: %s (expected one of %s)", s, strings.Join(Kinds(), ", "))
}

// SelectOptions controls query evaluation.
type SelectOptions struct {
	// FirstOnly stops evaluation at the first answer.
	FirstOnly bool

	// Tracer receives the evaluation events if set.
	Tracer topdown.Tracer
}

// Theory is a named policy: a collection of facts and rules that can be
// updated and queried.
type Theory interface {
	topdown.Theory

	Kind() Kind
	Abbr() string
	Schema() *ast.Schema
	SetSchema(schema *ast.Schema)

	// SetResolver sets the function used to find other policies referenced
	// by this one.
	SetResolver(r topdown.Resolver)

	// Select returns the instances of the query that are true.
	Select(query ast.Formula, opts SelectOptions) ([]ast.Formula, error)

	// Update applies the events and returns the events that changed the
	// theory. Callers must check UpdateWouldCauseErrors first.
	Update(events []*ast.Event) ([]*ast.Event, error)

	// UpdateWouldCauseErrors returns the errors applying the events would
	// cause without modifying the theory.
	UpdateWouldCauseErrors(events []*ast.Event) ast.Errors

	// Define replaces the contents of the theory by the formulas.
	Define(fs []ast.Formula) ([]*ast.Event, error)

	// Empty removes the formulas that define the tables, or every formula
	// if no tables are given. If invert is true, the formulas that define
	// every other table are removed instead.
	Empty(tables []string, invert bool)

	// Content returns the formulas that define the tables, or every
	// formula if no tables are given.
	Content(tables ...string) []ast.Formula

	// Contains returns true if the formula is part of the theory.
	Contains(f ast.Formula) bool

	// Arity returns the number of columns of the table.
	Arity(table string) (int, bool)

	// DefinedTables returns the tables defined by the theory.
	DefinedTables() []string

	// InitializeTables replaces the contents of the tables by the facts.
	InitializeTables(tables []string, facts []*ast.Literal) error
}

// Explainer is implemented by theories that record why derived tuples hold.
type Explainer interface {
	Explain(atom *ast.Literal) (*Proof, error)
}

// Options configures a new theory.
type Options struct {
	Abbr     string
	Schema   *ast.Schema
	Resolver topdown.Resolver
	Logger   logging.Logger
}

// New returns an empty theory of the given kind.
func New(kind Kind, name string, opts Options) (Theory, error) {
	switch kind {
	case NonrecursiveKind, "":
		return NewNonrecursive(name, opts), nil
	case ActionKind:
		return NewAction(name, opts), nil
	case MaterializedKind:
		return NewMaterialized(name, opts), nil
	case DatabaseKind:
		return NewDatabase(name, opts), nil
	}
	return nil, fmt.Errorf("unknown kind of policy: %s", kind)
}

// base holds the state shared by every kind of theory.
type base struct {
	name     string
	abbr     string
	kind     Kind
	schema   *ast.Schema
	resolver topdown.Resolver
	logger   logging.Logger
}

func newBase(name string, kind Kind, opts Options) base {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	abbr := opts.Abbr
	if abbr == "" {
		abbr = defaultAbbr(name)
	}
	return base{
		name:     name,
		abbr:     abbr,
		kind:     kind,
		schema:   opts.Schema,
		resolver: opts.Resolver,
		logger:   logger.WithFields(map[string]interface{}{"policy": name}),
	}
}

func defaultAbbr(name string) string {
	if len(name) > 5 {
		return name[:5]
	}
	return name
}

// Name returns the name of the theory.
func (b *base) Name() string {
	return b.name
}

// Kind returns the kind of the theory.
func (b *base) Kind() Kind {
	return b.kind
}

// Abbr returns the abbreviated name used in traces.
func (b *base) Abbr() string {
	return b.abbr
}

// Schema returns the schema of the theory or nil.
func (b *base) Schema() *ast.Schema {
	return b.schema
}

// SetSchema sets the schema of the theory.
func (b *base) SetSchema(schema *ast.Schema) {
	b.schema = schema
}

// SetResolver sets the function used to find other policies.
func (b *base) SetResolver(r topdown.Resolver) {
	b.resolver = r
}

// schemas resolves the schema of this or another policy.
func (b *base) schemas(policy string) *ast.Schema {
	if policy == "" || policy == b.name {
		return b.schema
	}
	if b.resolver == nil {
		return nil
	}
	other, ok := b.resolver(policy)
	if !ok {
		return nil
	}
	if th, ok := other.(Theory); ok {
		return th.Schema()
	}
	return nil
}

func (b *base) checkOptions() ast.CheckOptions {
	return ast.CheckOptions{Schemas: b.schemas, Theory: b.name}
}

// schemaArity returns the arity the schema declares for the table.
func (b *base) schemaArity(table string) (int, bool) {
	theory, name := ast.PartitionTablename(table)
	if theory != "" && theory != b.name {
		if s := b.schemas(theory); s != nil && s.Contains(name) {
			return s.Arity(name), true
		}
		return 0, false
	}
	if b.schema.Contains(name) {
		return b.schema.Arity(name), true
	}
	return 0, false
}

func (b *base) query(th topdown.Theory, opts SelectOptions) *topdown.Query {
	q := topdown.NewQuery(th).WithFindAll(!opts.FirstOnly)
	if b.resolver != nil {
		q = q.WithResolver(b.resolver)
	}
	if opts.Tracer != nil {
		q = q.WithTracer(opts.Tracer)
	}
	return q
}

func (b *base) debug(table string, f string, a ...interface{}) {
	if b.logger.GetLevel() < logging.Debug {
		return
	}
	l := b.logger
	if table != "" {
		l = l.WithFields(map[string]interface{}{"table": table})
	}
	l.Debug(f, a...)
}

// selectRules evaluates the query against th.
func (b *base) selectRules(th topdown.Theory, query ast.Formula, opts SelectOptions) ([]ast.Formula, error) {
	b.debug(ast.Tablename(query), "Select %v", query)
	return b.query(th, opts).Select(query)
}

// Proof is the explanation of a derived tuple: the tuple itself and the
// proofs of the body literals of the rule instance that derived it. Base
// facts and negated literals have no children.
type Proof struct {
	Literal  *ast.Literal
	Children []*Proof
}

// Leaves returns the literals at the leaves of the proof.
func (p *Proof) Leaves() []*ast.Literal {
	if len(p.Children) == 0 {
		return []*ast.Literal{p.Literal}
	}
	var result []*ast.Literal
	for _, c := range p.Children {
		result = append(result, c.Leaves()...)
	}
	return result
}

// String returns the proof as an indented tree.
func (p *Proof) String() string {
	var sb strings.Builder
	p.format(&sb, 0)
	return sb.String()
}

func (p *Proof) format(sb *strings.Builder, depth int) {
	sb.WriteString(strings.Repeat("  ", depth))
	sb.WriteString(p.Literal.String())
	sb.WriteByte('\n')
	for _, c := range p.Children {
		c.format(sb, depth+1)
	}
}

// ruleOf returns f as a rule; facts become rules without a body.
func ruleOf(f ast.Formula) *ast.Rule {
	if r, ok := f.(*ast.Rule); ok {
		return r
	}
	return ast.NewRule(f.(*ast.Literal))
}

// atomOf returns the literal of a fact.
func atomOf(f ast.Formula) (*ast.Literal, bool) {
	return ast.AsLiteral(f)
}

// insertEvents returns insert events for the formulas.
func insertEvents(fs []ast.Formula, target string) []*ast.Event {
	events := make([]*ast.Event, len(fs))
	for i := range fs {
		events[i] = ast.NewEvent(fs[i], true, target)
	}
	return events
}
