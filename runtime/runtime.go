// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package runtime manages a collection of named policies: it routes updates
// to them, keeps the global dependency graph free of recursion, keeps
// materialized policies consistent with the policies they reference and
// answers queries, simulations and explanations.
package runtime

import (
	"sort"
	"strings"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/open-policy-agent/congress/ast"
	"github.com/open-policy-agent/congress/dependencies"
	"github.com/open-policy-agent/congress/logging"
	"github.com/open-policy-agent/congress/metrics"
	"github.com/open-policy-agent/congress/theory"
	"github.com/open-policy-agent/congress/topdown"
	"github.com/open-policy-agent/congress/types"
	"github.com/open-policy-agent/congress/util"
)

// Default policy names.
const (
	DefaultTheory = "classification"
	ActionTheory  = "action"
)

const defaultQueryCacheSize = 128

// Params stores the configuration of a runtime.
type Params struct {
	// DefaultTheory is the policy used by the CLI when none is given.
	DefaultTheory string

	// ActionTheory is the policy that describes actions for simulation
	// when none is given.
	ActionTheory string

	// QueryCacheSize is the number of parsed queries to keep. Zero selects
	// the default size.
	QueryCacheSize int

	// TracePatterns restricts traces to the tables matching the glob
	// patterns. All tables are traced if empty.
	TracePatterns []string

	Logger  logging.Logger
	Metrics metrics.Metrics
}

// PolicyOptions describes a new policy.
type PolicyOptions struct {
	Kind        theory.Kind
	Abbr        string
	ID          string
	Description string
	Owner       string
	Schema      *ast.Schema
}

// PolicyInfo is the metadata of a policy.
type PolicyInfo struct {
	Name        string `json:"name"`
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Abbr        string `json:"abbreviation"`
	Description string `json:"description,omitempty"`
	Owner       string `json:"owner_id,omitempty"`
}

type policy struct {
	info   PolicyInfo
	theory theory.Theory
}

// Runtime holds a set of policies. It is not safe for concurrent use; see
// Actor.
type Runtime struct {
	params   Params
	logger   logging.Logger
	metrics  metrics.Metrics
	policies map[string]*policy
	graph    *dependencies.Graph
	triggers *TriggerRegistry
	rules    map[string]*RuleRecord
	ruleSeq  int
	queries  *lru.Cache[string, ast.Formula]

	// disabled holds the events whose column references could not be
	// resolved yet because a schema is incomplete.
	disabled []*ast.Event

	// rejected holds the disabled events that failed once their schema
	// became known.
	rejected []RejectedEvent
}

// RejectedEvent is a disabled event that could not be applied after the
// schema it waited for was set.
type RejectedEvent struct {
	Event  *ast.Event
	Errors ast.Errors
}

// New returns a runtime without policies.
func New(params Params) (*Runtime, error) {
	if params.DefaultTheory == "" {
		params.DefaultTheory = DefaultTheory
	}
	if params.ActionTheory == "" {
		params.ActionTheory = ActionTheory
	}
	if params.QueryCacheSize <= 0 {
		params.QueryCacheSize = defaultQueryCacheSize
	}
	if params.Logger == nil {
		params.Logger = logging.NewNoOpLogger()
	}
	if params.Metrics == nil {
		params.Metrics = metrics.NoOp()
	}
	queries, err := lru.New[string, ast.Formula](params.QueryCacheSize)
	if err != nil {
		return nil, err
	}
	if _, err := topdown.NewBufferTracer(params.TracePatterns...); err != nil {
		return nil, err
	}
	graph := dependencies.New(dependencies.Options{ExcludeAtoms: true})
	return &Runtime{
		params:   params,
		logger:   params.Logger,
		metrics:  params.Metrics,
		policies: map[string]*policy{},
		graph:    graph,
		triggers: NewTriggerRegistry(graph),
		rules:    map[string]*RuleRecord{},
		queries:  queries,
	}, nil
}

// Params returns the configuration of the runtime.
func (r *Runtime) Params() Params {
	return r.params
}

// Metrics returns the metrics the runtime records.
func (r *Runtime) Metrics() metrics.Metrics {
	return r.metrics
}

// resolve implements topdown.Resolver over the policies of the runtime.
func (r *Runtime) resolve(name string) (topdown.Theory, bool) {
	p, ok := r.policies[name]
	if !ok {
		return nil, false
	}
	return p.theory, true
}

func (r *Runtime) schema(name string) *ast.Schema {
	if p, ok := r.policies[name]; ok {
		return p.theory.Schema()
	}
	return nil
}

// CreatePolicy adds an empty policy. The name must be a valid table name
// that is not in use.
func (r *Runtime) CreatePolicy(name string, opts PolicyOptions) (*PolicyInfo, error) {
	if name == "" {
		return nil, newError(PolicyNameRequired, "A name must be provided when creating a policy")
	}
	if !ast.IsValidName(name) {
		return nil, newError(PolicyNameMustBeID, "Policy name %s is not a valid tablename", name)
	}
	if _, ok := r.policies[name]; ok {
		return nil, newError(PolicyExists, "Policy with name %s already exists", name)
	}
	kind, err := theory.ParseKind(string(opts.Kind))
	if err != nil {
		return nil, newError(FailedToCreatePolicy, "%v", err)
	}
	if err := types.Default.CheckSchema(opts.Schema); err != nil {
		return nil, newError(FailedToCreatePolicy, "%v", err)
	}
	th, err := theory.New(kind, name, theory.Options{
		Abbr:     opts.Abbr,
		Schema:   opts.Schema,
		Resolver: r.resolve,
		Logger:   r.logger,
	})
	if err != nil {
		return nil, newError(FailedToCreatePolicy, "%v", err)
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	p := &policy{
		info: PolicyInfo{
			Name:        name,
			ID:          id,
			Kind:        string(kind),
			Abbr:        th.Abbr(),
			Description: opts.Description,
			Owner:       opts.Owner,
		},
		theory: th,
	}
	r.policies[name] = p
	r.queries.Purge()
	r.logger.WithFields(map[string]interface{}{"policy": name, "kind": kind}).Debug("Created policy.")

	// Materialized policies may already reference the new policy.
	if _, err := r.refreshMirrors([]string{name}); err != nil {
		return nil, err
	}
	return &p.info, nil
}

// InitializeDatasource creates a database policy with the schema.
func (r *Runtime) InitializeDatasource(name string, schema *ast.Schema) error {
	if _, err := r.CreatePolicy(name, PolicyOptions{Kind: theory.DatabaseKind}); err != nil {
		return err
	}
	if err := r.SetSchema(name, schema); err != nil {
		if derr := r.DeletePolicy(name, false); derr != nil {
			r.logger.Error("Failed to remove datasource %v: %v", name, derr)
		}
		return err
	}
	return nil
}

// findPolicyName returns the name of the policy with the given name or ID.
func (r *Runtime) findPolicyName(nameOrID string) (string, bool) {
	if _, ok := r.policies[nameOrID]; ok {
		return nameOrID, true
	}
	for name, p := range r.policies {
		if p.info.ID == nameOrID {
			return name, true
		}
	}
	return "", false
}

// DeletePolicy removes the policy with the given name or ID. Its contents
// are deleted first so that policies referencing it are updated. If
// disallowDangling is true, the policy is not deleted while rules of other
// policies reference it.
func (r *Runtime) DeletePolicy(nameOrID string, disallowDangling bool) error {
	name, ok := r.findPolicyName(nameOrID)
	if !ok {
		return newError(PolicyNotExist, "Policy %s could not be found", nameOrID)
	}
	r.logger.Info("Deleting policy named %s", name)
	if disallowDangling {
		if refs := r.referencesTo(name); len(refs) > 0 {
			return newError(DanglingReference, "Cannot delete %s because it would leave dangling references: %s", name, strings.Join(refs, ";"))
		}
	}
	content := r.policies[name].theory.Content()
	events := make([]*ast.Event, len(content))
	for i := range content {
		events[i] = ast.NewEvent(content[i], false, name)
	}
	if _, err := r.apply(events, true); err != nil {
		return &Error{Name: PolicyError, Message: "Policy " + name + " could not be deleted since rules could not all be deleted: " + err.Error()}
	}
	kept := r.disabled[:0]
	for _, e := range r.disabled {
		if e.Target != name {
			kept = append(kept, e)
		}
	}
	r.disabled = kept
	for id, rec := range r.rules {
		if rec.PolicyName == name {
			delete(r.rules, id)
		}
	}
	r.triggers.UnregisterPolicy(name)
	delete(r.policies, name)
	r.queries.Purge()
	_, err := r.refreshMirrors([]string{name})
	return err
}

// referencesTo returns the rules of other policies that reference tables of
// the policy.
func (r *Runtime) referencesTo(name string) []string {
	prefix := name + ":"
	var refs []string
	for _, other := range r.PolicyNames() {
		if other == name {
			continue
		}
		for _, f := range r.policies[other].theory.Content() {
			rule, ok := f.(*ast.Rule)
			if !ok || len(rule.Body) == 0 {
				continue
			}
			for _, t := range rule.Tablenames() {
				if strings.HasPrefix(t, prefix) {
					refs = append(refs, other+": "+rule.String())
					break
				}
			}
		}
	}
	return refs
}

// RenamePolicy changes the name of a policy. The contents are moved to a new
// policy of the same kind; rules of other policies keep referring to the old
// name.
func (r *Runtime) RenamePolicy(oldname, newname string) error {
	if _, ok := r.policies[newname]; ok {
		return newError(PolicyExists, "Cannot rename %s to %s: %s already exists", oldname, newname, newname)
	}
	old, ok := r.policies[oldname]
	if !ok {
		return newError(PolicyNotExist, "Cannot rename %s to %s: %s does not exist", oldname, newname, oldname)
	}
	if !ast.IsValidName(newname) {
		return newError(PolicyNameMustBeID, "Policy name %s is not a valid tablename", newname)
	}
	th, err := theory.New(old.theory.Kind(), newname, theory.Options{
		Abbr:     old.theory.Abbr(),
		Schema:   old.theory.Schema(),
		Resolver: r.resolve,
		Logger:   r.logger,
	})
	if err != nil {
		return err
	}
	content := old.theory.Content()
	var graphEvents []*ast.Event
	for _, f := range content {
		graphEvents = append(graphEvents, ast.NewEvent(f, false, oldname), ast.NewEvent(f, true, newname))
	}
	changes := r.graph.Update(graphEvents)
	if r.graph.HasCycle() {
		cycle := r.graph.CycleString()
		r.graph.Undo(changes)
		return &Error{Name: PolicyError, Errors: ast.Errors{ast.NewError(ast.RecursionErr, nil, "Rules are recursive: %v", cycle)}}
	}
	if _, err := th.Define(content); err != nil {
		r.graph.Undo(changes)
		return wrapErrors(PolicyError, err)
	}
	r.triggers.UpdateDependencies()

	delete(r.policies, oldname)
	info := old.info
	info.Name = newname
	r.policies[newname] = &policy{info: info, theory: th}
	for _, e := range r.disabled {
		if e.Target == oldname {
			e.Target = newname
		}
	}
	for _, rec := range r.rules {
		if rec.PolicyName == oldname {
			rec.PolicyName = newname
		}
	}
	r.triggers.RenamePolicy(oldname, newname)
	r.queries.Purge()
	_, err = r.refreshMirrors([]string{oldname, newname})
	return err
}

// PolicyNames returns the sorted names of the policies.
func (r *Runtime) PolicyNames() []string {
	return util.SortedKeys(r.policies)
}

// Policies returns the metadata of every policy sorted by name.
func (r *Runtime) Policies() []PolicyInfo {
	result := make([]PolicyInfo, 0, len(r.policies))
	for _, name := range r.PolicyNames() {
		result = append(result, r.policies[name].info)
	}
	return result
}

// PolicyInfo returns the metadata of the policy with the given name or ID.
func (r *Runtime) PolicyInfo(nameOrID string) (PolicyInfo, error) {
	name, ok := r.findPolicyName(nameOrID)
	if !ok {
		return PolicyInfo{}, newError(PolicyNotExist, "Policy %s could not be found", nameOrID)
	}
	return r.policies[name].info, nil
}

// Theory returns the policy with the given name.
func (r *Runtime) Theory(name string) (theory.Theory, bool) {
	p, ok := r.policies[name]
	if !ok {
		return nil, false
	}
	return p.theory, true
}

// target returns the policy named name. If name is empty and there is
// exactly one policy, that policy is returned.
func (r *Runtime) target(name string) (theory.Theory, error) {
	if name == "" {
		switch len(r.policies) {
		case 0:
			return nil, newError(PolicyNotExist, "No policies exist.")
		case 1:
			for _, p := range r.policies {
				return p.theory, nil
			}
		default:
			return nil, newError(PolicyNotExist, "Must choose a policy to operate on")
		}
	}
	p, ok := r.policies[name]
	if !ok {
		return nil, newError(PolicyNotExist, "Unknown policy %s%s", name, r.suggest(name))
	}
	return p.theory, nil
}

func (r *Runtime) suggest(name string) string {
	if s := util.Suggest(name, r.PolicyNames(), 3); len(s) > 0 {
		return " (did you mean " + strings.Join(s, ", ") + "?)"
	}
	return ""
}

// Policy returns the rules of the policy.
func (r *Runtime) Policy(target string) ([]*ast.Rule, error) {
	th, err := r.target(target)
	if err != nil {
		return nil, err
	}
	var result []*ast.Rule
	for _, f := range th.Content() {
		if rule, ok := f.(*ast.Rule); ok && len(rule.Body) > 0 {
			result = append(result, rule)
		}
	}
	return result, nil
}

// Content returns the facts and rules of the policy.
func (r *Runtime) Content(target string) ([]ast.Formula, error) {
	th, err := r.target(target)
	if err != nil {
		return nil, err
	}
	return th.Content(), nil
}

// SetSchema sets the schema of a policy that has none yet. Disabled events
// that were waiting for the schema are applied.
func (r *Runtime) SetSchema(name string, schema *ast.Schema) error {
	p, ok := r.policies[name]
	if !ok {
		return newError(PolicyNotExist, "Cannot set policy for %s because it has not been created", name)
	}
	if s := p.theory.Schema(); s != nil && len(s.Tablenames()) > 0 {
		return newError(PolicyError, "Schema for %s already set", name)
	}
	if err := types.Default.CheckSchema(schema); err != nil {
		return newError(PolicyError, "%v", err)
	}
	p.theory.SetSchema(schema)
	r.queries.Purge()

	enabled, disabled, errs := r.eliminateColumnReferences(r.disabled)
	r.disabled = disabled
	r.rejected = append(r.rejected, errs...)
	for _, e := range enabled {
		if _, err := r.apply([]*ast.Event{e}, true); err != nil {
			r.logger.Warn("Disabled event %v rejected: %v", e, err)
			r.rejected = append(r.rejected, RejectedEvent{Event: e, Errors: ast.AsErrors(err)})
		}
	}
	return nil
}

// DisabledEvents returns the events waiting for a schema.
func (r *Runtime) DisabledEvents() []*ast.Event {
	return append([]*ast.Event(nil), r.disabled...)
}

// RejectedEvents returns the disabled events that failed once their schema
// was set.
func (r *Runtime) RejectedEvents() []RejectedEvent {
	return append([]RejectedEvent(nil), r.rejected...)
}

// Arity returns the number of columns of the table from the point of view of
// the policy. Tables of other policies are named policy:table.
func (r *Runtime) Arity(table, policy string) (int, bool) {
	th, err := r.target(policy)
	if err != nil {
		return 0, false
	}
	if n, ok := th.Arity(table); ok {
		return n, true
	}
	other, name := ast.PartitionTablename(table)
	if p, ok := r.policies[other]; ok && other != "" {
		return p.theory.Arity(name)
	}
	return 0, false
}

// Tablenames returns the sorted tables occurring in the policy, or in every
// policy if policy is empty. Builtins and the tables introduced by self-join
// elimination are omitted.
func (r *Runtime) Tablenames(policy string) ([]string, error) {
	names := r.PolicyNames()
	if policy != "" {
		if _, err := r.target(policy); err != nil {
			return nil, err
		}
		names = []string{policy}
	}
	seen := map[string]struct{}{}
	for _, name := range names {
		th := r.policies[name].theory
		for _, t := range th.DefinedTables() {
			if !theory.IsAuxTable(t) && !strings.Contains(t, ":") {
				seen[t] = struct{}{}
			}
		}
		for _, f := range th.Content() {
			for _, lit := range formulaLiterals(f) {
				if lit.IsBuiltin() || theory.IsAuxTable(lit.Table) {
					continue
				}
				seen[lit.Tablename()] = struct{}{}
			}
		}
	}
	result := make([]string, 0, len(seen))
	for t := range seen {
		result = append(result, t)
	}
	sort.Strings(result)
	return result, nil
}

func formulaLiterals(f ast.Formula) []*ast.Literal {
	switch f := f.(type) {
	case *ast.Literal:
		return []*ast.Literal{f}
	case *ast.Rule:
		return append(append([]*ast.Literal(nil), f.Heads...), f.Body...)
	}
	return nil
}
