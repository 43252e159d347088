// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package runtime

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/open-policy-agent/congress/ast"
)

// RuleInput is a rule submitted by a user.
type RuleInput struct {
	Rule    string `json:"rule"`
	Name    string `json:"name,omitempty"`
	Comment string `json:"comment,omitempty"`
}

// RuleRecord is a rule stored with its metadata.
type RuleRecord struct {
	ID         string      `json:"id"`
	PolicyName string      `json:"policy_name"`
	RuleText   string      `json:"rule"`
	Comment    string      `json:"comment,omitempty"`
	Name       string      `json:"name,omitempty"`
	Formula    ast.Formula `json:"-"`

	seq int
}

// InsertRules parses and inserts each input as a single rule or fact into
// the policy and records it under a new ID. Nothing is inserted if any input
// is invalid or already present.
func (r *Runtime) InsertRules(policy string, inputs []RuleInput) ([]*RuleRecord, error) {
	th, err := r.target(policy)
	if err != nil {
		return nil, err
	}
	policy = th.Name()
	records := make([]*RuleRecord, 0, len(inputs))
	events := make([]*ast.Event, 0, len(inputs))
	seen := map[string]struct{}{}
	for _, in := range inputs {
		fs, err := r.parse(in.Rule)
		if err != nil {
			return nil, err
		}
		switch len(fs) {
		case 0:
			return nil, newError(RuleSyntax, "Empty string passed. Not a valid rule")
		case 1:
		default:
			strs := make([]string, len(fs))
			for i := range fs {
				strs[i] = fs[i].String()
			}
			return nil, newError(MultipleRules, "Received multiple rules: %s", strings.Join(strs, "; "))
		}
		f := fs[0]
		if _, ok := seen[f.Key()]; ok || th.Contains(f) || r.recorded(policy, f) {
			return nil, &Error{
				Name:    RuleAlreadyExists,
				Message: "Rule already exists: " + f.String(),
				Errors:  ast.Errors{ast.NewError(ast.DuplicateErr, f.Loc(), "Rule already exists: %v", f)},
			}
		}
		seen[f.Key()] = struct{}{}
		events = append(events, ast.NewEvent(f, true, policy))
		records = append(records, &RuleRecord{
			ID:         uuid.New().String(),
			PolicyName: policy,
			RuleText:   in.Rule,
			Comment:    in.Comment,
			Name:       in.Name,
			Formula:    f,
		})
	}
	if _, err := r.Update(events, policy); err != nil {
		return nil, err
	}
	for _, rec := range records {
		r.ruleSeq++
		rec.seq = r.ruleSeq
		r.rules[rec.ID] = rec
	}
	return records, nil
}

// recorded returns true if a rule record of the policy has the formula.
func (r *Runtime) recorded(policy string, f ast.Formula) bool {
	for _, rec := range r.rules {
		if rec.PolicyName == policy && rec.Formula.Key() == f.Key() {
			return true
		}
	}
	return false
}

// Rules returns the rule records of the policy in insertion order.
func (r *Runtime) Rules(policy string) ([]*RuleRecord, error) {
	th, err := r.target(policy)
	if err != nil {
		return nil, err
	}
	var result []*RuleRecord
	for _, rec := range r.rules {
		if rec.PolicyName == th.Name() {
			result = append(result, rec)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].seq < result[j].seq
	})
	return result, nil
}

// Rule returns the rule record with the given ID.
func (r *Runtime) Rule(policy, id string) (*RuleRecord, error) {
	rec, ok := r.rules[id]
	if !ok || rec.PolicyName != policy {
		return nil, newError(RuleNotExists, "Rule %s does not exist in policy %s", id, policy)
	}
	return rec, nil
}

// DeleteRuleByID deletes the recorded rule from its policy.
func (r *Runtime) DeleteRuleByID(policy, id string) (*RuleRecord, error) {
	rec, err := r.Rule(policy, id)
	if err != nil {
		return nil, err
	}
	if !r.removeDisabled(policy, rec.Formula) {
		if _, err := r.Update([]*ast.Event{ast.NewEvent(rec.Formula, false, policy)}, policy); err != nil {
			return nil, err
		}
	}
	delete(r.rules, id)
	return rec, nil
}

// removeDisabled drops the disabled insertion of the formula. It returns
// false if there is none.
func (r *Runtime) removeDisabled(policy string, f ast.Formula) bool {
	for i, e := range r.disabled {
		if e.Target == policy && e.Insert && e.Formula.Key() == f.Key() {
			r.disabled = append(r.disabled[:i], r.disabled[i+1:]...)
			return true
		}
	}
	return false
}
