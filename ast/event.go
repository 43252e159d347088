// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package ast

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Proof records why a derived tuple holds: the rule that derived it and the
// binding of that rule's variables. Base facts have no proofs.
type Proof struct {
	Binding Binding
	Rule    *Rule
}

// Key returns a string that uniquely identifies the proof.
func (p Proof) Key() string {
	return p.Rule.Key() + "|" + p.Binding.Key()
}

func (p Proof) String() string {
	return fmt.Sprintf("%v with %v", p.Rule, p.Binding)
}

// Event represents the insertion or deletion of a formula into a target
// policy.
type Event struct {
	Formula Formula
	Insert  bool
	Target  string
	Proofs  []Proof
}

// NewEvent returns a new event.
func NewEvent(f Formula, insert bool, target string) *Event {
	return &Event{Formula: f, Insert: insert, Target: target}
}

// Tablename returns the name of the table the event's formula defines.
func (e *Event) Tablename() string {
	return Tablename(e.Formula)
}

// Copy returns a shallow copy of the event.
func (e *Event) Copy() *Event {
	cpy := *e
	cpy.Proofs = append([]Proof(nil), e.Proofs...)
	return &cpy
}

// Key returns a string identifying the event's operation, target and formula.
func (e *Event) Key() string {
	op := "-"
	if e.Insert {
		op = "+"
	}
	return op + e.Target + "|" + e.Formula.Key()
}

func (e *Event) String() string {
	op := ModalDelete
	if e.Insert {
		op = ModalInsert
	}
	s := op + "[" + e.Formula.String() + "]"
	if e.Target != "" {
		s += " for " + e.Target
	}
	if len(e.Proofs) > 0 {
		strs := make([]string, len(e.Proofs))
		for i := range e.Proofs {
			strs[i] = e.Proofs[i].String()
		}
		s += " with proofs " + strings.Join(strs, "; ")
	}
	return s
}

type eventJSON struct {
	Formula string `json:"formula"`
	Insert  bool   `json:"insert"`
	Target  string `json:"target,omitempty"`
}

// MarshalJSON encodes the event in its wire shape.
func (e *Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventJSON{
		Formula: e.Formula.String(),
		Insert:  e.Insert,
		Target:  e.Target,
	})
}

// UnmarshalJSON decodes an event from its wire shape. The formula is parsed
// without schema information.
func (e *Event) UnmarshalJSON(bs []byte) error {
	var raw eventJSON
	if err := json.Unmarshal(bs, &raw); err != nil {
		return err
	}
	f, err := ParseOne(raw.Formula)
	if err != nil {
		return err
	}
	e.Formula = f
	e.Insert = raw.Insert
	e.Target = raw.Target
	return nil
}

// EventsToString returns the string forms of the events joined by newlines.
func EventsToString(es []*Event) string {
	strs := make([]string, len(es))
	for i := range es {
		strs[i] = es[i].String()
	}
	return strings.Join(strs, "\n")
}
