// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package topdown

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gobwas/glob"

	"github.com/open-policy-agent/congress/ast"
)

// Op defines the types of tracing events.
type Op string

const (
	// CallOp is emitted when a literal is about to be evaluated.
	CallOp Op = "Call"

	// ExitOp is emitted when a literal has evaluated to true.
	ExitOp Op = "Exit"

	// FailOp is emitted when a literal has no (more) solutions.
	FailOp Op = "Fail"

	// RedoOp is emitted when a literal is being re-evaluated to find further
	// solutions.
	RedoOp Op = "Redo"

	// SaveOp is emitted when abduction assumes a literal instead of
	// evaluating it.
	SaveOp Op = "Save"

	// NoteOp carries a free form message.
	NoteOp Op = "Note"
)

// Event contains state associated with a tracing event.
type Event struct {
	Op      Op           // Identifies type of event.
	Theory  string       // Policy that emitted the event.
	Table   string       // Table the event relates to, if any.
	Literal *ast.Literal // Literal being evaluated, nil for notes.
	Message string       // Text of a note.
	Depth   int          // Nesting depth of the evaluation.
}

// Equal returns true if this event is equal to the other event.
func (evt Event) Equal(other Event) bool {
	if evt.Op != other.Op || evt.Depth != other.Depth || evt.Message != other.Message || evt.Table != other.Table {
		return false
	}
	if evt.Literal == nil || other.Literal == nil {
		return evt.Literal == other.Literal
	}
	return evt.Literal.Equal(other.Literal)
}

func (evt Event) String() string {
	prefix := strings.Repeat("| ", evt.Depth)
	if evt.Op == NoteOp {
		return fmt.Sprintf("%v%v: %v", prefix, evt.Op, evt.Message)
	}
	return fmt.Sprintf("%v%v: %v", prefix, evt.Op, evt.Literal)
}

// Tracer defines the interface for tracing in the top-down evaluation engine.
type Tracer interface {
	Enabled() bool
	Trace(evt Event)
}

// BufferTracer collects the events of tables matching a set of glob
// patterns. A tracer without patterns records every event.
type BufferTracer struct {
	mtx      sync.Mutex
	patterns []glob.Glob
	events   []Event
}

// NewBufferTracer returns a tracer that records the events of the tables
// matching any of the patterns, e.g. "nova:*".
func NewBufferTracer(patterns ...string) (*BufferTracer, error) {
	t := &BufferTracer{}
	for _, p := range patterns {
		g, err := glob.Compile(p, ':')
		if err != nil {
			return nil, fmt.Errorf("invalid trace pattern %q: %w", p, err)
		}
		t.patterns = append(t.patterns, g)
	}
	return t, nil
}

// Enabled always returns true.
func (t *BufferTracer) Enabled() bool {
	return t != nil
}

// Trace records evt if its table is traced.
func (t *BufferTracer) Trace(evt Event) {
	if !t.IsTraced(evt.Table) {
		return
	}
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.events = append(t.events, evt)
}

// IsTraced returns true if events of the table are recorded. Events that
// are not associated with a table are always recorded.
func (t *BufferTracer) IsTraced(table string) bool {
	if len(t.patterns) == 0 || table == "" {
		return true
	}
	for _, g := range t.patterns {
		if g.Match(table) {
			return true
		}
	}
	return false
}

// Events returns the recorded events.
func (t *BufferTracer) Events() []Event {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return append([]Event(nil), t.events...)
}

// Reset drops the recorded events.
func (t *BufferTracer) Reset() {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.events = nil
}

func (t *BufferTracer) String() string {
	var sb strings.Builder
	PrettyTrace(&sb, t.Events())
	return sb.String()
}

// PrettyTrace writes one line per event to w.
func PrettyTrace(w io.Writer, trace []Event) {
	for _, evt := range trace {
		fmt.Fprintln(w, evt.String())
	}
}
