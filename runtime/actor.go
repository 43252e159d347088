// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package runtime

import (
	"context"
	"errors"
	"sync"

	"github.com/open-policy-agent/congress/ast"
)

// ErrActorStopped is returned by requests sent to a stopped actor.
var ErrActorStopped = errors.New("runtime actor stopped")

// Publisher receives the changes caused by the updates an actor applies.
type Publisher interface {
	Publish(changes []*ast.Event)
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(changes []*ast.Event)

// Publish calls f.
func (f PublisherFunc) Publish(changes []*ast.Event) {
	f(changes)
}

type request struct {
	fn   func(*Runtime)
	done chan struct{}
}

// Actor owns a runtime and serializes every request to it on a single
// goroutine. Updates are applied in the order they are received and their
// changes are published in the same order.
type Actor struct {
	rt        *Runtime
	publisher Publisher
	requests  chan request
	stop      chan chan struct{}
	stopped   chan struct{}
	once      sync.Once
}

// NewActor returns an actor for the runtime. The publisher may be nil.
func NewActor(rt *Runtime, publisher Publisher) *Actor {
	return &Actor{
		rt:        rt,
		publisher: publisher,
		requests:  make(chan request),
		stop:      make(chan chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Start starts processing requests.
func (a *Actor) Start(_ context.Context) {
	go a.loop()
}

// Stop stops processing requests and waits for the request in progress to
// finish. Stop may be called more than once.
func (a *Actor) Stop(ctx context.Context) {
	a.once.Do(func() {
		done := make(chan struct{})
		select {
		case a.stop <- done:
			<-done
		case <-ctx.Done():
		}
		close(a.stopped)
	})
}

func (a *Actor) loop() {
	for {
		select {
		case req := <-a.requests:
			req.fn(a.rt)
			close(req.done)
		case done := <-a.stop:
			done <- struct{}{}
			return
		}
	}
}

// Do runs fn on the actor's goroutine and waits for it to return.
func (a *Actor) Do(ctx context.Context, fn func(*Runtime) error) error {
	var err error
	req := request{
		fn:   func(rt *Runtime) { err = fn(rt) },
		done: make(chan struct{}),
	}
	select {
	case a.requests <- req:
	case <-a.stopped:
		return ErrActorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-req.done
	return err
}

func (a *Actor) publish(changes []*ast.Event) {
	if a.publisher != nil && len(changes) > 0 {
		a.publisher.Publish(changes)
	}
}

// update runs fn and publishes the changes it returns.
func (a *Actor) update(ctx context.Context, fn func(*Runtime) ([]*ast.Event, error)) ([]*ast.Event, error) {
	var changes []*ast.Event
	err := a.Do(ctx, func(rt *Runtime) error {
		var err error
		changes, err = fn(rt)
		a.publish(changes)
		return err
	})
	return changes, err
}

// Insert inserts the policy text into the target policy.
func (a *Actor) Insert(ctx context.Context, text, target string) ([]*ast.Event, error) {
	return a.update(ctx, func(rt *Runtime) ([]*ast.Event, error) {
		return rt.Insert(text, target)
	})
}

// Delete deletes the policy text from the target policy.
func (a *Actor) Delete(ctx context.Context, text, target string) ([]*ast.Event, error) {
	return a.update(ctx, func(rt *Runtime) ([]*ast.Event, error) {
		return rt.Delete(text, target)
	})
}

// Update applies the events.
func (a *Actor) Update(ctx context.Context, events []*ast.Event, target string) ([]*ast.Event, error) {
	return a.update(ctx, func(rt *Runtime) ([]*ast.Event, error) {
		return rt.Update(events, target)
	})
}

// Select answers the query against the target policy.
func (a *Actor) Select(ctx context.Context, query, target string, opts QueryOptions) (*QueryResult, error) {
	var result *QueryResult
	err := a.Do(ctx, func(rt *Runtime) error {
		var err error
		result, err = rt.Select(query, target, opts)
		return err
	})
	return result, err
}

// Simulate answers the query as if the sequence had been applied.
func (a *Actor) Simulate(ctx context.Context, query, policy, sequence, actionPolicy string, opts SimulateOptions) (*SimulateResult, error) {
	var result *SimulateResult
	err := a.Do(ctx, func(rt *Runtime) error {
		var err error
		result, err = rt.Simulate(query, policy, sequence, actionPolicy, opts)
		return err
	})
	return result, err
}

// CreatePolicy creates an empty policy.
func (a *Actor) CreatePolicy(ctx context.Context, name string, opts PolicyOptions) (*PolicyInfo, error) {
	var info *PolicyInfo
	err := a.Do(ctx, func(rt *Runtime) error {
		var err error
		info, err = rt.CreatePolicy(name, opts)
		return err
	})
	return info, err
}

// DeletePolicy deletes a policy.
func (a *Actor) DeletePolicy(ctx context.Context, nameOrID string, disallowDangling bool) error {
	return a.Do(ctx, func(rt *Runtime) error {
		return rt.DeletePolicy(nameOrID, disallowDangling)
	})
}

// InitializeTables replaces the contents of tables of the target policy.
func (a *Actor) InitializeTables(ctx context.Context, tables []string, facts []*ast.Literal, target string) error {
	return a.Do(ctx, func(rt *Runtime) error {
		return rt.InitializeTables(tables, facts, target)
	})
}
