// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package runtime

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/open-policy-agent/congress/ast"
)

// Names of the errors returned by the runtime.
const (
	AddItemID              = "add_item_id"
	RuleSyntax             = "rule_syntax"
	MultipleRules          = "multiple_rules"
	IncompleteSimulateArgs = "incomplete_simulate_args"
	SimulateWithoutPolicy  = "simulate_without_policy"
	SequenceSyntax         = "sequence_syntax"
	SimulateError          = "simulate_error"
	RuleAlreadyExists      = "rule_already_exists"
	SchemaGetItemID        = "schema_get_item_id"
	PolicyNameRequired     = "policy_name_must_be_provided"
	PolicyNameMustBeID     = "policy_name_must_be_id"
	NoPolicyUpdateOwner    = "no_policy_update_owner"
	NoPolicyUpdateKind     = "no_policy_update_kind"
	FailedToCreatePolicy   = "failed_to_create_policy"
	PolicyIDNotPermitted   = "policy_id_must_not_be_provided"
	PolicyNotExist         = "policy_not_exist"
	PolicyExists           = "policy_exists"
	RuleNotExists          = "rule_not_exists"
	DanglingReference      = "dangling_reference"
	PolicyError            = "policy_error"
)

type errorCode struct {
	code        int
	description string
	status      int
}

var errorCodes = map[string]errorCode{
	AddItemID:              {1001, "Add item does not support user-chosen ID", http.StatusBadRequest},
	RuleSyntax:             {1002, "Syntax error for rule", http.StatusBadRequest},
	MultipleRules:          {1003, "Received string representing more than 1 rule", http.StatusBadRequest},
	IncompleteSimulateArgs: {1004, "Simulate requires parameters: query, sequence, action_policy", http.StatusBadRequest},
	SimulateWithoutPolicy:  {1005, "Simulate must be told which policy evaluate the query on", http.StatusBadRequest},
	SequenceSyntax:         {1006, "Syntax error in sequence", http.StatusBadRequest},
	SimulateError:          {1007, "Error in simulate procedure", http.StatusBadRequest},
	RuleAlreadyExists:      {1008, "Rule already exists", http.StatusConflict},
	SchemaGetItemID:        {1009, "Get item for schema does not support user-chosen ID", http.StatusBadRequest},
	PolicyNameRequired:     {1010, "A name must be provided when creating a policy", http.StatusBadRequest},
	PolicyNameMustBeID:     {1011, "A policy name must be a valid tablename", http.StatusBadRequest},
	NoPolicyUpdateOwner:    {1012, "The policy owner_id cannot be updated", http.StatusBadRequest},
	NoPolicyUpdateKind:     {1013, "The policy kind cannot be updated", http.StatusBadRequest},
	FailedToCreatePolicy:   {1014, "A new policy could not be created", http.StatusBadRequest},
	PolicyIDNotPermitted:   {1015, "An ID may not be provided when creating a policy", http.StatusBadRequest},
}

const (
	unknownCode        = 1000
	unknownDescription = "Unknown error"
)

// ErrorCode returns the numeric code, the description and the HTTP status
// of the named error. Names without an entry get the generic code 1000.
func ErrorCode(name string) (int, string, int) {
	if c, ok := errorCodes[name]; ok {
		return c.code, c.description, c.status
	}
	switch name {
	case PolicyNotExist, RuleNotExists:
		return unknownCode, unknownDescription, http.StatusNotFound
	case PolicyExists:
		return unknownCode, unknownDescription, http.StatusConflict
	}
	return unknownCode, unknownDescription, http.StatusBadRequest
}

// Error is the error type returned by the runtime. Name identifies its
// entry in the error code table. Compile and evaluation errors that caused
// it are available through Errors and errors.As.
type Error struct {
	Name    string
	Message string
	Errors  ast.Errors
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if len(e.Errors) > 0 {
		return e.Errors.Error()
	}
	_, desc, _ := ErrorCode(e.Name)
	return desc
}

// Unwrap returns the underlying AST errors, if any.
func (e *Error) Unwrap() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e.Errors
}

// Code returns the numeric code of the error.
func (e *Error) Code() int {
	code, _, _ := ErrorCode(e.Name)
	return code
}

// HTTPStatus returns the HTTP status code that corresponds to the error.
func (e *Error) HTTPStatus() int {
	_, _, status := ErrorCode(e.Name)
	return status
}

// IsError returns true if err is a runtime error with the given name.
func IsError(name string, err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Name == name
}

func newError(name string, f string, a ...interface{}) *Error {
	return &Error{Name: name, Message: fmt.Sprintf(f, a...)}
}

// wrapErrors turns err into a runtime error with the given name unless it
// already is one.
func wrapErrors(name string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	errs := ast.AsErrors(err)
	return &Error{Name: name, Errors: errs}
}
