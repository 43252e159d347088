// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package storage

import (
	"errors"
	"fmt"
)

// ErrCode identifies the errors returned by the storage layer.
type ErrCode int

const (
	// InternalErr indicates an unexpected failure.
	InternalErr ErrCode = iota

	// ArityErr indicates a tuple is too short for one of the columns indexed
	// by its table.
	ArityErr
)

// Error is the error type returned by the storage layer.
type Error struct {
	Code    ErrCode
	Message string
}

func (err *Error) Error() string {
	return fmt.Sprintf("storage error (code: %d): %v", err.Code, err.Message)
}

// IsArityErr returns true if err is an ArityErr.
func IsArityErr(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == ArityErr
}

func arityError(f string, a ...interface{}) *Error {
	return &Error{Code: ArityErr, Message: fmt.Sprintf(f, a...)}
}
