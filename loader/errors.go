// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package loader

import (
	"fmt"
	"strings"

	"github.com/open-policy-agent/congress/ast"
)

// loaderErrors collects the errors of every file that failed to load.
type loaderErrors []error

func (e loaderErrors) Error() string {
	if len(e) == 0 {
		return "no error(s)"
	}
	if len(e) == 1 {
		return "1 error occurred during loading: " + e[0].Error()
	}
	buf := make([]string, len(e))
	for i := range buf {
		buf[i] = e[i].Error()
	}
	return fmt.Sprintf("%v errors occurred during loading:\n", len(e)) + strings.Join(buf, "\n")
}

// Unwrap returns the collected errors.
func (e loaderErrors) Unwrap() []error {
	return e
}

// Add appends err. AST error collections are flattened.
func (e *loaderErrors) Add(err error) {
	if errs, ok := err.(ast.Errors); ok {
		for i := range errs {
			*e = append(*e, errs[i])
		}
		return
	}
	*e = append(*e, err)
}

type unrecognizedFile string

func (path unrecognizedFile) Error() string {
	return fmt.Sprintf("%v: can't recognize file type", string(path))
}

func isUnrecognizedFile(err error) bool {
	_, ok := err.(unrecognizedFile)
	return ok
}
