// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/open-policy-agent/congress/ast"
	"github.com/open-policy-agent/congress/cmd/formats"
	"github.com/open-policy-agent/congress/cmd/internal/env"
	pr "github.com/open-policy-agent/congress/presentation"
	"github.com/open-policy-agent/congress/util"
)

type checkParams struct {
	engineParams
	format *util.EnumFlag
}

func newCheckParams() checkParams {
	return checkParams{
		engineParams: newEngineParams(),
		format:       formats.Flag(formats.Pretty, formats.JSON),
	}
}

var configuredCheckParams = newCheckParams()

var checkCommand = &cobra.Command{
	Use:   "check <path> [path [...]]",
	Short: "Check policies for errors",
	Long: `Check policies for errors.

The 'check' command loads the policy, schema and data files under the paths
into a fresh engine and reports the errors found: parse errors, unsafe
variables, recursion through negation, arity mismatches and rules that refer
to columns the schemas do not declare. The exit code is non-zero if any
error is found.`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return errors.New("specify at least one file")
		}
		return env.CmdFlags.CheckEnvironmentVariables(cmd)
	},
	RunE: func(_ *cobra.Command, args []string) error {
		if exit := checkPolicies(args, &configuredCheckParams, os.Stdout, os.Stderr); exit != 0 {
			return newExitError(exit)
		}
		return nil
	},
}

func checkPolicies(args []string, params *checkParams, stdout, stderr io.Writer) int {
	engineParams := params.engineParams
	engineParams.dataPaths = append(append([]string{}, params.dataPaths...), args...)

	var errs []pr.OutputError
	e, err := newEngine(&engineParams, stderr, false)
	if err != nil {
		errs = pr.NewOutputErrors(err)
	} else {
		for _, ev := range e.rt.DisabledEvents() {
			errs = append(errs, pr.OutputError{
				Code:    ast.IncompleteSchemaErr.String(),
				Message: fmt.Sprintf("%v: schema of referenced policy is incomplete", ev.Formula),
			})
		}
		for _, rej := range e.rt.RejectedEvents() {
			errs = append(errs, pr.NewOutputErrors(rej.Errors)...)
		}
	}
	if len(errs) == 0 {
		return 0
	}

	out := pr.Output{Errors: errs}
	switch params.format.String() {
	case formats.JSON:
		_ = pr.PrintJSON(stdout, out)
	default:
		_ = pr.Print(stdout, formats.Pretty, out, nil)
	}
	return 1
}

func init() {
	configuredCheckParams.addFlags(checkCommand.Flags(), true)
	addOutputFormat(checkCommand.Flags(), configuredCheckParams.format)
	RootCommand.AddCommand(checkCommand)
}
