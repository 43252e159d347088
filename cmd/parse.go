// Copyright 2018 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package cmd

import (
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/open-policy-agent/congress/ast"
	"github.com/open-policy-agent/congress/cmd/formats"
	"github.com/open-policy-agent/congress/cmd/internal/env"
	"github.com/open-policy-agent/congress/loader"
	pr "github.com/open-policy-agent/congress/presentation"
	"github.com/open-policy-agent/congress/util"
)

type parseParams struct {
	format *util.EnumFlag
}

var configuredParseParams = parseParams{
	format: formats.Flag(formats.Datalog, formats.JSON, formats.YAML),
}

var parseCommand = &cobra.Command{
	Use:   "parse <path>",
	Short: "Parse a Datalog policy file",
	Long: `Parse a Datalog policy file and print its formulas.

The formulas are printed in canonical form, one per line, or as a JSON or
YAML list of strings. Parse errors are printed to stderr as JSON.`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return errors.New("no source file specified")
		}
		return env.CmdFlags.CheckEnvironmentVariables(cmd)
	},
	RunE: func(_ *cobra.Command, args []string) error {
		if exit := parse(args, &configuredParseParams, os.Stdout, os.Stderr); exit != 0 {
			return newExitError(exit)
		}
		return nil
	},
}

func parse(args []string, params *parseParams, stdout io.Writer, stderr io.Writer) int {
	if len(args) == 0 {
		return 0
	}

	result, err := loader.Policy(args[0])
	if err != nil {
		_ = pr.PrintJSON(stderr, pr.Output{Errors: pr.NewOutputErrors(err)})
		return 1
	}

	format := params.format.String()
	if format != formats.JSON && format != formats.YAML {
		format = formats.Datalog
	}
	if err := pr.Print(stdout, format, parsedOutput(result.Parsed), nil); err != nil {
		_ = pr.PrintJSON(stderr, pr.Output{Errors: pr.NewOutputErrors(err)})
		return 1
	}
	return 0
}

func parsedOutput(fs []ast.Formula) pr.Output {
	out := pr.NewOutput(fs)
	if out.Results == nil {
		out.Results = []string{}
	}
	return out
}

func init() {
	addOutputFormat(parseCommand.Flags(), configuredParseParams.format)
	RootCommand.AddCommand(parseCommand)
}
