// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package cmd

import (
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/open-policy-agent/congress/cmd/formats"
	"github.com/open-policy-agent/congress/cmd/internal/env"
	pr "github.com/open-policy-agent/congress/presentation"
	"github.com/open-policy-agent/congress/runtime"
	"github.com/open-policy-agent/congress/util"
)

type simulateParams struct {
	engineParams
	format       *util.EnumFlag
	actionPolicy string
	delta        bool
	trace        bool
	diff         bool
}

func newSimulateParams() simulateParams {
	return simulateParams{
		engineParams: newEngineParams(),
		format:       formats.Flag(formats.Pretty, formats.JSON, formats.YAML, formats.Datalog),
	}
}

var configuredSimulateParams = newSimulateParams()

var simulateCommand = &cobra.Command{
	Use:   "simulate <query> <sequence>",
	Short: "Query a policy as it would be after a sequence of actions",
	Long: `Query a policy as it would be after a sequence of actions.

The sequence is a list of updates (p+(1), p-(2)) and actions (a(1)) whose
effects are defined by the rules of the action policy. The policy is left
unchanged.

Example:

    $ congress simulate --data rules.dl 'p(x)' 'q+(1) a(2)'
`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 2 {
			return errors.New("specify a query and a sequence")
		}
		return env.CmdFlags.CheckEnvironmentVariables(cmd)
	},
	RunE: func(_ *cobra.Command, args []string) error {
		if exit := simulate(args, &configuredSimulateParams, os.Stdout, os.Stderr); exit != 0 {
			return newExitError(exit)
		}
		return nil
	},
}

func simulate(args []string, params *simulateParams, stdout, stderr io.Writer) int {
	format := params.format.String()

	e, err := newEngine(&params.engineParams, stderr, false)
	if err != nil {
		printErrors(stdout, format, err)
		return 1
	}
	policy := e.policy(&params.engineParams)
	actionPolicy := params.actionPolicy
	if actionPolicy == "" {
		actionPolicy = e.config.ActionTheory
	}

	var before *runtime.QueryResult
	if params.diff {
		before, err = e.rt.Select(args[0], policy, runtime.QueryOptions{})
		if err != nil {
			printErrors(stdout, format, err)
			return 1
		}
	}

	result, err := e.rt.Simulate(args[0], policy, args[1], actionPolicy, runtime.SimulateOptions{
		Delta: params.delta && !params.diff,
		Trace: params.trace,
	})
	if err != nil {
		printErrors(stdout, format, err)
		return 1
	}

	if params.diff {
		if err := pr.PrintDiff(stdout, before.Results, result.Results); err != nil {
			printErrors(stderr, formats.JSON, err)
			return 1
		}
		return 0
	}

	out := pr.NewOutput(result.Results)
	out.Trace = result.Trace
	if err := pr.Print(stdout, format, out, e.columns(policy)); err != nil {
		printErrors(stderr, formats.JSON, err)
		return 1
	}
	return 0
}

func init() {
	fs := simulateCommand.Flags()
	configuredSimulateParams.addFlags(fs, true)
	addOutputFormat(fs, configuredSimulateParams.format)
	addTraceFlag(fs, &configuredSimulateParams.trace)
	fs.StringVarP(&configuredSimulateParams.actionPolicy, "action-policy", "a", "", "set the policy defining the actions (default from configuration)")
	fs.BoolVarP(&configuredSimulateParams.delta, "delta", "", false, "print the changes to the answers instead of the answers")
	fs.BoolVarP(&configuredSimulateParams.diff, "diff", "", false, "print a diff of the answers before and after the sequence")
	RootCommand.AddCommand(simulateCommand)
}
