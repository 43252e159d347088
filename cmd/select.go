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
	"github.com/open-policy-agent/congress/metrics"
	pr "github.com/open-policy-agent/congress/presentation"
	"github.com/open-policy-agent/congress/runtime"
	"github.com/open-policy-agent/congress/util"
)

type selectParams struct {
	engineParams
	format        *util.EnumFlag
	trace         bool
	firstOnly     bool
	metrics       bool
	metricsFormat *util.EnumFlag
}

func newSelectParams() selectParams {
	return selectParams{
		engineParams:  newEngineParams(),
		format:        formats.Flag(formats.Pretty, formats.JSON, formats.YAML, formats.Datalog),
		metricsFormat: formats.Flag(formats.Table, formats.Prometheus),
	}
}

var configuredSelectParams = newSelectParams()

var selectCommand = &cobra.Command{
	Use:   "select <query>",
	Short: "Query a policy",
	Long: `Query a policy.

The query is a literal or a conjunction of literals that is evaluated against
the policy selected with --policy after loading the files given with --data.
The command prints every instance of the query that is true.

Example:

    $ congress select --data servers.data.json --data rules.dl 'error(x)'
`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return errors.New("specify exactly one query argument")
		}
		return env.CmdFlags.CheckEnvironmentVariables(cmd)
	},
	RunE: func(_ *cobra.Command, args []string) error {
		if exit := selectQuery(args, &configuredSelectParams, os.Stdout, os.Stderr); exit != 0 {
			return newExitError(exit)
		}
		return nil
	},
}

func selectQuery(args []string, params *selectParams, stdout, stderr io.Writer) int {
	format := params.format.String()

	e, err := newEngine(&params.engineParams, stderr, params.metrics)
	if err != nil {
		printErrors(stdout, format, err)
		return 1
	}
	policy := e.policy(&params.engineParams)

	result, err := e.rt.Select(args[0], policy, runtime.QueryOptions{
		Trace:     params.trace,
		FirstOnly: params.firstOnly,
	})
	if err != nil {
		printErrors(stdout, format, err)
		return 1
	}

	out := pr.NewOutput(result.Results)
	out.Trace = result.Trace
	structured := format == formats.JSON || format == formats.YAML
	if params.metrics && structured {
		out.Metrics = e.metrics.All()
	}
	if err := pr.Print(stdout, format, out, e.columns(policy)); err != nil {
		printErrors(stderr, formats.JSON, err)
		return 1
	}
	if params.metrics && !structured {
		if err := printMetrics(stdout, params.metricsFormat.String(), e.metrics); err != nil {
			printErrors(stderr, formats.JSON, err)
			return 1
		}
	}
	return 0
}

func printMetrics(w io.Writer, format string, m metrics.Metrics) error {
	if format == formats.Prometheus {
		mfs, err := metrics.Gather(m)
		if err != nil {
			return err
		}
		return metrics.WriteText(w, mfs)
	}
	pr.PrintMetrics(w, m)
	return nil
}

func printErrors(w io.Writer, format string, err error) {
	out := pr.Output{Errors: pr.NewOutputErrors(err)}
	switch format {
	case formats.JSON, formats.YAML:
		_ = pr.Print(w, format, out, nil)
	default:
		_ = pr.Print(w, formats.Pretty, out, nil)
	}
}

func init() {
	fs := selectCommand.Flags()
	configuredSelectParams.addFlags(fs, true)
	addOutputFormat(fs, configuredSelectParams.format)
	addTraceFlag(fs, &configuredSelectParams.trace)
	fs.BoolVarP(&configuredSelectParams.firstOnly, "first", "", false, "stop at the first answer")
	fs.BoolVarP(&configuredSelectParams.metrics, "metrics", "", false, "report query performance metrics")
	fs.VarP(configuredSelectParams.metricsFormat, "metrics-format", "", "set metrics format")
	RootCommand.AddCommand(selectCommand)
}
