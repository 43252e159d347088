// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package presentation prints query results, policies and metrics for the
// CLI and the REPL.
package presentation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/sergi/go-diff/diffmatchpatch"
	"gopkg.in/yaml.v3"

	"github.com/open-policy-agent/congress/ast"
	"github.com/open-policy-agent/congress/metrics"
	"github.com/open-policy-agent/congress/runtime"
)

// Output formats.
const (
	Pretty  = "pretty"
	JSON    = "json"
	YAML    = "yaml"
	Datalog = "datalog"
)

// Formats returns the supported output formats.
func Formats() []string {
	return []string{Pretty, JSON, YAML, Datalog}
}

// Output is the printable result of a command.
type Output struct {
	Results []string               `json:"results" yaml:"results"`
	Trace   string                 `json:"trace,omitempty" yaml:"trace,omitempty"`
	Metrics map[string]interface{} `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Errors  []OutputError          `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// OutputError is the printable form of an error.
type OutputError struct {
	Code     string `json:"code" yaml:"code"`
	Message  string `json:"message" yaml:"message"`
	Location string `json:"location,omitempty" yaml:"location,omitempty"`
}

// NewOutput returns the output of the formulas.
func NewOutput(fs []ast.Formula) Output {
	out := Output{Results: make([]string, len(fs))}
	for i := range fs {
		out.Results[i] = fs[i].String()
	}
	return out
}

// NewOutputErrors converts err to output errors. AST errors keep their code
// and location; runtime errors use their name.
func NewOutputErrors(err error) []OutputError {
	if err == nil {
		return nil
	}
	var rterr *runtime.Error
	if errors.As(err, &rterr) && len(rterr.Errors) == 0 {
		return []OutputError{{Code: rterr.Name, Message: rterr.Error()}}
	}
	if multi, ok := err.(interface{ Unwrap() []error }); ok {
		var result []OutputError
		for _, e := range multi.Unwrap() {
			result = append(result, NewOutputErrors(e)...)
		}
		return result
	}
	errs := ast.AsErrors(err)
	result := make([]OutputError, len(errs))
	for i, e := range errs {
		result[i] = OutputError{Code: e.Code.String(), Message: e.Message}
		if e.Location != nil {
			result[i].Location = fmt.Sprintf("%v:%v", e.Location.Row, e.Location.Col)
			if e.Location.File != "" {
				result[i].Location = e.Location.File + ":" + result[i].Location
			}
		}
	}
	return result
}

// Print writes the output in the format. Pretty output prints results as
// tables grouped by table name.
func Print(w io.Writer, format string, out Output, columns func(table string) []string) error {
	switch format {
	case JSON:
		return PrintJSON(w, out)
	case YAML:
		return PrintYAML(w, out)
	case Datalog:
		return printDatalog(w, out)
	default:
		return printPretty(w, out, columns)
	}
}

// PrintJSON writes x as indented JSON.
func PrintJSON(w io.Writer, x interface{}) error {
	buf, err := json.MarshalIndent(x, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(buf))
	return err
}

// PrintYAML writes x as YAML.
func PrintYAML(w io.Writer, x interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(x); err != nil {
		return err
	}
	return enc.Close()
}

func printDatalog(w io.Writer, out Output) error {
	for _, e := range out.Errors {
		fmt.Fprintln(w, formatError(e))
	}
	for _, r := range out.Results {
		if _, err := fmt.Fprintln(w, r); err != nil {
			return err
		}
	}
	if out.Trace != "" {
		fmt.Fprint(w, out.Trace)
	}
	return nil
}

func printPretty(w io.Writer, out Output, columns func(table string) []string) error {
	for _, e := range out.Errors {
		fmt.Fprintln(w, formatError(e))
	}
	if len(out.Errors) > 0 {
		return nil
	}
	if out.Trace != "" {
		fmt.Fprint(w, out.Trace)
	}
	if len(out.Results) == 0 {
		_, err := fmt.Fprintln(w, "undefined")
		return err
	}
	groups, order, rest := groupRows(out.Results)
	for _, table := range order {
		rows := groups[table]
		var header []string
		if columns != nil {
			header = columns(table)
		}
		if len(header) != len(rows[0]) {
			header = make([]string, len(rows[0]))
			for i := range header {
				header[i] = fmt.Sprint(i)
			}
		}
		fmt.Fprintln(w, table)
		tw := tablewriter.NewWriter(w)
		tw.SetAutoFormatHeaders(false)
		tw.SetAlignment(tablewriter.ALIGN_LEFT)
		tw.SetHeader(header)
		tw.AppendBulk(rows)
		tw.Render()
	}
	for _, r := range rest {
		fmt.Fprintln(w, r)
	}
	if len(out.Metrics) > 0 {
		printMetrics(w, out.Metrics)
	}
	return nil
}

// groupRows splits the ground atoms among the results into rows grouped by
// table. Results that are not ground atoms are returned as they are.
func groupRows(results []string) (map[string][][]string, []string, []string) {
	groups := map[string][][]string{}
	var order, rest []string
	for _, r := range results {
		lit, err := ast.ParseLiteral(r)
		if err != nil || !lit.IsGround() || lit.Negated || len(lit.Args) == 0 {
			rest = append(rest, r)
			continue
		}
		table := lit.Tablename()
		if rows, ok := groups[table]; ok && len(rows[0]) != len(lit.Args) {
			rest = append(rest, r)
			continue
		}
		row := make([]string, len(lit.Args))
		for i, arg := range lit.Args {
			row[i] = arg.String()
		}
		if _, ok := groups[table]; !ok {
			order = append(order, table)
		}
		groups[table] = append(groups[table], row)
	}
	return groups, order, rest
}

func formatError(e OutputError) string {
	if e.Location != "" {
		return fmt.Sprintf("%v: %v: %v", e.Location, e.Code, e.Message)
	}
	return fmt.Sprintf("%v: %v", e.Code, e.Message)
}

// PrintPolicies writes the metadata of the policies as a table.
func PrintPolicies(w io.Writer, policies []runtime.PolicyInfo) {
	tw := tablewriter.NewWriter(w)
	tw.SetAutoFormatHeaders(false)
	tw.SetAlignment(tablewriter.ALIGN_LEFT)
	tw.SetHeader([]string{"name", "kind", "abbreviation", "id", "description"})
	for _, p := range policies {
		tw.Append([]string{p.Name, p.Kind, p.Abbr, p.ID, p.Description})
	}
	tw.Render()
}

// PrintMetrics writes the metrics as a table sorted by name.
func PrintMetrics(w io.Writer, m metrics.Metrics) {
	printMetrics(w, m.All())
}

func printMetrics(w io.Writer, all map[string]interface{}) {
	rows := make([][]string, 0, len(all))
	for name, v := range all {
		rows = append(rows, []string{name, fmt.Sprint(v)})
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i][0] < rows[j][0]
	})
	tw := tablewriter.NewWriter(w)
	tw.SetAutoFormatHeaders(false)
	tw.SetAlignment(tablewriter.ALIGN_LEFT)
	tw.SetHeader([]string{"metric", "value"})
	tw.AppendBulk(rows)
	tw.Render()
}

// PrintDiff writes a line diff between the string forms of two sets of
// formulas. Both sides are sorted first.
func PrintDiff(w io.Writer, before, after []ast.Formula) error {
	a, b := sortedLines(before), sortedLines(after)
	dmp := diffmatchpatch.New()
	ca, cb, lines := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(ca, cb, false), lines)
	for _, d := range diffs {
		prefix := "  "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			if _, err := fmt.Fprint(w, prefix+line); err != nil {
				return err
			}
		}
	}
	return nil
}

func sortedLines(fs []ast.Formula) string {
	strs := make([]string, len(fs))
	for i := range fs {
		strs[i] = fs[i].String() + "\n"
	}
	sort.Strings(strs)
	return strings.Join(strs, "")
}
