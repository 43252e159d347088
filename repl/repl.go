// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package repl implements a Read-Eval-Print-Loop (REPL) for interacting with
// the policies of a runtime.
//
// The REPL is typically used from the command line, however, it can also be
// used as a library.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/peterh/liner"
	"github.com/tchap/go-patricia/v2/patricia"

	"github.com/open-policy-agent/congress/ast"
	"github.com/open-policy-agent/congress/presentation"
	"github.com/open-policy-agent/congress/runtime"
	"github.com/open-policy-agent/congress/theory"
	"github.com/open-policy-agent/congress/version"
)

// REPL represents an instance of the interactive shell.
type REPL struct {
	output io.Writer
	actor  *runtime.Actor

	policy       string
	actionPolicy string
	buffer       []string

	outputFormat string
	trace        bool
	delta        bool
	historyPath  string
	initPrompt   string
	bufferPrompt string
	banner       string

	bufferDisabled    bool
	undefinedDisabled bool
}

// New returns a new instance of the REPL. Requests are sent to the policies
// through the actor, which must have been started.
func New(actor *runtime.Actor, historyPath string, output io.Writer, outputFormat string, banner string) *REPL {
	if outputFormat == "" {
		outputFormat = presentation.Pretty
	}
	return &REPL{
		output:       output,
		actor:        actor,
		policy:       runtime.DefaultTheory,
		actionPolicy: runtime.ActionTheory,
		outputFormat: outputFormat,
		historyPath:  historyPath,
		initPrompt:   "> ",
		bufferPrompt: "| ",
		banner:       banner,
	}
}

// WithPolicy sets the policy that statements are evaluated against.
func (r *REPL) WithPolicy(name string) *REPL {
	r.policy = name
	return r
}

// WithActionPolicy sets the policy that describes actions for simulation.
func (r *REPL) WithActionPolicy(name string) *REPL {
	r.actionPolicy = name
	return r
}

// DisableMultiLineBuffering causes the REPL to not buffer lines when a parse
// error occurs. Instead, the error will be returned to the caller.
func (r *REPL) DisableMultiLineBuffering(yes bool) *REPL {
	r.bufferDisabled = yes
	return r
}

// DisableUndefinedOutput causes the REPL to not print any output when the query
// is undefined.
func (r *REPL) DisableUndefinedOutput(yes bool) *REPL {
	r.undefinedDisabled = yes
	return r
}

// Loop will run until the user enters "exit", Ctrl+C, Ctrl+D, or an
// unexpected error occurs.
func (r *REPL) Loop(ctx context.Context) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetMultiLineMode(true)
	r.loadHistory(line)

	if len(r.banner) > 0 {
		fmt.Fprintln(r.output, r.banner)
	}

	line.SetCompleter(func(s string) []string {
		return r.complete(ctx, s)
	})

	for {
		input, err := line.Prompt(r.getPrompt())

		if err == liner.ErrPromptAborted || err == io.EOF {
			fmt.Fprintln(r.output, "Exiting")
			break
		}

		if err != nil {
			fmt.Fprintln(r.output, "error (fatal):", err)
			os.Exit(1)
		}

		if err := r.OneShot(ctx, input); err != nil {
			if _, ok := err.(stop); ok {
				line.AppendHistory(input)
				break
			}
			r.printError(err)
		}

		line.AppendHistory(input)
	}

	r.saveHistory(line)
}

// OneShot evaluates the line and prints the result. If an error occurs it is
// returned for the caller to display.
func (r *REPL) OneShot(ctx context.Context, line string) error {
	if len(r.buffer) == 0 {
		if cmd := newCommand(line); cmd != nil {
			switch cmd.op {
			case "policy":
				return r.cmdPolicy(ctx, cmd.args)
			case "policies":
				return r.cmdPolicies(ctx)
			case "create":
				return r.cmdCreate(ctx, cmd.args)
			case "drop":
				return r.cmdDrop(ctx, cmd.args)
			case "insert":
				return r.cmdInsert(ctx, cmd.rest, true)
			case "delete":
				return r.cmdInsert(ctx, cmd.rest, false)
			case "update":
				return r.cmdUpdate(ctx, cmd.rest)
			case "select":
				return r.cmdSelect(ctx, cmd.rest)
			case "simulate":
				return r.cmdSimulate(ctx, cmd.rest)
			case "diff":
				return r.cmdDiff(ctx, cmd.rest)
			case "explain":
				return r.cmdExplain(ctx, cmd.rest)
			case "show":
				return r.cmdShow(ctx)
			case "tables":
				return r.cmdTables(ctx)
			case "schema":
				return r.cmdSchema(ctx, cmd.args)
			case "metrics":
				return r.cmdMetrics(ctx)
			case "trace":
				r.trace = !r.trace
				return nil
			case "delta":
				r.delta = !r.delta
				return nil
			case presentation.JSON, presentation.YAML, presentation.Pretty, presentation.Datalog:
				return r.cmdFormat(cmd.op)
			case "version":
				return r.cmdVersion()
			case "help":
				return r.cmdHelp()
			case "exit":
				return r.cmdExit()
			}
		}
		r.buffer = append(r.buffer, line)
		return r.evalBufferOne(ctx)
	}

	r.buffer = append(r.buffer, line)
	if len(strings.TrimSpace(line)) == 0 {
		return r.evalBufferMulti(ctx)
	}

	return nil
}

func (r *REPL) complete(ctx context.Context, line string) []string {
	i := strings.LastIndexAny(line, " \t(,")
	head, word := line[:i+1], line[i+1:]

	// Arguments of policy commands only complete to policy names.
	policyArg := false
	if fields := strings.Fields(head); len(fields) == 1 {
		policyArg = fields[0] == "policy" || fields[0] == "drop"
	}

	trie := patricia.NewTrie()
	if !policyArg {
		for _, c := range builtin {
			trie.Insert(patricia.Prefix(c.name), c.name)
		}
		for _, name := range ast.BuiltinNames() {
			trie.Insert(patricia.Prefix(name), name)
		}
	}
	err := r.actor.Do(ctx, func(rt *runtime.Runtime) error {
		for _, name := range rt.PolicyNames() {
			trie.Insert(patricia.Prefix(name), name)
		}
		if policyArg {
			return nil
		}
		tables, err := rt.Tablenames(r.policy)
		if err != nil {
			return err
		}
		for _, t := range tables {
			trie.Insert(patricia.Prefix(t), t)
		}
		return nil
	})
	if err != nil {
		return nil
	}

	var result []string
	_ = trie.VisitSubtree(patricia.Prefix(word), func(_ patricia.Prefix, item patricia.Item) error {
		result = append(result, head+item.(string))
		return nil
	})
	sort.Strings(result)
	return result
}

func (r *REPL) cmdPolicy(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return newBadArgsErr("policy <name>: expects exactly one argument")
	}
	err := r.actor.Do(ctx, func(rt *runtime.Runtime) error {
		_, err := rt.PolicyInfo(args[0])
		return err
	})
	if err != nil {
		return err
	}
	r.policy = args[0]
	return nil
}

func (r *REPL) cmdPolicies(ctx context.Context) error {
	var policies []runtime.PolicyInfo
	err := r.actor.Do(ctx, func(rt *runtime.Runtime) error {
		policies = rt.Policies()
		return nil
	})
	if err != nil {
		return err
	}
	switch r.outputFormat {
	case presentation.JSON:
		return presentation.PrintJSON(r.output, policies)
	case presentation.YAML:
		return presentation.PrintYAML(r.output, policies)
	}
	presentation.PrintPolicies(r.output, policies)
	return nil
}

func (r *REPL) cmdCreate(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return newBadArgsErr("create <name> [kind]: expects one or two arguments")
	}
	var kind theory.Kind
	if len(args) == 2 {
		var err error
		if kind, err = theory.ParseKind(args[1]); err != nil {
			return newBadArgsErr("%v", err)
		}
	}
	_, err := r.actor.CreatePolicy(ctx, args[0], runtime.PolicyOptions{Kind: kind})
	return err
}

func (r *REPL) cmdDrop(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return newBadArgsErr("drop <name>: expects exactly one argument")
	}
	return r.actor.DeletePolicy(ctx, args[0], true)
}

func (r *REPL) cmdInsert(ctx context.Context, text string, insert bool) error {
	if strings.TrimSpace(text) == "" {
		return newBadArgsErr("insert/delete <formulas>: expects policy text")
	}
	var changes []*ast.Event
	var err error
	if insert {
		changes, err = r.actor.Insert(ctx, text, r.policy)
	} else {
		changes, err = r.actor.Delete(ctx, text, r.policy)
	}
	if err != nil {
		return err
	}
	r.printChanges(changes)
	return nil
}

func (r *REPL) cmdUpdate(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return newBadArgsErr("update <events>: expects an event sequence")
	}
	var changes []*ast.Event
	err := r.actor.Do(ctx, func(rt *runtime.Runtime) error {
		var err error
		changes, err = rt.UpdateString(text, r.policy)
		return err
	})
	if err != nil {
		return err
	}
	r.printChanges(changes)
	return nil
}

func (r *REPL) cmdSelect(ctx context.Context, query string) error {
	result, err := r.actor.Select(ctx, query, r.policy, runtime.QueryOptions{Trace: r.trace})
	if err != nil {
		return err
	}
	out := presentation.NewOutput(result.Results)
	out.Trace = result.Trace
	return r.printOutput(ctx, out)
}

// splitSimulate splits "query | sequence [| action policy]".
func (r *REPL) splitSimulate(text string) (query, sequence, action string, err error) {
	parts := strings.Split(text, "|")
	if len(parts) < 2 || len(parts) > 3 {
		return "", "", "", newBadArgsErr("simulate <query> | <sequence> [| <action policy>]: expects two or three parts")
	}
	query, sequence, action = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), r.actionPolicy
	if len(parts) == 3 {
		action = strings.TrimSpace(parts[2])
	}
	return query, sequence, action, nil
}

func (r *REPL) cmdSimulate(ctx context.Context, text string) error {
	query, sequence, action, err := r.splitSimulate(text)
	if err != nil {
		return err
	}
	result, err := r.actor.Simulate(ctx, query, r.policy, sequence, action, runtime.SimulateOptions{Delta: r.delta, Trace: r.trace})
	if err != nil {
		return err
	}
	out := presentation.NewOutput(result.Results)
	out.Trace = result.Trace
	return r.printOutput(ctx, out)
}

func (r *REPL) cmdDiff(ctx context.Context, text string) error {
	query, sequence, action, err := r.splitSimulate(text)
	if err != nil {
		return err
	}
	var before []ast.Formula
	var after *runtime.SimulateResult
	err = r.actor.Do(ctx, func(rt *runtime.Runtime) error {
		qr, err := rt.Select(query, r.policy, runtime.QueryOptions{})
		if err != nil {
			return err
		}
		before = qr.Results
		after, err = rt.Simulate(query, r.policy, sequence, action, runtime.SimulateOptions{})
		return err
	})
	if err != nil {
		return err
	}
	return presentation.PrintDiff(r.output, before, after.Results)
}

func (r *REPL) cmdExplain(ctx context.Context, text string) error {
	var proof *theory.Proof
	err := r.actor.Do(ctx, func(rt *runtime.Runtime) error {
		var err error
		proof, err = rt.Explain(text, r.policy)
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprint(r.output, proof.String())
	return nil
}

func (r *REPL) cmdShow(ctx context.Context) error {
	var content []ast.Formula
	err := r.actor.Do(ctx, func(rt *runtime.Runtime) error {
		var err error
		content, err = rt.Content(r.policy)
		return err
	})
	if err != nil {
		return err
	}
	ast.SortFormulas(content)
	for _, f := range content {
		fmt.Fprintln(r.output, f)
	}
	return nil
}

func (r *REPL) cmdTables(ctx context.Context) error {
	var tables []string
	err := r.actor.Do(ctx, func(rt *runtime.Runtime) error {
		var err error
		tables, err = rt.Tablenames(r.policy)
		return err
	})
	if err != nil {
		return err
	}
	for _, t := range tables {
		fmt.Fprintln(r.output, t)
	}
	return nil
}

func (r *REPL) cmdSchema(ctx context.Context, args []string) error {
	if len(args) > 1 {
		return newBadArgsErr("schema [table]: expects at most one argument")
	}
	var schema *ast.Schema
	err := r.actor.Do(ctx, func(rt *runtime.Runtime) error {
		th, ok := rt.Theory(r.policy)
		if !ok {
			_, err := rt.PolicyInfo(r.policy)
			return err
		}
		schema = th.Schema().Copy()
		return nil
	})
	if err != nil {
		return err
	}
	if len(args) == 1 && !schema.Contains(args[0]) {
		return newBadArgsErr("table %v is not declared by the schema of %v", args[0], r.policy)
	}
	if schema == nil {
		fmt.Fprintln(r.output, "no schema")
		return nil
	}
	if len(args) == 1 {
		schema = &ast.Schema{Tables: map[string][]ast.Column{args[0]: schema.Tables[args[0]]}, Complete: schema.Complete}
	}
	switch r.outputFormat {
	case presentation.JSON:
		return presentation.PrintJSON(r.output, schema.Tables)
	case presentation.YAML:
		return presentation.PrintYAML(r.output, schema.Tables)
	}
	for _, t := range schema.Tablenames() {
		fmt.Fprintf(r.output, "%v(%v)\n", t, strings.Join(schema.Columns(t), ", "))
	}
	return nil
}

func (r *REPL) cmdMetrics(ctx context.Context) error {
	return r.actor.Do(ctx, func(rt *runtime.Runtime) error {
		presentation.PrintMetrics(r.output, rt.Metrics())
		return nil
	})
}

func (r *REPL) cmdFormat(s string) error {
	r.outputFormat = s
	return nil
}

func (r *REPL) cmdVersion() error {
	return version.Write(r.output)
}

func (r *REPL) cmdExit() error {
	return stop{}
}

func (r *REPL) cmdHelp() error {
	fmt.Fprintln(r.output, "")
	printHelpExamples(r.output, r.initPrompt)
	printHelpCommands(r.output)
	return nil
}

// evalBufferOne evaluates the buffer if it holds complete statements. Lines
// that do not parse yet stay in the buffer until an empty line is entered.
func (r *REPL) evalBufferOne(ctx context.Context) error {
	text := strings.Join(r.buffer, "\n")
	if len(strings.TrimSpace(text)) == 0 {
		r.buffer = nil
		return nil
	}
	fs, err := ast.Parse(text)
	if err != nil {
		if r.bufferDisabled {
			r.buffer = nil
			return err
		}
		return nil
	}
	r.buffer = nil
	return r.evalStatements(ctx, text, fs)
}

func (r *REPL) evalBufferMulti(ctx context.Context) error {
	text := strings.Join(r.buffer, "\n")
	r.buffer = nil
	if len(strings.TrimSpace(text)) == 0 {
		return nil
	}
	fs, err := ast.Parse(text)
	if err != nil {
		return err
	}
	return r.evalStatements(ctx, text, fs)
}

// evalStatements queries a single literal and inserts anything else into the
// current policy.
func (r *REPL) evalStatements(ctx context.Context, text string, fs []ast.Formula) error {
	if len(fs) == 1 {
		if _, ok := fs[0].(*ast.Literal); ok {
			return r.cmdSelect(ctx, text)
		}
	}
	changes, err := r.actor.Insert(ctx, text, r.policy)
	if err != nil {
		return err
	}
	r.printChanges(changes)
	return nil
}

// columns returns the column names of the tables known to the schemas of the
// policies, as seen from the current policy.
func (r *REPL) columns(ctx context.Context) func(string) []string {
	schemas := map[string]*ast.Schema{}
	err := r.actor.Do(ctx, func(rt *runtime.Runtime) error {
		for _, name := range rt.PolicyNames() {
			if th, ok := rt.Theory(name); ok && th.Schema() != nil {
				schemas[name] = th.Schema().Copy()
			}
		}
		return nil
	})
	if err != nil {
		return nil
	}
	return func(table string) []string {
		policy, t := ast.PartitionTablename(table)
		if policy == "" {
			policy = r.policy
		}
		return schemas[policy].Columns(t)
	}
}

func (r *REPL) printOutput(ctx context.Context, out presentation.Output) error {
	if len(out.Results) == 0 && r.undefinedDisabled && out.Trace == "" {
		return nil
	}
	var columns func(string) []string
	if r.outputFormat == presentation.Pretty {
		columns = r.columns(ctx)
	}
	return presentation.Print(r.output, r.outputFormat, out, columns)
}

func (r *REPL) printChanges(changes []*ast.Event) {
	for _, e := range changes {
		op := "-"
		if e.Insert {
			op = "+"
		}
		fmt.Fprintln(r.output, op+e.Formula.String())
	}
}

func (r *REPL) printError(err error) {
	var rerr *Error
	if errors.As(err, &rerr) {
		fmt.Fprintln(r.output, "error:", rerr.Message)
		return
	}
	out := presentation.Output{Errors: presentation.NewOutputErrors(err)}
	if r.outputFormat == presentation.JSON || r.outputFormat == presentation.YAML {
		_ = presentation.Print(r.output, r.outputFormat, out, nil)
		return
	}
	fmt.Fprintln(r.output, "error:", err)
}

func (r *REPL) getPrompt() string {
	if len(r.buffer) > 0 {
		return r.bufferPrompt
	}
	return r.policy + r.initPrompt
}

func (r *REPL) loadHistory(prompt *liner.State) {
	if f, err := os.Open(r.historyPath); err == nil {
		_, _ = prompt.ReadHistory(f)
		f.Close()
	}
}

func (r *REPL) saveHistory(prompt *liner.State) {
	if f, err := os.Create(r.historyPath); err == nil {
		_, _ = prompt.WriteHistory(f)
		f.Close()
	}
}

type commandDesc struct {
	name string
	args []string
	help string
}

func (c commandDesc) syntax() string {
	if len(c.args) > 0 {
		return fmt.Sprintf("%v %v", c.name, strings.Join(c.args, " "))
	}
	return c.name
}

type exampleDesc struct {
	example string
	comment string
}

var examples = [...]exampleDesc{
	{"p(x) :- q(x), not r(x)", "define a rule in the current policy"},
	{"p(x)", "show the instances of p"},
	{"insert q(1) q(2)", "insert facts"},
	{"simulate p(x) | q+(3)", "query p as if q(3) were inserted"},
}

var extra = [...]commandDesc{
	{"<rule>", []string{}, "insert the rules into the current policy"},
	{"<literal>", []string{}, "show the instances of the literal"},
}

var builtin = [...]commandDesc{
	{"policy", []string{"<name>"}, "change the current policy"},
	{"policies", []string{}, "list the policies"},
	{"create", []string{"<name>", "[kind]"}, "create a policy"},
	{"drop", []string{"<name>"}, "delete a policy"},
	{"insert", []string{"<formulas>"}, "insert formulas into the current policy"},
	{"delete", []string{"<formulas>"}, "delete formulas from the current policy"},
	{"update", []string{"<events>"}, "apply insert[...] and delete[...] events"},
	{"select", []string{"<query>"}, "show the instances of the query"},
	{"simulate", []string{"<query>", "|", "<sequence>", "[|", "<action policy>]"}, "query the outcome of a sequence of actions"},
	{"diff", []string{"<query>", "|", "<sequence>", "[|", "<action policy>]"}, "compare the query before and after a sequence"},
	{"explain", []string{"<atom>"}, "show why a derived atom holds"},
	{"show", []string{}, "show the contents of the current policy"},
	{"tables", []string{}, "list the tables of the current policy"},
	{"schema", []string{"[table]"}, "show the schema of the current policy"},
	{"metrics", []string{}, "show the metrics of the runtime"},
	{"trace", []string{}, "toggle query traces"},
	{"delta", []string{}, "toggle delta output for simulate"},
	{"json", []string{}, "set output format to JSON"},
	{"yaml", []string{}, "set output format to YAML"},
	{"pretty", []string{}, "set output format to pretty"},
	{"datalog", []string{}, "set output format to datalog"},
	{"version", []string{}, "print the version"},
	{"help", []string{}, "print this message"},
	{"exit", []string{}, "exit back to shell (or ctrl+c, ctrl+d)"},
}

type command struct {
	op   string
	args []string
	rest string
}

func newCommand(line string) *command {
	p := strings.Fields(strings.TrimSpace(line))
	if len(p) == 0 {
		return nil
	}
	op := strings.ToLower(p[0])
	for _, c := range builtin {
		if c.name == op {
			return &command{
				op:   c.name,
				args: p[1:],
				rest: strings.TrimSpace(strings.TrimSpace(line)[len(p[0]):]),
			}
		}
	}
	return nil
}

func printHelpExamples(output io.Writer, promptSymbol string) {
	fmt.Fprintln(output, "Examples")
	fmt.Fprintln(output, "========")
	fmt.Fprintln(output, "")

	maxLength := 0
	for _, ex := range examples {
		if len(ex.example) > maxLength {
			maxLength = len(ex.example)
		}
	}

	f := fmt.Sprintf("%v%%-%dv # %%v\n", promptSymbol, maxLength+1)

	for _, ex := range examples {
		fmt.Fprintf(output, f, ex.example, ex.comment)
	}

	fmt.Fprintln(output, "")
}

func printHelpCommands(output io.Writer) {
	fmt.Fprintln(output, "Commands")
	fmt.Fprintln(output, "========")
	fmt.Fprintln(output, "")

	all := extra[:]
	all = append(all, builtin[:]...)

	maxLength := 0
	for _, c := range all {
		length := len(c.syntax())
		if length > maxLength {
			maxLength = length
		}
	}

	f := fmt.Sprintf("%%%dv : %%v\n", maxLength)

	for _, c := range all {
		fmt.Fprintf(output, f, c.syntax(), c.help)
	}

	fmt.Fprintln(output, "")
}
