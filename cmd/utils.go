// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package cmd

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/open-policy-agent/congress/ast"
	"github.com/open-policy-agent/congress/config"
	"github.com/open-policy-agent/congress/loader"
	"github.com/open-policy-agent/congress/logging"
	"github.com/open-policy-agent/congress/metrics"
	"github.com/open-policy-agent/congress/runtime"
	"github.com/open-policy-agent/congress/theory"
	"github.com/open-policy-agent/congress/util"
)

// engineParams holds the flags shared by the commands that load policies
// into a runtime.
type engineParams struct {
	configFile string
	dataPaths  []string
	ignore     []string
	policy     string
	logLevel   *util.EnumFlag
	logFormat  *util.EnumFlag
}

func newEngineParams() engineParams {
	return engineParams{
		logLevel:  newLogLevelFlag(),
		logFormat: newLogFormatFlag(),
	}
}

func (p *engineParams) addFlags(fs *pflag.FlagSet, data bool) {
	addConfigFileFlag(fs, &p.configFile)
	if data {
		addDataFlag(fs, &p.dataPaths)
	}
	setIgnore(fs, &p.ignore)
	addPolicyFlag(fs, &p.policy)
	addLogFlags(fs, p.logLevel, p.logFormat)
}

// engine is a runtime loaded with the configured policies and files.
type engine struct {
	config  *config.Config
	logger  *logging.StandardLogger
	metrics metrics.Metrics
	rt      *runtime.Runtime
	paths   []string
	filter  loader.Filter
}

// newEngine loads the configuration, creates the configured policies and
// the default and action policies, and loads the files of the configured
// bundles and the data paths. Metrics are recorded if enabled by the
// configuration or by withMetrics.
func newEngine(params *engineParams, stderr io.Writer, withMetrics bool) (*engine, error) {
	cfg, err := config.Load(params.configFile)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg, params, stderr)
	if err != nil {
		return nil, err
	}

	m := metrics.NoOp()
	if cfg.Metrics.Enabled || withMetrics {
		m = metrics.New()
	}

	rt, err := runtime.New(runtime.Params{
		DefaultTheory:  cfg.DefaultTheory,
		ActionTheory:   cfg.ActionTheory,
		QueryCacheSize: cfg.QueryCacheSize,
		TracePatterns:  cfg.TracePatterns,
		Logger:         logger,
		Metrics:        m,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create runtime")
	}

	for _, p := range cfg.Policies {
		kind, err := theory.ParseKind(p.Kind)
		if err != nil {
			return nil, err
		}
		_, err = rt.CreatePolicy(p.Name, runtime.PolicyOptions{
			Kind:        kind,
			Abbr:        p.Abbr,
			Description: p.Description,
			Schema:      p.SchemaOf(),
		})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create policy %v", p.Name)
		}
	}
	for _, p := range []struct {
		name string
		kind theory.Kind
	}{{cfg.DefaultTheory, theory.NonrecursiveKind}, {cfg.ActionTheory, theory.ActionKind}} {
		if _, ok := rt.Theory(p.name); ok {
			continue
		}
		if _, err := rt.CreatePolicy(p.name, runtime.PolicyOptions{Kind: p.kind}); err != nil {
			return nil, errors.Wrapf(err, "failed to create policy %v", p.name)
		}
	}

	e := &engine{
		config:  cfg,
		logger:  logger,
		metrics: m,
		rt:      rt,
		paths:   append(append([]string{}, cfg.Bundles...), params.dataPaths...),
		filter:  ignoreFilter(params.ignore),
	}
	if len(e.paths) > 0 {
		loaded, err := loader.Filtered(e.paths, e.filter)
		if err != nil {
			return nil, err
		}
		if err := loaded.Apply(rt); err != nil {
			return nil, err
		}
		logger.WithFields(map[string]interface{}{"policies": loaded.PolicyNames()}).Debug("Loaded files.")
	}
	return e, nil
}

// policy returns the policy named by the flags or the configured default.
func (e *engine) policy(params *engineParams) string {
	if params.policy != "" {
		return params.policy
	}
	return e.config.DefaultTheory
}

// columns returns the column names of tables from the point of view of the
// policy. Tables without a schema have no names.
func (e *engine) columns(policy string) func(string) []string {
	return func(table string) []string {
		name, t := ast.PartitionTablename(table)
		if name == "" {
			name = policy
		}
		th, ok := e.rt.Theory(name)
		if !ok {
			return nil
		}
		return th.Schema().Columns(t)
	}
}

func newLogger(cfg *config.Config, params *engineParams, stderr io.Writer) (*logging.StandardLogger, error) {
	level := cfg.Logging.Level
	if params.logLevel.IsSet() {
		level = params.logLevel.String()
	}
	lvl, err := logging.GetLevel(level)
	if err != nil {
		return nil, err
	}
	format := cfg.Logging.Format
	if params.logFormat.IsSet() {
		format = params.logFormat.String()
	}
	logger := logging.New()
	logger.SetOutput(stderr)
	logger.SetLevel(lvl)
	logger.SetFormatter(logging.GetFormatter(format, cfg.Logging.TimestampFormat))
	return logger, nil
}

// ignoreFilter excludes the files and directories matching any of the
// patterns below the root paths.
func ignoreFilter(patterns []string) loader.Filter {
	if len(patterns) == 0 {
		return nil
	}
	filters := make([]loader.Filter, len(patterns))
	for i := range patterns {
		filters[i] = loader.GlobExcludeName(patterns[i], 1)
	}
	return func(abspath string, info os.FileInfo, depth int) bool {
		for _, f := range filters {
			if f(abspath, info, depth) {
				return true
			}
		}
		return false
	}
}

// reloadPolicies replaces the contents of the loaded policies with the
// loaded files. Each policy is recreated with its previous kind and metadata
// before the files are applied. The previous schema is kept unless the files
// declare one.
func reloadPolicies(rt *runtime.Runtime, loaded *loader.Result) error {
	for _, name := range loaded.PolicyNames() {
		info, err := rt.PolicyInfo(name)
		if err != nil {
			continue
		}
		kind, err := theory.ParseKind(info.Kind)
		if err != nil {
			return err
		}
		var schema *ast.Schema
		if th, ok := rt.Theory(name); ok && loaded.Schemas[name] == nil {
			schema = th.Schema().Copy()
		}
		if err := rt.DeletePolicy(name, false); err != nil {
			return err
		}
		_, err = rt.CreatePolicy(name, runtime.PolicyOptions{
			Kind:        kind,
			Abbr:        info.Abbr,
			ID:          info.ID,
			Description: info.Description,
			Owner:       info.Owner,
			Schema:      schema,
		})
		if err != nil {
			return err
		}
	}
	return loaded.Apply(rt)
}
