// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package cmd

import (
	"github.com/spf13/pflag"

	"github.com/open-policy-agent/congress/util"
)

func addOutputFormat(fs *pflag.FlagSet, outputFormat *util.EnumFlag) {
	fs.VarP(outputFormat, "format", "f", "set output format")
}

func setIgnore(fs *pflag.FlagSet, ignoreNames *[]string) {
	fs.StringSliceVarP(ignoreNames, "ignore", "", []string{}, "set file and directory names to ignore during loading (e.g., '.*' excludes hidden files)")
}

func addConfigFileFlag(fs *pflag.FlagSet, file *string) {
	fs.StringVarP(file, "config-file", "c", "", "set path of configuration file")
}

func addDataFlag(fs *pflag.FlagSet, paths *[]string) {
	fs.StringSliceVarP(paths, "data", "d", []string{}, "set policy, schema or data file(s) or directory path(s); prefix with name: to load into policy name")
}

func addPolicyFlag(fs *pflag.FlagSet, policy *string) {
	fs.StringVarP(policy, "policy", "p", "", "set the policy to query (default from configuration)")
}

func addTraceFlag(fs *pflag.FlagSet, trace *bool) {
	fs.BoolVarP(trace, "trace", "t", false, "print the evaluation trace")
}

func addLogFlags(fs *pflag.FlagSet, level, format *util.EnumFlag) {
	fs.VarP(level, "log-level", "l", "set log level")
	fs.Var(format, "log-format", "set log format")
}

func newLogLevelFlag() *util.EnumFlag {
	return util.NewEnumFlag("info", []string{"debug", "info", "warn", "error"})
}

func newLogFormatFlag() *util.EnumFlag {
	return util.NewEnumFlag("text", []string{"text", "json", "json-pretty"})
}
