// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package env sets command flags from environment variables. The variable of
// flag --some-flag of the root command is CONGRESS_SOME_FLAG; for subcommand
// run it is CONGRESS_RUN_SOME_FLAG. Flags given on the command line take
// precedence.
package env

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type cmdFlags interface {
	CheckEnvironmentVariables(command *cobra.Command) error
}

type cmdFlagsImpl struct{}

// CmdFlags maps environment variables to the flags of commands.
var CmdFlags cmdFlags = cmdFlagsImpl{}

const globalPrefix = "congress"

// Prefix returns the environment variable prefix of the command.
func Prefix(command *cobra.Command) string {
	if command.Name() == globalPrefix || !command.HasParent() {
		return globalPrefix
	}
	return globalPrefix + "_" + command.Name()
}

func (cmdFlagsImpl) CheckEnvironmentVariables(command *cobra.Command) error {
	v := viper.New()
	v.SetEnvPrefix(Prefix(command))
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var errs []string
	command.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed || !v.IsSet(f.Name) {
			return
		}
		if err := command.Flags().Set(f.Name, fmt.Sprint(v.Get(f.Name))); err != nil {
			errs = append(errs, err.Error())
		}
	})
	if len(errs) == 0 {
		return nil
	}
	sort.Strings(errs)
	return errors.Errorf("error mapping environment variables to command flags: %s", strings.Join(errs, "; "))
}
