// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/open-policy-agent/congress/version"
)

func init() {
	var versionCommand = &cobra.Command{
		Use:   "version",
		Short: "Print the version of the policy engine",
		Long:  "Show version and build information for the policy engine.",
		RunE: func(*cobra.Command, []string) error {
			return version.Write(os.Stdout)
		},
	}
	RootCommand.AddCommand(versionCommand)
}
