// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/open-policy-agent/congress/ast"
	"github.com/open-policy-agent/congress/cmd/formats"
	"github.com/open-policy-agent/congress/cmd/internal/env"
	"github.com/open-policy-agent/congress/filewatcher"
	"github.com/open-policy-agent/congress/loader"
	"github.com/open-policy-agent/congress/repl"
	"github.com/open-policy-agent/congress/runtime"
	"github.com/open-policy-agent/congress/util"
	"github.com/open-policy-agent/congress/version"
)

type runParams struct {
	engineParams
	format       *util.EnumFlag
	watch        bool
	historyPath  string
	actionTheory string
}

func newRunParams() runParams {
	return runParams{
		engineParams: newEngineParams(),
		format:       formats.Flag(formats.Pretty, formats.JSON, formats.YAML, formats.Datalog),
	}
}

var configuredRunParams = newRunParams()

var runCommand = &cobra.Command{
	Use:   "run [files]",
	Short: "Start the interactive shell",
	Long: `Start an instance of the policy engine with an interactive shell.

The files are loaded before the shell starts. Directories are loaded
recursively. Files ending in .dl are policies named after the file, files
ending in .schema.json or .schema.yaml declare the columns of a policy's
tables and files ending in .data.json or .data.yaml hold its rows. A path can
be prefixed with a policy name to load it into that policy:

    $ congress run nova:servers.data.json classification:rules.dl

With --watch the files are reloaded when they change on disk. Every policy
loaded from the files is recreated with the new contents.`,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return env.CmdFlags.CheckEnvironmentVariables(cmd)
	},
	RunE: func(_ *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if err := run(ctx, args, &configuredRunParams, os.Stdout, os.Stderr); err != nil {
			return newExitErrorWrap(1, err)
		}
		return nil
	},
}

func run(ctx context.Context, args []string, params *runParams, stdout, stderr io.Writer) error {
	engineParams := params.engineParams
	engineParams.dataPaths = append(append([]string{}, params.dataPaths...), args...)

	e, err := newEngine(&engineParams, stderr, false)
	if err != nil {
		return err
	}
	if _, err := maxprocs.Set(maxprocs.Logger(e.logger.Debug)); err != nil {
		e.logger.Warn("Failed to set GOMAXPROCS: %v", err)
	}

	actor := runtime.NewActor(e.rt, runtime.PublisherFunc(func(changes []*ast.Event) {
		for _, c := range changes {
			e.logger.WithFields(map[string]interface{}{"policy": c.Target}).Debug("Change %v", c)
		}
	}))
	actor.Start(ctx)
	defer actor.Stop(ctx)

	if params.watch && len(e.paths) > 0 {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		onReload := func(ctx context.Context, elapsed time.Duration, loaded *loader.Result, err error) {
			if err != nil {
				e.logger.Error("Failed to reload files: %v", err)
				return
			}
			err = actor.Do(ctx, func(rt *runtime.Runtime) error {
				return reloadPolicies(rt, loaded)
			})
			if err != nil {
				e.logger.Error("Failed to apply reloaded files: %v", err)
				return
			}
			e.logger.WithFields(map[string]interface{}{"duration": elapsed.String()}).Info("Reloaded files.")
		}
		watcher := filewatcher.NewFileWatcher(e.paths, e.filter, onReload, e.logger)
		if err := watcher.Start(ctx); err != nil {
			return err
		}
	}

	banner := fmt.Sprintf("Congress %v (%v). Run 'help' to see a list of commands.", version.Version, version.GoVersion)
	r := repl.New(actor, historyPath(params.historyPath), stdout, params.format.String(), banner).
		WithPolicy(e.policy(&params.engineParams))
	actionTheory := params.actionTheory
	if actionTheory == "" {
		actionTheory = e.config.ActionTheory
	}
	r = r.WithActionPolicy(actionTheory)
	r.Loop(ctx)
	return nil
}

func historyPath(path string) string {
	if path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultHistoryFile
	}
	return filepath.Join(home, defaultHistoryFile)
}

const defaultHistoryFile = ".congress_history"

func init() {
	fs := runCommand.Flags()
	configuredRunParams.addFlags(fs, true)
	addOutputFormat(fs, configuredRunParams.format)
	fs.BoolVarP(&configuredRunParams.watch, "watch", "w", false, "watch the files for changes and reload them")
	fs.StringVarP(&configuredRunParams.historyPath, "history", "H", "", "set path of the shell history file (default $HOME/"+defaultHistoryFile+")")
	fs.StringVarP(&configuredRunParams.actionTheory, "action-policy", "a", "", "set the policy defining the actions of simulate (default from configuration)")
	RootCommand.AddCommand(runCommand)
}
