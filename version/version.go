// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package version contains version information that is set at build time.
package version

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
)

// Version is the canonical version of the policy engine.
var Version = "0.1.0-dev"

// GoVersion is the version of Go this was built with.
var GoVersion = runtime.Version()

// Platform is the runtime OS and architecture of the binary.
var Platform = runtime.GOOS + "/" + runtime.GOARCH

// Vcs and Timestamp identify the build. They are set with -ldflags or read
// from the module build info.
var (
	Vcs       = ""
	Timestamp = ""
)

func init() {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	var dirty bool
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.time":
			if Timestamp == "" {
				Timestamp = s.Value
			}
		case "vcs.revision":
			if Vcs == "" {
				Vcs = s.Value
			}
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if dirty && Vcs != "" {
		Vcs += "-dirty"
	}
}

// Info returns the version information as ordered key/value pairs.
func Info() [][2]string {
	return [][2]string{
		{"Version", Version},
		{"Build Commit", Vcs},
		{"Build Timestamp", Timestamp},
		{"Go Version", GoVersion},
		{"Platform", Platform},
	}
}

// Write prints the version information, one "Key: value" line each.
func Write(w io.Writer) error {
	for _, kv := range Info() {
		if _, err := fmt.Fprintf(w, "%s: %s\n", kv[0], kv[1]); err != nil {
			return err
		}
	}
	return nil
}
