// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package filewatcher reloads policy, schema and data files when they change
// on disk.
package filewatcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"

	"github.com/open-policy-agent/congress/loader"
	"github.com/open-policy-agent/congress/logging"
)

// OnReload is called with the freshly loaded files, or the error that
// prevented loading them, after a change to a watched path.
type OnReload func(ctx context.Context, elapsed time.Duration, loaded *loader.Result, err error)

// FileWatcher watches the directories of a set of loader paths.
type FileWatcher struct {
	paths    []string
	filter   loader.Filter
	onReload OnReload
	log      logr.Logger
	done     chan struct{}
}

// NewFileWatcher returns a watcher for the paths. Paths may carry a policy
// name prefix as accepted by the loader.
func NewFileWatcher(paths []string, filter loader.Filter, onReload OnReload, logger logging.Logger) *FileWatcher {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &FileWatcher{
		paths:    paths,
		filter:   filter,
		onReload: onReload,
		log:      logging.NewLogr(logger).WithName("filewatcher"),
		done:     make(chan struct{}),
	}
}

// Start starts watching. The watcher stops when ctx is canceled; Done is
// closed once it has.
func (w *FileWatcher) Start(ctx context.Context) error {
	watcher, err := w.getWatcher(w.paths)
	if err != nil {
		return err
	}
	go w.readWatcher(ctx, watcher)
	return nil
}

// Done returns a channel that is closed when the watcher has stopped.
func (w *FileWatcher) Done() <-chan struct{} {
	return w.done
}

func (w *FileWatcher) getWatcher(rootPaths []string) (*fsnotify.Watcher, error) {
	watchPaths, err := getWatchPaths(rootPaths)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, path := range watchPaths {
		w.log.V(1).Info("watching path", "path", path)
		if err := watcher.Add(path); err != nil {
			watcher.Close()
			return nil, err
		}
	}
	return watcher, nil
}

func (w *FileWatcher) readWatcher(ctx context.Context, watcher *fsnotify.Watcher) {
	defer close(w.done)
	defer watcher.Close()
	mask := fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-watcher.Events:
			if !ok {
				return
			}
			if evt.Op&mask == 0 {
				continue
			}
			w.log.V(1).Info("registered file event", "event", evt.String())
			w.reload(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.log.Error(err, "file watcher error")
		}
	}
}

func (w *FileWatcher) reload(ctx context.Context) {
	t0 := time.Now()
	loaded, err := loader.Filtered(w.paths, w.filter)
	w.onReload(ctx, time.Since(t0), loaded, err)
}

// getWatchPaths returns the sorted directories under the root paths. Files
// are watched through their parent directory so that editors that replace
// files are noticed.
func getWatchPaths(rootPaths []string) ([]string, error) {
	seen := map[string]struct{}{}
	for _, p := range rootPaths {
		_, path := loader.SplitPrefix(p)
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			seen[filepath.Dir(path)] = struct{}{}
			continue
		}
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				seen[p] = struct{}{}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	result := make([]string, 0, len(seen))
	for p := range seen {
		result = append(result, p)
	}
	sort.Strings(result)
	return result, nil
}
