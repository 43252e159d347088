// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package filewatcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/open-policy-agent/congress/loader"
	"github.com/open-policy-agent/congress/logging/test"
	"github.com/open-policy-agent/congress/util"
)

func TestGetWatchPaths(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{"a/b", "c"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	file := filepath.Join(root, "c", "p.dl")
	if err := os.WriteFile(file, []byte(`p(1)`), 0o644); err != nil {
		t.Fatal(err)
	}

	paths, err := getWatchPaths([]string{filepath.Join(root, "a"), "main:" + file})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	expected := []string{filepath.Join(root, "a"), filepath.Join(root, "a", "b"), filepath.Join(root, "c")}
	if diff := cmp.Diff(expected, paths); diff != "" {
		t.Fatalf("Unexpected paths (-want, +got):\n%s", diff)
	}

	if _, err := getWatchPaths([]string{filepath.Join(root, "missing")}); err == nil {
		t.Fatal("Expected error for missing path")
	}
}

func TestFileWatcherReload(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "p.dl"), []byte(`p(1)`), 0o644); err != nil {
		t.Fatal(err)
	}

	var mtx sync.Mutex
	var last *loader.Result
	onReload := func(_ context.Context, _ time.Duration, loaded *loader.Result, err error) {
		if err != nil {
			return
		}
		mtx.Lock()
		defer mtx.Unlock()
		last = loaded
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := NewFileWatcher([]string{root}, nil, onReload, test.New())
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if err := os.WriteFile(filepath.Join(root, "q.dl"), []byte(`q(1)`), 0o644); err != nil {
		t.Fatal(err)
	}

	err := util.WaitFunc(func() bool {
		mtx.Lock()
		defer mtx.Unlock()
		return last != nil && len(last.PolicyNames()) == 2
	}, 10*time.Millisecond, 5*time.Second)
	if err != nil {
		t.Fatalf("Expected reload with both policies: %v", err)
	}

	cancel()
	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Expected watcher to stop")
	}
}
