// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package metrics

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestMetricsTimer(t *testing.T) {
	m := New()
	m.Timer(RuntimeUpdate).Start()
	time.Sleep(time.Millisecond)
	m.Timer(RuntimeUpdate).Stop()
	if m.All()["timer_runtime_update_ns"] == int64(0) {
		t.Fatalf("Expected update timer to be non-zero: %v", m.All())
	}
	m.Clear()
	if len(m.All()) > 0 {
		t.Fatalf("Expected metrics to be cleared, but found %v", m.All())
	}
}

func TestMetricsTimerDoubleStop(t *testing.T) {
	m := New()
	m.Timer("foo").Start()
	time.Sleep(time.Millisecond)
	m.Timer("foo").Stop()
	t1 := m.Timer("foo").Int64()
	time.Sleep(time.Millisecond)
	if d := m.Timer("foo").Stop(); d != 0 {
		t.Fatalf("Expected second stop to return zero but got %v", d)
	}
	if t2 := m.Timer("foo").Int64(); t1 != t2 {
		t.Fatalf("Unexpected difference in stopped timer values: %v, %v", t1, t2)
	}
}

func TestMetricsCounterAndHistogram(t *testing.T) {
	m := New()
	m.Counter(RuntimeEvents).Incr()
	m.Counter(RuntimeEvents).Add(2)
	for i := int64(1); i <= 4; i++ {
		m.Histogram(UpdateBatchSize).Update(i)
	}
	all := m.All()
	if all["counter_runtime_events"] != uint64(3) {
		t.Fatalf("Expected counter to be 3 but got %v", all["counter_runtime_events"])
	}
	hist := all["histogram_runtime_update_batch_size"].(map[string]interface{})
	if hist["count"] != int64(4) || hist["max"] != int64(4) {
		t.Fatalf("Unexpected histogram: %v", hist)
	}
	bs, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(bs, []byte(`"counter_runtime_events":3`)) {
		t.Fatalf("Unexpected JSON: %s", bs)
	}
}

func TestMetricsNoOp(t *testing.T) {
	m := NoOp()
	m.Counter("x").Incr()
	m.Timer("x").Start()
	if d := m.Timer("x").Stop(); d != 0 {
		t.Fatalf("Expected no-op timer to return zero")
	}
	if m.All() != nil {
		t.Fatalf("Expected no metrics but got %v", m.All())
	}
}

func TestMetricsPrometheus(t *testing.T) {
	m := New()
	m.Counter(RuntimeChanges).Add(5)
	m.Histogram(UpdateBatchSize).Update(2)
	m.Timer(RuntimeSelect).Start()
	m.Timer(RuntimeSelect).Stop()

	mfs, err := Gather(m)
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	for _, exp := range []string{"congress_runtime_changes_total", "congress_runtime_update_batch_size", "congress_runtime_select_seconds_total"} {
		if !names[exp] {
			t.Errorf("Expected metric family %v in %v", exp, names)
		}
	}

	var buf bytes.Buffer
	if err := WriteText(&buf, mfs); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "congress_runtime_changes_total 5") {
		t.Fatalf("Unexpected text output:\n%v", buf.String())
	}
}

func TestMetricsPrometheusNoOp(t *testing.T) {
	mfs, err := Gather(NoOp())
	if err != nil {
		t.Fatal(err)
	}
	if len(mfs) != 0 {
		t.Fatalf("Expected no metric families but got %v", mfs)
	}
}
