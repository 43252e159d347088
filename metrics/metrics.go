// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package metrics contains helpers for performance metric management inside
// the policy engine.
package metrics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	go_metrics "github.com/rcrowley/go-metrics"
)

// Well-known metric names.
const (
	RuntimeUpdate       = "runtime_update"
	RuntimeSelect       = "runtime_select"
	RuntimeSimulate     = "runtime_simulate"
	RuntimeParse        = "runtime_parse"
	RuntimeEvents       = "runtime_events"
	RuntimeChanges      = "runtime_changes"
	RuntimeRejected     = "runtime_rejected"
	RuntimeTriggers     = "runtime_triggers"
	RuntimeMirrors      = "runtime_mirror_refresh"
	QueryCacheHit       = "runtime_query_cache_hit"
	QueryCacheMiss      = "runtime_query_cache_miss"
	UpdateBatchSize     = "runtime_update_batch_size"
	LoaderReadFiles     = "loader_read_files"
	FileWatcherReloads  = "filewatcher_reloads"
	FileWatcherFailures = "filewatcher_failures"
)

// Info contains attributes describing the underlying metrics provider.
type Info struct {
	Name string `json:"name"`
}

// Metrics defines the interface for a collection of performance metrics in
// the policy engine.
type Metrics interface {
	Info() Info
	Timer(name string) Timer
	Histogram(name string) Histogram
	Counter(name string) Counter
	All() map[string]interface{}
	Clear()
	json.Marshaler
}

// Visitor receives every metric of a collection by kind.
type Visitor interface {
	VisitTimer(name string, t Timer)
	VisitHistogram(name string, h Histogram)
	VisitCounter(name string, c Counter)
}

// Visitable is implemented by collections whose metrics can be enumerated.
type Visitable interface {
	Visit(v Visitor)
}

type metrics struct {
	mtx        sync.Mutex
	timers     map[string]Timer
	histograms map[string]Histogram
	counters   map[string]Counter
}

// New returns a new Metrics object.
func New() Metrics {
	m := &metrics{}
	m.Clear()
	return m
}

// NoOp returns a Metrics implementation that does nothing and costs nothing.
func NoOp() Metrics {
	return noOpMetricsInstance
}

func (*metrics) Info() Info {
	return Info{Name: "<built-in>"}
}

func (m *metrics) String() string {
	all := m.All()
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf := make([]string, len(keys))
	for i, k := range keys {
		buf[i] = fmt.Sprintf("%v:%v", k, all[k])
	}
	return strings.Join(buf, " ")
}

func (m *metrics) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.All())
}

func (m *metrics) Timer(name string) Timer {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	t, ok := m.timers[name]
	if !ok {
		t = &timer{}
		m.timers[name] = t
	}
	return t
}

func (m *metrics) Histogram(name string) Histogram {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	h, ok := m.histograms[name]
	if !ok {
		h = newHistogram()
		m.histograms[name] = h
	}
	return h
}

func (m *metrics) Counter(name string) Counter {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	c, ok := m.counters[name]
	if !ok {
		c = &counter{}
		m.counters[name] = c
	}
	return c
}

func (m *metrics) All() map[string]interface{} {
	result := map[string]interface{}{}
	m.Visit(allVisitor(result))
	return result
}

// Visit calls v for every metric of the collection.
func (m *metrics) Visit(v Visitor) {
	m.mtx.Lock()
	timers := copyMap(m.timers)
	histograms := copyMap(m.histograms)
	counters := copyMap(m.counters)
	m.mtx.Unlock()
	for name, t := range timers {
		v.VisitTimer(name, t)
	}
	for name, h := range histograms {
		v.VisitHistogram(name, h)
	}
	for name, c := range counters {
		v.VisitCounter(name, c)
	}
}

func copyMap[V any](m map[string]V) map[string]V {
	cpy := make(map[string]V, len(m))
	for k, v := range m {
		cpy[k] = v
	}
	return cpy
}

func (m *metrics) Clear() {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.timers = map[string]Timer{}
	m.histograms = map[string]Histogram{}
	m.counters = map[string]Counter{}
}

type allVisitor map[string]interface{}

func (a allVisitor) VisitTimer(name string, t Timer) {
	a["timer_"+name+"_ns"] = t.Value()
}

func (a allVisitor) VisitHistogram(name string, h Histogram) {
	a["histogram_"+name] = h.Value()
}

func (a allVisitor) VisitCounter(name string, c Counter) {
	a["counter_"+name] = c.Value()
}

// Timer defines the interface for a restartable timer that accumulates
// elapsed time.
type Timer interface {
	Value() interface{}
	Int64() int64

	// Start or resume a timer's time tracking.
	Start()

	// Stop a timer, and accumulate the delta (in nanoseconds) since it was
	// last started.
	Stop() int64
}

type timer struct {
	mtx   sync.Mutex
	start time.Time
	value int64
}

func (t *timer) Start() {
	t.mtx.Lock()
	t.start = time.Now()
	t.mtx.Unlock()
}

func (t *timer) Stop() int64 {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if t.start.IsZero() {
		return 0
	}
	delta := time.Since(t.start).Nanoseconds()
	t.value += delta
	t.start = time.Time{}
	return delta
}

func (t *timer) Value() interface{} {
	return t.Int64()
}

func (t *timer) Int64() int64 {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.value
}

// Histogram defines the interface for a histogram with hardcoded
// percentiles.
type Histogram interface {
	Value() interface{}
	Update(int64)
	Count() int64
	Sum() int64
	Percentiles(ps ...float64) []float64
}

type histogram struct {
	hist go_metrics.Histogram
}

func newHistogram() Histogram {
	sample := go_metrics.NewExpDecaySample(1028, 0.015)
	return &histogram{hist: go_metrics.NewHistogram(sample)}
}

func (h *histogram) Update(v int64) {
	h.hist.Update(v)
}

func (h *histogram) Count() int64 {
	return h.hist.Snapshot().Count()
}

func (h *histogram) Sum() int64 {
	return h.hist.Snapshot().Sum()
}

func (h *histogram) Percentiles(ps ...float64) []float64 {
	return h.hist.Snapshot().Percentiles(ps)
}

var percentileNames = []string{"median", "75%", "90%", "95%", "99%"}
var percentiles = []float64{0.5, 0.75, 0.9, 0.95, 0.99}

func (h *histogram) Value() interface{} {
	snap := h.hist.Snapshot()
	values := map[string]interface{}{
		"count":  snap.Count(),
		"min":    snap.Min(),
		"max":    snap.Max(),
		"mean":   snap.Mean(),
		"stddev": snap.StdDev(),
	}
	for i, p := range snap.Percentiles(percentiles) {
		values[percentileNames[i]] = p
	}
	return values
}

// Counter defines the interface for a monotonic increasing counter.
type Counter interface {
	Value() interface{}
	Uint64() uint64
	Incr()
	Add(n uint64)
}

type counter struct {
	c uint64
}

func (c *counter) Incr() {
	atomic.AddUint64(&c.c, 1)
}

func (c *counter) Add(n uint64) {
	atomic.AddUint64(&c.c, n)
}

func (c *counter) Value() interface{} {
	return c.Uint64()
}

func (c *counter) Uint64() uint64 {
	return atomic.LoadUint64(&c.c)
}

type noOpMetrics struct{}
type noOpTimer struct{}
type noOpHistogram struct{}
type noOpCounter struct{}

var (
	noOpMetricsInstance   = &noOpMetrics{}
	noOpTimerInstance     = &noOpTimer{}
	noOpHistogramInstance = &noOpHistogram{}
	noOpCounterInstance   = &noOpCounter{}
)

func (*noOpMetrics) Info() Info                      { return Info{Name: "<built-in no-op>"} }
func (*noOpMetrics) Timer(name string) Timer         { return noOpTimerInstance }
func (*noOpMetrics) Histogram(name string) Histogram { return noOpHistogramInstance }
func (*noOpMetrics) Counter(name string) Counter     { return noOpCounterInstance }
func (*noOpMetrics) All() map[string]interface{}     { return nil }
func (*noOpMetrics) Clear()                          {}
func (*noOpMetrics) MarshalJSON() ([]byte, error) {
	return []byte(`{"name": "<built-in no-op>"}`), nil
}

func (*noOpTimer) Start()             {}
func (*noOpTimer) Stop() int64        { return 0 }
func (*noOpTimer) Value() interface{} { return 0 }
func (*noOpTimer) Int64() int64       { return 0 }

func (*noOpHistogram) Update(v int64)                      {}
func (*noOpHistogram) Value() interface{}                  { return nil }
func (*noOpHistogram) Count() int64                        { return 0 }
func (*noOpHistogram) Sum() int64                          { return 0 }
func (*noOpHistogram) Percentiles(ps ...float64) []float64 { return make([]float64, len(ps)) }

func (*noOpCounter) Incr()              {}
func (*noOpCounter) Add(_ uint64)       {}
func (*noOpCounter) Value() interface{} { return 0 }
func (*noOpCounter) Uint64() uint64     { return 0 }
