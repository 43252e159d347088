// Copyright 2019 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package metrics

import (
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const namespace = "congress"

// Collector exports a metrics collection to Prometheus: counters as
// counters, timers as counters of seconds and histograms as summaries.
type Collector struct {
	inner Visitable
}

// NewCollector returns a collector for m. Collections that cannot be
// enumerated export nothing.
func NewCollector(m Metrics) *Collector {
	v, _ := m.(Visitable)
	return &Collector{inner: v}
}

// Describe sends no descriptors: the set of metrics grows as the engine
// runs, so the collector is unchecked.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect sends the current value of every metric.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.inner == nil {
		return
	}
	c.inner.Visit(&promVisitor{ch: ch})
}

type promVisitor struct {
	ch chan<- prometheus.Metric
}

func metricName(name, suffix string) string {
	return prometheus.BuildFQName(namespace, "", strings.ReplaceAll(name, "-", "_")+suffix)
}

func (p *promVisitor) VisitTimer(name string, t Timer) {
	desc := prometheus.NewDesc(metricName(name, "_seconds_total"), "Accumulated time of "+name+".", nil, nil)
	p.ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(t.Int64())/1e9)
}

func (p *promVisitor) VisitHistogram(name string, h Histogram) {
	desc := prometheus.NewDesc(metricName(name, ""), "Distribution of "+name+".", nil, nil)
	values := h.Percentiles(percentiles...)
	quantiles := make(map[float64]float64, len(percentiles))
	for i, q := range percentiles {
		quantiles[q] = values[i]
	}
	p.ch <- prometheus.MustNewConstSummary(desc, uint64(h.Count()), float64(h.Sum()), quantiles)
}

func (p *promVisitor) VisitCounter(name string, c Counter) {
	desc := prometheus.NewDesc(metricName(name, "_total"), "Number of "+strings.ReplaceAll(name, "_", " ")+".", nil, nil)
	p.ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(c.Uint64()))
}

// Registry returns a Prometheus registry that exports m and, if runtime is
// true, the Go runtime and process metrics.
func Registry(m Metrics, runtime bool) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(NewCollector(m))
	if runtime {
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return registry
}

// Gather returns the metric families of m.
func Gather(m Metrics) ([]*dto.MetricFamily, error) {
	return Registry(m, false).Gather()
}

// WriteText writes the metric families in the Prometheus text exposition
// format.
func WriteText(w io.Writer, mfs []*dto.MetricFamily) error {
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
