// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package logging

import (
	"fmt"

	"github.com/go-logr/logr"
)

// NewLogr returns a logr.Logger that writes to l. logr verbosity 0 maps to
// info and every higher verbosity maps to debug.
func NewLogr(l Logger) logr.Logger {
	return logr.New(&logrSink{logger: l})
}

type logrSink struct {
	logger Logger
	name   string
}

func (s *logrSink) Init(logr.RuntimeInfo) {}

func (s *logrSink) Enabled(level int) bool {
	if level > 0 {
		return s.logger.GetLevel() >= Debug
	}
	return s.logger.GetLevel() >= Info
}

func (s *logrSink) Info(level int, msg string, keysAndValues ...interface{}) {
	l := s.logger.WithFields(fields(keysAndValues))
	if level > 0 {
		l.Debug("%v", s.prefix(msg))
		return
	}
	l.Info("%v", s.prefix(msg))
}

func (s *logrSink) Error(err error, msg string, keysAndValues ...interface{}) {
	f := fields(keysAndValues)
	if err != nil {
		f["err"] = err.Error()
	}
	s.logger.WithFields(f).Error("%v", s.prefix(msg))
}

func (s *logrSink) WithValues(keysAndValues ...interface{}) logr.LogSink {
	return &logrSink{logger: s.logger.WithFields(fields(keysAndValues)), name: s.name}
}

func (s *logrSink) WithName(name string) logr.LogSink {
	if s.name != "" {
		name = s.name + "/" + name
	}
	return &logrSink{logger: s.logger, name: name}
}

func (s *logrSink) prefix(msg string) string {
	if s.name == "" {
		return msg
	}
	return s.name + ": " + msg
}

func fields(keysAndValues []interface{}) map[string]interface{} {
	f := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		f[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return f
}
