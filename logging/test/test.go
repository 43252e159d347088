// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package test provides a logger that records entries for assertions.
package test

import (
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/open-policy-agent/congress/logging"
)

// LogEntry is a recorded log message.
type LogEntry struct {
	Level   logging.Level
	Fields  map[string]interface{}
	Message string
}

type sink struct {
	sync.Mutex
	entries []LogEntry
}

// Logger records every message regardless of level. Loggers derived with
// WithFields share their parent's entries.
type Logger struct {
	level  logging.Level
	fields map[string]interface{}
	sink   *sink
}

// New returns a new Logger.
func New() *Logger {
	return &Logger{level: logging.Info, sink: &sink{}}
}

// WithFields returns a logger that adds fields to every entry.
func (l *Logger) WithFields(fields map[string]interface{}) logging.Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	maps.Copy(merged, l.fields)
	maps.Copy(merged, fields)
	return &Logger{level: l.level, fields: merged, sink: l.sink}
}

func (l *Logger) Debug(f string, a ...interface{}) { l.record(logging.Debug, f, a) }
func (l *Logger) Info(f string, a ...interface{})  { l.record(logging.Info, f, a) }
func (l *Logger) Warn(f string, a ...interface{})  { l.record(logging.Warn, f, a) }
func (l *Logger) Error(f string, a ...interface{}) { l.record(logging.Error, f, a) }

func (l *Logger) SetLevel(level logging.Level) { l.level = level }
func (l *Logger) GetLevel() logging.Level      { return l.level }

// Entries returns a copy of the recorded entries.
func (l *Logger) Entries() []LogEntry {
	l.sink.Lock()
	defer l.sink.Unlock()
	return append([]LogEntry(nil), l.sink.entries...)
}

// Contains returns true if an entry at level contains substr.
func (l *Logger) Contains(level logging.Level, substr string) bool {
	for _, e := range l.Entries() {
		if e.Level == level && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

func (l *Logger) record(level logging.Level, f string, a []interface{}) {
	l.sink.Lock()
	defer l.sink.Unlock()
	l.sink.entries = append(l.sink.entries, LogEntry{Level: level, Fields: l.fields, Message: fmt.Sprintf(f, a...)})
}
