// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestWithFields(t *testing.T) {
	logger := New().WithFields(map[string]interface{}{"context": "contextvalue"})

	var fieldvalue interface{}
	var ok bool

	if fieldvalue, ok = logger.(*StandardLogger).fields["context"]; !ok {
		t.Fatal("Logger did not contain configured field")
	}

	if fieldvalue.(string) != "contextvalue" {
		t.Fatal("Logger did not contain configured field value")
	}
}

func TestWithFieldsOverrides(t *testing.T) {
	logger := New().
		WithFields(map[string]interface{}{"context": "contextvalue"}).
		WithFields(map[string]interface{}{"context": "changedcontextvalue"})

	if v := logger.(*StandardLogger).fields["context"]; v != "changedcontextvalue" {
		t.Fatalf("Logger did not contain configured field value, got %v", v)
	}
}

func TestWithFieldsMerges(t *testing.T) {
	base := New()
	logger := base.
		WithFields(map[string]interface{}{"context": "contextvalue"}).
		WithFields(map[string]interface{}{"anothercontext": "anothercontextvalue"})

	fields := logger.(*StandardLogger).fields
	if fields["context"] != "contextvalue" || fields["anothercontext"] != "anothercontextvalue" {
		t.Fatalf("Logger did not merge fields: %v", fields)
	}
	if len(base.fields) != 0 {
		t.Fatalf("Parent logger was modified: %v", base.fields)
	}
}

func TestGetLevel(t *testing.T) {

	tests := []struct {
		input    string
		expected Level
		err      bool
	}{
		{"debug", Debug, false},
		{"", Info, false},
		{"INFO", Info, false},
		{"warn", Warn, false},
		{"error", Error, false},
		{"verbose", Debug, true},
	}

	for i, tc := range tests {
		lvl, err := GetLevel(tc.input)
		if tc.err != (err != nil) {
			t.Errorf("Test case (%d): unexpected error: %v", i+1, err)
			continue
		}
		if lvl != tc.expected {
			t.Errorf("Test case (%d): expected %v but got %v", i+1, tc.expected, lvl)
		}
	}
}

func TestStandardLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger.SetFormatter(GetFormatter("text", ""))
	logger.SetLevel(Warn)

	if logger.GetLevel() != Warn {
		t.Fatalf("Expected warn level but got %v", logger.GetLevel())
	}

	logger.Info("hidden %d", 1)
	logger.WithFields(map[string]interface{}{"policy": "classification"}).Warn("shown %d", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("Did not expect info message in output:\n%v", out)
	}
	if !strings.Contains(out, "[WARNING] shown 2") || !strings.Contains(out, `policy = "classification"`) {
		t.Fatalf("Unexpected output:\n%v", out)
	}
}

func TestGetFormatter(t *testing.T) {
	if _, ok := GetFormatter("json", "").(*logrus.JSONFormatter); !ok {
		t.Fatal("Expected JSON formatter")
	}
	if f, ok := GetFormatter("json-pretty", "").(*logrus.JSONFormatter); !ok || !f.PrettyPrint {
		t.Fatal("Expected pretty JSON formatter")
	}
	if _, ok := GetFormatter("text", "").(*prettyFormatter); !ok {
		t.Fatal("Expected text formatter")
	}
}

func TestLogr(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger.SetFormatter(GetFormatter("text", ""))
	logger.SetLevel(Info)

	l := NewLogr(logger).WithName("runtime").WithValues("policy", "classification")
	l.Info("created")
	l.V(1).Info("hidden")
	l.Error(errors.New("boom"), "failed")

	out := buf.String()
	if !strings.Contains(out, "[INFO] runtime: created") {
		t.Fatalf("Expected info message in output:\n%v", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("Did not expect debug message in output:\n%v", out)
	}
	if !strings.Contains(out, "[ERROR] runtime: failed") || !strings.Contains(out, "err = \"boom\"") {
		t.Fatalf("Expected error message in output:\n%v", out)
	}
}
