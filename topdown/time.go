// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package topdown

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/open-policy-agent/congress/ast"
	"github.com/open-policy-agent/congress/topdown/builtins"
)

// Datetimes are exchanged as strings. Time zones are accepted on input but
// ignored: the wall clock reading is used as is.
var datetimeLayouts = []string{
	"2006-1-2 15:4:5",
	"2006-1-2T15:4:5",
	"2006-1-2 15:4:5Z07:00",
	"2006-1-2T15:4:5Z07:00",
	"2006-1-2 15:4:5 -0700",
	"2006-1-2 15:4",
	"2006-1-2T15:4",
	"2006-1-2",
	"2006/1/2 15:4:5",
	"2006/1/2",
	time.RFC1123Z,
	time.RFC1123,
	time.ANSIC,
	"Jan 2 2006 15:4:5",
	"Jan 2 2006",
}

var timeLayouts = []string{
	"15:4:5",
	"15:4",
}

var epoch1900 = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)

// now is replaced in tests.
var now = time.Now

func parseDatetime(x ast.Constant, pos int) (time.Time, error) {
	s, err := builtins.StringOperand(x, pos)
	if err != nil {
		return time.Time{}, err
	}
	s = strings.TrimSpace(s)
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return wallClock(t), nil
		}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := now().Date()
			return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC), nil
		}
	}
	return time.Time{}, builtins.NewOperandErr(pos, "unknown datetime format: %q", s)
}

func wallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// parseDuration accepts a number of seconds or a string of colon separated
// fields read from the right as seconds, minutes, hours, days and weeks.
func parseDuration(x ast.Constant, pos int) (time.Duration, error) {
	switch v := x.Value.(type) {
	case int64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case string:
		fields := strings.Split(v, ":")
		units := []time.Duration{time.Second, time.Minute, time.Hour, 24 * time.Hour, 7 * 24 * time.Hour}
		if len(fields) > len(units) {
			return 0, builtins.NewOperandErr(pos, "too many fields in duration %q", v)
		}
		var d time.Duration
		for i := range fields {
			n, err := strconv.ParseInt(strings.TrimSpace(fields[len(fields)-1-i]), 10, 64)
			if err != nil {
				return 0, builtins.NewOperandErr(pos, "invalid duration %q", v)
			}
			d += time.Duration(n) * units[i]
		}
		return d, nil
	}
	return 0, builtins.NewOperandTypeErr(pos, x, "integer", "float", "string")
}

func formatClock(t time.Time) string {
	s := fmt.Sprintf("%02d:%02d:%02d", t.Hour(), t.Minute(), t.Second())
	if us := t.Nanosecond() / 1000; us > 0 {
		s += fmt.Sprintf(".%06d", us)
	}
	return s
}

func formatDate(t time.Time) string {
	return fmt.Sprintf("%04d-%02d-%02d", t.Year(), int(t.Month()), t.Day())
}

func formatDatetime(t time.Time) string {
	return formatDate(t) + " " + formatClock(t)
}

func builtinNow(_ []ast.Constant) ([]ast.Constant, error) {
	return []ast.Constant{ast.StringTerm(now().Format("2006-01-02 15:04:05"))}, nil
}

func ints(xs ...int) []ast.Constant {
	result := make([]ast.Constant, len(xs))
	for i := range xs {
		result[i] = ast.IntTerm(int64(xs[i]))
	}
	return result
}

func builtinUnpackDate(args []ast.Constant) ([]ast.Constant, error) {
	t, err := parseDatetime(args[0], 1)
	if err != nil {
		return nil, err
	}
	return ints(t.Year(), int(t.Month()), t.Day()), nil
}

func builtinUnpackTime(args []ast.Constant) ([]ast.Constant, error) {
	t, err := parseDatetime(args[0], 1)
	if err != nil {
		return nil, err
	}
	return ints(t.Hour(), t.Minute(), t.Second()), nil
}

func builtinUnpackDatetime(args []ast.Constant) ([]ast.Constant, error) {
	t, err := parseDatetime(args[0], 1)
	if err != nil {
		return nil, err
	}
	return ints(t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second()), nil
}

func joinConstants(sep string, args []ast.Constant) string {
	strs := make([]string, len(args))
	for i := range args {
		if s, ok := args[i].Value.(string); ok {
			strs[i] = s
		} else {
			strs[i] = args[i].String()
		}
	}
	return strings.Join(strs, sep)
}

func builtinPackTime(args []ast.Constant) ([]ast.Constant, error) {
	return []ast.Constant{ast.StringTerm(joinConstants(":", args))}, nil
}

func builtinPackDate(args []ast.Constant) ([]ast.Constant, error) {
	return []ast.Constant{ast.StringTerm(joinConstants("-", args))}, nil
}

func builtinPackDatetime(args []ast.Constant) ([]ast.Constant, error) {
	s := joinConstants("-", args[:3]) + " " + joinConstants(":", args[3:])
	return []ast.Constant{ast.StringTerm(s)}, nil
}

func builtinExtractDate(a ast.Constant) (ast.Constant, error) {
	t, err := parseDatetime(a, 1)
	if err != nil {
		return ast.Constant{}, err
	}
	return ast.StringTerm(formatDate(t)), nil
}

func builtinExtractTime(a ast.Constant) (ast.Constant, error) {
	t, err := parseDatetime(a, 1)
	if err != nil {
		return ast.Constant{}, err
	}
	return ast.StringTerm(formatClock(t)), nil
}

func builtinDatetimeToSeconds(a ast.Constant) (ast.Constant, error) {
	t, err := parseDatetime(a, 1)
	if err != nil {
		return ast.Constant{}, err
	}
	return ast.IntTerm(t.Unix() - epoch1900.Unix()), nil
}

func datetimeShift(sign time.Duration) func(a, b ast.Constant) (ast.Constant, error) {
	return func(a, b ast.Constant) (ast.Constant, error) {
		t, err := parseDatetime(a, 1)
		if err != nil {
			return ast.Constant{}, err
		}
		d, err := parseDuration(b, 2)
		if err != nil {
			return ast.Constant{}, err
		}
		return ast.StringTerm(formatDatetime(t.Add(sign * d))), nil
	}
}

func datetimeCompare(f func(c int) bool) func(a, b ast.Constant) (bool, error) {
	return func(a, b ast.Constant) (bool, error) {
		t1, err := parseDatetime(a, 1)
		if err != nil {
			return false, err
		}
		t2, err := parseDatetime(b, 2)
		if err != nil {
			return false, err
		}
		return f(t1.Compare(t2)), nil
	}
}

func init() {
	RegisterBuiltinFunc(ast.Now.Name, builtinNow)
	RegisterBuiltinFunc(ast.UnpackDate.Name, builtinUnpackDate)
	RegisterBuiltinFunc(ast.UnpackTime.Name, builtinUnpackTime)
	RegisterBuiltinFunc(ast.UnpackDatetime.Name, builtinUnpackDatetime)
	RegisterBuiltinFunc(ast.PackTime.Name, builtinPackTime)
	RegisterBuiltinFunc(ast.PackDate.Name, builtinPackDate)
	RegisterBuiltinFunc(ast.PackDatetime.Name, builtinPackDatetime)
	RegisterFunctionalBuiltin1(ast.ExtractDate.Name, builtinExtractDate)
	RegisterFunctionalBuiltin1(ast.ExtractTime.Name, builtinExtractTime)
	RegisterFunctionalBuiltin1(ast.DatetimeToSeconds.Name, builtinDatetimeToSeconds)
	RegisterFunctionalBuiltin2(ast.DatetimePlus.Name, datetimeShift(1))
	RegisterFunctionalBuiltin2(ast.DatetimeMinus.Name, datetimeShift(-1))
	RegisterConditionBuiltin2(ast.DatetimeLt.Name, datetimeCompare(func(c int) bool { return c < 0 }))
	RegisterConditionBuiltin2(ast.DatetimeLteq.Name, datetimeCompare(func(c int) bool { return c <= 0 }))
	RegisterConditionBuiltin2(ast.DatetimeGt.Name, datetimeCompare(func(c int) bool { return c > 0 }))
	RegisterConditionBuiltin2(ast.DatetimeGteq.Name, datetimeCompare(func(c int) bool { return c >= 0 }))
	RegisterConditionBuiltin2(ast.DatetimeEqual.Name, datetimeCompare(func(c int) bool { return c == 0 }))
}
