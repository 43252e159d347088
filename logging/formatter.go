// Copyright 2021 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// GetFormatter returns the logrus formatter for the format name: text,
// json or json-pretty.
func GetFormatter(format, timestampFormat string) logrus.Formatter {
	switch format {
	case "text":
		return &prettyFormatter{}
	case "json-pretty":
		return &logrus.JSONFormatter{PrettyPrint: true, TimestampFormat: timestampFormat}
	default:
		return &logrus.JSONFormatter{TimestampFormat: timestampFormat}
	}
}

// prettyFormatter prints the level and message on one line followed by one
// indented line per field.
type prettyFormatter struct {
}

func isJSON(buf []byte) bool {
	var tmp interface{}
	err := json.Unmarshal(buf, &tmp)
	return err == nil
}

func (p *prettyFormatter) Format(e *logrus.Entry) ([]byte, error) {
	b := new(bytes.Buffer)

	level := strings.ToUpper(e.Level.String())
	fmt.Fprintf(b, "[%s] %s\n", level, e.Message)

	const fieldIndent = 2
	const multiLineIndent = 6

	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := e.Data[k]
		stringVal, ok := v.(string)
		switch {
		case ok && strings.Contains(stringVal, "\n"):
			lines := strings.Split(strings.TrimRight(stringVal, "\n"), "\n")
			stringVal = strings.Join(lines, "\n"+strings.Repeat(" ", multiLineIndent))
		case ok && isJSON([]byte(stringVal)):
			var tmp bytes.Buffer
			if err := json.Indent(&tmp, []byte(stringVal), strings.Repeat(" ", multiLineIndent), "  "); err != nil {
				return nil, err
			}
			stringVal = tmp.String()
		default:
			jsonVal, err := json.MarshalIndent(v, strings.Repeat(" ", multiLineIndent), "  ")
			if err != nil {
				return nil, err
			}
			stringVal = string(jsonVal)
		}

		b.WriteString(strings.Repeat(" ", fieldIndent))
		b.WriteString(k)
		if strings.Contains(stringVal, "\n") {
			b.WriteString(" = |\n")
			b.WriteString(strings.Repeat(" ", multiLineIndent))
		} else {
			b.WriteString(" = ")
		}
		b.WriteString(stringVal)
		b.WriteString("\n")
	}
	return b.Bytes(), nil
}
