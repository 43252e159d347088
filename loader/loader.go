// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package loader contains utilities for loading policy, schema and data
// files into a runtime.
//
// A policy file (extension .dl) holds the rules and facts of the policy named
// after the file. A schema file (name.schema.json or name.schema.yaml) maps
// the tables of the policy to their columns. A data file (name.data.json or
// name.data.yaml) maps tables to lists of rows. Paths can be prefixed with a
// policy name, e.g. classification:/path/to/rules.dl, to load the files under
// that policy instead.
package loader

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"

	"github.com/open-policy-agent/congress/ast"
	"github.com/open-policy-agent/congress/theory"
	"github.com/open-policy-agent/congress/types"
	"github.com/open-policy-agent/congress/util"
)

// File extensions recognized by the loader.
const (
	PolicyExt = ".dl"
	SchemaExt = ".schema"
	DataExt   = ".data"
)

// Result represents the result of successfully loading zero or more files.
type Result struct {
	// Policies holds the policy files keyed by path.
	Policies map[string]*PolicyFile

	// Schemas holds the schemas keyed by policy name.
	Schemas map[string]*ast.Schema

	// Data holds the facts of data files keyed by policy name.
	Data map[string][]*ast.Literal

	rows map[string]map[string][][]interface{}
}

// PolicyFile represents the result of loading a single policy file.
type PolicyFile struct {
	Name   string
	Path   string
	Parsed []ast.Formula
	Raw    []byte
}

// Filter defines the interface for filtering files during loading. If the
// filter returns true, the file should be excluded from the result.
type Filter func(abspath string, info os.FileInfo, depth int) bool

// GlobExcludeName excludes files and directories whose names match the shell
// style pattern at minDepth or greater.
func GlobExcludeName(pattern string, minDepth int) Filter {
	return func(_ string, info os.FileInfo, depth int) bool {
		match, _ := filepath.Match(pattern, info.Name())
		return match && depth >= minDepth
	}
}

// All returns a Result object loaded (recursively) from the specified paths.
func All(paths []string) (*Result, error) {
	return Filtered(paths, nil)
}

// Filtered returns a Result object loaded (recursively) from the specified
// paths while applying the given filter. If the filter returns true, the
// file or directory is excluded.
func Filtered(paths []string, filter Filter) (*Result, error) {
	errs := loaderErrors{}
	result := newResult()
	for _, p := range paths {
		name, path := SplitPrefix(p)
		allRec(path, name, filter, &errs, result, 0)
	}
	if len(errs) == 0 {
		result.marshalRows(&errs)
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return result, nil
}

// Policy returns the policy file at path.
func Policy(path string) (*PolicyFile, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return loadPolicy(path, policyName(path, ""), bs)
}

// SplitPrefix returns the policy name prefix and the path of a path
// argument. Windows drive letters are not mistaken for prefixes.
func SplitPrefix(path string) (string, string) {
	i := strings.Index(path, ":")
	if i <= 1 || !ast.IsValidName(path[:i]) {
		return "", path
	}
	return path[:i], path[i+1:]
}

// PolicyNames returns the sorted names of the policies that the result
// provides content for.
func (l *Result) PolicyNames() []string {
	names := map[string]struct{}{}
	for _, f := range l.Policies {
		names[f.Name] = struct{}{}
	}
	for name := range l.Schemas {
		names[name] = struct{}{}
	}
	for name := range l.Data {
		names[name] = struct{}{}
	}
	return util.SortedKeys(names)
}

// Kind returns the kind of policy a result entry needs: policies with
// schemas or data but no rules are databases.
func (l *Result) Kind(name string) theory.Kind {
	for _, f := range l.Policies {
		if f.Name == name {
			return theory.NonrecursiveKind
		}
	}
	return theory.DatabaseKind
}

// Files returns the policy files of the policy sorted by path.
func (l *Result) Files(name string) []*PolicyFile {
	var result []*PolicyFile
	for _, f := range l.Policies {
		if f.Name == name {
			result = append(result, f)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Path < result[j].Path
	})
	return result
}

func newResult() *Result {
	return &Result{
		Policies: map[string]*PolicyFile{},
		Schemas:  map[string]*ast.Schema{},
		Data:     map[string][]*ast.Literal{},
		rows:     map[string]map[string][][]interface{}{},
	}
}

func allRec(path, name string, filter Filter, errs *loaderErrors, loaded *Result, depth int) {
	info, err := os.Stat(path)
	if err != nil {
		errs.Add(err)
		return
	}
	if filter != nil && filter(path, info, depth) {
		return
	}
	if !info.IsDir() {
		if err := loaded.load(path, name, depth); err != nil {
			errs.Add(err)
		}
		return
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		errs.Add(err)
		return
	}
	for _, e := range entries {
		allRec(filepath.Join(path, e.Name()), name, filter, errs, loaded, depth+1)
	}
}

func (l *Result) load(path, prefix string, depth int) error {
	kind, stem := classify(path)
	if kind == "" {
		if depth > 0 {
			return nil
		}
		return unrecognizedFile(path)
	}
	name := prefix
	if name == "" {
		name = stem
	}
	if !ast.IsValidName(name) {
		return fmt.Errorf("%v: %q is not a valid policy name", path, name)
	}
	bs, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch kind {
	case PolicyExt:
		f, err := loadPolicy(path, name, bs)
		if err != nil {
			return err
		}
		l.Policies[path] = f
	case SchemaExt:
		schema, err := loadSchema(path, bs)
		if err != nil {
			return err
		}
		return l.mergeSchema(path, name, schema)
	case DataExt:
		var doc map[string][][]interface{}
		if err := unmarshal(path, bs, &doc); err != nil {
			return err
		}
		return l.mergeRows(path, name, doc)
	}
	return nil
}

// classify returns the kind of file at path and the stem that names its
// policy.
func classify(path string) (string, string) {
	base := filepath.Base(path)
	if strings.HasSuffix(base, PolicyExt) {
		return PolicyExt, strings.TrimSuffix(base, PolicyExt)
	}
	ext := filepath.Ext(base)
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return "", ""
	}
	stem := strings.TrimSuffix(base, ext)
	for _, kind := range []string{SchemaExt, DataExt} {
		if strings.HasSuffix(stem, kind) {
			return kind, strings.TrimSuffix(stem, kind)
		}
	}
	return "", ""
}

func policyName(path, prefix string) string {
	if prefix != "" {
		return prefix
	}
	_, stem := classify(path)
	return stem
}

func loadPolicy(path, name string, bs []byte) (*PolicyFile, error) {
	fs, err := ast.ParseWithOptions(string(bs), ast.ParserOptions{Filename: path})
	if err != nil {
		return nil, err
	}
	return &PolicyFile{Name: name, Path: path, Parsed: fs, Raw: bs}, nil
}

// loadSchema reads a map from table names to columns. Columns are either
// names or objects with a name and optional type, nullable and desc fields.
func loadSchema(path string, bs []byte) (*ast.Schema, error) {
	var doc map[string][]interface{}
	if err := unmarshal(path, bs, &doc); err != nil {
		return nil, err
	}
	tables := make(map[string][]ast.Column, len(doc))
	for table, cols := range doc {
		columns := make([]ast.Column, len(cols))
		for i, c := range cols {
			switch c := c.(type) {
			case string:
				columns[i] = ast.Column{Name: c}
			case map[string]interface{}:
				bs, err := yaml.Marshal(c)
				if err != nil {
					return nil, errors.Wrap(err, path)
				}
				if err := yaml.Unmarshal(bs, &columns[i]); err != nil {
					return nil, errors.Wrap(err, path)
				}
			default:
				return nil, fmt.Errorf("%v: %v: column %d must be a name or an object", path, table, i)
			}
			if columns[i].Name == "" {
				return nil, fmt.Errorf("%v: %v: column %d has no name", path, table, i)
			}
		}
		tables[table] = columns
	}
	schema := ast.NewSchema(tables, true)
	if err := types.Default.CheckSchema(schema); err != nil {
		return nil, errors.Wrap(err, path)
	}
	return schema, nil
}

func (l *Result) mergeSchema(path, name string, schema *ast.Schema) error {
	existing, ok := l.Schemas[name]
	if !ok {
		l.Schemas[name] = schema
		return nil
	}
	for table, cols := range schema.Tables {
		if existing.Contains(table) {
			return fmt.Errorf("%v: table %v of policy %v is declared more than once", path, table, name)
		}
		existing.Tables[table] = cols
	}
	return nil
}

func (l *Result) mergeRows(path, name string, doc map[string][][]interface{}) error {
	tables, ok := l.rows[name]
	if !ok {
		tables = map[string][][]interface{}{}
		l.rows[name] = tables
	}
	for table, rows := range doc {
		if !ast.IsValidName(table) {
			return fmt.Errorf("%v: %q is not a valid table name", path, table)
		}
		tables[table] = append(tables[table], rows...)
	}
	return nil
}

// marshalRows converts the rows of data files to facts once every schema is
// known.
func (l *Result) marshalRows(errs *loaderErrors) {
	for _, name := range util.SortedKeys(l.rows) {
		tables := l.rows[name]
		for _, table := range util.SortedKeys(tables) {
			for _, row := range tables[table] {
				lit, err := types.Default.MarshalRow(l.Schemas[name], table, row)
				if err != nil {
					errs.Add(fmt.Errorf("%v: %w", name, err))
					continue
				}
				l.Data[name] = append(l.Data[name], lit)
			}
		}
	}
}

// unmarshal decodes YAML or JSON. Numbers are kept as json.Number so that
// integers and floats stay distinct.
func unmarshal(path string, bs []byte, x interface{}) error {
	bs, err := yaml.YAMLToJSON(bs)
	if err != nil {
		return fmt.Errorf("%v: error converting YAML to JSON: %v", path, err)
	}
	if err := util.UnmarshalJSON(bytes.TrimSpace(bs), x); err != nil {
		return errors.Wrap(err, path)
	}
	return nil
}
