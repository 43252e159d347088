// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package storage

import (
	"container/list"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/open-policy-agent/congress/util"
)

// FactSet is a set of tuples that iterates in insertion order. Secondary
// indexes over sorted column positions map the projection of a tuple onto
// those columns to the matching tuples. Every index is kept consistent with
// the set on every Add and Remove. FactSet is not safe for concurrent use.
type FactSet struct {
	order   *list.List
	members map[string]*list.Element
	indexes map[string]*factIndex
}

type factIndex struct {
	cols    []int
	entries *util.HashMap[Tuple, []Tuple]
}

// NewFactSet returns an empty fact set.
func NewFactSet() *FactSet {
	return &FactSet{
		order:   list.New(),
		members: map[string]*list.Element{},
		indexes: map[string]*factIndex{},
	}
}

func newFactIndex(cols []int) *factIndex {
	return &factIndex{
		cols: cols,
		entries: util.NewHashMap[Tuple, []Tuple](func(a, b Tuple) bool {
			return a.Equal(b)
		}, func(t Tuple) uint64 {
			return t.Hash()
		}),
	}
}

func (idx *factIndex) check(t Tuple) error {
	if last := idx.cols[len(idx.cols)-1]; last >= len(t) {
		return arityError("tuple %v has no column %d required by index %v", t, last, indexName(idx.cols))
	}
	return nil
}

// Buckets keep tuples in insertion order.
func (idx *factIndex) add(t Tuple) {
	p := t.Project(idx.cols)
	bucket, _ := idx.entries.Get(p)
	idx.entries.Put(p, append(bucket, t))
}

func (idx *factIndex) remove(t Tuple) {
	p := t.Project(idx.cols)
	bucket, ok := idx.entries.Get(p)
	if !ok {
		return
	}
	for i := range bucket {
		if bucket[i].Equal(t) {
			bucket = append(bucket[:i:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		idx.entries.Delete(p)
		return
	}
	idx.entries.Put(p, bucket)
}

func indexName(cols []int) string {
	strs := make([]string, len(cols))
	for i := range cols {
		strs[i] = strconv.Itoa(cols[i])
	}
	return strings.Join(strs, ",")
}

// Len returns the number of tuples in the set.
func (fs *FactSet) Len() int {
	return len(fs.members)
}

// Contains returns true if the tuple is in the set.
func (fs *FactSet) Contains(t Tuple) bool {
	_, ok := fs.members[t.Key()]
	return ok
}

// Add inserts the tuple. It returns false if the tuple was already present.
// If the tuple cannot be stored in one of the indexes, neither the set nor
// any index is modified and an error is returned.
func (fs *FactSet) Add(t Tuple) (bool, error) {
	key := t.Key()
	if _, ok := fs.members[key]; ok {
		return false, nil
	}
	for _, idx := range fs.indexes {
		if err := idx.check(t); err != nil {
			return false, err
		}
	}
	fs.members[key] = fs.order.PushBack(t)
	for _, idx := range fs.indexes {
		idx.add(t)
	}
	return true, nil
}

// Remove deletes the tuple. It returns false if the tuple was not present.
func (fs *FactSet) Remove(t Tuple) bool {
	key := t.Key()
	elem, ok := fs.members[key]
	if !ok {
		return false
	}
	stored := elem.Value.(Tuple)
	for _, idx := range fs.indexes {
		idx.remove(stored)
	}
	fs.order.Remove(elem)
	delete(fs.members, key)
	return true
}

// CreateIndex creates an index over the given columns, which must be sorted
// and distinct. Creating an index that already exists is a no-op. Creating
// an index on an empty set registers it for future tuples.
func (fs *FactSet) CreateIndex(cols []int) error {
	if err := validateColumns(cols); err != nil {
		return err
	}
	name := indexName(cols)
	if _, ok := fs.indexes[name]; ok {
		return nil
	}
	idx := newFactIndex(append([]int(nil), cols...))
	for e := fs.order.Front(); e != nil; e = e.Next() {
		if err := idx.check(e.Value.(Tuple)); err != nil {
			return err
		}
	}
	for e := fs.order.Front(); e != nil; e = e.Next() {
		idx.add(e.Value.(Tuple))
	}
	fs.indexes[name] = idx
	return nil
}

// RemoveIndex drops the index over the given columns.
func (fs *FactSet) RemoveIndex(cols []int) {
	delete(fs.indexes, indexName(cols))
}

// HasIndex returns true if an index over exactly the given columns exists.
func (fs *FactSet) HasIndex(cols []int) bool {
	_, ok := fs.indexes[indexName(cols)]
	return ok
}

// Indexes returns the column sets of all indexes.
func (fs *FactSet) Indexes() [][]int {
	names := util.SortedKeys(fs.indexes)
	result := make([][]int, len(names))
	for i, name := range names {
		result[i] = fs.indexes[name].cols
	}
	return result
}

// Find returns the tuples matching every column constraint. If an index
// exists for exactly the constrained columns it is used and iterations, if
// not nil, is set to 1. Otherwise every tuple is scanned and iterations is
// set to the size of the set.
func (fs *FactSet) Find(partial []ColumnValue, iterations *int) []Tuple {
	partial = sortedPartial(partial)
	cols := make([]int, len(partial))
	key := make(Tuple, len(partial))
	for i := range partial {
		cols[i] = partial[i].Col
		key[i] = partial[i].Value
	}

	if len(partial) > 0 {
		if idx, ok := fs.indexes[indexName(cols)]; ok {
			if iterations != nil {
				*iterations = 1
			}
			bucket, _ := idx.entries.Get(key)
			return append([]Tuple(nil), bucket...)
		}
	}

	if iterations != nil {
		*iterations = fs.Len()
	}
	var result []Tuple
	for e := fs.order.Front(); e != nil; e = e.Next() {
		t := e.Value.(Tuple)
		if matches(t, partial) {
			result = append(result, t)
		}
	}
	return result
}

// Iter calls f for each tuple in insertion order. If f returns true,
// iteration stops and Iter returns true.
func (fs *FactSet) Iter(f func(Tuple) bool) bool {
	for e := fs.order.Front(); e != nil; e = e.Next() {
		if f(e.Value.(Tuple)) {
			return true
		}
	}
	return false
}

// Tuples returns the tuples of the set in insertion order.
func (fs *FactSet) Tuples() []Tuple {
	result := make([]Tuple, 0, fs.Len())
	fs.Iter(func(t Tuple) bool {
		result = append(result, t)
		return false
	})
	return result
}

// Clear removes every tuple. Indexes are kept.
func (fs *FactSet) Clear() {
	fs.order.Init()
	fs.members = map[string]*list.Element{}
	for name, idx := range fs.indexes {
		fs.indexes[name] = newFactIndex(idx.cols)
	}
}

func (fs *FactSet) String() string {
	strs := make([]string, 0, fs.Len())
	fs.Iter(func(t Tuple) bool {
		strs = append(strs, t.String())
		return false
	})
	return "{" + strings.Join(strs, ", ") + "}"
}

func matches(t Tuple, partial []ColumnValue) bool {
	for _, cv := range partial {
		if cv.Col >= len(t) || !t[cv.Col].Equal(cv.Value) {
			return false
		}
	}
	return true
}

func sortedPartial(partial []ColumnValue) []ColumnValue {
	if sort.SliceIsSorted(partial, func(i, j int) bool { return partial[i].Col < partial[j].Col }) {
		return partial
	}
	cpy := append([]ColumnValue(nil), partial...)
	sort.Slice(cpy, func(i, j int) bool { return cpy[i].Col < cpy[j].Col })
	return cpy
}

func validateColumns(cols []int) error {
	if len(cols) == 0 {
		return fmt.Errorf("index requires at least one column")
	}
	for i, c := range cols {
		if c < 0 {
			return fmt.Errorf("illegal index column %d", c)
		}
		if i > 0 && cols[i-1] >= c {
			return fmt.Errorf("index columns must be sorted and distinct: %v", cols)
		}
	}
	return nil
}
