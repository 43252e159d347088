// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package util

type hashEntry[K, V any] struct {
	k K
	v V
}

// HashMap maps keys that cannot be compared with ==, e.g., tuples of terms.
// Keys are bucketed by hash and compared with eq inside a bucket.
type HashMap[K, V any] struct {
	eq      func(K, K) bool
	hash    func(K) uint64
	buckets map[uint64][]hashEntry[K, V]
	size    int
}

// NewHashMap returns a new empty HashMap.
func NewHashMap[K, V any](eq func(K, K) bool, hash func(K) uint64) *HashMap[K, V] {
	return &HashMap[K, V]{
		eq:      eq,
		hash:    hash,
		buckets: map[uint64][]hashEntry[K, V]{},
	}
}

func (h *HashMap[K, V]) find(k K) (uint64, int) {
	code := h.hash(k)
	for i, e := range h.buckets[code] {
		if h.eq(e.k, k) {
			return code, i
		}
	}
	return code, -1
}

// Get returns the value stored for k.
func (h *HashMap[K, V]) Get(k K) (V, bool) {
	code, i := h.find(k)
	if i < 0 {
		var zero V
		return zero, false
	}
	return h.buckets[code][i].v, true
}

// Put stores v for k, replacing any previous value.
func (h *HashMap[K, V]) Put(k K, v V) {
	code, i := h.find(k)
	if i >= 0 {
		h.buckets[code][i].v = v
		return
	}
	h.buckets[code] = append(h.buckets[code], hashEntry[K, V]{k: k, v: v})
	h.size++
}

// Delete removes k and returns true if it was present.
func (h *HashMap[K, V]) Delete(k K) bool {
	code, i := h.find(k)
	if i < 0 {
		return false
	}
	bucket := h.buckets[code]
	if len(bucket) == 1 {
		delete(h.buckets, code)
	} else {
		h.buckets[code] = append(bucket[:i:i], bucket[i+1:]...)
	}
	h.size--
	return true
}

// Iter calls f for every entry until f returns true.
func (h *HashMap[K, V]) Iter(f func(K, V) bool) bool {
	for _, bucket := range h.buckets {
		for _, e := range bucket {
			if f(e.k, e.v) {
				return true
			}
		}
	}
	return false
}

// Len returns the number of entries.
func (h *HashMap[K, V]) Len() int {
	return h.size
}
