// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package util

import (
	"sort"

	"github.com/agnivade/levenshtein"
)

// Suggest returns up to max candidates that are close to s by edit distance,
// closest first. Candidates further than a third of the length of s (and at
// least two edits) away are not suggested.
func Suggest(s string, candidates []string, max int) []string {
	limit := len(s) / 3
	if limit < 2 {
		limit = 2
	}
	type scored struct {
		name string
		dist int
	}
	var found []scored
	for _, c := range candidates {
		if c == s {
			continue
		}
		if d := levenshtein.ComputeDistance(s, c); d <= limit {
			found = append(found, scored{c, d})
		}
	}
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].dist != found[j].dist {
			return found[i].dist < found[j].dist
		}
		return found[i].name < found[j].name
	})
	result := make([]string, 0, max)
	for i := 0; i < len(found) && i < max; i++ {
		result = append(result, found[i].name)
	}
	return result
}
