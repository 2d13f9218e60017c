// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package fdr implements false discovery rate control for a family
// of independent tests.
package fdr

import (
	"math"
	"sort"
)

// BH returns Benjamini-Hochberg adjusted p-values, in the same order
// as p. NaN entries are not counted as tests and are returned as NaN.
//
// With m valid tests sorted ascending as p(1)..p(m), the adjusted
// value at rank i is min over j>=i of p(j)*m/j, capped at 1.
func BH(p []float64) []float64 {
	adj := make([]float64, len(p))
	idx := make([]int, 0, len(p))
	for i, v := range p {
		if math.IsNaN(v) {
			adj[i] = math.NaN()
			continue
		}
		idx = append(idx, i)
	}
	m := len(idx)
	if m == 0 {
		return adj
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return p[idx[a]] < p[idx[b]]
	})
	min := 1.0
	for rank := m; rank >= 1; rank-- {
		i := idx[rank-1]
		q := p[i] * float64(m) / float64(rank)
		if q < min {
			min = q
		}
		adj[i] = min
	}
	return adj
}
