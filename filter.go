// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package proteodiff

// filteredFeatures is the outcome of the low-abundance filter for one
// contrast: the retained matrix rows and their subset means.
type filteredFeatures struct {
	rows    []int
	means   []float64 // subset mean log2 abundance, per retained row
	dropped int
}

// filterFeatures keeps features whose mean log2 abundance over the
// given sample columns is at least threshold. The result belongs to
// one contrast only.
func filterFeatures(m *AbundanceMatrix, columns []int, threshold float64) filteredFeatures {
	var ff filteredFeatures
	n := float64(len(columns))
	for i := range m.IDs {
		sum := 0.0
		for _, j := range columns {
			sum += m.log2At(i, j)
		}
		mean := sum / n
		if mean >= threshold {
			ff.rows = append(ff.rows, i)
			ff.means = append(ff.means, mean)
		} else {
			ff.dropped++
		}
	}
	return ff
}
