// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package proteodiff

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// Normalization holds per-sample scale factors for one contrast.
// Factors are always computed; they are applied to the fitted values
// only when the matrix is not already on a log scale.
type Normalization struct {
	Method  NormalizationMethod `json:"method"`
	Samples []string            `json:"samples"`
	LibSize []float64           `json:"lib_size"`
	Factors []float64           `json:"factors"`
	Medians []float64           `json:"median_log2"`
	Applied bool                `json:"applied"`
}

// normalize computes scale factors over the filtered, subsetted
// matrix and returns the features x samples values to fit.
func normalize(m *AbundanceMatrix, rows, columns []int, method NormalizationMethod) (*Normalization, *mat.Dense) {
	norm := &Normalization{
		Method:  method,
		Samples: make([]string, len(columns)),
		LibSize: make([]float64, len(columns)),
		Medians: make([]float64, len(columns)),
		Applied: !m.Logged(),
	}
	// linear[j] is sample j's column on the linear scale
	linear := make([][]float64, len(columns))
	for k, j := range columns {
		norm.Samples[k] = m.Samples[j]
		col := make([]float64, len(rows))
		logcol := make([]float64, len(rows))
		for r, i := range rows {
			col[r] = m.linearAt(i, j)
			logcol[r] = m.log2At(i, j)
			norm.LibSize[k] += col[r]
		}
		linear[k] = col
		if med, err := stats.Median(logcol); err == nil {
			norm.Medians[k] = med
		}
	}
	switch method {
	case NormalizeUpperQuartile:
		norm.Factors = upperQuartileFactors(linear, norm.LibSize, 0.75)
	default:
		norm.Factors = ones(len(columns))
	}

	y := mat.NewDense(len(rows), len(columns), nil)
	for r, i := range rows {
		for k, j := range columns {
			if norm.Applied {
				y.Set(r, k, math.Log1p(m.At(i, j)/norm.Factors[k])/math.Ln2)
			} else {
				y.Set(r, k, m.At(i, j))
			}
		}
	}
	return norm, y
}

func ones(n int) []float64 {
	f := make([]float64, n)
	for i := range f {
		f[i] = 1
	}
	return f
}

// upperQuartileFactors returns factors that equalize the pth quantile
// of each library-size-scaled sample, rescaled to geometric mean 1.
// Features that are zero in every sample are ignored. Degenerate
// input (a single sample, an empty library, a zero quantile) yields
// unit factors.
func upperQuartileFactors(data [][]float64, libsize []float64, p float64) []float64 {
	if len(data) < 2 || len(data[0]) == 0 {
		return ones(len(data))
	}
	skip := make([]bool, len(data[0]))
	for i := range skip {
		skip[i] = true
		for _, col := range data {
			if col[i] != 0 {
				skip[i] = false
				break
			}
		}
	}
	q := make([]float64, len(data))
	y := make([]float64, 0, len(data[0]))
	for k, col := range data {
		if libsize[k] <= 0 {
			log.Warnf("sample %d has empty library, using unit normalization factors", k)
			return ones(len(data))
		}
		y = y[:0]
		for i, v := range col {
			if !skip[i] {
				y = append(y, v/libsize[k])
			}
		}
		if len(y) == 0 {
			return ones(len(data))
		}
		q[k] = quantileR7(y, p)
		if !(q[k] > 0) {
			log.Warnf("sample %d has zero upper quartile, using unit normalization factors", k)
			return ones(len(data))
		}
	}
	logmean := 0.0
	for _, v := range q {
		logmean += math.Log(v)
	}
	geomean := math.Exp(logmean / float64(len(q)))
	for k := range q {
		q[k] /= geomean
	}
	return q
}

// quantileR7 returns the pth quantile of v by linear interpolation
// between order statistics (R's default, type 7). v is sorted in
// place.
func quantileR7(v []float64, p float64) float64 {
	sort.Float64s(v)
	if p >= 1 {
		return v[len(v)-1]
	}
	h := float64(len(v)-1) * p
	i := int(h)
	if i+1 >= len(v) {
		return v[i]
	}
	return v[i] + (h-math.Floor(h))*(v[i+1]-v[i])
}
