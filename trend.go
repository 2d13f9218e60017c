// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package proteodiff

import (
	"fmt"
	"io"
	"log"
	"math"
	"sort"

	"github.com/kshedden/statmodel/glm"
	"github.com/kshedden/statmodel/statmodel"
	"gonum.org/v1/gonum/mat"
)

var trendGLMConfig = &glm.Config{
	Family:         glm.NewFamily(glm.GaussianFamily),
	FitMethod:      "IRLS",
	ConcurrentIRLS: 1000,
	Log:            log.New(io.Discard, "", 0),
}

// splineDF returns the number of natural spline basis functions used
// for a variance trend over n features with nuniq distinct covariate
// values.
func splineDF(n, nuniq int) int {
	df := 1
	for _, min := range []int{3, 6, 30} {
		if n >= min {
			df++
		}
	}
	if df > nuniq {
		df = nuniq
	}
	return df
}

// naturalSplineBasis returns an n x k basis (including the intercept
// column) spanning natural cubic splines in x with k knots: the
// boundary knots at min(x) and max(x), and k-2 interior knots at
// evenly spaced quantiles. Coincident knots are merged, so the
// returned basis may have fewer than k columns.
func naturalSplineBasis(x []float64, k int) *mat.Dense {
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	lo, hi := sorted[0], sorted[len(sorted)-1]
	width := hi - lo
	if width == 0 {
		width = 1
	}
	var knots []float64
	for i := 0; i < k; i++ {
		var q float64
		switch i {
		case 0:
			q = 0
		case k - 1:
			q = 1
		default:
			q = (quantileR7(sorted, float64(i)/float64(k-1)) - lo) / width
		}
		if len(knots) == 0 || q > knots[len(knots)-1] {
			knots = append(knots, q)
		}
	}
	nk := len(knots)
	if nk < 2 {
		return mat.NewDense(len(x), 1, ones(len(x)))
	}
	cube := func(v float64) float64 {
		if v <= 0 {
			return 0
		}
		return v * v * v
	}
	last := knots[nk-1]
	d := func(u float64, j int) float64 {
		return (cube(u-knots[j]) - cube(u-last)) / (last - knots[j])
	}
	basis := mat.NewDense(len(x), nk, nil)
	for i, xi := range x {
		u := (xi - lo) / width
		basis.Set(i, 0, 1)
		basis.Set(i, 1, u)
		for j := 0; j < nk-2; j++ {
			basis.Set(i, j+2, d(u, j)-d(u, nk-2))
		}
	}
	return basis
}

// fitTrend regresses y on the columns of basis and returns the fitted
// values. The Gaussian GLM is tried first; if it fails, the same least
// squares problem is solved by QR.
func fitTrend(basis *mat.Dense, y []float64) ([]float64, error) {
	params, err := glmLeastSquares(basis, y)
	if err != nil {
		params, err = qrLeastSquares(basis, y)
		if err != nil {
			return nil, err
		}
	}
	n, k := basis.Dims()
	fitted := make([]float64, n)
	for i := range fitted {
		for j := 0; j < k; j++ {
			fitted[i] += basis.At(i, j) * params[j]
		}
	}
	return fitted, nil
}

func glmLeastSquares(basis *mat.Dense, y []float64) (params []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			// typically "matrix singular or near-singular"
			params, err = nil, fmt.Errorf("glm: %v", r)
		}
	}()
	n, k := basis.Dims()
	data := make([][]statmodel.Dtype, 0, k+1)
	names := make([]string, 0, k+1)
	data = append(data, append([]statmodel.Dtype(nil), y...))
	names = append(names, "e")
	for j := 0; j < k; j++ {
		col := make([]statmodel.Dtype, n)
		for i := range col {
			col[i] = basis.At(i, j)
		}
		data = append(data, col)
		names = append(names, fmt.Sprintf("ns%d", j))
	}
	model, err := glm.NewGLM(statmodel.NewDataset(data, names), "e", names[1:], trendGLMConfig)
	if err != nil {
		return nil, err
	}
	params = model.Fit().Params()
	if len(params) != k {
		return nil, fmt.Errorf("glm: %d params for %d basis columns", len(params), k)
	}
	for _, p := range params {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return nil, fmt.Errorf("glm: non-finite parameter")
		}
	}
	return params, nil
}

func qrLeastSquares(basis *mat.Dense, y []float64) ([]float64, error) {
	_, k := basis.Dims()
	var beta mat.Dense
	err := beta.Solve(basis, mat.NewDense(len(y), 1, append([]float64(nil), y...)))
	if err != nil {
		return nil, fmt.Errorf("trend least squares: %w", err)
	}
	params := make([]float64, k)
	for j := range params {
		params[j] = beta.At(j, 0)
	}
	return params, nil
}
