// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package proteodiff

import (
	"gonum.org/v1/gonum/mat"
)

// FitResult is one contrast's per-feature least-squares fit against
// its design matrix.
type FitResult struct {
	Levels       []string
	Coefficients *mat.Dense // features x design columns
	Sigma2       []float64  // residual variance per feature
	DF           float64    // residual degrees of freedom, same for every feature
	Unscaled     *mat.Dense // (X'X)^-1
	Amean        []float64  // average fitted-scale abundance per feature
}

// designMatrix returns the zero-intercept indicator matrix: one row
// per sample, one column per group level.
func designMatrix(assign []int, ncols int) *mat.Dense {
	x := mat.NewDense(len(assign), ncols, nil)
	for i, k := range assign {
		x.Set(i, k, 1)
	}
	return x
}

// fitLinearModel fits y (features x samples) against design x
// (samples x columns) by ordinary least squares, all features at
// once: B = Y X (X'X)^-1.
func fitLinearModel(contrast string, levels []string, y, x *mat.Dense) (*FitResult, error) {
	nfeatures, nsamples := y.Dims()
	xrows, ncols := x.Dims()
	if xrows != nsamples {
		return nil, integrityErrorf(contrast, "design", "design has %d rows for %d samples", xrows, nsamples)
	}
	if ncols == 0 {
		return nil, integrityErrorf(contrast, "design", "design has no columns")
	}
	if nfeatures == 0 {
		return nil, integrityErrorf(contrast, "empty-features", "no features to fit")
	}
	df := nsamples - ncols
	if df <= 0 {
		return nil, integrityErrorf(contrast, "residual-df", "%d samples and %d design columns leave %d residual degrees of freedom", nsamples, ncols, df)
	}

	var xtx mat.Dense
	xtx.Mul(x.T(), x)
	var unscaled mat.Dense
	if err := unscaled.Inverse(&xtx); err != nil {
		return nil, integrityErrorf(contrast, "rank-deficient", "design matrix X'X is not invertible: %s", err)
	}

	var yx, coef, fitted mat.Dense
	yx.Mul(y, x)
	coef.Mul(&yx, &unscaled)
	fitted.Mul(&coef, x.T())

	fit := &FitResult{
		Levels:       levels,
		Coefficients: &coef,
		Sigma2:       make([]float64, nfeatures),
		DF:           float64(df),
		Unscaled:     &unscaled,
		Amean:        make([]float64, nfeatures),
	}
	for i := 0; i < nfeatures; i++ {
		rss, sum := 0.0, 0.0
		for j := 0; j < nsamples; j++ {
			v := y.At(i, j)
			r := v - fitted.At(i, j)
			rss += r * r
			sum += v
		}
		fit.Sigma2[i] = rss / fit.DF
		fit.Amean[i] = sum / float64(nsamples)
	}
	return fit, nil
}
