// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package proteodiff

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

type contrastEstimate struct {
	Effect        []float64 // c'b per feature (log fold change)
	StdevUnscaled float64   // sqrt(c' (X'X)^-1 c)
}

// estimateContrast projects the fitted coefficients onto c.
func estimateContrast(contrast string, fit *FitResult, c []float64) (*contrastEstimate, error) {
	nfeatures, ncols := fit.Coefficients.Dims()
	if len(c) != ncols {
		return nil, configErrorf(contrast, "coefficients", "%d coefficients for %d design columns", len(c), ncols)
	}
	cv := mat.NewVecDense(ncols, append([]float64(nil), c...))
	var uc mat.VecDense
	uc.MulVec(fit.Unscaled, cv)
	scale := mat.Dot(cv, &uc)
	if !(scale > 0) || math.IsInf(scale, 0) {
		return nil, integrityErrorf(contrast, "contrast-variance", "contrast variance scale c'(X'X)^-1c = %v", scale)
	}
	var effect mat.VecDense
	effect.MulVec(fit.Coefficients, cv)
	est := &contrastEstimate{
		Effect:        make([]float64, nfeatures),
		StdevUnscaled: math.Sqrt(scale),
	}
	for i := range est.Effect {
		est.Effect[i] = effect.AtVec(i)
	}
	return est, nil
}
