// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package proteodiff

import (
	"math"

	"gopkg.in/check.v1"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

type ebayesSuite struct{}

var _ = check.Suite(&ebayesSuite{})

func (s *ebayesSuite) TestPolygamma(c *check.C) {
	checkClose(c, trigamma(1), math.Pi*math.Pi/6, 1e-10)
	checkClose(c, trigamma(0.5), math.Pi*math.Pi/2, 1e-10)
	checkClose(c, trigamma(2), math.Pi*math.Pi/6-1, 1e-10)
	checkClose(c, tetragamma(1), -2.4041138063191885, 1e-10)
	// mathext.Digamma is accurate to about 1e-10
	checkClose(c, digamma(1), -0.5772156649015329, 1e-10)
	checkClose(c, digamma(0.5), -1.9635100260214235, 1e-10)
	for _, x := range []float64{0.01, 0.3, 1, 2.5, 40, 1000} {
		y := trigammaInverse(x)
		checkClose(c, trigamma(y)/x, 1, 1e-6, x)
	}
	c.Check(math.IsInf(trigammaInverse(0), 1), check.Equals, true)
	c.Check(math.IsNaN(trigammaInverse(-1)), check.Equals, true)
}

func (s *ebayesSuite) TestSplineDF(c *check.C) {
	c.Check(splineDF(2, 2), check.Equals, 1)
	c.Check(splineDF(3, 3), check.Equals, 2)
	c.Check(splineDF(10, 10), check.Equals, 3)
	c.Check(splineDF(30, 100), check.Equals, 4)
	c.Check(splineDF(100, 2), check.Equals, 2)
}

func (s *ebayesSuite) TestTrendFitsLine(c *check.C) {
	x := make([]float64, 20)
	y := make([]float64, 20)
	for i := range x {
		x[i] = float64(i) / 2
		y[i] = 2 + 3*x[i]
	}
	basis := naturalSplineBasis(x, 4)
	rows, cols := basis.Dims()
	c.Check(rows, check.Equals, 20)
	c.Check(cols, check.Equals, 4)
	fitted, err := fitTrend(basis, y)
	c.Assert(err, check.IsNil)
	for i := range y {
		checkClose(c, fitted[i], y[i], 1e-6, i)
	}
	params, err := qrLeastSquares(basis, y)
	c.Assert(err, check.IsNil)
	c.Check(params, check.HasLen, 4)
	checkClose(c, params[0], 2, 1e-9)
}

// Nine features with typical variance and one with a much larger
// one. The outlier's posterior variance must lie strictly between its
// own and the prior.
func (s *ebayesSuite) TestShrinkOutlier(c *check.C) {
	s2 := []float64{0.8, 0.85, 0.9, 0.95, 1.0, 1.05, 1.1, 1.15, 1.2, 50}
	amean := make([]float64, len(s2))
	for i := range amean {
		amean[i] = 10
	}
	md := moderator{Trend: true, Proportion: 0.01}
	pr := md.fitPrior(s2, 4, amean)
	c.Check(pr.df > 0, check.Equals, true)
	c.Check(math.IsInf(pr.df, 1), check.Equals, false)
	post := pr.squeeze(s2, 4)
	for i, v := range s2 {
		c.Check(pr.s2[i], check.Equals, pr.s2[0])
		lo, hi := math.Min(v, pr.s2[i]), math.Max(v, pr.s2[i])
		c.Check(post[i] > lo && post[i] < hi, check.Equals, true, check.Commentf("i=%d s2=%v prior=%v post=%v", i, v, pr.s2[i], post[i]))
	}
	c.Check(post[9] < 50, check.Equals, true)
	c.Check(post[9] > pr.s2[9], check.Equals, true)
}

// Identical variances carry no information about a prior spread:
// the prior df is infinite and every posterior equals the prior.
func (s *ebayesSuite) TestNoExtraVariation(c *check.C) {
	s2 := []float64{0.5, 0.5, 0.5, 0.5}
	md := moderator{Trend: false, Proportion: 0.01}
	pr := md.fitPrior(s2, 3, nil)
	c.Check(math.IsInf(pr.df, 1), check.Equals, true)
	post := pr.squeeze(s2, 3)
	for i := range post {
		checkClose(c, post[i], pr.s2[i], 0)
	}
	// exp(mean(log(0.5) - digamma(1.5) + log(1.5)))
	checkClose(c, pr.s2[0], 0.5*math.Exp(math.Log(1.5)-digamma(1.5)), 1e-12)
}

func (s *ebayesSuite) TestTrendedPrior(c *check.C) {
	n := 40
	s2 := make([]float64, n)
	amean := make([]float64, n)
	wobble := []float64{0.5, 1, 2, 1.5, 0.7}
	for i := range s2 {
		amean[i] = float64(i) / 4
		s2[i] = math.Exp(0.2*amean[i]) * wobble[i%len(wobble)]
	}
	pr := moderator{Trend: true, Proportion: 0.01}.fitPrior(s2, 4, amean)
	c.Check(pr.s2[n-1] > 2*pr.s2[0], check.Equals, true, check.Commentf("prior %v", pr.s2))
	flat := moderator{Trend: false, Proportion: 0.01}.fitPrior(s2, 4, amean)
	c.Check(flat.s2[n-1], check.Equals, flat.s2[0])
	robust := moderator{Trend: true, Robust: true, Proportion: 0.01}.fitPrior(s2, 4, amean)
	c.Check(robust.df >= pr.df, check.Equals, true)
}

func (s *ebayesSuite) TestModeratedT(c *check.C) {
	tdist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: 4}
	t, p := moderatedT(2, 0, tdist)
	c.Check(math.IsInf(t, 1), check.Equals, true)
	c.Check(p, check.Equals, 0.0)
	t, p = moderatedT(-2, 0, tdist)
	c.Check(math.IsInf(t, -1), check.Equals, true)
	c.Check(p, check.Equals, 0.0)
	t, p = moderatedT(0, 0, tdist)
	c.Check(t, check.Equals, 0.0)
	c.Check(p, check.Equals, 1.0)
	t, p = moderatedT(2.776445105, 1, tdist)
	checkClose(c, t, 2.776445105, 1e-12)
	checkClose(c, p, 0.05, 1e-8)
}

// A single feature with zero residual variance has no prior to
// borrow from. Its statistics are still defined.
func (s *ebayesSuite) TestZeroVarianceFeature(c *check.C) {
	for _, effect := range []float64{3, 0} {
		fit := &FitResult{
			Coefficients: mat.NewDense(1, 2, []float64{1, 1 + effect}),
			Sigma2:       []float64{0},
			DF:           2,
			Unscaled:     mat.NewDense(2, 2, []float64{0.5, 0, 0, 0.5}),
			Amean:        []float64{1},
		}
		est, err := estimateContrast("zero", fit, []float64{-1, 1})
		c.Assert(err, check.IsNil)
		ms := moderator{Trend: true, Proportion: 0.01}.moderate(fit, est)
		c.Check(ms.DFPrior, check.Equals, 0.0)
		c.Check(ms.DFTotal, check.Equals, 2.0)
		if effect != 0 {
			c.Check(math.IsInf(ms.T[0], 1), check.Equals, true)
			c.Check(ms.PValue[0], check.Equals, 0.0)
			c.Check(math.IsInf(ms.B[0], 1), check.Equals, true)
		} else {
			c.Check(ms.T[0], check.Equals, 0.0)
			c.Check(ms.PValue[0], check.Equals, 1.0)
			c.Check(math.IsNaN(ms.B[0]), check.Equals, false)
		}
	}
}

func (s *ebayesSuite) TestLogOddsOrdering(c *check.C) {
	n := 200
	fit := &FitResult{
		Coefficients: mat.NewDense(n, 2, nil),
		Sigma2:       make([]float64, n),
		DF:           4,
		Unscaled:     mat.NewDense(2, 2, []float64{1.0 / 3, 0, 0, 1.0 / 3}),
		Amean:        make([]float64, n),
	}
	wobble := []float64{0.6, 1, 1.7, 0.9, 1.3, 0.8}
	for i := 0; i < n; i++ {
		fit.Coefficients.Set(i, 1, float64(i%20)/5)
		fit.Sigma2[i] = wobble[i%len(wobble)]
		fit.Amean[i] = float64(i % 7)
	}
	est, err := estimateContrast("b", fit, []float64{-1, 1})
	c.Assert(err, check.IsNil)
	ms := moderator{Trend: false, Proportion: 0.01}.moderate(fit, est)
	for i := range ms.B {
		c.Check(math.IsNaN(ms.B[i]) || math.IsInf(ms.B[i], 0), check.Equals, false)
		for j := range ms.B {
			if math.Abs(ms.T[i]) > math.Abs(ms.T[j])+1e-9 && ms.S2Post[i] == ms.S2Post[j] {
				c.Check(ms.B[i] > ms.B[j], check.Equals, true)
			}
		}
		c.Check(ms.PValue[i] >= 0 && ms.PValue[i] <= 1, check.Equals, true)
	}
	c.Check(ms.DFTotal <= fit.DF*float64(n), check.Equals, true)
}
