// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package proteodiff

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ModeratedStats are the per-feature moderated statistics for one
// contrast.
type ModeratedStats struct {
	LogFC   []float64
	SE      []float64 // moderated standard error of LogFC
	T       []float64
	PValue  []float64
	B       []float64 // log-odds of differential abundance
	S2Post  []float64
	S2Prior []float64
	DFPrior float64 // +Inf when the variances show no extra spread
	DFTotal float64
}

// prior is the scaled inverse-chi-square prior fitted to a set of
// residual variances.
type prior struct {
	s2 []float64 // per feature, constant unless a trend was fitted
	df float64
}

// moderator shrinks residual variances toward a common prior and
// computes moderated t statistics.
type moderator struct {
	Trend      bool
	Robust     bool
	Proportion float64
}

// fitPrior estimates the prior variance (or variance trend against
// covariate) and prior degrees of freedom from residual variances s2,
// each with df residual degrees of freedom.
func (md moderator) fitPrior(s2 []float64, df float64, covariate []float64) prior {
	n := len(s2)
	pr := prior{s2: make([]float64, n)}
	if n == 0 {
		return pr
	}
	if n == 1 {
		pr.s2[0] = s2[0]
		return pr
	}
	sorted := append([]float64(nil), s2...)
	sort.Float64s(sorted)
	med := quantileR7(sorted, 0.5)
	if med == 0 {
		med = 1
	}
	floor := 1e-5 * med
	e := make([]float64, n)
	adj := digamma(df/2) - math.Log(df/2)
	for i, v := range s2 {
		if v < floor {
			v = floor
		}
		e[i] = math.Log(v) - adj
	}

	emean := make([]float64, n)
	nparams := 1
	trended := false
	if md.Trend && covariate != nil {
		k := splineDF(n, countUnique(covariate))
		if k >= 2 {
			basis := naturalSplineBasis(covariate, k)
			if fitted, err := fitTrend(basis, e); err == nil {
				copy(emean, fitted)
				_, nparams = basis.Dims()
				trended = true
			}
		}
	}
	if !trended {
		m := stat.Mean(e, nil)
		for i := range emean {
			emean[i] = m
		}
	}

	resid := make([]float64, n)
	for i := range e {
		resid[i] = e[i] - emean[i]
	}
	if md.Robust && n >= 20 {
		winsorize(resid, 0.05)
	}
	ss := 0.0
	for _, r := range resid {
		ss += r * r
	}
	evar := ss/float64(n-nparams) - trigamma(df/2)

	if evar > 0 {
		pr.df = 2 * trigammaInverse(evar)
		shift := digamma(pr.df/2) - math.Log(pr.df/2)
		for i := range pr.s2 {
			pr.s2[i] = math.Exp(emean[i] + shift)
		}
	} else {
		pr.df = math.Inf(1)
		for i := range pr.s2 {
			pr.s2[i] = math.Exp(emean[i])
		}
	}
	return pr
}

// squeeze returns posterior variances: the df-weighted average of
// each residual variance and its prior.
func (pr prior) squeeze(s2 []float64, df float64) []float64 {
	post := make([]float64, len(s2))
	for i, v := range s2 {
		switch {
		case math.IsInf(pr.df, 1):
			post[i] = pr.s2[i]
		case pr.df == 0:
			post[i] = v
		default:
			post[i] = (df*v + pr.df*pr.s2[i]) / (df + pr.df)
		}
	}
	return post
}

// moderate computes moderated statistics for one contrast. It needs
// the complete fit: the prior is estimated from every feature's
// residual variance.
func (md moderator) moderate(fit *FitResult, est *contrastEstimate) *ModeratedStats {
	n := len(fit.Sigma2)
	pr := md.fitPrior(fit.Sigma2, fit.DF, fit.Amean)
	ms := &ModeratedStats{
		LogFC:   est.Effect,
		SE:      make([]float64, n),
		T:       make([]float64, n),
		PValue:  make([]float64, n),
		B:       make([]float64, n),
		S2Post:  pr.squeeze(fit.Sigma2, fit.DF),
		S2Prior: pr.s2,
		DFPrior: pr.df,
	}
	dfPooled := fit.DF * float64(n)
	ms.DFTotal = math.Min(fit.DF+pr.df, dfPooled)
	tdist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: ms.DFTotal}
	for i := range ms.T {
		ms.SE[i] = est.StdevUnscaled * math.Sqrt(ms.S2Post[i])
		ms.T[i], ms.PValue[i] = moderatedT(ms.LogFC[i], ms.SE[i], tdist)
	}
	ms.B = md.logOdds(ms.T, est.StdevUnscaled, ms.DFTotal, pr)
	return ms
}

// moderatedT returns t = effect/se and its two-sided p-value. A zero
// standard error gives t = +/-Inf with p = 0 for a nonzero effect,
// and t = 0 with p = 1 for a zero effect.
func moderatedT(effect, se float64, tdist distuv.StudentsT) (t, p float64) {
	if se == 0 {
		switch {
		case effect > 0:
			return math.Inf(1), 0
		case effect < 0:
			return math.Inf(-1), 0
		default:
			return 0, 1
		}
	}
	t = effect / se
	p = 2 * tdist.Survival(math.Abs(t))
	if p > 1 {
		p = 1
	}
	return t, p
}

// logOdds returns the B statistic: the log posterior odds that a
// feature's contrast is nonzero, given that a fraction
// md.Proportion of features are differentially abundant.
func (md moderator) logOdds(t []float64, stdevUnscaled, dfTotal float64, pr prior) []float64 {
	b := make([]float64, len(t))
	if len(t) == 0 {
		return b
	}
	v1 := stdevUnscaled * stdevUnscaled
	sortedPrior := append([]float64(nil), pr.s2...)
	sort.Float64s(sortedPrior)
	medPrior := quantileR7(sortedPrior, 0.5)
	if !(medPrior > 0) {
		medPrior = 1
	}
	// stdev.coef.lim = (0.1, 4)
	vlim := [2]float64{0.01 / medPrior, 16 / medPrior}
	v0, ok := tmixture(t, v1, dfTotal, md.Proportion, vlim)
	if !ok {
		v0 = 1 / medPrior
	}
	r := (v1 + v0) / v1
	logit := math.Log(md.Proportion / (1 - md.Proportion))
	for i, ti := range t {
		if math.IsInf(ti, 0) {
			b[i] = math.Inf(1)
			continue
		}
		t2 := ti * ti
		var kernel float64
		if pr.df > 1e6 {
			kernel = t2 * (1 - 1/r) / 2
		} else {
			kernel = (1 + dfTotal) / 2 * math.Log((t2+dfTotal)/(t2/r+dfTotal))
		}
		b[i] = logit - math.Log(r)/2 + kernel
	}
	return b
}

// tmixture estimates the prior variance v0 of the nonzero contrasts
// from the largest |t| statistics, assuming a fraction proportion of
// features are differentially abundant. The second result is false
// when there are too few features to estimate it.
func tmixture(t []float64, v1, df, proportion float64, vlim [2]float64) (float64, bool) {
	var abs []float64
	for _, ti := range t {
		if !math.IsNaN(ti) {
			abs = append(abs, math.Abs(ti))
		}
	}
	ngenes := float64(len(abs))
	ntarget := int(math.Ceil(proportion / 2 * ngenes))
	if ntarget < 1 {
		return 0, false
	}
	p := math.Max(float64(ntarget)/ngenes, proportion)
	sort.Sort(sort.Reverse(sort.Float64Slice(abs)))
	tdist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	sum := 0.0
	for r := 0; r < ntarget; r++ {
		tstat := abs[r]
		p0 := 2 * tdist.Survival(tstat)
		ptarget := ((float64(r+1)-0.5)/ngenes - (1-p)*p0) / p
		v0 := 0.0
		if ptarget > p0 {
			qtarget := tdist.Quantile(1 - ptarget/2)
			v0 = v1 * ((tstat/qtarget)*(tstat/qtarget) - 1)
		}
		v0 = math.Min(math.Max(v0, vlim[0]), vlim[1])
		sum += v0
	}
	return sum / float64(ntarget), true
}

// winsorize clamps v to its frac and 1-frac quantiles.
func winsorize(v []float64, frac float64) {
	sorted := append([]float64(nil), v...)
	sort.Float64s(sorted)
	lo := stat.Quantile(frac, stat.Empirical, sorted, nil)
	hi := stat.Quantile(1-frac, stat.Empirical, sorted, nil)
	for i, x := range v {
		v[i] = math.Min(math.Max(x, lo), hi)
	}
}

func countUnique(v []float64) int {
	seen := make(map[float64]bool, len(v))
	for _, x := range v {
		seen[x] = true
	}
	return len(seen)
}
