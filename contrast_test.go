// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package proteodiff

import (
	"errors"
	"math"
	"strings"

	"gopkg.in/check.v1"
)

type contrastSuite struct{}

var _ = check.Suite(&contrastSuite{})

const twoFactorSamples = `Sample	genotype	treatment	Outlier
wt_c1	WT	C	0
wt_c2	WT	C	0
wt_t1	WT	T	0
wt_t2	WT	T	0
ko_c1	KO	C	0
ko_c2	KO	C	0
ko_t1	KO	T	0
ko_t2	KO	T	no
ko_t3	KO	T	true
`

func mustSamples(c *check.C, tsv string) *SampleMetadata {
	sm, err := parseSampleMetadata(strings.NewReader(tsv), "samples.tsv")
	c.Assert(err, check.IsNil)
	return sm
}

func configRule(c *check.C, err error) string {
	var cerr *ConfigError
	if !c.Check(errors.As(err, &cerr), check.Equals, true, check.Commentf("%v", err)) {
		return ""
	}
	return cerr.Rule
}

func (s *contrastSuite) TestSampleMetadata(c *check.C) {
	sm := mustSamples(c, twoFactorSamples)
	c.Check(sm.Factors, check.DeepEquals, []string{"genotype", "treatment"})
	c.Check(sm.Samples, check.HasLen, 9)
	c.Check(sm.Samples[0].Levels[GroupFactor], check.Equals, "WT.C")
	c.Check(sm.Samples[7].Levels[GroupFactor], check.Equals, "KO.T")
	c.Check(sm.Outliers(), check.DeepEquals, []string{"ko_t3"})
	c.Check(sm.HasFactor("group"), check.Equals, true)
	c.Check(sm.HasFactor("batch"), check.Equals, false)

	_, err := parseSampleMetadata(strings.NewReader("Name\tgroup\na\tx\n"), "bad.tsv")
	c.Check(err, check.ErrorMatches, `bad.tsv: no column named "Sample".*`)
	_, err = parseSampleMetadata(strings.NewReader("Sample\tgroup\na\tx\na\ty\n"), "bad.tsv")
	c.Check(err, check.ErrorMatches, `.*duplicate sample "a"`)
}

func (s *contrastSuite) TestAlign(c *check.C) {
	sm := mustSamples(c, twoFactorSamples)
	m := &AbundanceMatrix{
		IDs:     []string{"P1"},
		Labels:  []string{"G1"},
		Samples: []string{"ko_t3", "ko_t2", "ko_t1", "ko_c2", "ko_c1", "wt_t2", "wt_t1", "wt_c2", "wt_c1"},
		Values:  []float64{9, 8, 7, 6, 5, 4, 3, 2, 1},
		Scale:   ScaleLogRatio,
	}
	sm2, m2, err := sm.alignTo(m)
	c.Assert(err, check.IsNil)
	c.Check(m2.Samples, check.HasLen, 8)
	c.Check(m2.Samples[0], check.Equals, "ko_t2")
	c.Check(sm2.Names(), check.DeepEquals, m2.Samples)
	// the input matrix is not modified
	c.Check(m.Samples, check.HasLen, 9)

	m.Samples[8] = "stranger"
	_, _, err = sm.alignTo(m)
	var ierr *IntegrityError
	c.Assert(errors.As(err, &ierr), check.Equals, true)
	c.Check(ierr.Rule, check.Equals, "sample-metadata")
}

func (s *contrastSuite) TestPlan(c *check.C) {
	sm := mustSamples(c, twoFactorSamples)
	p, err := ContrastDefinition{
		Name:       "KO_vs_WT_in_T",
		Subset:     map[string][]string{"treatment": {"T"}},
		Design:     "genotype",
		Expression: "KO - WT",
	}.plan(sm)
	c.Assert(err, check.IsNil)
	c.Check(p.levels, check.DeepEquals, []string{"KO", "WT"})
	c.Check(p.coef, check.DeepEquals, []float64{1, -1})
	c.Check(p.columns, check.DeepEquals, []int{2, 3, 6, 7, 8})
	c.Check(p.assign, check.DeepEquals, []int{1, 1, 0, 0, 0})
	c.Check(p.designString(), check.Equals, "~0 + genotype")
	c.Check(p.formulaString(), check.Equals, "KO - WT")

	p, err = ContrastDefinition{
		Name:         "interaction",
		Levels:       []string{"KO.T", "KO.C", "WT.T", "WT.C"},
		Coefficients: []float64{1, -1, -1, 1},
	}.plan(sm)
	c.Assert(err, check.IsNil)
	c.Check(p.designString(), check.Equals, "~0 + group")
	c.Check(p.formulaString(), check.Equals, "KO.T - KO.C - WT.T + WT.C")

	p, err = ContrastDefinition{
		Name:       "avg",
		Subset:     map[string][]string{"genotype": {"WT"}},
		Match:      func(si SampleInfo) bool { return si.Name != "wt_c2" },
		Expression: "0.5*(WT.T + WT.C) - WT.C",
	}.plan(sm)
	c.Assert(err, check.IsNil)
	c.Check(p.columns, check.DeepEquals, []int{0, 2, 3})
	c.Check(p.levels, check.DeepEquals, []string{"WT.C", "WT.T"})
	c.Check(p.coef, check.DeepEquals, []float64{-0.5, 0.5})
	c.Check(p.formulaString(), check.Equals, "0.5*WT.T - 0.5*WT.C")

	// levels sort as ctl < trt; the formula still leads with trt
	p, err = ContrastDefinition{
		Name:       "KO_vs_WT_in_C",
		Subset:     map[string][]string{"treatment": {"C"}},
		Design:     "genotype",
		Expression: "WT - KO",
	}.plan(sm)
	c.Assert(err, check.IsNil)
	c.Check(p.coef, check.DeepEquals, []float64{-1, 1})
	c.Check(p.formulaString(), check.Equals, "WT - KO")
	c.Check(p.def.threshold(), check.Equals, math.Inf(-1))
}

func (s *contrastSuite) TestFormatContrast(c *check.C) {
	levels := []string{"A", "B", "C", "D"}
	for _, trial := range []struct {
		coef []float64
		want string
	}{
		{[]float64{1, -1, 0, 0}, "A - B"},
		{[]float64{-1, 1, 0, 0}, "B - A"},
		{[]float64{0, -1, 0, 2}, "2*D - B"},
		{[]float64{-1, 0, 1, -1}, "C - A - D"},
		{[]float64{1, -1, -1, 1}, "A - B - C + D"},
		{[]float64{-1, -0.5, 0, 0}, "-A - 0.5*B"},
		{[]float64{0, 0, 0.25, 0}, "0.25*C"},
	} {
		c.Check(formatContrast(levels, trial.coef), check.Equals, trial.want, check.Commentf("%v", trial.coef))
	}
}

func (s *contrastSuite) TestPlanErrors(c *check.C) {
	sm := mustSamples(c, twoFactorSamples)
	for _, trial := range []struct {
		def  ContrastDefinition
		rule string
	}{
		{ContrastDefinition{Name: "", Expression: "KO.T - WT.T"}, "name"},
		{ContrastDefinition{Name: "a/b", Expression: "KO.T - WT.T"}, "name"},
		{ContrastDefinition{Name: "x", Subset: map[string][]string{"batch": {"1"}}, Expression: "KO.T - WT.T"}, "subset-factor"},
		{ContrastDefinition{Name: "x", Design: "batch", Expression: "KO.T - WT.T"}, "design-factor"},
		{ContrastDefinition{Name: "x", Subset: map[string][]string{"genotype": {"HET"}}, Expression: "HET - WT"}, "empty-subset"},
		{ContrastDefinition{Name: "x", Match: func(SampleInfo) bool { return false }, Expression: "KO.T - WT.T"}, "empty-subset"},
		{ContrastDefinition{Name: "x", Levels: []string{"KO.T", "WT.T"}, Expression: "KO.T - WT.T"}, "design-levels"},
		{ContrastDefinition{Name: "x", Levels: []string{"KO.T", "KO.T", "KO.C", "WT.T", "WT.C"}, Expression: "KO.T - WT.T"}, "design-levels"},
		{ContrastDefinition{Name: "x", Coefficients: []float64{1, -1}}, "coefficients"},
		{ContrastDefinition{Name: "x", Coefficients: []float64{0, 0, 0, 0}}, "coefficients"},
		{ContrastDefinition{Name: "x", Coefficients: []float64{1, -1, 0, math.NaN()}}, "coefficients"},
		{ContrastDefinition{Name: "x", Coefficients: []float64{1, -1, 0, 0}, Expression: "KO.T - WT.T"}, "coefficients"},
		{ContrastDefinition{Name: "x"}, "coefficients"},
		{ContrastDefinition{Name: "x", Expression: "KO.T - HET.T"}, "expression"},
		{ContrastDefinition{Name: "x", Expression: "KO.T * WT.T"}, "expression"},
		{ContrastDefinition{Name: "x", Expression: "KO.T - WT.T + 1"}, "expression"},
	} {
		_, err := trial.def.plan(sm)
		c.Check(configRule(c, err), check.Equals, trial.rule, check.Commentf("%+v", trial.def))
	}

	plans, errs := planContrasts([]ContrastDefinition{
		{Name: "a", Expression: "KO.T - WT.T"},
		{Name: "a", Expression: "KO.C - WT.C"},
		{Name: "b", Design: "nope", Expression: "KO.C - WT.C"},
		{Name: "c", Expression: "KO.C - WT.C"},
	}, sm)
	c.Check(errs[0], check.IsNil)
	c.Check(configRule(c, errs[1]), check.Equals, "duplicate-name")
	c.Check(configRule(c, errs[2]), check.Equals, "design-factor")
	c.Check(errs[3], check.IsNil)
	c.Check(plans[3], check.NotNil)
	c.Check(errs[1], check.ErrorMatches, `contrast "a": configuration error \(duplicate-name\).*`)
}

func (s *contrastSuite) TestParseContrast(c *check.C) {
	levels := []string{"A", "B", "C", "D", "odd name"}
	for expr, want := range map[string][]float64{
		"A - B":                 {1, -1, 0, 0, 0},
		"(A-B)-(C-D)":           {1, -1, -1, 1, 0},
		"-A + 2*B":              {-1, 2, 0, 0, 0},
		"(A+B)/2 - C":           {0.5, 0.5, -1, 0, 0},
		"`odd name` - 0.25*D*2": {0, 0, 0, -0.5, 1},
		"+A - -B":               {1, 1, 0, 0, 0},
	} {
		coef, err := parseContrast(expr, levels)
		if c.Check(err, check.IsNil, check.Commentf("%s", expr)) {
			c.Check(coef, check.DeepEquals, want, check.Commentf("%s", expr))
		}
	}
	for expr, errRe := range map[string]string{
		"A - ":      `unexpected end of expression.*`,
		"(A - B":    `missing '\)'.*`,
		"A / B":     `cannot divide by a group mean.*`,
		"A / 0":     `division by zero.*`,
		"A - E":     `unknown level "E".*`,
		"A - B)":    `unexpected "\)".*`,
		"`A - B":    `unterminated quoted name.*`,
		"A - B - 1": `.*constant term`,
	} {
		_, err := parseContrast(expr, levels)
		c.Check(err, check.ErrorMatches, errRe, check.Commentf("%s", expr))
	}
}

func (s *contrastSuite) TestInteractionVector(c *check.C) {
	levels := []string{"KO.C", "KO.T", "WT.C", "WT.T"}
	v, err := InteractionVector(levels, "KO.T", "KO.C", "WT.T", "WT.C")
	c.Assert(err, check.IsNil)
	c.Check(v, check.DeepEquals, []float64{-1, 1, 1, -1})

	// one vector matches two sequential subtractions
	coef := []float64{7.25, 9.5, 3.125, 4.0625}
	dot := 0.0
	for k := range v {
		dot += v[k] * coef[k]
	}
	sequential := (coef[1] - coef[0]) - (coef[3] - coef[2])
	c.Check(math.Abs(dot-sequential) < 1e-12, check.Equals, true)
}
