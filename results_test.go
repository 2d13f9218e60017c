// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package proteodiff

import (
	"context"
	"math"
	"strings"

	"gopkg.in/check.v1"
)

type resultsSuite struct{}

var _ = check.Suite(&resultsSuite{})

func rowIDs(rows []ResultRow) []string {
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	return ids
}

func sortFixture() []ResultRow {
	return []ResultRow{
		{ID: "P4", LogFC: -2, PValue: 0.01},
		{ID: "P2", LogFC: 0.5, PValue: 0.2},
		{ID: "P1", LogFC: 2, PValue: 0.01},
		{ID: "P3", LogFC: -0.5, PValue: 0.001},
		{ID: "P0", LogFC: 1, PValue: 0.2},
	}
}

func (s *resultsSuite) TestSortByP(c *check.C) {
	rows := sortFixture()
	sortRows(rows, "p")
	c.Check(rowIDs(rows), check.DeepEquals, []string{"P3", "P1", "P4", "P0", "P2"})
	// unknown orders fall back to p
	rows = sortFixture()
	sortRows(rows, "")
	c.Check(rowIDs(rows), check.DeepEquals, []string{"P3", "P1", "P4", "P0", "P2"})
}

func (s *resultsSuite) TestSortByLogFC(c *check.C) {
	rows := sortFixture()
	sortRows(rows, "logfc")
	c.Check(rowIDs(rows), check.DeepEquals, []string{"P1", "P4", "P0", "P2", "P3"})
}

func (s *resultsSuite) TestSortByID(c *check.C) {
	rows := sortFixture()
	sortRows(rows, "id")
	c.Check(rowIDs(rows), check.DeepEquals, []string{"P0", "P1", "P2", "P3", "P4"})
}

func (s *resultsSuite) TestClassify(c *check.C) {
	c.Check(classify(1, 0.05, 0.1, 0), check.Equals, Up)
	c.Check(classify(-1, 0.05, 0.1, 0), check.Equals, Down)
	c.Check(classify(1, 0.1, 0.1, 0), check.Equals, Up)
	c.Check(classify(1, 0.2, 0.1, 0), check.Equals, NotSignificant)
	c.Check(classify(0.5, 0.01, 0.1, 1), check.Equals, NotSignificant)
	c.Check(classify(-0.5, 0.01, 0.1, 1), check.Equals, NotSignificant)
	c.Check(classify(0, 0.01, 0.1, 0), check.Equals, NotSignificant)
	c.Check(classify(1, math.NaN(), 0.1, 0), check.Equals, NotSignificant)
}

// A contrast without a threshold keeps features whose log-ratio
// mean is negative; an explicit threshold of 0 drops them.
func (s *resultsSuite) TestOmittedThreshold(c *check.C) {
	m := pipelineMatrix()
	for i := 12; i < 18; i++ {
		m.Values[i] -= 3
	}
	sm, err := parseSampleMetadata(strings.NewReader(pipelineSamples), "samples.tsv")
	c.Assert(err, check.IsNil)
	cfg, err := parseConfig(strings.NewReader(`
contrasts:
  - name: no_threshold
    design: condition
    expression: trt - ctl
  - name: zero_threshold
    design: condition
    threshold: 0
    expression: trt - ctl
`))
	c.Assert(err, check.IsNil)
	c.Check(cfg.Contrasts[0].Threshold, check.IsNil)
	c.Assert(cfg.Contrasts[1].Threshold, check.NotNil)
	c.Check(*cfg.Contrasts[1].Threshold, check.Equals, 0.0)

	outcomes, err := Run(context.Background(), m, sm, cfg, 2)
	c.Assert(err, check.IsNil)
	c.Assert(outcomes[0].Err, check.IsNil)
	c.Assert(outcomes[1].Err, check.IsNil)
	c.Check(outcomes[0].Summary().Tested, check.Equals, 3)
	c.Check(outcomes[0].Summary().Filtered, check.Equals, 0)
	c.Check(outcomes[1].Summary().Tested, check.Equals, 2)
	c.Check(outcomes[1].Summary().Filtered, check.Equals, 1)
}
