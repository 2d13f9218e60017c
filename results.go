// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package proteodiff

import (
	"math"
	"sort"
	"strconv"

	"github.com/arvados/proteodiff/fdr"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

type Direction string

const (
	Up             Direction = "up"
	Down           Direction = "down"
	NotSignificant Direction = "ns"
	// Changed selects Up and Down together in Significant.
	Changed Direction = "changed"
)

// ResultRow is one feature's outcome in one contrast.
type ResultRow struct {
	ID        string
	Label     string
	LogFC     float64
	AveExpr   float64
	T         float64
	PValue    float64
	AdjPValue float64
	B         float64
	CILow     float64
	CIHigh    float64
	Direction Direction
	Values    []float64 // fitted-scale abundance per contrast sample, if requested
}

// jsonFloat encodes non-finite values as strings ("+Inf"), which
// encoding/json would otherwise reject.
type jsonFloat float64

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte(strconv.Quote(strconv.FormatFloat(v, 'g', -1, 64))), nil
	}
	return []byte(strconv.FormatFloat(v, 'g', -1, 64)), nil
}

// Summary is the per-contrast record written to summary.json. Only
// Contrast and Error are set for a failed contrast.
type Summary struct {
	Contrast      string         `json:"contrast"`
	Design        string         `json:"design,omitempty"`
	Formula       string         `json:"formula,omitempty"`
	Samples       []string       `json:"samples,omitempty"`
	Total         int            `json:"total"`
	Filtered      int            `json:"filtered"`
	Tested        int            `json:"tested"`
	Up            int            `json:"up"`
	Down          int            `json:"down"`
	FDR           float64        `json:"fdr"`
	LFC           float64        `json:"lfc"`
	DFResidual    float64        `json:"df_residual"`
	DFPrior       jsonFloat      `json:"df_prior"`
	S2Prior       jsonFloat      `json:"s2_prior_median"`
	Digest        string         `json:"input_digest,omitempty"`
	Normalization *Normalization `json:"normalization,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// ContrastResult is the complete output of one contrast.
type ContrastResult struct {
	Name    string
	Samples []string // columns of ResultRow.Values
	Rows    []ResultRow
	Summary Summary
}

// Significant returns the IDs of rows called in direction dir, in row
// order. Changed returns both up and down.
func (cr *ContrastResult) Significant(dir Direction) []string {
	ids := []string{}
	for _, row := range cr.Rows {
		if row.Direction == dir || (dir == Changed && row.Direction != NotSignificant) {
			ids = append(ids, row.ID)
		}
	}
	return ids
}

func classify(logFC, adjP, fdrCutoff, lfc float64) Direction {
	switch {
	case !(adjP <= fdrCutoff):
		return NotSignificant
	case logFC > lfc:
		return Up
	case logFC < -lfc:
		return Down
	default:
		return NotSignificant
	}
}

// assemble joins the moderated statistics with feature metadata,
// applies BH correction and significance calls, and sorts the rows.
func assemble(plan *contrastPlan, m *AbundanceMatrix, ff filteredFeatures, norm *Normalization, y *mat.Dense, fit *FitResult, ms *ModeratedStats, cfg Config) *ContrastResult {
	adj := fdr.BH(ms.PValue)
	crit := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: ms.DFTotal}.Quantile((1 + cfg.Confidence) / 2)
	cr := &ContrastResult{
		Name:    plan.def.Name,
		Samples: norm.Samples,
		Rows:    make([]ResultRow, len(ff.rows)),
	}
	_, ncols := y.Dims()
	for r, i := range ff.rows {
		row := ResultRow{
			ID:        m.IDs[i],
			Label:     m.Labels[i],
			LogFC:     ms.LogFC[r],
			AveExpr:   fit.Amean[r],
			T:         ms.T[r],
			PValue:    ms.PValue[r],
			AdjPValue: adj[r],
			B:         ms.B[r],
			CILow:     ms.LogFC[r] - crit*ms.SE[r],
			CIHigh:    ms.LogFC[r] + crit*ms.SE[r],
		}
		row.Direction = classify(row.LogFC, row.AdjPValue, cfg.FDR, cfg.LFC)
		if cfg.IncludeValues {
			row.Values = mat.Row(make([]float64, ncols), r, y)
		}
		cr.Rows[r] = row
	}
	sortRows(cr.Rows, cfg.SortBy)

	sum := Summary{
		Contrast:      plan.def.Name,
		Design:        plan.designString(),
		Formula:       plan.formulaString(),
		Samples:       norm.Samples,
		Total:         len(m.IDs),
		Filtered:      ff.dropped,
		Tested:        len(ff.rows),
		FDR:           cfg.FDR,
		LFC:           cfg.LFC,
		DFResidual:    fit.DF,
		DFPrior:       jsonFloat(ms.DFPrior),
		Normalization: norm,
	}
	if len(ms.S2Prior) > 0 {
		sum.S2Prior = jsonFloat(quantileR7(append([]float64(nil), ms.S2Prior...), 0.5))
	}
	for _, row := range cr.Rows {
		switch row.Direction {
		case Up:
			sum.Up++
		case Down:
			sum.Down++
		}
	}
	cr.Summary = sum
	return cr
}

// sortRows orders rows by ascending p-value ("p"), descending
// absolute fold change ("logfc"), or identifier ("id"). Remaining
// ties are broken by identifier.
func sortRows(rows []ResultRow, by string) {
	sort.SliceStable(rows, func(a, b int) bool {
		ra, rb := rows[a], rows[b]
		switch by {
		case "logfc":
			fa, fb := math.Abs(ra.LogFC), math.Abs(rb.LogFC)
			if fa != fb {
				return fa > fb
			}
		case "id":
		default:
			if ra.PValue != rb.PValue {
				return ra.PValue < rb.PValue
			}
		}
		return ra.ID < rb.ID
	})
}
