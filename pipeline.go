// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package proteodiff

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// ContrastOutcome is the result of one configured contrast: either
// Result or Err is set.
type ContrastOutcome struct {
	Name   string
	Result *ContrastResult
	Err    error
}

// Summary returns the outcome's summary record, with Error filled in
// for a failed contrast.
func (o ContrastOutcome) Summary() Summary {
	if o.Err != nil {
		return Summary{Contrast: o.Name, Error: o.Err.Error()}
	}
	return o.Result.Summary
}

// Run evaluates every contrast in cfg against m, using at most
// threads goroutines.
//
// The returned error is non-nil only for problems that affect every
// contrast: invalid global parameters, or metadata that does not
// match the matrix. Errors belonging to a single contrast (including
// configuration errors found during validation) are reported in that
// contrast's outcome and do not prevent the others from running.
//
// m and sm are only read.
func Run(ctx context.Context, m *AbundanceMatrix, sm *SampleMetadata, cfg Config, threads int) ([]ContrastOutcome, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}
	if err := m.check(); err != nil {
		return nil, err
	}
	sm, m, err := sm.alignTo(m)
	if err != nil {
		return nil, err
	}
	plans, errs := planContrasts(cfg.Contrasts, sm)
	digest := m.Digest()

	outcomes := make([]ContrastOutcome, len(cfg.Contrasts))
	thr := throttle{Max: threads}
	for i, def := range cfg.Contrasts {
		outcomes[i].Name = def.Name
		if errs[i] != nil {
			log.WithField("contrast", def.Name).Warn(errs[i])
			outcomes[i].Err = errs[i]
			continue
		}
		i, plan := i, plans[i]
		thr.Go(func() {
			if err := ctx.Err(); err != nil {
				outcomes[i].Err = err
				return
			}
			cr, err := runContrast(plan, m, cfg)
			if err != nil {
				log.WithField("contrast", plan.def.Name).Warn(err)
				outcomes[i].Err = err
				return
			}
			cr.Summary.Digest = digest
			outcomes[i].Result = cr
		})
	}
	thr.Wait()
	return outcomes, nil
}

// runContrast takes one validated contrast from the shared matrix to
// its result table. Everything it allocates belongs to this contrast
// alone.
func runContrast(plan *contrastPlan, m *AbundanceMatrix, cfg Config) (*ContrastResult, error) {
	name := plan.def.Name
	logger := log.WithField("contrast", name)
	t0 := time.Now()

	ff := filterFeatures(m, plan.columns, plan.def.threshold())
	if len(ff.rows) == 0 {
		return nil, integrityErrorf(name, "empty-filter", "all %d features are below threshold %v", len(m.IDs), plan.def.threshold())
	}
	logger.WithFields(log.Fields{
		"samples":  len(plan.columns),
		"features": len(ff.rows),
		"dropped":  ff.dropped,
	}).Info("filtered")

	norm, y := normalize(m, ff.rows, plan.columns, cfg.Normalization)
	x := designMatrix(plan.assign, len(plan.levels))
	fit, err := fitLinearModel(name, plan.levels, y, x)
	if err != nil {
		return nil, err
	}
	est, err := estimateContrast(name, fit, plan.coef)
	if err != nil {
		return nil, err
	}

	// moderation needs every feature's variance
	md := moderator{Trend: cfg.Trend, Robust: cfg.Robust, Proportion: cfg.Proportion}
	ms := md.moderate(fit, est)
	cr := assemble(plan, m, ff, norm, y, fit, ms, cfg)
	logger.WithFields(log.Fields{
		"up":       cr.Summary.Up,
		"down":     cr.Summary.Down,
		"df_prior": ms.DFPrior,
		"elapsed":  time.Since(t0).Round(time.Millisecond),
	}).Info("done")
	return cr, nil
}
