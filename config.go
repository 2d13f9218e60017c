// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package proteodiff

import (
	"bytes"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

type NormalizationMethod string

const (
	NormalizeNone          NormalizationMethod = "none"
	NormalizeUpperQuartile NormalizationMethod = "upperquartile"
)

// Config is the static, immutable description of a run. It is passed
// by value to every stage.
type Config struct {
	FDR           float64              `yaml:"fdr"`
	LFC           float64              `yaml:"lfc"`
	Confidence    float64              `yaml:"confidence"`
	Normalization NormalizationMethod  `yaml:"normalization"`
	Trend         bool                 `yaml:"trend"`
	Robust        bool                 `yaml:"robust"`
	Proportion    float64              `yaml:"proportion"`
	IncludeValues bool                 `yaml:"include-values"`
	SortBy        string               `yaml:"sort"`
	Contrasts     []ContrastDefinition `yaml:"contrasts"`
}

func DefaultConfig() Config {
	return Config{
		FDR:           0.1,
		LFC:           0,
		Confidence:    0.95,
		Normalization: NormalizeNone,
		Trend:         true,
		Proportion:    0.01,
		SortBy:        "p",
	}
}

func LoadConfig(fnm string) (Config, error) {
	f, err := zopen(fnm)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	cfg, err := parseConfig(f)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", fnm, err)
	}
	return cfg, nil
}

// parseConfig decodes YAML on top of DefaultConfig, rejecting unknown
// keys so typos do not silently fall back to defaults.
func parseConfig(r io.Reader) (Config, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return Config{}, err
	}
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	err = dec.Decode(&cfg)
	if err != nil && err != io.EOF {
		return Config{}, err
	}
	return cfg, nil
}

// check validates the global parameters. Contrast definitions are
// validated separately against the sample metadata.
func (cfg Config) check() error {
	if !(cfg.FDR > 0 && cfg.FDR <= 1) {
		return configErrorf("", "fdr", "fdr cutoff %v is not in (0,1]", cfg.FDR)
	}
	if !(cfg.LFC >= 0) {
		return configErrorf("", "lfc", "fold-change threshold %v is negative", cfg.LFC)
	}
	if !(cfg.Confidence > 0 && cfg.Confidence < 1) {
		return configErrorf("", "confidence", "confidence level %v is not in (0,1)", cfg.Confidence)
	}
	if !(cfg.Proportion > 0 && cfg.Proportion < 1) {
		return configErrorf("", "proportion", "proportion %v is not in (0,1)", cfg.Proportion)
	}
	switch cfg.Normalization {
	case NormalizeNone, NormalizeUpperQuartile:
	default:
		return configErrorf("", "normalization", "unknown normalization method %q", cfg.Normalization)
	}
	switch cfg.SortBy {
	case "p", "logfc", "id":
	default:
		return configErrorf("", "sort", "unknown sort order %q (want p, logfc, or id)", cfg.SortBy)
	}
	return nil
}
