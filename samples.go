// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package proteodiff

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
)

// GroupFactor is the derived composite factor: every declared factor
// level joined with ".".
const GroupFactor = "group"

type SampleInfo struct {
	Name    string
	Levels  map[string]string // factor name => level, including GroupFactor
	Outlier bool
}

// SampleMetadata holds one record per sample column of the matrix.
type SampleMetadata struct {
	Factors []string // declared factors, in file order
	Samples []SampleInfo
}

func (sm *SampleMetadata) HasFactor(factor string) bool {
	if factor == GroupFactor {
		return true
	}
	for _, f := range sm.Factors {
		if f == factor {
			return true
		}
	}
	return false
}

func (sm *SampleMetadata) Names() []string {
	names := make([]string, len(sm.Samples))
	for i, si := range sm.Samples {
		names[i] = si.Name
	}
	return names
}

func (sm *SampleMetadata) Outliers() []string {
	var out []string
	for _, si := range sm.Samples {
		if si.Outlier {
			out = append(out, si.Name)
		}
	}
	return out
}

func loadSampleMetadata(fnm string) (*SampleMetadata, error) {
	f, err := zopen(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseSampleMetadata(f, fnm)
}

// parseSampleMetadata reads a tab-separated table whose header has a
// "Sample" column, an optional "Outlier" column (1/true/yes), and one
// column per grouping factor.
func parseSampleMetadata(r io.Reader, fnm string) (*SampleMetadata, error) {
	sm := &SampleMetadata{}
	scanner := bufio.NewScanner(r)
	sampleCol, outlierCol := -1, -1
	var factorCols []int
	var header []string
	seen := map[string]bool{}
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r")
		if len(line) == 0 {
			continue
		}
		split := strings.Split(line, "\t")
		if header == nil {
			header = split
			for col, name := range split {
				switch name {
				case "Sample":
					sampleCol = col
				case "Outlier":
					outlierCol = col
				default:
					if name == "" {
						return nil, fmt.Errorf("%s: empty column name in header", fnm)
					}
					factorCols = append(factorCols, col)
					sm.Factors = append(sm.Factors, name)
				}
			}
			if sampleCol < 0 {
				return nil, fmt.Errorf("%s: no column named %q in header row %q", fnm, "Sample", line)
			}
			continue
		}
		if len(split) < len(header) {
			return nil, fmt.Errorf("%s line %d: %d fields < %d", fnm, lineNum, len(split), len(header))
		}
		si := SampleInfo{
			Name:   split[sampleCol],
			Levels: map[string]string{},
		}
		if si.Name == "" {
			return nil, fmt.Errorf("%s line %d: empty sample name", fnm, lineNum)
		}
		if seen[si.Name] {
			return nil, fmt.Errorf("%s line %d: duplicate sample %q", fnm, lineNum, si.Name)
		}
		seen[si.Name] = true
		if outlierCol >= 0 {
			switch strings.ToLower(split[outlierCol]) {
			case "1", "true", "yes":
				si.Outlier = true
			}
		}
		var group []string
		for k, col := range factorCols {
			si.Levels[sm.Factors[k]] = split[col]
			if sm.Factors[k] != GroupFactor {
				group = append(group, split[col])
			}
		}
		if _, ok := si.Levels[GroupFactor]; !ok {
			si.Levels[GroupFactor] = strings.Join(group, ".")
		}
		sm.Samples = append(sm.Samples, si)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	return sm, nil
}

// alignTo drops outlier samples from both sm and m, then returns
// metadata in the same order as the matrix columns. The remaining
// sample sets must be identical.
func (sm *SampleMetadata) alignTo(m *AbundanceMatrix) (*SampleMetadata, *AbundanceMatrix, error) {
	drop := map[string]bool{}
	for _, name := range sm.Outliers() {
		drop[name] = true
	}
	if len(drop) > 0 {
		m = m.withoutSamples(drop)
	}
	byName := map[string]SampleInfo{}
	for _, si := range sm.Samples {
		if !si.Outlier {
			byName[si.Name] = si
		}
	}
	aligned := &SampleMetadata{Factors: sm.Factors}
	var missing []string
	for _, name := range m.Samples {
		si, ok := byName[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		aligned.Samples = append(aligned.Samples, si)
		delete(byName, name)
	}
	if len(missing) > 0 {
		return nil, nil, integrityErrorf("", "sample-metadata", "matrix samples without metadata: %s", strings.Join(missing, ", "))
	}
	if len(byName) > 0 {
		var extra []string
		for name := range byName {
			extra = append(extra, name)
		}
		sort.Strings(extra)
		return nil, nil, integrityErrorf("", "sample-metadata", "metadata samples not in matrix: %s", strings.Join(extra, ", "))
	}
	return aligned, m, nil
}
