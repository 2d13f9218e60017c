// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package proteodiff

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	_ "net/http/pprof"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// runTable is one raw per-run table: an identifier column, a label
// column, and one numeric column per sample. Missing cells are NaN.
type runTable struct {
	name    string
	samples []string
	ids     []string
	labels  []string
	values  [][]float64
}

var missingTokens = map[string]bool{
	"":     true,
	"NA":   true,
	"NaN":  true,
	"nan":  true,
	"null": true,
	"#N/A": true,
}

func readRunTable(fnm, idColumn, labelColumn string) (*runTable, error) {
	f, err := zopen(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseRunTable(f, fnm, idColumn, labelColumn)
}

// parseRunTable reads a tab-separated table with a header row. Every
// column other than the identifier and label columns is a sample.
func parseRunTable(r io.Reader, name, idColumn, labelColumn string) (*runTable, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1<<20), 1<<28)
	rt := &runTable{name: name}
	idCol, labelCol := -1, -1
	var sampleCols []int
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r")
		if len(line) == 0 {
			continue
		}
		split := strings.Split(line, "\t")
		if idCol < 0 {
			// header row
			for col, h := range split {
				switch h {
				case idColumn:
					idCol = col
				case labelColumn:
					labelCol = col
				default:
					sampleCols = append(sampleCols, col)
					rt.samples = append(rt.samples, h)
				}
			}
			if idCol < 0 || labelCol < 0 {
				return nil, fmt.Errorf("%s: header must include identifier column %q and label column %q: %q", name, idColumn, labelColumn, line)
			}
			if len(sampleCols) == 0 {
				return nil, fmt.Errorf("%s: no sample columns in header %q", name, line)
			}
			continue
		}
		if len(split) < len(sampleCols)+2 {
			return nil, fmt.Errorf("%s line %d: %d fields, expected %d", name, lineNum, len(split), len(sampleCols)+2)
		}
		row := make([]float64, len(sampleCols))
		for k, col := range sampleCols {
			s := strings.TrimSpace(split[col])
			if missingTokens[s] {
				row[k] = math.NaN()
				continue
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("%s line %d: cannot parse %q in column %q: %w", name, lineNum, s, rt.samples[k], err)
			}
			row[k] = v
		}
		id, label := strings.TrimSpace(split[idCol]), strings.TrimSpace(split[labelCol])
		if missingTokens[id] {
			id = ""
		}
		if missingTokens[label] {
			label = ""
		}
		rt.ids = append(rt.ids, id)
		rt.labels = append(rt.labels, label)
		rt.values = append(rt.values, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if idCol < 0 {
		return nil, fmt.Errorf("%s: empty table", name)
	}
	return rt, nil
}

// matrixBuilder merges run tables into one dense matrix.
type matrixBuilder struct {
	Scale    Scale
	Outliers []string
}

// Build merges runs by feature identifier (outer join), back-fills
// identifiers and labels from each other, zero-fills missing cells,
// applies the scale transform, drops outlier samples, and verifies
// the result is fully dense.
func (b *matrixBuilder) Build(runs []*runTable) (*AbundanceMatrix, error) {
	if !b.Scale.valid() {
		return nil, configErrorf("", "scale", "unknown scale %q (want %s, %s, or %s)", b.Scale, ScaleIntensity, ScaleLogRatio, ScaleCounts)
	}
	if len(runs) == 0 {
		return nil, errors.New("no input tables")
	}
	m := &AbundanceMatrix{Scale: b.Scale}
	sampleOffset := make([]int, len(runs))
	seenSample := map[string]string{}
	for r, rt := range runs {
		sampleOffset[r] = len(m.Samples)
		for _, s := range rt.samples {
			if prev, ok := seenSample[s]; ok {
				return nil, configErrorf("", "sample", "sample column %q appears in both %s and %s", s, prev, rt.name)
			}
			seenSample[s] = rt.name
			m.Samples = append(m.Samples, s)
		}
	}
	nsamples := len(m.Samples)

	rowIndex := map[string]int{}
	var rows [][]float64
	for r, rt := range runs {
		seen := make(map[string]bool, len(rt.ids))
		for k := range rt.ids {
			id, label := rt.ids[k], rt.labels[k]
			if id == "" {
				id = label
			}
			if label == "" {
				label = id
			}
			if id == "" {
				return nil, integrityErrorf("", "identifier", "%s row %d has neither identifier nor label", rt.name, k+1)
			}
			if seen[id] {
				return nil, integrityErrorf("", "identifier", "%s: duplicate identifier %q", rt.name, id)
			}
			seen[id] = true
			i, ok := rowIndex[id]
			if !ok {
				i = len(m.IDs)
				rowIndex[id] = i
				m.IDs = append(m.IDs, id)
				m.Labels = append(m.Labels, label)
				row := make([]float64, nsamples)
				for j := range row {
					row[j] = math.NaN()
				}
				rows = append(rows, row)
			} else if m.Labels[i] == m.IDs[i] && label != id {
				// a real label beats one imputed from the identifier
				m.Labels[i] = label
			}
			copy(rows[i][sampleOffset[r]:], rt.values[k])
		}
	}

	zerofilled := 0
	m.Values = make([]float64, 0, len(rows)*nsamples)
	for i, row := range rows {
		for j, v := range row {
			if math.IsNaN(v) {
				v = 0
				zerofilled++
			}
			if b.Scale == ScaleIntensity {
				if v < 0 {
					return nil, integrityErrorf("", "negative-intensity", "feature %q sample %q has negative intensity %v", m.IDs[i], m.Samples[j], v)
				}
				v = math.Log1p(v) / math.Ln2
			}
			m.Values = append(m.Values, v)
		}
	}
	log.WithFields(log.Fields{
		"features":   len(m.IDs),
		"samples":    nsamples,
		"zerofilled": zerofilled,
	}).Info("merged run tables")

	if len(b.Outliers) > 0 {
		drop := map[string]bool{}
		for _, s := range b.Outliers {
			if seenSample[s] == "" {
				log.Warnf("outlier sample %q is not a column of any input table", s)
				continue
			}
			drop[s] = true
		}
		m = m.withoutSamples(drop)
		log.Infof("dropped %d outlier samples, %d remain", len(drop), len(m.Samples))
	}
	if len(m.Samples) == 0 {
		return nil, integrityErrorf("", "sample", "no samples remain after removing outliers")
	}
	if err := m.check(); err != nil {
		return nil, err
	}
	return m, nil
}

type buildMatrix struct{}

func (cmd *buildMatrix) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

func (cmd *buildMatrix) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	outputFilename := flags.String("o", "-", "output `file` (gob; compressed if name ends in .gz)")
	scale := flags.String("scale", string(ScaleIntensity), "input value scale: intensity, logratio, or counts")
	idColumn := flags.String("id-column", "Protein", "identifier column `name`")
	labelColumn := flags.String("label-column", "Gene", "label column `name`")
	outliers := flags.String("outliers", "", "comma-separated sample `names` to drop")
	samplesFilename := flags.String("samples", "", "sample metadata tsv `file`; samples flagged in its Outlier column are dropped")
	err := flags.Parse(args)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return err
	} else if flags.NArg() == 0 {
		return errors.New("no input tables given")
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	builder := matrixBuilder{Scale: Scale(*scale)}
	if *outliers != "" {
		builder.Outliers = strings.Split(*outliers, ",")
	}
	if *samplesFilename != "" {
		sm, err := loadSampleMetadata(*samplesFilename)
		if err != nil {
			return err
		}
		builder.Outliers = append(builder.Outliers, sm.Outliers()...)
	}

	var runs []*runTable
	for _, fnm := range flags.Args() {
		log.Infof("reading %s", fnm)
		rt, err := readRunTable(fnm, *idColumn, *labelColumn)
		if err != nil {
			return err
		}
		rt.name = filepath.Base(fnm)
		runs = append(runs, rt)
	}
	m, err := builder.Build(runs)
	if err != nil {
		return err
	}
	log.Infof("writing %d x %d matrix to %s", len(m.IDs), len(m.Samples), *outputFilename)
	return WriteMatrix(m, *outputFilename, stdout)
}
