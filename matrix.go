// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package proteodiff

import (
	"bufio"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"math"

	"golang.org/x/crypto/blake2b"
)

// Scale describes how the values of an input table were measured.
type Scale string

const (
	// ScaleIntensity is a linear intensity; the builder applies log2(x+1).
	ScaleIntensity Scale = "intensity"
	// ScaleLogRatio is already on a log2 scale and kept as-is.
	ScaleLogRatio Scale = "logratio"
	// ScaleCounts is count-like and stays linear until
	// normalization factors are applied per contrast.
	ScaleCounts Scale = "counts"
)

func (s Scale) valid() bool {
	return s == ScaleIntensity || s == ScaleLogRatio || s == ScaleCounts
}

// AbundanceMatrix is a dense feature x sample table. Values is
// row-major: Values[i*len(Samples)+j] is feature i in sample j.
//
// A matrix is treated as immutable once built; every downstream stage
// reads it concurrently without locking.
type AbundanceMatrix struct {
	IDs     []string
	Labels  []string
	Samples []string
	Values  []float64
	Scale   Scale
}

// Logged reports whether Values are on the log2 scale.
func (m *AbundanceMatrix) Logged() bool {
	return m.Scale != ScaleCounts
}

func (m *AbundanceMatrix) Dims() (features, samples int) {
	return len(m.IDs), len(m.Samples)
}

func (m *AbundanceMatrix) At(i, j int) float64 {
	return m.Values[i*len(m.Samples)+j]
}

// Row returns feature i's values. The caller must not modify the
// returned slice.
func (m *AbundanceMatrix) Row(i int) []float64 {
	n := len(m.Samples)
	return m.Values[i*n : (i+1)*n : (i+1)*n]
}

// log2At returns the log2-scale value used for filtering.
func (m *AbundanceMatrix) log2At(i, j int) float64 {
	v := m.At(i, j)
	if m.Logged() {
		return v
	}
	return math.Log1p(v) / math.Ln2
}

// linearAt returns the value on the linear scale used to compute
// normalization factors.
func (m *AbundanceMatrix) linearAt(i, j int) float64 {
	v := m.At(i, j)
	switch m.Scale {
	case ScaleIntensity:
		return math.Exp2(v) - 1
	case ScaleLogRatio:
		return math.Exp2(v)
	default:
		return v
	}
}

// check verifies the dense-matrix invariants: consistent dimensions,
// unique feature IDs and sample names, and no non-finite values.
func (m *AbundanceMatrix) check() error {
	if !m.Scale.valid() {
		return integrityErrorf("", "scale", "unknown scale %q", m.Scale)
	}
	if len(m.Labels) != len(m.IDs) {
		return integrityErrorf("", "dimensions", "%d labels for %d features", len(m.Labels), len(m.IDs))
	}
	if len(m.Values) != len(m.IDs)*len(m.Samples) {
		return integrityErrorf("", "dimensions", "%d values for %d features x %d samples", len(m.Values), len(m.IDs), len(m.Samples))
	}
	seen := make(map[string]bool, len(m.IDs))
	for _, id := range m.IDs {
		if id == "" {
			return integrityErrorf("", "identifier", "empty feature identifier")
		}
		if seen[id] {
			return integrityErrorf("", "identifier", "duplicate feature identifier %q", id)
		}
		seen[id] = true
	}
	seen = make(map[string]bool, len(m.Samples))
	for _, s := range m.Samples {
		if seen[s] {
			return integrityErrorf("", "sample", "duplicate sample column %q", s)
		}
		seen[s] = true
	}
	for k, v := range m.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			i, j := k/len(m.Samples), k%len(m.Samples)
			return integrityErrorf("", "missing-value", "feature %q sample %q has non-finite value %v after imputation", m.IDs[i], m.Samples[j], v)
		}
	}
	return nil
}

// withoutSamples returns a copy of m with the named sample columns
// removed. Names not present in m are ignored.
func (m *AbundanceMatrix) withoutSamples(drop map[string]bool) *AbundanceMatrix {
	var keep []int
	for j, s := range m.Samples {
		if !drop[s] {
			keep = append(keep, j)
		}
	}
	out := &AbundanceMatrix{
		IDs:     m.IDs,
		Labels:  m.Labels,
		Samples: make([]string, len(keep)),
		Values:  make([]float64, 0, len(m.IDs)*len(keep)),
		Scale:   m.Scale,
	}
	for k, j := range keep {
		out.Samples[k] = m.Samples[j]
	}
	for i := range m.IDs {
		row := m.Row(i)
		for _, j := range keep {
			out.Values = append(out.Values, row[j])
		}
	}
	return out
}

// Digest returns a blake2b-256 hex digest of the matrix content,
// recorded in contrast summaries so results can be traced to their
// input.
func (m *AbundanceMatrix) Digest() string {
	h, _ := blake2b.New256(nil)
	fmt.Fprintf(h, "%s\n", m.Scale)
	for i, id := range m.IDs {
		fmt.Fprintf(h, "%s\t%s\n", id, m.Labels[i])
	}
	for _, s := range m.Samples {
		fmt.Fprintf(h, "%s\n", s)
	}
	var buf [8]byte
	for _, v := range m.Values {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// WriteMatrix encodes m as a gob stream, compressed if fnm ends in
// ".gz". "-" writes uncompressed to w.
func WriteMatrix(m *AbundanceMatrix, fnm string, w io.Writer) error {
	var out io.WriteCloser
	if fnm == "-" {
		out = nopCloser{w}
	} else {
		var err error
		out, err = zcreate(fnm)
		if err != nil {
			return err
		}
	}
	return encodeMatrix(m, out)
}

// encodeMatrix writes m to out and closes out exactly once.
func encodeMatrix(m *AbundanceMatrix, out io.WriteCloser) error {
	bufw := bufio.NewWriterSize(out, 1<<20)
	err := gob.NewEncoder(bufw).Encode(m)
	if err != nil {
		out.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	err = bufw.Flush()
	if err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// ReadMatrix decodes a matrix written by WriteMatrix and verifies
// its invariants.
func ReadMatrix(fnm string) (*AbundanceMatrix, error) {
	f, err := zopen(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readMatrixFrom(f, fnm)
}

func readMatrixFrom(r io.Reader, name string) (*AbundanceMatrix, error) {
	var m AbundanceMatrix
	err := gob.NewDecoder(bufio.NewReaderSize(r, 1<<20)).Decode(&m)
	if err != nil {
		return nil, fmt.Errorf("%s: gob decode: %w", name, err)
	}
	if err = m.check(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &m, nil
}
