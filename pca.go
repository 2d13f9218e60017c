// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package proteodiff

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"

	"github.com/james-bowman/nlp"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

type pcacmd struct{}

func (cmd *pcacmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	inputFilename := flags.String("i", "-", "input matrix `file` written by build-matrix")
	samplesFilename := flags.String("samples", "", "sample metadata tsv `file` (drops outliers, adds group column)")
	outputFilename := flags.String("o", "", "output numpy `file` (samples x components)")
	components := flags.Int("components", 4, "number of components")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	var m *AbundanceMatrix
	if *inputFilename == "-" {
		m, err = readMatrixFrom(stdin, "stdin")
	} else {
		m, err = ReadMatrix(*inputFilename)
	}
	if err != nil {
		return 1
	}
	var sm *SampleMetadata
	if *samplesFilename != "" {
		sm, err = loadSampleMetadata(*samplesFilename)
		if err != nil {
			return 1
		}
		sm, m, err = sm.alignTo(m)
		if err != nil {
			return 1
		}
	}

	coords, err := samplePCA(m, *components)
	if err != nil {
		return 1
	}
	rows, cols := coords.Dims()
	if *outputFilename != "" {
		err = writeNumpyFloat64(*outputFilename, coords.RawMatrix().Data, rows, cols)
		if err != nil {
			return 1
		}
	}
	err = writePCATable(stdout, m.Samples, sm, coords)
	if err != nil {
		return 1
	}
	return 0
}

// samplePCA projects each sample onto the first k principal
// components of the features x samples log2 matrix. The result is
// samples x components.
func samplePCA(m *AbundanceMatrix, k int) (*mat.Dense, error) {
	nfeatures, nsamples := m.Dims()
	if k > nsamples {
		k = nsamples
	}
	if k > nfeatures {
		k = nfeatures
	}
	if k < 1 {
		return nil, fmt.Errorf("cannot compute principal components of %d x %d matrix", nfeatures, nsamples)
	}
	data := make([]float64, nfeatures*nsamples)
	for i := 0; i < nfeatures; i++ {
		for j := 0; j < nsamples; j++ {
			data[i*nsamples+j] = m.log2At(i, j)
		}
	}
	mtx := mat.NewDense(nfeatures, nsamples, data)
	log.Printf("fitting %d components: %d features, %d samples", k, nfeatures, nsamples)
	transformer := nlp.NewPCA(k)
	transformer.Fit(mtx)
	out, err := transformer.Transform(mtx)
	if err != nil {
		return nil, err
	}
	return mat.DenseCopyOf(out.T()), nil
}

func writePCATable(w io.Writer, samples []string, sm *SampleMetadata, coords *mat.Dense) error {
	bufw := bufio.NewWriter(w)
	_, cols := coords.Dims()
	bufw.WriteString("sample")
	if sm != nil {
		bufw.WriteString("\t" + GroupFactor)
	}
	for k := 0; k < cols; k++ {
		fmt.Fprintf(bufw, "\tPC%d", k+1)
	}
	bufw.WriteByte('\n')
	for i, s := range samples {
		bufw.WriteString(s)
		if sm != nil {
			bufw.WriteString("\t" + sm.Samples[i].Levels[GroupFactor])
		}
		for k := 0; k < cols; k++ {
			bufw.WriteString("\t" + formatFloat(coords.At(i, k)))
		}
		bufw.WriteByte('\n')
	}
	return bufw.Flush()
}
