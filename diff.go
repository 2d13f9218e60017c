// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package proteodiff

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"

	log "github.com/sirupsen/logrus"
)

type diffcmd struct{}

func (cmd *diffcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	matrixFilename := flags.String("i", "-", "input matrix `file` written by build-matrix")
	samplesFilename := flags.String("samples", "", "sample metadata tsv `file`")
	configFilename := flags.String("config", "", "contrast configuration yaml `file`")
	outputDir := flags.String("output-dir", ".", "output `directory`")
	threads := flags.Int("threads", runtime.NumCPU(), "maximum contrasts to evaluate concurrently")
	fdrCutoff := flags.Float64("fdr", -1, "FDR `cutoff` (overrides config)")
	lfc := flags.Float64("lfc", -1, "log2 fold-change `threshold` (overrides config)")
	withNumpy := flags.Bool("numpy", false, "also write fitted values of each contrast as <name>.npy")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if *samplesFilename == "" || *configFilename == "" {
		err = errors.New("-samples and -config are required")
		return 2
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	cfg, err := LoadConfig(*configFilename)
	if err != nil {
		return 1
	}
	if *fdrCutoff >= 0 {
		cfg.FDR = *fdrCutoff
	}
	if *lfc >= 0 {
		cfg.LFC = *lfc
	}
	if *withNumpy {
		cfg.IncludeValues = true
	}
	sm, err := loadSampleMetadata(*samplesFilename)
	if err != nil {
		return 1
	}
	var m *AbundanceMatrix
	if *matrixFilename == "-" {
		m, err = readMatrixFrom(stdin, "stdin")
	} else {
		m, err = ReadMatrix(*matrixFilename)
	}
	if err != nil {
		return 1
	}
	log.Printf("matrix: %d features x %d samples, %d contrasts", len(m.IDs), len(m.Samples), len(cfg.Contrasts))

	outcomes, err := Run(context.Background(), m, sm, cfg, *threads)
	if err != nil {
		return 1
	}
	err = os.MkdirAll(*outputDir, 0777)
	if err != nil {
		return 1
	}
	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			fmt.Fprintf(stderr, "%s\n", o.Err)
			failed++
			continue
		}
		err = writeContrastFiles(*outputDir, o.Result, *withNumpy)
		if err != nil {
			return 1
		}
		fmt.Fprintf(stdout, "%s\t%d up\t%d down\t%d tested\n", o.Name, o.Result.Summary.Up, o.Result.Summary.Down, o.Result.Summary.Tested)
	}
	err = writeFile(*outputDir+"/summary.json", func(w io.Writer) error { return writeSummaries(w, outcomes) })
	if err != nil {
		return 1
	}
	if failed > 0 {
		log.Printf("%d of %d contrasts failed", failed, len(outcomes))
		return 1
	}
	return 0
}
