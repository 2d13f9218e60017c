// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package proteodiff

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
)

var resultColumns = []string{"id", "label", "logFC", "AveExpr", "t", "P.Value", "adj.P.Val", "B", "CI.L", "CI.R", "direction"}

// formatFloat uses the shortest representation that parses back to
// the same value.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// writeResultTable writes cr as a tab-separated table, one row per
// feature in cr's row order, followed by one column per sample when
// rows carry values.
func writeResultTable(w io.Writer, cr *ContrastResult) error {
	bufw := bufio.NewWriter(w)
	withValues := len(cr.Rows) > 0 && cr.Rows[0].Values != nil
	for i, col := range resultColumns {
		if i > 0 {
			bufw.WriteByte('\t')
		}
		bufw.WriteString(col)
	}
	if withValues {
		for _, s := range cr.Samples {
			bufw.WriteByte('\t')
			bufw.WriteString(s)
		}
	}
	bufw.WriteByte('\n')
	for _, row := range cr.Rows {
		fmt.Fprintf(bufw, "%s\t%s", row.ID, row.Label)
		for _, v := range []float64{row.LogFC, row.AveExpr, row.T, row.PValue, row.AdjPValue, row.B, row.CILow, row.CIHigh} {
			bufw.WriteByte('\t')
			bufw.WriteString(formatFloat(v))
		}
		bufw.WriteByte('\t')
		bufw.WriteString(string(row.Direction))
		for _, v := range row.Values {
			bufw.WriteByte('\t')
			bufw.WriteString(formatFloat(v))
		}
		bufw.WriteByte('\n')
	}
	return bufw.Flush()
}

func writeIDList(w io.Writer, ids []string) error {
	bufw := bufio.NewWriter(w)
	for _, id := range ids {
		fmt.Fprintln(bufw, id)
	}
	return bufw.Flush()
}

func writeSummaries(w io.Writer, outcomes []ContrastOutcome) error {
	sums := make([]Summary, len(outcomes))
	for i, o := range outcomes {
		sums[i] = o.Summary()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sums)
}

// writeContrastFiles writes <dir>/<name>.tsv and the up, down, and
// changed ID lists. If withNumpy is true and the rows carry values,
// it also writes them as a features x samples float64 array in
// <dir>/<name>.npy.
func writeContrastFiles(dir string, cr *ContrastResult, withNumpy bool) error {
	prefix := dir + "/" + cr.Name
	if err := writeFile(prefix+".tsv", func(w io.Writer) error { return writeResultTable(w, cr) }); err != nil {
		return err
	}
	for _, dir := range []Direction{Up, Down, Changed} {
		ids := cr.Significant(dir)
		if err := writeFile(prefix+"."+string(dir)+".txt", func(w io.Writer) error { return writeIDList(w, ids) }); err != nil {
			return err
		}
	}
	if withNumpy && len(cr.Rows) > 0 && cr.Rows[0].Values != nil {
		rows, cols := len(cr.Rows), len(cr.Samples)
		out := make([]float64, 0, rows*cols)
		for _, row := range cr.Rows {
			out = append(out, row.Values...)
		}
		if err := writeNumpyFloat64(prefix+".npy", out, rows, cols); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(fnm string, write func(io.Writer) error) error {
	f, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer f.Close()
	if err = write(f); err != nil {
		return fmt.Errorf("%s: %w", fnm, err)
	}
	return f.Close()
}

func writeNumpyFloat64(fnm string, out []float64, rows, cols int) error {
	output, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer output.Close()
	bufw := bufio.NewWriterSize(output, 1<<20)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"filename": fnm,
		"rows":     rows,
		"cols":     cols,
		"bytes":    rows * cols * 8,
	}).Infof("writing numpy: %s", fnm)
	npw.Shape = []int{rows, cols}
	err = npw.WriteFloat64(out)
	if err != nil {
		return err
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return output.Close()
}
