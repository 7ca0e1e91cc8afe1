package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"deepfrog/internal/pipeline"
)

type outputFormat string

const (
	formatPlain outputFormat = "plain"
	formatJSON  outputFormat = "json"
	formatTable outputFormat = "table"
)

func parseFormat(s string) (outputFormat, error) {
	switch f := outputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "", formatPlain:
		return formatPlain, nil
	case formatJSON, formatTable:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported output format %q", s)
	}
}

func printRecords(w io.Writer, format outputFormat, records []pipeline.Record) error {
	switch format {
	case formatJSON:
		if records == nil {
			records = []pipeline.Record{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case formatTable:
		return printTable(w, records)
	default:
		return printPlain(w, records)
	}
}

func printPlain(w io.Writer, records []pipeline.Record) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "[]")
		return err
	}
	var b strings.Builder
	b.WriteString("[\n")
	for _, r := range records {
		b.WriteString("  " + r.String() + "\n")
	}
	b.WriteString("]\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func printTable(w io.Writer, records []pipeline.Record) error {
	withLemma := false
	for _, r := range records {
		if r.Lemma != "" {
			withLemma = true
			break
		}
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := "LABEL\tSCORE\tINDEX\tWORD\tSTART\tEND"
	if withLemma {
		header += "\tLEMMA"
	}
	fmt.Fprintln(tw, header)
	for _, r := range records {
		index := "-"
		if r.Index > 0 {
			index = strconv.Itoa(r.Index)
		}
		line := fmt.Sprintf("%s\t%.4f\t%s\t%s\t%d\t%d", r.Label(), r.Score, index, r.Word, r.Start, r.End)
		if withLemma {
			line += "\t" + r.Lemma
		}
		fmt.Fprintln(tw, line)
	}
	return tw.Flush()
}
