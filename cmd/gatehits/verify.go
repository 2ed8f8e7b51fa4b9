package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/spf13/cobra"

	"github.com/ajitpratap0/gatehits/pkg/formats/columnar"
	"github.com/ajitpratap0/gatehits/pkg/hits"
	"github.com/ajitpratap0/gatehits/pkg/sink"
)

// verifyResult is what verify prints for a consolidated output.
type verifyResult struct {
	Path     string
	Format   string
	Schema   *hits.Schema
	Rows     int64
	Batches  int
	Expected int64 // rows recorded in a manifest, -1 otherwise
	Head     []hits.Record
}

func newVerifyCommand() *cobra.Command {
	var expectRows int64
	var attributes []string
	var head int

	cmd := &cobra.Command{
		Use:   "verify <output>",
		Short: "Read a consolidated output or manifest and check its rows and schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := verifyOutput(cmd.Context(), args[0], head)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s, %d rows in %d batches\n", res.Path, res.Format, res.Rows, res.Batches)
			fmt.Printf("schema: %s\n", res.Schema)
			if head > 0 {
				printRows(os.Stdout, res.Schema.Names(), res.Head)
			}

			if res.Expected >= 0 && res.Expected != res.Rows {
				return fmt.Errorf("manifest records %d rows, segments hold %d", res.Expected, res.Rows)
			}
			if cmd.Flags().Changed("rows") && res.Rows != expectRows {
				return fmt.Errorf("expected %d rows, found %d", expectRows, res.Rows)
			}
			if len(attributes) > 0 && strings.Join(res.Schema.Names(), ",") != strings.Join(attributes, ",") {
				return fmt.Errorf("expected columns %v, found %v", attributes, res.Schema.Names())
			}
			fmt.Println("ok")
			return nil
		},
	}
	cmd.Flags().Int64Var(&expectRows, "rows", 0, "Expected row count")
	cmd.Flags().StringSliceVar(&attributes, "attributes", nil, "Expected column names, in order")
	cmd.Flags().IntVar(&head, "head", 0, "Print the first N rows")
	return cmd
}

// printRows writes a tab separated header and one line per row.
func printRows(w io.Writer, names []string, rows []hits.Record) {
	fmt.Fprintln(w, strings.Join(names, "\t"))
	for _, row := range rows {
		vals := make([]string, len(names))
		for i, name := range names {
			if v, ok := row.Get(name); ok {
				vals[i] = fmt.Sprint(v)
			}
		}
		fmt.Fprintln(w, strings.Join(vals, "\t"))
	}
}

// collectHead appends rows of rec to res.Head until it holds head rows.
func (res *verifyResult) collectHead(rec arrow.Record, head int) {
	if len(res.Head) >= head {
		return
	}
	rows := hits.Rows(rec)
	if n := head - len(res.Head); len(rows) > n {
		rows = rows[:n]
	}
	res.Head = append(res.Head, rows...)
}

func verifyOutput(ctx context.Context, path string, head int) (*verifyResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.HasSuffix(path, ".json") {
		return verifyManifest(path, head)
	}

	format := columnar.FormatFromPath(path)
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := columnar.NewFileReader(ctx, f, format, nil)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	schema, err := hits.SchemaFromArrow(r.Schema())
	if err != nil {
		return nil, err
	}
	res := &verifyResult{Path: path, Format: string(format), Schema: schema, Expected: -1}
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		res.Rows += rec.NumRows()
		res.Batches++
		res.collectHead(rec, head)
	}
	return res, nil
}

func verifyManifest(path string, head int) (*verifyResult, error) {
	m, err := sink.ReadManifest(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	schema, err := m.HitSchema()
	if err != nil {
		return nil, err
	}
	recs, err := m.Records(nil)
	if err != nil {
		return nil, err
	}
	res := &verifyResult{Path: path, Format: sink.FormatManifest, Schema: schema, Batches: len(recs), Expected: m.Rows}
	for _, rec := range recs {
		res.Rows += rec.NumRows()
		res.collectHead(rec, head)
		rec.Release()
	}
	return res, nil
}
